package controlplane

import (
	"errors"
	"net/http"

	"github.com/fentz26/shipctl/internal/engine"
	"github.com/fentz26/shipctl/internal/github"
)

// Sentinel errors for control plane operations.
var (
	ErrInvalidRunID = errors.New("invalid run id")
	ErrInvalidJSON  = errors.New("invalid json")
)

// statusFor maps an operation error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRunID), errors.Is(err, ErrInvalidJSON):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrUnknownWorkflow), errors.Is(err, engine.ErrUnresolvedWorkflow):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrNoCredentials):
		return http.StatusPreconditionFailed
	case errors.Is(err, engine.ErrNothingToCancel):
		return http.StatusConflict
	case github.IsRateLimited(err):
		return http.StatusTooManyRequests
	case errors.Is(err, github.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, github.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, github.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, github.ErrInvalidRequest):
		return http.StatusUnprocessableEntity
	case errors.Is(err, github.ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
