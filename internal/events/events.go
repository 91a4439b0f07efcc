// Package events publishes per-service status transitions to NATS.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fentz26/shipctl/internal/engine"
	"github.com/fentz26/shipctl/internal/models"
)

// Publisher sends a message on a subject. *nats.Conn implements it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// StatusChange is published on <subject>.<service key>.
type StatusChange struct {
	ServiceKey     string               `json:"service"`
	DisplayName    string               `json:"display_name"`
	Repository     string               `json:"repository,omitempty"`
	PreviousState  models.WorkflowState `json:"previous_state"`
	State          models.WorkflowState `json:"state"`
	PreviousHealth models.HealthStatus  `json:"previous_health"`
	Health         models.HealthStatus  `json:"health"`
	LatencyMS      int64                `json:"latency_ms"`
	OverlayActive  bool                 `json:"overlay_active"`
	Timestamp      time.Time            `json:"timestamp"`
}

// Connect dials a NATS server with reconnects enabled.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("shipctl"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

type observed struct {
	state  models.WorkflowState
	health models.HealthStatus
}

// Notifier compares successive snapshots and publishes the services whose
// workflow state or health changed. The first snapshot is the baseline.
type Notifier struct {
	pub     Publisher
	subject string
	logger  *slog.Logger

	mu   sync.Mutex
	last map[string]observed
}

// NewNotifier creates a notifier publishing under subject.
func NewNotifier(pub Publisher, subject string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		pub:     pub,
		subject: subject,
		logger:  logger,
	}
}

// Observe publishes the transitions between the previous snapshot and snap
// and returns how many were published.
func (n *Notifier) Observe(snap engine.Snapshot) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	baseline := n.last == nil
	current := make(map[string]observed, len(snap.Services))
	published := 0

	for _, svc := range snap.Services {
		now := observed{state: svc.WorkflowState, health: svc.Health.Status}
		current[svc.ServiceKey] = now

		prev, seen := n.last[svc.ServiceKey]
		if baseline || !seen || prev == now {
			continue
		}

		change := StatusChange{
			ServiceKey:     svc.ServiceKey,
			DisplayName:    svc.DisplayName,
			Repository:     snap.Repository,
			PreviousState:  prev.state,
			State:          now.state,
			PreviousHealth: prev.health,
			Health:         now.health,
			LatencyMS:      svc.Health.LatencyMS,
			OverlayActive:  svc.OverlayActive,
			Timestamp:      snap.GeneratedAt,
		}
		if err := n.publish(change); err != nil {
			n.logger.Warn("status publish failed", "service", svc.ServiceKey, "error", err)
			continue
		}
		published++
	}

	n.last = current
	return published
}

func (n *Notifier) publish(change StatusChange) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	return n.pub.Publish(n.subject+"."+change.ServiceKey, data)
}
