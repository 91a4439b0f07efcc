// Package directory resolves configured logical workflows to the remote
// workflow ids of the repository.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fentz26/shipctl/internal/github"
	"github.com/fentz26/shipctl/internal/models"
)

// Lister lists the remote workflows of a repository.
type Lister interface {
	ListWorkflows(ctx context.Context) ([]github.Workflow, error)
}

// ErrReset is returned by Resolve when Reset was called while the remote
// workflows were being listed. The result is discarded.
var ErrReset = errors.New("directory reset during resolution")

// Directory holds the latest successful resolution. A failed resolution
// leaves the previous one in place.
type Directory struct {
	configured []models.WorkflowDescriptor

	mu        sync.RWMutex
	epoch     uint64
	resolved  map[string]models.WorkflowDescriptor
	byService map[string]string
	unmatched []string
}

// New creates a directory for the configured workflows.
func New(configured []models.WorkflowDescriptor) *Directory {
	return &Directory{
		configured: append([]models.WorkflowDescriptor(nil), configured...),
		resolved:   make(map[string]models.WorkflowDescriptor),
		byService:  make(map[string]string),
	}
}

// Resolve lists the remote workflows once and matches every configured
// workflow by path. Unmatched workflows are left out of the result.
func (d *Directory) Resolve(ctx context.Context, lister Lister) (map[string]models.WorkflowDescriptor, error) {
	d.mu.RLock()
	epoch := d.epoch
	d.mu.RUnlock()

	remote, err := lister.ListWorkflows(ctx)
	if err != nil {
		return d.Resolved(), fmt.Errorf("resolving workflows: %w", err)
	}

	resolved := make(map[string]models.WorkflowDescriptor, len(d.configured))
	byService := make(map[string]string)
	var unmatched []string
	for _, wf := range d.configured {
		id, ok := match(wf.RemotePath, remote)
		if !ok {
			unmatched = append(unmatched, wf.LogicalName)
			continue
		}
		wf.RemoteID = id
		resolved[wf.LogicalName] = wf
		if wf.ServiceKey != "" {
			byService[wf.ServiceKey] = wf.LogicalName
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.epoch != epoch {
		return copyMap(d.resolved), ErrReset
	}
	d.resolved = resolved
	d.byService = byService
	d.unmatched = unmatched

	return copyMap(resolved), nil
}

// Reset forgets the current resolution. A Resolve in progress does not
// commit its result.
func (d *Directory) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.epoch++
	d.resolved = make(map[string]models.WorkflowDescriptor)
	d.byService = make(map[string]string)
	d.unmatched = nil
}

// Resolved returns a copy of the current resolution keyed by logical name.
func (d *Directory) Resolved() map[string]models.WorkflowDescriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return copyMap(d.resolved)
}

// Lookup returns the resolved workflow with the given logical name.
func (d *Directory) Lookup(name string) (models.WorkflowDescriptor, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	wf, ok := d.resolved[name]
	return wf, ok
}

// ForService returns the resolved workflow controlling serviceKey.
func (d *Directory) ForService(serviceKey string) (models.WorkflowDescriptor, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.byService[serviceKey]
	if !ok {
		return models.WorkflowDescriptor{}, false
	}
	wf, ok := d.resolved[name]
	return wf, ok
}

// Unmatched lists configured workflows missing from the last resolution.
func (d *Directory) Unmatched() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.unmatched...)
}

// Configured returns the configured workflows in order.
func (d *Directory) Configured() []models.WorkflowDescriptor {
	return append([]models.WorkflowDescriptor(nil), d.configured...)
}

// match finds the remote workflow whose path equals want or ends with it
// on a path segment boundary.
func match(want string, remote []github.Workflow) (int64, bool) {
	want = strings.TrimPrefix(want, "./")
	for _, wf := range remote {
		if wf.Path == want {
			return wf.ID, true
		}
	}
	for _, wf := range remote {
		if strings.HasSuffix(wf.Path, "/"+want) {
			return wf.ID, true
		}
	}
	return 0, false
}

func copyMap(in map[string]models.WorkflowDescriptor) map[string]models.WorkflowDescriptor {
	out := make(map[string]models.WorkflowDescriptor, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
