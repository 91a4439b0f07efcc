package events

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/fentz26/shipctl/internal/engine"
	"github.com/fentz26/shipctl/internal/models"
)

type message struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	messages []message
	err      error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, message{subject, data})
	return nil
}

func snapshot(apiState models.WorkflowState, apiHealth, workerHealth models.HealthStatus) engine.Snapshot {
	return engine.Snapshot{
		Repository: "acme/fleet",
		Services: []models.DerivedServiceStatus{
			{ServiceKey: "api", DisplayName: "API", WorkflowState: apiState, Health: models.HealthSample{Status: apiHealth}},
			{ServiceKey: "worker", WorkflowState: models.StateStopped, Health: models.HealthSample{Status: workerHealth}},
		},
	}
}

func TestObservePublishesTransitions(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNotifier(pub, "shipctl.status", nil)

	if got := n.Observe(snapshot(models.StateStopped, models.HealthChecking, models.HealthChecking)); got != 0 {
		t.Fatalf("baseline published %d messages", got)
	}
	if got := n.Observe(snapshot(models.StateStopped, models.HealthChecking, models.HealthChecking)); got != 0 {
		t.Fatalf("unchanged snapshot published %d messages", got)
	}

	got := n.Observe(snapshot(models.StateStarting, models.HealthDown, models.HealthChecking))
	if got != 1 || len(pub.messages) != 1 {
		t.Fatalf("published %d, want 1", got)
	}
	if pub.messages[0].subject != "shipctl.status.api" {
		t.Errorf("subject = %s", pub.messages[0].subject)
	}

	var change StatusChange
	if err := json.Unmarshal(pub.messages[0].data, &change); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if change.PreviousState != models.StateStopped || change.State != models.StateStarting ||
		change.PreviousHealth != models.HealthChecking || change.Health != models.HealthDown {
		t.Errorf("change = %+v", change)
	}
	if change.Repository != "acme/fleet" {
		t.Errorf("repository = %s", change.Repository)
	}
}

func TestObservePublishErrorIsNotFatal(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNotifier(pub, "s", nil)
	n.Observe(snapshot(models.StateStopped, models.HealthOK, models.HealthOK))

	pub.err = errors.New("nats: connection closed")
	if got := n.Observe(snapshot(models.StateRunning, models.HealthOK, models.HealthDown)); got != 0 {
		t.Errorf("published %d with failing publisher", got)
	}

	pub.err = nil
	if got := n.Observe(snapshot(models.StateRunning, models.HealthOK, models.HealthDown)); got != 0 {
		t.Errorf("already observed state republished: %d", got)
	}
}
