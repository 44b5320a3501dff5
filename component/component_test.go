package component

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/kbukum/filestore/logger"
)

// mockComponent implements Component for testing.
type mockComponent struct {
	name       string
	startErr   error
	stopErr    error
	health     Health
	startOrder *[]string
	stopOrder  *[]string
}

func (m *mockComponent) Name() string { return m.name }
func (m *mockComponent) Start(ctx context.Context) error {
	if m.startOrder != nil {
		*m.startOrder = append(*m.startOrder, m.name)
	}
	return m.startErr
}
func (m *mockComponent) Stop(ctx context.Context) error {
	if m.stopOrder != nil {
		*m.stopOrder = append(*m.stopOrder, m.name)
	}
	return m.stopErr
}
func (m *mockComponent) Health(ctx context.Context) Health {
	return m.health
}

type describedComponent struct {
	mockComponent
}

func (d *describedComponent) Describe() Description {
	return Description{Type: "storage", Details: "local bucket=files"}
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry(logger.Nop())
	if err := r.Register(&mockComponent{name: "storage"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(&mockComponent{name: "storage"}); err == nil {
		t.Error("expected error for duplicate registration")
	}
}

func TestGetAndAll(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&mockComponent{name: "sessions"})
	r.Register(&mockComponent{name: "storage"})

	if got := r.Get("storage"); got == nil || got.Name() != "storage" {
		t.Fatalf("expected storage component, got %v", got)
	}
	if r.Get("missing") != nil {
		t.Error("expected nil for unknown component")
	}
	all := r.All()
	if len(all) != 2 || all[0].Name() != "sessions" || all[1].Name() != "storage" {
		t.Errorf("unexpected order: %v", all)
	}
}

func TestStartStopOrder(t *testing.T) {
	var started, stopped []string
	r := NewRegistry(logger.Nop())
	for _, name := range []string{"sessions", "storage", "sweeper"} {
		r.Register(&mockComponent{name: name, startOrder: &started, stopOrder: &stopped})
	}

	if err := r.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}
	if strings.Join(started, ",") != "sessions,storage,sweeper" {
		t.Errorf("unexpected start order: %v", started)
	}

	if err := r.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}
	if strings.Join(stopped, ",") != "sweeper,storage,sessions" {
		t.Errorf("unexpected stop order: %v", stopped)
	}
}

func TestStartAll_FailureStopsStarted(t *testing.T) {
	var started, stopped []string
	r := NewRegistry(logger.Nop())
	r.Register(&mockComponent{name: "sessions", startOrder: &started, stopOrder: &stopped})
	r.Register(&mockComponent{name: "storage", startErr: fmt.Errorf("backend not implemented"), startOrder: &started, stopOrder: &stopped})
	r.Register(&mockComponent{name: "sweeper", startOrder: &started, stopOrder: &stopped})

	err := r.StartAll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "failed to start storage") {
		t.Fatalf("expected start failure for storage, got %v", err)
	}
	if len(started) != 2 {
		t.Errorf("expected sweeper not to start, got %v", started)
	}
	if strings.Join(stopped, ",") != "sessions" {
		t.Errorf("expected only sessions to be stopped, got %v", stopped)
	}
}

func TestStopAll_CollectsErrors(t *testing.T) {
	r := NewRegistry(logger.Nop())
	r.Register(&mockComponent{name: "a", stopErr: fmt.Errorf("a failed")})
	r.Register(&mockComponent{name: "b", stopErr: fmt.Errorf("b failed")})
	if err := r.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}

	err := r.StopAll(context.Background())
	if err == nil {
		t.Fatal("expected stop errors")
	}
	if !strings.Contains(err.Error(), "a failed") || !strings.Contains(err.Error(), "b failed") {
		t.Errorf("expected both errors, got %v", err)
	}

	if err := r.StopAll(context.Background()); err != nil {
		t.Errorf("expected second StopAll to be a no-op, got %v", err)
	}
}

func TestHealthAll(t *testing.T) {
	r := NewRegistry(logger.Nop())
	r.Register(&mockComponent{name: "storage", health: Health{Name: "storage", Status: StatusHealthy}})
	r.Register(&describedComponent{mockComponent{name: "sessions", health: Health{Name: "sessions", Status: StatusDegraded, Message: "slow"}}})

	if err := r.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}
	health := r.HealthAll(context.Background())
	if len(health) != 2 {
		t.Fatalf("expected 2 health entries, got %d", len(health))
	}
	if health[1].Status != StatusDegraded || health[1].Message != "slow" {
		t.Errorf("unexpected health: %+v", health[1])
	}
}
