package fsm_test

import (
	"context"
	"errors"
	"testing"

	adapter "github.com/neomorfeo/routesphere/internal/adapter/fsm"
	"github.com/neomorfeo/routesphere/internal/domain"
)

func TestTenantValidator_AllTransitions(t *testing.T) {
	v := adapter.NewTenantValidator()
	ctx := context.Background()

	for _, tr := range domain.TenantTransitions {
		dst, err := v.Apply(ctx, tr.Src, tr.Event)
		if err != nil {
			t.Errorf("Apply(%q, %q) unexpected error: %v", tr.Src, tr.Event, err)
			continue
		}
		if dst != tr.Dst {
			t.Errorf("Apply(%q, %q) = %q, want %q", tr.Src, tr.Event, dst, tr.Dst)
		}
	}
}

func TestTenantValidator_InvalidTransition(t *testing.T) {
	v := adapter.NewTenantValidator()

	_, err := v.Apply(context.Background(), domain.StatusPending, domain.EventSuspend)
	var trErr *domain.TransitionError[domain.Status, domain.Event]
	if !errors.As(err, &trErr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if trErr.Event != domain.EventSuspend {
		t.Errorf("event = %q, want %q", trErr.Event, domain.EventSuspend)
	}
	if trErr.Current != domain.StatusPending {
		t.Errorf("current = %q, want %q", trErr.Current, domain.StatusPending)
	}
}

func TestTenantValidator_UnknownEvent(t *testing.T) {
	v := adapter.NewTenantValidator()

	_, err := v.Apply(context.Background(), domain.StatusActive, domain.Event("explode"))
	var trErr *domain.TransitionError[domain.Status, domain.Event]
	if !errors.As(err, &trErr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
}

func TestChannelValidator_FullLifecycle(t *testing.T) {
	v := adapter.NewChannelValidator()
	ctx := context.Background()

	steps := []struct {
		from  domain.ChannelStatus
		event domain.ChannelEvent
		want  domain.ChannelStatus
	}{
		{domain.ChannelStopped, domain.ChannelEventStart, domain.ChannelStarting},
		{domain.ChannelStarting, domain.ChannelEventStarted, domain.ChannelRunning},
		{domain.ChannelRunning, domain.ChannelEventStop, domain.ChannelStopping},
		{domain.ChannelStopping, domain.ChannelEventStopped, domain.ChannelStopped},
	}

	for _, step := range steps {
		got, err := v.Apply(ctx, step.from, step.event)
		if err != nil {
			t.Fatalf("Apply(%q, %q) error: %v", step.from, step.event, err)
		}
		if got != step.want {
			t.Errorf("Apply(%q, %q) = %q, want %q", step.from, step.event, got, step.want)
		}
	}
}

func TestChannelValidator_FailFromActiveStates(t *testing.T) {
	v := adapter.NewChannelValidator()
	ctx := context.Background()

	for _, from := range []domain.ChannelStatus{domain.ChannelStarting, domain.ChannelRunning, domain.ChannelStopping} {
		got, err := v.Apply(ctx, from, domain.ChannelEventFail)
		if err != nil {
			t.Errorf("fail from %q: %v", from, err)
			continue
		}
		if got != domain.ChannelError {
			t.Errorf("fail from %q = %q, want %q", from, got, domain.ChannelError)
		}
	}
}

func TestChannelValidator_IllegalMoves(t *testing.T) {
	v := adapter.NewChannelValidator()
	ctx := context.Background()

	illegal := []struct {
		from  domain.ChannelStatus
		event domain.ChannelEvent
	}{
		{domain.ChannelStopped, domain.ChannelEventStarted},
		{domain.ChannelStopped, domain.ChannelEventStop},
		{domain.ChannelRunning, domain.ChannelEventStart},
		{domain.ChannelError, domain.ChannelEventStart},
		{domain.ChannelStopped, domain.ChannelEventFail},
	}

	for _, tc := range illegal {
		_, err := v.Apply(ctx, tc.from, tc.event)
		var trErr *domain.TransitionError[domain.ChannelStatus, domain.ChannelEvent]
		if !errors.As(err, &trErr) {
			t.Errorf("Apply(%q, %q): expected TransitionError, got %v", tc.from, tc.event, err)
		}
	}
}
