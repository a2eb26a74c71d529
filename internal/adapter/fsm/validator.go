package fsm

import (
	"context"
	"errors"

	loopfsm "github.com/looplab/fsm"

	"github.com/neomorfeo/routesphere/internal/domain"
)

// Compile-time checks: both lifecycles are served by the same adapter.
var (
	_ domain.TransitionValidator[domain.Status, domain.Event]               = (*Validator[domain.Status, domain.Event])(nil)
	_ domain.TransitionValidator[domain.ChannelStatus, domain.ChannelEvent] = (*Validator[domain.ChannelStatus, domain.ChannelEvent])(nil)
)

// buildEvents converts a transition table into looplab/fsm EventDesc format.
// Transitions with the same event and destination are merged into a single
// EventDesc with several source states (e.g. "fail" from STARTING, RUNNING
// and STOPPING all go to ERROR).
func buildEvents[S, E ~string](transitions []domain.Transition[S, E]) []loopfsm.EventDesc {
	type key struct {
		event string
		dst   string
	}
	grouped := make(map[key][]string)
	order := make([]key, 0)

	for _, t := range transitions {
		k := key{event: string(t.Event), dst: string(t.Dst)}
		if _, exists := grouped[k]; !exists {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], string(t.Src))
	}

	out := make([]loopfsm.EventDesc, 0, len(order))
	for _, k := range order {
		out = append(out, loopfsm.EventDesc{
			Name: k.event,
			Src:  grouped[k],
			Dst:  k.dst,
		})
	}
	return out
}

// Validator implements domain.TransitionValidator using looplab/fsm.
// looplab/fsm is stateful, so a short-lived machine is created per Apply
// call, starting from the caller's current state.
type Validator[S, E ~string] struct {
	events []loopfsm.EventDesc
}

// New creates a validator for the given transition table.
func New[S, E ~string](transitions []domain.Transition[S, E]) *Validator[S, E] {
	return &Validator[S, E]{events: buildEvents(transitions)}
}

// NewTenantValidator validates tenant status events.
func NewTenantValidator() *Validator[domain.Status, domain.Event] {
	return New(domain.TenantTransitions)
}

// NewChannelValidator validates channel lifecycle events.
func NewChannelValidator() *Validator[domain.ChannelStatus, domain.ChannelEvent] {
	return New(domain.ChannelTransitions)
}

// Apply checks if event is valid from current and returns the destination
// state. Returns a *domain.TransitionError if the transition is not allowed.
func (v *Validator[S, E]) Apply(ctx context.Context, current S, event E) (S, error) {
	machine := loopfsm.NewFSM(string(current), v.events, nil)

	if err := machine.Event(ctx, string(event)); err != nil {
		var invalidEvent loopfsm.InvalidEventError
		var unknownEvent loopfsm.UnknownEventError
		var noTransition loopfsm.NoTransitionError
		if errors.As(err, &invalidEvent) || errors.As(err, &unknownEvent) || errors.As(err, &noTransition) {
			return "", &domain.TransitionError[S, E]{
				Event:   event,
				Current: current,
			}
		}
		return "", err
	}

	return S(machine.Current()), nil
}
