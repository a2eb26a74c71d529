package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for simple conditions without extra context.
var (
	ErrTenantNotFound  = errors.New("tenant not found")
	ErrChannelNotFound = errors.New("channel not found")
	ErrRouterStopped   = errors.New("router not started")
)

// DuplicateTenantError is returned when a tenant id is already registered.
type DuplicateTenantError struct {
	ID string
}

func (e *DuplicateTenantError) Error() string {
	return fmt.Sprintf("tenant %q already exists", e.ID)
}

// TransitionError is returned when a state transition is not allowed.
type TransitionError[S, E ~string] struct {
	Event   E
	Current S
}

func (e *TransitionError[S, E]) Error() string {
	return fmt.Sprintf("event %q is not valid from state %q", e.Event, e.Current)
}

// StageError is returned when a routing context is asked to move backwards.
type StageError struct {
	From Stage
	To   Stage
}

func (e *StageError) Error() string {
	return fmt.Sprintf("cannot move routing stage from %s to %s", e.From, e.To)
}

// HierarchyError describes a structural problem found while validating a
// tenant hierarchy.
type HierarchyError struct {
	TenantID string
	Reason   string
}

func (e *HierarchyError) Error() string {
	return fmt.Sprintf("tenant %q: %s", e.TenantID, e.Reason)
}

// UnknownProtocolError is returned when no channel implementation exists
// for a configured protocol.
type UnknownProtocolError struct {
	Protocol string
}

func (e *UnknownProtocolError) Error() string {
	return fmt.Sprintf("unknown channel protocol %q", e.Protocol)
}

// RuleViolation is returned by a business rule that denies a request.
type RuleViolation struct {
	Rule   string
	Reason string
}

func (e *RuleViolation) Error() string {
	if e.Reason == "" {
		return "business rule violation: " + e.Rule
	}
	return fmt.Sprintf("business rule violation: %s (%s)", e.Rule, e.Reason)
}
