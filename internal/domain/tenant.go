package domain

import (
	"fmt"
	"slices"
)

// Level is the position of a tenant in the reseller hierarchy.
// Lower values sit closer to the root.
type Level int

const (
	LevelRoot       Level = 0
	LevelResellerL1 Level = 1
	LevelResellerL2 Level = 2
	LevelResellerL3 Level = 3
	LevelResellerL4 Level = 4
	LevelResellerL5 Level = 5
	LevelEndUser    Level = 10
)

// Levels lists every level from the root down to the end user.
var Levels = []Level{
	LevelRoot,
	LevelResellerL1,
	LevelResellerL2,
	LevelResellerL3,
	LevelResellerL4,
	LevelResellerL5,
	LevelEndUser,
}

func (l Level) String() string {
	switch {
	case l == LevelRoot:
		return "ROOT"
	case l >= LevelResellerL1 && l <= LevelResellerL5:
		return fmt.Sprintf("RESELLER_L%d", int(l))
	case l == LevelEndUser:
		return "END_USER"
	default:
		return fmt.Sprintf("LEVEL_%d", int(l))
	}
}

// Valid reports whether l is one of the defined levels.
func (l Level) Valid() bool {
	return slices.Contains(Levels, l)
}

// ParseLevel converts the string form produced by Level.String back to a Level.
func ParseLevel(s string) (Level, error) {
	for _, l := range Levels {
		if l.String() == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown tenant level %q", s)
}

// Status represents the operational state of a tenant.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusInactive  Status = "INACTIVE"
	StatusPending   Status = "PENDING"
)

// Event represents an action that triggers a tenant status transition.
type Event string

const (
	EventActivate   Event = "activate"
	EventSuspend    Event = "suspend"
	EventReactivate Event = "reactivate"
	EventDeactivate Event = "deactivate"
)

// EventRemove is published for each tenant deleted from the hierarchy. It
// has no status transition.
const EventRemove Event = "remove"

// Transition defines a valid state change: an event moves a machine from Src to Dst.
type Transition[S, E ~string] struct {
	Event E
	Src   S
	Dst   S
}

// TenantTransitions defines all valid status changes of a tenant.
// This is domain knowledge consumed by the FSM adapter.
var TenantTransitions = []Transition[Status, Event]{
	{Event: EventActivate, Src: StatusPending, Dst: StatusActive},
	{Event: EventSuspend, Src: StatusActive, Dst: StatusSuspended},
	{Event: EventReactivate, Src: StatusSuspended, Dst: StatusActive},
	{Event: EventDeactivate, Src: StatusActive, Dst: StatusInactive},
	{Event: EventDeactivate, Src: StatusSuspended, Dst: StatusInactive},
	{Event: EventDeactivate, Src: StatusPending, Dst: StatusInactive},
}

// Tenant is a node of the reseller hierarchy. Only ACTIVE tenants
// receive traffic.
type Tenant struct {
	ID         string
	Name       string
	Level      Level
	ParentID   string
	ChildIDs   []string
	Status     Status
	Properties map[string]string
}

// NewTenant creates a tenant in the initial PENDING state.
func NewTenant(id, name string, level Level, parentID string) Tenant {
	return Tenant{
		ID:         id,
		Name:       name,
		Level:      level,
		ParentID:   parentID,
		Status:     StatusPending,
		Properties: make(map[string]string),
	}
}

func (t Tenant) IsRoot() bool    { return t.Level == LevelRoot }
func (t Tenant) IsEndUser() bool { return t.Level == LevelEndUser }
func (t Tenant) IsActive() bool  { return t.Status == StatusActive }

func (t Tenant) IsReseller() bool {
	return t.Level >= LevelResellerL1 && t.Level <= LevelResellerL5
}

// AddChild records a child id, ignoring duplicates.
func (t *Tenant) AddChild(id string) {
	if !slices.Contains(t.ChildIDs, id) {
		t.ChildIDs = append(t.ChildIDs, id)
	}
}

func (t *Tenant) removeChild(id string) {
	t.ChildIDs = slices.DeleteFunc(t.ChildIDs, func(c string) bool { return c == id })
}

// Property returns the named property or "" when unset.
func (t Tenant) Property(key string) string {
	return t.Properties[key]
}

// Clone returns a deep copy so callers never share the hierarchy's slices and maps.
func (t Tenant) Clone() Tenant {
	out := t
	out.ChildIDs = slices.Clone(t.ChildIDs)
	if t.Properties != nil {
		out.Properties = make(map[string]string, len(t.Properties))
		for k, v := range t.Properties {
			out.Properties[k] = v
		}
	}
	return out
}
