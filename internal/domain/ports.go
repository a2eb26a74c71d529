package domain

import "context"

// TransitionValidator checks a lifecycle event against a transition table
// and returns the destination state.
type TransitionValidator[S, E ~string] interface {
	Apply(ctx context.Context, current S, event E) (S, error)
}

// TenantRepository is the seed store the hierarchy is built from.
// List returns parents before their children.
type TenantRepository interface {
	List(ctx context.Context) ([]Tenant, error)
	Save(ctx context.Context, tenant Tenant) error
	UpdateStatus(ctx context.Context, id string, status Status) error
	Delete(ctx context.Context, ids ...string) error
}

// EventPublisher emits tenant status events.
type EventPublisher interface {
	Publish(ctx context.Context, event Event, tenant Tenant) error
}

// ChannelEventPublisher emits channel lifecycle events.
type ChannelEventPublisher interface {
	PublishChannel(ctx context.Context, event ChannelEvent, cfg ChannelConfig, status ChannelStatus) error
}

// ChannelConfigSource provides the channel configuration to load.
type ChannelConfigSource interface {
	Load(ctx context.Context) ([]ChannelConfig, error)
}

// Dispatcher routes a normalized request through a named pipeline. An
// empty or unknown name falls back to the pipeline for the request protocol.
type Dispatcher interface {
	Dispatch(ctx context.Context, pipeline string, req RoutingRequest) RoutingResponse
}
