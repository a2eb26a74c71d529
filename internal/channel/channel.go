// Package channel manages the lifecycle of protocol channels: servers that
// accept traffic and clients that connect out to a peer or broker.
package channel

import (
	"context"
	"log/slog"
	"sync"

	"github.com/neomorfeo/routesphere/internal/domain"
)

// Channel is a protocol endpoint owned by a tenant.
type Channel interface {
	Name() string
	Tenant() string
	Protocol() domain.ChannelProtocol
	Mode() domain.ChannelMode
	Status() domain.ChannelStatus
	Enabled() bool
	Config() domain.ChannelConfig
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// EventSink receives normalized requests from a protocol adapter.
type EventSink interface {
	ProcessEvent(ctx context.Context, req domain.RoutingRequest) domain.RoutingResponse
}

// Deps are the collaborators shared by every channel.
type Deps struct {
	Logger     *slog.Logger
	Validator  domain.TransitionValidator[domain.ChannelStatus, domain.ChannelEvent]
	Dispatcher domain.Dispatcher
	Publisher  domain.ChannelEventPublisher
}

// Base holds the configuration and status common to all channels. Status
// changes go through the transition validator; Initialize and Shutdown of
// the same channel are serialized by lifecycle.
type Base struct {
	cfg       domain.ChannelConfig
	logger    *slog.Logger
	validator domain.TransitionValidator[domain.ChannelStatus, domain.ChannelEvent]
	dispatch  domain.Dispatcher
	publisher domain.ChannelEventPublisher

	lifecycle sync.Mutex

	mu      sync.RWMutex
	status  domain.ChannelStatus
	running chan struct{}
}

func newBase(cfg domain.ChannelConfig, deps Deps) *Base {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	closed := make(chan struct{})
	close(closed)
	return &Base{
		cfg: cfg,
		logger: logger.With(
			"channel", cfg.Name,
			"tenant", cfg.Tenant,
			"protocol", string(cfg.Protocol),
		),
		validator: deps.Validator,
		dispatch:  deps.Dispatcher,
		publisher: deps.Publisher,
		status:    domain.ChannelStopped,
		running:   closed,
	}
}

func (b *Base) Name() string                     { return b.cfg.Name }
func (b *Base) Tenant() string                   { return b.cfg.Tenant }
func (b *Base) Protocol() domain.ChannelProtocol { return b.cfg.Protocol }
func (b *Base) Mode() domain.ChannelMode         { return b.cfg.Mode }
func (b *Base) Enabled() bool                    { return b.cfg.Enabled }
func (b *Base) Logger() *slog.Logger             { return b.logger }

// Config returns a copy of the channel configuration.
func (b *Base) Config() domain.ChannelConfig { return b.cfg }

// Status returns the current lifecycle state.
func (b *Base) Status() domain.ChannelStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// Running returns a channel that is closed once the status leaves RUNNING.
func (b *Base) Running() <-chan struct{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// transition applies event to the current status.
func (b *Base) transition(ctx context.Context, event domain.ChannelEvent) error {
	return b.change(ctx, nil, event)
}

// transitionFrom applies event only while the status is still expected.
// The check and the change happen under the same lock.
func (b *Base) transitionFrom(ctx context.Context, expected domain.ChannelStatus, event domain.ChannelEvent) error {
	return b.change(ctx, &expected, event)
}

func (b *Base) change(ctx context.Context, expected *domain.ChannelStatus, event domain.ChannelEvent) error {
	b.mu.Lock()
	from := b.status
	if expected != nil && from != *expected {
		b.mu.Unlock()
		return &domain.TransitionError[domain.ChannelStatus, domain.ChannelEvent]{Event: event, Current: from}
	}
	to, err := b.apply(ctx, from, event)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	b.status = to
	switch {
	case to == domain.ChannelRunning:
		b.running = make(chan struct{})
	case from == domain.ChannelRunning:
		close(b.running)
	}
	b.mu.Unlock()

	b.logger.DebugContext(ctx, "channel status changed", "from", string(from), "to", string(to))
	if b.publisher != nil {
		if err := b.publisher.PublishChannel(ctx, event, b.cfg, to); err != nil {
			b.logger.WarnContext(ctx, "publishing channel event", "event", string(event), "error", err)
		}
	}
	return nil
}

func (b *Base) apply(ctx context.Context, from domain.ChannelStatus, event domain.ChannelEvent) (domain.ChannelStatus, error) {
	if b.validator != nil {
		return b.validator.Apply(ctx, from, event)
	}
	for _, t := range domain.ChannelTransitions {
		if t.Event == event && t.Src == from {
			return t.Dst, nil
		}
	}
	return "", &domain.TransitionError[domain.ChannelStatus, domain.ChannelEvent]{Event: event, Current: from}
}

// ProcessEvent forwards req to the dispatcher through the configured
// pipeline. Requests that name no tenant are attributed to the channel owner.
func (b *Base) ProcessEvent(ctx context.Context, req domain.RoutingRequest) domain.RoutingResponse {
	if b.dispatch == nil {
		return domain.ErrorResponse(503, "No dispatcher configured")
	}
	return b.dispatch.Dispatch(ctx, b.cfg.PipelineName, req.WithOwner(b.cfg.Tenant, b.cfg.Profile))
}

// initialize runs start inside the lifecycle lock, driving the
// STOPPED -> STARTING -> RUNNING (or ERROR) sequence around it. onRunning,
// if set, runs once the channel is RUNNING, still under the lock.
func (b *Base) initialize(ctx context.Context, start func(context.Context) error, onRunning func()) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if !b.cfg.Enabled {
		b.logger.InfoContext(ctx, "channel disabled, not starting")
		return nil
	}
	if b.Status() != domain.ChannelStopped {
		return nil
	}

	b.logger.InfoContext(ctx, "initializing channel")
	if err := b.transition(ctx, domain.ChannelEventStart); err != nil {
		return err
	}
	if err := start(ctx); err != nil {
		b.logger.ErrorContext(ctx, "channel failed to start", "error", err)
		if terr := b.transition(ctx, domain.ChannelEventFail); terr != nil {
			b.logger.ErrorContext(ctx, "recording channel failure", "error", terr)
		}
		return err
	}
	if err := b.transition(ctx, domain.ChannelEventStarted); err != nil {
		return err
	}
	if onRunning != nil {
		onRunning()
	}
	b.logger.InfoContext(ctx, "channel running")
	return nil
}

// shutdown runs stop inside the lifecycle lock when the channel is RUNNING.
// A failing stop leaves the channel in ERROR.
func (b *Base) shutdown(ctx context.Context, stop func(context.Context) error) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if b.Status() != domain.ChannelRunning {
		return nil
	}

	b.logger.InfoContext(ctx, "shutting down channel")
	if err := b.transition(ctx, domain.ChannelEventStop); err != nil {
		// The channel left RUNNING concurrently (connection failure).
		b.logger.WarnContext(ctx, "channel changed state during shutdown", "error", err)
		return nil
	}
	if err := stop(ctx); err != nil {
		b.logger.ErrorContext(ctx, "channel shutdown failed", "error", err)
		if terr := b.transition(ctx, domain.ChannelEventFail); terr != nil {
			b.logger.ErrorContext(ctx, "recording channel failure", "error", terr)
		}
		return err
	}
	if err := b.transition(ctx, domain.ChannelEventStopped); err != nil {
		return err
	}
	b.logger.InfoContext(ctx, "channel stopped")
	return nil
}
