package river

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/routesphere/internal/domain"
)

var (
	_ domain.EventPublisher        = (*Publisher)(nil)
	_ domain.ChannelEventPublisher = (*Publisher)(nil)
)

// EventJobArgs is a tenant status change queued for asynchronous handling.
// It carries a snapshot of the tenant so the worker never reads the store.
type EventJobArgs struct {
	Event    string `json:"event"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Level    string `json:"level"`
	ParentID string `json:"parent_id,omitempty"`
	Status   string `json:"status"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (EventJobArgs) Kind() string { return "tenant.event" }

// InsertOpts places tenant events on their own queue.
func (EventJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueTenantEvents}
}

// ChannelEventJobArgs is a channel lifecycle transition.
type ChannelEventJobArgs struct {
	Event    string `json:"event"`
	Channel  string `json:"channel"`
	TenantID string `json:"tenant_id"`
	Profile  string `json:"profile,omitempty"`
	Protocol string `json:"protocol"`
	Mode     string `json:"mode"`
	Status   string `json:"status"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (ChannelEventJobArgs) Kind() string { return "channel.event" }

// InsertOpts places channel events on their own queue. A lifecycle
// notification is stale after a few retries.
func (ChannelEventJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueChannelEvents, MaxAttempts: 3}
}

// Client is the River client type parameterized for SQLite (*sql.Tx).
type Client = river.Client[*sql.Tx]

// Publisher enqueues tenant and channel events as River jobs.
type Publisher struct {
	client *Client
}

// NewPublisher creates a publisher backed by the given River client.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// Publish enqueues a tenant status event.
func (p *Publisher) Publish(ctx context.Context, event domain.Event, tenant domain.Tenant) error {
	_, err := p.client.Insert(ctx, EventJobArgs{
		Event:    string(event),
		TenantID: tenant.ID,
		Name:     tenant.Name,
		Level:    tenant.Level.String(),
		ParentID: tenant.ParentID,
		Status:   string(tenant.Status),
	}, nil)
	if err != nil {
		return fmt.Errorf("enqueuing tenant event job: %w", err)
	}
	return nil
}

// PublishChannel enqueues a channel lifecycle event.
func (p *Publisher) PublishChannel(ctx context.Context, event domain.ChannelEvent, cfg domain.ChannelConfig, status domain.ChannelStatus) error {
	_, err := p.client.Insert(ctx, ChannelEventJobArgs{
		Event:    string(event),
		Channel:  cfg.Name,
		TenantID: cfg.Tenant,
		Profile:  cfg.Profile,
		Protocol: string(cfg.Protocol),
		Mode:     string(cfg.Mode),
		Status:   string(status),
	}, nil)
	if err != nil {
		return fmt.Errorf("enqueuing channel event job: %w", err)
	}
	return nil
}
