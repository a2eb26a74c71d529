package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/neomorfeo/routesphere/internal/domain"
)

// ErrConnectionLost is reported by connectors whose peer went away.
var ErrConnectionLost = errors.New("connection lost")

// ClientSink is what a connector reports to: routed requests and
// connection loss.
type ClientSink interface {
	EventSink
	ConnectionLost(err error)
}

// Connector is the protocol half of a client channel.
type Connector interface {
	Connect(ctx context.Context, addr string, sink ClientSink) error
	Disconnect(ctx context.Context) error
}

// Poller is implemented by connectors that pull work instead of having it
// pushed. Poll performs one bounded fetch and must return when ctx is done.
type Poller interface {
	Poll(ctx context.Context) error
}

// Client is a channel that connects out to a peer. When its connector is a
// Poller the channel runs a poll loop for as long as it is RUNNING.
type Client struct {
	*Base
	connector Connector
	settings  ClientSettings

	reconnecting atomic.Bool
	timerMu      sync.Mutex
	timer        *time.Timer

	pollMu     sync.Mutex
	pollCancel context.CancelFunc
	pollWG     sync.WaitGroup
}

var _ Channel = (*Client)(nil)

// NewClient creates a client channel for the host and port in the
// connection settings.
func NewClient(cfg domain.ChannelConfig, deps Deps, connector Connector) (*Client, error) {
	settings := ClientSettings{
		Reconnect:      DefaultReconnect,
		ReconnectDelay: DefaultReconnectDelay,
	}
	if err := Decode(cfg.Connection, &settings); err != nil {
		return nil, fmt.Errorf("channel %s: %w", cfg.Name, err)
	}
	if settings.ReconnectDelay < 0 {
		return nil, fmt.Errorf("channel %s: negative reconnect-delay", cfg.Name)
	}
	if cfg.Mode == "" {
		cfg.Mode = domain.ModeClient
	}
	return &Client{
		Base:      newBase(cfg, deps),
		connector: connector,
		settings:  settings,
	}, nil
}

// Address is the peer address.
func (c *Client) Address() string { return c.settings.Address() }

// Settings returns the decoded connection settings.
func (c *Client) Settings() ClientSettings { return c.settings }

// Initialize connects to the peer and starts polling if supported.
func (c *Client) Initialize(ctx context.Context) error {
	return c.initialize(ctx, func(ctx context.Context) error {
		c.logger.InfoContext(ctx, "connecting", "address", c.Address())
		if err := c.connector.Connect(ctx, c.Address(), c); err != nil {
			return fmt.Errorf("connecting to %s: %w", c.Address(), err)
		}
		return nil
	}, c.startPolling)
}

// Shutdown stops polling, cancels any pending reconnect and disconnects.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.shutdown(ctx, func(ctx context.Context) error {
		c.cancelReconnect()
		c.stopPolling()
		if err := c.connector.Disconnect(ctx); err != nil {
			return fmt.Errorf("disconnecting from %s: %w", c.Address(), err)
		}
		return nil
	})
}

// ConnectionLost implements ClientSink. While RUNNING it schedules a
// reconnect, or moves the channel to ERROR when reconnects are disabled.
func (c *Client) ConnectionLost(err error) {
	if c.Status() != domain.ChannelRunning {
		return
	}
	c.logger.Warn("connection lost", "error", err)

	if !c.settings.Reconnect {
		ctx := context.Background()
		c.cancelPolling()
		if terr := c.transitionFrom(ctx, domain.ChannelRunning, domain.ChannelEventFail); terr != nil {
			c.logger.Debug("connection loss ignored, channel left running", "error", terr)
			return
		}
		if derr := c.connector.Disconnect(ctx); derr != nil {
			c.logger.Debug("releasing lost connection", "error", derr)
		}
		return
	}
	c.scheduleReconnect()
}

// scheduleReconnect arms a single reconnect attempt. Calls made while an
// attempt is pending are ignored.
func (c *Client) scheduleReconnect() {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	delay := time.Duration(c.settings.ReconnectDelay) * time.Millisecond
	c.logger.Info("scheduling reconnect", "delay", delay)

	c.timerMu.Lock()
	c.timer = time.AfterFunc(delay, c.reconnect)
	c.timerMu.Unlock()
}

func (c *Client) cancelReconnect() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.timer != nil && c.timer.Stop() {
		c.reconnecting.Store(false)
	}
	c.timer = nil
}

func (c *Client) reconnect() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.reconnecting.Store(false)
	if c.Status() != domain.ChannelRunning {
		return
	}

	ctx := context.Background()
	c.stopPolling()
	if err := c.connector.Disconnect(ctx); err != nil {
		c.logger.Debug("disconnect before reconnect", "error", err)
	}
	if err := c.connector.Connect(ctx, c.Address(), c); err != nil {
		c.logger.Warn("reconnect failed", "address", c.Address(), "error", err)
		c.scheduleReconnect()
		return
	}
	c.logger.Info("reconnected", "address", c.Address())
	c.startPolling()
}

// startPolling launches the poll loop. Callers hold the lifecycle lock.
func (c *Client) startPolling() {
	poller, ok := c.connector.(Poller)
	if !ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.pollMu.Lock()
	c.pollCancel = cancel
	c.pollMu.Unlock()

	running := c.Running()
	c.pollWG.Add(1)
	go func() {
		defer c.pollWG.Done()
		defer cancel()
		c.pollLoop(ctx, running, poller)
	}()
}

// pollLoop polls until ctx is cancelled or the channel leaves RUNNING.
func (c *Client) pollLoop(ctx context.Context, running <-chan struct{}, poller Poller) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-running:
			return
		default:
		}
		if err := poller.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.ConnectionLost(err)
			return
		}
	}
}

// cancelPolling stops the poll loop without waiting for it, so it is safe
// to call from the poll goroutine.
func (c *Client) cancelPolling() {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	if c.pollCancel != nil {
		c.pollCancel()
		c.pollCancel = nil
	}
}

// stopPolling cancels the poll loop and waits for it to exit. Callers hold
// the lifecycle lock and never run on the poll goroutine.
func (c *Client) stopPolling() {
	c.cancelPolling()
	c.pollWG.Wait()
}
