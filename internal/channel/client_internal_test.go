package channel

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neomorfeo/routesphere/internal/adapter/fsm"
	"github.com/neomorfeo/routesphere/internal/domain"
)

type idleConnector struct{}

func (idleConnector) Connect(context.Context, string, ClientSink) error { return nil }
func (idleConnector) Disconnect(context.Context) error                  { return nil }

func newIdleClient(t *testing.T) *Client {
	t.Helper()
	cfg := domain.NewChannelConfig("queue", domain.ModeClient, domain.ChannelKafka)
	cfg.Tenant = "acme"
	cfg.Connection["host"] = "broker"
	cfg.Connection["port"] = 9092
	cfg.Connection["reconnect"] = false
	c, err := NewClient(cfg, Deps{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Validator: fsm.NewChannelValidator(),
	}, idleConnector{})
	require.NoError(t, err)
	require.NoError(t, c.Initialize(context.Background()))
	return c
}

func TestConnectionLostDuringShutdownKeepsShutdown(t *testing.T) {
	c := newIdleClient(t)

	// Park ConnectionLost between its RUNNING check and the failure.
	c.pollMu.Lock()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.ConnectionLost(ErrConnectionLost)
	}()
	time.Sleep(20 * time.Millisecond)

	var shutdownErr error
	go func() {
		defer wg.Done()
		shutdownErr = c.Shutdown(context.Background())
	}()
	require.Eventually(t, func() bool { return c.Status() == domain.ChannelStopping }, time.Second, time.Millisecond)
	c.pollMu.Unlock()
	wg.Wait()

	require.NoError(t, shutdownErr)
	assert.Equal(t, domain.ChannelStopped, c.Status())
}

func TestTransitionFromChecksSourceState(t *testing.T) {
	c := newIdleClient(t)
	ctx := context.Background()

	err := c.transitionFrom(ctx, domain.ChannelStarting, domain.ChannelEventFail)
	var terr *domain.TransitionError[domain.ChannelStatus, domain.ChannelEvent]
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, domain.ChannelRunning, terr.Current)
	assert.Equal(t, domain.ChannelRunning, c.Status())

	require.NoError(t, c.transitionFrom(ctx, domain.ChannelRunning, domain.ChannelEventFail))
	assert.Equal(t, domain.ChannelError, c.Status())
}
