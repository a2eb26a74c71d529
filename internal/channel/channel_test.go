package channel_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/neomorfeo/routesphere/internal/adapter/fsm"
	"github.com/neomorfeo/routesphere/internal/channel"
	"github.com/neomorfeo/routesphere/internal/domain"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeListener struct {
	mu       sync.Mutex
	addr     string
	sink     channel.EventSink
	starts   int
	stops    int
	startErr error
	stopErr  error
}

func (f *fakeListener) Start(_ context.Context, addr string, sink channel.EventSink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.addr = addr
	f.sink = sink
	return f.startErr
}

func (f *fakeListener) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.stopErr
}

type fakeConnector struct {
	mu          sync.Mutex
	addr        string
	sink        channel.ClientSink
	connects    int
	disconnects int
	connectErrs []error
}

func (f *fakeConnector) Connect(_ context.Context, addr string, sink channel.ClientSink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.addr = addr
	f.sink = sink
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		return err
	}
	return nil
}

func (f *fakeConnector) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeConnector) counts() (connects, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects
}

type pollingConnector struct {
	*fakeConnector
	polls atomic.Int32
	fail  chan error
}

func newPollingConnector() *pollingConnector {
	return &pollingConnector{fakeConnector: &fakeConnector{}, fail: make(chan error, 1)}
}

func (p *pollingConnector) Poll(ctx context.Context) error {
	p.polls.Add(1)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-p.fail:
		return err
	case <-time.After(time.Millisecond):
		return nil
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.ChannelEvent
}

func (r *recordingPublisher) PublishChannel(_ context.Context, event domain.ChannelEvent, _ domain.ChannelConfig, _ domain.ChannelStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingPublisher) recorded() []domain.ChannelEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ChannelEvent(nil), r.events...)
}

type fakeDispatcher struct {
	pipeline string
}

func (f *fakeDispatcher) Dispatch(_ context.Context, pipeline string, _ domain.RoutingRequest) domain.RoutingResponse {
	f.pipeline = pipeline
	return domain.NewResponse()
}

func serverConfig(name string, port any) domain.ChannelConfig {
	cfg := domain.NewChannelConfig(name, domain.ModeServer, domain.ChannelHTTP)
	cfg.Tenant = "acme"
	cfg.Connection["host"] = "127.0.0.1"
	cfg.Connection["port"] = port
	return cfg
}

func clientConfig(name string, reconnect bool) domain.ChannelConfig {
	cfg := domain.NewChannelConfig(name, domain.ModeClient, domain.ChannelKafka)
	cfg.Tenant = "acme"
	cfg.Connection["host"] = "broker"
	cfg.Connection["port"] = 9092
	cfg.Connection["reconnect"] = reconnect
	cfg.Connection["reconnect-delay"] = "1"
	return cfg
}

func deps(pub domain.ChannelEventPublisher) channel.Deps {
	return channel.Deps{
		Logger:    discard,
		Validator: fsm.NewChannelValidator(),
		Publisher: pub,
	}
}

func TestServerLifecycle(t *testing.T) {
	pub := &recordingPublisher{}
	l := &fakeListener{}
	s, err := channel.NewServer(serverConfig("api", "8080"), deps(pub), l)
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelStopped, s.Status())
	assert.Equal(t, "127.0.0.1:8080", s.Address())

	require.NoError(t, s.Initialize(context.Background()))
	assert.Equal(t, domain.ChannelRunning, s.Status())
	assert.Equal(t, "127.0.0.1:8080", l.addr)

	// A second initialize is a no-op.
	require.NoError(t, s.Initialize(context.Background()))
	assert.Equal(t, 1, l.starts)

	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, domain.ChannelStopped, s.Status())
	assert.Equal(t, 1, l.stops)

	assert.Equal(t, []domain.ChannelEvent{
		domain.ChannelEventStart, domain.ChannelEventStarted,
		domain.ChannelEventStop, domain.ChannelEventStopped,
	}, pub.recorded())
}

func TestServerStartFailureMovesToError(t *testing.T) {
	l := &fakeListener{startErr: errors.New("address in use")}
	s, err := channel.NewServer(serverConfig("api", 8080), deps(nil), l)
	require.NoError(t, err)

	err = s.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address in use")
	assert.Equal(t, domain.ChannelError, s.Status())

	// ERROR is not RUNNING, so shutdown does nothing.
	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, 0, l.stops)
	assert.Equal(t, domain.ChannelError, s.Status())
}

func TestServerStopFailureMovesToError(t *testing.T) {
	l := &fakeListener{stopErr: errors.New("boom")}
	s, err := channel.NewServer(serverConfig("api", 8080), deps(nil), l)
	require.NoError(t, err)
	require.NoError(t, s.Initialize(context.Background()))

	require.Error(t, s.Shutdown(context.Background()))
	assert.Equal(t, domain.ChannelError, s.Status())
}

func TestShutdownBeforeInitializeIsNoop(t *testing.T) {
	l := &fakeListener{}
	s, err := channel.NewServer(serverConfig("api", 8080), deps(nil), l)
	require.NoError(t, err)

	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, domain.ChannelStopped, s.Status())
	assert.Equal(t, 0, l.stops)
}

func TestDisabledChannelDoesNotStart(t *testing.T) {
	cfg := serverConfig("api", 8080)
	cfg.Enabled = false
	l := &fakeListener{}
	s, err := channel.NewServer(cfg, deps(nil), l)
	require.NoError(t, err)

	require.NoError(t, s.Initialize(context.Background()))
	assert.Equal(t, domain.ChannelStopped, s.Status())
	assert.Equal(t, 0, l.starts)
}

func TestNewServerRejectsBadPort(t *testing.T) {
	_, err := channel.NewServer(serverConfig("api", 70000), deps(nil), &fakeListener{})
	require.Error(t, err)

	_, err = channel.NewServer(serverConfig("api", "not-a-port"), deps(nil), &fakeListener{})
	require.Error(t, err)
}

func TestProcessEvent(t *testing.T) {
	req := domain.NewRoutingRequest(domain.ProtocolHTTP)

	t.Run("without dispatcher", func(t *testing.T) {
		s, err := channel.NewServer(serverConfig("api", 8080), deps(nil), &fakeListener{})
		require.NoError(t, err)

		resp := s.ProcessEvent(context.Background(), req)
		assert.Equal(t, domain.ResponseError, resp.Type)
		assert.Equal(t, 503, resp.StatusCode)
	})

	t.Run("with dispatcher", func(t *testing.T) {
		cfg := serverConfig("api", 8080)
		cfg.PipelineName = "inbound"
		d := &fakeDispatcher{}
		dd := deps(nil)
		dd.Dispatcher = d
		s, err := channel.NewServer(cfg, dd, &fakeListener{})
		require.NoError(t, err)

		resp := s.ProcessEvent(context.Background(), req)
		assert.True(t, resp.IsSuccess())
		assert.Equal(t, "inbound", d.pipeline)
	})
}

func TestClientDefaults(t *testing.T) {
	cfg := domain.NewChannelConfig("fs", domain.ModeClient, domain.ChannelESL)
	cfg.Connection["host"] = "fs.local"
	cfg.Connection["port"] = 8021
	c, err := channel.NewClient(cfg, deps(nil), &fakeConnector{})
	require.NoError(t, err)

	assert.True(t, c.Settings().Reconnect)
	assert.Equal(t, 5000, c.Settings().ReconnectDelay)
	assert.Equal(t, "fs.local:8021", c.Address())
}

func TestClientPollLoopStopsOnShutdown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	conn := newPollingConnector()
	c, err := channel.NewClient(clientConfig("queue", true), deps(nil), conn)
	require.NoError(t, err)

	require.NoError(t, c.Initialize(context.Background()))
	require.Eventually(t, func() bool { return conn.polls.Load() > 2 }, time.Second, time.Millisecond)

	require.NoError(t, c.Shutdown(context.Background()))
	assert.Equal(t, domain.ChannelStopped, c.Status())
	_, disconnects := conn.counts()
	assert.Equal(t, 1, disconnects)
}

func TestClientReconnectsAfterPollFailure(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	conn := newPollingConnector()
	conn.connectErrs = []error{nil, errors.New("refused")}
	c, err := channel.NewClient(clientConfig("queue", true), deps(nil), conn)
	require.NoError(t, err)
	require.NoError(t, c.Initialize(context.Background()))

	conn.fail <- channel.ErrConnectionLost

	// First reconnect fails, the second succeeds.
	require.Eventually(t, func() bool {
		connects, _ := conn.counts()
		return connects >= 3
	}, time.Second, time.Millisecond)
	assert.Equal(t, domain.ChannelRunning, c.Status())

	before := conn.polls.Load()
	require.Eventually(t, func() bool { return conn.polls.Load() > before }, time.Second, time.Millisecond)

	require.NoError(t, c.Shutdown(context.Background()))
	assert.Equal(t, domain.ChannelStopped, c.Status())
}

func TestClientConnectionLostWithoutReconnect(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pub := &recordingPublisher{}
	conn := newPollingConnector()
	c, err := channel.NewClient(clientConfig("queue", false), deps(pub), conn)
	require.NoError(t, err)
	require.NoError(t, c.Initialize(context.Background()))

	conn.fail <- channel.ErrConnectionLost

	require.Eventually(t, func() bool { return c.Status() == domain.ChannelError }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		_, disconnects := conn.counts()
		return disconnects == 1
	}, time.Second, time.Millisecond)
	connects, _ := conn.counts()
	assert.Equal(t, 1, connects)
	assert.Contains(t, pub.recorded(), domain.ChannelEventFail)

	require.NoError(t, c.Shutdown(context.Background()))
	assert.Equal(t, domain.ChannelError, c.Status())
}

func TestClientConnectionLostIgnoredWhenNotRunning(t *testing.T) {
	conn := &fakeConnector{}
	c, err := channel.NewClient(clientConfig("fs", false), deps(nil), conn)
	require.NoError(t, err)

	c.ConnectionLost(channel.ErrConnectionLost)
	assert.Equal(t, domain.ChannelStopped, c.Status())
}

func TestClientRejectsNegativeDelay(t *testing.T) {
	cfg := clientConfig("queue", true)
	cfg.Connection["reconnect-delay"] = -1
	_, err := channel.NewClient(cfg, deps(nil), &fakeConnector{})
	require.Error(t, err)
}

func TestChannelStatusNeverSkipsStates(t *testing.T) {
	pub := &recordingPublisher{}
	conn := &fakeConnector{connectErrs: []error{errors.New("refused")}}
	c, err := channel.NewClient(clientConfig("fs", true), deps(pub), conn)
	require.NoError(t, err)

	require.Error(t, c.Initialize(context.Background()))
	assert.Equal(t, domain.ChannelError, c.Status())
	assert.Equal(t, []domain.ChannelEvent{domain.ChannelEventStart, domain.ChannelEventFail}, pub.recorded())

	// ERROR is terminal for the instance.
	require.NoError(t, c.Initialize(context.Background()))
	assert.Equal(t, domain.ChannelError, c.Status())
}
