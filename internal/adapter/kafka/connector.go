// Package kafka implements the queue consumer client channel on franz-go.
// The client channel drives Poll in its poll loop; every record becomes an
// sms routing request and its offset is marked for commit once routed.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/neomorfeo/routesphere/internal/channel"
	"github.com/neomorfeo/routesphere/internal/domain"
)

// Record headers with routing meaning.
const (
	HeaderTenantID    = "X-Tenant-ID"
	HeaderRequestID   = "X-Request-ID"
	HeaderDestination = "destination"
)

// Consumer defaults.
const (
	DefaultPollTimeout    = 1000
	DefaultMaxPollRecords = 500
)

// Settings are the consumer options of a channel. Servers and group come
// from the connection block, the rest from the "consumer" block.
type Settings struct {
	BootstrapServers []string `mapstructure:"bootstrap-servers"`
	GroupID          string   `mapstructure:"group-id"`
	Topics           []string `mapstructure:"topics"`
	PollTimeout      int      `mapstructure:"poll-timeout"`
	MaxPollRecords   int      `mapstructure:"max-poll-records"`
}

// ParseSettings extracts the consumer settings of cfg.
func ParseSettings(cfg domain.ChannelConfig) (Settings, error) {
	s := Settings{PollTimeout: DefaultPollTimeout, MaxPollRecords: DefaultMaxPollRecords}
	conn := make(map[string]any, len(cfg.Connection))
	for k, v := range cfg.Connection {
		conn[k] = v
	}
	// "a:9092,b:9092" is accepted as well as a list.
	if servers, ok := conn["bootstrap-servers"].(string); ok {
		conn["bootstrap-servers"] = strings.Split(servers, ",")
	}
	if err := channel.Decode(conn, &s); err != nil {
		return s, err
	}
	consumer, ok := cfg.ProtocolSpecific["consumer"].(map[string]any)
	if !ok {
		consumer = cfg.ProtocolSpecific
	}
	if err := channel.Decode(consumer, &s); err != nil {
		return s, err
	}
	for i, srv := range s.BootstrapServers {
		s.BootstrapServers[i] = strings.TrimSpace(srv)
	}
	if len(s.Topics) == 0 {
		return s, errors.New("no topics configured")
	}
	if s.PollTimeout <= 0 || s.MaxPollRecords <= 0 {
		return s, errors.New("poll-timeout and max-poll-records must be positive")
	}
	return s, nil
}

// Connector is a channel.Connector and channel.Poller over a franz-go
// consumer group client.
type Connector struct {
	settings Settings
	logger   *slog.Logger

	mu     sync.Mutex
	client *kgo.Client
	sink   channel.EventSink
}

var (
	_ channel.Connector = (*Connector)(nil)
	_ channel.Poller    = (*Connector)(nil)
)

// NewConnector returns a disconnected connector.
func NewConnector(settings Settings, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{settings: settings, logger: logger}
}

// NewChannel is the channel.Constructor for the kafka protocol.
func NewChannel(cfg domain.ChannelConfig, deps channel.Deps) (channel.Channel, error) {
	settings, err := ParseSettings(cfg)
	if err != nil {
		return nil, fmt.Errorf("channel %s: %w", cfg.Name, err)
	}
	if settings.GroupID == "" {
		settings.GroupID = cfg.Tenant + "-" + cfg.Name
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return channel.NewClient(cfg, deps, NewConnector(settings, logger.With("channel", cfg.Name)))
}

// Connect creates the group client and checks that a broker answers. addr
// is used when no bootstrap servers are configured.
func (c *Connector) Connect(ctx context.Context, addr string, sink channel.ClientSink) error {
	brokers := c.settings.BootstrapServers
	if len(brokers) == 0 {
		brokers = []string{addr}
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ConsumeTopics(c.settings.Topics...),
		kgo.AutoCommitMarks(),
	}
	if c.settings.GroupID != "" {
		opts = append(opts, kgo.ConsumerGroup(c.settings.GroupID))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("creating kafka client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return fmt.Errorf("pinging brokers %v: %w", brokers, err)
	}

	c.mu.Lock()
	c.client, c.sink = client, sink
	c.mu.Unlock()
	c.logger.InfoContext(ctx, "kafka consumer connected", "brokers", brokers, "topics", c.settings.Topics, "group", c.settings.GroupID)
	return nil
}

// Poll fetches at most max-poll-records records, waiting no longer than
// poll-timeout, and routes them in order.
func (c *Connector) Poll(ctx context.Context) error {
	c.mu.Lock()
	client, sink := c.client, c.sink
	c.mu.Unlock()
	if client == nil {
		return channel.ErrConnectionLost
	}

	pctx, cancel := context.WithTimeout(ctx, time.Duration(c.settings.PollTimeout)*time.Millisecond)
	defer cancel()
	fetches := client.PollRecords(pctx, c.settings.MaxPollRecords)
	if fetches.IsClientClosed() {
		return channel.ErrConnectionLost
	}
	fetches.EachError(func(topic string, partition int32, err error) {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return
		}
		c.logger.Error("kafka fetch error", "topic", topic, "partition", partition, "error", err)
	})

	var routed []*kgo.Record
	fetches.EachRecord(func(r *kgo.Record) {
		if ctx.Err() != nil {
			return
		}
		resp := sink.ProcessEvent(ctx, ToRoutingRequest(r))
		if !resp.IsSuccess() {
			c.logger.Warn("record not routed",
				"topic", r.Topic,
				"partition", r.Partition,
				"offset", r.Offset,
				"status", resp.StatusCode,
			)
		}
		routed = append(routed, r)
	})
	if len(routed) > 0 {
		client.MarkCommitRecords(routed...)
	}
	return nil
}

// Disconnect closes the client. It does not wait for an in flight Poll;
// the closed client makes it return.
func (c *Connector) Disconnect(_ context.Context) error {
	c.mu.Lock()
	client := c.client
	c.client, c.sink = nil, nil
	c.mu.Unlock()

	if client != nil {
		client.Close()
	}
	return nil
}

// ToRoutingRequest normalizes a record: the key is the source, the
// destination header (or the topic) the destination.
func ToRoutingRequest(r *kgo.Record) domain.RoutingRequest {
	opts := []domain.RequestOption{
		domain.WithSource(string(r.Key)),
		domain.WithDestination(r.Topic),
		domain.WithHeader(":topic", r.Topic),
		domain.WithHeader(":partition", strconv.Itoa(int(r.Partition))),
		domain.WithHeader(":offset", strconv.FormatInt(r.Offset, 10)),
	}
	if !r.Timestamp.IsZero() {
		opts = append(opts, domain.WithTimestamp(r.Timestamp))
	}
	for _, h := range r.Headers {
		v := string(h.Value)
		switch {
		case strings.EqualFold(h.Key, HeaderTenantID):
			opts = append(opts, domain.WithTenantID(v))
		case strings.EqualFold(h.Key, HeaderRequestID):
			opts = append(opts, domain.WithRequestID(v))
		case strings.EqualFold(h.Key, HeaderDestination):
			opts = append(opts, domain.WithDestination(v))
		}
		opts = append(opts, domain.WithHeader(h.Key, v))
	}
	if len(r.Value) > 0 {
		opts = append(opts, domain.WithPayload(r.Value))
	}
	return domain.NewRoutingRequest(domain.ProtocolSMS, opts...)
}
