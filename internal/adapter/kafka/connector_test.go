package kafka_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/neomorfeo/routesphere/internal/adapter/kafka"
	"github.com/neomorfeo/routesphere/internal/channel"
	"github.com/neomorfeo/routesphere/internal/domain"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func kafkaConfig() domain.ChannelConfig {
	cfg := domain.NewChannelConfig("sms-in", domain.ModeClient, domain.ChannelKafka)
	cfg.Tenant = "acme"
	cfg.Connection["bootstrap-servers"] = "broker-a:9092, broker-b:9092"
	cfg.Connection["group-id"] = "routesphere"
	cfg.ProtocolSpecific["consumer"] = map[string]any{
		"topics":           []any{"sms-inbound"},
		"poll-timeout":     "250",
		"max-poll-records": 10,
	}
	return cfg
}

func TestParseSettings(t *testing.T) {
	s, err := kafka.ParseSettings(kafkaConfig())
	require.NoError(t, err)
	assert.Equal(t, []string{"broker-a:9092", "broker-b:9092"}, s.BootstrapServers)
	assert.Equal(t, "routesphere", s.GroupID)
	assert.Equal(t, []string{"sms-inbound"}, s.Topics)
	assert.Equal(t, 250, s.PollTimeout)
	assert.Equal(t, 10, s.MaxPollRecords)
}

func TestParseSettingsDefaultsAndErrors(t *testing.T) {
	cfg := domain.NewChannelConfig("sms-in", domain.ModeClient, domain.ChannelKafka)
	cfg.ProtocolSpecific["topics"] = []any{"a", "b"}
	s, err := kafka.ParseSettings(cfg)
	require.NoError(t, err)
	assert.Equal(t, kafka.DefaultPollTimeout, s.PollTimeout)
	assert.Equal(t, kafka.DefaultMaxPollRecords, s.MaxPollRecords)
	assert.Empty(t, s.BootstrapServers)

	_, err = kafka.ParseSettings(domain.NewChannelConfig("x", domain.ModeClient, domain.ChannelKafka))
	assert.ErrorContains(t, err, "no topics")

	cfg.ProtocolSpecific["poll-timeout"] = 0
	_, err = kafka.ParseSettings(cfg)
	assert.Error(t, err)
}

func TestNewChannelDefaultsGroupID(t *testing.T) {
	cfg := kafkaConfig()
	delete(cfg.Connection, "group-id")
	ch, err := kafka.NewChannel(cfg, channel.Deps{Logger: discard})
	require.NoError(t, err)
	assert.Equal(t, domain.ModeClient, ch.Mode())
	assert.Equal(t, domain.ChannelStopped, ch.Status())
}

func TestToRoutingRequest(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &kgo.Record{
		Key:       []byte("+15550001"),
		Value:     []byte("hello"),
		Topic:     "sms-inbound",
		Partition: 3,
		Offset:    42,
		Timestamp: ts,
		Headers: []kgo.RecordHeader{
			{Key: "x-tenant-id", Value: []byte("alice")},
			{Key: "X-Request-ID", Value: []byte("req-9")},
			{Key: "destination", Value: []byte("+15550100")},
		},
	}

	req := kafka.ToRoutingRequest(rec)
	assert.Equal(t, domain.ProtocolSMS, req.Protocol())
	assert.Equal(t, "req-9", req.ID())
	assert.Equal(t, "alice", req.TenantID())
	assert.Equal(t, "+15550001", req.Source())
	assert.Equal(t, "+15550100", req.Destination())
	assert.Equal(t, ts, req.Timestamp())
	assert.Equal(t, "hello", string(req.Payload()))
	offset, _ := req.Header(":offset")
	assert.Equal(t, "42", offset)
	partition, _ := req.Header(":partition")
	assert.Equal(t, "3", partition)
}

func TestToRoutingRequestUsesTopicAsDestination(t *testing.T) {
	req := kafka.ToRoutingRequest(&kgo.Record{Topic: "sms-inbound"})
	assert.Equal(t, "sms-inbound", req.Destination())
	assert.NotEmpty(t, req.ID())
	assert.Empty(t, req.TenantID())
}

func TestPollWithoutConnection(t *testing.T) {
	c := kafka.NewConnector(kafka.Settings{Topics: []string{"t"}, PollTimeout: 10, MaxPollRecords: 1}, discard)
	err := c.Poll(context.Background())
	assert.True(t, errors.Is(err, channel.ErrConnectionLost))
	assert.NoError(t, c.Disconnect(context.Background()))
}

func TestConnectFailsWithoutBroker(t *testing.T) {
	c := kafka.NewConnector(kafka.Settings{
		BootstrapServers: []string{"127.0.0.1:1"},
		Topics:           []string{"t"},
		PollTimeout:      10,
		MaxPollRecords:   1,
	}, discard)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.Connect(ctx, "", nil)
	assert.ErrorContains(t, err, "pinging brokers")
}
