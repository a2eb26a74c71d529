package sip_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sipadapter "github.com/neomorfeo/routesphere/internal/adapter/sip"
	"github.com/neomorfeo/routesphere/internal/domain"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

const optionsRequest = "OPTIONS sip:bob@127.0.0.1 SIP/2.0\r\n" +
	"Via: SIP/2.0/UDP %s;branch=z9hG4bK-%s\r\n" +
	"From: <sip:alice@127.0.0.1>;tag=1928301774\r\n" +
	"To: <sip:bob@127.0.0.1>\r\n" +
	"Call-ID: %s\r\n" +
	"CSeq: 1 OPTIONS\r\n" +
	"Max-Forwards: 70\r\n" +
	"X-Tenant-ID: alice\r\n" +
	"Content-Length: 0\r\n\r\n"

func parseRequest(t *testing.T, raw string) *sip.Request {
	t.Helper()
	msg, err := sip.ParseMessage([]byte(raw))
	require.NoError(t, err)
	req, ok := msg.(*sip.Request)
	require.True(t, ok)
	return req
}

func TestParseSettings(t *testing.T) {
	cfg := domain.NewChannelConfig("edge", domain.ModeServer, domain.ChannelSIP)
	s, err := sipadapter.ParseSettings(cfg)
	require.NoError(t, err)
	assert.Equal(t, "udp", s.Transport)
	assert.Equal(t, sipadapter.DefaultUserAgent, s.UserAgent)
	assert.Equal(t, domain.ProtocolSIPUDP, s.Protocol())

	cfg.Connection["transport"] = "TCP"
	cfg.ProtocolSpecific["sip"] = map[string]any{"user-agent": "edge/2", "realm": "acme.example"}
	cfg.ProtocolSpecific["security"] = map[string]any{"allowed-ips": []any{"10.0.", "192.168.1.0/24"}}
	s, err = sipadapter.ParseSettings(cfg)
	require.NoError(t, err)
	assert.Equal(t, domain.ProtocolSIPTCP, s.Protocol())
	assert.Equal(t, "edge/2", s.UserAgent)
	assert.Equal(t, "acme.example", s.Realm)
	assert.Equal(t, []string{"10.0.", "192.168.1.0/24"}, s.AllowedIPs)

	cfg.Connection["transport"] = "sctp"
	_, err = sipadapter.ParseSettings(cfg)
	assert.Error(t, err)
}

func TestAllowed(t *testing.T) {
	allowed := []string{"10.0.", "192.168.1.0/24"}
	tests := []struct {
		source string
		want   bool
	}{
		{"10.0.3.4:5060", true},
		{"192.168.1.77:5060", true},
		{"192.168.2.1:5060", false},
		{"172.16.0.1", false},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			assert.Equal(t, tt.want, sipadapter.Allowed(tt.source, allowed))
		})
	}
	assert.True(t, sipadapter.Allowed("172.16.0.1:5060", nil))
}

func TestToRoutingRequest(t *testing.T) {
	req := parseRequest(t, fmt.Sprintf(optionsRequest, "127.0.0.1:5070", "a", "call-42"))
	rr := sipadapter.ToRoutingRequest(req, sipadapter.Settings{Transport: "udp", Realm: "acme.example"})

	assert.Equal(t, "call-42", rr.ID())
	assert.Equal(t, domain.ProtocolSIPUDP, rr.Protocol())
	assert.Equal(t, "alice", rr.Source())
	assert.Equal(t, "bob", rr.Destination())
	method, _ := rr.Header(":method")
	assert.Equal(t, "OPTIONS", method)
	realm, _ := rr.Header(":realm")
	assert.Equal(t, "acme.example", realm)
	tenant, _ := rr.Header("x-tenant-id")
	assert.Equal(t, "alice", tenant)
}

func TestToSIPResponse(t *testing.T) {
	req := parseRequest(t, fmt.Sprintf(optionsRequest, "127.0.0.1:5070", "b", "call-43"))

	res := sipadapter.ToSIPResponse(req, domain.NewResponse().
		WithType(domain.ResponseStateMachine).
		WithStatus(200, "OK").
		WithStateMachine("sm-1"))
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, "sm-1", res.GetHeader("X-State-Machine-ID").Value())

	res = sipadapter.ToSIPResponse(req, domain.NewResponse().
		WithType(domain.ResponseStateMachine).
		WithStateMachine("sm-2").
		WithHeader("X-State-Machine-Id", "sm-2"))
	assert.Len(t, res.GetHeaders("X-State-Machine-Id"), 1)

	res = sipadapter.ToSIPResponse(req, domain.RedirectResponse("sip:carol@example.com"))
	assert.Equal(t, 302, res.StatusCode)
	assert.Equal(t, "<sip:carol@example.com>", res.GetHeader("Contact").Value())

	res = sipadapter.ToSIPResponse(req, domain.ErrorResponse(42, "odd"))
	assert.Equal(t, 500, res.StatusCode)
}

type stateMachineSink struct {
	got chan domain.RoutingRequest
}

func (s *stateMachineSink) ProcessEvent(_ context.Context, req domain.RoutingRequest) domain.RoutingResponse {
	s.got <- req
	return domain.NewResponse().WithType(domain.ResponseStateMachine).WithStateMachine("sm-7")
}

func exchange(t *testing.T, server net.Addr, callID string) string {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	msg := fmt.Sprintf(optionsRequest, conn.LocalAddr().String(), callID, callID)
	_, err = conn.WriteTo([]byte(msg), server)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := make([]byte, 4096)
	n, _, err := conn.ReadFrom(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestListenerAnswersOverUDP(t *testing.T) {
	sink := &stateMachineSink{got: make(chan domain.RoutingRequest, 1)}
	l := sipadapter.NewListener(sipadapter.Settings{Transport: "udp", UserAgent: "test-ua"}, discard)
	require.NoError(t, l.Start(context.Background(), "127.0.0.1:0", sink))
	defer func() { require.NoError(t, l.Stop(context.Background())) }()

	reply := exchange(t, l.Addr(), "udp-1")
	assert.True(t, strings.HasPrefix(reply, "SIP/2.0 200"), reply)
	assert.Contains(t, reply, "X-State-Machine-ID: sm-7")

	req := <-sink.got
	assert.Equal(t, "udp-1", req.ID())
}

func TestListenerRejectsDisallowedSource(t *testing.T) {
	sink := &stateMachineSink{got: make(chan domain.RoutingRequest, 1)}
	l := sipadapter.NewListener(sipadapter.Settings{
		Transport:  "udp",
		UserAgent:  "test-ua",
		AllowedIPs: []string{"10.99."},
	}, discard)
	require.NoError(t, l.Start(context.Background(), "127.0.0.1:0", sink))
	defer func() { require.NoError(t, l.Stop(context.Background())) }()

	reply := exchange(t, l.Addr(), "udp-2")
	assert.True(t, strings.HasPrefix(reply, "SIP/2.0 403"), reply)
	assert.Empty(t, sink.got)
}

func TestStopWithoutStart(t *testing.T) {
	l := sipadapter.NewListener(sipadapter.Settings{Transport: "udp"}, discard)
	assert.NoError(t, l.Stop(context.Background()))
	assert.Nil(t, l.Addr())
}
