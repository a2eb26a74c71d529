// Package sip implements the SIP server channel on top of sipgo. Every
// request that passes the source address filter is routed through the
// channel's pipeline and answered from the RoutingResponse.
package sip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"sync"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/neomorfeo/routesphere/internal/channel"
	"github.com/neomorfeo/routesphere/internal/domain"
)

// DefaultUserAgent is sent in the User-Agent header of every response.
const DefaultUserAgent = "RouteSphere/1.0"

// Settings are the SIP options of a channel. Transport comes from the
// connection block; the rest from the "sip" and "security" blocks.
type Settings struct {
	Transport  string
	UserAgent  string
	Realm      string
	AllowedIPs []string
}

type sipBlock struct {
	UserAgent string `mapstructure:"user-agent"`
	Realm     string `mapstructure:"realm"`
}

type securityBlock struct {
	AllowedIPs []string `mapstructure:"allowed-ips"`
}

// ParseSettings extracts the SIP settings of cfg.
func ParseSettings(cfg domain.ChannelConfig) (Settings, error) {
	s := Settings{Transport: "udp", UserAgent: DefaultUserAgent}
	if t, ok := cfg.Connection["transport"].(string); ok && t != "" {
		s.Transport = strings.ToLower(t)
	}
	if s.Transport != "udp" && s.Transport != "tcp" {
		return s, fmt.Errorf("unsupported SIP transport %q", s.Transport)
	}

	if raw, ok := cfg.ProtocolSpecific["sip"].(map[string]any); ok {
		var b sipBlock
		if err := channel.Decode(raw, &b); err != nil {
			return s, err
		}
		if b.UserAgent != "" {
			s.UserAgent = b.UserAgent
		}
		s.Realm = b.Realm
	}
	if raw, ok := cfg.ProtocolSpecific["security"].(map[string]any); ok {
		var b securityBlock
		if err := channel.Decode(raw, &b); err != nil {
			return s, err
		}
		s.AllowedIPs = b.AllowedIPs
	}
	return s, nil
}

// Protocol is the routing protocol of requests received over s.Transport.
func (s Settings) Protocol() domain.Protocol {
	if s.Transport == "tcp" {
		return domain.ProtocolSIPTCP
	}
	return domain.ProtocolSIPUDP
}

// Allowed reports whether source (host or host:port) matches one of the
// allowed entries. An entry is a CIDR prefix or a leading text prefix of
// the address. An empty list allows everyone.
func Allowed(source string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	host := source
	if h, _, err := net.SplitHostPort(source); err == nil {
		host = h
	}
	addr, addrErr := netip.ParseAddr(host)
	for _, entry := range allowed {
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err == nil && addrErr == nil && p.Contains(addr) {
				return true
			}
			continue
		}
		if strings.HasPrefix(host, entry) {
			return true
		}
	}
	return false
}

// Listener runs a sipgo server for one channel.
type Listener struct {
	settings Settings
	logger   *slog.Logger

	mu     sync.Mutex
	ua     *sipgo.UserAgent
	closer func() error
	addr   net.Addr
	done   chan struct{}
}

var _ channel.Listener = (*Listener)(nil)

// NewListener returns a listener for settings.
func NewListener(settings Settings, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{settings: settings, logger: logger}
}

// NewChannel is the channel.Constructor for the sip protocol.
func NewChannel(cfg domain.ChannelConfig, deps channel.Deps) (channel.Channel, error) {
	settings, err := ParseSettings(cfg)
	if err != nil {
		return nil, fmt.Errorf("channel %s: %w", cfg.Name, err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return channel.NewServer(cfg, deps, NewListener(settings, logger.With("channel", cfg.Name)))
}

// Start binds addr on the configured transport and serves in the
// background.
func (l *Listener) Start(_ context.Context, addr string, sink channel.EventSink) error {
	ua, err := sipgo.NewUA(sipgo.WithUserAgent(l.settings.UserAgent))
	if err != nil {
		return fmt.Errorf("creating user agent: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		_ = ua.Close()
		return fmt.Errorf("creating server: %w", err)
	}
	h := &handler{settings: l.settings, sink: sink, logger: l.logger}
	srv.OnInvite(h.serve)
	srv.OnMessage(h.serve)
	srv.OnOptions(h.serve)
	srv.OnRegister(h.serve)
	srv.OnBye(h.serve)

	var (
		serve  func() error
		closer func() error
		bound  net.Addr
	)
	switch l.settings.Transport {
	case "tcp":
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			_ = ua.Close()
			return err
		}
		serve, closer, bound = func() error { return srv.ServeTCP(ln) }, ln.Close, ln.Addr()
	default:
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			_ = ua.Close()
			return err
		}
		serve, closer, bound = func() error { return srv.ServeUDP(conn) }, conn.Close, conn.LocalAddr()
	}

	done := make(chan struct{})
	l.mu.Lock()
	l.ua, l.closer, l.addr, l.done = ua, closer, bound, done
	l.mu.Unlock()

	go func() {
		defer close(done)
		if err := serve(); err != nil && !errors.Is(err, net.ErrClosed) {
			l.logger.Debug("sip server exited", "error", err)
		}
	}()
	return nil
}

// Stop closes the socket and the user agent, then waits for the serve loop.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	ua, closer, done := l.ua, l.closer, l.done
	l.ua, l.closer, l.addr, l.done = nil, nil, nil, nil
	l.mu.Unlock()

	if ua == nil {
		return nil
	}
	err := closer()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	err = errors.Join(err, ua.Close())
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

// Addr is the bound address while serving, or nil.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addr
}

type handler struct {
	settings Settings
	sink     channel.EventSink
	logger   *slog.Logger
}

func (h *handler) serve(req *sip.Request, tx sip.ServerTransaction) {
	if !Allowed(req.Source(), h.settings.AllowedIPs) {
		h.logger.Warn("rejected sip request from unauthorized address", "source", req.Source(), "method", string(req.Method))
		h.respond(req, tx, domain.RejectedResponse(403, "Forbidden"))
		return
	}
	rr := ToRoutingRequest(req, h.settings)
	h.logger.Debug("sip request received", "method", string(req.Method), "call_id", rr.ID(), "source", req.Source())
	h.respond(req, tx, h.sink.ProcessEvent(context.Background(), rr))
}

func (h *handler) respond(req *sip.Request, tx sip.ServerTransaction, resp domain.RoutingResponse) {
	res := ToSIPResponse(req, resp)
	if err := tx.Respond(res); err != nil {
		h.logger.Error("failed to send sip response", "code", res.StatusCode, "error", err)
	}
}

// ToRoutingRequest normalizes a SIP request. The Call-ID becomes the
// request id; the From user is the source and the To user the destination.
func ToRoutingRequest(req *sip.Request, s Settings) domain.RoutingRequest {
	opts := []domain.RequestOption{
		domain.WithHeader(":method", string(req.Method)),
		domain.WithHeader(":remote", req.Source()),
	}
	if cid := req.CallID(); cid != nil && cid.Value() != "" {
		opts = append(opts, domain.WithRequestID(cid.Value()))
	}
	if from := req.From(); from != nil {
		opts = append(opts, domain.WithSource(from.Address.User))
	}
	if to := req.To(); to != nil {
		opts = append(opts, domain.WithDestination(to.Address.User))
	}
	if s.Realm != "" {
		opts = append(opts, domain.WithHeader(":realm", s.Realm))
	}
	for _, hdr := range req.Headers() {
		opts = append(opts, domain.WithHeader(hdr.Name(), hdr.Value()))
	}
	if body := req.Body(); len(body) > 0 {
		opts = append(opts, domain.WithPayload(body))
	}
	return domain.NewRoutingRequest(s.Protocol(), opts...)
}

// ToSIPResponse renders resp as the answer to req. Status codes outside
// the SIP range are answered with 500.
func ToSIPResponse(req *sip.Request, resp domain.RoutingResponse) *sip.Response {
	code, reason := resp.StatusCode, resp.StatusMessage
	if code < 100 || code > 699 {
		code, reason = 500, "Server Internal Error"
	}
	res := sip.NewResponseFromRequest(req, code, reason, resp.Payload)
	if _, set := resp.Header("X-State-Machine-Id"); resp.StateMachineID != "" && !set {
		res.AppendHeader(sip.NewHeader("X-State-Machine-ID", resp.StateMachineID))
	}
	for _, hdr := range resp.Headers {
		if strings.EqualFold(hdr.Name, "Location") {
			res.AppendHeader(sip.NewHeader("Contact", "<"+hdr.Value+">"))
			continue
		}
		res.AppendHeader(sip.NewHeader(hdr.Name, hdr.Value))
	}
	return res
}
