// Package esl implements the FreeSWITCH event socket client channel. The
// connector authenticates, subscribes to the configured events and turns
// every text/event-plain message into a routing request.
package esl

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/neomorfeo/routesphere/internal/channel"
	"github.com/neomorfeo/routesphere/internal/domain"
)

// Content types of event socket messages.
const (
	contentAuthRequest  = "auth/request"
	contentCommandReply = "command/reply"
	contentEventPlain   = "text/event-plain"
	contentDisconnect   = "text/disconnect-notice"
)

// DefaultPassword is the FreeSWITCH factory password.
const DefaultPassword = "ClueCon"

const handshakeTimeout = 10 * time.Second

// ErrAuthFailed is returned when the server refuses the password.
var ErrAuthFailed = errors.New("esl authentication failed")

// Settings are the ESL options of a channel.
type Settings struct {
	Password      string   `mapstructure:"password"`
	Subscriptions []string `mapstructure:"subscriptions"`
}

// ParseSettings reads the password from the connection block and the
// event subscriptions from the protocol specific block.
func ParseSettings(cfg domain.ChannelConfig) (Settings, error) {
	s := Settings{Password: DefaultPassword}
	if err := channel.Decode(cfg.Connection, &s); err != nil {
		return s, err
	}
	if err := channel.Decode(cfg.ProtocolSpecific, &s); err != nil {
		return s, err
	}
	return s, nil
}

// Connector is a channel.Connector speaking the inbound event socket
// protocol.
type Connector struct {
	settings Settings
	logger   *slog.Logger

	mu      sync.Mutex
	conn    net.Conn
	closing bool
	done    chan struct{}
}

var _ channel.Connector = (*Connector)(nil)

// NewConnector returns a disconnected connector.
func NewConnector(settings Settings, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{settings: settings, logger: logger}
}

// NewChannel is the channel.Constructor for the esl protocol.
func NewChannel(cfg domain.ChannelConfig, deps channel.Deps) (channel.Channel, error) {
	settings, err := ParseSettings(cfg)
	if err != nil {
		return nil, fmt.Errorf("channel %s: %w", cfg.Name, err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return channel.NewClient(cfg, deps, NewConnector(settings, logger.With("channel", cfg.Name)))
}

// Connect dials addr, authenticates and subscribes, then reads events in
// the background until the connection drops or Disconnect is called.
func (c *Connector) Connect(ctx context.Context, addr string, sink channel.ClientSink) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(handshakeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	r := textproto.NewReader(bufio.NewReader(conn))
	if err := c.handshake(conn, r); err != nil {
		conn.Close()
		return err
	}
	_ = conn.SetDeadline(time.Time{})

	done := make(chan struct{})
	c.mu.Lock()
	c.conn, c.closing, c.done = conn, false, done
	c.mu.Unlock()

	go c.readLoop(conn, r, sink, done)
	return nil
}

func (c *Connector) handshake(w io.Writer, r *textproto.Reader) error {
	hdr, _, err := readMessage(r)
	if err != nil {
		return fmt.Errorf("reading auth request: %w", err)
	}
	if ct := hdr.Get("Content-Type"); ct != contentAuthRequest {
		return fmt.Errorf("unexpected greeting %q", ct)
	}
	if err := command(w, r, "auth "+c.settings.Password); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	if len(c.settings.Subscriptions) > 0 {
		if err := command(w, r, "event plain "+strings.Join(c.settings.Subscriptions, " ")); err != nil {
			return fmt.Errorf("subscribing to events: %w", err)
		}
	}
	return nil
}

// command sends cmd and waits for its command/reply.
func command(w io.Writer, r *textproto.Reader, cmd string) error {
	if _, err := io.WriteString(w, cmd+"\n\n"); err != nil {
		return err
	}
	for {
		hdr, _, err := readMessage(r)
		if err != nil {
			return err
		}
		if hdr.Get("Content-Type") != contentCommandReply {
			continue
		}
		reply := hdr.Get("Reply-Text")
		if !strings.HasPrefix(reply, "+OK") {
			return fmt.Errorf("server replied %q", reply)
		}
		return nil
	}
}

// readMessage reads one header block and, when Content-Length is set, the
// body that follows it.
func readMessage(r *textproto.Reader) (textproto.MIMEHeader, []byte, error) {
	hdr, err := r.ReadMIMEHeader()
	if err != nil {
		return nil, nil, err
	}
	cl := hdr.Get("Content-Length")
	if cl == "" {
		return hdr, nil, nil
	}
	n, err := strconv.Atoi(cl)
	if err != nil || n < 0 {
		return nil, nil, fmt.Errorf("invalid content length %q", cl)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r.R, body); err != nil {
		return nil, nil, err
	}
	return hdr, body, nil
}

func (c *Connector) readLoop(conn net.Conn, r *textproto.Reader, sink channel.ClientSink, done chan struct{}) {
	defer close(done)
	defer conn.Close()
	for {
		hdr, body, err := readMessage(r)
		if err == nil && hdr.Get("Content-Type") == contentDisconnect {
			err = channel.ErrConnectionLost
		}
		if err != nil {
			if c.isClosing() {
				return
			}
			c.logger.Warn("lost connection to event socket", "error", err)
			// ConnectionLost may disconnect, which waits for this loop.
			go sink.ConnectionLost(err)
			return
		}
		if hdr.Get("Content-Type") != contentEventPlain {
			continue
		}
		ev, err := ParseEvent(body)
		if err != nil {
			c.logger.Warn("malformed event", "error", err)
			continue
		}
		if ev.Name != "HEARTBEAT" {
			c.logger.Debug("event received", "event", ev.Name)
		}
		sink.ProcessEvent(context.Background(), ev.RoutingRequest())
	}
}

func (c *Connector) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// Disconnect says goodbye, closes the socket and waits for the reader.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	conn, done := c.conn, c.done
	c.conn, c.done, c.closing = nil, nil, true
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, _ = io.WriteString(conn, "exit\n\n")
	err := conn.Close()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Event is a decoded text/event-plain message.
type Event struct {
	Name    string
	Headers map[string]string
	Body    []byte
}

// ParseEvent decodes the body of a text/event-plain message. Header values
// are URL encoded on the wire.
func ParseEvent(data []byte) (Event, error) {
	r := textproto.NewReader(bufio.NewReader(bytes.NewReader(data)))
	raw, err := r.ReadMIMEHeader()
	if err != nil && !errors.Is(err, io.EOF) {
		return Event{}, err
	}
	ev := Event{Headers: make(map[string]string, len(raw))}
	for k, vs := range raw {
		v := vs[0]
		if dec, err := url.QueryUnescape(v); err == nil {
			v = dec
		}
		ev.Headers[k] = v
	}
	ev.Name = ev.Headers["Event-Name"]
	if ev.Name == "" {
		return Event{}, errors.New("event without Event-Name")
	}
	if cl := ev.Headers["Content-Length"]; cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return Event{}, fmt.Errorf("invalid event content length %q", cl)
		}
		ev.Body = make([]byte, n)
		if _, err := io.ReadFull(r.R, ev.Body); err != nil {
			return Event{}, fmt.Errorf("reading event body: %w", err)
		}
	}
	return ev, nil
}

// RoutingRequest normalizes the event. The channel unique id, or failing
// that the event uuid, becomes the request id.
func (e Event) RoutingRequest() domain.RoutingRequest {
	opts := []domain.RequestOption{
		domain.WithHeader(":event", e.Name),
		domain.WithSource(e.Headers["Caller-Caller-Id-Number"]),
		domain.WithDestination(e.Headers["Caller-Destination-Number"]),
	}
	switch {
	case e.Headers["Unique-Id"] != "":
		opts = append(opts, domain.WithRequestID(e.Headers["Unique-Id"]))
	case e.Headers["Event-Uuid"] != "":
		opts = append(opts, domain.WithRequestID(e.Headers["Event-Uuid"]))
	}
	keys := make([]string, 0, len(e.Headers))
	for k := range e.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		opts = append(opts, domain.WithHeader(k, e.Headers[k]))
	}
	if len(e.Body) > 0 {
		opts = append(opts, domain.WithPayload(e.Body))
	}
	return domain.NewRoutingRequest(domain.ProtocolESL, opts...)
}
