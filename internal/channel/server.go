package channel

import (
	"context"
	"fmt"

	"github.com/neomorfeo/routesphere/internal/domain"
)

// Listener is the protocol half of a server channel. Start binds addr and
// begins delivering requests to sink without blocking; Stop releases the
// binding.
type Listener interface {
	Start(ctx context.Context, addr string, sink EventSink) error
	Stop(ctx context.Context) error
}

// Server is a channel that accepts inbound traffic.
type Server struct {
	*Base
	listener Listener
	settings ServerSettings
}

var _ Channel = (*Server)(nil)

// NewServer creates a server channel bound to the host and port in the
// connection settings.
func NewServer(cfg domain.ChannelConfig, deps Deps, listener Listener) (*Server, error) {
	settings := ServerSettings{Endpoint: Endpoint{Host: DefaultServerHost}}
	if err := Decode(cfg.Connection, &settings); err != nil {
		return nil, fmt.Errorf("channel %s: %w", cfg.Name, err)
	}
	if settings.Port < 0 || settings.Port > 65535 {
		return nil, fmt.Errorf("channel %s: invalid port %d", cfg.Name, settings.Port)
	}
	if cfg.Mode == "" {
		cfg.Mode = domain.ModeServer
	}
	return &Server{
		Base:     newBase(cfg, deps),
		listener: listener,
		settings: settings,
	}, nil
}

// Address is the configured bind address.
func (s *Server) Address() string { return s.settings.Address() }

// Initialize starts the listener.
func (s *Server) Initialize(ctx context.Context) error {
	return s.initialize(ctx, func(ctx context.Context) error {
		s.logger.InfoContext(ctx, "starting server listener", "address", s.Address())
		if err := s.listener.Start(ctx, s.Address(), s); err != nil {
			return fmt.Errorf("starting listener on %s: %w", s.Address(), err)
		}
		return nil
	}, nil)
}

// Shutdown stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.shutdown(ctx, func(ctx context.Context) error {
		if err := s.listener.Stop(ctx); err != nil {
			return fmt.Errorf("stopping listener: %w", err)
		}
		return nil
	})
}
