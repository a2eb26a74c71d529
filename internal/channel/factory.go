package channel

import (
	"fmt"
	"sync"

	"github.com/neomorfeo/routesphere/internal/domain"
)

// Constructor builds a channel from its configuration.
type Constructor func(cfg domain.ChannelConfig, deps Deps) (Channel, error)

// Factory maps channel protocols to constructors.
type Factory struct {
	mu           sync.RWMutex
	constructors map[domain.ChannelProtocol]Constructor
	modes        map[domain.ChannelProtocol]domain.ChannelMode
}

// NewFactory returns an empty factory.
func NewFactory() *Factory {
	return &Factory{
		constructors: make(map[domain.ChannelProtocol]Constructor),
		modes:        make(map[domain.ChannelProtocol]domain.ChannelMode),
	}
}

// Register installs the constructor for protocol. mode is the only mode the
// implementation supports.
func (f *Factory) Register(protocol domain.ChannelProtocol, mode domain.ChannelMode, c Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[protocol] = c
	f.modes[protocol] = mode
}

// Create builds the channel described by cfg.
func (f *Factory) Create(cfg domain.ChannelConfig, deps Deps) (Channel, error) {
	f.mu.RLock()
	c, ok := f.constructors[cfg.Protocol]
	mode := f.modes[cfg.Protocol]
	f.mu.RUnlock()

	if !ok {
		return nil, &domain.UnknownProtocolError{Protocol: string(cfg.Protocol)}
	}
	if cfg.Mode != "" && cfg.Mode != mode {
		return nil, fmt.Errorf("channel %s: protocol %s only supports %s mode, got %s", cfg.Name, cfg.Protocol, mode, cfg.Mode)
	}
	cfg.Mode = mode
	return c(cfg, deps)
}

// Protocols lists the registered protocols.
func (f *Factory) Protocols() []domain.ChannelProtocol {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]domain.ChannelProtocol, 0, len(f.constructors))
	for _, p := range domain.ChannelProtocols {
		if _, ok := f.constructors[p]; ok {
			out = append(out, p)
		}
	}
	return out
}
