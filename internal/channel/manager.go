package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/neomorfeo/routesphere/internal/domain"
)

// maxConcurrentStarts bounds how many channels initialize at once.
const maxConcurrentStarts = 8

// Manager owns every channel of the process, indexed by tenant and by name.
type Manager struct {
	source  domain.ChannelConfigSource
	factory *Factory
	deps    Deps
	logger  *slog.Logger

	reload sync.Mutex

	mu       sync.RWMutex
	byName   map[string]Channel
	byTenant map[string][]Channel
}

// NewManager creates a manager that loads configurations from source and
// builds channels through factory.
func NewManager(source domain.ChannelConfigSource, factory *Factory, deps Deps) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		source:   source,
		factory:  factory,
		deps:     deps,
		logger:   logger,
		byName:   make(map[string]Channel),
		byTenant: make(map[string][]Channel),
	}
}

func key(tenant, name string) string { return tenant + "/" + name }

// LoadAndStart creates the configured channels and initializes them
// concurrently. A channel that cannot be created or started is logged and
// does not affect the others; only a failing configuration source is
// returned as an error.
func (m *Manager) LoadAndStart(ctx context.Context) error {
	m.reload.Lock()
	defer m.reload.Unlock()
	return m.loadAndStart(ctx)
}

func (m *Manager) loadAndStart(ctx context.Context) error {
	configs, err := m.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading channel configurations: %w", err)
	}

	var created []Channel
	for _, cfg := range configs {
		ch, err := m.factory.Create(cfg, m.deps)
		if err != nil {
			m.logger.ErrorContext(ctx, "creating channel",
				"channel", cfg.Name, "tenant", cfg.Tenant, "error", err)
			continue
		}
		if !m.register(ch) {
			m.logger.WarnContext(ctx, "duplicate channel ignored",
				"channel", cfg.Name, "tenant", cfg.Tenant)
			continue
		}
		created = append(created, ch)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentStarts)
	for _, ch := range created {
		g.Go(func() error {
			if err := ch.Initialize(gctx); err != nil {
				m.logger.ErrorContext(gctx, "initializing channel",
					"channel", ch.Name(), "tenant", ch.Tenant(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	m.logger.InfoContext(ctx, "channels loaded", "configured", len(configs), "created", len(created))
	return nil
}

func (m *Manager) register(ch Channel) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(ch.Tenant(), ch.Name())
	if _, ok := m.byName[k]; ok {
		return false
	}
	m.byName[k] = ch
	m.byTenant[ch.Tenant()] = append(m.byTenant[ch.Tenant()], ch)
	return true
}

// ShutdownAll shuts every channel down and forgets them. Errors from
// individual channels are joined.
func (m *Manager) ShutdownAll(ctx context.Context) error {
	m.reload.Lock()
	defer m.reload.Unlock()
	return m.shutdownAll(ctx)
}

func (m *Manager) shutdownAll(ctx context.Context) error {
	m.mu.Lock()
	channels := make([]Channel, 0, len(m.byName))
	for _, ch := range m.byName {
		channels = append(channels, ch)
	}
	m.byName = make(map[string]Channel)
	m.byTenant = make(map[string][]Channel)
	m.mu.Unlock()

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for _, ch := range channels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ch.Shutdown(ctx); err != nil {
				m.logger.ErrorContext(ctx, "shutting down channel",
					"channel", ch.Name(), "tenant", ch.Tenant(), "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("channel %s: %w", key(ch.Tenant(), ch.Name()), err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Reload shuts every channel down and loads the configuration again.
func (m *Manager) Reload(ctx context.Context) error {
	m.reload.Lock()
	defer m.reload.Unlock()
	if err := m.shutdownAll(ctx); err != nil {
		m.logger.WarnContext(ctx, "errors during reload shutdown", "error", err)
	}
	return m.loadAndStart(ctx)
}

// Channel returns the named channel of tenant.
func (m *Manager) Channel(tenant, name string) (Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.byName[key(tenant, name)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key(tenant, name), domain.ErrChannelNotFound)
	}
	return ch, nil
}

// TenantChannels returns the channels of tenant in load order.
func (m *Manager) TenantChannels(tenant string) []Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Channel(nil), m.byTenant[tenant]...)
}

// Channels returns every channel sorted by tenant and name.
func (m *Manager) Channels() []Channel {
	m.mu.RLock()
	out := make([]Channel, 0, len(m.byName))
	for _, ch := range m.byName {
		out = append(out, ch)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return key(out[i].Tenant(), out[i].Name()) < key(out[j].Tenant(), out[j].Name())
	})
	return out
}

// TenantChannelStats counts the channels of one tenant.
type TenantChannelStats struct {
	ChannelCount int `json:"channelCount"`
	RunningCount int `json:"runningCount"`
}

// StatusReport aggregates channel state across the process.
type StatusReport struct {
	TotalChannels  int                           `json:"totalChannels"`
	TenantCount    int                           `json:"tenantCount"`
	ProtocolCounts map[string]int                `json:"protocolCounts"`
	StatusCounts   map[string]int                `json:"statusCounts"`
	Tenants        map[string]TenantChannelStats `json:"tenants"`
}

// StatusReport builds a snapshot of every registered channel.
func (m *Manager) StatusReport() StatusReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r := StatusReport{
		TotalChannels:  len(m.byName),
		TenantCount:    len(m.byTenant),
		ProtocolCounts: make(map[string]int),
		StatusCounts:   make(map[string]int),
		Tenants:        make(map[string]TenantChannelStats, len(m.byTenant)),
	}
	for tenant, channels := range m.byTenant {
		stats := TenantChannelStats{ChannelCount: len(channels)}
		for _, ch := range channels {
			status := ch.Status()
			r.ProtocolCounts[string(ch.Protocol())]++
			r.StatusCounts[string(status)]++
			if status == domain.ChannelRunning {
				stats.RunningCount++
			}
		}
		r.Tenants[tenant] = stats
	}
	return r
}
