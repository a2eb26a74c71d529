// Package yamlconfig loads channel configuration from a deployment
// directory:
//
//	<dir>/tenants.yml
//	<dir>/<tenant>/<profile>/channels/<protocol>/<channel>.yml
//
// tenants.yml lists the tenants served by this process and the profile each
// runs; only active tenants are loaded.
package yamlconfig

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/neomorfeo/routesphere/internal/domain"
)

// TenantsFile is the name of the tenant list inside the config directory.
const TenantsFile = "tenants.yml"

// DefaultProfile is used for tenants that name no profile.
const DefaultProfile = "default"

// TenantEntry is one tenant of tenants.yml.
type TenantEntry struct {
	Name    string `yaml:"name"`
	Active  bool   `yaml:"active"`
	Profile string `yaml:"profile"`
}

type tenantsDoc struct {
	Tenants []TenantEntry `yaml:"tenants"`
}

type channelDoc struct {
	Channel map[string]any `yaml:"channel"`
}

// channelSection is the decoded channel: block. Keys not listed here are
// protocol specific.
type channelSection struct {
	Name     string `mapstructure:"name"`
	Mode     string `mapstructure:"mode"`
	Protocol string `mapstructure:"protocol"`
	Enabled  *bool  `mapstructure:"enabled"`
	Pipeline struct {
		Name  string `mapstructure:"name"`
		Async *bool  `mapstructure:"async"`
	} `mapstructure:"pipeline"`
	Connection map[string]any `mapstructure:"connection"`
	Listener   map[string]any `mapstructure:"listener"`
	Rest       map[string]any `mapstructure:",remain"`
}

// Loader implements domain.ChannelConfigSource over a config directory.
type Loader struct {
	dir    string
	logger *slog.Logger
}

var _ domain.ChannelConfigSource = (*Loader)(nil)

// New returns a loader rooted at dir.
func New(dir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{dir: dir, logger: logger}
}

// Tenants reads tenants.yml. A missing file yields no tenants.
func (l *Loader) Tenants() ([]TenantEntry, error) {
	data, err := os.ReadFile(filepath.Join(l.dir, TenantsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", TenantsFile, err)
	}

	var doc tenantsDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", TenantsFile, err)
	}
	for i := range doc.Tenants {
		if doc.Tenants[i].Profile == "" {
			doc.Tenants[i].Profile = DefaultProfile
		}
	}
	return doc.Tenants, nil
}

// Load returns the channel configurations of every active tenant. Files
// that cannot be parsed are logged and skipped.
func (l *Loader) Load(ctx context.Context) ([]domain.ChannelConfig, error) {
	tenants, err := l.Tenants()
	if err != nil {
		return nil, err
	}

	var configs []domain.ChannelConfig
	for _, t := range tenants {
		if !t.Active {
			l.logger.DebugContext(ctx, "skipping inactive tenant", "tenant", t.Name)
			continue
		}
		loaded, err := l.loadProfile(ctx, t)
		if err != nil {
			return nil, err
		}
		configs = append(configs, loaded...)
	}
	return configs, nil
}

func (l *Loader) loadProfile(ctx context.Context, t TenantEntry) ([]domain.ChannelConfig, error) {
	root := filepath.Join(l.dir, t.Name, t.Profile, "channels")
	protocolDirs, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		l.logger.InfoContext(ctx, "no channels configured", "tenant", t.Name, "profile", t.Profile)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", root, err)
	}

	var configs []domain.ChannelConfig
	for _, pd := range protocolDirs {
		if !pd.IsDir() {
			continue
		}
		files, err := channelFiles(filepath.Join(root, pd.Name()))
		if err != nil {
			return nil, err
		}
		for _, path := range files {
			cfg, err := ParseFile(path, pd.Name())
			if err != nil {
				l.logger.ErrorContext(ctx, "invalid channel file", "path", path, "error", err)
				continue
			}
			cfg.Tenant = t.Name
			cfg.Profile = t.Profile
			configs = append(configs, cfg)
		}
	}
	return configs, nil
}

func channelFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yml" && ext != ".yaml") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// ParseFile reads one channel file. protocol is used when the file does
// not name one; the file name stem is used when it has no name.
func ParseFile(path, protocol string) (domain.ChannelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.ChannelConfig{}, fmt.Errorf("reading channel file: %w", err)
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Parse(data, stem, protocol)
}

// Parse decodes a channel document.
func Parse(data []byte, defaultName, defaultProtocol string) (domain.ChannelConfig, error) {
	var doc channelDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return domain.ChannelConfig{}, fmt.Errorf("parsing channel document: %w", err)
	}
	if doc.Channel == nil {
		return domain.ChannelConfig{}, errors.New("missing channel section")
	}

	var sec channelSection
	if err := mapstructure.WeakDecode(doc.Channel, &sec); err != nil {
		return domain.ChannelConfig{}, fmt.Errorf("decoding channel section: %w", err)
	}

	if sec.Protocol == "" {
		sec.Protocol = defaultProtocol
	}
	protocol, err := domain.ParseChannelProtocol(sec.Protocol)
	if err != nil {
		return domain.ChannelConfig{}, err
	}
	var mode domain.ChannelMode
	if sec.Mode != "" {
		if mode, err = domain.ParseChannelMode(sec.Mode); err != nil {
			return domain.ChannelConfig{}, err
		}
	}
	if sec.Name == "" {
		sec.Name = defaultName
	}

	cfg := domain.NewChannelConfig(sec.Name, mode, protocol)
	if sec.Enabled != nil {
		cfg.Enabled = *sec.Enabled
	}
	cfg.PipelineName = sec.Pipeline.Name
	if sec.Pipeline.Async != nil {
		cfg.Async = *sec.Pipeline.Async
	}
	for k, v := range sec.Listener {
		cfg.Connection[k] = v
	}
	for k, v := range sec.Connection {
		cfg.Connection[k] = v
	}
	for k, v := range sec.Rest {
		cfg.ProtocolSpecific[k] = v
	}
	return cfg, nil
}
