package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/neomorfeo/routesphere/internal/adapter/fsm"
	adapter "github.com/neomorfeo/routesphere/internal/adapter/http"
	"github.com/neomorfeo/routesphere/internal/adapter/sqlite"
	"github.com/neomorfeo/routesphere/internal/app"
	"github.com/neomorfeo/routesphere/internal/channel"
	"github.com/neomorfeo/routesphere/internal/domain"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// noopPublisher is a no-op EventPublisher for tests.
type noopPublisher struct{}

func (p *noopPublisher) Publish(_ context.Context, _ domain.Event, _ domain.Tenant) error {
	return nil
}

// stubChannels is a fixed ChannelAdmin.
type stubChannels struct {
	channels []channel.Channel
	reloads  int
}

func (s *stubChannels) Channels() []channel.Channel { return s.channels }

func (s *stubChannels) Channel(tenant, name string) (channel.Channel, error) {
	for _, ch := range s.channels {
		if ch.Tenant() == tenant && ch.Name() == name {
			return ch, nil
		}
	}
	return nil, fmt.Errorf("channel %s/%s: %w", tenant, name, domain.ErrChannelNotFound)
}

func (s *stubChannels) StatusReport() channel.StatusReport {
	return channel.StatusReport{TotalChannels: len(s.channels)}
}

func (s *stubChannels) Reload(_ context.Context) error {
	s.reloads++
	return nil
}

type idleListener struct{}

func (idleListener) Start(context.Context, string, channel.EventSink) error { return nil }
func (idleListener) Stop(context.Context) error                             { return nil }

type testEnv struct {
	srv      *httptest.Server
	channels *stubChannels
}

// newTestServer creates a full-stack httptest.Server with SQLite in-memory.
func newTestServer(t *testing.T) testEnv {
	t.Helper()

	repo, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("creating test repo: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	svc := app.NewTenantService(domain.NewHierarchy(), repo, &noopPublisher{}, fsm.NewTenantValidator(), discard)
	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	router := app.NewRouter(svc.Hierarchy(), discard)
	router.Start()

	cfg := domain.NewChannelConfig("api", domain.ModeServer, domain.ChannelHTTP)
	cfg.Tenant = "root"
	cfg.PipelineName = "inbound"
	ch, err := channel.NewServer(cfg, channel.Deps{Logger: discard}, idleListener{})
	if err != nil {
		t.Fatalf("creating channel: %v", err)
	}
	channels := &stubChannels{channels: []channel.Channel{ch}}

	mux := chi.NewMux()
	api := humachi.New(mux, huma.DefaultConfig("routesphere", "0.1.0"))
	adapter.Register(api, svc)
	adapter.RegisterChannels(api, channels)
	adapter.RegisterRouting(api, router)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return testEnv{srv: srv, channels: channels}
}

// doRequest performs an HTTP request with context (avoids noctx linter).
func doRequest(t *testing.T, method, url, body string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, reader)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}

	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

// mustCreateTenant creates a tenant via the API and returns its response.
func mustCreateTenant(t *testing.T, srv *httptest.Server, id, level, parent string) adapter.TenantResponse {
	t.Helper()

	body := fmt.Sprintf(`{"id":%q,"name":%q,"level":%q,"parentId":%q}`, id, strings.ToUpper(id), level, parent)
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/tenants", body)
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("create tenant: status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	return decode[adapter.TenantResponse](t, resp)
}

func mustActivate(t *testing.T, srv *httptest.Server, id string) {
	t.Helper()
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/tenants/"+id+"/events", `{"event":"activate"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("activate %s: status = %d", id, resp.StatusCode)
	}
}

// --- Tenants ---

func TestCreate(t *testing.T) {
	env := newTestServer(t)
	tenant := mustCreateTenant(t, env.srv, "acme", "RESELLER_L1", "root")

	if tenant.ID != "acme" {
		t.Errorf("ID = %q, want %q", tenant.ID, "acme")
	}
	if tenant.Level != "RESELLER_L1" {
		t.Errorf("Level = %q, want %q", tenant.Level, "RESELLER_L1")
	}
	if tenant.ParentID != "root" {
		t.Errorf("ParentID = %q, want %q", tenant.ParentID, "root")
	}
	if tenant.Status != "PENDING" {
		t.Errorf("Status = %q, want %q", tenant.Status, "PENDING")
	}
}

func TestCreate_Conflicts(t *testing.T) {
	env := newTestServer(t)
	mustCreateTenant(t, env.srv, "acme", "RESELLER_L1", "root")

	tests := []struct {
		name string
		body string
		want int
	}{
		{"duplicate id", `{"id":"acme","name":"x","level":"RESELLER_L1","parentId":"root"}`, http.StatusConflict},
		{"unknown parent", `{"id":"x","name":"x","level":"END_USER","parentId":"ghost"}`, http.StatusUnprocessableEntity},
		{"parent not above", `{"id":"x","name":"x","level":"ROOT","parentId":"acme"}`, http.StatusUnprocessableEntity},
		{"bad level", `{"id":"x","name":"x","level":"EMPEROR","parentId":"root"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, http.MethodPost, env.srv.URL+"/api/v1/tenants", tt.body)
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestGet_NotFound(t *testing.T) {
	env := newTestServer(t)

	resp := doRequest(t, http.MethodGet, env.srv.URL+"/api/v1/tenants/ghost", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestHierarchyQueries(t *testing.T) {
	env := newTestServer(t)
	mustCreateTenant(t, env.srv, "acme", "RESELLER_L1", "root")
	mustCreateTenant(t, env.srv, "alice", "END_USER", "acme")

	path := decode[[]adapter.TenantResponse](t, doRequest(t, http.MethodGet, env.srv.URL+"/api/v1/tenants/alice/path", ""))
	if len(path) != 3 || path[0].ID != "root" || path[2].ID != "alice" {
		t.Errorf("path = %+v, want root..alice", path)
	}

	ancestors := decode[[]adapter.TenantResponse](t, doRequest(t, http.MethodGet, env.srv.URL+"/api/v1/tenants/alice/ancestors", ""))
	if len(ancestors) != 2 || ancestors[0].ID != "acme" {
		t.Errorf("ancestors = %+v, want [acme root]", ancestors)
	}

	descendants := decode[[]adapter.TenantResponse](t, doRequest(t, http.MethodGet, env.srv.URL+"/api/v1/tenants/root/descendants", ""))
	if len(descendants) != 2 {
		t.Errorf("descendants = %d, want 2", len(descendants))
	}

	endUsers := decode[[]adapter.TenantResponse](t, doRequest(t, http.MethodGet, env.srv.URL+"/api/v1/tenants/level/END_USER", ""))
	if len(endUsers) != 1 || endUsers[0].ID != "alice" {
		t.Errorf("END_USER = %+v, want [alice]", endUsers)
	}

	stats := decode[struct {
		Total    int            `json:"total"`
		ByStatus map[string]int `json:"byStatus"`
	}](t, doRequest(t, http.MethodGet, env.srv.URL+"/api/v1/tenants/stats", ""))
	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.ByStatus["PENDING"] != 2 {
		t.Errorf("PENDING = %d, want 2", stats.ByStatus["PENDING"])
	}

	tree := decode[[]adapter.TreeNode](t, doRequest(t, http.MethodGet, env.srv.URL+"/api/v1/tenants/tree", ""))
	if len(tree) != 3 {
		t.Fatalf("tree = %d nodes, want 3", len(tree))
	}
	if tree[2].ID != "alice" || tree[2].Depth != 2 {
		t.Errorf("tree[2] = %s at depth %d, want alice at depth 2", tree[2].ID, tree[2].Depth)
	}

	resp := doRequest(t, http.MethodGet, env.srv.URL+"/api/v1/tenants/ghost/ancestors", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("ghost ancestors status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestTransition(t *testing.T) {
	env := newTestServer(t)
	mustCreateTenant(t, env.srv, "acme", "RESELLER_L1", "root")
	mustActivate(t, env.srv, "acme")

	resp := doRequest(t, http.MethodPost, env.srv.URL+"/api/v1/tenants/acme/events", `{"event":"suspend"}`)
	tenant := decode[adapter.TenantResponse](t, resp)
	if tenant.Status != "SUSPENDED" {
		t.Errorf("Status = %q, want %q", tenant.Status, "SUSPENDED")
	}

	// Can't activate a suspended tenant; it must be reactivated.
	resp = doRequest(t, http.MethodPost, env.srv.URL+"/api/v1/tenants/acme/events", `{"event":"activate"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestRemove(t *testing.T) {
	env := newTestServer(t)
	mustCreateTenant(t, env.srv, "acme", "RESELLER_L1", "root")
	mustCreateTenant(t, env.srv, "alice", "END_USER", "acme")

	removed := decode[[]adapter.TenantResponse](t, doRequest(t, http.MethodDelete, env.srv.URL+"/api/v1/tenants/acme", ""))
	if len(removed) != 2 || removed[0].ID != "acme" || removed[1].ID != "alice" {
		t.Errorf("removed = %+v, want [acme alice]", removed)
	}

	resp := doRequest(t, http.MethodGet, env.srv.URL+"/api/v1/tenants/alice", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("alice status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}

	resp = doRequest(t, http.MethodDelete, env.srv.URL+"/api/v1/tenants/root", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("root status = %d, want %d", resp.StatusCode, http.StatusUnprocessableEntity)
	}

	resp = doRequest(t, http.MethodDelete, env.srv.URL+"/api/v1/tenants/ghost", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("ghost status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

// --- Channels ---

func TestChannels(t *testing.T) {
	env := newTestServer(t)

	list := decode[[]adapter.ChannelResponse](t, doRequest(t, http.MethodGet, env.srv.URL+"/api/v1/channels?tenant=root", ""))
	if len(list) != 1 {
		t.Fatalf("channels = %d, want 1", len(list))
	}
	if list[0].Status != "STOPPED" || list[0].Pipeline != "inbound" {
		t.Errorf("channel = %+v", list[0])
	}

	other := decode[[]adapter.ChannelResponse](t, doRequest(t, http.MethodGet, env.srv.URL+"/api/v1/channels?tenant=acme", ""))
	if len(other) != 0 {
		t.Errorf("acme channels = %d, want 0", len(other))
	}

	resp := doRequest(t, http.MethodGet, env.srv.URL+"/api/v1/channels/root/missing", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}

	report := decode[channel.StatusReport](t, doRequest(t, http.MethodPost, env.srv.URL+"/api/v1/channels/reload", ""))
	if report.TotalChannels != 1 {
		t.Errorf("TotalChannels = %d, want 1", report.TotalChannels)
	}
	if env.channels.reloads != 1 {
		t.Errorf("reloads = %d, want 1", env.channels.reloads)
	}
}

// --- Routing ---

func TestRoute(t *testing.T) {
	env := newTestServer(t)
	mustCreateTenant(t, env.srv, "acme", "RESELLER_L1", "root")
	mustCreateTenant(t, env.srv, "alice", "END_USER", "acme")

	// alice is still PENDING.
	body := `{"protocol":"sms","tenantId":"alice","destination":"+15550100"}`
	out := decode[adapter.RouteResponse](t, doRequest(t, http.MethodPost, env.srv.URL+"/api/v1/route", body))
	if out.Type != "REJECTED" || out.StatusCode != http.StatusForbidden {
		t.Errorf("pending tenant: type = %q status = %d, want REJECTED/403", out.Type, out.StatusCode)
	}

	mustActivate(t, env.srv, "acme")
	mustActivate(t, env.srv, "alice")

	out = decode[adapter.RouteResponse](t, doRequest(t, http.MethodPost, env.srv.URL+"/api/v1/route", body))
	if out.Type != "ROUTE" {
		t.Errorf("Type = %q, want ROUTE", out.Type)
	}
	if out.Headers["X-Route-Destination"] != "+15550100" {
		t.Errorf("X-Route-Destination = %q", out.Headers["X-Route-Destination"])
	}
	if out.RequestID == "" {
		t.Error("RequestID should not be empty")
	}

	resp := doRequest(t, http.MethodPost, env.srv.URL+"/api/v1/route", `{"protocol":"gopher"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("unknown protocol status = %d, want %d", resp.StatusCode, http.StatusUnprocessableEntity)
	}
}
