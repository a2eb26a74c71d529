package prom_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neomorfeo/routesphere/internal/adapter/prom"
	"github.com/neomorfeo/routesphere/internal/channel"
	"github.com/neomorfeo/routesphere/internal/domain"
)

type stubChannel struct {
	channel.Channel
	name, tenant string
	protocol     domain.ChannelProtocol
	status       domain.ChannelStatus
}

func (s stubChannel) Name() string                     { return s.name }
func (s stubChannel) Tenant() string                   { return s.tenant }
func (s stubChannel) Protocol() domain.ChannelProtocol { return s.protocol }
func (s stubChannel) Status() domain.ChannelStatus     { return s.status }

type stubLister []channel.Channel

func (l stubLister) Channels() []channel.Channel { return l }

var fleet = stubLister{
	stubChannel{name: "api", tenant: "acme", protocol: domain.ChannelHTTP, status: domain.ChannelRunning},
	stubChannel{name: "edge", tenant: "acme", protocol: domain.ChannelSIP, status: domain.ChannelError},
	stubChannel{name: "web", tenant: "globex", protocol: domain.ChannelHTTP, status: domain.ChannelRunning},
}

func TestChannelCollector(t *testing.T) {
	c := prom.NewChannelCollector(fleet)

	// 4 protocols x 5 statuses, plus one up series per channel.
	assert.Equal(t, 20+3, testutil.CollectAndCount(c))

	expected := `
# HELP routesphere_channel_up Channel state, 1==RUNNING, 0 otherwise.
# TYPE routesphere_channel_up gauge
routesphere_channel_up{channel="api",protocol="http",tenant="acme"} 1
routesphere_channel_up{channel="edge",protocol="sip",tenant="acme"} 0
routesphere_channel_up{channel="web",protocol="http",tenant="globex"} 1
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "routesphere_channel_up"))
}

func TestHandlerExposesCounts(t *testing.T) {
	srv := httptest.NewServer(prom.Handler(prom.NewRegistry(fleet)))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `routesphere_channels{protocol="http",status="RUNNING"} 2`)
	assert.Contains(t, text, `routesphere_channels{protocol="sip",status="ERROR"} 1`)
	assert.Contains(t, text, `routesphere_channels{protocol="kafka",status="STOPPED"} 0`)
	assert.Contains(t, text, "go_goroutines")
}
