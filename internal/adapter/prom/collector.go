// Package prom exposes channel state to Prometheus.
package prom

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/neomorfeo/routesphere/internal/channel"
	"github.com/neomorfeo/routesphere/internal/domain"
)

// Namespace prefixes every metric name.
const Namespace = "routesphere"

// ChannelLister is the part of channel.Manager the collector reads.
type ChannelLister interface {
	Channels() []channel.Channel
}

// ChannelCollector reports channel counts and per channel state at scrape
// time.
type ChannelCollector struct {
	channels ChannelLister
	count    *prometheus.Desc
	up       *prometheus.Desc
}

var _ prometheus.Collector = (*ChannelCollector)(nil)

// NewChannelCollector returns a collector over channels.
func NewChannelCollector(channels ChannelLister) *ChannelCollector {
	return &ChannelCollector{
		channels: channels,
		count: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "", "channels"),
			"Number of channels by protocol and status.",
			[]string{"protocol", "status"},
			nil,
		),
		up: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "channel", "up"),
			"Channel state, 1==RUNNING, 0 otherwise.",
			[]string{"tenant", "channel", "protocol"},
			nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *ChannelCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.count
	ch <- c.up
}

// Collect implements prometheus.Collector. Every protocol/status pair is
// reported, zero included, so series do not vanish between scrapes.
func (c *ChannelCollector) Collect(ch chan<- prometheus.Metric) {
	type key struct {
		protocol domain.ChannelProtocol
		status   domain.ChannelStatus
	}
	counts := make(map[key]int)
	for _, chn := range c.channels.Channels() {
		status := chn.Status()
		counts[key{chn.Protocol(), status}]++

		up := 0.0
		if status == domain.ChannelRunning {
			up = 1
		}
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, up,
			chn.Tenant(), chn.Name(), string(chn.Protocol()))
	}
	for _, p := range domain.ChannelProtocols {
		for _, s := range domain.ChannelStatuses {
			ch <- prometheus.MustNewConstMetric(c.count, prometheus.GaugeValue,
				float64(counts[key{p, s}]), string(p), string(s))
		}
	}
}

// NewRegistry returns a registry holding the channel collector and the
// standard Go and process collectors.
func NewRegistry(channels ChannelLister) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewChannelCollector(channels),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
