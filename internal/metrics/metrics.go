// Package metrics exposes gateway and coordinator activity to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dokzlo13/fideliod/internal/fidelio"
	"github.com/dokzlo13/fideliod/internal/speaker"
)

// Result labels
const (
	ResultOK            = "ok"
	ResultTransport     = "transport_error"
	ResultProtocol      = "protocol_error"
	ResultRange         = "range_error"
	ResultConfiguration = "configuration_error"
	ResultError         = "error"
)

// Collector holds every fideliod metric.
type Collector struct {
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	applies         *prometheus.CounterVec
	power           *prometheus.GaugeVec
	volume          *prometheus.GaugeVec
	channel         *prometheus.GaugeVec
	pending         *prometheus.GaugeVec
}

func NewCollector() *Collector {
	return &Collector{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fideliod_commands_total",
			Help: "Commands sent to speakers by command kind and result",
		}, []string{"speaker", "command", "result"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fideliod_command_duration_seconds",
			Help:    "Round trip time of speaker commands",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"speaker", "command"}),
		applies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fideliod_apply_total",
			Help: "Desired state mutations by triggering source and result",
		}, []string{"speaker", "source", "result"}),
		power: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fideliod_power",
			Help: "Cached power state (1=on, 0=standby)",
		}, []string{"speaker"}),
		volume: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fideliod_volume_percent",
			Help: "Cached volume in percent",
		}, []string{"speaker"}),
		channel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fideliod_channel",
			Help: "Cached 1-based channel index",
		}, []string{"speaker"}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fideliod_pending",
			Help: "1 if a facet has a deferred write waiting for power-on",
		}, []string{"speaker", "facet"}),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.commands.Describe(ch)
	c.commandDuration.Describe(ch)
	c.applies.Describe(ch)
	c.power.Describe(ch)
	c.volume.Describe(ch)
	c.channel.Describe(ch)
	c.pending.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.commands.Collect(ch)
	c.commandDuration.Collect(ch)
	c.applies.Collect(ch)
	c.power.Collect(ch)
	c.volume.Collect(ch)
	c.channel.Collect(ch)
	c.pending.Collect(ch)
}

// ApplyCompleted counts the apply and refreshes the state gauges.
func (c *Collector) ApplyCompleted(r speaker.Report) {
	c.applies.WithLabelValues(r.Speaker, r.Source, Result(r.Err)).Inc()
	c.ObserveState(r.Speaker, r.State)
}

// ObserveState sets the state gauges from a snapshot.
func (c *Collector) ObserveState(name string, s speaker.Snapshot) {
	c.power.WithLabelValues(name).Set(boolValue(s.Power))
	c.volume.WithLabelValues(name).Set(float64(s.Volume))
	c.channel.WithLabelValues(name).Set(float64(s.Channel))
	c.pending.WithLabelValues(name, "volume").Set(boolValue(s.VolumePending))
	c.pending.WithLabelValues(name, "channel").Set(boolValue(s.ChannelPending))
}

// Instrument wraps a gateway so every command is counted and timed.
func (c *Collector) Instrument(name string, next speaker.Gateway) speaker.Gateway {
	return &instrumentedGateway{name: name, next: next, c: c}
}

type instrumentedGateway struct {
	name string
	next speaker.Gateway
	c    *Collector
}

func (g *instrumentedGateway) Send(ctx context.Context, cmd fidelio.Command) ([]byte, error) {
	start := time.Now()
	body, err := g.next.Send(ctx, cmd)

	kind := cmd.Kind()
	g.c.commandDuration.WithLabelValues(g.name, kind).Observe(time.Since(start).Seconds())
	g.c.commands.WithLabelValues(g.name, kind, Result(err)).Inc()
	return body, err
}

// Result maps an error to a low-cardinality label.
func Result(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, fidelio.ErrTransport):
		return ResultTransport
	case errors.Is(err, fidelio.ErrProtocol):
		return ResultProtocol
	case errors.Is(err, speaker.ErrRange):
		return ResultRange
	case errors.Is(err, speaker.ErrConfiguration):
		return ResultConfiguration
	}
	return ResultError
}

// Registry builds a registry with the collector and the Go runtime collectors.
func Registry(c *Collector) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(c)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}

// Handler exposes the registry.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
