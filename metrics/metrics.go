package metrics

import (
	stderrors "errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wippyai/starbridge/errors"
	"github.com/wippyai/starbridge/resource"
)

// Direction of a boundary crossing.
type Direction string

const (
	ToGuest Direction = "to_guest"
	ToHost  Direction = "to_host"
)

// Collector counts handle lifecycle events and boundary crossings.
// A nil *Collector is valid and records nothing.
type Collector struct {
	live      prometheus.Gauge
	events    *prometheus.CounterVec
	crossings *prometheus.CounterVec
	failures  *prometheus.CounterVec
	calls     *prometheus.HistogramVec
}

var (
	_ prometheus.Collector = (*Collector)(nil)
	_ resource.Observer    = (*Collector)(nil)
)

// New creates a collector. Register it with a prometheus.Registerer and
// subscribe it to a handle table.
func New() *Collector {
	return &Collector{
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "starbridge",
			Name:      "handles_live",
			Help:      "Guest references currently held by the host",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "starbridge",
			Name:      "handle_events_total",
			Help:      "Handle lifecycle events by type",
		}, []string{"event"}),
		crossings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "starbridge",
			Name:      "crossings_total",
			Help:      "Values marshaled across the boundary by direction",
		}, []string{"direction"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "starbridge",
			Name:      "errors_total",
			Help:      "Failed boundary operations by error kind and origin",
		}, []string{"kind", "origin"}),
		calls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "starbridge",
			Name:      "call_duration_seconds",
			Help:      "Duration of guest operations started by the host",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"op"}),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.live.Describe(ch)
	c.events.Describe(ch)
	c.crossings.Describe(ch)
	c.failures.Describe(ch)
	c.calls.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.live.Collect(ch)
	c.events.Collect(ch)
	c.crossings.Collect(ch)
	c.failures.Collect(ch)
	c.calls.Collect(ch)
}

// OnResourceEvent tracks live handles.
func (c *Collector) OnResourceEvent(e resource.Event) {
	if c == nil {
		return
	}
	c.events.WithLabelValues(e.Type.String()).Inc()
	switch e.Type {
	case resource.EventAcquired:
		c.live.Inc()
	case resource.EventDropped:
		c.live.Dec()
	}
}

// Crossing counts one marshaled value.
func (c *Collector) Crossing(d Direction) {
	if c == nil {
		return
	}
	c.crossings.WithLabelValues(string(d)).Inc()
}

// Observe records the duration of op and counts err when it is not nil.
func (c *Collector) Observe(op string, start time.Time, err error) {
	if c == nil {
		return
	}
	c.calls.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err == nil {
		return
	}
	kind, origin := "unknown", string(errors.OriginHost)
	var be *errors.Error
	if stderrors.As(err, &be) {
		kind = string(be.Kind)
		if be.Origin != "" {
			origin = string(be.Origin)
		}
	}
	c.failures.WithLabelValues(kind, origin).Inc()
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
