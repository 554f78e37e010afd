// Package metrics exposes prometheus collectors for the event stream client.
// A nil *Collectors is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nodestream"

// Connect attempt results
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Collectors groups the client's metrics.
type Collectors struct {
	eventsReceived     *prometheus.CounterVec
	handlerInvocations *prometheus.CounterVec
	handlerPanics      *prometheus.CounterVec
	decodeErrors       prometheus.Counter
	connectAttempts    *prometheus.CounterVec
	connectionLosses   *prometheus.CounterVec
	connected          prometheus.Gauge
	handlers           prometheus.Gauge
	backoffDelay       prometheus.Histogram
}

// New registers the collectors with reg. A nil reg falls back to the default
// registerer.
func New(reg prometheus.Registerer) *Collectors {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collectors{
		eventsReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "events_received_total",
				Help:      "Events decoded from the node event stream",
			},
			[]string{"event_type"},
		),
		handlerInvocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "handlers",
				Name:      "invocations_total",
				Help:      "Handler invocations by event type",
			},
			[]string{"event_type"},
		),
		handlerPanics: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "handlers",
				Name:      "panics_total",
				Help:      "Handler invocations that panicked",
			},
			[]string{"event_type"},
		),
		decodeErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "decode_errors_total",
				Help:      "Stream messages that could not be decoded",
			},
		),
		connectAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "connect_attempts_total",
				Help:      "Connection attempts by result",
			},
			[]string{"result"},
		),
		connectionLosses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "connection_losses_total",
				Help:      "Established connections that ended, by reason",
			},
			[]string{"reason"},
		),
		connected: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "connected",
				Help:      "1 while the event stream is connected",
			},
		),
		handlers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "handlers",
				Name:      "registered",
				Help:      "Currently registered handlers",
			},
		),
		backoffDelay: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "supervisor",
				Name:      "backoff_delay_seconds",
				Help:      "Delay applied before reconnect attempts",
				Buckets:   []float64{0.5, 1, 2, 4, 8, 16, 32, 64, 128},
			},
		),
	}
}

func (c *Collectors) EventReceived(eventType string) {
	if c == nil {
		return
	}
	c.eventsReceived.WithLabelValues(eventType).Inc()
}

func (c *Collectors) HandlersInvoked(eventType string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.handlerInvocations.WithLabelValues(eventType).Add(float64(n))
}

func (c *Collectors) HandlerPanicked(eventType string) {
	if c == nil {
		return
	}
	c.handlerPanics.WithLabelValues(eventType).Inc()
}

func (c *Collectors) DecodeError() {
	if c == nil {
		return
	}
	c.decodeErrors.Inc()
}

func (c *Collectors) ConnectAttempt(result string) {
	if c == nil {
		return
	}
	c.connectAttempts.WithLabelValues(result).Inc()
}

func (c *Collectors) ConnectionLost(reason string) {
	if c == nil {
		return
	}
	c.connectionLosses.WithLabelValues(reason).Inc()
}

func (c *Collectors) SetConnected(connected bool) {
	if c == nil {
		return
	}
	if connected {
		c.connected.Set(1)
	} else {
		c.connected.Set(0)
	}
}

func (c *Collectors) SetHandlers(n int) {
	if c == nil {
		return
	}
	c.handlers.Set(float64(n))
}

func (c *Collectors) ObserveBackoff(d time.Duration) {
	if c == nil {
		return
	}
	c.backoffDelay.Observe(d.Seconds())
}
