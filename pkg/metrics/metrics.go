// Package metrics exposes Prometheus collectors for the connection manager.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "zkclient"

type Collector struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	state           prometheus.Gauge
	connectAttempts *prometheus.CounterVec
	watchEvents     *prometheus.CounterVec
	protocolErrors  *prometheus.CounterVec
	pending         prometheus.Gauge
	bytesIn         prometheus.Counter
	bytesOut        prometheus.Counter
}

func New() *Collector {
	return &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "total",
			Help:      "Requests completed, by op code and result code.",
		}, []string{"op", "result"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "duration_seconds",
			Help:      "Time from submit to response, by op code.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 15),
		}, []string{"op"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Current connection manager state.",
		}),
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Connection attempts, by server and outcome.",
		}, []string{"server", "outcome"}),
		watchEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watch_events_total",
			Help:      "Watch notifications received, by event type.",
		}, []string{"type"}),
		protocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Protocol violations that tore down a connection.",
		}, []string{"reason"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "Requests written and awaiting a response.",
		}),
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "received_bytes_total",
			Help:      "Bytes read from servers.",
		}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sent_bytes_total",
			Help:      "Bytes written to servers.",
		}),
	}
}

// Register adds every collector to reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{
		c.requests,
		c.requestDuration,
		c.state,
		c.connectAttempts,
		c.watchEvents,
		c.protocolErrors,
		c.pending,
		c.bytesIn,
		c.bytesOut,
	} {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) ObserveRequest(op, result string, d time.Duration) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(op, result).Inc()
	c.requestDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (c *Collector) SetState(state int) {
	if c == nil {
		return
	}
	c.state.Set(float64(state))
}

func (c *Collector) ConnectAttempt(server, outcome string) {
	if c == nil {
		return
	}
	c.connectAttempts.WithLabelValues(server, outcome).Inc()
}

func (c *Collector) WatchEvent(eventType string) {
	if c == nil {
		return
	}
	c.watchEvents.WithLabelValues(eventType).Inc()
}

func (c *Collector) ProtocolError(reason string) {
	if c == nil {
		return
	}
	c.protocolErrors.WithLabelValues(reason).Inc()
}

func (c *Collector) SetPending(n int) {
	if c == nil {
		return
	}
	c.pending.Set(float64(n))
}

func (c *Collector) BytesIn(n int) {
	if c == nil {
		return
	}
	c.bytesIn.Add(float64(n))
}

func (c *Collector) BytesOut(n int) {
	if c == nil {
		return
	}
	c.bytesOut.Add(float64(n))
}
