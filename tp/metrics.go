package tp

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	directionRx = "rx"
	directionTx = "tx"
)

// Metrics holds the transport counters of one or more interfaces.
type Metrics struct {
	framesDropped    *prometheus.CounterVec
	messages         *prometheus.CounterVec
	aborted          *prometheus.CounterVec
	activeChannels   *prometheus.GaugeVec
	transferDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg (skipped when reg is nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docan",
				Subsystem: "transport",
				Name:      "frames_dropped_total",
				Help:      "Received frames not consumed by any channel.",
			},
			[]string{"interface", "reason"},
		),
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docan",
				Subsystem: "transport",
				Name:      "messages_total",
				Help:      "Messages transferred successfully.",
			},
			[]string{"interface", "direction"},
		),
		aborted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docan",
				Subsystem: "transport",
				Name:      "transfers_aborted_total",
				Help:      "Transfers that ended without success.",
			},
			[]string{"interface", "direction", "outcome"},
		),
		activeChannels: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "docan",
				Subsystem: "transport",
				Name:      "active_channels",
				Help:      "Channels currently allocated.",
			},
			[]string{"interface", "direction"},
		),
		transferDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "docan",
				Subsystem: "transport",
				Name:      "transfer_duration_seconds",
				Help:      "Duration of completed transmissions.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"interface", "outcome"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.framesDropped, m.messages, m.aborted, m.activeChannels, m.transferDuration)
	}
	return m
}

func (m *Metrics) dropped(iface, reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(iface, reason).Inc()
}

func (m *Metrics) finished(iface, direction string, o Outcome) {
	if m == nil {
		return
	}
	if o == Success {
		m.messages.WithLabelValues(iface, direction).Inc()
		return
	}
	m.aborted.WithLabelValues(iface, direction, o.String()).Inc()
}

func (m *Metrics) transferred(iface string, o Outcome, d time.Duration) {
	if m == nil {
		return
	}
	m.transferDuration.WithLabelValues(iface, o.String()).Observe(d.Seconds())
}

func (m *Metrics) channels(iface, direction string, n int) {
	if m == nil {
		return
	}
	m.activeChannels.WithLabelValues(iface, direction).Set(float64(n))
}
