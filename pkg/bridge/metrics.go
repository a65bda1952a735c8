package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	togglesTotal        prometheus.Counter
	toggleFailuresTotal prometheus.Counter
	reconnectsTotal     prometheus.Counter
	malformedLinesTotal prometheus.Counter
	linkState           prometheus.Gauge
	heartbeatAge        prometheus.Gauge
	configuredKeys      prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		togglesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "keybow",
			Name:      "toggles_total",
			Help:      "Key presses dispatched to Home Assistant",
		}),
		toggleFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "keybow",
			Name:      "toggle_failures_total",
			Help:      "Key presses that did not result in a successful toggle",
		}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "keybow",
			Name:      "reconnects_total",
			Help:      "Times the serial session was torn down and reestablished",
		}),
		malformedLinesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "keybow",
			Name:      "malformed_lines_total",
			Help:      "Received lines that did not match the wire protocol",
		}),
		linkState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "keybow",
			Name:      "link_state",
			Help:      "Serial link state (0 disconnected, 1 connecting, 2 connected, 3 degraded)",
		}),
		heartbeatAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "keybow",
			Name:      "heartbeat_age_seconds",
			Help:      "Time since the last liveness signal from the device",
		}),
		configuredKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "keybow",
			Name:      "configured_keys",
			Help:      "Number of key bindings in the active configuration",
		}),
	}

	reg.MustRegister(
		m.togglesTotal,
		m.toggleFailuresTotal,
		m.reconnectsTotal,
		m.malformedLinesTotal,
		m.linkState,
		m.heartbeatAge,
		m.configuredKeys,
	)

	return m
}
