// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netctrl

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the Prometheus instruments exported by a Registry, collected
// the same way internal/api/server.go exposes the rest of this codebase's
// counters via promhttp: plain prometheus.Counter/Gauge values registered
// once at construction, updated inline by the mutators that change them.
// Observability is an ambient concern spec.md never mentions, carried
// regardless (no Non-goal names it).
type metrics struct {
	networks         *prometheus.GaugeVec
	defaultNetChange prometheus.Counter
	accessDenied     prometheus.Counter
	networkCreated   prometheus.Counter
	networkDestroyed prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		networks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "netctrl",
			Name:      "networks",
			Help:      "Current number of registered networks by variant.",
		}, []string{"variant"}),
		defaultNetChange: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netctrl",
			Name:      "default_network_changes_total",
			Help:      "Number of times the default network has been changed.",
		}),
		accessDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netctrl",
			Name:      "access_denied_total",
			Help:      "Number of checkUserNetworkAccess calls that denied access.",
		}),
		networkCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netctrl",
			Name:      "networks_created_total",
			Help:      "Number of networks created (physical or virtual).",
		}),
		networkDestroyed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netctrl",
			Name:      "networks_destroyed_total",
			Help:      "Number of networks destroyed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.networks, m.defaultNetChange, m.accessDenied, m.networkCreated, m.networkDestroyed)
	}
	return m
}

// refreshNetworkGauge recomputes the per-variant network count gauge.
// Callers must hold at least the read lock.
func (r *Registry) refreshNetworkGauge() {
	if r.metrics == nil {
		return
	}
	counts := map[Variant]int{}
	for _, n := range r.networks {
		counts[n.variant]++
	}
	r.metrics.networks.Reset()
	for v, c := range counts {
		r.metrics.networks.WithLabelValues(v.String()).Set(float64(c))
	}
}
