// Package idtokenprom exports idtoken validation and key refresh counters
// to Prometheus.
package idtokenprom

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics implements idtoken.MetricsCollector.
type Metrics struct {
	validations *prometheus.CounterVec
	refreshes   *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "idtoken",
			Name:      "validations_total",
			Help:      "ID token checks by result and rejection reason.",
		}, []string{"result", "reason"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "idtoken",
			Name:      "key_refreshes_total",
			Help:      "Signing key fetches by result.",
		}, []string{"result"}),
	}
	for _, c := range []prometheus.Collector{m.validations, m.refreshes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ValidationOK() {
	m.validations.WithLabelValues("ok", "").Inc()
}

func (m *Metrics) ValidationFailed(reason string) {
	m.validations.WithLabelValues("rejected", reason).Inc()
}

func (m *Metrics) KeyRefresh(ok bool) {
	result := "error"
	if ok {
		result = "ok"
	}
	m.refreshes.WithLabelValues(result).Inc()
}
