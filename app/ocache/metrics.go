package ocache

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	lookupHit    = "hit"
	lookupMiss   = "miss"
	lookupFailed = "failed"
)

// WithMetrics exports the cache as <prefix>_lookups_total, <prefix>_closed_total and <prefix>_open.
// A nil registry disables metrics.
func WithMetrics(reg *prometheus.Registry, prefix string) Option {
	if reg == nil {
		return nil
	}
	return func(cache *oCache) {
		m := &metrics{
			lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: prefix + "_lookups_total",
				Help: "cache lookups by result",
			}, []string{"result"}),
			closed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_closed_total",
				Help: "objects closed and removed from the cache",
			}),
			open: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: prefix + "_open",
				Help: "objects held by the cache",
			}, func() float64 {
				return float64(cache.Len())
			}),
		}
		reg.MustRegister(m.lookups, m.closed, m.open)
		cache.metrics = m
	}
}

type metrics struct {
	lookups *prometheus.CounterVec
	closed  prometheus.Counter
	open    prometheus.GaugeFunc
}

func (m *metrics) lookup(result string) {
	if m != nil {
		m.lookups.WithLabelValues(result).Inc()
	}
}

func (m *metrics) close() {
	if m != nil {
		m.closed.Inc()
	}
}
