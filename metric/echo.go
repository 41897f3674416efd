package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EchoMetrics holds pipeline and replicator counters labeled by party.
// A nil *EchoMetrics is valid and records nothing.
type EchoMetrics struct {
	applied  *prometheus.CounterVec
	skipped  *prometheus.CounterVec
	buffered *prometheus.CounterVec
	dropped  *prometheus.CounterVec
	rejected *prometheus.CounterVec
	sent     *prometheus.CounterVec
	received *prometheus.CounterVec
}

func newEchoMetrics(reg prometheus.Registerer) (*EchoMetrics, error) {
	newVec := func(subsystem, name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "echo",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, []string{"party"})
	}
	em := &EchoMetrics{
		applied:  newVec("pipeline", "applied_total", "blocks applied to the model runtime"),
		skipped:  newVec("pipeline", "skipped_total", "corrupt blocks skipped"),
		buffered: newVec("pipeline", "buffered_total", "blocks buffered for an unadmitted feed"),
		dropped:  newVec("pipeline", "dropped_total", "buffered blocks dropped by eviction"),
		rejected: newVec("pipeline", "rejected_total", "replicated blocks with a missing or invalid signature"),
		sent:     newVec("replicator", "blocks_sent_total", "blocks sent to peers"),
		received: newVec("replicator", "blocks_received_total", "blocks received from peers"),
	}
	for _, c := range []prometheus.Collector{em.applied, em.skipped, em.buffered, em.dropped, em.rejected, em.sent, em.received} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return em, nil
}

func (em *EchoMetrics) Applied(party string) {
	if em != nil {
		em.applied.WithLabelValues(party).Inc()
	}
}

func (em *EchoMetrics) Skipped(party string) {
	if em != nil {
		em.skipped.WithLabelValues(party).Inc()
	}
}

func (em *EchoMetrics) Buffered(party string) {
	if em != nil {
		em.buffered.WithLabelValues(party).Inc()
	}
}

func (em *EchoMetrics) Dropped(party string, n int) {
	if em != nil && n > 0 {
		em.dropped.WithLabelValues(party).Add(float64(n))
	}
}

func (em *EchoMetrics) Rejected(party string) {
	if em != nil {
		em.rejected.WithLabelValues(party).Inc()
	}
}

func (em *EchoMetrics) BlockSent(party string) {
	if em != nil {
		em.sent.WithLabelValues(party).Inc()
	}
}

func (em *EchoMetrics) BlockReceived(party string) {
	if em != nil {
		em.received.WithLabelValues(party).Inc()
	}
}
