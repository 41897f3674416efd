package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Stat is implemented by components that expose point-in-time gauges
type Stat interface {
	EchoStat() StatState
}

type StatState struct {
	OpenParties   uint32
	PendingBlocks uint64
	TotalMessages uint64
}

func (st *StatState) Append(other StatState) {
	st.OpenParties += other.OpenParties
	st.PendingBlocks += other.PendingBlocks
	st.TotalMessages += other.TotalMessages
}

func (m *metric) RegisterStat(s Stat) {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.stats = append(m.stats, s)
}

func (m *metric) collectStats() (state StatState) {
	m.mx.Lock()
	stats := append([]Stat(nil), m.stats...)
	m.mx.Unlock()
	for _, s := range stats {
		state.Append(s.EchoStat())
	}
	return
}

func (m *metric) registerStatGauges() error {
	gaugeFuncs := []prometheus.GaugeFunc{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "echo",
			Subsystem: "party",
			Name:      "open",
			Help:      "open parties",
		}, func() float64 {
			return float64(m.collectStats().OpenParties)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "echo",
			Subsystem: "pipeline",
			Name:      "pending_blocks",
			Help:      "blocks waiting for feed admission",
		}, func() float64 {
			return float64(m.collectStats().PendingBlocks)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "echo",
			Subsystem: "pipeline",
			Name:      "total_messages",
			Help:      "sum of applied timeframes",
		}, func() float64 {
			return float64(m.collectStats().TotalMessages)
		}),
	}
	for _, gf := range gaugeFuncs {
		if err := m.registry.Register(gf); err != nil {
			return err
		}
	}
	return nil
}
