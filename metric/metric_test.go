package metric

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"storj.io/drpc"
	"storj.io/drpc/drpcerr"

	"github.com/dxos/dxos-sub075/app"
	"github.com/dxos/dxos-sub075/app/logger"
)

type testConfig struct{}

func (testConfig) Init(a *app.App) error { return nil }
func (testConfig) Name() string          { return "config" }
func (testConfig) GetMetric() Config     { return Config{} }

type testStat struct{ st StatState }

func (t testStat) EchoStat() StatState { return t.st }

func newFixture(t *testing.T) *metric {
	a := new(app.App)
	m := New().(*metric)
	a.Register(testConfig{}).Register(m)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		require.NoError(t, a.Close(context.Background()))
	})
	return m
}

func TestLog(t *testing.T) {
	m := &metric{rpcLog: logger.NewNamed("rpcLog")}
	m.RequestLog(context.Background(), Method("Introduce"))
}

func TestEchoMetrics(t *testing.T) {
	m := newFixture(t)
	em := m.Echo()
	em.Applied("p1")
	em.Applied("p1")
	em.Dropped("p1", 3)
	em.BlockSent("p2")
	em.Rejected("p2")
	assert.Equal(t, float64(2), gatherCounter(t, m, "echo_pipeline_applied_total"))
	assert.Equal(t, float64(3), gatherCounter(t, m, "echo_pipeline_dropped_total"))
	assert.Equal(t, float64(1), gatherCounter(t, m, "echo_replicator_blocks_sent_total"))
	assert.Equal(t, float64(1), gatherCounter(t, m, "echo_pipeline_rejected_total"))

	var nilMetrics *EchoMetrics
	assert.NotPanics(t, func() { nilMetrics.Applied("p1") })
}

func TestStat(t *testing.T) {
	m := newFixture(t)
	m.RegisterStat(testStat{StatState{OpenParties: 1, PendingBlocks: 4}})
	m.RegisterStat(testStat{StatState{OpenParties: 2, TotalMessages: 7}})
	st := m.collectStats()
	assert.Equal(t, uint32(3), st.OpenParties)
	assert.Equal(t, uint64(4), st.PendingBlocks)
	assert.Equal(t, uint64(7), st.TotalMessages)
}

type testHandler struct{ err error }

func (h testHandler) HandleRPC(stream drpc.Stream, rpc string) error { return h.err }

func TestWrapDRPCHandler(t *testing.T) {
	m := newFixture(t)
	require.NoError(t, m.WrapDRPCHandler(testHandler{}).HandleRPC(nil, "/Invitation/Authenticate"))

	denied := drpcerr.WithCode(errors.New("denied"), 100)
	err := m.WrapDRPCHandler(testHandler{err: denied}).HandleRPC(nil, "/Invitation/Authenticate")
	require.ErrorIs(t, err, denied)
	assert.Equal(t, float64(1), gatherCounter(t, m, "drpc_server_errors_total"))

	var nilMetric *metric
	h := testHandler{}
	assert.Equal(t, h, nilMetric.WrapDRPCHandler(h))
}

func gatherCounter(t *testing.T, m *metric, name string) float64 {
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var sum float64
		for _, mtr := range mf.GetMetric() {
			sum += mtr.GetCounter().GetValue()
		}
		return sum
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
