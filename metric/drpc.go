package metric

import (
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"storj.io/drpc"
	"storj.io/drpc/drpcerr"
)

type drpcMetrics struct {
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
}

func newDRPCMetrics(reg prometheus.Registerer) (*drpcMetrics, error) {
	dm := &drpcMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "drpc",
			Subsystem: "server",
			Name:      "duration_seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"rpc"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "drpc",
			Subsystem: "server",
			Name:      "errors_total",
		}, []string{"rpc", "code"}),
	}
	for _, c := range []prometheus.Collector{dm.duration, dm.errors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return dm, nil
}

// instrumentedHandler observes every handled rpc, streams included
type instrumentedHandler struct {
	drpc.Handler
	m *drpcMetrics
}

func (h instrumentedHandler) HandleRPC(stream drpc.Stream, rpc string) (err error) {
	if !utf8.ValidString(rpc) {
		log.WarnCtx(stream.Context(), "invalid rpc string", zap.String("rpc", rpc))
		return h.Handler.HandleRPC(stream, rpc)
	}
	start := time.Now()
	err = h.Handler.HandleRPC(stream, rpc)
	h.m.duration.WithLabelValues(rpc).Observe(time.Since(start).Seconds())
	if err != nil {
		h.m.errors.WithLabelValues(rpc, strconv.FormatUint(drpcerr.Code(err), 10)).Inc()
	}
	return err
}
