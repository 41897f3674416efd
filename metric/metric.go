package metric

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"storj.io/drpc"

	"github.com/dxos/dxos-sub075/app"
	"github.com/dxos/dxos-sub075/app/logger"
)

const CName = "common.metric"

var log = logger.NewNamed(CName)

func New() Metric {
	return new(metric)
}

type Config struct {
	Addr string `yaml:"addr"`
}

type configSource interface {
	GetMetric() Config
}

type Metric interface {
	Registry() *prometheus.Registry
	WrapDRPCHandler(h drpc.Handler) drpc.Handler
	RequestLog(ctx context.Context, fields ...zap.Field)
	Echo() *EchoMetrics
	RegisterStat(s Stat)
	app.ComponentRunnable
}

type metric struct {
	registry *prometheus.Registry
	rpcLog   logger.CtxLogger
	config   Config
	echo     *EchoMetrics
	drpc     *drpcMetrics
	server   *http.Server

	mx    sync.Mutex
	stats []Stat
}

func (m *metric) Init(a *app.App) (err error) {
	m.registry = prometheus.NewRegistry()
	m.config = a.MustComponent("config").(configSource).GetMetric()
	m.rpcLog = logger.NewNamed("rpcLog")
	if m.echo, err = newEchoMetrics(m.registry); err != nil {
		return
	}
	if m.drpc, err = newDRPCMetrics(m.registry); err != nil {
		return
	}
	if err = m.registry.Register(newVersionGauge(a)); err != nil {
		return
	}
	return m.registerStatGauges()
}

func (m *metric) Name() string {
	return CName
}

func (m *metric) Run(ctx context.Context) (err error) {
	if err = m.registry.Register(collectors.NewBuildInfoCollector()); err != nil {
		return err
	}
	if err = m.registry.Register(collectors.NewGoCollector()); err != nil {
		return err
	}
	if m.config.Addr == "" {
		return
	}
	lis, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	m.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if serr := m.server.Serve(lis); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			log.Warn("metric server stopped", zap.Error(serr))
		}
	}()
	log.Info("metric server started", zap.String("addr", lis.Addr().String()))
	return
}

func (m *metric) Registry() *prometheus.Registry {
	return m.registry
}

func (m *metric) Echo() *EchoMetrics {
	if m == nil {
		return nil
	}
	return m.echo
}

func (m *metric) WrapDRPCHandler(h drpc.Handler) drpc.Handler {
	if m == nil || m.drpc == nil {
		return h
	}
	return instrumentedHandler{Handler: h, m: m.drpc}
}

func (m *metric) Close(ctx context.Context) (err error) {
	if m.server != nil {
		return m.server.Shutdown(ctx)
	}
	return
}
