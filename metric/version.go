package metric

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dxos/dxos-sub075/app"
)

// newVersionGauge reports a constant 1 labelled with the build of the running node
func newVersionGauge(a *app.App) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "echo",
		Name:      "build_info",
		Help:      "Build information about the echo node.",
		ConstLabels: prometheus.Labels{
			"app_name":    a.Name(),
			"app_version": a.Version(),
			"git_commit":  app.GitCommit,
		},
	}, func() float64 { return 1 })
}
