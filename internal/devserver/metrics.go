package devserver

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "zoetrope"

type metrics struct {
	registry      *prom.Registry
	builds        *prom.CounterVec
	buildDuration prom.Histogram
	reloads       prom.Counter
	clients       prom.Gauge
}

// newMetrics registers everything on a private registry so several servers
// can live in one process.
func newMetrics() *metrics {
	m := &metrics{
		registry: prom.NewRegistry(),
		builds: prom.NewCounterVec(prom.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "builds_total",
			Help:      "Build cycles by outcome",
		}, []string{"outcome"}),
		buildDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "build_duration_seconds",
			Help:      "Duration of build cycles",
			Buckets:   prom.DefBuckets,
		}),
		reloads: prom.NewCounter(prom.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reloads_total",
			Help:      "Reload notifications broadcast to browsers",
		}),
		clients: prom.NewGauge(prom.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "reload_clients",
			Help:      "Browsers connected to the reload channel",
		}),
	}
	m.registry.MustRegister(m.builds, m.buildDuration, m.reloads, m.clients)
	return m
}

func (m *metrics) observeBuild(d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.builds.WithLabelValues(outcome).Inc()
	m.buildDuration.Observe(d.Seconds())
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
