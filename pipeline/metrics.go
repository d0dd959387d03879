package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/caffeineduck/jsxbox/failure"
)

// Stages of a render attempt as labelled in metrics.
const (
	StageBind    = "bind"
	StageCompile = "compile"
	StageExecute = "execute"
)

const outcomeOK = "ok"

type Metrics struct {
	// Attempts counts finished attempts by outcome: "ok" or a failure kind.
	Attempts *prometheus.CounterVec

	StageDuration *prometheus.HistogramVec

	// Violations counts individual binder violations by kind.
	Violations *prometheus.CounterVec

	InFlight prometheus.Gauge
}

// NewMetrics registers the pipeline metrics with reg. A nil reg gets a
// private registry that is never scraped.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		Attempts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "jsxbox_render_attempts_total",
			Help: "Render attempts by outcome.",
		}, []string{"outcome"}),

		StageDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jsxbox_stage_duration_seconds",
			Help:    "Duration of each render stage.",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"stage"}),

		Violations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "jsxbox_import_violations_total",
			Help: "Import violations reported by the binder.",
		}, []string{"kind"}),

		InFlight: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "jsxbox_render_in_flight",
			Help: "Render attempts currently running.",
		}),
	}
}

func (m *Metrics) observe(stage string, start time.Time) {
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (m *Metrics) record(err error) {
	if err == nil {
		m.Attempts.WithLabelValues(outcomeOK).Inc()
		return
	}
	m.Attempts.WithLabelValues(failure.KindOf(err).String()).Inc()
}

// violations counts import violations in err. Other binder errors, such
// as a syntax error, are not violations.
func (m *Metrics) violations(err error) {
	for _, v := range failure.All(err) {
		switch v.Kind {
		case failure.KindDisallowedImportForm, failure.KindModuleNotAllowed, failure.KindExportNotAllowed:
			m.Violations.WithLabelValues(v.Kind.String()).Inc()
		}
	}
}
