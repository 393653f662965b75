package calc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tassa-soggiorno/tassa/internal/booking"
)

const (
	outcomeOK      = "ok"
	outcomeCached  = "cached"
	outcomeInvalid = "invalid"
	outcomeError   = "error"
)

// Metrics holds the calculation collectors.
type Metrics struct {
	runs     *prometheus.CounterVec
	warnings *prometheus.CounterVec
	records  *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics builds the collectors and registers them when registerer is
// not nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tassa_calc_runs_total",
			Help: "Tax calculation runs by outcome.",
		}, []string{"outcome"}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tassa_calc_warnings_total",
			Help: "Malformed-record warnings by code.",
		}, []string{"code"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tassa_calc_records_total",
			Help: "Reservations processed, split into liable and excluded.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tassa_calc_duration_seconds",
			Help:    "Wall time of uncached calculation runs.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if registerer != nil {
		registerer.MustRegister(m.runs, m.warnings, m.records, m.duration)
	}
	return m
}

func (m *Metrics) observeRun(outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeComputed(res Result, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.duration.Observe(elapsed.Seconds())
	m.records.WithLabelValues("liable").Add(float64(res.Document.Stats.LiableCount))
	m.records.WithLabelValues("excluded").Add(float64(res.Document.Stats.ExcludedCount))
	counts := make(map[booking.WarningCode]int)
	for _, w := range res.Document.Warnings {
		counts[w.Code]++
	}
	for code, n := range counts {
		m.warnings.WithLabelValues(string(code)).Add(float64(n))
	}
}
