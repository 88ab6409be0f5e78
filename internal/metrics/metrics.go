package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters.
type Metrics struct {
	blocksScanned   prometheus.Counter
	pairsFound      prometheus.Counter
	findingsSent    prometheus.Counter
	findingsDropped prometheus.Counter
	errors          prometheus.Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// Init initializes global metrics (idempotent).
func Init() *Metrics {
	once.Do(func() {
		metrics = newMetrics()
		prometheus.MustRegister(
			metrics.blocksScanned,
			metrics.pairsFound,
			metrics.findingsSent,
			metrics.findingsDropped,
			metrics.errors,
		)
	})
	return metrics
}

func newMetrics() *Metrics {
	return &Metrics{
		blocksScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slot_scout_blocks_scanned_total",
			Help: "Total number of blocks and rounds scanned",
		}),
		pairsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slot_scout_pairs_found_total",
			Help: "Total number of name/symbol pairs found before filtering",
		}),
		findingsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slot_scout_findings_sent_total",
			Help: "Total number of findings delivered to sinks",
		}),
		findingsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slot_scout_findings_dropped_total",
			Help: "Total number of findings dropped (dedupe/rate-limit)",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slot_scout_errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}

// BlocksScanned increments the scanned blocks counter.
func (m *Metrics) BlocksScanned() {
	if m != nil {
		m.blocksScanned.Inc()
	}
}

// PairsFound increments the raw pair counter.
func (m *Metrics) PairsFound() {
	if m != nil {
		m.pairsFound.Inc()
	}
}

// FindingsSent increments the delivered findings counter.
func (m *Metrics) FindingsSent() {
	if m != nil {
		m.findingsSent.Inc()
	}
}

// FindingsDropped increments the dropped findings counter.
func (m *Metrics) FindingsDropped() {
	if m != nil {
		m.findingsDropped.Inc()
	}
}

// Errors increments the errors counter.
func (m *Metrics) Errors() {
	if m != nil {
		m.errors.Inc()
	}
}

// Handler returns an HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
