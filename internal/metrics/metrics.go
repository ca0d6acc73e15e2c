// Package metrics collects per-run counters for the pipeline and exports
// them in the node-exporter textfile format.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "govcontracts"

const (
	MetricRequests        = "requests_total"
	MetricReauths         = "reauths_total"
	MetricPages           = "pages_total"
	MetricRecords         = "records_total"
	MetricEntitiesWritten = "entities_written_total"
	MetricEntitiesFailed  = "entities_failed_total"
	MetricUniverseWritten = "universe_files_written_total"
	MetricLinesDropped    = "universe_lines_dropped_total"
	MetricLastSuccess     = "last_success_timestamp_seconds"
)

// Metrics holds the pipeline's collectors in a private registry. It
// satisfies the fetch, merge and universe recorder interfaces.
type Metrics struct {
	reg *prometheus.Registry

	requests        *prometheus.CounterVec
	reauths         prometheus.Counter
	pages           prometheus.Counter
	records         prometheus.Counter
	entitiesWritten prometheus.Counter
	entitiesFailed  prometheus.Counter
	universeWritten prometheus.Counter
	linesDropped    *prometheus.CounterVec
	lastSuccess     *prometheus.GaugeVec
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
}

// New returns Metrics registered on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricRequests,
			Help:      "API requests by response status class.",
		}, []string{"class"}),
		reauths:         counter(MetricReauths, "Requests reissued after an unauthorized response."),
		pages:           counter(MetricPages, "Pages that returned records."),
		records:         counter(MetricRecords, "Records fetched."),
		entitiesWritten: counter(MetricEntitiesWritten, "Entity files written."),
		entitiesFailed:  counter(MetricEntitiesFailed, "Entity files that failed to merge."),
		universeWritten: counter(MetricUniverseWritten, "Universe date files written."),
		linesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricLinesDropped,
			Help:      "Entity lines left out of the universe by reason.",
		}, []string{"reason"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      MetricLastSuccess,
			Help:      "Unix time of the last successful stage.",
		}, []string{"stage"}),
	}
	m.reg.MustRegister(
		m.requests,
		m.reauths,
		m.pages,
		m.records,
		m.entitiesWritten,
		m.entitiesFailed,
		m.universeWritten,
		m.linesDropped,
		m.lastSuccess,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// StatusClass maps an HTTP status to "2xx".."5xx", or "error" for 0.
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "error"
	}
	return fmt.Sprintf("%dxx", status/100)
}

func (m *Metrics) Request(status int) { m.requests.WithLabelValues(StatusClass(status)).Inc() }
func (m *Metrics) Reauth()            { m.reauths.Inc() }

// Fetched records the outcome of one paginated fetch.
func (m *Metrics) Fetched(pages, records int) {
	m.pages.Add(float64(pages))
	m.records.Add(float64(records))
}

func (m *Metrics) EntityWritten()            { m.entitiesWritten.Inc() }
func (m *Metrics) EntityFailed()             { m.entitiesFailed.Inc() }
func (m *Metrics) UniverseWritten()          { m.universeWritten.Inc() }
func (m *Metrics) LineDropped(reason string) { m.linesDropped.WithLabelValues(reason).Inc() }

// Succeeded stamps stage as successful at t.
func (m *Metrics) Succeeded(stage string, t time.Time) {
	m.lastSuccess.WithLabelValues(stage).Set(float64(t.Unix()))
}

// WriteTextfile writes every metric to path for the node exporter's
// textfile collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
