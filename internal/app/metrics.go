package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collector's Prometheus instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal              *prometheus.CounterVec
	ReposSkippedTotal      prometheus.Counter
	BranchFallbacksTotal   prometheus.Counter
	SinkWriteFailuresTotal prometheus.Counter
	RosterCacheHitsTotal   *prometheus.CounterVec

	LastRunTimestamp prometheus.Gauge
	LastRunCommits   prometheus.Gauge
	LastRunPeople    prometheus.Gauge
	LastRunDuration  prometheus.Gauge
}

// NewMetrics creates and registers all collector metrics on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	metrics := &Metrics{
		registry: registry,
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gitlab_tally_runs_total",
			Help: "Completed collection runs by outcome.",
		}, []string{"status"}),
		ReposSkippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gitlab_tally_repos_skipped_total",
			Help: "Repositories skipped because project lookup failed.",
		}),
		BranchFallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gitlab_tally_branch_fallbacks_total",
			Help: "Repositories collected with the default branch-name fallback.",
		}),
		SinkWriteFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gitlab_tally_sink_write_failures_total",
			Help: "Failed report-sheet writes.",
		}),
		RosterCacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gitlab_tally_roster_cache_requests_total",
			Help: "Roster cache lookups by result.",
		}, []string{"result"}),
		LastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gitlab_tally_last_run_timestamp_seconds",
			Help: "Unix time of the last completed run.",
		}),
		LastRunCommits: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gitlab_tally_last_run_commits",
			Help: "Unique commits counted in the last run.",
		}),
		LastRunPeople: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gitlab_tally_last_run_people",
			Help: "People with at least one counted commit in the last run.",
		}),
		LastRunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gitlab_tally_last_run_duration_seconds",
			Help: "Wall-clock duration of the last run.",
		}),
	}

	registry.MustRegister(
		metrics.RunsTotal,
		metrics.ReposSkippedTotal,
		metrics.BranchFallbacksTotal,
		metrics.SinkWriteFailuresTotal,
		metrics.RosterCacheHitsTotal,
		metrics.LastRunTimestamp,
		metrics.LastRunCommits,
		metrics.LastRunPeople,
		metrics.LastRunDuration,
	)
	return metrics
}

// Handler returns the Prometheus scrape handler for the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
