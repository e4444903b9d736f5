// Package app wires the collection pipeline into a runnable service: the
// run orchestration, the HTTP surface, and Prometheus instrumentation.
package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tallyhq/gitlab-tally/internal/aggregate"
	"github.com/tallyhq/gitlab-tally/internal/collect"
	"github.com/tallyhq/gitlab-tally/internal/config"
	"github.com/tallyhq/gitlab-tally/internal/identity"
	"github.com/tallyhq/gitlab-tally/internal/rostercache"
	"go.uber.org/zap"
)

// CommitCollector is the collection pipeline consumed by the runtime.
type CommitCollector interface {
	CollectAll(ctx context.Context, repoPaths []string, since, until time.Time) ([]collect.CommitRecord, []collect.RepoResult, collect.Stats)
}

// SheetClient is the report-sheet webhook surface consumed by the runtime.
type SheetClient interface {
	WriteCounts(ctx context.Context, counts map[string]map[string]int) error
	ListNames(ctx context.Context) (identity.Roster, error)
}

// Roster provenance values reported in run results.
const (
	RosterSourceCache   = "cache"
	RosterSourceSheet   = "sheet"
	RosterSourceMembers = "members"
)

// RunResult is one completed collection run. It is retained and served even
// when the final sheet write failed; SinkError carries that failure.
type RunResult struct {
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  time.Time        `json:"completed_at"`
	WindowSince  time.Time        `json:"window_since"`
	WindowUntil  time.Time        `json:"window_until"`
	RosterSource string           `json:"roster_source"`
	Stats        collect.Stats    `json:"stats"`
	Aggregation  aggregate.Result `json:"aggregation"`
	SinkError    string           `json:"sink_error,omitempty"`
}

// Runtime orchestrates one-shot and HTTP-triggered collection runs.
type Runtime struct {
	cfg       *config.Config
	collector CommitCollector
	sheet     SheetClient
	cache     rostercache.Store
	metrics   *Metrics
	logger    *zap.Logger
	now       func() time.Time

	mu         sync.Mutex
	runMu      sync.Mutex
	lastResult *RunResult
}

// NewRuntime creates the application runtime.
func NewRuntime(cfg *config.Config, collector CommitCollector, sheet SheetClient, cache rostercache.Store, metrics *Metrics, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	if cache == nil {
		cache = rostercache.NewMemoryStore(cfg.RosterCache.TTL)
	}
	return &Runtime{
		cfg:       cfg,
		collector: collector,
		sheet:     sheet,
		cache:     cache,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// Run executes one full collection run: roster, window, collection,
// aggregation, sheet write. Runs are serialized; a second caller blocks
// until the first finishes.
func (r *Runtime) Run(ctx context.Context) (*RunResult, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	startedAt := r.now()
	roster, rosterSource := r.loadRoster(ctx)

	index, warnings := identity.BuildIndex(roster.OfficialNames, r.cfg.Members)
	for _, warning := range warnings {
		r.logger.Warn("identity index conflict", zap.String("detail", warning))
	}

	since, until := aggregate.WindowFor(startedAt, r.cfg.Window.Days, r.cfg.Window.UTCOffsetMinutes)
	r.logger.Info("run starting",
		zap.Time("since", since),
		zap.Time("until", until),
		zap.String("roster_source", rosterSource),
		zap.Int("repos", len(r.cfg.Repos)),
	)

	commits, _, stats := r.collector.CollectAll(ctx, r.cfg.Repos, since, until)
	aggregation := aggregate.Aggregate(commits, index, r.cfg.Members, roster, r.cfg.Window.UTCOffsetMinutes)
	for _, warning := range aggregation.Warnings {
		r.logger.Warn("aggregation warning", zap.String("detail", warning))
	}

	result := &RunResult{
		StartedAt:    startedAt,
		CompletedAt:  r.now(),
		WindowSince:  since,
		WindowUntil:  until,
		RosterSource: rosterSource,
		Stats:        stats,
		Aggregation:  aggregation,
	}

	var sinkErr error
	if err := r.sheet.WriteCounts(ctx, aggregation.CountsByPersonAndDay); err != nil {
		sinkErr = fmt.Errorf("write counts to sheet: %w", err)
		result.SinkError = sinkErr.Error()
		r.metrics.SinkWriteFailuresTotal.Inc()
		r.logger.Error("sheet write failed", zap.Error(err))
	}

	r.recordRun(result, sinkErr == nil)
	return result, sinkErr
}

// LastResult returns the most recent run result, or nil before the first run.
func (r *Runtime) LastResult() *RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastResult
}

// loadRoster resolves the official roster with a three-step fallback: the
// between-run cache, then a fresh sheet fetch, then the configured member
// map alone. The run proceeds in all three cases.
func (r *Runtime) loadRoster(ctx context.Context) (identity.Roster, string) {
	cached, ok, err := r.cache.Get(ctx)
	if err != nil {
		r.logger.Warn("roster cache read failed", zap.Error(err))
	}
	if ok {
		r.metrics.RosterCacheHitsTotal.WithLabelValues("hit").Inc()
		return cached, RosterSourceCache
	}
	r.metrics.RosterCacheHitsTotal.WithLabelValues("miss").Inc()

	roster, err := r.sheet.ListNames(ctx)
	if err == nil {
		if putErr := r.cache.Put(ctx, roster); putErr != nil {
			r.logger.Warn("roster cache write failed", zap.Error(putErr))
		}
		return roster, RosterSourceSheet
	}
	r.logger.Warn("roster fetch failed, falling back to configured members", zap.Error(err))

	return rosterFromMembers(r.cfg.Members, r.now()), RosterSourceMembers
}

func (r *Runtime) recordRun(result *RunResult, sinkOK bool) {
	status := "ok"
	if !sinkOK {
		status = "sink_failed"
	}
	r.metrics.RunsTotal.WithLabelValues(status).Inc()
	r.metrics.ReposSkippedTotal.Add(float64(result.Stats.ReposSkipped))
	r.metrics.BranchFallbacksTotal.Add(float64(result.Stats.BranchFallbacks))
	r.metrics.LastRunTimestamp.Set(float64(result.CompletedAt.Unix()))
	r.metrics.LastRunCommits.Set(float64(result.Stats.CommitsCollected))
	r.metrics.LastRunPeople.Set(float64(len(result.Aggregation.Summary)))
	r.metrics.LastRunDuration.Set(result.CompletedAt.Sub(result.StartedAt).Seconds())

	r.mu.Lock()
	r.lastResult = result
	r.mu.Unlock()

	r.logger.Info("run complete",
		zap.String("status", status),
		zap.Int("commits", result.Stats.CommitsCollected),
		zap.Int("people", len(result.Aggregation.Summary)),
		zap.Duration("took", result.CompletedAt.Sub(result.StartedAt)),
	)
}

func rosterFromMembers(members map[string]identity.MemberProfile, now time.Time) identity.Roster {
	roster := identity.Roster{
		TeamsByName: make(map[string]string, len(members)),
		FetchedAt:   now,
	}
	for name, profile := range members {
		roster.OfficialNames = append(roster.OfficialNames, name)
		if profile.Team != "" {
			roster.TeamsByName[name] = profile.Team
		}
	}
	sort.Strings(roster.OfficialNames)
	return roster
}
