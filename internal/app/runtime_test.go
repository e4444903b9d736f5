package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/tallyhq/gitlab-tally/internal/collect"
	"github.com/tallyhq/gitlab-tally/internal/config"
	"github.com/tallyhq/gitlab-tally/internal/identity"
	"github.com/tallyhq/gitlab-tally/internal/rostercache"
)

type fakeCollector struct {
	commits []collect.CommitRecord
	stats   collect.Stats
	calls   int
	since   time.Time
	until   time.Time
}

func (f *fakeCollector) CollectAll(_ context.Context, _ []string, since, until time.Time) ([]collect.CommitRecord, []collect.RepoResult, collect.Stats) {
	f.calls++
	f.since = since
	f.until = until
	return f.commits, nil, f.stats
}

type fakeSheet struct {
	roster        identity.Roster
	listErr       error
	writeErr      error
	listCalls     int
	writeCalls    int
	writtenCounts map[string]map[string]int
}

func (f *fakeSheet) WriteCounts(_ context.Context, counts map[string]map[string]int) error {
	f.writeCalls++
	f.writtenCounts = counts
	return f.writeErr
}

func (f *fakeSheet) ListNames(_ context.Context) (identity.Roster, error) {
	f.listCalls++
	return f.roster, f.listErr
}

func testConfig() *config.Config {
	return &config.Config{
		Repos: []string{"team/service"},
		Window: config.WindowConfig{
			Days:             7,
			UTCOffsetMinutes: 540,
		},
		Members: map[string]identity.MemberProfile{
			"Hong Gildong": {Team: "Platform", Emails: []string{"hong@example.com"}},
		},
		RosterCache: config.RosterCacheConfig{TTL: time.Hour},
	}
}

func testCommit(id string) collect.CommitRecord {
	return collect.CommitRecord{
		ID:          id,
		Title:       "feat: " + id,
		AuthorName:  "Hong Gildong",
		AuthorEmail: "hong@example.com",
		CreatedAt:   time.Date(2026, 8, 31, 2, 0, 0, 0, time.UTC),
		RepoLabel:   "team/service",
	}
}

func newTestRuntime(collector *fakeCollector, sheet *fakeSheet) *Runtime {
	return NewRuntime(testConfig(), collector, sheet, rostercache.NewMemoryStore(time.Hour), NewMetrics(), nil)
}

func TestRunHappyPath(t *testing.T) {
	t.Parallel()

	collector := &fakeCollector{
		commits: []collect.CommitRecord{testCommit("c1"), testCommit("c2")},
		stats:   collect.Stats{ReposConfigured: 1, CommitsCollected: 2},
	}
	sheet := &fakeSheet{
		roster: identity.Roster{
			OfficialNames: []string{"Hong Gildong"},
			TeamsByName:   map[string]string{"Hong Gildong": "Platform"},
		},
	}
	runtime := newTestRuntime(collector, sheet)

	result, err := runtime.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.RosterSource != RosterSourceSheet {
		t.Fatalf("RosterSource = %q, want sheet on a cold cache", result.RosterSource)
	}
	if collector.calls != 1 || sheet.writeCalls != 1 {
		t.Fatalf("calls: collector=%d sheet=%d, want 1 each", collector.calls, sheet.writeCalls)
	}
	if !collector.until.After(collector.since) {
		t.Fatalf("window = [%s, %s), want until after since", collector.since, collector.until)
	}
	if got := sheet.writtenCounts["Hong Gildong"]; len(got) == 0 {
		t.Fatalf("writtenCounts = %v, want Hong Gildong's daily counts", sheet.writtenCounts)
	}
	if runtime.LastResult() != result {
		t.Fatal("LastResult does not return the completed run")
	}
}

func TestRunUsesRosterCacheOnSecondRun(t *testing.T) {
	t.Parallel()

	collector := &fakeCollector{}
	sheet := &fakeSheet{
		roster: identity.Roster{OfficialNames: []string{"Hong Gildong"}},
	}
	runtime := newTestRuntime(collector, sheet)

	if _, err := runtime.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	result, err := runtime.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if sheet.listCalls != 1 {
		t.Fatalf("listCalls = %d, want 1 (second run served from cache)", sheet.listCalls)
	}
	if result.RosterSource != RosterSourceCache {
		t.Fatalf("RosterSource = %q, want cache", result.RosterSource)
	}
}

func TestRunFallsBackToMembersWhenRosterFetchFails(t *testing.T) {
	t.Parallel()

	collector := &fakeCollector{
		commits: []collect.CommitRecord{testCommit("c1")},
	}
	sheet := &fakeSheet{listErr: fmt.Errorf("webhook timeout")}
	runtime := newTestRuntime(collector, sheet)

	result, err := runtime.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.RosterSource != RosterSourceMembers {
		t.Fatalf("RosterSource = %q, want members fallback", result.RosterSource)
	}

	// The member map still resolves identity and team.
	if len(result.Aggregation.Summary) != 1 {
		t.Fatalf("Summary = %+v, want one person", result.Aggregation.Summary)
	}
	row := result.Aggregation.Summary[0]
	if row.Person != "Hong Gildong" || row.Team != "Platform" {
		t.Fatalf("Summary[0] = %+v, want Hong Gildong on Platform", row)
	}
}

func TestRunRetainsResultOnSinkFailure(t *testing.T) {
	t.Parallel()

	collector := &fakeCollector{
		commits: []collect.CommitRecord{testCommit("c1")},
		stats:   collect.Stats{CommitsCollected: 1},
	}
	sheet := &fakeSheet{
		roster:   identity.Roster{OfficialNames: []string{"Hong Gildong"}},
		writeErr: fmt.Errorf("sheet is locked"),
	}
	runtime := newTestRuntime(collector, sheet)

	result, err := runtime.Run(context.Background())
	if err == nil {
		t.Fatal("Run succeeded, want sink write error")
	}
	if result == nil {
		t.Fatal("result is nil, want aggregation retained despite sink failure")
	}
	if result.SinkError == "" {
		t.Fatal("SinkError is empty, want the write failure recorded")
	}
	if runtime.LastResult() == nil {
		t.Fatal("LastResult is nil, want the failed-sink run retained")
	}
	if result.Stats.CommitsCollected != 1 {
		t.Fatalf("Stats = %+v, want collection stats preserved", result.Stats)
	}
}

func TestRosterFromMembers(t *testing.T) {
	t.Parallel()

	members := map[string]identity.MemberProfile{
		"Zara": {Team: "Alpha"},
		"Anna": {},
	}
	roster := rosterFromMembers(members, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC))

	if len(roster.OfficialNames) != 2 || roster.OfficialNames[0] != "Anna" {
		t.Fatalf("OfficialNames = %v, want sorted names", roster.OfficialNames)
	}
	if roster.TeamsByName["Zara"] != "Alpha" {
		t.Fatalf("TeamsByName = %v, want Zara on Alpha", roster.TeamsByName)
	}
	if _, ok := roster.TeamsByName["Anna"]; ok {
		t.Fatal("TeamsByName contains Anna, want teamless members omitted")
	}
}
