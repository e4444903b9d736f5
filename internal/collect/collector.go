// Package collect drives the sequential commit-collection pipeline: project
// resolution, branch enumeration with fallback, per-branch commit paging
// with merge filtering, and the intra- and cross-repository dedup passes.
package collect

import (
	"context"
	"regexp"
	"time"

	"github.com/tallyhq/gitlab-tally/internal/dedup"
	"github.com/tallyhq/gitlab-tally/internal/gitlabapi"
	"go.uber.org/zap"
)

// mergeTitlePattern flags merge commits by title prefix. Known false-positive
// source: a regular commit whose title legitimately starts with "merge" is
// excluded too; the upstream parent-count rule catches the rest.
var mergeTitlePattern = regexp.MustCompile(`(?i)^merge\b`)

// fallbackBranches is used when branch enumeration fails entirely.
var fallbackBranches = []string{"main", "master", "develop"}

// CommitRecord is one normalized, deduplicated commit. Immutable once
// fetched; ID is the sole deduplication key at every scope.
type CommitRecord struct {
	ID          string
	Title       string
	AuthorName  string
	AuthorEmail string
	CreatedAt   time.Time
	RepoLabel   string
}

// GitLabDataClient is the typed GitLab API surface consumed by the collector.
type GitLabDataClient interface {
	GetProject(ctx context.Context, repoPath string) (gitlabapi.ProjectResult, error)
	ListBranches(ctx context.Context, projectID int64) (gitlabapi.BranchListResult, error)
	ListBranchCommits(ctx context.Context, projectID int64, ref string, since, until time.Time) (gitlabapi.CommitListResult, error)
}

// RepoResult is the per-repository collection output. Commits is already
// deduplicated within the repository; it remains a first-class output for
// per-repository reporting even though the cross-repository pass dedups
// again.
type RepoResult struct {
	RepoPath       string
	ProjectID      int64
	Branches       []string
	BranchFallback bool
	Commits        []CommitRecord
}

// Stats counts collection-side events for one CollectAll pass.
type Stats struct {
	ReposConfigured  int
	ReposSkipped     int
	BranchFallbacks  int
	BranchesFetched  int
	PagesDropped     int
	CommitsFetched   int
	CommitsFiltered  int
	CommitsCollected int
}

// Collector fetches commit history for configured repositories. All network
// calls are issued sequentially; pagination order within a branch requires
// it, and sequential fetches keep the upstream rate limiter happy.
type Collector struct {
	client GitLabDataClient
	logger *zap.Logger
}

// NewCollector creates a collector over a typed GitLab data client.
func NewCollector(client GitLabDataClient, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		client: client,
		logger: logger,
	}
}

// CollectAll collects commits for every configured repository within
// [since, until), skipping repositories whose project lookup fails, and
// returns the cross-repository deduplicated list plus per-repository
// results.
func (c *Collector) CollectAll(ctx context.Context, repoPaths []string, since, until time.Time) ([]CommitRecord, []RepoResult, Stats) {
	stats := Stats{ReposConfigured: len(repoPaths)}

	var all []CommitRecord
	var repoResults []RepoResult
	for _, repoPath := range repoPaths {
		result, ok := c.CollectRepo(ctx, repoPath, since, until, &stats)
		if !ok {
			stats.ReposSkipped++
			continue
		}
		repoResults = append(repoResults, result)
		all = append(all, result.Commits...)
	}

	unique := dedup.ByKey(all, commitID)
	stats.CommitsCollected = len(unique)
	c.logger.Info("collection complete",
		zap.Int("repos", len(repoResults)),
		zap.Int("repos_skipped", stats.ReposSkipped),
		zap.Int("commits_before_cross_repo_dedup", len(all)),
		zap.Int("commits_unique", len(unique)),
	)
	return unique, repoResults, stats
}

// CollectRepo collects one repository: resolve the project id, enumerate
// branches, page each branch's commits through the merge filter, then
// dedup the branch concatenation by commit id.
func (c *Collector) CollectRepo(ctx context.Context, repoPath string, since, until time.Time, stats *Stats) (RepoResult, bool) {
	projectResult, err := c.client.GetProject(ctx, repoPath)
	if err != nil {
		c.logger.Warn("project lookup failed, skipping repository",
			zap.String("repo", repoPath), zap.Error(err))
		return RepoResult{}, false
	}
	if projectResult.Status != gitlabapi.EndpointStatusOK {
		c.logger.Warn("project lookup rejected, skipping repository",
			zap.String("repo", repoPath), zap.String("status", string(projectResult.Status)))
		return RepoResult{}, false
	}
	projectID := projectResult.Project.ID

	branches, usedFallback := c.enumerateBranches(ctx, repoPath, projectID)
	if usedFallback {
		stats.BranchFallbacks++
	}

	var combined []CommitRecord
	for _, branch := range branches {
		stats.BranchesFetched++
		combined = append(combined, c.fetchBranch(ctx, repoPath, projectID, branch, since, until, stats)...)
	}

	result := RepoResult{
		RepoPath:       repoPath,
		ProjectID:      projectID,
		Branches:       branches,
		BranchFallback: usedFallback,
		Commits:        dedup.ByKey(combined, commitID),
	}
	c.logger.Info("repository collected",
		zap.String("repo", repoPath),
		zap.Int64("project_id", projectID),
		zap.Int("branches", len(branches)),
		zap.Int("commits", len(result.Commits)),
	)
	return result, true
}

// enumerateBranches never fails and never returns an empty set: a fully
// failed enumeration falls back to the common default branch names.
func (c *Collector) enumerateBranches(ctx context.Context, repoPath string, projectID int64) ([]string, bool) {
	result, err := c.client.ListBranches(ctx, projectID)
	if err != nil {
		c.logger.Warn("branch listing failed, using fallback branches",
			zap.String("repo", repoPath), zap.Error(err))
	} else if result.Status != gitlabapi.EndpointStatusOK {
		c.logger.Warn("branch listing rejected, using gathered names or fallback",
			zap.String("repo", repoPath), zap.String("status", string(result.Status)))
	}

	if len(result.Names) == 0 {
		names := make([]string, len(fallbackBranches))
		copy(names, fallbackBranches)
		return names, true
	}
	return result.Names, false
}

func (c *Collector) fetchBranch(ctx context.Context, repoPath string, projectID int64, branch string, since, until time.Time, stats *Stats) []CommitRecord {
	result, err := c.client.ListBranchCommits(ctx, projectID, branch, since, until)
	if err != nil {
		// Partial data beats losing the whole branch: pages fetched before
		// the failure are still in result.Commits.
		c.logger.Warn("commit page fetch failed, keeping earlier pages",
			zap.String("repo", repoPath), zap.String("branch", branch), zap.Error(err))
		stats.PagesDropped++
	} else if result.Status != gitlabapi.EndpointStatusOK {
		c.logger.Warn("commit page rejected, keeping earlier pages",
			zap.String("repo", repoPath), zap.String("branch", branch),
			zap.String("status", string(result.Status)))
		stats.PagesDropped++
	}

	records := make([]CommitRecord, 0, len(result.Commits))
	for _, commit := range result.Commits {
		stats.CommitsFetched++
		if isMergeCommit(commit) {
			stats.CommitsFiltered++
			continue
		}
		records = append(records, CommitRecord{
			ID:          commit.ID,
			Title:       commit.Title,
			AuthorName:  commit.AuthorName,
			AuthorEmail: commit.AuthorEmail,
			CreatedAt:   commit.CreatedAt,
			RepoLabel:   repoPath,
		})
	}
	return records
}

// isMergeCommit excludes a commit when its title carries the merge prefix or
// it is recorded with more than one parent. The two rules are independent.
func isMergeCommit(commit gitlabapi.Commit) bool {
	if mergeTitlePattern.MatchString(commit.Title) {
		return true
	}
	return len(commit.ParentIDs) > 1
}

func commitID(record CommitRecord) string {
	return record.ID
}
