package gitlabapi

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

type fakeDoer struct {
	responses []fakeResponse
	requests  []*http.Request
}

type fakeResponse struct {
	status int
	body   string
	err    error
}

func (d *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	d.requests = append(d.requests, req)
	if len(d.responses) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	next := d.responses[0]
	d.responses = d.responses[1:]
	if next.err != nil {
		return nil, next.err
	}
	return &http.Response{
		StatusCode: next.status,
		Header:     http.Header{"RateLimit-Remaining": []string{"1000"}},
		Body:       io.NopCloser(strings.NewReader(next.body)),
	}, nil
}

func newTestDataClient(t *testing.T, doer *fakeDoer, pageSize int) *DataClient {
	t.Helper()

	requestClient := NewClient(doer, RetryConfig{MaxAttempts: 1}, RateLimitPolicy{})
	requestClient.Sleep = func(time.Duration) {}

	dataClient, err := NewDataClient("", "lab.example.com", "glpat-token", pageSize, requestClient)
	if err != nil {
		t.Fatalf("NewDataClient: %v", err)
	}
	return dataClient
}

func TestGetProjectEncodesPathAndSetsToken(t *testing.T) {
	t.Parallel()

	doer := &fakeDoer{responses: []fakeResponse{
		{status: http.StatusOK, body: `{"id": 42, "path_with_namespace": "team/service"}`},
	}}
	client := newTestDataClient(t, doer, 100)

	result, err := client.GetProject(context.Background(), "/team/service")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if result.Status != EndpointStatusOK {
		t.Fatalf("Status = %s, want ok", result.Status)
	}
	if result.Project.ID != 42 {
		t.Fatalf("ID = %d, want 42", result.Project.ID)
	}

	req := doer.requests[0]
	if got := req.URL.EscapedPath(); got != "/api/v4/projects/team%2Fservice" {
		t.Fatalf("path = %q, want escaped project path", got)
	}
	if got := req.Header.Get("PRIVATE-TOKEN"); got != "glpat-token" {
		t.Fatalf("PRIVATE-TOKEN = %q, want glpat-token", got)
	}
}

func TestGetProjectNotFound(t *testing.T) {
	t.Parallel()

	doer := &fakeDoer{responses: []fakeResponse{
		{status: http.StatusNotFound, body: `{"message": "404 Project Not Found"}`},
	}}
	client := newTestDataClient(t, doer, 100)

	result, err := client.GetProject(context.Background(), "gone/project")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if result.Status != EndpointStatusNotFound {
		t.Fatalf("Status = %s, want not_found", result.Status)
	}
}

func TestListBranchesPaginatesUntilShortPage(t *testing.T) {
	t.Parallel()

	doer := &fakeDoer{responses: []fakeResponse{
		{status: http.StatusOK, body: `[{"name": "main"}, {"name": "develop"}]`},
		{status: http.StatusOK, body: `[{"name": "develop"}, {"name": "feature/x"}]`},
		{status: http.StatusOK, body: `[{"name": "hotfix"}]`},
	}}
	client := newTestDataClient(t, doer, 2)

	result, err := client.ListBranches(context.Background(), 42)
	if err != nil {
		t.Fatalf("ListBranches: %v", err)
	}
	if result.Status != EndpointStatusOK {
		t.Fatalf("Status = %s, want ok", result.Status)
	}

	want := []string{"main", "develop", "feature/x", "hotfix"}
	if len(result.Names) != len(want) {
		t.Fatalf("Names = %v, want %v", result.Names, want)
	}
	for i, name := range want {
		if result.Names[i] != name {
			t.Fatalf("Names[%d] = %q, want %q", i, result.Names[i], name)
		}
	}
	if len(doer.requests) != 3 {
		t.Fatalf("requests = %d, want 3", len(doer.requests))
	}
}

func TestListBranchesKeepsEarlierPagesOnFailure(t *testing.T) {
	t.Parallel()

	doer := &fakeDoer{responses: []fakeResponse{
		{status: http.StatusOK, body: `[{"name": "main"}, {"name": "develop"}]`},
		{status: http.StatusServiceUnavailable, body: `{}`},
	}}
	client := newTestDataClient(t, doer, 2)

	result, err := client.ListBranches(context.Background(), 42)
	if err != nil {
		t.Fatalf("ListBranches: %v", err)
	}
	if result.Status != EndpointStatusUnavailable {
		t.Fatalf("Status = %s, want unavailable", result.Status)
	}
	if len(result.Names) != 2 {
		t.Fatalf("Names = %v, want the first page kept", result.Names)
	}
}

func TestListBranchCommitsWindowAndPagination(t *testing.T) {
	t.Parallel()

	doer := &fakeDoer{responses: []fakeResponse{
		{status: http.StatusOK, body: `[
			{"id": "aaa", "title": "feat: one", "author_name": "Hong", "author_email": "h@x.com", "created_at": "2026-08-30T15:04:05+09:00", "parent_ids": ["p1"]},
			{"id": "bbb", "title": "fix: two", "author_name": "Kim", "author_email": "k@x.com", "created_at": "2026-08-30T16:00:00+09:00", "parent_ids": ["p2"]}
		]`},
		{status: http.StatusOK, body: `[
			{"id": "ccc", "title": "docs: three", "author_name": "Lee", "author_email": "l@x.com", "created_at": "2026-08-31T09:00:00+09:00", "parent_ids": []}
		]`},
	}}
	client := newTestDataClient(t, doer, 2)

	since := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	result, err := client.ListBranchCommits(context.Background(), 42, "develop", since, until)
	if err != nil {
		t.Fatalf("ListBranchCommits: %v", err)
	}
	if len(result.Commits) != 3 {
		t.Fatalf("Commits = %d, want 3", len(result.Commits))
	}
	if result.Commits[0].ID != "aaa" || result.Commits[2].ID != "ccc" {
		t.Fatalf("unexpected commit order: %+v", result.Commits)
	}
	if !result.Commits[0].CreatedAt.Equal(time.Date(2026, 8, 30, 6, 4, 5, 0, time.UTC)) {
		t.Fatalf("CreatedAt = %s, want UTC-normalized instant", result.Commits[0].CreatedAt)
	}

	query := doer.requests[0].URL.Query()
	if got := query.Get("ref_name"); got != "develop" {
		t.Fatalf("ref_name = %q, want develop", got)
	}
	if got := query.Get("since"); got != "2026-08-30T00:00:00Z" {
		t.Fatalf("since = %q", got)
	}
	if got := query.Get("until"); got != "2026-09-01T00:00:00Z" {
		t.Fatalf("until = %q", got)
	}
}

func TestListBranchCommitsDropsFailingPageKeepsEarlier(t *testing.T) {
	t.Parallel()

	doer := &fakeDoer{responses: []fakeResponse{
		{status: http.StatusOK, body: `[
			{"id": "aaa", "title": "one", "created_at": "2026-08-30T15:04:05Z", "parent_ids": []},
			{"id": "bbb", "title": "two", "created_at": "2026-08-30T16:00:00Z", "parent_ids": []}
		]`},
		{status: http.StatusForbidden, body: `{}`},
	}}
	client := newTestDataClient(t, doer, 2)

	result, err := client.ListBranchCommits(context.Background(), 42, "main", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ListBranchCommits: %v", err)
	}
	if result.Status != EndpointStatusForbidden {
		t.Fatalf("Status = %s, want forbidden", result.Status)
	}
	if len(result.Commits) != 2 {
		t.Fatalf("Commits = %d, want the first page kept", len(result.Commits))
	}
}

func TestClientRetriesTransientStatus(t *testing.T) {
	t.Parallel()

	doer := &fakeDoer{responses: []fakeResponse{
		{status: http.StatusBadGateway, body: `{}`},
		{status: http.StatusOK, body: `{"id": 7, "path_with_namespace": "g/p"}`},
	}}
	requestClient := NewClient(doer, RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond}, RateLimitPolicy{})
	requestClient.Sleep = func(time.Duration) {}
	client, err := NewDataClient("", "lab.example.com", "tok", 100, requestClient)
	if err != nil {
		t.Fatalf("NewDataClient: %v", err)
	}

	result, err := client.GetProject(context.Background(), "g/p")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if result.Status != EndpointStatusOK {
		t.Fatalf("Status = %s, want ok after retry", result.Status)
	}
	if result.Metadata.Attempts != 2 {
		t.Fatalf("Attempts = %d, want 2", result.Metadata.Attempts)
	}
}
