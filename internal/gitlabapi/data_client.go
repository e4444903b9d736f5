package gitlabapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultPageSize = 100

// EndpointStatus represents a normalized GitLab API endpoint outcome.
type EndpointStatus string

const (
	// EndpointStatusOK indicates a successful response.
	EndpointStatusOK EndpointStatus = "ok"
	// EndpointStatusUnauthorized indicates a missing or rejected token.
	EndpointStatusUnauthorized EndpointStatus = "unauthorized"
	// EndpointStatusForbidden indicates insufficient project permissions.
	EndpointStatusForbidden EndpointStatus = "forbidden"
	// EndpointStatusNotFound indicates the project or ref does not exist or is hidden.
	EndpointStatusNotFound EndpointStatus = "not_found"
	// EndpointStatusUnavailable indicates a temporary service-side failure.
	EndpointStatusUnavailable EndpointStatus = "unavailable"
	// EndpointStatusUnknown indicates an unclassified non-success status.
	EndpointStatusUnknown EndpointStatus = "unknown"
)

// Project identifies one GitLab project resolved from its namespaced path.
type Project struct {
	ID                int64
	PathWithNamespace string
}

// ProjectResult is the typed result for a project lookup.
type ProjectResult struct {
	Status   EndpointStatus
	Project  Project
	Metadata CallMetadata
}

// BranchListResult is the typed result for listing repository branches.
// Names is a set: endpoint-level duplicates across pages are collapsed.
type BranchListResult struct {
	Status   EndpointStatus
	Names    []string
	Metadata CallMetadata
}

// Commit is one commit summary from the repository commit-log endpoint.
type Commit struct {
	ID          string
	Title       string
	AuthorName  string
	AuthorEmail string
	CreatedAt   time.Time
	ParentIDs   []string
}

// CommitListResult is the typed result for listing branch commits in a
// window. When pagination stops on a non-success page status, Commits holds
// the pages fetched so far and Status reports the failing page's status.
type CommitListResult struct {
	Status   EndpointStatus
	Commits  []Commit
	Metadata CallMetadata
}

// DataClient is a typed GitLab v4 REST data client for the collection
// endpoints, layered over the generic retry/rate-limit request client.
type DataClient struct {
	baseURL       *url.URL
	token         string
	pageSize      int
	requestClient *Client
}

// NewDataClient creates a typed data client. baseURL is either a full API
// base URL or empty, in which case domain is used to derive
// "https://<domain>/api/v4/".
func NewDataClient(baseURL, domain, token string, pageSize int, requestClient *Client) (*DataClient, error) {
	if requestClient == nil {
		return nil, fmt.Errorf("request client is required")
	}
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("gitlab token is required")
	}

	parsed, err := parseAPIBaseURL(baseURL, domain)
	if err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	return &DataClient{
		baseURL:       parsed,
		token:         token,
		pageSize:      pageSize,
		requestClient: requestClient,
	}, nil
}

// GetProject resolves a namespaced repository path ("group/project",
// leading slash tolerated) to its project id.
func (c *DataClient) GetProject(ctx context.Context, repoPath string) (ProjectResult, error) {
	trimmedPath := strings.TrimPrefix(strings.TrimSpace(repoPath), "/")
	if trimmedPath == "" {
		return ProjectResult{}, fmt.Errorf("repository path is required")
	}

	reqURL := c.cloneBaseURL()
	reqURL.Path = joinURLPath(reqURL.Path, "projects", url.PathEscape(trimmedPath))

	resp, metadata, err := c.get(ctx, reqURL)
	if err != nil {
		return ProjectResult{}, fmt.Errorf("project lookup request failed: %w", err)
	}

	status := endpointStatusFromHTTP(resp.StatusCode)
	result := ProjectResult{
		Status:   status,
		Metadata: metadata,
	}
	if status != EndpointStatusOK {
		_ = resp.Body.Close()
		return result, nil
	}

	var payload projectPayload
	if err := decodeJSONAndClose(resp, &payload); err != nil {
		return ProjectResult{}, fmt.Errorf("decode project lookup response: %w", err)
	}
	result.Project = Project{
		ID:                payload.ID,
		PathWithNamespace: payload.PathWithNamespace,
	}
	return result, nil
}

// ListBranches lists all branch names of one project, paginating until a
// page comes back shorter than the page size. A non-success page stops
// enumeration; names gathered so far are still returned.
func (c *DataClient) ListBranches(ctx context.Context, projectID int64) (BranchListResult, error) {
	if projectID <= 0 {
		return BranchListResult{}, fmt.Errorf("project id must be > 0")
	}

	result := BranchListResult{
		Status: EndpointStatusOK,
	}
	seen := make(map[string]struct{})
	page := 1
	for {
		reqURL := c.cloneBaseURL()
		reqURL.Path = joinURLPath(reqURL.Path, "projects", strconv.FormatInt(projectID, 10), "repository", "branches")
		query := reqURL.Query()
		query.Set("per_page", strconv.Itoa(c.pageSize))
		query.Set("page", strconv.Itoa(page))
		reqURL.RawQuery = query.Encode()

		resp, metadata, err := c.get(ctx, reqURL)
		result.Metadata = mergeMetadata(result.Metadata, metadata)
		if err != nil {
			return result, fmt.Errorf("list branches request failed: %w", err)
		}

		status := endpointStatusFromHTTP(resp.StatusCode)
		if status != EndpointStatusOK {
			_ = resp.Body.Close()
			result.Status = status
			return result, nil
		}

		var payload []branchPayload
		if err := decodeJSONAndClose(resp, &payload); err != nil {
			return result, fmt.Errorf("decode list branches response: %w", err)
		}

		for _, branch := range payload {
			if branch.Name == "" {
				continue
			}
			if _, ok := seen[branch.Name]; ok {
				continue
			}
			seen[branch.Name] = struct{}{}
			result.Names = append(result.Names, branch.Name)
		}

		if len(payload) < c.pageSize {
			break
		}
		page++
	}

	return result, nil
}

// ListBranchCommits lists commits on one ref within [since, until),
// paginating until a short page. A non-success page status drops that page
// and stops; commits from earlier pages are kept.
func (c *DataClient) ListBranchCommits(ctx context.Context, projectID int64, ref string, since, until time.Time) (CommitListResult, error) {
	if projectID <= 0 {
		return CommitListResult{}, fmt.Errorf("project id must be > 0")
	}
	trimmedRef := strings.TrimSpace(ref)
	if trimmedRef == "" {
		return CommitListResult{}, fmt.Errorf("ref is required")
	}
	if !until.IsZero() && !since.IsZero() && until.Before(since) {
		return CommitListResult{}, fmt.Errorf("until must not be before since")
	}

	result := CommitListResult{
		Status: EndpointStatusOK,
	}
	page := 1
	for {
		reqURL := c.cloneBaseURL()
		reqURL.Path = joinURLPath(reqURL.Path, "projects", strconv.FormatInt(projectID, 10), "repository", "commits")
		query := reqURL.Query()
		query.Set("ref_name", trimmedRef)
		query.Set("per_page", strconv.Itoa(c.pageSize))
		query.Set("page", strconv.Itoa(page))
		if !since.IsZero() {
			query.Set("since", since.UTC().Format(time.RFC3339))
		}
		if !until.IsZero() {
			query.Set("until", until.UTC().Format(time.RFC3339))
		}
		reqURL.RawQuery = query.Encode()

		resp, metadata, err := c.get(ctx, reqURL)
		result.Metadata = mergeMetadata(result.Metadata, metadata)
		if err != nil {
			return result, fmt.Errorf("list commits request failed: %w", err)
		}

		status := endpointStatusFromHTTP(resp.StatusCode)
		if status != EndpointStatusOK {
			_ = resp.Body.Close()
			result.Status = status
			return result, nil
		}

		var payload []commitPayload
		if err := decodeJSONAndClose(resp, &payload); err != nil {
			return result, fmt.Errorf("decode list commits response: %w", err)
		}

		for _, commit := range payload {
			result.Commits = append(result.Commits, Commit{
				ID:          commit.ID,
				Title:       commit.Title,
				AuthorName:  commit.AuthorName,
				AuthorEmail: commit.AuthorEmail,
				CreatedAt:   parseRFC3339(commit.CreatedAt),
				ParentIDs:   commit.ParentIDs,
			})
		}

		if len(payload) < c.pageSize {
			break
		}
		page++
	}

	return result, nil
}

func (c *DataClient) get(ctx context.Context, reqURL *url.URL) (*http.Response, CallMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, CallMetadata{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)
	req.Header.Set("Accept", "application/json")

	resp, metadata, err := c.requestClient.Do(req)
	if err != nil {
		return nil, metadata, err
	}
	if resp == nil {
		return nil, metadata, fmt.Errorf("nil response")
	}
	return resp, metadata, nil
}

func parseAPIBaseURL(raw, domain string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmedDomain := strings.TrimSpace(domain)
		if trimmedDomain == "" {
			return nil, fmt.Errorf("gitlab domain or api base url is required")
		}
		trimmed = "https://" + trimmedDomain + "/api/v4/"
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse gitlab api base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("parse gitlab api base url: missing scheme or host")
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	return parsed, nil
}

func (c *DataClient) cloneBaseURL() *url.URL {
	cloned := *c.baseURL
	return &cloned
}

func joinURLPath(base string, segments ...string) string {
	trimmedBase := strings.TrimSuffix(base, "/")
	builder := strings.Builder{}
	builder.WriteString(trimmedBase)
	for _, segment := range segments {
		builder.WriteString("/")
		builder.WriteString(strings.TrimPrefix(segment, "/"))
	}
	return builder.String()
}

func endpointStatusFromHTTP(statusCode int) EndpointStatus {
	switch statusCode {
	case http.StatusUnauthorized:
		return EndpointStatusUnauthorized
	case http.StatusForbidden:
		return EndpointStatusForbidden
	case http.StatusNotFound:
		return EndpointStatusNotFound
	}
	if statusCode >= 200 && statusCode <= 299 {
		return EndpointStatusOK
	}
	if statusCode >= 500 || statusCode == http.StatusTooManyRequests {
		return EndpointStatusUnavailable
	}
	return EndpointStatusUnknown
}

func decodeJSONAndClose(resp *http.Response, target any) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

func parseRFC3339(raw string) time.Time {
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}

func mergeMetadata(current CallMetadata, incoming CallMetadata) CallMetadata {
	current.Attempts += incoming.Attempts
	current.LastDecision = incoming.LastDecision
	current.LastRateHeaders = incoming.LastRateHeaders
	return current
}

type projectPayload struct {
	ID                int64  `json:"id"`
	PathWithNamespace string `json:"path_with_namespace"`
}

type branchPayload struct {
	Name string `json:"name"`
}

type commitPayload struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	AuthorName  string   `json:"author_name"`
	AuthorEmail string   `json:"author_email"`
	CreatedAt   string   `json:"created_at"`
	ParentIDs   []string `json:"parent_ids"`
}
