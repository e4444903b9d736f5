// Package sheetsink talks to the spreadsheet webhook backing the report: a
// Google Apps Script web app that writes per-person daily counts into a
// dated header grid and serves the official roster back out of it.
package sheetsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tallyhq/gitlab-tally/internal/identity"
	"github.com/tallyhq/gitlab-tally/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// HeaderSpec locates the dated header rows in the report sheet so the
// webhook can map day buckets onto columns.
type HeaderSpec struct {
	MonthRow     int `json:"monthRow"`
	DayRow       int `json:"dayRow"`
	WeekdayRow   int `json:"weekdayRow"`
	StartDateCol int `json:"startDateCol"`
}

// Config configures the webhook sink client. RosterSheetName defaults to
// SheetName when empty.
type Config struct {
	WebhookURL      string
	SpreadsheetID   string
	SheetName       string
	RosterSheetName string
	HeaderRow       int
	NameCol         int
	HeaderSpec      HeaderSpec
	HTTPClient      *http.Client
}

// Client is the webhook sink. The webhook reports application failures as
// {"ok": false} with a 200 status, so both transport and payload level
// outcomes are checked.
type Client struct {
	webhookURL      string
	spreadsheetID   string
	sheetName       string
	rosterSheetName string
	headerRow       int
	nameCol         int
	headerSpec      HeaderSpec
	httpClient      *http.Client
}

// WriteRequest carries one run's counts to the sheet. Counts is keyed by
// canonical person name, then by local day bucket.
type WriteRequest struct {
	SpreadsheetID string                    `json:"spreadsheetId"`
	SheetName     string                    `json:"sheetName"`
	HeaderRow     int                       `json:"headerRow"`
	NameCol       int                       `json:"nameCol"`
	Counts        map[string]map[string]int `json:"counts"`
}

// NewClient builds a webhook sink client.
func NewClient(cfg Config) (*Client, error) {
	webhookURL := strings.TrimSpace(cfg.WebhookURL)
	if webhookURL == "" {
		return nil, fmt.Errorf("sheet webhook url is required")
	}
	parsed, err := url.Parse(webhookURL)
	if err != nil {
		return nil, fmt.Errorf("parse sheet webhook url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("parse sheet webhook url: missing scheme or host")
	}
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	if strings.TrimSpace(cfg.SheetName) == "" {
		return nil, fmt.Errorf("sheet name is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	rosterSheetName := cfg.RosterSheetName
	if rosterSheetName == "" {
		rosterSheetName = cfg.SheetName
	}

	return &Client{
		webhookURL:      webhookURL,
		spreadsheetID:   cfg.SpreadsheetID,
		sheetName:       cfg.SheetName,
		rosterSheetName: rosterSheetName,
		headerRow:       cfg.HeaderRow,
		nameCol:         cfg.NameCol,
		headerSpec:      cfg.HeaderSpec,
		httpClient:      httpClient,
	}, nil
}

// WriteCounts posts one run's per-person daily counts to the sheet.
func (c *Client) WriteCounts(ctx context.Context, counts map[string]map[string]int) error {
	var span trace.Span
	if telemetry.ShouldTraceDependencies() {
		ctx, span = otel.Tracer("gitlab-tally/internal/sheetsink").Start(
			ctx,
			"sheetsink.write_counts",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(attribute.Int("sheetsink.people", len(counts))),
		)
		defer span.End()
	}

	body := WriteRequest{
		SpreadsheetID: c.spreadsheetID,
		SheetName:     c.sheetName,
		HeaderRow:     c.headerRow,
		NameCol:       c.nameCol,
		Counts:        counts,
	}

	var response struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := c.doJSON(ctx, body, &response); err != nil {
		return err
	}
	if !response.OK {
		if response.Error != "" {
			return fmt.Errorf("sheet write rejected: %s", response.Error)
		}
		return fmt.Errorf("sheet write rejected")
	}
	return nil
}

// ListNames fetches the official roster from the sheet: the ordered official
// name list plus the team assignment table.
func (c *Client) ListNames(ctx context.Context) (identity.Roster, error) {
	var span trace.Span
	if telemetry.ShouldTraceDependencies() {
		ctx, span = otel.Tracer("gitlab-tally/internal/sheetsink").Start(
			ctx,
			"sheetsink.list_names",
			trace.WithSpanKind(trace.SpanKindClient),
		)
		defer span.End()
	}

	body := struct {
		Mode          string     `json:"mode"`
		SpreadsheetID string     `json:"spreadsheetId"`
		SheetName     string     `json:"sheetName"`
		HeaderSpec    HeaderSpec `json:"headerSpec"`
	}{
		Mode:          "listNames",
		SpreadsheetID: c.spreadsheetID,
		SheetName:     c.rosterSheetName,
		HeaderSpec:    c.headerSpec,
	}

	var response struct {
		OK          bool              `json:"ok"`
		Error       string            `json:"error"`
		Names       []string          `json:"names"`
		TeamsByName map[string]string `json:"teamsByName"`
	}
	if err := c.doJSON(ctx, body, &response); err != nil {
		return identity.Roster{}, err
	}
	if !response.OK {
		if response.Error != "" {
			return identity.Roster{}, fmt.Errorf("roster fetch rejected: %s", response.Error)
		}
		return identity.Roster{}, fmt.Errorf("roster fetch rejected")
	}

	if span != nil {
		span.SetAttributes(attribute.Int("sheetsink.names", len(response.Names)))
	}
	return identity.Roster{
		OfficialNames: response.Names,
		TeamsByName:   response.TeamsByName,
		FetchedAt:     time.Now().UTC(),
	}, nil
}

func (c *Client) doJSON(ctx context.Context, body any, decodeTarget any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal sheet webhook request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create sheet webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute sheet webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if readErr != nil {
			return fmt.Errorf("sheet webhook request failed: status=%d body-read-error=%v", resp.StatusCode, readErr)
		}
		return fmt.Errorf("sheet webhook request failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	if decodeTarget == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(decodeTarget); err != nil {
		return fmt.Errorf("decode sheet webhook response: %w", err)
	}
	return nil
}
