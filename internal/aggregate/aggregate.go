package aggregate

import (
	"fmt"
	"sort"

	"github.com/tallyhq/gitlab-tally/internal/collect"
	"github.com/tallyhq/gitlab-tally/internal/dedup"
	"github.com/tallyhq/gitlab-tally/internal/identity"
)

// previewLimit caps each person's detail preview in the run output.
const previewLimit = 20

// LedgerEntry records one counted commit for one person. Day is the bucketed
// local day, not the raw commit timestamp.
type LedgerEntry struct {
	Person   string `json:"person"`
	Day      string `json:"day"`
	Repo     string `json:"repo"`
	Title    string `json:"title"`
	CommitID string `json:"commit_id"`
}

// PersonLedger is one person's counted commits, sorted ascending by day.
// Entries never repeat a commit id.
type PersonLedger struct {
	Person  string        `json:"person"`
	Team    string        `json:"team"`
	Entries []LedgerEntry `json:"entries"`
}

// SummaryRow is one line of the team-sorted run summary.
type SummaryRow struct {
	Person      string         `json:"person"`
	Team        string         `json:"team"`
	Total       int            `json:"total"`
	CountsByDay map[string]int `json:"counts_by_day"`
}

// Result is the complete aggregation output for one run. PreviewDetail is a
// strict per-person truncation of the corresponding ledger, never a re-sort.
type Result struct {
	CountsByPersonAndDay map[string]map[string]int `json:"counts_by_person_and_day"`
	Ledgers              []PersonLedger            `json:"ledgers"`
	Summary              []SummaryRow              `json:"summary"`
	PreviewDetail        map[string][]LedgerEntry  `json:"preview_detail"`
	RuleCounts           map[string]int            `json:"rule_counts"`
	Warnings             []string                  `json:"warnings,omitempty"`
}

// Aggregate resolves each commit's author to a canonical person, dedups each
// person's commits by id, and buckets counts by local calendar day. The
// summary is sorted by team then person name, with the empty team last.
func Aggregate(commits []collect.CommitRecord, index *identity.Index, members map[string]identity.MemberProfile, roster identity.Roster, offsetMinutes int) Result {
	result := Result{
		CountsByPersonAndDay: make(map[string]map[string]int),
		RuleCounts:           make(map[string]int),
	}

	byPerson := make(map[string][]collect.CommitRecord)
	var personOrder []string
	for _, record := range commits {
		canonical, rule := index.Canonicalize(record.AuthorName, record.AuthorEmail)
		result.RuleCounts[rule]++
		if _, ok := byPerson[canonical]; !ok {
			personOrder = append(personOrder, canonical)
		}
		byPerson[canonical] = append(byPerson[canonical], record)
	}

	for _, person := range personOrder {
		// A commit reachable through several identities of the same person
		// still counts once.
		unique := dedup.ByKey(byPerson[person], func(record collect.CommitRecord) string {
			return record.ID
		})
		team := identity.TeamFor(person, members, roster)
		if team == "" && person != identity.UnknownName {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("no team recorded for %q", person))
		}

		ledger := PersonLedger{
			Person: person,
			Team:   team,
		}
		counts := make(map[string]int)
		for _, record := range unique {
			day := Day(record.CreatedAt, offsetMinutes)
			counts[day]++
			ledger.Entries = append(ledger.Entries, LedgerEntry{
				Person:   person,
				Day:      day,
				Repo:     record.RepoLabel,
				Title:    record.Title,
				CommitID: record.ID,
			})
		}
		sort.SliceStable(ledger.Entries, func(i, j int) bool {
			return ledger.Entries[i].Day < ledger.Entries[j].Day
		})
		result.CountsByPersonAndDay[person] = counts
		result.Ledgers = append(result.Ledgers, ledger)
	}

	result.Summary = buildSummary(result.Ledgers, result.CountsByPersonAndDay)
	result.PreviewDetail = buildPreview(result.Ledgers)
	return result
}

func buildSummary(ledgers []PersonLedger, counts map[string]map[string]int) []SummaryRow {
	rows := make([]SummaryRow, 0, len(ledgers))
	for _, ledger := range ledgers {
		total := 0
		for _, count := range counts[ledger.Person] {
			total += count
		}
		rows = append(rows, SummaryRow{
			Person:      ledger.Person,
			Team:        ledger.Team,
			Total:       total,
			CountsByDay: counts[ledger.Person],
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		left, right := rows[i], rows[j]
		if left.Team != right.Team {
			// People without a team sort after every named team.
			if left.Team == "" {
				return false
			}
			if right.Team == "" {
				return true
			}
			return left.Team < right.Team
		}
		return left.Person < right.Person
	})
	return rows
}

func buildPreview(ledgers []PersonLedger) map[string][]LedgerEntry {
	preview := make(map[string][]LedgerEntry, len(ledgers))
	for _, ledger := range ledgers {
		entries := ledger.Entries
		if len(entries) > previewLimit {
			entries = entries[:previewLimit]
		}
		preview[ledger.Person] = entries
	}
	return preview
}
