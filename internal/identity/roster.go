// Package identity resolves raw commit author name/email pairs to canonical
// person identities using a roster of official names plus a user-maintained
// alias and email map.
package identity

import "time"

// MemberProfile holds the configured alias/email/team data for one person.
type MemberProfile struct {
	Team    string   `yaml:"team" json:"team"`
	Aliases []string `yaml:"aliases" json:"aliases"`
	Emails  []string `yaml:"emails" json:"emails"`
}

// Roster is the official-name list and team table supplied by the reporting
// sheet. It is rebuilt (or served from cache) at the start of every run.
type Roster struct {
	OfficialNames []string          `json:"official_names"`
	TeamsByName   map[string]string `json:"teams_by_name"`
	FetchedAt     time.Time         `json:"fetched_at"`
}

// TeamFor resolves a person's team: an explicit member-map team wins, then
// the roster team table, then empty.
func TeamFor(canonical string, members map[string]MemberProfile, roster Roster) string {
	if profile, ok := members[canonical]; ok && profile.Team != "" {
		return profile.Team
	}
	if roster.TeamsByName != nil {
		return roster.TeamsByName[canonical]
	}
	return ""
}
