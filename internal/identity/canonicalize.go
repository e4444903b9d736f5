package identity

import "strings"

// Resolution rule names, reported alongside the canonical name so callers
// can log which rule matched.
const (
	RuleExactName       = "exact_name"
	RuleCaseFoldedName  = "case_folded_name"
	RuleCaseFoldedEmail = "case_folded_email"
	RuleRawName         = "raw_name"
	RuleUnknown         = "unknown"
)

// resolver is one step in the fixed-priority resolution chain. An exact
// display-name hit is trusted first; email outranks the loose name match but
// never the exact one.
type resolver struct {
	rule    string
	resolve func(idx *Index, rawName, lowName, lowEmail string) (string, bool)
}

var resolvers = []resolver{
	{
		rule: RuleExactName,
		resolve: func(idx *Index, rawName, _, _ string) (string, bool) {
			if rawName == "" {
				return "", false
			}
			canonical, ok := idx.names[rawName]
			return canonical, ok
		},
	},
	{
		rule: RuleCaseFoldedName,
		resolve: func(idx *Index, _, lowName, _ string) (string, bool) {
			if lowName == "" {
				return "", false
			}
			canonical, ok := idx.names[lowName]
			return canonical, ok
		},
	},
	{
		rule: RuleCaseFoldedEmail,
		resolve: func(idx *Index, _, _, lowEmail string) (string, bool) {
			if lowEmail == "" {
				return "", false
			}
			canonical, ok := idx.emails[lowEmail]
			return canonical, ok
		},
	},
}

// Canonicalize maps a raw author (name, email) pair to a canonical person
// name. Unresolvable identities fall back to the raw name verbatim, or
// UnknownName when even that is blank.
func (idx *Index) Canonicalize(authorName, authorEmail string) (string, string) {
	rawName := strings.TrimSpace(authorName)
	lowName := strings.ToLower(rawName)
	lowEmail := strings.ToLower(strings.TrimSpace(authorEmail))

	if idx != nil {
		for _, r := range resolvers {
			if canonical, ok := r.resolve(idx, rawName, lowName, lowEmail); ok {
				return canonical, r.rule
			}
		}
	}

	if rawName != "" {
		return rawName, RuleRawName
	}
	return UnknownName, RuleUnknown
}
