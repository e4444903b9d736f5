package identity

import (
	"fmt"
	"strings"
)

// UnknownName is the sentinel canonical name for authors whose raw name is
// blank and whose email resolves to nobody.
const UnknownName = "(unknown)"

// Index is the immutable alias lookup structure built once per aggregation
// run. Name keys are registered in both literal and trimmed-lowercased form;
// email keys are always trimmed-lowercased.
type Index struct {
	names  map[string]string
	emails map[string]string
}

// BuildIndex compiles the official roster names and the member alias/email
// map into an Index. Registration is first-writer-wins: a key already bound
// to a canonical name is never overwritten, and an attempt to bind it to a
// different canonical name is reported as a configuration warning.
func BuildIndex(officialNames []string, members map[string]MemberProfile) (*Index, []string) {
	index := &Index{
		names:  make(map[string]string),
		emails: make(map[string]string),
	}
	var warnings []string

	for _, name := range officialNames {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		warnings = index.registerName(trimmed, trimmed, warnings)
	}

	for canonical, profile := range members {
		trimmedCanonical := strings.TrimSpace(canonical)
		if trimmedCanonical == "" {
			continue
		}
		warnings = index.registerName(trimmedCanonical, trimmedCanonical, warnings)

		for _, alias := range profile.Aliases {
			trimmedAlias := strings.TrimSpace(alias)
			if trimmedAlias == "" {
				continue
			}
			warnings = index.registerName(trimmedAlias, trimmedCanonical, warnings)
		}
		for _, email := range profile.Emails {
			normalized := strings.ToLower(strings.TrimSpace(email))
			if normalized == "" {
				continue
			}
			warnings = index.registerEmail(normalized, trimmedCanonical, warnings)
		}
	}

	return index, warnings
}

func (idx *Index) registerName(key, canonical string, warnings []string) []string {
	warnings = registerKey(idx.names, key, canonical, "name", warnings)
	return registerKey(idx.names, strings.ToLower(strings.TrimSpace(key)), canonical, "name", warnings)
}

func (idx *Index) registerEmail(key, canonical string, warnings []string) []string {
	return registerKey(idx.emails, key, canonical, "email", warnings)
}

func registerKey(table map[string]string, key, canonical, kind string, warnings []string) []string {
	existing, ok := table[key]
	if !ok {
		table[key] = canonical
		return warnings
	}
	if existing != canonical {
		warnings = append(warnings, fmt.Sprintf(
			"%s %q is registered to both %q and %q; keeping %q",
			kind, key, existing, canonical, existing,
		))
	}
	return warnings
}
