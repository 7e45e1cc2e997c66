package stage

import "strings"

// containsForbidden reports whether text contains any of the caller-supplied
// forbidden substrings, case-insensitively. Stage C and Stage G both run
// this in addition to the provider's own ContentModeration classification,
// since forbidden_elements is a per-job list the provider has no knowledge
// of (spec.md §4.2 Stage C contract).
func containsForbidden(text string, forbidden []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, f := range forbidden {
		if f == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(f)) {
			return f, true
		}
	}
	return "", false
}
