package catalog

import "strings"

// ParseNames splits a comma-delimited free-text list into normalized names:
// segments are trimmed, blanks dropped, and exact duplicates collapsed while
// keeping first-seen order. Malformed input (consecutive commas, trailing
// separators) degrades to fewer names rather than an error.
func ParseNames(raw string) []string {
	segments := strings.Split(raw, ",")
	names := make([]string, 0, len(segments))
	seen := make(map[string]struct{}, len(segments))
	for _, segment := range segments {
		name := strings.TrimSpace(segment)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}
