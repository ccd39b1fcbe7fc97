package permission

import "strings"

// Wildcard grants every permission in every scope.
const Wildcard = "*:*:*"

const segments = 3

// Matches reports whether a granted permission key covers a required one.
// Keys have the form scope:resource:action; a granted segment of "*"
// covers any required segment. Malformed keys never match.
func Matches(granted, required string) bool {
	g := strings.Split(granted, ":")
	r := strings.Split(required, ":")
	if len(g) != segments || len(r) != segments {
		return false
	}
	for i := 0; i < segments; i++ {
		if g[i] == "" || r[i] == "" {
			return false
		}
		if g[i] != "*" && g[i] != r[i] {
			return false
		}
	}
	return true
}

// ValidKey reports whether key is a well-formed scope:resource:action
// triple. Segments may be "*" but never empty.
func ValidKey(key string) bool {
	parts := strings.Split(key, ":")
	if len(parts) != segments {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}

// HasPermission reports whether any granted key covers the required one.
func HasPermission(granted []string, required string) bool {
	for _, g := range granted {
		if Matches(g, required) {
			return true
		}
	}
	return false
}

// Dedupe returns the keys with blanks and duplicates removed, preserving
// first-seen order.
func Dedupe(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
