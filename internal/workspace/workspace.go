// Package workspace maps caller-supplied workspace identifiers (paths,
// project names, mixed-case labels) to the canonical slug used as the
// storage partition key.
package workspace

import "strings"

// Default is the workspace used when the caller supplies nothing usable.
const Default = "default"

// Normalize folds s into a canonical slug. When s contains a path separator
// ('/' or '\') only its last non-empty segment is kept. The result is
// lower-case, every maximal run of characters outside [a-z0-9] becomes a
// single hyphen, and leading/trailing hyphens are trimmed.
//
// Normalize is pure and idempotent; it never touches the filesystem.
func Normalize(s string) string {
	if strings.ContainsAny(s, `/\`) {
		s = lastSegment(s)
	}

	var b strings.Builder
	b.Grow(len(s))
	pendingHyphen := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	return b.String()
}

// Resolve returns the canonical workspace for a call: the explicit name when
// it normalizes to something non-empty, else the caller's working directory,
// else Default.
func Resolve(explicit, cwd string) string {
	if ws := Normalize(explicit); ws != "" {
		return ws
	}
	if ws := Normalize(cwd); ws != "" {
		return ws
	}
	return Default
}

// IsCanonical reports whether s is already a normalized, non-empty slug.
func IsCanonical(s string) bool {
	return s != "" && Normalize(s) == s
}

func lastSegment(s string) string {
	s = strings.TrimRight(s, `/\`)
	if i := strings.LastIndexAny(s, `/\`); i >= 0 {
		return s[i+1:]
	}
	return s
}
