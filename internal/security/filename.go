// Package security sanitizes untrusted identifiers before they reach file
// names or HTTP headers.
package security

import (
	"strings"
	"unicode/utf8"
)

const maxNameLen = 128

func allowed(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.', r == '_', r == '-':
		return true
	}
	return false
}

// SanitizeFilename maps s onto [A-Za-z0-9._-]. Each run of other characters
// becomes a single underscore, leading and trailing dots and underscores
// are dropped, and the result is capped at 128 bytes. An empty result
// becomes "unknown".
func SanitizeFilename(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range s {
		if b.Len() >= maxNameLen {
			break
		}
		if r == utf8.RuneError || !allowed(r) {
			if !pending {
				b.WriteByte('_')
				pending = true
			}
			continue
		}
		b.WriteRune(r)
		pending = false
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

// ArtifactName joins sanitized parts with dashes and appends ext, e.g.
// ArtifactName("png", "blandaltman", sessionID, "polar").
func ArtifactName(ext string, parts ...string) string {
	clean := make([]string, len(parts))
	for i, p := range parts {
		clean[i] = SanitizeFilename(p)
	}
	return strings.Join(clean, "-") + "." + strings.TrimPrefix(ext, ".")
}
