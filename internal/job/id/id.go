// Package id provides identifier generation and sanitization for jobs.
// Job IDs double as workspace directory names, so they are restricted to
// ASCII letters and digits.
package id

import (
	"strings"

	"github.com/google/uuid"
)

// MaxLength is the longest job ID kept after sanitization.
const MaxLength = 64

// Generate creates a new unique job ID.
// Format: 32 lowercase hex characters (a UUIDv4 without hyphens).
// Example: 3f0c9a1e5b2d4c7e8f9a0b1c2d3e4f50
func Generate() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Sanitize drops every character outside [A-Za-z0-9] from raw and truncates
// the result to MaxLength. It returns "" when nothing usable is left.
func Sanitize(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if b.Len() == MaxLength {
			break
		}
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Resolve returns the sanitized form of requested, or a generated ID when
// requested is empty or sanitizes to nothing.
func Resolve(requested string) string {
	if s := Sanitize(requested); s != "" {
		return s
	}
	return Generate()
}
