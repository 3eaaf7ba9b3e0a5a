package records

import "strings"

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeChannelName canonicalizes a channel name for uniqueness checks.
// "General" and " general " collide; the display form keeps the caller's casing.
func NormalizeChannelName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
