package store

import "strings"

// Sanitize replaces the characters a scoped package name embeds ('@' and
// '/') with filesystem-safe tokens, per spec §4.3/§6.
func Sanitize(name string) string {
	s := strings.ReplaceAll(name, "@", "_at_")
	s = strings.ReplaceAll(s, "/", "_slash_")
	return s
}

// Unsanitize reverses Sanitize, used by the cache index to recover a
// package name from a store directory name (spec §4.6: "parses
// directory names back into (name, version, hash)").
func Unsanitize(sanitized string) string {
	s := strings.ReplaceAll(sanitized, "_slash_", "/")
	s = strings.ReplaceAll(s, "_at_", "@")
	return s
}
