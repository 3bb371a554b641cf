package util

import (
	"strings"
	"unicode/utf8"
)

// SafeTruncate truncates s to at most maxLen bytes without panicking or
// splitting a multi-byte character. Invalid UTF-8 sequences are dropped first,
// so the result is always valid UTF-8 and safe for text columns and logs.
//
// If maxLen is negative, it's treated as 0 and returns an empty string.
//
// Example:
//
//	SafeTruncate("Mozilla/5.0 (X11; Linux x86_64)", 7) // Returns: "Mozilla"
//	SafeTruncate("short", 10)                          // Returns: "short"
//	SafeTruncate("héllo", 2)                           // Returns: "h"
//	SafeTruncate("test", -1)                           // Returns: ""
func SafeTruncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	s = strings.ToValidUTF8(s, "")
	if len(s) <= maxLen {
		return s
	}
	// Back up to the start of the rune that straddles maxLen
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// NormalizePath returns a canonical form of a request path: a leading slash,
// duplicate slashes collapsed, and no trailing slash (except for the root).
//
// Example:
//
//	NormalizePath("/api/forecasts/")   // Returns: "/api/forecasts"
//	NormalizePath("api//forecasts")    // Returns: "/api/forecasts"
//	NormalizePath("")                  // Returns: "/"
func NormalizePath(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}
