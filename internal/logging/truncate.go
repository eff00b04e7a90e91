package logging

import "unicode/utf8"

// MaxLogFieldLength bounds string fields such as remote command output.
const MaxLogFieldLength = 1024

// Truncate shortens s to MaxLogFieldLength bytes, appending "..." when cut.
func Truncate(s string) string {
	return TruncateN(s, MaxLogFieldLength)
}

// TruncateN shortens s to at most n bytes without splitting a UTF-8
// sequence, appending "..." when cut.
func TruncateN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
