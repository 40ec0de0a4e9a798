package utils

import "strings"

// Truncate flattens s onto one line and cuts it to at most maxLen runes,
// ending with "..." when something was dropped. Response bodies and raw
// payloads go through it before reaching logs or chat.
func Truncate(s string, maxLen int) string {
	if strings.ContainsAny(s, "\r\n\t") {
		s = strings.Join(strings.Fields(s), " ")
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
