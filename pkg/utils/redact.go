package utils

import (
	neturl "net/url"
	"strings"
)

// RedactURL keeps only scheme, host and path of rawURL so that tokens carried
// in query strings or userinfo never reach logs or chat replies.
func RedactURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}
	u, err := neturl.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "<invalid url>"
	}
	redacted := u.Scheme + "://" + u.Host + u.EscapedPath()
	if u.RawQuery != "" {
		redacted += "?..."
	}
	return redacted
}

// IsHTTPURL reports whether s is an absolute http(s) URL.
func IsHTTPURL(s string) bool {
	lower := strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// JoinURL appends pathPart to base with exactly one slash between them.
func JoinURL(base, pathPart string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	pathPart = strings.TrimSpace(pathPart)
	if base == "" {
		return pathPart
	}
	if pathPart == "" {
		return base
	}
	if IsHTTPURL(pathPart) {
		return pathPart
	}
	return base + "/" + strings.TrimLeft(pathPart, "/")
}
