// Package origin validates mini-app launch URLs and embed origins against an app's allow-lists.
// Every function is pure; any parse failure is a rejection.
package origin

import (
	"net"
	"net/url"
	"regexp"
	"strings"

	"miniapp-sso/backend/internal/miniapp/domain"
)

// IsAllowedStartURL reports whether rawURL may be used to launch app.
// The scheme must be http or https, the URL's origin must be in app.AllowedOrigins,
// and when app.AllowedStartURLPatterns is non-empty the normalized path+query must
// match at least one of them.
func IsAllowedStartURL(app *domain.App, rawURL string) bool {
	if app == nil {
		return false
	}
	u, ok := parseHTTPURL(rawURL)
	if !ok {
		return false
	}
	if !originAllowed(originOf(u), app.AllowedOrigins) {
		return false
	}
	if len(app.AllowedStartURLPatterns) == 0 {
		return true
	}
	pathWithQuery := PathWithQuery(u)
	for _, p := range app.AllowedStartURLPatterns {
		if MatchPathPattern(pathWithQuery, p) {
			return true
		}
	}
	return false
}

// MatchPathPattern tests a path+query string against one pattern.
// exact compares for equality, prefix checks the leading bytes, and regex must match
// the whole string. Unknown types and invalid expressions never match.
func MatchPathPattern(pathWithQuery string, pattern domain.StartURLPattern) bool {
	s := normalizePath(pathWithQuery)
	switch pattern.PatternType {
	case domain.PatternExact:
		return s == normalizePath(pattern.Value)
	case domain.PatternPrefix:
		return strings.HasPrefix(s, normalizePath(pattern.Value))
	case domain.PatternRegex:
		if pattern.Value == "" {
			return false
		}
		re, err := regexp.Compile(`^(?:` + pattern.Value + `)$`)
		if err != nil {
			return false
		}
		return re.MatchString(s)
	default:
		return false
	}
}

// Origin returns the normalized scheme://host[:port] of an http(s) URL.
func Origin(rawURL string) (string, bool) {
	u, ok := parseHTTPURL(rawURL)
	if !ok {
		return "", false
	}
	return originOf(u), true
}

// SameOrigin reports whether two http(s) URLs or origins share a normalized origin.
func SameOrigin(a, b string) bool {
	oa, ok := Origin(a)
	if !ok {
		return false
	}
	ob, ok := Origin(b)
	return ok && oa == ob
}

// PathWithQuery returns the escaped path of u, with "?query" appended when present,
// always starting with "/".
func PathWithQuery(u *url.URL) string {
	s := u.EscapedPath()
	if u.RawQuery != "" || u.ForceQuery {
		s += "?" + u.RawQuery
	}
	return normalizePath(s)
}

func parseHTTPURL(rawURL string) (*url.URL, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, false
	}
	if u.Hostname() == "" {
		return nil, false
	}
	u.Scheme = scheme
	return u, true
}

// originOf lower-cases the host and drops the scheme's default port.
func originOf(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "https" && port == "443") || (u.Scheme == "http" && port == "80") {
		port = ""
	}
	if port != "" {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return u.Scheme + "://" + host
}

func originAllowed(o string, allowed []string) bool {
	for _, a := range allowed {
		if n, ok := Origin(a); ok && n == o {
			return true
		}
	}
	return false
}

func normalizePath(s string) string {
	if !strings.HasPrefix(s, "/") {
		return "/" + s
	}
	return s
}
