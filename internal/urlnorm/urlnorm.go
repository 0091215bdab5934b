// Package urlnorm validates user-typed addresses and coerces them into
// absolute http(s) URLs before any network round trip is spent on them.
package urlnorm

import (
	"regexp"
	"strings"

	"github.com/JakeFAU/webannotate/internal/webview"
)

// filePrefix marks local-file addresses, which are never proxied.
const filePrefix = "file:/"

var (
	// domainPattern is a heuristic: a domain-like token, a 2-6 letter
	// top-level segment, then optional path/query characters.
	domainPattern = regexp.MustCompile(
		`(?i)(www\.)?[-a-z0-9@:%._+~#=]{2,256}\.[a-z]{2,6}\b([-a-z0-9@:%_+.~#?&/=]*)`,
	)
	schemePattern = regexp.MustCompile(`(?i)^https?://.`)
)

// IsPlausibleURL reports whether input looks enough like a web address to be
// worth sending to the proxy.
func IsPlausibleURL(input string) bool {
	if input == "" {
		return false
	}
	if strings.HasPrefix(strings.ToLower(input), filePrefix) {
		return false
	}
	return domainPattern.MatchString(input)
}

// QualifyScheme prepends https:// unless input already carries an http(s)
// scheme followed by at least one character. Empty input stays empty so the
// function is idempotent for every input.
func QualifyScheme(input string) webview.NormalizedURL {
	if input == "" || schemePattern.MatchString(input) {
		return webview.NormalizedURL(input)
	}
	return webview.NormalizedURL("https://" + input)
}

// Normalize trims, validates, and qualifies raw user input.
func Normalize(raw string) (webview.NormalizedURL, error) {
	trimmed := strings.TrimSpace(raw)
	if !IsPlausibleURL(trimmed) {
		return "", webview.NewError(webview.KindValidation, webview.MsgInvalidURL, nil)
	}
	return QualifyScheme(trimmed), nil
}
