// Package urlutil resolves and normalizes page URLs.
package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// Normalize standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports and fragments,
// sorts query parameters and gives an empty path a single slash.
func Normalize(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" && u.Host != "" {
		u.Path = "/"
	}

	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}

	return u.String(), nil
}

// Loose normalizes like Normalize and then drops the query string and any
// trailing slash beyond the root.
func Loose(rawURL string) string {
	norm, err := Normalize(rawURL)
	if err != nil {
		return strings.TrimSpace(rawURL)
	}
	u, err := url.Parse(norm)
	if err != nil {
		return norm
	}
	u.RawQuery = ""
	u.ForceQuery = false
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		if u.Path == "" {
			u.Path = "/"
		}
	}
	u.RawPath = ""
	return u.String()
}

// Resolve resolves ref against base. On any failure the trimmed literal is
// returned unchanged.
func Resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if base == nil || ref == "" {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}

// Host returns the lowercased hostname of raw, or "" when it cannot be parsed.
func Host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// SameHost compares hostnames case-insensitively.
func SameHost(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return strings.EqualFold(a.Hostname(), b.Hostname())
}

// SameSite compares hostnames ignoring a leading "www.".
func SameSite(a, b string) bool {
	ha, hb := stripWWW(Host(a)), stripWWW(Host(b))
	return ha != "" && ha == hb
}

// Equivalent reports whether two URLs point at the same page once
// normalized loosely.
func Equivalent(a, b string) bool {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return false
	}
	return Loose(a) == Loose(b)
}

// IsNavigable reports whether an href can lead to another page.
func IsNavigable(href string) bool {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return false
	}
	lower := strings.ToLower(href)
	for _, prefix := range []string{"javascript:", "mailto:", "tel:", "data:", "sms:", "ftp:"} {
		if strings.HasPrefix(lower, prefix) {
			return false
		}
	}
	return true
}

// IsHTTP reports whether raw is an absolute http(s) URL.
func IsHTTP(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func stripWWW(host string) string {
	return strings.TrimPrefix(host, "www.")
}
