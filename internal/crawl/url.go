package crawl

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var invalidFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Canonicalize standardizes a URL so it can serve as an identity key for
// dedup checks and map lookups. It lowercases the scheme and host, removes
// default ports and fragments, normalizes an empty path to "/", and sorts
// query parameters.
func Canonicalize(rawURL string) (string, *url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", nil, fmt.Errorf("url %q is not absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	u.RawQuery = u.Query().Encode()

	return u.String(), u, nil
}

// PathDepth counts the non-empty path segments of a URL.
func PathDepth(u *url.URL) int {
	depth := 0
	for _, seg := range strings.Split(u.EscapedPath(), "/") {
		if seg != "" {
			depth++
		}
	}
	return depth
}

// SameHost reports whether two URLs share a hostname, ignoring case.
func SameHost(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return strings.EqualFold(a.Hostname(), b.Hostname())
}

// FileStem derives a filesystem- and URL-safe stem from a page URL, used to
// name screenshot slice artifacts.
func FileStem(u *url.URL) string {
	host := invalidFilenameChars.ReplaceAllString(u.Hostname(), "_")
	p := strings.Trim(u.EscapedPath(), "/")
	if p == "" {
		return host
	}
	return fmt.Sprintf("%s_%s", host, invalidFilenameChars.ReplaceAllString(p, "_"))
}
