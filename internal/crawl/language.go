package crawl

import (
	"net/url"
	"strings"
)

// languageQueryParams are the query keys checked for a language marker, in
// order.
var languageQueryParams = []string{"lang", "language", "locale", "l"}

// AllowListDetector detects language codes against a fixed allow-list. It
// recognizes a path prefix ("/fr/..."), a query parameter ("?lang=fr"), or a
// language subdomain ("fr.example.com"). URLs without a recognized marker
// yield no code at all.
type AllowListDetector struct {
	codes       map[string]struct{}
	defaultCode string
}

// DefaultLanguageCodes is the allow-list used when none is supplied.
var DefaultLanguageCodes = []string{"en", "es", "fr", "de", "it", "pt", "nl", "ru", "zh", "ja"}

// NewAllowListDetector builds a detector for the given codes. Empty inputs
// fall back to DefaultLanguageCodes and "en".
func NewAllowListDetector(codes []string, defaultCode string) *AllowListDetector {
	if len(codes) == 0 {
		codes = DefaultLanguageCodes
	}
	if defaultCode == "" {
		defaultCode = "en"
	}
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}
	return &AllowListDetector{codes: set, defaultCode: strings.ToLower(defaultCode)}
}

// Default returns the language assumed when the start URL has no marker.
func (d *AllowListDetector) Default() string {
	return d.defaultCode
}

// Detect returns the language code found in u, if any.
func (d *AllowListDetector) Detect(u *url.URL) (string, bool) {
	if u == nil {
		return "", false
	}
	if code, ok := d.fromPath(u); ok {
		return code, true
	}
	if code, ok := d.fromQuery(u); ok {
		return code, true
	}
	return d.fromSubdomain(u)
}

// PathLanguagePrefix reports whether the first path segment is a recognized
// language code. Section-key derivation uses it to skip the prefix.
func (d *AllowListDetector) PathLanguagePrefix(u *url.URL) (string, bool) {
	return d.fromPath(u)
}

func (d *AllowListDetector) fromPath(u *url.URL) (string, bool) {
	segs := strings.Split(strings.Trim(u.EscapedPath(), "/"), "/")
	if len(segs) == 0 || segs[0] == "" {
		return "", false
	}
	return d.match(segs[0])
}

func (d *AllowListDetector) fromQuery(u *url.URL) (string, bool) {
	q := u.Query()
	for _, key := range languageQueryParams {
		if v := q.Get(key); v != "" {
			if code, ok := d.match(v); ok {
				return code, true
			}
		}
	}
	return "", false
}

func (d *AllowListDetector) fromSubdomain(u *url.URL) (string, bool) {
	parts := strings.Split(u.Hostname(), ".")
	if len(parts) < 3 {
		return "", false
	}
	return d.match(parts[0])
}

// match normalizes locale forms like "en-US" or "en_US" down to the bare
// code before checking the allow-list.
func (d *AllowListDetector) match(raw string) (string, bool) {
	code := strings.ToLower(raw)
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	if len(code) != 2 {
		return "", false
	}
	if _, ok := d.codes[code]; !ok {
		return "", false
	}
	return code, true
}
