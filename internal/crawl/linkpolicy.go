package crawl

import (
	"net/url"
	"regexp"
)

// linkRule is one named blocklist pattern applied to a link's path.
type linkRule struct {
	name    string
	pattern *regexp.Regexp
}

// defaultLinkRules is the ordered, data-driven blocklist applied to every
// discovered link before it reaches the admission pipeline.
var defaultLinkRules = []linkRule{
	{"document", regexp.MustCompile(`(?i)\.(pdf|docx?|xlsx?|pptx?|rtf|csv)$`)},
	{"archive", regexp.MustCompile(`(?i)\.(zip|tar|gz|tgz|bz2|rar|7z|dmg|exe|msi)$`)},
	{"media", regexp.MustCompile(`(?i)\.(png|jpe?g|gif|svg|webp|ico|mp4|webm|mp3|wav|woff2?|ttf|eot|js|css|map|json|xml)$`)},
	{"api", regexp.MustCompile(`(?i)(^|/)api(/|$)`)},
	{"assets", regexp.MustCompile(`(?i)(^|/)(assets|static|media|fonts|_next|__assets|wp-content/uploads)(/|$)`)},
}

// LinkPolicy rejects discovered links that should never enter the admission
// pipeline: offsite links, blocklisted paths, and fragment-only or
// query-only variants of the referring page.
type LinkPolicy struct {
	rules []linkRule
}

// NewLinkPolicy builds a policy with the default blocklist.
func NewLinkPolicy() *LinkPolicy {
	return &LinkPolicy{rules: defaultLinkRules}
}

// Allow evaluates link against the policy. base is the page the link was
// discovered on. On rejection the returned reason names the matched rule.
func (p *LinkPolicy) Allow(base, link *url.URL) (reason string, ok bool) {
	if link == nil || (link.Scheme != "http" && link.Scheme != "https") {
		return "scheme", false
	}
	if !SameHost(base, link) {
		return "offsite", false
	}
	path := link.EscapedPath()
	for _, r := range p.rules {
		if r.pattern.MatchString(path) {
			return r.name, false
		}
	}
	if base != nil && path == base.EscapedPath() {
		// Fragments are stripped during canonicalization, so a
		// fragment-only variant collapses onto the referring page.
		if link.RawQuery == base.RawQuery {
			return "fragment-variant", false
		}
		return "query-variant", false
	}
	return "", true
}
