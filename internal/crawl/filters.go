package crawl

import (
	"net/url"
	"strings"
)

// Candidate is a discovered URL entering the admission pipeline.
type Candidate struct {
	Canonical string
	URL       *url.URL
	Depth     int
}

// NewCandidate canonicalizes a raw URL into a Candidate.
func NewCandidate(rawURL string) (Candidate, error) {
	canonical, u, err := Canonicalize(rawURL)
	if err != nil {
		return Candidate{}, err
	}
	return Candidate{Canonical: canonical, URL: u, Depth: PathDepth(u)}, nil
}

// AdmissionFilter is one ordered admission predicate. It returns a rejection
// reason, or "" to pass the candidate to the next filter.
type AdmissionFilter struct {
	Name  string
	Check func(c Candidate, s *Session) (reason string)
}

// AdmissionPolicy evaluates the ordered filter chain for every discovered
// link. Checks are re-evaluated live on each call because session counters
// mutate during the crawl; nothing is cached.
type AdmissionPolicy struct {
	cfg         CrawlConfig
	detector    LanguageDetector
	defaultLang string
	filters     []AdmissionFilter
}

// NewAdmissionPolicy builds the filter chain for one crawl. start is the
// canonicalized start URL; its detected language (or the detector default)
// becomes the crawl's default language.
func NewAdmissionPolicy(cfg CrawlConfig, detector LanguageDetector, start *url.URL) *AdmissionPolicy {
	p := &AdmissionPolicy{cfg: cfg, detector: detector}
	p.defaultLang = detector.Default()
	if code, ok := detector.Detect(start); ok {
		p.defaultLang = code
	}
	p.filters = []AdmissionFilter{
		{Name: "duplicate", Check: p.checkDuplicate},
		{Name: "language", Check: p.checkLanguage},
		{Name: "depth", Check: p.checkDepth},
		{Name: "section-sample", Check: p.checkSectionSample},
		{Name: "page-budget", Check: p.checkPageBudget},
	}
	return p
}

// Admit runs the chain in order, short-circuiting on the first rejection.
// On admission it mutates the session: the URL joins the visited set and the
// section and page counters advance.
func (p *AdmissionPolicy) Admit(c Candidate, s *Session) (reason string, admitted bool) {
	for _, f := range p.filters {
		if r := f.Check(c, s); r != "" {
			return r, false
		}
	}
	s.MarkVisited(c.Canonical)
	s.CountSection(p.SectionKey(c.URL))
	s.CountPage()
	return "", true
}

// DefaultLanguage returns the language the crawl is pinned to when
// DefaultLanguageOnly is set.
func (p *AdmissionPolicy) DefaultLanguage() string {
	return p.defaultLang
}

// SectionKey derives the coarse section grouping for a URL: the first path
// segment, skipping a recognized language prefix. The root path maps to
// "root".
func (p *AdmissionPolicy) SectionKey(u *url.URL) string {
	segs := splitPath(u)
	if len(segs) > 0 {
		if _, isLang := p.detector.PathLanguagePrefix(u); isLang {
			segs = segs[1:]
		}
	}
	if len(segs) == 0 {
		return "root"
	}
	return segs[0]
}

func (p *AdmissionPolicy) checkDuplicate(c Candidate, s *Session) string {
	if s.Seen(c.Canonical) {
		return "duplicate"
	}
	return ""
}

func (p *AdmissionPolicy) checkLanguage(c Candidate, _ *Session) string {
	if !p.cfg.DefaultLanguageOnly {
		return ""
	}
	code, ok := p.detector.Detect(c.URL)
	if !ok {
		// No detectable marker: always admitted.
		return ""
	}
	if code != p.defaultLang {
		return "language"
	}
	return ""
}

func (p *AdmissionPolicy) checkDepth(c Candidate, _ *Session) string {
	if p.cfg.MaxDepth > 0 && c.Depth > p.cfg.MaxDepth {
		return "depth"
	}
	return ""
}

func (p *AdmissionPolicy) checkSectionSample(c Candidate, s *Session) string {
	if p.cfg.SampleSize <= 0 {
		return ""
	}
	if s.SectionCount(p.SectionKey(c.URL)) >= p.cfg.SampleSize {
		return "section-sample"
	}
	return ""
}

func (p *AdmissionPolicy) checkPageBudget(_ Candidate, s *Session) string {
	if s.Terminating() {
		return "page-budget"
	}
	if p.cfg.MaxPages > 0 && s.CurrentPage() >= p.cfg.MaxPages {
		s.SetTerminating()
		return "page-budget"
	}
	return ""
}

func splitPath(u *url.URL) []string {
	var segs []string
	for _, seg := range strings.Split(strings.Trim(u.EscapedPath(), "/"), "/") {
		if seg != "" {
			segs = append(segs, seg)
		}
	}
	return segs
}
