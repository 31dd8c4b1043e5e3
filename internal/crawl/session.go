package crawl

// Session is the engine-local mutable state for one crawl job: the visited
// set, per-section sample counters, the admitted-page counter, and the
// terminating flag. The engine is the single writer (one page in flight at a
// time), so no locking is needed.
type Session struct {
	visited     map[string]struct{}
	sections    map[string]int
	currentPage int
	terminating bool
}

// NewSession returns an empty Session.
func NewSession() *Session {
	return &Session{
		visited:  make(map[string]struct{}),
		sections: make(map[string]int),
	}
}

// Seen reports whether a canonical URL was already admitted.
func (s *Session) Seen(canonical string) bool {
	_, ok := s.visited[canonical]
	return ok
}

// MarkVisited records an admitted canonical URL.
func (s *Session) MarkVisited(canonical string) {
	s.visited[canonical] = struct{}{}
}

// SectionCount returns the number of pages admitted under a section key.
func (s *Session) SectionCount(key string) int {
	return s.sections[key]
}

// CountSection increments the sample counter for a section key.
func (s *Session) CountSection(key string) {
	s.sections[key]++
}

// CurrentPage returns the number of pages admitted so far.
func (s *Session) CurrentPage() int {
	return s.currentPage
}

// CountPage increments the admitted-page counter.
func (s *Session) CountPage() {
	s.currentPage++
}

// Terminating reports whether the global page budget has been reached.
func (s *Session) Terminating() bool {
	return s.terminating
}

// SetTerminating flips the terminating flag; it is never cleared.
func (s *Session) SetTerminating() {
	s.terminating = true
}
