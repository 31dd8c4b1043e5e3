package crawl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSession_VisitedSet(t *testing.T) {
	t.Parallel()

	s := NewSession()
	require.False(t, s.Seen("https://example.com/"))

	s.MarkVisited("https://example.com/")
	require.True(t, s.Seen("https://example.com/"))
	require.False(t, s.Seen("https://example.com/other"))
}

func TestSession_Counters(t *testing.T) {
	t.Parallel()

	s := NewSession()
	require.Equal(t, 0, s.CurrentPage())
	require.Equal(t, 0, s.SectionCount("docs"))

	s.CountPage()
	s.CountPage()
	s.CountSection("docs")
	s.CountSection("docs")
	s.CountSection("blog")

	require.Equal(t, 2, s.CurrentPage())
	require.Equal(t, 2, s.SectionCount("docs"))
	require.Equal(t, 1, s.SectionCount("blog"))
}

func TestSession_TerminatingIsSticky(t *testing.T) {
	t.Parallel()

	s := NewSession()
	require.False(t, s.Terminating())
	s.SetTerminating()
	require.True(t, s.Terminating())
	s.SetTerminating()
	require.True(t, s.Terminating())
}
