package crawl

import (
	"fmt"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestPolicy(t *testing.T, cfg CrawlConfig, startURL string) (*AdmissionPolicy, *Session) {
	t.Helper()
	start, err := NewCandidate(startURL)
	require.NoError(t, err)
	return NewAdmissionPolicy(cfg, NewAllowListDetector(nil, ""), start.URL), NewSession()
}

func mustCandidate(t *testing.T, raw string) Candidate {
	t.Helper()
	c, err := NewCandidate(raw)
	require.NoError(t, err)
	return c
}

func TestAdmissionPolicy_RejectsDuplicates(t *testing.T) {
	t.Parallel()

	policy, session := newTestPolicy(t, CrawlConfig{}, "https://example.com/")
	c := mustCandidate(t, "https://example.com/docs")

	_, admitted := policy.Admit(c, session)
	require.True(t, admitted)

	reason, admitted := policy.Admit(c, session)
	require.False(t, admitted)
	require.Equal(t, "duplicate", reason)

	// Canonical variants collapse onto the same identity.
	variant := mustCandidate(t, "https://EXAMPLE.com:443/docs")
	reason, admitted = policy.Admit(variant, session)
	require.False(t, admitted)
	require.Equal(t, "duplicate", reason)
}

func TestAdmissionPolicy_LanguageFilter(t *testing.T) {
	t.Parallel()

	cfg := CrawlConfig{DefaultLanguageOnly: true}
	policy, session := newTestPolicy(t, cfg, "https://example.com/")
	require.Equal(t, "en", policy.DefaultLanguage())

	reason, admitted := policy.Admit(mustCandidate(t, "https://example.com/fr/produits"), session)
	require.False(t, admitted)
	require.Equal(t, "language", reason)

	_, admitted = policy.Admit(mustCandidate(t, "https://example.com/en/docs"), session)
	require.True(t, admitted)

	// Unmarked URLs are always admitted.
	_, admitted = policy.Admit(mustCandidate(t, "https://example.com/pricing"), session)
	require.True(t, admitted)
}

func TestAdmissionPolicy_LanguagePinnedToStartURL(t *testing.T) {
	t.Parallel()

	cfg := CrawlConfig{DefaultLanguageOnly: true}
	policy, session := newTestPolicy(t, cfg, "https://example.com/fr/accueil")
	require.Equal(t, "fr", policy.DefaultLanguage())

	_, admitted := policy.Admit(mustCandidate(t, "https://example.com/fr/produits"), session)
	require.True(t, admitted)

	reason, admitted := policy.Admit(mustCandidate(t, "https://example.com/en/products"), session)
	require.False(t, admitted)
	require.Equal(t, "language", reason)
}

func TestAdmissionPolicy_LanguageFilterDisabled(t *testing.T) {
	t.Parallel()

	policy, session := newTestPolicy(t, CrawlConfig{}, "https://example.com/")

	_, admitted := policy.Admit(mustCandidate(t, "https://example.com/fr/produits"), session)
	require.True(t, admitted)
}

func TestAdmissionPolicy_DepthFilter(t *testing.T) {
	t.Parallel()

	cfg := CrawlConfig{MaxDepth: 2}
	policy, session := newTestPolicy(t, cfg, "https://example.com/")

	_, admitted := policy.Admit(mustCandidate(t, "https://example.com/a/b"), session)
	require.True(t, admitted)

	reason, admitted := policy.Admit(mustCandidate(t, "https://example.com/a/b/c"), session)
	require.False(t, admitted)
	require.Equal(t, "depth", reason)
}

func TestAdmissionPolicy_ZeroDepthIsUnlimited(t *testing.T) {
	t.Parallel()

	policy, session := newTestPolicy(t, CrawlConfig{}, "https://example.com/")

	_, admitted := policy.Admit(mustCandidate(t, "https://example.com/a/b/c/d/e/f/g"), session)
	require.True(t, admitted)
}

func TestAdmissionPolicy_SectionSampling(t *testing.T) {
	t.Parallel()

	cfg := CrawlConfig{SampleSize: 3}
	policy, session := newTestPolicy(t, cfg, "https://example.com/")

	// The first SampleSize pages of a section are admitted in discovery order.
	for i := 0; i < 3; i++ {
		_, admitted := policy.Admit(mustCandidate(t, fmt.Sprintf("https://example.com/blog/post-%d", i)), session)
		require.True(t, admitted, "blog page %d", i)
	}
	reason, admitted := policy.Admit(mustCandidate(t, "https://example.com/blog/post-99"), session)
	require.False(t, admitted)
	require.Equal(t, "section-sample", reason)

	// Other sections have their own budget.
	_, admitted = policy.Admit(mustCandidate(t, "https://example.com/docs/intro"), session)
	require.True(t, admitted)
}

func TestAdmissionPolicy_SectionKeySkipsLanguagePrefix(t *testing.T) {
	t.Parallel()

	policy, _ := newTestPolicy(t, CrawlConfig{}, "https://example.com/")

	require.Equal(t, "blog", policy.SectionKey(mustURL(t, "https://example.com/fr/blog/post")))
	require.Equal(t, "blog", policy.SectionKey(mustURL(t, "https://example.com/blog/post")))
	require.Equal(t, "root", policy.SectionKey(mustURL(t, "https://example.com/")))
	require.Equal(t, "root", policy.SectionKey(mustURL(t, "https://example.com/fr")))
}

// prefixOnlyDetector recognizes one fixed path prefix and nothing else.
type prefixOnlyDetector struct {
	prefix string
}

func (d *prefixOnlyDetector) Detect(u *url.URL) (string, bool) {
	return d.PathLanguagePrefix(u)
}

func (d *prefixOnlyDetector) Default() string { return d.prefix }

func (d *prefixOnlyDetector) PathLanguagePrefix(u *url.URL) (string, bool) {
	if strings.HasPrefix(u.EscapedPath(), "/"+d.prefix+"/") {
		return d.prefix, true
	}
	return "", false
}

func TestAdmissionPolicy_SectionKeyUsesCustomDetector(t *testing.T) {
	t.Parallel()

	detector := &prefixOnlyDetector{prefix: "kl"}
	policy := NewAdmissionPolicy(CrawlConfig{}, detector, mustURL(t, "https://example.com/"))

	require.Equal(t, "blog", policy.SectionKey(mustURL(t, "https://example.com/kl/blog/post")))
	require.Equal(t, "kl", policy.SectionKey(mustURL(t, "https://example.com/kl")))
	require.Equal(t, "docs", policy.SectionKey(mustURL(t, "https://example.com/docs/intro")))
}

func TestAdmissionPolicy_PageBudget(t *testing.T) {
	t.Parallel()

	cfg := CrawlConfig{MaxPages: 2}
	policy, session := newTestPolicy(t, cfg, "https://example.com/")

	_, admitted := policy.Admit(mustCandidate(t, "https://example.com/"), session)
	require.True(t, admitted)
	_, admitted = policy.Admit(mustCandidate(t, "https://example.com/a"), session)
	require.True(t, admitted)

	reason, admitted := policy.Admit(mustCandidate(t, "https://example.com/b"), session)
	require.False(t, admitted)
	require.Equal(t, "page-budget", reason)
	require.True(t, session.Terminating(), "exhausting the budget must set the terminating flag")

	// Once terminating, everything is rejected.
	reason, admitted = policy.Admit(mustCandidate(t, "https://example.com/c"), session)
	require.False(t, admitted)
	require.Equal(t, "page-budget", reason)
}

func TestAdmissionPolicy_ZeroBudgetIsUnlimited(t *testing.T) {
	t.Parallel()

	policy, session := newTestPolicy(t, CrawlConfig{}, "https://example.com/")
	for i := 0; i < 100; i++ {
		_, admitted := policy.Admit(mustCandidate(t, fmt.Sprintf("https://example.com/p%d", i)), session)
		require.True(t, admitted)
	}
	require.False(t, session.Terminating())
}
