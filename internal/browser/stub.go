package browser

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/sitelens/sitelens/internal/crawl"
)

// StubPage scripts the behavior of one URL in a Stub.
type StubPage struct {
	Title      string
	Links      []string
	Screenshot []byte
	FailNav    int
}

// Stub is an in-memory crawl.Browser for tests. Pages are keyed by the exact
// URL passed to Navigate.
type Stub struct {
	mu sync.Mutex

	Pages     map[string]*StubPage
	LoginErr  error
	CookieErr error

	current     string
	Navigations []string
	CookieCalls int
	LoginCalls  int
}

// NewStub builds a Stub over the given pages.
func NewStub(pages map[string]*StubPage) *Stub {
	if pages == nil {
		pages = map[string]*StubPage{}
	}
	return &Stub{Pages: pages}
}

func (s *Stub) SetCookies(_ context.Context, _ string, _ []crawl.Cookie) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CookieCalls++
	return s.CookieErr
}

func (s *Stub) Login(_ context.Context, _ crawl.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LoginCalls++
	return s.LoginErr
}

func (s *Stub) Navigate(_ context.Context, rawURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Navigations = append(s.Navigations, rawURL)
	page, ok := s.Pages[rawURL]
	if !ok {
		return fmt.Errorf("stub: no page for %s", rawURL)
	}
	if page.FailNav > 0 {
		page.FailNav--
		return fmt.Errorf("stub: scripted navigation failure for %s", rawURL)
	}
	s.current = rawURL
	return nil
}

func (s *Stub) Stabilize(_ context.Context, _ crawl.StabilizeOptions) error {
	return nil
}

func (s *Stub) CaptureFullPage(_ context.Context, _ float64) ([]byte, error) {
	page, err := s.currentPage()
	if err != nil {
		return nil, err
	}
	if page.Screenshot != nil {
		return page.Screenshot, nil
	}
	return TestPNG(64, 48), nil
}

func (s *Stub) Title(_ context.Context) (string, error) {
	page, err := s.currentPage()
	if err != nil {
		return "", err
	}
	return page.Title, nil
}

func (s *Stub) Links(_ context.Context) ([]string, error) {
	page, err := s.currentPage()
	if err != nil {
		return nil, err
	}
	return page.Links, nil
}

func (s *Stub) Close() error { return nil }

func (s *Stub) currentPage() (*StubPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == "" {
		return nil, fmt.Errorf("stub: no page has been navigated")
	}
	return s.Pages[s.current], nil
}

// TestPNG renders a solid gray PNG of the given dimensions.
func TestPNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	gray := color.RGBA{R: 200, G: 200, B: 200, A: 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, gray)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
