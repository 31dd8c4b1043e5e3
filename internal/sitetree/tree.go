// Package sitetree reconstructs a page hierarchy from a flat crawl result.
package sitetree

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sitelens/sitelens/internal/crawl"
)

// Node is one page in the reconstructed hierarchy.
type Node struct {
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Screenshots []string `json:"screenshots"`
	Children    []*Node  `json:"children"`
}

// Manifest is the serialized crawl result.
type Manifest struct {
	StartURL  string `json:"startUrl"`
	CrawlDate string `json:"crawlDate"`
	Tree      *Node  `json:"tree"`
}

// NewManifest wraps a built tree with crawl metadata.
func NewManifest(startURL string, crawlDate time.Time, tree *Node) Manifest {
	return Manifest{
		StartURL:  startURL,
		CrawlDate: crawlDate.UTC().Format(time.RFC3339),
		Tree:      tree,
	}
}

// Build arranges the captured pages into a tree rooted at the start URL.
// Each page's parent is found by truncating the last path segment; pages
// whose parent was never captured attach directly under the root.
func Build(pages []crawl.PageRecord, startURL string, logger *zap.Logger) *Node {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(pages) == 0 {
		return nil
	}

	canonicalStart := startURL
	if canon, _, err := crawl.Canonicalize(startURL); err == nil {
		canonicalStart = canon
	} else {
		logger.Warn("start url not canonical", zap.String("url", startURL), zap.Error(err))
	}

	nodes := make(map[string]*Node, len(pages))
	order := make([]string, 0, len(pages))
	for _, p := range pages {
		canon, _, err := crawl.Canonicalize(p.URL)
		if err != nil {
			canon = p.URL
		}
		if _, dup := nodes[canon]; dup {
			continue
		}
		nodes[canon] = &Node{
			URL:         p.URL,
			Title:       p.Title,
			Screenshots: p.ScreenshotURLs,
			Children:    []*Node{},
		}
		order = append(order, canon)
	}

	root := nodes[canonicalStart]
	if root == nil {
		root = nodes[order[0]]
		logger.Warn("start url missing from page set, using first page as root",
			zap.String("start_url", canonicalStart),
			zap.String("root_url", root.URL),
		)
	}

	for _, canon := range order {
		node := nodes[canon]
		if node == root {
			continue
		}
		parent := nodes[parentURL(canon)]
		if parent == nil || parent == node {
			logger.Warn("orphan page attached under root", zap.String("url", node.URL))
			parent = root
		}
		parent.Children = append(parent.Children, node)
	}

	sortChildren(root)
	return root
}

// parentURL truncates the last path segment of a canonical URL.
func parentURL(canonical string) string {
	u, err := url.Parse(canonical)
	if err != nil {
		return ""
	}
	p := strings.TrimSuffix(u.EscapedPath(), "/")
	if p == "" {
		u.Path = "/"
		u.RawPath = ""
		u.RawQuery = ""
		return u.String()
	}
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		p = "/"
	}
	u.Path = p
	u.RawPath = ""
	u.RawQuery = ""
	return u.String()
}

// sortChildren orders siblings by URL so identical inputs produce
// structurally identical trees.
func sortChildren(n *Node) {
	sort.Slice(n.Children, func(i, j int) bool {
		return n.Children[i].URL < n.Children[j].URL
	})
	for _, c := range n.Children {
		sortChildren(c)
	}
}
