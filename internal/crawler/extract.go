package crawler

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Policy decides which part of a page is its archived body text
type Policy struct {
	// Candidates are tried in order; the first whose cleaned text is long enough wins
	Candidates []string `yaml:"candidates"`
	// Boilerplate elements are removed from a candidate before its text is measured
	Boilerplate []string `yaml:"boilerplate"`
	// MinContentLength is the number of characters a candidate must exceed
	MinContentLength int `yaml:"min_content_length"`
}

// DefaultPolicy targets semantic article containers and common news-site body hooks
func DefaultPolicy() *Policy {
	return &Policy{
		Candidates: []string{
			"article",
			".fck_detail",
			".article-detail",
			".main_content",
			"#main_detail",
			"[itemprop='articleBody']",
		},
		Boilerplate: []string{
			"script",
			"style",
			"noscript",
			"iframe",
			"nav",
			".copyright",
			".social",
			".related",
			".banner",
		},
		MinContentLength: 100,
	}
}

// LoadPolicy reads a YAML extraction policy. Fields left empty fall back to DefaultPolicy.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read extraction policy: %w", err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse extraction policy %s: %w", path, err)
	}

	def := DefaultPolicy()
	if len(p.Candidates) == 0 {
		p.Candidates = def.Candidates
	}
	if len(p.Boilerplate) == 0 {
		p.Boilerplate = def.Boilerplate
	}
	if p.MinContentLength <= 0 {
		p.MinContentLength = def.MinContentLength
	}

	for _, sel := range p.Candidates {
		if strings.TrimSpace(sel) == "" {
			return nil, errors.New("extraction policy contains an empty candidate selector")
		}
	}

	return &p, nil
}

// Extractor pulls archive content and outbound links from page markup
type Extractor struct {
	policy      *Policy
	boilerplate string
}

// NewExtractor creates an Extractor. If policy is nil, DefaultPolicy is used
func NewExtractor(policy *Policy) *Extractor {
	if policy == nil {
		policy = DefaultPolicy()
	}

	return &Extractor{
		policy:      policy,
		boilerplate: strings.Join(policy.Boilerplate, ", "),
	}
}

// Extract parses markup and returns its title, meta description, body text and raw links.
// A page with no qualifying candidate has empty Content; that is not an error.
func (e *Extractor) Extract(body []byte) (*Content, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse markup: %w", err)
	}

	content := &Content{
		Title:       strings.TrimSpace(doc.Find("title").First().Text()),
		Description: strings.TrimSpace(doc.Find(`meta[name="description"]`).First().AttrOr("content", "")),
		Links:       extractLinks(doc),
	}

	for _, sel := range e.policy.Candidates {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}

		text := e.cleanText(node)
		if utf8.RuneCountInString(text) > e.policy.MinContentLength {
			content.Content = text
			log.Debug().
				Str("selector", sel).
				Int("content_length", len(text)).
				Msg("Extracted page content")
			break
		}
	}

	return content, nil
}

// cleanText strips boilerplate from a copy of the node and collapses whitespace
func (e *Extractor) cleanText(node *goquery.Selection) string {
	clone := node.Clone()
	if e.boilerplate != "" {
		clone.Find(e.boilerplate).Remove()
	}
	return collapseWhitespace(clone.Text())
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// extractLinks enumerates anchor hrefs, skipping non-navigational ones and duplicates
func extractLinks(doc *goquery.Document) []string {
	seen := make(map[string]struct{})
	var links []string

	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}

		lower := strings.ToLower(href)
		if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
			return
		}

		if _, ok := seen[href]; ok {
			return
		}
		seen[href] = struct{}{}
		links = append(links, href)
	})

	return links
}
