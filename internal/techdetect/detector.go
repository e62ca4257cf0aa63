// Package techdetect fingerprints the technologies behind an archived page (CMS, CDN,
// frameworks, analytics) using wappalyzergo.
package techdetect

import (
	"net/http"
	"sort"
	"sync"

	wappalyzer "github.com/projectdiscovery/wappalyzergo"
	"github.com/rs/zerolog/log"
)

// Result maps technology name to its categories, e.g. {"WordPress": ["CMS"]}
type Result struct {
	Technologies map[string][]string `json:"technologies"`
}

// Names returns the detected technology names in sorted order
func (r *Result) Names() []string {
	names := make([]string, 0, len(r.Technologies))
	for name := range r.Technologies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Detector identifies technologies from response headers and markup. Safe for concurrent use.
type Detector struct {
	client *wappalyzer.Wappalyze
}

var (
	categoryNames     map[int]string
	categoryNamesOnce sync.Once
)

// New creates a technology detector, loading the fingerprint database
func New() (*Detector, error) {
	client, err := wappalyzer.New()
	if err != nil {
		return nil, err
	}

	categoryNamesOnce.Do(func() {
		categoryNames = make(map[int]string)
		for id, cat := range wappalyzer.GetCategoriesMapping() {
			categoryNames[id] = cat.Name
		}
	})

	return &Detector{client: client}, nil
}

// Detect fingerprints a single response
func (d *Detector) Detect(headers http.Header, body []byte) *Result {
	result := &Result{Technologies: make(map[string][]string)}
	if headers == nil {
		headers = http.Header{}
	}

	for tech, info := range d.client.FingerprintWithCats(headers, body) {
		categories := make([]string, 0, len(info.Cats))
		for _, catID := range info.Cats {
			if name, ok := categoryNames[catID]; ok {
				categories = append(categories, name)
			}
		}
		sort.Strings(categories)
		result.Technologies[tech] = categories
	}

	log.Debug().
		Int("tech_count", len(result.Technologies)).
		Msg("Technology detection completed")

	return result
}

// Technologies returns the sorted technology names for a response
func (d *Detector) Technologies(headers http.Header, body []byte) []string {
	return d.Detect(headers, body).Names()
}
