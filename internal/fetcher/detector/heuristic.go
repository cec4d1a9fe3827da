// Package detector decides when a probe response should be re-rendered in a
// headless browser.
package detector

import (
	"bytes"
	"net/http"

	"github.com/JakeFAU/crawl-frontier/internal/fetcher"
)

const (
	defaultBodyThreshold = 2048
	defaultMinLinks      = 3
	scriptDensityPercent = 25
)

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	BodyLengthThreshold int
	// MinLinks is the link count at which a page is considered already
	// navigable without rendering.
	MinLinks int
}

// NewHeuristic creates a new detector. Zero values take the defaults.
func NewHeuristic(threshold, minLinks int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultBodyThreshold
	}
	if minLinks <= 0 {
		minLinks = defaultMinLinks
	}
	return &Heuristic{BodyLengthThreshold: threshold, MinLinks: minLinks}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// ShouldPromote reports whether resp, which yielded links outlinks, needs a
// headless render.
func (h *Heuristic) ShouldPromote(resp fetcher.Response, links int) bool {
	if resp.StatusCode != http.StatusOK || resp.UsedHeadless {
		return false
	}
	if links >= h.MinLinks {
		return false
	}
	body := resp.Body
	if len(body) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

func scriptDensityHigh(body []byte) bool {
	lower := bytes.ToLower(body)
	total := len(lower)
	if total == 0 {
		return false
	}

	openTag := []byte("<script")
	closeTag := []byte("</script>")
	coverage := 0
	pos := 0
	for {
		rel := bytes.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagEnd := bytes.IndexByte(lower[start:], '>')
		if tagEnd == -1 {
			// Malformed tag; the rest of the document counts as script.
			coverage += total - start
			break
		}
		contentStart := start + tagEnd + 1
		end := bytes.Index(lower[contentStart:], closeTag)
		next := total
		if end != -1 {
			next = contentStart + end + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage*100/total >= scriptDensityPercent
}
