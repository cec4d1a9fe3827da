// Package fetcher defines the contract between the worker pool and the
// components that retrieve pages, plus shared link extraction.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ErrRobotsDisallowed is returned when robots.txt excludes the request.
var ErrRobotsDisallowed = errors.New("disallowed by robots.txt")

// RobotsStatus records how robots.txt was evaluated for a fetch.
type RobotsStatus string

// Robots evaluation results.
const (
	RobotsStatusUnknown       RobotsStatus = ""
	RobotsStatusIndeterminate RobotsStatus = "indeterminate"
)

// Request describes a single page fetch.
type Request struct {
	URL     string
	Headers http.Header
}

// Response is what a Fetcher returns for a completed HTTP exchange, including
// non-2xx responses.
type Response struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
	RobotsStatus RobotsStatus
	RobotsReason string
}

// Fetcher retrieves a URL. Transport failures are returned as errors; HTTP
// error statuses are returned in Response.StatusCode.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// Link is an outgoing reference found in a page.
type Link struct {
	URL string
	// Embed is true for resources the page needs to render (img, script, link
	// rel=stylesheet) rather than navigational anchors.
	Embed bool
}

var linkSelectors = []struct {
	selector string
	attr     string
	embed    bool
}{
	{"a[href]", "href", false},
	{"area[href]", "href", false},
	{"iframe[src]", "src", true},
	{"img[src]", "src", true},
	{"script[src]", "src", true},
	{"link[rel=stylesheet][href]", "href", true},
}

// ExtractLinks parses an HTML body and resolves every link against base (or
// the document's <base href> when present). Fragment-only, javascript: and
// mailto: references are skipped, and duplicates are reported once.
func ExtractLinks(base string, body []byte) ([]Link, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if u, err := baseURL.Parse(strings.TrimSpace(href)); err == nil {
			baseURL = u
		}
	}

	seen := make(map[string]struct{})
	var links []Link
	for _, sel := range linkSelectors {
		doc.Find(sel.selector).Each(func(_ int, s *goquery.Selection) {
			raw, _ := s.Attr(sel.attr)
			resolved, ok := resolve(baseURL, raw)
			if !ok {
				return
			}
			if _, dup := seen[resolved]; dup {
				return
			}
			seen[resolved] = struct{}{}
			links = append(links, Link{URL: resolved, Embed: sel.embed})
		})
	}
	return links, nil
}

func resolve(base *url.URL, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return "", false
	}
	u, err := base.Parse(raw)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	u.Fragment = ""
	return u.String(), true
}
