// Package headless renders pages in headless Chrome for sites whose links only
// appear after JavaScript runs.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/crawl-frontier/internal/fetcher"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultSettleDelay       = 500 * time.Millisecond
)

// Config controls the headless fetcher.
type Config struct {
	// MaxParallel bounds open tabs; 0 means unbounded.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay is how long scripts get to run once the body is ready.
	SettleDelay time.Duration
}

// Fetcher implements fetcher.Fetcher by driving one shared Chrome process,
// one tab per fetch.
type Fetcher struct {
	cfg     Config
	tabs    chan struct{}
	browser context.Context
	stop    context.CancelFunc
}

// NewChromedp starts the browser allocator. Chrome itself is launched lazily
// on the first Fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}

	f := &Fetcher{cfg: cfg}
	if cfg.MaxParallel > 0 {
		f.tabs = make(chan struct{}, cfg.MaxParallel)
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("enable-automation", false),
	)
	f.browser, f.stop = chromedp.NewExecAllocator(context.Background(), opts...)
	return f, nil
}

// Close kills the browser.
func (f *Fetcher) Close() {
	f.stop()
}

// Fetch renders request.URL and returns the serialized DOM. ctx bounds the
// wait for a tab; NavigationTimeout bounds the render.
func (f *Fetcher) Fetch(ctx context.Context, request fetcher.Request) (fetcher.Response, error) {
	if err := f.openTab(ctx); err != nil {
		return fetcher.Response{}, err
	}
	defer f.closeTab()

	tabCtx, cancelTab := chromedp.NewContext(f.browser)
	defer cancelTab()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()

	doc := &documentTracker{}
	chromedp.ListenTarget(tabCtx, doc.observe)

	var html, location string
	start := time.Now()
	err := chromedp.Run(tabCtx,
		f.prepareTab(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.SettleDelay),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return fetcher.Response{}, fmt.Errorf("render %s: %w", request.URL, err)
	}

	resp := doc.response()
	resp.Body = []byte(html)
	resp.Duration = time.Since(start)
	resp.UsedHeadless = true
	if resp.URL == "" {
		resp.URL = location
	}
	if resp.URL == "" {
		resp.URL = request.URL
	}
	// Pages served from cache or a service worker report no status.
	if resp.StatusCode == 0 {
		resp.StatusCode = http.StatusOK
	}
	return resp, nil
}

func (f *Fetcher) prepareTab(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user agent: %w", err)
			}
		}
		if extra := networkHeaders(headers); len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) openTab(ctx context.Context) error {
	if f.tabs == nil {
		return nil
	}
	select {
	case f.tabs <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for headless tab: %w", ctx.Err())
	}
}

func (f *Fetcher) closeTab() {
	if f.tabs != nil {
		<-f.tabs
	}
}

// documentTracker records the main frame's document response. The first
// document request seen belongs to the main frame; iframe documents are
// ignored. Redirects reuse the frame, so the last response wins.
type documentTracker struct {
	mu    sync.Mutex
	frame cdp.FrameID
	resp  fetcher.Response
}

func (d *documentTracker) observe(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		if e.Type != network.ResourceTypeDocument {
			return
		}
		d.mu.Lock()
		if d.frame == "" {
			d.frame = e.FrameID
		}
		d.mu.Unlock()
	case *network.EventResponseReceived:
		if e.Type != network.ResourceTypeDocument || e.Response == nil {
			return
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.frame != "" && e.FrameID != d.frame {
			return
		}
		d.resp = fetcher.Response{
			URL:        e.Response.URL,
			StatusCode: int(e.Response.Status),
			Headers:    httpHeaders(e.Response.Headers),
		}
	}
}

func (d *documentTracker) response() fetcher.Response {
	d.mu.Lock()
	defer d.mu.Unlock()
	resp := d.resp
	if resp.Headers == nil {
		resp.Headers = http.Header{}
	}
	return resp
}

func httpHeaders(src network.Headers) http.Header {
	dst := make(http.Header, len(src))
	for key, value := range src {
		switch v := value.(type) {
		case string:
			// Chrome folds repeated headers into one newline-separated value.
			for _, line := range strings.Split(v, "\n") {
				dst.Add(key, line)
			}
		case []any:
			for _, entry := range v {
				dst.Add(key, fmt.Sprint(entry))
			}
		default:
			dst.Add(key, fmt.Sprint(v))
		}
	}
	return dst
}

// networkHeaders joins repeated values; the protocol only accepts strings.
func networkHeaders(src http.Header) network.Headers {
	dst := network.Headers{}
	for key, values := range src {
		if len(values) > 0 {
			dst[key] = strings.Join(values, ", ")
		}
	}
	return dst
}
