// Package frontier implements the crawl frontier: per-host work queues, the
// queue-state rings, and the scheduler that hands the next URI to fetch workers
// while enforcing politeness, budgets and round-robin fairness across hosts.
package frontier

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Hop is a single step in the discovery path from a seed to an item.
type Hop byte

// Hop codes recorded in CrawlItem.Path.
const (
	HopLink         Hop = 'L'
	HopEmbed        Hop = 'E'
	HopReferral     Hop = 'R'
	HopSpeculative  Hop = 'X'
	HopPrerequisite Hop = 'P'
)

// Valid reports whether h is one of the known hop codes.
func (h Hop) Valid() bool {
	switch h {
	case HopLink, HopEmbed, HopReferral, HopSpeculative, HopPrerequisite:
		return true
	default:
		return false
	}
}

// Priority is the scheduling tier of an item inside its own queue. Lower
// values are served first; tiers never reorder service across queues.
type Priority int

// Scheduling tiers.
const (
	PriorityHighest Priority = 0
	PriorityHigh    Priority = 1
	PriorityNormal  Priority = 2
)

const costUnset int64 = -1

// Candidate is a discovered URI submitted for scheduling.
type Candidate struct {
	URI string
	// Via is the URI of the page the candidate was found on (empty for seeds).
	Via string
	// ParentPath is the discovery path of the Via item.
	ParentPath string
	// Hop is how the candidate was reached from Via.
	Hop Hop
	// Seed marks crawl entry points; seeds get PriorityHigh.
	Seed bool
	// Force bypasses the already-seen check and schedules a refetch.
	Force bool
}

// CrawlItem is one URI scheduled for fetch.
type CrawlItem struct {
	URI         string    `json:"uri"`
	Via         string    `json:"via,omitempty"`
	Path        string    `json:"path,omitempty"`
	Key         string    `json:"key"`
	Priority    Priority  `json:"priority"`
	Cost        int64     `json:"cost"`
	Attempts    int       `json:"attempts"`
	Fingerprint uint64    `json:"fp"`
	Discovered  time.Time `json:"discovered"`

	// Fields below are written by the fetch pipeline and are not persisted.
	StatusCode    int           `json:"-"`
	FetchDuration time.Duration `json:"-"`

	holder string
	seq    int64
}

func newItem(c Candidate, canonical string, fp uint64, now time.Time) *CrawlItem {
	path := c.ParentPath
	if c.Hop.Valid() && c.Via != "" {
		path += string(c.Hop)
	}
	item := &CrawlItem{
		URI:         canonical,
		Via:         c.Via,
		Path:        path,
		Priority:    PriorityNormal,
		Cost:        costUnset,
		Fingerprint: fp,
		Discovered:  now,
	}
	switch {
	case c.Hop == HopPrerequisite:
		item.Priority = PriorityHighest
	case c.Seed:
		item.Priority = PriorityHigh
	}
	return item
}

// Holder returns the key of the queue currently holding the item, or "".
func (c *CrawlItem) Holder() string {
	return c.holder
}

// LastHop returns the final hop of the discovery path, or 0 for seeds.
func (c *CrawlItem) LastHop() Hop {
	if c.Path == "" {
		return 0
	}
	return Hop(c.Path[len(c.Path)-1])
}

// HopCount is the number of hops from the seed.
func (c *CrawlItem) HopCount() int {
	return len(c.Path)
}

// IsSeed reports whether the item was scheduled as a crawl entry point.
func (c *CrawlItem) IsSeed() bool {
	return c.Path == "" && c.Via == ""
}

func (c *CrawlItem) String() string {
	var b strings.Builder
	b.WriteString(c.URI)
	if c.Path != "" {
		b.WriteString(" ")
		b.WriteString(c.Path)
	}
	if c.Via != "" {
		b.WriteString(" ")
		b.WriteString(c.Via)
	}
	return b.String()
}

// strip drops scheduling state once the item is terminally disposed.
func (c *CrawlItem) strip() {
	c.holder = ""
	c.seq = 0
}

func marshalItem(c *CrawlItem) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal item: %w", err)
	}
	return data, nil
}

func unmarshalItem(data []byte) (*CrawlItem, error) {
	var c CrawlItem
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &c, nil
}
