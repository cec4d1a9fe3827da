// Package politeness spaces successive fetches from the same queue in
// proportion to how long the last fetch took.
package politeness

import (
	"time"

	"github.com/JakeFAU/crawl-frontier/internal/frontier"
)

// Config holds the delay factor and clamps.
type Config struct {
	DelayFactor float64
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

// Factor waits DelayFactor times the last fetch duration, clamped to
// [MinDelay, MaxDelay].
type Factor struct {
	cfg Config
}

// NewFactor builds the policy. A MaxDelay below MinDelay is raised to MinDelay.
func NewFactor(cfg Config) *Factor {
	if cfg.DelayFactor < 0 {
		cfg.DelayFactor = 0
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	return &Factor{cfg: cfg}
}

// Delay implements frontier.PolitenessPolicy.
func (p *Factor) Delay(item *frontier.CrawlItem, _ frontier.QueueView) time.Duration {
	d := time.Duration(p.cfg.DelayFactor * float64(item.FetchDuration))
	if d < p.cfg.MinDelay {
		d = p.cfg.MinDelay
	}
	if p.cfg.MaxDelay > 0 && d > p.cfg.MaxDelay {
		d = p.cfg.MaxDelay
	}
	return d
}
