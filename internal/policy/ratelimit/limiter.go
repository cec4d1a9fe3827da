// Package ratelimit implements a token-bucket politeness policy: each queue
// key gets its own limiter and a queue is snoozed until its next token.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/crawl-frontier/internal/frontier"
)

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// PerKeyRPS overrides DefaultRPS for specific queue keys.
	PerKeyRPS map[string]float64
}

// Politeness manages per-key rate limits.
type Politeness struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	perKey       map[string]rate.Limit
	now          func() time.Time
}

// New creates a new rate-based politeness policy.
func New(cfg Config) *Politeness {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	perKey := make(map[string]rate.Limit, len(cfg.PerKeyRPS))
	for k, v := range cfg.PerKeyRPS {
		if v > 0 {
			perKey[k] = rate.Limit(v)
		}
	}
	return &Politeness{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
		perKey:       perKey,
		now:          time.Now,
	}
}

func (p *Politeness) limiter(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[key]
	if !ok {
		r := p.defaultRate
		if v, ok := p.perKey[key]; ok {
			r = v
		}
		l = rate.NewLimiter(r, p.defaultBurst)
		p.limiters[key] = l
	}
	return l
}

// Delay reserves the queue's next token and returns how long until it is valid.
func (p *Politeness) Delay(_ *frontier.CrawlItem, q frontier.QueueView) time.Duration {
	now := p.now()
	r := p.limiter(q.Key).ReserveN(now, 1)
	if !r.OK() {
		return 0
	}
	return r.DelayFrom(now)
}

// Keys reports how many queue keys have a limiter.
func (p *Politeness) Keys() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.limiters)
}
