// Package retry decides how often and how soon retryable fetch failures are
// re-offered.
package retry

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// Config tunes the exponential policy.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// ExponentialPolicy implements frontier.RetryPolicy with jittered backoff.
type ExponentialPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewExponential builds a policy, filling zero fields with 3 retries and a
// 250ms..5s backoff range.
func NewExponential(cfg Config) *ExponentialPolicy {
	p := &ExponentialPolicy{
		maxRetries: 3,
		baseDelay:  250 * time.Millisecond,
		maxDelay:   5 * time.Second,
	}
	if cfg.MaxRetries > 0 {
		p.maxRetries = cfg.MaxRetries
	}
	if cfg.BaseDelay > 0 {
		p.baseDelay = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		p.maxDelay = cfg.MaxDelay
	}
	return p
}

// ShouldRetry allows up to maxRetries retries; attempts counts every failure
// so far, so attempt maxRetries+1 is final.
func (p *ExponentialPolicy) ShouldRetry(attempts int) bool {
	return attempts <= p.maxRetries
}

// Backoff returns a delay in [d/2, d) where d doubles per attempt up to maxDelay.
func (p *ExponentialPolicy) Backoff(attempts int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempts-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
