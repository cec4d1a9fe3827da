package scope

import (
	"net/url"
	"strings"

	"github.com/JakeFAU/crawl-frontier/internal/frontier"
)

// Config bounds which candidates are scheduled.
type Config struct {
	// AllowedHosts, when non-empty, limits the crawl to these hosts and their
	// subdomains.
	AllowedHosts []string
	// Blocked uses Blocklist pattern syntax.
	Blocked []string
	// MaxHops rejects candidates whose discovery path would exceed this
	// length; 0 means unlimited.
	MaxHops int
	// FollowEmbeds admits embed hops (images, scripts, stylesheets).
	FollowEmbeds bool
}

// Scope is safe for concurrent use once built.
type Scope struct {
	cfg       Config
	allowed   *Blocklist
	blocked   *Blocklist
	forbidden *ForbiddenTracker
}

// New builds a Scope. forbidden may be nil.
func New(cfg Config, forbidden *ForbiddenTracker) *Scope {
	allowed := make([]string, 0, len(cfg.AllowedHosts))
	for _, h := range cfg.AllowedHosts {
		h = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(h), "*."), ".")
		if h != "" {
			allowed = append(allowed, "*."+h)
		}
	}
	return &Scope{
		cfg:       cfg,
		allowed:   NewBlocklist(allowed),
		blocked:   NewBlocklist(cfg.Blocked),
		forbidden: forbidden,
	}
}

// Allows reports whether c should be scheduled. Seeds skip the hop and embed
// rules but not host rules.
func (s *Scope) Allows(c frontier.Candidate) bool {
	u, err := url.Parse(c.URI)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := u.Hostname()
	if s.blocked.IsBlocked(host) || s.forbidden.IsBlocked(host) {
		return false
	}
	if s.allowed != nil && !s.allowed.IsBlocked(host) {
		return false
	}
	if c.Seed {
		return true
	}
	if c.Hop == frontier.HopEmbed && !s.cfg.FollowEmbeds {
		return false
	}
	if s.cfg.MaxHops > 0 && len(c.ParentPath)+1 > s.cfg.MaxHops {
		return false
	}
	return true
}
