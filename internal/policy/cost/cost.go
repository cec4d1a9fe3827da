// Package cost provides the cost policies charged against queue budgets.
package cost

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/crawl-frontier/internal/frontier"
)

// Policy names accepted by New.
const (
	Unit = "unit"
	Zero = "zero"
	Wag  = "wag"
)

// New returns the named cost policy.
func New(name string) (frontier.CostPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", Unit:
		return UnitCost{}, nil
	case Zero:
		return ZeroCost{}, nil
	case Wag:
		return WagCost{}, nil
	default:
		return nil, fmt.Errorf("unknown cost policy %q", name)
	}
}

// UnitCost charges 1 per item.
type UnitCost struct{}

// Cost implements frontier.CostPolicy.
func (UnitCost) Cost(*frontier.CrawlItem) int64 { return 1 }

// ZeroCost charges nothing, so budgets never retire a queue.
type ZeroCost struct{}

// Cost implements frontier.CostPolicy.
func (ZeroCost) Cost(*frontier.CrawlItem) int64 { return 0 }

// WagCost is a rough guess of crawl value: one point, plus one each for a
// query string, a deep path, an embed hop and a long discovery path.
type WagCost struct{}

// Cost implements frontier.CostPolicy.
func (WagCost) Cost(item *frontier.CrawlItem) int64 {
	cost := int64(1)
	if u, err := url.Parse(item.URI); err == nil {
		if u.RawQuery != "" {
			cost++
		}
		if strings.Count(strings.Trim(u.Path, "/"), "/") >= 3 {
			cost++
		}
	}
	if item.LastHop() == frontier.HopEmbed {
		cost++
	}
	if item.HopCount() > 5 {
		cost++
	}
	return cost
}
