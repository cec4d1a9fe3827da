package cost

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-frontier/internal/frontier"
)

func TestNew(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]frontier.CostPolicy{
		"":     UnitCost{},
		"unit": UnitCost{},
		"ZERO": ZeroCost{},
		"wag":  WagCost{},
	} {
		got, err := New(name)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := New("expensive")
	require.Error(t, err)
}

func TestWagCost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		item frontier.CrawlItem
		want int64
	}{
		{"plain", frontier.CrawlItem{URI: "https://a.test/page"}, 1},
		{"query", frontier.CrawlItem{URI: "https://a.test/page?id=1"}, 2},
		{"deep path", frontier.CrawlItem{URI: "https://a.test/a/b/c/d"}, 2},
		{"embed", frontier.CrawlItem{URI: "https://a.test/img.png", Path: "LE"}, 2},
		{"far from seed", frontier.CrawlItem{URI: "https://a.test/x?y=1", Path: "LLLLLLE"}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, WagCost{}.Cost(&tt.item))
		})
	}
	require.Zero(t, ZeroCost{}.Cost(&frontier.CrawlItem{}))
	require.EqualValues(t, 1, UnitCost{}.Cost(&frontier.CrawlItem{}))
}
