package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiffPrices(t *testing.T) {
	prev := map[string]float64{
		"bitcoin":  50000,
		"ethereum": 3000,
		"tether":   1,
	}
	next := []Coin{
		{ID: "bitcoin", Price: 51000},
		{ID: "ethereum", Price: 2900},
		{ID: "tether", Price: 1},
		{ID: "solana", Price: 150},
	}

	markers := DiffPrices(prev, next)

	assert.Equal(t, map[string]Direction{
		"bitcoin":  DirectionUp,
		"ethereum": DirectionDown,
	}, markers)
}

func TestDiffPrices_EmptyPrevious(t *testing.T) {
	markers := DiffPrices(nil, []Coin{{ID: "bitcoin", Price: 1}})
	assert.Empty(t, markers)
}

func TestFilterCoins(t *testing.T) {
	coins := []Coin{
		{ID: "bitcoin", Name: "Bitcoin", Symbol: "BTC"},
		{ID: "ethereum", Name: "Ethereum", Symbol: "ETH"},
		{ID: "wrapped-bitcoin", Name: "Wrapped Bitcoin", Symbol: "WBTC"},
	}

	tests := []struct {
		name  string
		query string
		ids   []string
	}{
		{name: "empty query keeps all", query: "", ids: []string{"bitcoin", "ethereum", "wrapped-bitcoin"}},
		{name: "name match ignores case", query: "BITCOIN", ids: []string{"bitcoin", "wrapped-bitcoin"}},
		{name: "symbol match", query: "eth", ids: []string{"ethereum"}},
		{name: "no match", query: "doge", ids: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterCoins(coins, tt.query)
			ids := make([]string, 0, len(got))
			for _, c := range got {
				ids = append(ids, c.ID)
			}
			assert.Equal(t, tt.ids, ids)
		})
	}
}

func TestValidateCoinID(t *testing.T) {
	valid := []string{"bitcoin", "wrapped-bitcoin", "usd-coin", "0x", "matic-network", "a.b_c"}
	for _, id := range valid {
		assert.NoError(t, ValidateCoinID(id), id)
	}

	invalid := []string{"", "Bitcoin", "-lead", "../etc/passwd", "has space", "emoji🚀"}
	for _, id := range invalid {
		assert.ErrorIs(t, ValidateCoinID(id), ErrInvalidCoinID, id)
	}
}
