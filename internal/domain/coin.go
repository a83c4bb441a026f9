// Package domain defines core data structures shared by the dashboard services.
package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidCoinID rejects identifiers the upstream API cannot have issued.
var ErrInvalidCoinID = errors.New("invalid coin id")

var coinIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,127}$`)

// ValidateCoinID reports whether id looks like an upstream coin identifier.
// Coin ids also name chat rooms and cache files.
func ValidateCoinID(id string) error {
	if !coinIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidCoinID, id)
	}
	return nil
}

// Coin is one row of the top-100 table.
type Coin struct {
	// ID is the upstream identifier, stable across refreshes.
	ID string `json:"id"`
	// Rank is the market-cap order as supplied by the source.
	Rank int `json:"rank"`
	// Name is the display name.
	Name string `json:"name"`
	// Symbol is the upper-cased ticker.
	Symbol string `json:"symbol"`
	// Price in USD.
	Price float64 `json:"price"`
	// MarketCap in USD.
	MarketCap float64 `json:"marketCap"`
	// Change24h is the 24h percent change, nil when upstream omits it.
	Change24h *float64 `json:"change24h"`
	// Image is the icon URL.
	Image string `json:"image"`
}

// Direction marks price movement of a coin since the previous snapshot.
type Direction string

const (
	DirectionNone Direction = ""
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// PriceIndex maps coin ids to prices.
func PriceIndex(coins []Coin) map[string]float64 {
	prices := make(map[string]float64, len(coins))
	for _, c := range coins {
		prices[c.ID] = c.Price
	}
	return prices
}

// DiffPrices returns direction markers for coins present in both prev and next
// whose price changed. Coins without a previous price get no marker.
func DiffPrices(prev map[string]float64, next []Coin) map[string]Direction {
	markers := make(map[string]Direction)
	for _, c := range next {
		old, ok := prev[c.ID]
		if !ok || old == c.Price {
			continue
		}
		if c.Price > old {
			markers[c.ID] = DirectionUp
		} else {
			markers[c.ID] = DirectionDown
		}
	}
	return markers
}

// FilterCoins returns coins whose name or symbol contains query, ignoring case.
// An empty query returns coins unchanged.
func FilterCoins(coins []Coin, query string) []Coin {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return coins
	}

	filtered := make([]Coin, 0, len(coins))
	for _, c := range coins {
		if strings.Contains(strings.ToLower(c.Name), q) || strings.Contains(strings.ToLower(c.Symbol), q) {
			filtered = append(filtered, c)
		}
	}
	return filtered
}
