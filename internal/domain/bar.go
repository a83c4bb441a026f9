package domain

// HistoricalBar is one OHLC candle of a coin.
type HistoricalBar struct {
	// Timestamp in epoch milliseconds.
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	// Volume is taken from the upstream volume series, 0 when unavailable.
	Volume float64 `json:"volume"`
}

// Closes returns close prices in bar order.
func Closes(bars []HistoricalBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
