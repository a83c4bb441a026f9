package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/coinverse/internal/domain"
)

func makeBars(n int) []domain.HistoricalBar {
	bars := make([]domain.HistoricalBar, n)
	for i := range bars {
		c := float64(100 + i)
		bars[i] = domain.HistoricalBar{
			Timestamp: int64(i) * 86_400_000,
			Open:      c - 0.5,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    float64(1000 + i),
		}
	}
	return bars
}

func seriesNames(r Result) []string {
	names := make([]string, len(r.Series))
	for i, s := range r.Series {
		names[i] = s.Name
	}
	return names
}

func TestCompute_SeriesShapes(t *testing.T) {
	bars := makeBars(60)

	tests := []struct {
		spec    domain.IndicatorSpec
		names   []string
		overlay bool
	}{
		{spec: domain.IndicatorSpec{Name: "MA", CalcParams: []any{5, 10, 30}}, names: []string{"MA5", "MA10", "MA30"}, overlay: true},
		{spec: domain.IndicatorSpec{Name: "EMA"}, names: []string{"EMA6", "EMA12", "EMA20"}, overlay: true},
		{spec: domain.IndicatorSpec{Name: "BOLL"}, names: []string{"UP", "MID", "DN"}, overlay: true},
		{spec: domain.IndicatorSpec{Name: "BBI"}, names: []string{"BBI"}, overlay: true},
		{spec: domain.IndicatorSpec{Name: "VOL"}, names: []string{"VOLUME"}},
		{spec: domain.IndicatorSpec{Name: "MACD", CalcParams: []any{"12", "26", "9"}}, names: []string{"DIF", "DEA", "MACD"}},
		{spec: domain.IndicatorSpec{Name: "RSI"}, names: []string{"RSI6", "RSI12", "RSI24"}},
		{spec: domain.IndicatorSpec{Name: "KDJ"}, names: []string{"K", "D", "J"}},
	}

	for _, tt := range tests {
		t.Run(tt.spec.Name, func(t *testing.T) {
			res, err := Compute(bars, tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.names, seriesNames(res))
			assert.Equal(t, tt.overlay, res.Overlay)
			for _, s := range res.Series {
				require.Len(t, s.Values, len(bars), s.Name)
				assert.NotNil(t, s.Values[len(bars)-1], "%s has a latest value", s.Name)
			}
		})
	}
}

func TestCompute_MAValuesAndWarmup(t *testing.T) {
	bars := makeBars(10)
	res, err := Compute(bars, domain.IndicatorSpec{Name: "MA", CalcParams: []any{5, 6, 7}})
	require.NoError(t, err)

	values := res.Series[0].Values
	for i := 0; i < 4; i++ {
		assert.Nil(t, values[i])
	}
	require.NotNil(t, values[4])
	assert.InDelta(t, 102.0, *values[4], 1e-9) // mean of 100..104
	assert.InDelta(t, 107.0, *values[9], 1e-9)
}

func TestCompute_ShortHistoryYieldsEmptyLines(t *testing.T) {
	bars := makeBars(3)
	res, err := Compute(bars, domain.IndicatorSpec{Name: "MACD"})
	require.NoError(t, err)
	for _, s := range res.Series {
		for _, v := range s.Values {
			assert.Nil(t, v)
		}
	}

	latest := res.Latest()
	assert.Contains(t, latest.Values, "DIF")
	assert.Nil(t, latest.Values["DIF"])
}

func TestCompute_VolumePassthrough(t *testing.T) {
	bars := makeBars(3)
	res, err := Compute(bars, domain.IndicatorSpec{Name: "VOL"})
	require.NoError(t, err)
	require.NotNil(t, res.Series[0].Values[2])
	assert.Equal(t, 1002.0, *res.Series[0].Values[2])
}

func TestCompute_InvalidSpec(t *testing.T) {
	_, err := Compute(makeBars(10), domain.IndicatorSpec{Name: "ICHIMOKU"})
	assert.Error(t, err)

	_, err = Compute(makeBars(10), domain.IndicatorSpec{Name: "MACD", CalcParams: []any{26, 12, 9}})
	assert.Error(t, err, "short period above long period")
}

func TestComputeAll_Defaults(t *testing.T) {
	results, err := ComputeAll(makeBars(60), domain.DefaultIndicators())
	require.NoError(t, err)
	require.Len(t, results, 3)

	latest := results[0].Latest()
	assert.Equal(t, "MA", latest.Name)
	assert.Equal(t, []float64{5, 10, 30}, latest.Params)
	require.NotNil(t, latest.Values["MA5"])
	assert.InDelta(t, 157.0, *latest.Values["MA5"], 1e-9) // mean of 155..159
}
