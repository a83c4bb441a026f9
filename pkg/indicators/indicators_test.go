package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i + 1)
	}
	return out
}

func TestSMA(t *testing.T) {
	got, err := SMA([]float64{1, 2, 3, 4, 5}, 3)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2, 3, 4}, got, 1e-9)
}

func TestSMA_NotEnoughData(t *testing.T) {
	_, err := SMA([]float64{1, 2}, 3)
	assert.ErrorIs(t, err, ErrNotEnoughData)

	_, err = SMA([]float64{1, 2}, 0)
	assert.Error(t, err)
}

func TestEMA_ConstantSeries(t *testing.T) {
	values := []float64{5, 5, 5, 5, 5, 5}
	got, err := EMA(values, 3)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	for _, v := range got {
		assert.InDelta(t, 5, v, 1e-9)
	}
}

func TestMACD_Lengths(t *testing.T) {
	macd, signal, err := MACD(ramp(60), 12, 26, 9)
	require.NoError(t, err)
	require.NotEmpty(t, macd)
	assert.Equal(t, len(macd), len(signal))
	assert.LessOrEqual(t, len(macd), 60)

	_, _, err = MACD(ramp(20), 12, 26, 9)
	assert.ErrorIs(t, err, ErrNotEnoughData)

	_, _, err = MACD(ramp(60), 26, 12, 9)
	assert.Error(t, err)
}

func TestRSI_RisingSeriesIsHigh(t *testing.T) {
	got, err := RSI(ramp(30), 6)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Greater(t, got[len(got)-1], 90.0)
}

func TestBollinger(t *testing.T) {
	upper, middle, lower, err := Bollinger([]float64{2, 4, 4, 4, 5, 5, 7, 9}, 8, 2)
	require.NoError(t, err)
	require.Len(t, middle, 1)
	assert.InDelta(t, 5, middle[0], 1e-9)
	// population standard deviation of the window is 2
	assert.InDelta(t, 9, upper[0], 1e-9)
	assert.InDelta(t, 1, lower[0], 1e-9)
}

func TestKDJ(t *testing.T) {
	highs := []float64{10, 11, 12, 13}
	lows := []float64{8, 9, 10, 11}
	closes := []float64{9, 10, 11, 13}

	k, d, j, err := KDJ(highs, lows, closes, 3, 3, 3)
	require.NoError(t, err)
	require.Len(t, k, 2)

	// first window: hh=12 ll=8 close=11 -> rsv=75
	assert.InDelta(t, (2*50.0+75)/3, k[0], 1e-9)
	assert.InDelta(t, (2*50.0+k[0])/3, d[0], 1e-9)
	assert.InDelta(t, 3*k[0]-2*d[0], j[0], 1e-9)
	assert.Len(t, d, 2)
	assert.Len(t, j, 2)

	_, _, _, err = KDJ(highs, lows[:2], closes, 3, 3, 3)
	assert.Error(t, err)
}

func TestAlignRight(t *testing.T) {
	out := AlignRight([]float64{7, 8}, 4)
	require.Len(t, out, 4)
	assert.Nil(t, out[0])
	assert.Nil(t, out[1])
	require.NotNil(t, out[2])
	assert.Equal(t, 7.0, *out[2])
	assert.Equal(t, 8.0, *out[3])
}
