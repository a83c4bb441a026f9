// Package indicators provides technical analysis series (SMA, EMA, MACD, RSI,
// Bollinger, KDJ) over float64 price data.
package indicators

import (
	"fmt"
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/pkg/errors"
)

// ErrNotEnoughData is returned when the input is shorter than the warmup period.
var ErrNotEnoughData = errors.New("not enough data points")

func checkLen(n, need int) error {
	if need < 1 {
		return fmt.Errorf("period must be positive, got %d", need)
	}
	if n < need {
		return errors.Wrapf(ErrNotEnoughData, "need %d, got %d", need, n)
	}
	return nil
}

// SMA calculates the Simple Moving Average for the given period.
func SMA(values []float64, period int) ([]float64, error) {
	if err := checkLen(len(values), period); err != nil {
		return nil, err
	}

	sma := trend.NewSmaWithPeriod[float64](period)
	return helper.ChanToSlice(sma.Compute(helper.SliceToChan(values))), nil
}

// EMA calculates the Exponential Moving Average for the given period.
func EMA(values []float64, period int) ([]float64, error) {
	if err := checkLen(len(values), period); err != nil {
		return nil, err
	}

	ema := trend.NewEmaWithPeriod[float64](period)
	return helper.ChanToSlice(ema.Compute(helper.SliceToChan(values))), nil
}

// MACD calculates the MACD line and its signal line. Both slices have the same length.
func MACD(values []float64, short, long, signal int) ([]float64, []float64, error) {
	if short >= long {
		return nil, nil, fmt.Errorf("MACD short period %d must be below long period %d", short, long)
	}
	if err := checkLen(len(values), long+signal-1); err != nil {
		return nil, nil, err
	}

	macd := trend.NewMacdWithPeriod[float64](short, long, signal)
	macdChan, signalChan := macd.Compute(helper.SliceToChan(values))

	// both outputs come from one pipeline and must be drained together
	signalDone := make(chan []float64)
	go func() {
		signalDone <- helper.ChanToSlice(signalChan)
	}()
	macdLine := helper.ChanToSlice(macdChan)
	signalLine := <-signalDone

	return macdLine, signalLine, nil
}

// RSI calculates the Relative Strength Index for the given period.
func RSI(values []float64, period int) ([]float64, error) {
	if err := checkLen(len(values), period+1); err != nil {
		return nil, err
	}

	rsi := momentum.NewRsiWithPeriod[float64](period)
	return helper.ChanToSlice(rsi.Compute(helper.SliceToChan(values))), nil
}

// Bollinger calculates the middle band (SMA) and the upper and lower bands at
// k population standard deviations.
func Bollinger(values []float64, period int, k float64) (upper, middle, lower []float64, _ error) {
	middle, err := SMA(values, period)
	if err != nil {
		return nil, nil, nil, err
	}

	upper = make([]float64, len(middle))
	lower = make([]float64, len(middle))
	offset := len(values) - len(middle)
	for i, m := range middle {
		end := offset + i + 1
		var sum float64
		for _, v := range values[end-period : end] {
			sum += (v - m) * (v - m)
		}
		sd := math.Sqrt(sum / float64(period))
		upper[i] = m + k*sd
		lower[i] = m - k*sd
	}

	return upper, middle, lower, nil
}

// KDJ calculates the stochastic K, D and J lines. K and D are smoothed with
// 1/m1 and 1/m2 weights starting from 50.
func KDJ(highs, lows, closes []float64, n, m1, m2 int) (k, d, j []float64, _ error) {
	if len(highs) != len(closes) || len(lows) != len(closes) {
		return nil, nil, nil, errors.New("high, low and close series differ in length")
	}
	if m1 < 1 || m2 < 1 {
		return nil, nil, nil, fmt.Errorf("KDJ smoothing periods must be positive, got %d and %d", m1, m2)
	}
	if err := checkLen(len(closes), n); err != nil {
		return nil, nil, nil, err
	}

	size := len(closes) - n + 1
	k = make([]float64, size)
	d = make([]float64, size)
	j = make([]float64, size)

	prevK, prevD := 50.0, 50.0
	for i := 0; i < size; i++ {
		end := i + n
		hh, ll := highs[i], lows[i]
		for x := i; x < end; x++ {
			hh = math.Max(hh, highs[x])
			ll = math.Min(ll, lows[x])
		}

		rsv := 0.0
		if hh != ll {
			rsv = (closes[end-1] - ll) / (hh - ll) * 100
		}

		k[i] = (float64(m1-1)*prevK + rsv) / float64(m1)
		d[i] = (float64(m2-1)*prevD + k[i]) / float64(m2)
		j[i] = 3*k[i] - 2*d[i]
		prevK, prevD = k[i], d[i]
	}

	return k, d, j, nil
}

// AlignRight pads series at the front with nils so that it ends on the last of n points.
func AlignRight(series []float64, n int) []*float64 {
	out := make([]*float64, n)
	offset := n - len(series)
	for i, v := range series {
		if offset+i < 0 {
			continue
		}
		v := v
		out[offset+i] = &v
	}
	return out
}
