// Package indicators evaluates chart indicator settings against a coin's
// price history.
package indicators

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/coinverse/internal/domain"
	ta "github.com/vadiminshakov/coinverse/pkg/indicators"
)

// Series is one named line of an indicator, aligned with the input bars.
// Values are nil during the warmup period.
type Series struct {
	Name   string     `json:"name"`
	Values []*float64 `json:"values"`
}

// Result holds every line computed for one indicator.
type Result struct {
	Name    string    `json:"name"`
	Params  []float64 `json:"params"`
	Overlay bool      `json:"overlay"`
	Series  []Series  `json:"series"`
}

// Latest is the most recent value of every line of an indicator.
type Latest struct {
	Name   string              `json:"name"`
	Params []float64           `json:"params"`
	Values map[string]*float64 `json:"values"`
}

// Latest returns the last value of each series.
func (r Result) Latest() Latest {
	values := make(map[string]*float64, len(r.Series))
	for _, s := range r.Series {
		if len(s.Values) == 0 {
			values[s.Name] = nil
			continue
		}
		values[s.Name] = s.Values[len(s.Values)-1]
	}
	return Latest{Name: r.Name, Params: r.Params, Values: values}
}

// Compute evaluates one indicator over bars.
func Compute(bars []domain.HistoricalBar, spec domain.IndicatorSpec) (Result, error) {
	if err := spec.Validate(); err != nil {
		return Result{}, err
	}
	info, _ := domain.LookupIndicator(spec.Name)
	params, err := spec.Params()
	if err != nil {
		return Result{}, err
	}

	res := Result{Name: info.Name, Params: params, Overlay: info.Overlay}
	closes := domain.Closes(bars)
	n := len(bars)

	switch info.Name {
	case "MA", "EMA":
		calc := ta.SMA
		if info.Name == "EMA" {
			calc = ta.EMA
		}
		for _, p := range params {
			line, err := calc(closes, int(p))
			if err := tolerate(err); err != nil {
				return Result{}, err
			}
			res.Series = append(res.Series, Series{Name: fmt.Sprintf("%s%d", info.Name, int(p)), Values: ta.AlignRight(line, n)})
		}

	case "BOLL":
		upper, middle, lower, err := ta.Bollinger(closes, int(params[0]), params[1])
		if err := tolerate(err); err != nil {
			return Result{}, err
		}
		res.Series = []Series{
			{Name: "UP", Values: ta.AlignRight(upper, n)},
			{Name: "MID", Values: ta.AlignRight(middle, n)},
			{Name: "DN", Values: ta.AlignRight(lower, n)},
		}

	case "BBI":
		res.Series = []Series{{Name: "BBI", Values: bbi(closes, params)}}

	case "VOL":
		volumes := make([]float64, n)
		for i, b := range bars {
			volumes[i] = b.Volume
		}
		res.Series = []Series{{Name: "VOLUME", Values: ta.AlignRight(volumes, n)}}

	case "MACD":
		dif, dea, err := ta.MACD(closes, int(params[0]), int(params[1]), int(params[2]))
		if err := tolerate(err); err != nil {
			return Result{}, err
		}
		hist := make([]float64, len(dif))
		for i := range dif {
			hist[i] = (dif[i] - dea[i]) * 2
		}
		res.Series = []Series{
			{Name: "DIF", Values: ta.AlignRight(dif, n)},
			{Name: "DEA", Values: ta.AlignRight(dea, n)},
			{Name: "MACD", Values: ta.AlignRight(hist, n)},
		}

	case "RSI":
		for _, p := range params {
			line, err := ta.RSI(closes, int(p))
			if err := tolerate(err); err != nil {
				return Result{}, err
			}
			res.Series = append(res.Series, Series{Name: fmt.Sprintf("RSI%d", int(p)), Values: ta.AlignRight(line, n)})
		}

	case "KDJ":
		highs := make([]float64, n)
		lows := make([]float64, n)
		for i, b := range bars {
			highs[i], lows[i] = b.High, b.Low
		}
		k, d, j, err := ta.KDJ(highs, lows, closes, int(params[0]), int(params[1]), int(params[2]))
		if err := tolerate(err); err != nil {
			return Result{}, err
		}
		res.Series = []Series{
			{Name: "K", Values: ta.AlignRight(k, n)},
			{Name: "D", Values: ta.AlignRight(d, n)},
			{Name: "J", Values: ta.AlignRight(j, n)},
		}

	default:
		return Result{}, errors.Errorf("indicator %s has no calculator", info.Name)
	}

	return res, nil
}

// ComputeAll evaluates specs in order.
func ComputeAll(bars []domain.HistoricalBar, specs []domain.IndicatorSpec) ([]Result, error) {
	out := make([]Result, 0, len(specs))
	for _, spec := range specs {
		r, err := Compute(bars, spec)
		if err != nil {
			return nil, errors.Wrapf(err, "compute %s", strings.ToUpper(spec.Name))
		}
		out = append(out, r)
	}
	return out, nil
}

// bbi averages the moving averages of all periods; it starts once the longest is warm.
func bbi(closes []float64, params []float64) []*float64 {
	n := len(closes)
	sum := make([]float64, n)
	shortest := n
	for _, p := range params {
		line, err := ta.SMA(closes, int(p))
		if err != nil {
			return make([]*float64, n)
		}
		offset := n - len(line)
		for i, v := range line {
			sum[offset+i] += v
		}
		if len(line) < shortest {
			shortest = len(line)
		}
	}

	avg := make([]float64, shortest)
	for i := range avg {
		avg[i] = sum[n-shortest+i] / float64(len(params))
	}
	return ta.AlignRight(avg, n)
}

// tolerate turns a short history into an empty line instead of an error.
func tolerate(err error) error {
	if err == nil || errors.Is(err, ta.ErrNotEnoughData) {
		return nil
	}
	return err
}
