package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// IndicatorSpec is a technical overlay or sub-pane request.
type IndicatorSpec struct {
	Name string `json:"name"`
	// CalcParams holds numbers or numeric strings; meaning depends on Name.
	CalcParams []any `json:"calcParams,omitempty"`
}

// IndicatorInfo describes an entry of the indicator catalog.
type IndicatorInfo struct {
	Name          string    `json:"name"`
	FullName      string    `json:"fullName"`
	DefaultParams []float64 `json:"defaultParams"`
	ParamNames    []string  `json:"paramNames"`
	Overlay       bool      `json:"overlay"`
}

// IndicatorCatalog lists the supported indicators in display order.
var IndicatorCatalog = []IndicatorInfo{
	{Name: "MA", FullName: "Moving Average", DefaultParams: []float64{5, 10, 30}, ParamNames: []string{"P1", "P2", "P3"}, Overlay: true},
	{Name: "EMA", FullName: "Exponential Moving Average", DefaultParams: []float64{6, 12, 20}, ParamNames: []string{"P1", "P2", "P3"}, Overlay: true},
	{Name: "BOLL", FullName: "Bollinger Bands", DefaultParams: []float64{20, 2}, ParamNames: []string{"Period", "StdDev"}, Overlay: true},
	{Name: "BBI", FullName: "Bull and Bear Index", DefaultParams: []float64{3, 6, 12, 24}, ParamNames: []string{"P1", "P2", "P3", "P4"}, Overlay: true},
	{Name: "VOL", FullName: "Volume"},
	{Name: "MACD", FullName: "MACD", DefaultParams: []float64{12, 26, 9}, ParamNames: []string{"Short", "Long", "Period"}},
	{Name: "RSI", FullName: "Relative Strength Index", DefaultParams: []float64{6, 12, 24}, ParamNames: []string{"P1", "P2", "P3"}},
	{Name: "KDJ", FullName: "Stochastic Oscillator", DefaultParams: []float64{9, 3, 3}, ParamNames: []string{"K", "D", "J"}},
}

// DefaultIndicators is used when no settings were saved.
func DefaultIndicators() []IndicatorSpec {
	return []IndicatorSpec{
		{Name: "MA", CalcParams: []any{5, 10, 30}},
		{Name: "VOL"},
		{Name: "MACD", CalcParams: []any{12, 26, 9}},
	}
}

// LookupIndicator finds a catalog entry by name, case-insensitively.
func LookupIndicator(name string) (IndicatorInfo, bool) {
	for _, info := range IndicatorCatalog {
		if strings.EqualFold(info.Name, name) {
			return info, true
		}
	}
	return IndicatorInfo{}, false
}

// Params converts CalcParams to numbers, falling back to catalog defaults when empty.
func (s IndicatorSpec) Params() ([]float64, error) {
	info, ok := LookupIndicator(s.Name)
	if !ok {
		return nil, fmt.Errorf("unknown indicator %q", s.Name)
	}
	if len(s.CalcParams) == 0 {
		return append([]float64(nil), info.DefaultParams...), nil
	}

	params := make([]float64, len(s.CalcParams))
	for i, raw := range s.CalcParams {
		switch v := raw.(type) {
		case float64:
			params[i] = v
		case float32:
			params[i] = float64(v)
		case int:
			params[i] = float64(v)
		case int64:
			params[i] = float64(v)
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("%s parameter %d: %q is not a number", info.Name, i+1, v)
			}
			params[i] = f
		default:
			return nil, fmt.Errorf("%s parameter %d: unsupported type %T", info.Name, i+1, raw)
		}
	}
	return params, nil
}

// Validate checks the name against the catalog and the parameter count and values.
func (s IndicatorSpec) Validate() error {
	info, ok := LookupIndicator(s.Name)
	if !ok {
		return fmt.Errorf("unknown indicator %q", s.Name)
	}
	params, err := s.Params()
	if err != nil {
		return err
	}
	if len(params) != len(info.DefaultParams) {
		return fmt.Errorf("%s expects %d parameters, got %d", info.Name, len(info.DefaultParams), len(params))
	}
	for i, p := range params {
		if p <= 0 {
			return fmt.Errorf("%s parameter %s must be positive", info.Name, info.ParamNames[i])
		}
		// the Bollinger deviation multiplier is the only non-period parameter
		if info.Name == "BOLL" && i == 1 {
			continue
		}
		if p != math.Trunc(p) {
			return fmt.Errorf("%s parameter %s must be a whole number of bars", info.Name, info.ParamNames[i])
		}
	}
	if info.Name == "MACD" && params[0] >= params[1] {
		return errors.New("MACD short period must be below long period")
	}
	return nil
}

// ValidateIndicators validates every spec and rejects duplicates.
func ValidateIndicators(specs []IndicatorSpec) error {
	seen := make(map[string]struct{}, len(specs))
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return err
		}
		key := strings.ToUpper(s.Name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("indicator %s listed twice", key)
		}
		seen[key] = struct{}{}
	}
	return nil
}
