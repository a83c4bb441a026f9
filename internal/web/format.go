package web

import (
	"strings"

	"github.com/shopspring/decimal"
)

var compactUnits = []struct {
	exp    int32
	suffix string
}{
	{12, "T"},
	{9, "B"},
	{6, "M"},
	{3, "K"},
}

// FormatPrice renders a USD price: two decimals from $1 up, up to eight below.
func FormatPrice(v float64) string {
	d := decimal.NewFromFloat(v)
	places := int32(2)
	if d.Abs().LessThan(decimal.NewFromInt(1)) {
		places = 8
	}

	s := d.Abs().Round(places).StringFixed(places)
	intPart, frac, _ := strings.Cut(s, ".")
	frac = strings.TrimRight(frac, "0")
	for len(frac) < 2 {
		frac += "0"
	}

	return sign(d) + "$" + groupThousands(intPart) + "." + frac
}

// FormatMarketCap renders a USD amount in compact notation, e.g. $1.23T.
func FormatMarketCap(v float64) string {
	d := decimal.NewFromFloat(v)
	abs := d.Abs()

	for i, u := range compactUnits {
		if abs.LessThan(decimal.New(1, u.exp)) {
			continue
		}
		scaled := abs.Shift(-u.exp).Round(2)
		// 999.996K rounds up into the next unit
		if i > 0 && scaled.GreaterThanOrEqual(decimal.NewFromInt(1000)) {
			u = compactUnits[i-1]
			scaled = abs.Shift(-u.exp).Round(2)
		}
		return sign(d) + "$" + scaled.String() + u.suffix
	}

	return sign(d) + "$" + abs.Round(2).String()
}

// FormatChange renders the magnitude of a percent change, or N/A when unknown.
func FormatChange(p *float64) string {
	if p == nil {
		return "N/A"
	}
	return decimal.NewFromFloat(*p).Abs().StringFixed(2) + "%"
}

func sign(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-"
	}
	return ""
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}

	var b strings.Builder
	head := len(digits) % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
