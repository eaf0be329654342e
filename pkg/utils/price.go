package utils

import (
	"github.com/shopspring/decimal"
)

// RoundPrice rounds a price to the given number of decimal places, half away
// from zero, without binary floating point drift.
func RoundPrice(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// RoundToTick rounds a price to the nearest multiple of tick. A non-positive
// tick returns v unchanged.
func RoundToTick(v, tick float64) float64 {
	if tick <= 0 {
		return v
	}
	t := decimal.NewFromFloat(tick)
	return decimal.NewFromFloat(v).Div(t).Round(0).Mul(t).Round(2).InexactFloat64()
}
