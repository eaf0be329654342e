package trading

import (
	"github.com/shopspring/decimal"

	"github.com/Hari-sh-S/options-algo/pkg/utils"
)

var hundred = decimal.NewFromInt(100)

// StopLossTrigger returns the trigger for a short option stop-loss:
// premium * (1 + slPercent/100) rounded to 2 dp, then to the nearest tick
// when tick > 0.
func StopLossTrigger(premium, slPercent, tick float64) float64 {
	factor := decimal.NewFromInt(1).Add(decimal.NewFromFloat(slPercent).Div(hundred))
	trigger := decimal.NewFromFloat(premium).Mul(factor).Round(2).InexactFloat64()
	return utils.RoundToTick(trigger, tick)
}
