package strategy

import (
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	apperrors "github.com/Hari-sh-S/options-algo/internal/errors"
	"github.com/Hari-sh-S/options-algo/internal/models"
)

// fullChain quotes every strike within width intervals of ATM on both sides,
// with premiums decaying away from spot.
func fullChain(spot float64, spec models.IndexSpec, width int) models.OptionChain {
	atm := ATMStrike(spot, spec.StrikeInterval)
	chain := models.OptionChain{Index: spec.Name}
	for i := -width; i <= width; i++ {
		strike := atm + float64(i)*spec.StrikeInterval
		ce := spot*0.006 + maxf(spot-strike, 0) - float64(i)*2
		pe := spot*0.006 + maxf(strike-spot, 0) + float64(i)*2
		chain.Quotes = append(chain.Quotes,
			models.OptionQuote{Strike: strike, Side: models.CE, Premium: maxf(ce, 0.05), Symbol: "C"},
			models.OptionQuote{Strike: strike, Side: models.PE, Premium: maxf(pe, 0.05), Symbol: "P"},
		)
	}
	return chain
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// Property: for every valid request over a chain wide enough to satisfy it,
// the selector returns exactly one CE and one PE leg with lots*lot_size
// quantity.
func TestProperty_SelectorReturnsOneCallOnePut(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	specs := models.DefaultIndexSpecs()
	sel := NewSelector()

	properties.Property("exactly one CE and one PE", prop.ForAll(
		func(strategyIdx int, useSensex bool, spot float64, lots int, target float64, pct float64) bool {
			spec := specs[models.NIFTY]
			if useSensex {
				spec = specs[models.SENSEX]
				spot *= 3.3
			}

			strategies := []models.Strategy{models.StrategyShortStraddle, models.StrategyPremiumBased, models.StrategySpotStrangle}
			req := models.StrategyRequest{
				Strategy:      strategies[strategyIdx],
				Index:         spec.Name,
				Expiry:        models.NewDate(2024, time.June, 27),
				Lots:          lots,
				TargetPremium: models.Float(target),
				SpotPercent:   models.Float(pct),
			}
			if req.Validate() != nil {
				return false
			}

			snap := models.MarketSnapshot{Spot: spot, Spec: spec, Chain: fullChain(spot, spec, 60)}
			legs, err := sel.SelectLegs(req, snap)
			if err != nil {
				return false
			}
			if len(legs) != 2 || legs[0].Side != models.CE || legs[1].Side != models.PE {
				return false
			}
			for _, leg := range legs {
				if leg.Quantity != lots*spec.LotSize || leg.Status != models.LegPending {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 2),
		gen.Bool(),
		gen.Float64Range(15000, 30000),
		gen.IntRange(1, 50),
		gen.Float64Range(5, 300),
		gen.Float64Range(0.1, 2),
	))

	properties.Property("selection is deterministic", prop.ForAll(
		func(spot float64, target float64) bool {
			spec := specs[models.NIFTY]
			req := models.StrategyRequest{
				Strategy:      models.StrategyPremiumBased,
				Index:         models.NIFTY,
				Expiry:        models.NewDate(2024, time.June, 27),
				Lots:          1,
				TargetPremium: models.Float(target),
			}
			snap := models.MarketSnapshot{Spot: spot, Spec: spec, Chain: fullChain(spot, spec, 30)}

			a, errA := sel.SelectLegs(req, snap)
			b, errB := sel.SelectLegs(req, snap)
			if errA != nil || errB != nil {
				return errors.Is(errA, apperrors.ErrNoMatchingStrike) && errors.Is(errB, apperrors.ErrNoMatchingStrike)
			}
			return a[0].Strike == b[0].Strike && a[1].Strike == b[1].Strike
		},
		gen.Float64Range(15000, 30000),
		gen.Float64Range(5, 300),
	))

	properties.TestingRun(t)
}
