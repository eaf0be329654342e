// Package strategy selects the option strikes a strategy trades.
package strategy

import (
	"fmt"
	"math"

	apperrors "github.com/Hari-sh-S/options-algo/internal/errors"
	"github.com/Hari-sh-S/options-algo/internal/models"
)

// Selector turns a strategy request and a market snapshot into entry legs.
// It is pure: the same inputs always produce the same legs.
type Selector struct{}

// NewSelector creates a strike selector.
func NewSelector() *Selector {
	return &Selector{}
}

// ATMStrike rounds spot to the nearest strike, halves rounding up.
func ATMStrike(spot, interval float64) float64 {
	return math.Floor(spot/interval+0.5) * interval
}

// SelectLegs returns exactly two entry legs, CE first then PE.
func (s *Selector) SelectLegs(req models.StrategyRequest, snap models.MarketSnapshot) ([]models.Leg, error) {
	if snap.Spot <= 0 || len(snap.Chain.Quotes) == 0 {
		return nil, apperrors.NewDataError("snapshot", string(req.Index), "spot or option chain missing", apperrors.ErrMarketDataUnavailable)
	}
	if snap.Spec.StrikeInterval <= 0 || snap.Spec.LotSize <= 0 {
		return nil, apperrors.NewDataError("snapshot", string(req.Index), "index contract details missing", apperrors.ErrMarketDataUnavailable)
	}

	var (
		ce, pe models.OptionQuote
		err    error
	)

	switch req.Strategy {
	case models.StrategyShortStraddle:
		ce, pe, err = straddle(snap)
	case models.StrategyPremiumBased:
		if req.TargetPremium == nil {
			return nil, apperrors.NewValidationError("target_premium", nil, "is required for premium_based")
		}
		ce, pe, err = premiumBased(snap, *req.TargetPremium)
	case models.StrategySpotStrangle:
		if req.SpotPercent == nil {
			return nil, apperrors.NewValidationError("spot_percent", nil, "is required for spot_strangle")
		}
		ce, pe, err = spotStrangle(snap, *req.SpotPercent)
	default:
		return nil, apperrors.NewValidationError("strategy", req.Strategy, "unknown strategy")
	}
	if err != nil {
		return nil, err
	}

	qty := req.Lots * snap.Spec.LotSize
	prefix := req.Strategy.TagPrefix()
	return []models.Leg{
		entryLeg(ce, qty, prefix, snap.Spec.Exchange),
		entryLeg(pe, qty, prefix, snap.Spec.Exchange),
	}, nil
}

func entryLeg(q models.OptionQuote, qty int, prefix string, exchange models.Exchange) models.Leg {
	return models.Leg{
		Role:     models.RoleEntry,
		Side:     q.Side,
		Strike:   q.Strike,
		Symbol:   q.Symbol,
		Exchange: exchange,
		Quantity: qty,
		Premium:  models.Float(q.Premium),
		Tag:      fmt.Sprintf("%s_%s", prefix, lower(q.Side)),
		Status:   models.LegPending,
	}
}

func straddle(snap models.MarketSnapshot) (models.OptionQuote, models.OptionQuote, error) {
	atm := ATMStrike(snap.Spot, snap.Spec.StrikeInterval)

	ce, okCE := snap.Chain.Lookup(atm, models.CE)
	pe, okPE := snap.Chain.Lookup(atm, models.PE)
	if !okCE || !okPE {
		return models.OptionQuote{}, models.OptionQuote{}, noMatch("ATM strike %.0f is not quoted on both sides", atm)
	}
	return ce, pe, nil
}

func premiumBased(snap models.MarketSnapshot, target float64) (models.OptionQuote, models.OptionQuote, error) {
	atm := ATMStrike(snap.Spot, snap.Spec.StrikeInterval)

	ce, ok := closestPremium(snap.Chain.Side(models.CE), target, atm)
	if !ok {
		return models.OptionQuote{}, models.OptionQuote{}, noMatch("no CE quote with a positive premium")
	}
	pe, ok := closestPremium(snap.Chain.Side(models.PE), target, atm)
	if !ok {
		return models.OptionQuote{}, models.OptionQuote{}, noMatch("no PE quote with a positive premium")
	}
	return ce, pe, nil
}

// closestPremium picks the quote whose premium is nearest target. Ties go to
// the strike nearer ATM, then the lower strike.
func closestPremium(quotes []models.OptionQuote, target, atm float64) (models.OptionQuote, bool) {
	var (
		best  models.OptionQuote
		found bool
	)
	for _, q := range quotes {
		if q.Premium <= 0 {
			continue
		}
		if !found || better(q, best, target, atm) {
			best = q
			found = true
		}
	}
	return best, found
}

func better(a, b models.OptionQuote, target, atm float64) bool {
	da, db := math.Abs(a.Premium-target), math.Abs(b.Premium-target)
	if da != db {
		return da < db
	}
	ma, mb := math.Abs(a.Strike-atm), math.Abs(b.Strike-atm)
	if ma != mb {
		return ma < mb
	}
	return a.Strike < b.Strike
}

func spotStrangle(snap models.MarketSnapshot, pct float64) (models.OptionQuote, models.OptionQuote, error) {
	upper := snap.Spot * (1 + pct/100)
	lower := snap.Spot * (1 - pct/100)

	var (
		ce, pe           models.OptionQuote
		foundCE, foundPE bool
	)
	for _, q := range snap.Chain.Quotes {
		switch q.Side {
		case models.CE:
			if q.Strike >= upper && (!foundCE || q.Strike < ce.Strike) {
				ce, foundCE = q, true
			}
		case models.PE:
			if q.Strike <= lower && (!foundPE || q.Strike > pe.Strike) {
				pe, foundPE = q, true
			}
		}
	}

	if !foundCE {
		return ce, pe, noMatch("no CE strike at or above %.2f", upper)
	}
	if !foundPE {
		return ce, pe, noMatch("no PE strike at or below %.2f", lower)
	}
	return ce, pe, nil
}

func noMatch(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", apperrors.ErrNoMatchingStrike, fmt.Sprintf(format, args...))
}

func lower(side models.OptionSide) string {
	if side == models.CE {
		return "ce"
	}
	return "pe"
}
