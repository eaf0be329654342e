package strategy

import (
	"errors"
	"fmt"
	"testing"
	"time"

	apperrors "github.com/Hari-sh-S/options-algo/internal/errors"
	"github.com/Hari-sh-S/options-algo/internal/models"
)

var niftySpec = models.DefaultIndexSpecs()[models.NIFTY]

// chainOf builds a chain from strike -> {ce, pe} premiums.
func chainOf(premiums map[float64][2]float64) models.OptionChain {
	chain := models.OptionChain{Index: models.NIFTY, Expiry: models.NewDate(2024, time.June, 27)}
	for strike, p := range premiums {
		chain.Quotes = append(chain.Quotes,
			models.OptionQuote{Strike: strike, Side: models.CE, Premium: p[0], Symbol: fmt.Sprintf("NIFTY%.0fCE", strike)},
			models.OptionQuote{Strike: strike, Side: models.PE, Premium: p[1], Symbol: fmt.Sprintf("NIFTY%.0fPE", strike)},
		)
	}
	return chain
}

func request(strategy models.Strategy) models.StrategyRequest {
	return models.StrategyRequest{
		Strategy:  strategy,
		Index:     models.NIFTY,
		Expiry:    models.NewDate(2024, time.June, 27),
		Lots:      2,
		SLPercent: 30,
	}
}

func TestATMStrike(t *testing.T) {
	tests := []struct {
		spot, interval, want float64
	}{
		{22000, 50, 22000},
		{22024.9, 50, 22000},
		{22025, 50, 22050},
		{72049, 100, 72000},
		{72050, 100, 72100},
	}
	for _, tt := range tests {
		if got := ATMStrike(tt.spot, tt.interval); got != tt.want {
			t.Errorf("ATMStrike(%.2f, %.0f) = %.0f, want %.0f", tt.spot, tt.interval, got, tt.want)
		}
	}
}

func TestShortStraddleAtATM(t *testing.T) {
	snap := models.MarketSnapshot{
		Spot:  22000,
		Spec:  niftySpec,
		Chain: chainOf(map[float64][2]float64{21950: {160, 95}, 22000: {120, 115}, 22050: {90, 140}}),
	}

	legs, err := NewSelector().SelectLegs(request(models.StrategyShortStraddle), snap)
	if err != nil {
		t.Fatalf("SelectLegs: %v", err)
	}
	if len(legs) != 2 || legs[0].Side != models.CE || legs[1].Side != models.PE {
		t.Fatalf("legs = %+v, want [CE, PE]", legs)
	}
	for _, leg := range legs {
		if leg.Strike != 22000 {
			t.Errorf("%s strike = %.0f, want 22000", leg.Side, leg.Strike)
		}
		if leg.Quantity != 50 {
			t.Errorf("%s quantity = %d, want 2 lots x 25", leg.Side, leg.Quantity)
		}
		if leg.Status != models.LegPending || leg.Role != models.RoleEntry {
			t.Errorf("%s leg = %+v", leg.Side, leg)
		}
	}
	if legs[0].Tag != "straddle_ce" || legs[1].Tag != "straddle_pe" {
		t.Errorf("tags = %s, %s", legs[0].Tag, legs[1].Tag)
	}
	if legs[0].FilledPremium() != 120 || legs[1].FilledPremium() != 115 {
		t.Errorf("quoted premiums = %.2f, %.2f", legs[0].FilledPremium(), legs[1].FilledPremium())
	}
}

func TestShortStraddleMissingATM(t *testing.T) {
	chain := chainOf(map[float64][2]float64{21950: {160, 95}, 22050: {90, 140}})
	snap := models.MarketSnapshot{Spot: 22000, Spec: niftySpec, Chain: chain}

	_, err := NewSelector().SelectLegs(request(models.StrategyShortStraddle), snap)
	if !errors.Is(err, apperrors.ErrNoMatchingStrike) {
		t.Fatalf("err = %v, want ErrNoMatchingStrike", err)
	}
}

func TestPremiumBasedClosestPerSide(t *testing.T) {
	req := request(models.StrategyPremiumBased)
	req.TargetPremium = models.Float(50)

	snap := models.MarketSnapshot{
		Spot: 22000,
		Spec: niftySpec,
		Chain: chainOf(map[float64][2]float64{
			21800: {260, 48},
			21850: {220, 0}, // zero premium ignored
			21900: {180, 70},
			22000: {120, 115},
			22100: {75, 175},
			22200: {53, 240},
			22300: {30, 320},
		}),
	}

	legs, err := NewSelector().SelectLegs(req, snap)
	if err != nil {
		t.Fatalf("SelectLegs: %v", err)
	}
	if legs[0].Strike != 22200 {
		t.Errorf("CE strike = %.0f, want 22200 (premium 53)", legs[0].Strike)
	}
	if legs[1].Strike != 21800 {
		t.Errorf("PE strike = %.0f, want 21800 (premium 48)", legs[1].Strike)
	}
	if legs[0].Tag != "premium_ce" {
		t.Errorf("tag = %s", legs[0].Tag)
	}
}

func TestPremiumBasedTieBreaks(t *testing.T) {
	req := request(models.StrategyPremiumBased)
	req.TargetPremium = models.Float(100)

	// CE 22100 and 22300 are both 10 away; 22100 is nearer ATM.
	// PE 21900 and 22100 are both 10 away and equally far from ATM; lower wins.
	snap := models.MarketSnapshot{
		Spot: 22000,
		Spec: niftySpec,
		Chain: chainOf(map[float64][2]float64{
			21900: {300, 90},
			22100: {110, 110},
			22300: {90, 400},
		}),
	}

	legs, err := NewSelector().SelectLegs(req, snap)
	if err != nil {
		t.Fatalf("SelectLegs: %v", err)
	}
	if legs[0].Strike != 22100 {
		t.Errorf("CE strike = %.0f, want 22100", legs[0].Strike)
	}
	if legs[1].Strike != 21900 {
		t.Errorf("PE strike = %.0f, want 21900", legs[1].Strike)
	}
}

func TestSpotStrangleBounds(t *testing.T) {
	req := request(models.StrategySpotStrangle)
	req.SpotPercent = models.Float(1)

	snap := models.MarketSnapshot{
		Spot: 22000,
		Spec: niftySpec,
		Chain: chainOf(map[float64][2]float64{
			21700: {400, 30},
			21750: {360, 35},
			21800: {320, 40},
			22200: {40, 300},
			22250: {35, 340},
			22300: {30, 380},
		}),
	}

	legs, err := NewSelector().SelectLegs(req, snap)
	if err != nil {
		t.Fatalf("SelectLegs: %v", err)
	}
	// 22000 * 1.01 = 22220 -> 22250; 22000 * 0.99 = 21780 -> 21750
	if legs[0].Strike != 22250 || legs[1].Strike != 21750 {
		t.Fatalf("strikes = %.0f / %.0f, want 22250 / 21750", legs[0].Strike, legs[1].Strike)
	}
	if legs[1].Tag != "strangle_pe" {
		t.Errorf("tag = %s", legs[1].Tag)
	}
}

func TestSpotStrangleOutOfRange(t *testing.T) {
	req := request(models.StrategySpotStrangle)
	req.SpotPercent = models.Float(5)

	snap := models.MarketSnapshot{
		Spot:  22000,
		Spec:  niftySpec,
		Chain: chainOf(map[float64][2]float64{21800: {320, 40}, 22200: {40, 300}}),
	}

	_, err := NewSelector().SelectLegs(req, snap)
	if !errors.Is(err, apperrors.ErrNoMatchingStrike) {
		t.Fatalf("err = %v, want ErrNoMatchingStrike", err)
	}
}

func TestSelectorMarketDataMissing(t *testing.T) {
	sel := NewSelector()
	chain := chainOf(map[float64][2]float64{22000: {120, 115}})

	for name, snap := range map[string]models.MarketSnapshot{
		"zero spot":   {Spot: 0, Spec: niftySpec, Chain: chain},
		"empty chain": {Spot: 22000, Spec: niftySpec},
	} {
		if _, err := sel.SelectLegs(request(models.StrategyShortStraddle), snap); !errors.Is(err, apperrors.ErrMarketDataUnavailable) {
			t.Errorf("%s: err = %v, want ErrMarketDataUnavailable", name, err)
		}
	}
}
