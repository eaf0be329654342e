// Package models provides domain models for the options execution engine.
package models

import (
	"strings"
)

// Exchange represents an exchange segment.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
	NFO Exchange = "NFO" // NSE F&O
	BFO Exchange = "BFO" // BSE F&O
)

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the side that closes a position opened with s.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStopLoss  OrderType = "SL"
	OrderTypeStopLossM OrderType = "SL-M"
)

// IsStopLoss reports whether the order type is a stop-loss variant.
func (t OrderType) IsStopLoss() bool {
	return t == OrderTypeStopLoss || t == OrderTypeStopLossM
}

// ProductType represents the product type of an order.
type ProductType string

const (
	ProductMIS  ProductType = "MIS"  // Intraday
	ProductNRML ProductType = "NRML" // F&O Normal
)

// MarketStatus represents the current market status.
type MarketStatus string

const (
	MarketOpen    MarketStatus = "OPEN"
	MarketPreOpen MarketStatus = "PRE_OPEN"
	MarketClosed  MarketStatus = "CLOSED"
)

// OptionSide is the option type of a leg.
type OptionSide string

const (
	CE OptionSide = "CE"
	PE OptionSide = "PE"
)

// Index identifies an underlying index.
type Index string

const (
	NIFTY  Index = "NIFTY"
	SENSEX Index = "SENSEX"
)

// ParseIndex parses an index name case-insensitively.
func ParseIndex(s string) (Index, bool) {
	switch Index(strings.ToUpper(strings.TrimSpace(s))) {
	case NIFTY:
		return NIFTY, true
	case SENSEX:
		return SENSEX, true
	}
	return "", false
}

// IndexSpec describes the contract details of an index's options.
type IndexSpec struct {
	Name           Index    `json:"name"`
	LotSize        int      `json:"lot_size"`
	StrikeInterval float64  `json:"strike_interval"`
	Exchange       Exchange `json:"exchange"`
	SpotSymbol     string   `json:"spot_symbol"`
}

// DefaultIndexSpecs returns the built-in contract details.
func DefaultIndexSpecs() map[Index]IndexSpec {
	return map[Index]IndexSpec{
		NIFTY: {
			Name:           NIFTY,
			LotSize:        25,
			StrikeInterval: 50,
			Exchange:       NFO,
			SpotSymbol:     "NSE:NIFTY 50",
		},
		SENSEX: {
			Name:           SENSEX,
			LotSize:        20,
			StrikeInterval: 100,
			Exchange:       BFO,
			SpotSymbol:     "BSE:SENSEX",
		},
	}
}

// Strategy is one of the supported option-selling strategies.
type Strategy string

const (
	StrategyShortStraddle Strategy = "short_straddle"
	StrategyPremiumBased  Strategy = "premium_based"
	StrategySpotStrangle  Strategy = "spot_strangle"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyShortStraddle, StrategyPremiumBased, StrategySpotStrangle:
		return true
	}
	return false
}

// TagPrefix returns the order tag prefix used for the strategy's entry legs.
func (s Strategy) TagPrefix() string {
	switch s {
	case StrategyShortStraddle:
		return "straddle"
	case StrategyPremiumBased:
		return "premium"
	case StrategySpotStrangle:
		return "strangle"
	}
	return string(s)
}
