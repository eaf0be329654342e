package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Hari-sh-S/options-algo/internal/errors"
)

// DateLayout is the wire format for expiry dates.
const DateLayout = "2006-01-02"

// Date is a calendar date without a time component.
type Date struct {
	time.Time
}

// ParseDate parses a yyyy-mm-dd date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

// NewDate truncates t to its calendar date.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

// SameDay reports whether t falls on the same calendar date as d.
func (d Date) SameDay(t time.Time) bool {
	y1, m1, d1 := d.Date()
	y2, m2, d2 := t.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", s, err)
	}
	*d = parsed
	return nil
}

// StrategyRequest is an immutable request to execute one strategy instance.
type StrategyRequest struct {
	Strategy      Strategy `json:"strategy"`
	Index         Index    `json:"index"`
	Expiry        Date     `json:"expiry"`
	Lots          int      `json:"lots"`
	SLPercent     float64  `json:"sl_percent"`
	TargetPremium *float64 `json:"target_premium,omitempty"`
	SpotPercent   *float64 `json:"spot_percent,omitempty"`
}

// Validate checks the request contract before any broker call is made.
func (r StrategyRequest) Validate() error {
	if !r.Strategy.Valid() {
		return apperrors.NewValidationError("strategy", r.Strategy, "must be short_straddle, premium_based or spot_strangle")
	}
	if _, ok := ParseIndex(string(r.Index)); !ok {
		return apperrors.NewValidationError("index", r.Index, "must be NIFTY or SENSEX")
	}
	if r.Expiry.IsZero() {
		return apperrors.NewValidationError("expiry", r.Expiry, "is required")
	}
	if r.Lots <= 0 {
		return apperrors.NewValidationError("lots", r.Lots, "must be a positive integer")
	}
	if r.SLPercent < 0 {
		return apperrors.NewValidationError("sl_percent", r.SLPercent, "must be non-negative")
	}

	switch r.Strategy {
	case StrategyPremiumBased:
		if r.TargetPremium == nil {
			return apperrors.NewValidationError("target_premium", nil, "is required for premium_based")
		}
	case StrategySpotStrangle:
		if r.SpotPercent == nil {
			return apperrors.NewValidationError("spot_percent", nil, "is required for spot_strangle")
		}
	}
	if r.TargetPremium != nil && *r.TargetPremium <= 0 {
		return apperrors.NewValidationError("target_premium", *r.TargetPremium, "must be positive")
	}
	if r.SpotPercent != nil && *r.SpotPercent <= 0 {
		return apperrors.NewValidationError("spot_percent", *r.SpotPercent, "must be positive")
	}
	return nil
}

// ExecutionState is a state of the per-strategy execution state machine.
type ExecutionState string

const (
	StateSelecting       ExecutionState = "SELECTING"
	StatePlacingEntry    ExecutionState = "PLACING_ENTRY"
	StateConfirmingEntry ExecutionState = "CONFIRMING_ENTRY"
	StatePlacingStopLoss ExecutionState = "PLACING_STOPLOSS"
	StateDone            ExecutionState = "DONE"
	StateAborted         ExecutionState = "ABORTED"
)

// IsTerminal reports whether the state ends the run.
func (s ExecutionState) IsTerminal() bool {
	return s == StateDone || s == StateAborted
}

// ExecutionResult aggregates the outcome of one strategy run.
type ExecutionResult struct {
	Success      bool           `json:"success"`
	State        ExecutionState `json:"state"`
	Owner        string         `json:"owner"`
	Mode         string         `json:"mode"`
	Strategy     Strategy       `json:"strategy"`
	Index        Index          `json:"index"`
	Expiry       Date           `json:"expiry"`
	Quantity     int            `json:"quantity"`
	Spot         float64        `json:"spot,omitempty"`
	EntryLegs    []Leg          `json:"legs"`
	StopLossLegs []Leg          `json:"sl_legs"`
	Error        string         `json:"error,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
}

// EntrySucceeded reports whether every entry leg reached terminal success.
func (r *ExecutionResult) EntrySucceeded() bool {
	if len(r.EntryLegs) == 0 {
		return false
	}
	for _, leg := range r.EntryLegs {
		if !leg.Status.IsSuccess() {
			return false
		}
	}
	return true
}

// SpotQuote is the last traded price of an index.
type SpotQuote struct {
	Index     Index
	LTP       float64
	Timestamp time.Time
}

// OptionQuote is a single quoted contract in an option chain.
type OptionQuote struct {
	Strike  float64
	Side    OptionSide
	Premium float64
	Symbol  string
}

// OptionChain is the set of quoted contracts for one index and expiry.
type OptionChain struct {
	Index  Index
	Expiry Date
	Quotes []OptionQuote
}

// Side returns the quotes for one option side.
func (c *OptionChain) Side(side OptionSide) []OptionQuote {
	var out []OptionQuote
	for _, q := range c.Quotes {
		if q.Side == side {
			out = append(out, q)
		}
	}
	return out
}

// Lookup finds the quote for an exact strike and side.
func (c *OptionChain) Lookup(strike float64, side OptionSide) (OptionQuote, bool) {
	for _, q := range c.Quotes {
		if q.Side == side && q.Strike == strike {
			return q, true
		}
	}
	return OptionQuote{}, false
}

// MarketSnapshot is the market state strike selection works from.
type MarketSnapshot struct {
	Spot  float64
	Chain OptionChain
	Spec  IndexSpec
}
