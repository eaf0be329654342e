package models

import (
	"fmt"

	apperrors "github.com/Hari-sh-S/options-algo/internal/errors"
)

// LegRole distinguishes entry legs from their protective stop-loss legs.
type LegRole string

const (
	RoleEntry    LegRole = "entry"
	RoleStopLoss LegRole = "stoploss"
)

// LegStatus is the lifecycle status of a single leg.
type LegStatus string

const (
	LegPending  LegStatus = "PENDING"
	LegTransit  LegStatus = "TRANSIT"
	LegTraded   LegStatus = "TRADED"
	LegFilled   LegStatus = "FILLED"
	LegComplete LegStatus = "COMPLETE"
	LegRejected LegStatus = "REJECTED"
	LegFailed   LegStatus = "FAILED"
	LegSkipped  LegStatus = "SKIPPED"
)

// AllLegStatuses lists every leg status.
var AllLegStatuses = []LegStatus{
	LegPending, LegTransit, LegTraded, LegFilled, LegComplete, LegRejected, LegFailed, LegSkipped,
}

// IsSuccess reports whether the status is a terminal success.
func (s LegStatus) IsSuccess() bool {
	return s == LegTraded || s == LegFilled || s == LegComplete
}

// IsFailure reports whether the status is a terminal failure.
func (s LegStatus) IsFailure() bool {
	return s == LegRejected || s == LegFailed
}

// IsTerminal reports whether no further transition is possible.
func (s LegStatus) IsTerminal() bool {
	return s.IsSuccess() || s.IsFailure() || s == LegSkipped
}

// CanTransition reports whether moving from s to next is allowed.
func (s LegStatus) CanTransition(next LegStatus) bool {
	switch s {
	case LegPending:
		return next == LegTransit || next == LegSkipped || next.IsFailure()
	case LegTransit:
		return next.IsSuccess() || next.IsFailure()
	}
	return false
}

// Leg is one side of a multi-leg strategy, either an entry or its stop-loss.
type Leg struct {
	Role          LegRole    `json:"role"`
	Side          OptionSide `json:"leg"`
	Strike        float64    `json:"strike"`
	Symbol        string     `json:"symbol"`
	Exchange      Exchange   `json:"exchange"`
	Quantity      int        `json:"quantity"`
	Premium       *float64   `json:"premium,omitempty"`
	TriggerPrice  *float64   `json:"trigger_price,omitempty"`
	BrokerOrderID string     `json:"order_id,omitempty"`
	Tag           string     `json:"tag"`
	Status        LegStatus  `json:"status"`
	Message       string     `json:"message,omitempty"`
}

// Advance moves the leg to next, rejecting any backward or sideways move.
func (l *Leg) Advance(next LegStatus, message string) error {
	if !l.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s leg %s %s -> %s", apperrors.ErrInvalidTransition, l.Role, l.Side, l.Status, next)
	}
	l.Status = next
	if message != "" {
		l.Message = message
	}
	return nil
}

// Skip marks a pending leg as never attempted.
func (l *Leg) Skip(reason string) {
	if l.Status == LegPending {
		l.Status = LegSkipped
		l.Message = reason
	}
}

// FilledPremium returns the confirmed premium of the leg, or 0 when unknown.
func (l *Leg) FilledPremium() float64 {
	if l.Premium == nil {
		return 0
	}
	return *l.Premium
}

// Identity returns a short human-readable label for logs.
func (l *Leg) Identity() string {
	return fmt.Sprintf("%s:%s:%.0f", l.Role, l.Side, l.Strike)
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
