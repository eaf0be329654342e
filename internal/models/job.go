package models

import (
	"time"
)

// ScheduledJob is a strategy request deferred to a wall-clock time.
type ScheduledJob struct {
	JobID     string          `json:"job_id"`
	ExecuteAt time.Time       `json:"execute_at"`
	Request   StrategyRequest `json:"request"`
	Owner     string          `json:"owner"`
	CreatedAt time.Time       `json:"created_at"`
}

// JobOutcome records how a scheduled job left the pending set.
type JobOutcome string

const (
	JobFired  JobOutcome = "fired"
	JobMissed JobOutcome = "missed"
	JobFailed JobOutcome = "failed"
)

// JobRun is an entry in the scheduler's run history.
type JobRun struct {
	JobID     string     `json:"job_id"`
	Owner     string     `json:"owner"`
	ExecuteAt time.Time  `json:"execute_at"`
	FiredAt   time.Time  `json:"fired_at"`
	Outcome   JobOutcome `json:"outcome"`
	Success   bool       `json:"success"`
	Error     string     `json:"error,omitempty"`
}

// SquareOffSchedule is a one-shot auto square-off for an owner.
type SquareOffSchedule struct {
	ScheduleID string    `json:"schedule_id"`
	Owner      string    `json:"owner"`
	ExecuteAt  time.Time `json:"execute_at"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// DaySummary is the P&L record written once per square-off event.
type DaySummary struct {
	Owner     string    `json:"owner"`
	Date      string    `json:"date"`
	TotalPnL  float64   `json:"total_pnl"`
	NumTrades int       `json:"num_trades"`
	CreatedAt time.Time `json:"created_at"`
}

// SquareOffAction is one broker action taken during a square-off.
type SquareOffAction struct {
	OrderID  string  `json:"order_id,omitempty"`
	Symbol   string  `json:"symbol"`
	Quantity int     `json:"quantity,omitempty"`
	PnL      float64 `json:"pnl,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// SquareOffReport describes what a square-off did.
type SquareOffReport struct {
	Owner           string            `json:"owner"`
	StartedAt       time.Time         `json:"started_at"`
	CancelledOrders []SquareOffAction `json:"cancelled_orders"`
	ClosedPositions []SquareOffAction `json:"closed_positions"`
	Failures        []SquareOffAction `json:"failures"`
	Summary         *DaySummary       `json:"summary,omitempty"`
}

// Partial reports whether any step failed.
func (r *SquareOffReport) Partial() bool {
	return len(r.Failures) > 0
}
