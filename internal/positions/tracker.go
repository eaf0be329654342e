// Package positions reads broker positions and marks them to market.
package positions

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Hari-sh-S/options-algo/internal/broker"
	"github.com/Hari-sh-S/options-algo/internal/logging"
	"github.com/Hari-sh-S/options-algo/internal/models"
)

// AccountResolver routes an owner to its broker account.
type AccountResolver interface {
	Resolve(owner string) (broker.Account, error)
}

// Tracker computes per-position and total P&L. It never changes broker
// state and is safe for concurrent use.
type Tracker struct {
	accounts AccountResolver
	logger   zerolog.Logger
}

// NewTracker creates a position tracker.
func NewTracker(accounts AccountResolver, logger zerolog.Logger) *Tracker {
	return &Tracker{
		accounts: accounts,
		logger:   logger.With().Str("component", "positions").Logger(),
	}
}

// PnL marks a position: (ltp - avg) * |qty| * side * multiplier, rounded to
// paise. A zero multiplier counts as 1.
func PnL(p models.Position) float64 {
	mult := p.Multiplier
	if mult == 0 {
		mult = 1
	}
	return decimal.NewFromFloat(p.LTP).
		Sub(decimal.NewFromFloat(p.AveragePrice)).
		Mul(decimal.NewFromInt(int64(p.Quantity()))).
		Mul(decimal.NewFromFloat(p.Side().Sign())).
		Mul(decimal.NewFromInt(int64(mult))).
		Round(2).
		InexactFloat64()
}

// Refresh reads the owner's open positions and returns them with P&L.
// Flat positions are omitted.
func (t *Tracker) Refresh(ctx context.Context, owner string) (*models.PositionSnapshot, error) {
	acct, err := t.accounts.Resolve(owner)
	if err != nil {
		return nil, err
	}

	raw, err := acct.Gateway.GetPositions(ctx)
	if err != nil {
		logger := logging.WithOwner(t.logger, owner)
		logger.Warn().Err(err).Msg("Failed to read positions")
		return nil, err
	}

	snap := &models.PositionSnapshot{
		Owner:     owner,
		Positions: make([]models.Position, 0, len(raw)),
	}
	total := decimal.Zero
	for _, p := range raw {
		if !p.IsOpen() {
			continue
		}
		p.PnL = PnL(p)
		total = total.Add(decimal.NewFromFloat(p.PnL))
		snap.Positions = append(snap.Positions, p)
	}
	snap.TotalPnL = total.Round(2).InexactFloat64()

	return snap, nil
}

// Watch calls fn with a fresh snapshot immediately and then every interval
// until ctx ends.
func (t *Tracker) Watch(ctx context.Context, owner string, interval time.Duration, fn func(*models.PositionSnapshot, error)) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		fn(t.Refresh(ctx, owner))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
