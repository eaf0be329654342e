// Package squareoff closes an owner's intraday book: at a scheduled time,
// on demand, or daily.
package squareoff

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Hari-sh-S/options-algo/internal/broker"
	apperrors "github.com/Hari-sh-S/options-algo/internal/errors"
	"github.com/Hari-sh-S/options-algo/internal/logging"
	"github.com/Hari-sh-S/options-algo/internal/models"
	"github.com/Hari-sh-S/options-algo/internal/notify"
	"github.com/Hari-sh-S/options-algo/internal/positions"
	"github.com/Hari-sh-S/options-algo/internal/store"
	"github.com/Hari-sh-S/options-algo/pkg/utils"
)

// Tag marks every closing order.
const Tag = "squareoff"

// AccountResolver routes an owner to its broker account.
type AccountResolver interface {
	Resolve(owner string) (broker.Account, error)
}

// Store is the persistence the timer needs.
type Store interface {
	store.ScheduleStore
	store.SummaryStore
}

type entry struct {
	schedule models.SquareOffSchedule
	timer    *time.Timer
}

// Timer holds at most one armed square-off per owner. Set, Cancel and a
// firing timer take the owner's lock, so the persisted schedule and the armed
// one never diverge; the firing timer then claims its entry under mu.
type Timer struct {
	accounts AccountResolver
	store    Store
	notifier notify.Notifier
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	owners  map[string]*sync.Mutex
	stopped bool
	running sync.WaitGroup
}

// NewTimer creates a square-off timer.
func NewTimer(accounts AccountResolver, st Store, notifier notify.Notifier, logger zerolog.Logger) *Timer {
	if notifier == nil {
		notifier = notify.NewNoOpNotifier()
	}
	return &Timer{
		accounts: accounts,
		store:    st,
		notifier: notifier,
		logger:   logger.With().Str("component", "squareoff").Logger(),
		now:      time.Now,
		entries:  make(map[string]*entry),
		owners:   make(map[string]*sync.Mutex),
	}
}

// lockOwner serializes schedule changes for one owner and returns the unlock.
func (t *Timer) lockOwner(owner string) func() {
	t.mu.Lock()
	l, ok := t.owners[owner]
	if !ok {
		l = &sync.Mutex{}
		t.owners[owner] = l
	}
	t.mu.Unlock()

	l.Lock()
	return l.Unlock
}

var errStopped = errors.New("square-off timer stopped")

// Set arms a square-off for owner at executeAt, replacing any existing one.
func (t *Timer) Set(ctx context.Context, owner string, executeAt time.Time) (*models.SquareOffSchedule, error) {
	if _, err := t.accounts.Resolve(owner); err != nil {
		return nil, err
	}
	if executeAt.IsZero() {
		return nil, apperrors.NewValidationError("execute_at", executeAt, "is required")
	}

	sch := models.SquareOffSchedule{
		ScheduleID: newScheduleID(),
		Owner:      owner,
		ExecuteAt:  executeAt,
		Active:     true,
		CreatedAt:  t.now(),
	}

	unlock := t.lockOwner(owner)
	defer unlock()

	if t.isStopped() {
		return nil, errStopped
	}
	if err := t.store.SaveSchedule(ctx, &sch); err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil, errStopped
	}
	replaced := t.arm(sch)
	t.mu.Unlock()

	logger := logging.WithOwner(t.logger, owner)
	logger.Info().
		Str("schedule_id", sch.ScheduleID).
		Time("execute_at", executeAt).
		Bool("replaced", replaced).
		Msg("Square-off scheduled")

	out := sch
	return &out, nil
}

func (t *Timer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// arm installs a timer for sch, stopping any previous one. Callers hold mu.
func (t *Timer) arm(sch models.SquareOffSchedule) bool {
	old, replaced := t.entries[sch.Owner]
	if replaced {
		old.timer.Stop()
	}

	delay := sch.ExecuteAt.Sub(t.now())
	if delay < 0 {
		delay = 0
	}
	owner, id := sch.Owner, sch.ScheduleID
	t.entries[owner] = &entry{
		schedule: sch,
		timer:    time.AfterFunc(delay, func() { t.fire(owner, id) }),
	}
	return replaced
}

// Get returns the owner's active schedule, or nil.
func (t *Timer) Get(owner string) *models.SquareOffSchedule {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[owner]
	if !ok {
		return nil
	}
	sch := e.schedule
	return &sch
}

// Cancel disarms the owner's schedule. It returns false when none was armed
// or it has already started firing.
func (t *Timer) Cancel(ctx context.Context, owner string) (bool, error) {
	unlock := t.lockOwner(owner)
	defer unlock()

	t.mu.Lock()
	e, ok := t.entries[owner]
	if ok {
		e.timer.Stop()
		delete(t.entries, owner)
	}
	t.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := t.store.DeleteSchedule(ctx, owner); err != nil {
		return true, err
	}

	logger := logging.WithOwner(t.logger, owner)
	logger.Info().Str("schedule_id", e.schedule.ScheduleID).Msg("Square-off cancelled")
	return true, nil
}

// Restore re-arms persisted schedules. Schedules from an earlier trading day
// are discarded; ones already due today fire immediately.
func (t *Timer) Restore(ctx context.Context) error {
	schedules, err := t.store.LoadSchedules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load square-off schedules: %w", err)
	}

	today := utils.TradingDate(t.now())
	restored := 0
	for _, sch := range schedules {
		logger := logging.WithOwner(t.logger, sch.Owner)
		if utils.TradingDate(sch.ExecuteAt) < today {
			logger.Warn().Time("execute_at", sch.ExecuteAt).Msg("Discarding stale square-off schedule")
			if err := t.store.DeleteSchedule(ctx, sch.Owner); err != nil {
				logger.Error().Err(err).Msg("Failed to delete stale schedule")
			}
			continue
		}

		unlock := t.lockOwner(sch.Owner)
		t.mu.Lock()
		if !t.stopped {
			sch.Active = true
			t.arm(sch)
			restored++
		}
		t.mu.Unlock()
		unlock()
	}

	t.logger.Info().Int("restored", restored).Msg("Square-off schedules restored")
	return nil
}

// Stop disarms every timer, leaving schedules persisted for Restore, and
// waits for running square-offs.
func (t *Timer) Stop() {
	t.mu.Lock()
	t.stopped = true
	for owner, e := range t.entries {
		e.timer.Stop()
		delete(t.entries, owner)
	}
	t.mu.Unlock()

	t.running.Wait()
}

func (t *Timer) fire(owner, scheduleID string) {
	unlock := t.lockOwner(owner)

	t.mu.Lock()
	e, ok := t.entries[owner]
	if !ok || e.schedule.ScheduleID != scheduleID || t.stopped {
		t.mu.Unlock()
		unlock()
		return
	}
	delete(t.entries, owner)
	t.running.Add(1)
	t.mu.Unlock()
	defer t.running.Done()

	ctx := context.Background()
	logger := logging.WithOwner(t.logger, owner).With().Str("schedule_id", scheduleID).Logger()

	// The in-memory claim above decides the race; the store only has to
	// forget the schedule.
	if _, err := t.store.ClaimSchedule(ctx, owner, scheduleID); err != nil {
		if errors.Is(err, apperrors.ErrScheduleNotFound) {
			logger.Warn().Msg("Persisted schedule already gone, squaring off anyway")
		} else {
			logger.Error().Err(err).Msg("Failed to claim schedule, squaring off anyway")
		}
	}
	unlock()

	if _, err := t.run(ctx, owner); err != nil {
		logger.Error().Err(err).Msg("Scheduled square-off failed")
		_ = t.notifier.SendError(ctx, err, "scheduled square-off for "+owner)
	}
}

// SquareOffNow runs a square-off for owner immediately.
func (t *Timer) SquareOffNow(ctx context.Context, owner string) (*models.SquareOffReport, error) {
	t.running.Add(1)
	defer t.running.Done()
	return t.run(ctx, owner)
}

// run cancels resting stop-losses, closes every open position, and records
// the day summary: P&L already realized today plus the marked value of the
// positions it closes. Failures are collected, not retried.
func (t *Timer) run(ctx context.Context, owner string) (*models.SquareOffReport, error) {
	acct, err := t.accounts.Resolve(owner)
	if err != nil {
		return nil, err
	}
	gw := acct.Gateway
	logger := logging.WithOwner(t.logger, owner)

	report := &models.SquareOffReport{
		Owner:           owner,
		StartedAt:       t.now(),
		CancelledOrders: []models.SquareOffAction{},
		ClosedPositions: []models.SquareOffAction{},
		Failures:        []models.SquareOffAction{},
	}

	filledToday := 0
	orders, err := gw.GetOrders(ctx)
	if err != nil {
		report.Failures = append(report.Failures, models.SquareOffAction{Error: "read orders: " + err.Error()})
	}
	for _, o := range orders {
		if o.IsFilled() {
			filledToday++
		}
		if !o.IsResting() || !o.Type.IsStopLoss() {
			continue
		}
		action := models.SquareOffAction{OrderID: o.ID, Symbol: o.Symbol, Quantity: o.Quantity}
		cancelled, err := gw.CancelOrder(ctx, o.ID)
		switch {
		case err != nil:
			action.Error = err.Error()
			report.Failures = append(report.Failures, action)
		case cancelled:
			report.CancelledOrders = append(report.CancelledOrders, action)
		}
	}

	total := decimal.Zero
	book, err := gw.GetPositions(ctx)
	if err != nil {
		report.Failures = append(report.Failures, models.SquareOffAction{Error: "read positions: " + err.Error()})
	}
	for _, p := range book {
		total = total.Add(decimal.NewFromFloat(p.Realized))
		if !p.IsOpen() {
			continue
		}

		side := models.OrderSideSell
		if p.NetQuantity < 0 {
			side = models.OrderSideBuy
		}
		pnl := positions.PnL(p)
		action := models.SquareOffAction{Symbol: p.Symbol, Quantity: p.Quantity(), PnL: pnl}

		res, err := gw.PlaceOrder(ctx, &models.OrderRequest{
			Symbol:   p.Symbol,
			Exchange: p.Exchange,
			Side:     side,
			Type:     models.OrderTypeMarket,
			Product:  p.Product,
			Quantity: p.Quantity(),
			Tag:      Tag,
		})
		if err != nil {
			action.Error = err.Error()
			report.Failures = append(report.Failures, action)
			logger.Error().Err(err).Str("symbol", p.Symbol).Msg("Failed to close position")
			continue
		}

		action.OrderID = res.OrderID
		report.ClosedPositions = append(report.ClosedPositions, action)
		total = total.Add(decimal.NewFromFloat(pnl))
		logging.LogOrder(logger, res.OrderID, p.Symbol, string(side), res.Status)
	}

	summary := &models.DaySummary{
		Owner:     owner,
		Date:      utils.TradingDate(report.StartedAt),
		TotalPnL:  total.Round(2).InexactFloat64(),
		NumTrades: filledToday + len(report.ClosedPositions),
		CreatedAt: t.now(),
	}
	if err := t.store.SaveDaySummary(ctx, summary); err != nil {
		report.Failures = append(report.Failures, models.SquareOffAction{Error: "save summary: " + err.Error()})
	} else {
		report.Summary = summary
	}

	event := logger.Info()
	if report.Partial() {
		event = logger.Warn().Int("failures", len(report.Failures))
	}
	event.Int("cancelled", len(report.CancelledOrders)).
		Int("closed", len(report.ClosedPositions)).
		Float64("pnl", summary.TotalPnL).
		Msg("Square-off complete")

	if err := t.notifier.SendSquareOff(ctx, report); err != nil {
		logger.Warn().Err(err).Msg("Failed to send square-off notification")
	}
	return report, nil
}

func newScheduleID() string {
	return "sq_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
