// Package trading runs multi-leg option strategies against a broker gateway.
package trading

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Hari-sh-S/options-algo/internal/broker"
	apperrors "github.com/Hari-sh-S/options-algo/internal/errors"
	"github.com/Hari-sh-S/options-algo/internal/logging"
	"github.com/Hari-sh-S/options-algo/internal/models"
	"github.com/Hari-sh-S/options-algo/internal/notify"
	"github.com/Hari-sh-S/options-algo/internal/resilience"
	"github.com/Hari-sh-S/options-algo/internal/strategy"
	"github.com/Hari-sh-S/options-algo/pkg/utils"
)

// AccountResolver routes an owner to its broker account.
type AccountResolver interface {
	Resolve(owner string) (broker.Account, error)
}

// Config controls order construction and fill confirmation.
type Config struct {
	Product      models.ProductType
	PollInterval time.Duration
	FillTimeout  time.Duration
	TickSize     float64
	Specs        map[models.Index]models.IndexSpec
}

// Orchestrator executes one strategy request end to end: select strikes,
// place both entries, confirm fills, then protect filled legs with stop-losses.
type Orchestrator struct {
	accounts AccountResolver
	selector *strategy.Selector
	fills    *resilience.FillTracker
	notifier notify.Notifier
	logger   zerolog.Logger
	cfg      Config
	now      func() time.Time
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(accounts AccountResolver, fills *resilience.FillTracker, notifier notify.Notifier, logger zerolog.Logger, cfg Config) *Orchestrator {
	if cfg.Product == "" {
		cfg.Product = models.ProductMIS
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.FillTimeout < cfg.PollInterval {
		cfg.FillTimeout = 30 * time.Second
	}
	if cfg.Specs == nil {
		cfg.Specs = models.DefaultIndexSpecs()
	}
	if fills == nil {
		fills = resilience.NewFillTracker(0, 0)
	}
	if notifier == nil {
		notifier = notify.NewNoOpNotifier()
	}

	return &Orchestrator{
		accounts: accounts,
		selector: strategy.NewSelector(),
		fills:    fills,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Fills returns the fill-quality tracker.
func (o *Orchestrator) Fills() *resilience.FillTracker {
	return o.fills
}

// Execute runs req for owner. The error return is reserved for invalid
// requests and unknown owners; broker outcomes are reported in the result.
func (o *Orchestrator) Execute(ctx context.Context, owner string, req models.StrategyRequest) (*models.ExecutionResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	acct, err := o.accounts.Resolve(owner)
	if err != nil {
		return nil, err
	}
	spec, ok := o.cfg.Specs[req.Index]
	if !ok {
		return nil, apperrors.NewValidationError("index", req.Index, "no contract details configured")
	}

	logger := logging.WithOwner(o.logger, owner).With().
		Str("strategy", string(req.Strategy)).
		Str("index", string(req.Index)).
		Str("expiry", req.Expiry.String()).
		Logger()

	result := &models.ExecutionResult{
		State:     models.StateSelecting,
		Owner:     owner,
		Mode:      string(acct.Mode),
		Strategy:  req.Strategy,
		Index:     req.Index,
		Expiry:    req.Expiry,
		Quantity:  req.Lots * spec.LotSize,
		StartedAt: o.now(),
	}

	gw := acct.Gateway

	legs, spot, err := o.selectLegs(ctx, gw, req, spec)
	result.Spot = spot
	if err != nil {
		o.abort(result, err)
		logger.Warn().Err(err).Msg("Strategy aborted during strike selection")
		o.finish(ctx, result, logger)
		return result, nil
	}
	result.EntryLegs = legs
	result.StopLossLegs = stopLossLegs(legs)

	// Submitted orders must be followed through, so later phases ignore the
	// caller's cancellation.
	run := context.WithoutCancel(ctx)

	result.State = models.StatePlacingEntry
	placedAt := o.now()
	o.forEachLeg(result.EntryLegs, func(leg *models.Leg) {
		o.placeEntry(run, gw, owner, leg, logger)
	})

	result.State = models.StateConfirmingEntry
	o.forEachLeg(result.EntryLegs, func(leg *models.Leg) {
		o.confirmEntry(run, gw, owner, leg, placedAt, logger)
	})

	result.State = models.StatePlacingStopLoss
	o.placeStopLosses(run, gw, req, result, logger)

	result.State = models.StateDone
	result.Success = result.EntrySucceeded()
	if !result.Success {
		result.Error = entryFailureSummary(result.EntryLegs)
	}

	o.finish(ctx, result, logger)
	return result, nil
}

func (o *Orchestrator) selectLegs(ctx context.Context, gw broker.Gateway, req models.StrategyRequest, spec models.IndexSpec) ([]models.Leg, float64, error) {
	spot, err := gw.GetSpotPrice(ctx, req.Index)
	if err != nil {
		return nil, 0, marketDataError(err)
	}
	chain, err := gw.GetOptionChain(ctx, req.Index, req.Expiry)
	if err != nil {
		return nil, spot.LTP, marketDataError(err)
	}

	legs, err := o.selector.SelectLegs(req, models.MarketSnapshot{
		Spot:  spot.LTP,
		Chain: *chain,
		Spec:  spec,
	})
	return legs, spot.LTP, err
}

func marketDataError(err error) error {
	if errors.Is(err, apperrors.ErrMarketDataUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", apperrors.ErrMarketDataUnavailable, err)
}

// abort skips every leg and records why. Placeholder legs stand in when
// selection never produced any.
func (o *Orchestrator) abort(result *models.ExecutionResult, err error) {
	result.State = models.StateAborted
	result.Error = err.Error()

	if len(result.EntryLegs) == 0 {
		prefix := result.Strategy.TagPrefix()
		for _, side := range []models.OptionSide{models.CE, models.PE} {
			result.EntryLegs = append(result.EntryLegs, models.Leg{
				Role:   models.RoleEntry,
				Side:   side,
				Tag:    fmt.Sprintf("%s_%s", prefix, strings.ToLower(string(side))),
				Status: models.LegPending,
			})
		}
		result.StopLossLegs = stopLossLegs(result.EntryLegs)
	}
	for i := range result.EntryLegs {
		result.EntryLegs[i].Skip("strike selection failed")
	}
	for i := range result.StopLossLegs {
		result.StopLossLegs[i].Skip("strike selection failed")
	}
}

// stopLossLegs builds one pending protective leg per entry leg.
func stopLossLegs(entries []models.Leg) []models.Leg {
	out := make([]models.Leg, len(entries))
	for i, e := range entries {
		out[i] = models.Leg{
			Role:     models.RoleStopLoss,
			Side:     e.Side,
			Strike:   e.Strike,
			Symbol:   e.Symbol,
			Exchange: e.Exchange,
			Quantity: e.Quantity,
			Tag:      "sl_" + strings.ToLower(string(e.Side)),
			Status:   models.LegPending,
		}
	}
	return out
}

// forEachLeg runs fn for every leg concurrently and waits. Each goroutine owns
// exactly one leg.
func (o *Orchestrator) forEachLeg(legs []models.Leg, fn func(*models.Leg)) {
	var wg sync.WaitGroup
	for i := range legs {
		wg.Add(1)
		go func(leg *models.Leg) {
			defer wg.Done()
			fn(leg)
		}(&legs[i])
	}
	wg.Wait()
}

func (o *Orchestrator) placeEntry(ctx context.Context, gw broker.Gateway, owner string, leg *models.Leg, logger zerolog.Logger) {
	legLog := logging.WithLeg(logger, string(leg.Role), string(leg.Side), leg.Strike, leg.Tag)

	res, err := gw.PlaceOrder(ctx, &models.OrderRequest{
		Symbol:   leg.Symbol,
		Exchange: leg.Exchange,
		Side:     models.OrderSideSell,
		Type:     models.OrderTypeMarket,
		Product:  o.cfg.Product,
		Quantity: leg.Quantity,
		Tag:      leg.Tag,
	})

	switch {
	case err == nil:
		leg.BrokerOrderID = res.OrderID
		o.advance(leg, models.LegTransit, "", legLog)
	case errors.Is(err, apperrors.ErrOrderRejected):
		o.advance(leg, models.LegRejected, rejectionReason(err), legLog)
		o.fills.RecordRejection(owner, leg.Symbol, leg.Tag, leg.Message)
	default:
		o.advance(leg, models.LegFailed, err.Error(), legLog)
	}

	logging.LogOrder(legLog, leg.BrokerOrderID, leg.Symbol, string(models.OrderSideSell), string(leg.Status))
}

// confirmEntry polls a TRANSIT leg for a bounded number of attempts.
func (o *Orchestrator) confirmEntry(ctx context.Context, gw broker.Gateway, owner string, leg *models.Leg, placedAt time.Time, logger zerolog.Logger) {
	if leg.Status != models.LegTransit {
		return
	}
	legLog := logging.WithOrderID(logging.WithLeg(logger, string(leg.Role), string(leg.Side), leg.Strike, leg.Tag), leg.BrokerOrderID)
	quoted := leg.FilledPremium()

	attempts := int(math.Ceil(float64(o.cfg.FillTimeout) / float64(o.cfg.PollInterval)))
	for i := 0; i < attempts; i++ {
		st, err := gw.GetOrderStatus(ctx, leg.BrokerOrderID)
		if err != nil {
			legLog.Warn().Err(err).Int("attempt", i+1).Msg("Order status unavailable")
		} else {
			next := models.ClassifyBrokerStatus(st.Status)
			switch {
			case next.IsSuccess():
				leg.Premium = models.Float(st.FilledPremium)
				o.advance(leg, next, "", legLog)
				o.fills.RecordFill(resilience.FillRecord{
					Owner:         owner,
					OrderID:       leg.BrokerOrderID,
					Symbol:        leg.Symbol,
					Tag:           leg.Tag,
					QuotedPremium: quoted,
					FilledPremium: st.FilledPremium,
					LatencyMs:     o.now().Sub(placedAt).Milliseconds(),
				})
				logging.LogOrder(legLog, leg.BrokerOrderID, leg.Symbol, string(models.OrderSideSell), string(leg.Status))
				return
			case next.IsFailure():
				msg := st.Message
				if msg == "" {
					msg = "broker status " + st.Status
				}
				o.advance(leg, next, msg, legLog)
				if next == models.LegRejected {
					o.fills.RecordRejection(owner, leg.Symbol, leg.Tag, msg)
				}
				logging.LogOrder(legLog, leg.BrokerOrderID, leg.Symbol, string(models.OrderSideSell), string(leg.Status))
				return
			}
		}

		if i == attempts-1 {
			break
		}
		if err := utils.Sleep(ctx, o.cfg.PollInterval); err != nil {
			o.advance(leg, models.LegFailed, "fill confirmation interrupted: "+err.Error(), legLog)
			return
		}
	}

	o.advance(leg, models.LegFailed, apperrors.ErrFillTimeout.Error(), legLog)
	logging.LogOrder(legLog, leg.BrokerOrderID, leg.Symbol, string(models.OrderSideSell), string(leg.Status))
}

func (o *Orchestrator) placeStopLosses(ctx context.Context, gw broker.Gateway, req models.StrategyRequest, result *models.ExecutionResult, logger zerolog.Logger) {
	var wg sync.WaitGroup
	for i := range result.EntryLegs {
		entry := &result.EntryLegs[i]
		sl := &result.StopLossLegs[i]

		switch {
		case req.SLPercent == 0:
			sl.Skip("stop-loss disabled")
			continue
		case !entry.Status.IsSuccess():
			sl.Skip(fmt.Sprintf("entry leg %s", entry.Status))
			continue
		case entry.FilledPremium() <= 0:
			sl.Skip("entry leg has no fill price")
			continue
		}

		sl.TriggerPrice = models.Float(StopLossTrigger(entry.FilledPremium(), req.SLPercent, o.cfg.TickSize))

		wg.Add(1)
		go func(sl *models.Leg) {
			defer wg.Done()
			o.placeStopLoss(ctx, gw, sl, logger)
		}(sl)
	}
	wg.Wait()
}

// placeStopLoss submits one BUY SL-M order. It is never retried.
func (o *Orchestrator) placeStopLoss(ctx context.Context, gw broker.Gateway, sl *models.Leg, logger zerolog.Logger) {
	legLog := logging.WithLeg(logger, string(sl.Role), string(sl.Side), sl.Strike, sl.Tag)

	res, err := gw.PlaceOrder(ctx, &models.OrderRequest{
		Symbol:       sl.Symbol,
		Exchange:     sl.Exchange,
		Side:         models.OrderSideBuy,
		Type:         models.OrderTypeStopLossM,
		Product:      o.cfg.Product,
		Quantity:     sl.Quantity,
		TriggerPrice: *sl.TriggerPrice,
		Tag:          sl.Tag,
	})

	switch {
	case err == nil:
		sl.BrokerOrderID = res.OrderID
		o.advance(sl, models.LegTransit, "", legLog)
	case errors.Is(err, apperrors.ErrOrderRejected):
		o.advance(sl, models.LegRejected, rejectionReason(err), legLog)
	default:
		o.advance(sl, models.LegFailed, err.Error(), legLog)
	}

	legLog.Info().
		Float64("trigger", *sl.TriggerPrice).
		Str("order_id", sl.BrokerOrderID).
		Str("status", string(sl.Status)).
		Msg("Stop-loss placed")
}

// advance applies a transition; an illegal one is a programming error and is
// logged rather than applied.
func (o *Orchestrator) advance(leg *models.Leg, next models.LegStatus, msg string, logger zerolog.Logger) {
	if err := leg.Advance(next, msg); err != nil {
		logger.Error().Err(err).Msg("Rejected leg transition")
	}
}

func (o *Orchestrator) finish(ctx context.Context, result *models.ExecutionResult, logger zerolog.Logger) {
	result.FinishedAt = o.now()

	event := logger.Info()
	if !result.Success {
		event = logger.Warn()
	}
	event.Bool("success", result.Success).
		Str("state", string(result.State)).
		Float64("spot", result.Spot).
		Dur("took", result.FinishedAt.Sub(result.StartedAt)).
		Msg("Strategy execution finished")

	if err := o.notifier.SendExecution(ctx, result); err != nil {
		logger.Warn().Err(err).Msg("Failed to send execution notification")
	}
}

func rejectionReason(err error) string {
	var oe *apperrors.OrderError
	if errors.As(err, &oe) && oe.Reason != "" {
		return oe.Reason
	}
	return err.Error()
}

func entryFailureSummary(legs []models.Leg) string {
	var parts []string
	for _, leg := range legs {
		if leg.Status.IsSuccess() {
			continue
		}
		part := fmt.Sprintf("%s %s", leg.Side, leg.Status)
		if leg.Message != "" {
			part += ": " + leg.Message
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "; ")
}
