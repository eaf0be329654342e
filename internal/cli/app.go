package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/Hari-sh-S/options-algo/internal/audit"
	"github.com/Hari-sh-S/options-algo/internal/broker"
	"github.com/Hari-sh-S/options-algo/internal/models"
	"github.com/Hari-sh-S/options-algo/internal/notify"
	"github.com/Hari-sh-S/options-algo/internal/positions"
	"github.com/Hari-sh-S/options-algo/internal/resilience"
	"github.com/Hari-sh-S/options-algo/internal/scheduler"
	"github.com/Hari-sh-S/options-algo/internal/squareoff"
	"github.com/Hari-sh-S/options-algo/internal/store"
	"github.com/Hari-sh-S/options-algo/internal/trading"
)

// services are the components built from config for serve and the local
// commands. Nothing is started here.
type services struct {
	audit        *audit.Logger
	breakers     *resilience.BreakerRegistry
	accounts     *broker.Registry
	fills        *resilience.FillTracker
	notifier     notify.Notifier
	store        store.Store
	orchestrator *trading.Orchestrator
	scheduler    *scheduler.Scheduler
	squareoff    *squareoff.Timer
	positions    *positions.Tracker
}

func (a *App) openServices(ctx context.Context) (*services, error) {
	cfg := a.Config
	logger := a.Logger

	auditLog := audit.Nop()
	if cfg.Logging.AuditEnabled {
		l, err := audit.New(audit.DefaultConfig(cfg.Logging.AuditDir))
		if err != nil {
			logger.Warn().Err(err).Msg("Audit log unavailable, continuing without it")
		} else {
			auditLog = l
		}
	}

	breakers := resilience.NewBreakerRegistry(broker.BreakerConfig(cfg.Broker))
	accounts, err := broker.NewRegistryFromConfig(cfg, breakers, auditLog, logger)
	if err != nil {
		_ = auditLog.Close()
		return nil, err
	}

	multi := notify.NewMultiNotifier(&cfg.Notifications)
	multi.AddChannel(notify.NewLogChannel(logger))

	fills := resilience.NewFillTracker(200, 5)
	fills.OnAlert(func(rec resilience.FillRecord) {
		logger.Warn().
			Str("owner", rec.Owner).
			Str("symbol", rec.Symbol).
			Float64("quoted", rec.QuotedPremium).
			Float64("filled", rec.FilledPremium).
			Float64("slippage_pct", rec.SlippagePct).
			Msg("High slippage on fill")
	})

	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		_ = auditLog.Close()
		return nil, fmt.Errorf("opening %s store: %w", cfg.Store.Backend, err)
	}

	orch := trading.NewOrchestrator(accounts, fills, multi, logger, trading.Config{
		Product:      models.ProductType(cfg.Trading.Product),
		PollInterval: cfg.Execution.PollInterval,
		FillTimeout:  cfg.Execution.FillTimeout,
		TickSize:     cfg.StopLoss.TickSize,
		Specs:        cfg.IndexSpecs(),
	})

	sched := scheduler.New(st, orch, multi, logger, scheduler.Config{
		MissedPolicy: cfg.Scheduler.MissedPolicy,
		MissedGrace:  cfg.Scheduler.MissedGrace,
		HistorySize:  cfg.Scheduler.HistorySize,
	})

	return &services{
		audit:        auditLog,
		breakers:     breakers,
		accounts:     accounts,
		fills:        fills,
		notifier:     multi,
		store:        st,
		orchestrator: orch,
		scheduler:    sched,
		squareoff:    squareoff.NewTimer(accounts, st, multi, logger),
		positions:    positions.NewTracker(accounts, logger),
	}, nil
}

// Close releases the store and the audit log.
func (s *services) Close() error {
	return errors.Join(s.store.Close(), s.audit.Close())
}

// zerodha returns the owner's Kite gateway for login commands.
func (s *services) zerodha(owner string) (*broker.ZerodhaGateway, error) {
	acct, err := s.accounts.Resolve(owner)
	if err != nil {
		return nil, err
	}
	gw := acct.Gateway
	if g, ok := gw.(*broker.Guarded); ok {
		gw = g.Unwrap()
	}
	z, ok := gw.(*broker.ZerodhaGateway)
	if !ok {
		return nil, fmt.Errorf("account %s is in %s mode; login applies to live accounts", owner, acct.Mode)
	}
	return z, nil
}

// owner returns --owner or the configured default.
func (a *App) owner(flag string) string {
	if flag != "" {
		return flag
	}
	return a.Config.API.DefaultOwner
}
