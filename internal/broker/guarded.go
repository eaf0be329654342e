package broker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Hari-sh-S/options-algo/internal/audit"
	apperrors "github.com/Hari-sh-S/options-algo/internal/errors"
	"github.com/Hari-sh-S/options-algo/internal/logging"
	"github.com/Hari-sh-S/options-algo/internal/models"
	"github.com/Hari-sh-S/options-algo/internal/resilience"
	"github.com/Hari-sh-S/options-algo/pkg/utils"
)

// GuardConfig controls the protections applied around a gateway.
type GuardConfig struct {
	RateLimit   float64 // requests per second
	Burst       int
	CallTimeout time.Duration
	ReadRetries int
}

// Guarded wraps a Gateway with rate limiting, circuit breaking, bounded
// retries for reads and an audit trail. Order placement is never retried.
type Guarded struct {
	owner   string
	inner   Gateway
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	audit   *audit.Logger
	logger  zerolog.Logger
	cfg     GuardConfig
	retry   utils.RetryConfig
}

// NewGuarded wraps inner for owner.
func NewGuarded(owner string, inner Gateway, breaker *resilience.CircuitBreaker, auditLog *audit.Logger, logger zerolog.Logger, cfg GuardConfig) *Guarded {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 8
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.ReadRetries <= 0 {
		cfg.ReadRetries = 1
	}

	retry := utils.DefaultRetryConfig()
	retry.MaxAttempts = cfg.ReadRetries
	retry.Retryable = apperrors.IsTransient

	return &Guarded{
		owner:   owner,
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		breaker: breaker,
		audit:   auditLog,
		logger:  logging.WithOwner(logger, owner),
		cfg:     cfg,
		retry:   retry,
	}
}

// Unwrap returns the wrapped gateway.
func (g *Guarded) Unwrap() Gateway {
	return g.inner
}

// call runs one attempt: wait for the limiter, bound the call, go through
// the breaker.
func call[T any](ctx context.Context, g *Guarded, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := g.limiter.Wait(ctx); err != nil {
		return zero, apperrors.Wrap(err, "waiting for rate limiter")
	}

	if g.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.CallTimeout)
		defer cancel()
	}

	if g.breaker == nil {
		return fn(ctx)
	}
	v, err := resilience.Do(ctx, g.breaker, fn)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return zero, apperrors.NewBrokerError("circuit_open", g.owner, err)
	}
	return v, err
}

// read runs a read-only call with bounded retries on transient errors.
func read[T any](ctx context.Context, g *Guarded, fn func(context.Context) (T, error)) (T, error) {
	return utils.RetryWithResult(ctx, g.retry, func() (T, error) {
		return call(ctx, g, fn)
	})
}

// GetSpotPrice implements Gateway.
func (g *Guarded) GetSpotPrice(ctx context.Context, index models.Index) (*models.SpotQuote, error) {
	start := time.Now()
	q, err := read(ctx, g, func(ctx context.Context) (*models.SpotQuote, error) {
		return g.inner.GetSpotPrice(ctx, index)
	})
	g.observeRead(ctx, audit.SpotRead, "GetSpotPrice", string(index), start, err)
	if err != nil && !errors.Is(err, apperrors.ErrMarketDataUnavailable) {
		err = apperrors.NewDataError("spot", string(index), "spot unavailable", err)
	}
	return q, err
}

// GetOptionChain implements Gateway.
func (g *Guarded) GetOptionChain(ctx context.Context, index models.Index, expiry models.Date) (*models.OptionChain, error) {
	start := time.Now()
	chain, err := read(ctx, g, func(ctx context.Context) (*models.OptionChain, error) {
		return g.inner.GetOptionChain(ctx, index, expiry)
	})
	g.observeRead(ctx, audit.ChainRead, "GetOptionChain", string(index)+" "+expiry.String(), start, err)
	if err != nil && !errors.Is(err, apperrors.ErrMarketDataUnavailable) {
		err = apperrors.NewDataError("chain", string(index), "chain unavailable", err)
	}
	return chain, err
}

// PlaceOrder implements Gateway. A single attempt is made.
func (g *Guarded) PlaceOrder(ctx context.Context, req *models.OrderRequest) (*OrderResult, error) {
	start := time.Now()
	res, err := call(ctx, g, func(ctx context.Context) (*OrderResult, error) {
		return g.inner.PlaceOrder(ctx, req)
	})
	took := time.Since(start)

	orderID := ""
	if res != nil {
		orderID = res.OrderID
	}
	logging.LogAPICall(g.logger, "PlaceOrder", req.Tag, took, err)
	_ = g.audit.LogOrderPlaced(ctx, g.owner, req, orderID, took, err)
	return res, err
}

// GetOrderStatus implements Gateway.
func (g *Guarded) GetOrderStatus(ctx context.Context, orderID string) (*models.OrderStatus, error) {
	start := time.Now()
	st, err := read(ctx, g, func(ctx context.Context) (*models.OrderStatus, error) {
		return g.inner.GetOrderStatus(ctx, orderID)
	})
	g.observeRead(ctx, audit.OrderStatus, "GetOrderStatus", orderID, start, err)
	return st, err
}

// CancelOrder implements Gateway. A single attempt is made.
func (g *Guarded) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	start := time.Now()
	ok, err := call(ctx, g, func(ctx context.Context) (bool, error) {
		return g.inner.CancelOrder(ctx, orderID)
	})
	took := time.Since(start)
	logging.LogAPICall(g.logger, "CancelOrder", orderID, took, err)
	_ = g.audit.LogOrderCancelled(ctx, g.owner, orderID, took, err)
	return ok, err
}

// GetOrders implements Gateway.
func (g *Guarded) GetOrders(ctx context.Context) ([]models.Order, error) {
	start := time.Now()
	orders, err := read(ctx, g, g.inner.GetOrders)
	g.observeRead(ctx, audit.OrdersRead, "GetOrders", "", start, err)
	return orders, err
}

// GetPositions implements Gateway.
func (g *Guarded) GetPositions(ctx context.Context) ([]models.Position, error) {
	start := time.Now()
	positions, err := read(ctx, g, g.inner.GetPositions)
	g.observeRead(ctx, audit.PositionsRead, "GetPositions", "", start, err)
	return positions, err
}

func (g *Guarded) observeRead(ctx context.Context, event audit.EventType, method, subject string, start time.Time, err error) {
	took := time.Since(start)
	logging.LogAPICall(g.logger, method, subject, took, err)
	_ = g.audit.LogRead(ctx, event, g.owner, subject, took, err)
}

// Ensure Guarded implements Gateway interface
var _ Gateway = (*Guarded)(nil)
