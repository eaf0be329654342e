package broker

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Hari-sh-S/options-algo/internal/audit"
	"github.com/Hari-sh-S/options-algo/internal/config"
	apperrors "github.com/Hari-sh-S/options-algo/internal/errors"
	"github.com/Hari-sh-S/options-algo/internal/models"
	"github.com/Hari-sh-S/options-algo/internal/resilience"
)

// Account is a gateway bound to one owner.
type Account struct {
	Owner   string
	Mode    Mode
	Gateway Gateway
}

// Registry routes owners to their gateways.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{accounts: make(map[string]Account)}
}

// Register binds a gateway to owner, replacing any previous binding.
func (r *Registry) Register(owner string, mode Mode, gw Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[owner] = Account{Owner: owner, Mode: mode, Gateway: gw}
}

// Resolve returns the account of owner.
func (r *Registry) Resolve(owner string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acct, ok := r.accounts[owner]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", apperrors.ErrUnknownOwner, owner)
	}
	return acct, nil
}

// Owners returns every registered owner, sorted.
func (r *Registry) Owners() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owners := make([]string, 0, len(r.accounts))
	for owner := range r.accounts {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners
}

// BreakerConfig builds the per-owner circuit breaker configuration. Order
// rejections and invalid requests are business outcomes and do not count
// against the circuit.
func BreakerConfig(cfg config.BrokerConfig) resilience.CircuitBreakerConfig {
	cb := resilience.DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold > 0 {
		cb.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.ResetTimeout > 0 {
		cb.Timeout = cfg.ResetTimeout
	}
	cb.IsFailure = func(err error) bool {
		return !errors.Is(err, apperrors.ErrOrderRejected) &&
			!errors.Is(err, apperrors.ErrInvalidRequest) &&
			!errors.Is(err, apperrors.ErrNoMatchingStrike)
	}
	return cb
}

// NewRegistryFromConfig builds a guarded gateway for every configured account.
func NewRegistryFromConfig(cfg *config.Config, breakers *resilience.BreakerRegistry, auditLog *audit.Logger, logger zerolog.Logger) (*Registry, error) {
	specs := cfg.IndexSpecs()
	guard := GuardConfig{
		RateLimit:   cfg.Broker.RateLimit,
		Burst:       cfg.Broker.Burst,
		CallTimeout: cfg.Broker.CallTimeout,
		ReadRetries: cfg.Broker.ReadRetries,
	}

	paperSpot := make(map[models.Index]float64, len(cfg.Paper.Spot))
	for name, v := range cfg.Paper.Spot {
		paperSpot[models.Index(strings.ToUpper(name))] = v
	}

	reg := NewRegistry()
	for _, acct := range cfg.Accounts {
		var (
			inner Gateway
			mode  Mode
		)

		switch acct.Mode {
		case string(ModeLive):
			creds, ok := cfg.Credentials.For(acct.Owner)
			if !ok || creds.APIKey == "" {
				return nil, fmt.Errorf("%w: account %s is live but has no zerodha credentials", apperrors.ErrConfigInvalid, acct.Owner)
			}
			inner = NewZerodhaGateway(acct.Owner, ZerodhaConfig{
				APIKey:      creds.APIKey,
				APISecret:   creds.APISecret,
				AccessToken: creds.AccessToken,
				TokenPath:   creds.TokenPath,
				Specs:       specs,
			})
			mode = ModeLive
		default:
			inner = NewPaperGateway(acct.Owner, PaperConfig{
				Specs:      specs,
				Spot:       paperSpot,
				Volatility: cfg.Paper.Volatility,
				Strikes:    cfg.Paper.Strikes,
			})
			mode = ModePaper
		}

		gw := NewGuarded(acct.Owner, inner, breakers.Get(acct.Owner), auditLog, logger, guard)
		reg.Register(acct.Owner, mode, gw)
	}

	return reg, nil
}
