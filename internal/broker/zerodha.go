package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	apperrors "github.com/Hari-sh-S/options-algo/internal/errors"
	"github.com/Hari-sh-S/options-algo/internal/models"
	"github.com/Hari-sh-S/options-algo/pkg/utils"
)

// quoteBatchSize bounds the instruments requested per quote call.
const quoteBatchSize = 200

// instrumentsTTL is how long the instrument dump is reused.
const instrumentsTTL = 6 * time.Hour

// ZerodhaConfig holds configuration for a Zerodha gateway.
type ZerodhaConfig struct {
	APIKey      string
	APISecret   string
	AccessToken string
	TokenPath   string
	Specs       map[models.Index]models.IndexSpec
}

// ZerodhaGateway implements Gateway for Zerodha Kite Connect.
type ZerodhaGateway struct {
	owner     string
	client    *kiteconnect.Client
	apiSecret string
	tokenPath string
	specs     map[models.Index]models.IndexSpec

	mu            sync.RWMutex
	authenticated bool
	instruments   kiteconnect.Instruments
	fetchedAt     time.Time
}

// sessionData represents a persisted session.
type sessionData struct {
	AccessToken string    `json:"access_token"`
	Owner       string    `json:"owner"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// NewZerodhaGateway creates a Zerodha gateway for owner. An explicit access
// token wins over a saved session file.
func NewZerodhaGateway(owner string, cfg ZerodhaConfig) *ZerodhaGateway {
	client := kiteconnect.New(cfg.APIKey)

	tokenPath := cfg.TokenPath
	if tokenPath == "" {
		homeDir, _ := os.UserHomeDir()
		tokenPath = filepath.Join(homeDir, ".config", "options-algo", "sessions", owner+".json")
	}
	specs := cfg.Specs
	if specs == nil {
		specs = models.DefaultIndexSpecs()
	}

	zg := &ZerodhaGateway{
		owner:     owner,
		client:    client,
		apiSecret: cfg.APISecret,
		tokenPath: tokenPath,
		specs:     specs,
	}

	if cfg.AccessToken != "" {
		zg.setToken(cfg.AccessToken)
	} else {
		// Fall back to a saved session if one is still valid
		_ = zg.loadSession()
	}

	return zg
}

// LoginURL returns the Kite login URL for obtaining a request token.
func (z *ZerodhaGateway) LoginURL() string {
	return z.client.GetLoginURL()
}

// CompleteLogin exchanges a request token for an access token and persists it.
func (z *ZerodhaGateway) CompleteLogin(ctx context.Context, requestToken string) error {
	session, err := z.client.GenerateSession(requestToken, z.apiSecret)
	if err != nil {
		return fmt.Errorf("failed to generate session: %w", mapKiteError(err))
	}
	z.setToken(session.AccessToken)
	return z.saveSession(session.AccessToken)
}

// IsAuthenticated returns whether the gateway holds an access token.
func (z *ZerodhaGateway) IsAuthenticated() bool {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.authenticated
}

func (z *ZerodhaGateway) setToken(token string) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.client.SetAccessToken(token)
	z.authenticated = true
}

func (z *ZerodhaGateway) loadSession() error {
	data, err := os.ReadFile(z.tokenPath)
	if err != nil {
		return err
	}

	var session sessionData
	if err := json.Unmarshal(data, &session); err != nil {
		return err
	}

	// Kite tokens expire at 06:00 IST the next day
	if time.Now().After(session.ExpiresAt) {
		return fmt.Errorf("session expired")
	}

	z.setToken(session.AccessToken)
	return nil
}

func (z *ZerodhaGateway) saveSession(accessToken string) error {
	if err := os.MkdirAll(filepath.Dir(z.tokenPath), 0700); err != nil {
		return err
	}

	now := time.Now().In(utils.IndiaLocation)
	session := sessionData{
		AccessToken: accessToken,
		Owner:       z.owner,
		ExpiresAt:   time.Date(now.Year(), now.Month(), now.Day()+1, 6, 0, 0, 0, utils.IndiaLocation),
	}

	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return os.WriteFile(z.tokenPath, data, 0600)
}

func (z *ZerodhaGateway) requireAuth() error {
	if !z.IsAuthenticated() {
		return fmt.Errorf("zerodha account %s: %w", z.owner, apperrors.ErrNotAuthenticated)
	}
	return nil
}

// GetSpotPrice fetches the index level.
func (z *ZerodhaGateway) GetSpotPrice(ctx context.Context, index models.Index) (*models.SpotQuote, error) {
	if err := z.requireAuth(); err != nil {
		return nil, err
	}
	spec, ok := z.specs[index]
	if !ok {
		return nil, apperrors.NewDataError("spot", string(index), "unknown index", apperrors.ErrMarketDataUnavailable)
	}

	quotes, err := z.client.GetLTP(spec.SpotSymbol)
	if err != nil {
		return nil, apperrors.NewDataError("spot", spec.SpotSymbol, "quote failed", mapKiteError(err))
	}

	q, ok := quotes[spec.SpotSymbol]
	if !ok || q.LastPrice <= 0 {
		return nil, apperrors.NewDataError("spot", spec.SpotSymbol, "no last price", apperrors.ErrMarketDataUnavailable)
	}

	return &models.SpotQuote{Index: index, LTP: q.LastPrice, Timestamp: time.Now()}, nil
}

// GetOptionChain fetches last prices for every listed CE/PE of index on expiry.
func (z *ZerodhaGateway) GetOptionChain(ctx context.Context, index models.Index, expiry models.Date) (*models.OptionChain, error) {
	if err := z.requireAuth(); err != nil {
		return nil, err
	}
	spec, ok := z.specs[index]
	if !ok {
		return nil, apperrors.NewDataError("chain", string(index), "unknown index", apperrors.ErrMarketDataUnavailable)
	}

	instruments, err := z.loadInstruments()
	if err != nil {
		return nil, apperrors.NewDataError("chain", string(index), "instruments failed", err)
	}

	type listed struct {
		strike float64
		side   models.OptionSide
		symbol string
	}
	byKey := make(map[string]listed)
	var keys []string

	for _, inst := range instruments {
		if inst.Exchange != string(spec.Exchange) || inst.Name != string(index) {
			continue
		}
		if inst.InstrumentType != string(models.CE) && inst.InstrumentType != string(models.PE) {
			continue
		}
		if !expiry.SameDay(inst.Expiry.Time) {
			continue
		}
		key := fmt.Sprintf("%s:%s", inst.Exchange, inst.Tradingsymbol)
		byKey[key] = listed{
			strike: inst.StrikePrice,
			side:   models.OptionSide(inst.InstrumentType),
			symbol: inst.Tradingsymbol,
		}
		keys = append(keys, key)
	}

	if len(keys) == 0 {
		return nil, apperrors.NewDataError("chain", string(index), fmt.Sprintf("no contracts listed for %s", expiry), apperrors.ErrMarketDataUnavailable)
	}

	chain := &models.OptionChain{Index: index, Expiry: expiry}
	for start := 0; start < len(keys); start += quoteBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + quoteBatchSize
		if end > len(keys) {
			end = len(keys)
		}

		quotes, err := z.client.GetLTP(keys[start:end]...)
		if err != nil {
			return nil, apperrors.NewDataError("chain", string(index), "quote batch failed", mapKiteError(err))
		}
		for key, q := range quotes {
			l, ok := byKey[key]
			if !ok {
				continue
			}
			chain.Quotes = append(chain.Quotes, models.OptionQuote{
				Strike:  l.strike,
				Side:    l.side,
				Premium: q.LastPrice,
				Symbol:  l.symbol,
			})
		}
	}

	sort.Slice(chain.Quotes, func(i, j int) bool {
		if chain.Quotes[i].Strike == chain.Quotes[j].Strike {
			return chain.Quotes[i].Side < chain.Quotes[j].Side
		}
		return chain.Quotes[i].Strike < chain.Quotes[j].Strike
	})

	return chain, nil
}

func (z *ZerodhaGateway) loadInstruments() (kiteconnect.Instruments, error) {
	z.mu.RLock()
	if z.instruments != nil && time.Since(z.fetchedAt) < instrumentsTTL {
		cached := z.instruments
		z.mu.RUnlock()
		return cached, nil
	}
	z.mu.RUnlock()

	instruments, err := z.client.GetInstruments()
	if err != nil {
		return nil, mapKiteError(err)
	}

	z.mu.Lock()
	z.instruments = instruments
	z.fetchedAt = time.Now()
	z.mu.Unlock()

	return instruments, nil
}

// PlaceOrder places a regular order.
func (z *ZerodhaGateway) PlaceOrder(ctx context.Context, req *models.OrderRequest) (*OrderResult, error) {
	if err := z.requireAuth(); err != nil {
		return nil, err
	}

	params := kiteconnect.OrderParams{
		Exchange:        string(req.Exchange),
		Tradingsymbol:   req.Symbol,
		TransactionType: string(req.Side),
		OrderType:       string(req.Type),
		Product:         string(req.Product),
		Quantity:        req.Quantity,
		TriggerPrice:    req.TriggerPrice,
		Validity:        "DAY",
		Tag:             req.Tag,
	}

	resp, err := z.client.PlaceOrder(kiteconnect.VarietyRegular, params)
	if err != nil {
		mapped := mapKiteError(err)
		if errors.Is(mapped, apperrors.ErrOrderRejected) {
			return nil, apperrors.NewRejection(req.Symbol, kiteMessage(err))
		}
		return nil, fmt.Errorf("failed to place order: %w", mapped)
	}

	return &OrderResult{
		OrderID: resp.OrderID,
		Status:  "PLACED",
		Message: "Order placed successfully",
	}, nil
}

// GetOrderStatus returns the latest state from the order's history.
func (z *ZerodhaGateway) GetOrderStatus(ctx context.Context, orderID string) (*models.OrderStatus, error) {
	if err := z.requireAuth(); err != nil {
		return nil, err
	}

	history, err := z.client.GetOrderHistory(orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order history: %w", mapKiteError(err))
	}
	if len(history) == 0 {
		return nil, apperrors.NewOrderError(orderID, "", "status", "empty order history", apperrors.ErrBrokerUnavailable)
	}

	last := history[len(history)-1]
	return &models.OrderStatus{
		OrderID:       orderID,
		Status:        last.Status,
		FilledPremium: last.AveragePrice,
		FilledQty:     int(last.FilledQuantity),
		Message:       last.StatusMessage,
		UpdatedAt:     last.ExchangeUpdateTimestamp.Time,
	}, nil
}

// CancelOrder cancels a regular order.
func (z *ZerodhaGateway) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	if err := z.requireAuth(); err != nil {
		return false, err
	}

	if _, err := z.client.CancelOrder(kiteconnect.VarietyRegular, orderID, nil); err != nil {
		mapped := mapKiteError(err)
		if errors.Is(mapped, apperrors.ErrOrderRejected) {
			// Already complete, cancelled or rejected
			return false, nil
		}
		return false, fmt.Errorf("failed to cancel order: %w", mapped)
	}
	return true, nil
}

// GetOrders fetches all orders for the day.
func (z *ZerodhaGateway) GetOrders(ctx context.Context) ([]models.Order, error) {
	if err := z.requireAuth(); err != nil {
		return nil, err
	}

	orders, err := z.client.GetOrders()
	if err != nil {
		return nil, fmt.Errorf("failed to get orders: %w", mapKiteError(err))
	}

	result := make([]models.Order, len(orders))
	for i, o := range orders {
		result[i] = models.Order{
			ID:           o.OrderID,
			Symbol:       o.TradingSymbol,
			Exchange:     models.Exchange(o.Exchange),
			Side:         models.OrderSide(o.TransactionType),
			Type:         models.OrderType(o.OrderType),
			Product:      models.ProductType(o.Product),
			Quantity:     int(o.Quantity),
			TriggerPrice: o.TriggerPrice,
			Tag:          o.Tag,
			Status:       o.Status,
			FilledQty:    int(o.FilledQuantity),
			AveragePrice: o.AveragePrice,
			PlacedAt:     o.OrderTimestamp.Time,
		}
	}

	return result, nil
}

// GetPositions fetches net positions, including ones closed earlier today.
func (z *ZerodhaGateway) GetPositions(ctx context.Context) ([]models.Position, error) {
	if err := z.requireAuth(); err != nil {
		return nil, err
	}

	positions, err := z.client.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", mapKiteError(err))
	}

	result := make([]models.Position, 0, len(positions.Net))
	for _, p := range positions.Net {
		pos := models.Position{
			Symbol:       p.Tradingsymbol,
			Exchange:     models.Exchange(p.Exchange),
			Product:      models.ProductType(p.Product),
			NetQuantity:  p.Quantity,
			AveragePrice: p.AveragePrice,
			LTP:          p.LastPrice,
			Multiplier:   int(p.Multiplier),
			PnL:          p.PnL,
			Realized:     p.Realised,
		}
		z.describe(&pos)
		result = append(result, pos)
	}

	return result, nil
}

// describe fills option type and strike from the cached instrument dump.
func (z *ZerodhaGateway) describe(pos *models.Position) {
	z.mu.RLock()
	defer z.mu.RUnlock()

	for _, inst := range z.instruments {
		if inst.Tradingsymbol == pos.Symbol && inst.Exchange == string(pos.Exchange) {
			pos.OptionType = models.OptionSide(inst.InstrumentType)
			pos.Strike = inst.StrikePrice
			return
		}
	}
}

// mapKiteError classifies Kite API errors onto the domain sentinels.
func mapKiteError(err error) error {
	var kerr kiteconnect.Error
	if !errors.As(err, &kerr) {
		return apperrors.NewBrokerError("transport", err.Error(), apperrors.ErrBrokerUnavailable)
	}

	switch kerr.ErrorType {
	case "TokenException", "PermissionException":
		return apperrors.NewBrokerError(kerr.ErrorType, kerr.Message, apperrors.ErrNotAuthenticated)
	case "InputException", "OrderException", "MarginException", "HoldingException":
		return apperrors.NewBrokerError(kerr.ErrorType, kerr.Message, apperrors.ErrOrderRejected)
	case "NetworkException", "GeneralException", "DataException":
		return apperrors.NewBrokerError(kerr.ErrorType, kerr.Message, apperrors.ErrBrokerUnavailable)
	}
	if kerr.Code == 429 {
		return apperrors.NewBrokerError(kerr.ErrorType, kerr.Message, apperrors.ErrRateLimited)
	}
	return apperrors.NewBrokerError(kerr.ErrorType, kerr.Message, apperrors.ErrBrokerUnavailable)
}

func kiteMessage(err error) string {
	var kerr kiteconnect.Error
	if errors.As(err, &kerr) {
		return kerr.Message
	}
	return err.Error()
}

// Ensure ZerodhaGateway implements Gateway interface
var _ Gateway = (*ZerodhaGateway)(nil)
