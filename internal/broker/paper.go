package broker

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Hari-sh-S/options-algo/internal/errors"
	"github.com/Hari-sh-S/options-algo/internal/models"
	"github.com/Hari-sh-S/options-algo/pkg/utils"
)

const (
	statusComplete       = "COMPLETE"
	statusTriggerPending = "TRIGGER PENDING"
	statusCancelled      = "CANCELLED"
)

// PaperConfig holds configuration for the paper gateway.
type PaperConfig struct {
	Specs      map[models.Index]models.IndexSpec
	Spot       map[models.Index]float64
	Volatility float64 // time value at the money as a fraction of spot
	Strikes    int     // strikes quoted on each side of ATM
	Now        func() time.Time
}

// contract is a synthetic option the paper gateway has quoted.
type contract struct {
	index  models.Index
	strike float64
	side   models.OptionSide
	expiry models.Date
}

// PaperGateway simulates a broker account. MARKET orders fill immediately at
// the model premium, SL-M orders rest until their trigger is crossed.
type PaperGateway struct {
	owner string
	cfg   PaperConfig

	mu           sync.RWMutex
	spot         map[models.Index]float64
	contracts    map[string]contract
	orders       map[string]*models.Order
	positions    map[string]*models.Position
	orderCounter int
}

// NewPaperGateway creates a paper gateway for owner.
func NewPaperGateway(owner string, cfg PaperConfig) *PaperGateway {
	if cfg.Specs == nil {
		cfg.Specs = models.DefaultIndexSpecs()
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.006
	}
	if cfg.Strikes <= 0 {
		cfg.Strikes = 20
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	spot := make(map[models.Index]float64, len(cfg.Spot))
	for idx, v := range cfg.Spot {
		spot[models.Index(strings.ToUpper(string(idx)))] = v
	}

	return &PaperGateway{
		owner:     owner,
		cfg:       cfg,
		spot:      spot,
		contracts: make(map[string]contract),
		orders:    make(map[string]*models.Order),
		positions: make(map[string]*models.Position),
	}
}

// SetSpot moves the simulated index level and fires any crossed stop-loss.
func (p *PaperGateway) SetSpot(index models.Index, ltp float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.spot[index] = ltp
	p.triggerStops()
}

// GetSpotPrice returns the simulated index level.
func (p *PaperGateway) GetSpotPrice(ctx context.Context, index models.Index) (*models.SpotQuote, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ltp, ok := p.spot[index]
	if !ok || ltp <= 0 {
		return nil, apperrors.NewDataError("spot", string(index), "no simulated spot configured", apperrors.ErrMarketDataUnavailable)
	}
	return &models.SpotQuote{Index: index, LTP: ltp, Timestamp: p.cfg.Now()}, nil
}

// GetOptionChain builds a synthetic chain around the current spot.
func (p *PaperGateway) GetOptionChain(ctx context.Context, index models.Index, expiry models.Date) (*models.OptionChain, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	spec, ok := p.cfg.Specs[index]
	if !ok {
		return nil, apperrors.NewDataError("chain", string(index), "unknown index", apperrors.ErrMarketDataUnavailable)
	}
	spot := p.spot[index]
	if spot <= 0 {
		return nil, apperrors.NewDataError("chain", string(index), "no simulated spot configured", apperrors.ErrMarketDataUnavailable)
	}

	atm := math.Round(spot/spec.StrikeInterval) * spec.StrikeInterval
	chain := &models.OptionChain{Index: index, Expiry: expiry}

	for i := -p.cfg.Strikes; i <= p.cfg.Strikes; i++ {
		strike := atm + float64(i)*spec.StrikeInterval
		if strike <= 0 {
			continue
		}
		for _, side := range []models.OptionSide{models.CE, models.PE} {
			c := contract{index: index, strike: strike, side: side, expiry: expiry}
			symbol := paperSymbol(c)
			p.contracts[symbol] = c
			chain.Quotes = append(chain.Quotes, models.OptionQuote{
				Strike:  strike,
				Side:    side,
				Premium: p.premium(c),
				Symbol:  symbol,
			})
		}
	}

	return chain, nil
}

// PlaceOrder simulates order placement.
func (p *PaperGateway) PlaceOrder(ctx context.Context, req *models.OrderRequest) (*OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.contracts[req.Symbol]
	if !ok {
		return nil, apperrors.NewRejection(req.Symbol, "unknown instrument")
	}
	lotSize := p.cfg.Specs[c.index].LotSize
	if req.Quantity <= 0 || (lotSize > 0 && req.Quantity%lotSize != 0) {
		return nil, apperrors.NewRejection(req.Symbol, fmt.Sprintf("quantity %d is not a multiple of lot size %d", req.Quantity, lotSize))
	}
	if req.Type.IsStopLoss() && req.TriggerPrice <= 0 {
		return nil, apperrors.NewRejection(req.Symbol, "trigger price required for stop-loss orders")
	}

	p.orderCounter++
	orderID := fmt.Sprintf("PAPER_%d_%d", p.cfg.Now().Unix(), p.orderCounter)

	order := &models.Order{
		ID:           orderID,
		Symbol:       req.Symbol,
		Exchange:     req.Exchange,
		Side:         req.Side,
		Type:         req.Type,
		Product:      req.Product,
		Quantity:     req.Quantity,
		TriggerPrice: req.TriggerPrice,
		Tag:          req.Tag,
		PlacedAt:     p.cfg.Now(),
	}

	switch req.Type {
	case models.OrderTypeMarket:
		p.fill(order, p.premium(c))
	case models.OrderTypeStopLossM, models.OrderTypeStopLoss:
		order.Status = statusTriggerPending
	default:
		return nil, apperrors.NewRejection(req.Symbol, fmt.Sprintf("order type %s not supported in paper mode", req.Type))
	}

	p.orders[orderID] = order

	return &OrderResult{
		OrderID: orderID,
		Status:  order.Status,
		Message: "Paper order placed",
	}, nil
}

// GetOrderStatus returns the simulated status of an order.
func (p *PaperGateway) GetOrderStatus(ctx context.Context, orderID string) (*models.OrderStatus, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	order, ok := p.orders[orderID]
	if !ok {
		return nil, apperrors.NewOrderError(orderID, "", "status", "order not found", nil)
	}
	return &models.OrderStatus{
		OrderID:       order.ID,
		Status:        order.Status,
		FilledPremium: order.AveragePrice,
		FilledQty:     order.FilledQty,
		UpdatedAt:     p.cfg.Now(),
	}, nil
}

// CancelOrder cancels a resting order. It returns false when the order has
// already reached a terminal status.
func (p *PaperGateway) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return false, apperrors.NewOrderError(orderID, "", "cancel", "order not found", nil)
	}
	if !order.IsResting() {
		return false, nil
	}
	order.Status = statusCancelled
	return true, nil
}

// GetOrders returns the day's paper orders in placement order.
func (p *PaperGateway) GetOrders(ctx context.Context) ([]models.Order, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	orders := make([]models.Order, 0, len(p.orders))
	for _, o := range p.orders {
		orders = append(orders, *o)
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].PlacedAt.Equal(orders[j].PlacedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].PlacedAt.Before(orders[j].PlacedAt)
	})
	return orders, nil
}

// GetPositions returns every paper position traded today, flat ones
// included, marked to the model premium.
func (p *PaperGateway) GetPositions(ctx context.Context) ([]models.Position, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]models.Position, 0, len(p.positions))
	for symbol, pos := range p.positions {
		snapshot := *pos
		if c, ok := p.contracts[symbol]; ok {
			snapshot.LTP = p.premium(c)
		}
		result = append(result, snapshot)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result, nil
}

// fill completes an order and nets it into the position book. Callers hold mu.
func (p *PaperGateway) fill(order *models.Order, price float64) {
	order.Status = statusComplete
	order.FilledQty = order.Quantity
	order.AveragePrice = price

	c := p.contracts[order.Symbol]
	pos, ok := p.positions[order.Symbol]
	if !ok {
		pos = &models.Position{
			Symbol:     order.Symbol,
			Exchange:   order.Exchange,
			Product:    order.Product,
			OptionType: c.side,
			Strike:     c.strike,
			Multiplier: 1,
		}
		p.positions[order.Symbol] = pos
	}

	delta := order.Quantity
	if order.Side == models.OrderSideSell {
		delta = -delta
	}
	prev := pos.NetQuantity
	next := prev + delta

	// Quantity moving against the open side books P&L at this fill.
	if prev != 0 && (prev > 0) != (delta > 0) {
		closed := min(abs(prev), abs(delta))
		sign := 1.0
		if prev < 0 {
			sign = -1
		}
		booked := (price - pos.AveragePrice) * float64(closed) * sign * float64(pos.Multiplier)
		pos.Realized = utils.RoundPrice(pos.Realized+booked, 2)
	}

	switch {
	case next == 0:
		// Flat rows stay in the book to carry the day's realized P&L.
		pos.AveragePrice = 0
	case prev == 0 || (prev > 0) != (next > 0):
		// Opened or flipped
		pos.AveragePrice = price
	case abs(next) > abs(prev):
		// Added in the same direction
		total := pos.AveragePrice*float64(abs(prev)) + price*float64(order.Quantity)
		pos.AveragePrice = utils.RoundPrice(total/float64(abs(next)), 2)
	}
	pos.NetQuantity = next
	pos.LTP = price
}

// triggerStops fills resting BUY stop-losses whose trigger the premium has
// reached, and SELL stop-losses whose premium fell through. Callers hold mu.
func (p *PaperGateway) triggerStops() {
	for _, order := range p.orders {
		if order.Status != statusTriggerPending {
			continue
		}
		c, ok := p.contracts[order.Symbol]
		if !ok {
			continue
		}
		price := p.premium(c)
		crossed := (order.Side == models.OrderSideBuy && price >= order.TriggerPrice) ||
			(order.Side == models.OrderSideSell && price <= order.TriggerPrice)
		if crossed {
			p.fill(order, price)
		}
	}
}

// premium prices a contract as intrinsic value plus a time value that decays
// with distance from spot, rounded to the exchange tick.
func (p *PaperGateway) premium(c contract) float64 {
	spot := p.spot[c.index]
	if spot <= 0 {
		return 0
	}

	intrinsic := 0.0
	switch c.side {
	case models.CE:
		intrinsic = math.Max(spot-c.strike, 0)
	case models.PE:
		intrinsic = math.Max(c.strike-spot, 0)
	}
	timeValue := spot * p.cfg.Volatility * math.Exp(-math.Abs(c.strike-spot)/(spot*0.015))

	v := utils.RoundToTick(intrinsic+timeValue, 0.05)
	if v < 0.05 {
		v = 0.05
	}
	return v
}

func paperSymbol(c contract) string {
	return fmt.Sprintf("%s%s%.0f%s", c.index, c.expiry.Format("060102"), c.strike, c.side)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Ensure PaperGateway implements Gateway interface
var _ Gateway = (*PaperGateway)(nil)
