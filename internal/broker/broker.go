// Package broker provides the gateway boundary to brokers and its
// implementations.
package broker

import (
	"context"

	"github.com/Hari-sh-S/options-algo/internal/models"
)

// Gateway defines the operations the execution engine needs from a broker.
// A gateway is bound to a single account owner.
type Gateway interface {
	// Market data
	GetSpotPrice(ctx context.Context, index models.Index) (*models.SpotQuote, error)
	GetOptionChain(ctx context.Context, index models.Index, expiry models.Date) (*models.OptionChain, error)

	// Orders
	PlaceOrder(ctx context.Context, req *models.OrderRequest) (*OrderResult, error)
	GetOrderStatus(ctx context.Context, orderID string) (*models.OrderStatus, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	GetOrders(ctx context.Context) ([]models.Order, error)

	// Positions
	GetPositions(ctx context.Context) ([]models.Position, error)
}

// OrderResult represents the result of an order placement.
type OrderResult struct {
	OrderID string
	Status  string
	Message string
}

// Mode names the kind of gateway serving an owner.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)
