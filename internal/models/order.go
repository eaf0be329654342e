package models

import (
	"strings"
	"time"
)

// OrderRequest is an order submitted to a broker gateway.
type OrderRequest struct {
	Symbol       string
	Exchange     Exchange
	Side         OrderSide
	Type         OrderType
	Product      ProductType
	Quantity     int
	TriggerPrice float64
	Tag          string
}

// OrderStatus is the broker's view of a single order.
type OrderStatus struct {
	OrderID       string
	Status        string
	FilledPremium float64
	FilledQty     int
	Message       string
	UpdatedAt     time.Time
}

// Order represents an order from the day's order book.
type Order struct {
	ID           string      `json:"order_id"`
	Symbol       string      `json:"symbol"`
	Exchange     Exchange    `json:"exchange"`
	Side         OrderSide   `json:"side"`
	Type         OrderType   `json:"order_type"`
	Product      ProductType `json:"product"`
	Quantity     int         `json:"quantity"`
	TriggerPrice float64     `json:"trigger_price"`
	Tag          string      `json:"tag,omitempty"`
	Status       string      `json:"status"`
	FilledQty    int         `json:"filled_quantity"`
	AveragePrice float64     `json:"average_price"`
	PlacedAt     time.Time   `json:"placed_at"`
}

// IsResting reports whether the order is still working at the exchange.
func (o Order) IsResting() bool {
	switch normalizeStatus(o.Status) {
	case "PENDING", "TRANSIT", "OPEN", "TRIGGER PENDING", "TRIGGER_PENDING",
		"OPEN PENDING", "VALIDATION PENDING", "PUT ORDER REQ RECEIVED":
		return true
	}
	return false
}

// IsFilled reports whether the order has executed.
func (o Order) IsFilled() bool {
	return ClassifyBrokerStatus(o.Status).IsSuccess()
}

// ClassifyBrokerStatus maps a broker order status onto a leg status.
// Anything not recognised as terminal is treated as still in transit.
func ClassifyBrokerStatus(status string) LegStatus {
	switch normalizeStatus(status) {
	case "TRADED":
		return LegTraded
	case "FILLED":
		return LegFilled
	case "COMPLETE":
		return LegComplete
	case "REJECTED":
		return LegRejected
	case "CANCELLED", "CANCELED", "FAILED", "EXPIRED", "LAPSED":
		return LegFailed
	}
	return LegTransit
}

func normalizeStatus(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
