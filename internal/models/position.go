package models

// PositionSide is the direction of an open position.
type PositionSide string

const (
	Long  PositionSide = "LONG"
	Short PositionSide = "SHORT"
	Flat  PositionSide = "FLAT"
)

// Sign returns +1 for long, -1 for short and 0 when flat.
func (s PositionSide) Sign() float64 {
	switch s {
	case Long:
		return 1
	case Short:
		return -1
	}
	return 0
}

// Position is a read-only projection of a broker position.
type Position struct {
	Symbol       string      `json:"symbol"`
	Exchange     Exchange    `json:"exchange"`
	Product      ProductType `json:"product_type"`
	OptionType   OptionSide  `json:"option_type,omitempty"`
	Strike       float64     `json:"strike_price,omitempty"`
	NetQuantity  int         `json:"net_quantity"`
	AveragePrice float64     `json:"avg_price"`
	LTP          float64     `json:"ltp"`
	Multiplier   int         `json:"multiplier"`
	PnL          float64     `json:"pnl"`
	// Realized is the P&L already booked today on quantity that has been
	// closed. It stays on the row after the position goes flat.
	Realized float64 `json:"realized_pnl"`
}

// Side derives the position direction from the signed quantity.
func (p Position) Side() PositionSide {
	switch {
	case p.NetQuantity > 0:
		return Long
	case p.NetQuantity < 0:
		return Short
	}
	return Flat
}

// Quantity returns the absolute open quantity.
func (p Position) Quantity() int {
	if p.NetQuantity < 0 {
		return -p.NetQuantity
	}
	return p.NetQuantity
}

// IsOpen reports whether the position has a non-zero quantity.
func (p Position) IsOpen() bool {
	return p.NetQuantity != 0
}

// PositionSnapshot is an aggregate view of an owner's positions.
type PositionSnapshot struct {
	Owner     string     `json:"owner"`
	Positions []Position `json:"positions"`
	TotalPnL  float64    `json:"total_pnl"`
}
