package broker

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	apperrors "github.com/Hari-sh-S/options-algo/internal/errors"
	"github.com/Hari-sh-S/options-algo/internal/models"
)

var testExpiry = models.NewDate(2024, time.June, 27)

func newTestPaper(t *testing.T) *PaperGateway {
	t.Helper()
	now := time.Date(2024, time.June, 27, 9, 20, 0, 0, time.UTC)
	return NewPaperGateway("default", PaperConfig{
		Spot:    map[models.Index]float64{"nifty": 22000},
		Strikes: 5,
		Now:     func() time.Time { return now },
	})
}

func quote(t *testing.T, chain *models.OptionChain, strike float64, side models.OptionSide) models.OptionQuote {
	t.Helper()
	q, ok := chain.Lookup(strike, side)
	if !ok {
		t.Fatalf("no quote for %.0f %s", strike, side)
	}
	return q
}

func TestPaperChainAroundSpot(t *testing.T) {
	p := newTestPaper(t)
	ctx := context.Background()

	spot, err := p.GetSpotPrice(ctx, models.NIFTY)
	if err != nil || spot.LTP != 22000 {
		t.Fatalf("GetSpotPrice = %+v, %v", spot, err)
	}

	chain, err := p.GetOptionChain(ctx, models.NIFTY, testExpiry)
	if err != nil {
		t.Fatalf("GetOptionChain: %v", err)
	}
	if got := len(chain.Quotes); got != 22 {
		t.Fatalf("quotes = %d, want 22 (11 strikes x 2 sides)", got)
	}

	atmCE := quote(t, chain, 22000, models.CE)
	if atmCE.Symbol != "NIFTY24062722000CE" {
		t.Errorf("symbol = %s", atmCE.Symbol)
	}
	otmCE := quote(t, chain, 22250, models.CE)
	if otmCE.Premium >= atmCE.Premium {
		t.Errorf("OTM call %.2f should be cheaper than ATM %.2f", otmCE.Premium, atmCE.Premium)
	}
	itmCE := quote(t, chain, 21800, models.CE)
	if itmCE.Premium < 200 {
		t.Errorf("ITM call premium %.2f should include 200 intrinsic", itmCE.Premium)
	}
}

func TestPaperUnknownIndexSpot(t *testing.T) {
	p := newTestPaper(t)
	_, err := p.GetSpotPrice(context.Background(), models.SENSEX)
	if !errors.Is(err, apperrors.ErrMarketDataUnavailable) {
		t.Fatalf("err = %v, want ErrMarketDataUnavailable", err)
	}
}

func TestPaperMarketOrderFillsAndNets(t *testing.T) {
	p := newTestPaper(t)
	ctx := context.Background()
	chain, _ := p.GetOptionChain(ctx, models.NIFTY, testExpiry)
	ce := quote(t, chain, 22000, models.CE)

	res, err := p.PlaceOrder(ctx, &models.OrderRequest{
		Symbol: ce.Symbol, Exchange: models.NFO, Side: models.OrderSideSell,
		Type: models.OrderTypeMarket, Product: models.ProductMIS, Quantity: 50, Tag: "straddle_ce",
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	st, err := p.GetOrderStatus(ctx, res.OrderID)
	if err != nil {
		t.Fatalf("GetOrderStatus: %v", err)
	}
	if models.ClassifyBrokerStatus(st.Status) != models.LegComplete || st.FilledPremium != ce.Premium {
		t.Fatalf("status = %+v, want COMPLETE at %.2f", st, ce.Premium)
	}

	positions, _ := p.GetPositions(ctx)
	if len(positions) != 1 || positions[0].NetQuantity != -50 || positions[0].Side() != models.Short {
		t.Fatalf("positions = %+v", positions)
	}

	// Buying back flattens the book
	_, err = p.PlaceOrder(ctx, &models.OrderRequest{
		Symbol: ce.Symbol, Exchange: models.NFO, Side: models.OrderSideBuy,
		Type: models.OrderTypeMarket, Product: models.ProductMIS, Quantity: 50,
	})
	if err != nil {
		t.Fatalf("PlaceOrder close: %v", err)
	}
	positions, _ = p.GetPositions(ctx)
	if len(positions) != 1 || positions[0].IsOpen() {
		t.Fatalf("positions after close = %+v, want one flat row", positions)
	}
}

func TestPaperRejectsBadQuantity(t *testing.T) {
	p := newTestPaper(t)
	ctx := context.Background()
	chain, _ := p.GetOptionChain(ctx, models.NIFTY, testExpiry)
	pe := quote(t, chain, 22000, models.PE)

	for _, qty := range []int{0, -25, 30} {
		_, err := p.PlaceOrder(ctx, &models.OrderRequest{
			Symbol: pe.Symbol, Side: models.OrderSideSell, Type: models.OrderTypeMarket, Quantity: qty,
		})
		if !errors.Is(err, apperrors.ErrOrderRejected) {
			t.Errorf("qty %d: err = %v, want ErrOrderRejected", qty, err)
		}
	}

	_, err := p.PlaceOrder(ctx, &models.OrderRequest{Symbol: "NOPE", Side: models.OrderSideSell, Type: models.OrderTypeMarket, Quantity: 25})
	if !errors.Is(err, apperrors.ErrOrderRejected) {
		t.Errorf("unknown symbol: err = %v, want ErrOrderRejected", err)
	}
}

func TestPaperStopLossRestsAndCancels(t *testing.T) {
	p := newTestPaper(t)
	ctx := context.Background()
	chain, _ := p.GetOptionChain(ctx, models.NIFTY, testExpiry)
	ce := quote(t, chain, 22000, models.CE)

	res, err := p.PlaceOrder(ctx, &models.OrderRequest{
		Symbol: ce.Symbol, Side: models.OrderSideBuy, Type: models.OrderTypeStopLossM,
		Quantity: 25, TriggerPrice: ce.Premium * 1.3, Tag: "sl_ce",
	})
	if err != nil {
		t.Fatalf("PlaceOrder SL-M: %v", err)
	}
	if res.Status != statusTriggerPending {
		t.Fatalf("status = %s, want TRIGGER PENDING", res.Status)
	}

	orders, _ := p.GetOrders(ctx)
	if len(orders) != 1 || !orders[0].IsResting() || !orders[0].Type.IsStopLoss() {
		t.Fatalf("orders = %+v", orders)
	}

	ok, err := p.CancelOrder(ctx, res.OrderID)
	if err != nil || !ok {
		t.Fatalf("CancelOrder = %v, %v", ok, err)
	}
	ok, err = p.CancelOrder(ctx, res.OrderID)
	if err != nil || ok {
		t.Fatalf("second CancelOrder = %v, %v; want false, nil", ok, err)
	}
}

func TestPaperStopLossTriggersOnRally(t *testing.T) {
	p := newTestPaper(t)
	ctx := context.Background()
	chain, _ := p.GetOptionChain(ctx, models.NIFTY, testExpiry)
	ce := quote(t, chain, 22000, models.CE)

	_, _ = p.PlaceOrder(ctx, &models.OrderRequest{Symbol: ce.Symbol, Side: models.OrderSideSell, Type: models.OrderTypeMarket, Quantity: 25})
	sl, _ := p.PlaceOrder(ctx, &models.OrderRequest{
		Symbol: ce.Symbol, Side: models.OrderSideBuy, Type: models.OrderTypeStopLossM,
		Quantity: 25, TriggerPrice: ce.Premium * 1.3,
	})

	p.SetSpot(models.NIFTY, 22300)

	st, _ := p.GetOrderStatus(ctx, sl.OrderID)
	if !models.ClassifyBrokerStatus(st.Status).IsSuccess() {
		t.Fatalf("stop-loss status = %s, want filled after rally", st.Status)
	}
	positions, _ := p.GetPositions(ctx)
	if len(positions) != 1 || positions[0].IsOpen() {
		t.Fatalf("stop-loss fill should flatten the short, got %+v", positions)
	}
	if positions[0].Realized >= 0 {
		t.Errorf("realized = %.2f, want a loss after the rally", positions[0].Realized)
	}
}

func TestPaperBooksRealizedPnL(t *testing.T) {
	p := newTestPaper(t)
	ctx := context.Background()
	chain, _ := p.GetOptionChain(ctx, models.NIFTY, testExpiry)
	ce := quote(t, chain, 22000, models.CE)

	fillAt := func(side models.OrderSide, qty int) float64 {
		t.Helper()
		res, err := p.PlaceOrder(ctx, &models.OrderRequest{
			Symbol: ce.Symbol, Side: side, Type: models.OrderTypeMarket, Quantity: qty,
		})
		if err != nil {
			t.Fatalf("PlaceOrder: %v", err)
		}
		st, _ := p.GetOrderStatus(ctx, res.OrderID)
		return st.FilledPremium
	}
	book := func() models.Position {
		t.Helper()
		positions, _ := p.GetPositions(ctx)
		if len(positions) != 1 {
			t.Fatalf("positions = %+v, want one row", positions)
		}
		return positions[0]
	}

	entry := fillAt(models.OrderSideSell, 50)

	p.SetSpot(models.NIFTY, 22100)
	first := fillAt(models.OrderSideBuy, 25)
	want := (entry - first) * 25
	pos := book()
	if pos.NetQuantity != -25 || pos.AveragePrice != entry {
		t.Fatalf("after partial cover = %+v", pos)
	}
	if math.Abs(pos.Realized-want) > 0.01 {
		t.Errorf("realized = %.2f, want %.2f", pos.Realized, want)
	}

	p.SetSpot(models.NIFTY, 21900)
	second := fillAt(models.OrderSideBuy, 25)
	want += (entry - second) * 25
	pos = book()
	if pos.IsOpen() {
		t.Fatalf("position should be flat, got %+v", pos)
	}
	if math.Abs(pos.Realized-want) > 0.01 {
		t.Errorf("realized = %.2f, want %.2f", pos.Realized, want)
	}
}
