package squareoff

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Hari-sh-S/options-algo/internal/broker"
	apperrors "github.com/Hari-sh-S/options-algo/internal/errors"
	"github.com/Hari-sh-S/options-algo/internal/models"
	"github.com/Hari-sh-S/options-algo/internal/store"
	"github.com/Hari-sh-S/options-algo/pkg/utils"
)

var testExpiry = models.NewDate(2024, time.June, 27)

// openStraddle sells ATM CE and PE and protects both with resting SL-M orders.
func openStraddle(t *testing.T, paper *broker.PaperGateway) {
	t.Helper()
	ctx := context.Background()

	chain, err := paper.GetOptionChain(ctx, models.NIFTY, testExpiry)
	if err != nil {
		t.Fatalf("GetOptionChain: %v", err)
	}
	for _, side := range []models.OptionSide{models.CE, models.PE} {
		q, ok := chain.Lookup(22000, side)
		if !ok {
			t.Fatalf("no ATM %s quote", side)
		}
		if _, err := paper.PlaceOrder(ctx, &models.OrderRequest{
			Symbol: q.Symbol, Exchange: models.NFO, Side: models.OrderSideSell,
			Type: models.OrderTypeMarket, Product: models.ProductMIS, Quantity: 25,
		}); err != nil {
			t.Fatalf("entry: %v", err)
		}
		if _, err := paper.PlaceOrder(ctx, &models.OrderRequest{
			Symbol: q.Symbol, Exchange: models.NFO, Side: models.OrderSideBuy,
			Type: models.OrderTypeStopLossM, Product: models.ProductMIS, Quantity: 25,
			TriggerPrice: utils.RoundToTick(q.Premium*1.3, 0.05),
		}); err != nil {
			t.Fatalf("stop-loss: %v", err)
		}
	}
}

func newPaper() *broker.PaperGateway {
	return broker.NewPaperGateway("default", broker.PaperConfig{
		Spot: map[models.Index]float64{models.NIFTY: 22000},
	})
}

func newTestTimer(gw broker.Gateway, st Store) *Timer {
	reg := broker.NewRegistry()
	reg.Register("default", broker.ModePaper, gw)
	return NewTimer(reg, st, nil, zerolog.Nop())
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func openPositions(t *testing.T, gw broker.Gateway) []models.Position {
	t.Helper()
	book, err := gw.GetPositions(context.Background())
	if err != nil {
		t.Fatalf("GetPositions: %v", err)
	}
	var open []models.Position
	for _, p := range book {
		if p.IsOpen() {
			open = append(open, p)
		}
	}
	return open
}

func summaries(t *testing.T, st Store) []models.DaySummary {
	t.Helper()
	out, err := st.ListDaySummaries(context.Background(), "default", 10)
	if err != nil {
		t.Fatalf("ListDaySummaries: %v", err)
	}
	return out
}

func TestSquareOffNowClosesBook(t *testing.T) {
	paper := newPaper()
	openStraddle(t, paper)
	st := store.NewMemoryStore()
	timer := newTestTimer(paper, st)

	report, err := timer.SquareOffNow(context.Background(), "default")
	if err != nil {
		t.Fatalf("SquareOffNow: %v", err)
	}
	if report.Partial() {
		t.Fatalf("unexpected failures: %+v", report.Failures)
	}
	if len(report.CancelledOrders) != 2 {
		t.Errorf("cancelled = %d, want 2 stop-losses", len(report.CancelledOrders))
	}
	if len(report.ClosedPositions) != 2 {
		t.Errorf("closed = %d, want 2", len(report.ClosedPositions))
	}

	if open := openPositions(t, paper); len(open) != 0 {
		t.Errorf("positions left open: %+v", open)
	}
	orders, _ := paper.GetOrders(context.Background())
	for _, o := range orders {
		if o.IsResting() {
			t.Errorf("order %s still resting", o.ID)
		}
		if o.Side == models.OrderSideBuy && o.Type == models.OrderTypeMarket && o.Tag != Tag {
			t.Errorf("closing order tag = %q, want %q", o.Tag, Tag)
		}
	}

	if report.Summary == nil || report.Summary.NumTrades != 4 {
		t.Fatalf("summary = %+v, want 4 trades (2 entries + 2 closes)", report.Summary)
	}
	if got := summaries(t, st); len(got) != 1 || got[0].Date != utils.TradingDate(report.StartedAt) {
		t.Errorf("stored summaries = %+v", got)
	}
}

type failingCloseGateway struct {
	*broker.PaperGateway
	failSymbol string
}

func (g *failingCloseGateway) PlaceOrder(ctx context.Context, req *models.OrderRequest) (*broker.OrderResult, error) {
	if req.Symbol == g.failSymbol && req.Tag == Tag {
		return nil, apperrors.NewRejection(req.Symbol, "RMS: blocked")
	}
	return g.PaperGateway.PlaceOrder(ctx, req)
}

func TestSquareOffCollectsFailures(t *testing.T) {
	paper := newPaper()
	openStraddle(t, paper)
	open, _ := paper.GetPositions(context.Background())

	gw := &failingCloseGateway{PaperGateway: paper, failSymbol: open[0].Symbol}
	timer := newTestTimer(gw, store.NewMemoryStore())

	report, err := timer.SquareOffNow(context.Background(), "default")
	if err != nil {
		t.Fatalf("SquareOffNow: %v", err)
	}
	if !report.Partial() || len(report.Failures) != 1 {
		t.Fatalf("failures = %+v, want exactly one", report.Failures)
	}
	if report.Failures[0].Symbol != open[0].Symbol {
		t.Errorf("failed symbol = %s", report.Failures[0].Symbol)
	}
	if len(report.ClosedPositions) != 1 {
		t.Errorf("closed = %d, want the other leg", len(report.ClosedPositions))
	}
	if report.Summary == nil {
		t.Error("summary should still be written")
	}
}

func TestScheduledSquareOffFires(t *testing.T) {
	paper := newPaper()
	openStraddle(t, paper)
	st := store.NewMemoryStore()
	timer := newTestTimer(paper, st)
	defer timer.Stop()

	sch, err := timer.Set(context.Background(), "default", time.Now().Add(20*time.Millisecond))
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := timer.Get("default"); got == nil || got.ScheduleID != sch.ScheduleID {
		t.Fatalf("Get = %+v", got)
	}

	waitFor(t, func() bool { return len(summaries(t, st)) == 1 })

	if timer.Get("default") != nil {
		t.Error("fired schedule should no longer be active")
	}
	if left, _ := st.LoadSchedules(context.Background()); len(left) != 0 {
		t.Errorf("persisted schedule not removed: %+v", left)
	}
	if open := openPositions(t, paper); len(open) != 0 {
		t.Errorf("positions left open: %+v", open)
	}
}

func TestSetReplacesSchedule(t *testing.T) {
	st := store.NewMemoryStore()
	timer := newTestTimer(newPaper(), st)
	defer timer.Stop()

	first, _ := timer.Set(context.Background(), "default", time.Now().Add(time.Hour))
	second, err := timer.Set(context.Background(), "default", time.Now().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if first.ScheduleID == second.ScheduleID {
		t.Fatal("replacement should get a new schedule id")
	}
	if got := timer.Get("default"); got.ScheduleID != second.ScheduleID {
		t.Errorf("active = %s, want %s", got.ScheduleID, second.ScheduleID)
	}
	persisted, _ := st.LoadSchedules(context.Background())
	if len(persisted) != 1 || persisted[0].ScheduleID != second.ScheduleID {
		t.Errorf("persisted = %+v", persisted)
	}
}

func TestCancelSchedule(t *testing.T) {
	st := store.NewMemoryStore()
	timer := newTestTimer(newPaper(), st)
	defer timer.Stop()

	if _, err := timer.Set(context.Background(), "default", time.Now().Add(50*time.Millisecond)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	ok, err := timer.Cancel(context.Background(), "default")
	if err != nil || !ok {
		t.Fatalf("Cancel = %v, %v", ok, err)
	}
	if timer.Get("default") != nil {
		t.Error("schedule still active after cancel")
	}
	if ok, _ := timer.Cancel(context.Background(), "default"); ok {
		t.Error("second cancel should return false")
	}

	time.Sleep(100 * time.Millisecond)
	if got := summaries(t, st); len(got) != 0 {
		t.Errorf("cancelled square-off ran: %+v", got)
	}
}

func TestSetRejectsUnknownOwner(t *testing.T) {
	timer := newTestTimer(newPaper(), store.NewMemoryStore())
	if _, err := timer.Set(context.Background(), "nobody", time.Now().Add(time.Hour)); !errors.Is(err, apperrors.ErrUnknownOwner) {
		t.Errorf("err = %v, want ErrUnknownOwner", err)
	}
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	now := time.Now()

	_ = st.SaveSchedule(ctx, &models.SquareOffSchedule{ScheduleID: "sq_today", Owner: "default", ExecuteAt: now.Add(time.Hour), Active: true})
	_ = st.SaveSchedule(ctx, &models.SquareOffSchedule{ScheduleID: "sq_stale", Owner: "other", ExecuteAt: now.AddDate(0, 0, -3), Active: true})

	timer := newTestTimer(newPaper(), st)
	defer timer.Stop()

	if err := timer.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := timer.Get("default"); got == nil || got.ScheduleID != "sq_today" {
		t.Errorf("today's schedule not re-armed: %+v", got)
	}
	if timer.Get("other") != nil {
		t.Error("stale schedule should not be armed")
	}
	left, _ := st.LoadSchedules(ctx)
	if len(left) != 1 || left[0].Owner != "default" {
		t.Errorf("persisted after restore = %+v", left)
	}
}

func TestDailyInstall(t *testing.T) {
	reg := broker.NewRegistry()
	reg.Register("alice", broker.ModePaper, newPaper())
	reg.Register("bob", broker.ModePaper, newPaper())
	timer := NewTimer(reg, store.NewMemoryStore(), nil, zerolog.Nop())
	defer timer.Stop()

	daily, err := NewDaily(context.Background(), timer, []string{"alice", "bob"}, "15:15", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewDaily: %v", err)
	}

	// Thursday morning: both owners get today's 15:15.
	timer.now = func() time.Time { return time.Date(2024, time.June, 27, 9, 0, 0, 0, utils.IndiaLocation) }
	if n := daily.Install(context.Background()); n != 2 {
		t.Fatalf("installed = %d, want 2", n)
	}
	want := time.Date(2024, time.June, 27, 15, 15, 0, 0, utils.IndiaLocation)
	if got := timer.Get("alice"); got == nil || !got.ExecuteAt.Equal(want) {
		t.Errorf("alice = %+v, want %v", got, want)
	}

	// Existing schedules are left alone.
	if n := daily.Install(context.Background()); n != 0 {
		t.Errorf("reinstall = %d, want 0", n)
	}

	_, _ = timer.Cancel(context.Background(), "alice")
	_, _ = timer.Cancel(context.Background(), "bob")

	// Saturday, and a weekday after the cutoff.
	timer.now = func() time.Time { return time.Date(2024, time.June, 29, 9, 0, 0, 0, utils.IndiaLocation) }
	if n := daily.Install(context.Background()); n != 0 {
		t.Errorf("saturday installed %d", n)
	}
	timer.now = func() time.Time { return time.Date(2024, time.June, 27, 15, 30, 0, 0, utils.IndiaLocation) }
	if n := daily.Install(context.Background()); n != 0 {
		t.Errorf("after cutoff installed %d", n)
	}

	if _, err := NewDaily(context.Background(), timer, nil, "25:00", zerolog.Nop()); err == nil {
		t.Error("invalid clock should fail")
	}
}

// cashFlow is the day's P&L from fills alone: premium received on sells less
// premium paid on buys. It equals realized P&L once the book is flat.
func cashFlow(t *testing.T, gw broker.Gateway) float64 {
	t.Helper()
	orders, err := gw.GetOrders(context.Background())
	if err != nil {
		t.Fatalf("GetOrders: %v", err)
	}
	total := 0.0
	for _, o := range orders {
		if !o.IsFilled() {
			continue
		}
		value := o.AveragePrice * float64(o.FilledQty)
		if o.Side == models.OrderSideBuy {
			value = -value
		}
		total += value
	}
	return total
}

func TestSummaryCountsStoppedOutLeg(t *testing.T) {
	paper := newPaper()
	openStraddle(t, paper)
	paper.SetSpot(models.NIFTY, 22300)

	if open := openPositions(t, paper); len(open) != 1 {
		t.Fatalf("open = %+v, want only the put after the call stopped out", open)
	}

	timer := newTestTimer(paper, store.NewMemoryStore())
	report, err := timer.SquareOffNow(context.Background(), "default")
	if err != nil {
		t.Fatalf("SquareOffNow: %v", err)
	}
	if len(report.ClosedPositions) != 1 || len(report.CancelledOrders) != 1 {
		t.Fatalf("closed = %d, cancelled = %d; want 1 and 1", len(report.ClosedPositions), len(report.CancelledOrders))
	}

	want := cashFlow(t, paper)
	if report.Summary == nil {
		t.Fatal("summary not written")
	}
	if math.Abs(report.Summary.TotalPnL-want) > 0.01 {
		t.Errorf("total_pnl = %.2f, want %.2f from fills", report.Summary.TotalPnL, want)
	}
	if report.Summary.TotalPnL >= 0 {
		t.Errorf("total_pnl = %.2f, want a loss after the rally", report.Summary.TotalPnL)
	}
}

// gatedScheduleStore holds the first SaveSchedule open after persisting
// until release is closed.
type gatedScheduleStore struct {
	Store
	once    sync.Once
	saved   chan struct{}
	release chan struct{}
}

func (g *gatedScheduleStore) SaveSchedule(ctx context.Context, sch *models.SquareOffSchedule) error {
	if err := g.Store.SaveSchedule(ctx, sch); err != nil {
		return err
	}
	g.once.Do(func() {
		close(g.saved)
		<-g.release
	})
	return nil
}

func TestConcurrentSetKeepsStoreAndTimerInStep(t *testing.T) {
	paper := newPaper()
	openStraddle(t, paper)
	st := &gatedScheduleStore{
		Store:   store.NewMemoryStore(),
		saved:   make(chan struct{}),
		release: make(chan struct{}),
	}
	timer := newTestTimer(paper, st)
	defer timer.Stop()

	base := time.Now().Add(150 * time.Millisecond)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := timer.Set(context.Background(), "default", base); err != nil {
			t.Errorf("first Set: %v", err)
		}
	}()
	<-st.saved
	go func() {
		defer wg.Done()
		if _, err := timer.Set(context.Background(), "default", base.Add(10*time.Millisecond)); err != nil {
			t.Errorf("second Set: %v", err)
		}
	}()
	time.Sleep(20 * time.Millisecond)
	close(st.release)
	wg.Wait()

	armed := timer.Get("default")
	persisted, _ := st.LoadSchedules(context.Background())
	if armed == nil || len(persisted) != 1 || persisted[0].ScheduleID != armed.ScheduleID {
		t.Fatalf("armed = %+v, persisted = %+v; want the same schedule", armed, persisted)
	}

	waitFor(t, func() bool { return len(summaries(t, st)) == 1 })
	if open := openPositions(t, paper); len(open) != 0 {
		t.Errorf("positions left open: %+v", open)
	}
	if timer.Get("default") != nil {
		t.Error("fired schedule should no longer be active")
	}
}

// forgetfulStore loses persisted schedules before they can be claimed.
type forgetfulStore struct {
	Store
}

func (f *forgetfulStore) ClaimSchedule(ctx context.Context, owner, scheduleID string) (*models.SquareOffSchedule, error) {
	return nil, apperrors.ErrScheduleNotFound
}

func TestArmedSquareOffRunsWithoutPersistedSchedule(t *testing.T) {
	paper := newPaper()
	openStraddle(t, paper)
	st := &forgetfulStore{Store: store.NewMemoryStore()}
	timer := newTestTimer(paper, st)
	defer timer.Stop()

	if _, err := timer.Set(context.Background(), "default", time.Now().Add(20*time.Millisecond)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	waitFor(t, func() bool { return len(summaries(t, st)) == 1 })
	if open := openPositions(t, paper); len(open) != 0 {
		t.Errorf("positions left open: %+v", open)
	}
}

func TestRestoreFiresTodaysOverdueSchedule(t *testing.T) {
	ctx := context.Background()
	paper := newPaper()
	openStraddle(t, paper)
	st := store.NewMemoryStore()

	due := time.Date(2024, time.June, 27, 15, 15, 0, 0, utils.IndiaLocation)
	_ = st.SaveSchedule(ctx, &models.SquareOffSchedule{ScheduleID: "sq_overdue", Owner: "default", ExecuteAt: due, Active: true})

	timer := newTestTimer(paper, st)
	defer timer.Stop()
	timer.now = func() time.Time { return due.Add(5 * time.Minute) }

	if err := timer.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	waitFor(t, func() bool { return len(summaries(t, st)) == 1 })
	if open := openPositions(t, paper); len(open) != 0 {
		t.Errorf("positions left open: %+v", open)
	}
	if left, _ := st.LoadSchedules(ctx); len(left) != 0 {
		t.Errorf("persisted after firing = %+v", left)
	}
}
