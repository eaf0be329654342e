package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Hari-sh-S/options-algo/internal/logging"
	"github.com/Hari-sh-S/options-algo/internal/models"
)

func decodeEvents(t *testing.T, buf *bytes.Buffer) []Event {
	t.Helper()
	var events []Event
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("invalid audit line %q: %v", scanner.Text(), err)
		}
		events = append(events, e)
	}
	return events
}

func TestLogOrderPlacedAcceptedAndRejected(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf)
	ctx := logging.WithRequestID(context.Background(), "req-1")

	req := &models.OrderRequest{
		Symbol:   "NIFTY24062722000CE",
		Side:     models.OrderSideSell,
		Type:     models.OrderTypeMarket,
		Quantity: 25,
		Tag:      "straddle_ce",
	}

	if err := l.LogOrderPlaced(ctx, "default", req, "PAPER-1", 5*time.Millisecond, nil); err != nil {
		t.Fatalf("LogOrderPlaced: %v", err)
	}
	if err := l.LogOrderPlaced(ctx, "default", req, "", time.Millisecond, errors.New("invalid quantity")); err != nil {
		t.Fatalf("LogOrderPlaced: %v", err)
	}

	events := decodeEvents(t, &buf)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	if events[0].EventType != OrderPlaced || !events[0].Success || events[0].Tag != "straddle_ce" {
		t.Errorf("accepted event = %+v", events[0])
	}
	if events[0].RequestID != "req-1" {
		t.Errorf("request id = %q, want req-1", events[0].RequestID)
	}
	if events[1].EventType != OrderRejected || events[1].Success || events[1].ErrorMsg != "invalid quantity" {
		t.Errorf("rejected event = %+v", events[1])
	}
	if events[0].SessionID == "" || events[0].SessionID != events[1].SessionID {
		t.Errorf("session id should be stable and non-empty")
	}
}

func TestLogReadSubjects(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf)

	_ = l.LogRead(context.Background(), OrderStatus, "default", "PAPER-7", 0, nil)
	_ = l.LogRead(context.Background(), SpotRead, "default", "NIFTY", 0, errors.New("down"))

	events := decodeEvents(t, &buf)
	if events[0].OrderID != "PAPER-7" || events[0].Symbol != "" {
		t.Errorf("status read = %+v", events[0])
	}
	if events[1].Symbol != "NIFTY" || events[1].Success {
		t.Errorf("spot read = %+v", events[1])
	}
}

func TestNewWritesRotatedFile(t *testing.T) {
	dir := t.TempDir()
	l, err := New(DefaultConfig(dir))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	if err := l.LogOrderCancelled(context.Background(), "default", "X", 0, nil); err != nil {
		t.Fatalf("LogOrderCancelled: %v", err)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	if err := l.Log(context.Background(), Event{}); err != nil {
		t.Fatalf("nil logger Log: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("nil logger Close: %v", err)
	}
}
