// Package audit writes an append-only JSON-lines trail of every broker call.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Hari-sh-S/options-algo/internal/logging"
	"github.com/Hari-sh-S/options-algo/internal/models"
)

// EventType represents the type of audit event.
type EventType string

const (
	// Order events
	OrderPlaced    EventType = "ORDER_PLACED"
	OrderRejected  EventType = "ORDER_REJECTED"
	OrderCancelled EventType = "ORDER_CANCELLED"
	OrderStatus    EventType = "ORDER_STATUS"
	OrdersRead     EventType = "ORDERS_READ"

	// Market data and position reads
	SpotRead      EventType = "SPOT_READ"
	ChainRead     EventType = "CHAIN_READ"
	PositionsRead EventType = "POSITIONS_READ"
)

// Event represents a single audit log entry.
type Event struct {
	Timestamp  time.Time              `json:"timestamp"`
	EventType  EventType              `json:"event_type"`
	Owner      string                 `json:"owner,omitempty"`
	Symbol     string                 `json:"symbol,omitempty"`
	OrderID    string                 `json:"order_id,omitempty"`
	Tag        string                 `json:"tag,omitempty"`
	Action     string                 `json:"action,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Success    bool                   `json:"success"`
	ErrorMsg   string                 `json:"error,omitempty"`
	DurationMS int64                  `json:"duration_ms"`
	SessionID  string                 `json:"session_id,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
}

// Config holds audit logger configuration.
type Config struct {
	LogDir     string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// DefaultConfig returns the default audit configuration.
func DefaultConfig(dir string) Config {
	return Config{
		LogDir:     dir,
		MaxSize:    50,
		MaxBackups: 30,
		MaxAge:     365,
		Compress:   true,
	}
}

// Logger handles audit logging for broker calls.
type Logger struct {
	writer    io.Writer
	closer    io.Closer
	mu        sync.Mutex
	sessionID string
	now       func() time.Time
}

// New creates an audit logger writing to a rotated file in cfg.LogDir.
func New(cfg Config) (*Logger, error) {
	// Restricted permissions: the trail contains order details
	if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	writer := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, "audit.log"),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	l := NewWithWriter(writer)
	l.closer = writer
	return l, nil
}

// NewWithWriter creates an audit logger writing to w.
func NewWithWriter(w io.Writer) *Logger {
	return &Logger{
		writer:    w,
		sessionID: uuid.NewString(),
		now:       time.Now,
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return NewWithWriter(io.Discard)
}

// Log writes an audit event.
func (l *Logger) Log(ctx context.Context, event Event) error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	event.Timestamp = l.now().UTC()
	event.SessionID = l.sessionID
	if event.RequestID == "" {
		event.RequestID = logging.RequestID(ctx)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("serializing audit event: %w", err)
	}

	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}

	return nil
}

// LogOrderPlaced records an order submission, accepted or not.
func (l *Logger) LogOrderPlaced(ctx context.Context, owner string, req *models.OrderRequest, orderID string, took time.Duration, err error) error {
	event := Event{
		EventType:  OrderPlaced,
		Owner:      owner,
		Symbol:     req.Symbol,
		OrderID:    orderID,
		Tag:        req.Tag,
		Action:     string(req.Side),
		Success:    err == nil,
		DurationMS: took.Milliseconds(),
		Details: map[string]interface{}{
			"quantity":      req.Quantity,
			"order_type":    req.Type,
			"product":       req.Product,
			"trigger_price": req.TriggerPrice,
		},
	}
	if err != nil {
		event.EventType = OrderRejected
		event.ErrorMsg = err.Error()
	}
	return l.Log(ctx, event)
}

// LogOrderCancelled records a cancellation attempt.
func (l *Logger) LogOrderCancelled(ctx context.Context, owner, orderID string, took time.Duration, err error) error {
	return l.Log(ctx, withError(Event{
		EventType:  OrderCancelled,
		Owner:      owner,
		OrderID:    orderID,
		DurationMS: took.Milliseconds(),
	}, err))
}

// LogRead records a read-only call such as a status poll or position fetch.
func (l *Logger) LogRead(ctx context.Context, eventType EventType, owner, subject string, took time.Duration, err error) error {
	event := Event{
		EventType:  eventType,
		Owner:      owner,
		DurationMS: took.Milliseconds(),
	}
	if eventType == OrderStatus {
		event.OrderID = subject
	} else {
		event.Symbol = subject
	}
	return l.Log(ctx, withError(event, err))
}

func withError(event Event, err error) Event {
	event.Success = err == nil
	if err != nil {
		event.ErrorMsg = err.Error()
	}
	return event
}

// Close closes the underlying file, if any.
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
