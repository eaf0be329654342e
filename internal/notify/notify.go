// Package notify provides notification functionality for the execution engine.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Hari-sh-S/options-algo/internal/config"
	"github.com/Hari-sh-S/options-algo/internal/models"
	"github.com/Hari-sh-S/options-algo/pkg/utils"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
	SendExecution(ctx context.Context, result *models.ExecutionResult) error
	SendJobRun(ctx context.Context, run models.JobRun) error
	SendSquareOff(ctx context.Context, report *models.SquareOffReport) error
	SendError(ctx context.Context, err error, context string) error
}

// NotificationChannel defines the interface for a notification channel.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
}

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationTrade   NotificationType = "trade"
	NotificationError   NotificationType = "error"
	NotificationSummary NotificationType = "summary"
	NotificationInfo    NotificationType = "info"
)

// NotificationLevel represents the notification level filter.
type NotificationLevel string

const (
	LevelAll        NotificationLevel = "all"
	LevelTradesOnly NotificationLevel = "trades_only"
	LevelErrorsOnly NotificationLevel = "errors_only"
)

// MultiNotifier sends notifications to multiple channels.
type MultiNotifier struct {
	channels []NotificationChannel
	level    NotificationLevel
	mu       sync.RWMutex
}

// NewMultiNotifier creates a new MultiNotifier with the given configuration.
func NewMultiNotifier(cfg *config.NotificationConfig) *MultiNotifier {
	mn := &MultiNotifier{
		channels: make([]NotificationChannel, 0),
		level:    NotificationLevel(cfg.Level),
	}

	if mn.level == "" {
		mn.level = LevelAll
	}
	if !cfg.Enabled {
		return mn
	}

	if cfg.Webhook.Enabled {
		mn.channels = append(mn.channels, NewWebhookNotifier(cfg.Webhook))
	}
	if cfg.Telegram.Enabled {
		mn.channels = append(mn.channels, NewTelegramNotifier(cfg.Telegram))
	}

	return mn
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch NotificationChannel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

func (mn *MultiNotifier) shouldSend(notifType NotificationType) bool {
	switch mn.level {
	case LevelTradesOnly:
		return notifType == NotificationTrade
	case LevelErrorsOnly:
		return notifType == NotificationError
	default:
		return true
	}
}

// Send sends a notification to all enabled channels.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if !mn.shouldSend(n.Type) {
		return nil
	}

	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	mn.mu.RLock()
	channels := mn.channels
	mn.mu.RUnlock()

	var errs []string
	for _, ch := range channels {
		if ch.IsEnabled() {
			if err := ch.Send(ctx, n); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SendExecution reports the outcome of a strategy run.
func (mn *MultiNotifier) SendExecution(ctx context.Context, result *models.ExecutionResult) error {
	status := "✅ Executed"
	notifType := NotificationTrade
	if !result.Success {
		status = "⚠️ Incomplete"
		if result.State == models.StateAborted {
			status = "❌ Aborted"
			notifType = NotificationError
		}
	}

	title := fmt.Sprintf("%s: %s %s %s", status, result.Strategy, result.Index, result.Expiry)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Owner: %s (%s)\n", result.Owner, result.Mode))
	for _, leg := range result.EntryLegs {
		sb.WriteString(fmt.Sprintf("%s %.0f x%d: %s", leg.Side, leg.Strike, leg.Quantity, leg.Status))
		if leg.Premium != nil && leg.Status.IsSuccess() {
			sb.WriteString(" @ " + utils.FormatIndianCurrency(*leg.Premium))
		}
		sb.WriteString("\n")
	}
	for _, leg := range result.StopLossLegs {
		sb.WriteString(fmt.Sprintf("SL %s: %s", leg.Side, leg.Status))
		if leg.TriggerPrice != nil {
			sb.WriteString(" trigger " + utils.FormatIndianCurrency(*leg.TriggerPrice))
		}
		sb.WriteString("\n")
	}
	if result.Error != "" {
		sb.WriteString("Error: " + result.Error + "\n")
	}

	return mn.Send(ctx, Notification{
		Type:    notifType,
		Title:   title,
		Message: sb.String(),
		Data: map[string]interface{}{
			"owner":    result.Owner,
			"strategy": result.Strategy,
			"index":    result.Index,
			"success":  result.Success,
			"state":    result.State,
		},
	})
}

// SendJobRun reports a scheduled job that was missed or failed to run.
func (mn *MultiNotifier) SendJobRun(ctx context.Context, run models.JobRun) error {
	notifType := NotificationInfo
	if run.Outcome != models.JobFired || !run.Success {
		notifType = NotificationError
	}

	title := fmt.Sprintf("⏰ Job %s %s", run.JobID, run.Outcome)
	message := fmt.Sprintf("Owner: %s\nDue: %s\nHandled: %s",
		run.Owner,
		run.ExecuteAt.In(utils.IndiaLocation).Format("2006-01-02 15:04:05"),
		run.FiredAt.In(utils.IndiaLocation).Format("15:04:05"))
	if run.Error != "" {
		message += "\nError: " + run.Error
	}

	return mn.Send(ctx, Notification{
		Type:    notifType,
		Title:   title,
		Message: message,
		Data: map[string]interface{}{
			"job_id":  run.JobID,
			"owner":   run.Owner,
			"outcome": run.Outcome,
		},
	})
}

// SendSquareOff reports what a square-off closed and the day's P&L.
func (mn *MultiNotifier) SendSquareOff(ctx context.Context, report *models.SquareOffReport) error {
	pnlEmoji := "📊"
	pnl := 0.0
	if report.Summary != nil {
		pnl = report.Summary.TotalPnL
	}
	if pnl > 0 {
		pnlEmoji = "💰"
	} else if pnl < 0 {
		pnlEmoji = "📉"
	}

	title := fmt.Sprintf("%s Square-off: %s", pnlEmoji, report.Owner)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Cancelled orders: %d\n", len(report.CancelledOrders)))
	sb.WriteString(fmt.Sprintf("Closed positions: %d\n", len(report.ClosedPositions)))
	sb.WriteString(fmt.Sprintf("P&L: %s\n", utils.FormatPnL(pnl)))
	for _, f := range report.Failures {
		sb.WriteString(fmt.Sprintf("⚠️ %s: %s\n", f.Symbol, f.Error))
	}

	notifType := NotificationSummary
	if report.Partial() {
		notifType = NotificationError
	}

	return mn.Send(ctx, Notification{
		Type:    notifType,
		Title:   title,
		Message: sb.String(),
		Data: map[string]interface{}{
			"owner":     report.Owner,
			"total_pnl": pnl,
			"closed":    len(report.ClosedPositions),
			"failures":  len(report.Failures),
		},
	})
}

// SendError sends an error notification.
func (mn *MultiNotifier) SendError(ctx context.Context, err error, errContext string) error {
	title := "❌ Error Occurred"
	message := fmt.Sprintf("Context: %s\nError: %v\nTime: %s",
		errContext, err, time.Now().In(utils.IndiaLocation).Format("15:04:05"))

	return mn.Send(ctx, Notification{
		Type:    NotificationError,
		Title:   title,
		Message: message,
		Data: map[string]interface{}{
			"context": errContext,
			"error":   err.Error(),
		},
	})
}

// WebhookNotifier sends notifications via HTTP webhook.
type WebhookNotifier struct {
	url     string
	enabled bool
	client  *http.Client
}

// NewWebhookNotifier creates a new WebhookNotifier.
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		url:     cfg.URL,
		enabled: cfg.Enabled && cfg.URL != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the notifier.
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// IsEnabled returns whether the notifier is enabled.
func (w *WebhookNotifier) IsEnabled() bool {
	return w.enabled
}

// Send posts the notification as JSON.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	if !w.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"type":      n.Type,
		"title":     n.Title,
		"message":   n.Message,
		"data":      n.Data,
		"timestamp": n.Timestamp.Format(time.RFC3339),
	}

	return postJSON(ctx, w.client, w.url, payload, "options-algo/1.0")
}

// TelegramNotifier sends notifications via Telegram bot.
type TelegramNotifier struct {
	baseURL  string
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

// NewTelegramNotifier creates a new TelegramNotifier.
func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		baseURL:  "https://api.telegram.org",
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the notifier.
func (t *TelegramNotifier) Name() string {
	return "telegram"
}

// IsEnabled returns whether the notifier is enabled.
func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

// Send sends a notification via the Bot API in HTML parse mode.
func (t *TelegramNotifier) Send(ctx context.Context, n Notification) error {
	if !t.enabled {
		return nil
	}

	text := fmt.Sprintf("<b>%s</b>\n\n%s", escapeHTML(n.Title), escapeHTML(n.Message))
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)

	return postJSON(ctx, t.client, url, map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}, "")
}

func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}, userAgent string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// escapeHTML escapes HTML special characters for Telegram.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// LogChannel writes notifications to the structured log.
type LogChannel struct {
	logger zerolog.Logger
}

// NewLogChannel creates a channel that logs every notification.
func NewLogChannel(logger zerolog.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

// Name returns the name of the channel.
func (l *LogChannel) Name() string { return "log" }

// IsEnabled always returns true.
func (l *LogChannel) IsEnabled() bool { return true }

// Send logs the notification.
func (l *LogChannel) Send(ctx context.Context, n Notification) error {
	event := l.logger.Info()
	if n.Type == NotificationError {
		event = l.logger.Warn()
	}
	event.Str("event", "notification").
		Str("type", string(n.Type)).
		Str("title", n.Title).
		Msg(strings.TrimSpace(n.Message))
	return nil
}

// NoOpNotifier is a notifier that does nothing (for testing or disabled notifications).
type NoOpNotifier struct{}

// NewNoOpNotifier creates a new NoOpNotifier.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

// Send does nothing.
func (n *NoOpNotifier) Send(ctx context.Context, notif Notification) error { return nil }

// SendExecution does nothing.
func (n *NoOpNotifier) SendExecution(ctx context.Context, result *models.ExecutionResult) error {
	return nil
}

// SendJobRun does nothing.
func (n *NoOpNotifier) SendJobRun(ctx context.Context, run models.JobRun) error { return nil }

// SendSquareOff does nothing.
func (n *NoOpNotifier) SendSquareOff(ctx context.Context, report *models.SquareOffReport) error {
	return nil
}

// SendError does nothing.
func (n *NoOpNotifier) SendError(ctx context.Context, err error, context string) error { return nil }

var (
	_ Notifier = (*MultiNotifier)(nil)
	_ Notifier = (*NoOpNotifier)(nil)
)
