package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Hari-sh-S/options-algo/internal/config"
	"github.com/Hari-sh-S/options-algo/internal/models"
)

type recordingChannel struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *recordingChannel) Name() string    { return "recording" }
func (r *recordingChannel) IsEnabled() bool { return true }
func (r *recordingChannel) Send(ctx context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func TestLevelFilter(t *testing.T) {
	mn := NewMultiNotifier(&config.NotificationConfig{Level: string(LevelErrorsOnly)})
	ch := &recordingChannel{}
	mn.AddChannel(ch)

	ok := &models.ExecutionResult{Success: true, State: models.StateDone, Strategy: models.StrategyShortStraddle}
	aborted := &models.ExecutionResult{State: models.StateAborted, Error: "no matching strike"}

	_ = mn.SendExecution(context.Background(), ok)
	_ = mn.SendExecution(context.Background(), aborted)

	if len(ch.sent) != 1 || ch.sent[0].Type != NotificationError {
		t.Fatalf("sent = %+v, want only the aborted run", ch.sent)
	}
	if !strings.Contains(ch.sent[0].Message, "no matching strike") {
		t.Errorf("message = %q", ch.sent[0].Message)
	}
}

func TestSquareOffMessage(t *testing.T) {
	mn := NewMultiNotifier(&config.NotificationConfig{})
	ch := &recordingChannel{}
	mn.AddChannel(ch)

	report := &models.SquareOffReport{
		Owner:           "default",
		ClosedPositions: []models.SquareOffAction{{Symbol: "A"}, {Symbol: "B"}},
		Failures:        []models.SquareOffAction{{Symbol: "C", Error: "rejected"}},
		Summary:         &models.DaySummary{TotalPnL: 1250.5},
	}
	if err := mn.SendSquareOff(context.Background(), report); err != nil {
		t.Fatalf("SendSquareOff: %v", err)
	}

	n := ch.sent[0]
	if n.Type != NotificationError {
		t.Errorf("partial square-off should be an error notification, got %s", n.Type)
	}
	if !strings.Contains(n.Message, "+₹1,250.50") || !strings.Contains(n.Message, "C: rejected") {
		t.Errorf("message = %q", n.Message)
	}
}

func TestWebhookPostsJSON(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhookNotifier(config.WebhookConfig{Enabled: true, URL: srv.URL})
	err := w.Send(context.Background(), Notification{Type: NotificationInfo, Title: "hello", Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got["title"] != "hello" || got["type"] != "info" {
		t.Fatalf("payload = %+v", got)
	}
}

func TestTelegramEscapesHTML(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/bottoken/sendMessage") {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	tg := NewTelegramNotifier(config.TelegramConfig{Enabled: true, BotToken: "token", ChatID: "42"})
	tg.baseURL = srv.URL

	if err := tg.Send(context.Background(), Notification{Title: "P&L <today>"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if text, _ := got["text"].(string); !strings.Contains(text, "P&amp;L &lt;today&gt;") {
		t.Fatalf("text = %q", text)
	}
}

func TestDisabledConfigHasNoChannels(t *testing.T) {
	mn := NewMultiNotifier(&config.NotificationConfig{
		Enabled: false,
		Webhook: config.WebhookConfig{Enabled: true, URL: "http://example.invalid"},
	})
	if len(mn.channels) != 0 {
		t.Fatalf("channels = %d, want 0 when notifications are disabled", len(mn.channels))
	}
}
