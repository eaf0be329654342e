package broker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	apperrors "github.com/Hari-sh-S/options-algo/internal/errors"
	"github.com/Hari-sh-S/options-algo/internal/models"
)

func TestMapKiteError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"input", kiteconnect.Error{ErrorType: "InputException", Message: "invalid quantity"}, apperrors.ErrOrderRejected},
		{"margin", kiteconnect.Error{ErrorType: "MarginException", Message: "insufficient funds"}, apperrors.ErrOrderRejected},
		{"token", kiteconnect.Error{ErrorType: "TokenException", Message: "expired"}, apperrors.ErrNotAuthenticated},
		{"network", kiteconnect.Error{ErrorType: "NetworkException", Message: "gateway timeout"}, apperrors.ErrBrokerUnavailable},
		{"transport", errors.New("connection reset"), apperrors.ErrBrokerUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapKiteError(tt.err); !errors.Is(got, tt.want) {
				t.Errorf("mapKiteError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestZerodhaRequiresToken(t *testing.T) {
	zg := NewZerodhaGateway("default", ZerodhaConfig{
		APIKey:    "key",
		TokenPath: filepath.Join(t.TempDir(), "missing.json"),
	})
	if zg.IsAuthenticated() {
		t.Fatalf("gateway without token or session should not be authenticated")
	}

	_, err := zg.GetSpotPrice(context.Background(), models.NIFTY)
	if !errors.Is(err, apperrors.ErrNotAuthenticated) {
		t.Fatalf("err = %v, want ErrNotAuthenticated", err)
	}
}

func TestZerodhaSessionRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	zg := NewZerodhaGateway("default", ZerodhaConfig{APIKey: "key", TokenPath: path})
	if err := zg.saveSession("token-123"); err != nil {
		t.Fatalf("saveSession: %v", err)
	}

	restored := NewZerodhaGateway("default", ZerodhaConfig{APIKey: "key", TokenPath: path})
	if !restored.IsAuthenticated() {
		t.Fatalf("saved session should authenticate a new gateway")
	}
}
