package cli

import (
	"fmt"
	"time"

	"github.com/Hari-sh-S/options-algo/internal/models"
	"github.com/Hari-sh-S/options-algo/pkg/utils"
)

// FormatPrice formats a premium or trigger price; nil prints as a dash.
func FormatPrice(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *p)
}

// FormatStrike formats a strike without decimals.
func FormatStrike(strike float64) string {
	if strike == 0 {
		return "-"
	}
	return fmt.Sprintf("%.0f", strike)
}

// FormatTime formats a time in IST.
func FormatTime(t time.Time) string {
	return t.In(utils.IndiaLocation).Format("15:04:05")
}

// FormatDateTime formats an instant in IST with its date.
func FormatDateTime(t time.Time) string {
	return t.In(utils.IndiaLocation).Format("02 Jan 2006 15:04:05 IST")
}

// FormatCountdown describes how far away at is from now.
func FormatCountdown(at, now time.Time) string {
	d := at.Sub(now).Round(time.Second)
	if d <= 0 {
		return "due"
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("in %dh%02dm", h, m)
	case m > 0:
		return fmt.Sprintf("in %dm%02ds", m, s)
	default:
		return fmt.Sprintf("in %ds", s)
	}
}

// TruncateString truncates a string to max length with ellipsis.
func TruncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// legRow renders one leg as table cells.
func legRow(o *Output, leg models.Leg) []string {
	return []string{
		string(leg.Side),
		FormatStrike(leg.Strike),
		leg.Symbol,
		fmt.Sprintf("%d", leg.Quantity),
		FormatPrice(leg.Premium),
		FormatPrice(leg.TriggerPrice),
		o.LegStatus(leg.Status),
		leg.BrokerOrderID,
		TruncateString(leg.Message, 40),
	}
}

var legHeaders = []string{"LEG", "STRIKE", "SYMBOL", "QTY", "PREMIUM", "TRIGGER", "STATUS", "ORDER", "MESSAGE"}
