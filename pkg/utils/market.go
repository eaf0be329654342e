package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/Hari-sh-S/options-algo/internal/models"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// MarketStatusAt returns the market status at t.
func MarketStatusAt(t time.Time) models.MarketStatus {
	now := t.In(IndiaLocation)

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return models.MarketClosed
	}

	timeMinutes := now.Hour()*60 + now.Minute()

	// Pre-open: 9:00 - 9:15
	if timeMinutes >= 540 && timeMinutes < 555 {
		return models.MarketPreOpen
	}

	// Market open: 9:15 - 15:30
	if timeMinutes >= 555 && timeMinutes < 930 {
		return models.MarketOpen
	}

	return models.MarketClosed
}

// GetMarketStatus returns the current market status.
func GetMarketStatus() models.MarketStatus {
	return MarketStatusAt(time.Now())
}

// IsMarketOpen returns true if the market is currently open.
func IsMarketOpen() bool {
	return GetMarketStatus() == models.MarketOpen
}

// TradingDate returns the IST calendar date of t as yyyy-mm-dd.
func TradingDate(t time.Time) string {
	return t.In(IndiaLocation).Format("2006-01-02")
}

// ResolveExecuteAt turns a user supplied time into an absolute instant.
// "HH:MM" and "HH:MM:SS" mean today in IST, rolled to tomorrow when already
// past; anything else must be RFC 3339.
func ResolveExecuteAt(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("execute_at is required")
	}

	for _, layout := range []string{"15:04:05", "15:04"} {
		clock, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		local := now.In(IndiaLocation)
		at := time.Date(local.Year(), local.Month(), local.Day(),
			clock.Hour(), clock.Minute(), clock.Second(), 0, IndiaLocation)
		if !at.After(local) {
			at = at.AddDate(0, 0, 1)
		}
		return at, nil
	}

	at, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid execute_at %q: want HH:MM[:SS] or RFC 3339", s)
	}
	return at.In(IndiaLocation), nil
}

// NextClockTime returns the next occurrence of hh:mm:ss IST strictly after now.
func NextClockTime(now time.Time, hour, minute, second int) time.Time {
	local := now.In(IndiaLocation)
	at := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, second, 0, IndiaLocation)
	if !at.After(local) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}
