package squareoff

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/Hari-sh-S/options-algo/internal/config"
	"github.com/Hari-sh-S/options-algo/pkg/utils"
)

// installSpec runs at 09:00 IST on weekdays, before the market opens.
const installSpec = "0 0 9 * * MON-FRI"

// Daily installs each weekday's square-off for every owner that has none.
type Daily struct {
	timer   *Timer
	owners  []string
	hour    int
	minute  int
	second  int
	cron    *cron.Cron
	baseCtx context.Context
	logger  zerolog.Logger
}

// NewDaily creates the installer for dailyAt (HH:MM[:SS], IST).
func NewDaily(baseCtx context.Context, timer *Timer, owners []string, dailyAt string, logger zerolog.Logger) (*Daily, error) {
	h, m, s, err := config.ParseClock(dailyAt)
	if err != nil {
		return nil, fmt.Errorf("invalid daily square-off time: %w", err)
	}
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	d := &Daily{
		timer:   timer,
		owners:  owners,
		hour:    h,
		minute:  m,
		second:  s,
		cron:    cron.New(cron.WithSeconds(), cron.WithLocation(utils.IndiaLocation)),
		baseCtx: baseCtx,
		logger:  logger.With().Str("component", "squareoff_daily").Logger(),
	}
	if _, err := d.cron.AddFunc(installSpec, func() { d.Install(d.baseCtx) }); err != nil {
		return nil, err
	}
	return d, nil
}

// Start installs today's schedules if still ahead and starts the cron.
func (d *Daily) Start() {
	d.Install(d.baseCtx)
	d.cron.Start()
	d.logger.Info().Str("at", fmt.Sprintf("%02d:%02d:%02d", d.hour, d.minute, d.second)).Msg("Daily square-off enabled")
}

// Stop stops the cron and waits for a running install.
func (d *Daily) Stop() {
	ctx := d.cron.Stop()
	<-ctx.Done()
}

// Install arms today's square-off for owners without one. Weekends and
// times already past are skipped.
func (d *Daily) Install(ctx context.Context) int {
	now := d.timer.now().In(utils.IndiaLocation)
	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return 0
	}
	at := time.Date(now.Year(), now.Month(), now.Day(), d.hour, d.minute, d.second, 0, utils.IndiaLocation)
	if !at.After(now) {
		return 0
	}

	installed := 0
	for _, owner := range d.owners {
		if d.timer.Get(owner) != nil {
			continue
		}
		if _, err := d.timer.Set(ctx, owner, at); err != nil {
			d.logger.Error().Err(err).Str("owner", owner).Msg("Failed to install daily square-off")
			continue
		}
		installed++
	}
	return installed
}
