package main

import (
	"fmt"
	"time"

	"TrendSentinel/internal/checker"
	"TrendSentinel/internal/config"
	"TrendSentinel/internal/scheduler"
	"TrendSentinel/internal/touch"
)

// buildOptions turns the market section of cfg into checker options and the
// scheduler's trading hours.
func buildOptions(cfg *config.Config) (checker.Options, scheduler.Hours, error) {
	loc, err := cfg.Location()
	if err != nil {
		return checker.Options{}, scheduler.Hours{}, err
	}
	cal, err := cfg.Calendar()
	if err != nil {
		return checker.Options{}, scheduler.Hours{}, err
	}
	mode, err := touch.ParseMode(cfg.Touch.Mode)
	if err != nil {
		return checker.Options{}, scheduler.Hours{}, err
	}

	m := cfg.Market
	clocks := []struct {
		name  string
		value string
	}{
		{"trading_start", m.TradingStart},
		{"trading_end", m.TradingEnd},
		{"session_open", m.SessionOpen},
		{"session_close", m.SessionClose},
	}
	parsed := make([]time.Duration, len(clocks))
	for i, c := range clocks {
		if parsed[i], err = config.ParseClock(c.value); err != nil {
			return checker.Options{}, scheduler.Hours{}, fmt.Errorf("market.%s: %w", c.name, err)
		}
	}

	opts := checker.Options{
		Location:        loc,
		Calendar:        cal,
		SessionOpen:     parsed[2],
		SessionClose:    parsed[3],
		IntervalMinutes: m.IntervalMinutes,
		LookbackDays:    m.LookbackDays,
		ForwardSessions: m.ForwardSessions,
		Window:          m.ConfirmationWindow,
		TouchMode:       mode,
		Quantity:        cfg.Outbox.Quantity,
		Recipients:      cfg.Telegram.Recipients,
		PercentDiffDays: m.PercentDiffDays,
	}
	return opts, scheduler.Hours{Start: parsed[0], End: parsed[1]}, nil
}
