package main

import (
	"context"
	"fmt"
	"path/filepath"

	"TrendSentinel/internal/config"
	"TrendSentinel/internal/recorder"

	"github.com/rs/zerolog/log"
)

// seedSettings writes configured runtime settings only where the store has none.
func seedSettings(ctx context.Context, cfg *config.Config, store recorder.SettingsStore) error {
	seed, err := cfg.SeedVibration()
	if err != nil {
		return err
	}
	current, err := store.VibrationPoint(ctx)
	if err != nil {
		return fmt.Errorf("read vibration point: %w", err)
	}
	if !current.Valid && seed.Valid {
		if err := store.SetVibrationPoint(ctx, seed.Decimal); err != nil {
			return fmt.Errorf("seed vibration point: %w", err)
		}
		log.Info().Str("value", seed.Decimal.String()).Msg("vibration point seeded")
	}

	pairs, err := store.SpanPairs(ctx)
	if err != nil {
		return fmt.Errorf("read span pairs: %w", err)
	}
	if len(pairs) == 0 && len(cfg.Seed.SpanPairs) > 0 {
		if err := store.SetSpanPairs(ctx, cfg.Seed.SpanPairs); err != nil {
			return fmt.Errorf("seed span pairs: %w", err)
		}
		log.Info().Int("pairs", len(cfg.Seed.SpanPairs)).Msg("span pairs seeded")
	}
	return nil
}

func dirOf(path string) string {
	if dir := filepath.Dir(path); dir != "" {
		return dir
	}
	return "."
}
