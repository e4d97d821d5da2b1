package checker

import (
	"context"
	"fmt"
	"time"

	"TrendSentinel/internal/model"
	"TrendSentinel/internal/notifier"
	"TrendSentinel/internal/touch"
	"TrendSentinel/internal/trendline"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// CheckTouches evaluates every untouched line against the latest bar of the
// session containing now. It returns ErrConfigMissing, having evaluated
// nothing, when no vibration point is configured.
func (c *Checker) CheckTouches(ctx context.Context, now time.Time) (*model.SweepReport, error) {
	rep := c.begin(model.SweepTouch)
	defer c.finish(ctx, rep)

	vp, err := c.store.VibrationPoint(ctx)
	if err != nil {
		return rep, fmt.Errorf("read vibration point: %w", err)
	}
	if !vp.Valid {
		rep.Note = ErrConfigMissing.Error()
		return rep, ErrConfigMissing
	}
	fraction := touch.FractionFromPercent(vp.Decimal)

	date := c.Session(now)
	if !c.opts.Calendar.IsSession(date) {
		rep.Note = "not a trading session: " + date.Format(model.DateLayout)
		return rep, nil
	}

	lines, err := c.store.LinesToCheck(ctx, date)
	if err != nil {
		return rep, fmt.Errorf("list lines: %w", err)
	}

	cache := c.newCache()
	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		touched, err := c.checkLine(ctx, cache, line, date, fraction)
		tally(rep, touched, err, line.ID, "touch")
	}
	return rep, nil
}

// checkLine recomputes the line, tests the session's latest bar against its
// band and, when the prior sessions confirm, records the touch.
func (c *Checker) checkLine(ctx context.Context, cache *sweepCache, line model.TrendLineSpec, date time.Time, fraction decimal.Decimal) (bool, error) {
	daily, err := cache.History(ctx, line.SecurityID)
	if err != nil {
		return false, err
	}
	m, err := trendline.New(daily, c.opts.Calendar, trendline.Params{
		Anchor:          line.AnchorDate,
		Angle:           line.Angle,
		Ratio:           line.Ratio,
		PriceField:      line.PriceField,
		ForwardSessions: c.opts.ForwardSessions,
	})
	if err != nil {
		return false, err
	}
	points := m.Points()
	if err := c.store.ReplacePoints(ctx, line.ID, points); err != nil {
		return false, fmt.Errorf("replace points: %w", err)
	}

	linePrice, ok := model.PointOn(points, date)
	if !ok {
		log.Debug().Int64("line_id", line.ID).Str("date", date.Format(model.DateLayout)).Msg("no line point for session")
		return false, nil
	}

	bar, err := c.latestBar(ctx, cache, line.SecurityID, date)
	if err != nil {
		return false, err
	}
	band := touch.Bounds(linePrice, fraction)
	if !c.eval.Touched(bar, band) {
		return false, nil
	}

	verdict := c.rule.Confirm(date, daily, points, fraction)
	if !verdict.Confirmed {
		log.Info().
			Int64("line_id", line.ID).
			Str("symbol", line.Symbol).
			Str("failed_on", verdict.FailedOn.Format(model.DateLayout)).
			Str("reason", verdict.Reason).
			Msg("touch not confirmed")
		return false, nil
	}

	next, err := advance(model.CheckRecord{
		LineID:      line.ID,
		Date:        date,
		LinePrice:   linePrice,
		ActualPrice: decimal.NewNullDecimal(bar.Low),
	}, model.StateTouched)
	if err != nil {
		return false, err
	}
	rec, err := c.store.UpsertCheck(ctx, next)
	if err != nil {
		return false, fmt.Errorf("upsert check: %w", err)
	}

	ev := model.TouchEvent{
		ID:        uuid.NewString(),
		LineID:    line.ID,
		Symbol:    line.Symbol,
		Date:      date,
		LinePrice: linePrice,
		Lower:     band.Lower,
		Upper:     band.Upper,
		Low:       bar.Low,
		High:      bar.High,
	}
	log.Info().Str("event_id", ev.ID).Int64("line_id", line.ID).Int64("check_id", rec.ID).
		Str("symbol", line.Symbol).Str("line_price", linePrice.String()).Msg("trend line touched")
	subject, body := notifier.FormatTouch(ev)
	c.send(ctx, subject, body)
	return true, nil
}
