package checker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TrendSentinel/internal/crossover"
	"TrendSentinel/internal/model"
	"TrendSentinel/internal/notifier"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ErrAlreadyCrossed is returned when resetting the latch of a check whose
// crossover is already recorded; recorded flags never go back.
var ErrAlreadyCrossed = errors.New("crossover already recorded")

// CheckCrossovers feeds the session's intraday bars into the latches of every
// touched check that has not crossed yet. Span pairs are read fresh and tried
// in their configured order; the first pair that crosses wins.
func (c *Checker) CheckCrossovers(ctx context.Context, now time.Time) (*model.SweepReport, error) {
	rep := c.begin(model.SweepCrossover)
	defer c.finish(ctx, rep)

	pairs, err := c.store.SpanPairs(ctx)
	if err != nil {
		return rep, fmt.Errorf("read span pairs: %w", err)
	}
	if len(pairs) == 0 {
		rep.Note = "no span pairs configured"
		return rep, nil
	}

	date := c.Session(now)
	if !c.opts.Calendar.IsSession(date) {
		rep.Note = "not a trading session: " + date.Format(model.DateLayout)
		return rep, nil
	}

	checks, err := c.store.ChecksInState(ctx, model.StateTouched)
	if err != nil {
		return rep, fmt.Errorf("list touched checks: %w", err)
	}
	for _, chk := range checks {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		crossed, err := c.checkCrossover(ctx, chk, date, pairs)
		tally(rep, crossed, err, chk.LineID, "crossover")
	}
	return rep, nil
}

func (c *Checker) checkCrossover(ctx context.Context, chk model.CheckRecord, date time.Time, pairs []model.SpanPair) (bool, error) {
	line, err := c.store.GetLine(ctx, chk.LineID)
	if err != nil {
		return false, fmt.Errorf("get line: %w", err)
	}

	start, _ := c.sessionBounds(chk.Date.AddDate(0, 0, -c.opts.LookbackDays))
	_, end := c.sessionBounds(date)
	series, err := c.market.Intraday(ctx, line.SecurityID, start, end, c.opts.IntervalMinutes)
	if err != nil {
		return false, err
	}

	states, err := c.store.CrossStates(ctx, chk.ID)
	if err != nil {
		return false, fmt.Errorf("read crossover states: %w", err)
	}
	res, err := crossover.Evaluate(series, date, chk.ID, pairs, states)
	if errors.Is(err, crossover.ErrInsufficientBars) {
		return false, fmt.Errorf("%w: %w", errNoBar, err)
	}
	if err != nil {
		return false, err
	}
	if err := c.store.SaveCrossStates(ctx, res.States); err != nil {
		return false, fmt.Errorf("save crossover states: %w", err)
	}
	if res.Event == nil {
		return false, nil
	}

	ev := res.Event
	next, err := advance(chk, model.StateCrossed)
	if err != nil {
		return false, err
	}
	next.BuyAboveHigh = decimal.NewNullDecimal(ev.High)
	if _, err := c.store.UpsertCheck(ctx, next); err != nil {
		return false, fmt.Errorf("upsert check: %w", err)
	}

	log.Info().Str("event_id", ev.ID).Int64("check_id", chk.ID).Str("symbol", line.Symbol).
		Int("fast", ev.Pair.Fast).Int("slow", ev.Pair.Slow).Str("high", ev.High.String()).
		Msg("crossover recorded")
	subject, body := notifier.FormatCrossover(line.Symbol, *ev)
	c.send(ctx, subject, body)
	return true, nil
}

// ResetCrossover re-opens the latches of a check that has not crossed yet.
func (c *Checker) ResetCrossover(ctx context.Context, checkID int64) error {
	chk, err := c.store.GetCheck(ctx, checkID)
	if err != nil {
		return err
	}
	if chk.Crossed {
		return ErrAlreadyCrossed
	}
	if err := c.store.ResetCrossStates(ctx, checkID); err != nil {
		return fmt.Errorf("reset crossover states: %w", err)
	}
	log.Info().Int64("check_id", checkID).Msg("crossover latches reset")
	return nil
}
