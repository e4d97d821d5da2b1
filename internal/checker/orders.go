package checker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TrendSentinel/internal/calculator"
	"TrendSentinel/internal/collector"
	"TrendSentinel/internal/model"
	"TrendSentinel/internal/notifier"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var (
	errIncomplete = errors.New("check record incomplete")
	errZeroRisk   = errors.New("zero risk per unit")
)

// CheckBreakouts looks for a session bar whose high clears the recorded
// buy-above price of each crossed check, then records the purchase and
// queues a BUY intent with the touch-day low as stop.
func (c *Checker) CheckBreakouts(ctx context.Context, now time.Time) (*model.SweepReport, error) {
	rep := c.begin(model.SweepBreakout)
	defer c.finish(ctx, rep)

	date := c.Session(now)
	if !c.opts.Calendar.IsSession(date) {
		rep.Note = "not a trading session: " + date.Format(model.DateLayout)
		return rep, nil
	}
	checks, err := c.store.ChecksInState(ctx, model.StateCrossed)
	if err != nil {
		return rep, fmt.Errorf("list crossed checks: %w", err)
	}

	cache := c.newCache()
	for _, chk := range checks {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		bought, err := c.checkBreakout(ctx, cache, chk, date)
		tally(rep, bought, err, chk.LineID, "breakout")
	}
	return rep, nil
}

func (c *Checker) checkBreakout(ctx context.Context, cache *sweepCache, chk model.CheckRecord, date time.Time) (bool, error) {
	if !chk.BuyAboveHigh.Valid {
		return false, fmt.Errorf("%w: check %d has no buy-above price", errIncomplete, chk.ID)
	}
	buyAbove := chk.BuyAboveHigh.Decimal

	line, err := c.store.GetLine(ctx, chk.LineID)
	if err != nil {
		return false, fmt.Errorf("get line: %w", err)
	}
	bar, err := c.latestBar(ctx, cache, line.SecurityID, date)
	if err != nil {
		return false, err
	}
	if !bar.High.GreaterThan(buyAbove) {
		return false, nil
	}

	touchLow, err := c.touchDayLow(ctx, cache, line.SecurityID, chk.Date)
	if err != nil {
		return false, err
	}
	risk := buyAbove.Sub(touchLow).Abs()
	if risk.IsZero() {
		return false, fmt.Errorf("%w: check %d", errZeroRisk, chk.ID)
	}

	next, err := advance(chk, model.StatePurchased)
	if err != nil {
		return false, err
	}
	next.StopLossPrice = decimal.NewNullDecimal(touchLow)
	next.Quantity = c.opts.Quantity
	rec, err := c.store.UpsertCheck(ctx, next)
	if err != nil {
		return false, fmt.Errorf("upsert check: %w", err)
	}

	intent := model.OrderIntent{
		CheckID:      rec.ID,
		Symbol:       line.Symbol,
		SecurityID:   line.SecurityID,
		Side:         model.SideBuy,
		TriggerPrice: buyAbove,
		StopPrice:    touchLow,
		RiskPerUnit:  risk,
		Quantity:     rec.Quantity,
	}
	return true, c.emit(ctx, intent)
}

// touchDayLow is the lowest price of the touch session, from intraday bars
// when available and from the daily bar otherwise.
func (c *Checker) touchDayLow(ctx context.Context, cache *sweepCache, securityID string, date time.Time) (decimal.Decimal, error) {
	intraday, err := c.sessionBars(ctx, securityID, date)
	if err != nil && !errors.Is(err, collector.ErrDataUnavailable) {
		return decimal.Zero, err
	}
	if err == nil && !intraday.Empty() {
		_, low, err := calculator.DayRange(intraday)
		return low, err
	}
	daily, err := cache.History(ctx, securityID)
	if err != nil {
		return decimal.Zero, err
	}
	bar, ok := daily.DailyBar(date)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w %s", errNoBar, date.Format(model.DateLayout))
	}
	return bar.Low, nil
}

// CheckStopLosses closes every purchased check whose session low reached the
// recorded stop and queues a SELL intent for the recorded quantity.
func (c *Checker) CheckStopLosses(ctx context.Context, now time.Time) (*model.SweepReport, error) {
	rep := c.begin(model.SweepStopLoss)
	defer c.finish(ctx, rep)

	date := c.Session(now)
	if !c.opts.Calendar.IsSession(date) {
		rep.Note = "not a trading session: " + date.Format(model.DateLayout)
		return rep, nil
	}
	checks, err := c.store.ChecksInState(ctx, model.StatePurchased)
	if err != nil {
		return rep, fmt.Errorf("list purchased checks: %w", err)
	}

	cache := c.newCache()
	for _, chk := range checks {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		sold, err := c.checkStopLoss(ctx, cache, chk, date)
		tally(rep, sold, err, chk.LineID, "stop_loss")
	}
	return rep, nil
}

func (c *Checker) checkStopLoss(ctx context.Context, cache *sweepCache, chk model.CheckRecord, date time.Time) (bool, error) {
	if !chk.StopLossPrice.Valid {
		return false, fmt.Errorf("%w: check %d has no stop loss", errIncomplete, chk.ID)
	}
	stop := chk.StopLossPrice.Decimal

	line, err := c.store.GetLine(ctx, chk.LineID)
	if err != nil {
		return false, fmt.Errorf("get line: %w", err)
	}
	bar, err := c.latestBar(ctx, cache, line.SecurityID, date)
	if err != nil {
		return false, err
	}
	if bar.Low.GreaterThan(stop) {
		return false, nil
	}

	next, err := advance(chk, model.StateSold)
	if err != nil {
		return false, err
	}
	rec, err := c.store.UpsertCheck(ctx, next)
	if err != nil {
		return false, fmt.Errorf("upsert check: %w", err)
	}

	return true, c.emit(ctx, model.OrderIntent{
		CheckID:      rec.ID,
		Symbol:       line.Symbol,
		SecurityID:   line.SecurityID,
		Side:         model.SideSell,
		TriggerPrice: stop,
		StopPrice:    stop,
		Quantity:     rec.Quantity,
	})
}

// emit hands an intent to the order sink and notifies. The state change is
// already recorded, so a sink failure is reported but not retried.
func (c *Checker) emit(ctx context.Context, intent model.OrderIntent) error {
	if c.orders != nil {
		queued, err := c.orders.Submit(ctx, intent)
		if err != nil {
			return fmt.Errorf("submit %s intent for check %d: %w", intent.Side, intent.CheckID, err)
		}
		intent = queued
	}
	log.Info().Str("side", string(intent.Side)).Int64("check_id", intent.CheckID).
		Str("symbol", intent.Symbol).Str("trigger", intent.TriggerPrice.String()).Msg("order intent emitted")
	subject, body := notifier.FormatOrderIntent(intent)
	c.send(ctx, subject, body)
	return nil
}
