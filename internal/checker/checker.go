// Package checker runs the periodic sweeps that move trend-line setups
// through PENDING, TOUCHED, CROSSED_EMA, PURCHASED and SOLD.
package checker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TrendSentinel/internal/calendar"
	"TrendSentinel/internal/collector"
	"TrendSentinel/internal/model"
	"TrendSentinel/internal/recorder"
	"TrendSentinel/internal/touch"
	"TrendSentinel/internal/trendline"

	"github.com/rs/zerolog/log"
)

// ErrConfigMissing means the vibration point is unset; the touch sweep
// evaluates nothing rather than assume zero tolerance.
var ErrConfigMissing = errors.New("vibration point not configured")

// errNoBar is a per-item skip: the data source had no bar for the session.
var errNoBar = errors.New("no bar for session")

var errOutOfOrder = errors.New("check state out of order")

// MarketData is the bar source used by the sweeps. *collector.Collector satisfies it.
type MarketData interface {
	History(ctx context.Context, securityID string) (model.BarSeries, error)
	Intraday(ctx context.Context, securityID string, start, end time.Time, intervalMinutes int) (model.BarSeries, error)
}

// Notifier is the fire-and-forget notification sink.
type Notifier interface {
	Notify(ctx context.Context, subject, body string, recipients ...string)
}

// OrderSink receives order intents. It never places orders itself.
type OrderSink interface {
	Submit(ctx context.Context, intent model.OrderIntent) (model.OrderIntent, error)
}

// Options tune the sweeps. Zero values fall back to the defaults in withDefaults.
type Options struct {
	Location        *time.Location
	Calendar        *calendar.Calendar
	SessionOpen     time.Duration // offset from midnight, market time
	SessionClose    time.Duration
	IntervalMinutes int
	LookbackDays    int
	ForwardSessions int
	Window          int
	TouchMode       touch.Mode
	// Quantity is the fixed lot put on order intents; 0 leaves sizing downstream.
	Quantity        int64
	Recipients      []string
	PercentDiffDays int
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Calendar == nil {
		o.Calendar = calendar.New()
	}
	if o.SessionOpen == 0 {
		o.SessionOpen = 9*time.Hour + 15*time.Minute
	}
	if o.SessionClose == 0 {
		o.SessionClose = 15*time.Hour + 30*time.Minute
	}
	if o.IntervalMinutes == 0 {
		o.IntervalMinutes = 15
	}
	if o.LookbackDays == 0 {
		o.LookbackDays = 90
	}
	if o.Window == 0 {
		o.Window = touch.DefaultWindow
	}
	if o.TouchMode == "" {
		o.TouchMode = touch.ModeIntersection
	}
	if o.PercentDiffDays == 0 {
		o.PercentDiffDays = 5
	}
	return o
}

// Checker owns the sweeps. Every sweep reads runtime settings fresh from the store.
type Checker struct {
	store  recorder.Recorder
	market MarketData
	notify Notifier
	orders OrderSink
	opts   Options
	rule   touch.Rule
	eval   touch.Evaluator
}

func New(store recorder.Recorder, market MarketData, notify Notifier, orders OrderSink, opts Options) *Checker {
	opts = opts.withDefaults()
	return &Checker{
		store:  store,
		market: market,
		notify: notify,
		orders: orders,
		opts:   opts,
		rule:   touch.Rule{Window: opts.Window, Calendar: opts.Calendar},
		eval:   touch.Evaluator{Mode: opts.TouchMode},
	}
}

// Session returns the evaluation date for an instant, in market time.
func (c *Checker) Session(now time.Time) time.Time {
	return calendar.Day(now.In(c.opts.Location))
}

// sessionBounds returns the open and close instants of a session date.
func (c *Checker) sessionBounds(date time.Time) (time.Time, time.Time) {
	y, m, d := date.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, c.opts.Location)
	return midnight.Add(c.opts.SessionOpen), midnight.Add(c.opts.SessionClose)
}

// sweepCache shares daily history between lines of the same security within one sweep.
type sweepCache struct {
	market  MarketData
	history map[string]model.BarSeries
}

func (c *Checker) newCache() *sweepCache {
	return &sweepCache{market: c.market, history: make(map[string]model.BarSeries)}
}

func (s *sweepCache) History(ctx context.Context, securityID string) (model.BarSeries, error) {
	if h, ok := s.history[securityID]; ok {
		return h, nil
	}
	h, err := s.market.History(ctx, securityID)
	if err != nil {
		return model.BarSeries{}, err
	}
	if h.Empty() {
		return model.BarSeries{}, fmt.Errorf("%w: empty history for %s", collector.ErrDataUnavailable, securityID)
	}
	s.history[securityID] = h
	return h, nil
}

// sessionBars returns the intraday bars of a session; an empty series is not an error.
func (c *Checker) sessionBars(ctx context.Context, securityID string, date time.Time) (model.BarSeries, error) {
	start, end := c.sessionBounds(date)
	return c.market.Intraday(ctx, securityID, start, end, c.opts.IntervalMinutes)
}

// latestBar returns the last intraday bar of the session, falling back to the
// daily bar when the source has no intraday data for it.
func (c *Checker) latestBar(ctx context.Context, cache *sweepCache, securityID string, date time.Time) (model.Bar, error) {
	intraday, err := c.sessionBars(ctx, securityID, date)
	switch {
	case err == nil:
		if bar, ok := intraday.Last(); ok {
			return bar, nil
		}
	case errors.Is(err, collector.ErrDataUnavailable):
		log.Debug().Err(err).Str("security_id", securityID).Msg("intraday unavailable, using daily bar")
	default:
		return model.Bar{}, err
	}

	daily, err := cache.History(ctx, securityID)
	if err != nil {
		return model.Bar{}, err
	}
	bar, ok := daily.DailyBar(date)
	if !ok {
		return model.Bar{}, fmt.Errorf("%w %s", errNoBar, date.Format(model.DateLayout))
	}
	return bar, nil
}

// skippable errors are input or data problems that only cost one item this cycle.
func skippable(err error) bool {
	return errors.Is(err, collector.ErrDataUnavailable) ||
		errors.Is(err, trendline.ErrAnchorNotFound) ||
		errors.Is(err, trendline.ErrEmptyRange) ||
		errors.Is(err, trendline.ErrInvalidRatio) ||
		errors.Is(err, trendline.ErrInvalidField) ||
		errors.Is(err, errNoBar) ||
		errors.Is(err, errIncomplete) ||
		errors.Is(err, errZeroRisk)
}

// tally folds one item's outcome into the report.
func tally(rep *model.SweepReport, fired bool, err error, lineID int64, what string) {
	rep.Lines++
	switch {
	case err == nil:
		if fired {
			rep.Events++
		}
	case skippable(err):
		rep.Skipped++
		log.Warn().Err(err).Int64("line_id", lineID).Str("sweep", what).Msg("skipped")
	default:
		rep.Failed++
		log.Error().Err(err).Int64("line_id", lineID).Str("sweep", what).Msg("failed")
	}
}

func (c *Checker) begin(kind model.SweepKind) *model.SweepReport {
	return &model.SweepReport{Kind: kind, StartedAt: time.Now()}
}

// finish stamps, logs and persists a report.
func (c *Checker) finish(ctx context.Context, rep *model.SweepReport) {
	rep.FinishedAt = time.Now()
	log.Info().
		Str("sweep", string(rep.Kind)).
		Int("lines", rep.Lines).
		Int("events", rep.Events).
		Int("skipped", rep.Skipped).
		Int("failed", rep.Failed).
		Dur("took", rep.FinishedAt.Sub(rep.StartedAt)).
		Str("note", rep.Note).
		Msg("sweep finished")
	if err := c.store.RecordSweep(ctx, rep); err != nil {
		log.Error().Err(err).Str("sweep", string(rep.Kind)).Msg("record sweep")
	}
}

func (c *Checker) send(ctx context.Context, subject, body string) {
	if c.notify == nil {
		return
	}
	c.notify.Notify(ctx, subject, body, c.opts.Recipients...)
}

// advance returns chk moved to the given state, which must directly follow its current one.
func advance(chk model.CheckRecord, to model.LineState) (model.CheckRecord, error) {
	from := chk.State()
	if !chk.Advance(to) {
		return chk, fmt.Errorf("%w: check %d is %s, cannot become %s", errOutOfOrder, chk.ID, from, to)
	}
	return chk, nil
}
