package checker

import (
	"context"
	"fmt"
	"time"

	"TrendSentinel/internal/calculator"
	"TrendSentinel/internal/calendar"
	"TrendSentinel/internal/model"
	"TrendSentinel/internal/trendline"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// Registration asks for one line per angle from a shared anchor.
type Registration struct {
	Symbol     string          `json:"symbol" validate:"required"`
	SecurityID string          `json:"security_id" validate:"required"`
	AnchorDate time.Time       `json:"anchor_date" validate:"required"`
	Angles     []float64       `json:"angles" validate:"required,min=1,dive,gte=-89.99,lte=89.99"`
	Ratio      decimal.Decimal `json:"ratio"`
	PriceField string          `json:"price_field" validate:"omitempty,oneof=open high low close"`
}

// Registered is the outcome for one angle.
type Registered struct {
	Line    model.TrendLineSpec
	Created bool
}

// RegisterLines builds and stores one line per angle. A line that already
// exists for the same symbol, anchor date, angle and ratio is returned as is.
func (c *Checker) RegisterLines(ctx context.Context, req Registration) ([]Registered, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid registration: %w", err)
	}
	if req.PriceField == "" {
		req.PriceField = "low"
	}

	history, err := c.newCache().History(ctx, req.SecurityID)
	if err != nil {
		return nil, err
	}

	out := make([]Registered, 0, len(req.Angles))
	for _, angle := range req.Angles {
		m, err := trendline.New(history, c.opts.Calendar, trendline.Params{
			Anchor:          req.AnchorDate,
			Angle:           angle,
			Ratio:           req.Ratio,
			PriceField:      req.PriceField,
			ForwardSessions: c.opts.ForwardSessions,
		})
		if err != nil {
			return out, fmt.Errorf("angle %v: %w", angle, err)
		}
		spec := model.TrendLineSpec{
			Symbol:      req.Symbol,
			SecurityID:  req.SecurityID,
			AnchorDate:  req.AnchorDate,
			AnchorPrice: m.AnchorPrice(),
			Angle:       angle,
			Ratio:       req.Ratio,
			PriceField:  req.PriceField,
			Points:      m.Points(),
		}
		if err := validate.Struct(spec); err != nil {
			return out, fmt.Errorf("angle %v: %w", angle, err)
		}
		id, created, err := c.store.SaveLine(ctx, &spec)
		if err != nil {
			return out, fmt.Errorf("save line: %w", err)
		}
		stored, err := c.store.GetLine(ctx, id)
		if err != nil {
			return out, err
		}
		log.Info().Int64("line_id", id).Str("symbol", req.Symbol).Float64("angle", angle).
			Bool("created", created).Msg("trend line registered")
		out = append(out, Registered{Line: *stored, Created: created})
	}
	return out, nil
}

// LineStates maps each line to the furthest state of its checks.
func (c *Checker) LineStates(ctx context.Context) ([]model.TrendLineSpec, map[int64]model.LineState, error) {
	lines, err := c.store.ListLines(ctx)
	if err != nil {
		return nil, nil, err
	}
	states := make(map[int64]model.LineState, len(lines))
	for _, l := range lines {
		checks, err := c.store.ListChecks(ctx, l.ID)
		if err != nil {
			return nil, nil, err
		}
		for _, chk := range checks {
			if s := chk.State(); s > states[l.ID] {
				states[l.ID] = s
			}
		}
	}
	return lines, states, nil
}

// UpdatePercentDiffs caches, per line, how far the last close within the
// last few days sits from the line price on that day.
func (c *Checker) UpdatePercentDiffs(ctx context.Context, now time.Time) (*model.SweepReport, error) {
	rep := c.begin(model.SweepPercentDiff)
	defer c.finish(ctx, rep)

	lines, err := c.store.ListLines(ctx)
	if err != nil {
		return rep, fmt.Errorf("list lines: %w", err)
	}
	today := c.Session(now)
	cutoff := today.AddDate(0, 0, -c.opts.PercentDiffDays)
	cache := c.newCache()

	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		updated, err := c.updatePercentDiff(ctx, cache, line, cutoff)
		tally(rep, updated, err, line.ID, "percent_diff")
	}
	return rep, nil
}

func (c *Checker) updatePercentDiff(ctx context.Context, cache *sweepCache, line model.TrendLineSpec, cutoff time.Time) (bool, error) {
	history, err := cache.History(ctx, line.SecurityID)
	if err != nil {
		return false, err
	}
	last, _ := history.Last()
	day := calendar.Day(last.Time)
	if day.Before(cutoff) {
		return false, fmt.Errorf("%w: last close %s older than %s", errNoBar,
			day.Format(model.DateLayout), cutoff.Format(model.DateLayout))
	}
	linePrice, ok := line.PointOn(day)
	if !ok {
		return false, nil
	}
	pct, err := calculator.PercentDifference(last.Close, linePrice)
	if err != nil {
		return false, err
	}
	if err := c.store.SetPercentDiff(ctx, line.ID, pct, day); err != nil {
		return false, err
	}
	return true, nil
}
