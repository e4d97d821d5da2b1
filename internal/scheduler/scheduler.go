package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"TrendSentinel/internal/calendar"
	"TrendSentinel/internal/checker"
	"TrendSentinel/internal/model"
	"TrendSentinel/internal/notifier"
	"TrendSentinel/internal/recorder"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Hours is the intraday window in which market sweeps may run.
type Hours struct {
	Start time.Duration // offset from midnight, market time
	End   time.Duration
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron     *cron.Cron
	Checker  *checker.Checker
	Recorder recorder.Recorder
	Calendar *calendar.Calendar
	Location *time.Location
	Hours    Hours
	Ctx      context.Context

	now func() time.Time
}

// NewScheduler creates a new Scheduler. Overlapping runs of the same job are skipped.
func NewScheduler(ctx context.Context, chk *checker.Checker, rec recorder.Recorder, cal *calendar.Calendar, loc *time.Location, hours Hours) *Scheduler {
	logger := cronLogger{}
	return &Scheduler{
		Cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		Checker:  chk,
		Recorder: rec,
		Calendar: cal,
		Location: loc,
		Hours:    hours,
		Ctx:      ctx,
		now:      time.Now,
	}
}

// Specs are the cron expressions of each sweep.
type Specs struct {
	Touch       string
	Crossover   string
	Breakout    string
	StopLoss    string
	PercentDiff string
}

// RegisterAll registers every sweep. Market sweeps only do work inside trading hours.
func (s *Scheduler) RegisterAll(specs Specs) error {
	jobs := []struct {
		name  string
		spec  string
		gated bool
		run   func(context.Context, time.Time) (*model.SweepReport, error)
	}{
		{"touch", specs.Touch, true, s.Checker.CheckTouches},
		{"crossover", specs.Crossover, true, s.Checker.CheckCrossovers},
		{"breakout", specs.Breakout, true, s.Checker.CheckBreakouts},
		{"stop loss", specs.StopLoss, true, s.Checker.CheckStopLosses},
		{"percent diff", specs.PercentDiff, false, s.Checker.UpdatePercentDiffs},
	}
	for _, j := range jobs {
		j := j
		if _, err := s.Cron.AddFunc(j.spec, func() { s.runSweep(j.name, j.gated, j.run) }); err != nil {
			return fmt.Errorf("register %s task: %w", j.name, err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Info().Int("jobs", len(s.Cron.Entries())).Msg("scheduler started")
}

// Stop stops the cron scheduler and waits for running sweeps.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Info().Msg("scheduler stopped")
}

// InTradingHours reports whether t falls on a session inside the trading window.
func (s *Scheduler) InTradingHours(t time.Time) bool {
	local := t.In(s.Location)
	if !s.Calendar.IsSession(calendar.Day(local)) {
		return false
	}
	y, m, d := local.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, s.Location)
	since := local.Sub(midnight)
	return since >= s.Hours.Start && since <= s.Hours.End
}

// RunAllNow runs every sweep once, ignoring the trading-hours gate.
func (s *Scheduler) RunAllNow() {
	s.runSweep("touch", false, s.Checker.CheckTouches)
	s.runSweep("crossover", false, s.Checker.CheckCrossovers)
	s.runSweep("breakout", false, s.Checker.CheckBreakouts)
	s.runSweep("stop loss", false, s.Checker.CheckStopLosses)
	s.runSweep("percent diff", false, s.Checker.UpdatePercentDiffs)
}

func (s *Scheduler) runSweep(name string, gated bool, run func(context.Context, time.Time) (*model.SweepReport, error)) bool {
	now := s.now()
	if gated && !s.InTradingHours(now) {
		log.Debug().Str("task", name).Time("now", now).Msg("outside trading hours, skipped")
		return false
	}
	log.Info().Str("task", name).Msg("running sweep")
	if _, err := run(s.Ctx, now); err != nil {
		if errors.Is(err, checker.ErrConfigMissing) {
			log.Warn().Err(err).Str("task", name).Msg("sweep skipped")
		} else {
			log.Error().Err(err).Str("task", name).Msg("sweep aborted")
		}
	}
	return true
}

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	var cmd string
	if f := strings.Fields(command); len(f) > 0 {
		cmd, _, _ = strings.Cut(f[0], "@")
	}
	switch cmd {
	case "/status":
		sweeps, err := s.Recorder.LastSweeps(ctx)
		if err != nil {
			log.Error().Err(err).Msg("read sweeps")
			return "❌ could not read sweep status"
		}
		return notifier.FormatStatus(sweeps)
	case "/lines":
		lines, states, err := s.Checker.LineStates(ctx)
		if err != nil {
			log.Error().Err(err).Msg("read lines")
			return "❌ could not read trend lines"
		}
		return notifier.FormatLines(lines, states)
	case "/vibration":
		v, err := s.Recorder.VibrationPoint(ctx)
		if err != nil {
			log.Error().Err(err).Msg("read vibration point")
			return "❌ could not read vibration point"
		}
		return notifier.FormatVibration(v)
	default:
		return "Commands:\n• /status\n• /lines\n• /vibration"
	}
}

// cronLogger routes cron's own messages through zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
