package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"TrendSentinel/internal/api"
	"TrendSentinel/internal/checker"
	"TrendSentinel/internal/collector"
	"TrendSentinel/internal/config"
	"TrendSentinel/internal/notifier"
	"TrendSentinel/internal/outbox"
	"TrendSentinel/internal/recorder"
	"TrendSentinel/internal/scheduler"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var runOnStart = flag.Bool("run-on-start", false, "run every sweep once at startup")

func main() {
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// .env is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("load .env")
	}

	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config validation")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	log.Info().Str("config", cfgPath).Msg("TrendSentinel starting")

	opts, hours, err := buildOptions(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("market options")
	}
	loc := opts.Location

	// Init fetcher
	var fetcher collector.Fetcher
	switch cfg.DataSource.Provider {
	case "yahoo":
		y := collector.NewYahooFetcher(cfg.Proxy, loc)
		if cfg.DataSource.BaseURL != "" {
			y.BaseURL = cfg.DataSource.BaseURL
		}
		fetcher = y
	default:
		fetcher = collector.NewDhanFetcher(cfg.DataSource.BaseURL, cfg.DataSource.AccessToken, cfg.Proxy, loc)
	}
	log.Info().Str("provider", fetcher.Name()).Msg("data source ready")
	col := collector.NewCollector(fetcher, cfg.DataSource.RetryAttempts, cfg.DataSource.RetryBackoff, cfg.DataSource.Timeout)

	// Init recorder
	if err := os.MkdirAll(dirOf(cfg.Database.SQLitePath), 0o755); err != nil {
		log.Fatal().Err(err).Msg("create data dir")
	}
	rec, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
	if err != nil {
		log.Fatal().Err(err).Msg("init sqlite recorder")
	}
	defer rec.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := seedSettings(ctx, cfg, rec); err != nil {
		log.Fatal().Err(err).Msg("seed settings")
	}

	ob, err := outbox.NewFileOutbox(cfg.Outbox.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("init outbox")
	}

	var (
		tn     *notifier.TelegramNotifier
		notify checker.Notifier
	)
	if cfg.Telegram.BotToken != "" {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
		notify = tn
	} else {
		log.Warn().Msg("telegram not configured, notifications disabled")
	}

	chk := checker.New(rec, col, notify, ob, opts)

	sched := scheduler.NewScheduler(ctx, chk, rec, opts.Calendar, loc, hours)
	if err := sched.RegisterAll(scheduler.Specs{
		Touch:       cfg.Schedule.TouchCron,
		Crossover:   cfg.Schedule.CrossoverCron,
		Breakout:    cfg.Schedule.BreakoutCron,
		StopLoss:    cfg.Schedule.StopLossCron,
		PercentDiff: cfg.Schedule.PercentDiffCron,
	}); err != nil {
		log.Fatal().Err(err).Msg("register cron tasks")
	}
	sched.Start()
	defer sched.Stop()

	if tn != nil {
		go tn.StartPolling(ctx, sched.HandleCommand)
		log.Info().Msg("telegram polling started")
		go func() {
			if err := tn.SendWithRetry(ctx, "🛰 <b>TrendSentinel</b> started", 3); err != nil {
				log.Error().Err(err).Msg("send startup notice")
			}
		}()
	}

	if *runOnStart || os.Getenv("RUN_ON_START") == "true" {
		log.Info().Msg("running every sweep now")
		go sched.RunAllNow()
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewHandler(rec, chk).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("http api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http api")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutdown signal received, stopping")
	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	log.Info().Msg("TrendSentinel stopped")
}
