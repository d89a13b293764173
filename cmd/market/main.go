package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-sql/civil"

	"github.com/alejandrodnm/fdamarket/config"
	"github.com/alejandrodnm/fdamarket/internal/adapters/llm"
	"github.com/alejandrodnm/fdamarket/internal/adapters/notify"
	"github.com/alejandrodnm/fdamarket/internal/adapters/storage"
	"github.com/alejandrodnm/fdamarket/internal/application/lifecycle"
	"github.com/alejandrodnm/fdamarket/internal/application/run"
	"github.com/alejandrodnm/fdamarket/internal/domain"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	runCycle := flag.Bool("run", false, "execute the daily decision cycle")
	runDate := flag.String("date", "", "run date as YYYY-MM-DD (default: today UTC)")
	addEvent := flag.String("add-event", "", "register an event: drug|company|symbols|type|YYYY-MM-DD|area[|description]")
	openMarket := flag.String("open-market", "", "open a market for the given event id")
	probability := flag.Float64("probability", 0, "opening probability for -open-market (default: historical base rate)")
	setOutcome := flag.String("set-outcome", "", "set the outcome for the given event id")
	outcome := flag.String("outcome", "", "outcome for -set-outcome: Approved|Rejected|Pending")
	showConfig := flag.Bool("show-config", false, "print the runtime market configuration")
	setConfig := flag.String("set-config", "", "update runtime config, e.g. warmup_run_count=5,opening_lmsr_b=50000")
	leaderboard := flag.Bool("leaderboard", false, "print the model leaderboard")
	table := flag.Bool("table", false, "print the full per-pair table after a run")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	store, err := storage.New(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	console := notify.NewConsole(*table)
	manager := lifecycle.NewManager(store, slog.Default())

	switch {
	case *runCycle:
		date, err := parseRunDate(*runDate)
		if err != nil {
			slog.Error("invalid -date", "err", err)
			os.Exit(1)
		}
		deciders := llm.NewDeciders(llm.Config{
			AnthropicAPIKey:  cfg.LLM.AnthropicAPIKey,
			OpenAIAPIKey:     cfg.LLM.OpenAIAPIKey,
			XAIAPIKey:        cfg.LLM.XAIAPIKey,
			GoogleAPIKey:     cfg.LLM.GoogleAPIKey,
			AnthropicBaseURL: cfg.LLM.AnthropicBaseURL,
			OpenAIBaseURL:    cfg.LLM.OpenAIBaseURL,
			XAIBaseURL:       cfg.LLM.XAIBaseURL,
			GoogleBaseURL:    cfg.LLM.GoogleBaseURL,
			AnthropicModel:   cfg.LLM.AnthropicModel,
			OpenAIModel:      cfg.LLM.OpenAIModel,
			XAIModel:         cfg.LLM.XAIModel,
			GoogleModel:      cfg.LLM.GoogleModel,
			Timeout:          cfg.DecisionTimeout(),
		})
		orchestrator := run.NewOrchestrator(store, deciders, console, slog.Default())
		if _, err := orchestrator.ExecuteDailyRun(ctx, date); err != nil {
			slog.Error("daily run failed", "err", err)
			os.Exit(1)
		}

	case *addEvent != "":
		if err := cmdAddEvent(ctx, store, *addEvent); err != nil {
			slog.Error("add event failed", "err", err)
			os.Exit(1)
		}

	case *openMarket != "":
		if err := cmdOpenMarket(ctx, manager, *openMarket, *probability); err != nil {
			slog.Error("open market failed", "err", err)
			os.Exit(1)
		}

	case *setOutcome != "":
		if err := cmdSetOutcome(ctx, manager, *setOutcome, *outcome); err != nil {
			slog.Error("set outcome failed", "err", err)
			os.Exit(1)
		}

	case *showConfig:
		if err := cmdShowConfig(ctx, store); err != nil {
			slog.Error("show config failed", "err", err)
			os.Exit(1)
		}

	case *setConfig != "":
		if err := cmdSetConfig(ctx, store, *setConfig); err != nil {
			slog.Error("set config failed", "err", err)
			os.Exit(1)
		}

	case *leaderboard:
		if err := cmdLeaderboard(ctx, store, console); err != nil {
			slog.Error("leaderboard failed", "err", err)
			os.Exit(1)
		}

	default:
		flag.Usage()
		os.Exit(2)
	}
}

// parseRunDate parses -date, defaulting to the current UTC day.
func parseRunDate(s string) (civil.Date, error) {
	if s == "" {
		return domain.RunDateOf(time.Now()), nil
	}
	return civil.ParseDate(s)
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
