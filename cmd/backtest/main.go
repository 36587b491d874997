package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alejandrodnm/moebot/config"
	"github.com/alejandrodnm/moebot/internal/adapters/llm"
	"github.com/alejandrodnm/moebot/internal/adapters/notify"
	"github.com/alejandrodnm/moebot/internal/adapters/prices"
	"github.com/alejandrodnm/moebot/internal/adapters/recorder"
	"github.com/alejandrodnm/moebot/internal/adapters/storage"
	"github.com/alejandrodnm/moebot/internal/backtest"
	"github.com/alejandrodnm/moebot/internal/experts"
	"github.com/alejandrodnm/moebot/internal/ports"
	"github.com/alejandrodnm/moebot/internal/simulator"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	tickersFlag := flag.String("tickers", "", "comma-separated tickers (overrides config)")
	startFlag := flag.String("start", "", "start date YYYY-MM-DD (overrides config)")
	endFlag := flag.String("end", "", "end date YYYY-MM-DD (overrides config)")
	history := flag.Bool("history", false, "print recent runs and exit")
	noLLM := flag.Bool("no-llm", false, "disable the LLM analyst expert for this run")
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

	if *tickersFlag != "" {
		cfg.Backtest.Tickers = splitTickers(*tickersFlag)
	}
	if *startFlag != "" {
		cfg.Backtest.StartDate = *startFlag
	}
	if *endFlag != "" {
		cfg.Backtest.EndDate = *endFlag
	}

	store, err := storage.NewSQLiteRunStore(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open run store", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	console := notify.NewConsole()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *history {
		runs, err := store.RecentRuns(ctx, 20)
		if err != nil {
			slog.Error("failed to list runs", "err", err)
			os.Exit(1)
		}
		console.PrintRecentRuns(runs)
		return
	}

	start, end, err := cfg.Dates()
	if err != nil {
		slog.Error("invalid date range", "err", err)
		os.Exit(1)
	}

	slog.Info("moebot starting",
		"config", *configPath,
		"tickers", cfg.Backtest.Tickers,
		"start", cfg.Backtest.StartDate,
		"end", cfg.Backtest.EndDate,
		"llm", cfg.LLM.Enabled && !*noLLM,
	)

	loader := prices.NewLoader(cfg.Data.PricesDir)

	expertPool := []ports.Expert{experts.NewTechnical(loader)}
	if cfg.LLM.Enabled && !*noLLM {
		client := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLMTimeout())
		expertPool = append(expertPool, experts.NewAnalyst(client, loader))
	}

	simCfg := simulator.Config{
		InitialCapital:  cfg.Portfolio.InitialCapital,
		PositionSizing:  cfg.Portfolio.PositionSizing,
		MaxPositionSize: cfg.Portfolio.MaxPositionSize,
		MaxPositions:    cfg.Portfolio.MaxPositions,
		CashReserve:     cfg.Portfolio.CashReserve,
		MinCashReserve:  cfg.Portfolio.MinCashReserve,
		TransactionCost: cfg.Portfolio.TransactionCost,
		Slippage:        cfg.Portfolio.Slippage,
	}

	rec, err := recorder.NewJSON(cfg.Data.OutputDir, cfg.Backtest.Tickers, start, end, simCfg)
	if err != nil {
		slog.Error("failed to create run recorder", "err", err)
		os.Exit(1)
	}

	engine, err := backtest.New(backtest.Params{
		Tickers:       cfg.Backtest.Tickers,
		StartDate:     start,
		EndDate:       end,
		ExpertTimeout: cfg.ExpertTimeout(),
		Simulation:    simCfg,
		RiskFreeRate:  cfg.Backtest.RiskFreeRate,
	}, expertPool, loader, rec)
	if err != nil {
		slog.Error("invalid backtest parameters", "err", err)
		os.Exit(1)
	}

	result, err := engine.Run(ctx)
	if err != nil {
		slog.Error("backtest exited with error", "err", err)
		os.Exit(1)
	}

	saveCtx, saveCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer saveCancel()
	if err := store.SaveRun(saveCtx, result.Summary); err != nil {
		slog.Warn("failed to index run", "err", err, "run_id", result.Summary.ID)
	}

	console.PrintResults(result.Summary, result.Portfolio, result.Tickers, result.Trades)

	slog.Info("moebot finished cleanly", "run_id", result.Summary.ID)
}

func splitTickers(raw string) []string {
	parts := strings.Split(raw, ",")
	tickers := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tickers = append(tickers, t)
		}
	}
	return tickers
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
