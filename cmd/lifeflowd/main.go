// Command lifeflowd runs the LifeFlow background service: the scheduled
// nudge tick, daily plan regeneration, and the ingestion, planning, and
// sync workflows it exposes to the API layer.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nhle/lifeflow/internal/app"
	"github.com/nhle/lifeflow/internal/clock"
	"github.com/nhle/lifeflow/internal/embedding"
	"github.com/nhle/lifeflow/internal/extract"
	"github.com/nhle/lifeflow/internal/ingest"
	"github.com/nhle/lifeflow/internal/llm"
	"github.com/nhle/lifeflow/internal/mailer"
	"github.com/nhle/lifeflow/internal/model"
	"github.com/nhle/lifeflow/internal/nudge"
	"github.com/nhle/lifeflow/internal/plan"
	"github.com/nhle/lifeflow/internal/sources"
	"github.com/nhle/lifeflow/internal/store"
	"github.com/nhle/lifeflow/internal/syncer"
	"github.com/nhle/lifeflow/internal/vector"
)

func main() {
	configPath := flag.String("config", model.DefaultConfigPath(), "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("lifeflowd failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return err
	}

	st, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	clk := clock.System{}

	var chatter llm.Chatter
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		chatter = llm.NewAnthropicClient(key, cfg.LLM.Model, cfg.LLM.MaxTokens)
	} else {
		logger.Warn("ANTHROPIC_API_KEY not set, running with rules-only extraction and no action plans")
	}

	extractor := extract.New(chatter, cfg.SpamLLMThreshold, cfg.LLMRetryBudget, clk, logger)
	factory := sources.NewFactory(cfg.Providers)

	opts := ingest.Options{Logger: logger}
	if r := sources.NewOAuthRefresher(cfg.Providers.OAuth); r != nil {
		opts.Refresher = r
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		opts.Embedder = embedding.NewOpenAIClient(key)
		opts.Vectors = vector.NewChromaClient(cfg.Vector.BaseURL, cfg.Vector.Collection)
	} else {
		logger.Warn("OPENAI_API_KEY not set, context encoding disabled")
	}

	pipeline := ingest.New(st, extractor, factory, cfg, clk, opts)
	planner := plan.New(st, chatter, cfg, clk, logger)
	sender := mailer.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From)
	nudger := nudge.New(st, sender, cfg, clk, logger)
	engine := syncer.New(st, factory, clk, logger)

	application := app.New(cfg, st, pipeline, planner, nudger, engine, clk, logger)

	scheduler, err := nudge.NewScheduler(nudger, application.RegenerateAllPlans, cfg, logger)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	logger.Info("lifeflowd started",
		"database", cfg.DatabasePath,
		"tick_interval", cfg.TickInterval,
		"plan_generation_time", cfg.PlanGenerationTime)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
