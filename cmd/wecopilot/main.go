package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/kkhouse/wecopilot/pkg/bus"
	"github.com/kkhouse/wecopilot/pkg/config"
	"github.com/kkhouse/wecopilot/pkg/convstore"
	"github.com/kkhouse/wecopilot/pkg/gateway"
	"github.com/kkhouse/wecopilot/pkg/knowledge"
	"github.com/kkhouse/wecopilot/pkg/logger"
	"github.com/kkhouse/wecopilot/pkg/pipeline"
	"github.com/kkhouse/wecopilot/pkg/suggest"
	"github.com/kkhouse/wecopilot/pkg/wecrypt"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "config.json", "path to config file")
	consoleMode := flag.Bool("console", false, "run the interactive console instead of the HTTP server")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.FileEnabled {
		if err := logger.EnableFileLogging(cfg.Logging.FilePath); err != nil {
			logger.WarnCF("main", "File logging disabled",
				map[string]interface{}{"path": cfg.Logging.FilePath, "error": err.Error()})
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := convstore.NewMemoryStore(cfg.Session.MaxTurns, cfg.SessionTTL())
	go store.RunJanitor(ctx, cfg.Session.SweepSchedule)

	mb := bus.NewMessageBus(cfg.Pipeline.QueueSize)
	searcher := knowledge.NewClient(cfg.Knowledge.APIURL, cfg.Knowledge.APIKey, cfg.Knowledge.Dataset, cfg.KnowledgeTimeout())
	generator := buildGenerator(cfg)

	worker := pipeline.NewWorker(cfg, store, mb, searcher, generator)
	go worker.Run(ctx)

	if *consoleMode {
		if err := runConsole(ctx, cfg, store, mb); err != nil {
			fmt.Fprintf(os.Stderr, "console: %v\n", err)
			os.Exit(1)
		}
		return
	}

	crypt, err := wecrypt.NewMsgCrypt(cfg.WeCom.Token, cfg.WeCom.EncodingAESKey, cfg.WeCom.CorpID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wecom credentials: %v\n", err)
		os.Exit(1)
	}

	hub := gateway.NewHub(store, mb, cfg.ResultTTL())
	go hub.Run(ctx)

	srv := gateway.NewServer(cfg, crypt, mb, hub)
	if err := srv.Run(ctx); err != nil {
		logger.ErrorCF("main", "Server exited with error",
			map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	logger.InfoC("main", "Shutdown complete")
}

// buildGenerator wires OpenAI as primary and Anthropic as fallback when both
// keys are present; with a single key that provider runs alone.
func buildGenerator(cfg *config.Config) *suggest.Generator {
	var primary, fallback suggest.Provider
	if cfg.Providers.OpenAI.APIKey != "" {
		primary = suggest.NewOpenAIProvider(cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.APIBase, cfg.Providers.OpenAI.Model)
	}
	if cfg.Providers.Anthropic.APIKey != "" {
		anth := suggest.NewAnthropicProvider(cfg.Providers.Anthropic.APIKey, cfg.Providers.Anthropic.Model)
		if primary == nil {
			primary = anth
		} else {
			fallback = anth
		}
	}
	if primary == nil {
		logger.WarnC("main", "No LLM provider configured, suggestions will be degraded")
	}
	g := suggest.NewGenerator(primary, fallback, cfg.GenerateTimeout())
	if len(cfg.Pipeline.SuggestionMarkers) > 0 {
		g.SetMarkers(cfg.Pipeline.SuggestionMarkers)
	}
	return g
}
