package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"finsight/internal/agent"
	"finsight/internal/analyst"
	"finsight/internal/api"
	"finsight/internal/config"
	"finsight/internal/execution"
	"finsight/internal/logger"
	"finsight/internal/marketdata"
	"finsight/internal/news"
	"finsight/internal/portfolio"
)

func main() {
	cfg := config.Load()
	logger.Setup(cfg.LogFile, cfg.MaxLogSizeMB, cfg.MaxLogBackups)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := portfolio.NewStore(cfg.StateFile, cfg.LockTimeout)
	agentCfg := config.NewAgentConfigStore(cfg.AgentConfigFile)

	// The execution backend is chosen once, from credential presence.
	var engine execution.Engine
	if cfg.LiveTrading() {
		engine = execution.NewLiveBroker(store)
	} else {
		engine = execution.NewSimulator(store)
	}
	log.Printf("Execution mode: %s", engine.Mode())

	market := marketdata.NewYahooSource()
	newsSource := news.NewGoogleClient()
	inference := analyst.NewClient(cfg.InferenceURL, cfg.InferenceAPIKey, cfg.InferenceTimeout)
	synth := analyst.NewSynthesizer(inference)

	clock, err := execution.NewSessionClock()
	if err != nil {
		log.Fatalf("CRITICAL: load exchange timezone: %v", err)
	}

	loop := agent.New(store, engine, market, newsSource, synth, clock, agentCfg, nil)
	go loop.Run(ctx)

	server := api.NewServer(store, engine, market, newsSource, synth, agentCfg)
	go func() {
		if err := server.Start(cfg.ListenAddr); err != nil {
			log.Fatalf("CRITICAL: API server failed: %v", err)
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Println("Shutdown signal received, stopping...")
	cancel()
}
