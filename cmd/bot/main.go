package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"alpharise/internal/broker"
	"alpharise/internal/config"
	"alpharise/internal/engine"
	"alpharise/internal/feed"
	"alpharise/internal/recorder"
	"alpharise/internal/scheduler"
	"alpharise/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	markerStore, err := store.Open(cfg.StorePath)
	if err != nil {
		log.Fatalf("store error: %v", err)
	}
	defer func() {
		if err := markerStore.Close(); err != nil {
			log.Printf("failed to close store: %v", err)
		}
	}()

	var audit recorder.Recorder = recorder.NewNoopRecorder()
	if cfg.SQLitePath != "" {
		audit, err = recorder.NewSQLiteRecorder(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("recorder error: %v", err)
		}
	}
	defer func() {
		if err := audit.Close(); err != nil {
			log.Printf("failed to close recorder: %v", err)
		}
	}()

	feedClient := feed.NewClient(cfg.FeedURL, cfg.FeedProxyURL)
	brokerClient := broker.New(cfg.APIKey, cfg.APISecret, cfg.AlpacaBaseURL)
	eng := engine.New(cfg, feedClient, brokerClient, markerStore, audit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Cron == "" {
		result := eng.Run(ctx)
		printResult(result)
		if !result.Success {
			os.Exit(1)
		}
		return
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalChan
		log.Printf("shutdown signal received")
		cancel()
	}()

	sched, err := scheduler.New(cfg.Cron, func() {
		printResult(eng.Run(ctx))
	})
	if err != nil {
		log.Fatalf("scheduler error: %v", err)
	}

	log.Printf("starting bot schedule=%q symbol=%s dry_run=%v", cfg.Cron, cfg.Symbol, cfg.DryRun)
	sched.Start()
	<-ctx.Done()
	sched.Stop()
	log.Printf("bot shutdown complete")
}

func printResult(result engine.RunResult) {
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Printf("failed to encode result: %v", err)
		return
	}
	fmt.Println(string(payload))
}
