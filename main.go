package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/relaydesk/relaydesk/api"
	"github.com/relaydesk/relaydesk/db"
	"github.com/relaydesk/relaydesk/internal/agent"
	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/conversation"
	"github.com/relaydesk/relaydesk/internal/dispatch"
	"github.com/relaydesk/relaydesk/internal/knowledge"
	"github.com/relaydesk/relaydesk/internal/log"
	"github.com/relaydesk/relaydesk/internal/postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := log.New(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSON: cfg.LogJSON})

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	pool, err := postgres.Connect(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	queries := postgres.New(pool)

	agents := agent.New(queries, pool, logger)
	index := knowledge.New(queries, knowledge.NewLocalEmbedder(), logger)
	conversations := conversation.New(queries, pool, logger)
	dispatcher := dispatch.New(agents, index, conversations, dispatch.Config{
		TopK:              cfg.TopK,
		MinRelevance:      cfg.MinRelevance,
		ResolveConfidence: cfg.ResolveConfidence,
	}, logger)

	sweeper := conversation.NewSweeper(conversations, cfg.SweepInterval, cfg.IdleTimeout, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	server := api.NewServer(agents, index, conversations, dispatcher, pool, api.Options{
		ServiceToken: cfg.ServiceToken,
		InboundRate:  cfg.InboundRate,
		InboundBurst: cfg.InboundBurst,
	}, logger)

	err = server.Run(ctx, cfg.ListenAddr)
	stop()
	wg.Wait()
	return err
}
