package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ammScope/internal/config"
	"ammScope/internal/fixedpoint"
	"ammScope/internal/simulate"
	"ammScope/internal/storage"
	"ammScope/internal/storage/postgres"
)

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replay a YAML scenario against an in-memory pool",
		RunE:  runSimulate,
	}

	cmd.Flags().String("scenario", "", "scenario YAML path")
	cmd.Flags().String("out", "./data/swaps.jsonl", "swap records JSONL path (empty disables)")
	cmd.Flags().String("pg-dsn", "", "optional Postgres DSN for swap records")
	cmd.Flags().String("start", "", "timestamp of the first step (unix seconds or RFC3339)")
	cmd.Flags().Duration("step", 15*time.Second, "clock advance per step")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	return cmd
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadSimulate(configFile(cmd), cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Scenario == "" {
		return fmt.Errorf("scenario path is required")
	}
	sc, err := simulate.Load(cfg.Scenario)
	if err != nil {
		return err
	}

	opts := simulate.Options{Step: cfg.Step, Logger: logger}
	if cfg.Start != "" {
		start, err := config.ParseTimestamp(cfg.Start)
		if err != nil {
			return fmt.Errorf("parse start: %w", err)
		}
		opts.Start = time.Unix(int64(start), 0).UTC()
	}

	ctx, stop := signalContext()
	defer stop()

	var sinks storage.Sinks
	if cfg.SwapsOut != "" {
		sinks = append(sinks, storage.NewJsonlStorage(cfg.SwapsOut))
	}
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		sinks = append(sinks, store.SwapSink(sc.PoolAddress()))
	}
	if len(sinks) > 0 {
		opts.Sink = sinks
	}

	sim, err := simulate.New(sc, opts)
	if err != nil {
		return err
	}

	logger.Info("simulate start",
		zap.String("scenario", cfg.Scenario),
		zap.String("out", cfg.SwapsOut),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.Duration("step", opts.Step),
	)

	result, runErr := sim.Run(ctx)
	enc := json.NewEncoder(os.Stdout)
	for _, step := range result.Steps {
		if err := enc.Encode(step); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}

	logger.Info("simulate complete",
		zap.String("pool", sim.Engine().Pool().Hex()),
		zap.Int("swaps", result.Swaps),
		zap.Int("published", result.Published),
		zap.Int("unpublished", result.Unpublished),
		zap.String("total_shares", fixedpoint.Format(result.Final.TotalShares)),
	)
	return nil
}
