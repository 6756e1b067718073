package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ammScope/internal/chain"
	"ammScope/internal/config"
	"ammScope/internal/indexer"
	"ammScope/internal/storage"
	"ammScope/internal/storage/postgres"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Mirror a deployed pool's Swap events into swap records",
		RunE:  runSync,
	}

	cmd.Flags().String("rpc", "", "RPC URL")
	cmd.Flags().String("pool", "", "deployed AMM address")
	cmd.Flags().Uint64("from", 0, "start block (inclusive)")
	cmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	cmd.Flags().Uint64("batch-size", 2000, "blocks per batch")
	cmd.Flags().String("out", "./data/swaps.jsonl", "swap records JSONL path (empty disables)")
	cmd.Flags().String("raw-out", "", "optional raw logs JSONL path")
	cmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL path")
	cmd.Flags().String("pg-dsn", "", "optional Postgres DSN for swap records")
	cmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	cmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	cmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	cmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadSync(configFile(cmd), cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	pool, err := config.ParseAddress("pool", cfg.Pool)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	var sinks storage.Sinks
	if cfg.Out != "" {
		sinks = append(sinks, storage.NewJsonlStorage(cfg.Out))
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
		sinks = append(sinks, store.SwapSink(pool))
	}
	if len(sinks) == 0 {
		return fmt.Errorf("either out or pg-dsn is required")
	}

	opts := indexer.Options{Logger: logger}
	if cfg.CheckpointEnabled {
		opts.Checkpoint = indexer.NewCheckpointStore(cfg.Checkpoint, pool)
	}
	if cfg.RawOut != "" {
		opts.RawLogs = storage.NewJsonlStorage(cfg.RawOut)
	}
	if cfg.Errors != "" {
		opts.ErrorSink = storage.NewJsonlStorage(cfg.Errors)
	}

	runner, err := indexer.NewRunner(indexer.RunConfig{
		Pool:         pool,
		FromBlock:    cfg.FromBlock,
		ToBlock:      cfg.ToBlock,
		BatchSize:    cfg.BatchSize,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, chainClient, sinks, opts)
	if err != nil {
		return err
	}

	logger.Info("sync start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("pool", pool.Hex()),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.String("out", cfg.Out),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
		zap.String("checkpoint", cfg.Checkpoint),
	)

	stats, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("sync complete",
		zap.Int("batches", stats.Batches),
		zap.Int("swaps", stats.Swaps),
		zap.Int("decode_errors", stats.DecodeErrors),
		zap.Uint64("last_block", stats.LastBlock),
	)
	return nil
}
