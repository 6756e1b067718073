package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ammScope/internal/aggregate"
	"ammScope/internal/chain"
	"ammScope/internal/config"
	"ammScope/internal/contract"
	"ammScope/internal/storage"
	"ammScope/internal/storage/postgres"
)

func newChartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chart",
		Short: "Aggregate swap records into exchange-rate windows",
		RunE:  runChart,
	}

	cmd.Flags().String("rpc", "", "optional RPC URL to resolve the pair and token decimals")
	cmd.Flags().String("pool", "", "pool address")
	cmd.Flags().String("token1", "", "token1 address (read from the pool when --rpc is set)")
	cmd.Flags().String("token2", "", "token2 address (read from the pool when --rpc is set)")
	cmd.Flags().Uint("decimals1", 18, "token1 decimals")
	cmd.Flags().Uint("decimals2", 18, "token2 decimals")
	cmd.Flags().String("in", "", "input swap records JSONL (defaults to Postgres when --pg-dsn is set)")
	cmd.Flags().String("out", "", "output windows JSONL (defaults to Postgres when --pg-dsn is set)")
	cmd.Flags().String("series", "", "optional rate series JSONL output")
	cmd.Flags().String("window", "5m", "aggregation window (e.g. 1m, 5m, 1h)")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN")
	cmd.Flags().Int("batch-size", 1000, "windows per write")
	cmd.Flags().String("state-file", "", "optional local state file for progress tracking")
	cmd.Flags().String("recompute-from", "", "recompute from timestamp (unix seconds or RFC3339)")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	return cmd
}

func runChart(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadChart(configFile(cmd), cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	pool, err := config.ParseAddress("pool", cfg.Pool)
	if err != nil {
		return err
	}
	windowSeconds, err := config.ParseWindow(cfg.Window)
	if err != nil {
		return err
	}
	recomputeFrom, err := config.ParseTimestamp(cfg.RecomputeFrom)
	if err != nil {
		return fmt.Errorf("parse recompute-from: %w", err)
	}

	ctx, stop := signalContext()
	defer stop()

	pair, err := resolvePair(ctx, cfg, pool, logger)
	if err != nil {
		return err
	}

	var store *postgres.Store
	if cfg.PGDSN != "" {
		store, err = postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	var source aggregate.Source
	switch {
	case cfg.In != "":
		source = storage.NewJsonlStorage(cfg.In)
	case store != nil:
		source = store.SwapSink(pool)
	default:
		return fmt.Errorf("either in or pg-dsn is required")
	}

	var sink aggregate.WindowSink
	switch {
	case cfg.Out != "":
		sink = storage.NewJsonlStorage(cfg.Out)
	case store != nil:
		sink = store
	default:
		return fmt.Errorf("either out or pg-dsn is required")
	}

	stateName := aggregate.StateName(pool, windowSeconds)
	var stateStore aggregate.StateStore
	if cfg.StateFile != "" {
		stateStore = &aggregate.FileStateStore{Path: cfg.StateFile, Name: stateName}
	} else if store != nil {
		stateStore = store.StateRow(stateName)
	}

	agg := aggregate.NewAggregator(aggregate.Config{
		Pool:          pool,
		Pair:          pair,
		WindowSeconds: windowSeconds,
		BatchSize:     cfg.BatchSize,
		RecomputeFrom: recomputeFrom,
		StateStore:    stateStore,
	}, source, sink, logger)

	logger.Info("chart start",
		zap.String("pool", pool.Hex()),
		zap.String("in", cfg.In),
		zap.String("out", cfg.Out),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.Uint64("window_seconds", windowSeconds),
		zap.Uint64("recompute_from", recomputeFrom),
	)

	if _, err := agg.Run(ctx); err != nil {
		return err
	}

	if cfg.Series != "" {
		records, err := source.ReadSwaps(ctx, recomputeFrom, 0)
		if err != nil {
			return fmt.Errorf("read swaps: %w", err)
		}
		points, err := aggregate.RateSeries(records, pair)
		if err != nil {
			return err
		}
		if err := writeSeries(cfg.Series, points); err != nil {
			return err
		}
		logger.Info("rate series written", zap.String("path", cfg.Series), zap.Int("points", len(points)))
	}
	return nil
}

// resolvePair takes the pair from flags, filling gaps from the deployed pool
// when an RPC URL is configured.
func resolvePair(ctx context.Context, cfg config.ChartConfig, pool common.Address, logger *zap.Logger) (aggregate.Pair, error) {
	pair := aggregate.Pair{Decimals1: cfg.Decimals1, Decimals2: cfg.Decimals2}
	if cfg.Token1 != "" {
		token1, err := config.ParseAddress("token1", cfg.Token1)
		if err != nil {
			return pair, err
		}
		pair.Token1 = token1
	}
	if cfg.Token2 != "" {
		token2, err := config.ParseAddress("token2", cfg.Token2)
		if err != nil {
			return pair, err
		}
		pair.Token2 = token2
	}
	if cfg.RPCURL == "" {
		if pair.Token1 == (common.Address{}) || pair.Token2 == (common.Address{}) {
			return pair, fmt.Errorf("token1 and token2 are required without rpc")
		}
		return pair, nil
	}

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return pair, fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	if pair.Token1 == (common.Address{}) || pair.Token2 == (common.Address{}) {
		state, err := contract.FetchPoolState(ctx, chainClient, pool, nil, 0)
		if err != nil {
			return pair, fmt.Errorf("read pool pair: %w", err)
		}
		pair.Token1, pair.Token2 = state.Token1, state.Token2
	}
	tokens := contract.NewTokenMetaCache()
	pair.Decimals1 = tokens.Resolve(ctx, chainClient, pair.Token1, logger).Decimals
	pair.Decimals2 = tokens.Resolve(ctx, chainClient, pair.Token2, logger).Decimals
	return pair, nil
}

func writeSeries(path string, points []aggregate.RatePoint) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create series dir: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create series: %w", err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	for _, point := range points {
		if err := enc.Encode(point); err != nil {
			return fmt.Errorf("write series: %w", err)
		}
	}
	return file.Close()
}
