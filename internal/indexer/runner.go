package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"ammScope/internal/contract"
	"ammScope/internal/model"
	"ammScope/internal/storage"
)

// RunConfig holds runtime settings for a sync.
type RunConfig struct {
	Pool         common.Address
	FromBlock    uint64
	ToBlock      uint64
	BatchSize    uint64
	MaxRetries   int
	RetryBackoff time.Duration
}

// LogSource is the chain access the runner needs. *chain.Client satisfies it.
type LogSource interface {
	ChainID(ctx context.Context) (uint64, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
}

// Checkpointer persists the last fully processed block.
type Checkpointer interface {
	Load(ctx context.Context) (uint64, bool, error)
	Save(ctx context.Context, lastProcessed uint64) error
}

// DecodeErrorSink receives logs that could not be decoded.
type DecodeErrorSink interface {
	PutDecodeErrors(errs []model.DecodeError) error
}

// Options carries the runner's optional outputs.
type Options struct {
	Checkpoint Checkpointer
	RawLogs    storage.LogSink
	ErrorSink  DecodeErrorSink
	Logger     *zap.Logger
}

// Stats summarizes a sync run.
type Stats struct {
	Batches      int
	Logs         int
	Swaps        int
	DecodeErrors int
	LastBlock    uint64
}

// Runner mirrors a deployed pool's Swap events into swap records.
type Runner struct {
	cfg     RunConfig
	chain   LogSource
	sink    storage.Sink
	decoder *contract.SwapDecoder
	opts    Options
	logger  *zap.Logger
	retry   retryPolicy
	seen    map[string]struct{}
}

func NewRunner(cfg RunConfig, source LogSource, sink storage.Sink, opts Options) (*Runner, error) {
	decoder, err := contract.NewSwapDecoder()
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("pool", cfg.Pool.Hex()))
	return &Runner{
		cfg:     cfg,
		chain:   source,
		sink:    sink,
		decoder: decoder,
		opts:    opts,
		logger:  logger,
		retry:   newRetryPolicy(cfg.MaxRetries, cfg.RetryBackoff, logger),
		seen:    make(map[string]struct{}),
	}, nil
}

// Run syncs [FromBlock, ToBlock] in batches, resuming after the checkpoint
// when one exists. ToBlock == 0 means the current head.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	if r.chain == nil {
		return stats, fmt.Errorf("chain client is nil")
	}
	if r.sink == nil {
		return stats, fmt.Errorf("storage is nil")
	}
	if r.cfg.BatchSize == 0 {
		return stats, fmt.Errorf("batch size must be greater than zero")
	}
	if r.cfg.Pool == (common.Address{}) {
		return stats, fmt.Errorf("pool address is required")
	}

	chainID, err := r.chain.ChainID(ctx)
	if err != nil {
		return stats, fmt.Errorf("get chain id: %w", err)
	}

	span := BlockRange{From: r.cfg.FromBlock, To: r.cfg.ToBlock}
	if span.To == 0 {
		latest, err := r.chain.LatestBlockNumber(ctx)
		if err != nil {
			return stats, fmt.Errorf("get latest block: %w", err)
		}
		span.To = latest
	}

	if r.opts.Checkpoint != nil {
		last, ok, err := r.opts.Checkpoint.Load(ctx)
		if err != nil {
			return stats, fmt.Errorf("load checkpoint: %w", err)
		}
		if ok {
			resumed, more := span.Resume(last)
			if !more {
				r.logger.Info("nothing to sync", zap.Uint64("last_processed", last), zap.Uint64("to", span.To))
				return stats, nil
			}
			if resumed != span {
				r.logger.Info("resume from checkpoint", zap.Uint64("last_processed", last), zap.Uint64("from", resumed.From))
			}
			span = resumed
		}
	}

	if span.From > span.To {
		r.logger.Info("nothing to sync", zap.Uint64("from", span.From), zap.Uint64("to", span.To))
		return stats, nil
	}

	ranges, err := span.Batches(r.cfg.BatchSize)
	if err != nil {
		return stats, err
	}

	for _, blockRange := range ranges {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		logs, err := r.filterLogsWithRetry(ctx, blockRange.From, blockRange.To)
		if err != nil {
			return stats, fmt.Errorf("filter logs: %w", err)
		}

		raw := make([]model.LogRecord, 0, len(logs))
		swaps := make([]model.SwapRecord, 0, len(logs))
		var failed []model.DecodeError
		for _, lg := range logs {
			if lg.Removed || r.isDuplicate(lg) {
				continue
			}
			lr := buildLogRecord(chainID, lg)
			rec, err := r.decoder.Decode(lr)
			if err != nil {
				r.logger.Warn("decode swap log", zap.String("log", lr.ID()), zap.Error(err))
				failed = append(failed, model.DecodeErrorFrom(lr, err))
				raw = append(raw, lr)
				continue
			}
			if rec.Timestamp == 0 {
				ts, err := r.blockTimestampWithRetry(ctx, lg.BlockNumber)
				if err != nil {
					return stats, fmt.Errorf("block timestamp %d: %w", lg.BlockNumber, err)
				}
				rec.Timestamp = ts
				lr.Timestamp = ts
			}
			raw = append(raw, lr)
			swaps = append(swaps, rec)
		}

		if err := r.sink.PutSwapBatch(ctx, swaps); err != nil {
			return stats, fmt.Errorf("store swaps: %w", err)
		}
		if r.opts.RawLogs != nil {
			if err := r.opts.RawLogs.PutLogBatch(raw); err != nil {
				return stats, fmt.Errorf("store raw logs: %w", err)
			}
		}
		if r.opts.ErrorSink != nil && len(failed) > 0 {
			if err := r.opts.ErrorSink.PutDecodeErrors(failed); err != nil {
				return stats, fmt.Errorf("store decode errors: %w", err)
			}
		}
		if r.opts.Checkpoint != nil {
			if err := r.opts.Checkpoint.Save(ctx, blockRange.To); err != nil {
				return stats, fmt.Errorf("save checkpoint: %w", err)
			}
		}

		stats.Batches++
		stats.Logs += len(raw)
		stats.Swaps += len(swaps)
		stats.DecodeErrors += len(failed)
		stats.LastBlock = blockRange.To
		r.logger.Info("batch complete",
			zap.Int("swaps", len(swaps)),
			zap.Int("decode_errors", len(failed)),
			zap.Uint64("from", blockRange.From),
			zap.Uint64("to", blockRange.To),
		)
	}

	return stats, nil
}

func (r *Runner) filterLogsWithRetry(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	var logs []types.Log
	err := r.retry.do(ctx, "filter logs", func(ctx context.Context) error {
		var err error
		logs, err = r.chain.FilterLogs(ctx, fromBlock, toBlock, []common.Address{r.cfg.Pool}, []common.Hash{r.decoder.Topic()})
		return err
	}, zap.Uint64("from", fromBlock), zap.Uint64("to", toBlock))
	return logs, err
}

func (r *Runner) blockTimestampWithRetry(ctx context.Context, blockNumber uint64) (uint64, error) {
	var ts uint64
	err := r.retry.do(ctx, "block timestamp fetch", func(ctx context.Context) error {
		var err error
		ts, err = r.chain.BlockTimestamp(ctx, blockNumber)
		return err
	}, zap.Uint64("block_number", blockNumber))
	return ts, err
}

func (r *Runner) isDuplicate(lg types.Log) bool {
	id := fmt.Sprintf("%d:%s:%d", lg.BlockNumber, lg.TxHash.Hex(), lg.Index)
	if _, ok := r.seen[id]; ok {
		return true
	}
	r.seen[id] = struct{}{}
	return false
}
