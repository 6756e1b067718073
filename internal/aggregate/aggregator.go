package aggregate

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"ammScope/internal/model"
)

// Source reads swap records with fromTime <= timestamp <= toTime; toTime == 0
// means no upper bound. storage.JsonlStorage and postgres.SwapSink satisfy it.
type Source interface {
	ReadSwaps(ctx context.Context, fromTime, toTime uint64) ([]model.SwapRecord, error)
}

// WindowSink persists aggregated windows.
type WindowSink interface {
	PutWindows(ctx context.Context, windows []model.PriceWindow) error
}

// Config controls aggregation behavior.
type Config struct {
	Pool          common.Address
	Pair          Pair
	WindowSeconds uint64
	BatchSize     int
	RecomputeFrom uint64
	StateStore    StateStore
}

// Stats summarizes an aggregation run.
type Stats struct {
	Records int
	Failed  int
	Windows int
	// NextFrom is the first timestamp the next run will read.
	NextFrom uint64
}

// Aggregator folds swap records into fixed-size price windows.
type Aggregator struct {
	cfg    Config
	source Source
	sink   WindowSink
	logger *zap.Logger
}

func NewAggregator(cfg Config, source Source, sink WindowSink, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	return &Aggregator{
		cfg:    cfg,
		source: source,
		sink:   sink,
		logger: logger.With(zap.String("pool", cfg.Pool.Hex())),
	}
}

// Run aggregates every swap from the resume point on. The last window is
// always written, even while still open, and is recomputed by the next run.
func (a *Aggregator) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	if a.source == nil {
		return stats, fmt.Errorf("swap source is nil")
	}
	if a.sink == nil {
		return stats, fmt.Errorf("window sink is nil")
	}
	if a.cfg.WindowSeconds == 0 {
		return stats, fmt.Errorf("window seconds must be > 0")
	}
	if a.cfg.Pair.Token1 == (common.Address{}) || a.cfg.Pair.Token2 == (common.Address{}) {
		return stats, fmt.Errorf("token pair is required")
	}

	from, err := a.loadStart(ctx)
	if err != nil {
		return stats, err
	}
	stats.NextFrom = from

	records, err := a.source.ReadSwaps(ctx, from, 0)
	if err != nil {
		return stats, fmt.Errorf("read swaps: %w", err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp < records[j].Timestamp
	})

	batch := make([]model.PriceWindow, 0, a.cfg.BatchSize)
	var acc *Accumulator
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Records++

		start := windowStart(rec.Timestamp, a.cfg.WindowSeconds)
		if acc != nil && acc.WindowStart != start {
			batch = a.appendWindow(batch, acc)
			acc = nil
			if len(batch) >= a.cfg.BatchSize {
				if err := a.flush(ctx, batch, &stats); err != nil {
					return stats, err
				}
				batch = batch[:0]
				if err := a.saveState(ctx, start, &stats); err != nil {
					return stats, err
				}
			}
		}
		if acc == nil {
			acc = NewAccumulator(a.cfg.Pair, start, start+a.cfg.WindowSeconds)
		}

		if err := acc.AddSwap(rec); err != nil {
			stats.Failed++
			a.logger.Warn("aggregate swap", zap.String("swap", rec.Key()), zap.Error(err))
		}
	}

	if acc != nil {
		batch = a.appendWindow(batch, acc)
	}
	if err := a.flush(ctx, batch, &stats); err != nil {
		return stats, err
	}
	if acc != nil {
		if err := a.saveState(ctx, acc.WindowStart, &stats); err != nil {
			return stats, err
		}
	}

	a.logger.Info("aggregate complete",
		zap.Int("records", stats.Records),
		zap.Int("windows", stats.Windows),
		zap.Int("failed", stats.Failed),
		zap.Uint64("next_from", stats.NextFrom),
	)
	return stats, nil
}

// loadStart returns the first timestamp to read. The stored state is the
// last timestamp whose window is final.
func (a *Aggregator) loadStart(ctx context.Context) (uint64, error) {
	if a.cfg.RecomputeFrom > 0 {
		return windowStart(a.cfg.RecomputeFrom, a.cfg.WindowSeconds), nil
	}
	if a.cfg.StateStore == nil {
		return 0, nil
	}
	last, ok, err := a.cfg.StateStore.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load state: %w", err)
	}
	if !ok {
		return 0, nil
	}
	return last + 1, nil
}

// saveState marks everything before openStart as final.
func (a *Aggregator) saveState(ctx context.Context, openStart uint64, stats *Stats) error {
	stats.NextFrom = openStart
	if a.cfg.StateStore == nil || openStart == 0 {
		return nil
	}
	if err := a.cfg.StateStore.Save(ctx, openStart-1); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (a *Aggregator) appendWindow(batch []model.PriceWindow, acc *Accumulator) []model.PriceWindow {
	if acc.SwapCount == 0 {
		return batch
	}
	return append(batch, acc.Window(a.cfg.Pool))
}

func (a *Aggregator) flush(ctx context.Context, batch []model.PriceWindow, stats *Stats) error {
	if len(batch) == 0 {
		return nil
	}
	if err := a.sink.PutWindows(ctx, batch); err != nil {
		return fmt.Errorf("store windows: %w", err)
	}
	stats.Windows += len(batch)
	return nil
}

func windowStart(ts uint64, windowSec uint64) uint64 {
	return ts - (ts % windowSec)
}
