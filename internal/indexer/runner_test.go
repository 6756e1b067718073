package indexer

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"ammScope/internal/chain"
	"ammScope/internal/chain/chaintest"
	"ammScope/internal/contract"
	"ammScope/internal/model"
	"ammScope/internal/storage"
)

var (
	syncPool   = common.HexToAddress("0x00000000000000000000000000000000000a3300")
	syncToken1 = common.HexToAddress("0x0000000000000000000000000000000000000001")
	syncToken2 = common.HexToAddress("0x0000000000000000000000000000000000000002")
	trader     = common.HexToAddress("0x000000000000000000000000000000000000b0b0")
)

type memorySink struct {
	records []model.SwapRecord
	errs    []model.DecodeError
}

func (m *memorySink) PutSwapBatch(ctx context.Context, records []model.SwapRecord) error {
	m.records = append(m.records, records...)
	return nil
}

func (m *memorySink) PutDecodeErrors(errs []model.DecodeError) error {
	m.errs = append(m.errs, errs...)
	return nil
}

func swapLog(t *testing.T, block uint64, index uint, eventTime uint64) types.Log {
	t.Helper()
	decoder, err := contract.NewSwapDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	topic, data, err := decoder.Encode(model.SwapRecord{
		User:          trader,
		TokenGive:     syncToken1,
		AmountGive:    uint256.NewInt(1000),
		TokenGet:      syncToken2,
		AmountGet:     uint256.NewInt(990),
		Token1Balance: uint256.NewInt(101000),
		Token2Balance: uint256.NewInt(99010),
		Timestamp:     eventTime,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return types.Log{
		Address:     syncPool,
		Topics:      []common.Hash{topic},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block*100 + uint64(index))),
		BlockHash:   common.BigToHash(new(big.Int).SetUint64(block)),
		Index:       index,
	}
}

func newSyncBackend(t *testing.T) *chaintest.Backend {
	t.Helper()
	backend := chaintest.NewBackend(56)
	backend.SetHead(30)
	backend.SetBlockTime(12, 1_700_000_012)
	backend.AddLogs(
		swapLog(t, 3, 0, 1_700_000_003),
		swapLog(t, 12, 1, 0),
		swapLog(t, 25, 0, 1_700_000_025),
	)
	// A foreign log at the pool address is filtered out by topic.
	backend.AddLogs(types.Log{
		Address:     syncPool,
		Topics:      []common.Hash{common.HexToHash("0xdead")},
		Data:        []byte{},
		BlockNumber: 4,
		TxHash:      common.HexToHash("0x04"),
		BlockHash:   common.HexToHash("0x04"),
	})
	return backend
}

func TestRunnerSyncsSwaps(t *testing.T) {
	backend := newSyncBackend(t)
	backend.FailNext("eth_getLogs", 2)
	client := chain.NewClientFromRPC(backend.Dial(t))
	sink := &memorySink{}

	runner, err := NewRunner(RunConfig{
		Pool:         syncPool,
		FromBlock:    1,
		BatchSize:    10,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	}, client, sink, Options{})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	stats, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Batches != 3 || stats.Swaps != 3 || stats.LastBlock != 30 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if len(sink.records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(sink.records))
	}

	second := sink.records[1]
	if second.Timestamp != 1_700_000_012 {
		t.Fatalf("expected block time fallback, got %d", second.Timestamp)
	}
	if second.Source == nil || second.Source.ChainID != 56 || second.Source.BlockNumber != 12 || second.Source.LogIndex != 1 {
		t.Fatalf("unexpected provenance %+v", second.Source)
	}
	if second.User != trader || !second.AmountGet.Eq(uint256.NewInt(990)) {
		t.Fatalf("unexpected record %+v", second)
	}
	if n := backend.Requests("eth_getBlockByNumber"); n != 1 {
		t.Fatalf("expected one header lookup, got %d", n)
	}
}

func TestRunnerResumesFromCheckpoint(t *testing.T) {
	backend := newSyncBackend(t)
	client := chain.NewClientFromRPC(backend.Dial(t))
	path := filepath.Join(t.TempDir(), "sync.json")
	checkpoint := NewCheckpointStore(path, syncPool)
	if err := checkpoint.Save(context.Background(), 20); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}

	swaps := storage.NewJsonlStorage(filepath.Join(t.TempDir(), "swaps.jsonl"))
	runner, err := NewRunner(RunConfig{Pool: syncPool, FromBlock: 1, ToBlock: 30, BatchSize: 100},
		client, swaps, Options{Checkpoint: checkpoint})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	if _, err := runner.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, err := swaps.ReadSwaps(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("read swaps: %v", err)
	}
	if len(got) != 1 || got[0].Source.BlockNumber != 25 {
		t.Fatalf("expected only the block 25 swap, got %+v", got)
	}
	last, ok, err := checkpoint.Load(context.Background())
	if err != nil || !ok || last != 30 {
		t.Fatalf("checkpoint after run: %d %v %v", last, ok, err)
	}

	other := NewCheckpointStore(path, syncToken1)
	if _, _, err := other.Load(context.Background()); err == nil {
		t.Fatalf("expected error loading another pool's checkpoint")
	}
}

func TestRunnerRecordsDecodeErrors(t *testing.T) {
	backend := chaintest.NewBackend(1)
	backend.SetHead(5)
	decoder, err := contract.NewSwapDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	bad := types.Log{
		Address:     syncPool,
		Topics:      []common.Hash{decoder.Topic()},
		Data:        []byte{0x01},
		BlockNumber: 2,
		TxHash:      common.HexToHash("0x02"),
		BlockHash:   common.HexToHash("0x02"),
	}
	backend.AddLogs(bad, bad)
	client := chain.NewClientFromRPC(backend.Dial(t))
	sink := &memorySink{}

	runner, err := NewRunner(RunConfig{Pool: syncPool, BatchSize: 10}, client, sink, Options{ErrorSink: sink})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	stats, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.DecodeErrors != 1 || len(sink.errs) != 1 || len(sink.records) != 0 {
		t.Fatalf("expected one deduplicated decode error, got %+v / %d", stats, len(sink.errs))
	}
}

func TestRunnerGivesUpAfterRetries(t *testing.T) {
	backend := newSyncBackend(t)
	backend.FailNext("eth_getLogs", 5)
	client := chain.NewClientFromRPC(backend.Dial(t))

	runner, err := NewRunner(RunConfig{Pool: syncPool, BatchSize: 100, MaxRetries: 1, RetryBackoff: time.Millisecond},
		client, &memorySink{}, Options{})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	if _, err := runner.Run(context.Background()); err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if n := backend.Requests("eth_getLogs"); n != 2 {
		t.Fatalf("expected 2 attempts, got %d", n)
	}
}
