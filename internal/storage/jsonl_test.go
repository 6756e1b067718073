package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"ammScope/internal/model"
)

func swapAt(seq, ts uint64) model.SwapRecord {
	return model.SwapRecord{
		Seq:           seq,
		User:          common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		TokenGive:     common.HexToAddress("0x0000000000000000000000000000000000000001"),
		AmountGive:    uint256.NewInt(10),
		TokenGet:      common.HexToAddress("0x0000000000000000000000000000000000000002"),
		AmountGet:     uint256.NewInt(9),
		Token1Balance: uint256.NewInt(110),
		Token2Balance: uint256.NewInt(91),
		Timestamp:     ts,
	}
}

func TestJsonlSwapRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "swaps.jsonl")
	store := NewJsonlStorage(path)
	ctx := context.Background()

	first := []model.SwapRecord{swapAt(1, 100), swapAt(2, 200)}
	second := []model.SwapRecord{swapAt(3, 300)}
	if err := store.PutSwapBatch(ctx, first); err != nil {
		t.Fatalf("put first batch: %v", err)
	}
	if err := store.PutSwapBatch(ctx, second); err != nil {
		t.Fatalf("put second batch: %v", err)
	}

	all, err := store.ReadSwaps(ctx, 0, 0)
	if err != nil {
		t.Fatalf("read swaps: %v", err)
	}
	want := append(append([]model.SwapRecord{}, first...), second...)
	if !reflect.DeepEqual(all, want) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", all, want)
	}

	ranged, err := store.ReadSwaps(ctx, 150, 300)
	if err != nil {
		t.Fatalf("read range: %v", err)
	}
	if len(ranged) != 2 || ranged[0].Seq != 2 || ranged[1].Seq != 3 {
		t.Fatalf("unexpected range %+v", ranged)
	}
}

func TestJsonlReadMissingFile(t *testing.T) {
	store := NewJsonlStorage(filepath.Join(t.TempDir(), "absent.jsonl"))
	got, err := store.ReadSwaps(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("read missing file: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no records, got %d", len(got))
	}
}

func TestJsonlReadRejectsCorruptLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swaps.jsonl")
	if err := os.WriteFile(path, []byte("{\"seq\":1}\nnot json\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	_, err := NewJsonlStorage(path).ReadSwaps(context.Background(), 0, 0)
	if err == nil || !strings.Contains(err.Error(), "line 1") {
		t.Fatalf("expected decode error on line 1, got %v", err)
	}
}

type failingSink struct{ calls int }

func (f *failingSink) PutSwapBatch(ctx context.Context, records []model.SwapRecord) error {
	f.calls++
	return errors.New("sink down")
}

func TestSinksAttemptsEverySink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swaps.jsonl")
	bad := &failingSink{}
	sinks := Sinks{bad, NewJsonlStorage(path)}

	err := sinks.PutSwapBatch(context.Background(), []model.SwapRecord{swapAt(1, 1)})
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if bad.calls != 1 {
		t.Fatalf("failing sink called %d times", bad.calls)
	}
	got, err := NewJsonlStorage(path).ReadSwaps(context.Background(), 0, 0)
	if err != nil || len(got) != 1 {
		t.Fatalf("healthy sink missed the batch: %v, %d records", err, len(got))
	}
}
