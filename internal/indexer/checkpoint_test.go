package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "checkpoint.json")
	store := NewCheckpointStore(path, syncPool)
	ctx := context.Background()

	if _, ok, err := store.Load(ctx); err != nil || ok {
		t.Fatalf("missing checkpoint: ok=%v err=%v", ok, err)
	}
	if err := store.Save(ctx, 42); err != nil {
		t.Fatalf("save: %v", err)
	}
	last, ok, err := store.Load(ctx)
	if err != nil || !ok || last != 42 {
		t.Fatalf("load: %d %v %v", last, ok, err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("tmp file left behind: %v", err)
	}
}

func TestCheckpointHonoursCancelledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := NewCheckpointStore(path, common.HexToAddress("0x01"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Save(ctx, 7); !errors.Is(err, context.Canceled) {
		t.Fatalf("save with cancelled context: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("cancelled save wrote the file: %v", err)
	}
	if _, _, err := store.Load(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("load with cancelled context: %v", err)
	}
}
