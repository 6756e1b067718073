package indexer

import (
	"math"
	"reflect"
	"testing"
)

func TestBatches(t *testing.T) {
	got, err := BlockRange{From: 1, To: 30}.Batches(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []BlockRange{
		{From: 1, To: 10},
		{From: 11, To: 20},
		{From: 21, To: 30},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ranges mismatch: %+v != %+v", got, want)
	}
}

func TestBatchesShortTail(t *testing.T) {
	got, err := BlockRange{From: 100, To: 104}.Batches(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []BlockRange{{From: 100, To: 101}, {From: 102, To: 103}, {From: 104, To: 104}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ranges mismatch: %+v != %+v", got, want)
	}
}

func TestBatchesNearMaxBlock(t *testing.T) {
	got, err := BlockRange{From: math.MaxUint64 - 2, To: math.MaxUint64}.Batches(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []BlockRange{
		{From: math.MaxUint64 - 2, To: math.MaxUint64 - 1},
		{From: math.MaxUint64, To: math.MaxUint64},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ranges mismatch: %+v != %+v", got, want)
	}
}

func TestBatchesInvalid(t *testing.T) {
	if _, err := (BlockRange{From: 10, To: 9}).Batches(1); err == nil {
		t.Fatalf("expected error for inverted range")
	}
	if _, err := (BlockRange{From: 1, To: 10}).Batches(0); err == nil {
		t.Fatalf("expected error for zero batch size")
	}
}

func TestResume(t *testing.T) {
	span := BlockRange{From: 10, To: 20}

	if got, ok := span.Resume(5); !ok || got != span {
		t.Fatalf("checkpoint before range: %+v %v", got, ok)
	}
	if got, ok := span.Resume(14); !ok || got != (BlockRange{From: 15, To: 20}) {
		t.Fatalf("checkpoint inside range: %+v %v", got, ok)
	}
	if _, ok := span.Resume(20); ok {
		t.Fatalf("expected nothing left after the last block")
	}
}
