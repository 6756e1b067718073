package chain

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"ammScope/internal/chain/chaintest"
)

func TestClientBasics(t *testing.T) {
	backend := chaintest.NewBackend(31337)
	backend.SetHead(42)
	client := NewClientFromRPC(backend.Dial(t))
	ctx := context.Background()

	id, err := client.ChainID(ctx)
	if err != nil {
		t.Fatalf("chain id: %v", err)
	}
	if id != 31337 {
		t.Fatalf("chain id %d", id)
	}
	head, err := client.LatestBlockNumber(ctx)
	if err != nil {
		t.Fatalf("latest block: %v", err)
	}
	if head != 42 {
		t.Fatalf("head %d", head)
	}
}

func TestBlockTimestampIsCached(t *testing.T) {
	backend := chaintest.NewBackend(1)
	backend.SetHead(10)
	backend.SetBlockTime(7, 1_700_000_123)
	client := NewClientFromRPC(backend.Dial(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ts, err := client.BlockTimestamp(ctx, 7)
		if err != nil {
			t.Fatalf("block timestamp: %v", err)
		}
		if ts != 1_700_000_123 {
			t.Fatalf("timestamp %d", ts)
		}
	}
	if n := backend.Requests("eth_getBlockByNumber"); n != 1 {
		t.Fatalf("expected one header request, got %d", n)
	}
}

func TestFilterLogsByAddressAndTopic(t *testing.T) {
	pool := common.HexToAddress("0x00000000000000000000000000000000000a3300")
	other := common.HexToAddress("0x0000000000000000000000000000000000000bad")
	swapTopic := common.HexToHash("0x01")
	otherTopic := common.HexToHash("0x02")

	backend := chaintest.NewBackend(1)
	backend.SetHead(100)
	backend.AddLogs(
		testLog(pool, swapTopic, 5, 0),
		testLog(pool, otherTopic, 6, 0),
		testLog(other, swapTopic, 7, 0),
		testLog(pool, swapTopic, 50, 3),
		testLog(pool, swapTopic, 90, 1),
	)
	client := NewClientFromRPC(backend.Dial(t))

	logs, err := client.FilterLogs(context.Background(), 1, 60, []common.Address{pool}, []common.Hash{swapTopic})
	if err != nil {
		t.Fatalf("filter logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(logs))
	}
	if logs[0].BlockNumber != 5 || logs[1].BlockNumber != 50 || logs[1].Index != 3 {
		t.Fatalf("unexpected logs %+v", logs)
	}
}

func testLog(addr common.Address, topic common.Hash, block uint64, index uint) types.Log {
	return types.Log{
		Address:     addr,
		Topics:      []common.Hash{topic},
		Data:        []byte{},
		BlockNumber: block,
		TxHash:      common.BigToHash(common.Big1),
		TxIndex:     0,
		BlockHash:   common.BigToHash(common.Big2),
		Index:       index,
	}
}
