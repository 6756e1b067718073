package model

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func TestSwapRecordJSONRoundTrip(t *testing.T) {
	original := SwapRecord{
		Seq:           3,
		User:          common.HexToAddress("0x1111111111111111111111111111111111111111"),
		TokenGive:     common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		AmountGive:    uint256.NewInt(1_000_000_000_000_000_000),
		TokenGet:      common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"),
		AmountGet:     uint256.NewInt(999_990_000_099_999),
		Token1Balance: uint256.NewInt(101),
		Token2Balance: uint256.NewInt(99),
		Timestamp:     1700000000,
		Source: &ChainRef{
			ChainID:     31337,
			BlockNumber: 12,
			TxHash:      "0xdef456",
			LogIndex:    2,
		},
	}

	b, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded SwapRecord
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if !reflect.DeepEqual(original, decoded) {
		t.Fatalf("round-trip mismatch: %+v != %+v", original, decoded)
	}
}

func TestSwapRecordAmountsAreStrings(t *testing.T) {
	record := SwapRecord{
		AmountGive:    uint256.NewInt(12345),
		AmountGet:     uint256.NewInt(42),
		Token1Balance: uint256.NewInt(1),
		Token2Balance: uint256.NewInt(2),
	}

	data, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	for _, key := range []string{"amount_give", "amount_get", "token1_balance", "token2_balance"} {
		if _, ok := decoded[key].(string); !ok {
			t.Fatalf("%s should be string", key)
		}
	}
	if decoded["amount_give"] != "12345" {
		t.Fatalf("amount_give mismatch: %v", decoded["amount_give"])
	}
	if _, ok := decoded["source"]; ok {
		t.Fatalf("source should be omitted when empty")
	}
}

func TestSwapRecordCloneIsDeep(t *testing.T) {
	record := SwapRecord{
		AmountGive:    uint256.NewInt(5),
		AmountGet:     uint256.NewInt(4),
		Token1Balance: uint256.NewInt(3),
		Token2Balance: uint256.NewInt(2),
	}
	clone := record.Clone()
	clone.AmountGive.SetUint64(50)
	if record.AmountGive.Uint64() != 5 {
		t.Fatalf("clone shares amount pointer")
	}
}

func TestSwapRecordRejectsBadAddress(t *testing.T) {
	payload := []byte(`{"user":"nope","token_give":"0x","token_get":"0x","amount_give":"1","amount_get":"1","token1_balance":"1","token2_balance":"1"}`)
	var decoded SwapRecord
	if err := json.Unmarshal(payload, &decoded); err == nil {
		t.Fatalf("expected error for invalid address")
	}
}
