package model

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"ammScope/internal/fixedpoint"
)

// SwapRecord is an immutable entry of the swap log.
type SwapRecord struct {
	Seq           uint64
	User          common.Address
	TokenGive     common.Address
	AmountGive    *uint256.Int
	TokenGet      common.Address
	AmountGet     *uint256.Int
	Token1Balance *uint256.Int
	Token2Balance *uint256.Int
	Timestamp     uint64
	Source        *ChainRef
}

// ChainRef locates a record mirrored from a deployed pool.
type ChainRef struct {
	ChainID     uint64 `json:"chain_id"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
}

type swapRecordJSON struct {
	Seq           uint64    `json:"seq"`
	User          string    `json:"user"`
	TokenGive     string    `json:"token_give"`
	AmountGive    string    `json:"amount_give"`
	TokenGet      string    `json:"token_get"`
	AmountGet     string    `json:"amount_get"`
	Token1Balance string    `json:"token1_balance"`
	Token2Balance string    `json:"token2_balance"`
	Timestamp     uint64    `json:"timestamp"`
	Source        *ChainRef `json:"source,omitempty"`
}

// Clone returns a deep copy so callers never share amount pointers with the log.
func (r SwapRecord) Clone() SwapRecord {
	out := r
	out.AmountGive = fixedpoint.Clone(r.AmountGive)
	out.AmountGet = fixedpoint.Clone(r.AmountGet)
	out.Token1Balance = fixedpoint.Clone(r.Token1Balance)
	out.Token2Balance = fixedpoint.Clone(r.Token2Balance)
	if r.Source != nil {
		src := *r.Source
		out.Source = &src
	}
	return out
}

// Key identifies a record across sinks: chain provenance when present, otherwise the sequence.
func (r SwapRecord) Key() string {
	if r.Source != nil {
		return fmt.Sprintf("%d:%s:%d", r.Source.BlockNumber, r.Source.TxHash, r.Source.LogIndex)
	}
	return fmt.Sprintf("seq:%d", r.Seq)
}

// MarshalJSON encodes amounts as decimal strings of raw units.
func (r SwapRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(swapRecordJSON{
		Seq:           r.Seq,
		User:          r.User.Hex(),
		TokenGive:     r.TokenGive.Hex(),
		AmountGive:    fixedpoint.Units(r.AmountGive),
		TokenGet:      r.TokenGet.Hex(),
		AmountGet:     fixedpoint.Units(r.AmountGet),
		Token1Balance: fixedpoint.Units(r.Token1Balance),
		Token2Balance: fixedpoint.Units(r.Token2Balance),
		Timestamp:     r.Timestamp,
		Source:        r.Source,
	})
}

// UnmarshalJSON decodes a SwapRecord written by MarshalJSON.
func (r *SwapRecord) UnmarshalJSON(data []byte) error {
	var raw swapRecordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	for _, addr := range []string{raw.User, raw.TokenGive, raw.TokenGet} {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid address: %q", addr)
		}
	}

	amounts := make([]*uint256.Int, 0, 4)
	for _, value := range []string{raw.AmountGive, raw.AmountGet, raw.Token1Balance, raw.Token2Balance} {
		parsed, err := fixedpoint.ParseUnits(value)
		if err != nil {
			return err
		}
		amounts = append(amounts, parsed)
	}

	*r = SwapRecord{
		Seq:           raw.Seq,
		User:          common.HexToAddress(raw.User),
		TokenGive:     common.HexToAddress(raw.TokenGive),
		AmountGive:    amounts[0],
		TokenGet:      common.HexToAddress(raw.TokenGet),
		AmountGet:     amounts[1],
		Token1Balance: amounts[2],
		Token2Balance: amounts[3],
		Timestamp:     raw.Timestamp,
		Source:        raw.Source,
	}
	return nil
}
