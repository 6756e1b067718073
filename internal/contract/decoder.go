package contract

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"ammScope/internal/fixedpoint"
	"ammScope/internal/model"
)

// SwapDecoder converts pool Swap logs into swap records.
type SwapDecoder struct {
	event abi.Event
}

func NewSwapDecoder() (*SwapDecoder, error) {
	parsed, err := AMMABI()
	if err != nil {
		return nil, fmt.Errorf("parse amm abi: %w", err)
	}
	event, ok := parsed.Events["Swap"]
	if !ok {
		return nil, fmt.Errorf("amm abi has no Swap event")
	}
	return &SwapDecoder{event: event}, nil
}

// Topic is the Swap event signature hash.
func (d *SwapDecoder) Topic() common.Hash {
	return d.event.ID
}

func (d *SwapDecoder) CanDecode(topic0 string) bool {
	return topic0 != "" && strings.EqualFold(topic0, d.event.ID.Hex())
}

// Decode unpacks a Swap log. The event timestamp wins over the block
// timestamp; the latter is used only when the event carries zero.
func (d *SwapDecoder) Decode(lr model.LogRecord) (model.SwapRecord, error) {
	if len(lr.Topics) != 1 {
		return model.SwapRecord{}, fmt.Errorf("expected 1 topic, got %d", len(lr.Topics))
	}
	if !d.CanDecode(lr.Topics[0]) {
		return model.SwapRecord{}, fmt.Errorf("unsupported topic0: %s", lr.Topics[0])
	}

	data, err := hexutil.Decode(lr.Data)
	if err != nil {
		return model.SwapRecord{}, fmt.Errorf("invalid data: %w", err)
	}
	values, err := d.event.Inputs.Unpack(data)
	if err != nil {
		return model.SwapRecord{}, fmt.Errorf("unpack swap: %w", err)
	}
	if len(values) != 8 {
		return model.SwapRecord{}, fmt.Errorf("unexpected swap values: %d", len(values))
	}

	var addrs [3]common.Address
	for i, idx := range []int{0, 1, 3} {
		addr, err := asAddress(values[idx])
		if err != nil {
			return model.SwapRecord{}, fmt.Errorf("swap field %d: %w", idx, err)
		}
		addrs[i] = addr
	}
	var amounts [5]*uint256.Int
	for i, idx := range []int{2, 4, 5, 6, 7} {
		amount, err := asUint256(values[idx])
		if err != nil {
			return model.SwapRecord{}, fmt.Errorf("swap field %d: %w", idx, err)
		}
		amounts[i] = amount
	}
	if !amounts[4].IsUint64() {
		return model.SwapRecord{}, fmt.Errorf("swap timestamp out of range: %s", fixedpoint.Units(amounts[4]))
	}
	ts := amounts[4].Uint64()
	if ts == 0 {
		ts = lr.Timestamp
	}

	return model.SwapRecord{
		User:          addrs[0],
		TokenGive:     addrs[1],
		AmountGive:    amounts[0],
		TokenGet:      addrs[2],
		AmountGet:     amounts[1],
		Token1Balance: amounts[2],
		Token2Balance: amounts[3],
		Timestamp:     ts,
		Source:        lr.Ref(),
	}, nil
}

// Encode packs a record the way the pool contract emits it.
func (d *SwapDecoder) Encode(rec model.SwapRecord) (common.Hash, []byte, error) {
	data, err := d.event.Inputs.Pack(
		rec.User,
		rec.TokenGive,
		fixedpoint.Clone(rec.AmountGive).ToBig(),
		rec.TokenGet,
		fixedpoint.Clone(rec.AmountGet).ToBig(),
		fixedpoint.Clone(rec.Token1Balance).ToBig(),
		fixedpoint.Clone(rec.Token2Balance).ToBig(),
		new(big.Int).SetUint64(rec.Timestamp),
	)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("pack swap: %w", err)
	}
	return d.event.ID, data, nil
}

func asUint256(value interface{}) (*uint256.Int, error) {
	v, ok := value.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %s", v.String())
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("%w: %s", fixedpoint.ErrOverflow, v.String())
	}
	return out, nil
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}
