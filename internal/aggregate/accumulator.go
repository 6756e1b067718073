package aggregate

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"ammScope/internal/fixedpoint"
	"ammScope/internal/model"
)

// Pair identifies the pool's tokens and their decimals.
type Pair struct {
	Token1    common.Address
	Token2    common.Address
	Decimals1 uint8
	Decimals2 uint8
}

// Accumulator holds aggregate values for one pool window.
type Accumulator struct {
	pair          Pair
	WindowStart   uint64
	WindowEnd     uint64
	SwapCount     uint64
	Open          *big.Rat
	High          *big.Rat
	Low           *big.Rat
	Close         *big.Rat
	Volume1       *uint256.Int
	Volume2       *uint256.Int
	Token1Balance *uint256.Int
	Token2Balance *uint256.Int
}

func NewAccumulator(pair Pair, windowStart, windowEnd uint64) *Accumulator {
	return &Accumulator{
		pair:        pair,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Volume1:     fixedpoint.Zero(),
		Volume2:     fixedpoint.Zero(),
	}
}

// AddSwap folds a swap into the window. Records must arrive in time order.
func (a *Accumulator) AddSwap(rec model.SwapRecord) error {
	var in1, in2 *uint256.Int
	switch {
	case rec.TokenGive == a.pair.Token1 && rec.TokenGet == a.pair.Token2:
		in1, in2 = rec.AmountGive, rec.AmountGet
	case rec.TokenGive == a.pair.Token2 && rec.TokenGet == a.pair.Token1:
		in1, in2 = rec.AmountGet, rec.AmountGive
	default:
		return fmt.Errorf("swap %s trades %s for %s, not the pool pair", rec.Key(), rec.TokenGive.Hex(), rec.TokenGet.Hex())
	}
	if in1 == nil || in2 == nil {
		return fmt.Errorf("swap %s has no amounts", rec.Key())
	}

	rate, err := a.pair.rate(rec.Token1Balance, rec.Token2Balance)
	if err != nil {
		return fmt.Errorf("swap %s: %w", rec.Key(), err)
	}
	volume1, err := fixedpoint.Add(a.Volume1, in1)
	if err != nil {
		return fmt.Errorf("token1 volume: %w", err)
	}
	volume2, err := fixedpoint.Add(a.Volume2, in2)
	if err != nil {
		return fmt.Errorf("token2 volume: %w", err)
	}

	if a.SwapCount == 0 {
		a.Open = rate
		a.High = rate
		a.Low = rate
	} else {
		if rate.Cmp(a.High) > 0 {
			a.High = rate
		}
		if rate.Cmp(a.Low) < 0 {
			a.Low = rate
		}
	}
	a.Close = rate
	a.Volume1 = volume1
	a.Volume2 = volume2
	a.Token1Balance = fixedpoint.Clone(rec.Token1Balance)
	a.Token2Balance = fixedpoint.Clone(rec.Token2Balance)
	a.SwapCount++
	return nil
}

// Window renders the accumulator as a persisted price window.
func (a *Accumulator) Window(pool common.Address) model.PriceWindow {
	return model.PriceWindow{
		PoolAddress:    pool.Hex(),
		WindowSizeSecs: int64(a.WindowEnd - a.WindowStart),
		WindowStart:    time.Unix(int64(a.WindowStart), 0).UTC(),
		WindowEnd:      time.Unix(int64(a.WindowEnd), 0).UTC(),
		SwapCount:      a.SwapCount,
		Open:           formatRate(a.Open),
		High:           formatRate(a.High),
		Low:            formatRate(a.Low),
		Close:          formatRate(a.Close),
		Volume1:        formatTokenAmount(a.Volume1, a.pair.Decimals1),
		Volume2:        formatTokenAmount(a.Volume2, a.pair.Decimals2),
		Token1Balance:  formatTokenAmount(a.Token1Balance, a.pair.Decimals1),
		Token2Balance:  formatTokenAmount(a.Token2Balance, a.pair.Decimals2),
	}
}
