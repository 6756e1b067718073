package aggregate

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"ammScope/internal/fixedpoint"
	"ammScope/internal/model"
)

// RatePlaces is the precision of every published rate.
const RatePlaces = 5

// RatePoint is one point of the exchange-rate chart: token2 per token1 after a swap.
type RatePoint struct {
	Seq       uint64 `json:"seq"`
	Timestamp uint64 `json:"timestamp"`
	Rate      string `json:"rate"`
}

// RateSeries returns the post-swap exchange rate of every record, in order.
func RateSeries(records []model.SwapRecord, pair Pair) ([]RatePoint, error) {
	out := make([]RatePoint, 0, len(records))
	for _, rec := range records {
		rate, err := pair.rate(rec.Token1Balance, rec.Token2Balance)
		if err != nil {
			return nil, fmt.Errorf("rate of swap %s: %w", rec.Key(), err)
		}
		out = append(out, RatePoint{Seq: rec.Seq, Timestamp: rec.Timestamp, Rate: formatRate(rate)})
	}
	return out, nil
}

// rate scales both balances to token units before dividing, so pairs with
// different decimals chart correctly.
func (p Pair) rate(token1Balance, token2Balance *uint256.Int) (*big.Rat, error) {
	if token1Balance == nil || token1Balance.IsZero() {
		return nil, fixedpoint.ErrDivisionByZero
	}
	num := new(big.Int).Mul(token2Balance.ToBig(), pow10(p.Decimals1))
	den := new(big.Int).Mul(token1Balance.ToBig(), pow10(p.Decimals2))
	return new(big.Rat).SetFrac(num, den), nil
}

func formatRate(rate *big.Rat) string {
	if rate == nil {
		return "0"
	}
	return rate.FloatString(RatePlaces)
}

func formatTokenAmount(value *uint256.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	if decimals == 0 {
		return value.ToBig().String()
	}
	rat := new(big.Rat).SetFrac(value.ToBig(), pow10(decimals))
	return rat.FloatString(int(decimals))
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
