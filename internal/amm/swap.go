package amm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"ammScope/internal/fixedpoint"
	"ammScope/internal/ledger"
	"ammScope/internal/model"
)

type swapQuote struct {
	tokenIn    common.Address
	tokenOut   common.Address
	amountIn   *uint256.Int
	amountOut  *uint256.Int
	reserveIn  *uint256.Int
	reserveOut *uint256.Int
}

// QuoteSwap returns how much of the other token amountIn of given buys now.
// The output is rounded so K never decreases, which makes it one unit lower
// than a plain floor of Rout - K/(Rin+amountIn) whenever that division is
// inexact. The deployed contract floors, so mirror quotes usually differ from
// its calculate calls by that one unit.
func (e *Engine) QuoteSwap(given common.Address, amountIn *uint256.Int) (*uint256.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	q, err := e.quoteSwapLocked(given, amountIn)
	if err != nil {
		return nil, err
	}
	return q.amountOut, nil
}

func (e *Engine) CalculateToken1Swap(amount1 *uint256.Int) (*uint256.Int, error) {
	return e.QuoteSwap(e.cfg.Token1, amount1)
}

func (e *Engine) CalculateToken2Swap(amount2 *uint256.Int) (*uint256.Int, error) {
	return e.QuoteSwap(e.cfg.Token2, amount2)
}

// quoteSwapLocked prices a trade against the current reserves. The output
// is Rout - ceil(Rin*Rout / (Rin+amountIn)), so K never decreases.
func (e *Engine) quoteSwapLocked(given common.Address, amountIn *uint256.Int) (swapQuote, error) {
	rin, rout, tokenOut, err := e.sidesLocked(given)
	if err != nil {
		return swapQuote{}, err
	}
	if isZero(amountIn) {
		return swapQuote{}, fmt.Errorf("%w: swap amount must be positive", ErrInvalidAmount)
	}
	if rin.IsZero() || rout.IsZero() {
		return swapQuote{}, ErrEmptyPool
	}

	k, err := fixedpoint.Mul(rin, rout)
	if err != nil {
		return swapQuote{}, fmt.Errorf("compute invariant: %w", err)
	}
	x, err := fixedpoint.Add(rin, amountIn)
	if err != nil {
		return swapQuote{}, fmt.Errorf("add input reserve: %w", err)
	}
	y, err := fixedpoint.Div(k, x)
	if err != nil {
		return swapQuote{}, err
	}
	out := new(uint256.Int).Sub(rout, y)
	if out.Cmp(rout) >= 0 {
		return swapQuote{}, fmt.Errorf("%w: %s in would drain %s out", ErrInsufficientOutputReserve,
			fixedpoint.Format(amountIn), fixedpoint.Format(rout))
	}

	post, err := fixedpoint.Mul(x, y)
	if err != nil {
		return swapQuote{}, err
	}
	if post.Lt(k) {
		out.SubUint64(out, 1)
		y.AddUint64(y, 1)
	}
	if out.IsZero() {
		return swapQuote{}, fmt.Errorf("%w: swap of %s too small for any output", ErrInvalidAmount, fixedpoint.Format(amountIn))
	}

	return swapQuote{
		tokenIn:    given,
		tokenOut:   tokenOut,
		amountIn:   fixedpoint.Clone(amountIn),
		amountOut:  out,
		reserveIn:  x,
		reserveOut: y,
	}, nil
}

// Swap sells amountIn of given for the other token. The price is re-derived
// under the write lock, so it may differ from an earlier quote.
func (e *Engine) Swap(caller, given common.Address, amountIn *uint256.Int) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	q, err := e.quoteSwapLocked(given, amountIn)
	if err != nil {
		e.logger.Debug("swap rejected", zap.String("caller", caller.Hex()), zap.Error(err))
		return nil, err
	}

	err = e.settle([]ledger.Transfer{
		{Token: q.tokenIn, From: caller, To: e.cfg.Pool, Spender: e.cfg.Pool, Amount: q.amountIn},
		{Token: q.tokenOut, From: e.cfg.Pool, To: caller, Amount: q.amountOut},
	})
	if err != nil {
		e.logger.Debug("swap rejected", zap.String("caller", caller.Hex()), zap.Error(err))
		return nil, err
	}

	if q.tokenIn == e.cfg.Token1 {
		e.token1Balance, e.token2Balance = q.reserveIn, q.reserveOut
	} else {
		e.token2Balance, e.token1Balance = q.reserveIn, q.reserveOut
	}

	ts := e.now()
	if n := len(e.swaps); n > 0 && e.swaps[n-1].Timestamp > ts {
		ts = e.swaps[n-1].Timestamp
	}
	rec := model.SwapRecord{
		Seq:           uint64(len(e.swaps)) + 1,
		User:          caller,
		TokenGive:     q.tokenIn,
		AmountGive:    q.amountIn,
		TokenGet:      q.tokenOut,
		AmountGet:     fixedpoint.Clone(q.amountOut),
		Token1Balance: fixedpoint.Clone(e.token1Balance),
		Token2Balance: fixedpoint.Clone(e.token2Balance),
		Timestamp:     ts,
	}
	e.swaps = append(e.swaps, rec)

	e.logger.Debug("swap",
		zap.Uint64("seq", rec.Seq),
		zap.String("caller", caller.Hex()),
		zap.String("token_in", q.tokenIn.Hex()),
		zap.String("amount_in", fixedpoint.Format(q.amountIn)),
		zap.String("amount_out", fixedpoint.Format(q.amountOut)),
	)
	return fixedpoint.Clone(q.amountOut), nil
}

func (e *Engine) SwapToken1(caller common.Address, amount1 *uint256.Int) (*uint256.Int, error) {
	return e.Swap(caller, e.cfg.Token1, amount1)
}

func (e *Engine) SwapToken2(caller common.Address, amount2 *uint256.Int) (*uint256.Int, error) {
	return e.Swap(caller, e.cfg.Token2, amount2)
}
