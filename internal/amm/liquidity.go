package amm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"ammScope/internal/fixedpoint"
	"ammScope/internal/ledger"
)

// Deposit moves amount1 of token1 and amount2 of token2 from caller into the
// pool and mints shares. The first deposit sets the price; later ones must
// match the current reserve ratio.
func (e *Engine) Deposit(caller common.Address, amount1, amount2 *uint256.Int) (*uint256.Int, error) {
	if isZero(amount1) || isZero(amount2) {
		return nil, fmt.Errorf("%w: deposit amounts must be positive", ErrInvalidAmount)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	minted, err := e.mintedSharesLocked(amount1, amount2)
	if err != nil {
		e.logger.Debug("deposit rejected", zap.String("caller", caller.Hex()), zap.Error(err))
		return nil, err
	}

	t1, err := fixedpoint.Add(e.token1Balance, amount1)
	if err != nil {
		return nil, fmt.Errorf("add token1 reserve: %w", err)
	}
	t2, err := fixedpoint.Add(e.token2Balance, amount2)
	if err != nil {
		return nil, fmt.Errorf("add token2 reserve: %w", err)
	}
	total, err := fixedpoint.Add(e.totalShares, minted)
	if err != nil {
		return nil, fmt.Errorf("add total shares: %w", err)
	}
	held, err := fixedpoint.Add(fixedpoint.Clone(e.shares[caller]), minted)
	if err != nil {
		return nil, fmt.Errorf("add caller shares: %w", err)
	}

	err = e.settle([]ledger.Transfer{
		{Token: e.cfg.Token1, From: caller, To: e.cfg.Pool, Spender: e.cfg.Pool, Amount: amount1},
		{Token: e.cfg.Token2, From: caller, To: e.cfg.Pool, Spender: e.cfg.Pool, Amount: amount2},
	})
	if err != nil {
		e.logger.Debug("deposit rejected", zap.String("caller", caller.Hex()), zap.Error(err))
		return nil, err
	}

	e.token1Balance = t1
	e.token2Balance = t2
	e.totalShares = total
	e.shares[caller] = held

	e.logger.Debug("deposit",
		zap.String("caller", caller.Hex()),
		zap.String("amount1", fixedpoint.Format(amount1)),
		zap.String("amount2", fixedpoint.Format(amount2)),
		zap.String("minted", fixedpoint.Format(minted)),
		zap.String("total_shares", fixedpoint.Format(total)),
	)
	return fixedpoint.Clone(minted), nil
}

func (e *Engine) mintedSharesLocked(amount1, amount2 *uint256.Int) (*uint256.Int, error) {
	if e.totalShares.IsZero() {
		return fixedpoint.Clone(amount1), nil
	}
	if e.token1Balance.IsZero() || e.token2Balance.IsZero() {
		return nil, ErrEmptyPool
	}

	// amount1/amount2 must equal the reserve ratio up to one floor step on
	// either side: -token2Balance < amount1*t2 - amount2*t1 < token1Balance.
	lhs, err := fixedpoint.Mul(amount1, e.token2Balance)
	if err != nil {
		return nil, err
	}
	rhs, err := fixedpoint.Mul(amount2, e.token1Balance)
	if err != nil {
		return nil, err
	}
	var ok bool
	if lhs.Cmp(rhs) >= 0 {
		ok = new(uint256.Int).Sub(lhs, rhs).Lt(e.token1Balance)
	} else {
		ok = new(uint256.Int).Sub(rhs, lhs).Lt(e.token2Balance)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s against reserves %s/%s", ErrRatioMismatch,
			fixedpoint.Format(amount1), fixedpoint.Format(amount2),
			fixedpoint.Format(e.token1Balance), fixedpoint.Format(e.token2Balance))
	}

	minted, err := fixedpoint.MulDiv(e.totalShares, amount1, e.token1Balance)
	if err != nil {
		return nil, err
	}
	if minted.IsZero() {
		return nil, fmt.Errorf("%w: deposit too small to mint shares", ErrInvalidAmount)
	}
	return minted, nil
}

// QuoteToken2Deposit returns the token2 amount that must accompany amount1.
func (e *Engine) QuoteToken2Deposit(amount1 *uint256.Int) (*uint256.Int, error) {
	if amount1 == nil {
		return nil, fmt.Errorf("%w: amount is nil", ErrInvalidAmount)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.totalShares.IsZero() {
		return nil, ErrEmptyPool
	}
	return fixedpoint.MulDiv(amount1, e.token2Balance, e.token1Balance)
}

// QuoteToken1Deposit returns the token1 amount that must accompany amount2.
func (e *Engine) QuoteToken1Deposit(amount2 *uint256.Int) (*uint256.Int, error) {
	if amount2 == nil {
		return nil, fmt.Errorf("%w: amount is nil", ErrInvalidAmount)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.totalShares.IsZero() {
		return nil, ErrEmptyPool
	}
	return fixedpoint.MulDiv(amount2, e.token1Balance, e.token2Balance)
}

// Withdraw burns shares and pays out the caller's proportional slice of
// both reserves, rounded down.
func (e *Engine) Withdraw(caller common.Address, shares *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if isZero(shares) {
		return nil, nil, fmt.Errorf("%w: shares to burn must be positive", ErrInvalidAmount)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	amount1, amount2, err := e.withdrawAmountsLocked(shares)
	if err != nil {
		e.logger.Debug("withdraw rejected", zap.String("caller", caller.Hex()), zap.Error(err))
		return nil, nil, err
	}
	held := fixedpoint.Clone(e.shares[caller])
	if held.Lt(shares) {
		err := fmt.Errorf("%w: holds %s, burning %s", ErrInsufficientShares, fixedpoint.Format(held), fixedpoint.Format(shares))
		e.logger.Debug("withdraw rejected", zap.String("caller", caller.Hex()), zap.Error(err))
		return nil, nil, err
	}

	err = e.settle([]ledger.Transfer{
		{Token: e.cfg.Token1, From: e.cfg.Pool, To: caller, Amount: amount1},
		{Token: e.cfg.Token2, From: e.cfg.Pool, To: caller, Amount: amount2},
	})
	if err != nil {
		e.logger.Debug("withdraw rejected", zap.String("caller", caller.Hex()), zap.Error(err))
		return nil, nil, err
	}

	// Each subtrahend is bounded by its minuend, so these cannot underflow.
	e.token1Balance = new(uint256.Int).Sub(e.token1Balance, amount1)
	e.token2Balance = new(uint256.Int).Sub(e.token2Balance, amount2)
	e.totalShares = new(uint256.Int).Sub(e.totalShares, shares)
	e.shares[caller] = held.Sub(held, shares)

	e.logger.Debug("withdraw",
		zap.String("caller", caller.Hex()),
		zap.String("shares", fixedpoint.Format(shares)),
		zap.String("amount1", fixedpoint.Format(amount1)),
		zap.String("amount2", fixedpoint.Format(amount2)),
		zap.Stringer("state", e.stateLocked()),
	)
	return amount1, amount2, nil
}

// QuoteWithdraw returns what burning shares would pay out now. It does not
// check any holder's balance.
func (e *Engine) QuoteWithdraw(shares *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if isZero(shares) {
		return nil, nil, fmt.Errorf("%w: shares to burn must be positive", ErrInvalidAmount)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.withdrawAmountsLocked(shares)
}

func (e *Engine) withdrawAmountsLocked(shares *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if e.totalShares.IsZero() {
		return nil, nil, ErrEmptyPool
	}
	if e.totalShares.Lt(shares) {
		return nil, nil, fmt.Errorf("%w: burning %s of %s outstanding", ErrInsufficientShares,
			fixedpoint.Format(shares), fixedpoint.Format(e.totalShares))
	}
	amount1, err := fixedpoint.MulDiv(e.token1Balance, shares, e.totalShares)
	if err != nil {
		return nil, nil, err
	}
	amount2, err := fixedpoint.MulDiv(e.token2Balance, shares, e.totalShares)
	if err != nil {
		return nil, nil, err
	}
	return amount1, amount2, nil
}
