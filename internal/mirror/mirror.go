// Package mirror seeds a local engine from a deployed pool and checks the
// two agree.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"ammScope/internal/amm"
	"ammScope/internal/contract"
	"ammScope/internal/fixedpoint"
	"ammScope/internal/ledger"
	"ammScope/internal/model"
)

// ErrReadOnly is returned when a mirrored engine is asked to move funds.
var ErrReadOnly = errors.New("mirrored pool is read-only")

type readOnlyLedger struct{}

func (readOnlyLedger) Settle([]ledger.Transfer) error { return ErrReadOnly }

// Report describes a deployed pool next to its local mirror.
type Report struct {
	State  model.PoolState
	Token1 model.TokenMeta
	Token2 model.TokenMeta
	// Unattributed is the part of TotalShares held by addresses that were
	// not queried; it is booked to the pool address in the mirror.
	Unattributed *uint256.Int
	ChainK       *uint256.Int
	LocalK       *uint256.Int
	// Held is what the pool actually owns per token.balanceOf; it exceeds
	// the tracked balances when tokens were sent to the pool directly.
	Held1  *uint256.Int
	Held2  *uint256.Int
	Price1 string
	Price2 string
	Quotes []QuoteCheck
}

// QuoteCheck compares a local quote with the deployed pool's calculate call.
type QuoteCheck struct {
	Given    common.Address
	AmountIn *uint256.Int
	Local    *uint256.Int
	LocalErr error
	Chain    *uint256.Int
	ChainErr error
}

// Match reports whether both sides produced the same amount.
func (q QuoteCheck) Match() bool {
	return q.LocalErr == nil && q.ChainErr == nil && q.Local.Eq(q.Chain)
}

// Mirror reads one deployed pool.
type Mirror struct {
	caller contract.Caller
	pool   common.Address
	tokens *contract.TokenMetaCache
	logger *zap.Logger
}

func New(caller contract.Caller, pool common.Address, logger *zap.Logger) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{
		caller: caller,
		pool:   pool,
		tokens: contract.NewTokenMetaCache(),
		logger: logger.With(zap.String("pool", pool.Hex())),
	}
}

// Load fetches the pool at blockNumber (0 means latest) and restores it into
// a read-only engine that can quote but not execute.
func (m *Mirror) Load(ctx context.Context, holders []common.Address, blockNumber uint64) (*amm.Engine, model.PoolState, *uint256.Int, error) {
	state, err := contract.FetchPoolState(ctx, m.caller, m.pool, holders, blockNumber)
	if err != nil {
		return nil, model.PoolState{}, nil, fmt.Errorf("fetch pool state: %w", err)
	}
	if state.TotalShares == nil || state.Token1Balance == nil || state.Token2Balance == nil {
		return nil, model.PoolState{}, nil, fmt.Errorf("incomplete pool state")
	}

	sum := fixedpoint.Zero()
	for _, v := range state.Shares {
		if sum, err = fixedpoint.Add(sum, v); err != nil {
			return nil, model.PoolState{}, nil, err
		}
	}
	if sum.Gt(state.TotalShares) {
		return nil, model.PoolState{}, nil, fmt.Errorf("holder shares %s exceed total %s", fixedpoint.Format(sum), fixedpoint.Format(state.TotalShares))
	}
	unattributed := new(uint256.Int).Sub(state.TotalShares, sum)

	seeded := state
	seeded.Shares = make(map[common.Address]*uint256.Int, len(state.Shares)+1)
	for id, v := range state.Shares {
		seeded.Shares[id] = v
	}
	if !unattributed.IsZero() {
		prev := seeded.Shares[m.pool]
		if prev == nil {
			prev = fixedpoint.Zero()
		}
		seeded.Shares[m.pool] = new(uint256.Int).Add(prev, unattributed)
	}

	engine, err := amm.NewEngine(amm.Config{
		Pool:   m.pool,
		Token1: state.Token1,
		Token2: state.Token2,
		Clock:  time.Now,
	}, readOnlyLedger{}, m.logger)
	if err != nil {
		return nil, model.PoolState{}, nil, err
	}
	if err := engine.Restore(seeded); err != nil {
		return nil, model.PoolState{}, nil, fmt.Errorf("restore pool: %w", err)
	}
	return engine, state, unattributed, nil
}

// Report loads the pool and gathers token metadata, K, held balances, spot
// prices and, when quoteIn is set, local versus on-chain swap quotes.
func (m *Mirror) Report(ctx context.Context, holders []common.Address, blockNumber uint64, quoteIn *uint256.Int) (Report, error) {
	engine, state, unattributed, err := m.Load(ctx, holders, blockNumber)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		State:        state,
		Token1:       m.tokens.Resolve(ctx, m.caller, state.Token1, m.logger),
		Token2:       m.tokens.Resolve(ctx, m.caller, state.Token2, m.logger),
		Unattributed: unattributed,
	}

	if report.ChainK, err = contract.FetchInvariant(ctx, m.caller, m.pool, blockNumber); err != nil {
		return Report{}, fmt.Errorf("fetch K: %w", err)
	}
	if report.LocalK, err = engine.Invariant(); err != nil {
		return Report{}, err
	}
	if report.Held1, err = contract.BalanceOf(ctx, m.caller, state.Token1, m.pool, blockNumber); err != nil {
		return Report{}, fmt.Errorf("token1 balanceOf: %w", err)
	}
	if report.Held2, err = contract.BalanceOf(ctx, m.caller, state.Token2, m.pool, blockNumber); err != nil {
		return Report{}, fmt.Errorf("token2 balanceOf: %w", err)
	}

	if engine.State() == amm.StateActive {
		if report.Price1, err = engine.SpotPrice(state.Token1); err != nil {
			return Report{}, err
		}
		if report.Price2, err = engine.SpotPrice(state.Token2); err != nil {
			return Report{}, err
		}
	}

	if quoteIn != nil && !quoteIn.IsZero() {
		for _, given := range []common.Address{state.Token1, state.Token2} {
			check := QuoteCheck{Given: given, AmountIn: fixedpoint.Clone(quoteIn)}
			check.Local, check.LocalErr = engine.QuoteSwap(given, quoteIn)
			check.Chain, check.ChainErr = contract.QuoteSwap(ctx, m.caller, m.pool, given == state.Token1, quoteIn, blockNumber)
			if !check.Match() {
				m.logger.Warn("quote mismatch",
					zap.String("given", given.Hex()),
					zap.String("amount_in", fixedpoint.Format(quoteIn)),
					zap.String("local", formatOrErr(check.Local, check.LocalErr)),
					zap.String("chain", formatOrErr(check.Chain, check.ChainErr)),
				)
			}
			report.Quotes = append(report.Quotes, check)
		}
	}

	m.logger.Info("pool mirrored",
		zap.Uint64("block", blockNumber),
		zap.String("token1_balance", fixedpoint.Format(state.Token1Balance)),
		zap.String("token2_balance", fixedpoint.Format(state.Token2Balance)),
		zap.String("total_shares", fixedpoint.Format(state.TotalShares)),
	)
	return report, nil
}

func formatOrErr(v *uint256.Int, err error) string {
	if err != nil {
		return err.Error()
	}
	return fixedpoint.Format(v)
}
