package contract

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"ammScope/internal/model"
)

const maxParallelCalls = 8

// Caller issues read-only contract calls. *chain.Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// FetchPoolState reads the pool's tokens, reserves, total shares and the
// shares of each holder at blockNumber (0 means latest). Holders not listed
// are absent from Shares, so their sum may be below TotalShares.
func FetchPoolState(ctx context.Context, caller Caller, pool common.Address, holders []common.Address, blockNumber uint64) (model.PoolState, error) {
	if caller == nil {
		return model.PoolState{}, fmt.Errorf("chain client is nil")
	}
	parsed, err := AMMABI()
	if err != nil {
		return model.PoolState{}, fmt.Errorf("parse amm abi: %w", err)
	}
	block := blockArg(blockNumber)

	state := model.PoolState{
		Address:     pool,
		Shares:      make(map[common.Address]*uint256.Int, len(holders)),
		BlockNumber: blockNumber,
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelCalls)

	addressCall := func(method string, dst *common.Address) {
		g.Go(func() error {
			values, err := callMethod(gctx, caller, pool, parsed, method, block)
			if err != nil {
				return err
			}
			addr, err := asAddress(values[0])
			if err != nil {
				return fmt.Errorf("%s: %w", method, err)
			}
			mu.Lock()
			*dst = addr
			mu.Unlock()
			return nil
		})
	}
	amountCall := func(method string, dst **uint256.Int) {
		g.Go(func() error {
			values, err := callMethod(gctx, caller, pool, parsed, method, block)
			if err != nil {
				return err
			}
			amount, err := asUint256(values[0])
			if err != nil {
				return fmt.Errorf("%s: %w", method, err)
			}
			mu.Lock()
			*dst = amount
			mu.Unlock()
			return nil
		})
	}

	addressCall("token1", &state.Token1)
	addressCall("token2", &state.Token2)
	amountCall("token1Balance", &state.Token1Balance)
	amountCall("token2Balance", &state.Token2Balance)
	amountCall("totalShares", &state.TotalShares)
	for _, holder := range holders {
		g.Go(func() error {
			values, err := callMethod(gctx, caller, pool, parsed, "shares", block, holder)
			if err != nil {
				return err
			}
			amount, err := asUint256(values[0])
			if err != nil {
				return fmt.Errorf("shares(%s): %w", holder.Hex(), err)
			}
			mu.Lock()
			state.Shares[holder] = amount
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return model.PoolState{}, err
	}
	return state, nil
}

// FetchInvariant reads the K value the contract stores.
func FetchInvariant(ctx context.Context, caller Caller, pool common.Address, blockNumber uint64) (*uint256.Int, error) {
	return callAmount(ctx, caller, pool, "K", blockNumber)
}

// QuoteSwap asks the deployed pool what amountIn of token1 (or token2 when
// token1 is false) would return at blockNumber (0 means latest).
func QuoteSwap(ctx context.Context, caller Caller, pool common.Address, token1 bool, amountIn *uint256.Int, blockNumber uint64) (*uint256.Int, error) {
	method := "calculateToken2Swap"
	if token1 {
		method = "calculateToken1Swap"
	}
	return callAmount(ctx, caller, pool, method, blockNumber, amountIn.ToBig())
}

func callAmount(ctx context.Context, caller Caller, pool common.Address, method string, blockNumber uint64, args ...interface{}) (*uint256.Int, error) {
	if caller == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	parsed, err := AMMABI()
	if err != nil {
		return nil, fmt.Errorf("parse amm abi: %w", err)
	}
	values, err := callMethod(ctx, caller, pool, parsed, method, blockArg(blockNumber), args...)
	if err != nil {
		return nil, err
	}
	amount, err := asUint256(values[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return amount, nil
}

func callMethod(ctx context.Context, caller Caller, to common.Address, parsed abi.ABI, method string, block *big.Int, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	resp, err := caller.CallContract(ctx, msg, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("unpack %s: empty result", method)
	}
	return values, nil
}

func blockArg(blockNumber uint64) *big.Int {
	if blockNumber == 0 {
		return nil
	}
	return new(big.Int).SetUint64(blockNumber)
}
