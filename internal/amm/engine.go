// Package amm implements a two-asset constant-product pool: liquidity
// providers deposit both tokens for shares, traders swap one token for the
// other at a price set only by the reserves. Every rounding step favours the
// pool, so swap outputs can sit one unit below a contract that floors.
package amm

import (
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"ammScope/internal/fixedpoint"
	"ammScope/internal/ledger"
	"ammScope/internal/model"
)

// Ledger settles the token movements of one operation atomically.
type Ledger interface {
	Settle(transfers []ledger.Transfer) error
}

// Config binds an engine to its tokens. Pool is the identity that holds the
// reserves in the ledger and spends depositor allowances.
type Config struct {
	Pool   common.Address
	Token1 common.Address
	Token2 common.Address
	Clock  func() time.Time
}

// State is the pool's macro state.
type State int

const (
	StateEmpty State = iota
	StateActive
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Engine owns one pool. Mutating operations are serialized by mu; quotes and
// queries read a consistent snapshot under the read lock.
type Engine struct {
	cfg    Config
	ledger Ledger
	logger *zap.Logger

	mu            sync.RWMutex
	token1Balance *uint256.Int
	token2Balance *uint256.Int
	totalShares   *uint256.Int
	shares        map[common.Address]*uint256.Int
	swaps         []model.SwapRecord
}

func NewEngine(cfg Config, l Ledger, logger *zap.Logger) (*Engine, error) {
	if l == nil {
		return nil, fmt.Errorf("ledger is nil")
	}
	zero := common.Address{}
	if cfg.Pool == zero || cfg.Token1 == zero || cfg.Token2 == zero {
		return nil, fmt.Errorf("pool, token1 and token2 addresses are required")
	}
	if cfg.Token1 == cfg.Token2 {
		return nil, fmt.Errorf("token1 and token2 must differ")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		cfg:           cfg,
		ledger:        l,
		logger:        logger.With(zap.String("pool", cfg.Pool.Hex())),
		token1Balance: fixedpoint.Zero(),
		token2Balance: fixedpoint.Zero(),
		totalShares:   fixedpoint.Zero(),
		shares:        make(map[common.Address]*uint256.Int),
	}, nil
}

func (e *Engine) Pool() common.Address   { return e.cfg.Pool }
func (e *Engine) Token1() common.Address { return e.cfg.Token1 }
func (e *Engine) Token2() common.Address { return e.cfg.Token2 }

// Reserves returns (token1Balance, token2Balance).
func (e *Engine) Reserves() (*uint256.Int, *uint256.Int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fixedpoint.Clone(e.token1Balance), fixedpoint.Clone(e.token2Balance)
}

// SharesOf returns zero for identities that never deposited.
func (e *Engine) SharesOf(id common.Address) *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fixedpoint.Clone(e.shares[id])
}

func (e *Engine) TotalShares() *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fixedpoint.Clone(e.totalShares)
}

// Invariant returns K = token1Balance * token2Balance.
func (e *Engine) Invariant() (*uint256.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fixedpoint.Mul(e.token1Balance, e.token2Balance)
}

func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stateLocked()
}

func (e *Engine) stateLocked() State {
	if e.totalShares.IsZero() {
		return StateEmpty
	}
	return StateActive
}

// SpotPrice is the marginal price of one unit of given in units of the
// other token, before slippage.
func (e *Engine) SpotPrice(given common.Address) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rin, rout, _, err := e.sidesLocked(given)
	if err != nil {
		return "", err
	}
	if rin.IsZero() || rout.IsZero() {
		return "", ErrEmptyPool
	}
	return fixedpoint.Ratio(rout, rin, fixedpoint.Decimals)
}

// Snapshot captures the pool state including every share holder.
func (e *Engine) Snapshot() model.PoolState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	shares := make(map[common.Address]*uint256.Int, len(e.shares))
	for id, v := range e.shares {
		shares[id] = fixedpoint.Clone(v)
	}
	return model.PoolState{
		Address:       e.cfg.Pool,
		Token1:        e.cfg.Token1,
		Token2:        e.cfg.Token2,
		Token1Balance: fixedpoint.Clone(e.token1Balance),
		Token2Balance: fixedpoint.Clone(e.token2Balance),
		TotalShares:   fixedpoint.Clone(e.totalShares),
		Shares:        shares,
	}
}

// Restore replaces reserves and shares with a snapshot of the same token
// pair, e.g. one mirrored from a deployed pool. It does not move ledger
// funds, so it is meant for quoting against external state.
func (e *Engine) Restore(state model.PoolState) error {
	if state.Token1 != e.cfg.Token1 || state.Token2 != e.cfg.Token2 {
		return fmt.Errorf("%w: snapshot pair %s/%s does not match pool", ErrUnknownAsset, state.Token1.Hex(), state.Token2.Hex())
	}

	t1 := fixedpoint.Clone(state.Token1Balance)
	t2 := fixedpoint.Clone(state.Token2Balance)
	total := fixedpoint.Clone(state.TotalShares)

	sum := fixedpoint.Zero()
	shares := make(map[common.Address]*uint256.Int, len(state.Shares))
	for id, v := range state.Shares {
		var err error
		if sum, err = fixedpoint.Add(sum, fixedpoint.Clone(v)); err != nil {
			return err
		}
		shares[id] = fixedpoint.Clone(v)
	}
	if !sum.Eq(total) {
		return fmt.Errorf("%w: shares sum %s, total %s", ErrInsufficientShares, fixedpoint.Format(sum), fixedpoint.Format(total))
	}
	if total.IsZero() && (!t1.IsZero() || !t2.IsZero()) {
		return fmt.Errorf("%w: reserves without shares", ErrInvalidAmount)
	}
	if !total.IsZero() && (t1.IsZero() || t2.IsZero()) {
		return fmt.Errorf("%w: shares without reserves", ErrInvalidAmount)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.token1Balance = t1
	e.token2Balance = t2
	e.totalShares = total
	e.shares = shares

	e.logger.Info("pool restored",
		zap.String("token1_balance", fixedpoint.Format(t1)),
		zap.String("token2_balance", fixedpoint.Format(t2)),
		zap.String("total_shares", fixedpoint.Format(total)),
	)
	return nil
}

// SwapHistory yields swap records with fromTime <= timestamp <= toTime in
// commit order. toTime == 0 means no upper bound. The sequence can be
// ranged over repeatedly; each pass reads the log as of its start.
func (e *Engine) SwapHistory(fromTime, toTime uint64) iter.Seq[model.SwapRecord] {
	return func(yield func(model.SwapRecord) bool) {
		e.mu.RLock()
		records := e.swaps
		e.mu.RUnlock()

		lo := sort.Search(len(records), func(i int) bool {
			return records[i].Timestamp >= fromTime
		})
		hi := len(records)
		if toTime != 0 {
			hi = sort.Search(len(records), func(i int) bool {
				return records[i].Timestamp > toTime
			})
		}
		for i := lo; i < hi; i++ {
			if !yield(records[i].Clone()) {
				return
			}
		}
	}
}

// RecordsSince returns swap records with Seq > seq.
func (e *Engine) RecordsSince(seq uint64) []model.SwapRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if seq >= uint64(len(e.swaps)) {
		return nil
	}
	out := make([]model.SwapRecord, 0, uint64(len(e.swaps))-seq)
	for _, rec := range e.swaps[seq:] {
		out = append(out, rec.Clone())
	}
	return out
}

// sidesLocked orders reserves as (given, received).
func (e *Engine) sidesLocked(given common.Address) (*uint256.Int, *uint256.Int, common.Address, error) {
	switch given {
	case e.cfg.Token1:
		return e.token1Balance, e.token2Balance, e.cfg.Token2, nil
	case e.cfg.Token2:
		return e.token2Balance, e.token1Balance, e.cfg.Token1, nil
	default:
		return nil, nil, common.Address{}, fmt.Errorf("%w: %s", ErrUnknownAsset, given.Hex())
	}
}

func (e *Engine) settle(transfers []ledger.Transfer) error {
	if err := e.ledger.Settle(transfers); err != nil {
		return fmt.Errorf("%w: %w", ErrLedgerTransferFailed, err)
	}
	return nil
}

func (e *Engine) now() uint64 {
	ts := e.cfg.Clock().Unix()
	if ts < 0 {
		ts = 0
	}
	return uint64(ts)
}

func isZero(v *uint256.Int) bool {
	return v == nil || v.IsZero()
}
