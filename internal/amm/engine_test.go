package amm

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"ammScope/internal/fixedpoint"
	"ammScope/internal/ledger"
	"ammScope/internal/model"
)

var (
	poolAddr   = common.HexToAddress("0x00000000000000000000000000000000000a3300")
	token1Addr = common.HexToAddress("0x0000000000000000000000000000000000000001")
	token2Addr = common.HexToAddress("0x0000000000000000000000000000000000000002")
	alice      = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob        = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

// newTestPool funds alice and bob with 1,000,000 of each token and approves
// the pool for all of it.
func newTestPool(t *testing.T) (*Engine, *ledger.Memory) {
	t.Helper()

	l := ledger.NewMemory()
	for _, meta := range []model.TokenMeta{
		{Address: token1Addr, Symbol: "TK1", Name: "Token One"},
		{Address: token2Addr, Symbol: "TK2", Name: "Token Two"},
	} {
		if err := l.Register(meta); err != nil {
			t.Fatalf("register token: %v", err)
		}
	}
	for _, who := range []common.Address{alice, bob} {
		for _, token := range []common.Address{token1Addr, token2Addr} {
			if err := l.Mint(token, who, fixedpoint.Ether(1_000_000)); err != nil {
				t.Fatalf("mint: %v", err)
			}
			if err := l.Approve(token, who, poolAddr, fixedpoint.Ether(1_000_000)); err != nil {
				t.Fatalf("approve: %v", err)
			}
		}
	}

	clock := &stepClock{now: time.Unix(1_700_000_000, 0)}
	e, err := NewEngine(Config{Pool: poolAddr, Token1: token1Addr, Token2: token2Addr, Clock: clock.Now}, l, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e, l
}

func mustDeposit(t *testing.T, e *Engine, who common.Address, a1, a2 *uint256.Int) *uint256.Int {
	t.Helper()
	minted, err := e.Deposit(who, a1, a2)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	return minted
}

func TestNewEngineValidatesConfig(t *testing.T) {
	l := ledger.NewMemory()
	if _, err := NewEngine(Config{Pool: poolAddr, Token1: token1Addr, Token2: token1Addr}, l, nil); err == nil {
		t.Fatalf("expected error for identical tokens")
	}
	if _, err := NewEngine(Config{Token1: token1Addr, Token2: token2Addr}, l, nil); err == nil {
		t.Fatalf("expected error for missing pool address")
	}
	if _, err := NewEngine(Config{Pool: poolAddr, Token1: token1Addr, Token2: token2Addr}, nil, nil); err == nil {
		t.Fatalf("expected error for nil ledger")
	}
}

func TestNewEngineStartsEmpty(t *testing.T) {
	e, _ := newTestPool(t)
	if e.State() != StateEmpty {
		t.Fatalf("expected empty state, got %s", e.State())
	}
	t1, t2 := e.Reserves()
	if !t1.IsZero() || !t2.IsZero() || !e.TotalShares().IsZero() {
		t.Fatalf("expected zero reserves and shares")
	}
	if !e.SharesOf(alice).IsZero() {
		t.Fatalf("expected zero shares for unknown holder")
	}
	if _, err := e.SpotPrice(token1Addr); !errors.Is(err, ErrEmptyPool) {
		t.Fatalf("expected ErrEmptyPool, got %v", err)
	}
}

func TestSpotPrice(t *testing.T) {
	e, _ := newTestPool(t)
	mustDeposit(t, e, alice, fixedpoint.Ether(100), fixedpoint.Ether(250))

	price, err := e.SpotPrice(token1Addr)
	if err != nil {
		t.Fatalf("spot price: %v", err)
	}
	if price != "2.500000000000000000" {
		t.Fatalf("unexpected token1 price %s", price)
	}
	price, err = e.SpotPrice(token2Addr)
	if err != nil {
		t.Fatalf("spot price: %v", err)
	}
	if price != "0.400000000000000000" {
		t.Fatalf("unexpected token2 price %s", price)
	}
	if _, err := e.SpotPrice(alice); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}
}

func TestSnapshotRestore(t *testing.T) {
	e, _ := newTestPool(t)
	mustDeposit(t, e, alice, fixedpoint.Ether(1000), fixedpoint.Ether(2000))
	mustDeposit(t, e, bob, fixedpoint.Ether(500), fixedpoint.Ether(1000))
	snap := e.Snapshot()

	mirror, err := NewEngine(Config{Pool: poolAddr, Token1: token1Addr, Token2: token2Addr}, ledger.NewMemory(), nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := mirror.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if mirror.State() != StateActive {
		t.Fatalf("expected active mirror")
	}
	if !mirror.SharesOf(bob).Eq(fixedpoint.Ether(500)) {
		t.Fatalf("unexpected bob shares %s", fixedpoint.Format(mirror.SharesOf(bob)))
	}

	want, _ := e.QuoteSwap(token1Addr, fixedpoint.Ether(10))
	got, err := mirror.QuoteSwap(token1Addr, fixedpoint.Ether(10))
	if err != nil {
		t.Fatalf("mirror quote: %v", err)
	}
	if !got.Eq(want) {
		t.Fatalf("mirror quote %s, want %s", fixedpoint.Format(got), fixedpoint.Format(want))
	}

	// The snapshot must not alias engine state.
	snap.Shares[alice].SetUint64(1)
	if !e.SharesOf(alice).Eq(fixedpoint.Ether(1000)) {
		t.Fatalf("snapshot aliases engine shares")
	}
}

func TestRestoreRejectsInconsistentState(t *testing.T) {
	e, _ := newTestPool(t)

	wrongPair := model.PoolState{Token1: token2Addr, Token2: token1Addr}
	if err := e.Restore(wrongPair); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}

	badSum := model.PoolState{
		Token1:        token1Addr,
		Token2:        token2Addr,
		Token1Balance: fixedpoint.Ether(10),
		Token2Balance: fixedpoint.Ether(10),
		TotalShares:   fixedpoint.Ether(10),
		Shares:        map[common.Address]*uint256.Int{alice: fixedpoint.Ether(9)},
	}
	if err := e.Restore(badSum); !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}

	orphan := model.PoolState{
		Token1:        token1Addr,
		Token2:        token2Addr,
		Token1Balance: fixedpoint.Ether(10),
		Token2Balance: fixedpoint.Ether(10),
	}
	if err := e.Restore(orphan); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if e.State() != StateEmpty {
		t.Fatalf("failed restore mutated the pool")
	}
}

func TestSwapHistoryRange(t *testing.T) {
	e, _ := newTestPool(t)
	mustDeposit(t, e, alice, fixedpoint.Ether(1000), fixedpoint.Ether(1000))

	var stamps []uint64
	for i := 0; i < 4; i++ {
		if _, err := e.SwapToken1(bob, fixedpoint.Ether(1)); err != nil {
			t.Fatalf("swap %d: %v", i, err)
		}
	}
	for rec := range e.SwapHistory(0, 0) {
		stamps = append(stamps, rec.Timestamp)
	}
	if len(stamps) != 4 {
		t.Fatalf("expected 4 records, got %d", len(stamps))
	}
	for i := 1; i < len(stamps); i++ {
		if stamps[i] < stamps[i-1] {
			t.Fatalf("timestamps not monotonic: %v", stamps)
		}
	}

	var seqs []uint64
	for rec := range e.SwapHistory(stamps[1], stamps[2]) {
		seqs = append(seqs, rec.Seq)
	}
	if len(seqs) != 2 || seqs[0] != 2 || seqs[1] != 3 {
		t.Fatalf("unexpected range result %v", seqs)
	}

	// Restartable and stoppable.
	seq := e.SwapHistory(stamps[2], 0)
	for pass := 0; pass < 2; pass++ {
		n := 0
		for range seq {
			n++
		}
		if n != 2 {
			t.Fatalf("pass %d: expected 2 records, got %d", pass, n)
		}
	}
	n := 0
	for range e.SwapHistory(0, 0) {
		n++
		break
	}
	if n != 1 {
		t.Fatalf("early break yielded %d records", n)
	}

	for range e.SwapHistory(stamps[3]+1, 0) {
		t.Fatalf("expected no records after the last swap")
	}
}

func TestSwapTimestampsClampToLastRecord(t *testing.T) {
	e, _ := newTestPool(t)
	mustDeposit(t, e, alice, fixedpoint.Ether(1000), fixedpoint.Ether(1000))

	times := []int64{200, 100, 300}
	i := 0
	e.cfg.Clock = func() time.Time {
		ts := times[i]
		i++
		return time.Unix(ts, 0)
	}
	for range times {
		if _, err := e.SwapToken2(bob, fixedpoint.Ether(1)); err != nil {
			t.Fatalf("swap: %v", err)
		}
	}
	var got []uint64
	for rec := range e.SwapHistory(0, 0) {
		got = append(got, rec.Timestamp)
	}
	want := []uint64{200, 200, 300}
	for j := range want {
		if got[j] != want[j] {
			t.Fatalf("timestamps %v, want %v", got, want)
		}
	}
}

func TestRecordsSince(t *testing.T) {
	e, _ := newTestPool(t)
	mustDeposit(t, e, alice, fixedpoint.Ether(1000), fixedpoint.Ether(1000))
	for i := 0; i < 3; i++ {
		if _, err := e.SwapToken1(bob, fixedpoint.Ether(2)); err != nil {
			t.Fatalf("swap: %v", err)
		}
	}
	if got := e.RecordsSince(0); len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	got := e.RecordsSince(2)
	if len(got) != 1 || got[0].Seq != 3 {
		t.Fatalf("unexpected records %+v", got)
	}
	if got := e.RecordsSince(3); got != nil {
		t.Fatalf("expected nil, got %d records", len(got))
	}

	got[0].AmountGet.SetUint64(0)
	if e.RecordsSince(2)[0].AmountGet.IsZero() {
		t.Fatalf("records alias the log")
	}
}
