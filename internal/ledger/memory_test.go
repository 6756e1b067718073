package ledger

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"ammScope/internal/fixedpoint"
	"ammScope/internal/model"
)

var (
	tokenA  = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	tokenB  = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	alice   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob     = common.HexToAddress("0x2222222222222222222222222222222222222222")
	spender = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func newTestLedger(t *testing.T) *Memory {
	t.Helper()
	l := NewMemory()
	if err := l.Register(model.TokenMeta{Address: tokenA, Symbol: "SSM"}); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := l.Register(model.TokenMeta{Address: tokenB, Symbol: "USD"}); err != nil {
		t.Fatalf("register b: %v", err)
	}
	if err := l.Mint(tokenA, alice, fixedpoint.Ether(100)); err != nil {
		t.Fatalf("mint a: %v", err)
	}
	if err := l.Mint(tokenB, alice, fixedpoint.Ether(50)); err != nil {
		t.Fatalf("mint b: %v", err)
	}
	return l
}

func balance(t *testing.T, l *Memory, token, owner common.Address) *uint256.Int {
	t.Helper()
	v, err := l.BalanceOf(token, owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return v
}

func TestRegisterDuplicate(t *testing.T) {
	l := newTestLedger(t)
	if err := l.Register(model.TokenMeta{Address: tokenA}); !errors.Is(err, ErrTokenExists) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	meta, ok := l.Meta(tokenA)
	if !ok || meta.Decimals != 18 || meta.Symbol != "SSM" {
		t.Fatalf("meta mismatch: %+v", meta)
	}
	if len(l.Tokens()) != 2 {
		t.Fatalf("expected 2 tokens")
	}
}

func TestTransfer(t *testing.T) {
	l := newTestLedger(t)
	if err := l.Transfer(tokenA, alice, bob, fixedpoint.Ether(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !balance(t, l, tokenA, alice).Eq(fixedpoint.Ether(60)) {
		t.Fatalf("alice balance mismatch")
	}
	if !balance(t, l, tokenA, bob).Eq(fixedpoint.Ether(40)) {
		t.Fatalf("bob balance mismatch")
	}
	if err := l.Transfer(tokenA, bob, alice, fixedpoint.Ether(41)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	l := newTestLedger(t)

	if err := l.TransferFrom(tokenA, spender, alice, bob, fixedpoint.Ether(1)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected insufficient allowance, got %v", err)
	}

	if err := l.Approve(tokenA, alice, spender, fixedpoint.Ether(10)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := l.TransferFrom(tokenA, spender, alice, bob, fixedpoint.Ether(4)); err != nil {
		t.Fatalf("transfer from: %v", err)
	}

	allowance, err := l.Allowance(tokenA, alice, spender)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if !allowance.Eq(fixedpoint.Ether(6)) {
		t.Fatalf("allowance mismatch: %s", fixedpoint.Format(allowance))
	}
}

func TestSettleIsAllOrNothing(t *testing.T) {
	l := newTestLedger(t)
	if err := l.Approve(tokenA, alice, spender, fixedpoint.Ether(100)); err != nil {
		t.Fatalf("approve: %v", err)
	}

	err := l.Settle([]Transfer{
		{Token: tokenA, From: alice, To: spender, Spender: spender, Amount: fixedpoint.Ether(10)},
		{Token: tokenB, From: alice, To: spender, Spender: spender, Amount: fixedpoint.Ether(10)},
	})
	if !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected allowance failure on second leg, got %v", err)
	}

	if !balance(t, l, tokenA, alice).Eq(fixedpoint.Ether(100)) {
		t.Fatalf("first leg leaked into state")
	}
	allowance, _ := l.Allowance(tokenA, alice, spender)
	if !allowance.Eq(fixedpoint.Ether(100)) {
		t.Fatalf("allowance leaked into state")
	}
}

func TestSettleSequentialLegsSeeEarlierLegs(t *testing.T) {
	l := newTestLedger(t)
	err := l.Settle([]Transfer{
		{Token: tokenA, From: alice, To: bob, Amount: fixedpoint.Ether(30)},
		{Token: tokenA, From: bob, To: spender, Amount: fixedpoint.Ether(30)},
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !balance(t, l, tokenA, spender).Eq(fixedpoint.Ether(30)) {
		t.Fatalf("spender balance mismatch")
	}
	if !balance(t, l, tokenA, bob).IsZero() {
		t.Fatalf("bob should end with zero")
	}
}

func TestUnknownToken(t *testing.T) {
	l := newTestLedger(t)
	unknown := common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
	if _, err := l.BalanceOf(unknown, alice); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected unknown token, got %v", err)
	}
	if err := l.Transfer(unknown, alice, bob, fixedpoint.Ether(1)); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected unknown token, got %v", err)
	}
}
