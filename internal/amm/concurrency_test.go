package amm

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"ammScope/internal/fixedpoint"
)

func TestConcurrentOperationsKeepPoolConsistent(t *testing.T) {
	e, l := newTestPool(t)
	mustDeposit(t, e, alice, fixedpoint.Ether(100000), fixedpoint.Ether(100000))

	var (
		wg    sync.WaitGroup
		swaps atomic.Int64
	)

	for _, trader := range []common.Address{alice, bob} {
		for _, given := range []common.Address{token1Addr, token2Addr} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 40; i++ {
					if _, err := e.Swap(trader, given, fixedpoint.Ether(1)); err != nil {
						t.Errorf("swap: %v", err)
						return
					}
					swaps.Add(1)
				}
			}()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				amount1 := fixedpoint.Ether(10)
				amount2, err := e.QuoteToken2Deposit(amount1)
				if err != nil {
					t.Errorf("quote deposit: %v", err)
					return
				}
				// A swap may land between quote and deposit.
				if _, err := e.Deposit(trader, amount1, amount2); err != nil && !errors.Is(err, ErrRatioMismatch) {
					t.Errorf("deposit: %v", err)
					return
				}
			}
		}()
	}

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pass := 0; pass < 20; pass++ {
				var last uint64
				for rec := range e.SwapHistory(0, 0) {
					if rec.Seq != last+1 {
						t.Errorf("history skipped from seq %d to %d", last, rec.Seq)
						return
					}
					last = rec.Seq
				}
			}
		}()
	}

	wg.Wait()
	if t.Failed() {
		return
	}

	if got := len(e.RecordsSince(0)); int64(got) != swaps.Load() {
		t.Fatalf("records %d, successful swaps %d", got, swaps.Load())
	}

	sum, err := fixedpoint.Add(e.SharesOf(alice), e.SharesOf(bob))
	if err != nil {
		t.Fatalf("sum shares: %v", err)
	}
	if !sum.Eq(e.TotalShares()) {
		t.Fatalf("shares sum %s, total %s", fixedpoint.Format(sum), fixedpoint.Format(e.TotalShares()))
	}

	t1, t2 := e.Reserves()
	held1, _ := l.BalanceOf(token1Addr, poolAddr)
	held2, _ := l.BalanceOf(token2Addr, poolAddr)
	if !held1.Eq(t1) || !held2.Eq(t2) {
		t.Fatalf("ledger %s/%s, reserves %s/%s",
			fixedpoint.Format(held1), fixedpoint.Format(held2), fixedpoint.Format(t1), fixedpoint.Format(t2))
	}
}
