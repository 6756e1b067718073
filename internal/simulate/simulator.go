package simulate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"ammScope/internal/amm"
	"ammScope/internal/fixedpoint"
	"ammScope/internal/ledger"
	"ammScope/internal/model"
	"ammScope/internal/storage"
)

// DefaultStart is the clock origin when Options.Start is unset, so runs are
// reproducible.
var DefaultStart = time.Unix(1_700_000_000, 0).UTC()

// Options controls a simulation run.
type Options struct {
	// Start is the timestamp of the first step; each step advances the clock by Step.
	Start  time.Time
	Step   time.Duration
	Sink   storage.Sink
	Logger *zap.Logger
}

// StepResult is the outcome of one step with the pool state after it.
type StepResult struct {
	Step          int    `json:"step"`
	Action        string `json:"action"`
	Account       string `json:"account"`
	Timestamp     int64  `json:"timestamp"`
	Shares        string `json:"shares,omitempty"`
	Amount1       string `json:"amount1,omitempty"`
	Amount2       string `json:"amount2,omitempty"`
	Out           string `json:"out,omitempty"`
	Error         string `json:"error,omitempty"`
	Token1Balance string `json:"token1_balance"`
	Token2Balance string `json:"token2_balance"`
	TotalShares   string `json:"total_shares"`
}

// Result summarizes a run.
type Result struct {
	Steps       []StepResult
	Final       model.PoolState
	Swaps       int
	Published   int
	Unpublished int
}

// Simulator owns the ledger and engine of one scenario.
type Simulator struct {
	scenario Scenario
	opts     Options
	logger   *zap.Logger
	ledger   *ledger.Memory
	engine   *amm.Engine
	tokens   map[string]common.Address
	accounts map[string]common.Address
	now      time.Time
	// published is the Seq of the last record accepted by the sink.
	published uint64
}

// outcome carries the raw values a step produced.
type outcome struct {
	shares  *uint256.Int
	amount1 *uint256.Int
	amount2 *uint256.Int
	out     *uint256.Int
}

func New(sc Scenario, opts Options) (*Simulator, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	if opts.Start.IsZero() {
		opts.Start = DefaultStart
	}
	if opts.Step <= 0 {
		opts.Step = 15 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Simulator{
		scenario: sc,
		opts:     opts,
		logger:   logger,
		ledger:   ledger.NewMemory(),
		tokens:   make(map[string]common.Address, len(sc.Tokens)),
		accounts: make(map[string]common.Address, len(sc.Accounts)),
		now:      opts.Start,
	}

	for _, token := range sc.Tokens {
		addr := addressOr(token.Address, "token", token.Symbol)
		if err := s.ledger.Register(model.TokenMeta{Address: addr, Symbol: token.Symbol, Name: token.Name}); err != nil {
			return nil, fmt.Errorf("register %s: %w", token.Symbol, err)
		}
		s.tokens[token.Symbol] = addr
	}
	for _, account := range sc.Accounts {
		addr := addressOr(account.Address, "account", account.Name)
		s.accounts[account.Name] = addr
		for symbol, value := range account.Mint {
			amount, err := fixedpoint.Parse(value)
			if err != nil {
				return nil, fmt.Errorf("account %s mint %s: %w", account.Name, symbol, err)
			}
			if err := s.ledger.Mint(s.tokens[symbol], addr, amount); err != nil {
				return nil, fmt.Errorf("account %s mint %s: %w", account.Name, symbol, err)
			}
		}
	}

	engine, err := amm.NewEngine(amm.Config{
		Pool:   sc.PoolAddress(),
		Token1: s.tokens[sc.Pool.Token1],
		Token2: s.tokens[sc.Pool.Token2],
		Clock:  func() time.Time { return s.now },
	}, s.ledger, logger)
	if err != nil {
		return nil, err
	}
	s.engine = engine
	return s, nil
}

func (s *Simulator) Engine() *amm.Engine    { return s.engine }
func (s *Simulator) Ledger() *ledger.Memory { return s.ledger }

// Account returns the address bound to a scenario account.
func (s *Simulator) Account(name string) (common.Address, bool) {
	addr, ok := s.accounts[name]
	return addr, ok
}

// Run executes every step in order and stops at the first step whose result
// does not match its expectation.
func (s *Simulator) Run(ctx context.Context) (Result, error) {
	var result Result
	s.logger.Info("simulation start",
		zap.String("scenario", s.scenario.Name),
		zap.String("pool", s.engine.Pool().Hex()),
		zap.Int("steps", len(s.scenario.Steps)),
	)

	for i, step := range s.scenario.Steps {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if i > 0 {
			s.now = s.now.Add(s.opts.Step)
		}

		res, err := s.runStep(i+1, step)
		result.Steps = append(result.Steps, res)
		s.flush(ctx, &result)
		if err != nil {
			return result, err
		}
	}

	result.Final = s.engine.Snapshot()
	result.Swaps = len(s.engine.RecordsSince(0))
	if s.opts.Sink != nil {
		result.Unpublished = result.Swaps - int(s.published)
		if result.Unpublished > 0 {
			s.logger.Warn("unpublished swap records", zap.Int("count", result.Unpublished))
		}
	}

	s.logger.Info("simulation complete",
		zap.Int("steps", len(result.Steps)),
		zap.Int("swaps", result.Swaps),
		zap.Int("published", result.Published),
		zap.String("token1_balance", fixedpoint.Format(result.Final.Token1Balance)),
		zap.String("token2_balance", fixedpoint.Format(result.Final.Token2Balance)),
	)
	return result, nil
}

func (s *Simulator) runStep(n int, step Step) (StepResult, error) {
	res := StepResult{Step: n, Action: step.Action, Account: step.Account, Timestamp: s.now.Unix()}

	got, opErr, err := s.apply(step)
	if err != nil {
		return res, fmt.Errorf("step %d (%s): %w", n, step.Action, err)
	}

	res.Shares = formatOptional(got.shares)
	res.Amount1 = formatOptional(got.amount1)
	res.Amount2 = formatOptional(got.amount2)
	res.Out = formatOptional(got.out)
	t1, t2 := s.engine.Reserves()
	total := s.engine.TotalShares()
	res.Token1Balance = fixedpoint.Format(t1)
	res.Token2Balance = fixedpoint.Format(t2)
	res.TotalShares = fixedpoint.Format(total)

	if opErr != nil {
		res.Error = opErr.Error()
	}
	s.logger.Debug("step", zap.Int("step", n), zap.String("action", step.Action), zap.String("account", step.Account), zap.Error(opErr))

	if step.ExpectError != "" {
		want := errorNames[step.ExpectError]
		if opErr == nil {
			return res, fmt.Errorf("step %d (%s): expected %s, step succeeded", n, step.Action, step.ExpectError)
		}
		if !errors.Is(opErr, want) {
			return res, fmt.Errorf("step %d (%s): expected %s, got: %w", n, step.Action, step.ExpectError, opErr)
		}
		return res, nil
	}
	if opErr != nil {
		return res, fmt.Errorf("step %d (%s): %w", n, step.Action, opErr)
	}
	if step.Expect != nil {
		checks := []struct {
			name     string
			expected string
			actual   *uint256.Int
		}{
			{"shares", step.Expect.Shares, got.shares},
			{"out", step.Expect.Out, got.out},
			{"amount1", step.Expect.Amount1, got.amount1},
			{"amount2", step.Expect.Amount2, got.amount2},
			{"token1_balance", step.Expect.Token1Balance, t1},
			{"token2_balance", step.Expect.Token2Balance, t2},
			{"total_shares", step.Expect.TotalShares, total},
		}
		for _, c := range checks {
			if c.expected == "" {
				continue
			}
			expected, err := fixedpoint.Parse(c.expected)
			if err != nil {
				return res, fmt.Errorf("step %d: expect %s: %w", n, c.name, err)
			}
			if c.actual == nil || !c.actual.Eq(expected) {
				return res, fmt.Errorf("step %d (%s): expected %s %s, got %s", n, step.Action, c.name, c.expected, formatOptional(c.actual))
			}
		}
	}
	return res, nil
}

// apply runs one action. opErr is the operation's own failure, which a step
// may expect; err means the step itself is malformed.
func (s *Simulator) apply(step Step) (got outcome, opErr error, err error) {
	caller := s.accounts[step.Account]

	switch step.Action {
	case ActionApprove:
		amount, err := parseAmount("amount", step.Amount)
		if err != nil {
			return got, nil, err
		}
		return got, s.ledger.Approve(s.tokens[step.Token], caller, s.engine.Pool(), amount), nil

	case ActionDeposit, ActionDepositQuoted:
		amount1, err := parseAmount("amount1", step.Amount1)
		if err != nil {
			return got, nil, err
		}
		amount2, err := parseAmount("amount2", step.Amount2)
		if err != nil {
			return got, nil, err
		}
		if step.Action == ActionDepositQuoted {
			if step.Amount1 != "" {
				amount2, opErr = s.engine.QuoteToken2Deposit(amount1)
			} else {
				amount1, opErr = s.engine.QuoteToken1Deposit(amount2)
			}
			if opErr != nil {
				return got, opErr, nil
			}
		}
		got.amount1, got.amount2 = amount1, amount2
		got.shares, opErr = s.engine.Deposit(caller, amount1, amount2)
		return got, opErr, nil

	case ActionWithdraw, ActionWithdrawAll:
		shares := s.engine.SharesOf(caller)
		if step.Action == ActionWithdraw {
			if shares, err = parseAmount("amount", step.Amount); err != nil {
				return got, nil, err
			}
		}
		got.shares = shares
		got.amount1, got.amount2, opErr = s.engine.Withdraw(caller, shares)
		return got, opErr, nil

	case ActionSwap:
		amount, err := parseAmount("amount", step.Amount)
		if err != nil {
			return got, nil, err
		}
		got.out, opErr = s.engine.Swap(caller, s.tokens[step.Token], amount)
		return got, opErr, nil
	}
	return got, nil, fmt.Errorf("unknown action %q", step.Action)
}

// flush hands new swap records to the sink. Records the sink rejects stay
// pending and are offered again on the next flush.
func (s *Simulator) flush(ctx context.Context, result *Result) {
	pending := s.engine.RecordsSince(s.published)
	if len(pending) == 0 || s.opts.Sink == nil {
		return
	}
	if err := s.opts.Sink.PutSwapBatch(ctx, pending); err != nil {
		s.logger.Warn("publish swap records", zap.Int("pending", len(pending)), zap.Error(err))
		return
	}
	s.published = pending[len(pending)-1].Seq
	result.Published += len(pending)
}

func parseAmount(field, value string) (*uint256.Int, error) {
	if value == "" {
		return fixedpoint.Zero(), nil
	}
	amount, err := fixedpoint.Parse(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return amount, nil
}

func formatOptional(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return fixedpoint.Format(v)
}
