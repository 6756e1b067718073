// Package simulate replays YAML scenarios against an in-memory pool.
package simulate

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"gopkg.in/yaml.v3"

	"ammScope/internal/amm"
	"ammScope/internal/ledger"
)

// Step actions.
const (
	ActionApprove       = "approve"
	ActionDeposit       = "deposit"
	ActionDepositQuoted = "deposit_quoted"
	ActionWithdraw      = "withdraw"
	ActionWithdrawAll   = "withdraw_all"
	ActionSwap          = "swap"
)

// errorNames maps expect_error values to the errors they match.
var errorNames = map[string]error{
	"invalid_amount":              amm.ErrInvalidAmount,
	"unknown_asset":               amm.ErrUnknownAsset,
	"empty_pool":                  amm.ErrEmptyPool,
	"ratio_mismatch":              amm.ErrRatioMismatch,
	"insufficient_shares":         amm.ErrInsufficientShares,
	"insufficient_output_reserve": amm.ErrInsufficientOutputReserve,
	"ledger_transfer_failed":      amm.ErrLedgerTransferFailed,
	"arithmetic_overflow":         amm.ErrArithmeticOverflow,
	"insufficient_balance":        ledger.ErrInsufficientBalance,
	"insufficient_allowance":      ledger.ErrInsufficientAllowance,
}

// Scenario is a scripted pool session. Amounts are decimal token units
// (18 decimals), e.g. "100000" or "0.5".
type Scenario struct {
	Name     string        `yaml:"name"`
	Pool     PoolSpec      `yaml:"pool"`
	Tokens   []TokenSpec   `yaml:"tokens"`
	Accounts []AccountSpec `yaml:"accounts"`
	Steps    []Step        `yaml:"steps"`
}

// PoolSpec names the pool's pair by token symbol.
type PoolSpec struct {
	Address string `yaml:"address"`
	Token1  string `yaml:"token1"`
	Token2  string `yaml:"token2"`
}

type TokenSpec struct {
	Symbol  string `yaml:"symbol"`
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

// AccountSpec funds an account; Mint is keyed by token symbol.
type AccountSpec struct {
	Name    string            `yaml:"name"`
	Address string            `yaml:"address"`
	Mint    map[string]string `yaml:"mint"`
}

// Step is one action. Token applies to approve and swap, Amount to approve,
// swap and withdraw (shares). deposit_quoted takes exactly one of Amount1
// and Amount2 and quotes the other side.
type Step struct {
	Action      string  `yaml:"action"`
	Account     string  `yaml:"account"`
	Token       string  `yaml:"token"`
	Amount      string  `yaml:"amount"`
	Amount1     string  `yaml:"amount1"`
	Amount2     string  `yaml:"amount2"`
	Expect      *Expect `yaml:"expect"`
	ExpectError string  `yaml:"expect_error"`
}

// Expect lists exact values checked after a successful step. Empty fields
// are not checked.
type Expect struct {
	Shares        string `yaml:"shares"`
	Out           string `yaml:"out"`
	Amount1       string `yaml:"amount1"`
	Amount2       string `yaml:"amount2"`
	Token1Balance string `yaml:"token1_balance"`
	Token2Balance string `yaml:"token2_balance"`
	TotalShares   string `yaml:"total_shares"`
}

// Load reads and validates a scenario file.
func Load(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes a scenario; unknown fields are rejected.
func Parse(data []byte) (Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return Scenario{}, err
	}
	return sc, nil
}

// Validate checks references between sections.
func (sc Scenario) Validate() error {
	symbols := make(map[string]struct{}, len(sc.Tokens))
	for _, token := range sc.Tokens {
		if token.Symbol == "" {
			return fmt.Errorf("token without symbol")
		}
		if _, ok := symbols[token.Symbol]; ok {
			return fmt.Errorf("duplicate token %s", token.Symbol)
		}
		if token.Address != "" && !common.IsHexAddress(token.Address) {
			return fmt.Errorf("token %s: invalid address %s", token.Symbol, token.Address)
		}
		symbols[token.Symbol] = struct{}{}
	}
	for _, symbol := range []string{sc.Pool.Token1, sc.Pool.Token2} {
		if _, ok := symbols[symbol]; !ok {
			return fmt.Errorf("pool token %q is not declared", symbol)
		}
	}
	if sc.Pool.Token1 == sc.Pool.Token2 {
		return fmt.Errorf("pool tokens must differ")
	}
	if sc.Pool.Address != "" && !common.IsHexAddress(sc.Pool.Address) {
		return fmt.Errorf("invalid pool address %s", sc.Pool.Address)
	}

	accounts := make(map[string]struct{}, len(sc.Accounts))
	for _, account := range sc.Accounts {
		if account.Name == "" {
			return fmt.Errorf("account without name")
		}
		if _, ok := accounts[account.Name]; ok {
			return fmt.Errorf("duplicate account %s", account.Name)
		}
		if account.Address != "" && !common.IsHexAddress(account.Address) {
			return fmt.Errorf("account %s: invalid address %s", account.Name, account.Address)
		}
		for symbol := range account.Mint {
			if _, ok := symbols[symbol]; !ok {
				return fmt.Errorf("account %s mints unknown token %s", account.Name, symbol)
			}
		}
		accounts[account.Name] = struct{}{}
	}

	for i, step := range sc.Steps {
		if _, ok := accounts[step.Account]; !ok {
			return fmt.Errorf("step %d: unknown account %q", i+1, step.Account)
		}
		switch step.Action {
		case ActionApprove, ActionSwap:
			if _, ok := symbols[step.Token]; !ok {
				return fmt.Errorf("step %d: unknown token %q", i+1, step.Token)
			}
		case ActionDepositQuoted:
			if (step.Amount1 == "") == (step.Amount2 == "") {
				return fmt.Errorf("step %d: deposit_quoted needs exactly one of amount1, amount2", i+1)
			}
		case ActionDeposit, ActionWithdraw, ActionWithdrawAll:
		default:
			return fmt.Errorf("step %d: unknown action %q", i+1, step.Action)
		}
		if step.ExpectError != "" {
			if _, ok := errorNames[step.ExpectError]; !ok {
				return fmt.Errorf("step %d: unknown expect_error %q", i+1, step.ExpectError)
			}
		}
	}
	return nil
}

// deriveAddress gives unnamed identities a stable address.
func deriveAddress(kind, name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(kind + ":" + strings.ToLower(name))))
}

func addressOr(input, kind, name string) common.Address {
	if input != "" {
		return common.HexToAddress(input)
	}
	return deriveAddress(kind, name)
}

// PoolAddress is the pool identity the scenario runs under.
func (sc Scenario) PoolAddress() common.Address {
	return addressOr(sc.Pool.Address, "pool", sc.Name)
}
