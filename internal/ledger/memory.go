// Package ledger provides token balance bookkeeping with ERC20-style
// transfer and allowance semantics.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"ammScope/internal/fixedpoint"
	"ammScope/internal/model"
)

var (
	ErrUnknownToken          = errors.New("unknown token")
	ErrTokenExists           = errors.New("token already registered")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidTransfer       = errors.New("invalid transfer")
)

// Transfer is one leg of a settlement. A non-zero Spender that differs from
// From moves funds on the owner's behalf and consumes allowance[From][Spender].
type Transfer struct {
	Token   common.Address
	From    common.Address
	To      common.Address
	Spender common.Address
	Amount  *uint256.Int
}

type tokenBook struct {
	meta       model.TokenMeta
	supply     *uint256.Int
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
}

// Memory is an in-process multi-token ledger. All methods are safe for
// concurrent use; Settle applies a batch atomically.
type Memory struct {
	mu     sync.Mutex
	tokens map[common.Address]*tokenBook
}

func NewMemory() *Memory {
	return &Memory{tokens: make(map[common.Address]*tokenBook)}
}

// Register adds a token. Decimals default to 18.
func (m *Memory) Register(meta model.TokenMeta) error {
	if meta.Address == (common.Address{}) {
		return fmt.Errorf("%w: zero token address", ErrInvalidTransfer)
	}
	if meta.Decimals == 0 {
		meta.Decimals = fixedpoint.Decimals
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tokens[meta.Address]; ok {
		return fmt.Errorf("%w: %s", ErrTokenExists, meta.Address.Hex())
	}
	m.tokens[meta.Address] = &tokenBook{
		meta:       meta,
		supply:     fixedpoint.Zero(),
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
	}
	return nil
}

// Meta returns registered token metadata.
func (m *Memory) Meta(token common.Address) (model.TokenMeta, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	book, ok := m.tokens[token]
	if !ok {
		return model.TokenMeta{}, false
	}
	return book.meta, true
}

// Tokens lists registered tokens sorted by address.
func (m *Memory) Tokens() []model.TokenMeta {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.TokenMeta, 0, len(m.tokens))
	for _, book := range m.tokens {
		out = append(out, book.meta)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Hex() < out[j].Address.Hex()
	})
	return out
}

// Mint credits new supply to an account.
func (m *Memory) Mint(token, to common.Address, amount *uint256.Int) error {
	if amount == nil {
		return fmt.Errorf("%w: nil amount", ErrInvalidTransfer)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	book, err := m.book(token)
	if err != nil {
		return err
	}
	supply, err := fixedpoint.Add(book.supply, amount)
	if err != nil {
		return err
	}
	balance, err := fixedpoint.Add(balanceOf(book, to), amount)
	if err != nil {
		return err
	}
	book.supply = supply
	book.balances[to] = balance
	return nil
}

func (m *Memory) BalanceOf(token, owner common.Address) (*uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	book, err := m.book(token)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Clone(balanceOf(book, owner)), nil
}

// TotalSupply returns the minted supply of a token.
func (m *Memory) TotalSupply(token common.Address) (*uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	book, err := m.book(token)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Clone(book.supply), nil
}

// Approve sets (not adds to) the spender's allowance.
func (m *Memory) Approve(token, owner, spender common.Address, amount *uint256.Int) error {
	if amount == nil {
		return fmt.Errorf("%w: nil amount", ErrInvalidTransfer)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	book, err := m.book(token)
	if err != nil {
		return err
	}
	spenders := book.allowances[owner]
	if spenders == nil {
		spenders = make(map[common.Address]*uint256.Int)
		book.allowances[owner] = spenders
	}
	spenders[spender] = fixedpoint.Clone(amount)
	return nil
}

func (m *Memory) Allowance(token, owner, spender common.Address) (*uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	book, err := m.book(token)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Clone(allowanceOf(book, owner, spender)), nil
}

// Transfer moves the owner's own funds.
func (m *Memory) Transfer(token, from, to common.Address, amount *uint256.Int) error {
	return m.Settle([]Transfer{{Token: token, From: from, To: to, Amount: amount}})
}

// TransferFrom moves funds on behalf of from using spender's allowance.
func (m *Memory) TransferFrom(token, spender, from, to common.Address, amount *uint256.Int) error {
	return m.Settle([]Transfer{{Token: token, From: from, To: to, Spender: spender, Amount: amount}})
}

type balanceKey struct {
	token common.Address
	owner common.Address
}

type allowanceKey struct {
	token   common.Address
	owner   common.Address
	spender common.Address
}

// Settle applies every transfer or none of them.
func (m *Memory) Settle(transfers []Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	balances := make(map[balanceKey]*uint256.Int)
	allowances := make(map[allowanceKey]*uint256.Int)

	scratchBalance := func(book *tokenBook, token, owner common.Address) *uint256.Int {
		key := balanceKey{token: token, owner: owner}
		if v, ok := balances[key]; ok {
			return v
		}
		v := fixedpoint.Clone(balanceOf(book, owner))
		balances[key] = v
		return v
	}

	for i, tr := range transfers {
		if tr.Amount == nil {
			return fmt.Errorf("transfer %d: %w: nil amount", i, ErrInvalidTransfer)
		}
		book, err := m.book(tr.Token)
		if err != nil {
			return fmt.Errorf("transfer %d: %w", i, err)
		}

		from := scratchBalance(book, tr.Token, tr.From)
		if from.Lt(tr.Amount) {
			return fmt.Errorf("transfer %d: %w: %s has %s, needs %s",
				i, ErrInsufficientBalance, tr.From.Hex(), fixedpoint.Format(from), fixedpoint.Format(tr.Amount))
		}

		if tr.Spender != (common.Address{}) && tr.Spender != tr.From {
			key := allowanceKey{token: tr.Token, owner: tr.From, spender: tr.Spender}
			allowed, ok := allowances[key]
			if !ok {
				allowed = fixedpoint.Clone(allowanceOf(book, tr.From, tr.Spender))
				allowances[key] = allowed
			}
			if allowed.Lt(tr.Amount) {
				return fmt.Errorf("transfer %d: %w: %s approved %s, needs %s",
					i, ErrInsufficientAllowance, tr.From.Hex(), fixedpoint.Format(allowed), fixedpoint.Format(tr.Amount))
			}
			allowed.Sub(allowed, tr.Amount)
		}

		from.Sub(from, tr.Amount)
		to := scratchBalance(book, tr.Token, tr.To)
		if _, overflow := to.AddOverflow(to, tr.Amount); overflow {
			return fmt.Errorf("transfer %d: %w", i, fixedpoint.ErrOverflow)
		}
	}

	for key, value := range balances {
		m.tokens[key.token].balances[key.owner] = value
	}
	for key, value := range allowances {
		book := m.tokens[key.token]
		spenders := book.allowances[key.owner]
		if spenders == nil {
			spenders = make(map[common.Address]*uint256.Int)
			book.allowances[key.owner] = spenders
		}
		spenders[key.spender] = value
	}
	return nil
}

func (m *Memory) book(token common.Address) (*tokenBook, error) {
	book, ok := m.tokens[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	return book, nil
}

func balanceOf(book *tokenBook, owner common.Address) *uint256.Int {
	if v, ok := book.balances[owner]; ok {
		return v
	}
	return fixedpoint.Zero()
}

func allowanceOf(book *tokenBook, owner, spender common.Address) *uint256.Int {
	if v, ok := book.allowances[owner][spender]; ok {
		return v
	}
	return fixedpoint.Zero()
}
