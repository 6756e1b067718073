// Package chaintest serves a scripted Ethereum JSON-RPC node in process, for
// tests that exercise chain.Client end to end.
package chaintest

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// Backend holds the scripted chain: head, block times, logs and contracts.
type Backend struct {
	mu        sync.Mutex
	chainID   uint64
	head      uint64
	times     map[uint64]uint64
	logs      []types.Log
	contracts map[common.Address]*Contract
	failures  map[string]int
	requests  map[string]int
}

func NewBackend(chainID uint64) *Backend {
	return &Backend{
		chainID:   chainID,
		times:     make(map[uint64]uint64),
		contracts: make(map[common.Address]*Contract),
		failures:  make(map[string]int),
		requests:  make(map[string]int),
	}
}

func (b *Backend) SetHead(number uint64) {
	b.mu.Lock()
	b.head = number
	b.mu.Unlock()
}

func (b *Backend) SetBlockTime(number, ts uint64) {
	b.mu.Lock()
	b.times[number] = ts
	b.mu.Unlock()
}

// AddLogs appends logs; block hash, tx hash and indexes should be set by the caller.
func (b *Backend) AddLogs(logs ...types.Log) {
	b.mu.Lock()
	b.logs = append(b.logs, logs...)
	b.mu.Unlock()
}

func (b *Backend) Deploy(addr common.Address, c *Contract) {
	b.mu.Lock()
	b.contracts[addr] = c
	b.mu.Unlock()
}

// FailNext makes the next n requests for method (e.g. "eth_getLogs") fail.
func (b *Backend) FailNext(method string, n int) {
	b.mu.Lock()
	b.failures[method] += n
	b.mu.Unlock()
}

// Requests counts the requests served for method, failed ones included.
func (b *Backend) Requests(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests[method]
}

// Dial starts an in-process server and returns a client for it. Both are
// closed when the test ends.
func (b *Backend) Dial(t testing.TB) *rpc.Client {
	t.Helper()
	server := rpc.NewServer()
	if err := server.RegisterName("eth", &ethService{b: b}); err != nil {
		t.Fatalf("register eth service: %v", err)
	}
	client := rpc.DialInProc(server)
	t.Cleanup(func() {
		client.Close()
		server.Stop()
	})
	return client
}

func (b *Backend) enter(method string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests[method]++
	if b.failures[method] > 0 {
		b.failures[method]--
		return fmt.Errorf("scripted failure for %s", method)
	}
	return nil
}

func (b *Backend) resolveBlock(arg string) (uint64, error) {
	switch arg {
	case "", "latest", "pending", "safe", "finalized":
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.head, nil
	case "earliest":
		return 0, nil
	}
	return hexutil.DecodeUint64(arg)
}

type ethService struct {
	b *Backend
}

func (s *ethService) ChainId() (*hexutil.Big, error) {
	if err := s.b.enter("eth_chainId"); err != nil {
		return nil, err
	}
	return (*hexutil.Big)(new(big.Int).SetUint64(s.b.chainID)), nil
}

func (s *ethService) BlockNumber() (hexutil.Uint64, error) {
	if err := s.b.enter("eth_blockNumber"); err != nil {
		return 0, err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	return hexutil.Uint64(s.b.head), nil
}

func (s *ethService) GetBlockByNumber(number string, fullTx bool) (*types.Header, error) {
	if err := s.b.enter("eth_getBlockByNumber"); err != nil {
		return nil, err
	}
	n, err := s.b.resolveBlock(number)
	if err != nil {
		return nil, err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if n > s.b.head {
		return nil, nil
	}
	return &types.Header{
		Number:     new(big.Int).SetUint64(n),
		Time:       s.b.times[n],
		Difficulty: new(big.Int),
	}, nil
}

type filterArgs struct {
	FromBlock string           `json:"fromBlock"`
	ToBlock   string           `json:"toBlock"`
	Address   []common.Address `json:"address"`
	Topics    [][]common.Hash  `json:"topics"`
}

func (s *ethService) GetLogs(crit filterArgs) ([]types.Log, error) {
	if err := s.b.enter("eth_getLogs"); err != nil {
		return nil, err
	}
	from, err := s.b.resolveBlock(crit.FromBlock)
	if err != nil {
		return nil, err
	}
	to, err := s.b.resolveBlock(crit.ToBlock)
	if err != nil {
		return nil, err
	}

	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	out := []types.Log{}
	for _, lg := range s.b.logs {
		if lg.BlockNumber < from || lg.BlockNumber > to {
			continue
		}
		if len(crit.Address) > 0 && !containsAddress(crit.Address, lg.Address) {
			continue
		}
		if len(crit.Topics) > 0 && len(crit.Topics[0]) > 0 {
			if len(lg.Topics) == 0 || !containsHash(crit.Topics[0], lg.Topics[0]) {
				continue
			}
		}
		out = append(out, lg)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].Index < out[j].Index
	})
	return out, nil
}

type callArgs struct {
	To    *common.Address `json:"to"`
	Input hexutil.Bytes   `json:"input"`
	Data  hexutil.Bytes   `json:"data"`
}

func (s *ethService) Call(args callArgs, block string) (hexutil.Bytes, error) {
	if err := s.b.enter("eth_call"); err != nil {
		return nil, err
	}
	if args.To == nil {
		return nil, errors.New("missing call target")
	}
	input := args.Input
	if len(input) == 0 {
		input = args.Data
	}
	s.b.mu.Lock()
	c, ok := s.b.contracts[*args.To]
	s.b.mu.Unlock()
	if !ok {
		// An eth_call to an address without code returns empty data.
		return hexutil.Bytes{}, nil
	}
	return c.handle(input)
}

// Contract answers eth_call by ABI method name.
type Contract struct {
	abi      abi.ABI
	mu       sync.Mutex
	handlers map[string]func(args []interface{}) ([]interface{}, error)
}

func NewContract(parsed abi.ABI) *Contract {
	return &Contract{abi: parsed, handlers: make(map[string]func([]interface{}) ([]interface{}, error))}
}

// On installs a handler for method.
func (c *Contract) On(method string, fn func(args []interface{}) ([]interface{}, error)) *Contract {
	c.mu.Lock()
	c.handlers[method] = fn
	c.mu.Unlock()
	return c
}

// Returns makes method always answer with values.
func (c *Contract) Returns(method string, values ...interface{}) *Contract {
	return c.On(method, func([]interface{}) ([]interface{}, error) { return values, nil })
}

func (c *Contract) handle(input []byte) ([]byte, error) {
	if len(input) < 4 {
		return nil, errors.New("execution reverted: short calldata")
	}
	method, err := c.abi.MethodById(input[:4])
	if err != nil {
		return nil, fmt.Errorf("execution reverted: %w", err)
	}
	args, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, fmt.Errorf("execution reverted: %w", err)
	}
	c.mu.Lock()
	fn, ok := c.handlers[method.Name]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("execution reverted: %s not scripted", method.Name)
	}
	values, err := fn(args)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(values...)
}

func containsAddress(set []common.Address, addr common.Address) bool {
	for _, a := range set {
		if a == addr {
			return true
		}
	}
	return false
}

func containsHash(set []common.Hash, h common.Hash) bool {
	for _, x := range set {
		if x == h {
			return true
		}
	}
	return false
}
