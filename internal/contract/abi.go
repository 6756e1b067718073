package contract

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const ammABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "address", "name": "user", "type": "address"},
      {"indexed": false, "internalType": "address", "name": "tokenGive", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "tokenGiveAmount", "type": "uint256"},
      {"indexed": false, "internalType": "address", "name": "tokenGet", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "tokenGetAmount", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "token1Balance", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "token2Balance", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "timestamp", "type": "uint256"}
    ],
    "name": "Swap",
    "type": "event"
  },
  {"inputs": [], "name": "token1", "outputs": [{"internalType": "address", "name": "", "type": "address"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "token2", "outputs": [{"internalType": "address", "name": "", "type": "address"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "token1Balance", "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "token2Balance", "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "K", "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "totalShares", "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
  {
    "inputs": [{"internalType": "address", "name": "", "type": "address"}],
    "name": "shares",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "uint256", "name": "_token1Amount", "type": "uint256"}],
    "name": "calculateToken2Deposit",
    "outputs": [{"internalType": "uint256", "name": "token2Amount", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "uint256", "name": "_token2Amount", "type": "uint256"}],
    "name": "calculateToken1Deposit",
    "outputs": [{"internalType": "uint256", "name": "token1Amount", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "uint256", "name": "_token1Amount", "type": "uint256"}],
    "name": "calculateToken1Swap",
    "outputs": [{"internalType": "uint256", "name": "token2Amount", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "uint256", "name": "_token2Amount", "type": "uint256"}],
    "name": "calculateToken2Swap",
    "outputs": [{"internalType": "uint256", "name": "token1Amount", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

const erc20ABIJSON = `[
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "symbol", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "name", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"name": "owner", "type": "address"}], "name": "balanceOf", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"}
]`

// Some older tokens return symbol and name as bytes32.
const erc20LegacyABIJSON = `[
  {"inputs": [], "name": "symbol", "outputs": [{"type": "bytes32"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "name", "outputs": [{"type": "bytes32"}], "stateMutability": "view", "type": "function"}
]`

type lazyABI struct {
	def    string
	once   sync.Once
	parsed abi.ABI
	err    error
}

func (l *lazyABI) get() (abi.ABI, error) {
	l.once.Do(func() {
		l.parsed, l.err = abi.JSON(strings.NewReader(l.def))
	})
	return l.parsed, l.err
}

var (
	ammABI         = &lazyABI{def: ammABIJSON}
	erc20ABI       = &lazyABI{def: erc20ABIJSON}
	erc20LegacyABI = &lazyABI{def: erc20LegacyABIJSON}
)

// AMMABI returns the parsed pool contract ABI.
func AMMABI() (abi.ABI, error) {
	return ammABI.get()
}

// ERC20ABI returns the parsed token ABI used for metadata and balances.
func ERC20ABI() (abi.ABI, error) {
	return erc20ABI.get()
}
