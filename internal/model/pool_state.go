package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PoolState is a point-in-time snapshot of a constant-product pool.
type PoolState struct {
	Address       common.Address
	Token1        common.Address
	Token2        common.Address
	Token1Balance *uint256.Int
	Token2Balance *uint256.Int
	TotalShares   *uint256.Int
	Shares        map[common.Address]*uint256.Int
	BlockNumber   uint64
}
