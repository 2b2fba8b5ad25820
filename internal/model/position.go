package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Position is one participant's stake within a pool.
//
// A position with a zero Amount is empty and must also carry a zero
// DepositTick and RewardDebt.
type Position struct {
	Pool        common.Hash    `json:"pool"`
	Owner       common.Address `json:"owner"`
	Amount      *uint256.Int   `json:"amount"`
	DepositTick uint64         `json:"deposit_tick"`
	RewardDebt  *uint256.Int   `json:"reward_debt"`
}

// EmptyPosition returns the zero state for owner in pool.
func EmptyPosition(pool common.Hash, owner common.Address) Position {
	return Position{
		Pool:       pool,
		Owner:      owner,
		Amount:     new(uint256.Int),
		RewardDebt: new(uint256.Int),
	}
}

// IsEmpty reports whether the position holds no stake.
func (p Position) IsEmpty() bool {
	return p.Amount == nil || p.Amount.IsZero()
}

// Reset clears the position back to the empty state.
func (p *Position) Reset() {
	p.Amount = new(uint256.Int)
	p.DepositTick = 0
	p.RewardDebt = new(uint256.Int)
}

// Clone returns a deep copy of p.
func (p Position) Clone() Position {
	out := p
	out.Amount = cloneAmount(p.Amount)
	out.RewardDebt = cloneAmount(p.RewardDebt)
	if out.Amount == nil {
		out.Amount = new(uint256.Int)
	}
	if out.RewardDebt == nil {
		out.RewardDebt = new(uint256.Int)
	}
	return out
}
