package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Op names a ledger instruction.
type Op string

const (
	OpInitPool  Op = "init_pool"
	OpStake     Op = "stake"
	OpClaim     Op = "claim"
	OpUnstake   Op = "unstake"
	OpClosePool Op = "close_pool"
)

// Instruction is one line of a replayable instruction stream.
//
// The pool is addressed either by Pool or, when Pool is zero, by the
// (Admin, Token) pair it was opened with.
type Instruction struct {
	Seq    uint64         `json:"seq"`
	Op     Op             `json:"op"`
	Tick   uint64         `json:"tick"`
	Caller common.Address `json:"caller"`
	Pool   common.Hash    `json:"pool,omitempty"`
	Admin  common.Address `json:"admin,omitempty"`
	Token  common.Address `json:"token,omitempty"`
	Amount *uint256.Int   `json:"amount,omitempty"`

	// init_pool only.
	Custody      common.Address `json:"custody,omitempty"`
	RewardVault  common.Address `json:"reward_vault,omitempty"`
	StartTick    uint64         `json:"start_tick,omitempty"`
	EndTick      uint64         `json:"end_tick,omitempty"`
	Rate         *RateParams    `json:"rate,omitempty"`
	RewardMode   RewardMode     `json:"reward_mode,omitempty"`
	MinLockTicks uint64         `json:"min_lock_ticks,omitempty"`
}

// PoolKey resolves the pool the instruction targets.
func (in Instruction) PoolKey() common.Hash {
	if in.Pool != (common.Hash{}) {
		return in.Pool
	}
	return PoolIDFor(in.Admin, in.Token)
}

// InstructionError records a rejected instruction.
type InstructionError struct {
	Seq    uint64         `json:"seq"`
	Line   uint64         `json:"line,omitempty"`
	Op     Op             `json:"op"`
	Tick   uint64         `json:"tick"`
	Caller common.Address `json:"caller"`
	Pool   common.Hash    `json:"pool"`
	Error  string         `json:"error"`
}
