package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EventKind names a committed ledger transition.
type EventKind string

const (
	EventPoolInitialized EventKind = "pool_initialized"
	EventPoolClosed      EventKind = "pool_closed"
	EventStaked          EventKind = "staked"
	EventRewardClaimed   EventKind = "reward_claimed"
	EventUnstaked        EventKind = "unstaked"
)

// LedgerEvent is the journal entry of a committed transition.
type LedgerEvent struct {
	Kind       EventKind      `json:"kind"`
	Pool       common.Hash    `json:"pool"`
	Account    common.Address `json:"account"`
	Tick       uint64         `json:"tick"`
	Principal  *uint256.Int   `json:"principal,omitempty"`
	Reward     *uint256.Int   `json:"reward,omitempty"`
	Position   *Position      `json:"position,omitempty"`
	RecordedAt string         `json:"recorded_at"`
}
