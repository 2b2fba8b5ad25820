package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// RewardMode selects how accrued reward reaches a participant.
type RewardMode string

const (
	// RewardMint mints reward with the pool admin as mint authority.
	RewardMint RewardMode = "mint"
	// RewardTransfer pays reward out of the pool's funded reward vault,
	// an account kept apart from the custody account holding principal.
	RewardTransfer RewardMode = "transfer"
)

// CurveKind names a reward curve.
type CurveKind string

const (
	// CurvePerToken pays Numerator/Denominator per tick per staked token.
	CurvePerToken CurveKind = "per_token"
	// CurveFlat pays Numerator/Denominator per tick to any active position.
	CurveFlat CurveKind = "flat"
)

// RateParams is the persisted reward curve configuration of a pool.
type RateParams struct {
	Kind        CurveKind    `json:"kind" yaml:"kind"`
	Numerator   *uint256.Int `json:"numerator" yaml:"numerator"`
	Denominator *uint256.Int `json:"denominator" yaml:"denominator"`
}

// Pool is the administrator-configured record of one staking program.
type Pool struct {
	ID           common.Hash    `json:"id"`
	Admin        common.Address `json:"admin"`
	Token        common.Address `json:"token"`
	Custody      common.Address `json:"custody"`
	RewardVault  common.Address `json:"reward_vault,omitempty"`
	StartTick    uint64         `json:"start_tick"`
	EndTick      uint64         `json:"end_tick"`
	Rate         RateParams     `json:"rate"`
	RewardMode   RewardMode     `json:"reward_mode"`
	MinLockTicks uint64         `json:"min_lock_ticks"`
	Closed       bool           `json:"closed"`
	CreatedTick  uint64         `json:"created_tick"`
}

// PoolIDFor derives the pool key from its (admin, token) pair.
func PoolIDFor(admin, token common.Address) common.Hash {
	return crypto.Keccak256Hash(admin.Bytes(), token.Bytes())
}

// ActiveAt reports whether staking is accepted at tick.
func (p Pool) ActiveAt(tick uint64) bool {
	return !p.Closed && tick >= p.StartTick && tick < p.EndTick
}

// Clone returns a copy that shares no amount pointers with p.
func (p Pool) Clone() Pool {
	out := p
	out.Rate.Numerator = cloneAmount(p.Rate.Numerator)
	out.Rate.Denominator = cloneAmount(p.Rate.Denominator)
	return out
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return nil
	}
	return v.Clone()
}
