package staking

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stakeledger/internal/custody"
	"stakeledger/internal/model"
)

// Settlement is the outcome of one position transition: the next state
// of the position and the custody operations that must land with it.
type Settlement struct {
	Position  model.Position
	Principal *uint256.Int
	Reward    *uint256.Int
	Tick      uint64
	Ops       []custody.Op
}

// ElapsedReward returns the raw reward accrued by pos from its deposit
// tick up to now, clipped to the pool window.
func ElapsedReward(pool model.Pool, curve RewardCurve, pos model.Position, now uint64) (*uint256.Int, error) {
	if pos.IsEmpty() {
		return new(uint256.Int), nil
	}
	end := min(now, pool.EndTick)
	begin := max(pos.DepositTick, pool.StartTick)
	if end <= begin {
		return new(uint256.Int), nil
	}
	return curve.Reward(pos.Amount, end-begin)
}

// Payable returns raw minus the settled reward debt.
func Payable(raw, debt *uint256.Int) (*uint256.Int, error) {
	if debt == nil {
		return raw.Clone(), nil
	}
	if debt.Gt(raw) {
		return nil, fmt.Errorf("%w: reward debt %s exceeds accrued %s", ErrAccounting, debt.Dec(), raw.Dec())
	}
	return new(uint256.Int).Sub(raw, debt), nil
}

func pendingReward(pool model.Pool, curve RewardCurve, pos model.Position, now uint64) (raw, payable *uint256.Int, err error) {
	raw, err = ElapsedReward(pool, curve, pos, now)
	if err != nil {
		return nil, nil, err
	}
	payable, err = Payable(raw, pos.RewardDebt)
	if err != nil {
		return nil, nil, err
	}
	return raw, payable, nil
}

// payoutOp moves reward to owner according to the pool reward mode.
// Transfer payouts draw on the reward vault only, never on the custody
// account, so staked principal cannot fund another participant's reward.
func payoutOp(pool model.Pool, owner common.Address, reward *uint256.Int) custody.Op {
	if pool.RewardMode == model.RewardTransfer {
		return custody.Transfer(pool.Token, pool.RewardVault, owner, reward)
	}
	return custody.Mint(pool.Token, owner, reward, pool.Admin)
}

// stakeTransition deposits amount into pos. A top-up first harvests the
// reward accrued so far, then blends the deposit tick of the combined
// balance to now.
func stakeTransition(pool model.Pool, curve RewardCurve, pos model.Position, amount *uint256.Int, now uint64) (Settlement, error) {
	next := pos.Clone()
	st := Settlement{Principal: amount.Clone(), Reward: new(uint256.Int), Tick: now}
	st.Ops = append(st.Ops, custody.Transfer(pool.Token, pos.Owner, pool.Custody, amount))

	if next.IsEmpty() {
		next.Amount = amount.Clone()
		next.DepositTick = now
		next.RewardDebt = new(uint256.Int)
	} else {
		_, payable, err := pendingReward(pool, curve, next, now)
		if err != nil {
			return Settlement{}, err
		}
		if !payable.IsZero() {
			st.Reward = payable
			st.Ops = append(st.Ops, payoutOp(pool, pos.Owner, payable))
		}
		if _, overflow := next.Amount.AddOverflow(next.Amount, amount); overflow {
			return Settlement{}, fmt.Errorf("%w: staked amount overflow", ErrAccounting)
		}
		next.DepositTick = now
		next.RewardDebt = new(uint256.Int)
	}

	if err := checkInvariants(pool, curve, next, now); err != nil {
		return Settlement{}, err
	}
	st.Position = next
	return st, nil
}

// claimTransition settles the payable reward of pos. A zero payable
// reward yields a settlement without operations.
func claimTransition(pool model.Pool, curve RewardCurve, pos model.Position, now uint64) (Settlement, error) {
	if pos.IsEmpty() {
		return Settlement{}, ErrNoActivePosition
	}
	raw, payable, err := pendingReward(pool, curve, pos, now)
	if err != nil {
		return Settlement{}, err
	}

	next := pos.Clone()
	st := Settlement{Principal: new(uint256.Int), Reward: payable, Tick: now}
	if !payable.IsZero() {
		next.RewardDebt = raw
		st.Ops = append(st.Ops, payoutOp(pool, pos.Owner, payable))
	}

	if err := checkInvariants(pool, curve, next, now); err != nil {
		return Settlement{}, err
	}
	st.Position = next
	return st, nil
}

// unstakeTransition pays the remaining reward, returns the principal and
// resets pos to the empty state.
func unstakeTransition(pool model.Pool, curve RewardCurve, pos model.Position, now uint64) (Settlement, error) {
	if pos.IsEmpty() {
		return Settlement{}, ErrNoActivePosition
	}
	if pool.MinLockTicks > 0 && now < pool.EndTick && now-min(now, pos.DepositTick) < pool.MinLockTicks {
		return Settlement{}, fmt.Errorf("%w: unlocks at tick %d", ErrPositionLocked, pos.DepositTick+pool.MinLockTicks)
	}
	_, payable, err := pendingReward(pool, curve, pos, now)
	if err != nil {
		return Settlement{}, err
	}

	st := Settlement{Principal: pos.Amount.Clone(), Reward: payable, Tick: now}
	if !payable.IsZero() {
		st.Ops = append(st.Ops, payoutOp(pool, pos.Owner, payable))
	}
	st.Ops = append(st.Ops, custody.Transfer(pool.Token, pool.Custody, pos.Owner, pos.Amount.Clone()))

	next := pos.Clone()
	next.Reset()
	if err := checkInvariants(pool, curve, next, now); err != nil {
		return Settlement{}, err
	}
	st.Position = next
	return st, nil
}

func checkInvariants(pool model.Pool, curve RewardCurve, pos model.Position, now uint64) error {
	if pos.IsEmpty() {
		if pos.DepositTick != 0 || (pos.RewardDebt != nil && !pos.RewardDebt.IsZero()) {
			return fmt.Errorf("%w: empty position carries deposit tick %d", ErrAccounting, pos.DepositTick)
		}
		return nil
	}
	raw, err := ElapsedReward(pool, curve, pos, now)
	if err != nil {
		return err
	}
	if pos.RewardDebt != nil && pos.RewardDebt.Gt(raw) {
		return fmt.Errorf("%w: reward debt %s exceeds accrued %s", ErrAccounting, pos.RewardDebt.Dec(), raw.Dec())
	}
	return nil
}
