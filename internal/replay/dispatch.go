package replay

import (
	"context"
	"fmt"

	"stakeledger/internal/model"
	"stakeledger/internal/staking"
)

// Apply routes one instruction to the ledger.
func Apply(ctx context.Context, ledger *staking.Ledger, in model.Instruction) error {
	switch in.Op {
	case model.OpInitPool:
		if in.Rate == nil {
			return fmt.Errorf("%w: rate is required", staking.ErrInvalidRate)
		}
		_, err := ledger.InitPool(ctx, in.Caller, staking.PoolParams{
			Admin:        in.Admin,
			Token:        in.Token,
			Custody:      in.Custody,
			RewardVault:  in.RewardVault,
			StartTick:    in.StartTick,
			EndTick:      in.EndTick,
			Rate:         *in.Rate,
			RewardMode:   in.RewardMode,
			MinLockTicks: in.MinLockTicks,
		})
		return err
	case model.OpStake:
		_, err := ledger.Stake(ctx, in.PoolKey(), in.Caller, in.Amount)
		return err
	case model.OpClaim:
		_, err := ledger.ClaimReward(ctx, in.PoolKey(), in.Caller)
		return err
	case model.OpUnstake:
		_, err := ledger.Unstake(ctx, in.PoolKey(), in.Caller)
		return err
	case model.OpClosePool:
		_, err := ledger.ClosePool(ctx, in.PoolKey(), in.Caller)
		return err
	default:
		return fmt.Errorf("unknown op %q", in.Op)
	}
}
