package staking

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stakeledger/internal/custody"
	"stakeledger/internal/model"
)

func windowPool(start, end uint64) model.Pool {
	admin := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	token := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	return model.Pool{
		ID:         model.PoolIDFor(admin, token),
		Admin:      admin,
		Token:      token,
		Custody:    admin,
		StartTick:  start,
		EndTick:    end,
		Rate:       model.RateParams{Kind: model.CurvePerToken, Numerator: uint256.NewInt(1), Denominator: uint256.NewInt(1)},
		RewardMode: model.RewardMint,
	}
}

func activePosition(pool model.Pool, amount, deposit, debt uint64) model.Position {
	pos := model.EmptyPosition(pool.ID, common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc"))
	pos.Amount = uint256.NewInt(amount)
	pos.DepositTick = deposit
	pos.RewardDebt = uint256.NewInt(debt)
	return pos
}

func mustCurve(t *testing.T, pool model.Pool) RewardCurve {
	t.Helper()
	curve, err := CurveFromParams(pool.Rate)
	require.NoError(t, err)
	return curve
}

func TestElapsedRewardClipsToWindow(t *testing.T) {
	pool := windowPool(100, 200)
	curve := mustCurve(t, pool)

	tests := []struct {
		name    string
		deposit uint64
		now     uint64
		want    uint64
	}{
		{name: "inside window", deposit: 100, now: 150, want: 2500},
		{name: "past end", deposit: 150, now: 250, want: 2500},
		{name: "deposit before start", deposit: 50, now: 120, want: 1000},
		{name: "now before deposit", deposit: 150, now: 140, want: 0},
		{name: "deposit at end", deposit: 200, now: 300, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ElapsedReward(pool, curve, activePosition(pool, 50, tt.deposit, 0), tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Uint64())
		})
	}
}

func TestElapsedRewardIsMonotonic(t *testing.T) {
	pool := windowPool(10, 500)
	curve := mustCurve(t, pool)

	for _, amount := range []uint64{1, 7, 50, 1000} {
		prev := new(uint256.Int)
		for now := uint64(20); now <= 600; now += 13 {
			got, err := ElapsedReward(pool, curve, activePosition(pool, amount, 20, 0), now)
			require.NoError(t, err)
			require.False(t, got.Lt(prev), "reward decreased at tick %d for amount %d", now, amount)
			prev = got
		}
	}

	for now := uint64(20); now <= 600; now += 37 {
		prev := new(uint256.Int)
		for amount := uint64(0); amount <= 200; amount += 9 {
			got, err := ElapsedReward(pool, curve, activePosition(pool, amount, 20, 0), now)
			require.NoError(t, err)
			require.False(t, got.Lt(prev), "reward decreased at amount %d, tick %d", amount, now)
			prev = got
		}
	}
}

func TestPayableRejectsOverSettlement(t *testing.T) {
	_, err := Payable(uint256.NewInt(10), uint256.NewInt(11))
	assert.ErrorIs(t, err, ErrAccounting)

	got, err := Payable(uint256.NewInt(10), uint256.NewInt(4))
	require.NoError(t, err)
	assert.Equal(t, uint64(6), got.Uint64())
}

func TestStakeTransitionFreshPosition(t *testing.T) {
	pool := windowPool(100, 200)
	pos := model.EmptyPosition(pool.ID, common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc"))

	st, err := stakeTransition(pool, mustCurve(t, pool), pos, uint256.NewInt(50), 120)
	require.NoError(t, err)

	assert.Equal(t, uint64(50), st.Position.Amount.Uint64())
	assert.Equal(t, uint64(120), st.Position.DepositTick)
	assert.True(t, st.Position.RewardDebt.IsZero())
	require.Len(t, st.Ops, 1)
	assert.Equal(t, custody.OpTransfer, st.Ops[0].Kind)
	assert.Equal(t, pos.Owner, st.Ops[0].From)
	assert.Equal(t, pool.Custody, st.Ops[0].To)
	assert.True(t, pos.IsEmpty(), "input position must not be mutated")
}

func TestStakeTransitionTopUpHarvests(t *testing.T) {
	pool := windowPool(100, 200)
	pos := activePosition(pool, 50, 100, 1000)

	st, err := stakeTransition(pool, mustCurve(t, pool), pos, uint256.NewInt(25), 150)
	require.NoError(t, err)

	// 50 * 50 accrued, 1000 already settled.
	assert.Equal(t, uint64(1500), st.Reward.Uint64())
	assert.Equal(t, uint64(75), st.Position.Amount.Uint64())
	assert.Equal(t, uint64(150), st.Position.DepositTick)
	assert.True(t, st.Position.RewardDebt.IsZero())
	require.Len(t, st.Ops, 2)
	assert.Equal(t, custody.OpMint, st.Ops[1].Kind)
	assert.Equal(t, pool.Admin, st.Ops[1].Authority)
	assert.Equal(t, uint64(50), pos.Amount.Uint64())
}

func TestClaimTransitionZeroPayableIsNoop(t *testing.T) {
	pool := windowPool(100, 200)
	pos := activePosition(pool, 50, 100, 2500)

	st, err := claimTransition(pool, mustCurve(t, pool), pos, 150)
	require.NoError(t, err)
	assert.Empty(t, st.Ops)
	assert.True(t, st.Reward.IsZero())
	assert.Equal(t, pos, st.Position)
}

func TestClaimTransitionTransferMode(t *testing.T) {
	pool := windowPool(100, 200)
	pool.RewardMode = model.RewardTransfer
	pool.RewardVault = common.HexToAddress("0xdddddddddddddddddddddddddddddddddddddddd")
	pos := activePosition(pool, 2, 100, 0)

	st, err := claimTransition(pool, mustCurve(t, pool), pos, 110)
	require.NoError(t, err)
	require.Len(t, st.Ops, 1)
	assert.Equal(t, custody.OpTransfer, st.Ops[0].Kind)
	assert.Equal(t, pool.RewardVault, st.Ops[0].From)
	assert.NotEqual(t, pool.Custody, st.Ops[0].From)
	assert.Equal(t, uint64(20), st.Ops[0].Amount.Uint64())
	assert.Equal(t, uint64(20), st.Position.RewardDebt.Uint64())
}

func TestUnstakeTransitionLock(t *testing.T) {
	pool := windowPool(100, 200)
	pool.MinLockTicks = 30
	pos := activePosition(pool, 50, 100, 0)

	_, err := unstakeTransition(pool, mustCurve(t, pool), pos, 129)
	assert.ErrorIs(t, err, ErrPositionLocked)

	st, err := unstakeTransition(pool, mustCurve(t, pool), pos, 130)
	require.NoError(t, err)
	assert.True(t, st.Position.IsEmpty())

	// The lock never outlives the pool window.
	pos = activePosition(pool, 50, 190, 0)
	_, err = unstakeTransition(pool, mustCurve(t, pool), pos, 200)
	assert.NoError(t, err)
}

func TestTransitionsRejectEmptyPosition(t *testing.T) {
	pool := windowPool(100, 200)
	empty := model.EmptyPosition(pool.ID, common.Address{1})

	_, err := claimTransition(pool, mustCurve(t, pool), empty, 150)
	assert.ErrorIs(t, err, ErrNoActivePosition)
	_, err = unstakeTransition(pool, mustCurve(t, pool), empty, 150)
	assert.ErrorIs(t, err, ErrNoActivePosition)
}

func TestCheckInvariants(t *testing.T) {
	pool := windowPool(100, 200)
	curve := mustCurve(t, pool)

	dirty := model.EmptyPosition(pool.ID, common.Address{1})
	dirty.DepositTick = 5
	assert.ErrorIs(t, checkInvariants(pool, curve, dirty, 150), ErrAccounting)

	over := activePosition(pool, 1, 100, 51)
	assert.ErrorIs(t, checkInvariants(pool, curve, over, 150), ErrAccounting)

	assert.NoError(t, checkInvariants(pool, curve, activePosition(pool, 1, 100, 50), 150))
}
