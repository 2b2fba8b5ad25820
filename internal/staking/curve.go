package staking

import (
	"fmt"

	"github.com/holiman/uint256"

	"stakeledger/internal/model"
)

// RewardCurve computes the raw reward of a stake held for elapsed ticks.
// Implementations must be non-decreasing in both amount and elapsed.
type RewardCurve interface {
	Reward(amount *uint256.Int, elapsed uint64) (*uint256.Int, error)
}

// CurveFromParams builds the reward curve configured for a pool.
func CurveFromParams(params model.RateParams) (RewardCurve, error) {
	num := params.Numerator
	if num == nil {
		return nil, fmt.Errorf("%w: numerator is required", ErrInvalidRate)
	}
	den := params.Denominator
	if den == nil {
		den = uint256.NewInt(1)
	}
	if den.IsZero() {
		return nil, fmt.Errorf("%w: denominator is zero", ErrInvalidRate)
	}

	switch params.Kind {
	case model.CurvePerToken, "":
		return perTokenCurve{num: num.Clone(), den: den.Clone()}, nil
	case model.CurveFlat:
		return flatCurve{num: num.Clone(), den: den.Clone()}, nil
	default:
		return nil, fmt.Errorf("%w: unknown curve %q", ErrInvalidRate, params.Kind)
	}
}

// perTokenCurve pays num/den per tick for every staked token.
type perTokenCurve struct {
	num *uint256.Int
	den *uint256.Int
}

func (c perTokenCurve) Reward(amount *uint256.Int, elapsed uint64) (*uint256.Int, error) {
	if amount == nil || amount.IsZero() || elapsed == 0 {
		return new(uint256.Int), nil
	}
	out, overflow := new(uint256.Int).MulOverflow(amount, uint256.NewInt(elapsed))
	if overflow {
		return nil, fmt.Errorf("%w: reward overflow", ErrAccounting)
	}
	if _, overflow = out.MulOverflow(out, c.num); overflow {
		return nil, fmt.Errorf("%w: reward overflow", ErrAccounting)
	}
	return out.Div(out, c.den), nil
}

// flatCurve pays num/den per tick to a position regardless of its size.
type flatCurve struct {
	num *uint256.Int
	den *uint256.Int
}

func (c flatCurve) Reward(amount *uint256.Int, elapsed uint64) (*uint256.Int, error) {
	if amount == nil || amount.IsZero() || elapsed == 0 {
		return new(uint256.Int), nil
	}
	out, overflow := new(uint256.Int).MulOverflow(c.num, uint256.NewInt(elapsed))
	if overflow {
		return nil, fmt.Errorf("%w: reward overflow", ErrAccounting)
	}
	return out.Div(out, c.den), nil
}
