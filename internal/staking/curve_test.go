package staking

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stakeledger/internal/model"
)

func TestCurveFromParams(t *testing.T) {
	tests := []struct {
		name    string
		params  model.RateParams
		amount  uint64
		elapsed uint64
		want    uint64
		wantErr error
	}{
		{
			name:    "per token one per tick",
			params:  model.RateParams{Kind: model.CurvePerToken, Numerator: uint256.NewInt(1)},
			amount:  50,
			elapsed: 100,
			want:    5000,
		},
		{
			name:    "per token fractional rate floors",
			params:  model.RateParams{Kind: model.CurvePerToken, Numerator: uint256.NewInt(1), Denominator: uint256.NewInt(3)},
			amount:  10,
			elapsed: 1,
			want:    3,
		},
		{
			name:    "default kind is per token",
			params:  model.RateParams{Numerator: uint256.NewInt(2)},
			amount:  3,
			elapsed: 4,
			want:    24,
		},
		{
			name:    "flat ignores amount",
			params:  model.RateParams{Kind: model.CurveFlat, Numerator: uint256.NewInt(7)},
			amount:  1_000_000,
			elapsed: 3,
			want:    21,
		},
		{
			name:    "zero amount accrues nothing",
			params:  model.RateParams{Kind: model.CurveFlat, Numerator: uint256.NewInt(7)},
			amount:  0,
			elapsed: 3,
			want:    0,
		},
		{
			name:    "missing numerator",
			params:  model.RateParams{Kind: model.CurvePerToken},
			wantErr: ErrInvalidRate,
		},
		{
			name:    "zero denominator",
			params:  model.RateParams{Numerator: uint256.NewInt(1), Denominator: new(uint256.Int)},
			wantErr: ErrInvalidRate,
		},
		{
			name:    "unknown curve",
			params:  model.RateParams{Kind: "decay", Numerator: uint256.NewInt(1)},
			wantErr: ErrInvalidRate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			curve, err := CurveFromParams(tt.params)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			got, err := curve.Reward(uint256.NewInt(tt.amount), tt.elapsed)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Uint64())
		})
	}
}

func TestPerTokenCurveOverflow(t *testing.T) {
	curve, err := CurveFromParams(model.RateParams{Numerator: uint256.NewInt(2)})
	require.NoError(t, err)

	huge := new(uint256.Int).SetAllOne()
	_, err = curve.Reward(huge, 2)
	assert.ErrorIs(t, err, ErrAccounting)
}
