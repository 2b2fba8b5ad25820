package metrics

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder()
	r.ObserveOp("stake", "ok", time.Now())
	r.ObserveOp("stake", "pool_inactive", time.Now())
	r.AddPrincipal("in", uint256.NewInt(50))
	r.AddReward(uint256.NewInt(2500))

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)

	found := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				found[mf.GetName()] += c.GetValue()
			}
		}
	}
	assert.Equal(t, float64(2), found["stakeledger_operations_total"])
	assert.Equal(t, float64(50), found["stakeledger_principal_moved_total"])
	assert.Equal(t, float64(2500), found["stakeledger_reward_paid_total"])
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveOp("claim", "ok", time.Now())
		r.AddReward(uint256.NewInt(1))
		r.AddPrincipal("out", uint256.NewInt(1))
	})
}
