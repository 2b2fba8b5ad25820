package replay

import (
	"context"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stakeledger/internal/custody"
	"stakeledger/internal/model"
	"stakeledger/internal/staking"
	"stakeledger/internal/storage"
)

const (
	admin = "0x00000000000000000000000000000000000000a1"
	token = "0x00000000000000000000000000000000000000b2"
	alice = "0x00000000000000000000000000000000000000c3"
)

type rejectRecorder struct {
	rejected []model.InstructionError
}

func (r *rejectRecorder) PutErrors(ctx context.Context, rejected []model.InstructionError) error {
	r.rejected = append(r.rejected, rejected...)
	return nil
}

type harness struct {
	ledger *staking.Ledger
	clock  *staking.ManualClock
	book   *custody.Book
	store  *storage.MemoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock: staking.NewManualClock(0),
		book:  custody.NewBook(),
		store: storage.NewMemoryStore(),
	}
	require.NoError(t, h.book.Credit(common.HexToAddress(token), common.HexToAddress(alice), uint256.NewInt(100)))
	ledger, err := staking.NewLedger(staking.Config{Store: h.store, Custody: h.book, Clock: h.clock}, nil)
	require.NoError(t, err)
	h.ledger = ledger
	return h
}

const scenario = `
{"seq":1,"op":"init_pool","tick":90,"caller":"` + admin + `","admin":"` + admin + `","token":"` + token + `","start_tick":100,"end_tick":200,"rate":{"numerator":"1"}}
{"seq":2,"op":"stake","tick":100,"caller":"` + alice + `","admin":"` + admin + `","token":"` + token + `","amount":"50"}
{"seq":3,"op":"claim","tick":150,"caller":"` + alice + `","admin":"` + admin + `","token":"` + token + `"}
{"seq":4,"op":"claim","tick":150,"caller":"0x00000000000000000000000000000000000000d4","admin":"` + admin + `","token":"` + token + `"}
not json
{"seq":6,"op":"unstake","tick":250,"caller":"` + alice + `","admin":"` + admin + `","token":"` + token + `"}
`

func TestRunReplaysScenario(t *testing.T) {
	h := newHarness(t)
	rejects := &rejectRecorder{}
	cp := NewStateCheckpoint(h.store, "replay")
	flushes := 0

	runner := NewRunner(RunConfig{
		Clock:      h.clock,
		Checkpoint: cp,
		Flush: func(context.Context) error {
			flushes++
			return nil
		},
	}, h.ledger, rejects, nil)

	stats, err := runner.Run(context.Background(), strings.NewReader(scenario))
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Total)
	assert.Equal(t, 4, stats.Applied)
	assert.Equal(t, 2, stats.Rejected)
	assert.Equal(t, uint64(6), stats.LastSeq)
	assert.Equal(t, 1, flushes)

	require.Len(t, rejects.rejected, 2)
	assert.Equal(t, uint64(4), rejects.rejected[0].Seq)
	assert.Contains(t, rejects.rejected[0].Error, staking.ErrNoActivePosition.Error())
	assert.Zero(t, rejects.rejected[1].Seq, "unparseable line in a numbered stream has no seq")
	assert.Equal(t, uint64(6), rejects.rejected[1].Line)
	assert.Contains(t, rejects.rejected[1].Error, "parse instruction")

	// 50 principal back, 2500 claimed at 150 and 2500 paid at unstake.
	assert.Equal(t, uint64(100+5000), h.book.BalanceOf(common.HexToAddress(token), common.HexToAddress(alice)).Uint64())

	last, ok, err := cp.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(6), last)
}

func TestRunResumesAfterCheckpoint(t *testing.T) {
	h := newHarness(t)
	cp := NewStateCheckpoint(h.store, "replay")
	lines := strings.Split(strings.TrimSpace(scenario), "\n")

	runner := NewRunner(RunConfig{Clock: h.clock, Checkpoint: cp, CheckpointEvery: 1}, h.ledger, nil, nil)
	stats, err := runner.Run(context.Background(), strings.NewReader(strings.Join(lines[:2], "\n")))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Applied)

	// Replaying the whole stream must not apply the first two again.
	stats, err = runner.Run(context.Background(), strings.NewReader(scenario))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, 2, stats.Applied)
	assert.Equal(t, 2, stats.Rejected)

	pos, err := h.ledger.Position(context.Background(), model.PoolIDFor(common.HexToAddress(admin), common.HexToAddress(token)), common.HexToAddress(alice))
	require.NoError(t, err)
	assert.True(t, pos.IsEmpty())
}

func TestRunRejectsTickRegression(t *testing.T) {
	h := newHarness(t)
	rejects := &rejectRecorder{}
	input := `{"seq":1,"op":"init_pool","tick":50,"caller":"` + admin + `","admin":"` + admin + `","token":"` + token + `","start_tick":0,"end_tick":100,"rate":{"numerator":"1"}}
{"seq":2,"op":"stake","tick":40,"caller":"` + alice + `","admin":"` + admin + `","token":"` + token + `","amount":"1"}`

	stats, err := NewRunner(RunConfig{Clock: h.clock}, h.ledger, rejects, nil).Run(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Applied)
	require.Len(t, rejects.rejected, 1)
	assert.Contains(t, rejects.rejected[0].Error, "backwards")
}

func TestRunRejectsBrokenExplicitNumbering(t *testing.T) {
	h := newHarness(t)
	rejects := &rejectRecorder{}
	cp := NewStateCheckpoint(h.store, "replay")
	input := `{"seq":10,"op":"init_pool","tick":90,"caller":"` + admin + `","admin":"` + admin + `","token":"` + token + `","start_tick":100,"end_tick":200,"rate":{"numerator":"1"}}
{"op":"stake","tick":100,"caller":"` + alice + `","admin":"` + admin + `","token":"` + token + `","amount":"50"}
{"seq":12,"op":"stake","tick":100,"caller":"` + alice + `","admin":"` + admin + `","token":"` + token + `","amount":"10"}
{"seq":11,"op":"stake","tick":100,"caller":"` + alice + `","admin":"` + admin + `","token":"` + token + `","amount":"5"}`

	runner := NewRunner(RunConfig{Clock: h.clock, Checkpoint: cp, CheckpointEvery: 1}, h.ledger, rejects, nil)
	stats, err := runner.Run(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Applied)
	assert.Equal(t, 2, stats.Rejected)
	assert.Equal(t, uint64(12), stats.LastSeq)

	require.Len(t, rejects.rejected, 2)
	assert.Zero(t, rejects.rejected[0].Seq)
	assert.Equal(t, uint64(2), rejects.rejected[0].Line)
	assert.Contains(t, rejects.rejected[0].Error, errMissingSeq.Error())
	assert.Equal(t, uint64(11), rejects.rejected[1].Seq)
	assert.Contains(t, rejects.rejected[1].Error, errSeqOrder.Error())

	poolID := model.PoolIDFor(common.HexToAddress(admin), common.HexToAddress(token))
	pos, err := h.ledger.Position(context.Background(), poolID, common.HexToAddress(alice))
	require.NoError(t, err)
	assert.Equal(t, uint64(10), pos.Amount.Uint64())

	last, _, err := cp.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(12), last)
}

func TestRunRejectsSeqInLineNumberedStream(t *testing.T) {
	h := newHarness(t)
	rejects := &rejectRecorder{}
	input := `{"op":"init_pool","tick":90,"caller":"` + admin + `","admin":"` + admin + `","token":"` + token + `","start_tick":100,"end_tick":200,"rate":{"numerator":"1"}}
{"seq":7,"op":"stake","tick":100,"caller":"` + alice + `","admin":"` + admin + `","token":"` + token + `","amount":"50"}
{"op":"stake","tick":100,"caller":"` + alice + `","admin":"` + admin + `","token":"` + token + `","amount":"10"}`

	stats, err := NewRunner(RunConfig{Clock: h.clock}, h.ledger, rejects, nil).Run(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Applied)
	assert.Equal(t, uint64(3), stats.LastSeq)
	require.Len(t, rejects.rejected, 1)
	assert.Equal(t, uint64(2), rejects.rejected[0].Seq)
	assert.Contains(t, rejects.rejected[0].Error, errUnexpectedSeq.Error())
}

func TestSequencer(t *testing.T) {
	var explicit sequencer
	seq, err := explicit.assign(1, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), seq)
	assert.Zero(t, explicit.unparsed(2))
	_, err = explicit.assign(3, 0)
	assert.ErrorIs(t, err, errMissingSeq)
	_, err = explicit.assign(4, 5)
	assert.ErrorIs(t, err, errSeqOrder)
	assert.Equal(t, uint64(5), explicit.last)

	var byLine sequencer
	assert.Zero(t, byLine.unparsed(1), "scheme is fixed by the first parsed instruction")
	seq, err = byLine.assign(2, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)
	assert.Equal(t, uint64(3), byLine.unparsed(3))
	_, err = byLine.assign(4, 9)
	assert.ErrorIs(t, err, errUnexpectedSeq)
	assert.Equal(t, uint64(4), byLine.last)
}

func TestApplyUnknownOp(t *testing.T) {
	h := newHarness(t)
	err := Apply(context.Background(), h.ledger, model.Instruction{Op: "migrate"})
	assert.Error(t, err)

	err = Apply(context.Background(), h.ledger, model.Instruction{Op: model.OpInitPool})
	assert.ErrorIs(t, err, staking.ErrInvalidRate)
}
