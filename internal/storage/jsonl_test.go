package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stakeledger/internal/model"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestJSONLSinkAppends(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	sink := NewJSONLSink(filepath.Join(dir, "out", "events.jsonl"), filepath.Join(dir, "out", "rejected.jsonl"))

	ev := model.LedgerEvent{
		Kind:   model.EventRewardClaimed,
		Pool:   common.Hash{1},
		Tick:   150,
		Reward: uint256.NewInt(2500),
	}
	require.NoError(t, sink.PutEvents(ctx, []model.LedgerEvent{ev}))
	require.NoError(t, sink.PutEvents(ctx, []model.LedgerEvent{ev}))
	require.NoError(t, sink.PutEvents(ctx, nil))

	lines := readLines(t, filepath.Join(dir, "out", "events.jsonl"))
	require.Len(t, lines, 2)

	var decoded model.LedgerEvent
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &decoded))
	assert.Equal(t, model.EventRewardClaimed, decoded.Kind)
	assert.Equal(t, uint64(2500), decoded.Reward.Uint64())

	require.NoError(t, sink.PutErrors(ctx, []model.InstructionError{{Seq: 4, Op: model.OpClaim, Error: "no active position"}}))
	assert.Len(t, readLines(t, filepath.Join(dir, "out", "rejected.jsonl")), 1)
}

func TestJSONLSinkWithoutErrorsPath(t *testing.T) {
	sink := NewJSONLSink(filepath.Join(t.TempDir(), "events.jsonl"), "")
	assert.NoError(t, sink.PutErrors(context.Background(), []model.InstructionError{{Seq: 1}}))
}
