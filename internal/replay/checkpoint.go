package replay

import (
	"context"

	"stakeledger/internal/storage"
)

// Checkpointer persists the sequence number of the last handled
// instruction.
type Checkpointer interface {
	Load(ctx context.Context) (uint64, bool, error)
	Save(ctx context.Context, seq uint64) error
}

// StateCheckpoint keeps the checkpoint in the ledger store next to the
// records it describes.
type StateCheckpoint struct {
	store storage.StateStore
	name  string
}

func NewStateCheckpoint(store storage.StateStore, name string) *StateCheckpoint {
	return &StateCheckpoint{store: store, name: name}
}

func (c *StateCheckpoint) Load(ctx context.Context) (uint64, bool, error) {
	return c.store.LoadState(ctx, c.name)
}

func (c *StateCheckpoint) Save(ctx context.Context, seq uint64) error {
	return c.store.SaveState(ctx, c.name, seq)
}
