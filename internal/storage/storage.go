package storage

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"stakeledger/internal/model"
)

var (
	// ErrPoolExists is returned by CreatePool when the key is taken.
	ErrPoolExists = errors.New("pool already exists")
	ErrNotFound   = errors.New("record not found")
)

// Store persists pool and position records.
//
// UpdatePool and UpdatePosition run fn against the current record while
// holding the record exclusively and write the result only if fn returns
// nil. UpdatePosition hands fn an empty position when none is stored.
type Store interface {
	CreatePool(ctx context.Context, pool model.Pool) error
	LoadPool(ctx context.Context, id common.Hash) (model.Pool, bool, error)
	UpdatePool(ctx context.Context, id common.Hash, fn func(*model.Pool) error) error
	LoadPosition(ctx context.Context, pool common.Hash, owner common.Address) (model.Position, bool, error)
	UpdatePosition(ctx context.Context, pool common.Hash, owner common.Address, fn func(*model.Position) error) error
}

// StateStore persists named progress markers such as the last replayed
// instruction sequence.
type StateStore interface {
	LoadState(ctx context.Context, name string) (uint64, bool, error)
	SaveState(ctx context.Context, name string, value uint64) error
}

// EventSink defines a sink for committed ledger events.
type EventSink interface {
	PutEvents(ctx context.Context, events []model.LedgerEvent) error
}
