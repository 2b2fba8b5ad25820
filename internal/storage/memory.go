package storage

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"stakeledger/internal/model"
)

type positionKey struct {
	pool  common.Hash
	owner common.Address
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu        sync.Mutex
	pools     map[common.Hash]model.Pool
	positions map[positionKey]model.Position
	state     map[string]uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:     make(map[common.Hash]model.Pool),
		positions: make(map[positionKey]model.Position),
		state:     make(map[string]uint64),
	}
}

func (s *MemoryStore) CreatePool(ctx context.Context, pool model.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pools[pool.ID]; ok {
		return ErrPoolExists
	}
	s.pools[pool.ID] = pool.Clone()
	return nil
}

func (s *MemoryStore) LoadPool(ctx context.Context, id common.Hash) (model.Pool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool, ok := s.pools[id]
	if !ok {
		return model.Pool{}, false, nil
	}
	return pool.Clone(), true, nil
}

func (s *MemoryStore) UpdatePool(ctx context.Context, id common.Hash, fn func(*model.Pool) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool, ok := s.pools[id]
	if !ok {
		return ErrNotFound
	}
	next := pool.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	s.pools[id] = next
	return nil
}

func (s *MemoryStore) LoadPosition(ctx context.Context, pool common.Hash, owner common.Address) (model.Position, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[positionKey{pool, owner}]
	if !ok {
		return model.EmptyPosition(pool, owner), false, nil
	}
	return pos.Clone(), true, nil
}

func (s *MemoryStore) UpdatePosition(ctx context.Context, pool common.Hash, owner common.Address, fn func(*model.Position) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := positionKey{pool, owner}
	next := model.EmptyPosition(pool, owner)
	if pos, ok := s.positions[key]; ok {
		next = pos.Clone()
	}
	if err := fn(&next); err != nil {
		return err
	}
	s.positions[key] = next
	return nil
}

func (s *MemoryStore) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state[name]
	return v, ok, nil
}

func (s *MemoryStore) SaveState(ctx context.Context, name string, value uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[name] = value
	return nil
}
