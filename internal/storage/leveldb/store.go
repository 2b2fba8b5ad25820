package leveldb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/syndtr/goleveldb/leveldb"

	"stakeledger/internal/model"
	"stakeledger/internal/storage"
)

var (
	poolPrefix     = []byte("pool:")
	positionPrefix = []byte("position:")
	statePrefix    = []byte("state:")
)

// Store keeps pools and positions in an embedded LevelDB database.
// Records are JSON encoded under prefixed keys.
type Store struct {
	once sync.Once
	mu   sync.Mutex
	db   *leveldb.DB
}

func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("leveldb dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create leveldb dir: %w", err)
	}
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		err = s.db.Close()
	})
	return err
}

func poolKey(id common.Hash) []byte {
	return append(append([]byte{}, poolPrefix...), id.Bytes()...)
}

func positionKey(pool common.Hash, owner common.Address) []byte {
	key := append(append([]byte{}, positionPrefix...), pool.Bytes()...)
	return append(key, owner.Bytes()...)
}

func stateKey(name string) []byte {
	return append(append([]byte{}, statePrefix...), name...)
}

func (s *Store) CreatePool(ctx context.Context, pool model.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := poolKey(pool.ID)
	ok, err := s.db.Has(key, nil)
	if err != nil {
		return fmt.Errorf("check pool: %w", err)
	}
	if ok {
		return storage.ErrPoolExists
	}
	return s.put(key, pool)
}

func (s *Store) LoadPool(ctx context.Context, id common.Hash) (model.Pool, bool, error) {
	var pool model.Pool
	ok, err := s.get(poolKey(id), &pool)
	if err != nil || !ok {
		return model.Pool{}, false, err
	}
	return pool, true, nil
}

func (s *Store) UpdatePool(ctx context.Context, id common.Hash, fn func(*model.Pool) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := poolKey(id)
	var pool model.Pool
	ok, err := s.get(key, &pool)
	if err != nil {
		return err
	}
	if !ok {
		return storage.ErrNotFound
	}
	if err := fn(&pool); err != nil {
		return err
	}
	return s.put(key, pool)
}

func (s *Store) LoadPosition(ctx context.Context, pool common.Hash, owner common.Address) (model.Position, bool, error) {
	var pos model.Position
	ok, err := s.get(positionKey(pool, owner), &pos)
	if err != nil {
		return model.Position{}, false, err
	}
	if !ok {
		return model.EmptyPosition(pool, owner), false, nil
	}
	return pos.Clone(), true, nil
}

func (s *Store) UpdatePosition(ctx context.Context, pool common.Hash, owner common.Address, fn func(*model.Position) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := positionKey(pool, owner)
	pos := model.EmptyPosition(pool, owner)
	var stored model.Position
	ok, err := s.get(key, &stored)
	if err != nil {
		return err
	}
	if ok {
		pos = stored.Clone()
	}
	if err := fn(&pos); err != nil {
		return err
	}
	return s.put(key, pos)
}

func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	data, err := s.db.Get(stateKey(name), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("load state: %w", err)
	}
	if len(data) != 8 {
		return 0, false, fmt.Errorf("state %q has %d bytes", name, len(data))
	}
	return binary.BigEndian.Uint64(data), true, nil
}

func (s *Store) SaveState(ctx context.Context, name string, value uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], value)
	if err := s.db.Put(stateKey(name), buf[:], nil); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (s *Store) get(key []byte, out any) (bool, error) {
	data, err := s.db.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("leveldb get: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode record: %w", err)
	}
	return true, nil
}

func (s *Store) put(key []byte, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := s.db.Put(key, data, nil); err != nil {
		return fmt.Errorf("leveldb put: %w", err)
	}
	return nil
}
