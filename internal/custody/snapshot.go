package custody

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type snapshotRecord struct {
	Tokens    []tokenSnapshot `json:"tokens"`
	UpdatedAt string          `json:"updated_at"`
}

type tokenSnapshot struct {
	Token    common.Address                  `json:"token"`
	Minter   *common.Address                 `json:"minter,omitempty"`
	Supply   *uint256.Int                    `json:"supply"`
	Balances map[common.Address]*uint256.Int `json:"balances"`
}

// SnapshotStore persists a Book to a local JSON file.
type SnapshotStore struct {
	Path string
}

// Load restores a book. ok is false when no snapshot exists yet.
func (s *SnapshotStore) Load() (*Book, bool, error) {
	if s == nil || s.Path == "" {
		return nil, false, nil
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read custody snapshot: %w", err)
	}

	var rec snapshotRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("parse custody snapshot: %w", err)
	}

	b := NewBook()
	for _, tok := range rec.Tokens {
		if tok.Minter != nil {
			b.minters[tok.Token] = *tok.Minter
		}
		if tok.Supply != nil {
			b.supply[tok.Token] = tok.Supply.Clone()
		}
		for account, bal := range tok.Balances {
			if bal == nil {
				continue
			}
			b.balances[balanceKey{tok.Token, account}] = bal.Clone()
		}
	}
	return b, true, nil
}

// Save writes the book atomically via a temporary file.
func (s *SnapshotStore) Save(b *Book) error {
	if s == nil || s.Path == "" {
		return nil
	}
	dir := filepath.Dir(s.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}

	rec := snapshotRecord{
		Tokens:    b.snapshot(),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal custody snapshot: %w", err)
	}

	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write custody snapshot tmp: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("rename custody snapshot: %w", err)
	}
	return nil
}

func (b *Book) snapshot() []tokenSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	byToken := make(map[common.Address]*tokenSnapshot)
	get := func(token common.Address) *tokenSnapshot {
		ts, ok := byToken[token]
		if !ok {
			ts = &tokenSnapshot{
				Token:    token,
				Supply:   new(uint256.Int),
				Balances: make(map[common.Address]*uint256.Int),
			}
			byToken[token] = ts
		}
		return ts
	}
	for k, bal := range b.balances {
		get(k.token).Balances[k.account] = bal.Clone()
	}
	for token, supply := range b.supply {
		get(token).Supply = supply.Clone()
	}
	for token, minter := range b.minters {
		m := minter
		get(token).Minter = &m
	}

	out := make([]tokenSnapshot, 0, len(byToken))
	for _, ts := range byToken {
		out = append(out, *ts)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Token.Hex() < out[j].Token.Hex()
	})
	return out
}
