package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stakeledger/internal/model"
	"stakeledger/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS pools (
	pool_id        TEXT PRIMARY KEY,
	admin          TEXT NOT NULL,
	token          TEXT NOT NULL,
	custody        TEXT NOT NULL,
	reward_vault   TEXT NOT NULL DEFAULT '',
	start_tick     BIGINT NOT NULL,
	end_tick       BIGINT NOT NULL,
	curve          TEXT NOT NULL,
	rate_num       NUMERIC(78, 0) NOT NULL,
	rate_den       NUMERIC(78, 0) NOT NULL,
	reward_mode    TEXT NOT NULL,
	min_lock_ticks BIGINT NOT NULL DEFAULT 0,
	closed         BOOLEAN NOT NULL DEFAULT false,
	created_tick   BIGINT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

ALTER TABLE pools ADD COLUMN IF NOT EXISTS reward_vault TEXT NOT NULL DEFAULT '';

CREATE TABLE IF NOT EXISTS positions (
	pool_id      TEXT NOT NULL REFERENCES pools (pool_id),
	owner        TEXT NOT NULL,
	amount       NUMERIC(78, 0) NOT NULL DEFAULT 0,
	deposit_tick BIGINT NOT NULL DEFAULT 0,
	reward_debt  NUMERIC(78, 0) NOT NULL DEFAULT 0,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (pool_id, owner)
);

CREATE TABLE IF NOT EXISTS ledger_events (
	id          BIGSERIAL PRIMARY KEY,
	kind        TEXT NOT NULL,
	pool_id     TEXT NOT NULL,
	account     TEXT NOT NULL,
	tick        BIGINT NOT NULL,
	principal   NUMERIC(78, 0),
	reward      NUMERIC(78, 0),
	position    JSONB,
	recorded_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS ledger_events_pool_account ON ledger_events (pool_id, account);

CREATE TABLE IF NOT EXISTS ledger_state (
	name       TEXT PRIMARY KEY,
	value      BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store provides Postgres persistence for pools, positions and the
// event journal.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the ledger tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const poolColumns = `pool_id, admin, token, custody, reward_vault, start_tick, end_tick, curve,
	rate_num::text, rate_den::text, reward_mode, min_lock_ticks, closed, created_tick`

func (s *Store) CreatePool(ctx context.Context, pool model.Pool) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO pools (
			pool_id, admin, token, custody, reward_vault, start_tick, end_tick, curve,
			rate_num, rate_den, reward_mode, min_lock_ticks, closed, created_tick
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10::numeric, $11, $12, $13, $14)
		ON CONFLICT (pool_id) DO NOTHING
	`,
		pool.ID.Hex(),
		pool.Admin.Hex(),
		pool.Token.Hex(),
		pool.Custody.Hex(),
		vaultText(pool.RewardVault),
		int64(pool.StartTick),
		int64(pool.EndTick),
		string(pool.Rate.Kind),
		decimal(pool.Rate.Numerator),
		decimal(pool.Rate.Denominator),
		string(pool.RewardMode),
		int64(pool.MinLockTicks),
		pool.Closed,
		int64(pool.CreatedTick),
	)
	if err != nil {
		return fmt.Errorf("insert pool: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrPoolExists
	}
	return nil
}

func (s *Store) LoadPool(ctx context.Context, id common.Hash) (model.Pool, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+poolColumns+` FROM pools WHERE pool_id=$1`, id.Hex())
	pool, err := scanPool(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Pool{}, false, nil
		}
		return model.Pool{}, false, err
	}
	return pool, true, nil
}

func (s *Store) UpdatePool(ctx context.Context, id common.Hash, fn func(*model.Pool) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+poolColumns+` FROM pools WHERE pool_id=$1 FOR UPDATE`, id.Hex())
		pool, err := scanPool(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return storage.ErrNotFound
			}
			return err
		}
		if err := fn(&pool); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE pools SET
				custody = $2,
				end_tick = $3,
				min_lock_ticks = $4,
				closed = $5,
				updated_at = now()
			WHERE pool_id = $1
		`, id.Hex(), pool.Custody.Hex(), int64(pool.EndTick), int64(pool.MinLockTicks), pool.Closed)
		if err != nil {
			return fmt.Errorf("update pool: %w", err)
		}
		return nil
	})
}

func (s *Store) LoadPosition(ctx context.Context, pool common.Hash, owner common.Address) (model.Position, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT amount::text, deposit_tick, reward_debt::text
		FROM positions WHERE pool_id=$1 AND owner=$2
	`, pool.Hex(), owner.Hex())
	pos, err := scanPosition(row, pool, owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.EmptyPosition(pool, owner), false, nil
		}
		return model.Position{}, false, err
	}
	return pos, true, nil
}

// UpdatePosition locks the position row for the duration of fn. A missing
// row is inserted inside the transaction so concurrent first deposits
// serialize on it; a failing fn rolls the insert back.
func (s *Store) UpdatePosition(ctx context.Context, pool common.Hash, owner common.Address, fn func(*model.Position) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO positions (pool_id, owner) VALUES ($1, $2)
			ON CONFLICT (pool_id, owner) DO NOTHING
		`, pool.Hex(), owner.Hex()); err != nil {
			return fmt.Errorf("reserve position: %w", err)
		}
		row := tx.QueryRow(ctx, `
			SELECT amount::text, deposit_tick, reward_debt::text
			FROM positions WHERE pool_id=$1 AND owner=$2 FOR UPDATE
		`, pool.Hex(), owner.Hex())
		pos, err := scanPosition(row, pool, owner)
		if err != nil {
			return err
		}
		if err := fn(&pos); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE positions SET
				amount = $3::numeric,
				deposit_tick = $4,
				reward_debt = $5::numeric,
				updated_at = now()
			WHERE pool_id = $1 AND owner = $2
		`, pool.Hex(), owner.Hex(), decimal(pos.Amount), int64(pos.DepositTick), decimal(pos.RewardDebt))
		if err != nil {
			return fmt.Errorf("update position: %w", err)
		}
		return nil
	})
}

// PutEvents appends ledger events to the journal table.
func (s *Store) PutEvents(ctx context.Context, events []model.LedgerEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		var position []byte
		if ev.Position != nil {
			data, err := json.Marshal(ev.Position)
			if err != nil {
				return fmt.Errorf("encode position: %w", err)
			}
			position = data
		}
		batch.Queue(`
			INSERT INTO ledger_events (
				kind, pool_id, account, tick, principal, reward, position, recorded_at
			) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8)
		`,
			string(ev.Kind),
			ev.Pool.Hex(),
			ev.Account.Hex(),
			int64(ev.Tick),
			nullableDecimal(ev.Principal),
			nullableDecimal(ev.Reward),
			position,
			ev.RecordedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadState returns the stored value for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var value int64
	row := s.pool.QueryRow(ctx, `SELECT value FROM ledger_state WHERE name=$1`, name)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(value), true, nil
}

// SaveState upserts the value for a name.
func (s *Store) SaveState(ctx context.Context, name string, value uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ledger_state (name, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET value = EXCLUDED.value, updated_at = now()
	`, name, int64(value))
	return err
}

func scanPool(row pgx.Row) (model.Pool, error) {
	var (
		id, admin, token, custody string
		vault                     string
		start, end, minLock       int64
		created                   int64
		curve, num, den, mode     string
		closed                    bool
	)
	if err := row.Scan(&id, &admin, &token, &custody, &vault, &start, &end, &curve, &num, &den, &mode, &minLock, &closed, &created); err != nil {
		return model.Pool{}, err
	}
	numerator, err := uint256.FromDecimal(num)
	if err != nil {
		return model.Pool{}, fmt.Errorf("parse rate numerator: %w", err)
	}
	denominator, err := uint256.FromDecimal(den)
	if err != nil {
		return model.Pool{}, fmt.Errorf("parse rate denominator: %w", err)
	}
	return model.Pool{
		ID:          common.HexToHash(id),
		Admin:       common.HexToAddress(admin),
		Token:       common.HexToAddress(token),
		Custody:     common.HexToAddress(custody),
		RewardVault: common.HexToAddress(vault),
		StartTick:   uint64(start),
		EndTick:     uint64(end),
		Rate: model.RateParams{
			Kind:        model.CurveKind(curve),
			Numerator:   numerator,
			Denominator: denominator,
		},
		RewardMode:   model.RewardMode(mode),
		MinLockTicks: uint64(minLock),
		Closed:       closed,
		CreatedTick:  uint64(created),
	}, nil
}

func scanPosition(row pgx.Row, pool common.Hash, owner common.Address) (model.Position, error) {
	var (
		amount, debt string
		deposit      int64
	)
	if err := row.Scan(&amount, &deposit, &debt); err != nil {
		return model.Position{}, err
	}
	pos := model.EmptyPosition(pool, owner)
	var err error
	if pos.Amount, err = uint256.FromDecimal(amount); err != nil {
		return model.Position{}, fmt.Errorf("parse amount: %w", err)
	}
	if pos.RewardDebt, err = uint256.FromDecimal(debt); err != nil {
		return model.Position{}, fmt.Errorf("parse reward debt: %w", err)
	}
	pos.DepositTick = uint64(deposit)
	return pos, nil
}

// vaultText stores an unset reward vault as the empty string.
func vaultText(addr common.Address) string {
	if addr == (common.Address{}) {
		return ""
	}
	return addr.Hex()
}

func decimal(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func nullableDecimal(v *uint256.Int) *string {
	if v == nil {
		return nil
	}
	s := v.Dec()
	return &s
}
