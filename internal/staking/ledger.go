package staking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"stakeledger/internal/custody"
	"stakeledger/internal/metrics"
	"stakeledger/internal/model"
	"stakeledger/internal/storage"
)

// Custody executes token movements on behalf of the ledger. Apply must
// be atomic: every op of the batch lands or none does.
type Custody interface {
	Apply(ctx context.Context, ops []custody.Op) error
}

// Config wires the ledger collaborators. Sink and Metrics are optional.
type Config struct {
	Store   storage.Store
	Custody Custody
	Clock   Clock
	Sink    storage.EventSink
	Metrics *metrics.Recorder
}

// PoolParams configures a new pool.
type PoolParams struct {
	Admin        common.Address
	Token        common.Address
	Custody      common.Address
	RewardVault  common.Address
	StartTick    uint64
	EndTick      uint64
	Rate         model.RateParams
	RewardMode   model.RewardMode
	MinLockTicks uint64
}

// Ledger applies staking instructions against pools and positions.
type Ledger struct {
	cfg    Config
	logger *zap.Logger
}

func NewLedger(cfg Config, logger *zap.Logger) (*Ledger, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if cfg.Custody == nil {
		return nil, fmt.Errorf("custody is nil")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("clock is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{cfg: cfg, logger: logger}, nil
}

// InitPool creates the pool for (params.Admin, params.Token). Only the
// admin itself may open it.
func (l *Ledger) InitPool(ctx context.Context, caller common.Address, params PoolParams) (pool model.Pool, err error) {
	started := time.Now()
	defer func() { l.observe("init_pool", started, err) }()

	if caller != params.Admin {
		return model.Pool{}, fmt.Errorf("%w: init by %s for admin %s", ErrUnauthorized, caller.Hex(), params.Admin.Hex())
	}
	if params.EndTick <= params.StartTick {
		return model.Pool{}, fmt.Errorf("%w: end %d <= start %d", ErrInvalidWindow, params.EndTick, params.StartTick)
	}
	if _, err := CurveFromParams(params.Rate); err != nil {
		return model.Pool{}, err
	}
	mode := params.RewardMode
	switch mode {
	case "":
		mode = model.RewardMint
	case model.RewardMint, model.RewardTransfer:
	default:
		return model.Pool{}, fmt.Errorf("%w: %q", ErrInvalidRewardMode, mode)
	}
	custodyAccount := params.Custody
	if custodyAccount == (common.Address{}) {
		custodyAccount = params.Admin
	}
	vault := params.RewardVault
	switch {
	case mode == model.RewardTransfer && vault == (common.Address{}):
		return model.Pool{}, fmt.Errorf("%w: transfer mode needs a reward vault", ErrInvalidRewardMode)
	case mode == model.RewardTransfer && vault == custodyAccount:
		return model.Pool{}, fmt.Errorf("%w: reward vault %s is the custody account", ErrInvalidRewardMode, vault.Hex())
	case mode == model.RewardMint && vault != (common.Address{}):
		return model.Pool{}, fmt.Errorf("%w: reward vault is only used in transfer mode", ErrInvalidRewardMode)
	}

	now, err := l.now(ctx)
	if err != nil {
		return model.Pool{}, err
	}

	pool = model.Pool{
		ID:           model.PoolIDFor(params.Admin, params.Token),
		Admin:        params.Admin,
		Token:        params.Token,
		Custody:      custodyAccount,
		RewardVault:  vault,
		StartTick:    params.StartTick,
		EndTick:      params.EndTick,
		Rate:         params.Rate,
		RewardMode:   mode,
		MinLockTicks: params.MinLockTicks,
		CreatedTick:  now,
	}
	pool = pool.Clone()
	if pool.Rate.Denominator == nil {
		pool.Rate.Denominator = uint256.NewInt(1)
	}
	if pool.Rate.Kind == "" {
		pool.Rate.Kind = model.CurvePerToken
	}

	if err := l.cfg.Store.CreatePool(ctx, pool); err != nil {
		if errors.Is(err, storage.ErrPoolExists) {
			return model.Pool{}, fmt.Errorf("%w: %s", ErrAlreadyInitialized, pool.ID.Hex())
		}
		return model.Pool{}, fmt.Errorf("create pool: %w", err)
	}

	l.logger.Info("pool initialized",
		zap.String("pool", pool.ID.Hex()),
		zap.String("admin", pool.Admin.Hex()),
		zap.String("token", pool.Token.Hex()),
		zap.Uint64("start_tick", pool.StartTick),
		zap.Uint64("end_tick", pool.EndTick),
		zap.String("curve", string(pool.Rate.Kind)),
		zap.String("reward_mode", string(pool.RewardMode)),
	)
	l.emit(ctx, model.LedgerEvent{Kind: model.EventPoolInitialized, Pool: pool.ID, Account: caller, Tick: now})
	return pool, nil
}

// ClosePool stops a pool from accepting stakes and ends accrual at the
// current tick. Only the pool admin may close it.
func (l *Ledger) ClosePool(ctx context.Context, poolID common.Hash, caller common.Address) (pool model.Pool, err error) {
	started := time.Now()
	defer func() { l.observe("close_pool", started, err) }()

	now, err := l.now(ctx)
	if err != nil {
		return model.Pool{}, err
	}
	err = l.cfg.Store.UpdatePool(ctx, poolID, func(p *model.Pool) error {
		if p.Admin != caller {
			return fmt.Errorf("%w: close by %s", ErrUnauthorized, caller.Hex())
		}
		if !p.Closed {
			p.Closed = true
			if end := max(now, p.StartTick); end < p.EndTick {
				p.EndTick = end
			}
		}
		pool = p.Clone()
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Pool{}, fmt.Errorf("%w: %s", ErrPoolNotFound, poolID.Hex())
		}
		return model.Pool{}, err
	}

	l.logger.Info("pool closed", zap.String("pool", poolID.Hex()), zap.Uint64("end_tick", pool.EndTick))
	l.emit(ctx, model.LedgerEvent{Kind: model.EventPoolClosed, Pool: poolID, Account: caller, Tick: now})
	return pool, nil
}

// Stake deposits amount of the pool token from participant into custody.
func (l *Ledger) Stake(ctx context.Context, poolID common.Hash, participant common.Address, amount *uint256.Int) (st Settlement, err error) {
	started := time.Now()
	defer func() { l.observe("stake", started, err) }()

	if amount == nil || amount.IsZero() {
		return Settlement{}, ErrZeroAmount
	}
	pool, curve, err := l.poolAndCurve(ctx, poolID)
	if err != nil {
		return Settlement{}, err
	}
	now, err := l.now(ctx)
	if err != nil {
		return Settlement{}, err
	}
	if !pool.ActiveAt(now) {
		return Settlement{}, fmt.Errorf("%w: tick %d outside [%d, %d)", ErrPoolInactive, now, pool.StartTick, pool.EndTick)
	}

	st, err = l.transition(ctx, pool, participant, func(pos model.Position) (Settlement, error) {
		return stakeTransition(pool, curve, pos, amount, now)
	})
	if err != nil {
		return Settlement{}, err
	}

	l.cfg.Metrics.AddPrincipal("in", st.Principal)
	l.cfg.Metrics.AddReward(st.Reward)
	l.logger.Debug("staked",
		zap.String("pool", poolID.Hex()),
		zap.String("participant", participant.Hex()),
		zap.String("amount", amount.Dec()),
		zap.String("harvested", st.Reward.Dec()),
		zap.Uint64("tick", now),
	)
	l.emitSettlement(ctx, model.EventStaked, pool.ID, participant, st)
	return st, nil
}

// ClaimReward pays the reward accrued by participant without touching the
// principal. Claiming with nothing payable is a successful no-op.
func (l *Ledger) ClaimReward(ctx context.Context, poolID common.Hash, participant common.Address) (st Settlement, err error) {
	started := time.Now()
	defer func() { l.observe("claim", started, err) }()

	pool, curve, err := l.poolAndCurve(ctx, poolID)
	if err != nil {
		return Settlement{}, err
	}
	now, err := l.now(ctx)
	if err != nil {
		return Settlement{}, err
	}

	st, err = l.transition(ctx, pool, participant, func(pos model.Position) (Settlement, error) {
		return claimTransition(pool, curve, pos, now)
	})
	if err != nil {
		return Settlement{}, err
	}
	if st.Reward.IsZero() {
		return st, nil
	}

	l.cfg.Metrics.AddReward(st.Reward)
	l.logger.Debug("reward claimed",
		zap.String("pool", poolID.Hex()),
		zap.String("participant", participant.Hex()),
		zap.String("reward", st.Reward.Dec()),
		zap.Uint64("tick", now),
	)
	l.emitSettlement(ctx, model.EventRewardClaimed, pool.ID, participant, st)
	return st, nil
}

// Unstake returns the principal of participant together with the reward
// still owed and resets the position.
func (l *Ledger) Unstake(ctx context.Context, poolID common.Hash, participant common.Address) (st Settlement, err error) {
	started := time.Now()
	defer func() { l.observe("unstake", started, err) }()

	pool, curve, err := l.poolAndCurve(ctx, poolID)
	if err != nil {
		return Settlement{}, err
	}
	now, err := l.now(ctx)
	if err != nil {
		return Settlement{}, err
	}

	st, err = l.transition(ctx, pool, participant, func(pos model.Position) (Settlement, error) {
		return unstakeTransition(pool, curve, pos, now)
	})
	if err != nil {
		return Settlement{}, err
	}

	l.cfg.Metrics.AddPrincipal("out", st.Principal)
	l.cfg.Metrics.AddReward(st.Reward)
	l.logger.Debug("unstaked",
		zap.String("pool", poolID.Hex()),
		zap.String("participant", participant.Hex()),
		zap.String("principal", st.Principal.Dec()),
		zap.String("reward", st.Reward.Dec()),
		zap.Uint64("tick", now),
	)
	l.emitSettlement(ctx, model.EventUnstaked, pool.ID, participant, st)
	return st, nil
}

// Pool returns the pool record.
func (l *Ledger) Pool(ctx context.Context, poolID common.Hash) (model.Pool, error) {
	pool, ok, err := l.cfg.Store.LoadPool(ctx, poolID)
	if err != nil {
		return model.Pool{}, fmt.Errorf("load pool: %w", err)
	}
	if !ok {
		return model.Pool{}, fmt.Errorf("%w: %s", ErrPoolNotFound, poolID.Hex())
	}
	return pool, nil
}

// Position returns the position of owner, empty when never opened.
func (l *Ledger) Position(ctx context.Context, poolID common.Hash, owner common.Address) (model.Position, error) {
	pos, _, err := l.cfg.Store.LoadPosition(ctx, poolID, owner)
	if err != nil {
		return model.Position{}, fmt.Errorf("load position: %w", err)
	}
	return pos, nil
}

// PendingReward returns what ClaimReward would pay at the current tick.
func (l *Ledger) PendingReward(ctx context.Context, poolID common.Hash, owner common.Address) (*uint256.Int, error) {
	pool, curve, err := l.poolAndCurve(ctx, poolID)
	if err != nil {
		return nil, err
	}
	pos, err := l.Position(ctx, poolID, owner)
	if err != nil {
		return nil, err
	}
	now, err := l.now(ctx)
	if err != nil {
		return nil, err
	}
	_, payable, err := pendingReward(pool, curve, pos, now)
	return payable, err
}

// transition runs next against the stored position of owner and commits
// the resulting custody batch and record together.
func (l *Ledger) transition(ctx context.Context, pool model.Pool, owner common.Address, next func(model.Position) (Settlement, error)) (Settlement, error) {
	var st Settlement
	err := l.cfg.Store.UpdatePosition(ctx, pool.ID, owner, func(pos *model.Position) error {
		out, err := next(*pos)
		if err != nil {
			return err
		}
		if len(out.Ops) > 0 {
			if err := l.cfg.Custody.Apply(ctx, out.Ops); err != nil {
				l.logger.Warn("custody rejected batch",
					zap.String("pool", pool.ID.Hex()),
					zap.String("owner", owner.Hex()),
					zap.Int("ops", len(out.Ops)),
					zap.Error(err),
				)
				return classifyCustodyErr(err)
			}
		}
		*pos = out.Position
		st = out
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAccounting) {
			l.logger.Error("accounting invariant violated",
				zap.String("pool", pool.ID.Hex()),
				zap.String("owner", owner.Hex()),
				zap.Error(err),
			)
		}
		return Settlement{}, err
	}
	return st, nil
}

func (l *Ledger) poolAndCurve(ctx context.Context, poolID common.Hash) (model.Pool, RewardCurve, error) {
	pool, err := l.Pool(ctx, poolID)
	if err != nil {
		return model.Pool{}, nil, err
	}
	curve, err := CurveFromParams(pool.Rate)
	if err != nil {
		return model.Pool{}, nil, err
	}
	return pool, curve, nil
}

func (l *Ledger) now(ctx context.Context) (uint64, error) {
	tick, err := l.cfg.Clock.CurrentTick(ctx)
	if err != nil {
		return 0, fmt.Errorf("current tick: %w", err)
	}
	return tick, nil
}

func (l *Ledger) emitSettlement(ctx context.Context, kind model.EventKind, poolID common.Hash, account common.Address, st Settlement) {
	pos := st.Position.Clone()
	l.emit(ctx, model.LedgerEvent{
		Kind:      kind,
		Pool:      poolID,
		Account:   account,
		Tick:      st.Tick,
		Principal: st.Principal,
		Reward:    st.Reward,
		Position:  &pos,
	})
}

// emit journals a committed transition. The transition already landed, so
// a sink failure is logged rather than returned.
func (l *Ledger) emit(ctx context.Context, ev model.LedgerEvent) {
	if l.cfg.Sink == nil {
		return
	}
	ev.RecordedAt = time.Now().UTC().Format(time.RFC3339Nano)
	if err := l.cfg.Sink.PutEvents(ctx, []model.LedgerEvent{ev}); err != nil {
		l.logger.Error("journal event", zap.String("kind", string(ev.Kind)), zap.String("pool", ev.Pool.Hex()), zap.Error(err))
	}
}

func (l *Ledger) observe(op string, started time.Time, err error) {
	l.cfg.Metrics.ObserveOp(op, ResultLabel(err), started)
}

// ResultLabel names the outcome of an operation for metrics and reports.
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidWindow):
		return "invalid_window"
	case errors.Is(err, ErrAlreadyInitialized):
		return "already_initialized"
	case errors.Is(err, ErrZeroAmount):
		return "zero_amount"
	case errors.Is(err, ErrPoolInactive):
		return "pool_inactive"
	case errors.Is(err, ErrNoActivePosition):
		return "no_active_position"
	case errors.Is(err, ErrMintFailed):
		return "mint_failed"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrAccounting):
		return "accounting_error"
	case errors.Is(err, ErrPoolNotFound):
		return "pool_not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrPositionLocked):
		return "position_locked"
	case errors.Is(err, ErrInvalidRate), errors.Is(err, ErrInvalidRewardMode):
		return "invalid_config"
	default:
		return "error"
	}
}
