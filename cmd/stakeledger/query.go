package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stakeledger/internal/chain"
	"stakeledger/internal/config"
	"stakeledger/internal/custody"
	"stakeledger/internal/model"
	"stakeledger/internal/staking"
	"stakeledger/internal/token"
)

type poolReport struct {
	Pool    model.Pool       `json:"pool"`
	ChainID uint64           `json:"chain_id,omitempty"`
	Token   *model.TokenMeta `json:"token,omitempty"`
	// On-chain token balances of the custody account and, in transfer
	// mode, of the reward vault.
	CustodyBalance     string `json:"custody_balance,omitempty"`
	RewardVaultBalance string `json:"reward_vault_balance,omitempty"`
}

type positionReport struct {
	Position         model.Position   `json:"position"`
	Tick             uint64           `json:"tick"`
	Pending          string           `json:"pending_reward"`
	PendingFormatted string           `json:"pending_reward_formatted,omitempty"`
	AmountFormatted  string           `json:"amount_formatted,omitempty"`
	Token            *model.TokenMeta `json:"token,omitempty"`
}

// queryEnv is the read-only ledger setup shared by the query commands.
type queryEnv struct {
	cfg    config.QueryConfig
	logger *zap.Logger
	be     *backend
	chain  *chain.Client
	ledger *staking.Ledger
	clock  staking.Clock
	poolID common.Hash
}

func openQuery(ctx context.Context, cmd *cobra.Command) (*queryEnv, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadQuery(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.LogLevel, "")
	if err != nil {
		return nil, err
	}

	poolID, err := resolvePool(cfg)
	if err != nil {
		return nil, err
	}

	env := &queryEnv{cfg: cfg, logger: logger, poolID: poolID}
	env.be, err = openBackend(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	if cfg.RPCURL != "" {
		env.chain, err = chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			env.close()
			return nil, err
		}
	}

	switch {
	case cfg.Tick > 0:
		env.clock = staking.NewManualClock(cfg.Tick)
	case env.chain != nil:
		env.clock = chain.NewBlockClock(env.chain, 3, 500*time.Millisecond, logger)
	default:
		// Without a tick source only records can be read.
		env.clock = staking.NewManualClock(0)
	}

	// Queries never move tokens, so an empty book stands in for custody.
	env.ledger, err = staking.NewLedger(staking.Config{
		Store:   env.be.store,
		Custody: custody.NewBook(),
		Clock:   env.clock,
	}, logger)
	if err != nil {
		env.close()
		return nil, err
	}
	return env, nil
}

func (e *queryEnv) close() {
	if e.chain != nil {
		e.chain.Close()
	}
	if e.be != nil {
		e.be.close()
	}
	_ = e.logger.Sync()
}

func (e *queryEnv) tokenMeta(ctx context.Context, addr common.Address) *model.TokenMeta {
	if e.chain == nil {
		return nil
	}
	meta, err := token.FetchMeta(ctx, e.chain, addr, e.logger)
	if err != nil {
		e.logger.Warn("token metadata fetch failed", zap.String("token", addr.Hex()), zap.Error(err))
		return nil
	}
	return &meta
}

func runPoolQuery(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := openQuery(ctx, cmd)
	if err != nil {
		return err
	}
	defer env.close()

	pool, err := env.ledger.Pool(ctx, env.poolID)
	if err != nil {
		return err
	}
	report := poolReport{Pool: pool, Token: env.tokenMeta(ctx, pool.Token)}
	if env.chain != nil {
		if id, err := env.chain.ChainID(ctx); err != nil {
			env.logger.Warn("chain id fetch failed", zap.Error(err))
		} else {
			report.ChainID = id
		}
		report.CustodyBalance = env.balance(ctx, pool.Token, pool.Custody, report.Token)
		if pool.RewardVault != (common.Address{}) {
			report.RewardVaultBalance = env.balance(ctx, pool.Token, pool.RewardVault, report.Token)
		}
	}
	return printJSON(report)
}

// balance reads the on-chain balance of account, formatted with the
// token decimals when known. Failures are logged and leave it empty.
func (e *queryEnv) balance(ctx context.Context, tok, account common.Address, meta *model.TokenMeta) string {
	bal, err := token.BalanceOf(ctx, e.chain, tok, account)
	if err != nil {
		e.logger.Warn("balance fetch failed", zap.String("account", account.Hex()), zap.Error(err))
		return ""
	}
	if meta != nil {
		return token.FormatAmount(bal, meta.Decimals)
	}
	return bal.Dec()
}

func runPositionQuery(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := openQuery(ctx, cmd)
	if err != nil {
		return err
	}
	defer env.close()

	if !common.IsHexAddress(env.cfg.Owner) {
		return fmt.Errorf("invalid owner address: %q", env.cfg.Owner)
	}
	owner := common.HexToAddress(env.cfg.Owner)
	if env.cfg.Tick == 0 && env.chain == nil {
		return fmt.Errorf("either --tick or --rpc is required")
	}

	pool, err := env.ledger.Pool(ctx, env.poolID)
	if err != nil {
		return err
	}
	pos, err := env.ledger.Position(ctx, env.poolID, owner)
	if err != nil {
		return err
	}
	pending, err := env.ledger.PendingReward(ctx, env.poolID, owner)
	if err != nil {
		return err
	}
	tick, err := env.clock.CurrentTick(ctx)
	if err != nil {
		return err
	}

	report := positionReport{Position: pos, Tick: tick, Pending: pending.Dec()}
	if meta := env.tokenMeta(ctx, pool.Token); meta != nil {
		report.Token = meta
		report.PendingFormatted = token.FormatAmount(pending, meta.Decimals)
		report.AmountFormatted = token.FormatAmount(pos.Amount, meta.Decimals)
	}
	return printJSON(report)
}

func resolvePool(cfg config.QueryConfig) (common.Hash, error) {
	if cfg.Pool != "" {
		data, err := hexutil.Decode(cfg.Pool)
		if err != nil {
			return common.Hash{}, fmt.Errorf("invalid pool id: %s", cfg.Pool)
		}
		if len(data) != common.HashLength {
			return common.Hash{}, fmt.Errorf("invalid pool id length: %s", cfg.Pool)
		}
		return common.BytesToHash(data), nil
	}
	if !common.IsHexAddress(cfg.Admin) || !common.IsHexAddress(cfg.Token) {
		return common.Hash{}, fmt.Errorf("either --pool or both --admin and --token are required")
	}
	return model.PoolIDFor(common.HexToAddress(cfg.Admin), common.HexToAddress(cfg.Token)), nil
}

func printJSON(value interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
