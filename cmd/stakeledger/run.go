package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stakeledger/internal/chain"
	"stakeledger/internal/config"
	"stakeledger/internal/custody"
	"stakeledger/internal/metrics"
	"stakeledger/internal/replay"
	"stakeledger/internal/staking"
	"stakeledger/internal/storage"
)

const checkpointStateName = "replay"

func runReplay(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadRun(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer be.close()

	// A memory store starts empty on every run, so custody must too.
	durable := cfg.Store.Backend != config.StoreMemory
	snapshots := &custody.SnapshotStore{Path: cfg.CustodySnapshot}
	book, err := loadBook(snapshots, durable, cfg.Genesis, logger)
	if err != nil {
		return err
	}

	jsonl := storage.NewJSONLSink(cfg.Events, cfg.Errors)
	var sink storage.EventSink = jsonl
	if be.journal != nil {
		sink = be.journal
	} else if cfg.Events == "" {
		sink = nil
	}

	recorder := metrics.NewRecorder()
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: recorder.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	runCfg := replay.RunConfig{
		CheckpointEvery: cfg.CheckpointEvery,
		Flush: func(context.Context) error {
			return snapshots.Save(book)
		},
	}
	if cfg.CheckpointEnabled && durable {
		runCfg.Checkpoint = replay.NewStateCheckpoint(be.state, checkpointStateName)
	}

	var clock staking.Clock
	switch cfg.Clock {
	case config.ClockRPC:
		chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			return err
		}
		defer chainClient.Close()
		chainID, err := chainClient.ChainID(ctx)
		if err != nil {
			return err
		}
		logger.Info("block clock connected", zap.Uint64("chain_id", chainID))
		clock = chain.NewBlockClock(chainClient, cfg.MaxRetries, cfg.RetryBackoff, logger)
	default:
		manual := staking.NewManualClock(0)
		runCfg.Clock = manual
		clock = manual
	}

	ledger, err := staking.NewLedger(staking.Config{
		Store:   be.store,
		Custody: book,
		Clock:   clock,
		Sink:    sink,
		Metrics: recorder,
	}, logger)
	if err != nil {
		return err
	}

	inputFile, err := os.Open(cfg.In)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer inputFile.Close()

	logger.Info("replay start",
		zap.String("in", cfg.In),
		zap.String("store", cfg.Store.Backend),
		zap.String("clock", cfg.Clock),
		zap.String("custody_snapshot", cfg.CustodySnapshot),
		zap.String("errors", cfg.Errors),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
		zap.String("metrics_addr", cfg.MetricsAddr),
	)

	runner := replay.NewRunner(runCfg, ledger, jsonl, logger)
	if _, err := runner.Run(ctx, inputFile); err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	return nil
}

// loadBook restores custody balances from the snapshot when resume is
// set, or seeds a new book from genesis.
func loadBook(snapshots *custody.SnapshotStore, resume bool, genesisPath string, logger *zap.Logger) (*custody.Book, error) {
	if resume {
		book, ok, err := snapshots.Load()
		if err != nil {
			return nil, err
		}
		if ok {
			logger.Info("custody restored", zap.String("snapshot", snapshots.Path))
			return book, nil
		}
	}

	book := custody.NewBook()
	if genesisPath == "" {
		return book, nil
	}
	genesis, err := custody.LoadGenesis(genesisPath)
	if err != nil {
		return nil, err
	}
	if err := genesis.Seed(book); err != nil {
		return nil, fmt.Errorf("seed genesis: %w", err)
	}
	logger.Info("custody seeded", zap.String("genesis", genesisPath), zap.Int("tokens", len(genesis.Tokens)))
	return book, nil
}
