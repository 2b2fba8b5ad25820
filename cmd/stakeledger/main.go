package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	root := &cobra.Command{
		Use:          "stakeledger",
		Short:        "Time-windowed staking ledger",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Replay a JSONL instruction stream through the ledger",
		RunE:  runReplay,
	}

	runCmd.Flags().String("in", "", "input instructions JSONL")
	addStoreFlags(runCmd, "memory")
	runCmd.Flags().String("genesis", "", "YAML genesis with initial token balances")
	runCmd.Flags().String("custody-snapshot", "./data/custody.json", "custody balance snapshot path")
	runCmd.Flags().String("events", "./data/events.jsonl", "ledger events JSONL (ignored for the postgres store)")
	runCmd.Flags().String("errors", "./data/rejected.jsonl", "rejected instructions JSONL")
	runCmd.Flags().Bool("checkpoint-enabled", true, "resume from and record progress in a leveldb or postgres store")
	runCmd.Flags().Int("checkpoint-every", 1, "instructions between checkpoints")
	runCmd.Flags().String("clock", "instruction", "tick source (instruction, rpc)")
	runCmd.Flags().String("rpc", "", "RPC URL for the rpc clock")
	runCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	runCmd.Flags().String("log-file", "", "also write logs to this rotating file")

	root.AddCommand(runCmd)

	poolCmd := &cobra.Command{
		Use:   "pool",
		Short: "Print a pool record",
		RunE:  runPoolQuery,
	}
	addQueryFlags(poolCmd)
	root.AddCommand(poolCmd)

	positionCmd := &cobra.Command{
		Use:   "position",
		Short: "Print a position and its pending reward",
		RunE:  runPositionQuery,
	}
	addQueryFlags(positionCmd)
	positionCmd.Flags().String("owner", "", "position owner address")
	positionCmd.Flags().Uint64("tick", 0, "tick to evaluate the pending reward at (default: chain head via --rpc)")
	root.AddCommand(positionCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addStoreFlags(cmd *cobra.Command, defaultStore string) {
	cmd.Flags().String("store", defaultStore, "ledger store (memory, leveldb, postgres)")
	cmd.Flags().String("leveldb-path", "./data/ledger", "LevelDB directory")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN")
}

func addQueryFlags(cmd *cobra.Command) {
	addStoreFlags(cmd, "leveldb")
	cmd.Flags().String("pool", "", "pool id (hex)")
	cmd.Flags().String("admin", "", "pool admin address, with --token instead of --pool")
	cmd.Flags().String("token", "", "pool token address, with --admin instead of --pool")
	cmd.Flags().String("rpc", "", "RPC URL for token metadata and the current tick")
	cmd.Flags().String("log-level", "warn", "log level (debug, info, warn, error)")
}

func newLogger(level, file string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil || file == "" {
		return logger, err
	}

	rotating := zapcore.AddSync(&lumberjack.Logger{
		Filename: file,
		MaxSize:  100, // megabytes
		MaxAge:   30,  // days
	})
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(cfg.EncoderConfig), rotating, cfg.Level)
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	})), nil
}
