package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreLevelDB  = "leveldb"
	StorePostgres = "postgres"
)

// Clock sources for replay.
const (
	ClockInstruction = "instruction"
	ClockRPC         = "rpc"
)

// StoreConfig selects and locates the ledger store.
type StoreConfig struct {
	Backend     string
	LevelDBPath string
	PGDSN       string
}

// RunConfig holds configuration for the run command.
type RunConfig struct {
	Store             StoreConfig
	In                string
	Genesis           string
	CustodySnapshot   string
	Events            string
	Errors            string
	CheckpointEnabled bool
	CheckpointEvery   int
	Clock             string
	RPCURL            string
	MaxRetries        int
	RetryBackoff      time.Duration
	MetricsAddr       string
	LogLevel          string
	LogFile           string
}

// LoadRun merges config file, environment variables, and flags into RunConfig.
func LoadRun(cfgFile string, flags *pflag.FlagSet) (RunConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"store":              StoreMemory,
		"leveldb-path":       "./data/ledger",
		"custody-snapshot":   "./data/custody.json",
		"events":             "./data/events.jsonl",
		"errors":             "./data/rejected.jsonl",
		"checkpoint-enabled": true,
		"checkpoint-every":   1,
		"clock":              ClockInstruction,
		"max-retries":        5,
		"retry-backoff":      500 * time.Millisecond,
		"log-level":          "info",
	})
	if err != nil {
		return RunConfig{}, err
	}

	cfg := RunConfig{
		Store:             storeConfig(v),
		In:                v.GetString("in"),
		Genesis:           v.GetString("genesis"),
		CustodySnapshot:   v.GetString("custody-snapshot"),
		Events:            v.GetString("events"),
		Errors:            v.GetString("errors"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		CheckpointEvery:   v.GetInt("checkpoint-every"),
		Clock:             strings.ToLower(v.GetString("clock")),
		RPCURL:            v.GetString("rpc"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		MetricsAddr:       v.GetString("metrics-addr"),
		LogLevel:          v.GetString("log-level"),
		LogFile:           v.GetString("log-file"),
	}
	if err := cfg.Validate(); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}

// Validate checks option combinations that flags alone cannot express.
func (c RunConfig) Validate() error {
	if c.In == "" {
		return fmt.Errorf("input path is required")
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	switch c.Clock {
	case ClockInstruction:
	case ClockRPC:
		if c.RPCURL == "" {
			return fmt.Errorf("rpc url is required for the rpc clock")
		}
	default:
		return fmt.Errorf("unknown clock %q", c.Clock)
	}
	if c.CheckpointEvery < 0 {
		return fmt.Errorf("checkpoint-every must not be negative")
	}
	return nil
}

// Validate checks that the selected backend has its location.
func (c StoreConfig) Validate() error {
	switch c.Backend {
	case StoreMemory:
	case StoreLevelDB:
		if c.LevelDBPath == "" {
			return fmt.Errorf("leveldb path is required")
		}
	case StorePostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("pg dsn is required")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Backend)
	}
	return nil
}

func storeConfig(v *viper.Viper) StoreConfig {
	return StoreConfig{
		Backend:     strings.ToLower(v.GetString("store")),
		LevelDBPath: v.GetString("leveldb-path"),
		PGDSN:       v.GetString("pg-dsn"),
	}
}

func newViper(cfgFile string, flags *pflag.FlagSet, defaults map[string]interface{}) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("STAKELEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}
