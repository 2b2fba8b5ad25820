package config

import (
	"github.com/spf13/pflag"
)

// QueryConfig holds configuration for the pool and position commands.
type QueryConfig struct {
	Store    StoreConfig
	Pool     string
	Admin    string
	Token    string
	Owner    string
	Tick     uint64
	RPCURL   string
	LogLevel string
}

// LoadQuery merges config file, environment variables, and flags into QueryConfig.
func LoadQuery(cfgFile string, flags *pflag.FlagSet) (QueryConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"store":        StoreLevelDB,
		"leveldb-path": "./data/ledger",
		"log-level":    "warn",
	})
	if err != nil {
		return QueryConfig{}, err
	}

	cfg := QueryConfig{
		Store:    storeConfig(v),
		Pool:     v.GetString("pool"),
		Admin:    v.GetString("admin"),
		Token:    v.GetString("token"),
		Owner:    v.GetString("owner"),
		Tick:     v.GetUint64("tick"),
		RPCURL:   v.GetString("rpc"),
		LogLevel: v.GetString("log-level"),
	}
	if err := cfg.Store.Validate(); err != nil {
		return QueryConfig{}, err
	}
	return cfg, nil
}
