package config

import (
	"time"

	"github.com/spf13/pflag"
)

// SimulateConfig holds configuration for the simulate command.
type SimulateConfig struct {
	Scenario string
	SwapsOut string
	PGDSN    string
	Start    string
	Step     time.Duration
	LogLevel string
}

// LoadSimulate merges config file, environment variables, and flags into SimulateConfig.
func LoadSimulate(cfgFile string, flags *pflag.FlagSet) (SimulateConfig, error) {
	v, err := load(cfgFile, flags, map[string]any{
		"out":  "./data/swaps.jsonl",
		"step": 15 * time.Second,
	})
	if err != nil {
		return SimulateConfig{}, err
	}
	return SimulateConfig{
		Scenario: v.GetString("scenario"),
		SwapsOut: v.GetString("out"),
		PGDSN:    v.GetString("pg-dsn"),
		Start:    v.GetString("start"),
		Step:     v.GetDuration("step"),
		LogLevel: v.GetString("log-level"),
	}, nil
}

// SyncConfig holds configuration for mirroring a deployed pool's swaps.
type SyncConfig struct {
	RPCURL            string
	Pool              string
	FromBlock         uint64
	ToBlock           uint64
	BatchSize         uint64
	Out               string
	RawOut            string
	Errors            string
	PGDSN             string
	Checkpoint        string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration
	LogLevel          string
}

// LoadSync merges config file, environment variables, and flags into SyncConfig.
func LoadSync(cfgFile string, flags *pflag.FlagSet) (SyncConfig, error) {
	v, err := load(cfgFile, flags, map[string]any{
		"batch-size":         uint64(2000),
		"out":                "./data/swaps.jsonl",
		"errors":             "./data/decode_errors.jsonl",
		"checkpoint":         "./data/checkpoint.json",
		"checkpoint-enabled": true,
		"max-retries":        5,
		"retry-backoff":      500 * time.Millisecond,
	})
	if err != nil {
		return SyncConfig{}, err
	}
	return SyncConfig{
		RPCURL:            v.GetString("rpc"),
		Pool:              v.GetString("pool"),
		FromBlock:         v.GetUint64("from"),
		ToBlock:           v.GetUint64("to"),
		BatchSize:         v.GetUint64("batch-size"),
		Out:               v.GetString("out"),
		RawOut:            v.GetString("raw-out"),
		Errors:            v.GetString("errors"),
		PGDSN:             v.GetString("pg-dsn"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		LogLevel:          v.GetString("log-level"),
	}, nil
}

// ChartConfig holds configuration for the chart command.
type ChartConfig struct {
	RPCURL        string
	Pool          string
	Token1        string
	Token2        string
	Decimals1     uint8
	Decimals2     uint8
	In            string
	Out           string
	Series        string
	Window        string
	PGDSN         string
	BatchSize     int
	StateFile     string
	RecomputeFrom string
	LogLevel      string
}

// LoadChart merges config file, environment variables, and flags into ChartConfig.
func LoadChart(cfgFile string, flags *pflag.FlagSet) (ChartConfig, error) {
	v, err := load(cfgFile, flags, map[string]any{
		"batch-size": 1000,
		"window":     "5m",
		"decimals1":  18,
		"decimals2":  18,
	})
	if err != nil {
		return ChartConfig{}, err
	}
	return ChartConfig{
		RPCURL:        v.GetString("rpc"),
		Pool:          v.GetString("pool"),
		Token1:        v.GetString("token1"),
		Token2:        v.GetString("token2"),
		Decimals1:     uint8(v.GetUint("decimals1")),
		Decimals2:     uint8(v.GetUint("decimals2")),
		In:            v.GetString("in"),
		Out:           v.GetString("out"),
		Series:        v.GetString("series"),
		Window:        v.GetString("window"),
		PGDSN:         v.GetString("pg-dsn"),
		BatchSize:     v.GetInt("batch-size"),
		StateFile:     v.GetString("state-file"),
		RecomputeFrom: v.GetString("recompute-from"),
		LogLevel:      v.GetString("log-level"),
	}, nil
}

// StateConfig holds configuration for reading a deployed pool's state.
type StateConfig struct {
	RPCURL   string
	Pool     string
	Holders  []string
	Block    uint64
	QuoteIn  string
	LogLevel string
}

// LoadState merges config file, environment variables, and flags into StateConfig.
func LoadState(cfgFile string, flags *pflag.FlagSet) (StateConfig, error) {
	v, err := load(cfgFile, flags, nil)
	if err != nil {
		return StateConfig{}, err
	}
	return StateConfig{
		RPCURL:   v.GetString("rpc"),
		Pool:     v.GetString("pool"),
		Holders:  getStringSlice(v, "holder"),
		Block:    v.GetUint64("block"),
		QuoteIn:  v.GetString("quote-in"),
		LogLevel: v.GetString("log-level"),
	}, nil
}
