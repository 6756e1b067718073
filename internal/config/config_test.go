package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
)

func TestLoadSyncDefaults(t *testing.T) {
	cfg, err := LoadSync("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BatchSize != 2000 || cfg.MaxRetries != 5 || cfg.RetryBackoff != 500*time.Millisecond {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if !cfg.CheckpointEnabled || cfg.Out != "./data/swaps.jsonl" || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadSyncEnvAndFlags(t *testing.T) {
	t.Setenv("AMM_RPC", "http://env:8545")
	t.Setenv("AMM_PG_DSN", "postgres://env")
	t.Setenv("AMM_BATCH_SIZE", "50")

	flags := pflag.NewFlagSet("sync", pflag.ContinueOnError)
	flags.String("rpc", "", "")
	flags.Uint64("batch-size", 2000, "")
	if err := flags.Parse([]string{"--rpc", "http://flag:8545"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := LoadSync("", flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCURL != "http://flag:8545" {
		t.Fatalf("flag should win over env, got %s", cfg.RPCURL)
	}
	if cfg.PGDSN != "postgres://env" || cfg.BatchSize != 50 {
		t.Fatalf("env should win over defaults, got %+v", cfg)
	}
}

func TestLoadChartFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chart.yaml")
	content := []byte("pool: \"0x00000000000000000000000000000000000a3300\"\nwindow: 1h\ndecimals1: 6\nstate-file: ./state.json\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadChart(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Window != "1h" || cfg.Decimals1 != 6 || cfg.Decimals2 != 18 || cfg.StateFile != "./state.json" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Pool != "0x00000000000000000000000000000000000a3300" {
		t.Fatalf("unexpected pool %s", cfg.Pool)
	}

	if _, err := LoadChart(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestLoadStateHolders(t *testing.T) {
	t.Setenv("AMM_HOLDER", "0x0000000000000000000000000000000000000001, ,0x0000000000000000000000000000000000000002")
	cfg, err := LoadState("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	expected := []string{
		"0x0000000000000000000000000000000000000001",
		"0x0000000000000000000000000000000000000002",
	}
	if !reflect.DeepEqual(cfg.Holders, expected) {
		t.Fatalf("unexpected holders %v", cfg.Holders)
	}
}

func TestLoadSimulateDefaults(t *testing.T) {
	cfg, err := LoadSimulate("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Step != 15*time.Second || cfg.SwapsOut != "./data/swaps.jsonl" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestParseTimestamp(t *testing.T) {
	cases := map[string]uint64{
		"":                     0,
		"1700000000":           1700000000,
		"2023-11-14T22:13:20Z": 1700000000,
	}
	for input, expected := range cases {
		got, err := ParseTimestamp(input)
		if err != nil || got != expected {
			t.Fatalf("ParseTimestamp(%q) = %d, %v", input, got, err)
		}
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Fatalf("expected error for invalid timestamp")
	}
}

func TestParseWindow(t *testing.T) {
	got, err := ParseWindow("5m")
	if err != nil || got != 300 {
		t.Fatalf("ParseWindow(5m) = %d, %v", got, err)
	}
	for _, input := range []string{"500ms", "-1m", "soon"} {
		if _, err := ParseWindow(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestParseAddresses(t *testing.T) {
	addrs, err := ParseAddresses([]string{" 0x0000000000000000000000000000000000000001", ""})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(addrs) != 1 || addrs[0] != common.HexToAddress("0x1") {
		t.Fatalf("unexpected addresses %v", addrs)
	}
	if _, err := ParseAddresses([]string{"0xnope"}); err == nil {
		t.Fatalf("expected error for invalid address")
	}
	if _, err := ParseAddress("pool", ""); err == nil {
		t.Fatalf("expected error for missing pool")
	}
}
