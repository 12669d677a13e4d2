package daemon

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Mode != ModeSim {
		t.Errorf("expected sim mode, got %s", cfg.Mode)
	}

	if cfg.Storage.DataDir != "~/.crosslock" {
		t.Errorf("expected ~/.crosslock, got %s", cfg.Storage.DataDir)
	}

	if cfg.RPC.Listen != "127.0.0.1:9650" {
		t.Errorf("expected 127.0.0.1:9650, got %s", cfg.RPC.Listen)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Logging.Level)
	}

	if cfg.Resolver.Enabled {
		t.Error("resolver should be disabled by default")
	}
}

func TestLoadConfigCreatesDefault(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Mode != ModeSim {
		t.Errorf("mode = %s, want sim", cfg.Mode)
	}
	if cfg.Storage.DataDir != dir {
		t.Errorf("data dir = %s, want %s", cfg.Storage.DataDir, dir)
	}

	if _, err := os.Stat(filepath.Join(dir, ConfigFileName)); err != nil {
		t.Errorf("config file should have been created: %v", err)
	}
}

func TestLoadConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Mode = ModeEVM
	cfg.Storage.DataDir = dir
	cfg.RPC.Listen = "127.0.0.1:19650"
	cfg.Chains = map[string]ChainConfig{
		"ETH": {
			RPCURL:          "ws://localhost:8546",
			ContractAddress: "0x1111111111111111111111111111111111111111",
			PrivateKey:      "deadbeef",
		},
	}
	cfg.Resolver.Enabled = true
	cfg.Resolver.ID = "resolver-test"

	if err := cfg.Save(ConfigPath(dir)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if loaded.Mode != ModeEVM {
		t.Errorf("mode = %s, want evm", loaded.Mode)
	}
	if loaded.RPC.Listen != "127.0.0.1:19650" {
		t.Errorf("listen = %s", loaded.RPC.Listen)
	}
	chain, ok := loaded.Chains["ETH"]
	if !ok {
		t.Fatal("ETH chain config lost in round trip")
	}
	if chain.RPCURL != "ws://localhost:8546" {
		t.Errorf("rpc url = %s", chain.RPCURL)
	}
	if !loaded.Resolver.Enabled || loaded.Resolver.ID != "resolver-test" {
		t.Errorf("resolver = %+v", loaded.Resolver)
	}
}
