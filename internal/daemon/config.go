// Package daemon provides the Crosslock daemon's file configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Mode selects which ledger adapters the daemon wires up.
type Mode string

const (
	// ModeSim runs against in-process simulated ledgers. Development mode.
	ModeSim Mode = "sim"

	// ModeEVM runs against configured EVM chains.
	ModeEVM Mode = "evm"
)

// Config holds all configuration for the daemon.
type Config struct {
	// Mode selects sim or evm adapters.
	Mode Mode `yaml:"mode"`

	// Storage
	Storage StorageConfig `yaml:"storage"`

	// RPC server
	RPC RPCConfig `yaml:"rpc"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Chains holds per-chain connection settings, keyed by symbol. Only
	// consulted in evm mode.
	Chains map[string]ChainConfig `yaml:"chains,omitempty"`

	// Resolver enables the built-in auto-bidding resolver.
	Resolver ResolverConfig `yaml:"resolver"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DataDir is the directory for all data files.
	DataDir string `yaml:"data_dir"`
}

// RPCConfig holds RPC server settings.
type RPCConfig struct {
	// Listen is the JSON-RPC listen address.
	Listen string `yaml:"listen"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// File is the log file path (empty for stderr).
	File string `yaml:"file"`
}

// ChainConfig holds connection settings for one EVM chain.
type ChainConfig struct {
	// RPCURL is the chain's JSON-RPC endpoint (ws:// for subscriptions).
	RPCURL string `yaml:"rpc_url"`

	// ContractAddress is the deployed HTLC contract.
	ContractAddress string `yaml:"contract_address"`

	// PrivateKey is the hex-encoded transactor key.
	PrivateKey string `yaml:"private_key"`
}

// ResolverConfig holds resolver settings.
type ResolverConfig struct {
	// Enabled starts the auto-bidding resolver alongside the daemon.
	Enabled bool `yaml:"enabled"`

	// ID is the resolver's bidding identity.
	ID string `yaml:"id"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Mode: ModeSim,
		Storage: StorageConfig{
			DataDir: "~/.crosslock",
		},
		RPC: RPCConfig{
			Listen: "127.0.0.1:9650",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
		Resolver: ResolverConfig{
			Enabled: false,
			ID:      "local-resolver",
		},
	}
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(dataDir string) (*Config, error) {
	expandedDir := expandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}

		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# Crosslock Daemon Configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
