// Package main provides the crosslockd daemon: the cross-chain swap
// coordinator with its Dutch-auction matching surface.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crosslock-exchange/crosslock/internal/auction"
	"github.com/crosslock-exchange/crosslock/internal/config"
	"github.com/crosslock-exchange/crosslock/internal/daemon"
	"github.com/crosslock-exchange/crosslock/internal/finality"
	"github.com/crosslock-exchange/crosslock/internal/ledger"
	"github.com/crosslock-exchange/crosslock/internal/ledger/evm"
	"github.com/crosslock-exchange/crosslock/internal/ledger/sim"
	"github.com/crosslock-exchange/crosslock/internal/resolver"
	"github.com/crosslock-exchange/crosslock/internal/rpc"
	"github.com/crosslock-exchange/crosslock/internal/storage"
	"github.com/crosslock-exchange/crosslock/internal/swap"
	"github.com/crosslock-exchange/crosslock/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.crosslock", "Data directory")
		apiAddr     = flag.String("api", "", "JSON-RPC API address, overrides config")
		mode        = flag.String("mode", "", "Adapter mode (sim or evm), overrides config")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		withRes     = flag.Bool("resolver", false, "Run the built-in auto-bidding resolver")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{
		Level:      *logLevel,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("crosslockd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	cfg, err := daemon.LoadConfig(*dataDir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// CLI flags take precedence over the config file
	if *apiAddr != "" {
		cfg.RPC.Listen = *apiAddr
	}
	if *mode != "" {
		cfg.Mode = daemon.Mode(*mode)
	}
	if *withRes {
		cfg.Resolver.Enabled = true
	}
	cfg.Logging.Level = *logLevel
	cfg.Storage.DataDir = *dataDir

	log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)
	log.Info("Config loaded", "path", daemon.ConfigPath(*dataDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	protocol := config.NewProtocolConfig()

	store, err := storage.New(&storage.Config{DataDir: cfg.Storage.DataDir})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("Storage initialized", "path", cfg.Storage.DataDir)

	adapters, err := buildAdapters(cfg, protocol, log)
	if err != nil {
		log.Fatal("Failed to initialize ledger adapters", "error", err)
	}
	log.Info("Ledger adapters initialized", "mode", cfg.Mode, "chains", len(adapters))

	tracker := finality.NewTracker(adapters, protocol, log)

	coordinator := swap.NewCoordinator(protocol, adapters, tracker, store, log)
	defer coordinator.Stop()

	restored, err := coordinator.LoadPendingSwaps()
	if err != nil {
		log.Warn("Failed to load pending swaps", "error", err)
	} else if restored > 0 {
		log.Info("Pending swaps restored", "count", restored)
	}

	if err := coordinator.Start(); err != nil {
		log.Fatal("Failed to start swap coordinator", "error", err)
	}

	auctions := auction.NewEngine(protocol, store, log)
	auctions.Start()
	defer auctions.Stop()

	rpcServer := rpc.NewServer(protocol, coordinator, auctions, store)
	if err := rpcServer.Start(cfg.RPC.Listen); err != nil {
		log.Fatal("Failed to start RPC server", "error", err)
	}
	defer rpcServer.Stop()

	if cfg.Resolver.Enabled {
		res := resolver.New(cfg.Resolver.ID, protocol.Resolver, auctions, log)
		res.Start()
		defer res.Stop()
	}

	log.Info("crosslockd running",
		"version", version,
		"api", cfg.RPC.Listen,
		"resolver", cfg.Resolver.Enabled,
	)

	// Periodic status line
	startedAt := time.Now()
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.Info("Status",
					"swaps", len(coordinator.ListSwaps()),
					"open_auctions", len(auctions.ListOrders(auction.StatusActive)),
					"uptime", time.Since(startedAt).Round(time.Second),
				)
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info("Shutting down...")
}

// buildAdapters wires one ledger adapter per configured chain. Sim mode runs
// the two in-process chains; evm mode dials every chain in the config file.
func buildAdapters(cfg *daemon.Config, protocol *config.ProtocolConfig, log *logging.Logger) (map[ledger.Chain]ledger.Adapter, error) {
	adapters := make(map[ledger.Chain]ledger.Adapter)

	switch cfg.Mode {
	case daemon.ModeEVM:
		for symbol, chainCfg := range cfg.Chains {
			adapter, err := evm.New(evm.Options{
				Chain:           ledger.Chain(symbol),
				RPCURL:          chainCfg.RPCURL,
				ContractAddress: chainCfg.ContractAddress,
				PrivateKeyHex:   chainCfg.PrivateKey,
			}, log)
			if err != nil {
				return nil, err
			}
			adapters[ledger.Chain(symbol)] = adapter
		}
	default:
		for symbol, chain := range protocol.Chains {
			if chain.Kind == config.ChainKindSim {
				adapters[ledger.Chain(symbol)] = sim.New(ledger.Chain(symbol))
			}
		}
	}

	return adapters, nil
}
