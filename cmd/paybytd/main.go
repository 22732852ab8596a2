// Package main provides the paybytd daemon - a Bitcoin wallet engine
// behind a local JSON-RPC API.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/paybyt/paybyt-wallet/internal/backend"
	"github.com/paybyt/paybyt-wallet/internal/chain"
	"github.com/paybyt/paybyt-wallet/internal/config"
	"github.com/paybyt/paybyt-wallet/internal/rpc"
	"github.com/paybyt/paybyt-wallet/internal/storage"
	"github.com/paybyt/paybyt-wallet/internal/wallet"
	"github.com/paybyt/paybyt-wallet/pkg/logging"
)

var (
	version = rpc.Version
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.paybyt", "Data directory")
		network     = flag.String("network", "", "Network (mainnet or testnet), overrides config")
		apiAddr     = flag.String("api", "", "JSON-RPC API address, overrides config")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		noSync      = flag.Bool("no-sync", false, "Disable background UTXO sync")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	// Initial logger, replaced once the config is loaded
	log := logging.New(&logging.Config{
		Level:      "info",
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("paybytd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*dataDir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// CLI flags take precedence over the config file
	if *network != "" {
		n, err := chain.ParseNetwork(*network)
		if err != nil {
			log.Fatal("Invalid network", "error", err)
		}
		cfg.NetworkType = n
	}
	if *apiAddr != "" {
		cfg.RPC.Listen = *apiAddr
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", "error", err)
	}

	var output io.Writer = os.Stderr
	if cfg.Logging.File != "" {
		f, err := logging.OpenFile(config.ExpandPath(cfg.Logging.File))
		if err != nil {
			log.Fatal("Failed to open log file", "error", err)
		}
		defer f.Close()
		output = io.MultiWriter(os.Stderr, f)
	}
	log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
		Output:     output,
	})
	logging.SetDefault(log)

	log.Info("Config loaded", "path", config.ConfigPath(*dataDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Each network keeps its own database and vault
	dataPath := filepath.Join(config.ExpandPath(*dataDir), string(cfg.NetworkType))
	store, err := storage.New(&storage.Config{DataDir: dataPath})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("Storage initialized", "path", dataPath)

	chainBackend, err := backend.New(cfg.Backend, cfg.NetworkType)
	if err != nil {
		log.Fatal("Failed to initialize backend", "error", err)
	}
	if err := chainBackend.Connect(ctx); err != nil {
		log.Warn("Backend unreachable, continuing offline", "type", chainBackend.Type(), "error", err)
	}
	defer chainBackend.Close()

	builder := wallet.Builder{ReserveChangeSlot: cfg.Wallet.ReserveChangeSlot}
	walletService, err := wallet.NewService(&wallet.ServiceConfig{
		DataDir:          dataPath,
		Network:          cfg.NetworkType,
		Storage:          store,
		Backend:          chainBackend,
		Logger:           log.Component("wallet"),
		Builder:          &builder,
		MinConfirmations: cfg.Wallet.MinConfirmations,
		GapLimit:         cfg.Wallet.GapLimit,
		FiatCurrency:     cfg.Wallet.FiatCurrency,
		MaxFiatAmount:    cfg.Wallet.MaxFiatAmount,
	})
	if err != nil {
		log.Fatal("Failed to initialize wallet service", "error", err)
	}
	log.Info("Wallet service initialized", "network", cfg.NetworkType, "has_wallet", walletService.HasWallet())

	rpcServer := rpc.NewServer(walletService, cfg.Wallet.FeeRate)
	if err := rpcServer.Start(cfg.RPC.Listen); err != nil {
		log.Fatal("Failed to start RPC server", "error", err)
	}

	go walletService.RunMaintenance(ctx, wallet.MaintenanceConfig{
		Interval:       cfg.Wallet.SyncInterval,
		ReservationTTL: cfg.Wallet.ReservationTTL,
		SpentRetention: cfg.Wallet.SpentRetention,
		SyncUTXOs:      !*noSync && cfg.Wallet.SyncInterval > 0,
	})

	printBanner(log, cfg, dataPath, rpcServer.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info("Shutting down...")

	cancel()

	if err := rpcServer.Stop(); err != nil {
		log.Error("Error stopping RPC server", "error", err)
	}
	walletService.Lock()

	log.Info("Goodbye!")
}

func printBanner(log *logging.Logger, cfg *config.Config, dataPath, apiAddr string) {
	// Validate already rejected unknown networks
	params := chain.MustGet(cfg.NetworkType)
	networkLabel := params.Name
	if cfg.IsTestnet() {
		networkLabel = "TESTNET"
	}

	log.Info("")
	log.Info("=================================================")
	log.Infof("  paybyt wallet (%s)", networkLabel)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  API: http://%s", apiAddr)
	log.Infof("  WS:  ws://%s/ws", apiAddr)
	log.Info("")
	log.Infof("  Backend: %s | Fee rate: %d sat/B | Change slot: %v", cfg.Backend.Type, cfg.Wallet.FeeRate, cfg.Wallet.ReserveChangeSlot)
	log.Infof("  Explorer: %s | Min confirmations: %d", params.ExplorerURL, params.MinConfirmations)
	log.Infof("  Data dir: %s", dataPath)
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
