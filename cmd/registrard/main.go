package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pwalczak/memberca/internal/api"
	"github.com/pwalczak/memberca/internal/ca"
	"github.com/pwalczak/memberca/internal/config"
	"github.com/pwalczak/memberca/internal/metrics"
	"github.com/pwalczak/memberca/internal/registrar"
	"github.com/pwalczak/memberca/internal/store"
)

var (
	// Version information (set via ldflags)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "/etc/memberca/config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("memberca registrar\n")
		fmt.Printf("Version:    %s\n", Version)
		fmt.Printf("Commit:     %s\n", Commit)
		fmt.Printf("Build Time: %s\n", BuildTime)
		os.Exit(0)
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)
	logger.Printf("Starting memberca registrar %s (commit: %s)", Version, Commit)

	logger.Printf("Loading configuration from %s", *configPath)
	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Printf("Opening certificate store: %s", cfg.Database.Path)
	certStore, err := store.OpenSQLite(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("Failed to open certificate store: %v", err)
	}
	defer certStore.Close()

	logger.Printf("Loading authority key pair from %s", cfg.Authority.PrivateKeyPath)
	authorityKey, err := ca.LoadOrGenerate(
		cfg.Authority.PrivateKeyPath,
		cfg.Authority.PublicKeyPath,
		cfg.Authority.KeyType,
	)
	if err != nil {
		logger.Fatalf("Failed to load/generate authority key pair: %v", err)
	}
	logger.Printf("Authority key pair loaded (type: %s)", authorityKey.KeyType)

	registry := prometheus.NewRegistry()
	authority := registrar.New(
		authorityKey,
		certStore,
		registrar.NewBus(),
		logger,
		registrar.WithMetrics(metrics.New(registry)),
		registrar.WithValidity(cfg.CertValidityDuration()),
	)

	// Log issued certificates as they are announced; a community deployment
	// would hang gossip off this subscription instead.
	go func() {
		for event := range authority.Bus().Subscribe() {
			logger.Printf("certificate issued: %s (%s)", event.Username, event.IdentityKey)
		}
	}()

	server := api.NewServer(cfg, authority, certStore, registry)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Printf("Starting HTTP server on %s", cfg.Server.ListenAddr)
		if err := server.Run(); err != nil {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-quit
	logger.Printf("Shutting down server...")

	certStore.Close()

	logger.Printf("Server stopped")
}
