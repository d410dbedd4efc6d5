package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/metadb"

	"github.com/scrutin-io/scrutin-node/accumulator"
	"github.com/scrutin-io/scrutin-node/audit"
	"github.com/scrutin-io/scrutin-node/eligibility"
	"github.com/scrutin-io/scrutin-node/ledger/memledger"
	"github.com/scrutin-io/scrutin-node/log"
	"github.com/scrutin-io/scrutin-node/service"
	"github.com/scrutin-io/scrutin-node/storage"
	"github.com/scrutin-io/scrutin-node/types"
	"github.com/scrutin-io/scrutin-node/votemanager"
)

// Services holds all the running services
type Services struct {
	Storage   *storage.Storage
	API       *service.APIService
	Finalizer *service.FinalizerService
	Votes     *votemanager.VoteManager
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log.Level, cfg.Log.Output)
	log.Infow("starting scrutin-node", "version", Version)

	if err := validateConfig(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services, err := setupServices(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to setup services: %v", err)
	}
	defer shutdownServices(services)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Infow("received signal, shutting down", "signal", sig.String())
}

// setupServices initializes and starts all required services
func setupServices(ctx context.Context, cfg *Config) (*Services, error) {
	services := &Services{}

	log.Infow("initializing storage", "datadir", cfg.Datadir, "type", db.TypePebble)
	storagedb, err := metadb.New(db.TypePebble, cfg.Datadir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	services.Storage = storage.New(storagedb)

	// Eligibility census and proof scheme
	censuses := eligibility.NewCensusDB(services.Storage.EligibilityDB())
	scheme := eligibility.NewMerkleProofScheme(censuses)

	// In-process ledger over the same storage
	lgr := memledger.New(services.Storage, scheme)

	// Commitment accumulator
	acc := accumulator.NewDB(services.Storage.AccumulatorDB())

	// Pending reveal material store
	var pending votemanager.PendingStore
	if cfg.Vote.PendingKey != "" {
		key, err := types.HexStringToHexBytes(cfg.Vote.PendingKey)
		if err != nil {
			return nil, fmt.Errorf("invalid pending key: %w", err)
		}
		pending, err = votemanager.NewEncryptedPendingStore(services.Storage.PendingDB(), key)
		if err != nil {
			return nil, fmt.Errorf("failed to open pending store: %w", err)
		}
		log.Infow("durable encrypted pending store enabled")
	}

	// Vote manager with background cleanup
	services.Votes = votemanager.New(lgr, scheme, acc, pending, cfg.Vote.PendingTTL)
	services.Votes.Start(ctx, cfg.Vote.CleanupInterval)

	// Auditor
	auditor := audit.New(lgr, services.Storage, acc)

	// Start API service
	log.Infow("starting API service", "host", cfg.API.Host, "port", cfg.API.Port)
	services.API = service.NewAPI(cfg.API.Host, cfg.API.Port, lgr, services.Votes, auditor, acc, services.Storage)
	if err := services.API.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start API service: %w", err)
	}

	// Start finalizer service
	log.Infow("starting finalizer service", "monitorInterval", cfg.Vote.MonitorInterval.String())
	services.Finalizer = service.NewFinalizer(lgr, services.Storage, acc)
	if err := services.Finalizer.Start(ctx, cfg.Vote.MonitorInterval); err != nil {
		return nil, fmt.Errorf("failed to start finalizer service: %w", err)
	}

	log.Info("scrutin-node is running, ready to process votes!")
	return services, nil
}

// shutdownServices gracefully shuts down all services
func shutdownServices(services *Services) {
	if services == nil {
		return
	}
	// Stop services in reverse order of startup
	if services.Finalizer != nil {
		services.Finalizer.Stop()
	}
	if services.API != nil {
		services.API.Stop()
	}
	if services.Storage != nil {
		services.Storage.Close()
	}
	log.Info("services shut down")
}
