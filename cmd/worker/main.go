package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aptos-mirror/api"
	"aptos-mirror/config"
	"aptos-mirror/models"
	"aptos-mirror/storage"
	"aptos-mirror/syncer"

	"github.com/joho/godotenv"
)

// Headless replication worker. Runs the same replicators as the API binary
// without the HTTP surface, for deployments that split the two.
func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load(os.Getenv("MIRROR_CONFIG"))
	if err != nil {
		log.Fatalf("[worker] failed to load config: %v", err)
	}

	store, err := storage.NewPostgres()
	if err != nil {
		log.Fatalf("[worker] failed to init storage: %v", err)
	}
	defer store.Close()

	log.Println("[worker] PostgreSQL storage initialized")

	node := api.NewFullnodeClient(cfg.Chain.FullnodeURL)
	market := api.NewMarketClient(node, cfg.Chain.ModuleAddress)

	account, err := api.NewAccountFromEnv()
	if err != nil {
		log.Fatalf("[worker] failed to load vault operator account: %v", err)
	}
	submitter := api.NewSubmitter(node, account, time.Duration(cfg.Chain.TxTimeoutSec)*time.Second)
	ledger := api.NewLedgerClient(submitter, cfg.Chain.ModuleAddress)
	dialer := &api.WSDialer{URL: cfg.Chain.StreamURL}

	manager := syncer.NewManager(syncer.ReplicatorConfig{
		RetryDelay: time.Duration(cfg.Replicator.RetryDelaySec) * time.Second,
		Sizing:     syncer.PolicyFromConfig(cfg.Replicator),
	}, market, submitter, ledger, dialer, store, syncer.NewMetricsStore(store.Redis()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, l := range cfg.Leaders {
		err := manager.Follow(ctx, models.Leader{Address: l.Address, VaultID: l.VaultID, Enabled: true})
		if err != nil {
			log.Printf("[worker] following configured leader %s failed: %v", l.Address, err)
		}
	}
	if err := manager.Resume(ctx); err != nil {
		log.Printf("[worker] resuming persisted leaders failed: %v", err)
	}
	manager.StartMetricsLoop(ctx, 30*time.Second)

	log.Println("[worker] replication running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[worker] received shutdown signal, stopping gracefully...")
	manager.Stop()
}
