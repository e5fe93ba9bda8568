package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"aptos-mirror/api"
	"aptos-mirror/config"
	"aptos-mirror/handlers"
	"aptos-mirror/middleware"
	"aptos-mirror/models"
	"aptos-mirror/storage"
	"aptos-mirror/syncer"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfgPath := os.Getenv("MIRROR_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	store, err := storage.NewPostgres()
	if err != nil {
		log.Fatalf("failed to init storage: %v", err)
	}
	defer store.Close()

	// Chain clients
	node := api.NewFullnodeClient(cfg.Chain.FullnodeURL)
	market := api.NewMarketClient(node, cfg.Chain.ModuleAddress)

	account, err := api.NewAccountFromEnv()
	if err != nil {
		log.Fatalf("failed to load vault operator account: %v", err)
	}
	submitter := api.NewSubmitter(node, account, time.Duration(cfg.Chain.TxTimeoutSec)*time.Second)
	ledger := api.NewLedgerClient(submitter, cfg.Chain.ModuleAddress)
	dialer := &api.WSDialer{URL: cfg.Chain.StreamURL}

	metricsStore := syncer.NewMetricsStore(store.Redis())

	manager := syncer.NewManager(syncer.ReplicatorConfig{
		RetryDelay: time.Duration(cfg.Replicator.RetryDelaySec) * time.Second,
		Sizing:     syncer.PolicyFromConfig(cfg.Replicator),
	}, market, submitter, ledger, dialer, store, metricsStore)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Follow configured leaders, then resume anything already in the registry
	for _, l := range cfg.Leaders {
		err := manager.Follow(ctx, models.Leader{Address: l.Address, VaultID: l.VaultID, Enabled: true})
		if err != nil {
			log.Printf("[main] following configured leader %s failed: %v", l.Address, err)
		}
	}
	if err := manager.Resume(ctx); err != nil {
		log.Printf("[main] resuming persisted leaders failed: %v", err)
	}
	manager.StartMetricsLoop(ctx, 30*time.Second)
	defer manager.Stop()

	// Set up router
	r := gin.Default()
	h := handlers.NewHandler(cfg, manager, store, metricsStore)

	r.GET("/health", h.Health)

	apiGroup := r.Group("/api", middleware.BasicAuth(), middleware.ValidateQueryParams())
	{
		apiGroup.GET("/status", h.GetStatus)
		apiGroup.GET("/actions", h.GetActions)
		apiGroup.GET("/stats", h.GetStats)
		apiGroup.GET("/metrics", h.GetMetrics)
		apiGroup.GET("/leaders", h.GetLeaders)
		apiGroup.POST("/leaders", h.FollowLeader)
		apiGroup.DELETE("/leaders/:address", middleware.ValidateAddress(), h.UnfollowLeader)
	}

	// Get port from environment or use default
	port := os.Getenv("PORT")
	if port == "" {
		port = strconv.Itoa(cfg.Server.Port)
	}

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutMS) * time.Millisecond,
	}

	go func() {
		log.Printf("[main] server listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[main] server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[main] shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeoutMS)*time.Millisecond)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] server shutdown: %v", err)
	}
}
