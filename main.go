package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/denisbrodbeck/machineid"

	"signal-core/internal/api"
	"signal-core/internal/broker"
	"signal-core/internal/events"
	"signal-core/internal/gate"
	"signal-core/internal/monitor"
	"signal-core/internal/policy"
	"signal-core/internal/router"
	"signal-core/internal/signalstore"
	"signal-core/pkg/cache"
	"signal-core/pkg/config"
	"signal-core/pkg/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("signal core starting on port %s (db=%s)", cfg.Port, cfg.DBPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()
	metrics := monitor.NewSystemMetrics()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("db migrations failed: %v", err)
	}

	// Producer trust anchors. A deployment should configure these; the
	// fallback constants only exist for local development.
	entries := gate.ParseEntries(cfg.IngestKeys)
	if cfg.IngestAPIKey != "" && cfg.IngestSource != "" {
		entries = append(entries, gate.Entry{Key: cfg.IngestAPIKey, Source: cfg.IngestSource})
	}
	if len(entries) == 0 {
		log.Println("WARNING: no ingest credentials configured, using dev defaults")
		entries = []gate.Entry{{Key: "dev-ingest-key", Source: "dev-producer"}}
	}
	sourceGate := gate.New(entries)

	// Plan enumeration, fixed for the process lifetime.
	plans, err := policy.LoadRegistry(cfg.PlansPath)
	if err != nil {
		log.Fatalf("plan registry load failed: %v", err)
	}
	log.Printf("plans loaded: %v", plans.IDs())

	// Signal store: bounded cache + durable log.
	store := signalstore.NewStore(cfg.SignalCacheSize, database, bus, metrics)

	// Broker sessions: live REST sessions per subscriber, paper fallback.
	prices := cache.NewPriceCache()
	factory := func(brokerID string) broker.Adapter {
		return broker.NewRESTAdapter(brokerID, cfg.BrokerBaseURL, cfg.BrokerTimeout)
	}
	sessions := broker.NewManager(factory, cfg.PaperInitialCapital, prices, cfg.SessionCheckInterval, bus)
	sessions.Start(ctx)
	defer sessions.Stop()

	// Execution routing with per-subscriber day counters seeded from the DB.
	days := policy.NewDayCounter(database)
	exec := router.New(plans, days, sessions, store, database, bus, metrics, cfg.ExecutionEnabled)
	if !cfg.ExecutionEnabled {
		log.Println("execution disabled: requests will be denied without broker dispatch")
	}

	// Keep the live session gauge fresh.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.SetLiveSessions(sessions.LiveCount())
			}
		}
	}()

	instanceID, err := machineid.ProtectedID("signal-core")
	if err != nil {
		instanceID = "unknown"
	}
	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}

	server := api.NewServer(
		sourceGate,
		store,
		plans,
		exec,
		sessions,
		database,
		bus,
		metrics,
		api.SystemMeta{
			InstanceID:       instanceID,
			Version:          buildVersion,
			ExecutionEnabled: cfg.ExecutionEnabled,
		},
		cfg.JWTSecret,
	)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")

	// Let in-flight durable writes drain before the DB handle closes.
	store.Flush()
}
