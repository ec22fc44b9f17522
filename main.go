package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"licitascan/admin"
	"licitascan/config"
	"licitascan/httputil"
	"licitascan/logging"
	"licitascan/notify"
	"licitascan/scheduler"
	"licitascan/scraper"
	"licitascan/services"
	"licitascan/storage"
	"licitascan/workers"
)

var (
	runOnce = flag.String("run", "", "Run one source ingest and exit")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logFile, err := logging.Setup(cfg.LogPath)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting licitascan...")
	log.Printf("Loaded %d source configs", len(cfg.Sources))
	for name, src := range cfg.Sources {
		log.Printf("  - %s (%s, cron %q)", src.Name, name, src.Cron)
	}

	ctx := context.Background()

	store, err := storage.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer store.Close()
	log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.Database.URL))

	var notifier notify.Notifier = notify.NoOpNotifier{}
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		notifier = notify.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		log.Println("Telegram notifications enabled")
	}

	matcher := services.NewMatcherService(store)
	if err := matcher.Reload(ctx); err != nil {
		log.Printf("Warning: initial alert group load failed: %v", err)
	}

	validity := services.NewValidityService(store, cfg.Validity)
	ingest := services.NewIngestService(store, matcher, cfg)
	dedup := services.NewDedupService(store)
	workflow := services.NewWorkflowService(store)
	urls := services.NewURLService(store)

	log.Println("Services initialized")

	orchestrator := scraper.NewOrchestrator(cfg, store, ingest, notifier)

	if *runOnce != "" {
		log.Printf("Running %s once...", *runOnce)
		if err := orchestrator.RunSource(ctx, *runOnce, nil); err != nil {
			log.Fatalf("Run failed: %v", err)
		}
		log.Println("Run complete!")
		return
	}

	// Daemon mode
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched := scheduler.New(cfg, orchestrator, store)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	go func() {
		ticker := time.NewTicker(services.ReloadInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := matcher.Reload(ctx); err != nil {
					log.Printf("Alert group reload failed: %v", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	clients := httputil.NewClients()

	validityWorker := workers.NewValidityWorker(validity)
	go validityWorker.Run(ctx, 6*time.Hour)
	log.Println("Validity worker started")

	digestWorker := workers.NewDigestWorker(store, notifier)
	go digestWorker.Run(ctx, 15*time.Minute)
	log.Println("Digest worker started")

	enrichmentWorker := workers.NewEnrichmentWorker(store, clients)
	go enrichmentWorker.Run(ctx, 10, 5*time.Minute)
	log.Println("Enrichment worker started")

	sched.SetWorkers(validityWorker, digestWorker, enrichmentWorker)

	adminServer := admin.NewServer(cfg.Admin.ListenAddr, store, sched, dedup, validity, matcher, workflow, urls)
	go func() {
		if err := adminServer.Start(); err != nil {
			log.Printf("Admin API error: %v", err)
		}
	}()

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Admin shutdown error: %v", err)
	}
	sched.Stop()
	cancel()
	log.Println("Goodbye!")
}

// maskConnectionString hides the password segment of a DSN for logging.
func maskConnectionString(connStr string) string {
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
