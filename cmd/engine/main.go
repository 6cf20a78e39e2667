package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"propscout-engine/internal/config"
	"propscout-engine/internal/domain"
	"propscout-engine/internal/etl"
	"propscout-engine/internal/events"
	"propscout-engine/internal/httpapi"
	"propscout-engine/internal/scheduler"
	"propscout-engine/internal/scrape/apartments"
	"propscout-engine/internal/scrape/browser"
	"propscout-engine/internal/scrape/redfin"
	"propscout-engine/internal/scrape/types"
	"propscout-engine/internal/scrape/util"
	"propscout-engine/internal/scrape/zillow"
	"propscout-engine/internal/store"
)

func main() {
	dataDir := os.Getenv("PROPSCOUT_DATA_DIR")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatal(err)
		}
		dataDir = filepath.Join(home, ".propscout")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatal(err)
	}

	// One engine per data dir; two schedulers sharing a sqlite file would
	// fight over the single writer.
	lock := flock.New(filepath.Join(dataDir, "engine.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		log.Fatalf("lock %s: %v", lock.Path(), err)
	}
	if !locked {
		log.Fatalf("another engine instance already holds %s", lock.Path())
	}
	defer func() { _ = lock.Unlock() }()

	defaultCfgPath := filepath.Join("config", "config.yml")
	userCfgPath, err := config.EnsureUserConfig(dataDir, defaultCfgPath)
	if err != nil {
		log.Fatalf("config bootstrap failed: %v", err)
	}

	raw, err := config.Load(userCfgPath)
	if err != nil {
		log.Fatalf("config load failed (%s): %v", userCfgPath, err)
	}
	cfg, validation := config.NormalizeAndValidate(raw)
	for _, w := range validation.Warnings {
		log.Printf("[config] warning: %s", w)
	}
	if !validation.OK() {
		for _, e := range validation.Errors {
			log.Printf("[config] error: %s", e)
		}
		log.Fatalf("config invalid (%s)", userCfgPath)
	}

	// Jobs always live in the local sqlite file; the property store can be
	// pointed at postgres for shared deployments.
	db, err := store.Open(filepath.Join(dataDir, "propscout.db"))
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	if err := store.Migrate(db.Pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	jobStore := &store.Jobs{DB: db.Pool}

	var (
		propStore  etl.PropertyStore
		propLister httpapi.PropertyLister
	)
	switch cfg.App.Storage {
	case "postgres":
		pg, err := store.OpenPostgres(cfg.App.PostgresDSN)
		if err != nil {
			log.Fatal(err)
		}
		defer pg.Close()
		propStore, propLister = pg, pg
		log.Printf("[store] properties in postgres")
	default:
		props := &store.Properties{DB: db.Pool}
		propStore, propLister = props, props
	}

	hub := events.NewHub()

	srcCfg := cfg.Scraper.Sources
	limiter := util.NewSourceLimiter(12, cfg.Scraper.GlobalRPM, map[domain.DataSource]int{
		domain.SourceRedfin:     srcCfg.Redfin.RPM,
		domain.SourceZillow:     srcCfg.Zillow.RPM,
		domain.SourceApartments: srcCfg.Apartments.RPM,
	})
	client := util.NewClient(limiter, util.ClientConfig{
		Timeout:    time.Duration(cfg.Scraper.RequestTimeoutSeconds) * time.Second,
		JitterMin:  time.Duration(cfg.Scraper.JitterMinMS) * time.Millisecond,
		JitterMax:  time.Duration(cfg.Scraper.JitterMaxMS) * time.Millisecond,
		UserAgents: cfg.Scraper.UserAgents,
		Proxies:    cfg.Scraper.Proxies,
	})

	var renderer zillow.Renderer
	if cfg.Scraper.RenderJS {
		renderer = browser.New(cfg.Scraper.UserAgents,
			time.Duration(cfg.Scraper.RequestTimeoutSeconds)*time.Second)
		log.Printf("[scrape] headless rendering enabled")
	}

	adapters := make(map[domain.DataSource]types.Adapter)
	workers := make(map[domain.DataSource]int)
	if srcCfg.Redfin.Enabled {
		adapters[domain.SourceRedfin] = redfin.New(redfin.Config{}, client)
		workers[domain.SourceRedfin] = srcCfg.Redfin.Workers
	}
	if srcCfg.Zillow.Enabled {
		adapters[domain.SourceZillow] = zillow.New(zillow.Config{}, client, renderer)
		workers[domain.SourceZillow] = srcCfg.Zillow.Workers
	}
	if srcCfg.Apartments.Enabled {
		adapters[domain.SourceApartments] = apartments.New(apartments.Config{}, client)
		workers[domain.SourceApartments] = srcCfg.Apartments.Workers
	}

	loader := &etl.Loader{
		Store:     propStore,
		Weights:   cfg.ETL.Weights,
		Threshold: cfg.ETL.QualityThreshold,
		Hub:       hub,
	}
	pipeline := &etl.Pipeline{Loader: loader, Hub: hub}

	sched := &scheduler.Scheduler{
		Adapters: adapters,
		Pipeline: pipeline,
		Jobs:     jobStore,
		Hub:      hub,
		Backoff: util.Backoff{
			MaxAttempts: cfg.Scraper.MaxAttempts,
			Base:        time.Duration(cfg.Scraper.BackoffBaseMS) * time.Millisecond,
		},
		Workers: workers,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	sched.Start(ctx)

	router := httpapi.NewRouter(httpapi.Deps{
		Runner:     sched,
		Properties: propLister,
		Hub:        hub,
	})
	handler := httpapi.Chain(router,
		httpapi.RequestID, httpapi.Recover, httpapi.AccessLog)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.App.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("engine listening on http://%s (data=%s)", addr, dataDir)

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
	sched.Wait()
	log.Printf("engine stopped")
}
