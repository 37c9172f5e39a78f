// Package main hosts the business-scanner service entrypoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/zzpscan/zzpscan/internal/api"
	"github.com/zzpscan/zzpscan/internal/catalog"
	"github.com/zzpscan/zzpscan/internal/clock/system"
	"github.com/zzpscan/zzpscan/internal/config"
	"github.com/zzpscan/zzpscan/internal/discovery"
	"github.com/zzpscan/zzpscan/internal/dispatch"
	"github.com/zzpscan/zzpscan/internal/executor"
	"github.com/zzpscan/zzpscan/internal/id/uuid"
	"github.com/zzpscan/zzpscan/internal/lifecycle"
	"github.com/zzpscan/zzpscan/internal/logging"
	"github.com/zzpscan/zzpscan/internal/metrics"
	"github.com/zzpscan/zzpscan/internal/probe"
	memorypublisher "github.com/zzpscan/zzpscan/internal/publisher/memory"
	pubsubpublisher "github.com/zzpscan/zzpscan/internal/publisher/pubsub"
	"github.com/zzpscan/zzpscan/internal/storage/gcs"
	memorystorage "github.com/zzpscan/zzpscan/internal/storage/memory"
	"github.com/zzpscan/zzpscan/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.New()

	// Persistence provider.
	var (
		businessStore catalog.BusinessStore
		jobStore      catalog.JobStore
		checkStore    catalog.CheckStore
		readiness     func(*http.Request) error
	)
	switch cfg.DB.Provider {
	case "postgres":
		pool, err := postgres.Connect(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxOpenConns),
		})
		if err != nil {
			logger.Fatal("postgres init failed", zap.Error(err))
		}
		defer pool.Close()
		businessStore = postgres.NewBusinessStore(pool)
		jobStore = postgres.NewJobStore(pool)
		checkStore = postgres.NewCheckStore(pool)
		readiness = func(r *http.Request) error { return pool.Ping(r.Context()) }
	default:
		mem := memorystorage.NewBusinessStore()
		businessStore = mem
		jobStore = memorystorage.NewJobStore()
		checkStore = memorystorage.NewCheckStore(mem)
	}

	// Snapshot archive provider.
	var blobStore catalog.BlobStore
	switch cfg.Storage.Provider {
	case "gcs":
		store, err := gcs.New(ctx, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			logger.Fatal("gcs init failed", zap.Error(err))
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn("gcs close failed", zap.Error(err))
			}
		}()
		blobStore = store
	case "memory":
		blobStore = memorystorage.NewBlobStore()
	}

	// Lifecycle event publisher provider.
	var publisher catalog.Publisher
	switch cfg.PubSub.Provider {
	case "pubsub":
		pub, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("pubsub init failed", zap.Error(err))
		}
		defer func() {
			if err := pub.Close(); err != nil {
				logger.Warn("pubsub close failed", zap.Error(err))
			}
		}()
		publisher = pub
	case "memory":
		publisher = memorypublisher.New()
	}

	dispatcher := dispatch.New(ctx, cfg.Watchdog(), logger.Named("dispatch"))
	manager := lifecycle.New(
		jobStore,
		dispatcher,
		publisher,
		clock,
		idGen,
		lifecycle.Config{
			MaxRetries: cfg.Jobs.MaxRetries,
			EventTopic: cfg.PubSub.TopicName,
		},
		logger.Named("lifecycle"),
	)

	source := discovery.NewStatic(idGen)
	probeClient := probe.New(probe.Config{
		UserAgent: cfg.Probe.UserAgent,
		Timeout:   cfg.ProbeTimeout(),
	})

	crawl := executor.NewCrawl(manager, businessStore, source, logger.Named("crawl"))
	for _, kind := range []catalog.JobKind{
		catalog.JobKindGoogleMaps,
		catalog.JobKindLinkedIn,
		catalog.JobKindFacebook,
		catalog.JobKindChamberOfCommerce,
	} {
		dispatcher.Register(kind, crawl.Execute)
	}

	webcheck := executor.NewWebcheck(
		manager,
		businessStore,
		checkStore,
		probeClient,
		blobStore,
		clock,
		executor.WebcheckConfig{
			TLDs:           cfg.Probe.TLDs,
			BatchLimit:     cfg.Jobs.CheckBatchLimit,
			Pacing:         cfg.Pacing(),
			SnapshotPrefix: cfg.Storage.Prefix,
		},
		logger.Named("webcheck"),
	)
	dispatcher.Register(catalog.JobKindWebsiteCheck, webcheck.Execute)

	enrich := executor.NewEnrich(manager, businessStore, logger.Named("enrich"))
	dispatcher.Register(catalog.JobKindEnrichData, enrich.Execute)

	var opts []api.Option
	if readiness != nil {
		opts = append(opts, api.WithReadiness(readiness))
	}
	apiServer := api.NewServer(manager, businessStore, checkStore, cfg, logger.Named("api"), opts...)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	dispatcher.Wait()
	logger.Info("shutdown complete")
}
