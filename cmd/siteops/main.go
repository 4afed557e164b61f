// Package main wires together the site-operation job engine service.
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

	"cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/pagegrove/siteops/internal/api"
	"github.com/pagegrove/siteops/internal/blob"
	"github.com/pagegrove/siteops/internal/clock/system"
	"github.com/pagegrove/siteops/internal/config"
	"github.com/pagegrove/siteops/internal/engine"
	"github.com/pagegrove/siteops/internal/enumerate"
	"github.com/pagegrove/siteops/internal/id/uuid"
	"github.com/pagegrove/siteops/internal/logging"
	"github.com/pagegrove/siteops/internal/notify"
	"github.com/pagegrove/siteops/internal/siteops"
	"github.com/pagegrove/siteops/internal/stats"
	"github.com/pagegrove/siteops/internal/storage/memory"
	"github.com/pagegrove/siteops/internal/storage/postgres"
	"github.com/pagegrove/siteops/internal/visitor"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync(logger)
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobs, results, catalog, closeStores, err := buildStores(ctx, cfg)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer closeStores()

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	publisher, stopPublisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}
	defer stopPublisher()

	crawlVisitor, err := visitor.NewCrawlVisitor(visitor.CrawlConfig{
		UserAgent:       cfg.Crawl.UserAgent,
		RequestTimeout:  cfg.CrawlRequestTimeout(),
		MaxConnsPerHost: cfg.Crawl.MaxConnsPerHost,
	}, logger.Named("crawl"))
	if err != nil {
		logger.Fatal("crawl visitor init failed", zap.Error(err))
	}

	visitors := map[siteops.JobKind]siteops.Visitor{
		siteops.KindCrawl: crawlVisitor,
	}
	enumerators := map[siteops.JobKind]siteops.Enumerator{
		siteops.KindCrawl: enumerate.NewCrawl(catalog),
	}
	if cfg.Render.Enabled {
		renderVisitor, err := visitor.NewRenderVisitor(visitor.RenderConfig{
			UserAgent: cfg.Render.UserAgent,
		}, blobs, logger.Named("render"))
		if err != nil {
			logger.Warn("render visitor init failed, rebuild jobs disabled", zap.Error(err))
		} else {
			defer renderVisitor.Close()
			visitors[siteops.KindRebuild] = renderVisitor
			enumerators[siteops.KindRebuild] = enumerate.NewRebuild(catalog)
		}
	}

	manager := engine.NewManager(engine.Deps{
		Jobs:        jobs,
		Results:     results,
		Catalog:     catalog,
		Enumerators: enumerators,
		Visitors:    visitors,
		Publisher:   publisher,
		Clock:       system.New(),
		IDGen:       uuid.New(),
		Logger:      logger.Named("engine"),
		BaseContext: context.Background(),
	})
	statsSvc := stats.New(results, jobs, cfg.Stats.MaxPageSize, logger.Named("stats"))

	apiServer := api.NewServer(manager, statsSvc, api.Config{
		RequestTimeout: cfg.ServerTimeout(),
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
	}, logger.Named("api"))

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
	if err := manager.Drain(shutdownCtx); err != nil {
		logger.Error("drain error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildStores(ctx context.Context, cfg config.Config) (siteops.JobStore, siteops.ResultStore, siteops.Catalog, func(), error) {
	if cfg.DB.Driver == "memory" {
		return memory.NewJobStore(), memory.NewResultStore(), memory.NewCatalog(), func() {}, nil
	}

	pool, err := postgres.NewPool(ctx, postgres.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: cfg.DBMaxConnLifetime(),
	})
	if err != nil {
		return nil, nil, nil, nil, err
	}
	jobs, err := postgres.NewJobStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, nil, nil, err
	}
	results, err := postgres.NewResultStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, nil, nil, err
	}
	catalog, err := postgres.NewCatalog(pool)
	if err != nil {
		pool.Close()
		return nil, nil, nil, nil, err
	}
	return jobs, results, catalog, pool.Close, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config) (siteops.BlobStore, error) {
	switch cfg.Blob.Driver {
	case "local":
		return blob.NewLocal(blob.LocalConfig{BaseDir: cfg.Blob.BaseDir})
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return blob.NewGCS(client, blob.GCSConfig{Bucket: cfg.Blob.Bucket})
	default:
		return blob.NewMemory(), nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (siteops.Publisher, func(), error) {
	if !cfg.PubSub.Enabled {
		return notify.NewNoop(), func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	topic := client.Topic(cfg.PubSub.TopicID)
	publisher, err := notify.NewPubSub(topic)
	if err != nil {
		return nil, nil, err
	}
	return publisher, func() {
		publisher.Stop()
		if err := client.Close(); err != nil {
			zap.L().Warn("pubsub client close", zap.Error(err))
		}
	}, nil
}
