// Command otlp2parquet-server runs the long-lived runtime profile: OTLP
// ingest backed by the in-memory batch manager, a local SQLite receipt
// bus, and an optional Iceberg REST catalog commit loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log/level"
	icebergcatalog "github.com/polarsignals/iceberg-go/catalog"

	"github.com/smithclay/otlp2parquet-go/internal/catalog"
	"github.com/smithclay/otlp2parquet-go/internal/config"
	"github.com/smithclay/otlp2parquet-go/internal/httpapi"
	"github.com/smithclay/otlp2parquet-go/internal/manager"
	"github.com/smithclay/otlp2parquet-go/internal/obs"
	"github.com/smithclay/otlp2parquet-go/internal/receipt"
	"github.com/smithclay/otlp2parquet-go/internal/sink"
	"github.com/smithclay/otlp2parquet-go/internal/storage"
)

func main() {
	tomlPath := flag.String("config", "", "path to a TOML config file")
	envPath := flag.String("env", "", "path to a .env file loaded ahead of the real environment")
	receiptDBPath := flag.String("receipt-db", "./server-receipts.db", "path to the local SQLite receipt store")
	flag.Parse()

	cfg, err := config.Load(*tomlPath, *envPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := obs.NewJSONLogger(cfg.LogLevel)

	bucket, err := storage.NewBucket(storage.Config{
		Bucket:          cfg.Storage.Bucket,
		Endpoint:        cfg.Storage.Endpoint,
		Region:          cfg.Storage.Region,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		Insecure:        cfg.Storage.Insecure,
		PathStyle:       cfg.Storage.PathStyle,
	})
	if err != nil {
		level.Error(logger).Log("msg", "bucket init failed", "err", err)
		os.Exit(1)
	}

	sinkOpts := sink.NewDefaultOptions()
	sinkOpts.Prefix = cfg.Storage.Prefix
	sinkOpts.TableNameOverride = cfg.Catalog.TableNames
	sk := sink.New(bucket, sinkOpts)

	receipts, err := receipt.OpenSQLStore(*receiptDBPath)
	if err != nil {
		level.Error(logger).Log("msg", "receipt store init failed", "err", err)
		os.Exit(1)
	}
	defer receipts.Close()

	mgr := manager.New(sk, receipts, cfg.Batch, logger)

	srv := httpapi.New(cfg, httpapi.ManagerIngester{Manager: mgr}, logger)
	srv.Receipts = receipts

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pipeline *catalog.Pipeline
	if cfg.Catalog.Mode == config.CatalogModeIceberg {
		ctlg, err := newRESTCatalog(ctx, cfg)
		if err != nil {
			level.Error(logger).Log("msg", "catalog init failed", "err", err)
			os.Exit(1)
		}
		bootstrap := newBootstrapClient(cfg)
		pipeline = catalog.NewPipeline(bucket, ctlg, bootstrap, receipts, cfg.Catalog.Namespace, cfg.Catalog.TableNames, cfg.Catalog.MaxCatalogRetries, logger)
		srv.Catalog = pipeline
	}

	drainTicker := time.NewTicker(5 * time.Second)
	defer drainTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-drainTicker.C:
				if err := mgr.DrainExpired(ctx); err != nil {
					level.Error(logger).Log("msg", "drain expired failed", "err", err)
				}
			}
		}
	}()

	if pipeline != nil {
		syncInterval := cfg.Catalog.SyncInterval
		if syncInterval <= 0 {
			syncInterval = 5 * time.Minute
		}
		syncTicker := time.NewTicker(syncInterval)
		defer syncTicker.Stop()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-syncTicker.C:
					if _, err := pipeline.Sync(ctx); err != nil {
						level.Error(logger).Log("msg", "catalog sync failed", "err", err)
					}
				}
			}
		}()
	}

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: srv.Router()}
	go func() {
		level.Info(logger).Log("msg", "server listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			level.Error(logger).Log("msg", "http server failed", "err", err)
		}
	}()

	<-ctx.Done()
	level.Info(logger).Log("msg", "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		level.Error(logger).Log("msg", "http shutdown failed", "err", err)
	}
	if err := mgr.DrainAll(shutdownCtx); err != nil {
		level.Error(logger).Log("msg", "final drain failed", "err", err)
	}
	if pipeline != nil {
		if _, err := pipeline.Sync(shutdownCtx); err != nil {
			level.Error(logger).Log("msg", "final catalog sync failed", "err", err)
		}
	}
}

func catalogOptions(cfg config.Config) []catalog.ClientOption {
	var opts []catalog.ClientOption
	if cfg.Catalog.AWSSigV4 {
		opts = append(opts, catalog.WithSigV4(cfg.Storage.AccessKeyID, cfg.Storage.SecretAccessKey, cfg.Catalog.AWSRegion))
	} else if cfg.Catalog.BearerToken != "" {
		opts = append(opts, catalog.WithBearerToken(cfg.Catalog.BearerToken))
	}
	return opts
}

func catalogName(cfg config.Config) string {
	if cfg.Catalog.Prefix != "" {
		return cfg.Catalog.Prefix
	}
	return "otlp2parquet"
}

func newRESTCatalog(ctx context.Context, cfg config.Config) (icebergcatalog.Catalog, error) {
	return catalog.NewRESTCatalog(ctx, cfg.Catalog.Endpoint, catalogName(cfg), catalogOptions(cfg)...)
}

func newBootstrapClient(cfg config.Config) *catalog.BootstrapClient {
	return catalog.NewBootstrapClient(cfg.Catalog.Endpoint, cfg.Catalog.Prefix, catalogOptions(cfg)...)
}
