// Command otlp2parquet-function runs the stateless runtime profile: every
// ingest writes its own Parquet file immediately through the sink, with
// no batching and no durable actor state. Intended for FaaS platforms
// (e.g. AWS Lambda behind an HTTP adapter, Cloudflare Workers via the same
// binary's net/http server in front of a compatible runtime) where each
// invocation is independent and short-lived.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/go-kit/log/level"

	"github.com/smithclay/otlp2parquet-go/internal/catalog"
	"github.com/smithclay/otlp2parquet-go/internal/config"
	"github.com/smithclay/otlp2parquet-go/internal/httpapi"
	"github.com/smithclay/otlp2parquet-go/internal/obs"
	"github.com/smithclay/otlp2parquet-go/internal/receipt"
	"github.com/smithclay/otlp2parquet-go/internal/sink"
	"github.com/smithclay/otlp2parquet-go/internal/storage"
)

func main() {
	tomlPath := flag.String("config", "", "path to a TOML config file")
	envPath := flag.String("env", "", "path to a .env file loaded ahead of the real environment")
	receiptDBPath := flag.String("receipt-db", "", "optional path to a local SQLite receipt store (enables catalog sync for this instance)")
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

	var receipts receipt.Store
	if *receiptDBPath != "" {
		store, err := receipt.OpenSQLStore(*receiptDBPath)
		if err != nil {
			level.Error(logger).Log("msg", "receipt store init failed", "err", err)
			os.Exit(1)
		}
		defer store.Close()
		receipts = store
	}

	srv := httpapi.New(cfg, httpapi.DirectIngester{Sink: sk, Receipts: receipts, Logger: logger}, logger)
	srv.Receipts = receipts

	if receipts != nil && cfg.Catalog.Mode == config.CatalogModeIceberg {
		var opts []catalog.ClientOption
		if cfg.Catalog.AWSSigV4 {
			opts = append(opts, catalog.WithSigV4(cfg.Storage.AccessKeyID, cfg.Storage.SecretAccessKey, cfg.Catalog.AWSRegion))
		} else if cfg.Catalog.BearerToken != "" {
			opts = append(opts, catalog.WithBearerToken(cfg.Catalog.BearerToken))
		}
		catalogName := cfg.Catalog.Prefix
		if catalogName == "" {
			catalogName = "otlp2parquet"
		}
		ctlg, err := catalog.NewRESTCatalog(context.Background(), cfg.Catalog.Endpoint, catalogName, opts...)
		if err != nil {
			level.Error(logger).Log("msg", "catalog init failed", "err", err)
			os.Exit(1)
		}
		bootstrap := catalog.NewBootstrapClient(cfg.Catalog.Endpoint, cfg.Catalog.Prefix, opts...)
		srv.Catalog = catalog.NewPipeline(bucket, ctlg, bootstrap, receipts, cfg.Catalog.Namespace, cfg.Catalog.TableNames, cfg.Catalog.MaxCatalogRetries, logger)
	}

	level.Info(logger).Log("msg", "function handler listening", "addr", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, srv.Router()); err != nil {
		level.Error(logger).Log("msg", "http server failed", "err", err)
		os.Exit(1)
	}
}
