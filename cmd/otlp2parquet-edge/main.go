// Command edge runs the edge runtime profile: one
// durable-object-style batcher per (signal_key, service_name) identity,
// accumulating Arrow IPC blobs in SQLite and flushing to the Parquet sink
// on a size/row/age threshold, handing receipts to a remote server
// profile's receipt bus over HTTP.
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

	"github.com/smithclay/otlp2parquet-go/internal/config"
	"github.com/smithclay/otlp2parquet-go/internal/dlq"
	"github.com/smithclay/otlp2parquet-go/internal/httpapi"
	"github.com/smithclay/otlp2parquet-go/internal/obs"
	"github.com/smithclay/otlp2parquet-go/internal/receipt"
	"github.com/smithclay/otlp2parquet-go/internal/sink"
	"github.com/smithclay/otlp2parquet-go/internal/storage"
)

func main() {
	tomlPath := flag.String("config", "", "path to a TOML config file")
	envPath := flag.String("env", "", "path to a .env file loaded ahead of the real environment")
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

	dlqWriter := dlq.NewWriter(bucket, cfg.Storage.Prefix)

	var receiptClient *receipt.Client
	if cfg.Edge.ReceiptBusURL != "" {
		receiptClient = receipt.NewClient(cfg.Edge.ReceiptBusURL)
	} else {
		level.Info(logger).Log("msg", "edge.receipt_bus_url not set; flushed files will not be registered with a catalog")
	}

	edge := httpapi.NewEdgeIngester(cfg.Edge.StateDir, sk, dlqWriter, receiptClient, cfg.Batch, logger)
	defer edge.Close()

	srv := httpapi.New(cfg, httpapi.EdgeDirectIngester{Edge: edge}, logger)
	srv.Edge = edge

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go edge.Run(ctx, cfg.Edge.AlarmInterval)

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: srv.Router()}
	go func() {
		level.Info(logger).Log("msg", "edge worker listening", "addr", cfg.ListenAddr)
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
}
