package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	iceberg "github.com/polarsignals/iceberg-go"
	icebergcatalog "github.com/polarsignals/iceberg-go/catalog"
	"github.com/polarsignals/iceberg-go/table"
	"github.com/thanos-io/objstore"
	"golang.org/x/sync/errgroup"

	"github.com/smithclay/otlp2parquet-go/internal/arrowschema"
	"github.com/smithclay/otlp2parquet-go/internal/receipt"
	"github.com/smithclay/otlp2parquet-go/internal/signalkey"
)

// receiptMarkConcurrency bounds the parallel fan-out when marking a
// table's committed receipts.
const receiptMarkConcurrency = 16

// writerOptions are the Iceberg writer defaults for every commit: an 8MiB
// manifest target, schema widening tolerance across catalog versions, and
// metadata/snapshot expiry so the table's metadata.json doesn't grow
// without bound across repeated sync cycles.
var writerOptions = []table.WriterOption{
	table.WithManifestSizeBytes(8 * 1024 * 1024),
	table.WithMergeSchema(),
	table.WithExpireSnapshotsOlderThan(6 * time.Hour),
	table.WithMetadataDeleteAfterCommit(),
	table.WithMetadataPreviousVersionsMax(3),
}

// Pipeline is the commit reconciler: it lists uncommitted receipts, groups them by table,
// and appends each receipted Parquet file to an iceberg-go
// table.SnapshotWriter, which owns manifest encoding and atomic snapshot
// commit. Each failure increments the affected receipt's retry_count and
// leaves it pending for the next sync; once the count reaches
// MaxCatalogRetries, or at once when object storage reports the file
// NotFound, the receipt is moved to the dead-letter namespace.
type Pipeline struct {
	bucket            objstore.Bucket
	catalog           icebergcatalog.Catalog
	bootstrap         *BootstrapClient
	receipts          receipt.Store
	namespace         string
	tableNames        map[string]string
	maxCatalogRetries int
	logger            log.Logger
}

func NewPipeline(bucket objstore.Bucket, ctlg icebergcatalog.Catalog, bootstrap *BootstrapClient, receipts receipt.Store, namespace string, tableNames map[string]string, maxCatalogRetries int, logger log.Logger) *Pipeline {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if maxCatalogRetries <= 0 {
		maxCatalogRetries = 5
	}
	return &Pipeline{
		bucket:            bucket,
		catalog:           ctlg,
		bootstrap:         bootstrap,
		receipts:          receipts,
		namespace:         namespace,
		tableNames:        tableNames,
		maxCatalogRetries: maxCatalogRetries,
		logger:            logger,
	}
}

// TableOutcome is one table's result in a sync cycle's report.
type TableOutcome struct {
	Table   string `json:"table"`
	Files   int    `json:"files"`
	Rows    int64  `json:"rows"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Report summarizes one sync cycle, per-table.
type Report struct {
	Namespace string         `json:"namespace"`
	Tables    []TableOutcome `json:"tables"`
}

// Sync runs one commit cycle: list uncommitted receipts, dedup by path,
// group by table, and commit each table's batch (List/Dedup/Group
// phases). Tables commit serially; the returned report carries every
// table's outcome even when some fail.
func (p *Pipeline) Sync(ctx context.Context) (Report, error) {
	report := Report{Namespace: p.namespace}
	pending, err := p.receipts.List(ctx, true)
	if err != nil {
		return report, fmt.Errorf("catalog: list pending receipts: %w", err)
	}
	if len(pending) == 0 {
		return report, nil
	}

	kept, duplicates := dedupByPath(pending)
	for _, dup := range duplicates {
		// A duplicate path means the same Parquet file was receipted
		// twice (e.g. a batcher retried a receipt after the first
		// actually succeeded); the commit target is already covered by
		// the kept receipt, so this one is just a no-op delete.
		if err := p.receipts.Delete(ctx, dup.Key); err != nil {
			level.Error(p.logger).Log("msg", "delete duplicate receipt failed", "key", dup.Key, "path", dup.Path, "err", err)
		}
	}

	groups := groupByTable(kept, p.tableNames)
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	var firstErr error
	for _, name := range names {
		files, rows, err := p.commitTable(ctx, name, groups[name])
		outcome := TableOutcome{Table: name, Files: files, Rows: rows, Success: err == nil}
		if err != nil {
			outcome.Error = err.Error()
			level.Error(p.logger).Log("msg", "commit failed", "table", name, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
		report.Tables = append(report.Tables, outcome)
	}
	return report, firstErr
}

// dedupByPath keeps the first-seen receipt per Parquet path (by
// created_at_ms, already the List ordering) and returns the rest as
// duplicates for no-op cleanup.
func dedupByPath(receipts []receipt.Receipt) (kept, duplicates []receipt.Receipt) {
	seen := make(map[string]bool, len(receipts))
	kept = make([]receipt.Receipt, 0, len(receipts))
	for _, r := range receipts {
		if seen[r.Path] {
			duplicates = append(duplicates, r)
			continue
		}
		seen[r.Path] = true
		kept = append(kept, r)
	}
	return kept, duplicates
}

func groupByTable(receipts []receipt.Receipt, overrides map[string]string) map[string][]receipt.Receipt {
	groups := make(map[string][]receipt.Receipt)
	for _, r := range receipts {
		table := r.SignalKey
		if key, err := signalkey.Parse(r.SignalKey); err == nil {
			table = key.TableName()
		}
		if overrides != nil {
			if override, ok := overrides[r.SignalKey]; ok {
				table = override
			}
		}
		groups[table] = append(groups[table], r)
	}
	return groups
}

// commitTable downloads every receipted Parquet file for table, ensures
// the table exists (creating it if not, from the registered Arrow schema
// of the receipts' signal key; the files' own schemas are not read),
// and appends every file through a single SnapshotWriter so the whole
// batch lands in one snapshot. The writer's Close is what actually
// commits the new snapshot to the catalog. Returns the committed file and
// row counts for the sync report.
func (p *Pipeline) commitTable(ctx context.Context, tableName string, receipts []receipt.Receipt) (files int, rows int64, err error) {
	sort.Slice(receipts, func(i, j int) bool { return receipts[i].CreatedAtMS < receipts[j].CreatedAtMS })

	var t table.Table
	var writer table.SnapshotWriter
	committable := make([]receipt.Receipt, 0, len(receipts))

	for _, r := range receipts {
		data, err := p.download(ctx, r.Path)
		if err != nil {
			if err := p.handleCommitFailure(ctx, r, "download parquet for commit failed", err); err != nil {
				return 0, 0, err
			}
			continue
		}
		if t == nil {
			t, err = p.ensureTable(ctx, tableName, r.SignalKey, data)
			if err != nil {
				return 0, 0, fmt.Errorf("catalog: ensure table %s: %w", tableName, err)
			}
			writer, err = t.SnapshotWriter(writerOptions...)
			if err != nil {
				return 0, 0, fmt.Errorf("catalog: open snapshot writer for %s: %w", tableName, err)
			}
		}
		if _, err := Inspect(data, r.Path); err != nil {
			if err := p.handleCommitFailure(ctx, r, "footer inspection failed", err); err != nil {
				return 0, 0, err
			}
			continue
		}
		if err := writer.Append(ctx, bytes.NewReader(data)); err != nil {
			if err := p.handleCommitFailure(ctx, r, "append data file failed", err); err != nil {
				return 0, 0, err
			}
			continue
		}
		committable = append(committable, r)
	}
	if len(committable) == 0 {
		return 0, 0, nil
	}

	if err := writer.Close(ctx); err != nil {
		for _, r := range committable {
			if rerr := p.handleCommitFailure(ctx, r, "commit snapshot failed", err); rerr != nil {
				return 0, 0, rerr
			}
		}
		return 0, 0, fmt.Errorf("catalog: commit snapshot for %s: %w", tableName, err)
	}

	snapshotTS := nowMS()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(receiptMarkConcurrency)
	for _, r := range committable {
		r := r
		g.Go(func() error {
			if err := p.receipts.MarkCommitted(gctx, r.Key, snapshotTS); err != nil {
				return fmt.Errorf("catalog: mark committed %s: %w", r.Key, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}
	for _, r := range committable {
		rows += r.Rows
	}
	return len(committable), rows, nil
}

// handleCommitFailure implements retry/DLQ split: a NotFound from
// object storage (the file was deleted out of band) bypasses retries and
// escalates straight to the dead-letter namespace; anything else is a
// retryable failure that only escalates once retry_count reaches
// MaxCatalogRetries.
func (p *Pipeline) handleCommitFailure(ctx context.Context, r receipt.Receipt, msg string, cause error) error {
	level.Error(p.logger).Log("msg", msg, "path", r.Path, "key", r.Key, "err", cause)

	if p.bucket.IsObjNotFoundErr(cause) {
		level.Error(p.logger).Log("msg", "receipt file not found, moving to dead letter", "key", r.Key, "path", r.Path)
		return p.receipts.MarkDead(ctx, r.Key)
	}

	n, err := p.receipts.IncrementRetry(ctx, r.Key)
	if err != nil {
		return fmt.Errorf("catalog: increment retry for %s: %w", r.Key, err)
	}
	if n >= p.maxCatalogRetries {
		level.Error(p.logger).Log("msg", "receipt exceeded max catalog retries, moving to dead letter", "key", r.Key, "path", r.Path, "retries", n)
		return p.receipts.MarkDead(ctx, r.Key)
	}
	return nil
}

// ensureTable loads tableName from the catalog, creating it (and its
// namespace) if it doesn't exist yet, from arrowschema.SchemaFor(signalKey)
// and a default year/month/day/hour partition spec over its "timestamp"
// column. firstFileData is not read: the Parquet file's own schema plays
// no part in the new table's schema.
func (p *Pipeline) ensureTable(ctx context.Context, tableName, signalKey string, firstFileData []byte) (table.Table, error) {
	path := []string{p.namespace, tableName}
	t, err := p.catalog.LoadTable(ctx, path, iceberg.Properties{})
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, icebergcatalog.ErrorTableNotFound) {
		return nil, err
	}

	key, err := signalkey.Parse(signalKey)
	if err != nil {
		return nil, fmt.Errorf("parse signal key %q: %w", signalKey, err)
	}
	schema := arrowschema.SchemaFor(key)
	icebergSchema, err := IcebergSchema(schema)
	if err != nil {
		return nil, fmt.Errorf("derive iceberg schema: %w", err)
	}

	var spec iceberg.PartitionSpec
	if idx := schema.FieldIndices("timestamp"); len(idx) > 0 {
		if id, ok := arrowschema.FieldID(schema.Field(idx[0])); ok {
			spec = BuildHourlyPartitionSpec(id)
		}
	}

	if p.bootstrap != nil {
		if err := p.bootstrap.EnsureNamespace(ctx, p.namespace); err != nil {
			level.Debug(p.logger).Log("msg", "ensure namespace (tolerating already-exists)", "namespace", p.namespace, "err", err)
		}
	}
	t, err = p.catalog.CreateTable(ctx, path, icebergSchema, iceberg.Properties{}, icebergcatalog.WithPartitionSpec(spec))
	if err != nil && strings.Contains(err.Error(), "redundant partition") {
		// Some catalogs reject re-registration of an existing spec with a
		// "redundant partition" diagnostic; retry once without it. Substring
		// matching is brittle but no REST catalog client exposes a typed
		// error for this yet.
		level.Warn(p.logger).Log("msg", "catalog rejected partition spec as redundant, retrying without", "table", tableName)
		return p.catalog.CreateTable(ctx, path, icebergSchema, iceberg.Properties{})
	}
	return t, err
}

func (p *Pipeline) download(ctx context.Context, path string) ([]byte, error) {
	rc, err := p.bucket.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("catalog: download %s: %w", path, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return data, nil
}

func nowMS() int64 { return time.Now().UnixMilli() }
