// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

// Package table ties deletion vectors to a table: a transaction log of
// data file actions, snapshots replayed from it, and transactions that
// append data files or mark their rows deleted.
package table

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/google/uuid"
	"github.com/lakehouse-go/dv"
	"github.com/lakehouse-go/dv/bitmap"
	"github.com/lakehouse-go/dv/config"
	"github.com/lakehouse-go/dv/internal/metrics"
	dvio "github.com/lakehouse-go/dv/io"
	"github.com/lakehouse-go/dv/store"
	"github.com/lakehouse-go/dv/utils"
)

type options struct {
	log        Log
	ioProps    map[string]string
	logger     *slog.Logger
	metrics    *metrics.Registry
	maxWorkers int
}

type Option func(*options)

// WithLog sets the transaction log. The default is an FSLog under the
// table root.
func WithLog(log Log) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithIOProperties passes s3., gcs. and adls. properties to the file IO.
func WithIOProperties(props map[string]string) Option {
	return func(o *options) {
		o.ioProps = props
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(reg *metrics.Registry) Option {
	return func(o *options) {
		if reg != nil {
			o.metrics = reg
		}
	}
}

// WithMaxWorkers bounds the concurrency of VerifyDeletionVectors. The
// default is the max-workers setting of the config file.
func WithMaxWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxWorkers = n
		}
	}
}

// Table is an immutable view of a table at one snapshot. Operations that
// commit return a new Table.
type Table struct {
	root     string
	fs       dvio.WriteFileIO
	log      Log
	store    *store.Store
	snapshot *Snapshot
	opts     options
}

func resolveOptions(ctx context.Context, root string, opts []Option) (options, dvio.WriteFileIO, error) {
	o := options{
		logger:     utils.Logger(ctx),
		metrics:    metrics.DefaultRegistry(),
		maxWorkers: config.EnvConfig.MaxWorkers,
	}
	for _, opt := range opts {
		opt(&o)
	}

	fsys, err := dvio.LoadWrite(ctx, o.ioProps, root)
	if err != nil {
		return o, nil, err
	}
	if o.log == nil {
		o.log = NewFSLog(fsys, root)
	}

	return o, fsys, nil
}

func validateProperties(props dv.Properties) error {
	if _, err := store.ParseLayout(props.Get(DeletionVectorsLayoutKey, DeletionVectorsLayoutDefault)); err != nil {
		return fmt.Errorf("%w: %s: %v", dv.ErrInvalidArgument, DeletionVectorsLayoutKey, err)
	}
	if _, err := bitmap.ParseFormat(props.Get(DeletionVectorsFormatKey, DeletionVectorsFormatDefault)); err != nil {
		return fmt.Errorf("%w: %s: %v", dv.ErrInvalidArgument, DeletionVectorsFormatKey, err)
	}
	if n := props.GetInt(RandomPrefixLengthKey, RandomPrefixLengthDefault); n < 0 {
		return fmt.Errorf("%w: %s must not be negative", dv.ErrInvalidArgument, RandomPrefixLengthKey)
	}

	_, err := parquetWriteProperties(props)

	return err
}

// Create commits version 0 of a new table at root.
func Create(ctx context.Context, root string, schema *arrow.Schema, props dv.Properties, opts ...Option) (*Table, error) {
	root = strings.TrimSuffix(root, "/")
	if err := validateProperties(props); err != nil {
		return nil, err
	}

	o, fsys, err := resolveOptions(ctx, root, opts)
	if err != nil {
		return nil, err
	}

	_, err = o.log.LatestVersion(ctx)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %s", ErrTableExists, root)
	case !errors.Is(err, ErrNoSuchTable):
		return nil, err
	}

	sc, err := schemaString(schema)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	meta := &dv.Metadata{
		ID:               uuid.NewString(),
		Format:           dv.Format{Provider: "parquet"},
		SchemaString:     sc,
		PartitionColumns: []string{},
		Configuration:    props,
		CreatedTime:      &now,
	}

	actions := []dv.Action{
		{Protocol: dv.NewProtocol()},
		{Metadata: meta},
		{CommitInfo: &dv.CommitInfo{
			Timestamp:  now,
			Operation:  "CREATE TABLE",
			EngineInfo: dv.EngineInfo(),
		}},
	}

	err = o.log.Commit(ctx, 0, actions)
	o.metrics.RecordCommit(err)
	if errors.Is(err, ErrCommitConflict) {
		return nil, fmt.Errorf("%w: %s", ErrTableExists, root)
	}
	if err != nil {
		return nil, err
	}

	o.logger.Debug("created table", "root", root, "id", meta.ID)

	return open(ctx, root, fsys, o, 0)
}

// Load opens the latest version of the table at root.
func Load(ctx context.Context, root string, opts ...Option) (*Table, error) {
	root = strings.TrimSuffix(root, "/")
	o, fsys, err := resolveOptions(ctx, root, opts)
	if err != nil {
		return nil, err
	}

	version, err := o.log.LatestVersion(ctx)
	if err != nil {
		return nil, err
	}

	return open(ctx, root, fsys, o, version)
}

// LoadVersion opens the table as of version.
func LoadVersion(ctx context.Context, root string, version int64, opts ...Option) (*Table, error) {
	root = strings.TrimSuffix(root, "/")
	o, fsys, err := resolveOptions(ctx, root, opts)
	if err != nil {
		return nil, err
	}

	return open(ctx, root, fsys, o, version)
}

func open(ctx context.Context, root string, fsys dvio.WriteFileIO, o options, version int64) (*Table, error) {
	snap, err := loadSnapshot(ctx, o.log, version)
	if err != nil {
		return nil, err
	}

	return newTable(root, fsys, o, snap)
}

func newTable(root string, fsys dvio.WriteFileIO, o options, snap *Snapshot) (*Table, error) {
	if !snap.Protocol().SupportsDeletionVectors() {
		return nil, fmt.Errorf("%w: %s does not declare the %s feature",
			dv.ErrInvalidArgument, root, dv.FeatureDeletionVectors)
	}

	props := snap.Properties()
	layout, err := store.ParseLayout(props.Get(DeletionVectorsLayoutKey, DeletionVectorsLayoutDefault))
	if err != nil {
		return nil, err
	}

	st := store.New(fsys,
		store.WithLayout(layout),
		store.WithRandomPrefixLength(props.GetInt(RandomPrefixLengthKey, RandomPrefixLengthDefault)),
		store.WithLogger(o.logger),
		store.WithMetrics(o.metrics),
		store.WithCreatedBy(dv.EngineInfo()))

	return &Table{
		root:     root,
		fs:       fsys,
		log:      o.log,
		store:    st,
		snapshot: snap,
		opts:     o,
	}, nil
}

func (t *Table) Location() string { return t.root }
func (t *Table) Snapshot() *Snapshot { return t.snapshot }
func (t *Table) Version() int64 { return t.snapshot.Version() }
func (t *Table) Metadata() *dv.Metadata { return t.snapshot.Metadata() }
func (t *Table) Properties() dv.Properties { return t.snapshot.Properties() }
func (t *Table) Store() *store.Store { return t.store }
func (t *Table) FS() dvio.WriteFileIO { return t.fs }
func (t *Table) Log() Log { return t.log }
func (t *Table) Logger() *slog.Logger { return t.opts.logger }

// DataFilePath resolves the recorded path of a data file against the
// table root.
func (t *Table) DataFilePath(f dv.AddFile) string {
	return resolvePath(t.root, f.Path)
}

// Refresh returns the table at the latest committed version.
func (t *Table) Refresh(ctx context.Context) (*Table, error) {
	version, err := t.log.LatestVersion(ctx)
	if err != nil {
		return nil, err
	}
	if version == t.Version() {
		return t, nil
	}

	return open(ctx, t.root, t.fs, t.opts, version)
}

func (t *Table) NewTransaction() *Transaction {
	return &Transaction{
		tbl:     t,
		base:    t.snapshot,
		current: make(map[string]dv.AddFile),
	}
}

// AppendRecords writes each record to a new parquet data file and
// commits them in one version.
func (t *Table) AppendRecords(ctx context.Context, records ...arrow.Record) (*Table, error) {
	txn := t.NewTransaction()
	if err := txn.Append(ctx, records...); err != nil {
		return nil, err
	}

	return txn.Commit(ctx)
}

// DeleteRows marks rows of the given data files deleted and commits.
// Keys are data file paths as recorded in the log.
func (t *Table) DeleteRows(ctx context.Context, deletes map[string]*bitmap.RoaringBitmapArray) (*Table, error) {
	txn := t.NewTransaction()
	if err := txn.DeleteRows(ctx, deletes); err != nil {
		return nil, err
	}

	return txn.Commit(ctx)
}

// Checkpoint writes a checkpoint of the current snapshot. It is a no-op
// for logs that do not keep checkpoints.
func (t *Table) Checkpoint(ctx context.Context) error {
	cpr, ok := t.log.(Checkpointer)
	if !ok {
		return nil
	}

	if err := cpr.WriteCheckpoint(ctx, t.snapshot.checkpoint()); err != nil {
		return err
	}

	t.opts.metrics.Checkpoints.Inc()
	t.opts.logger.Debug("wrote checkpoint", "root", t.root,
		"version", t.Version(), "files", t.snapshot.NumFiles())

	return nil
}

// DeletedRows loads the deletion vector of the data file at path. Files
// without one return an empty bitmap.
func (t *Table) DeletedRows(ctx context.Context, path string) (*bitmap.RoaringBitmapArray, error) {
	f, ok := t.snapshot.File(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchFile, path)
	}
	if f.DeletionVector == nil {
		return bitmap.New(), nil
	}

	return f.DeletionVector.Load(ctx, t.store, t.root)
}
