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

package table

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/lakehouse-go/dv"
	"github.com/lakehouse-go/dv/bitmap"
	"github.com/lakehouse-go/dv/internal"
	"github.com/lakehouse-go/dv/store"
)

const (
	OpWrite    = "WRITE"
	OpDelete   = "DELETE"
	OpMerge    = "MERGE"
	OpSetProps = "SET TBLPROPERTIES"
)

// Transaction stages actions against the snapshot it was created from
// and commits them as the next version. A Transaction may be used from
// several goroutines but commits at most once.
type Transaction struct {
	tbl  *Table
	base *Snapshot

	actions  []dv.Action
	current  map[string]dv.AddFile
	metadata *dv.Metadata

	operation   string
	filesAdded  int
	dvsWritten  int
	inlined     int
	rowsDeleted int64

	mx        sync.Mutex
	committed bool
}

// file returns the entry for path as staged in this transaction, falling
// back to the base snapshot.
func (t *Transaction) file(path string) (dv.AddFile, bool) {
	if f, ok := t.current[path]; ok {
		return f, true
	}

	return t.base.File(path)
}

func (t *Transaction) properties() dv.Properties {
	if t.metadata != nil {
		return t.metadata.Configuration
	}

	return t.base.Properties()
}

func (t *Transaction) setOperation(op string) {
	switch t.operation {
	case "", op:
		t.operation = op
	default:
		t.operation = OpMerge
	}
}

func (t *Transaction) checkOpen() error {
	if t.committed {
		return ErrTransactionClosed
	}

	return nil
}

// SetProperties merges props into the table configuration.
func (t *Transaction) SetProperties(props dv.Properties) error {
	t.mx.Lock()
	defer t.mx.Unlock()

	if err := t.checkOpen(); err != nil {
		return err
	}
	if len(props) == 0 {
		return nil
	}

	merged := maps.Clone(t.properties())
	if merged == nil {
		merged = dv.Properties{}
	}
	maps.Copy(merged, props)
	if err := validateProperties(merged); err != nil {
		return err
	}

	meta := *t.base.Metadata()
	if t.metadata != nil {
		meta = *t.metadata
	}
	meta.Configuration = merged
	t.metadata = &meta
	t.actions = append(t.actions, dv.Action{Metadata: &meta})
	t.setOperation(OpSetProps)

	return nil
}

// AddFiles stages data files that already exist in storage.
func (t *Transaction) AddFiles(files ...dv.AddFile) error {
	t.mx.Lock()
	defer t.mx.Unlock()

	if err := t.checkOpen(); err != nil {
		return err
	}

	return t.addFiles(files)
}

func (t *Transaction) addFiles(files []dv.AddFile) error {
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		if _, ok := t.file(f.Path); ok {
			return fmt.Errorf("%w: %s", ErrFileExists, f.Path)
		}
		if _, ok := seen[f.Path]; ok {
			return fmt.Errorf("%w: %s is added twice", ErrFileExists, f.Path)
		}
		seen[f.Path] = struct{}{}
	}

	for _, f := range files {
		f.DataChange = true
		t.actions = append(t.actions, dv.Action{Add: &f})
		t.current[f.Path] = f
	}
	t.filesAdded += len(files)
	if len(files) > 0 {
		t.setOperation(OpWrite)
	}

	return nil
}

// Append writes every non-empty record to its own parquet data file and
// stages the files.
func (t *Transaction) Append(ctx context.Context, records ...arrow.Record) error {
	t.mx.Lock()
	defer t.mx.Unlock()

	if err := t.checkOpen(); err != nil {
		return err
	}

	props := t.properties()
	wprops, err := parquetWriteProperties(props)
	if err != nil {
		return err
	}
	locs, err := LoadLocationProvider(t.tbl.root, props)
	if err != nil {
		return err
	}

	files := make([]dv.AddFile, 0, len(records))
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rec.NumRows() == 0 {
			continue
		}

		name, err := newDataFileName()
		if err != nil {
			return err
		}

		loc := locs.NewDataLocation(name)
		add, err := writeDataFile(t.tbl.fs, loc, rec, wprops)
		if err != nil {
			return fmt.Errorf("write data file %s: %w", loc, err)
		}
		add.Path = relativePath(t.tbl.root, loc)
		files = append(files, add)

		t.tbl.opts.logger.Debug("wrote data file", "path", loc, "rows", rec.NumRows(), "size", add.Size)
	}

	return t.addFiles(files)
}

type pendingDelete struct {
	file    dv.AddFile
	rows    *bitmap.RoaringBitmapArray
	last    uint64
	added   int64
	payload []byte
}

func (p *pendingDelete) cardinality() int64 { return int64(p.rows.Cardinality()) }

// DeleteRows marks rows of data files deleted. Keys are data file paths
// as recorded in the log; empty row sets are skipped. Rows already
// deleted by an existing deletion vector stay deleted.
//
// All on-disk vectors of one call are written to a single new file. The
// action pairs are staged only once that file has been closed.
func (t *Transaction) DeleteRows(ctx context.Context, deletes map[string]*bitmap.RoaringBitmapArray) error {
	t.mx.Lock()
	defer t.mx.Unlock()

	if err := t.checkOpen(); err != nil {
		return err
	}

	props := t.properties()
	format, err := bitmap.ParseFormat(props.Get(DeletionVectorsFormatKey, DeletionVectorsFormatDefault))
	if err != nil {
		return err
	}

	pending := make([]pendingDelete, 0, len(deletes))
	for _, path := range internal.SortedKeys(deletes) {
		rows := deletes[path]
		if rows == nil || rows.IsEmpty() {
			continue
		}

		file, ok := t.file(path)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoSuchFile, path)
		}
		if !props.GetBool(DeletionVectorsEnabledKey, DeletionVectorsEnabledDefault) {
			return fmt.Errorf("%w: cannot delete rows of %s", ErrDeletionVectorsDisabled, path)
		}

		p, err := t.prepareDelete(ctx, file, rows, format)
		if err != nil {
			return err
		}
		pending = append(pending, p)
	}

	if len(pending) == 0 {
		return nil
	}

	threshold := int64(props.GetInt(InlineThresholdBytesKey, InlineThresholdBytesDefault))
	descriptors, err := t.writeDeletionVectors(ctx, pending, threshold)
	if err != nil {
		return err
	}

	now := time.Now()
	staged := make([]dv.Action, 0, 2*len(pending))
	for i, p := range pending {
		add, remove, err := dv.RemoveRowsAt(p.file, descriptors[i], now)
		if err != nil {
			return err
		}
		staged = append(staged, dv.Action{Remove: &remove}, dv.Action{Add: &add})
	}

	for i, p := range pending {
		t.current[p.file.Path] = *staged[2*i+1].Add
		t.rowsDeleted += p.added
		if descriptors[i].IsInline() {
			t.inlined++
		}
	}
	t.actions = append(t.actions, staged...)
	t.dvsWritten += len(pending)
	t.setOperation(OpDelete)

	return nil
}

func (t *Transaction) prepareDelete(ctx context.Context, file dv.AddFile, rows *bitmap.RoaringBitmapArray, format bitmap.Format) (pendingDelete, error) {
	merged := rows.Clone()
	var before int64
	if file.DeletionVector != nil {
		existing, err := file.DeletionVector.Load(ctx, t.tbl.store, t.tbl.root)
		if err != nil {
			return pendingDelete{}, fmt.Errorf("load deletion vector of %s: %w", file.Path, err)
		}
		merged.Or(existing)
		before = file.DeletionVector.Cardinality
	}

	last, _ := merged.Last()
	if n, ok := file.NumPhysicalRecords(); ok && last >= uint64(n) {
		return pendingDelete{}, fmt.Errorf("%w: row %d is beyond the %d rows of %s",
			bitmap.ErrInvalidRange, last, n, file.Path)
	}

	payload, err := merged.Serialize(format)
	if err != nil {
		return pendingDelete{}, err
	}

	return pendingDelete{
		file:    file,
		rows:    merged,
		last:    last,
		added:   int64(merged.Cardinality()) - before,
		payload: payload,
	}, nil
}

// writeDeletionVectors returns one descriptor per pending delete. The
// shared file is closed before this returns, on every path.
func (t *Transaction) writeDeletionVectors(ctx context.Context, pending []pendingDelete, threshold int64) (_ []dv.DeletionVectorDescriptor, err error) {
	out := make([]dv.DeletionVectorDescriptor, len(pending))
	onDisk := make([]int, 0, len(pending))
	for i := range pending {
		p := &pending[i]
		if int64(len(p.payload)) <= threshold {
			maxRow := int64(p.last)
			out[i] = dv.NewInlineDescriptor(p.payload, p.cardinality(), &maxRow)
			continue
		}
		onDisk = append(onDisk, i)
	}

	if len(onDisk) == 0 {
		return out, nil
	}

	st := t.tbl.store
	fp, err := st.NewDeletionVectorPath(t.tbl.root)
	if err != nil {
		return nil, err
	}

	w, err := st.CreateWriter(ctx, fp.Path)
	if err != nil {
		return nil, err
	}
	defer internal.CheckedClose(w, &err)

	for _, i := range onDisk {
		p := &pending[i]
		rng, err := w.Write(p.payload)
		if err != nil {
			return nil, fmt.Errorf("write deletion vector of %s: %w", p.file.Path, err)
		}

		maxRow := int64(p.last)
		switch st.Layout() {
		case store.Puffin:
			out[i] = dv.NewAbsoluteDescriptor(fp.Path, rng, p.cardinality(), &maxRow)
		default:
			out[i] = dv.NewRelativeDescriptor(fp.ID, fp.Prefix, rng, p.cardinality(), &maxRow)
		}
	}

	return out, nil
}

// Commit writes the staged actions and a commit info record as the
// version after the base snapshot. Nothing is retried: a concurrent
// commit of the same version fails with ErrCommitConflict.
func (t *Transaction) Commit(ctx context.Context) (*Table, error) {
	t.mx.Lock()
	defer t.mx.Unlock()

	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	t.committed = true

	if len(t.actions) == 0 {
		return t.tbl, nil
	}

	readVersion := t.base.Version()
	version := readVersion + 1
	blindAppend := t.operation == OpWrite
	info := &dv.CommitInfo{
		Timestamp: time.Now().UnixMilli(),
		Operation: t.operation,
		OperationMetrics: map[string]string{
			"numAddedFiles":            strconv.Itoa(t.filesAdded),
			"numDeletionVectors":       strconv.Itoa(t.dvsWritten),
			"numInlineDeletionVectors": strconv.Itoa(t.inlined),
			"numDeletedRows":           strconv.FormatInt(t.rowsDeleted, 10),
		},
		EngineInfo:    dv.EngineInfo(),
		ReadVersion:   &readVersion,
		IsBlindAppend: &blindAppend,
	}
	actions := append(slices.Clone(t.actions), dv.Action{CommitInfo: info})

	m, logger := t.tbl.opts.metrics, t.tbl.opts.logger
	err := t.tbl.log.Commit(ctx, version, actions)
	m.RecordCommit(err)
	if err != nil {
		return nil, fmt.Errorf("commit version %d of %s: %w", version, t.tbl.root, err)
	}

	m.RowsDeleted.Add(float64(t.rowsDeleted))
	m.InlineDVs.Add(float64(t.inlined))
	logger.Debug("committed", "root", t.tbl.root, "version", version,
		"operation", t.operation, "actions", len(actions))

	snap, err := t.base.next(version, actions)
	if err != nil {
		return nil, err
	}
	tbl, err := newTable(t.tbl.root, t.tbl.fs, t.tbl.opts, snap)
	if err != nil {
		return nil, err
	}

	interval := tbl.Properties().GetInt(CheckpointIntervalKey, CheckpointIntervalDefault)
	if interval > 0 && version%int64(interval) == 0 {
		if err := tbl.Checkpoint(ctx); err != nil {
			logger.Warn("checkpoint failed", "root", t.tbl.root, "version", version, "error", err)
		}
	}

	return tbl, nil
}
