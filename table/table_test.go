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

package table_test

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"
	"github.com/lakehouse-go/dv"
	"github.com/lakehouse-go/dv/bitmap"
	"github.com/lakehouse-go/dv/internal/metrics"
	dvio "github.com/lakehouse-go/dv/io"
	"github.com/lakehouse-go/dv/store"
	"github.com/lakehouse-go/dv/table"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSchema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
}, nil)

func makeRecord(t *testing.T, start, n int) arrow.Record {
	t.Helper()

	bldr := array.NewRecordBuilder(memory.DefaultAllocator, testSchema)
	defer bldr.Release()

	ids := bldr.Field(0).(*array.Int64Builder)
	names := bldr.Field(1).(*array.StringBuilder)
	for i := start; i < start+n; i++ {
		ids.Append(int64(i))
		if i%10 == 0 {
			names.AppendNull()
		} else {
			names.Append(fmt.Sprintf("row-%d", i))
		}
	}

	rec := bldr.NewRecord()
	t.Cleanup(rec.Release)

	return rec
}

func rowRange(t *testing.T, start, end uint64) *bitmap.RoaringBitmapArray {
	t.Helper()

	bm, err := bitmap.FromRange(start, end)
	require.NoError(t, err)

	return bm
}

func layouts() []store.Layout { return []store.Layout{store.Framed, store.Puffin} }

// newTable creates a table with one data file of 100 rows per entry of
// files.
func newTable(t *testing.T, props dv.Properties, files int, opts ...table.Option) *table.Table {
	t.Helper()

	ctx := context.Background()
	root := filepath.ToSlash(t.TempDir())
	opts = append([]table.Option{table.WithMetrics(metrics.NewRegistry())}, opts...)

	tbl, err := table.Create(ctx, root, testSchema, props, opts...)
	require.NoError(t, err)

	if files == 0 {
		return tbl
	}

	recs := make([]arrow.Record, files)
	for i := range recs {
		recs[i] = makeRecord(t, i*100, 100)
	}

	tbl, err = tbl.AppendRecords(ctx, recs...)
	require.NoError(t, err)
	require.EqualValues(t, 1, tbl.Version())

	return tbl
}

func filePaths(tbl *table.Table) []string {
	var out []string
	for f := range tbl.Snapshot().AllFiles() {
		out = append(out, f.Path)
	}

	return out
}

func fileKeys(tbl *table.Table) []dv.FileKey {
	var out []dv.FileKey
	for f := range tbl.Snapshot().AllFiles() {
		out = append(out, f.UniqueID())
	}

	return out
}

func TestCreateAndLoad(t *testing.T) {
	ctx := context.Background()
	root := filepath.ToSlash(t.TempDir())

	_, err := table.Load(ctx, root)
	assert.ErrorIs(t, err, table.ErrNoSuchTable)

	props := dv.Properties{table.DeletionVectorsLayoutKey: "puffin"}
	tbl, err := table.Create(ctx, root, testSchema, props)
	require.NoError(t, err)
	assert.Zero(t, tbl.Version())
	assert.Equal(t, root, tbl.Location())
	assert.Equal(t, "parquet", tbl.Metadata().Format.Provider)
	assert.Contains(t, tbl.Metadata().SchemaString, `"name":"id","type":"int64"`)
	assert.True(t, tbl.Snapshot().Protocol().SupportsDeletionVectors())
	assert.Equal(t, store.Puffin, tbl.Store().Layout())
	assert.Zero(t, tbl.Snapshot().NumFiles())

	_, err = table.Create(ctx, root, testSchema, nil)
	assert.ErrorIs(t, err, table.ErrTableExists)

	loaded, err := table.Load(ctx, root+"/")
	require.NoError(t, err)
	assert.Equal(t, tbl.Metadata().ID, loaded.Metadata().ID)
	assert.Equal(t, "puffin", loaded.Properties()[table.DeletionVectorsLayoutKey])
}

func TestCreateInvalidProperties(t *testing.T) {
	ctx := context.Background()

	tests := []dv.Properties{
		{table.DeletionVectorsLayoutKey: "zip"},
		{table.DeletionVectorsFormatKey: "compact"},
		{table.RandomPrefixLengthKey: "-1"},
		{table.ParquetCompressionKey: "lzo"},
	}

	for _, props := range tests {
		_, err := table.Create(ctx, filepath.ToSlash(t.TempDir()), testSchema, props)
		assert.ErrorIs(t, err, dv.ErrInvalidArgument, props)
	}
}

func TestAppendRecords(t *testing.T) {
	tbl := newTable(t, nil, 3)
	snap := tbl.Snapshot()

	assert.Equal(t, 3, snap.NumFiles())
	assert.EqualValues(t, 300, snap.NumRecords())

	for f := range snap.AllFiles() {
		assert.True(t, strings.HasPrefix(f.Path, "data/part-"), f.Path)
		assert.Nil(t, f.DeletionVector)

		n, ok := f.NumPhysicalRecords()
		require.True(t, ok)
		assert.EqualValues(t, 100, n)

		stats, err := f.ParsedStats()
		require.NoError(t, err)
		require.NotNil(t, stats.TightBounds)
		assert.True(t, *stats.TightBounds)
		assert.EqualValues(t, 10, stats.NullCount["name"])

		info, err := dvio.Stat(tbl.FS(), tbl.DataFilePath(f))
		require.NoError(t, err)
		assert.Equal(t, f.Size, info.Size())
	}

	// empty records produce no files and no commit
	empty, err := tbl.AppendRecords(context.Background(), makeRecord(t, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, tbl.Version(), empty.Version())
}

func TestDeleteRowsSingleFile(t *testing.T) {
	ctx := context.Background()

	for _, layout := range layouts() {
		t.Run(layout.String(), func(t *testing.T) {
			tbl := newTable(t, dv.Properties{table.DeletionVectorsLayoutKey: layout.String()}, 1)
			path := filePaths(tbl)[0]

			tbl, err := tbl.DeleteRows(ctx, map[string]*bitmap.RoaringBitmapArray{path: rowRange(t, 0, 10)})
			require.NoError(t, err)
			assert.EqualValues(t, 2, tbl.Version())

			f, ok := tbl.Snapshot().File(path)
			require.True(t, ok)
			require.NotNil(t, f.DeletionVector)

			desc := f.DeletionVector
			assert.EqualValues(t, 10, desc.Cardinality)
			require.NotNil(t, desc.MaxRowIndex)
			assert.EqualValues(t, 9, *desc.MaxRowIndex)
			assert.True(t, desc.IsOnDisk())
			if layout == store.Puffin {
				assert.Equal(t, dv.StoragePath, desc.StorageType())
			} else {
				assert.Equal(t, dv.StorageUUID, desc.StorageType())
			}

			n, ok := f.NumLogicalRecords()
			require.True(t, ok)
			assert.EqualValues(t, 90, n)

			stats, err := f.ParsedStats()
			require.NoError(t, err)
			assert.False(t, *stats.TightBounds)

			rows, err := tbl.DeletedRows(ctx, path)
			require.NoError(t, err)
			assert.Equal(t, rowRange(t, 0, 10).ToArray(), rows.ToArray())

			report, err := tbl.VerifyDeletionVectors(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, report.Checked)
			assert.True(t, report.OK())

			actions, err := tbl.Log().ReadVersion(ctx, 2)
			require.NoError(t, err)
			require.Len(t, actions, 3)
			require.NotNil(t, actions[0].Remove)
			assert.Nil(t, actions[0].Remove.DeletionVector)
			assert.True(t, actions[0].Remove.DataChange)
			require.NotNil(t, actions[1].Add)
			assert.True(t, actions[1].Add.DeletionVector.Equal(*desc))
			require.NotNil(t, actions[2].CommitInfo)
			assert.Equal(t, table.OpDelete, actions[2].CommitInfo.Operation)
			assert.Equal(t, "10", actions[2].CommitInfo.OperationMetrics["numDeletedRows"])
		})
	}
}

func TestDeleteRowsSharesOneFile(t *testing.T) {
	ctx := context.Background()

	for _, layout := range layouts() {
		t.Run(layout.String(), func(t *testing.T) {
			tbl := newTable(t, dv.Properties{table.DeletionVectorsLayoutKey: layout.String()}, 3)
			paths := filePaths(tbl)
			require.Len(t, paths, 3)

			deletes := make(map[string]*bitmap.RoaringBitmapArray, len(paths))
			for i, p := range paths {
				start := uint64(i * 20)
				deletes[p] = rowRange(t, start, start+10)
			}

			tbl, err := tbl.DeleteRows(ctx, deletes)
			require.NoError(t, err)

			var (
				fileIDs = map[string]struct{}{}
				lastEnd int64
			)
			for i, p := range paths {
				f, ok := tbl.Snapshot().File(p)
				require.True(t, ok)
				desc := f.DeletionVector
				require.NotNil(t, desc)
				assert.EqualValues(t, 10, desc.Cardinality)
				fileIDs[desc.UniqueFileID()] = struct{}{}

				off, ok := desc.Offset()
				require.True(t, ok)
				assert.GreaterOrEqual(t, off, lastEnd, "ranges must be disjoint and increasing")
				lastEnd = off + desc.SizeInBytes

				rows, err := tbl.DeletedRows(ctx, p)
				require.NoError(t, err)
				start := uint64(i * 20)
				assert.Equal(t, rowRange(t, start, start+10).ToArray(), rows.ToArray())
			}
			assert.Len(t, fileIDs, 1)

			report, err := tbl.VerifyDeletionVectors(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, report.Checked)
		})
	}
}

func TestDeleteSameRowsFromEveryFile(t *testing.T) {
	ctx := context.Background()

	for _, layout := range layouts() {
		t.Run(layout.String(), func(t *testing.T) {
			tbl := newTable(t, dv.Properties{table.DeletionVectorsLayoutKey: layout.String()}, 3)
			paths := filePaths(tbl)
			require.Len(t, paths, 3)

			deletes := make(map[string]*bitmap.RoaringBitmapArray, len(paths))
			for _, p := range paths {
				deletes[p] = rowRange(t, 0, 10)
			}

			tbl, err := tbl.DeleteRows(ctx, deletes)
			require.NoError(t, err)

			var (
				fileIDs = map[string]struct{}{}
				ranges  []store.ByteRange
			)
			for _, p := range paths {
				f, ok := tbl.Snapshot().File(p)
				require.True(t, ok)
				desc := f.DeletionVector
				require.NotNil(t, desc)
				assert.True(t, desc.IsOnDisk())
				assert.EqualValues(t, 10, desc.Cardinality)
				fileIDs[desc.UniqueFileID()] = struct{}{}

				off, ok := desc.Offset()
				require.True(t, ok)
				ranges = append(ranges, store.ByteRange{Offset: off, Length: desc.SizeInBytes})

				rows, err := tbl.DeletedRows(ctx, p)
				require.NoError(t, err)
				assert.Equal(t, rowRange(t, 0, 10).ToArray(), rows.ToArray())
			}
			assert.Len(t, fileIDs, 1)

			// identical payloads still get their own byte range each
			slices.SortFunc(ranges, func(a, b store.ByteRange) int { return int(a.Offset - b.Offset) })
			for i := 1; i < len(ranges); i++ {
				assert.Equal(t, ranges[0].Length, ranges[i].Length)
				assert.GreaterOrEqual(t, ranges[i].Offset, ranges[i-1].End())
			}

			report, err := tbl.VerifyDeletionVectors(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, report.Checked)
		})
	}
}

func TestDeleteRowsMergesExisting(t *testing.T) {
	ctx := context.Background()
	tbl := newTable(t, nil, 1)
	path := filePaths(tbl)[0]

	tbl, err := tbl.DeleteRows(ctx, map[string]*bitmap.RoaringBitmapArray{path: rowRange(t, 0, 10)})
	require.NoError(t, err)
	first, _ := tbl.Snapshot().File(path)

	tbl, err = tbl.DeleteRows(ctx, map[string]*bitmap.RoaringBitmapArray{path: rowRange(t, 5, 20)})
	require.NoError(t, err)

	f, ok := tbl.Snapshot().File(path)
	require.True(t, ok)
	assert.EqualValues(t, 20, f.DeletionVector.Cardinality)
	assert.False(t, f.DeletionVector.Equal(*first.DeletionVector))
	assert.Equal(t, 1, tbl.Snapshot().NumFiles())
	assert.EqualValues(t, 80, tbl.Snapshot().NumRecords())

	actions, err := tbl.Log().ReadVersion(ctx, tbl.Version())
	require.NoError(t, err)
	require.NotNil(t, actions[0].Remove)
	require.NotNil(t, actions[0].Remove.DeletionVector)
	assert.True(t, actions[0].Remove.DeletionVector.Equal(*first.DeletionVector))
	assert.Equal(t, "10", actions[2].CommitInfo.OperationMetrics["numDeletedRows"])
}

func TestDeleteRowsTwiceInOneTransaction(t *testing.T) {
	ctx := context.Background()
	tbl := newTable(t, nil, 1)
	path := filePaths(tbl)[0]

	txn := tbl.NewTransaction()
	require.NoError(t, txn.DeleteRows(ctx, map[string]*bitmap.RoaringBitmapArray{path: rowRange(t, 0, 10)}))
	require.NoError(t, txn.DeleteRows(ctx, map[string]*bitmap.RoaringBitmapArray{path: rowRange(t, 50, 60)}))

	tbl, err := txn.Commit(ctx)
	require.NoError(t, err)

	f, ok := tbl.Snapshot().File(path)
	require.True(t, ok)
	assert.EqualValues(t, 20, f.DeletionVector.Cardinality)

	reloaded, err := table.Load(ctx, tbl.Location())
	require.NoError(t, err)
	g, ok := reloaded.Snapshot().File(path)
	require.True(t, ok)
	assert.True(t, f.DeletionVector.Equal(*g.DeletionVector))
}

func TestDeleteRowsErrors(t *testing.T) {
	ctx := context.Background()
	tbl := newTable(t, nil, 1)
	path := filePaths(tbl)[0]

	_, err := tbl.DeleteRows(ctx, map[string]*bitmap.RoaringBitmapArray{"data/missing.parquet": rowRange(t, 0, 1)})
	assert.ErrorIs(t, err, table.ErrNoSuchFile)

	_, err = tbl.DeleteRows(ctx, map[string]*bitmap.RoaringBitmapArray{path: rowRange(t, 95, 101)})
	assert.ErrorIs(t, err, bitmap.ErrInvalidRange)

	same, err := tbl.DeleteRows(ctx, map[string]*bitmap.RoaringBitmapArray{path: bitmap.New(), "other": nil})
	require.NoError(t, err)
	assert.Equal(t, tbl.Version(), same.Version())

	disabled := newTable(t, dv.Properties{table.DeletionVectorsEnabledKey: "false"}, 1)
	_, err = disabled.DeleteRows(ctx, map[string]*bitmap.RoaringBitmapArray{filePaths(disabled)[0]: rowRange(t, 0, 1)})
	assert.ErrorIs(t, err, table.ErrDeletionVectorsDisabled)
}

func TestInlineThreshold(t *testing.T) {
	ctx := context.Background()
	reg := metrics.NewRegistry()
	tbl := newTable(t, dv.Properties{table.InlineThresholdBytesKey: "1024"}, 2, table.WithMetrics(reg))
	paths := filePaths(tbl)

	big, err := bitmap.FromValues(1, 3, 5, 7, 9, 11, 13, 15, 17, 19)
	require.NoError(t, err)
	for v := uint64(21); v < 100; v += 2 {
		require.NoError(t, big.Add(v))
	}

	tbl, err = tbl.DeleteRows(ctx, map[string]*bitmap.RoaringBitmapArray{
		paths[0]: rowRange(t, 0, 10),
		paths[1]: big,
	})
	require.NoError(t, err)

	for _, p := range paths {
		f, _ := tbl.Snapshot().File(p)
		require.NotNil(t, f.DeletionVector)
		assert.True(t, f.DeletionVector.IsInline(), p)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.InlineDVs))
	assert.Equal(t, 60.0, testutil.ToFloat64(reg.RowsDeleted))

	reloaded, err := table.Load(ctx, tbl.Location())
	require.NoError(t, err)
	rows, err := reloaded.DeletedRows(ctx, paths[1])
	require.NoError(t, err)
	assert.True(t, big.Equals(rows))

	report, err := reloaded.VerifyDeletionVectors(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Inline)
}

func TestTransactionCommitRules(t *testing.T) {
	ctx := context.Background()
	tbl := newTable(t, nil, 2)
	paths := filePaths(tbl)

	first, second := tbl.NewTransaction(), tbl.NewTransaction()
	require.NoError(t, first.DeleteRows(ctx, map[string]*bitmap.RoaringBitmapArray{paths[0]: rowRange(t, 0, 1)}))
	require.NoError(t, second.DeleteRows(ctx, map[string]*bitmap.RoaringBitmapArray{paths[1]: rowRange(t, 0, 1)}))

	_, err := first.Commit(ctx)
	require.NoError(t, err)

	_, err = second.Commit(ctx)
	assert.ErrorIs(t, err, table.ErrCommitConflict)

	_, err = first.Commit(ctx)
	assert.ErrorIs(t, err, table.ErrTransactionClosed)
	assert.ErrorIs(t, first.DeleteRows(ctx, nil), table.ErrTransactionClosed)
	assert.ErrorIs(t, first.AddFiles(), table.ErrTransactionClosed)
}

func TestAddFilesRejectsDuplicates(t *testing.T) {
	tbl := newTable(t, nil, 1)
	existing := filePaths(tbl)[0]

	txn := tbl.NewTransaction()
	assert.ErrorIs(t, txn.AddFiles(dv.AddFile{Path: existing}), table.ErrFileExists)
	assert.ErrorIs(t, txn.AddFiles(dv.AddFile{Path: "x"}, dv.AddFile{Path: "x"}), table.ErrFileExists)

	require.NoError(t, txn.AddFiles(dv.AddFile{Path: "external.parquet", Size: 10,
		Stats: `{"numRecords":5}`}))
	tbl, err := txn.Commit(context.Background())
	require.NoError(t, err)

	f, ok := tbl.Snapshot().File("external.parquet")
	require.True(t, ok)
	assert.True(t, f.DataChange)
}

func TestSetProperties(t *testing.T) {
	ctx := context.Background()
	tbl := newTable(t, nil, 1)

	txn := tbl.NewTransaction()
	assert.ErrorIs(t, txn.SetProperties(dv.Properties{table.DeletionVectorsFormatKey: "bogus"}),
		dv.ErrInvalidArgument)
	require.NoError(t, txn.SetProperties(dv.Properties{table.DeletionVectorsEnabledKey: "false"}))
	assert.ErrorIs(t, txn.DeleteRows(ctx, map[string]*bitmap.RoaringBitmapArray{
		filePaths(tbl)[0]: rowRange(t, 0, 1),
	}), table.ErrDeletionVectorsDisabled)

	tbl, err := txn.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "false", tbl.Properties()[table.DeletionVectorsEnabledKey])
}

func TestCheckpoints(t *testing.T) {
	ctx := context.Background()
	reg := metrics.NewRegistry()
	tbl := newTable(t, dv.Properties{table.CheckpointIntervalKey: "2"}, 2, table.WithMetrics(reg))
	paths := filePaths(tbl)

	for i := range 3 {
		var err error
		start := uint64(i * 10)
		tbl, err = tbl.DeleteRows(ctx, map[string]*bitmap.RoaringBitmapArray{paths[i%2]: rowRange(t, start, start+5)})
		require.NoError(t, err)
	}
	require.EqualValues(t, 4, tbl.Version())
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.Checkpoints))

	cp, err := tbl.Log().(table.Checkpointer).LastCheckpoint(ctx)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.EqualValues(t, 4, cp.Version)
	assert.Len(t, cp.Files, 2)

	reloaded, err := table.Load(ctx, tbl.Location())
	require.NoError(t, err)
	assert.EqualValues(t, 4, reloaded.Version())
	assert.Equal(t, fileKeys(tbl), fileKeys(reloaded))

	// versions before the checkpoint are replayed from the commits
	old, err := table.LoadVersion(ctx, tbl.Location(), 2)
	require.NoError(t, err)
	f, _ := old.Snapshot().File(paths[0])
	assert.EqualValues(t, 5, f.DeletionVector.Cardinality)

	_, err = table.LoadVersion(ctx, tbl.Location(), 9)
	assert.ErrorIs(t, err, table.ErrNoSuchVersion)
}

func TestVerifyDetectsMissingFile(t *testing.T) {
	ctx := context.Background()
	reg := metrics.NewRegistry()
	tbl := newTable(t, nil, 2, table.WithMetrics(reg))
	paths := filePaths(tbl)

	tbl, err := tbl.DeleteRows(ctx, map[string]*bitmap.RoaringBitmapArray{
		paths[0]: rowRange(t, 0, 10),
		paths[1]: rowRange(t, 0, 10),
	})
	require.NoError(t, err)

	f, _ := tbl.Snapshot().File(paths[0])
	dvPath, err := f.DeletionVector.AbsolutePath(tbl.Location())
	require.NoError(t, err)
	require.NoError(t, tbl.FS().Remove(dvPath))

	report, err := tbl.VerifyDeletionVectors(ctx)
	assert.ErrorIs(t, err, table.ErrVerificationFailed)
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NotNil(t, report)
	assert.Equal(t, 2, report.Checked)
	require.Len(t, report.Failures, 2)
	assert.Equal(t, paths[0], report.Failures[0].Path)
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.VerificationsFailed))
}

func TestMemTable(t *testing.T) {
	ctx := context.Background()
	for _, layout := range layouts() {
		t.Run(layout.String(), func(t *testing.T) {
			root := "mem://" + uuid.NewString() + "/warehouse/tbl"
			tbl, err := table.Create(ctx, root, testSchema,
				dv.Properties{table.DeletionVectorsLayoutKey: layout.String(), table.CheckpointIntervalKey: "2"})
			require.NoError(t, err)

			tbl, err = tbl.AppendRecords(ctx, makeRecord(t, 0, 100))
			require.NoError(t, err)
			path := filePaths(tbl)[0]

			tbl, err = tbl.DeleteRows(ctx, map[string]*bitmap.RoaringBitmapArray{path: rowRange(t, 0, 10)})
			require.NoError(t, err)

			reloaded, err := table.Load(ctx, root)
			require.NoError(t, err)
			assert.EqualValues(t, 2, reloaded.Version())

			report, err := reloaded.VerifyDeletionVectors(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, report.Checked)
		})
	}
}
