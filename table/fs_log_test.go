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
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/lakehouse-go/dv"
	dvio "github.com/lakehouse-go/dv/io"
	"github.com/lakehouse-go/dv/store"
	"github.com/lakehouse-go/dv/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createActions() []dv.Action {
	return []dv.Action{
		{Protocol: dv.NewProtocol()},
		{Metadata: &dv.Metadata{ID: "tbl", Format: dv.Format{Provider: "parquet"}, PartitionColumns: []string{}}},
	}
}

func TestFSLogCommitAndRead(t *testing.T) {
	ctx := context.Background()
	root := filepath.ToSlash(t.TempDir())
	log := table.NewFSLog(dvio.LocalFS{}, root)

	_, err := log.LatestVersion(ctx)
	assert.ErrorIs(t, err, table.ErrNoSuchTable)

	require.NoError(t, log.Commit(ctx, 0, createActions()))

	add := dv.AddFile{Path: "data/a.parquet", PartitionValues: map[string]string{}, Size: 10, DataChange: true}
	require.NoError(t, log.Commit(ctx, 1, []dv.Action{{Add: &add}}))

	latest, err := log.LatestVersion(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, latest)

	actions, err := log.ReadVersion(ctx, 1)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, add, *actions[0].Add)

	// one JSON document per line
	data, err := dvio.ReadFile(dvio.LocalFS{}, root+"/_txn_log/00000000000000000000.json")
	require.NoError(t, err)
	assert.Equal(t, 2, countLines(data))

	_, err = log.ReadVersion(ctx, 2)
	assert.ErrorIs(t, err, table.ErrNoSuchVersion)
}

func countLines(data []byte) (n int) {
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}

	return n
}

func TestFSLogConcurrentWritersOfOneVersion(t *testing.T) {
	ctx := context.Background()

	memRoot := "mem://fslog-" + uuid.NewString() + "/tbl"
	memFS, err := dvio.LoadWrite(ctx, nil, memRoot)
	require.NoError(t, err)

	tests := []struct {
		name string
		fsys dvio.WriteFileIO
		root string
	}{
		{"local", dvio.LocalFS{}, filepath.ToSlash(t.TempDir())},
		{"mem", memFS, memRoot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, table.NewFSLog(tt.fsys, tt.root).Commit(ctx, 0, createActions()))

			const writers = 8
			errs := make([]error, writers)

			var wg sync.WaitGroup
			for i := range writers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					// every writer has its own log, as separate table handles do
					log := table.NewFSLog(tt.fsys, tt.root)
					add := dv.AddFile{Path: fmt.Sprintf("data/%d.parquet", i),
						PartitionValues: map[string]string{}, Size: 10, DataChange: true}
					errs[i] = log.Commit(ctx, 1, []dv.Action{{Add: &add}})
				}()
			}
			wg.Wait()

			winner := -1
			for i, err := range errs {
				if err == nil {
					assert.Equal(t, -1, winner, "more than one writer committed version 1")
					winner = i
					continue
				}
				assert.ErrorIs(t, err, table.ErrCommitConflict)
			}
			require.NotEqual(t, -1, winner)

			actions, err := table.NewFSLog(tt.fsys, tt.root).ReadVersion(ctx, 1)
			require.NoError(t, err)
			require.Len(t, actions, 1)
			assert.Equal(t, fmt.Sprintf("data/%d.parquet", winner), actions[0].Add.Path)
		})
	}
}

func TestFSLogCommitConflicts(t *testing.T) {
	ctx := context.Background()
	log := table.NewFSLog(dvio.LocalFS{}, filepath.ToSlash(t.TempDir()))

	require.NoError(t, log.Commit(ctx, 0, createActions()))
	assert.ErrorIs(t, log.Commit(ctx, 0, createActions()), table.ErrCommitConflict)
	assert.ErrorIs(t, log.Commit(ctx, 2, nil), table.ErrNoSuchVersion)
	assert.ErrorIs(t, log.Commit(ctx, -1, nil), dv.ErrInvalidArgument)

	latest, err := log.LatestVersion(ctx)
	require.NoError(t, err)
	assert.Zero(t, latest)
}

func TestFSLogCheckpointRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := "mem://" + uuid.NewString() + "/tbl"
	fsys, err := dvio.LoadWrite(ctx, nil, root)
	require.NoError(t, err)
	log := table.NewFSLog(fsys, root)

	cp, err := log.LastCheckpoint(ctx)
	require.NoError(t, err)
	assert.Nil(t, cp)

	maxRow := int64(9)
	baseRowID := int64(100)
	inline := dv.NewInlineDescriptor([]byte{1, 2, 3, 4, 5}, 3, &maxRow)
	relative := dv.NewRelativeDescriptor(uuid.New(), "ab", store.ByteRange{Offset: 1, Length: 40}, 10, &maxRow)

	files := []dv.AddFile{
		{
			Path:            "data/a.parquet",
			PartitionValues: map[string]string{},
			Size:            100,
			Stats:           `{"numRecords":100,"tightBounds":false}`,
			DeletionVector:  &relative,
		},
		{
			Path:            "data/b.parquet",
			PartitionValues: map[string]string{"p": "1"},
			Size:            200,
			Tags:            map[string]string{"k": "v"},
			DeletionVector:  &inline,
			BaseRowID:       &baseRowID,
		},
		{Path: "data/c.parquet", PartitionValues: map[string]string{}, Size: 300},
	}

	actions := createActions()
	require.NoError(t, log.WriteCheckpoint(ctx, &table.Checkpoint{
		Version:  7,
		Protocol: actions[0].Protocol,
		Metadata: actions[1].Metadata,
		Files:    files,
	}))

	cp, err = log.LastCheckpoint(ctx)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.EqualValues(t, 7, cp.Version)
	assert.Equal(t, actions[0].Protocol, cp.Protocol)
	assert.Equal(t, "tbl", cp.Metadata.ID)
	require.Len(t, cp.Files, 3)

	for i, f := range cp.Files {
		assert.Equal(t, files[i].Path, f.Path)
		assert.Equal(t, files[i].Size, f.Size)
		assert.Equal(t, files[i].Stats, f.Stats)
		assert.Equal(t, files[i].Tags, f.Tags)
		assert.Equal(t, files[i].PartitionValues, f.PartitionValues)
		assert.Equal(t, files[i].BaseRowID, f.BaseRowID)
		assert.Equal(t, files[i].UniqueID(), f.UniqueID())
	}

	// without commit 7 the checkpoint still bounds the probe
	_, err = log.LatestVersion(ctx)
	assert.ErrorIs(t, err, table.ErrNoSuchTable)
}
