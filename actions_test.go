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

package dv_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/lakehouse-go/dv"
	"github.com/lakehouse-go/dv/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dataFile() dv.AddFile {
	return dv.AddFile{
		Path:             "part-00000.parquet",
		PartitionValues:  map[string]string{"day": "2024-01-01"},
		Size:             4096,
		ModificationTime: 1700000000000,
		DataChange:       true,
		Stats:            `{"numRecords":100,"tightBounds":true,"minValues":{"id":0}}`,
		Tags:             map[string]string{"origin": "test"},
		BaseRowID:        ptr[int64](1000),
	}
}

func TestRemoveRows(t *testing.T) {
	existing := dataFile()
	descriptor := dv.NewRelativeDescriptor(testID, "ab", store.ByteRange{Offset: 1, Length: 34}, 10, ptr[int64](9))
	ts := time.UnixMilli(1700000123456)

	add, remove, err := dv.RemoveRowsAt(existing, descriptor, ts)
	require.NoError(t, err)

	assert.Equal(t, existing.Path, add.Path)
	assert.Equal(t, existing.Path, remove.Path)

	assert.True(t, remove.DataChange)
	assert.True(t, remove.ExtendedFileMetadata)
	assert.Equal(t, ts.UnixMilli(), *remove.DeletionTimestamp)
	assert.Equal(t, existing.Size, *remove.Size)
	assert.Equal(t, existing.Stats, remove.Stats)
	assert.Nil(t, remove.DeletionVector)

	assert.True(t, add.DataChange)
	require.NotNil(t, add.DeletionVector)
	assert.True(t, descriptor.Equal(*add.DeletionVector))
	assert.Equal(t, existing.Size, add.Size)
	assert.Equal(t, existing.ModificationTime, add.ModificationTime)
	assert.Equal(t, existing.PartitionValues, add.PartitionValues)
	assert.Equal(t, existing.Tags, add.Tags)
	assert.Equal(t, *existing.BaseRowID, *add.BaseRowID)

	stats, err := add.ParsedStats()
	require.NoError(t, err)
	assert.EqualValues(t, 100, stats.NumRecords)
	require.NotNil(t, stats.TightBounds)
	assert.False(t, *stats.TightBounds)
	assert.Contains(t, add.Stats, "minValues")

	logical, ok := add.NumLogicalRecords()
	require.True(t, ok)
	assert.EqualValues(t, 90, logical)

	add.PartitionValues["day"] = "changed"
	assert.Equal(t, "2024-01-01", existing.PartitionValues["day"], "inputs are not aliased")
	assert.NotEqual(t, add.UniqueID(), remove.UniqueID())
}

func TestRemoveRowsReplacesExistingDV(t *testing.T) {
	existing := dataFile()
	first := dv.NewInlineDescriptor([]byte{1, 2, 3, 4}, 5, nil)
	existing.DeletionVector = &first

	second := dv.NewRelativeDescriptor(testID, "", store.ByteRange{Offset: 1, Length: 34}, 12, nil)
	add, remove, err := dv.RemoveRows(existing, second)
	require.NoError(t, err)

	require.NotNil(t, remove.DeletionVector)
	assert.True(t, first.Equal(*remove.DeletionVector))
	assert.Equal(t, existing.UniqueID(), remove.UniqueID())
	assert.True(t, second.Equal(*add.DeletionVector))
}

func TestRemoveRowsValidation(t *testing.T) {
	existing := dataFile()

	tooMany := dv.NewInlineDescriptor([]byte{1}, 101, nil)
	_, _, err := dv.RemoveRows(existing, tooMany)
	assert.ErrorIs(t, err, dv.ErrInvalidArgument)

	_, _, err = dv.RemoveRows(existing, dv.DeletionVectorDescriptor{})
	assert.ErrorIs(t, err, dv.ErrInvalidArgument)

	noStats := dataFile()
	noStats.Stats = ""
	add, _, err := dv.RemoveRows(noStats, tooMany)
	require.NoError(t, err, "cardinality is unchecked without statistics")
	assert.Empty(t, add.Stats)
	_, ok := add.NumLogicalRecords()
	assert.False(t, ok)
}

func TestActionJSON(t *testing.T) {
	existing := dataFile()
	descriptor := dv.NewRelativeDescriptor(testID, "ab", store.ByteRange{Offset: 1, Length: 34}, 10, ptr[int64](9))
	add, remove, err := dv.RemoveRows(existing, descriptor)
	require.NoError(t, err)

	for _, action := range []dv.Action{
		{Add: &add},
		{Remove: &remove},
		{Protocol: dv.NewProtocol()},
		{CommitInfo: &dv.CommitInfo{Timestamp: 1, Operation: "DELETE"}},
	} {
		data, err := json.Marshal(action)
		require.NoError(t, err)

		var out dv.Action
		require.NoError(t, json.Unmarshal(data, &out))
		assert.Equal(t, action.String(), out.String())
	}

	data, err := json.Marshal(dv.Action{Add: &add})
	require.NoError(t, err)
	var out dv.Action
	require.NoError(t, json.Unmarshal(data, &out))
	require.NotNil(t, out.Add.DeletionVector)
	assert.Equal(t, add.UniqueID(), out.Add.UniqueID())

	assert.True(t, dv.NewProtocol().SupportsDeletionVectors())
	assert.False(t, (&dv.Protocol{MinReaderVersion: 1, MinWriterVersion: 2}).SupportsDeletionVectors())
}

func TestProperties(t *testing.T) {
	props := dv.Properties{"a": "true", "b": "12", "c": "x"}

	assert.True(t, props.GetBool("a", false))
	assert.False(t, props.GetBool("c", false))
	assert.Equal(t, 12, props.GetInt("b", 0))
	assert.Equal(t, 5, props.GetInt("c", 5))
	assert.Equal(t, "x", props.Get("c", ""))
	assert.Equal(t, "d", props.Get("missing", "d"))
}
