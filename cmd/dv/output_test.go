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

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/lakehouse-go/dv"
	"github.com/lakehouse-go/dv/bitmap"
	"github.com/lakehouse-go/dv/internal/metrics"
	"github.com/lakehouse-go/dv/table"
	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	defer func() {
		os.Stdout = oldStdout
	}()

	fn()

	w.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)

	return buf.String()
}

func capturePterm(t *testing.T, fn func()) string {
	t.Helper()

	var buf bytes.Buffer
	pterm.SetDefaultOutput(&buf)
	pterm.DisableColor()
	defer pterm.SetDefaultOutput(os.Stdout)

	fn()

	return buf.String()
}

func newTestTable(t *testing.T) *table.Table {
	t.Helper()
	ctx := context.Background()

	sc := arrow.NewSchema([]arrow.Field{{Name: "id", Type: arrow.PrimitiveTypes.Int64}}, nil)
	bldr := array.NewRecordBuilder(memory.DefaultAllocator, sc)
	defer bldr.Release()
	for i := range 20 {
		bldr.Field(0).(*array.Int64Builder).Append(int64(i))
	}
	rec := bldr.NewRecord()
	defer rec.Release()

	root := filepath.ToSlash(filepath.Join(t.TempDir(), "tbl"))
	tbl, err := table.Create(ctx, root, sc, dv.Properties{"owner": "tests"},
		table.WithMetrics(metrics.NewRegistry()))
	require.NoError(t, err)
	tbl, err = tbl.AppendRecords(ctx, rec)
	require.NoError(t, err)

	return tbl
}

func TestTextDescribeProperties(t *testing.T) {
	out := capturePterm(t, func() {
		textOutput{}.DescribeProperties(dv.Properties{"b": "2", "a": "1"})
	})

	assert.Contains(t, out, "Key")
	assert.Less(t, bytes.Index([]byte(out), []byte("a ")), bytes.Index([]byte(out), []byte("b ")))
}

func TestTextFiles(t *testing.T) {
	tbl := newTestTable(t)

	var path string
	for f := range tbl.Snapshot().AllFiles() {
		path = f.Path
	}
	rows, err := bitmap.FromRange(0, 5)
	require.NoError(t, err)
	tbl, err = tbl.DeleteRows(context.Background(), map[string]*bitmap.RoaringBitmapArray{path: rows})
	require.NoError(t, err)

	out := capturePterm(t, func() { textOutput{}.Files(tbl) })

	assert.Contains(t, out, "Version 2: "+tbl.Location())
	assert.Contains(t, out, "Datafile: "+path)
	assert.Contains(t, out, "5 rows")
}

func TestJSONRows(t *testing.T) {
	rows, err := bitmap.FromValues(3, 1, 7)
	require.NoError(t, err)

	out := captureStdout(t, func() { jsonOutput{}.Rows("data/a.parquet", rows) })

	assert.JSONEq(t, `{"path":"data/a.parquet","cardinality":3,"rows":[1,3,7]}`, out)
}

func TestJSONVerification(t *testing.T) {
	report := &table.VerificationReport{
		Version: 4,
		Checked: 2,
		Failures: []table.VerificationFailure{
			{Path: "data/a.parquet", DeletionVector: "uab", Err: errors.New("missing")},
		},
	}

	out := captureStdout(t, func() { jsonOutput{}.Verification(report) })

	assert.JSONEq(t, `{"version":4,"checked":2,"inline":0,
		"failures":[{"path":"data/a.parquet","deletionVector":"uab","error":"missing"}]}`, out)
}

func TestJSONDescribeTable(t *testing.T) {
	tbl := newTestTable(t)

	out := captureStdout(t, func() { jsonOutput{}.DescribeTable(tbl) })

	assert.Contains(t, out, `"version":1`)
	assert.Contains(t, out, `"numFiles":1`)
	assert.Contains(t, out, `"numRecords":20`)
	assert.Contains(t, out, `"owner":"tests"`)
}

func TestOpenLog(t *testing.T) {
	l, err := openLog(Config{LogType: "fs"})
	require.NoError(t, err)
	assert.Nil(t, l)

	_, err = openLog(Config{LogType: "etcd"})
	assert.Error(t, err)

	l, err = openLog(Config{
		LogType: "sql",
		Table:   "file:///warehouse/tbl",
		Dialect: "sqlite",
		Driver:  sqliteshim.ShimName,
		URI:     "file://" + filepath.Join(t.TempDir(), "log.db"),
	})
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, "file:///warehouse/tbl", l.TableID())
}
