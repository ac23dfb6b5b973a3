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
	"encoding/json"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/lakehouse-go/dv"
	"github.com/lakehouse-go/dv/internal"
	dvio "github.com/lakehouse-go/dv/io"
)

func parquetWriteProperties(props dv.Properties) (*parquet.WriterProperties, error) {
	var codec compress.Compression
	switch c := props.Get(ParquetCompressionKey, ParquetCompressionDefault); c {
	case "snappy":
		codec = compress.Codecs.Snappy
	case "zstd":
		codec = compress.Codecs.Zstd
	case "uncompressed":
		codec = compress.Codecs.Uncompressed
	case "gzip":
		codec = compress.Codecs.Gzip
	case "brotli":
		codec = compress.Codecs.Brotli
	case "lz4raw":
		codec = compress.Codecs.Lz4Raw
	default:
		return nil, fmt.Errorf("%w: unsupported parquet compression codec %q", dv.ErrInvalidArgument, c)
	}

	return parquet.NewWriterProperties(
		parquet.WithDataPageVersion(parquet.DataPageV2),
		parquet.WithMaxRowGroupLength(int64(props.GetInt(ParquetRowGroupLimitKey, ParquetRowGroupLimitDefault))),
		parquet.WithCompression(codec),
		parquet.WithCompressionLevel(props.GetInt(ParquetCompressionLevelKey, ParquetCompressionLevelDefault)),
	), nil
}

// recordStats returns the statistics string of a data file holding rec.
// Row counts are exact, so bounds are tight until rows are deleted.
func recordStats(rec arrow.Record) (string, error) {
	tight := true
	stats := dv.Stats{
		NumRecords:  rec.NumRows(),
		TightBounds: &tight,
		NullCount:   make(map[string]any, rec.NumCols()),
	}
	for i, f := range rec.Schema().Fields() {
		stats.NullCount[f.Name] = rec.Column(i).NullN()
	}

	out, err := json.Marshal(stats)
	if err != nil {
		return "", err
	}

	return string(out), nil
}

// writeDataFile writes rec as a single parquet file at location and
// returns the log entry describing it.
func writeDataFile(fsys dvio.WriteFileIO, location string, rec arrow.Record, props *parquet.WriterProperties) (_ dv.AddFile, err error) {
	stats, err := recordStats(rec)
	if err != nil {
		return dv.AddFile{}, err
	}

	fw, err := fsys.Create(location)
	if err != nil {
		return dv.AddFile{}, err
	}
	defer internal.CheckedClose(fw, &err)

	cntWriter := internal.CountingWriter{W: fw}
	arrProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithAllocator(memory.DefaultAllocator), pqarrow.WithStoreSchema())

	writer, err := pqarrow.NewFileWriter(rec.Schema(), &cntWriter, props, arrProps)
	if err != nil {
		return dv.AddFile{}, err
	}
	if err := writer.Write(rec); err != nil {
		return dv.AddFile{}, err
	}
	if err := writer.Close(); err != nil {
		return dv.AddFile{}, err
	}

	return dv.AddFile{
		Path:             location,
		PartitionValues:  map[string]string{},
		Size:             cntWriter.Count,
		ModificationTime: time.Now().UnixMilli(),
		DataChange:       true,
		Stats:            stats,
	}, nil
}

// schemaString renders the arrow schema as the JSON struct type stored
// in table metadata.
func schemaString(sc *arrow.Schema) (string, error) {
	type field struct {
		Name     string            `json:"name"`
		Type     string            `json:"type"`
		Nullable bool              `json:"nullable"`
		Metadata map[string]string `json:"metadata"`
	}

	fields := make([]field, 0, sc.NumFields())
	for _, f := range sc.Fields() {
		md := make(map[string]string, f.Metadata.Len())
		for i, k := range f.Metadata.Keys() {
			md[k] = f.Metadata.Values()[i]
		}
		fields = append(fields, field{Name: f.Name, Type: f.Type.String(), Nullable: f.Nullable, Metadata: md})
	}

	out, err := json.Marshal(struct {
		Type   string  `json:"type"`
		Fields []field `json:"fields"`
	}{"struct", fields})
	if err != nil {
		return "", err
	}

	return string(out), nil
}
