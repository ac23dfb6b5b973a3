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

package store

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"

	dvio "github.com/lakehouse-go/dv/io"
	"github.com/lakehouse-go/dv/puffin"
)

const (
	framedVersion = 1

	// size(4) before the payload, checksum(4) after it
	framedOverhead = 8
)

type writerState int

const (
	writerOpen writerState = iota
	writerFailed
	writerClosed
)

type writerBase struct {
	store  *Store
	key    string
	path   string
	file   dvio.FileWriter
	layout Layout
	state  writerState
}

func (w *writerBase) checkWritable(data []byte) error {
	switch w.state {
	case writerClosed:
		return fmt.Errorf("%w: write to closed writer for %s", ErrWriterState, w.key)
	case writerFailed:
		return fmt.Errorf("%w: write after failed write to %s", ErrWriterState, w.key)
	}
	// records the store would refuse to read back are never written
	if limit := min(w.store.maxBlobSize, math.MaxInt32); int64(len(data)) > limit {
		return fmt.Errorf("%w: record of %d bytes exceeds limit %d", ErrRange, len(data), limit)
	}

	return nil
}

func (w *writerBase) written(br ByteRange) {
	w.store.metrics.RecordWrite(w.layout.String(), int(br.Length))
	w.store.logger.Debug("wrote deletion vector",
		"path", w.key, "offset", br.Offset, "length", br.Length)
}

// finish closes the file once and releases the path.
func (w *writerBase) finish(flush func() error) error {
	if w.state == writerClosed {
		return nil
	}

	var err error
	if flush != nil && w.state == writerOpen {
		err = flush()
	}
	w.state = writerClosed
	defer w.store.release(w.key)

	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("close deletion vector file %s: %w", w.key, err)
	}

	w.store.logger.Debug("closed deletion vector writer", "path", w.key)

	return nil
}

type framedWriter struct {
	writerBase

	offset int64
}

func newFramedWriter(base writerBase) (*framedWriter, error) {
	if _, err := base.file.Write([]byte{framedVersion}); err != nil {
		return nil, fmt.Errorf("write deletion vector file version to %s: %w", base.key, err)
	}

	return &framedWriter{writerBase: base, offset: 1}, nil
}

func (w *framedWriter) Write(data []byte) (ByteRange, error) {
	if err := w.checkWritable(data); err != nil {
		return ByteRange{}, err
	}

	record := make([]byte, len(data)+framedOverhead)
	binary.BigEndian.PutUint32(record, uint32(len(data)))
	copy(record[4:], data)
	binary.BigEndian.PutUint32(record[4+len(data):], crc32.ChecksumIEEE(data))

	if n, err := w.file.Write(record); err != nil || n != len(record) {
		w.state = writerFailed
		if err == nil {
			err = fmt.Errorf("short write: wrote %d of %d bytes", n, len(record))
		}

		return ByteRange{}, fmt.Errorf("write deletion vector to %s: %w", w.key, err)
	}

	br := ByteRange{Offset: w.offset, Length: int64(len(data))}
	w.offset += int64(len(record))
	w.written(br)

	return br, nil
}

func (w *framedWriter) Close() error { return w.finish(nil) }

type puffinWriter struct {
	writerBase

	pw *puffin.Writer
}

func newPuffinWriter(base writerBase, createdBy string) (*puffinWriter, error) {
	pw, err := puffin.NewWriter(base.file, puffin.WithCreatedBy(createdBy))
	if err != nil {
		return nil, err
	}

	return &puffinWriter{writerBase: base, pw: pw}, nil
}

func (w *puffinWriter) Write(data []byte) (ByteRange, error) {
	if err := w.checkWritable(data); err != nil {
		return ByteRange{}, err
	}

	meta, err := w.pw.AddBlob(puffin.BlobMetadataInput{
		Type:           puffin.BlobTypeRoaringBitmapArray,
		SnapshotID:     -1,
		SequenceNumber: -1,
		Fields:         []int32{},
	}, data)
	if err != nil {
		w.state = writerFailed
		return ByteRange{}, fmt.Errorf("write deletion vector to %s: %w", w.key, err)
	}

	br := ByteRange{Offset: meta.Offset, Length: meta.Length}
	w.written(br)

	return br, nil
}

// Close writes the puffin footer. A writer that failed a write is
// closed without a footer, leaving an unreadable file.
func (w *puffinWriter) Close() error { return w.finish(w.pw.Finish) }
