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
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/lakehouse-go/dv/bitmap"
	"github.com/lakehouse-go/dv/puffin"
)

func readFramed(r io.ReaderAt, fileSize int64, path string, offset, size int64) ([]byte, error) {
	if offset < 1 || offset > fileSize-framedOverhead-size {
		return nil, fmt.Errorf("%w: record at offset %d with size %d does not fit in %s (%d bytes)",
			ErrRange, offset, size, path, fileSize)
	}

	var version [1]byte
	if _, err := r.ReadAt(version[:], 0); err != nil {
		return nil, fmt.Errorf("read deletion vector file version of %s: %w", path, err)
	}
	if version[0] != framedVersion {
		return nil, fmt.Errorf("%w: unsupported deletion vector file version %d in %s",
			bitmap.ErrCorruptData, version[0], path)
	}

	record := make([]byte, size+framedOverhead)
	if n, err := r.ReadAt(record, offset); n < len(record) {
		return nil, fmt.Errorf("read deletion vector from %s: %w", path, err)
	}

	if stored := int64(binary.BigEndian.Uint32(record)); stored != size {
		return nil, fmt.Errorf("%w: record at offset %d of %s has size %d, expected %d",
			bitmap.ErrCorruptData, offset, path, stored, size)
	}

	data := record[4 : 4+size]
	if sum, want := crc32.ChecksumIEEE(data), binary.BigEndian.Uint32(record[4+size:]); sum != want {
		return nil, fmt.Errorf("%w: checksum mismatch at offset %d of %s", bitmap.ErrCorruptData, offset, path)
	}

	return data, nil
}

func (s *Store) readPuffin(r io.ReaderAt, fileSize int64, path string, offset, size int64) ([]byte, error) {
	pr, err := puffin.NewReader(r, fileSize, puffin.WithMaxBlobSize(s.maxBlobSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", bitmap.ErrCorruptData, path, err)
	}

	if offset < puffin.MagicSize || offset > pr.DataEnd()-size {
		return nil, fmt.Errorf("%w: offset %d with size %d is outside the blob region of %s",
			ErrRange, offset, size, path)
	}

	meta, ok := pr.BlobAt(offset)
	if !ok {
		return nil, fmt.Errorf("%w: no deletion vector starts at offset %d of %s",
			bitmap.ErrCorruptData, offset, path)
	}
	if meta.Length != size {
		return nil, fmt.Errorf("%w: blob at offset %d of %s has length %d, expected %d",
			bitmap.ErrCorruptData, offset, path, meta.Length, size)
	}

	data, err := pr.ReadBlobByMetadata(meta)
	switch {
	case errors.Is(err, puffin.ErrOutOfBounds):
		return nil, fmt.Errorf("%w: %v", ErrRange, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", bitmap.ErrCorruptData, err)
	}

	return data, nil
}
