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

package puffin

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
)

// ErrOutOfBounds is returned for reads that leave the blob data region.
var ErrOutOfBounds = errors.New("puffin: range outside blob data region")

// Reader reads blobs and metadata from a Puffin file.
//
// Usage:
//
//	r, err := puffin.NewReader(file, size)
//	if err != nil {
//	    return err
//	}
//	for i := range r.Footer().Blobs {
//	    blob, err := r.ReadBlob(i)
//	    // process blob.Data
//	}
type Reader struct {
	r           io.ReaderAt
	size        int64
	footer      Footer
	footerStart int64
	maxBlobSize int64
}

// BlobData pairs a blob's metadata with its content.
type BlobData struct {
	Metadata BlobMetadata
	Data     []byte
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithMaxBlobSize sets the maximum blob size allowed when reading.
// Default is DefaultMaxBlobSize (256 MB).
func WithMaxBlobSize(size int64) ReaderOption {
	return func(r *Reader) {
		r.maxBlobSize = size
	}
}

// NewReader creates a new Puffin file reader over size bytes of r.
// It validates magic bytes and reads the footer eagerly.
// The caller is responsible for closing the underlying reader.
func NewReader(r io.ReaderAt, size int64, opts ...ReaderOption) (*Reader, error) {
	if r == nil {
		return nil, errors.New("puffin: reader is nil")
	}

	// [Magic] + [Magic] + [FooterPayloadSize] + [Flags] + [Magic]
	minSize := int64(MagicSize + MagicSize + footerTrailerSize)
	if size < minSize {
		return nil, fmt.Errorf("puffin: file too small (%d bytes, minimum %d)", size, minSize)
	}

	var headerMagic [MagicSize]byte
	if _, err := r.ReadAt(headerMagic[:], 0); err != nil {
		return nil, fmt.Errorf("puffin: read header magic: %w", err)
	}
	if !bytes.Equal(headerMagic[:], magic[:]) {
		return nil, errors.New("puffin: invalid header magic")
	}

	pr := &Reader{
		r:           r,
		size:        size,
		maxBlobSize: DefaultMaxBlobSize,
	}

	for _, opt := range opts {
		opt(pr)
	}

	if err := pr.readFooter(); err != nil {
		return nil, err
	}

	return pr, nil
}

func (r *Reader) Footer() *Footer { return &r.footer }

// DataEnd returns the offset at which the footer starts.
func (r *Reader) DataEnd() int64 { return r.footerStart }

// BlobAt returns the metadata of the blob starting at offset.
func (r *Reader) BlobAt(offset int64) (BlobMetadata, bool) {
	idx := sort.Search(len(r.footer.Blobs), func(i int) bool {
		return r.footer.Blobs[i].Offset >= offset
	})
	if idx < len(r.footer.Blobs) && r.footer.Blobs[idx].Offset == offset {
		return r.footer.Blobs[idx], true
	}

	return BlobMetadata{}, false
}

// defaultFooterReadSize is the initial read size when reading the footer.
// Reading more than needed usually captures the entire footer in one
// request against object storage.
const defaultFooterReadSize = 8 * 1024

func (r *Reader) readFooter() error {
	readSize := min(int64(defaultFooterReadSize), r.size)
	buf := make([]byte, readSize)
	if _, err := r.r.ReadAt(buf, r.size-readSize); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("puffin: read footer region: %w", err)
	}

	trailer := buf[len(buf)-footerTrailerSize:]
	if !bytes.Equal(trailer[8:12], magic[:]) {
		return errors.New("puffin: invalid trailing magic in footer")
	}

	payloadSize := int64(binary.LittleEndian.Uint32(trailer[0:4]))
	flags := binary.LittleEndian.Uint32(trailer[4:8])

	if flags&^FooterFlagCompressed != 0 {
		return fmt.Errorf("puffin: unknown footer flags set: 0x%x", flags)
	}

	// [header magic (4)] [blobs...] [footer magic (4)] [payload] [trailer (12)]
	footerStart := r.size - footerTrailerSize - payloadSize - MagicSize
	if footerStart < MagicSize {
		return fmt.Errorf("puffin: footer payload size %d exceeds available space", payloadSize)
	}

	totalFooterSize := MagicSize + payloadSize + footerTrailerSize

	var payload []byte
	if totalFooterSize <= readSize {
		footerOffset := len(buf) - int(totalFooterSize)
		if !bytes.Equal(buf[footerOffset:footerOffset+MagicSize], magic[:]) {
			return errors.New("puffin: invalid footer start magic")
		}
		payload = buf[footerOffset+MagicSize : len(buf)-footerTrailerSize]
	} else {
		var footerMagic [MagicSize]byte
		if _, err := r.r.ReadAt(footerMagic[:], footerStart); err != nil {
			return fmt.Errorf("puffin: read footer start magic: %w", err)
		}
		if !bytes.Equal(footerMagic[:], magic[:]) {
			return errors.New("puffin: invalid footer start magic")
		}

		payload = make([]byte, payloadSize)
		if _, err := r.r.ReadAt(payload, footerStart+MagicSize); err != nil {
			return fmt.Errorf("puffin: read footer payload: %w", err)
		}
	}

	if flags&FooterFlagCompressed != 0 {
		var err error
		if payload, err = decompress(CodecLZ4, payload, r.maxBlobSize); err != nil {
			return fmt.Errorf("puffin: decompress footer: %w", err)
		}
	}

	var footer Footer
	if err := json.Unmarshal(payload, &footer); err != nil {
		return fmt.Errorf("puffin: decode footer JSON: %w", err)
	}

	if err := validateBlobs(footer.Blobs, footerStart); err != nil {
		return err
	}
	sort.SliceStable(footer.Blobs, func(i, j int) bool {
		return footer.Blobs[i].Offset < footer.Blobs[j].Offset
	})

	r.footer = footer
	r.footerStart = footerStart

	return nil
}

// ReadBlob reads the content of a specific blob by index, in offset order.
func (r *Reader) ReadBlob(index int) (*BlobData, error) {
	if index < 0 || index >= len(r.footer.Blobs) {
		return nil, fmt.Errorf("puffin: blob index %d out of range [0, %d)", index, len(r.footer.Blobs))
	}

	meta := r.footer.Blobs[index]
	data, err := r.readBlobData(meta)
	if err != nil {
		return nil, err
	}

	return &BlobData{Metadata: meta, Data: data}, nil
}

// ReadBlobByMetadata reads a blob using its metadata directly.
func (r *Reader) ReadBlobByMetadata(meta BlobMetadata) ([]byte, error) {
	return r.readBlobData(meta)
}

func (r *Reader) readBlobData(meta BlobMetadata) ([]byte, error) {
	if meta.Type == "" {
		return nil, errors.New("puffin: cannot read blob: type is required")
	}

	if err := r.validateRange(meta.Offset, meta.Length); err != nil {
		return nil, fmt.Errorf("puffin: blob: %w", err)
	}

	data := make([]byte, meta.Length)
	if _, err := r.r.ReadAt(data, meta.Offset); err != nil {
		return nil, fmt.Errorf("puffin: read blob data: %w", err)
	}

	data, err := decompress(meta.Codec(), data, r.maxBlobSize)
	if err != nil {
		return nil, fmt.Errorf("puffin: decompress blob: %w", err)
	}

	return data, nil
}

// ReadAllBlobs reads all blobs from the file in offset order.
func (r *Reader) ReadAllBlobs() ([]*BlobData, error) {
	if len(r.footer.Blobs) == 0 {
		return nil, nil
	}

	results := make([]*BlobData, len(r.footer.Blobs))
	for i := range r.footer.Blobs {
		blob, err := r.ReadBlob(i)
		if err != nil {
			return nil, fmt.Errorf("puffin: read blob %d: %w", i, err)
		}
		results[i] = blob
	}

	return results, nil
}

// ReadAt implements io.ReaderAt over the blob data region. Ranges
// touching the header or the footer fail with ErrOutOfBounds.
func (r *Reader) ReadAt(p []byte, off int64) (n int, err error) {
	if err := r.validateRange(off, int64(len(p))); err != nil {
		return 0, err
	}

	return r.r.ReadAt(p, off)
}

func (r *Reader) validateRange(offset, length int64) error {
	if length < 0 {
		return fmt.Errorf("%w: invalid length %d", ErrOutOfBounds, length)
	}
	if length > r.maxBlobSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrOutOfBounds, length, r.maxBlobSize)
	}
	if offset < MagicSize {
		return fmt.Errorf("%w: invalid offset %d (before header)", ErrOutOfBounds, offset)
	}

	end := offset + length
	if end < offset {
		return fmt.Errorf("%w: offset+length overflow: offset=%d length=%d", ErrOutOfBounds, offset, length)
	}
	if end > r.footerStart {
		return fmt.Errorf("%w: extends into footer: offset=%d length=%d footerStart=%d",
			ErrOutOfBounds, offset, length, r.footerStart)
	}

	return nil
}

func validateBlobs(blobs []BlobMetadata, footerStart int64) error {
	for i, blob := range blobs {
		if blob.Type == "" {
			return fmt.Errorf("puffin: blob %d: type is required", i)
		}

		if blob.Length < 0 {
			return fmt.Errorf("puffin: blob %d: invalid length %d", i, blob.Length)
		}

		if blob.Offset < MagicSize {
			return fmt.Errorf("puffin: blob %d: offset %d before header", i, blob.Offset)
		}

		end := blob.Offset + blob.Length
		if end < blob.Offset {
			return fmt.Errorf("puffin: blob %d: offset+length overflow: offset=%d length=%d", i, blob.Offset, blob.Length)
		}

		if end > footerStart {
			return fmt.Errorf("puffin: blob %d: extends into footer: offset=%d length=%d footerStart=%d",
				i, blob.Offset, blob.Length, footerStart)
		}
	}

	return nil
}
