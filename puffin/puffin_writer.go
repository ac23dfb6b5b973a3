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
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
)

// DefaultCreatedBy is written to the footer unless WithCreatedBy
// overrides it.
var DefaultCreatedBy = "lakehouse-go/dv"

// Writer writes blobs and metadata to a Puffin file.
//
// Usage:
//
//	w, err := puffin.NewWriter(file)
//	if err != nil {
//	    return err
//	}
//	_, err = w.AddBlob(puffin.BlobMetadataInput{
//	    Type:       puffin.BlobTypeRoaringBitmapArray,
//	    SnapshotID: -1,
//	    Fields:     []int32{},
//	}, bitmapBytes)
//	if err != nil {
//	    return err
//	}
//	return w.Finish()
type Writer struct {
	w                io.Writer
	offset           int64
	blobs            []BlobMetadata
	props            map[string]string
	done             bool
	createdBy        string
	compressedFooter bool
}

// BlobMetadataInput contains fields the caller provides when adding a blob.
// Offset and Length are set by the writer.
type BlobMetadataInput struct {
	Type           BlobType
	SnapshotID     int64
	SequenceNumber int64
	Fields         []int32
	Properties     map[string]string
	// Codec compresses the blob content before it is written.
	Codec CompressionCodec
}

type WriterOption func(*Writer)

// WithCreatedBy overrides the "created-by" footer property.
func WithCreatedBy(createdBy string) WriterOption {
	return func(w *Writer) {
		w.createdBy = createdBy
	}
}

// WithCompressedFooter LZ4 compresses the footer payload.
func WithCompressedFooter() WriterOption {
	return func(w *Writer) {
		w.compressedFooter = true
	}
}

// NewWriter creates a new Writer and writes the file header magic.
// The caller is responsible for closing the underlying writer after Finish returns.
func NewWriter(w io.Writer, opts ...WriterOption) (*Writer, error) {
	if w == nil {
		return nil, errors.New("puffin: writer is nil")
	}

	pw := &Writer{
		w:         w,
		offset:    MagicSize,
		props:     make(map[string]string),
		createdBy: DefaultCreatedBy,
	}
	for _, opt := range opts {
		opt(pw)
	}

	if err := writeAll(w, magic[:]); err != nil {
		return nil, fmt.Errorf("puffin: write header magic: %w", err)
	}

	return pw, nil
}

// AddProperties merges the provided properties into the file-level properties
// written to the footer. Can be called multiple times before Finish.
func (w *Writer) AddProperties(props map[string]string) error {
	if w.done {
		return errors.New("puffin: cannot set properties: writer already finalized")
	}
	for k, v := range props {
		w.props[k] = v
	}

	return nil
}

// Offset returns the file offset at which the next blob will start.
func (w *Writer) Offset() int64 { return w.offset }

// AddBlob writes blob data and records its metadata for the footer.
// Returns the complete BlobMetadata including the computed Offset and Length.
func (w *Writer) AddBlob(input BlobMetadataInput, data []byte) (BlobMetadata, error) {
	if w.done {
		return BlobMetadata{}, errors.New("puffin: cannot add blob: writer already finalized")
	}
	if input.Type == "" {
		return BlobMetadata{}, errors.New("puffin: cannot add blob: type is required")
	}
	if input.Fields == nil {
		return BlobMetadata{}, errors.New("puffin: cannot add blob: fields is required")
	}
	if input.Type == BlobTypeDeletionVector {
		if input.SnapshotID != -1 {
			return BlobMetadata{}, fmt.Errorf("puffin: cannot add blob: %s requires snapshot-id -1, got %d",
				input.Type, input.SnapshotID)
		}
		if input.SequenceNumber != -1 {
			return BlobMetadata{}, fmt.Errorf("puffin: cannot add blob: %s requires sequence-number -1, got %d",
				input.Type, input.SequenceNumber)
		}
	}

	payload, err := compress(input.Codec, data)
	if err != nil {
		return BlobMetadata{}, fmt.Errorf("puffin: compress blob: %w", err)
	}

	meta := BlobMetadata{
		Type:           input.Type,
		SnapshotID:     input.SnapshotID,
		SequenceNumber: input.SequenceNumber,
		Fields:         input.Fields,
		Offset:         w.offset,
		Length:         int64(len(payload)),
		Properties:     input.Properties,
	}
	if input.Codec != CodecNone {
		codec := string(input.Codec)
		meta.CompressionCodec = &codec
	}

	if err := writeAll(w.w, payload); err != nil {
		return BlobMetadata{}, fmt.Errorf("puffin: write blob: %w", err)
	}

	w.offset += meta.Length
	w.blobs = append(w.blobs, meta)

	return meta, nil
}

// Finish writes the footer and completes the Puffin file structure.
// Must be called exactly once after all blobs are written.
// After Finish returns, no further operations are allowed on the writer.
func (w *Writer) Finish() error {
	if w.done {
		return errors.New("puffin: cannot finish: writer already finalized")
	}

	footer := Footer{
		Blobs:      w.blobs,
		Properties: w.props,
	}
	if footer.Blobs == nil {
		footer.Blobs = []BlobMetadata{}
	}
	if w.createdBy != "" {
		footer.Properties[CreatedBy] = w.createdBy
	}

	payload, err := json.Marshal(footer)
	if err != nil {
		return fmt.Errorf("puffin: marshal footer: %w", err)
	}

	var flags uint32
	if w.compressedFooter {
		if payload, err = compress(CodecLZ4, payload); err != nil {
			return fmt.Errorf("puffin: compress footer: %w", err)
		}
		flags |= FooterFlagCompressed
	}

	if len(payload) > math.MaxInt32 {
		return fmt.Errorf("puffin: footer too large: %d bytes exceeds 2GB limit", len(payload))
	}

	if err := writeAll(w.w, magic[:]); err != nil {
		return fmt.Errorf("puffin: write footer magic: %w", err)
	}

	if err := writeAll(w.w, payload); err != nil {
		return fmt.Errorf("puffin: write footer payload: %w", err)
	}

	var trailer [footerTrailerSize]byte
	binary.LittleEndian.PutUint32(trailer[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(trailer[4:8], flags)
	copy(trailer[8:12], magic[:])

	if err := writeAll(w.w, trailer[:]); err != nil {
		return fmt.Errorf("puffin: write footer trailer: %w", err)
	}

	w.done = true

	return nil
}

// writeAll writes all bytes to w or returns an error.
// Handles the io.Writer contract where Write can return n < len(data) without error.
func writeAll(w io.Writer, data []byte) error {
	n, err := w.Write(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("short write: wrote %d of %d bytes", n, len(data))
	}

	return nil
}
