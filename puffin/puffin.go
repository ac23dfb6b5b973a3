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

// Package puffin reads and writes Puffin files: a sequence of opaque
// blobs followed by a JSON footer describing them.
//
//	Magic Blob₁ Blob₂ ... Blobₙ Footer
//	Footer = Magic FooterPayload FooterPayloadSize Flags Magic
//
// Deletion vectors use one blob per data file, addressed by the blob's
// offset and length.
package puffin

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

const (
	// MagicSize is the length of the "PFA1" marker.
	MagicSize = 4

	// PayloadSize(4) + Flags(4) + Magic(4)
	footerTrailerSize = 12

	// FooterFlagCompressed marks an LZ4 compressed footer payload.
	FooterFlagCompressed uint32 = 1

	// DefaultMaxBlobSize caps the length of a single blob read.
	DefaultMaxBlobSize int64 = 256 << 20

	// CreatedBy is the footer property naming the writing application.
	CreatedBy = "created-by"
)

var magic = [MagicSize]byte{'P', 'F', 'A', '1'}

type BlobType string

const (
	// BlobTypeRoaringBitmapArray holds a serialized 64-bit row index
	// bitmap with its format magic, as produced by the bitmap package.
	BlobTypeRoaringBitmapArray BlobType = "roaring-bitmap-array-v1"
	// BlobTypeDeletionVector is the table-format level deletion vector
	// blob; its snapshot-id and sequence-number must be -1.
	BlobTypeDeletionVector    BlobType = "deletion-vector-v1"
	BlobTypeDataSketchesTheta BlobType = "apache-datasketches-theta-v1"
)

// CompressionCodec names a blob or footer compression.
type CompressionCodec string

const (
	CodecNone CompressionCodec = ""
	CodecLZ4  CompressionCodec = "lz4"
	CodecZstd CompressionCodec = "zstd"
)

type BlobMetadata struct {
	Type             BlobType          `json:"type"`
	SnapshotID       int64             `json:"snapshot-id"`
	SequenceNumber   int64             `json:"sequence-number"`
	Fields           []int32           `json:"fields"`
	Offset           int64             `json:"offset"` // absolute file offset
	Length           int64             `json:"length"`
	CompressionCodec *string           `json:"compression-codec,omitempty"`
	Properties       map[string]string `json:"properties,omitempty"`
}

// Codec returns the blob's compression codec.
func (b BlobMetadata) Codec() CompressionCodec {
	if b.CompressionCodec == nil {
		return CodecNone
	}

	return CompressionCodec(*b.CompressionCodec)
}

// Footer describes the blobs and file-level properties stored in a Puffin file.
type Footer struct {
	Blobs      []BlobMetadata    `json:"blobs"`
	Properties map[string]string `json:"properties,omitempty"`
}

func compress(codec CompressionCodec, data []byte) ([]byte, error) {
	switch codec {
	case CodecNone:
		return data, nil
	case CodecLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}

		return buf.Bytes(), nil
	case CodecZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()

		return enc.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("unsupported compression codec %q", codec)
	}
}

// decompress inflates data, refusing output larger than limit.
func decompress(codec CompressionCodec, data []byte, limit int64) ([]byte, error) {
	var r io.Reader
	switch codec {
	case CodecNone:
		return data, nil
	case CodecLZ4:
		r = lz4.NewReader(bytes.NewReader(data))
	case CodecZstd:
		dec, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		r = dec
	default:
		return nil, fmt.Errorf("unsupported compression codec %q", codec)
	}

	out, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > limit {
		return nil, fmt.Errorf("decompressed size exceeds limit %d", limit)
	}

	return out, nil
}
