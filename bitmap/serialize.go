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

package bitmap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
)

// Format identifies the on-wire layout of a serialized bitmap. The
// format is recorded by the leading magic number, so Deserialize needs
// no hint.
type Format int

const (
	// Portable writes only non-empty chunks, each prefixed by its key.
	// The bytes following the magic number follow the 64-bit portable
	// roaring layout.
	Portable Format = iota
	// Native writes one chunk per key from zero up to the largest key,
	// using the position as the key. Every missing key costs an empty
	// chunk, so it only accepts values up to MaxNativeValue.
	Native
)

const (
	portableMagic int32 = 1681511377
	nativeMagic   int32 = 1681511376

	magicSize = 4

	maxNativeChunks = 1 << 16
)

// MaxNativeValue is the largest value the Native format can encode.
const MaxNativeValue uint64 = maxNativeChunks<<32 - 1

// DefaultFormat is used when a table does not configure one.
const DefaultFormat = Portable

func (f Format) String() string {
	switch f {
	case Portable:
		return "portable"
	case Native:
		return "native"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "portable":
		return Portable, nil
	case "native":
		return Native, nil
	default:
		return 0, fmt.Errorf("unknown bitmap serialization format %q", s)
	}
}

// canonical returns a run-optimized copy of every chunk so the encoded
// container types depend only on the set contents.
func (b *RoaringBitmapArray) canonical() ([]uint32, []*roaring.Bitmap) {
	keys := make([]uint32, 0, len(b.keys))
	chunks := make([]*roaring.Bitmap, 0, len(b.chunks))
	for i, rb := range b.chunks {
		if rb.IsEmpty() {
			continue
		}
		c := rb.Clone()
		c.RunOptimize()
		keys = append(keys, b.keys[i])
		chunks = append(chunks, c)
	}

	return keys, chunks
}

// Serialize encodes the bitmap. The output is deterministic for a given
// format and set of values.
func (b *RoaringBitmapArray) Serialize(format Format) ([]byte, error) {
	keys, chunks := b.canonical()

	var buf bytes.Buffer
	switch format {
	case Portable:
		buf.Grow(magicSize + 8 + len(chunks)*4)
		binary.Write(&buf, binary.LittleEndian, portableMagic)
		binary.Write(&buf, binary.LittleEndian, uint64(len(chunks)))
		for i, rb := range chunks {
			binary.Write(&buf, binary.LittleEndian, keys[i])
			if _, err := rb.WriteTo(&buf); err != nil {
				return nil, err
			}
		}
	case Native:
		binary.Write(&buf, binary.LittleEndian, nativeMagic)
		if len(keys) == 0 {
			binary.Write(&buf, binary.LittleEndian, int32(0))
			break
		}

		maxKey := keys[len(keys)-1]
		if maxKey >= maxNativeChunks {
			return nil, fmt.Errorf("%w: values above %d cannot be encoded in the native format",
				ErrInvalidRange, MaxNativeValue)
		}
		binary.Write(&buf, binary.LittleEndian, int32(maxKey)+1)
		empty, next := roaring.New(), 0
		for key := uint32(0); key <= maxKey; key++ {
			rb := empty
			if keys[next] == key {
				rb = chunks[next]
				next++
			}
			if _, err := rb.WriteTo(&buf); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("unsupported bitmap serialization format %s", format)
	}

	return buf.Bytes(), nil
}

// SerializedSizeInBytes is the length of Serialize(format) without
// allocating the output, or -1 when the bitmap cannot be serialized in
// that format.
func (b *RoaringBitmapArray) SerializedSizeInBytes(format Format) int64 {
	keys, chunks := b.canonical()

	switch format {
	case Portable:
		size := int64(magicSize + 8)
		for _, rb := range chunks {
			size += 4 + int64(rb.GetSerializedSizeInBytes())
		}

		return size
	case Native:
		size := int64(magicSize + 4)
		if len(keys) == 0 {
			return size
		}
		if keys[len(keys)-1] >= maxNativeChunks {
			return -1
		}
		emptySize := int64(roaring.New().GetSerializedSizeInBytes())
		size += int64(keys[len(keys)-1]+1-uint32(len(keys))) * emptySize
		for _, rb := range chunks {
			size += int64(rb.GetSerializedSizeInBytes())
		}

		return size
	default:
		return -1
	}
}

// Deserialize decodes data written by Serialize in any format. It never
// returns a partially populated bitmap: any malformed input yields
// ErrCorruptData.
func Deserialize(data []byte) (out *RoaringBitmapArray, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: %v", ErrCorruptData, r)
		}
	}()

	if len(data) < magicSize {
		return nil, fmt.Errorf("%w: %d bytes is too short for a header", ErrCorruptData, len(data))
	}

	rdr := bytes.NewReader(data[magicSize:])
	switch magic := int32(binary.LittleEndian.Uint32(data)); magic {
	case portableMagic:
		out, err = readPortable(rdr)
	case nativeMagic:
		out, err = readNative(rdr)
	default:
		return nil, fmt.Errorf("%w: unexpected magic number %d", ErrCorruptData, magic)
	}
	if err != nil {
		return nil, err
	}

	if rdr.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptData, rdr.Len())
	}

	return out, nil
}

func readChunk(rdr *bytes.Reader) (*roaring.Bitmap, error) {
	rb := roaring.New()
	if _, err := rb.ReadFrom(rdr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	if err := rb.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptData, err)
	}

	return rb, nil
}

func readPortable(rdr *bytes.Reader) (*RoaringBitmapArray, error) {
	var count uint64
	if err := binary.Read(rdr, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: reading chunk count: %v", ErrCorruptData, err)
	}
	// every chunk needs at least a key and a cookie
	if count > uint64(rdr.Len())/8 {
		return nil, fmt.Errorf("%w: chunk count %d exceeds remaining %d bytes",
			ErrCorruptData, count, rdr.Len())
	}

	out := &RoaringBitmapArray{
		keys:   make([]uint32, 0, count),
		chunks: make([]*roaring.Bitmap, 0, count),
	}
	for i := range count {
		var key uint32
		if err := binary.Read(rdr, binary.LittleEndian, &key); err != nil {
			return nil, fmt.Errorf("%w: reading key of chunk %d: %v", ErrCorruptData, i, err)
		}
		if i > 0 && key <= out.keys[len(out.keys)-1] {
			return nil, fmt.Errorf("%w: chunk keys are not increasing at chunk %d", ErrCorruptData, i)
		}
		if uint64(key) > MaxValue>>32 {
			return nil, fmt.Errorf("%w: chunk key %d out of range", ErrCorruptData, key)
		}

		rb, err := readChunk(rdr)
		if err != nil {
			return nil, err
		}
		out.keys = append(out.keys, key)
		out.chunks = append(out.chunks, rb)
	}

	return out, nil
}

func readNative(rdr *bytes.Reader) (*RoaringBitmapArray, error) {
	var count int32
	if err := binary.Read(rdr, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: reading chunk count: %v", ErrCorruptData, err)
	}
	if count < 0 || int64(count) > int64(rdr.Len())/4 {
		return nil, fmt.Errorf("%w: invalid chunk count %d", ErrCorruptData, count)
	}

	out := New()
	for key := range uint32(count) {
		rb, err := readChunk(rdr)
		if err != nil {
			return nil, err
		}
		if rb.IsEmpty() {
			continue
		}
		out.keys = append(out.keys, key)
		out.chunks = append(out.chunks, rb)
	}

	return out, nil
}
