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

// Package bitmap implements the compressed row-index set used as the
// payload of a deletion vector.
//
// A RoaringBitmapArray stores 64-bit row ordinals as a sorted list of
// 32-bit roaring bitmaps, each one keyed by the high 32 bits of the
// values it holds. Row ordinals of large files can exceed the 32-bit
// range, which a single roaring bitmap cannot represent.
package bitmap

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
)

var (
	ErrInvalidRange = errors.New("invalid row index range")
	ErrCorruptData  = errors.New("corrupt deletion vector data")
)

// MaxValue is the largest row ordinal that can be stored. Row indexes
// are signed 64-bit integers in file metadata.
const MaxValue uint64 = math.MaxInt64

// RoaringBitmapArray is an ordered set of non-negative 64-bit integers.
// The zero value is an empty set ready to use.
//
// It is not safe for concurrent mutation.
type RoaringBitmapArray struct {
	keys   []uint32
	chunks []*roaring.Bitmap
}

func New() *RoaringBitmapArray { return &RoaringBitmapArray{} }

// FromRange returns a bitmap holding every value in [start, end).
func FromRange(start, end uint64) (*RoaringBitmapArray, error) {
	b := New()
	if err := b.AddRange(start, end); err != nil {
		return nil, err
	}

	return b, nil
}

// FromValues returns a bitmap holding exactly the given values.
func FromValues(values ...uint64) (*RoaringBitmapArray, error) {
	b := New()
	for _, v := range values {
		if err := b.Add(v); err != nil {
			return nil, err
		}
	}

	return b, nil
}

func highBits(v uint64) uint32 { return uint32(v >> 32) }
func lowBits(v uint64) uint32  { return uint32(v) }

func compose(high, low uint32) uint64 { return uint64(high)<<32 | uint64(low) }

// chunk returns the bitmap for key, creating it when create is set.
func (b *RoaringBitmapArray) chunk(key uint32, create bool) *roaring.Bitmap {
	idx, found := slices.BinarySearch(b.keys, key)
	if found {
		return b.chunks[idx]
	}
	if !create {
		return nil
	}

	rb := roaring.New()
	b.keys = slices.Insert(b.keys, idx, key)
	b.chunks = slices.Insert(b.chunks, idx, rb)

	return rb
}

func (b *RoaringBitmapArray) Add(v uint64) error {
	if v > MaxValue {
		return fmt.Errorf("%w: value %d exceeds max %d", ErrInvalidRange, v, MaxValue)
	}
	b.chunk(highBits(v), true).Add(lowBits(v))

	return nil
}

// AddRange adds every value in [start, end). An empty range is a no-op.
func (b *RoaringBitmapArray) AddRange(start, end uint64) error {
	switch {
	case start > end:
		return fmt.Errorf("%w: start %d is after end %d", ErrInvalidRange, start, end)
	case end > MaxValue+1:
		return fmt.Errorf("%w: end %d exceeds max %d", ErrInvalidRange, end, MaxValue+1)
	case start == end:
		return nil
	}

	last := end - 1
	for key := highBits(start); key <= highBits(last); key++ {
		var lo, hi uint64 = 0, 1 << 32
		if key == highBits(start) {
			lo = uint64(lowBits(start))
		}
		if key == highBits(last) {
			hi = uint64(lowBits(last)) + 1
		}
		b.chunk(key, true).AddRange(lo, hi)
	}

	return nil
}

func (b *RoaringBitmapArray) Contains(v uint64) bool {
	rb := b.chunk(highBits(v), false)

	return rb != nil && rb.Contains(lowBits(v))
}

// Cardinality returns the number of values in the set. It is linear in
// the number of chunks, not in the magnitude of the values.
func (b *RoaringBitmapArray) Cardinality() uint64 {
	var n uint64
	for _, rb := range b.chunks {
		n += rb.GetCardinality()
	}

	return n
}

func (b *RoaringBitmapArray) IsEmpty() bool {
	for _, rb := range b.chunks {
		if !rb.IsEmpty() {
			return false
		}
	}

	return true
}

// Last returns the largest value in the set.
func (b *RoaringBitmapArray) Last() (uint64, bool) {
	for i := len(b.chunks) - 1; i >= 0; i-- {
		if !b.chunks[i].IsEmpty() {
			return compose(b.keys[i], b.chunks[i].Maximum()), true
		}
	}

	return 0, false
}

// Or merges other into b.
func (b *RoaringBitmapArray) Or(other *RoaringBitmapArray) {
	for i, key := range other.keys {
		b.chunk(key, true).Or(other.chunks[i])
	}
}

func (b *RoaringBitmapArray) Clone() *RoaringBitmapArray {
	out := &RoaringBitmapArray{
		keys:   slices.Clone(b.keys),
		chunks: make([]*roaring.Bitmap, len(b.chunks)),
	}
	for i, rb := range b.chunks {
		out.chunks[i] = rb.Clone()
	}

	return out
}

// Equals compares set contents; empty chunks are ignored.
func (b *RoaringBitmapArray) Equals(other *RoaringBitmapArray) bool {
	if other == nil {
		return b.IsEmpty()
	}

	l, r := b.nonEmpty(), other.nonEmpty()
	if len(l) != len(r) {
		return false
	}
	for i := range l {
		if b.keys[l[i]] != other.keys[r[i]] || !b.chunks[l[i]].Equals(other.chunks[r[i]]) {
			return false
		}
	}

	return true
}

// nonEmpty returns the indexes of chunks holding at least one value.
func (b *RoaringBitmapArray) nonEmpty() []int {
	out := make([]int, 0, len(b.chunks))
	for i, rb := range b.chunks {
		if !rb.IsEmpty() {
			out = append(out, i)
		}
	}

	return out
}

// Values iterates the set in ascending order.
func (b *RoaringBitmapArray) Values() iter.Seq[uint64] {
	return func(yield func(uint64) bool) {
		for i, rb := range b.chunks {
			it := rb.Iterator()
			for it.HasNext() {
				if !yield(compose(b.keys[i], it.Next())) {
					return
				}
			}
		}
	}
}

func (b *RoaringBitmapArray) ToArray() []uint64 {
	out := make([]uint64, 0, b.Cardinality())
	for v := range b.Values() {
		out = append(out, v)
	}

	return out
}

func (b *RoaringBitmapArray) String() string {
	var sb strings.Builder
	sb.WriteString("RoaringBitmapArray{")
	fmt.Fprintf(&sb, "chunks=%d, cardinality=%d", len(b.nonEmpty()), b.Cardinality())
	if last, ok := b.Last(); ok {
		fmt.Fprintf(&sb, ", last=%d", last)
	}
	sb.WriteString("}")

	return sb.String()
}
