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

package dv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/lakehouse-go/dv/bitmap"
	"github.com/lakehouse-go/dv/store"
	"github.com/tilinna/z85"
)

// StorageType is the single character persisted as "storageType".
type StorageType byte

const (
	StorageInline StorageType = 'i'
	StorageUUID   StorageType = 'u'
	StoragePath   StorageType = 'p'
)

func (s StorageType) String() string { return string(rune(s)) }

// Storage is one of Inline, RelativePath or AbsolutePath.
type Storage interface {
	storageType() StorageType
}

// Inline keeps the serialized bitmap in the log record itself.
type Inline struct {
	Data []byte
}

// RelativePath addresses a record in a file named by a uuid under the
// table root: <tableRoot>/<Prefix>/deletion_vector_<ID>.bin.
type RelativePath struct {
	ID     uuid.UUID
	Prefix string
	Offset int64
}

// AbsolutePath addresses a record in a file by its full location.
type AbsolutePath struct {
	Path   string
	Offset int64
}

func (Inline) storageType() StorageType       { return StorageInline }
func (RelativePath) storageType() StorageType { return StorageUUID }
func (AbsolutePath) storageType() StorageType { return StoragePath }

// DeletionVectorDescriptor locates a deletion vector and summarizes it.
type DeletionVectorDescriptor struct {
	Storage     Storage
	SizeInBytes int64
	Cardinality int64
	MaxRowIndex *int64
}

func NewInlineDescriptor(data []byte, cardinality int64, maxRowIndex *int64) DeletionVectorDescriptor {
	return DeletionVectorDescriptor{
		Storage:     Inline{Data: bytes.Clone(data)},
		SizeInBytes: int64(len(data)),
		Cardinality: cardinality,
		MaxRowIndex: maxRowIndex,
	}
}

func NewRelativeDescriptor(id uuid.UUID, prefix string, rng store.ByteRange, cardinality int64, maxRowIndex *int64) DeletionVectorDescriptor {
	return DeletionVectorDescriptor{
		Storage:     RelativePath{ID: id, Prefix: prefix, Offset: rng.Offset},
		SizeInBytes: rng.Length,
		Cardinality: cardinality,
		MaxRowIndex: maxRowIndex,
	}
}

func NewAbsoluteDescriptor(path string, rng store.ByteRange, cardinality int64, maxRowIndex *int64) DeletionVectorDescriptor {
	return DeletionVectorDescriptor{
		Storage:     AbsolutePath{Path: path, Offset: rng.Offset},
		SizeInBytes: rng.Length,
		Cardinality: cardinality,
		MaxRowIndex: maxRowIndex,
	}
}

// EmptyDescriptor describes a deletion vector without deleted rows.
func EmptyDescriptor() DeletionVectorDescriptor {
	return DeletionVectorDescriptor{Storage: Inline{Data: []byte{}}}
}

func (d DeletionVectorDescriptor) StorageType() StorageType {
	return d.Storage.storageType()
}

// Offset returns the record offset for on-disk deletion vectors.
func (d DeletionVectorDescriptor) Offset() (int64, bool) {
	switch s := d.Storage.(type) {
	case RelativePath:
		return s.Offset, true
	case AbsolutePath:
		return s.Offset, true
	default:
		return 0, false
	}
}

func (d DeletionVectorDescriptor) IsInline() bool {
	_, ok := d.Storage.(Inline)
	return ok
}

// IsOnDisk holds exactly when Offset is defined. A descriptor without
// storage is neither inline nor on disk.
func (d DeletionVectorDescriptor) IsOnDisk() bool {
	_, ok := d.Offset()
	return ok
}

// InlineData returns the serialized bitmap of an inline deletion vector.
func (d DeletionVectorDescriptor) InlineData() ([]byte, bool) {
	if s, ok := d.Storage.(Inline); ok {
		return s.Data, true
	}

	return nil, false
}

// PathOrInlineDV is the persisted form of the storage: z85 encoded bytes
// for inline vectors, the prefix followed by the z85 encoded uuid for
// relative paths, or the path itself.
func (d DeletionVectorDescriptor) PathOrInlineDV() string {
	switch s := d.Storage.(type) {
	case Inline:
		return encodeZ85(s.Data)
	case RelativePath:
		return s.Prefix + encodeZ85(s.ID[:])
	case AbsolutePath:
		return s.Path
	default:
		panic(fmt.Sprintf("dv: unknown storage %T", d.Storage))
	}
}

// UniqueFileID identifies the file holding the deletion vector, or the
// inline content.
func (d DeletionVectorDescriptor) UniqueFileID() string {
	return d.StorageType().String() + d.PathOrInlineDV()
}

// UniqueID identifies the deletion vector itself. Together with the
// data file path it keys files during snapshot reconciliation.
func (d DeletionVectorDescriptor) UniqueID() string {
	if off, ok := d.Offset(); ok {
		return d.UniqueFileID() + "@" + strconv.FormatInt(off, 10)
	}

	return d.UniqueFileID()
}

// AbsolutePath resolves the location of an on-disk deletion vector.
func (d DeletionVectorDescriptor) AbsolutePath(tableRoot string) (string, error) {
	switch s := d.Storage.(type) {
	case RelativePath:
		return store.AssembleDeletionVectorPath(tableRoot, s.ID, s.Prefix), nil
	case AbsolutePath:
		return s.Path, nil
	default:
		return "", fmt.Errorf("%w: inline deletion vector has no path", ErrInvalidArgument)
	}
}

func (d DeletionVectorDescriptor) Equal(other DeletionVectorDescriptor) bool {
	if d.StorageType() != other.StorageType() || d.SizeInBytes != other.SizeInBytes ||
		d.Cardinality != other.Cardinality {
		return false
	}

	switch {
	case (d.MaxRowIndex == nil) != (other.MaxRowIndex == nil):
		return false
	case d.MaxRowIndex != nil && *d.MaxRowIndex != *other.MaxRowIndex:
		return false
	}

	return d.UniqueID() == other.UniqueID()
}

func (d DeletionVectorDescriptor) String() string {
	return fmt.Sprintf("DeletionVectorDescriptor{%s, size=%d, cardinality=%d}",
		d.UniqueID(), d.SizeInBytes, d.Cardinality)
}

// Load reads the deletion vector. On-disk vectors are resolved against
// tableRoot and read through st.
func (d DeletionVectorDescriptor) Load(ctx context.Context, st *store.Store, tableRoot string) (*bitmap.RoaringBitmapArray, error) {
	var (
		bm  *bitmap.RoaringBitmapArray
		err error
	)
	if data, ok := d.InlineData(); ok {
		if len(data) == 0 && d.Cardinality == 0 {
			return bitmap.New(), nil
		}
		bm, err = bitmap.Deserialize(data)
	} else {
		var path string
		if path, err = d.AbsolutePath(tableRoot); err != nil {
			return nil, err
		}
		off, _ := d.Offset()
		bm, err = st.Read(ctx, path, off, d.SizeInBytes)
	}
	if err != nil {
		return nil, err
	}

	if got := int64(bm.Cardinality()); got != d.Cardinality {
		return nil, fmt.Errorf("%w: %s has %d rows, descriptor records %d",
			ErrCorruptData, d.UniqueID(), got, d.Cardinality)
	}

	return bm, nil
}

type descriptorJSON struct {
	StorageType    string `json:"storageType"`
	PathOrInlineDV string `json:"pathOrInlineDv"`
	Offset         *int64 `json:"offset,omitempty"`
	SizeInBytes    int64  `json:"sizeInBytes"`
	Cardinality    int64  `json:"cardinality"`
	MaxRowIndex    *int64 `json:"maxRowIndex,omitempty"`
}

func (d DeletionVectorDescriptor) MarshalJSON() ([]byte, error) {
	if d.Storage == nil {
		return nil, fmt.Errorf("%w: deletion vector descriptor without storage", ErrInvalidArgument)
	}

	out := descriptorJSON{
		StorageType:    d.StorageType().String(),
		PathOrInlineDV: d.PathOrInlineDV(),
		SizeInBytes:    d.SizeInBytes,
		Cardinality:    d.Cardinality,
		MaxRowIndex:    d.MaxRowIndex,
	}
	if off, ok := d.Offset(); ok {
		out.Offset = &off
	}

	return json.Marshal(out)
}

func (d *DeletionVectorDescriptor) UnmarshalJSON(b []byte) error {
	var in descriptorJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}

	if in.SizeInBytes < 0 || in.Cardinality < 0 {
		return fmt.Errorf("%w: negative size %d or cardinality %d",
			ErrInvalidArgument, in.SizeInBytes, in.Cardinality)
	}

	if len(in.StorageType) != 1 {
		return fmt.Errorf("%w: unknown deletion vector storage type %q", ErrInvalidArgument, in.StorageType)
	}

	var storage Storage
	switch st := StorageType(in.StorageType[0]); st {
	case StorageInline:
		if in.Offset != nil {
			return fmt.Errorf("%w: inline deletion vector with offset %d", ErrInvalidArgument, *in.Offset)
		}
		data, err := decodeZ85(in.PathOrInlineDV, in.SizeInBytes)
		if err != nil {
			return err
		}
		storage = Inline{Data: data}
	case StorageUUID, StoragePath:
		if in.Offset == nil {
			return fmt.Errorf("%w: on-disk deletion vector without offset", ErrInvalidArgument)
		}
		if *in.Offset < 0 {
			return fmt.Errorf("%w: negative deletion vector offset %d", ErrInvalidArgument, *in.Offset)
		}

		if st == StoragePath {
			if in.PathOrInlineDV == "" {
				return fmt.Errorf("%w: empty deletion vector path", ErrInvalidArgument)
			}
			storage = AbsolutePath{Path: in.PathOrInlineDV, Offset: *in.Offset}
			break
		}

		encoded := z85.EncodedLen(len(uuid.UUID{}))
		if len(in.PathOrInlineDV) < encoded {
			return fmt.Errorf("%w: relative deletion vector path %q is too short",
				ErrInvalidArgument, in.PathOrInlineDV)
		}
		split := len(in.PathOrInlineDV) - encoded
		raw, err := decodeZ85(in.PathOrInlineDV[split:], int64(len(uuid.UUID{})))
		if err != nil {
			return err
		}
		id, err := uuid.FromBytes(raw)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		storage = RelativePath{ID: id, Prefix: in.PathOrInlineDV[:split], Offset: *in.Offset}
	default:
		return fmt.Errorf("%w: unknown deletion vector storage type %q", ErrInvalidArgument, in.StorageType)
	}

	*d = DeletionVectorDescriptor{
		Storage:     storage,
		SizeInBytes: in.SizeInBytes,
		Cardinality: in.Cardinality,
		MaxRowIndex: in.MaxRowIndex,
	}

	return nil
}

// encodeZ85 pads src with zeros to a multiple of four bytes.
func encodeZ85(src []byte) string {
	padded := src
	if rem := len(src) % 4; rem != 0 {
		padded = make([]byte, len(src)+4-rem)
		copy(padded, src)
	}

	dst := make([]byte, z85.EncodedLen(len(padded)))
	n, err := z85.Encode(dst, padded)
	if err != nil {
		panic(fmt.Sprintf("dv: z85 encoding of padded input failed: %v", err))
	}

	return string(dst[:n])
}

// decodeZ85 decodes s and drops the padding beyond size bytes.
func decodeZ85(s string, size int64) ([]byte, error) {
	if len(s)%5 != 0 {
		return nil, fmt.Errorf("%w: z85 input length %d is not a multiple of 5", ErrInvalidArgument, len(s))
	}

	dst := make([]byte, z85.DecodedLen(len(s)))
	n, err := z85.Decode(dst, []byte(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if int64(n) < size || int64(n)-size >= 4 {
		return nil, fmt.Errorf("%w: decoded %d bytes, expected %d", ErrInvalidArgument, n, size)
	}

	return dst[:size], nil
}
