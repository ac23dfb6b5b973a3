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

// Package store persists serialized deletion vectors. Many vectors are
// appended to one physical file through a Writer, each write returning
// the byte range it occupies; readers fetch one vector by path, offset
// and size.
//
// Two layouts are supported and selected by file extension. The framed
// layout (.bin) starts with a version byte and stores each record as
// a big-endian int32 size, the payload and a big-endian CRC-32 of the
// payload. The puffin layout (.puffin) stores each record as a puffin
// blob and writes the footer when the writer is closed.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lakehouse-go/dv/bitmap"
	"github.com/lakehouse-go/dv/internal/metrics"
	dvio "github.com/lakehouse-go/dv/io"
	"github.com/lakehouse-go/dv/puffin"
)

var (
	ErrNotFound    = errors.New("deletion vector file not found")
	ErrRange       = errors.New("deletion vector range out of bounds")
	ErrWriterState = errors.New("invalid deletion vector writer state")
)

type Layout int

const (
	Framed Layout = iota
	Puffin
)

const (
	framedExtension = ".bin"
	puffinExtension = ".puffin"
)

func (l Layout) String() string {
	switch l {
	case Framed:
		return "framed"
	case Puffin:
		return "puffin"
	default:
		return fmt.Sprintf("Layout(%d)", int(l))
	}
}

func (l Layout) extension() string {
	if l == Puffin {
		return puffinExtension
	}

	return framedExtension
}

func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(s) {
	case "framed":
		return Framed, nil
	case "puffin":
		return Puffin, nil
	default:
		return 0, fmt.Errorf("unknown deletion vector file layout %q", s)
	}
}

// LayoutOf returns the layout of an existing file from its extension.
func LayoutOf(path string) Layout {
	if strings.HasSuffix(path, puffinExtension) {
		return Puffin
	}

	return Framed
}

// ByteRange locates one record in a deletion vector file. Length is the
// length of the payload as given to Write.
type ByteRange struct {
	Offset int64
	Length int64
}

func (b ByteRange) End() int64 { return b.Offset + b.Length }

// Writer appends records to a single deletion vector file.
type Writer interface {
	// Write appends data as one record.
	Write(data []byte) (ByteRange, error)
	// Close flushes the file and releases it. Closing twice is a no-op.
	Close() error
}

const (
	defaultRandomPrefixLength = 2
	maxRandomPrefixLength     = 16
)

type Store struct {
	fsys        dvio.WriteFileIO
	logger      *slog.Logger
	metrics     *metrics.Registry
	layout      Layout
	prefixLen   int
	maxBlobSize int64
	createdBy   string

	mu   sync.Mutex
	open map[string]struct{}
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLayout sets the layout of files created by NewDeletionVectorPath.
func WithLayout(layout Layout) Option {
	return func(s *Store) {
		s.layout = layout
	}
}

// WithRandomPrefixLength sets the number of characters of the directory
// that spreads new files across key prefixes. Zero disables it.
func WithRandomPrefixLength(n int) Option {
	return func(s *Store) {
		s.prefixLen = min(max(n, 0), maxRandomPrefixLength)
	}
}

// WithMaxBlobSize bounds the size of a single record, both when it is
// written and when it is read.
func WithMaxBlobSize(n int64) Option {
	return func(s *Store) {
		s.maxBlobSize = n
	}
}

func WithMetrics(reg *metrics.Registry) Option {
	return func(s *Store) {
		if reg != nil {
			s.metrics = reg
		}
	}
}

// WithCreatedBy sets the created-by property of puffin footers.
func WithCreatedBy(createdBy string) Option {
	return func(s *Store) {
		s.createdBy = createdBy
	}
}

func New(fsys dvio.WriteFileIO, opts ...Option) *Store {
	s := &Store{
		fsys:        fsys,
		logger:      slog.Default(),
		metrics:     metrics.DefaultRegistry(),
		layout:      Framed,
		prefixLen:   defaultRandomPrefixLength,
		maxBlobSize: puffin.DefaultMaxBlobSize,
		createdBy:   puffin.DefaultCreatedBy,
		open:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Store) Layout() Layout { return s.layout }

func (s *Store) acquire(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.open[path]; ok {
		return fmt.Errorf("%w: %s is already open for writing", ErrWriterState, path)
	}
	s.open[path] = struct{}{}

	return nil
}

func (s *Store) release(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.open, path)
}

// CreateWriter creates path and returns a writer appending to it. Only
// one writer per path may be open in a Store at a time.
func (s *Store) CreateWriter(ctx context.Context, path string) (Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := PathToString(path)
	if err := s.acquire(key); err != nil {
		return nil, err
	}

	f, err := s.fsys.Create(path)
	if err != nil {
		s.release(key)
		return nil, fmt.Errorf("create deletion vector file %s: %w", path, err)
	}

	layout := LayoutOf(path)
	base := writerBase{store: s, key: key, path: path, file: f, layout: layout}

	var w Writer
	switch layout {
	case Puffin:
		w, err = newPuffinWriter(base, s.createdBy)
	default:
		w, err = newFramedWriter(base)
	}
	if err != nil {
		s.release(key)
		return nil, errors.Join(err, f.Close())
	}

	s.logger.Debug("opened deletion vector writer", "path", key, "layout", layout)

	return w, nil
}

// ReadBytes returns the payload of the record at offset. size is the
// payload length recorded when it was written.
func (s *Store) ReadBytes(ctx context.Context, path string, offset, size int64) (data []byte, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	layout := LayoutOf(path)
	defer func(start time.Time) {
		s.metrics.RecordRead(layout.String(), err, time.Since(start))
	}(time.Now())

	if offset < 0 || size < 0 {
		return nil, fmt.Errorf("%w: offset %d size %d in %s", ErrRange, offset, size, path)
	}
	if size > s.maxBlobSize {
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", ErrRange, size, s.maxBlobSize)
	}

	f, err := s.fsys.Open(path)
	if err != nil {
		return nil, mapOpenError(path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, mapOpenError(path, err)
	}

	switch layout {
	case Puffin:
		return s.readPuffin(f, info.Size(), path, offset, size)
	default:
		return readFramed(f, info.Size(), path, offset, size)
	}
}

// Read returns the deletion vector stored at offset.
func (s *Store) Read(ctx context.Context, path string, offset, size int64) (*bitmap.RoaringBitmapArray, error) {
	data, err := s.ReadBytes(ctx, path, offset, size)
	if err != nil {
		return nil, err
	}

	bm, err := bitmap.Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("%s at offset %d: %w", path, offset, err)
	}

	return bm, nil
}

// FileSize returns the size in bytes of a stored file.
func (s *Store) FileSize(ctx context.Context, path string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	info, err := dvio.Stat(s.fsys, path)
	if err != nil {
		return 0, mapOpenError(path, err)
	}

	return info.Size(), nil
}

// Remove deletes a deletion vector file.
func (s *Store) Remove(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.fsys.Remove(path); err != nil {
		return mapOpenError(path, err)
	}

	return nil
}

func mapOpenError(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	return err
}
