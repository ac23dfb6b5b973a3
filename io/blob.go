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

package io

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/url"
	"path"
	"strings"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// blobOpenFile describes a single open blob as a File.
// Reads through ReaderAt issue ranged requests, so concurrent ReadAt
// calls do not disturb the sequential reader.
type blobOpenFile struct {
	*blob.Reader

	ctx    context.Context
	bucket *blob.Bucket
	key    string
	name   string
}

func (f *blobOpenFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, &fs.PathError{Op: "readAt", Path: f.key, Err: fs.ErrInvalid}
	}
	if off >= f.Size() {
		return 0, io.EOF
	}

	r, err := f.bucket.NewRangeReader(f.ctx, f.key, off, int64(len(p)), nil)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	n, err := io.ReadFull(r, p)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}

	return n, err
}

// Functions to implement the `Stat()` function in the `io/fs.File` interface

func (f *blobOpenFile) Name() string               { return f.name }
func (f *blobOpenFile) Mode() fs.FileMode          { return fs.ModeIrregular }
func (f *blobOpenFile) ModTime() time.Time         { return f.Reader.ModTime() }
func (f *blobOpenFile) Sys() interface{}           { return f.Reader }
func (f *blobOpenFile) IsDir() bool                { return false }
func (f *blobOpenFile) Stat() (fs.FileInfo, error) { return f, nil }

// BlobWriteFile is a FileWriter for an object being uploaded.
type BlobWriteFile struct {
	*blob.Writer
	name string
}

func (f *BlobWriteFile) Name() string { return f.name }

// blobFileIO represents a file system backed by a bucket in object
// store. Keys are the path component of the location URL; the host
// names the bucket.
type blobFileIO struct {
	*blob.Bucket

	ctx context.Context
}

func (bfs *blobFileIO) key(name string) (string, error) {
	parsed, err := url.Parse(name)
	if err != nil {
		return "", err
	}

	key := strings.TrimPrefix(path.Clean("/"+parsed.Path), "/")
	if key == "" {
		return "", fs.ErrInvalid
	}

	return key, nil
}

func pathError(op, name string, err error) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		err = fs.ErrNotExist
	}

	return &fs.PathError{Op: op, Path: name, Err: err}
}

func (bfs *blobFileIO) Open(name string) (File, error) {
	key, err := bfs.key(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	r, err := bfs.Bucket.NewReader(bfs.ctx, key, nil)
	if err != nil {
		return nil, pathError("open", name, err)
	}

	return &blobOpenFile{Reader: r, ctx: bfs.ctx, bucket: bfs.Bucket, key: key, name: path.Base(key)}, nil
}

func (bfs *blobFileIO) ReadFile(name string) ([]byte, error) {
	key, err := bfs.key(name)
	if err != nil {
		return nil, &fs.PathError{Op: "read", Path: name, Err: fs.ErrInvalid}
	}

	data, err := bfs.Bucket.ReadAll(bfs.ctx, key)
	if err != nil {
		return nil, pathError("read", name, err)
	}

	return data, nil
}

// Create returns a writer that uploads to name. The object becomes
// visible only after Close returns without error.
func (bfs *blobFileIO) Create(name string) (FileWriter, error) {
	key, err := bfs.key(name)
	if err != nil {
		return nil, &fs.PathError{Op: "create", Path: name, Err: fs.ErrInvalid}
	}

	w, err := bfs.Bucket.NewWriter(bfs.ctx, key, nil)
	if err != nil {
		return nil, pathError("create", name, err)
	}

	return &BlobWriteFile{Writer: w, name: key}, nil
}

func (bfs *blobFileIO) WriteFile(name string, p []byte) error {
	key, err := bfs.key(name)
	if err != nil {
		return &fs.PathError{Op: "write", Path: name, Err: fs.ErrInvalid}
	}

	if err := bfs.Bucket.WriteAll(bfs.ctx, key, p, nil); err != nil {
		return pathError("write", name, err)
	}

	return nil
}

// WriteFileExclusive uploads p with a conditional put, so the object is
// written only if the key is absent when the upload completes.
func (bfs *blobFileIO) WriteFileExclusive(name string, p []byte) error {
	key, err := bfs.key(name)
	if err != nil {
		return &fs.PathError{Op: "write", Path: name, Err: fs.ErrInvalid}
	}

	err = bfs.Bucket.WriteAll(bfs.ctx, key, p, &blob.WriterOptions{IfNotExist: true})
	if gcerrors.Code(err) == gcerrors.FailedPrecondition {
		return &fs.PathError{Op: "write", Path: name, Err: fs.ErrExist}
	}
	if err != nil {
		return pathError("write", name, err)
	}

	return nil
}

func (bfs *blobFileIO) Remove(name string) error {
	key, err := bfs.key(name)
	if err != nil {
		return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrInvalid}
	}

	if err := bfs.Bucket.Delete(bfs.ctx, key); err != nil {
		return pathError("remove", name, err)
	}

	return nil
}

func createBlobFS(ctx context.Context, bucket *blob.Bucket) *blobFileIO {
	return &blobFileIO{Bucket: bucket, ctx: ctx}
}
