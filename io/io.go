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

// Package io abstracts the file systems that hold data files,
// deletion vector files and the transaction log. Local paths and
// object stores reached through gocloud.dev buckets share one
// interface, selected by the URL scheme of a location.
package io

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
)

var ErrIONotFound = errors.New("io impl not found")

// IO is an interface to a hierarchical file system.
//
// The IO interface is the minimum implementation required for a file
// system to be used for reading deletion vectors and table state.
type IO interface {
	// Open opens the named file.
	//
	// When Open returns an error, it should be of type *PathError
	// with the Op field set to "open", the Path field set to name,
	// and the Err field describing the problem. A missing file
	// wraps fs.ErrNotExist.
	Open(name string) (File, error)

	// Remove removes the named file or (empty) directory.
	Remove(name string) error
}

// ReadFileIO is the interface implemented by a file system that
// provides an optimized implementation of ReadFile.
type ReadFileIO interface {
	IO

	// ReadFile reads the named file and returns its contents.
	ReadFile(name string) ([]byte, error)
}

// WriteFileIO is a file system that can create files.
type WriteFileIO interface {
	IO

	// Create truncates or creates name and returns a writer that
	// appends sequentially until it is closed. Object stores only
	// publish the content once Close returns.
	Create(name string) (FileWriter, error)

	// WriteFile writes p to the named file.
	WriteFile(name string, p []byte) error
}

// ExclusiveWriteFileIO is a WriteFileIO that can publish a file only
// when nothing exists at its name yet.
type ExclusiveWriteFileIO interface {
	WriteFileIO

	// WriteFileExclusive writes p to name atomically. It fails with an
	// error wrapping fs.ErrExist when name already exists, leaving the
	// existing content untouched.
	WriteFileExclusive(name string, p []byte) error
}

// A File provides access to a single file. Stat must report the
// file size.
type File interface {
	fs.File
	io.ReadSeekCloser
	io.ReaderAt
}

// FileWriter is an open file being written sequentially.
type FileWriter interface {
	io.WriteCloser
	io.ReaderFrom
}

// Load returns the IO registered for the scheme of location. An empty
// location falls back to the "warehouse" property.
func Load(ctx context.Context, props map[string]string, location string) (IO, error) {
	if location == "" {
		location = props["warehouse"]
	}

	return inferFileIOFromScheme(ctx, location, props)
}

// LoadWrite is Load for callers that need to create files.
func LoadWrite(ctx context.Context, props map[string]string, location string) (WriteFileIO, error) {
	fsys, err := Load(ctx, props, location)
	if err != nil {
		return nil, err
	}

	wfs, ok := fsys.(WriteFileIO)
	if !ok {
		return nil, fmt.Errorf("filesystem for %s does not support writing", location)
	}

	return wfs, nil
}

// ReadFile reads the named file from fsys, using ReadFileIO when
// available.
func ReadFile(fsys IO, name string) ([]byte, error) {
	if rf, ok := fsys.(ReadFileIO); ok {
		return rf.ReadFile(name)
	}

	f, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}

// Stat returns the file info of name without reading it.
func Stat(fsys IO, name string) (fs.FileInfo, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return f.Stat()
}

// Exists reports whether name can be opened. Errors other than a
// missing file are returned.
func Exists(fsys IO, name string) (bool, error) {
	f, err := fsys.Open(name)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, err
	}

	return true, f.Close()
}

// WriteFileExclusive writes p to name unless it already exists. Without
// ExclusiveWriteFileIO support the existence check and the write are
// separate steps, so concurrent writers are not excluded.
func WriteFileExclusive(fsys WriteFileIO, name string, p []byte) error {
	if efs, ok := fsys.(ExclusiveWriteFileIO); ok {
		return efs.WriteFileExclusive(name, p)
	}

	exists, err := Exists(fsys, name)
	if err != nil {
		return err
	}
	if exists {
		return &fs.PathError{Op: "write", Path: name, Err: fs.ErrExist}
	}

	return fsys.WriteFile(name, p)
}
