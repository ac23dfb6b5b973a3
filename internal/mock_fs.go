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

package internal

import (
	"bytes"
	"errors"
	"io"
	"io/fs"

	dvio "github.com/lakehouse-go/dv/io"
	"github.com/stretchr/testify/mock"
)

// MockFS is a dvio.WriteFileIO whose calls are scripted with testify/mock.
type MockFS struct {
	mock.Mock
}

func (m *MockFS) Open(name string) (dvio.File, error) {
	args := m.Called(name)
	f, _ := args.Get(0).(dvio.File)

	return f, args.Error(1)
}

func (m *MockFS) Create(name string) (dvio.FileWriter, error) {
	args := m.Called(name)
	f, _ := args.Get(0).(dvio.FileWriter)

	return f, args.Error(1)
}

func (m *MockFS) WriteFile(name string, content []byte) error {
	return m.Called(name, content).Error(0)
}

func (m *MockFS) Remove(name string) error {
	return m.Called(name).Error(0)
}

var (
	ErrMockWrite = errors.New("mock write failure")
	ErrMockClose = errors.New("mock close failure")
)

// MockFile is an in-memory dvio.FileWriter. Writes fail with
// ErrMockWrite once FailAfter bytes have been accepted, when FailAfter
// is positive.
type MockFile struct {
	Contents   bytes.Buffer
	FailAfter  int
	ErrOnClose bool

	closed bool
}

func (m *MockFile) Write(p []byte) (int, error) {
	if m.closed {
		return 0, fs.ErrClosed
	}
	if m.FailAfter > 0 && m.Contents.Len()+len(p) > m.FailAfter {
		return 0, ErrMockWrite
	}

	return m.Contents.Write(p)
}

func (m *MockFile) ReadFrom(r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	n, err := m.Write(data)

	return int64(n), err
}

func (m *MockFile) Close() error {
	if m.ErrOnClose {
		return ErrMockClose
	}
	if m.closed {
		return fs.ErrClosed
	}
	m.closed = true

	return nil
}

func (m *MockFile) Closed() bool { return m.closed }
