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

package internal_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/lakehouse-go/dv/internal"
	"github.com/stretchr/testify/assert"
)

func TestCountingWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &internal.CountingWriter{W: &buf}

	_, err := w.Write([]byte("abc"))
	assert.NoError(t, err)
	_, err = w.Write([]byte("defg"))
	assert.NoError(t, err)

	assert.EqualValues(t, 7, w.Count)
	assert.Equal(t, "abcdefg", buf.String())
}

func TestCounter(t *testing.T) {
	var got []int64
	for v := range internal.Counter(int64(5)) {
		if v > 8 {
			break
		}
		got = append(got, v)
	}

	assert.Equal(t, []int64{5, 6, 7, 8}, got)
}

type closer struct{ err error }

func (c closer) Close() error { return c.err }

func TestCheckedClose(t *testing.T) {
	errWrite, errClose := errors.New("write"), errors.New("close")

	err := errWrite
	internal.CheckedClose(closer{errClose}, &err)
	assert.ErrorIs(t, err, errWrite)
	assert.ErrorIs(t, err, errClose)

	err = nil
	internal.CheckedClose(closer{}, &err)
	assert.NoError(t, err)
}

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"},
		internal.SortedKeys(map[string]int{"c": 1, "a": 2, "b": 3}))
	assert.Empty(t, internal.SortedKeys(map[string]int{}))
}
