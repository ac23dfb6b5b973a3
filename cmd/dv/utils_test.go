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

package main

import (
	"maps"
	"testing"

	"github.com/lakehouse-go/dv/bitmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProperties(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[string]string
		isErr bool
	}{
		{
			name:  "empty string",
			input: "",
			want:  map[string]string{},
		},
		{
			name:  "single property",
			input: "s3.region=us-east-1",
			want:  map[string]string{"s3.region": "us-east-1"},
		},
		{
			name:  "multiple properties",
			input: "key1=value1,key2=value2,key3=a=b",
			want:  map[string]string{"key1": "value1", "key2": "value2", "key3": "a=b"},
		},
		{
			name:  "with spaces",
			input: " key1 = value1 , key2 = value2 ",
			want:  map[string]string{"key1": "value1", "key2": "value2"},
		},
		{
			name:  "invalid format - no equals",
			input: "key1value1",
			isErr: true,
		},
		{
			name:  "invalid format - empty key",
			input: "=value1",
			isErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseProperties(tt.input)
			if (err != nil) != tt.isErr {
				t.Errorf("parseProperties() error = %v, isErr %v", err, tt.isErr)

				return
			}
			if !tt.isErr && !maps.Equal(got, tt.want) {
				t.Errorf("parseProperties() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseRows(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []uint64
		isErr bool
	}{
		{name: "single row", input: "7", want: []uint64{7}},
		{name: "range", input: "0-3", want: []uint64{0, 1, 2}},
		{name: "mixed", input: " 20-22, 5 ,0-2,5", want: []uint64{0, 1, 5, 20, 21}},
		{name: "empty range", input: "4-4,9", want: []uint64{9}},
		{name: "empty", input: " ", isErr: true},
		{name: "not a number", input: "a-3", isErr: true},
		{name: "negative", input: "-3", isErr: true},
		{name: "reversed range", input: "10-5", isErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRows(tt.input)
			if tt.isErr {
				assert.Error(t, err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.ToArray())
		})
	}

	_, err := parseRows("10-5")
	assert.ErrorIs(t, err, bitmap.ErrInvalidRange)
}
