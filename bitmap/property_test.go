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

package bitmap_test

import (
	"slices"
	"testing"

	"github.com/lakehouse-go/dv/bitmap"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func distinctSorted(vals []uint64) []uint64 {
	out := slices.Clone(vals)
	slices.Sort(out)

	return slices.Compact(out)
}

func TestSerializationProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	// keep values in a few chunks so the native format stays small
	values := gen.SliceOf(gen.UInt64Range(0, 1<<35))

	for _, format := range []bitmap.Format{bitmap.Portable, bitmap.Native} {
		properties.Property(format.String()+" round trip preserves the set", prop.ForAll(
			func(vals []uint64) bool {
				b, err := bitmap.FromValues(vals...)
				if err != nil {
					return false
				}

				data, err := b.Serialize(format)
				if err != nil {
					return false
				}

				out, err := bitmap.Deserialize(data)
				if err != nil {
					return false
				}

				expected := distinctSorted(vals)
				return out.Cardinality() == uint64(len(expected)) &&
					slices.Equal(out.ToArray(), expected)
			},
			values,
		))
	}

	properties.Property("range cardinality equals range width", prop.ForAll(
		func(start, width uint64) bool {
			b, err := bitmap.FromRange(start, start+width)
			if err != nil {
				return false
			}

			return b.Cardinality() == width
		},
		gen.UInt64Range(0, 1<<40),
		gen.UInt64Range(0, 1<<17),
	))

	properties.TestingRun(t)
}
