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

package table

import (
	"github.com/lakehouse-go/dv/bitmap"
	"github.com/lakehouse-go/dv/store"
)

const (
	DeletionVectorsEnabledKey     = "deletion-vectors.enabled"
	DeletionVectorsEnabledDefault = true

	DeletionVectorsLayoutKey = "deletion-vectors.layout"

	DeletionVectorsFormatKey = "deletion-vectors.format"

	// Serialized deletion vectors no larger than this are stored inline
	// in the log. Zero keeps every vector on disk.
	InlineThresholdBytesKey     = "deletion-vectors.inline-threshold-bytes"
	InlineThresholdBytesDefault = 0

	RandomPrefixLengthKey     = "deletion-vectors.random-prefix-length"
	RandomPrefixLengthDefault = 2

	CheckpointIntervalKey     = "checkpoint.interval"
	CheckpointIntervalDefault = 10

	WriteDataPathKey               = "write.data.path"
	ObjectStoreEnabledKey          = "write.object-storage.enabled"
	ObjectStoreEnabledDefault      = false
	ParquetCompressionKey          = "write.parquet.compression-codec"
	ParquetCompressionDefault      = "zstd"
	ParquetCompressionLevelKey     = "write.parquet.compression-level"
	ParquetCompressionLevelDefault = -1
	ParquetRowGroupLimitKey        = "write.parquet.row-group-limit"
	ParquetRowGroupLimitDefault    = 1048576
)

var (
	DeletionVectorsLayoutDefault = store.Framed.String()
	DeletionVectorsFormatDefault = bitmap.DefaultFormat.String()
)
