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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strconv"

	"github.com/hamba/avro/v2"
	"github.com/hamba/avro/v2/ocf"
	"github.com/lakehouse-go/dv"
	"github.com/lakehouse-go/dv/internal"
)

const (
	checkpointVersionKey  = "dv.version"
	checkpointProtocolKey = "dv.protocol"
	checkpointMetadataKey = "dv.metadata"
)

var checkpointSchema = avro.MustParse(`{
	"type": "record",
	"name": "checkpoint_file",
	"fields": [
		{"name": "path", "type": "string"},
		{"name": "partition_values", "type": {"type": "map", "values": "string"}},
		{"name": "size", "type": "long"},
		{"name": "modification_time", "type": "long"},
		{"name": "stats", "type": ["null", "string"], "default": null},
		{"name": "tags", "type": {"type": "map", "values": "string"}},
		{"name": "deletion_vector", "type": ["null", "string"], "default": null},
		{"name": "base_row_id", "type": ["null", "long"], "default": null},
		{"name": "default_row_commit_version", "type": ["null", "long"], "default": null}
	]
}`)

// checkpointFile is the avro row for one live data file. The deletion
// vector descriptor is kept in its JSON log form.
type checkpointFile struct {
	Path                    string            `avro:"path"`
	PartitionValues         map[string]string `avro:"partition_values"`
	Size                    int64             `avro:"size"`
	ModificationTime        int64             `avro:"modification_time"`
	Stats                   *string           `avro:"stats"`
	Tags                    map[string]string `avro:"tags"`
	DeletionVector          *string           `avro:"deletion_vector"`
	BaseRowID               *int64            `avro:"base_row_id"`
	DefaultRowCommitVersion *int64            `avro:"default_row_commit_version"`
}

func toCheckpointFile(f dv.AddFile) (checkpointFile, error) {
	out := checkpointFile{
		Path:                    f.Path,
		PartitionValues:         f.PartitionValues,
		Size:                    f.Size,
		ModificationTime:        f.ModificationTime,
		Tags:                    f.Tags,
		BaseRowID:               f.BaseRowID,
		DefaultRowCommitVersion: f.DefaultRowCommitVersion,
	}
	if out.PartitionValues == nil {
		out.PartitionValues = map[string]string{}
	}
	if out.Tags == nil {
		out.Tags = map[string]string{}
	}
	if f.Stats != "" {
		out.Stats = &f.Stats
	}
	if f.DeletionVector != nil {
		data, err := json.Marshal(f.DeletionVector)
		if err != nil {
			return checkpointFile{}, err
		}
		desc := string(data)
		out.DeletionVector = &desc
	}

	return out, nil
}

func (c checkpointFile) addFile() (dv.AddFile, error) {
	out := dv.AddFile{
		Path:                    c.Path,
		PartitionValues:         c.PartitionValues,
		Size:                    c.Size,
		ModificationTime:        c.ModificationTime,
		BaseRowID:               c.BaseRowID,
		DefaultRowCommitVersion: c.DefaultRowCommitVersion,
	}
	if out.PartitionValues == nil {
		out.PartitionValues = map[string]string{}
	}
	if len(c.Tags) > 0 {
		out.Tags = c.Tags
	}
	if c.Stats != nil {
		out.Stats = *c.Stats
	}
	if c.DeletionVector != nil {
		var desc dv.DeletionVectorDescriptor
		if err := json.Unmarshal([]byte(*c.DeletionVector), &desc); err != nil {
			return dv.AddFile{}, fmt.Errorf("checkpoint entry %s: %w", c.Path, err)
		}
		out.DeletionVector = &desc
	}

	return out, nil
}

// WriteCheckpoint stores cp as an avro object container file and points
// _last_checkpoint at it. Protocol and metadata travel in the file
// header.
func (l *FSLog) WriteCheckpoint(ctx context.Context, cp *Checkpoint) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	meta := map[string][]byte{checkpointVersionKey: []byte(strconv.FormatInt(cp.Version, 10))}
	if meta[checkpointProtocolKey], err = json.Marshal(cp.Protocol); err != nil {
		return err
	}
	if meta[checkpointMetadataKey], err = json.Marshal(cp.Metadata); err != nil {
		return err
	}

	if err := l.writeCheckpointFile(l.checkpointPath(cp.Version), meta, cp.Files); err != nil {
		return fmt.Errorf("write checkpoint %d: %w", cp.Version, err)
	}

	pointer, err := json.Marshal(lastCheckpoint{Version: cp.Version, Size: int64(len(cp.Files))})
	if err != nil {
		return err
	}

	return l.fs.WriteFile(l.lastCheckpointPath(), pointer)
}

func (l *FSLog) writeCheckpointFile(path string, meta map[string][]byte, files []dv.AddFile) (err error) {
	out, err := l.fs.Create(path)
	if err != nil {
		return err
	}
	defer internal.CheckedClose(out, &err)

	enc, err := ocf.NewEncoderWithSchema(checkpointSchema, out,
		ocf.WithSchemaMarshaler(ocf.FullSchemaMarshaler),
		ocf.WithEncoderSchemaCache(&avro.SchemaCache{}),
		ocf.WithMetadata(meta),
		ocf.WithCodec(ocf.Deflate))
	if err != nil {
		return err
	}

	for _, f := range files {
		row, err := toCheckpointFile(f)
		if err != nil {
			return err
		}
		if err := enc.Encode(row); err != nil {
			return err
		}
	}

	return enc.Close()
}

func (l *FSLog) LastCheckpoint(ctx context.Context) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	last, err := l.readLastCheckpoint()
	if err != nil || last == nil {
		return nil, err
	}

	return l.readCheckpoint(last.Version)
}

func (l *FSLog) readCheckpoint(version int64) (_ *Checkpoint, err error) {
	path := l.checkpointPath(version)
	f, err := l.fs.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: checkpoint %d", ErrNoSuchVersion, version)
	}
	if err != nil {
		return nil, err
	}
	defer internal.CheckedClose(f, &err)

	dec, err := ocf.NewDecoder(f, ocf.WithDecoderSchemaCache(&avro.SchemaCache{}))
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", path, err)
	}

	meta := dec.Metadata()
	got, err := strconv.ParseInt(string(meta[checkpointVersionKey]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s has invalid version: %w", path, err)
	}
	if got != version {
		return nil, fmt.Errorf("checkpoint %s records version %d", path, got)
	}

	cp := &Checkpoint{Version: version}
	if err := json.Unmarshal(meta[checkpointProtocolKey], &cp.Protocol); err != nil {
		return nil, fmt.Errorf("checkpoint %s protocol: %w", path, err)
	}
	if err := json.Unmarshal(meta[checkpointMetadataKey], &cp.Metadata); err != nil {
		return nil, fmt.Errorf("checkpoint %s metadata: %w", path, err)
	}

	for dec.HasNext() {
		var row checkpointFile
		if err := dec.Decode(&row); err != nil {
			return nil, fmt.Errorf("checkpoint %s: %w", path, err)
		}
		add, err := row.addFile()
		if err != nil {
			return nil, err
		}
		cp.Files = append(cp.Files, add)
	}

	if err := dec.Error(); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", path, err)
	}

	return cp, nil
}
