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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"sync"

	"github.com/lakehouse-go/dv"
	"github.com/lakehouse-go/dv/internal"
	dvio "github.com/lakehouse-go/dv/io"
)

const (
	LogDirName         = "_txn_log"
	lastCheckpointName = "_last_checkpoint"
)

// FSLog stores each commit as a newline-delimited JSON file under
// <table root>/_txn_log. A commit file is published only if its version
// is still free, using a conditional put where the file system supports
// one, so concurrent writers of the same version get ErrCommitConflict.
type FSLog struct {
	fs  dvio.WriteFileIO
	dir string

	mu sync.Mutex
}

func NewFSLog(fsys dvio.WriteFileIO, tableRoot string) *FSLog {
	return &FSLog{
		fs:  fsys,
		dir: strings.TrimSuffix(tableRoot, "/") + "/" + LogDirName,
	}
}

func (l *FSLog) commitPath(version int64) string {
	return fmt.Sprintf("%s/%020d.json", l.dir, version)
}

func (l *FSLog) checkpointPath(version int64) string {
	return fmt.Sprintf("%s/%020d.checkpoint.avro", l.dir, version)
}

func (l *FSLog) lastCheckpointPath() string {
	return l.dir + "/" + lastCheckpointName
}

type lastCheckpoint struct {
	Version int64 `json:"version"`
	Size    int64 `json:"size"`
}

func (l *FSLog) readLastCheckpoint() (*lastCheckpoint, error) {
	data, err := dvio.ReadFile(l.fs, l.lastCheckpointPath())
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, err
	}

	var out lastCheckpoint
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("invalid checkpoint pointer %s: %w", l.lastCheckpointPath(), err)
	}

	return &out, nil
}

// LatestVersion probes commit files upwards from the last checkpoint.
func (l *FSLog) LatestVersion(ctx context.Context) (int64, error) {
	var start int64
	last, err := l.readLastCheckpoint()
	if err != nil {
		return -1, err
	}
	if last != nil {
		start = last.Version
	}

	latest := int64(-1)
	for version := range internal.Counter(start) {
		if err := ctx.Err(); err != nil {
			return -1, err
		}

		ok, err := dvio.Exists(l.fs, l.commitPath(version))
		if err != nil {
			return -1, err
		}
		if !ok {
			break
		}
		latest = version
	}

	if latest < 0 {
		return -1, fmt.Errorf("%w: no commits in %s", ErrNoSuchTable, l.dir)
	}

	return latest, nil
}

func (l *FSLog) ReadVersion(ctx context.Context, version int64) ([]dv.Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := dvio.ReadFile(l.fs, l.commitPath(version))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchVersion, version)
	}
	if err != nil {
		return nil, err
	}

	return decodeActions(data)
}

func (l *FSLog) Commit(ctx context.Context, version int64, actions []dv.Action) error {
	if version < 0 {
		return fmt.Errorf("%w: negative version %d", dv.ErrInvalidArgument, version)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if version > 0 {
		prev, err := dvio.Exists(l.fs, l.commitPath(version-1))
		if err != nil {
			return err
		}
		if !prev {
			return fmt.Errorf("%w: cannot commit %d before %d", ErrNoSuchVersion, version, version-1)
		}
	}

	data, err := encodeActions(actions)
	if err != nil {
		return err
	}

	err = dvio.WriteFileExclusive(l.fs, l.commitPath(version), data)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: version %d already exists", ErrCommitConflict, version)
	}

	return err
}

func encodeActions(actions []dv.Action) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, a := range actions {
		if err := enc.Encode(a); err != nil {
			return nil, fmt.Errorf("encode %s: %w", a, err)
		}
	}

	return buf.Bytes(), nil
}

func decodeActions(data []byte) ([]dv.Action, error) {
	var out []dv.Action
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var a dv.Action
		err := dec.Decode(&a)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode action %d: %w", len(out), err)
		}
		out = append(out, a)
	}
}
