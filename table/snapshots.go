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
	"cmp"
	"context"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"

	"github.com/lakehouse-go/dv"
)

// Snapshot is the reconciled state of a table at one version: the
// newest protocol and metadata plus every data file that has been added
// and not removed since.
type Snapshot struct {
	version  int64
	protocol *dv.Protocol
	metadata *dv.Metadata
	files    []dv.AddFile
	byPath   map[string]int
}

// replayer applies actions in log order. Files are keyed by path and
// deletion vector id, so a remove of the old pair followed by an add of
// the new pair swaps the vector of a file.
type replayer struct {
	protocol *dv.Protocol
	metadata *dv.Metadata
	files    map[dv.FileKey]dv.AddFile
}

func newReplayer() *replayer {
	return &replayer{files: make(map[dv.FileKey]dv.AddFile)}
}

func (r *replayer) apply(actions []dv.Action) {
	for _, a := range actions {
		switch {
		case a.Add != nil:
			r.files[a.Add.UniqueID()] = *a.Add
		case a.Remove != nil:
			delete(r.files, a.Remove.UniqueID())
		case a.Protocol != nil:
			r.protocol = a.Protocol
		case a.Metadata != nil:
			r.metadata = a.Metadata
		}
	}
}

func (r *replayer) snapshot(version int64) (*Snapshot, error) {
	if r.metadata == nil || r.protocol == nil {
		return nil, fmt.Errorf("%w: version %d has no protocol or metadata", ErrNoSuchTable, version)
	}

	files := slices.SortedFunc(maps.Values(r.files), compareFiles)

	byPath := make(map[string]int, len(files))
	for i, f := range files {
		if _, dup := byPath[f.Path]; dup {
			return nil, fmt.Errorf("%w: %s is live more than once at version %d",
				dv.ErrCorruptData, f.Path, version)
		}
		byPath[f.Path] = i
	}

	return &Snapshot{
		version:  version,
		protocol: r.protocol,
		metadata: r.metadata,
		files:    files,
		byPath:   byPath,
	}, nil
}

// loadSnapshot replays log up to version, starting from the newest
// checkpoint at or before it when the log keeps checkpoints.
func loadSnapshot(ctx context.Context, log Log, version int64) (*Snapshot, error) {
	r, start := newReplayer(), int64(0)
	if cpr, ok := log.(Checkpointer); ok {
		cp, err := cpr.LastCheckpoint(ctx)
		if err != nil {
			return nil, err
		}
		if cp != nil && cp.Version <= version {
			r.apply(cp.Actions())
			start = cp.Version + 1
		}
	}

	for v := start; v <= version; v++ {
		actions, err := log.ReadVersion(ctx, v)
		if err != nil {
			return nil, err
		}
		r.apply(actions)
	}

	return r.snapshot(version)
}

// next applies the actions of the following version on top of s.
func (s *Snapshot) next(version int64, actions []dv.Action) (*Snapshot, error) {
	r := &replayer{
		protocol: s.protocol,
		metadata: s.metadata,
		files:    make(map[dv.FileKey]dv.AddFile, len(s.files)),
	}
	for _, f := range s.files {
		r.files[f.UniqueID()] = f
	}
	r.apply(actions)

	return r.snapshot(version)
}

func (s *Snapshot) Version() int64 { return s.version }

func (s *Snapshot) Protocol() *dv.Protocol { return s.protocol }

func (s *Snapshot) Metadata() *dv.Metadata { return s.metadata }

func (s *Snapshot) Properties() dv.Properties { return s.metadata.Configuration }

// AllFiles iterates the live data files ordered by path.
func (s *Snapshot) AllFiles() iter.Seq[dv.AddFile] {
	return slices.Values(s.files)
}

func (s *Snapshot) Files() []dv.AddFile { return slices.Clone(s.files) }

func (s *Snapshot) NumFiles() int { return len(s.files) }

// File returns the live entry for path.
func (s *Snapshot) File(path string) (dv.AddFile, bool) {
	i, ok := s.byPath[path]
	if !ok {
		return dv.AddFile{}, false
	}

	return s.files[i], true
}

// NumRecords sums the logical row counts of the files that record them.
func (s *Snapshot) NumRecords() int64 {
	var n int64
	for _, f := range s.files {
		if c, ok := f.NumLogicalRecords(); ok {
			n += c
		}
	}

	return n
}

func (s *Snapshot) checkpoint() *Checkpoint {
	return &Checkpoint{
		Version:  s.version,
		Protocol: s.protocol,
		Metadata: s.metadata,
		Files:    s.Files(),
	}
}

func compareFiles(a, b dv.AddFile) int {
	return cmp.Or(strings.Compare(a.Path, b.Path),
		strings.Compare(a.UniqueID().DVID, b.UniqueID().DVID))
}
