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

	"github.com/lakehouse-go/dv"
)

// Log is the ordered sequence of commits that defines a table. Version
// 0 creates the table and every later version holds the actions of one
// transaction.
type Log interface {
	// LatestVersion returns the newest committed version, or
	// ErrNoSuchTable when nothing has been committed.
	LatestVersion(ctx context.Context) (int64, error)
	// ReadVersion returns the actions of version in commit order.
	ReadVersion(ctx context.Context, version int64) ([]dv.Action, error)
	// Commit atomically records actions as version. It fails with
	// ErrCommitConflict if version already exists and leaves the log
	// untouched on any error.
	Commit(ctx context.Context, version int64, actions []dv.Action) error
}

// Checkpoint is the reconciled state of a table at Version.
type Checkpoint struct {
	Version  int64
	Protocol *dv.Protocol
	Metadata *dv.Metadata
	Files    []dv.AddFile
}

// Actions returns the checkpoint as actions that replay to the same state.
func (c *Checkpoint) Actions() []dv.Action {
	out := make([]dv.Action, 0, len(c.Files)+2)
	if c.Protocol != nil {
		out = append(out, dv.Action{Protocol: c.Protocol})
	}
	if c.Metadata != nil {
		out = append(out, dv.Action{Metadata: c.Metadata})
	}
	for i := range c.Files {
		out = append(out, dv.Action{Add: &c.Files[i]})
	}

	return out
}

// Checkpointer is implemented by logs that can store checkpoints, which
// bound the number of commits replayed when loading a snapshot.
type Checkpointer interface {
	WriteCheckpoint(ctx context.Context, cp *Checkpoint) error
	// LastCheckpoint returns the newest checkpoint, or nil when the
	// log has none.
	LastCheckpoint(ctx context.Context) (*Checkpoint, error)
}
