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

package dv

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// Stats is the per-file statistics record stored as JSON in AddFile.Stats.
type Stats struct {
	NumRecords  int64          `json:"numRecords"`
	TightBounds *bool          `json:"tightBounds,omitempty"`
	MinValues   map[string]any `json:"minValues,omitempty"`
	MaxValues   map[string]any `json:"maxValues,omitempty"`
	NullCount   map[string]any `json:"nullCount,omitempty"`
}

func parseStats(stats string) (*Stats, error) {
	if stats == "" {
		return nil, nil
	}

	var out Stats
	if err := json.Unmarshal([]byte(stats), &out); err != nil {
		return nil, fmt.Errorf("%w: invalid file statistics: %v", ErrInvalidArgument, err)
	}

	return &out, nil
}

// withLooseBounds returns stats with tightBounds set to false. Fields
// other than tightBounds are carried over untouched.
func withLooseBounds(stats string) (string, error) {
	if stats == "" {
		return "", nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(stats), &fields); err != nil {
		return "", fmt.Errorf("%w: invalid file statistics: %v", ErrInvalidArgument, err)
	}
	fields["tightBounds"] = json.RawMessage("false")

	out, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}

	return string(out), nil
}

// AddFile adds a data file, or a new deletion vector for it, to the table.
type AddFile struct {
	Path                    string                    `json:"path"`
	PartitionValues         map[string]string         `json:"partitionValues"`
	Size                    int64                     `json:"size"`
	ModificationTime        int64                     `json:"modificationTime"`
	DataChange              bool                      `json:"dataChange"`
	Stats                   string                    `json:"stats,omitempty"`
	Tags                    map[string]string         `json:"tags,omitempty"`
	DeletionVector          *DeletionVectorDescriptor `json:"deletionVector,omitempty"`
	BaseRowID               *int64                    `json:"baseRowId,omitempty"`
	DefaultRowCommitVersion *int64                    `json:"defaultRowCommitVersion,omitempty"`
}

func (a *AddFile) ParsedStats() (*Stats, error) { return parseStats(a.Stats) }

// NumPhysicalRecords is the row count of the data file, if recorded.
func (a *AddFile) NumPhysicalRecords() (int64, bool) {
	stats, err := a.ParsedStats()
	if err != nil || stats == nil {
		return 0, false
	}

	return stats.NumRecords, true
}

// NumLogicalRecords is the row count with deleted rows excluded.
func (a *AddFile) NumLogicalRecords() (int64, bool) {
	n, ok := a.NumPhysicalRecords()
	if !ok {
		return 0, false
	}
	if a.DeletionVector != nil {
		n -= a.DeletionVector.Cardinality
	}

	return n, true
}

// UniqueID keys the file during snapshot replay: the same path with a
// different deletion vector is a different logical file.
func (a *AddFile) UniqueID() FileKey {
	return newFileKey(a.Path, a.DeletionVector)
}

// RemoveFile removes a data file, or a deletion vector for it, from the table.
type RemoveFile struct {
	Path                    string                    `json:"path"`
	DeletionTimestamp       *int64                    `json:"deletionTimestamp,omitempty"`
	DataChange              bool                      `json:"dataChange"`
	ExtendedFileMetadata    bool                      `json:"extendedFileMetadata,omitempty"`
	PartitionValues         map[string]string         `json:"partitionValues,omitempty"`
	Size                    *int64                    `json:"size,omitempty"`
	Stats                   string                    `json:"stats,omitempty"`
	Tags                    map[string]string         `json:"tags,omitempty"`
	DeletionVector          *DeletionVectorDescriptor `json:"deletionVector,omitempty"`
	BaseRowID               *int64                    `json:"baseRowId,omitempty"`
	DefaultRowCommitVersion *int64                    `json:"defaultRowCommitVersion,omitempty"`
}

func (r *RemoveFile) UniqueID() FileKey {
	return newFileKey(r.Path, r.DeletionVector)
}

// FileKey is the pair of data file path and deletion vector id.
type FileKey struct {
	Path string
	DVID string
}

func newFileKey(path string, dv *DeletionVectorDescriptor) FileKey {
	key := FileKey{Path: path}
	if dv != nil {
		key.DVID = dv.UniqueID()
	}

	return key
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	out := *v

	return &out
}

// RemoveRows returns the action pair that replaces existing with a copy
// carrying descriptor. Committing both in one version marks the rows of
// descriptor deleted.
func RemoveRows(existing AddFile, descriptor DeletionVectorDescriptor) (AddFile, RemoveFile, error) {
	return RemoveRowsAt(existing, descriptor, time.Now())
}

// RemoveRowsAt is RemoveRows with an explicit deletion timestamp.
func RemoveRowsAt(existing AddFile, descriptor DeletionVectorDescriptor, ts time.Time) (AddFile, RemoveFile, error) {
	if descriptor.Storage == nil {
		return AddFile{}, RemoveFile{}, fmt.Errorf("%w: deletion vector descriptor without storage", ErrInvalidArgument)
	}
	if descriptor.Cardinality < 0 {
		return AddFile{}, RemoveFile{}, fmt.Errorf("%w: negative deletion vector cardinality %d",
			ErrInvalidArgument, descriptor.Cardinality)
	}

	stats, err := existing.ParsedStats()
	if err != nil {
		return AddFile{}, RemoveFile{}, err
	}
	if stats != nil && descriptor.Cardinality > stats.NumRecords {
		return AddFile{}, RemoveFile{}, fmt.Errorf("%w: deletion vector removes %d rows from %s which has %d",
			ErrInvalidArgument, descriptor.Cardinality, existing.Path, stats.NumRecords)
	}

	looseStats, err := withLooseBounds(existing.Stats)
	if err != nil {
		return AddFile{}, RemoveFile{}, err
	}

	deletedAt := ts.UnixMilli()
	size := existing.Size
	remove := RemoveFile{
		Path:                    existing.Path,
		DeletionTimestamp:       &deletedAt,
		DataChange:              true,
		ExtendedFileMetadata:    true,
		PartitionValues:         maps.Clone(existing.PartitionValues),
		Size:                    &size,
		Stats:                   existing.Stats,
		Tags:                    maps.Clone(existing.Tags),
		DeletionVector:          clonePtr(existing.DeletionVector),
		BaseRowID:               clonePtr(existing.BaseRowID),
		DefaultRowCommitVersion: clonePtr(existing.DefaultRowCommitVersion),
	}

	add := existing
	add.PartitionValues = maps.Clone(existing.PartitionValues)
	add.Tags = maps.Clone(existing.Tags)
	add.BaseRowID = clonePtr(existing.BaseRowID)
	add.DefaultRowCommitVersion = clonePtr(existing.DefaultRowCommitVersion)
	add.DataChange = true
	add.Stats = looseStats
	add.DeletionVector = &descriptor

	return add, remove, nil
}

const (
	MinReaderVersion = 3
	MinWriterVersion = 7

	FeatureDeletionVectors = "deletionVectors"
)

type Protocol struct {
	MinReaderVersion int      `json:"minReaderVersion"`
	MinWriterVersion int      `json:"minWriterVersion"`
	ReaderFeatures   []string `json:"readerFeatures,omitempty"`
	WriterFeatures   []string `json:"writerFeatures,omitempty"`
}

// NewProtocol returns the protocol of tables written by this library.
func NewProtocol() *Protocol {
	return &Protocol{
		MinReaderVersion: MinReaderVersion,
		MinWriterVersion: MinWriterVersion,
		ReaderFeatures:   []string{FeatureDeletionVectors},
		WriterFeatures:   []string{FeatureDeletionVectors},
	}
}

func (p *Protocol) SupportsDeletionVectors() bool {
	return p != nil && slices.Contains(p.ReaderFeatures, FeatureDeletionVectors) &&
		slices.Contains(p.WriterFeatures, FeatureDeletionVectors)
}

type Format struct {
	Provider string            `json:"provider"`
	Options  map[string]string `json:"options,omitempty"`
}

type Metadata struct {
	ID               string     `json:"id"`
	Name             string     `json:"name,omitempty"`
	Description      string     `json:"description,omitempty"`
	Format           Format     `json:"format"`
	SchemaString     string     `json:"schemaString"`
	PartitionColumns []string   `json:"partitionColumns"`
	Configuration    Properties `json:"configuration,omitempty"`
	CreatedTime      *int64     `json:"createdTime,omitempty"`
}

type CommitInfo struct {
	Timestamp           int64             `json:"timestamp"`
	Operation           string            `json:"operation"`
	OperationParameters map[string]string `json:"operationParameters,omitempty"`
	OperationMetrics    map[string]string `json:"operationMetrics,omitempty"`
	EngineInfo          string            `json:"engineInfo,omitempty"`
	ReadVersion         *int64            `json:"readVersion,omitempty"`
	IsBlindAppend       *bool             `json:"isBlindAppend,omitempty"`
}

// Action is one line of a commit. Exactly one field is set.
type Action struct {
	Add        *AddFile    `json:"add,omitempty"`
	Remove     *RemoveFile `json:"remove,omitempty"`
	Protocol   *Protocol   `json:"protocol,omitempty"`
	Metadata   *Metadata   `json:"metaData,omitempty"`
	CommitInfo *CommitInfo `json:"commitInfo,omitempty"`
}

func (a Action) String() string {
	switch {
	case a.Add != nil:
		return "add " + a.Add.Path
	case a.Remove != nil:
		return "remove " + a.Remove.Path
	case a.Protocol != nil:
		return "protocol"
	case a.Metadata != nil:
		return "metaData " + a.Metadata.ID
	case a.CommitInfo != nil:
		return "commitInfo " + a.CommitInfo.Operation
	default:
		return "empty action"
	}
}
