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

package store

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/twmb/murmur3"
)

const (
	fileNamePrefix = "deletion_vector_"
	prefixAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// FilePath names a new deletion vector file. ID and Prefix are enough to
// rebuild Path from the table root for framed files.
type FilePath struct {
	Path   string
	ID     uuid.UUID
	Prefix string
}

// AssembleDeletionVectorPath returns tableRoot/<prefix>/deletion_vector_<id>.bin.
// An empty prefix places the file directly under the table root.
func AssembleDeletionVectorPath(tableRoot string, id uuid.UUID, prefix string) string {
	return assemblePath(tableRoot, id, prefix, framedExtension)
}

func assemblePath(tableRoot string, id uuid.UUID, prefix, ext string) string {
	name := fileNamePrefix + id.String() + ext
	root := strings.TrimSuffix(tableRoot, "/")
	if prefix == "" {
		return root + "/" + name
	}

	return root + "/" + prefix + "/" + name
}

// randomPrefix derives n directory characters from the file id so that
// files spread evenly across object store key ranges.
func randomPrefix(id uuid.UUID, n int) string {
	var sb strings.Builder
	sb.Grow(n)
	for i := range n {
		h := murmur3.SeedSum32(uint32(i), id[:])
		sb.WriteByte(prefixAlphabet[h%uint32(len(prefixAlphabet))])
	}

	return sb.String()
}

// NewDeletionVectorPath returns a fresh file location under tableRoot
// using the store's layout and random prefix length.
func (s *Store) NewDeletionVectorPath(tableRoot string) (FilePath, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return FilePath{}, err
	}

	prefix := randomPrefix(id, s.prefixLen)

	return FilePath{
		Path:   assemblePath(tableRoot, id, prefix, s.layout.extension()),
		ID:     id,
		Prefix: prefix,
	}, nil
}

// PathToString returns the canonical URL form of p: scheme-less local
// paths become file:// URLs and the path component is cleaned.
func PathToString(p string) string {
	parsed, err := url.Parse(p)
	if err != nil || parsed.Scheme == "" || (len(parsed.Scheme) == 1 && filepath.VolumeName(p) != "") {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = filepath.Clean(p)
		}

		return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
	}

	parsed.Path = path.Clean("/" + parsed.Path)
	if parsed.Scheme == "file" {
		parsed.Host = ""
	}

	return parsed.String()
}
