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
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/lakehouse-go/dv"
	"github.com/twmb/murmur3"
)

const (
	hashBinaryStringBits = 20
	entropyDirLength     = 4
	entropyDirDepth      = 3
)

// LocationProvider places new data files.
type LocationProvider interface {
	NewDataLocation(dataFileName string) string
}

type simpleLocationProvider struct {
	dataPath *url.URL
}

func (slp *simpleLocationProvider) NewDataLocation(dataFileName string) string {
	return slp.dataPath.JoinPath(dataFileName).String()
}

// objectStoreLocationProvider spreads files over hashed directories so
// that object store key ranges are used evenly.
type objectStoreLocationProvider struct {
	*simpleLocationProvider
}

func computeHash(dataFileName string) string {
	topMask := uint32(1) << hashBinaryStringBits
	hashCode := murmur3.Sum32([]byte(dataFileName))&(topMask-1) | topMask

	binaryStr := strconv.FormatUint(uint64(hashCode), 2)

	return dirsFromHash(binaryStr[1:])
}

func dirsFromHash(fileHash string) string {
	totalEntropyLength := entropyDirDepth * entropyDirLength

	dirs := make([]string, 0, entropyDirDepth+1)
	for i := 0; i < totalEntropyLength; i += entropyDirLength {
		dirs = append(dirs, fileHash[i:i+entropyDirLength])
	}
	if len(fileHash) > totalEntropyLength {
		dirs = append(dirs, fileHash[totalEntropyLength:])
	}

	return strings.Join(dirs, "/")
}

func (p *objectStoreLocationProvider) NewDataLocation(dataFileName string) string {
	if path.Dir(dataFileName) != "." {
		return p.simpleLocationProvider.NewDataLocation(dataFileName)
	}

	return p.dataPath.JoinPath(computeHash(dataFileName) + "-" + dataFileName).String()
}

func LoadLocationProvider(tableLocation string, props dv.Properties) (LocationProvider, error) {
	root, err := url.Parse(tableLocation)
	if err != nil {
		return nil, err
	}

	slp := &simpleLocationProvider{dataPath: root.JoinPath("data")}
	if p, ok := props[WriteDataPathKey]; ok {
		if slp.dataPath, err = url.Parse(p); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", dv.ErrInvalidArgument, WriteDataPathKey, err)
		}
	}

	if props.GetBool(ObjectStoreEnabledKey, ObjectStoreEnabledDefault) {
		return &objectStoreLocationProvider{slp}, nil
	}

	return slp, nil
}

func newDataFileName() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}

	return "part-" + id.String() + ".parquet", nil
}

// relativePath returns location relative to tableRoot when it lies below
// it. Data file paths are recorded in this form.
func relativePath(tableRoot, location string) string {
	root := strings.TrimSuffix(tableRoot, "/") + "/"
	if rel, ok := strings.CutPrefix(location, root); ok {
		return rel
	}

	return location
}

// resolvePath is the inverse of relativePath.
func resolvePath(tableRoot, p string) string {
	if strings.Contains(p, "://") || path.IsAbs(p) {
		return p
	}

	return strings.TrimSuffix(tableRoot, "/") + "/" + p
}
