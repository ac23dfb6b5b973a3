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

package io

import (
	"context"
	"net/url"
	"sync"

	"gocloud.dev/blob/memblob"
)

// memory buckets live for the lifetime of the process and are shared
// by every Load of the same host, so a table written through one IO can
// be read back through another.
var (
	memMu      sync.Mutex
	memBuckets = map[string]*blobFileIO{}
)

func createMemFS(ctx context.Context, parsed *url.URL, _ map[string]string) (*blobFileIO, error) {
	memMu.Lock()
	defer memMu.Unlock()

	if bfs, ok := memBuckets[parsed.Host]; ok {
		return bfs, nil
	}

	bfs := createBlobFS(context.WithoutCancel(ctx), memblob.OpenBucket(nil))
	memBuckets[parsed.Host] = bfs

	return bfs, nil
}
