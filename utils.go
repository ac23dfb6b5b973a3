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

// Package dv models deletion vectors attached to immutable data files:
// the descriptor recorded in the transaction log, the add and remove
// file actions that carry it, and the log envelope around them.
//
// The bitmap, store and table packages hold the row set, the physical
// files and the table state respectively.
package dv

import (
	"runtime/debug"
	"strings"
)

var version string

func init() {
	version = "(unknown version)"
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, dep := range info.Deps {
			if strings.HasPrefix(dep.Path, "github.com/lakehouse-go/dv") {
				version = dep.Version
				break
			}
		}
	}
}

func Version() string { return version }

// EngineInfo identifies this library in commit info and file footers.
func EngineInfo() string { return "lakehouse-go/dv " + Version() }
