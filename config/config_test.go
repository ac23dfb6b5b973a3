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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testArgs = []struct {
	name     string
	file     []byte
	expected *Config
}{
	{"missing file", nil, nil},
	{"invalid yaml", []byte("log: [unterminated"), nil},
	{
		"defaults",
		[]byte("output: json\n"),
		&Config{
			Log:        LogConfig{Type: "fs"},
			Output:     "json",
			MaxWorkers: defaultMaxWorkers,
		},
	},
	{
		"sql log",
		[]byte(`
log:
  type: sql
  dialect: sqlite
  driver: sqlite
  uri: file:///tmp/dv-log.db
io:
  s3.region: us-east-1
  s3.endpoint: http://localhost:9000
table-properties:
  deletion-vectors.layout: puffin
max-workers: 12
`),
		&Config{
			Log: LogConfig{
				Type:    "sql",
				Dialect: "sqlite",
				Driver:  "sqlite",
				URI:     "file:///tmp/dv-log.db",
			},
			IO: map[string]string{
				"s3.region":   "us-east-1",
				"s3.endpoint": "http://localhost:9000",
			},
			TableProperties: map[string]string{
				"deletion-vectors.layout": "puffin",
			},
			MaxWorkers: 12,
		},
	},
}

func TestParseConfig(t *testing.T) {
	for _, tt := range testArgs {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseConfig(tt.file))
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), cfgFile)
	require.NoError(t, os.WriteFile(path, []byte("max-workers: 3\n"), 0o644))

	cfg := ParseConfig(LoadConfig(path))
	require.NotNil(t, cfg)
	assert.Equal(t, 3, cfg.MaxWorkers)

	assert.Nil(t, LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestFromConfigFiles(t *testing.T) {
	home := t.TempDir()
	t.Setenv("DV_HOME", home)

	cfg := fromConfigFiles()
	assert.Equal(t, defaultLogType, cfg.Log.Type)
	assert.Equal(t, defaultMaxWorkers, cfg.MaxWorkers)

	require.NoError(t, os.WriteFile(filepath.Join(home, cfgFile),
		[]byte("log:\n  type: sql\nmax-workers: 2\n"), 0o644))

	cfg = fromConfigFiles()
	assert.Equal(t, "sql", cfg.Log.Type)
	assert.Equal(t, 2, cfg.MaxWorkers)
}
