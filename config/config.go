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

// Package config reads the optional .dv.yaml file that supplies
// defaults to the dv command and to table options.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	cfgFile           = ".dv.yaml"
	defaultMaxWorkers = 5
	defaultLogType    = "fs"
)

type Config struct {
	Log             LogConfig         `yaml:"log"`
	IO              map[string]string `yaml:"io"`
	TableProperties map[string]string `yaml:"table-properties"`
	Output          string            `yaml:"output"`
	MaxWorkers      int               `yaml:"max-workers"`
}

// LogConfig selects the transaction log. Type is fs for a log stored
// next to the table, or sql for a database log.
type LogConfig struct {
	Type    string `yaml:"type"`
	Dialect string `yaml:"dialect"`
	Driver  string `yaml:"driver"`
	URI     string `yaml:"uri"`
}

func LoadConfig(configPath string) []byte {
	var path string
	if len(configPath) > 0 {
		path = configPath
	} else {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		path = filepath.Join(homeDir, cfgFile)
	}
	file, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	return file
}

// ParseConfig returns nil when file is empty or not valid yaml.
func ParseConfig(file []byte) *Config {
	if len(file) == 0 {
		return nil
	}

	var cfg Config
	if err := yaml.Unmarshal(file, &cfg); err != nil {
		return nil
	}
	cfg.setDefaults()

	return &cfg
}

func (c *Config) setDefaults() {
	if c.Log.Type == "" {
		c.Log.Type = defaultLogType
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = defaultMaxWorkers
	}
}

func fromConfigFiles() Config {
	dir := os.Getenv("DV_HOME")
	if dir != "" {
		dir = filepath.Join(dir, cfgFile)
	}

	if cfg := ParseConfig(LoadConfig(dir)); cfg != nil {
		return *cfg
	}

	var cfg Config
	cfg.setDefaults()

	return cfg
}

var EnvConfig = fromConfigFiles()
