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

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/docopt/docopt-go"
	"github.com/lakehouse-go/dv"
	"github.com/lakehouse-go/dv/bitmap"
	"github.com/lakehouse-go/dv/config"
	"github.com/lakehouse-go/dv/table"
	"github.com/lakehouse-go/dv/table/sqllog"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

const usage = `dv.

Usage:
  dv describe [options] TABLE
  dv files [options] TABLE
  dv read [options] TABLE FILE
  dv delete [options] TABLE FILE ROWS
  dv verify [options] TABLE
  dv checkpoint [options] TABLE
  dv properties [options] get TABLE [PROPNAME]
  dv properties [options] set TABLE PROPNAME VALUE
  dv -h | --help | --version

Commands:
  describe    Describe a table.
  files       List the live data files and their deletion vectors.
  read        Print the deleted row indexes of a data file.
  delete      Mark rows of a data file deleted.
  verify      Read back every deletion vector of the table.
  checkpoint  Write a checkpoint of the latest version.
  properties  Get or set table properties.

Arguments:
  TABLE       table root location, e.g. s3://bucket/path/table
  FILE        data file path as recorded in the log
  ROWS        comma-separated row indexes and start-end ranges (end exclusive)
              Ex: "0-10,15,20-30"
  PROPNAME    name of a property
  VALUE       value to set

Options:
  -h --help          	show this help messages and exit
  --config TEXT      	specify the path to the configuration file
  --output TYPE      	output type (json/text) [default: text]
  --at-version N     	load the table at version N instead of the latest
  --log TYPE         	transaction log type (fs/sql)
  --table-id TEXT    	table id in the sql log, defaults to TABLE
  --dialect TEXT     	sql dialect of the log database
  --driver TEXT      	database/sql driver of the log database
  --uri TEXT         	log database URI
  --io TEXT          	io properties in key=value format
                     	Ex: "s3.region=us-east-1,s3.endpoint=http://localhost:9000"`

type Config struct {
	Describe   bool `docopt:"describe"`
	Files      bool `docopt:"files"`
	Read       bool `docopt:"read"`
	Delete     bool `docopt:"delete"`
	Verify     bool `docopt:"verify"`
	Checkpoint bool `docopt:"checkpoint"`
	Props      bool `docopt:"properties"`

	Get bool `docopt:"get"`
	Set bool `docopt:"set"`

	Table    string `docopt:"TABLE"`
	File     string `docopt:"FILE"`
	Rows     string `docopt:"ROWS"`
	PropName string `docopt:"PROPNAME"`
	Value    string `docopt:"VALUE"`

	Config    string `docopt:"--config"`
	Output    string `docopt:"--output"`
	VersionAt string `docopt:"--at-version"`
	LogType   string `docopt:"--log"`
	TableID   string `docopt:"--table-id"`
	Dialect   string `docopt:"--dialect"`
	Driver    string `docopt:"--driver"`
	URI       string `docopt:"--uri"`
	IOProps   string `docopt:"--io"`
}

func main() {
	ctx := context.Background()
	args, err := docopt.ParseArgs(usage, os.Args[1:], dv.Version())
	if err != nil {
		log.Fatal(err)
	}

	cfg := Config{}

	if err := args.Bind(&cfg); err != nil {
		log.Fatal(err)
	}

	fileCfg := config.ParseConfig(config.LoadConfig(cfg.Config))
	if fileCfg == nil {
		fileCfg = &config.EnvConfig
	}
	mergeConf(fileCfg, &cfg)

	var output Output
	switch strings.ToLower(cfg.Output) {
	case "text":
		output = textOutput{}
	case "json":
		output = jsonOutput{}
	default:
		log.Fatal("unimplemented output type")
	}

	ioProps, err := parseProperties(cfg.IOProps)
	if err != nil {
		log.Fatal(err)
	}
	for k, v := range fileCfg.IO {
		if _, ok := ioProps[k]; !ok {
			ioProps[k] = v
		}
	}

	opts := []table.Option{
		table.WithIOProperties(ioProps),
		table.WithMaxWorkers(fileCfg.MaxWorkers),
	}
	txnLog, err := openLog(cfg)
	if err != nil {
		log.Fatal(err)
	}
	if txnLog != nil {
		defer txnLog.Close()
		opts = append(opts, table.WithLog(txnLog))
	}

	tbl := loadTable(ctx, output, cfg, opts)

	switch {
	case cfg.Describe:
		output.DescribeTable(tbl)
	case cfg.Files:
		output.Files(tbl)
	case cfg.Read:
		rows, err := tbl.DeletedRows(ctx, cfg.File)
		if err != nil {
			output.Error(err)
			os.Exit(1)
		}
		output.Rows(cfg.File, rows)
	case cfg.Delete:
		rows, err := parseRows(cfg.Rows)
		if err != nil {
			output.Error(err)
			os.Exit(1)
		}

		tbl, err = tbl.DeleteRows(ctx, map[string]*bitmap.RoaringBitmapArray{cfg.File: rows})
		if err != nil {
			output.Error(err)
			os.Exit(1)
		}
		output.Text(fmt.Sprintf("Deleted %d rows of %s in version %d",
			rows.Cardinality(), cfg.File, tbl.Version()))
	case cfg.Verify:
		report, err := tbl.VerifyDeletionVectors(ctx)
		if report != nil {
			output.Verification(report)
		}
		if err != nil && !errors.Is(err, table.ErrVerificationFailed) {
			output.Error(err)
		}
		if err != nil {
			os.Exit(1)
		}
	case cfg.Checkpoint:
		if err := tbl.Checkpoint(ctx); err != nil {
			output.Error(err)
			os.Exit(1)
		}
		output.Text(fmt.Sprintf("Checkpoint written for version %d", tbl.Version()))
	case cfg.Props:
		properties(ctx, output, tbl, cfg)
	}
}

// openLog returns nil for the default filesystem log.
func openLog(cfg Config) (*sqllog.Log, error) {
	switch strings.ToLower(cfg.LogType) {
	case "", "fs":
		return nil, nil
	case "sql":
		tableID := cfg.TableID
		if tableID == "" {
			tableID = cfg.Table
		}

		return sqllog.Open(tableID, dv.Properties{
			sqllog.DialectKey: cfg.Dialect,
			sqllog.DriverKey:  cfg.Driver,
			sqllog.URIKey:     cfg.URI,
		})
	default:
		return nil, fmt.Errorf("unrecognized log type %q", cfg.LogType)
	}
}

func loadTable(ctx context.Context, output Output, cfg Config, opts []table.Option) *table.Table {
	var (
		tbl *table.Table
		err error
	)
	if cfg.VersionAt != "" {
		var version int64
		if _, err = fmt.Sscan(cfg.VersionAt, &version); err != nil {
			output.Error(fmt.Errorf("invalid --at-version %q: %w", cfg.VersionAt, err))
			os.Exit(1)
		}
		tbl, err = table.LoadVersion(ctx, cfg.Table, version, opts...)
	} else {
		tbl, err = table.Load(ctx, cfg.Table, opts...)
	}
	if err != nil {
		output.Error(err)
		os.Exit(1)
	}

	return tbl
}

func properties(ctx context.Context, output Output, tbl *table.Table, cfg Config) {
	switch {
	case cfg.Get:
		props := tbl.Properties()
		if cfg.PropName == "" {
			output.DescribeProperties(props)

			return
		}

		if val, ok := props[cfg.PropName]; ok {
			output.Text(val)
		} else {
			output.Error(errors.New("could not find property " + cfg.PropName + " on table " + cfg.Table))
			os.Exit(1)
		}
	case cfg.Set:
		output.Text("Setting " + cfg.PropName + "=" + cfg.Value + " on " + cfg.Table)
		txn := tbl.NewTransaction()
		if err := txn.SetProperties(dv.Properties{cfg.PropName: cfg.Value}); err != nil {
			output.Error(err)
			os.Exit(1)
		}
		if _, err := txn.Commit(ctx); err != nil {
			output.Error(err)
			os.Exit(1)
		}
		output.Text("Updated " + cfg.PropName + " on " + cfg.Table)
	}
}

func mergeConf(fileConf *config.Config, resConfig *Config) {
	if len(resConfig.LogType) == 0 {
		resConfig.LogType = fileConf.Log.Type
	}
	if len(resConfig.Dialect) == 0 {
		resConfig.Dialect = fileConf.Log.Dialect
	}
	if len(resConfig.Driver) == 0 {
		resConfig.Driver = fileConf.Log.Driver
	}
	if len(resConfig.URI) == 0 {
		resConfig.URI = fileConf.Log.URI
	}
	if len(resConfig.Output) == 0 {
		resConfig.Output = fileConf.Output
	}
}
