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
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/lakehouse-go/dv"
	"github.com/lakehouse-go/dv/bitmap"
	"github.com/lakehouse-go/dv/internal"
	"github.com/lakehouse-go/dv/table"
	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
)

type Output interface {
	DescribeTable(*table.Table)
	Files(*table.Table)
	DescribeProperties(dv.Properties)
	Rows(path string, rows *bitmap.RoaringBitmapArray)
	Verification(*table.VerificationReport)
	Text(string)
	Error(error)
}

type textOutput struct{}

func (t textOutput) DescribeTable(tbl *table.Table) {
	meta := tbl.Metadata()
	protocol := tbl.Snapshot().Protocol()

	var created string
	if meta.CreatedTime != nil {
		created = strconv.FormatInt(*meta.CreatedTime, 10)
	}

	pterm.DefaultTable.
		WithData(pterm.TableData{
			{"Table ID", meta.ID},
			{"Location", tbl.Location()},
			{"Version", strconv.FormatInt(tbl.Version(), 10)},
			{"Created", created},
			{"Protocol", fmt.Sprintf("reader %d, writer %d", protocol.MinReaderVersion, protocol.MinWriterVersion)},
			{"Deletion vectors", strconv.FormatBool(protocol.SupportsDeletionVectors())},
			{"Data files", strconv.Itoa(tbl.Snapshot().NumFiles())},
			{"Records", strconv.FormatInt(tbl.Snapshot().NumRecords(), 10)},
		}).Render()

	pterm.Println("Properties")
	t.DescribeProperties(tbl.Properties())
}

func (textOutput) Files(tbl *table.Table) {
	fileTree := pterm.LeveledList{}
	for f := range tbl.Snapshot().AllFiles() {
		fileTree = append(fileTree, pterm.LeveledListItem{
			Level: 0, Text: "Datafile: " + f.Path,
		})
		if f.DeletionVector != nil {
			fileTree = append(fileTree, pterm.LeveledListItem{
				Level: 1, Text: fmt.Sprintf("Deletion vector: %s, %d rows",
					f.DeletionVector.UniqueID(), f.DeletionVector.Cardinality),
			})
		}
	}

	node := putils.TreeFromLeveledList(fileTree)
	node.Text = fmt.Sprintf("Version %d: %s", tbl.Version(), tbl.Location())
	pterm.DefaultTree.WithRoot(node).Render()
}

func (textOutput) DescribeProperties(props dv.Properties) {
	data := pterm.TableData{[]string{"Key", "Value"}}
	for _, k := range internal.SortedKeys(props) {
		data = append(data, []string{k, props[k]})
	}

	pterm.DefaultTable.
		WithBoxed(true).
		WithHasHeader(true).
		WithHeaderRowSeparator("-").
		WithData(data).Render()
}

func (textOutput) Rows(path string, rows *bitmap.RoaringBitmapArray) {
	pterm.Printfln("%s: %d deleted rows", path, rows.Cardinality())
	for r := range rows.Values() {
		pterm.Println(r)
	}
}

func (textOutput) Verification(report *table.VerificationReport) {
	pterm.DefaultTable.
		WithData(pterm.TableData{
			{"Version", strconv.FormatInt(report.Version, 10)},
			{"Checked", strconv.Itoa(report.Checked)},
			{"Inline", strconv.Itoa(report.Inline)},
			{"Failures", strconv.Itoa(len(report.Failures))},
		}).Render()

	if report.OK() {
		return
	}

	data := pterm.TableData{{"Path", "Deletion vector", "Error"}}
	for _, f := range report.Failures {
		data = append(data, []string{f.Path, f.DeletionVector, f.Err.Error()})
	}
	pterm.DefaultTable.
		WithHasHeader(true).
		WithHeaderRowSeparator("-").
		WithData(data).Render()
}

func (textOutput) Text(val string) {
	fmt.Println(val)
}

func (textOutput) Error(err error) {
	log.Fatal(err)
}

type jsonOutput struct{}

func (j jsonOutput) write(v any) {
	if err := json.NewEncoder(os.Stdout).Encode(v); err != nil {
		j.Error(err)
	}
}

func (j jsonOutput) DescribeTable(tbl *table.Table) {
	type dataType struct {
		Location string       `json:"location"`
		Version  int64        `json:"version"`
		Protocol *dv.Protocol `json:"protocol"`
		Metadata *dv.Metadata `json:"metadata"`
		Files    int          `json:"numFiles"`
		Records  int64        `json:"numRecords"`
	}

	j.write(dataType{
		Location: tbl.Location(),
		Version:  tbl.Version(),
		Protocol: tbl.Snapshot().Protocol(),
		Metadata: tbl.Metadata(),
		Files:    tbl.Snapshot().NumFiles(),
		Records:  tbl.Snapshot().NumRecords(),
	})
}

func (j jsonOutput) Files(tbl *table.Table) {
	files := tbl.Snapshot().Files()
	if files == nil {
		files = []dv.AddFile{}
	}
	j.write(files)
}

func (j jsonOutput) DescribeProperties(props dv.Properties) {
	if props == nil {
		props = dv.Properties{}
	}
	j.write(props)
}

func (j jsonOutput) Rows(path string, rows *bitmap.RoaringBitmapArray) {
	type dataType struct {
		Path        string   `json:"path"`
		Cardinality uint64   `json:"cardinality"`
		Rows        []uint64 `json:"rows"`
	}

	j.write(dataType{Path: path, Cardinality: rows.Cardinality(), Rows: rows.ToArray()})
}

func (j jsonOutput) Verification(report *table.VerificationReport) {
	type failure struct {
		Path           string `json:"path"`
		DeletionVector string `json:"deletionVector"`
		Error          string `json:"error"`
	}
	type dataType struct {
		Version  int64     `json:"version"`
		Checked  int       `json:"checked"`
		Inline   int       `json:"inline"`
		Failures []failure `json:"failures"`
	}

	out := dataType{
		Version:  report.Version,
		Checked:  report.Checked,
		Inline:   report.Inline,
		Failures: make([]failure, 0, len(report.Failures)),
	}
	for _, f := range report.Failures {
		out.Failures = append(out.Failures, failure{f.Path, f.DeletionVector, f.Err.Error()})
	}
	j.write(out)
}

func (j jsonOutput) Text(val string) {
	type dataType struct {
		Data string `json:"data"`
	}

	j.write(dataType{Data: val})
}

func (jsonOutput) Error(err error) {
	log.Fatal(err)
}
