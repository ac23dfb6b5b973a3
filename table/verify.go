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
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/lakehouse-go/dv"
	"golang.org/x/sync/errgroup"
)

// VerificationFailure describes a committed deletion vector that could
// not be read back as recorded.
type VerificationFailure struct {
	Path           string
	DeletionVector string
	Err            error
}

func (f VerificationFailure) Error() string {
	return fmt.Sprintf("%s (%s): %v", f.Path, f.DeletionVector, f.Err)
}

func (f VerificationFailure) Unwrap() error { return f.Err }

type VerificationReport struct {
	Version  int64
	Checked  int
	Inline   int
	Failures []VerificationFailure
}

func (r *VerificationReport) OK() bool { return len(r.Failures) == 0 }

// VerifyDeletionVectors reads back every deletion vector of the
// snapshot. A vector passes when its file exists, the recorded range
// decodes, and the decoded cardinality and largest row match the log.
// The report lists every failure; the error wraps ErrVerificationFailed
// and each failure cause.
func (t *Table) VerifyDeletionVectors(ctx context.Context) (*VerificationReport, error) {
	report := &VerificationReport{Version: t.Version()}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.opts.maxWorkers)

	for f := range t.snapshot.AllFiles() {
		if f.DeletionVector == nil {
			continue
		}

		report.Checked++
		if f.DeletionVector.IsInline() {
			report.Inline++
		}

		g.Go(func() error {
			err := t.verifyFile(gctx, f)
			if err == nil {
				return nil
			}
			if ctxErr := gctx.Err(); ctxErr != nil {
				return ctxErr
			}

			mu.Lock()
			defer mu.Unlock()
			report.Failures = append(report.Failures, VerificationFailure{
				Path:           f.Path,
				DeletionVector: f.DeletionVector.UniqueID(),
				Err:            err,
			})

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if report.OK() {
		t.opts.logger.Debug("verified deletion vectors", "root", t.root,
			"version", report.Version, "checked", report.Checked)

		return report, nil
	}

	slices.SortFunc(report.Failures, func(a, b VerificationFailure) int {
		return strings.Compare(a.Path, b.Path)
	})
	t.opts.metrics.VerificationsFailed.Add(float64(len(report.Failures)))

	errs := make([]error, 0, len(report.Failures)+1)
	errs = append(errs, fmt.Errorf("%w: %d of %d deletion vectors at version %d",
		ErrVerificationFailed, len(report.Failures), report.Checked, report.Version))
	for _, f := range report.Failures {
		errs = append(errs, f)
	}

	return report, errors.Join(errs...)
}

func (t *Table) verifyFile(ctx context.Context, f dv.AddFile) error {
	desc := f.DeletionVector
	rows, err := desc.Load(ctx, t.store, t.root)
	if err != nil {
		return err
	}

	last, ok := rows.Last()
	if desc.MaxRowIndex != nil && ok && int64(last) != *desc.MaxRowIndex {
		return fmt.Errorf("%w: largest deleted row is %d, descriptor records %d",
			dv.ErrCorruptData, last, *desc.MaxRowIndex)
	}
	if n, known := f.NumPhysicalRecords(); known && ok && last >= uint64(n) {
		return fmt.Errorf("%w: row %d is beyond the %d rows of the file",
			dv.ErrInvalidRange, last, n)
	}

	return nil
}
