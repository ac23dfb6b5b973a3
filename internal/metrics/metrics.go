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

// Package metrics exposes prometheus counters for deletion vector
// storage and table commits.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all metrics for the deletion vector subsystem.
type Registry struct {
	// Store metrics
	StoreBytesWritten prometheus.Counter
	StoreWrites       *prometheus.CounterVec
	StoreReads        *prometheus.CounterVec
	StoreReadDuration *prometheus.HistogramVec

	// Table metrics
	RowsDeleted         prometheus.Counter
	InlineDVs           prometheus.Counter
	Commits             *prometheus.CounterVec
	Checkpoints         prometheus.Counter
	VerificationsFailed prometheus.Counter

	registry *prometheus.Registry
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// NewRegistry creates metrics bound to a fresh prometheus registry.
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}
	factory := promauto.With(r.registry)

	r.StoreBytesWritten = factory.NewCounter(prometheus.CounterOpts{
		Name: "dv_store_bytes_written_total",
		Help: "Bytes of serialized deletion vectors written, framing excluded",
	})
	r.StoreWrites = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "dv_store_writes_total",
		Help: "Deletion vector records written",
	}, []string{"layout"})
	r.StoreReads = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "dv_store_reads_total",
		Help: "Deletion vector reads by result",
	}, []string{"layout", "result"})
	r.StoreReadDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dv_store_read_duration_seconds",
		Help:    "Deletion vector read duration in seconds",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
	}, []string{"layout"})

	r.RowsDeleted = factory.NewCounter(prometheus.CounterOpts{
		Name: "dv_rows_deleted_total",
		Help: "Rows newly marked deleted by committed deletion vectors",
	})
	r.InlineDVs = factory.NewCounter(prometheus.CounterOpts{
		Name: "dv_inline_total",
		Help: "Deletion vectors stored inline in the log",
	})
	r.Commits = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "dv_table_commits_total",
		Help: "Transaction log commits by result",
	}, []string{"result"})
	r.Checkpoints = factory.NewCounter(prometheus.CounterOpts{
		Name: "dv_table_checkpoints_total",
		Help: "Checkpoints written",
	})
	r.VerificationsFailed = factory.NewCounter(prometheus.CounterOpts{
		Name: "dv_verifications_failed_total",
		Help: "Committed deletion vectors that failed on-disk verification",
	})

	return r
}

// DefaultRegistry returns the process wide registry.
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})

	return defaultRegistry
}

// Gatherer exposes the underlying registry for scraping.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.registry }

// RecordWrite records one deletion vector record of n payload bytes.
func (r *Registry) RecordWrite(layout string, n int) {
	r.StoreWrites.WithLabelValues(layout).Inc()
	r.StoreBytesWritten.Add(float64(n))
}

// RecordRead records a read and its outcome.
func (r *Registry) RecordRead(layout string, err error, duration time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.StoreReads.WithLabelValues(layout, result).Inc()
	r.StoreReadDuration.WithLabelValues(layout).Observe(duration.Seconds())
}

// RecordCommit records a commit attempt.
func (r *Registry) RecordCommit(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.Commits.WithLabelValues(result).Inc()
}
