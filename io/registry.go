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
	"fmt"
	"maps"
	"net/url"
	"slices"
	"sync"
)

// SchemeFactory creates an IO implementation for a parsed location and
// the configured IO properties.
type SchemeFactory func(ctx context.Context, parsed *url.URL, props map[string]string) (IO, error)

// schemeRegistry maps URL schemes to the factories that open them.
type schemeRegistry struct {
	mu        sync.RWMutex
	factories map[string]SchemeFactory
}

func (r *schemeRegistry) register(factory SchemeFactory, schemes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range schemes {
		r.factories[s] = factory
	}
}

func (r *schemeRegistry) unregister(scheme string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.factories, scheme)
}

func (r *schemeRegistry) lookup(scheme string) (SchemeFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[scheme]

	return f, ok
}

func (r *schemeRegistry) schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.factories))
}

func (r *schemeRegistry) clone() *schemeRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return &schemeRegistry{factories: maps.Clone(r.factories)}
}

var registry = &schemeRegistry{factories: map[string]SchemeFactory{}}

// Register adds a scheme factory to the registry, replacing any
// factory already registered for the scheme.
func Register(scheme string, factory SchemeFactory) {
	if factory == nil {
		panic("io: Register factory is nil")
	}
	registry.register(factory, scheme)
}

// Unregister removes the requested scheme factory from the registry.
func Unregister(scheme string) { registry.unregister(scheme) }

// GetRegisteredSchemes returns the registered scheme names in sorted
// order.
func GetRegisteredSchemes() []string { return registry.schemes() }

type bucketOpener func(context.Context, *url.URL, map[string]string) (*blobFileIO, error)

func (open bucketOpener) factory() SchemeFactory {
	return func(ctx context.Context, parsed *url.URL, props map[string]string) (IO, error) {
		bfs, err := open(ctx, parsed, props)
		if err != nil {
			return nil, fmt.Errorf("open bucket %s://%s: %w", parsed.Scheme, parsed.Host, err)
		}

		return bfs, nil
	}
}

func openLocal(context.Context, *url.URL, map[string]string) (IO, error) { return LocalFS{}, nil }

func init() {
	registry.register(openLocal, "", "file")
	registry.register(bucketOpener(createMemFS).factory(), "mem")
	registry.register(bucketOpener(createS3FS).factory(), "s3", "s3a", "s3n")
	registry.register(bucketOpener(createGCSFS).factory(), "gs")
	registry.register(bucketOpener(createAzureFS).factory(), "abfs", "abfss", "wasb", "wasbs")
}

func inferFileIOFromScheme(ctx context.Context, location string, props map[string]string) (IO, error) {
	parsed, err := url.Parse(location)
	if err != nil {
		return nil, err
	}

	factory, ok := registry.lookup(parsed.Scheme)
	if !ok {
		return nil, fmt.Errorf("%w: scheme %q of %s", ErrIONotFound, parsed.Scheme, location)
	}

	return factory(ctx, parsed, props)
}
