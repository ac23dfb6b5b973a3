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
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lakehouse-go/dv/bitmap"
)

func parseProperties(propStr string) (map[string]string, error) {
	if propStr == "" {
		return map[string]string{}, nil
	}
	props := make(map[string]string)
	pairs := strings.Split(propStr, ",")

	for _, pair := range pairs {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid property pair: %s (expected key=value)", pair)
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			return nil, fmt.Errorf("property key cannot be empty in: %s", pair)
		}
		props[key] = value
	}

	return props, nil
}

// parseRows reads a list such as "0-10,15,20-30" into a bitmap. Ranges
// exclude their end.
func parseRows(rowStr string) (*bitmap.RoaringBitmapArray, error) {
	if strings.TrimSpace(rowStr) == "" {
		return nil, errors.New("no rows given")
	}

	rows := bitmap.New()
	for _, part := range strings.Split(rowStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		start, end, isRange := strings.Cut(part, "-")
		lo, err := strconv.ParseUint(strings.TrimSpace(start), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid row %q: %w", part, err)
		}

		if !isRange {
			if err := rows.Add(lo); err != nil {
				return nil, err
			}

			continue
		}

		hi, err := strconv.ParseUint(strings.TrimSpace(end), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid row range %q: %w", part, err)
		}
		if err := rows.AddRange(lo, hi); err != nil {
			return nil, err
		}
	}

	return rows, nil
}
