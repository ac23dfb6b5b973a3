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

// Package utils holds request-scoped values shared by the io and table
// packages.
package utils

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
)

type (
	awsctxkey    struct{}
	loggerctxkey struct{}
)

// WithAwsConfig attaches an AWS configuration that s3 file systems use
// instead of building one from IO properties.
func WithAwsConfig(ctx context.Context, cfg *aws.Config) context.Context {
	return context.WithValue(ctx, awsctxkey{}, cfg)
}

func GetAwsConfig(ctx context.Context) *aws.Config {
	if v := ctx.Value(awsctxkey{}); v != nil {
		return v.(*aws.Config)
	}
	return nil
}

func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerctxkey{}, logger)
}

// Logger returns the logger attached to ctx, or slog.Default.
func Logger(ctx context.Context) *slog.Logger {
	if v, ok := ctx.Value(loggerctxkey{}).(*slog.Logger); ok && v != nil {
		return v
	}
	return slog.Default()
}
