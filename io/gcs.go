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
	"net/url"

	"cloud.google.com/go/storage"
	"gocloud.dev/blob/gcsblob"
	"gocloud.dev/gcp"
	"google.golang.org/api/option"
)

var gcsCredentialTypes = map[string]option.CredentialsType{
	"service_account":              option.ServiceAccount,
	"authorized_user":              option.AuthorizedUser,
	"impersonated_service_account": option.ImpersonatedServiceAccount,
	"external_account":             option.ExternalAccount,
}

// gcsClientOptions translates IO properties into storage client
// options. Unknown credential types are passed as the empty type and
// left to the client library to detect.
func gcsClientOptions(props map[string]string) []option.ClientOption {
	var (
		opts     []option.ClientOption
		credType = gcsCredentialTypes[props[GCSCredType]]
	)

	if endpoint := props[GCSEndpoint]; endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}

	switch {
	case props[GCSJSONKey] != "":
		opts = append(opts, option.WithAuthCredentialsJSON(credType, []byte(props[GCSJSONKey])))
	case props[GCSKeyPath] != "":
		opts = append(opts, option.WithAuthCredentialsFile(credType, props[GCSKeyPath]))
	}

	if _, ok := props[GCSUseJSONAPI]; ok {
		opts = append(opts, storage.WithJSONReads())
	}

	return opts
}

// ParseGCSConfig returns the bucket options for the given properties.
func ParseGCSConfig(props map[string]string) *gcsblob.Options {
	return &gcsblob.Options{ClientOptions: gcsClientOptions(props)}
}

// gcsHTTPClient uses application default credentials when they can be
// found and falls back to an anonymous client otherwise.
func gcsHTTPClient(ctx context.Context, props map[string]string) (*gcp.HTTPClient, error) {
	if noAuth, _ := boolProperty(props, GCSNoAuth); noAuth {
		return gcp.NewAnonymousHTTPClient(gcp.DefaultTransport()), nil
	}

	creds, err := gcp.DefaultCredentials(ctx)
	if err != nil || creds == nil {
		return gcp.NewAnonymousHTTPClient(gcp.DefaultTransport()), nil
	}

	return gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))
}

func createGCSFS(ctx context.Context, parsed *url.URL, props map[string]string) (*blobFileIO, error) {
	client, err := gcsHTTPClient(ctx, props)
	if err != nil {
		return nil, err
	}

	bucket, err := gcsblob.OpenBucket(ctx, client, parsed.Host, ParseGCSConfig(props))
	if err != nil {
		return nil, err
	}

	return createBlobFS(ctx, bucket), nil
}
