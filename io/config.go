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
	"strconv"
	"strings"
)

// IO property keys. Table and CLI configuration pass these through
// unchanged to the file system selected for a location.
const (
	S3Region                 = "s3.region"
	S3SessionToken           = "s3.session-token"
	S3SecretAccessKey        = "s3.secret-access-key"
	S3AccessKeyID            = "s3.access-key-id"
	S3EndpointURL            = "s3.endpoint"
	S3ProxyURI               = "s3.proxy-uri"
	S3ForceVirtualAddressing = "s3.force-virtual-addressing"

	// ClientRegion is the region fallback shared by all clients.
	ClientRegion = "client.region"
)

const (
	GCSEndpoint   = "gcs.endpoint"
	GCSKeyPath    = "gcs.keypath"
	GCSJSONKey    = "gcs.jsonkey"
	GCSCredType   = "gcs.credtype"
	// GCSUseJSONAPI switches reads to the JSON API when set to any value.
	GCSUseJSONAPI = "gcs.usejsonapi"
	// GCSNoAuth opens the bucket with an anonymous client, as needed by
	// public buckets and local emulators.
	GCSNoAuth     = "gcs.no-auth"
)

// Azure keys ending in a dot are prefixes completed by the storage
// account name.
const (
	AdlsSasTokenPrefix         = "adls.sas-token."
	AdlsConnectionStringPrefix = "adls.connection-string."
	AdlsSharedKeyAccountName   = "adls.auth.shared-key.account.name"
	AdlsSharedKeyAccountKey    = "adls.auth.shared-key.account.key"
	AdlsEndpoint               = "adls.endpoint"
	AdlsProtocol               = "adls.protocol"
)

// propertiesWithPrefix returns the properties starting with prefix,
// keyed by the rest of their name.
func propertiesWithPrefix(props map[string]string, prefix string) map[string]string {
	out := map[string]string{}
	for k, v := range props {
		if rest, ok := strings.CutPrefix(k, prefix); ok {
			out[rest] = v
		}
	}

	return out
}

// boolProperty reports the parsed value of key and whether it was set
// to a valid boolean.
func boolProperty(props map[string]string, key string) (value, ok bool) {
	raw, found := props[key]
	if !found {
		return false, false
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}

	return v, true
}
