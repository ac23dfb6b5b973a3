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
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"gocloud.dev/blob/azureblob"
)

const defaultAzureStorageDomain = "core.windows.net"

// azureLocation splits abfs://<container>@<account>.dfs.<domain>/<path>
// (or the wasb form using .blob.) into its parts.
func azureLocation(parsed *url.URL) (account, containerName, domain string, err error) {
	if parsed.User == nil || parsed.User.Username() == "" {
		return "", "", "", fmt.Errorf("azure location %s is missing a container name", parsed.Redacted())
	}
	containerName = parsed.User.Username()

	host := parsed.Hostname()
	account, rest, _ := strings.Cut(host, ".")
	if account == "" {
		return "", "", "", fmt.Errorf("azure location %s is missing an account name", parsed.Redacted())
	}

	domain = defaultAzureStorageDomain
	for _, svc := range []string{"dfs.", "blob."} {
		if d, ok := strings.CutPrefix(rest, svc); ok && d != "" {
			domain = d
		}
	}

	return account, containerName, domain, nil
}

func azureContainerClient(parsed *url.URL, props map[string]string) (*container.Client, error) {
	account, containerName, domain, err := azureLocation(parsed)
	if err != nil {
		return nil, err
	}

	if connStr, ok := propertiesWithPrefix(props, AdlsConnectionStringPrefix)[account]; ok {
		return container.NewClientFromConnectionString(connStr, containerName, nil)
	}

	protocol := props[AdlsProtocol]
	if protocol == "" {
		protocol = "https"
	}

	if sas, ok := propertiesWithPrefix(props, AdlsSasTokenPrefix)[account]; ok {
		containerURL := fmt.Sprintf("%s://%s.blob.%s/%s?%s", protocol, account, domain, containerName,
			strings.TrimPrefix(sas, "?"))
		if endpoint := props[AdlsEndpoint]; endpoint != "" {
			containerURL = fmt.Sprintf("%s/%s?%s", strings.TrimSuffix(endpoint, "/"), containerName,
				strings.TrimPrefix(sas, "?"))
		}

		return container.NewClientWithNoCredential(containerURL, nil)
	}

	svcURL := azureblob.ServiceURL(props[AdlsEndpoint])
	if svcURL == "" {
		opts := azureblob.NewDefaultServiceURLOptions()
		opts.AccountName = account
		opts.StorageDomain = domain
		opts.Protocol = protocol
		svcURL, err = azureblob.NewServiceURL(opts)
		if err != nil {
			return nil, err
		}
	}

	if key := props[AdlsSharedKeyAccountKey]; key != "" {
		name := props[AdlsSharedKeyAccountName]
		if name == "" {
			name = account
		}
		cred, err := azblob.NewSharedKeyCredential(name, key)
		if err != nil {
			return nil, err
		}

		containerURL := strings.TrimSuffix(string(svcURL), "/") + "/" + containerName

		return container.NewClientWithSharedKeyCredential(containerURL, cred, nil)
	}

	return azureblob.NewDefaultClient(svcURL, azureblob.ContainerName(containerName))
}

func createAzureFS(ctx context.Context, parsed *url.URL, props map[string]string) (*blobFileIO, error) {
	client, err := azureContainerClient(parsed, props)
	if err != nil {
		return nil, err
	}

	bucket, err := azureblob.OpenBucket(ctx, client, nil)
	if err != nil {
		return nil, err
	}

	return createBlobFS(ctx, bucket), nil
}
