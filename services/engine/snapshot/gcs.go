// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSArchiver mirrors snapshot documents into a GCS bucket.
type GCSArchiver struct {
	client *storage.Client
	bucket string
}

// NewGCSArchiver connects to GCS. With an empty credentialsPath the
// client falls back to application default credentials.
func NewGCSArchiver(ctx context.Context, bucket, credentialsPath string) (*GCSArchiver, error) {
	if bucket == "" {
		return nil, errors.New("bucket name must not be empty")
	}

	var opts []option.ClientOption
	if credentialsPath != "" {
		if _, err := os.Stat(credentialsPath); err != nil {
			return nil, fmt.Errorf("service account key not found at %s: %w", credentialsPath, err)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSArchiver{client: client, bucket: bucket}, nil
}

// Upload copies one local file to gs://{bucket}/{remotePath}.
func (a *GCSArchiver) Upload(ctx context.Context, localPath, remotePath string) error {
	local, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer local.Close()

	writer := a.client.Bucket(a.bucket).Object(remotePath).NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(writer, local); err != nil {
		writer.Close()
		return fmt.Errorf("copy %s to gs://%s/%s: %w", localPath, a.bucket, remotePath, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close GCS writer for %s: %w", remotePath, err)
	}
	return nil
}

// Close releases the underlying client.
func (a *GCSArchiver) Close() error {
	return a.client.Close()
}
