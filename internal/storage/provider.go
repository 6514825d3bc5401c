// Package storage selects the blob store that receives downloaded images and
// the rendered report. Output locations are either a local directory or a
// Cloud Storage prefix written as gs://bucket/prefix.
package storage

import (
	"context"
	"fmt"
	"strings"

	gcs "cloud.google.com/go/storage"

	"github.com/JakeFAU/animal-gallery/internal/crawler"
	gcsstore "github.com/JakeFAU/animal-gallery/internal/storage/gcs"
	"github.com/JakeFAU/animal-gallery/internal/storage/local"
)

const gcsScheme = "gs://"

// CloseFunc releases resources held by an opened store.
type CloseFunc func() error

// Open returns the BlobStore for output.
func Open(ctx context.Context, output string) (crawler.BlobStore, CloseFunc, error) {
	output = strings.TrimSpace(output)
	if strings.HasPrefix(output, gcsScheme) {
		bucket, prefix, err := ParseGCSLocation(output)
		if err != nil {
			return nil, nil, err
		}
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create gcs client: %w", err)
		}
		store, err := gcsstore.New(client, gcsstore.Config{Bucket: bucket, Prefix: prefix})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("init gcs store: %w", err)
		}
		return store, client.Close, nil
	}

	store, err := local.New(local.Config{BaseDir: output})
	if err != nil {
		return nil, nil, fmt.Errorf("init local store: %w", err)
	}
	return store, func() error { return nil }, nil
}

// ParseGCSLocation splits gs://bucket/prefix into its parts.
func ParseGCSLocation(location string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(location, gcsScheme)
	if !ok {
		return "", "", fmt.Errorf("not a gcs location: %q", location)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("gcs location %q has no bucket", location)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}
