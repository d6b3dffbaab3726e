package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const gcsScheme = "gs://"

// IsGCS reports whether path names a Cloud Storage object or prefix.
func IsGCS(path string) bool {
	return strings.HasPrefix(path, gcsScheme)
}

// ParseGCS splits gs://bucket/object into its bucket and object name.
func ParseGCS(path string) (bucket, object string, err error) {
	if !IsGCS(path) {
		return "", "", fmt.Errorf("not a gs:// path: %q", path)
	}
	rest := strings.TrimPrefix(path, gcsScheme)
	bucket, object, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in %q", path)
	}
	return bucket, object, nil
}

// Open returns a reader over a local file or a gs:// object.
func Open(ctx context.Context, path string, opts ...option.ClientOption) (io.ReadCloser, error) {
	if !IsGCS(path) {
		return os.Open(path)
	}
	bucket, object, err := ParseGCS(path)
	if err != nil {
		return nil, err
	}
	if object == "" {
		return nil, fmt.Errorf("missing object name in %q", path)
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &objectReader{Reader: r, client: client}, nil
}

// objectReader closes the client along with the object reader.
type objectReader struct {
	*gcs.Reader
	client *gcs.Client
}

func (r *objectReader) Close() error {
	err := r.Reader.Close()
	if cerr := r.client.Close(); err == nil {
		err = cerr
	}
	return err
}
