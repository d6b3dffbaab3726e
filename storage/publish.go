package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// uploadFunc copies r to object and returns the number of bytes written.
type uploadFunc func(ctx context.Context, object string, r io.Reader) (int64, error)

// Publisher copies committed artifacts to a gs://bucket/prefix. Uploads go
// through a circuit breaker so that an unavailable bucket fails fast
// instead of timing out once per artifact.
type Publisher struct {
	bucket  string
	prefix  string
	upload  uploadFunc
	breaker *gobreaker.CircuitBreaker[int64]
	logger  *zap.Logger
	closer  io.Closer
}

func newBreaker(name string) *gobreaker.CircuitBreaker[int64] {
	return gobreaker.NewCircuitBreaker[int64](gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
}

// NewPublisher connects to Cloud Storage for the destination gs://bucket/prefix.
func NewPublisher(ctx context.Context, dest string, logger *zap.Logger, opts ...option.ClientOption) (*Publisher, error) {
	bucket, prefix, err := ParseGCS(dest)
	if err != nil {
		return nil, err
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	handle := client.Bucket(bucket)
	upload := func(ctx context.Context, object string, r io.Reader) (int64, error) {
		w := handle.Object(object).NewWriter(ctx)
		n, err := io.Copy(w, r)
		if err != nil {
			_ = w.Close()
			return n, err
		}
		return n, w.Close()
	}
	p := newPublisher(bucket, prefix, upload, logger)
	p.closer = client
	return p, nil
}

func newPublisher(bucket, prefix string, upload uploadFunc, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		bucket:  bucket,
		prefix:  prefix,
		upload:  upload,
		breaker: newBreaker("gcs-publish"),
		logger:  logger,
	}
}

// Publish uploads each named file of dir under the destination prefix.
func (p *Publisher) Publish(ctx context.Context, dir string, names []string) error {
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		object := path.Join(p.prefix, name)
		n, err := p.breaker.Execute(func() (int64, error) {
			f, err := os.Open(filepath.Join(dir, name))
			if err != nil {
				return 0, err
			}
			defer f.Close()
			return p.upload(ctx, object, f)
		})
		if err != nil {
			return fmt.Errorf("failed to publish %s to gs://%s/%s: %w", name, p.bucket, object, err)
		}
		p.logger.Info("artifact published",
			zap.String("object", "gs://"+p.bucket+"/"+object),
			zap.Int64("bytes", n))
	}
	return nil
}

// Close releases the storage client.
func (p *Publisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}
