// Package mirror copies published snapshots to object storage.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"

	"svld/internal/svld"
)

const (
	// deleteBatchSize is the DeleteObjects per-request limit.
	deleteBatchSize = 1000

	defaultUploadConcurrency = 4
)

// Client is the subset of the S3 API the mirror uses.
type Client interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Walker lists the entries of a snapshot tree.
type Walker interface {
	Walk(root string) ([]svld.TreeEntry, error)
}

// S3Mirror stores each snapshot as objects under <prefix>/<snapshot name>/,
// one object per file, keyed by the file's slash-separated relative path.
type S3Mirror struct {
	client      Client
	uploader    *manager.Uploader
	bucket      string
	prefix      string
	walker      Walker
	logger      svld.Logger
	concurrency int
}

// NewS3Mirror creates a mirror writing to bucket under prefix.
func NewS3Mirror(client Client, bucket, prefix string, walker Walker, logger svld.Logger) *S3Mirror {
	if logger == nil {
		logger = svld.NewNopLogger()
	}
	return &S3Mirror{
		client:      client,
		uploader:    manager.NewUploader(client),
		bucket:      bucket,
		prefix:      strings.Trim(prefix, "/"),
		walker:      walker,
		logger:      logger,
		concurrency: defaultUploadConcurrency,
	}
}

// Bucket returns the bucket name.
func (m *S3Mirror) Bucket() string { return m.bucket }

func (m *S3Mirror) key(parts ...string) string {
	if m.prefix != "" {
		parts = append([]string{m.prefix}, parts...)
	}
	return path.Join(parts...)
}

// PutSnapshot uploads every file of the snapshot tree at dir.
func (m *S3Mirror) PutSnapshot(ctx context.Context, name, dir string) error {
	entries, err := m.walker.Walk(dir)
	if err != nil {
		return fmt.Errorf("listing snapshot %s: %w", name, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	uploaded := 0
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		local := filepath.Join(dir, filepath.FromSlash(e.RelPath))
		key := m.key(name, e.RelPath)
		g.Go(func() error {
			return m.putFile(ctx, key, local)
		})
		uploaded++
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("mirroring snapshot %s: %w", name, err)
	}

	m.logger.Info("snapshot mirrored", "name", name, "bucket", m.bucket, "objects", uploaded)
	return nil
}

// PutFile uploads a single local file to key, relative to the mirror prefix.
func (m *S3Mirror) PutFile(ctx context.Context, key, localPath string) error {
	return m.putFile(ctx, m.key(key), localPath)
}

func (m *S3Mirror) putFile(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	_, err = m.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	m.logger.Debug("uploaded object", "key", key)
	return nil
}

// DeleteSnapshot removes every object under the snapshot's prefix.
func (m *S3Mirror) DeleteSnapshot(ctx context.Context, name string) error {
	prefix := m.key(name) + "/"

	var keys []string
	p := s3.NewListObjectsV2Paginator(m.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("listing %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	for start := 0; start < len(keys); start += deleteBatchSize {
		batch := keys[start:min(start+deleteBatchSize, len(keys))]
		objects := make([]types.ObjectIdentifier, len(batch))
		for i, k := range batch {
			objects[i] = types.ObjectIdentifier{Key: aws.String(k)}
		}

		out, err := m.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(m.bucket),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return fmt.Errorf("deleting %s: %w", prefix, err)
		}
		if len(out.Errors) > 0 {
			var errs []error
			for _, e := range out.Errors {
				errs = append(errs, fmt.Errorf("%s: %s", aws.ToString(e.Key), aws.ToString(e.Message)))
			}
			return fmt.Errorf("deleting %s: %w", prefix, errors.Join(errs...))
		}
	}

	m.logger.Info("mirrored snapshot deleted", "name", name, "objects", len(keys))
	return nil
}

var _ svld.Mirror = (*S3Mirror)(nil)
