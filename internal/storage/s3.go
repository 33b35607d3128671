package storage

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"
)

const defaultUploadWorkers = 8

// PublishError describes a failed static artifact publish.
type PublishError struct {
	Prefix string
	Key    string
	Err    error
}

func (e *PublishError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("publish %s: object %s: %v", e.Prefix, e.Key, e.Err)
	}
	return fmt.Sprintf("publish %s: %v", e.Prefix, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// ObjectAPI is the slice of the S3 client the publisher uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Publisher mirrors a local directory of built static assets into an object
// store bucket under a per-project key prefix.
type Publisher struct {
	api     ObjectAPI
	bucket  string
	workers int
}

// Options configures the publisher connection.
type Options struct {
	Bucket   string
	Region   string
	Endpoint string
	Workers  int
}

// New dials the object store and returns a publisher.
func New(ctx context.Context, opts Options) (*Publisher, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("storage bucket cannot be empty")
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load object store config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, opts.Bucket, opts.Workers), nil
}

// NewWithClient wraps an existing object store client.
func NewWithClient(api ObjectAPI, bucket string, workers int) *Publisher {
	if workers <= 0 {
		workers = defaultUploadWorkers
	}
	return &Publisher{api: api, bucket: bucket, workers: workers}
}

// UploadDir walks dir and uploads every regular file under prefix, preserving
// relative paths and content types. Uploads run on a bounded worker group; the
// first failure cancels the rest.
func (p *Publisher) UploadDir(ctx context.Context, dir, prefix string) (int, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return 0, &PublishError{Prefix: prefix, Err: fmt.Errorf("stat publish dir: %w", err)}
	}
	if !info.IsDir() {
		return 0, &PublishError{Prefix: prefix, Err: fmt.Errorf("%s is not a directory", dir)}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.workers)
	uploads := 0

	walkErr := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		key := objectKey(prefix, rel)
		uploads++
		group.Go(func() error {
			return p.putFile(groupCtx, path, key)
		})
		return nil
	})
	if walkErr != nil {
		_ = group.Wait()
		return 0, &PublishError{Prefix: prefix, Err: walkErr}
	}
	if err := group.Wait(); err != nil {
		return 0, err
	}
	return uploads, nil
}

func (p *Publisher) putFile(ctx context.Context, path, key string) error {
	file, err := os.Open(path)
	if err != nil {
		return &PublishError{Key: key, Err: err}
	}
	defer file.Close()

	input := &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentTypeFor(path)),
	}
	if _, err := p.api.PutObject(ctx, input); err != nil {
		return &PublishError{Key: key, Err: err}
	}
	return nil
}

// DeleteAll removes every object under prefix. A prefix with no objects is a
// no-op so teardown stays idempotent.
func (p *Publisher) DeleteAll(ctx context.Context, prefix string) error {
	normalized := strings.TrimSuffix(prefix, "/") + "/"
	var continuation *string
	for {
		page, err := p.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(p.bucket),
			Prefix:            aws.String(normalized),
			ContinuationToken: continuation,
		})
		if err != nil {
			return &PublishError{Prefix: prefix, Err: fmt.Errorf("list objects: %w", err)}
		}
		if len(page.Contents) > 0 {
			identifiers := make([]types.ObjectIdentifier, 0, len(page.Contents))
			for _, object := range page.Contents {
				identifiers = append(identifiers, types.ObjectIdentifier{Key: object.Key})
			}
			_, err := p.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(p.bucket),
				Delete: &types.Delete{Objects: identifiers, Quiet: aws.Bool(true)},
			})
			if err != nil {
				return &PublishError{Prefix: prefix, Err: fmt.Errorf("delete objects: %w", err)}
			}
		}
		if page.IsTruncated == nil || !*page.IsTruncated {
			return nil
		}
		continuation = page.NextContinuationToken
	}
}

// objectKey joins prefix and a workspace-relative path with forward slashes.
func objectKey(prefix, rel string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + filepath.ToSlash(rel)
}

func contentTypeFor(path string) string {
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return contentType
}
