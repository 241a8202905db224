package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// deleteBatchSize is the S3 DeleteObjects per-request limit.
const deleteBatchSize = 1000

// envelopeSuffix is appended to every content ID to form its object key.
// Non-envelope objects under the same prefix (e.g. the batch journal) have
// no such suffix and are invisible to List, which keeps reconciliation from
// ever deleting them.
const envelopeSuffix = ".json"

// S3Config holds configuration for the S3 storage backend.
type S3Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string
	// Prefix is the key prefix within the bucket (optional).
	Prefix string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (e.g. Cloudflare R2, MinIO). Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing (bucket in path, not subdomain).
	// Required by most S3-compatible providers (R2, MinIO, etc.).
	UsePathStyle bool
}

// Validate checks that required S3 configuration is present.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("S3 bucket is required")
	}
	return nil
}

// s3API is the subset of the S3 client the store uses.
// Narrowed for test substitution.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3Store is an S3-backed ContentStore.
// Content IDs map to object keys as <prefix>/<contentID>.json.
type S3Store struct {
	client s3API
	config S3Config
}

// NewS3Store creates an S3 content store.
// Uses the AWS SDK default credential chain (env vars, shared config, IAM role).
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return NewS3StoreWithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg), nil
}

// NewS3StoreWithClient creates an S3 store over an existing client.
// Use for tests with a fake s3API.
func NewS3StoreWithClient(client s3API, cfg S3Config) *S3Store {
	return &S3Store{client: client, config: cfg}
}

// objectKey maps a content ID to its object key.
func (s *S3Store) objectKey(contentID string) string {
	if s.config.Prefix == "" {
		return contentID + envelopeSuffix
	}
	return strings.TrimSuffix(s.config.Prefix, "/") + "/" + contentID + envelopeSuffix
}

// contentID maps an object key back to a content ID.
// Returns "" for keys outside the envelope keyspace.
func (s *S3Store) contentID(key string) string {
	if s.config.Prefix != "" {
		trimmed := strings.TrimPrefix(key, strings.TrimSuffix(s.config.Prefix, "/")+"/")
		if trimmed == key {
			return ""
		}
		key = trimmed
	}
	if !strings.HasSuffix(key, envelopeSuffix) {
		return ""
	}
	return strings.TrimSuffix(key, envelopeSuffix)
}

// Put stores an envelope as a JSON object.
func (s *S3Store) Put(ctx context.Context, contentID string, envelope any) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope %s: %w", contentID, err)
	}

	key := s.objectKey(contentID)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return classifyS3("put", contentID, err)
	}
	return nil
}

// List returns a pager over content IDs under base.
func (s *S3Store) List(ctx context.Context, base string) Pager {
	prefix := s.config.Prefix
	if prefix != "" {
		prefix = strings.TrimSuffix(prefix, "/") + "/"
	}
	return &s3Pager{store: s, keyPrefix: prefix + base}
}

type s3Pager struct {
	store     *S3Store
	keyPrefix string
	token     *string
	done      bool
}

// Next fetches the next page of content IDs.
// An empty page terminates pagination. Underlying pages holding only
// non-envelope keys are skipped so an empty result always means done.
func (p *s3Pager) Next(ctx context.Context) ([]string, error) {
	for !p.done {
		out, err := p.store.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(p.store.config.Bucket),
			Prefix:            aws.String(p.keyPrefix),
			ContinuationToken: p.token,
		})
		if err != nil {
			return nil, classifyS3("list", p.keyPrefix, err)
		}

		ids := make([]string, 0, len(out.Contents))
		for _, obj := range out.Contents {
			if obj.Key == nil {
				continue
			}
			if id := p.store.contentID(*obj.Key); id != "" {
				ids = append(ids, id)
			}
		}

		if out.IsTruncated != nil && *out.IsTruncated {
			p.token = out.NextContinuationToken
		} else {
			p.done = true
		}
		if len(ids) > 0 {
			return ids, nil
		}
	}
	return nil, nil
}

// Delete removes content IDs in batches of deleteBatchSize.
func (s *S3Store) Delete(ctx context.Context, contentIDs []string) error {
	for start := 0; start < len(contentIDs); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(contentIDs))

		objects := make([]s3types.ObjectIdentifier, 0, end-start)
		for _, id := range contentIDs[start:end] {
			objects = append(objects, s3types.ObjectIdentifier{
				Key: aws.String(s.objectKey(id)),
			})
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.config.Bucket),
			Delete: &s3types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return classifyS3("delete", "", err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return NewStorageError(ErrNetwork, "delete", aws.ToString(first.Key),
				fmt.Errorf("%s: %s (and %d more)", aws.ToString(first.Code), aws.ToString(first.Message), len(out.Errors)-1))
		}
	}
	return nil
}

// PutBlob writes a raw object (no envelope suffix, invisible to List).
func (s *S3Store) PutBlob(ctx context.Context, key string, data []byte) error {
	fullKey := key
	if s.config.Prefix != "" {
		fullKey = strings.TrimSuffix(s.config.Prefix, "/") + "/" + key
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(fullKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/msgpack"),
	})
	if err != nil {
		return classifyS3("put", key, err)
	}
	return nil
}

// GetBlob reads a raw object.
func (s *S3Store) GetBlob(ctx context.Context, key string) ([]byte, error) {
	fullKey := key
	if s.config.Prefix != "" {
		fullKey = strings.TrimSuffix(s.config.Prefix, "/") + "/" + key
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		return nil, classifyS3("get", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, classifyS3("get", key, err)
	}
	return buf.Bytes(), nil
}

// Verify S3Store implements the store interfaces.
var (
	_ ContentStore = (*S3Store)(nil)
	_ BlobStore    = (*S3Store)(nil)
)
