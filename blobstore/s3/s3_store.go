package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/hupe1980/textgo/blobstore"
)

// Client is the subset of the S3 API the store uses.
type Client interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Store is a blobstore.BlobStore on an S3 bucket. Writes go through the
// multipart upload manager.
type Store struct {
	client   Client
	bucket   string
	prefix   string
	uploader *uploader
}

// Option configures New.
type Option func(*settings)

type settings struct {
	prefix   string
	region   string
	endpoint string
	upload   UploadConfig
}

// WithPrefix sets the key prefix.
func WithPrefix(p string) Option { return func(s *settings) { s.prefix = p } }

// WithRegion overrides the AWS region.
func WithRegion(r string) Option { return func(s *settings) { s.region = r } }

// WithEndpoint sets a custom endpoint (path-style addressing).
func WithEndpoint(e string) Option { return func(s *settings) { s.endpoint = e } }

// WithUploadConfig overrides the multipart upload settings.
func WithUploadConfig(c UploadConfig) Option { return func(s *settings) { s.upload = c } }

// New creates a Store using the default AWS credential chain.
func New(ctx context.Context, bucket string, opts ...Option) (*Store, error) {
	st := settings{upload: DefaultUploadConfig()}
	for _, o := range opts {
		o(&st)
	}

	var loadOpts []func(*config.LoadOptions) error
	if st.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(st.region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if st.endpoint != "" {
			o.BaseEndpoint = aws.String(st.endpoint)
			o.UsePathStyle = true
		}
	})

	s := NewStore(client, bucket, st.prefix)
	s.uploader = newUploader(client, st.upload)
	return s, nil
}

// NewStore returns a store over an existing client, writing below prefix.
func NewStore(client Client, bucket, prefix string) *Store {
	return &Store{
		client:   client,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		uploader: newUploader(client, DefaultUploadConfig()),
	}
}

func (s *Store) objectKey(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func (s *Store) blobName(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, s.prefix), "/")
}

func notFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}

// Open issues a HEAD for the size and returns a handle serving ranged GETs.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	key := s.objectKey(name)
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("s3: %s: %w", name, blobstore.ErrNotFound)
		}
		return nil, fmt.Errorf("s3: head %s: %w", name, err)
	}
	return &object{ctx: ctx, store: s, key: key, size: aws.ToInt64(head.ContentLength)}, nil
}

func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	if err := upload(ctx, s.uploader, s.bucket, s.objectKey(name), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("s3: put %s: %w", name, err)
	}
	return nil
}

// Delete removes name. S3 reports success for missing keys.
func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(name)),
	})
	if err != nil {
		return fmt.Errorf("s3: delete %s: %w", name, err)
	}
	return nil
}

// List pages through ListObjectsV2 and returns the sorted names below prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.objectKey(prefix)),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if name := s.blobName(aws.ToString(obj.Key)); name != "" {
				names = append(names, name)
			}
		}
	}
	slices.Sort(names)
	return names, nil
}

type object struct {
	ctx   context.Context
	store *Store
	key   string
	size  int64
}

func (o *object) Close() error { return nil }

func (o *object) Size() int64 { return o.size }

func (o *object) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off >= o.size {
		return 0, io.EOF
	}
	want := min(int64(len(p)), o.size-off)

	resp, err := o.store.client.GetObject(o.ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.store.bucket),
		Key:    aws.String(o.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, off+want-1)),
	})
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	n, err := io.ReadFull(resp.Body, p[:want])
	if err == nil && int64(n) < int64(len(p)) {
		err = io.EOF
	}
	return n, err
}
