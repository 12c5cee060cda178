package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/hupe1980/textgo/blobstore"
)

const contentType = "application/octet-stream"

// Option configures a Store.
type Option func(*Store)

// WithStorageClass sets the storage class of uploaded blobs.
func WithStorageClass(class string) Option {
	return func(s *Store) { s.storageClass = class }
}

// WithUserMetadata attaches metadata to every uploaded blob.
func WithUserMetadata(md map[string]string) Option {
	return func(s *Store) { s.userMetadata = md }
}

// Store is a blobstore.BlobStore on a MinIO or S3-compatible bucket.
type Store struct {
	client       *minio.Client
	bucket       string
	prefix       string
	storageClass string
	userMetadata map[string]string
}

// NewStore returns a store writing below prefix in bucket.
func NewStore(client *minio.Client, bucket, prefix string, opts ...Option) *Store {
	s := &Store{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context, region string) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("minio: bucket %s: %w", s.bucket, err)
	}
	if ok {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		// Lost a creation race.
		if code := minio.ToErrorResponse(err).Code; code == "BucketAlreadyOwnedByYou" {
			return nil
		}
		return fmt.Errorf("minio: make bucket %s: %w", s.bucket, err)
	}
	return nil
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
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

// Open stats the object and returns a handle serving ranged reads.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	key := s.objectKey(name)
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("minio: %s: %w", name, blobstore.ErrNotFound)
		}
		return nil, err
	}
	return &object{ctx: ctx, store: s, key: key, size: info.Size}, nil
}

// Put uploads data in a single request, which S3-compatible stores apply atomically.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.objectKey(name), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{
			ContentType:  contentType,
			StorageClass: s.storageClass,
			UserMetadata: s.userMetadata,
		})
	if err != nil {
		return fmt.Errorf("minio: put %s: %w", name, err)
	}
	return nil
}

// Delete removes name. Missing objects are ignored.
func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.objectKey(name), minio.RemoveObjectOptions{})
	if err != nil && !notFound(err) {
		return fmt.Errorf("minio: delete %s: %w", name, err)
	}
	return nil
}

// List returns the sorted names below prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.objectKey(prefix),
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return nil, fmt.Errorf("minio: list %s: %w", prefix, obj.Err)
		}
		if name := s.blobName(obj.Key); name != "" {
			names = append(names, name)
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

func (o *object) Size() int64 { return o.size }

func (o *object) Close() error { return nil }

// ReadAt issues one ranged GET per call.
func (o *object) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off >= o.size {
		return 0, io.EOF
	}
	want := min(int64(len(p)), o.size-off)

	var opts minio.GetObjectOptions
	if err := opts.SetRange(off, off+want-1); err != nil {
		return 0, err
	}
	r, err := o.store.client.GetObject(o.ctx, o.store.bucket, o.key, opts)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	n, err := io.ReadFull(r, p[:want])
	if err == nil && int64(n) < int64(len(p)) {
		err = io.EOF
	}
	return n, err
}
