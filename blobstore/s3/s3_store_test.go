package s3

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/textgo/blobstore"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(*s3.PutObjectOutput), args.Error(1)
}

func (m *mockClient) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	panic("unexpected multipart upload")
}

func (m *mockClient) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	panic("unexpected multipart upload")
}

func (m *mockClient) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	panic("unexpected multipart upload")
}

func (m *mockClient) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	panic("unexpected multipart upload")
}

func (m *mockClient) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(*s3.ListObjectsV2Output), args.Error(1)
}

func (m *mockClient) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.HeadObjectOutput)
	return out, args.Error(1)
}

func (m *mockClient) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(*s3.GetObjectOutput), args.Error(1)
}

func (m *mockClient) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(*s3.DeleteObjectOutput), args.Error(1)
}

func TestStore_Open(t *testing.T) {
	client := new(mockClient)
	store := NewStore(client, "bucket", "prefix")
	ctx := context.Background()

	client.On("HeadObject", mock.Anything, mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
		return *in.Key == "prefix/missing"
	})).Return(nil, &types.NotFound{}).Once()

	_, err := store.Open(ctx, "missing")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	client.On("HeadObject", mock.Anything, mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
		return *in.Key == "prefix/seg_000001/meta.bin"
	})).Return(&s3.HeadObjectOutput{ContentLength: aws.Int64(10)}, nil).Once()
	client.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return *in.Range == "bytes=6-9"
	})).Return(&s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("6789"))}, nil).Once()

	b, err := store.Open(ctx, "seg_000001/meta.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(10), b.Size())

	buf := make([]byte, 8)
	n, err := b.ReadAt(buf, 6)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "6789", string(buf[:n]))
	client.AssertExpectations(t)
}

func TestStore_PutDelete(t *testing.T) {
	client := new(mockClient)
	store := NewStore(client, "bucket", "prefix")
	ctx := context.Background()

	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return *in.Bucket == "bucket" && *in.Key == "prefix/CURRENT"
	})).Return(&s3.PutObjectOutput{}, nil).Once()
	client.On("DeleteObject", mock.Anything, mock.MatchedBy(func(in *s3.DeleteObjectInput) bool {
		return *in.Key == "prefix/CURRENT"
	})).Return(&s3.DeleteObjectOutput{}, nil).Once()

	require.NoError(t, store.Put(ctx, "CURRENT", []byte("MANIFEST-000001.bin")))
	require.NoError(t, store.Delete(ctx, "CURRENT"))
	client.AssertExpectations(t)
}

func TestStore_List(t *testing.T) {
	client := new(mockClient)
	store := NewStore(client, "bucket", "prefix/")

	client.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return *in.Prefix == "prefix/seg_"
	})).Return(&s3.ListObjectsV2Output{
		Contents: []types.Object{
			{Key: aws.String("prefix/seg_000002/meta.bin")},
			{Key: aws.String("prefix/seg_000001/meta.bin")},
		},
	}, nil).Once()

	keys, err := store.List(context.Background(), "seg_")
	require.NoError(t, err)
	assert.Equal(t, []string{"seg_000001/meta.bin", "seg_000002/meta.bin"}, keys)
}
