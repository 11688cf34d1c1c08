package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	key := DocumentKey("org1", "doc1")

	require.NoError(t, store.Put(ctx, key, strings.NewReader("%PDF-1.7 body"), "application/pdf"))

	rc, err := store.Get(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 body", string(data))

	require.NoError(t, store.Put(ctx, key, strings.NewReader("replaced"), "application/pdf"))
	rc, err = store.Get(ctx, key)
	require.NoError(t, err)
	data, _ = io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "replaced", string(data))

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Get(ctx, key)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(store.Delete(ctx, key), ErrNotFound))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestFilesystemStore(t *testing.T) {
	fs, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	exerciseStore(t, fs)
}

func TestFilesystemRejectsTraversal(t *testing.T) {
	fs, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"../escape", "org/../../etc/passwd", "/abs/path", "a//b", "a\\b", ""} {
		err := fs.Put(context.Background(), key, strings.NewReader("x"), "")
		assert.Error(t, err, "key %q should be rejected", key)
	}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "org/o/documents/d", DocumentKey("o", "d"))
	assert.Equal(t, "org/o/documents/d/signed", SignedKey("o", "d"))
	assert.NoError(t, ValidateKey(SignedKey("o", "d")))
}

type fakeS3 struct {
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	exerciseStore(t, NewS3WithClient(fake, "bucket"))

	store := NewS3WithClient(fake, "bucket")
	require.NoError(t, store.Put(context.Background(), "org/o/documents/x", strings.NewReader("x"), "application/pdf"))
	assert.Equal(t, "application/pdf", fake.types["org/o/documents/x"])
}
