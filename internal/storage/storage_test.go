package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	objects     map[string][]byte
	contentType map[string]string
	putErr      error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{objects: map[string][]byte{}, contentType: map[string]string{}}
}

func (f *fakeBackend) EnsureBucket(context.Context) error { return nil }

func (f *fakeBackend) Put(_ context.Context, key string, r io.Reader, size int64, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	f.objects[key] = data
	f.contentType[key] = contentType
	return nil
}

func (f *fakeBackend) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBackend) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func (f *fakeBackend) ObjectURL(key string) string { return "http://minio:9000/media-bucket/" + key }
func (f *fakeBackend) Bucket() string              { return "media-bucket" }

// pngHeader is enough for content sniffing to report image/png.
var pngHeader = []byte("\x89PNG\r\n\x1a\n0000000000")

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o600))
	return p
}

func newTestStorage(backend *fakeBackend, baseURL string) *Storage {
	s := NewStorage(backend, baseURL, "/avatars/")
	s.newKey = func() string { return "fixed-key" }
	return s
}

func TestUploadStoresFileWithSniffedType(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStorage(backend, "")

	ref, err := s.Upload(context.Background(), writeTemp(t, "me.PNG", pngHeader))
	require.NoError(t, err)

	assert.Equal(t, "avatars/fixed-key.png", ref.PublicID)
	assert.Equal(t, "http://minio:9000/media-bucket/avatars/fixed-key.png", ref.URL)
	assert.Equal(t, "image", ref.ResourceType)
	assert.Equal(t, pngHeader, backend.objects[ref.PublicID])
	assert.Equal(t, "image/png", backend.contentType[ref.PublicID])
}

func TestUploadUsesPublicBaseURL(t *testing.T) {
	s := newTestStorage(newFakeBackend(), "https://cdn.example.com/")

	ref, err := s.Upload(context.Background(), writeTemp(t, "cover.png", pngHeader))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/avatars/fixed-key.png", ref.URL)
}

func TestUploadFailures(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStorage(backend, "")
	ctx := context.Background()

	_, err := s.Upload(ctx, "")
	assert.Error(t, err)

	_, err = s.Upload(ctx, filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)

	_, err = s.Upload(ctx, writeTemp(t, "empty.png", nil))
	assert.Error(t, err)

	backend.putErr = errors.New("bucket unavailable")
	_, err = s.Upload(ctx, writeTemp(t, "ok.png", pngHeader))
	assert.ErrorContains(t, err, "bucket unavailable")
	assert.Empty(t, backend.objects)
}

func TestDeleteRemovesObject(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStorage(backend, "")
	ctx := context.Background()

	ref, err := s.Upload(ctx, writeTemp(t, "a.png", pngHeader))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, ref.PublicID))
	assert.Empty(t, backend.objects)

	assert.Error(t, s.Delete(ctx, " "))
}

func TestResourceType(t *testing.T) {
	assert.Equal(t, "image", ResourceType("image/jpeg"))
	assert.Equal(t, "video", ResourceType("video/mp4"))
	assert.Equal(t, "video", ResourceType("audio/mpeg"))
	assert.Equal(t, "raw", ResourceType("application/pdf"))
}

func TestMinioObjectURL(t *testing.T) {
	assert.Equal(t, "http://localhost:9000/b/k/x.png", minioObjectURL("localhost:9000", "b", "k/x.png", false))
	assert.Equal(t, "https://s3.local/b/x.png", minioObjectURL("s3.local", "b", "x.png", true))
}

func TestCloudinaryPublicIDEncoding(t *testing.T) {
	id := joinPublicID("video", "mytube/clip")
	assert.Equal(t, "video:mytube/clip", id)

	kind, raw := splitPublicID(id)
	assert.Equal(t, "video", kind)
	assert.Equal(t, "mytube/clip", raw)

	kind, raw = splitPublicID("legacy-id")
	assert.Equal(t, "image", kind)
	assert.Equal(t, "legacy-id", raw)

	assert.Equal(t, "image:x", joinPublicID("", "x"))
}
