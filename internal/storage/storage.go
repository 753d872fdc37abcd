package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/mytube/apiserver/types"
)

const sniffLen = 512

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	ObjectURL(key string) string
	Bucket() string
}

// Storage wraps an ObjectStorage backend and exposes it as a media store:
// local files are uploaded under a generated key and addressed by URL.
type Storage struct {
	backend       ObjectStorage
	publicBaseURL string
	keyPrefix     string
	newKey        func() string
}

// NewStorage constructs a Storage wrapper for the provided backend. When
// publicBaseURL is empty the backend's own object URL is used.
func NewStorage(backend ObjectStorage, publicBaseURL, keyPrefix string) *Storage {
	return &Storage{
		backend:       backend,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
		keyPrefix:     strings.Trim(strings.TrimSpace(keyPrefix), "/"),
		newKey:        uuid.NewString,
	}
}

// EnsureBucket ensures the configured bucket exists.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

// Upload stores the file at localPath and returns its public reference.
// The public ID is the object key.
func (s *Storage) Upload(ctx context.Context, localPath string) (types.MediaRef, error) {
	if strings.TrimSpace(localPath) == "" {
		return types.MediaRef{}, errors.New("local path is required")
	}

	file, err := os.Open(localPath)
	if err != nil {
		return types.MediaRef{}, fmt.Errorf("open upload: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return types.MediaRef{}, fmt.Errorf("stat upload: %w", err)
	}
	if info.Size() == 0 {
		return types.MediaRef{}, errors.New("upload is empty")
	}

	contentType, err := detectContentType(file, localPath)
	if err != nil {
		return types.MediaRef{}, err
	}

	key := s.objectKey(filepath.Ext(localPath))
	if err := s.backend.Put(ctx, key, file, info.Size(), contentType); err != nil {
		return types.MediaRef{}, fmt.Errorf("put %s: %w", key, err)
	}

	return types.MediaRef{
		URL:          s.URL(key),
		PublicID:     key,
		ResourceType: ResourceType(contentType),
	}, nil
}

// Delete removes a previously uploaded object by its public ID.
func (s *Storage) Delete(ctx context.Context, publicID string) error {
	if strings.TrimSpace(publicID) == "" {
		return errors.New("public id is required")
	}
	return s.backend.Delete(ctx, publicID)
}

// Get opens a reader for an uploaded object.
func (s *Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.backend.Get(ctx, key)
}

// URL returns the public URL of an object key.
func (s *Storage) URL(key string) string {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + key
	}
	return s.backend.ObjectURL(key)
}

// Bucket returns the configured bucket name.
func (s *Storage) Bucket() string {
	return s.backend.Bucket()
}

func (s *Storage) objectKey(ext string) string {
	name := s.newKey() + strings.ToLower(ext)
	if s.keyPrefix == "" {
		return name
	}
	return path.Join(s.keyPrefix, name)
}

// detectContentType sniffs the file head and rewinds it. The extension is
// used when sniffing is inconclusive.
func detectContentType(file *os.File, name string) (string, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind upload: %w", err)
	}

	contentType := http.DetectContentType(head[:n])
	if contentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(filepath.Ext(name)); byExt != "" {
			contentType = byExt
		}
	}
	return contentType, nil
}

// ResourceType classifies a content type the way media hosts do.
func ResourceType(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.HasPrefix(contentType, "video/"), strings.HasPrefix(contentType, "audio/"):
		return "video"
	default:
		return "raw"
	}
}
