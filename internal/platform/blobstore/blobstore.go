// Package blobstore provides object storage for input files and generated
// artifacts. It defines the Store interface, an S3 implementation, an
// in-memory implementation for tests and the development server, a
// directory-backed implementation for the local CLI, and a wrapper that
// retries transient failures.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrBlobNotFound     = errors.New("blob not found")
	ErrRetriesExhausted = errors.New("storage retries exhausted")
	ErrMissingKey       = errors.New("object key is required")
)

// ---------------------------------------------------------------------------
// Store interface
// ---------------------------------------------------------------------------

// Store is the contract for blob storage backends.
type Store interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, body []byte, contentType string) error
}

// Content types used for artifacts.
const (
	ContentTypeHL7  = "application/hl7-v2"
	ContentTypeText = "text/plain"
)

// ContentTypeFor returns the artifact content type for a key.
func ContentTypeFor(key string) string {
	if strings.EqualFold(filepath.Ext(key), ".hl7") {
		return ContentTypeHL7
	}
	return ContentTypeText
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedBlob struct {
	content     []byte
	contentType string
}

// InMemory is a thread-safe, in-memory Store for tests and development.
type InMemory struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
}

// NewInMemory returns a ready-to-use InMemory store.
func NewInMemory() *InMemory {
	return &InMemory{blobs: make(map[string]*storedBlob)}
}

func memKey(bucket, key string) string {
	return bucket + "/" + key
}

// Get returns a copy of the stored content.
func (s *InMemory) Get(_ context.Context, bucket, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrMissingKey
	}
	s.mu.RLock()
	blob, ok := s.blobs[memKey(bucket, key)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrBlobNotFound, bucket, key)
	}
	return bytes.Clone(blob.content), nil
}

// Put stores a copy of body, replacing any existing object.
func (s *InMemory) Put(_ context.Context, bucket, key string, body []byte, contentType string) error {
	if key == "" {
		return ErrMissingKey
	}
	s.mu.Lock()
	s.blobs[memKey(bucket, key)] = &storedBlob{content: bytes.Clone(body), contentType: contentType}
	s.mu.Unlock()
	return nil
}

// Keys returns the sorted keys stored in bucket under prefix.
func (s *InMemory) Keys(bucket, prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k := range s.blobs {
		rest, ok := strings.CutPrefix(k, bucket+"/")
		if ok && strings.HasPrefix(rest, prefix) {
			keys = append(keys, rest)
		}
	}
	sort.Strings(keys)
	return keys
}

// ContentType returns the content type an object was stored with.
func (s *InMemory) ContentType(bucket, key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.blobs[memKey(bucket, key)]; ok {
		return b.contentType
	}
	return ""
}

// ---------------------------------------------------------------------------
// Directory implementation
// ---------------------------------------------------------------------------

// Dir stores objects as files under Root. The bucket is ignored, so keys map
// directly to relative paths.
type Dir struct {
	Root string
}

// NewDir returns a Store rooted at root.
func NewDir(root string) *Dir {
	return &Dir{Root: root}
}

func (d *Dir) path(key string) (string, error) {
	if key == "" {
		return "", ErrMissingKey
	}
	p := filepath.Join(d.Root, filepath.FromSlash(key))
	if rel, err := filepath.Rel(d.Root, p); err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("blobstore: key %q escapes root", key)
	}
	return p, nil
}

// Get reads the file for key.
func (d *Dir) Get(_ context.Context, _ string, key string) ([]byte, error) {
	p, err := d.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
	}
	return data, err
}

// Put writes body to the file for key, creating parent directories.
func (d *Dir) Put(_ context.Context, _ string, key string, body []byte, _ string) error {
	p, err := d.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("blobstore: creating directory: %w", err)
	}
	return os.WriteFile(p, body, 0o644)
}
