// Package storage persists backup artifacts and materializes them again for restore.
package storage

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	apperrors "multidb-backup/internal/errors"
)

// Storage type tags
const (
	TypeLocal = "LOCAL"
	TypeS3    = "S3"
	TypeGCS   = "GCS"
	TypeAzure = "AZURE"
)

// NormalizeType canonicalises a storage tag
func NormalizeType(storageType string) string {
	t := strings.ToUpper(strings.TrimSpace(storageType))
	switch t {
	case "FILE", "FILESYSTEM":
		return TypeLocal
	case "GS", "GOOGLE":
		return TypeGCS
	case "AZBLOB", "AZURE_BLOB":
		return TypeAzure
	}
	return t
}

// Placement tells a backend where an artifact belongs. Empty overrides fall back
// to the backend's configured defaults.
type Placement struct {
	EngineType string
	TargetName string
	LocalPath  string
	Bucket     string
	Prefix     string
}

// LocalFile is an artifact available on the local filesystem
type LocalFile struct {
	Path string
	// Temporary marks a copy made for the caller, which must remove it
	Temporary bool
}

// Release removes the file when it is a temporary copy
func (f LocalFile) Release() error {
	if !f.Temporary || f.Path == "" {
		return nil
	}
	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Backend stores artifacts and resolves their locators
type Backend interface {
	// Type returns the storage tag, e.g. LOCAL
	Type() string
	// Store persists file and returns an opaque locator
	Store(ctx context.Context, file string, placement Placement) (string, error)
	// ResolveToLocalFile makes the artifact behind location readable on local disk
	ResolveToLocalFile(ctx context.Context, location string) (LocalFile, error)
}

// Registry maps storage tags to backends
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry creates a registry holding the given backends
func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{backends: make(map[string]Backend)}
	for _, b := range backends {
		r.Register(b)
	}
	return r
}

// Register adds or replaces the backend for its storage tag
func (r *Registry) Register(backend Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[NormalizeType(backend.Type())] = backend
}

// Get returns the backend for storageType or an UNSUPPORTED_STORAGE error
func (r *Registry) Get(storageType string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	backend, ok := r.backends[NormalizeType(storageType)]
	if !ok {
		return nil, apperrors.NewUnsupportedStorageError(storageType)
	}
	return backend, nil
}

// Types lists the registered storage tags in sorted order
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.backends))
	for t := range r.backends {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Close releases backends that hold client connections
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, b := range r.backends {
		if c, ok := b.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// sanitizeSegment keeps a path segment from escaping its parent directory
func sanitizeSegment(segment string) string {
	s := strings.TrimSpace(segment)
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, "..", "_")
	if s == "" || s == "." {
		return "_"
	}
	return s
}

// objectKey builds <prefix>/<engine>/<target>/<file> for object stores
func objectKey(prefix string, placement Placement, file string) string {
	parts := make([]string, 0, 4)
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts,
		sanitizeSegment(strings.ToLower(placement.EngineType)),
		sanitizeSegment(placement.TargetName),
		sanitizeSegment(filepath.Base(file)),
	)
	return path.Join(parts...)
}
