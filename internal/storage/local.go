package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	apperrors "multidb-backup/internal/errors"
	"multidb-backup/internal/logging"
)

// Local stores artifacts on the filesystem under <base>/<engine>/<target>/
type Local struct {
	basePath    string
	permissions os.FileMode
	logger      *logging.Logger
}

var _ Backend = (*Local)(nil)

// NewLocal creates the filesystem backend
func NewLocal(config *LocalConfig, logger *logging.Logger) (*Local, error) {
	if config == nil {
		config = &LocalConfig{}
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, apperrors.NewValidationError("invalid local storage configuration", err)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Local{
		basePath:    config.BasePath,
		permissions: config.Permissions,
		logger:      logger,
	}, nil
}

// Type implements Backend
func (l *Local) Type() string {
	return TypeLocal
}

// BasePath returns the default storage root
func (l *Local) BasePath() string {
	return l.basePath
}

// Store copies file into place through a temp file and a hard link, so the
// final path either holds the whole artifact or nothing. An existing artifact
// at the final path is never replaced.
func (l *Local) Store(ctx context.Context, file string, placement Placement) (location string, err error) {
	root := l.basePath
	if placement.LocalPath != "" {
		root = placement.LocalPath
	}

	dir := filepath.Join(root,
		sanitizeSegment(strings.ToLower(placement.EngineType)),
		sanitizeSegment(placement.TargetName))
	if err := os.MkdirAll(dir, l.permissions); err != nil {
		return "", apperrors.NewStorageError(fmt.Sprintf("failed to create storage directory %s", dir), err)
	}

	src, err := os.Open(file)
	if err != nil {
		return "", apperrors.NewStorageError(fmt.Sprintf("cannot read artifact %s", file), err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", apperrors.NewStorageError("failed to create temporary file", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
		}
		_ = os.Remove(tmp.Name())
	}()

	if _, err = io.Copy(tmp, &contextReader{ctx: ctx, r: src}); err != nil {
		return "", apperrors.NewStorageError("failed to copy artifact", err)
	}
	if err = tmp.Sync(); err != nil {
		return "", apperrors.NewStorageError("failed to sync artifact", err)
	}
	if err = tmp.Close(); err != nil {
		return "", apperrors.NewStorageError("failed to close artifact", err)
	}

	final := filepath.Join(dir, sanitizeSegment(filepath.Base(file)))
	if err = os.Link(tmp.Name(), final); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", apperrors.NewStorageError(fmt.Sprintf("artifact %s already exists", final), err)
		}
		return "", apperrors.NewStorageError(fmt.Sprintf("failed to move artifact into %s", final), err)
	}

	if abs, absErr := filepath.Abs(final); absErr == nil {
		final = abs
	}

	l.logger.WithFields(map[string]interface{}{
		"storage":  TypeLocal,
		"location": final,
	}).Info("Artifact stored")

	return final, nil
}

// ResolveToLocalFile returns the stored file itself; it is never temporary
func (l *Local) ResolveToLocalFile(ctx context.Context, location string) (LocalFile, error) {
	p := strings.TrimPrefix(location, "file://")
	if p == "" {
		return LocalFile{}, apperrors.NewNotFoundError("empty storage location", nil)
	}

	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return LocalFile{}, apperrors.NewNotFoundError(fmt.Sprintf("artifact file %s does not exist", p), err)
		}
		return LocalFile{}, apperrors.NewStorageError(fmt.Sprintf("cannot access artifact file %s", p), err)
	}
	if info.IsDir() {
		return LocalFile{}, apperrors.NewNotFoundError(fmt.Sprintf("artifact location %s is a directory", p), nil)
	}

	return LocalFile{Path: p, Temporary: false}, nil
}

// contextReader stops a copy once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
