// Package engine wraps the native dump and restore tooling of each supported
// database engine behind the DatabaseBackend contract.
package engine

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"multidb-backup/internal/database"
	apperrors "multidb-backup/internal/errors"
)

// Engine type tags
const (
	TypeMySQL      = "MYSQL"
	TypePostgreSQL = "POSTGRESQL"
)

// NormalizeType canonicalises an engine tag so lookups are case-insensitive
func NormalizeType(engineType string) string {
	t := strings.ToUpper(strings.TrimSpace(engineType))
	switch t {
	case "POSTGRES", "PG", "PGSQL":
		return TypePostgreSQL
	case "MARIADB":
		return TypeMySQL
	}
	return t
}

// ConnectionParams identifies a database to dump from or restore into
type ConnectionParams struct {
	Host     string
	Port     int
	Username string
	Password string
	Database string
	Timeout  time.Duration
}

func (p ConnectionParams) databaseConfig(driver string) database.DatabaseConfig {
	return database.DatabaseConfig{
		Driver:   driver,
		Host:     p.Host,
		Port:     p.Port,
		Username: p.Username,
		Password: p.Password,
		Database: p.Database,
		Timeout:  p.Timeout,
	}
}

// DatabaseBackend performs the engine-specific parts of backup and restore
type DatabaseBackend interface {
	// Type returns the engine tag, e.g. MYSQL
	Type() string
	// TestConnection reports whether the target is reachable with the given credentials
	TestConnection(ctx context.Context, params ConnectionParams) (bool, error)
	// FullDump writes a dump of the whole database to destPath
	FullDump(ctx context.Context, params ConnectionParams, destPath string) (string, error)
	// IncrementalDump writes a dump of the named tables to destPath after checking they all exist
	IncrementalDump(ctx context.Context, params ConnectionParams, tables []string, destPath string) (string, error)
	// Compress replaces path with a compressed copy and returns the new path
	Compress(path string) (string, error)
	// Decompress writes a decompressed copy of path into destDir and returns its location; path is kept
	Decompress(path, destDir string) (string, error)
	// Restore replays dumpFile into target
	Restore(ctx context.Context, dumpFile string, target ConnectionParams) error
}

// Registry maps engine tags to backends
type Registry struct {
	mu       sync.RWMutex
	backends map[string]DatabaseBackend
}

// NewRegistry creates a registry holding the given backends
func NewRegistry(backends ...DatabaseBackend) *Registry {
	r := &Registry{backends: make(map[string]DatabaseBackend)}
	for _, b := range backends {
		r.Register(b)
	}
	return r
}

// Register adds or replaces the backend for its engine tag
func (r *Registry) Register(backend DatabaseBackend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[NormalizeType(backend.Type())] = backend
}

// Get returns the backend for engineType or an UNSUPPORTED_ENGINE error
func (r *Registry) Get(engineType string) (DatabaseBackend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	backend, ok := r.backends[NormalizeType(engineType)]
	if !ok {
		return nil, apperrors.NewUnsupportedEngineError(engineType)
	}
	return backend, nil
}

// Types lists the registered engine tags in sorted order
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
