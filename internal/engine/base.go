package engine

import (
	"context"
	"fmt"
	"strings"

	"multidb-backup/internal/database"
	apperrors "multidb-backup/internal/errors"
	"multidb-backup/internal/logging"
)

// Option configures a backend
type Option func(*baseBackend)

// WithConnector overrides how verification connections are opened
func WithConnector(connector database.Connector) Option {
	return func(b *baseBackend) { b.connector = connector }
}

// WithToolRunner overrides how dump and restore tools are executed
func WithToolRunner(runner ToolRunner) Option {
	return func(b *baseBackend) { b.runner = runner }
}

// WithCompression sets the compression manager used by Compress
func WithCompression(cm *CompressionManager) Option {
	return func(b *baseBackend) {
		if cm != nil {
			b.compression = cm
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(b *baseBackend) { b.logger = logger }
}

// WithBinaries overrides the dump and client executables
func WithBinaries(dumpBinary, clientBinary string) Option {
	return func(b *baseBackend) {
		if dumpBinary != "" {
			b.dumpBinary = dumpBinary
		}
		if clientBinary != "" {
			b.clientBinary = clientBinary
		}
	}
}

// WithExtraDumpArgs appends arguments to every dump invocation
func WithExtraDumpArgs(args ...string) Option {
	return func(b *baseBackend) { b.extraDumpArgs = append(b.extraDumpArgs, args...) }
}

// baseBackend carries what all tool-driven engines share
type baseBackend struct {
	engineType    string
	driver        string
	dumpBinary    string
	clientBinary  string
	extraDumpArgs []string
	connector     database.Connector
	runner        ToolRunner
	compression   *CompressionManager
	logger        *logging.Logger
}

func newBaseBackend(engineType, driver, dumpBinary, clientBinary string, opts []Option) baseBackend {
	b := baseBackend{
		engineType:   engineType,
		driver:       driver,
		dumpBinary:   dumpBinary,
		clientBinary: clientBinary,
		compression:  NewDefaultCompressionManager(),
		logger:       logging.NewDefaultLogger(),
	}
	for _, opt := range opts {
		opt(&b)
	}
	if b.connector == nil {
		b.connector = database.NewServiceWithOptions(b.logger, apperrors.DefaultRetryConfig())
	}
	if b.runner == nil {
		b.runner = NewExecRunner(b.logger)
	}
	return b
}

// Type implements DatabaseBackend
func (b *baseBackend) Type() string {
	return b.engineType
}

// TestConnection implements DatabaseBackend
func (b *baseBackend) TestConnection(ctx context.Context, params ConnectionParams) (bool, error) {
	db, err := b.connector.Connect(ctx, params.databaseConfig(b.driver))
	if err != nil {
		return false, apperrors.NewConnectivityError(
			fmt.Sprintf("cannot reach %s database %s on %s:%d", b.engineType, params.Database, params.Host, params.Port), err)
	}
	_ = db.Close()
	return true, nil
}

// Compress implements DatabaseBackend
func (b *baseBackend) Compress(path string) (string, error) {
	return b.compression.Compress(path)
}

// Decompress implements DatabaseBackend
func (b *baseBackend) Decompress(path, destDir string) (string, error) {
	return b.compression.Decompress(path, destDir)
}

// checkTables verifies every requested table is in existing and reports all missing ones
func (b *baseBackend) checkTables(params ConnectionParams, requested []string, existing map[string]bool) error {
	var missing []string
	for _, table := range requested {
		if !existing[table] {
			missing = append(missing, table)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	return apperrors.NewValidationError(
		fmt.Sprintf("tables not found in %s: %s", params.Database, strings.Join(missing, ", ")), nil).
		WithContext("missing_tables", missing).
		WithContext("database", params.Database)
}

func validateTableList(tables []string) ([]string, error) {
	if len(tables) == 0 {
		return nil, apperrors.NewValidationError("incremental backup requires at least one table", nil)
	}

	cleaned := make([]string, 0, len(tables))
	seen := make(map[string]bool, len(tables))
	for _, table := range tables {
		table = strings.TrimSpace(table)
		if table == "" {
			return nil, apperrors.NewValidationError("table names must not be empty", nil)
		}
		if strings.HasPrefix(table, "-") {
			return nil, apperrors.NewValidationError(fmt.Sprintf("invalid table name %q", table), nil)
		}
		if !seen[table] {
			seen[table] = true
			cleaned = append(cleaned, table)
		}
	}
	return cleaned, nil
}

func (b *baseBackend) logDump(kind string, params ConnectionParams, destPath string) func(error) {
	return b.logger.LogOperationStart("dump", map[string]interface{}{
		"engine":   b.engineType,
		"kind":     kind,
		"database": params.Database,
		"host":     params.Host,
		"file":     destPath,
	})
}
