package engine

import (
	"context"
	"strconv"

	"multidb-backup/internal/database"
	apperrors "multidb-backup/internal/errors"
)

const tablesQueryPostgres = `SELECT table_schema, table_name FROM information_schema.tables
WHERE table_catalog = $1 AND table_schema NOT IN ('pg_catalog', 'information_schema')`

// Postgres drives pg_dump and psql
type Postgres struct {
	baseBackend
}

var _ DatabaseBackend = (*Postgres)(nil)

// NewPostgres creates the PostgreSQL backend
func NewPostgres(opts ...Option) *Postgres {
	return &Postgres{baseBackend: newBaseBackend(TypePostgreSQL, database.DriverPostgres, "pg_dump", "psql", opts)}
}

func (p *Postgres) connectionArgs(params ConnectionParams) []string {
	return []string{
		"-h", params.Host,
		"-p", strconv.Itoa(params.Port),
		"-U", params.Username,
		"-d", params.Database,
		"--no-password",
	}
}

func (p *Postgres) env(params ConnectionParams) []string {
	return []string{"PGPASSWORD=" + params.Password}
}

// FullDump implements DatabaseBackend
func (p *Postgres) FullDump(ctx context.Context, params ConnectionParams, destPath string) (path string, err error) {
	done := p.logDump("full", params, destPath)
	defer func() { done(err) }()

	args := p.connectionArgs(params)
	args = append(args, "--format=plain", "--no-owner", "--clean", "--if-exists")
	args = append(args, p.extraDumpArgs...)

	if err := dumpToFile(ctx, p.runner, ToolSpec{Name: p.dumpBinary, Args: args, Env: p.env(params)}, destPath); err != nil {
		return "", err
	}
	return destPath, nil
}

// IncrementalDump implements DatabaseBackend. Tables may be schema-qualified.
func (p *Postgres) IncrementalDump(ctx context.Context, params ConnectionParams, tables []string, destPath string) (path string, err error) {
	tables, err = validateTableList(tables)
	if err != nil {
		return "", err
	}

	existing, err := p.listTables(ctx, params)
	if err != nil {
		return "", err
	}
	if err := p.checkTables(params, tables, existing); err != nil {
		return "", err
	}

	done := p.logDump("incremental", params, destPath)
	defer func() { done(err) }()

	args := p.connectionArgs(params)
	args = append(args, "--format=plain", "--no-owner", "--clean", "--if-exists")
	args = append(args, p.extraDumpArgs...)
	for _, table := range tables {
		args = append(args, "--table="+table)
	}

	if err := dumpToFile(ctx, p.runner, ToolSpec{Name: p.dumpBinary, Args: args, Env: p.env(params)}, destPath); err != nil {
		return "", err
	}
	return destPath, nil
}

func (p *Postgres) listTables(ctx context.Context, params ConnectionParams) (map[string]bool, error) {
	db, err := p.connector.Connect(ctx, params.databaseConfig(p.driver))
	if err != nil {
		return nil, apperrors.NewConnectivityError("cannot connect to verify tables", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, tablesQueryPostgres, params.Database)
	if err != nil {
		return nil, apperrors.NewDumpError("failed to list tables", err)
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var schema, name string
		if err := rows.Scan(&schema, &name); err != nil {
			return nil, apperrors.NewDumpError("failed to read table list", err)
		}
		existing[schema+"."+name] = true
		if schema == "public" {
			existing[name] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDumpError("failed to read table list", err)
	}
	return existing, nil
}

// Restore implements DatabaseBackend
func (p *Postgres) Restore(ctx context.Context, dumpFile string, target ConnectionParams) (err error) {
	done := p.logger.LogOperationStart("restore", map[string]interface{}{
		"engine":   p.engineType,
		"database": target.Database,
		"host":     target.Host,
		"file":     dumpFile,
	})
	defer func() { done(err) }()

	args := p.connectionArgs(target)
	args = append(args, "--quiet", "--set=ON_ERROR_STOP=1")

	return restoreFromFile(ctx, p.runner, ToolSpec{Name: p.clientBinary, Args: args, Env: p.env(target)}, dumpFile)
}
