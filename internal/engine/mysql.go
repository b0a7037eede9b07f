package engine

import (
	"context"
	"strconv"

	"multidb-backup/internal/database"
	apperrors "multidb-backup/internal/errors"
)

const tablesQueryMySQL = "SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = ?"

// MySQL drives mysqldump and the mysql client
type MySQL struct {
	baseBackend
}

var _ DatabaseBackend = (*MySQL)(nil)

// NewMySQL creates the MySQL backend
func NewMySQL(opts ...Option) *MySQL {
	return &MySQL{baseBackend: newBaseBackend(TypeMySQL, database.DriverMySQL, "mysqldump", "mysql", opts)}
}

func (m *MySQL) connectionArgs(params ConnectionParams) []string {
	return []string{
		"-h", params.Host,
		"-P", strconv.Itoa(params.Port),
		"-u", params.Username,
	}
}

func (m *MySQL) env(params ConnectionParams) []string {
	return []string{"MYSQL_PWD=" + params.Password}
}

// FullDump implements DatabaseBackend
func (m *MySQL) FullDump(ctx context.Context, params ConnectionParams, destPath string) (path string, err error) {
	done := m.logDump("full", params, destPath)
	defer func() { done(err) }()

	args := m.connectionArgs(params)
	args = append(args, "--single-transaction", "--routines", "--triggers")
	args = append(args, m.extraDumpArgs...)
	args = append(args, params.Database)

	spec := ToolSpec{Name: m.dumpBinary, Args: args, Env: m.env(params)}
	if err := dumpToFile(ctx, m.runner, spec, destPath); err != nil {
		return "", err
	}
	return destPath, nil
}

// IncrementalDump implements DatabaseBackend
func (m *MySQL) IncrementalDump(ctx context.Context, params ConnectionParams, tables []string, destPath string) (path string, err error) {
	tables, err = validateTableList(tables)
	if err != nil {
		return "", err
	}

	existing, err := m.listTables(ctx, params)
	if err != nil {
		return "", err
	}
	if err := m.checkTables(params, tables, existing); err != nil {
		return "", err
	}

	done := m.logDump("incremental", params, destPath)
	defer func() { done(err) }()

	args := m.connectionArgs(params)
	args = append(args, "--single-transaction")
	args = append(args, m.extraDumpArgs...)
	args = append(args, params.Database)
	args = append(args, tables...)

	spec := ToolSpec{Name: m.dumpBinary, Args: args, Env: m.env(params)}
	if err := dumpToFile(ctx, m.runner, spec, destPath); err != nil {
		return "", err
	}
	return destPath, nil
}

func (m *MySQL) listTables(ctx context.Context, params ConnectionParams) (map[string]bool, error) {
	db, err := m.connector.Connect(ctx, params.databaseConfig(m.driver))
	if err != nil {
		return nil, apperrors.NewConnectivityError("cannot connect to verify tables", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, tablesQueryMySQL, params.Database)
	if err != nil {
		return nil, apperrors.NewDumpError("failed to list tables", err)
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperrors.NewDumpError("failed to read table list", err)
		}
		existing[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDumpError("failed to read table list", err)
	}
	return existing, nil
}

// Restore implements DatabaseBackend
func (m *MySQL) Restore(ctx context.Context, dumpFile string, target ConnectionParams) (err error) {
	done := m.logger.LogOperationStart("restore", map[string]interface{}{
		"engine":   m.engineType,
		"database": target.Database,
		"host":     target.Host,
		"file":     dumpFile,
	})
	defer func() { done(err) }()

	args := m.connectionArgs(target)
	args = append(args, target.Database)

	return restoreFromFile(ctx, m.runner, ToolSpec{Name: m.clientBinary, Args: args, Env: m.env(target)}, dumpFile)
}
