package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multidb-backup/internal/database"
	apperrors "multidb-backup/internal/errors"
	"multidb-backup/internal/logging"
)

// fakeRunner records tool invocations and plays back a scripted result
type fakeRunner struct {
	calls  []ToolSpec
	stdin  []string
	stdout string
	output string
	exit   int
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, spec ToolSpec) (ToolResult, error) {
	f.calls = append(f.calls, spec)
	if spec.Stdin != nil {
		data, _ := io.ReadAll(spec.Stdin)
		f.stdin = append(f.stdin, string(data))
	}
	if spec.Stdout != nil && f.stdout != "" {
		_, _ = io.WriteString(spec.Stdout, f.stdout)
	}
	return ToolResult{ExitCode: f.exit, Output: f.output}, f.err
}

// mockConnector hands out a sqlmock database
type mockConnector struct {
	db      *sql.DB
	err     error
	configs []database.DatabaseConfig
}

func (m *mockConnector) Connect(ctx context.Context, config database.DatabaseConfig) (*sql.DB, error) {
	m.configs = append(m.configs, config)
	if m.err != nil {
		return nil, m.err
	}
	return m.db, nil
}

func testParams() ConnectionParams {
	return ConnectionParams{
		Host:     "db.internal",
		Port:     3306,
		Username: "backup",
		Password: "s3cret",
		Database: "orders",
	}
}

func newMockMySQL(t *testing.T) (*MySQL, sqlmock.Sqlmock, *fakeRunner, *mockConnector) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	runner := &fakeRunner{}
	connector := &mockConnector{db: db}
	backend := NewMySQL(
		WithConnector(connector),
		WithToolRunner(runner),
		WithLogger(logging.NewNopLogger()),
	)
	return backend, mock, runner, connector
}

func TestMySQLTestConnection(t *testing.T) {
	backend, mock, _, connector := newMockMySQL(t)
	mock.ExpectClose()

	ok, err := backend.TestConnection(context.Background(), testParams())
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, connector.configs, 1)
	assert.Equal(t, database.DriverMySQL, connector.configs[0].Driver)
	assert.Equal(t, "orders", connector.configs[0].Database)
}

func TestMySQLTestConnectionFailure(t *testing.T) {
	backend, _, _, connector := newMockMySQL(t)
	connector.err = errors.New("dial tcp: connection refused")

	ok, err := backend.TestConnection(context.Background(), testParams())
	assert.False(t, ok)
	assert.ErrorIs(t, err, apperrors.ErrConnectivity)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestMySQLFullDump(t *testing.T) {
	backend, _, runner, _ := newMockMySQL(t)
	runner.stdout = "-- MySQL dump\nCREATE TABLE t1 (id int);\n"
	dest := filepath.Join(t.TempDir(), "orders_full.sql")

	path, err := backend.FullDump(context.Background(), testParams(), dest)
	require.NoError(t, err)
	assert.Equal(t, dest, path)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, runner.stdout, string(data))

	require.Len(t, runner.calls, 1)
	call := runner.calls[0]
	assert.Equal(t, "mysqldump", call.Name)
	assert.Equal(t, []string{"-h", "db.internal", "-P", "3306", "-u", "backup"}, call.Args[:6])
	assert.Equal(t, "orders", call.Args[len(call.Args)-1])
	assert.Contains(t, call.Env, "MYSQL_PWD=s3cret")
	for _, arg := range call.Args {
		assert.NotContains(t, arg, "s3cret", "password must not be passed on the command line")
	}
}

func TestMySQLFullDumpFailureRemovesPartialFile(t *testing.T) {
	backend, _, runner, _ := newMockMySQL(t)
	runner.stdout = "-- partial"
	runner.output = "mysqldump: Got error: 1045: Access denied"
	runner.exit = 2
	runner.err = &exec.ExitError{}
	dest := filepath.Join(t.TempDir(), "orders_full.sql")

	_, err := backend.FullDump(context.Background(), testParams(), dest)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDump)
	assert.Contains(t, err.Error(), "exited with status 2")
	assert.Contains(t, err.Error(), "Access denied")
	assert.NoFileExists(t, dest)
}

func TestMySQLIncrementalDump(t *testing.T) {
	backend, mock, runner, _ := newMockMySQL(t)
	mock.ExpectQuery("SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES").
		WithArgs("orders").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME"}).AddRow("t1").AddRow("t2").AddRow("t3"))
	mock.ExpectClose()
	dest := filepath.Join(t.TempDir(), "orders_incremental.sql")

	_, err := backend.IncrementalDump(context.Background(), testParams(), []string{"t1", "t3"}, dest)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, runner.calls, 1)
	args := runner.calls[0].Args
	assert.Equal(t, []string{"orders", "t1", "t3"}, args[len(args)-3:])
}

func TestMySQLIncrementalDumpReportsAllMissingTables(t *testing.T) {
	backend, mock, runner, _ := newMockMySQL(t)
	mock.ExpectQuery("SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES").
		WithArgs("orders").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME"}).AddRow("t1"))
	mock.ExpectClose()
	dest := filepath.Join(t.TempDir(), "orders_incremental.sql")

	_, err := backend.IncrementalDump(context.Background(), testParams(), []string{"t1", "ghost", "phantom"}, dest)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Contains(t, err.Error(), "ghost")
	assert.Contains(t, err.Error(), "phantom")
	assert.Empty(t, runner.calls, "no dump process may be launched when tables are missing")
	assert.NoFileExists(t, dest)
}

func TestMySQLIncrementalDumpValidatesTableList(t *testing.T) {
	tests := []struct {
		name   string
		tables []string
	}{
		{"empty list", nil},
		{"blank name", []string{"t1", " "}},
		{"option injection", []string{"--all-databases"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend, _, runner, connector := newMockMySQL(t)

			_, err := backend.IncrementalDump(context.Background(), testParams(), tt.tables, filepath.Join(t.TempDir(), "x.sql"))
			assert.ErrorIs(t, err, apperrors.ErrValidation)
			assert.Empty(t, runner.calls)
			assert.Empty(t, connector.configs, "validation happens before connecting")
		})
	}
}

func TestMySQLRestore(t *testing.T) {
	backend, _, runner, _ := newMockMySQL(t)
	dump := filepath.Join(t.TempDir(), "orders.sql")
	require.NoError(t, os.WriteFile(dump, []byte("CREATE TABLE t1 (id int);"), 0600))

	target := testParams()
	target.Database = "orders_copy"
	require.NoError(t, backend.Restore(context.Background(), dump, target))

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "mysql", runner.calls[0].Name)
	assert.Equal(t, "orders_copy", runner.calls[0].Args[len(runner.calls[0].Args)-1])
	assert.Equal(t, []string{"CREATE TABLE t1 (id int);"}, runner.stdin)
	assert.FileExists(t, dump, "restore never deletes its input")
}

func TestMySQLRestoreFailureIncludesToolOutput(t *testing.T) {
	backend, _, runner, _ := newMockMySQL(t)
	runner.stdout = "partial output"
	runner.output = "ERROR 1064 (42000) at line 1: You have an error in your SQL syntax"
	runner.exit = 1
	runner.err = &exec.ExitError{}
	dump := filepath.Join(t.TempDir(), "orders.sql")
	require.NoError(t, os.WriteFile(dump, []byte("garbage"), 0600))

	err := backend.Restore(context.Background(), dump, testParams())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrRestore)
	assert.Contains(t, err.Error(), "ERROR 1064")
	assert.Contains(t, err.Error(), "partial output")
}

func TestMySQLRestoreMissingDump(t *testing.T) {
	backend, _, runner, _ := newMockMySQL(t)

	err := backend.Restore(context.Background(), filepath.Join(t.TempDir(), "nope.sql"), testParams())
	assert.ErrorIs(t, err, apperrors.ErrRestore)
	assert.Empty(t, runner.calls)
}

func TestMySQLCustomBinaries(t *testing.T) {
	runner := &fakeRunner{}
	backend := NewMySQL(
		WithToolRunner(runner),
		WithBinaries("/opt/mysql/bin/mysqldump", ""),
		WithExtraDumpArgs("--column-statistics=0"),
		WithLogger(logging.NewNopLogger()),
	)

	_, err := backend.FullDump(context.Background(), testParams(), filepath.Join(t.TempDir(), "x.sql"))
	require.NoError(t, err)
	assert.Equal(t, "/opt/mysql/bin/mysqldump", runner.calls[0].Name)
	assert.Contains(t, runner.calls[0].Args, "--column-statistics=0")
	assert.Equal(t, "mysql", backend.clientBinary)
}

func TestMySQLDumpCanceledContext(t *testing.T) {
	backend, _, runner, _ := newMockMySQL(t)
	runner.err = errors.New("signal: killed")
	runner.exit = -1

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := backend.FullDump(ctx, testParams(), filepath.Join(t.TempDir(), "x.sql"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), fmt.Sprintf("expected context.Canceled in chain, got %v", err))
	assert.True(t, strings.Contains(err.Error(), "mysqldump failed"))
}
