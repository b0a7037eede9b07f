package engine

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multidb-backup/internal/database"
	apperrors "multidb-backup/internal/errors"
	"multidb-backup/internal/logging"
)

func newMockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock, *fakeRunner, *mockConnector) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	runner := &fakeRunner{}
	connector := &mockConnector{db: db}
	backend := NewPostgres(
		WithConnector(connector),
		WithToolRunner(runner),
		WithLogger(logging.NewNopLogger()),
	)
	return backend, mock, runner, connector
}

func pgParams() ConnectionParams {
	p := testParams()
	p.Port = 5432
	return p
}

func pgTableRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"table_schema", "table_name"}).
		AddRow("public", "customers").
		AddRow("public", "orders").
		AddRow("audit", "events")
}

func TestPostgresType(t *testing.T) {
	backend, _, _, _ := newMockPostgres(t)
	assert.Equal(t, TypePostgreSQL, backend.Type())
}

func TestPostgresTestConnectionUsesPgxDriver(t *testing.T) {
	backend, mock, _, connector := newMockPostgres(t)
	mock.ExpectClose()

	ok, err := backend.TestConnection(context.Background(), pgParams())
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, connector.configs, 1)
	assert.Equal(t, database.DriverPostgres, connector.configs[0].Driver)
	assert.Equal(t, 5432, connector.configs[0].Port)
}

func TestPostgresFullDump(t *testing.T) {
	backend, _, runner, _ := newMockPostgres(t)
	runner.stdout = "-- PostgreSQL database dump\n"
	dest := filepath.Join(t.TempDir(), "orders_full.sql")

	_, err := backend.FullDump(context.Background(), pgParams(), dest)
	require.NoError(t, err)

	require.Len(t, runner.calls, 1)
	call := runner.calls[0]
	assert.Equal(t, "pg_dump", call.Name)
	assert.Equal(t, []string{"-h", "db.internal", "-p", "5432", "-U", "backup", "-d", "orders", "--no-password"}, call.Args[:9])
	assert.Contains(t, call.Args, "--format=plain")
	assert.Contains(t, call.Args, "--no-owner")
	assert.Contains(t, call.Args, "--clean")
	assert.Contains(t, call.Args, "--if-exists")
	assert.Equal(t, []string{"PGPASSWORD=s3cret"}, call.Env)
	for _, arg := range call.Args {
		assert.NotContains(t, arg, "--table=")
	}

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, runner.stdout, string(data))
}

func TestPostgresIncrementalDumpAcceptsQualifiedAndBareNames(t *testing.T) {
	backend, mock, runner, _ := newMockPostgres(t)
	mock.ExpectQuery("SELECT table_schema, table_name FROM information_schema.tables").
		WithArgs("orders").
		WillReturnRows(pgTableRows())
	mock.ExpectClose()

	_, err := backend.IncrementalDump(context.Background(), pgParams(),
		[]string{"orders", "audit.events", "public.customers"}, filepath.Join(t.TempDir(), "inc.sql"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, runner.calls, 1)
	args := runner.calls[0].Args
	assert.Equal(t, []string{"--table=orders", "--table=audit.events", "--table=public.customers"}, args[len(args)-3:])
	// replaying the parent first leaves these tables in place
	assert.Contains(t, args, "--clean")
	assert.Contains(t, args, "--if-exists")
}

func TestPostgresIncrementalDumpMissingTables(t *testing.T) {
	tests := []struct {
		name    string
		tables  []string
		missing []string
	}{
		{"unknown table", []string{"orders", "ghost"}, []string{"ghost"}},
		{"bare name outside public", []string{"events"}, []string{"events"}},
		{"wrong schema", []string{"audit.orders", "public.ghost"}, []string{"audit.orders", "public.ghost"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend, mock, runner, _ := newMockPostgres(t)
			mock.ExpectQuery("SELECT table_schema, table_name").WithArgs("orders").WillReturnRows(pgTableRows())
			mock.ExpectClose()
			dest := filepath.Join(t.TempDir(), "inc.sql")

			_, err := backend.IncrementalDump(context.Background(), pgParams(), tt.tables, dest)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrValidation)
			for _, name := range tt.missing {
				assert.Contains(t, err.Error(), name)
			}

			var appErr *apperrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.missing, appErr.Context["missing_tables"])

			assert.Empty(t, runner.calls)
			assert.NoFileExists(t, dest)
		})
	}
}

func TestPostgresIncrementalDumpConnectFailure(t *testing.T) {
	backend, _, runner, connector := newMockPostgres(t)
	connector.err = assert.AnError

	_, err := backend.IncrementalDump(context.Background(), pgParams(), []string{"orders"}, filepath.Join(t.TempDir(), "inc.sql"))
	assert.ErrorIs(t, err, apperrors.ErrConnectivity)
	assert.Empty(t, runner.calls)
}

func TestPostgresRestore(t *testing.T) {
	backend, _, runner, _ := newMockPostgres(t)
	dump := filepath.Join(t.TempDir(), "orders.sql")
	require.NoError(t, os.WriteFile(dump, []byte("CREATE TABLE orders (id int);"), 0600))

	target := pgParams()
	target.Database = "orders_restore"
	require.NoError(t, backend.Restore(context.Background(), dump, target))

	require.Len(t, runner.calls, 1)
	call := runner.calls[0]
	assert.Equal(t, "psql", call.Name)
	assert.Contains(t, call.Args, "orders_restore")
	assert.Contains(t, call.Args, "--set=ON_ERROR_STOP=1")
	assert.Equal(t, []string{"PGPASSWORD=s3cret"}, call.Env)
	assert.Equal(t, []string{"CREATE TABLE orders (id int);"}, runner.stdin)
}

func TestPostgresRestoreFailure(t *testing.T) {
	backend, _, runner, _ := newMockPostgres(t)
	runner.output = `psql:orders.sql:1: ERROR:  relation "orders" already exists`
	runner.exit = 3
	runner.err = &exec.ExitError{}
	dump := filepath.Join(t.TempDir(), "orders.sql")
	require.NoError(t, os.WriteFile(dump, []byte("CREATE TABLE orders (id int);"), 0600))

	err := backend.Restore(context.Background(), dump, pgParams())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrRestore)
	assert.Contains(t, err.Error(), "psql exited with status 3")
	assert.Contains(t, err.Error(), "already exists")
}

func TestBackendCompressDelegates(t *testing.T) {
	lz4, err := NewCompressionManager(CompressionTypeLZ4, 0)
	require.NoError(t, err)
	backend := NewPostgres(WithCompression(lz4), WithToolRunner(&fakeRunner{}), WithLogger(logging.NewNopLogger()))

	path := writeDump(t, t.TempDir(), "orders.sql", "SELECT 1;")
	compressed, err := backend.Compress(path)
	require.NoError(t, err)
	assert.Equal(t, path+".lz4", compressed)

	restored, err := backend.Decompress(compressed, "")
	require.NoError(t, err)
	assert.Equal(t, path, restored)
}
