package api

import (
	"context"
	"database/sql"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multidb-backup/internal/backup"
	"multidb-backup/internal/database"
	"multidb-backup/internal/engine"
	apperrors "multidb-backup/internal/errors"
	"multidb-backup/internal/ledger"
	"multidb-backup/internal/logging"
	"multidb-backup/internal/storage"
)

// failingConnector fails every connection the way database.Service reports driver errors
type failingConnector struct {
	err error
}

func (c failingConnector) Connect(ctx context.Context, config database.DatabaseConfig) (*sql.DB, error) {
	return nil, apperrors.WrapError(c.err, "failed to ping database")
}

// newOrchestratedServer serves the API from real orchestrators over a MySQL
// backend whose connections fail with connectErr
func newOrchestratedServer(t *testing.T, connectErr error) *testServer {
	t.Helper()
	ts := newTestServer(t)
	logger := logging.NewNopLogger()

	local, err := storage.NewLocal(&storage.LocalConfig{BasePath: t.TempDir()}, logger)
	require.NoError(t, err)

	deps := backup.Dependencies{
		Engines: engine.NewRegistry(engine.NewMySQL(
			engine.WithConnector(failingConnector{err: connectErr}),
			engine.WithLogger(logger),
		)),
		Storage: storage.NewRegistry(local),
		Ledger:  ts.store,
		WorkDir: t.TempDir(),
		Logger:  logger,
	}
	ts.handler = NewRouter(NewHandler(backup.NewBackupOrchestrator(deps), backup.NewRestoreOrchestrator(deps), ts.store, logger))
	return ts
}

func TestBackupEndpointReportsConnectionFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"unknown database", &mysql.MySQLError{Number: 1049, Message: "Unknown database 'orders'"}},
		{"access denied", &mysql.MySQLError{Number: 1045, Message: "Access denied for user 'u'"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newOrchestratedServer(t, tt.err)

			rec := ts.do(t, http.MethodPost, "/api/backup",
				`{"engineType":"mysql","host":"db","port":3306,"username":"u","password":"p","targetName":"orders"}`)

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Equal(t, "CONNECTION_FAILED", decodeError(t, rec).Code)

			runs, err := ts.store.ListRuns(context.Background(), ledger.RunFilter{Action: ledger.ActionBackup, Status: ledger.StatusFailed})
			require.NoError(t, err)
			assert.Len(t, runs, 1)
		})
	}
}

func TestRestoreEndpointReportsMissingArtifactFile(t *testing.T) {
	ts := newOrchestratedServer(t, nil)
	ctx := context.Background()

	run, err := ts.store.StartRun(ctx, ledger.StartRunParams{
		Action: ledger.ActionBackup, EngineType: engine.TypeMySQL, TargetName: "orders", StorageType: storage.TypeLocal,
	})
	require.NoError(t, err)
	missing := filepath.Join(t.TempDir(), "orders_full_20240301_100000.sql")
	_, artifact, err := ts.store.CompleteBackup(ctx, run.ID, missing, ledger.ArtifactMetadata{
		TargetName: "orders", EngineType: engine.TypeMySQL, Kind: ledger.KindFull,
		FileName: filepath.Base(missing), SizeBytes: 10, StorageType: storage.TypeLocal,
	})
	require.NoError(t, err)

	rec := ts.do(t, http.MethodPost, "/api/restore",
		`{"artifactId":"`+artifact.ArtifactID+`","targetHost":"restore","targetPort":3307,"targetUsername":"root","targetPassword":"pw"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "ARTIFACT_MISSING", decodeError(t, rec).Code)
}
