package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"multidb-backup/internal/engine"
	apperrors "multidb-backup/internal/errors"
	"multidb-backup/internal/ledger"
	"multidb-backup/internal/logging"
	"multidb-backup/internal/storage"
)

// fakeEngine records calls and writes recognisable dump contents
type fakeEngine struct {
	mu         sync.Mutex
	engineType string
	calls      []string
	restored   []string
	connectErr error
	connectOK  bool
	dumpErr    error
	restoreErr error
	beforeDump func()
	// dumpLabel, when set, is written as a second line of every full dump
	dumpLabel     string
	beforeRestore func(dumpFile string)
	compression   *engine.CompressionManager
}

func newFakeEngine(engineType string) *fakeEngine {
	return &fakeEngine{
		engineType:  engineType,
		connectOK:   true,
		compression: engine.NewDefaultCompressionManager(),
	}
}

func (f *fakeEngine) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEngine) Type() string { return f.engineType }

func (f *fakeEngine) TestConnection(ctx context.Context, params engine.ConnectionParams) (bool, error) {
	f.record("test_connection")
	if f.connectErr != nil {
		return false, apperrors.NewConnectivityError("unreachable", f.connectErr)
	}
	return f.connectOK, nil
}

func (f *fakeEngine) FullDump(ctx context.Context, params engine.ConnectionParams, destPath string) (string, error) {
	f.record("full_dump")
	if f.beforeDump != nil {
		f.beforeDump()
	}
	if f.dumpErr != nil {
		return "", f.dumpErr
	}
	content := fmt.Sprintf("-- full dump of %s\n", params.Database)
	if f.dumpLabel != "" {
		content += "-- " + f.dumpLabel + "\n"
	}
	return destPath, os.WriteFile(destPath, []byte(content), 0600)
}

func (f *fakeEngine) IncrementalDump(ctx context.Context, params engine.ConnectionParams, tables []string, destPath string) (string, error) {
	f.record("incremental_dump")
	if len(tables) == 0 {
		return "", apperrors.NewValidationError("incremental backup requires at least one table", nil)
	}
	if f.dumpErr != nil {
		return "", f.dumpErr
	}
	content := fmt.Sprintf("-- incremental dump of %s %v\n", params.Database, tables)
	return destPath, os.WriteFile(destPath, []byte(content), 0600)
}

func (f *fakeEngine) Compress(path string) (string, error) {
	f.record("compress")
	return f.compression.Compress(path)
}

func (f *fakeEngine) Decompress(path, destDir string) (string, error) {
	f.record("decompress")
	return f.compression.Decompress(path, destDir)
}

func (f *fakeEngine) Restore(ctx context.Context, dumpFile string, target engine.ConnectionParams) error {
	f.record("restore")
	if f.beforeRestore != nil {
		f.beforeRestore(dumpFile)
	}
	if f.restoreErr != nil {
		return f.restoreErr
	}
	data, err := os.ReadFile(dumpFile)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.restored = append(f.restored, fmt.Sprintf("%s@%s:%d/%s", string(data), target.Host, target.Port, target.Database))
	f.mu.Unlock()
	return nil
}

// tempCopyStorage behaves like a remote backend: every resolve hands out a
// temporary copy of an object kept in its own directory
type tempCopyStorage struct {
	objects string
	temps   string
	handed  []string
}

func newTempCopyStorage(t *testing.T) *tempCopyStorage {
	return &tempCopyStorage{objects: t.TempDir(), temps: t.TempDir()}
}

func (s *tempCopyStorage) Type() string { return storage.TypeS3 }

func (s *tempCopyStorage) Store(ctx context.Context, file string, placement storage.Placement) (string, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return "", apperrors.NewStorageError("read", err)
	}
	name := filepath.Base(file)
	if err := os.WriteFile(filepath.Join(s.objects, name), data, 0600); err != nil {
		return "", apperrors.NewStorageError("write", err)
	}
	return "s3://bucket/" + name, nil
}

func (s *tempCopyStorage) ResolveToLocalFile(ctx context.Context, location string) (storage.LocalFile, error) {
	name := filepath.Base(location)
	data, err := os.ReadFile(filepath.Join(s.objects, name))
	if err != nil {
		return storage.LocalFile{}, apperrors.NewNotFoundError(location, err)
	}
	tmp := filepath.Join(s.temps, "dl-"+name)
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return storage.LocalFile{}, err
	}
	s.handed = append(s.handed, tmp)
	return storage.LocalFile{Path: tmp, Temporary: true}, nil
}

// stepClock advances one second per call so end times are strictly ordered
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type harness struct {
	ledger   *ledger.Store
	engine   *fakeEngine
	local    *storage.Local
	remote   *tempCopyStorage
	locker   *MemoryLocker
	workDir  string
	backup   *BackupOrchestrator
	restorer *RestoreOrchestrator
	deps     Dependencies
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	logger := logging.NewNopLogger()
	clock := &stepClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}

	store, err := ledger.Open(ctx, ledger.Config{Type: ledger.DBTypeSQLite, DSN: ":memory:"},
		ledger.WithClock(clock.Now), ledger.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	local, err := storage.NewLocal(&storage.LocalConfig{BasePath: t.TempDir()}, logger)
	require.NoError(t, err)

	fake := newFakeEngine(engine.TypeMySQL)
	remote := newTempCopyStorage(t)
	locker := NewMemoryLocker()
	workDir := t.TempDir()

	deps := Dependencies{
		Engines: engine.NewRegistry(fake),
		Storage: storage.NewRegistry(local, remote),
		Ledger:  store,
		Locker:  locker,
		WorkDir: workDir,
		Logger:  logger,
		Now:     clock.Now,
	}

	return &harness{
		ledger:   store,
		engine:   fake,
		local:    local,
		remote:   remote,
		locker:   locker,
		workDir:  workDir,
		backup:   NewBackupOrchestrator(deps),
		restorer: NewRestoreOrchestrator(deps),
		deps:     deps,
	}
}

func ordersRequest(kind ledger.Kind) BackupRequest {
	req := BackupRequest{
		EngineType:  "MYSQL",
		Host:        "db.internal",
		Port:        3306,
		Username:    "backup",
		Password:    "s3cret",
		TargetName:  "orders",
		Kind:        kind,
		StorageType: "LOCAL",
	}
	if kind == ledger.KindIncremental {
		req.Tables = []string{"t1", "t2"}
	}
	return req
}

func restoreRequest(artifactID string) RestoreRequest {
	return RestoreRequest{
		ArtifactID:     artifactID,
		TargetHost:     "restore.internal",
		TargetPort:     3307,
		TargetUsername: "admin",
		TargetPassword: "pw",
	}
}

func (h *harness) runs(t *testing.T, action ledger.Action) []ledger.RunLog {
	t.Helper()
	runs, err := h.ledger.ListRuns(context.Background(), ledger.RunFilter{Action: action})
	require.NoError(t, err)
	return runs
}

func (h *harness) artifacts(t *testing.T) []ledger.ArtifactMetadata {
	t.Helper()
	artifacts, err := h.ledger.ListArtifacts(context.Background(), ledger.ArtifactFilter{})
	require.NoError(t, err)
	return artifacts
}

func (h *harness) assertWorkDirEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.workDir)
	require.NoError(t, err)
	require.Empty(t, entries, "work directory must be cleaned up")
}
