package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"multidb-backup/internal/backup"
	"multidb-backup/internal/config"
	"multidb-backup/internal/database"
	"multidb-backup/internal/engine"
	"multidb-backup/internal/ledger"
	"multidb-backup/internal/logging"
	"multidb-backup/internal/storage"
)

// app holds the collaborators built from the configuration
type app struct {
	ledger   *ledger.Store
	storage  *storage.Registry
	backups  *backup.BackupOrchestrator
	restores *backup.RestoreOrchestrator
}

// openLedger opens only the ledger, for the read-only commands
func openLedger(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*ledger.Store, error) {
	return ledger.Open(ctx, cfg.Ledger, ledger.WithLogger(logger))
}

// newEngineRegistry registers the MySQL and PostgreSQL backends with the configured tools
func newEngineRegistry(cfg *config.Config, logger *logging.Logger) (*engine.Registry, error) {
	compression, err := engine.NewCompressionManager(
		engine.CompressionType(cfg.Engines.Compression.Algorithm), cfg.Engines.Compression.Level)
	if err != nil {
		return nil, err
	}

	connector := database.NewServiceWithOptions(logger, cfg.Engines.Retry)
	runner := engine.NewExecRunner(logger)

	common := []engine.Option{
		engine.WithConnector(connector),
		engine.WithToolRunner(runner),
		engine.WithCompression(compression),
		engine.WithLogger(logger),
	}
	mysqlOpts := append(append([]engine.Option{}, common...),
		engine.WithBinaries(cfg.Engines.MySQL.DumpBinary, cfg.Engines.MySQL.ClientBinary),
		engine.WithExtraDumpArgs(cfg.Engines.MySQL.ExtraDumpArgs...))
	pgOpts := append(append([]engine.Option{}, common...),
		engine.WithBinaries(cfg.Engines.PostgreSQL.DumpBinary, cfg.Engines.PostgreSQL.ClientBinary),
		engine.WithExtraDumpArgs(cfg.Engines.PostgreSQL.ExtraDumpArgs...))

	return engine.NewRegistry(engine.NewMySQL(mysqlOpts...), engine.NewPostgres(pgOpts...)), nil
}

// newApp wires the ledger, engines, storage backends and orchestrators
func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*app, error) {
	workDir := cfg.Orchestrator.WorkDir
	downloads := filepath.Join(workDir, "downloads")
	if err := os.MkdirAll(downloads, 0700); err != nil {
		return nil, fmt.Errorf("failed to create work directory %s: %w", workDir, err)
	}

	engines, err := newEngineRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}

	registry, err := storage.NewRegistryFromConfig(ctx, cfg.Storage, downloads, logger)
	if err != nil {
		return nil, err
	}

	store, err := openLedger(ctx, cfg, logger)
	if err != nil {
		_ = registry.Close()
		return nil, err
	}

	var locker backup.TargetLocker = backup.NoopLocker()
	if cfg.Orchestrator.TargetLock {
		locker = backup.NewMemoryLocker()
	}

	deps := backup.Dependencies{
		Engines:        engines,
		Storage:        registry,
		Ledger:         store,
		Locker:         locker,
		WorkDir:        workDir,
		DefaultStorage: cfg.Storage.Default,
		Logger:         logger,
	}
	return &app{
		ledger:   store,
		storage:  registry,
		backups:  backup.NewBackupOrchestrator(deps),
		restores: backup.NewRestoreOrchestrator(deps),
	}, nil
}

// Close releases the ledger and storage clients
func (a *app) Close() error {
	storageErr := a.storage.Close()
	if err := a.ledger.Close(); err != nil {
		return err
	}
	return storageErr
}

// runContext bounds a CLI-initiated run by the configured timeout
func runContext(ctx context.Context, cfg *config.Config) (context.Context, context.CancelFunc) {
	if cfg.Orchestrator.Timeout > 0 {
		return context.WithTimeout(ctx, cfg.Orchestrator.Timeout)
	}
	return context.WithCancel(ctx)
}
