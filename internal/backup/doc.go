// Package backup orchestrates backup, restore and connection-test runs across
// database engines and storage backends.
//
// Every run is recorded in the ledger before any work starts and is moved to a
// terminal state exactly once when it ends. Failures are recorded on the run and
// returned wrapped in a BACKUP_FAILED or RESTORE_FAILED error, so callers can
// still reach the underlying kind with errors.Is.
//
// Core components:
//
//   - BackupOrchestrator: connection test, full or incremental dump, optional
//     compression, storage and artifact bookkeeping
//   - RestoreOrchestrator: artifact lookup, parent-first restore of incremental
//     chains, checksum verification and temp file cleanup
//   - TargetLocker: keeps two runs from working on the same database at once
//
// Example usage:
//
//	deps := backup.Dependencies{
//		Engines: engine.NewRegistry(engine.NewMySQL(), engine.NewPostgres()),
//		Storage: storageRegistry,
//		Ledger:  store,
//		WorkDir: "/var/lib/multidb-backup/work",
//	}
//	orchestrator := backup.NewBackupOrchestrator(deps)
//	result, err := orchestrator.Backup(ctx, backup.BackupRequest{
//		EngineType: "MYSQL",
//		Host:       "db.internal",
//		Port:       3306,
//		Username:   "backup",
//		Password:   password,
//		TargetName: "orders",
//		Kind:       ledger.KindFull,
//		Compress:   true,
//	})
package backup
