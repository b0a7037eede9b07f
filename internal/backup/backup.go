package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"multidb-backup/internal/engine"
	apperrors "multidb-backup/internal/errors"
	"multidb-backup/internal/ledger"
	"multidb-backup/internal/logging"
	"multidb-backup/internal/storage"
)

// BackupOrchestrator runs backups and connection tests
type BackupOrchestrator struct {
	deps Dependencies
}

// NewBackupOrchestrator creates a backup orchestrator
func NewBackupOrchestrator(deps Dependencies) *BackupOrchestrator {
	return &BackupOrchestrator{deps: deps.withDefaults()}
}

// Backup dumps the requested database, optionally compresses the dump, stores it
// and records the artifact. The run is recorded as SUCCESS together with its
// artifact, or as FAILED with no artifact.
func (o *BackupOrchestrator) Backup(ctx context.Context, req BackupRequest) (*BackupResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	engineType := engine.NormalizeType(req.EngineType)
	storageType := req.StorageType
	if storageType == "" {
		storageType = o.deps.DefaultStorage
	}
	storageType = storage.NormalizeType(storageType)

	run, err := o.deps.Ledger.StartRun(ctx, ledger.StartRunParams{
		Action:      ledger.ActionBackup,
		EngineType:  engineType,
		TargetName:  req.TargetName,
		StorageType: storageType,
	})
	if err != nil {
		return nil, apperrors.NewBackupFailedError("failed to record backup run", err)
	}

	ctx = logging.ContextWithRunID(ctx, run.ID)
	log := o.deps.Logger.WithContext(ctx).WithFields(logrus.Fields{
		"engine": engineType,
		"target": req.TargetName,
		"kind":   req.Kind,
	})
	log.Info("Backup started")

	result, err := o.runBackup(ctx, log, run, req, engineType, storageType)
	if err != nil {
		recordFailure(ctx, o.deps.Ledger, log, run.ID, err)
		return nil, apperrors.NewBackupFailedError(fmt.Sprintf("backup of %s failed", req.TargetName), err).
			WithContext("run_id", run.ID)
	}

	log.WithField("location", result.Location).Info("Backup completed")
	return result, nil
}

func (o *BackupOrchestrator) runBackup(ctx context.Context, log *logrus.Entry, run ledger.RunLog, req BackupRequest, engineType, storageType string) (*BackupResult, error) {
	backend, err := o.deps.Engines.Get(engineType)
	if err != nil {
		return nil, err
	}
	store, err := o.deps.Storage.Get(storageType)
	if err != nil {
		return nil, err
	}

	params := req.ConnectionParams()
	release, err := acquire(o.deps.Locker, targetKey(engineType, params.Host, params.Port, params.Database))
	if err != nil {
		return nil, err
	}
	defer release()

	ok, err := backend.TestConnection(ctx, params)
	if err != nil || !ok {
		return nil, apperrors.NewConnectionFailedError(
			fmt.Sprintf("cannot connect to %s on %s:%d", req.TargetName, req.Host, req.Port), err)
	}

	var parentID *string
	if req.Kind == ledger.KindIncremental {
		parent, err := o.deps.Ledger.LatestFullArtifact(ctx, req.TargetName, engineType)
		if err != nil {
			if apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
				return nil, apperrors.NewNoParentBackupError(fmt.Sprintf(
					"no successful FULL backup of %s exists; an incremental backup needs one as its base", req.TargetName))
			}
			return nil, err
		}
		parentID = &parent.ArtifactID
		log.WithField("parent_artifact_id", parent.ArtifactID).Debug("Resolved parent artifact")
	}

	workDir, cleanup, err := runWorkDir(o.deps, "run-"+run.ID)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	dumpPath := filepath.Join(workDir, DumpFileName(req.TargetName, req.Kind, o.deps.Now(), run.ID))
	if req.Kind == ledger.KindIncremental {
		dumpPath, err = backend.IncrementalDump(ctx, params, req.Tables, dumpPath)
	} else {
		dumpPath, err = backend.FullDump(ctx, params, dumpPath)
	}
	if err != nil {
		return nil, err
	}

	if req.Compress {
		if dumpPath, err = backend.Compress(dumpPath); err != nil {
			return nil, err
		}
	}

	info, err := os.Stat(dumpPath)
	if err != nil {
		return nil, apperrors.NewDumpError("dump file vanished before storage", err)
	}
	checksum, err := fileChecksum(dumpPath)
	if err != nil {
		return nil, apperrors.NewDumpError("failed to checksum dump file", err)
	}

	location, err := store.Store(ctx, dumpPath, req.placement(engineType))
	if err != nil {
		return nil, err
	}

	artifact := ledger.ArtifactMetadata{
		TargetName:       req.TargetName,
		EngineType:       engineType,
		Kind:             req.Kind,
		Compressed:       req.Compress,
		FileName:         filepath.Base(dumpPath),
		SizeBytes:        info.Size(),
		StorageType:      storageType,
		StoragePath:      location,
		ParentArtifactID: parentID,
		Checksum:         checksum,
	}
	if req.Kind == ledger.KindIncremental {
		artifact.Tables = req.Tables
	}

	completed, artifact, err := o.deps.Ledger.CompleteBackup(ctx, run.ID, location, artifact)
	if err != nil {
		log.WithField("location", location).Warn("Artifact was stored but could not be recorded")
		return nil, err
	}

	return &BackupResult{
		Status:   completed.Status,
		Location: location,
		LedgerID: completed.ID,
		Message:  "Backup completed successfully",
		Artifact: artifact,
	}, nil
}

// TestConnection checks a database connection and records the attempt as a CONNECTION_TEST run.
// An unreachable database is a normal outcome and reported through the result.
func (o *BackupOrchestrator) TestConnection(ctx context.Context, req ConnectionTestRequest) (*ConnectionTestResult, error) {
	engineType := engine.NormalizeType(req.EngineType)

	run, err := o.deps.Ledger.StartRun(ctx, ledger.StartRunParams{
		Action:     ledger.ActionConnectionTest,
		EngineType: engineType,
		TargetName: req.TargetName,
	})
	if err != nil {
		return nil, err
	}
	ctx = logging.ContextWithRunID(ctx, run.ID)
	log := o.deps.Logger.WithContext(ctx).WithField("engine", engineType)

	backend, err := o.deps.Engines.Get(engineType)
	if err != nil {
		recordFailure(ctx, o.deps.Ledger, log, run.ID, err)
		return nil, err
	}

	ok, err := backend.TestConnection(ctx, engine.ConnectionParams{
		Host:     req.Host,
		Port:     req.Port,
		Username: req.Username,
		Password: req.Password,
		Database: req.TargetName,
	})
	if err != nil || !ok {
		if err == nil {
			err = apperrors.NewConnectivityError("connection test returned false", nil)
		}
		recordFailure(ctx, o.deps.Ledger, log, run.ID, err)
		return &ConnectionTestResult{Success: false, LedgerID: run.ID, Message: err.Error()}, nil
	}

	if _, err := o.deps.Ledger.CompleteRun(ctx, run.ID, ""); err != nil {
		return nil, err
	}
	return &ConnectionTestResult{Success: true, LedgerID: run.ID, Message: "Connection successful"}, nil
}

// recordFailure moves a run to FAILED. It runs even when ctx is already
// cancelled; a failure to record is logged and never replaces the original error.
func recordFailure(ctx context.Context, l ledger.Ledger, log *logrus.Entry, runID string, cause error) {
	if _, err := l.FailRun(context.WithoutCancel(ctx), runID, cause.Error()); err != nil {
		log.WithError(err).Error("Failed to record run failure")
		return
	}
	log.WithError(cause).Error("Run failed")
}
