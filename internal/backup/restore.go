package backup

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"multidb-backup/internal/engine"
	apperrors "multidb-backup/internal/errors"
	"multidb-backup/internal/ledger"
	"multidb-backup/internal/logging"
)

// RestoreOrchestrator replays stored artifacts into a database
type RestoreOrchestrator struct {
	deps Dependencies
}

// NewRestoreOrchestrator creates a restore orchestrator
func NewRestoreOrchestrator(deps Dependencies) *RestoreOrchestrator {
	return &RestoreOrchestrator{deps: deps.withDefaults()}
}

// Restore replays the requested artifact. An incremental artifact is replayed
// on top of its parent FULL artifact, parent first.
func (o *RestoreOrchestrator) Restore(ctx context.Context, req RestoreRequest) (*RestoreResult, error) {
	run, err := o.deps.Ledger.StartRun(ctx, ledger.StartRunParams{
		Action:     ledger.ActionRestore,
		TargetName: req.ArtifactID,
	})
	if err != nil {
		return nil, apperrors.NewRestoreFailedError("failed to record restore run", err)
	}

	ctx = logging.ContextWithRunID(ctx, run.ID)
	log := o.deps.Logger.WithContext(ctx).WithField("artifact_id", req.ArtifactID)
	log.Info("Restore started")

	artifact, restored, err := o.runRestore(ctx, log, run.ID, req)
	if err != nil {
		recordFailure(ctx, o.deps.Ledger, log, run.ID, err)
		return nil, apperrors.NewRestoreFailedError(fmt.Sprintf("restore of artifact %s failed", req.ArtifactID), err).
			WithContext("run_id", run.ID)
	}

	completed, err := o.deps.Ledger.CompleteRun(ctx, run.ID, artifact.StoragePath)
	if err != nil {
		return nil, apperrors.NewRestoreFailedError("restore finished but could not be recorded", err)
	}

	log.Info("Restore completed")
	return &RestoreResult{
		Status:      completed.Status,
		ArtifactID:  artifact.ArtifactID,
		LedgerRunID: completed.ID,
		Message:     "Restore completed successfully",
		Restored:    restored,
	}, nil
}

func (o *RestoreOrchestrator) runRestore(ctx context.Context, log *logrus.Entry, runID string, req RestoreRequest) (ledger.ArtifactMetadata, []string, error) {
	if req.ArtifactID == "" {
		return ledger.ArtifactMetadata{}, nil, apperrors.NewValidationError("artifactId is required", nil).
			WithContext("fields", []string{"artifactId"})
	}

	artifact, err := o.deps.Ledger.GetArtifact(ctx, req.ArtifactID)
	if err != nil {
		return ledger.ArtifactMetadata{}, nil, err
	}
	if _, err := o.deps.Ledger.DescribeRun(ctx, runID, engine.NormalizeType(artifact.EngineType), artifact.StorageType); err != nil {
		log.WithError(err).Warn("Failed to record engine and storage type on the restore run")
	}

	target, err := req.target(artifact)
	if err != nil {
		return artifact, nil, err
	}

	backend, err := o.deps.Engines.Get(artifact.EngineType)
	if err != nil {
		return artifact, nil, err
	}

	release, err := acquire(o.deps.Locker, targetKey(engine.NormalizeType(artifact.EngineType), target.Host, target.Port, target.Database))
	if err != nil {
		return artifact, nil, err
	}
	defer release()

	chain := []ledger.ArtifactMetadata{artifact}
	if artifact.IsIncremental() {
		if artifact.ParentArtifactID == nil {
			return artifact, nil, apperrors.NewMissingParentError(
				fmt.Sprintf("incremental artifact %s has no parent artifact and cannot be restored on its own", artifact.ArtifactID))
		}
		parent, err := o.deps.Ledger.GetArtifact(ctx, *artifact.ParentArtifactID)
		if err != nil {
			return artifact, nil, err
		}
		chain = []ledger.ArtifactMetadata{parent, artifact}
	}

	workDir, cleanup, err := runWorkDir(o.deps, "restore-"+runID)
	if err != nil {
		return artifact, nil, err
	}
	defer cleanup()

	restored := make([]string, 0, len(chain))
	for _, a := range chain {
		if err := o.restoreSingle(ctx, log, backend, a, target, workDir); err != nil {
			return artifact, restored, err
		}
		restored = append(restored, a.ArtifactID)
	}
	return artifact, restored, nil
}

// restoreSingle materializes, verifies, decompresses and replays one artifact.
// Decompressed copies go to workDir and are always removed; stored originals
// are never written to.
func (o *RestoreOrchestrator) restoreSingle(ctx context.Context, log *logrus.Entry, backend engine.DatabaseBackend, artifact ledger.ArtifactMetadata, target engine.ConnectionParams, workDir string) (err error) {
	log = log.WithFields(logrus.Fields{
		"restoring": artifact.ArtifactID,
		"kind":      artifact.Kind,
	})

	store, err := o.deps.Storage.Get(artifact.StorageType)
	if err != nil {
		return err
	}

	file, err := store.ResolveToLocalFile(ctx, artifact.StoragePath)
	if err != nil {
		return apperrors.NewArtifactMissingError(
			fmt.Sprintf("artifact %s is not available at %s", artifact.ArtifactID, artifact.StoragePath), err)
	}
	defer func() {
		if rerr := file.Release(); rerr != nil {
			log.WithError(rerr).Warn("Failed to remove downloaded artifact copy")
		}
	}()

	if artifact.Checksum != "" {
		sum, err := fileChecksum(file.Path)
		if err != nil {
			return apperrors.NewRestoreError("failed to checksum artifact", err)
		}
		if sum != artifact.Checksum {
			return apperrors.NewRestoreError(
				fmt.Sprintf("checksum mismatch for artifact %s: recorded %s, found %s", artifact.ArtifactID, artifact.Checksum, sum), nil)
		}
	}

	dumpFile := file.Path
	if artifact.Compressed {
		dumpFile, err = backend.Decompress(file.Path, workDir)
		if err != nil {
			return err
		}
		defer func() {
			if rerr := os.Remove(dumpFile); rerr != nil && !os.IsNotExist(rerr) {
				log.WithError(rerr).Warn("Failed to remove decompressed dump")
			}
		}()
	}

	log.Debug("Replaying artifact")
	return backend.Restore(ctx, dumpFile, target)
}
