// Package ledger records backup, restore and connection-test runs together with
// the metadata of every artifact a successful backup produced.
package ledger

import (
	"context"
	"time"
)

// StartRunParams describes a run being opened
type StartRunParams struct {
	Action      Action
	EngineType  string
	TargetName  string
	StorageType string
}

// RunFilter narrows ListRuns. Zero-valued fields are ignored; set fields combine with AND.
type RunFilter struct {
	Action     Action
	Status     Status
	TargetName string
	EngineType string
	StartDate  *time.Time
	EndDate    *time.Time
	Limit      int
}

// ArtifactFilter narrows ListArtifacts. Zero-valued fields are ignored; set fields combine with AND.
type ArtifactFilter struct {
	TargetName       string
	Status           Status
	EngineType       string
	Kind             Kind
	StorageType      string
	Compressed       *bool
	ParentArtifactID string
	StartDate        *time.Time
	EndDate          *time.Time
	Limit            int
}

// Ledger is the durable record of runs and artifacts.
//
// A run moves STARTED -> SUCCESS or STARTED -> FAILED exactly once. Attempts to
// transition a terminal run fail with a CONFLICT error; unknown ids fail with NOT_FOUND.
type Ledger interface {
	// StartRun opens a new run in STARTED state with a fresh id
	StartRun(ctx context.Context, params StartRunParams) (RunLog, error)
	// DescribeRun fills in the engine and storage type of a run that is still STARTED.
	// Empty arguments leave the stored value unchanged.
	DescribeRun(ctx context.Context, runID, engineType, storageType string) (RunLog, error)
	// CompleteRun moves a run to SUCCESS and records its result location
	CompleteRun(ctx context.Context, runID, location string) (RunLog, error)
	// CompleteBackup moves a backup run to SUCCESS and stores its artifact in one transaction.
	// The artifact id, status and end time are taken from the run.
	CompleteBackup(ctx context.Context, runID, location string, artifact ArtifactMetadata) (RunLog, ArtifactMetadata, error)
	// FailRun moves a run to FAILED with a bounded error detail
	FailRun(ctx context.Context, runID, detail string) (RunLog, error)

	GetRun(ctx context.Context, runID string) (RunLog, error)
	GetArtifact(ctx context.Context, artifactID string) (ArtifactMetadata, error)
	// LatestFullArtifact returns the newest FULL, SUCCESS artifact for target+engine by end time
	LatestFullArtifact(ctx context.Context, targetName, engineType string) (ArtifactMetadata, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]RunLog, error)
	ListArtifacts(ctx context.Context, filter ArtifactFilter) ([]ArtifactMetadata, error)
	// Lineage returns the artifact followed by its ancestors, child first
	Lineage(ctx context.Context, artifactID string) ([]ArtifactMetadata, error)

	Close() error
}
