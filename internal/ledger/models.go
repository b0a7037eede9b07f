package ledger

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/uptrace/bun"
)

// Action identifies what a RunLog records
type Action string

const (
	ActionBackup         Action = "BACKUP"
	ActionRestore        Action = "RESTORE"
	ActionConnectionTest Action = "CONNECTION_TEST"
)

// Status is the lifecycle state of a run or artifact
type Status string

const (
	StatusStarted Status = "STARTED"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// IsTerminal reports whether no further transition is allowed
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Kind distinguishes full dumps from table-scoped incrementals
type Kind string

const (
	KindFull        Kind = "FULL"
	KindIncremental Kind = "INCREMENTAL"
)

// MaxErrorDetailLength bounds RunLog.ErrorDetail
const MaxErrorDetailLength = 2000

// RunLog is one backup, restore or connection-test attempt.
// Values returned by the ledger are copies; mutating them has no effect on stored state.
type RunLog struct {
	ID             string     `json:"id" yaml:"id"`
	Action         Action     `json:"action" yaml:"action"`
	EngineType     string     `json:"engineType" yaml:"engine_type"`
	TargetName     string     `json:"targetName" yaml:"target_name"`
	Status         Status     `json:"status" yaml:"status"`
	StartedAt      time.Time  `json:"startedAt" yaml:"started_at"`
	EndedAt        *time.Time `json:"endedAt,omitempty" yaml:"ended_at,omitempty"`
	StorageType    string     `json:"storageType,omitempty" yaml:"storage_type,omitempty"`
	ResultLocation string     `json:"resultLocation,omitempty" yaml:"result_location,omitempty"`
	ErrorDetail    string     `json:"errorDetail,omitempty" yaml:"error_detail,omitempty"`
}

// ArtifactMetadata describes one successfully produced backup artifact
type ArtifactMetadata struct {
	ArtifactID       string    `json:"artifactId" yaml:"artifact_id"`
	TargetName       string    `json:"targetName" yaml:"target_name"`
	EngineType       string    `json:"engineType" yaml:"engine_type"`
	Kind             Kind      `json:"kind" yaml:"kind"`
	Compressed       bool      `json:"compressed" yaml:"compressed"`
	FileName         string    `json:"fileName" yaml:"file_name"`
	SizeBytes        int64     `json:"sizeBytes" yaml:"size_bytes"`
	StorageType      string    `json:"storageType" yaml:"storage_type"`
	StoragePath      string    `json:"storagePath" yaml:"storage_path"`
	StartedAt        time.Time `json:"startedAt" yaml:"started_at"`
	EndedAt          time.Time `json:"endedAt" yaml:"ended_at"`
	Status           Status    `json:"status" yaml:"status"`
	ParentArtifactID *string   `json:"parentArtifactId,omitempty" yaml:"parent_artifact_id,omitempty"`
	Tables           []string  `json:"tables,omitempty" yaml:"tables,omitempty"`
	Checksum         string    `json:"checksum,omitempty" yaml:"checksum,omitempty"`
}

// IsIncremental reports whether the artifact depends on a parent
func (a ArtifactMetadata) IsIncremental() bool {
	return a.Kind == KindIncremental
}

type runRow struct {
	bun.BaseModel `bun:"table:run_logs,alias:r"`

	ID             string     `bun:"id,pk,type:varchar(64)"`
	Action         string     `bun:"action,notnull,type:varchar(32)"`
	EngineType     string     `bun:"engine_type,notnull,type:varchar(32)"`
	TargetName     string     `bun:"target_name,notnull,type:varchar(255)"`
	Status         string     `bun:"status,notnull,type:varchar(16)"`
	StartedAt      time.Time  `bun:"started_at,notnull"`
	EndedAt        *time.Time `bun:"ended_at"`
	StorageType    string     `bun:"storage_type,nullzero,type:varchar(32)"`
	ResultLocation string     `bun:"result_location,nullzero,type:varchar(1024)"`
	ErrorDetail    string     `bun:"error_detail,nullzero,type:varchar(2000)"`
}

func (r *runRow) toRunLog() RunLog {
	run := RunLog{
		ID:             r.ID,
		Action:         Action(r.Action),
		EngineType:     r.EngineType,
		TargetName:     r.TargetName,
		Status:         Status(r.Status),
		StartedAt:      r.StartedAt.UTC(),
		StorageType:    r.StorageType,
		ResultLocation: r.ResultLocation,
		ErrorDetail:    r.ErrorDetail,
	}
	if r.EndedAt != nil {
		ended := r.EndedAt.UTC()
		run.EndedAt = &ended
	}
	return run
}

type artifactRow struct {
	bun.BaseModel `bun:"table:artifact_metadata,alias:a"`

	ArtifactID       string    `bun:"artifact_id,pk,type:varchar(64)"`
	TargetName       string    `bun:"target_name,notnull,type:varchar(255)"`
	EngineType       string    `bun:"engine_type,notnull,type:varchar(32)"`
	Kind             string    `bun:"kind,notnull,type:varchar(16)"`
	Compressed       bool      `bun:"compressed,notnull"`
	FileName         string    `bun:"file_name,notnull,type:varchar(255)"`
	SizeBytes        int64     `bun:"size_bytes,notnull"`
	StorageType      string    `bun:"storage_type,notnull,type:varchar(32)"`
	StoragePath      string    `bun:"storage_path,notnull,type:varchar(1024)"`
	StartedAt        time.Time `bun:"started_at,notnull"`
	EndedAt          time.Time `bun:"ended_at,notnull"`
	Status           string    `bun:"status,notnull,type:varchar(16)"`
	ParentArtifactID *string   `bun:"parent_artifact_id,type:varchar(64)"`
	Tables           string    `bun:"tables,nullzero,type:varchar(2000)"`
	Checksum         string    `bun:"checksum,nullzero,type:varchar(64)"`
}

func newArtifactRow(a ArtifactMetadata) *artifactRow {
	return &artifactRow{
		ArtifactID:       a.ArtifactID,
		TargetName:       a.TargetName,
		EngineType:       a.EngineType,
		Kind:             string(a.Kind),
		Compressed:       a.Compressed,
		FileName:         a.FileName,
		SizeBytes:        a.SizeBytes,
		StorageType:      a.StorageType,
		StoragePath:      a.StoragePath,
		StartedAt:        a.StartedAt.UTC(),
		EndedAt:          a.EndedAt.UTC(),
		Status:           string(a.Status),
		ParentArtifactID: a.ParentArtifactID,
		Tables:           encodeTables(a.Tables),
		Checksum:         a.Checksum,
	}
}

func (r *artifactRow) toArtifact() ArtifactMetadata {
	a := ArtifactMetadata{
		ArtifactID:  r.ArtifactID,
		TargetName:  r.TargetName,
		EngineType:  r.EngineType,
		Kind:        Kind(r.Kind),
		Compressed:  r.Compressed,
		FileName:    r.FileName,
		SizeBytes:   r.SizeBytes,
		StorageType: r.StorageType,
		StoragePath: r.StoragePath,
		StartedAt:   r.StartedAt.UTC(),
		EndedAt:     r.EndedAt.UTC(),
		Status:      Status(r.Status),
		Checksum:    r.Checksum,
	}
	if r.ParentArtifactID != nil {
		parent := *r.ParentArtifactID
		a.ParentArtifactID = &parent
	}
	a.Tables = decodeTables(r.Tables)
	return a
}

// encodeTables stores table names as a JSON array so names may contain commas
func encodeTables(tables []string) string {
	if len(tables) == 0 {
		return ""
	}
	data, err := json.Marshal(tables)
	if err != nil {
		return ""
	}
	return string(data)
}

// decodeTables reads a JSON array, falling back to the older comma-joined form
func decodeTables(raw string) []string {
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var tables []string
		if err := json.Unmarshal([]byte(raw), &tables); err == nil {
			return tables
		}
	}
	return strings.Split(raw, ",")
}

// truncateDetail bounds s to MaxErrorDetailLength characters
func truncateDetail(s string) string {
	runes := []rune(s)
	if len(runes) <= MaxErrorDetailLength {
		return s
	}
	return string(runes[:MaxErrorDetailLength])
}
