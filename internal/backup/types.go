package backup

import (
	"fmt"
	"strings"
	"time"

	"multidb-backup/internal/engine"
	apperrors "multidb-backup/internal/errors"
	"multidb-backup/internal/ledger"
	"multidb-backup/internal/logging"
	"multidb-backup/internal/storage"
)

// BackupRequest describes one backup run. The password is used for the run only
// and never stored.
type BackupRequest struct {
	EngineType  string      `json:"engineType" validate:"required"`
	Host        string      `json:"host" validate:"required"`
	Port        int         `json:"port" validate:"required,min=1,max=65535"`
	Username    string      `json:"username" validate:"required"`
	Password    string      `json:"password"`
	TargetName  string      `json:"targetName" validate:"required"`
	Kind        ledger.Kind `json:"kind" validate:"omitempty,oneof=FULL INCREMENTAL"`
	Tables      []string    `json:"tables,omitempty"`
	Compress    bool        `json:"compress"`
	StorageType string      `json:"storageType,omitempty"`
	LocalPath   string      `json:"localPath,omitempty"`
	CloudBucket string      `json:"cloudBucket,omitempty"`
	CloudFolder string      `json:"cloudFolder,omitempty"`
}

// ConnectionParams returns the engine connection parameters of the request
func (r BackupRequest) ConnectionParams() engine.ConnectionParams {
	return engine.ConnectionParams{
		Host:     r.Host,
		Port:     r.Port,
		Username: r.Username,
		Password: r.Password,
		Database: r.TargetName,
	}
}

// Validate checks the fields needed to open a run. Table lists are checked by
// the engine as part of the run.
func (r *BackupRequest) Validate() error {
	var errs apperrors.ValidationErrors

	if strings.TrimSpace(r.EngineType) == "" {
		errs.Add("engineType", "engineType is required", r.EngineType)
	}
	if strings.TrimSpace(r.TargetName) == "" {
		errs.Add("targetName", "targetName is required", r.TargetName)
	}
	if strings.TrimSpace(r.Host) == "" {
		errs.Add("host", "host is required", r.Host)
	}
	if r.Port < 1 || r.Port > 65535 {
		errs.Add("port", "port must be between 1 and 65535", r.Port)
	}
	if strings.TrimSpace(r.Username) == "" {
		errs.Add("username", "username is required", r.Username)
	}

	if r.Kind == "" {
		r.Kind = ledger.KindFull
	}
	r.Kind = ledger.Kind(strings.ToUpper(string(r.Kind)))
	if r.Kind != ledger.KindFull && r.Kind != ledger.KindIncremental {
		errs.Add("kind", "kind must be FULL or INCREMENTAL", r.Kind)
	}

	return validationError("invalid backup request", errs)
}

func (r BackupRequest) placement(engineType string) storage.Placement {
	return storage.Placement{
		EngineType: engineType,
		TargetName: r.TargetName,
		LocalPath:  r.LocalPath,
		Bucket:     r.CloudBucket,
		Prefix:     r.CloudFolder,
	}
}

// BackupResult reports a successful backup
type BackupResult struct {
	Status   ledger.Status           `json:"status" yaml:"status"`
	Location string                  `json:"location" yaml:"location"`
	LedgerID string                  `json:"ledgerId" yaml:"ledger_id"`
	Message  string                  `json:"message" yaml:"message"`
	Artifact ledger.ArtifactMetadata `json:"artifact" yaml:"artifact"`
}

// RestoreRequest names the artifact to restore and where to restore it.
// Every target field except TargetDBName is mandatory.
type RestoreRequest struct {
	ArtifactID     string `json:"artifactId" validate:"required"`
	TargetHost     string `json:"targetHost"`
	TargetPort     int    `json:"targetPort"`
	TargetUsername string `json:"targetUsername"`
	TargetPassword string `json:"targetPassword"`
	TargetDBName   string `json:"targetDbName,omitempty"`
}

// target validates the overrides and builds the connection for artifact
func (r RestoreRequest) target(artifact ledger.ArtifactMetadata) (engine.ConnectionParams, error) {
	var errs apperrors.ValidationErrors

	if strings.TrimSpace(r.TargetHost) == "" {
		errs.Add("targetHost", "targetHost is required", nil)
	}
	if r.TargetPort < 1 || r.TargetPort > 65535 {
		errs.Add("targetPort", "targetPort is required", r.TargetPort)
	}
	if strings.TrimSpace(r.TargetUsername) == "" {
		errs.Add("targetUsername", "targetUsername is required", nil)
	}
	if r.TargetPassword == "" {
		errs.Add("targetPassword", "targetPassword is required, passwords are not stored", nil)
	}
	if err := validationError("invalid restore target", errs); err != nil {
		return engine.ConnectionParams{}, err
	}

	database := r.TargetDBName
	if strings.TrimSpace(database) == "" {
		database = artifact.TargetName
	}
	return engine.ConnectionParams{
		Host:     r.TargetHost,
		Port:     r.TargetPort,
		Username: r.TargetUsername,
		Password: r.TargetPassword,
		Database: database,
	}, nil
}

// RestoreResult reports a successful restore
type RestoreResult struct {
	Status      ledger.Status `json:"status" yaml:"status"`
	ArtifactID  string        `json:"artifactId" yaml:"artifact_id"`
	LedgerRunID string        `json:"ledgerRunId" yaml:"ledger_run_id"`
	Message     string        `json:"message" yaml:"message"`
	// Restored lists the artifacts replayed, in order
	Restored []string `json:"restored" yaml:"restored"`
}

// ConnectionTestRequest identifies a database to connect to
type ConnectionTestRequest struct {
	EngineType string `json:"engineType" validate:"required"`
	Host       string `json:"host" validate:"required"`
	Port       int    `json:"port" validate:"required,min=1,max=65535"`
	Username   string `json:"username" validate:"required"`
	Password   string `json:"password"`
	TargetName string `json:"targetName" validate:"required"`
}

// ConnectionTestResult reports the outcome of a connection test
type ConnectionTestResult struct {
	Success  bool   `json:"success" yaml:"success"`
	LedgerID string `json:"ledgerId" yaml:"ledger_id"`
	Message  string `json:"message,omitempty" yaml:"message,omitempty"`
}

// validationError turns errs into a VALIDATION error whose message names every field
func validationError(message string, errs apperrors.ValidationErrors) error {
	if !errs.HasErrors() {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	fields := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
		fields = append(fields, e.Field)
	}
	return apperrors.NewValidationError(fmt.Sprintf("%s: %s", message, strings.Join(msgs, "; ")), errs).
		WithContext("fields", fields)
}

// Dependencies are the collaborators shared by the orchestrators
type Dependencies struct {
	Engines *engine.Registry
	Storage *storage.Registry
	Ledger  ledger.Ledger
	// Locker serialises runs per database; nil disables locking
	Locker TargetLocker
	// WorkDir holds dump files while a run is in progress
	WorkDir string
	// DefaultStorage is used when a request names no storage type
	DefaultStorage string
	Logger         *logging.Logger
	Now            func() time.Time
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Locker == nil {
		d.Locker = NoopLocker()
	}
	if d.DefaultStorage == "" {
		d.DefaultStorage = storage.TypeLocal
	}
	if d.Logger == nil {
		d.Logger = logging.NewDefaultLogger()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}
