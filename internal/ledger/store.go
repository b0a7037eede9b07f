package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	apperrors "multidb-backup/internal/errors"
	"multidb-backup/internal/logging"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Supported ledger database types
const (
	DBTypeSQLite   = "sqlite"
	DBTypePostgres = "postgres"
	DBTypeMySQL    = "mysql"
)

// Config selects the ledger database
type Config struct {
	Type         string        `mapstructure:"type" yaml:"type"`
	DSN          string        `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	ConnLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// SetDefaults fills unset fields
func (c *Config) SetDefaults() {
	if c.Type == "" {
		c.Type = DBTypeSQLite
	}
	if c.DSN == "" && c.Type == DBTypeSQLite {
		c.DSN = "file:multidb-backup.db?_pragma=busy_timeout(5000)"
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 10
	}
	if c.ConnLifetime == 0 {
		c.ConnLifetime = 5 * time.Minute
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	var verrs apperrors.ValidationErrors
	switch c.Type {
	case DBTypeSQLite, DBTypePostgres, DBTypeMySQL:
	default:
		verrs.Add("ledger.type", "must be one of sqlite, postgres, mysql", c.Type)
	}
	if c.DSN == "" {
		verrs.Add("ledger.dsn", "dsn is required", nil)
	}
	if c.MaxOpenConns < 0 {
		verrs.Add("ledger.max_open_conns", "must not be negative", c.MaxOpenConns)
	}
	return verrs.AsError("invalid ledger configuration")
}

// Option customises a Store
type Option func(*Store)

// WithClock overrides the time source used for run timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides run id generation
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Store is a Ledger backed by a SQL database through bun
type Store struct {
	db     *bun.DB
	dbType string
	now    func() time.Time
	newID  func() string
	logger *logging.Logger
}

var _ Ledger = (*Store)(nil)

// Open connects to the configured database and creates the ledger tables if needed
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	driverName := cfg.Type
	if cfg.Type == DBTypePostgres {
		driverName = "pgx"
	}

	sqlDB, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, apperrors.WrapError(err, "failed to open ledger database")
	}

	maxOpen := cfg.MaxOpenConns
	if cfg.Type == DBTypeSQLite && (cfg.DSN == ":memory:" || strings.Contains(cfg.DSN, "mode=memory")) {
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxOpen)
	sqlDB.SetConnMaxLifetime(cfg.ConnLifetime)

	store := NewStore(newBunDB(sqlDB, cfg.Type), cfg.Type, opts...)
	if err := store.CreateSchema(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	store.logger.WithFields(map[string]interface{}{
		"type": cfg.Type,
		"dsn":  logging.SanitizeDSN(cfg.DSN),
	}).Debug("Ledger database ready")

	return store, nil
}

// NewStore wraps an existing bun database
func NewStore(db *bun.DB, dbType string, opts ...Option) *Store {
	s := &Store{
		db:     db,
		dbType: dbType,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: logging.NewDefaultLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newBunDB(sqlDB *sql.DB, dbType string) *bun.DB {
	switch dbType {
	case DBTypePostgres:
		return bun.NewDB(sqlDB, pgdialect.New())
	case DBTypeMySQL:
		return bun.NewDB(sqlDB, mysqldialect.New())
	default:
		return bun.NewDB(sqlDB, sqlitedialect.New())
	}
}

// CreateSchema creates the ledger tables and lookup indexes if they do not exist
func (s *Store) CreateSchema(ctx context.Context) error {
	models := []interface{}{(*runRow)(nil), (*artifactRow)(nil)}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return apperrors.WrapError(err, "failed to create ledger tables")
		}
	}

	// MySQL has no CREATE INDEX IF NOT EXISTS.
	if s.dbType == DBTypeMySQL {
		return nil
	}

	indexes := []struct {
		model   interface{}
		name    string
		columns []string
	}{
		{(*runRow)(nil), "idx_run_logs_target", []string{"target_name", "engine_type"}},
		{(*runRow)(nil), "idx_run_logs_started", []string{"started_at"}},
		{(*artifactRow)(nil), "idx_artifact_lineage", []string{"target_name", "engine_type", "kind", "status", "ended_at"}},
		{(*artifactRow)(nil), "idx_artifact_parent", []string{"parent_artifact_id"}},
	}
	for _, idx := range indexes {
		if _, err := s.db.NewCreateIndex().Model(idx.model).Index(idx.name).Column(idx.columns...).IfNotExists().Exec(ctx); err != nil {
			return apperrors.WrapError(err, fmt.Sprintf("failed to create index %s", idx.name))
		}
	}
	return nil
}

// StartRun implements Ledger
func (s *Store) StartRun(ctx context.Context, params StartRunParams) (RunLog, error) {
	row := &runRow{
		ID:          s.newID(),
		Action:      string(params.Action),
		EngineType:  params.EngineType,
		TargetName:  params.TargetName,
		Status:      string(StatusStarted),
		StartedAt:   s.now().UTC(),
		StorageType: params.StorageType,
	}

	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return RunLog{}, apperrors.WrapError(err, "failed to record run start")
	}
	return row.toRunLog(), nil
}

// DescribeRun implements Ledger
func (s *Store) DescribeRun(ctx context.Context, runID, engineType, storageType string) (RunLog, error) {
	var run RunLog
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		row := new(runRow)
		err := tx.NewSelect().Model(row).Where("id = ?", runID).Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NewNotFoundError(fmt.Sprintf("run %s not found", runID), nil)
		}
		if err != nil {
			return apperrors.WrapError(err, "failed to load run")
		}
		if Status(row.Status).IsTerminal() {
			return apperrors.NewConflictError(fmt.Sprintf("run %s is already %s", runID, row.Status), nil).
				WithContext("run_id", runID)
		}

		if engineType != "" {
			row.EngineType = engineType
		}
		if storageType != "" {
			row.StorageType = storageType
		}
		if _, err := tx.NewUpdate().Model(row).Column("engine_type", "storage_type").WherePK().Exec(ctx); err != nil {
			return apperrors.WrapError(err, "failed to update run")
		}
		run = row.toRunLog()
		return nil
	})
	return run, err
}

// CompleteRun implements Ledger
func (s *Store) CompleteRun(ctx context.Context, runID, location string) (RunLog, error) {
	var run RunLog
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		run, err = s.transition(ctx, tx, runID, StatusSuccess, location, "")
		return err
	})
	return run, err
}

// FailRun implements Ledger
func (s *Store) FailRun(ctx context.Context, runID, detail string) (RunLog, error) {
	if detail == "" {
		detail = "unknown error"
	}
	var run RunLog
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		run, err = s.transition(ctx, tx, runID, StatusFailed, "", truncateDetail(detail))
		return err
	})
	return run, err
}

// CompleteBackup implements Ledger
func (s *Store) CompleteBackup(ctx context.Context, runID, location string, artifact ArtifactMetadata) (RunLog, ArtifactMetadata, error) {
	var run RunLog
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.checkLineage(ctx, tx, artifact); err != nil {
			return err
		}

		var err error
		run, err = s.transition(ctx, tx, runID, StatusSuccess, location, "")
		if err != nil {
			return err
		}
		if run.Action != ActionBackup {
			return apperrors.NewValidationError(
				fmt.Sprintf("run %s is a %s run, artifacts belong to BACKUP runs", runID, run.Action), nil)
		}

		artifact.ArtifactID = run.ID
		artifact.Status = StatusSuccess
		artifact.StartedAt = run.StartedAt
		artifact.EndedAt = *run.EndedAt
		if artifact.StoragePath == "" {
			artifact.StoragePath = location
		}

		row := newArtifactRow(artifact)
		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			return apperrors.WrapError(err, "failed to record artifact metadata")
		}
		artifact = row.toArtifact()
		return nil
	})
	if err != nil {
		return RunLog{}, ArtifactMetadata{}, err
	}
	return run, artifact, nil
}

func (s *Store) checkLineage(ctx context.Context, tx bun.Tx, artifact ArtifactMetadata) error {
	switch artifact.Kind {
	case KindFull:
		if artifact.ParentArtifactID != nil {
			return apperrors.NewValidationError("a FULL artifact cannot have a parent", nil)
		}
		return nil
	case KindIncremental:
		if artifact.ParentArtifactID == nil {
			return apperrors.NewMissingParentError("an INCREMENTAL artifact requires a parent artifact id")
		}
	default:
		return apperrors.NewValidationError(fmt.Sprintf("unknown artifact kind %q", artifact.Kind), nil)
	}

	parent := new(artifactRow)
	err := tx.NewSelect().Model(parent).Where("artifact_id = ?", *artifact.ParentArtifactID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NewNotFoundError(fmt.Sprintf("parent artifact %s not found", *artifact.ParentArtifactID), nil)
	}
	if err != nil {
		return apperrors.WrapError(err, "failed to load parent artifact")
	}
	if Kind(parent.Kind) != KindFull || Status(parent.Status) != StatusSuccess {
		return apperrors.NewValidationError(
			fmt.Sprintf("parent artifact %s must be a successful FULL backup", parent.ArtifactID), nil)
	}
	return nil
}

// transition performs the single STARTED -> terminal move of a run
func (s *Store) transition(ctx context.Context, tx bun.Tx, runID string, to Status, location, detail string) (RunLog, error) {
	row := new(runRow)
	err := tx.NewSelect().Model(row).Where("id = ?", runID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return RunLog{}, apperrors.NewNotFoundError(fmt.Sprintf("run %s not found", runID), nil)
	}
	if err != nil {
		return RunLog{}, apperrors.WrapError(err, "failed to load run")
	}
	if Status(row.Status).IsTerminal() {
		return RunLog{}, apperrors.NewConflictError(
			fmt.Sprintf("run %s is already %s", runID, row.Status), nil).
			WithContext("run_id", runID)
	}

	ended := s.now().UTC()
	if ended.Before(row.StartedAt) {
		ended = row.StartedAt
	}
	row.Status = string(to)
	row.EndedAt = &ended
	row.ResultLocation = location
	row.ErrorDetail = detail

	res, err := tx.NewUpdate().Model(row).
		Column("status", "ended_at", "result_location", "error_detail").
		WherePK().
		Where("status = ?", string(StatusStarted)).
		Exec(ctx)
	if err != nil {
		return RunLog{}, apperrors.WrapError(err, "failed to update run")
	}
	if n, err := res.RowsAffected(); err == nil && n != 1 {
		return RunLog{}, apperrors.NewConflictError(fmt.Sprintf("run %s was transitioned concurrently", runID), nil)
	}

	return row.toRunLog(), nil
}

// GetRun implements Ledger
func (s *Store) GetRun(ctx context.Context, runID string) (RunLog, error) {
	row := new(runRow)
	err := s.db.NewSelect().Model(row).Where("id = ?", runID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return RunLog{}, apperrors.NewNotFoundError(fmt.Sprintf("run %s not found", runID), nil)
	}
	if err != nil {
		return RunLog{}, apperrors.WrapError(err, "failed to load run")
	}
	return row.toRunLog(), nil
}

// GetArtifact implements Ledger
func (s *Store) GetArtifact(ctx context.Context, artifactID string) (ArtifactMetadata, error) {
	row := new(artifactRow)
	err := s.db.NewSelect().Model(row).Where("artifact_id = ?", artifactID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return ArtifactMetadata{}, apperrors.NewNotFoundError(fmt.Sprintf("artifact %s not found", artifactID), nil).
			WithContext("artifact_id", artifactID)
	}
	if err != nil {
		return ArtifactMetadata{}, apperrors.WrapError(err, "failed to load artifact")
	}
	return row.toArtifact(), nil
}

// LatestFullArtifact implements Ledger
func (s *Store) LatestFullArtifact(ctx context.Context, targetName, engineType string) (ArtifactMetadata, error) {
	row := new(artifactRow)
	err := s.db.NewSelect().Model(row).
		Where("target_name = ?", targetName).
		Where("engine_type = ?", engineType).
		Where("kind = ?", string(KindFull)).
		Where("status = ?", string(StatusSuccess)).
		OrderExpr("ended_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return ArtifactMetadata{}, apperrors.NewNotFoundError(
			fmt.Sprintf("no successful FULL artifact for %s/%s", engineType, targetName), nil)
	}
	if err != nil {
		return ArtifactMetadata{}, apperrors.WrapError(err, "failed to look up latest full artifact")
	}
	return row.toArtifact(), nil
}

// ListRuns implements Ledger. Results are newest first.
func (s *Store) ListRuns(ctx context.Context, filter RunFilter) ([]RunLog, error) {
	var rows []runRow
	q := s.db.NewSelect().Model(&rows)
	if filter.Action != "" {
		q = q.Where("action = ?", string(filter.Action))
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.TargetName != "" {
		q = q.Where("target_name = ?", filter.TargetName)
	}
	if filter.EngineType != "" {
		q = q.Where("engine_type = ?", filter.EngineType)
	}
	if filter.StartDate != nil {
		q = q.Where("started_at >= ?", filter.StartDate.UTC())
	}
	if filter.EndDate != nil {
		q = q.Where("started_at <= ?", filter.EndDate.UTC())
	}
	q = q.OrderExpr("started_at DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	if err := q.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.WrapError(err, "failed to list runs")
	}

	runs := make([]RunLog, 0, len(rows))
	for i := range rows {
		runs = append(runs, rows[i].toRunLog())
	}
	return runs, nil
}

// ListArtifacts implements Ledger. Results are newest first.
func (s *Store) ListArtifacts(ctx context.Context, filter ArtifactFilter) ([]ArtifactMetadata, error) {
	var rows []artifactRow
	q := s.db.NewSelect().Model(&rows)
	if filter.TargetName != "" {
		q = q.Where("target_name = ?", filter.TargetName)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.EngineType != "" {
		q = q.Where("engine_type = ?", filter.EngineType)
	}
	if filter.Kind != "" {
		q = q.Where("kind = ?", string(filter.Kind))
	}
	if filter.StorageType != "" {
		q = q.Where("storage_type = ?", filter.StorageType)
	}
	if filter.Compressed != nil {
		q = q.Where("compressed = ?", *filter.Compressed)
	}
	if filter.ParentArtifactID != "" {
		q = q.Where("parent_artifact_id = ?", filter.ParentArtifactID)
	}
	if filter.StartDate != nil {
		q = q.Where("started_at >= ?", filter.StartDate.UTC())
	}
	if filter.EndDate != nil {
		q = q.Where("started_at <= ?", filter.EndDate.UTC())
	}
	q = q.OrderExpr("ended_at DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	if err := q.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.WrapError(err, "failed to list artifacts")
	}

	artifacts := make([]ArtifactMetadata, 0, len(rows))
	for i := range rows {
		artifacts = append(artifacts, rows[i].toArtifact())
	}
	return artifacts, nil
}

// Lineage implements Ledger
func (s *Store) Lineage(ctx context.Context, artifactID string) ([]ArtifactMetadata, error) {
	var chain []ArtifactMetadata
	seen := make(map[string]bool)

	id := artifactID
	for {
		if seen[id] {
			return nil, apperrors.NewValidationError(fmt.Sprintf("artifact lineage of %s contains a cycle", artifactID), nil)
		}
		seen[id] = true

		artifact, err := s.GetArtifact(ctx, id)
		if err != nil {
			return nil, err
		}
		chain = append(chain, artifact)
		if artifact.ParentArtifactID == nil {
			return chain, nil
		}
		id = *artifact.ParentArtifactID
	}
}

// Close releases the database handle
func (s *Store) Close() error {
	return s.db.Close()
}
