package database

import (
	"context"
	"database/sql"
	"time"

	"multidb-backup/internal/errors"
	"multidb-backup/internal/logging"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Connector opens verified connections to a database
type Connector interface {
	Connect(ctx context.Context, config DatabaseConfig) (*sql.DB, error)
}

// Service implements Connector with retry on recoverable failures
type Service struct {
	connectionTimeout time.Duration
	logger            *logging.Logger
	retryHandler      *errors.RetryHandler
	open              func(driver, dsn string) (*sql.DB, error)
}

// NewService creates a new database service with default settings
func NewService() *Service {
	return NewServiceWithOptions(logging.NewDefaultLogger(), errors.DefaultRetryConfig())
}

// NewServiceWithOptions creates a database service with a custom logger and retry policy
func NewServiceWithOptions(logger *logging.Logger, retry errors.RetryConfig) *Service {
	return &Service{
		connectionTimeout: 30 * time.Second,
		logger:            logger,
		retryHandler:      errors.NewRetryHandler(retry),
		open:              sql.Open,
	}
}

// Connect opens the database described by config and pings it, retrying
// recoverable failures such as refused connections.
func (s *Service) Connect(ctx context.Context, config DatabaseConfig) (*sql.DB, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	startTime := time.Now()
	s.logger.WithFields(map[string]interface{}{
		"driver":   config.Driver,
		"host":     config.Host,
		"port":     config.Port,
		"database": config.Database,
	}).Debug("Attempting database connection")

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = s.connectionTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var db *sql.DB
	err := s.retryHandler.Retry(ctx, func() error {
		conn, openErr := s.open(config.Driver, config.DSN())
		if openErr != nil {
			return errors.WrapError(openErr, "failed to open database connection")
		}

		conn.SetMaxOpenConns(2)
		conn.SetMaxIdleConns(1)
		conn.SetConnMaxLifetime(5 * time.Minute)

		if pingErr := conn.PingContext(ctx); pingErr != nil {
			_ = conn.Close()
			return errors.WrapError(pingErr, "failed to ping database")
		}

		db = conn
		return nil
	})

	s.logger.LogDatabaseConnection(config.Driver, config.Host, config.Database, err == nil, time.Since(startTime), err)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Close gracefully closes the database connection
func (s *Service) Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		s.logger.WithField("error", err.Error()).Warn("Failed to close database connection")
		return errors.WrapError(err, "failed to close database connection")
	}
	return nil
}
