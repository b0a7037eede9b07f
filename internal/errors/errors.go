package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeConnection represents low level driver connection errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeSQL represents SQL execution errors
	ErrorTypeSQL ErrorType = "sql"
	// ErrorTypePermission represents permission/access errors
	ErrorTypePermission ErrorType = "permission"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInterruption represents cancellation
	ErrorTypeInterruption ErrorType = "interruption"
	// ErrorTypeUnknown represents unknown errors
	ErrorTypeUnknown ErrorType = "unknown"

	ErrorTypeValidation         ErrorType = "VALIDATION"
	ErrorTypeConnectivity       ErrorType = "CONNECTIVITY"
	ErrorTypeConnectionFailed   ErrorType = "CONNECTION_FAILED"
	ErrorTypeDump               ErrorType = "DUMP"
	ErrorTypeRestore            ErrorType = "RESTORE"
	ErrorTypeCompression        ErrorType = "COMPRESSION"
	ErrorTypeStorage            ErrorType = "STORAGE"
	ErrorTypeNotFound           ErrorType = "NOT_FOUND"
	ErrorTypeArtifactMissing    ErrorType = "ARTIFACT_MISSING"
	ErrorTypeMissingParent      ErrorType = "MISSING_PARENT"
	ErrorTypeNoParentBackup     ErrorType = "NO_PARENT_BACKUP"
	ErrorTypeUnsupportedEngine  ErrorType = "UNSUPPORTED_ENGINE"
	ErrorTypeUnsupportedStorage ErrorType = "UNSUPPORTED_STORAGE"
	ErrorTypeConflict           ErrorType = "CONFLICT"
	ErrorTypeBackupFailed       ErrorType = "BACKUP_FAILED"
	ErrorTypeRestoreFailed      ErrorType = "RESTORE_FAILED"
)

// Sentinels for errors.Is. They match any AppError of the same type.
var (
	ErrValidation         = &AppError{Type: ErrorTypeValidation}
	ErrConnectivity       = &AppError{Type: ErrorTypeConnectivity}
	ErrConnectionFailed   = &AppError{Type: ErrorTypeConnectionFailed}
	ErrDump               = &AppError{Type: ErrorTypeDump}
	ErrRestore            = &AppError{Type: ErrorTypeRestore}
	ErrCompression        = &AppError{Type: ErrorTypeCompression}
	ErrStorage            = &AppError{Type: ErrorTypeStorage}
	ErrNotFound           = &AppError{Type: ErrorTypeNotFound}
	ErrArtifactMissing    = &AppError{Type: ErrorTypeArtifactMissing}
	ErrMissingParent      = &AppError{Type: ErrorTypeMissingParent}
	ErrNoParentBackup     = &AppError{Type: ErrorTypeNoParentBackup}
	ErrUnsupportedEngine  = &AppError{Type: ErrorTypeUnsupportedEngine}
	ErrUnsupportedStorage = &AppError{Type: ErrorTypeUnsupportedStorage}
	ErrConflict           = &AppError{Type: ErrorTypeConflict}
	ErrBackupFailed       = &AppError{Type: ErrorTypeBackupFailed}
	ErrRestoreFailed      = &AppError{Type: ErrorTypeRestoreFailed}
)

// AppError represents an application-specific error with context
type AppError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AppError of the same type
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Type == e.Type && (t.Message == "" || t.Message == e.Message)
}

// IsRecoverable returns whether the error is recoverable
func (e *AppError) IsRecoverable() bool {
	return e.Recoverable
}

// WithContext adds context information to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// NewRecoverableError creates a new recoverable error
func NewRecoverableError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:        errorType,
		Message:     message,
		Cause:       cause,
		Context:     make(map[string]interface{}),
		Recoverable: true,
	}
}

func NewValidationError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeValidation, message, cause)
}

func NewConnectivityError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeConnectivity, message, cause)
}

func NewConnectionFailedError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeConnectionFailed, message, cause)
}

func NewDumpError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeDump, message, cause)
}

func NewRestoreError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeRestore, message, cause)
}

func NewCompressionError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeCompression, message, cause)
}

func NewStorageError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeStorage, message, cause)
}

func NewNotFoundError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, cause)
}

func NewArtifactMissingError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeArtifactMissing, message, cause)
}

func NewMissingParentError(message string) *AppError {
	return NewAppError(ErrorTypeMissingParent, message, nil)
}

func NewNoParentBackupError(message string) *AppError {
	return NewAppError(ErrorTypeNoParentBackup, message, nil)
}

func NewUnsupportedEngineError(engineType string) *AppError {
	return NewAppError(ErrorTypeUnsupportedEngine,
		fmt.Sprintf("unsupported database engine %q", engineType), nil).
		WithContext("engine_type", engineType)
}

func NewUnsupportedStorageError(storageType string) *AppError {
	return NewAppError(ErrorTypeUnsupportedStorage,
		fmt.Sprintf("unsupported storage type %q", storageType), nil).
		WithContext("storage_type", storageType)
}

func NewConflictError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeConflict, message, cause)
}

func NewBackupFailedError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeBackupFailed, message, cause)
}

func NewRestoreFailedError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeRestoreFailed, message, cause)
}

// ValidationError describes one invalid field
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors represents a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%d validation errors: %s (and %d more)", len(e), e[0].Error(), len(e)-1)
}

// Add adds a validation error to the collection
func (e *ValidationErrors) Add(field, message string, value interface{}) {
	*e = append(*e, ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	})
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// AsError converts the collection into a VALIDATION AppError, or nil when empty
func (e ValidationErrors) AsError(message string) error {
	if !e.HasErrors() {
		return nil
	}
	appErr := NewValidationError(message, e)
	if len(e) == 1 {
		appErr.WithContext("field", e[0].Field)
	}
	return appErr
}

// ErrorClassifier provides methods to classify and handle different types of errors
type ErrorClassifier struct{}

// NewErrorClassifier creates a new error classifier
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// ClassifyError analyzes an error and returns an AppError with appropriate classification
func (ec *ErrorClassifier) ClassifyError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if mysqlErr := ec.classifyMySQLError(err); mysqlErr != nil {
		return mysqlErr
	}

	if pgErr := ec.classifyPostgresError(err); pgErr != nil {
		return pgErr
	}

	if netErr := ec.classifyNetworkError(err); netErr != nil {
		return netErr
	}

	if ctxErr := ec.classifyContextError(err); ctxErr != nil {
		return ctxErr
	}

	if fsErr := ec.classifyFileSystemError(err); fsErr != nil {
		return fsErr
	}

	return NewAppError(ErrorTypeUnknown, "An unexpected error occurred", err)
}

// classifyMySQLError classifies MySQL-specific errors
func (ec *ErrorClassifier) classifyMySQLError(err error) *AppError {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1045: // Access denied
			return NewAppError(ErrorTypePermission,
				"Database access denied - check username and password", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 1049: // Unknown database
			return NewAppError(ErrorTypeValidation,
				"Database does not exist", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 1146: // Table doesn't exist
			return NewAppError(ErrorTypeValidation,
				"Table does not exist", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 2003: // Can't connect to MySQL server
			return NewRecoverableError(ErrorTypeConnection,
				"Cannot connect to MySQL server - server may be down or unreachable", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 2006: // MySQL server has gone away
			return NewRecoverableError(ErrorTypeConnection,
				"MySQL server connection lost", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		default:
			return NewAppError(ErrorTypeSQL,
				fmt.Sprintf("MySQL error: %s", mysqlErr.Message), err).
				WithContext("mysql_error_code", mysqlErr.Number)
		}
	}

	if errors.Is(err, sql.ErrNoRows) {
		return NewAppError(ErrorTypeNotFound, "No rows found", err)
	}
	if errors.Is(err, sql.ErrConnDone) {
		return NewRecoverableError(ErrorTypeConnection, "Database connection is closed", err)
	}

	return nil
}

// classifyPostgresError classifies PostgreSQL server errors by SQLSTATE class
func (ec *ErrorClassifier) classifyPostgresError(err error) *AppError {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil
	}

	switch {
	case pgErr.Code == "28P01" || pgErr.Code == "28000":
		return NewAppError(ErrorTypePermission,
			"Database access denied - check username and password", err).
			WithContext("sqlstate", pgErr.Code)
	case pgErr.Code == "3D000":
		return NewAppError(ErrorTypeValidation, "Database does not exist", err).
			WithContext("sqlstate", pgErr.Code)
	case pgErr.Code == "57P03":
		return NewRecoverableError(ErrorTypeConnection,
			"PostgreSQL server is not accepting connections yet", err).
			WithContext("sqlstate", pgErr.Code)
	case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08":
		return NewRecoverableError(ErrorTypeConnection,
			"PostgreSQL connection exception", err).
			WithContext("sqlstate", pgErr.Code)
	default:
		return NewAppError(ErrorTypeSQL,
			fmt.Sprintf("PostgreSQL error: %s", pgErr.Message), err).
			WithContext("sqlstate", pgErr.Code)
	}
}

// classifyNetworkError classifies network-related errors
func (ec *ErrorClassifier) classifyNetworkError(err error) *AppError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewRecoverableError(ErrorTypeTimeout, "Network operation timed out", err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return NewRecoverableError(ErrorTypeConnection,
				"Failed to establish network connection", err)
		case "read", "write":
			return NewRecoverableError(ErrorTypeConnection,
				"Network I/O error", err)
		}
	}

	return nil
}

// classifyContextError classifies context-related errors
func (ec *ErrorClassifier) classifyContextError(err error) *AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewAppError(ErrorTypeTimeout, "Operation timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewAppError(ErrorTypeInterruption, "Operation was canceled", err)
	}

	return nil
}

// classifyFileSystemError classifies file system errors
func (ec *ErrorClassifier) classifyFileSystemError(err error) *AppError {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		switch pathErr.Err {
		case syscall.ENOENT:
			return NewAppError(ErrorTypeNotFound,
				fmt.Sprintf("File or directory not found: %s", pathErr.Path), err)
		case syscall.EACCES:
			return NewAppError(ErrorTypePermission,
				fmt.Sprintf("Permission denied: %s", pathErr.Path), err)
		case syscall.ENOSPC:
			return NewAppError(ErrorTypeStorage, "No space left on device", err)
		}
	}

	return nil
}

// RetryConfig holds configuration for retry operations
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Multiplier  float64       `mapstructure:"multiplier" yaml:"multiplier"`
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// RetryHandler provides retry functionality for operations
type RetryHandler struct {
	config     RetryConfig
	classifier *ErrorClassifier
}

// NewRetryHandler creates a new retry handler
func NewRetryHandler(config RetryConfig) *RetryHandler {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 1
	}
	return &RetryHandler{
		config:     config,
		classifier: NewErrorClassifier(),
	}
}

// NewDefaultRetryHandler creates a retry handler with default configuration
func NewDefaultRetryHandler() *RetryHandler {
	return NewRetryHandler(DefaultRetryConfig())
}

// Retry executes a function with retry logic for recoverable errors.
// The returned error is the classified form of the last failure.
func (rh *RetryHandler) Retry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 1; attempt <= rh.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return NewAppError(ErrorTypeInterruption, "Operation canceled", ctx.Err())
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err
		appErr := rh.classifier.ClassifyError(err)
		if !appErr.IsRecoverable() {
			return appErr
		}

		if attempt == rh.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return NewAppError(ErrorTypeInterruption, "Operation canceled during retry", ctx.Err())
		case <-time.After(rh.calculateDelay(attempt)):
		}
	}

	return rh.classifier.ClassifyError(lastErr).
		WithContext("attempts", rh.config.MaxAttempts)
}

// calculateDelay calculates the delay for a given attempt using exponential backoff
func (rh *RetryHandler) calculateDelay(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= rh.config.Multiplier
	}

	delay := time.Duration(float64(rh.config.BaseDelay) * multiplier)
	if rh.config.MaxDelay > 0 && delay > rh.config.MaxDelay {
		delay = rh.config.MaxDelay
	}

	return delay
}

// GracefulShutdownHandler runs registered cleanup functions on SIGINT/SIGTERM
type GracefulShutdownHandler struct {
	shutdownFuncs []func() error
	signalChan    chan os.Signal
	done          chan bool
}

// NewGracefulShutdownHandler creates a new graceful shutdown handler
func NewGracefulShutdownHandler() *GracefulShutdownHandler {
	return &GracefulShutdownHandler{
		shutdownFuncs: make([]func() error, 0),
		signalChan:    make(chan os.Signal, 1),
		done:          make(chan bool, 1),
	}
}

// RegisterShutdownFunc registers a function to be called during shutdown
func (gsh *GracefulShutdownHandler) RegisterShutdownFunc(fn func() error) {
	gsh.shutdownFuncs = append(gsh.shutdownFuncs, fn)
}

// Start starts listening for shutdown signals
func (gsh *GracefulShutdownHandler) Start() {
	signal.Notify(gsh.signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if _, ok := <-gsh.signalChan; ok {
			gsh.shutdown()
		}
	}()
}

// Stop stops listening for signals
func (gsh *GracefulShutdownHandler) Stop() {
	signal.Stop(gsh.signalChan)
	close(gsh.signalChan)
}

// Done is closed once all shutdown functions have run
func (gsh *GracefulShutdownHandler) Done() <-chan bool {
	return gsh.done
}

// shutdown executes all registered shutdown functions in reverse order
func (gsh *GracefulShutdownHandler) shutdown() {
	defer close(gsh.done)

	for i := len(gsh.shutdownFuncs) - 1; i >= 0; i-- {
		if err := gsh.shutdownFuncs[i](); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
		}
	}
}

// IsReported reports whether t is one of the kinds shown to API and CLI
// callers, as opposed to a driver-level classification
func (t ErrorType) IsReported() bool {
	switch t {
	case ErrorTypeConnection, ErrorTypeSQL, ErrorTypePermission, ErrorTypeTimeout,
		ErrorTypeInterruption, ErrorTypeUnknown, "":
		return false
	}
	return true
}

// ReportedType returns the outermost reported kind below the BACKUP_FAILED and
// RESTORE_FAILED operation wrappers. Driver-level kinds are skipped. Without a
// reported kind below the wrapper the wrapper's own type is returned, and
// ErrorTypeUnknown when err carries no reported kind at all.
func ReportedType(err error) ErrorType {
	wrapper := ErrorTypeUnknown
	for err != nil {
		if appErr, ok := err.(*AppError); ok && appErr.Type.IsReported() {
			switch appErr.Type {
			case ErrorTypeBackupFailed, ErrorTypeRestoreFailed:
				if wrapper == ErrorTypeUnknown {
					wrapper = appErr.Type
				}
			default:
				return appErr.Type
			}
		}
		err = errors.Unwrap(err)
	}
	return wrapper
}

// IsType reports whether err (or anything it wraps) is an AppError of the given type
func IsType(err error, errorType ErrorType) bool {
	return errors.Is(err, &AppError{Type: errorType})
}

// GetErrorType returns the type of the outermost AppError in err's chain
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// RootType returns the type of the innermost AppError in err's chain.
// For BACKUP_FAILED wrapping NO_PARENT_BACKUP it returns NO_PARENT_BACKUP.
func RootType(err error) ErrorType {
	result := ErrorTypeUnknown
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			result = appErr.Type
		}
		err = errors.Unwrap(err)
	}
	return result
}

// WrapError wraps an existing error with additional context
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		wrapped := NewAppError(appErr.Type, message, err)
		wrapped.Recoverable = appErr.Recoverable
		return wrapped
	}

	classified := NewErrorClassifier().ClassifyError(err)
	classified.Message = message
	return classified
}
