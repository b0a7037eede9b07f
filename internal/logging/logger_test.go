package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   LogLevel
	}{
		{
			name: "default config",
			config: Config{
				Level:  LogLevelNormal,
				Format: "text",
			},
			want: LogLevelNormal,
		},
		{
			name: "verbose config",
			config: Config{
				Level:  LogLevelVerbose,
				Format: "json",
			},
			want: LogLevelVerbose,
		},
		{
			name: "quiet config",
			config: Config{
				Level:  LogLevelQuiet,
				Format: "text",
			},
			want: LogLevelQuiet,
		},
		{
			name:   "empty level falls back to normal",
			config: Config{},
			want:   LogLevelNormal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.config.Output = &buf

			logger, err := NewLogger(tt.config)
			if err != nil {
				t.Errorf("NewLogger() error = %v", err)
				return
			}

			if logger.GetLevel() != tt.want {
				t.Errorf("NewLogger() level = %v, want %v", logger.GetLevel(), tt.want)
			}
		})
	}
}

func TestNewLoggerWithLogFile(t *testing.T) {
	var buf bytes.Buffer
	logFile := t.TempDir() + "/run.log"

	logger, err := NewLogger(Config{Level: LogLevelNormal, Output: &buf, LogFile: logFile})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	logger.Info("written twice")

	if !strings.Contains(buf.String(), "written twice") {
		t.Errorf("expected message in output writer, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    LogLevel
		wantErr bool
	}{
		{"quiet", LogLevelQuiet, false},
		{"NORMAL", LogLevelNormal, false},
		{"", LogLevelNormal, false},
		{" verbose ", LogLevelVerbose, false},
		{"debug", LogLevelDebug, false},
		{"chatty", LogLevelNormal, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseLevel() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf, Format: "json"})

	ctx := ContextWithRunID(context.Background(), "run-123")
	logger.WithContext(ctx).Info("restoring")

	output := buf.String()
	if !strings.Contains(output, `"run_id":"run-123"`) {
		t.Errorf("expected run_id in output, got %q", output)
	}
}

func TestRunIDFromContext(t *testing.T) {
	if got := RunIDFromContext(context.Background()); got != "" {
		t.Errorf("RunIDFromContext() = %q, want empty", got)
	}

	ctx := ContextWithRunID(context.Background(), "abc")
	if got := RunIDFromContext(ctx); got != "abc" {
		t.Errorf("RunIDFromContext() = %q, want %q", got, "abc")
	}
}

func TestLogDatabaseConnection(t *testing.T) {
	tests := []struct {
		name     string
		success  bool
		err      error
		expected string
	}{
		{
			name:     "successful connection",
			success:  true,
			expected: "Database connection established",
		},
		{
			name:     "failed connection",
			success:  false,
			err:      errors.New("connection refused"),
			expected: "Database connection failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf, Format: "text"})

			logger.LogDatabaseConnection("MYSQL", "localhost", "orders", tt.success, 100*time.Millisecond, tt.err)

			output := buf.String()
			if !strings.Contains(output, tt.expected) {
				t.Errorf("expected %q in output, got %q", tt.expected, output)
			}
			if !strings.Contains(output, "engine=MYSQL") {
				t.Errorf("expected engine field in output, got %q", output)
			}
			if tt.err != nil && !strings.Contains(output, tt.err.Error()) {
				t.Errorf("expected error message in output, got %q", output)
			}
		})
	}
}

func TestLogToolExecutionMasksPassword(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelVerbose, Output: &buf, Format: "text"})

	logger.LogToolExecution("mysqldump", []string{"-h", "db", "-psecret", "orders"}, time.Second, nil)

	output := buf.String()
	if strings.Contains(output, "secret") {
		t.Errorf("password leaked into log output: %q", output)
	}
	if !strings.Contains(output, "-p***") {
		t.Errorf("expected masked password in output, got %q", output)
	}
}

func TestLogToolOutputIsDebugOnly(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf})

	logger.LogToolOutput("pg_dump", "pg_dump: dumping contents of table")
	if buf.Len() != 0 {
		t.Errorf("expected no output at normal level, got %q", buf.String())
	}

	logger.SetLevel(LogLevelVerbose)
	logger.LogToolOutput("pg_dump", "pg_dump: dumping contents of table")
	if !strings.Contains(buf.String(), "dumping contents") {
		t.Errorf("expected tool output at verbose level, got %q", buf.String())
	}
}

func TestSetLevel(t *testing.T) {
	logger := NewNopLogger()

	logger.SetLevel(LogLevelDebug)
	if logger.GetLevel() != LogLevelDebug {
		t.Errorf("SetLevel() level = %v, want %v", logger.GetLevel(), LogLevelDebug)
	}
	if !logger.IsLevelEnabled(LogLevelVerbose) {
		t.Error("expected verbose to be enabled at debug level")
	}
}

func TestIsLevelEnabled(t *testing.T) {
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &bytes.Buffer{}})

	tests := []struct {
		level LogLevel
		want  bool
	}{
		{LogLevelQuiet, true},
		{LogLevelNormal, true},
		{LogLevelVerbose, false},
		{LogLevelDebug, false},
		{LogLevel("unknown"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			if got := logger.IsLevelEnabled(tt.level); got != tt.want {
				t.Errorf("IsLevelEnabled(%v) = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestLogOperationStart(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelVerbose, Output: &buf, Format: "text"})

	done := logger.LogOperationStart("backup", map[string]interface{}{"target": "orders"})
	done(nil)

	output := buf.String()
	if !strings.Contains(output, "Operation started") {
		t.Errorf("expected start message, got %q", output)
	}
	if !strings.Contains(output, "Operation completed") {
		t.Errorf("expected completion message, got %q", output)
	}

	buf.Reset()
	done = logger.LogOperationStart("restore", nil)
	done(errors.New("mysql exited with status 1"))

	if !strings.Contains(buf.String(), "Operation failed") {
		t.Errorf("expected failure message, got %q", buf.String())
	}
}

func TestSanitizeArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "attached short password",
			args: []string{"-u", "root", "-psecret", "db"},
			want: []string{"-u", "root", "-p***", "db"},
		},
		{
			name: "long password with equals",
			args: []string{"--password=secret", "db"},
			want: []string{"--password=***", "db"},
		},
		{
			name: "long password separate value",
			args: []string{"--password", "secret", "db"},
			want: []string{"--password", "***", "db"},
		},
		{
			name: "port flag untouched",
			args: []string{"-P", "3306", "--port=5432"},
			want: []string{"-P", "3306", "--port=5432"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeArgs(tt.args)
			if strings.Join(got, " ") != strings.Join(tt.want, " ") {
				t.Errorf("SanitizeArgs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSanitizeDSN(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"root:secret@tcp(localhost:3306)/orders", "root:***@tcp(localhost:3306)/orders"},
		{"postgres://app:pw@db:5432/orders", "postgres://app:***@db:5432/orders"},
		{"file::memory:?cache=shared", "file::memory:?cache=shared"},
	}

	for _, tt := range tests {
		if got := SanitizeDSN(tt.dsn); got != tt.want {
			t.Errorf("SanitizeDSN(%q) = %q, want %q", tt.dsn, got, tt.want)
		}
	}
}
