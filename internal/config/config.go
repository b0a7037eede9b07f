package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"multidb-backup/internal/engine"
	apperrors "multidb-backup/internal/errors"
	"multidb-backup/internal/ledger"
	"multidb-backup/internal/logging"
	"multidb-backup/internal/storage"
)

// Config file discovery and environment binding
const (
	FileName  = ".multidb-backup"
	EnvPrefix = "MULTIDB_BACKUP"
)

// Config is the complete application configuration
type Config struct {
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
	Ledger       ledger.Config      `mapstructure:"ledger" yaml:"ledger"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	Storage      storage.Config     `mapstructure:"storage" yaml:"storage"`
	Engines      EnginesConfig      `mapstructure:"engines" yaml:"engines"`
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
	Display      DisplayConfig      `mapstructure:"display" yaml:"display"`
}

// LoggingConfig controls the application logger
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file,omitempty"`
}

// OrchestratorConfig controls backup and restore runs
type OrchestratorConfig struct {
	WorkDir    string `mapstructure:"work_dir" yaml:"work_dir"`
	TargetLock bool   `mapstructure:"target_lock" yaml:"target_lock"`
	// Timeout bounds a single run started from the CLI or the API; zero means no limit
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// EnginesConfig holds per-engine tool settings and the shared codec and retry policy
type EnginesConfig struct {
	MySQL       ToolConfig            `mapstructure:"mysql" yaml:"mysql"`
	PostgreSQL  ToolConfig            `mapstructure:"postgresql" yaml:"postgresql"`
	Compression CompressionConfig     `mapstructure:"compression" yaml:"compression"`
	Retry       apperrors.RetryConfig `mapstructure:"retry" yaml:"retry"`
}

// ToolConfig names the command-line tools of one engine
type ToolConfig struct {
	DumpBinary    string   `mapstructure:"dump_binary" yaml:"dump_binary"`
	ClientBinary  string   `mapstructure:"client_binary" yaml:"client_binary"`
	ExtraDumpArgs []string `mapstructure:"extra_dump_args" yaml:"extra_dump_args,omitempty"`
}

// CompressionConfig selects the codec applied when a backup asks for compression
type CompressionConfig struct {
	Algorithm string `mapstructure:"algorithm" yaml:"algorithm"`
	Level     int    `mapstructure:"level" yaml:"level"`
}

// ServerConfig controls the HTTP API
type ServerConfig struct {
	Address         string        `mapstructure:"address" yaml:"address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DisplayConfig controls terminal output
type DisplayConfig struct {
	ColorEnabled bool   `mapstructure:"color_enabled" yaml:"color_enabled"`
	OutputFormat string `mapstructure:"output_format" yaml:"output_format"`
}

var (
	validLogLevels     = []string{"quiet", "normal", "verbose", "debug"}
	validLogFormats    = []string{"text", "json"}
	validOutputFormats = []string{"table", "json", "yaml"}
)

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{Orchestrator: OrchestratorConfig{TargetLock: true}, Display: DisplayConfig{ColorEnabled: true}}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills every unset field
func (c *Config) SetDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = string(logging.LogLevelNormal)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	c.Ledger.SetDefaults()

	if c.Orchestrator.WorkDir == "" {
		c.Orchestrator.WorkDir = filepath.Join(os.TempDir(), "multidb-backup")
	}

	c.Storage.SetDefaults()

	if c.Engines.MySQL.DumpBinary == "" {
		c.Engines.MySQL.DumpBinary = "mysqldump"
	}
	if c.Engines.MySQL.ClientBinary == "" {
		c.Engines.MySQL.ClientBinary = "mysql"
	}
	if c.Engines.PostgreSQL.DumpBinary == "" {
		c.Engines.PostgreSQL.DumpBinary = "pg_dump"
	}
	if c.Engines.PostgreSQL.ClientBinary == "" {
		c.Engines.PostgreSQL.ClientBinary = "psql"
	}
	if c.Engines.Compression.Algorithm == "" {
		c.Engines.Compression.Algorithm = string(engine.CompressionTypeGzip)
	}
	if c.Engines.Retry.MaxAttempts == 0 {
		c.Engines.Retry = apperrors.DefaultRetryConfig()
	}

	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	// dumps run inside the request, so writes get a generous limit
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 2 * time.Hour
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.Display.OutputFormat == "" {
		c.Display.OutputFormat = "table"
	}
}

// Validate checks the whole configuration and reports every problem at once
func (c *Config) Validate() error {
	var errs apperrors.ValidationErrors

	if !contains(validLogLevels, c.Logging.Level) {
		errs.Add("logging.level", fmt.Sprintf("must be one of: %s", strings.Join(validLogLevels, ", ")), c.Logging.Level)
	}
	if !contains(validLogFormats, c.Logging.Format) {
		errs.Add("logging.format", fmt.Sprintf("must be one of: %s", strings.Join(validLogFormats, ", ")), c.Logging.Format)
	}

	appendErrors(&errs, "", c.Ledger.Validate())

	if strings.TrimSpace(c.Orchestrator.WorkDir) == "" {
		errs.Add("orchestrator.work_dir", "work directory is required", nil)
	}
	if c.Orchestrator.Timeout < 0 {
		errs.Add("orchestrator.timeout", "must not be negative", c.Orchestrator.Timeout)
	}

	appendErrors(&errs, "", c.Storage.Validate())

	if _, err := engine.NewCompressionManager(engine.CompressionType(c.Engines.Compression.Algorithm), c.Engines.Compression.Level); err != nil {
		errs.Add("engines.compression.algorithm", "must be one of: gzip, lz4, zstd", c.Engines.Compression.Algorithm)
	}
	if c.Engines.Retry.MaxAttempts < 1 {
		errs.Add("engines.retry.max_attempts", "must be at least 1", c.Engines.Retry.MaxAttempts)
	}
	for name, tool := range map[string]ToolConfig{"mysql": c.Engines.MySQL, "postgresql": c.Engines.PostgreSQL} {
		if tool.DumpBinary == "" {
			errs.Add("engines."+name+".dump_binary", "dump binary is required", nil)
		}
		if tool.ClientBinary == "" {
			errs.Add("engines."+name+".client_binary", "client binary is required", nil)
		}
	}

	if c.Server.Address == "" {
		errs.Add("server.address", "listen address is required", nil)
	}

	if !contains(validOutputFormats, c.Display.OutputFormat) {
		errs.Add("display.output_format", fmt.Sprintf("must be one of: %s", strings.Join(validOutputFormats, ", ")), c.Display.OutputFormat)
	}

	return errs.AsError("configuration validation failed")
}

// LoggerConfig converts the logging section for logging.NewLogger
func (c *Config) LoggerConfig() logging.Config {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logging.LogLevelNormal
	}
	return logging.Config{
		Level:   level,
		Format:  c.Logging.Format,
		LogFile: c.Logging.File,
	}
}

// RegisterDefaults makes every key known to v so that environment variables
// such as MULTIDB_BACKUP_LEDGER_DSN are picked up by Unmarshal
func RegisterDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)

	v.SetDefault("ledger.type", d.Ledger.Type)
	v.SetDefault("ledger.dsn", d.Ledger.DSN)
	v.SetDefault("ledger.max_open_conns", d.Ledger.MaxOpenConns)
	v.SetDefault("ledger.conn_max_lifetime", d.Ledger.ConnLifetime)

	v.SetDefault("orchestrator.work_dir", d.Orchestrator.WorkDir)
	v.SetDefault("orchestrator.target_lock", d.Orchestrator.TargetLock)
	v.SetDefault("orchestrator.timeout", d.Orchestrator.Timeout)

	v.SetDefault("storage.default", d.Storage.Default)
	v.SetDefault("storage.local.base_path", d.Storage.Local.BasePath)
	v.SetDefault("storage.local.permissions", d.Storage.Local.Permissions)

	v.SetDefault("engines.mysql.dump_binary", d.Engines.MySQL.DumpBinary)
	v.SetDefault("engines.mysql.client_binary", d.Engines.MySQL.ClientBinary)
	v.SetDefault("engines.postgresql.dump_binary", d.Engines.PostgreSQL.DumpBinary)
	v.SetDefault("engines.postgresql.client_binary", d.Engines.PostgreSQL.ClientBinary)
	v.SetDefault("engines.compression.algorithm", d.Engines.Compression.Algorithm)
	v.SetDefault("engines.compression.level", d.Engines.Compression.Level)
	v.SetDefault("engines.retry.max_attempts", d.Engines.Retry.MaxAttempts)
	v.SetDefault("engines.retry.base_delay", d.Engines.Retry.BaseDelay)
	v.SetDefault("engines.retry.max_delay", d.Engines.Retry.MaxDelay)
	v.SetDefault("engines.retry.multiplier", d.Engines.Retry.Multiplier)

	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("display.color_enabled", d.Display.ColorEnabled)
	v.SetDefault("display.output_format", d.Display.OutputFormat)
}

// NewViper returns a viper instance reading configFile, or searching the home
// and working directories for .multidb-backup.yaml when configFile is empty
func NewViper(configFile string) *viper.Viper {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(FileName)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	RegisterDefaults(v)
	// secrets are never written to YAML; they come from the file or the environment only
	for _, key := range []string{"storage.s3.access_key", "storage.s3.secret_key", "storage.azure.account_key"} {
		_ = v.BindEnv(key)
	}
	return v
}

// Load reads the config file if present, then builds and validates the configuration.
// A missing file is not an error when no explicit path was given.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, apperrors.NewValidationError(fmt.Sprintf("failed to read config file: %v", err), err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, apperrors.NewValidationError("failed to decode configuration", err)
	}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func appendErrors(errs *apperrors.ValidationErrors, prefix string, err error) {
	if err == nil {
		return
	}
	var list apperrors.ValidationErrors
	if errors.As(err, &list) {
		for _, e := range list {
			field := e.Field
			if prefix != "" {
				field = prefix + "." + field
			}
			errs.Add(field, e.Message, e.Value)
		}
		return
	}
	errs.Add(prefix, err.Error(), nil)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
