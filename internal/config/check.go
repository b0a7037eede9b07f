package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"multidb-backup/internal/storage"
)

// CheckResult reports whether this installation can run backups
type CheckResult struct {
	Success          bool     `json:"success" yaml:"success"`
	ConfigValid      bool     `json:"configValid" yaml:"config_valid"`
	StorageReady     bool     `json:"storageReady" yaml:"storage_ready"`
	ToolsAvailable   bool     `json:"toolsAvailable" yaml:"tools_available"`
	Warnings         []string `json:"warnings" yaml:"warnings"`
	Errors           []string `json:"errors" yaml:"errors"`
	RecommendedFixes []string `json:"recommendedFixes" yaml:"recommended_fixes"`
}

// Checker verifies the environment a configuration depends on: directories,
// dump tools and cloud credentials
type Checker struct {
	config   *Config
	lookPath func(string) (string, error)
	getenv   func(string) string
}

// NewChecker creates a checker for config
func NewChecker(config *Config) *Checker {
	return &Checker{
		config:   config,
		lookPath: exec.LookPath,
		getenv:   os.Getenv,
	}
}

// Run performs every check. Problems are reported in the result, never as an error.
func (c *Checker) Run() *CheckResult {
	result := &CheckResult{
		Success:          true,
		ConfigValid:      true,
		StorageReady:     true,
		ToolsAvailable:   true,
		Warnings:         []string{},
		Errors:           []string{},
		RecommendedFixes: []string{},
	}

	if err := c.config.Validate(); err != nil {
		result.Success = false
		result.ConfigValid = false
		result.Errors = append(result.Errors, fmt.Sprintf("Configuration validation failed: %v", err))
	}

	if err := checkWritableDir(c.config.Orchestrator.WorkDir); err != nil {
		result.Success = false
		result.Errors = append(result.Errors, fmt.Sprintf("Work directory is not usable: %v", err))
		result.RecommendedFixes = append(result.RecommendedFixes,
			fmt.Sprintf("Create %s or set orchestrator.work_dir to a writable directory", c.config.Orchestrator.WorkDir))
	}

	c.checkStorage(result)
	c.checkTools(result)

	return result
}

func (c *Checker) checkStorage(result *CheckResult) {
	if local := c.config.Storage.Local; local != nil {
		if err := checkWritableDir(local.BasePath); err != nil {
			result.Success = false
			result.StorageReady = false
			result.Errors = append(result.Errors, fmt.Sprintf("Local storage is not writable: %v", err))
			result.RecommendedFixes = append(result.RecommendedFixes,
				fmt.Sprintf("Create %s or set storage.local.base_path", local.BasePath))
		}
	}

	if s3 := c.config.Storage.S3; s3 != nil && s3.AccessKey == "" && c.getenv("AWS_ACCESS_KEY_ID") == "" {
		result.Warnings = append(result.Warnings, "S3 credentials are not configured; the AWS default chain will be used")
		result.RecommendedFixes = append(result.RecommendedFixes,
			"Set MULTIDB_BACKUP_STORAGE_S3_ACCESS_KEY and MULTIDB_BACKUP_STORAGE_S3_SECRET_KEY, or AWS_ACCESS_KEY_ID")
	}
	if gcs := c.config.Storage.GCS; gcs != nil && gcs.CredentialsPath == "" && gcs.Endpoint == "" {
		result.Warnings = append(result.Warnings, "Google Cloud credentials not configured; application default credentials will be used")
		result.RecommendedFixes = append(result.RecommendedFixes,
			"Set GCS credentials: export GOOGLE_APPLICATION_CREDENTIALS=/path/to/credentials.json")
	}

	if c.config.Storage.Default != storage.TypeLocal {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Default storage is %s; connectivity is only verified by the first backup", c.config.Storage.Default))
	}
}

func (c *Checker) checkTools(result *CheckResult) {
	tools := map[string]string{
		c.config.Engines.MySQL.DumpBinary:        "MySQL backups",
		c.config.Engines.MySQL.ClientBinary:      "MySQL restores",
		c.config.Engines.PostgreSQL.DumpBinary:   "PostgreSQL backups",
		c.config.Engines.PostgreSQL.ClientBinary: "PostgreSQL restores",
	}
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)

	// a missing tool disables one engine, not the installation
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, err := c.lookPath(name); err != nil {
			result.ToolsAvailable = false
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s not found in PATH; %s will fail", name, tools[name]))
			result.RecommendedFixes = append(result.RecommendedFixes,
				fmt.Sprintf("Install %s or set its full path under engines", name))
		}
	}
}

func checkWritableDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("no directory configured")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}
	testFile, err := os.CreateTemp(dir, ".write-test-*")
	if err != nil {
		return err
	}
	name := testFile.Name()
	_ = testFile.Close()
	return os.Remove(filepath.Clean(name))
}
