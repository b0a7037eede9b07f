package storage

import (
	"context"
	"fmt"
	"os"

	apperrors "multidb-backup/internal/errors"
	"multidb-backup/internal/logging"
)

// DefaultPrefix is the key prefix used by object stores when none is configured
const DefaultPrefix = "backups"

// Config holds the settings of every storage backend. LOCAL is always available;
// the cloud backends are registered only when their section is present.
type Config struct {
	Default string       `mapstructure:"default" yaml:"default"`
	Local   *LocalConfig `mapstructure:"local" yaml:"local,omitempty"`
	S3      *S3Config    `mapstructure:"s3" yaml:"s3,omitempty"`
	Azure   *AzureConfig `mapstructure:"azure" yaml:"azure,omitempty"`
	GCS     *GCSConfig   `mapstructure:"gcs" yaml:"gcs,omitempty"`
}

// LocalConfig for filesystem storage
type LocalConfig struct {
	BasePath    string      `mapstructure:"base_path" yaml:"base_path"`
	Permissions os.FileMode `mapstructure:"permissions" yaml:"permissions"`
}

// S3Config for Amazon S3 storage
type S3Config struct {
	Bucket         string `mapstructure:"bucket" yaml:"bucket"`
	Region         string `mapstructure:"region" yaml:"region"`
	Prefix         string `mapstructure:"prefix" yaml:"prefix"`
	AccessKey      string `mapstructure:"access_key" yaml:"access_key,omitempty"`
	SecretKey      string `mapstructure:"secret_key" yaml:"-"`
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`
}

// AzureConfig for Azure Blob Storage
type AzureConfig struct {
	AccountName   string `mapstructure:"account_name" yaml:"account_name"`
	AccountKey    string `mapstructure:"account_key" yaml:"-"`
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	Prefix        string `mapstructure:"prefix" yaml:"prefix"`
	ServiceURL    string `mapstructure:"service_url" yaml:"service_url,omitempty"`
}

// GCSConfig for Google Cloud Storage
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path,omitempty"`
	ProjectID       string `mapstructure:"project_id" yaml:"project_id,omitempty"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
}

// SetDefaults fills in defaults for every configured section
func (c *Config) SetDefaults() {
	if c.Default == "" {
		c.Default = TypeLocal
	}
	c.Default = NormalizeType(c.Default)
	if c.Local == nil {
		c.Local = &LocalConfig{}
	}
	c.Local.SetDefaults()
	if c.S3 != nil {
		c.S3.SetDefaults()
	}
	if c.Azure != nil {
		c.Azure.SetDefaults()
	}
	if c.GCS != nil {
		c.GCS.SetDefaults()
	}
}

// Validate checks every configured section and that the default backend exists
func (c *Config) Validate() error {
	var errs apperrors.ValidationErrors

	switch NormalizeType(c.Default) {
	case "", TypeLocal:
	case TypeS3:
		if c.S3 == nil {
			errs.Add("storage.default", "S3 is the default storage but has no configuration", c.Default)
		}
	case TypeAzure:
		if c.Azure == nil {
			errs.Add("storage.default", "AZURE is the default storage but has no configuration", c.Default)
		}
	case TypeGCS:
		if c.GCS == nil {
			errs.Add("storage.default", "GCS is the default storage but has no configuration", c.Default)
		}
	default:
		errs.Add("storage.default", "unsupported storage type", c.Default)
	}

	if c.Local != nil {
		appendErrors(&errs, "storage.local", c.Local.Validate())
	}
	if c.S3 != nil {
		appendErrors(&errs, "storage.s3", c.S3.Validate())
	}
	if c.Azure != nil {
		appendErrors(&errs, "storage.azure", c.Azure.Validate())
	}
	if c.GCS != nil {
		appendErrors(&errs, "storage.gcs", c.GCS.Validate())
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func appendErrors(errs *apperrors.ValidationErrors, prefix string, err error) {
	if err == nil {
		return
	}
	if list, ok := err.(apperrors.ValidationErrors); ok {
		for _, e := range list {
			errs.Add(prefix+"."+e.Field, e.Message, e.Value)
		}
		return
	}
	errs.Add(prefix, err.Error(), nil)
}

// SetDefaults sets default values for local storage configuration
func (lc *LocalConfig) SetDefaults() {
	if lc.BasePath == "" {
		lc.BasePath = "./backups"
	}
	if lc.Permissions == 0 {
		lc.Permissions = 0750
	}
}

// Validate validates local storage configuration
func (lc *LocalConfig) Validate() error {
	var errs apperrors.ValidationErrors
	if lc.BasePath == "" {
		errs.Add("base_path", "base path is required", lc.BasePath)
	}
	if lc.Permissions&0700 != 0700 {
		errs.Add("permissions", "owner must have read, write and execute permission", fmt.Sprintf("%o", lc.Permissions))
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults sets default values for S3 storage configuration
func (s3c *S3Config) SetDefaults() {
	if s3c.Region == "" {
		s3c.Region = "us-east-1"
	}
	if s3c.Prefix == "" {
		s3c.Prefix = DefaultPrefix
	}
}

// Validate validates S3 storage configuration. The bucket may be left empty
// when every request names one.
func (s3c *S3Config) Validate() error {
	var errs apperrors.ValidationErrors
	if s3c.Region == "" {
		errs.Add("region", "region is required", s3c.Region)
	}
	if (s3c.AccessKey == "") != (s3c.SecretKey == "") {
		errs.Add("access_key", "access key and secret key must be set together", nil)
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults sets default values for Azure storage configuration
func (ac *AzureConfig) SetDefaults() {
	if ac.Prefix == "" {
		ac.Prefix = DefaultPrefix
	}
	if ac.ServiceURL == "" && ac.AccountName != "" {
		ac.ServiceURL = fmt.Sprintf("https://%s.blob.core.windows.net", ac.AccountName)
	}
}

// Validate validates Azure storage configuration
func (ac *AzureConfig) Validate() error {
	var errs apperrors.ValidationErrors
	if ac.AccountName == "" {
		errs.Add("account_name", "account name is required", ac.AccountName)
	}
	if ac.AccountKey == "" {
		errs.Add("account_key", "account key is required", nil)
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults sets default values for GCS storage configuration
func (gc *GCSConfig) SetDefaults() {
	if gc.CredentialsPath == "" {
		gc.CredentialsPath = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
	if gc.Prefix == "" {
		gc.Prefix = DefaultPrefix
	}
}

// Validate validates GCS storage configuration
func (gc *GCSConfig) Validate() error {
	if gc.CredentialsPath == "" {
		return nil
	}
	if _, err := os.Stat(gc.CredentialsPath); err != nil {
		var errs apperrors.ValidationErrors
		errs.Add("credentials_path", "credentials file is not readable", gc.CredentialsPath)
		return errs
	}
	return nil
}

// NewRegistryFromConfig builds a registry with LOCAL plus every configured cloud
// backend. Remote downloads are written to tempDir.
func NewRegistryFromConfig(ctx context.Context, config Config, tempDir string, logger *logging.Logger) (*Registry, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, apperrors.NewValidationError("invalid storage configuration", err)
	}

	local, err := NewLocal(config.Local, logger)
	if err != nil {
		return nil, err
	}
	registry := NewRegistry(local)

	if config.S3 != nil {
		s3Backend, err := NewS3(config.S3, logger)
		if err != nil {
			return nil, err
		}
		s3Backend.SetTempDir(tempDir)
		registry.Register(s3Backend)
	}
	if config.Azure != nil {
		azureBackend, err := NewAzure(config.Azure, logger)
		if err != nil {
			return nil, err
		}
		azureBackend.SetTempDir(tempDir)
		registry.Register(azureBackend)
	}
	if config.GCS != nil {
		gcsBackend, err := NewGCS(ctx, config.GCS, logger)
		if err != nil {
			return nil, err
		}
		gcsBackend.SetTempDir(tempDir)
		registry.Register(gcsBackend)
	}

	return registry, nil
}
