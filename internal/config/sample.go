package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	apperrors "multidb-backup/internal/errors"
)

const sampleHeader = `# multidb-backup configuration
#
# Every key can be overridden with an environment variable prefixed with
# MULTIDB_BACKUP_, e.g. MULTIDB_BACKUP_LEDGER_DSN or MULTIDB_BACKUP_STORAGE_DEFAULT.
# Cloud secrets (storage.s3.secret_key, storage.azure.account_key) are never
# written by this command; supply them through the environment.
#
# storage.local.permissions is decimal: 488 is 0750.

`

const sampleCloudSections = `
# Cloud storage sections are registered only when present:
#
# storage:
#   s3:
#     bucket: my-backups
#     region: us-east-1
#     prefix: backups
#   azure:
#     account_name: mystorageaccount
#     container_name: backups
#   gcs:
#     bucket: my-backups
#     credentials_path: /etc/multidb-backup/gcs.json
`

// SampleYAML renders the default configuration as a commented YAML document
func SampleYAML() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(sampleHeader)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(Default()); err != nil {
		return nil, fmt.Errorf("failed to render sample configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}

	buf.WriteString(sampleCloudSections)
	return buf.Bytes(), nil
}

// WriteSample writes the sample configuration to path. An existing file is only
// replaced when force is set.
func WriteSample(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return apperrors.NewConflictError(fmt.Sprintf("%s already exists; use --force to overwrite it", path), nil)
		}
	}

	data, err := SampleYAML()
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return os.WriteFile(path, data, 0600)
}
