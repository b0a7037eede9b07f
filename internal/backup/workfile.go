package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "multidb-backup/internal/errors"
	"multidb-backup/internal/ledger"
)

// dumpTimestampLayout is yyyyMMdd_HHmmss
const dumpTimestampLayout = "20060102_150405"

var fileNameReplacer = strings.NewReplacer("/", "_", "\\", "_", " ", "_", "..", "_")

// DumpFileName returns <target>_<kind>_<yyyyMMdd_HHmmss>_<runID>.sql.
// The run ID keeps two backups taken in the same second apart.
func DumpFileName(targetName string, kind ledger.Kind, at time.Time, runID string) string {
	name := fmt.Sprintf("%s_%s_%s", fileNameReplacer.Replace(targetName), strings.ToLower(string(kind)), at.Format(dumpTimestampLayout))
	if runID != "" {
		name += "_" + fileNameReplacer.Replace(runID)
	}
	return name + ".sql"
}

// runWorkDir creates a private directory under the configured work root and
// returns its remover
func runWorkDir(deps Dependencies, prefix string) (string, func(), error) {
	root := deps.WorkDir
	if root == "" {
		root = filepath.Join(os.TempDir(), "multidb-backup")
	}
	if err := os.MkdirAll(root, 0700); err != nil {
		return "", nil, apperrors.NewDumpError(fmt.Sprintf("cannot create work directory %s", root), err)
	}

	dir, err := os.MkdirTemp(root, prefix+"-")
	if err != nil {
		return "", nil, apperrors.NewDumpError("cannot create run work directory", err)
	}

	return dir, func() {
		if err := os.RemoveAll(dir); err != nil {
			deps.Logger.WithField("dir", dir).Warnf("Failed to remove work directory: %v", err)
		}
	}, nil
}

// fileChecksum returns the hex SHA-256 of the file at path
func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
