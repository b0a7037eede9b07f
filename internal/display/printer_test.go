package display

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"multidb-backup/internal/backup"
	"multidb-backup/internal/config"
	"multidb-backup/internal/ledger"
)

func sampleRuns() []ledger.RunLog {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	return []ledger.RunLog{
		{ID: "run-1", Action: ledger.ActionBackup, EngineType: "MYSQL", TargetName: "orders", Status: ledger.StatusSuccess,
			StartedAt: start, EndedAt: &end, StorageType: "LOCAL", ResultLocation: "/backups/mysql/orders/a.sql.gz"},
		{ID: "run-2", Action: ledger.ActionBackup, EngineType: "MYSQL", TargetName: "orders", Status: ledger.StatusFailed,
			StartedAt: start, EndedAt: &end, ErrorDetail: "mysqldump exited with status 2"},
		{ID: "run-3", Action: ledger.ActionRestore, TargetName: "run-1", Status: ledger.StatusStarted, StartedAt: start},
	}
}

func sampleChain() []ledger.ArtifactMetadata {
	parent := "full-1"
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return []ledger.ArtifactMetadata{
		{ArtifactID: "inc-1", TargetName: "orders", EngineType: "MYSQL", Kind: ledger.KindIncremental, SizeBytes: 2048,
			StorageType: "S3", StoragePath: "s3://b/backups/mysql/orders/inc.sql", EndedAt: at, Status: ledger.StatusSuccess,
			ParentArtifactID: &parent, Tables: []string{"t1", "t2"}},
		{ArtifactID: "full-1", TargetName: "orders", EngineType: "MYSQL", Kind: ledger.KindFull, Compressed: true,
			SizeBytes: 5 << 20, StorageType: "S3", StoragePath: "s3://b/backups/mysql/orders/full.sql.gz", EndedAt: at,
			Status: ledger.StatusSuccess},
	}
}

func TestParseFormat(t *testing.T) {
	tests := map[string]OutputFormat{"": FormatTable, "TABLE": FormatTable, "json": FormatJSON, " yaml ": FormatYAML}
	for in, want := range tests {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("csv")
	assert.Error(t, err)
}

func TestPrintRunsTable(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatTable, nil)

	require.NoError(t, p.PrintRuns(sampleRuns()))
	out := buf.String()

	assert.Contains(t, out, "ACTION")
	assert.Contains(t, out, "/backups/mysql/orders/a.sql.gz")
	assert.Contains(t, out, "mysqldump exited with status 2", "failed runs show their error")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "RESTORE")
}

func TestPrintRunsEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatTable, nil).PrintRuns(nil))
	assert.Contains(t, buf.String(), "No runs found")

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, FormatJSON, nil).PrintRuns(nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestPrintRunsJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatJSON, nil).PrintRuns(sampleRuns()))

	var decoded []ledger.RunLog
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 3)
	assert.Equal(t, "run-2", decoded[1].ID)
	assert.Contains(t, buf.String(), `"targetName": "orders"`)
	assert.NotContains(t, buf.String(), "✓", "machine output carries no status lines")
}

func TestPrintArtifactYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatYAML, nil).PrintArtifact(sampleChain()[0]))

	var decoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "inc-1", decoded["artifact_id"])
	assert.Equal(t, "full-1", decoded["parent_artifact_id"])
}

func TestPrintArtifactsTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatTable, nil).PrintArtifacts(sampleChain()))
	out := buf.String()

	assert.Contains(t, out, "FULL (compressed)")
	assert.Contains(t, out, "5.0 MiB")
	assert.Contains(t, out, "2.0 KiB")
	assert.Contains(t, out, "full-1")
}

func TestPrintLineage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatTable, nil).PrintLineage(sampleChain()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "inc-1"))
	assert.True(t, strings.HasPrefix(lines[1], "  └─ full-1"))
	assert.Contains(t, lines[2], "replays 2 artifacts")
}

func TestPrintResults(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatTable, nil)

	require.NoError(t, p.PrintBackupResult(&backup.BackupResult{
		Status: ledger.StatusSuccess, Location: "/backups/x.sql", LedgerID: "run-1",
		Message: "Backup completed successfully", Artifact: sampleChain()[1],
	}))
	require.NoError(t, p.PrintRestoreResult(&backup.RestoreResult{
		Status: ledger.StatusSuccess, ArtifactID: "inc-1", LedgerRunID: "run-9",
		Message: "Restore completed successfully", Restored: []string{"full-1", "inc-1"},
	}))
	require.NoError(t, p.PrintConnectionResult(&backup.ConnectionTestResult{Success: false, LedgerID: "run-3", Message: "connection refused"}))

	out := buf.String()
	assert.Contains(t, out, "✓ Backup completed successfully")
	assert.Contains(t, out, "/backups/x.sql")
	assert.Contains(t, out, "full-1 -> inc-1")
	assert.Contains(t, out, "✗ connection refused")
	assert.Contains(t, out, "Ledger run run-3")
}

func TestPrintCheck(t *testing.T) {
	var buf bytes.Buffer
	result := &config.CheckResult{
		Success:          false,
		Errors:           []string{"Local storage is not writable"},
		Warnings:         []string{"pg_dump not found in PATH"},
		RecommendedFixes: []string{"Install pg_dump"},
	}
	require.NoError(t, NewPrinter(&buf, FormatTable, nil).PrintCheck(result))

	out := buf.String()
	assert.Contains(t, out, "✗ Local storage is not writable")
	assert.Contains(t, out, "! pg_dump not found in PATH")
	assert.Contains(t, out, "  - Install pg_dump")
	assert.NotContains(t, out, "Installation is ready")
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 << 30, "5.0 GiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBytes(tt.in))
	}
}

func TestSpinnerStartStop(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner(&buf, SpinnerStyle{Frames: []string{"-"}, Delay: time.Millisecond}, nil)

	s.Start("Backing up orders")
	assert.True(t, s.Active())
	time.Sleep(10 * time.Millisecond)
	s.Stop("done")

	assert.False(t, s.Active())
	assert.Contains(t, buf.String(), "- Backing up orders")
	assert.True(t, strings.HasSuffix(buf.String(), "done\n"))

	s.Stop("ignored")
	assert.NotContains(t, buf.String(), "ignored")
}
