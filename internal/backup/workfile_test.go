package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multidb-backup/internal/ledger"
)

func TestDumpFileName(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 5, 7, 0, time.UTC)

	tests := []struct {
		target string
		kind   ledger.Kind
		runID  string
		want   string
	}{
		{"orders", ledger.KindFull, "7f3a", "orders_full_20240301_090507_7f3a.sql"},
		{"orders", ledger.KindIncremental, "7f3a", "orders_incremental_20240301_090507_7f3a.sql"},
		{"a/b", ledger.KindFull, "7f3a", "a_b_full_20240301_090507_7f3a.sql"},
		{"sales db", ledger.KindFull, "7f3a", "sales_db_full_20240301_090507_7f3a.sql"},
		{"orders", ledger.KindFull, "", "orders_full_20240301_090507.sql"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, DumpFileName(tt.target, tt.kind, at, tt.runID))
		})
	}

	name := DumpFileName("../../etc", ledger.KindFull, at, "../x")
	assert.Equal(t, filepath.Base(name), name)
}

func TestDumpFileNameDistinctRunsSameSecond(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 5, 7, 0, time.UTC)
	assert.NotEqual(t,
		DumpFileName("orders", ledger.KindFull, at, "run-a"),
		DumpFileName("orders", ledger.KindFull, at, "run-b"))
}

func TestFileChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.sql")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0600))

	sum, err := fileChecksum(path)
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum)

	_, err = fileChecksum(filepath.Join(t.TempDir(), "missing.sql"))
	assert.Error(t, err)
}
