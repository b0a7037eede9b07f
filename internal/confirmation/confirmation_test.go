package confirmation

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multidb-backup/internal/display"
	"multidb-backup/internal/ledger"
)

func testPlan() RestorePlan {
	parent := "full-1"
	return RestorePlan{
		TargetHost: "restore.internal",
		TargetPort: 3306,
		Chain: []ledger.ArtifactMetadata{
			{
				ArtifactID: "inc-1", TargetName: "orders", EngineType: "MYSQL", Kind: ledger.KindIncremental,
				SizeBytes: 512, StorageType: "LOCAL", StoragePath: "/b/inc.sql", ParentArtifactID: &parent,
				Tables: []string{"payments"}, EndedAt: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
			},
			{
				ArtifactID: "full-1", TargetName: "orders", EngineType: "MYSQL", Kind: ledger.KindFull,
				SizeBytes: 1536, StorageType: "LOCAL", StoragePath: "/b/full.sql", Checksum: "abc123",
				EndedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			},
		},
	}
}

func newTestService(input string) (Service, *bytes.Buffer) {
	var out bytes.Buffer
	return NewService(strings.NewReader(input), &out, display.NewColorSystem(false)), &out
}

func TestDisplayRestoreSummary(t *testing.T) {
	service, out := newTestService("")

	require.NoError(t, service.DisplayRestoreSummary(testPlan()))

	assert.Contains(t, out.String(), "Artifact:  inc-1 (INCREMENTAL)")
	assert.Contains(t, out.String(), "Target:    orders on restore.internal:3306")
	assert.Contains(t, out.String(), "Replays:   2 artifact(s), 2.0 KiB")
	assert.Contains(t, out.String(), "EXISTING DATA WILL BE OVERWRITTEN")
}

func TestDisplayRestoreSummaryUsesTargetDB(t *testing.T) {
	service, out := newTestService("")
	plan := testPlan()
	plan.TargetDB = "orders_copy"

	require.NoError(t, service.DisplayRestoreSummary(plan))
	assert.Contains(t, out.String(), "Target:    orders_copy on restore.internal:3306")
}

func TestConfirmRestoreAnswers(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"yes", "y\n", true},
		{"yes spelled out", "YES\n", true},
		{"no", "n\n", false},
		{"empty answer declines", "\n", false},
		{"no trailing newline", "yes", true},
		{"invalid then yes", "maybe\ny\n", true},
		{"details then no", "d\nn\n", false},
		{"closed input declines", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, _ := newTestService(tt.input)
			got, err := service.ConfirmRestore(context.Background(), testPlan(), false)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfirmRestoreDetailsListOldestFirst(t *testing.T) {
	service, out := newTestService("d\nn\n")

	_, err := service.ConfirmRestore(context.Background(), testPlan(), false)
	require.NoError(t, err)

	details := out.String()[strings.Index(out.String(), "Artifacts to be replayed:"):]
	assert.Less(t, strings.Index(details, "1. full-1"), strings.Index(details, "2. inc-1"))
	assert.Contains(t, details, "Tables:   payments")
	assert.Contains(t, details, "SHA-256:  abc123")
}

func TestConfirmRestoreAutoApprove(t *testing.T) {
	service, out := newTestService("")

	got, err := service.ConfirmRestore(context.Background(), testPlan(), true)
	require.NoError(t, err)
	assert.True(t, got)
	assert.Contains(t, out.String(), "Auto-approving restore")
}

func TestConfirmRestoreCanceledContext(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	service := NewService(pr, io.Discard, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := service.ConfirmRestore(ctx, testPlan(), false)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestConfirmRestoreEmptyPlan(t *testing.T) {
	service, _ := newTestService("y\n")

	_, err := service.ConfirmRestore(context.Background(), RestorePlan{}, false)
	assert.Error(t, err)
}
