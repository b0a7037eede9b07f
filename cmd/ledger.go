package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"multidb-backup/internal/engine"
	apperrors "multidb-backup/internal/errors"
	"multidb-backup/internal/ledger"
	"multidb-backup/internal/storage"
)

var (
	filterAction     string
	filterStatus     string
	filterTarget     string
	filterEngine     string
	filterKind       string
	filterStorage    string
	filterCompressed string
	filterParent     string
	filterSince      string
	filterUntil      string
	filterLimit      int
)

// logsCmd browses the run log
var logsCmd = &cobra.Command{
	Use:               "logs",
	Short:             "Browse backup, restore and connection-test runs",
	PersistentPreRunE: loadConfig,
}

var logsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	Long: `List runs recorded in the ledger. Filters combine with AND.

Dates accept RFC3339 timestamps, YYYY-MM-DD, or a relative age such as 12h, 7d or 2w.

Examples:
  multidb-backup logs list --status failed
  multidb-backup logs list --action backup --target orders --since 7d --format json`,
	Args: cobra.NoArgs,
	RunE: runLogsList,
}

var logsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogsShow,
}

// artifactsCmd browses artifact metadata
var artifactsCmd = &cobra.Command{
	Use:               "artifacts",
	Short:             "Browse stored backup artifacts",
	PersistentPreRunE: loadConfig,
}

var artifactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List artifacts, newest first",
	Long: `List artifacts recorded in the ledger. Filters combine with AND.

Examples:
  multidb-backup artifacts list --target orders --kind full
  multidb-backup artifacts list --parent 1b7c2a4e-...   # incrementals built on a full backup`,
	Args: cobra.NoArgs,
	RunE: runArtifactsList,
}

var artifactsShowCmd = &cobra.Command{
	Use:   "show <artifact-id>",
	Short: "Show one artifact",
	Args:  cobra.ExactArgs(1),
	RunE:  runArtifactsShow,
}

var artifactsLineageCmd = &cobra.Command{
	Use:   "lineage <artifact-id>",
	Short: "Show an artifact and the artifacts a restore of it replays",
	Args:  cobra.ExactArgs(1),
	RunE:  runArtifactsLineage,
}

func addDateFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&filterTarget, "target", "", "filter by database name")
	cmd.Flags().StringVar(&filterEngine, "engine", "", "filter by engine (mysql, postgresql)")
	cmd.Flags().StringVar(&filterStatus, "status", "", "filter by status (started, success, failed)")
	cmd.Flags().StringVar(&filterSince, "since", "", "only entries at or after this time")
	cmd.Flags().StringVar(&filterUntil, "until", "", "only entries at or before this time")
	cmd.Flags().IntVar(&filterLimit, "limit", 50, "maximum number of entries (0 for all)")
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.AddCommand(logsListCmd)
	logsCmd.AddCommand(logsShowCmd)

	rootCmd.AddCommand(artifactsCmd)
	artifactsCmd.AddCommand(artifactsListCmd)
	artifactsCmd.AddCommand(artifactsShowCmd)
	artifactsCmd.AddCommand(artifactsLineageCmd)

	addDateFlags(logsListCmd)
	logsListCmd.Flags().StringVar(&filterAction, "action", "", "filter by action (backup, restore, connection_test)")

	addDateFlags(artifactsListCmd)
	artifactsListCmd.Flags().StringVar(&filterKind, "kind", "", "filter by kind (full, incremental)")
	artifactsListCmd.Flags().StringVar(&filterStorage, "storage", "", "filter by storage backend")
	artifactsListCmd.Flags().StringVar(&filterCompressed, "compressed", "", "filter by compression (true, false)")
	artifactsListCmd.Flags().StringVar(&filterParent, "parent", "", "filter by parent artifact id")
}

func runLogsList(cmd *cobra.Command, args []string) error {
	var errs apperrors.ValidationErrors

	filter := ledger.RunFilter{
		Action:     ledger.Action(strings.ToUpper(filterAction)),
		Status:     ledger.Status(strings.ToUpper(filterStatus)),
		TargetName: filterTarget,
		EngineType: engine.NormalizeType(filterEngine),
		Limit:      filterLimit,
	}
	switch filter.Action {
	case "", ledger.ActionBackup, ledger.ActionRestore, ledger.ActionConnectionTest:
	default:
		errs.Add("action", "must be one of: backup, restore, connection_test", filterAction)
	}
	checkStatus(&errs, filter.Status)
	filter.StartDate = parseDateFlag(&errs, "since", filterSince)
	filter.EndDate = parseDateFlag(&errs, "until", filterUntil)
	if err := errs.AsError("invalid filter"); err != nil {
		return err
	}

	return withLedger(cmd, func(l ledger.Ledger) error {
		runs, err := l.ListRuns(cmd.Context(), filter)
		if err != nil {
			return err
		}
		printer, err := newPrinter(cmd)
		if err != nil {
			return err
		}
		return printer.PrintRuns(runs)
	})
}

func runLogsShow(cmd *cobra.Command, args []string) error {
	return withLedger(cmd, func(l ledger.Ledger) error {
		run, err := l.GetRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printer, err := newPrinter(cmd)
		if err != nil {
			return err
		}
		return printer.PrintRun(run)
	})
}

func runArtifactsList(cmd *cobra.Command, args []string) error {
	var errs apperrors.ValidationErrors

	filter := ledger.ArtifactFilter{
		TargetName:       filterTarget,
		Status:           ledger.Status(strings.ToUpper(filterStatus)),
		EngineType:       engine.NormalizeType(filterEngine),
		Kind:             ledger.Kind(strings.ToUpper(filterKind)),
		StorageType:      storage.NormalizeType(filterStorage),
		ParentArtifactID: filterParent,
		Limit:            filterLimit,
	}
	checkStatus(&errs, filter.Status)
	switch filter.Kind {
	case "", ledger.KindFull, ledger.KindIncremental:
	default:
		errs.Add("kind", "must be one of: full, incremental", filterKind)
	}
	if filterCompressed != "" {
		compressed, err := strconv.ParseBool(filterCompressed)
		if err != nil {
			errs.Add("compressed", "must be true or false", filterCompressed)
		}
		filter.Compressed = &compressed
	}
	filter.StartDate = parseDateFlag(&errs, "since", filterSince)
	filter.EndDate = parseDateFlag(&errs, "until", filterUntil)
	if err := errs.AsError("invalid filter"); err != nil {
		return err
	}

	return withLedger(cmd, func(l ledger.Ledger) error {
		artifacts, err := l.ListArtifacts(cmd.Context(), filter)
		if err != nil {
			return err
		}
		printer, err := newPrinter(cmd)
		if err != nil {
			return err
		}
		return printer.PrintArtifacts(artifacts)
	})
}

func runArtifactsShow(cmd *cobra.Command, args []string) error {
	return withLedger(cmd, func(l ledger.Ledger) error {
		artifact, err := l.GetArtifact(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printer, err := newPrinter(cmd)
		if err != nil {
			return err
		}
		return printer.PrintArtifact(artifact)
	})
}

func runArtifactsLineage(cmd *cobra.Command, args []string) error {
	return withLedger(cmd, func(l ledger.Ledger) error {
		chain, err := l.Lineage(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printer, err := newPrinter(cmd)
		if err != nil {
			return err
		}
		return printer.PrintLineage(chain)
	})
}

// withLedger opens the ledger for the duration of fn
func withLedger(cmd *cobra.Command, fn func(ledger.Ledger) error) error {
	store, err := openLedger(cmd.Context(), appConfig, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func checkStatus(errs *apperrors.ValidationErrors, status ledger.Status) {
	switch status {
	case "", ledger.StatusStarted, ledger.StatusSuccess, ledger.StatusFailed:
	default:
		errs.Add("status", "must be one of: started, success, failed", status)
	}
}

// parseDateFlag accepts RFC3339, YYYY-MM-DD, or an age such as 12h, 7d or 2w
func parseDateFlag(errs *apperrors.ValidationErrors, name, value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t
	}
	if t, err := time.ParseInLocation("2006-01-02", value, time.Local); err == nil {
		return &t
	}
	if age, err := parseAge(value); err == nil {
		t := time.Now().Add(-age)
		return &t
	}
	errs.Add(name, fmt.Sprintf("%q is not a date, RFC3339 timestamp or age like 7d", value), value)
	return nil
}

func parseAge(value string) (time.Duration, error) {
	if n := len(value); n > 1 {
		unit := map[byte]time.Duration{'d': 24 * time.Hour, 'w': 7 * 24 * time.Hour}[value[n-1]]
		if unit != 0 {
			count, err := strconv.Atoi(value[:n-1])
			if err != nil || count < 0 {
				return 0, fmt.Errorf("invalid age %q", value)
			}
			return time.Duration(count) * unit, nil
		}
	}
	return time.ParseDuration(value)
}
