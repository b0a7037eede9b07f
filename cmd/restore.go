package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"multidb-backup/internal/backup"
	"multidb-backup/internal/confirmation"
	"multidb-backup/internal/display"
	apperrors "multidb-backup/internal/errors"
)

var (
	restoreHost          string
	restorePort          int
	restoreUser          string
	restorePassword      string
	restorePasswordStdin bool
	restoreDatabase      string
	restoreYes           bool
)

// restoreCmd replays an artifact into a database
var restoreCmd = &cobra.Command{
	Use:   "restore <artifact-id>",
	Short: "Restore a backup artifact into a database",
	Long: `Replay a stored artifact into the target database.

An incremental artifact is replayed on top of its full backup: the full
artifact is restored first, then the incremental one. Passwords are never
stored, so the target password is always required; it is prompted for when
not given with --target-password, --password-stdin or ` + passwordEnv + `.

The artifacts to be replayed are listed and the restore waits for
confirmation; --yes skips the prompt and is required with --password-stdin.

Examples:
  # Restore into the database the artifact was taken from
  multidb-backup restore 1b7c2a4e-... --target-host restore.internal --target-user root

  # Restore into a differently named database
  multidb-backup restore 1b7c2a4e-... --target-host localhost --target-user root --target-db orders_copy

  # Unattended restore
  echo "$PASSWORD" | multidb-backup restore 1b7c2a4e-... --target-host db --target-user root --password-stdin --yes`,
	Args:              cobra.ExactArgs(1),
	PersistentPreRunE: loadConfig,
	RunE:              runRestore,
}

func init() {
	rootCmd.AddCommand(restoreCmd)

	restoreCmd.Flags().StringVar(&restoreHost, "target-host", "", "host to restore into")
	restoreCmd.Flags().IntVar(&restorePort, "target-port", 0, "port to restore into (default depends on the artifact's engine)")
	restoreCmd.Flags().StringVar(&restoreUser, "target-user", "", "username on the target")
	restoreCmd.Flags().StringVar(&restorePassword, "target-password", "", "password on the target")
	restoreCmd.Flags().BoolVar(&restorePasswordStdin, "password-stdin", false, "read the target password from stdin")
	restoreCmd.Flags().StringVar(&restoreDatabase, "target-db", "", "database to restore into (default is the artifact's database)")
	restoreCmd.Flags().BoolVarP(&restoreYes, "yes", "y", false, "restore without asking for confirmation")

	_ = restoreCmd.MarkFlagRequired("target-host")
	_ = restoreCmd.MarkFlagRequired("target-user")
	restoreCmd.MarkFlagsMutuallyExclusive("target-password", "password-stdin")
}

func runRestore(cmd *cobra.Command, args []string) error {
	artifactID := args[0]
	if restorePasswordStdin && !restoreYes {
		return apperrors.NewValidationError("--password-stdin requires --yes, stdin cannot answer the confirmation prompt", nil)
	}

	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := runContext(cmd.Context(), appConfig)
	defer cancel()

	a, err := newApp(ctx, appConfig, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// the orchestrator records the failed run for an unresolvable lineage
	chain, lineageErr := a.ledger.Lineage(ctx, artifactID)
	if lineageErr != nil {
		logger.WithField("artifact_id", artifactID).Debugf("Lineage lookup failed: %v", lineageErr)
		return runRestoreRequest(ctx, cmd, printer, a, artifactID, defaultPort("", restorePort))
	}
	port := defaultPort(chain[0].EngineType, restorePort)

	// prompts go to stderr when stdout carries json or yaml
	confirmOut := cmd.ErrOrStderr()
	if printer.Format() == display.FormatTable {
		confirmOut = cmd.OutOrStdout()
	}
	promptCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	approved, err := confirmation.NewService(cmd.InOrStdin(), confirmOut, display.NewColorSystem(appConfig.Display.ColorEnabled)).
		ConfirmRestore(promptCtx, confirmation.RestorePlan{
			TargetHost: restoreHost,
			TargetPort: port,
			TargetDB:   restoreDatabase,
			Chain:      chain,
		}, restoreYes)
	stop()
	if err != nil {
		return err
	}
	if !approved {
		printer.Warning("Restore cancelled, nothing was changed")
		return nil
	}

	return runRestoreRequest(ctx, cmd, printer, a, artifactID, port)
}

func runRestoreRequest(ctx context.Context, cmd *cobra.Command, printer *display.Printer, a *app, artifactID string, port int) error {
	password, err := resolvePassword(restorePassword, restorePasswordStdin, cmd.InOrStdin(),
		fmt.Sprintf("Password for %s@%s: ", restoreUser, restoreHost))
	if err != nil {
		return err
	}

	spinner := startSpinner(cmd, printer, fmt.Sprintf("Restoring %s", artifactID))
	result, err := a.restores.Restore(ctx, backup.RestoreRequest{
		ArtifactID:     artifactID,
		TargetHost:     restoreHost,
		TargetPort:     port,
		TargetUsername: restoreUser,
		TargetPassword: password,
		TargetDBName:   restoreDatabase,
	})
	spinner.Stop("")
	if err != nil {
		return err
	}
	return printer.PrintRestoreResult(result)
}
