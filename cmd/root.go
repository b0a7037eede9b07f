package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"multidb-backup/internal/config"
	"multidb-backup/internal/display"
	apperrors "multidb-backup/internal/errors"
	"multidb-backup/internal/logging"
)

var cfgFile string

// Global flags
var (
	verbose      bool
	quiet        bool
	debug        bool
	noColor      bool
	outputFormat string
	logFile      string
)

// Loaded by loadConfig before any command that needs it
var (
	appConfig *config.Config
	logger    *logging.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "multidb-backup",
	Short: "Back up and restore MySQL and PostgreSQL databases",
	Long: `multidb-backup dumps MySQL and PostgreSQL databases with their native tools,
stores the artifacts on local disk, S3, Google Cloud Storage or Azure Blob
Storage, and records every run in a ledger so any artifact can be restored later.

Incremental backups dump a list of tables and are linked to the newest full
backup of the same database; restoring one replays its full backup first.

Examples:
  # Full, compressed backup to the default storage
  multidb-backup backup run --engine mysql --host db.internal --user root --database orders --compress

  # Incremental backup of two tables to S3
  multidb-backup backup run --engine postgres --host pg --user app --database shop \
                            --kind incremental --tables orders,order_items --storage s3

  # Restore an artifact into another server
  multidb-backup restore 1b7c... --target-host restore.internal --target-user root

  # Browse the ledger
  multidb-backup logs list --status failed
  multidb-backup artifacts lineage 1b7c...

  # Serve the HTTP API
  multidb-backup serve --address :8080`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, formatError(err))
		printHints(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/"+config.FileName+".yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log errors")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log tool diagnostics and SQL")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "", "output format (table, json, yaml)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this file")

	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")
	rootCmd.MarkFlagsMutuallyExclusive("debug", "quiet")
}

// loadConfig reads the configuration, applies the global flags and builds the logger
func loadConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.NewViper(cfgFile))
	if err != nil {
		return err
	}

	switch {
	case debug:
		cfg.Logging.Level = string(logging.LogLevelDebug)
	case verbose:
		cfg.Logging.Level = string(logging.LogLevelVerbose)
	case quiet:
		cfg.Logging.Level = string(logging.LogLevelQuiet)
	}
	if logFile != "" {
		cfg.Logging.File = logFile
	}
	if noColor {
		cfg.Display.ColorEnabled = false
	}
	if outputFormat != "" {
		cfg.Display.OutputFormat = outputFormat
	}

	loggerConfig := cfg.LoggerConfig()
	loggerConfig.Output = cmd.ErrOrStderr()
	l, err := logging.NewLogger(loggerConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appConfig = cfg
	logger = l
	return nil
}

// newPrinter renders results to the command's output in the configured format
func newPrinter(cmd *cobra.Command) (*display.Printer, error) {
	format, err := display.ParseFormat(appConfig.Display.OutputFormat)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error(), err)
	}
	return display.NewPrinter(cmd.OutOrStdout(), format, display.NewColorSystem(appConfig.Display.ColorEnabled)), nil
}

// formatError prints the reported error kind next to the message
func formatError(err error) string {
	if code := apperrors.ReportedType(err); code != apperrors.ErrorTypeUnknown {
		return fmt.Sprintf("Error [%s]: %v", code, err)
	}
	return fmt.Sprintf("Error: %v", err)
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Long:  "Print the version information for multidb-backup",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "multidb-backup version %s\n", version)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
			fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Go version: %s\n", goVersion)
		},
	}
}

func init() {
	rootCmd.AddCommand(createVersionCommand())
}
