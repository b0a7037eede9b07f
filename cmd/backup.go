package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"multidb-backup/internal/backup"
	"multidb-backup/internal/display"
	"multidb-backup/internal/engine"
	"multidb-backup/internal/ledger"
)

var (
	// Connection flags shared by backup run and test-connection
	dbEngine        string
	dbHost          string
	dbPort          int
	dbUser          string
	dbPassword      string
	dbPasswordStdin bool
	dbName          string

	// Backup run flags
	backupKind     string
	backupTables   []string
	backupCompress bool
	storageType    string
	localPath      string
	cloudBucket    string
	cloudFolder    string
)

// backupCmd groups the backup subcommands
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run backups and test database connections",
	Long: `Run full or incremental backups and test connections to the databases you
back up. Every run is recorded in the ledger, successful or not.`,
	PersistentPreRunE: loadConfig,
}

// backupRunCmd runs one backup
var backupRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Back up a database",
	Long: `Dump a database with its native tool and store the artifact.

A FULL backup dumps the whole database. An INCREMENTAL backup dumps the tables
named with --tables and is linked to the newest successful FULL backup of the
same database; it fails when there is none.

Examples:
  # Full backup to local storage
  multidb-backup backup run --engine mysql --host localhost --user root --database orders

  # Compressed full backup to Google Cloud Storage
  multidb-backup backup run --engine postgres --host pg --user app --database shop --compress --storage gcs

  # Incremental backup into a specific bucket folder
  multidb-backup backup run --engine mysql --host db --user root --database orders \
                            --kind incremental --tables orders,payments \
                            --storage s3 --bucket nightly --folder orders/incremental`,
	RunE: runBackup,
}

// backupTestCmd checks that a database is reachable
var backupTestCmd = &cobra.Command{
	Use:   "test-connection",
	Short: "Check that a database is reachable",
	Long: `Open a connection to a database with the given credentials and record the
attempt in the ledger. An unreachable database exits with a non-zero status.`,
	RunE: runTestConnection,
}

func addConnectionFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&dbEngine, "engine", "", "database engine (mysql, postgresql)")
	cmd.Flags().StringVar(&dbHost, "host", "localhost", "database host")
	cmd.Flags().IntVar(&dbPort, "port", 0, "database port (default 3306 for mysql, 5432 for postgresql)")
	cmd.Flags().StringVar(&dbUser, "user", "", "database username")
	cmd.Flags().StringVar(&dbPassword, "password", "", "database password (prefer "+passwordEnv+" or --password-stdin)")
	cmd.Flags().BoolVar(&dbPasswordStdin, "password-stdin", false, "read the password from stdin")
	cmd.Flags().StringVar(&dbName, "database", "", "database to back up")

	_ = cmd.MarkFlagRequired("engine")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("database")
	cmd.MarkFlagsMutuallyExclusive("password", "password-stdin")
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupRunCmd)
	backupCmd.AddCommand(backupTestCmd)

	addConnectionFlags(backupRunCmd)
	addConnectionFlags(backupTestCmd)

	backupRunCmd.Flags().StringVar(&backupKind, "kind", string(ledger.KindFull), "backup kind (full, incremental)")
	backupRunCmd.Flags().StringSliceVar(&backupTables, "tables", nil, "tables to dump in an incremental backup")
	backupRunCmd.Flags().BoolVar(&backupCompress, "compress", false, "compress the dump")
	backupRunCmd.Flags().StringVar(&storageType, "storage", "", "storage backend (local, s3, gcs, azure); defaults to storage.default")
	backupRunCmd.Flags().StringVar(&localPath, "local-path", "", "override the local storage directory")
	backupRunCmd.Flags().StringVar(&cloudBucket, "bucket", "", "override the cloud bucket or container")
	backupRunCmd.Flags().StringVar(&cloudFolder, "folder", "", "override the cloud key prefix")
}

// defaultPort returns the conventional port of engineType when port is unset
func defaultPort(engineType string, port int) int {
	if port != 0 {
		return port
	}
	switch engine.NormalizeType(engineType) {
	case engine.TypePostgreSQL:
		return 5432
	default:
		return 3306
	}
}

func runBackup(cmd *cobra.Command, args []string) error {
	password, err := resolvePassword(dbPassword, dbPasswordStdin, cmd.InOrStdin(), "Password: ")
	if err != nil {
		return err
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

	req := backup.BackupRequest{
		EngineType:  dbEngine,
		Host:        dbHost,
		Port:        defaultPort(dbEngine, dbPort),
		Username:    dbUser,
		Password:    password,
		TargetName:  dbName,
		Kind:        ledger.Kind(backupKind),
		Tables:      backupTables,
		Compress:    backupCompress,
		StorageType: storageType,
		LocalPath:   localPath,
		CloudBucket: cloudBucket,
		CloudFolder: cloudFolder,
	}

	spinner := startSpinner(cmd, printer, fmt.Sprintf("Backing up %s", dbName))
	result, err := a.backups.Backup(ctx, req)
	spinner.Stop("")
	if err != nil {
		return err
	}
	return printer.PrintBackupResult(result)
}

func runTestConnection(cmd *cobra.Command, args []string) error {
	password, err := resolvePassword(dbPassword, dbPasswordStdin, cmd.InOrStdin(), "Password: ")
	if err != nil {
		return err
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

	result, err := a.backups.TestConnection(ctx, backup.ConnectionTestRequest{
		EngineType: dbEngine,
		Host:       dbHost,
		Port:       defaultPort(dbEngine, dbPort),
		Username:   dbUser,
		Password:   password,
		TargetName: dbName,
	})
	if err != nil {
		return err
	}
	if err := printer.PrintConnectionResult(result); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("connection test failed: %s", result.Message)
	}
	return nil
}

// startSpinner animates message on stderr for table output on a terminal
func startSpinner(cmd *cobra.Command, printer *display.Printer, message string) *display.Spinner {
	colors := display.NewColorSystem(appConfig.Display.ColorEnabled)
	spinner := display.NewSpinner(cmd.ErrOrStderr(), display.DotsSpinner, colors)
	if printer.Format() == display.FormatTable && isTerminal(cmd.ErrOrStderr()) {
		spinner.Start(message)
	}
	return spinner
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
