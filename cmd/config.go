package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"multidb-backup/internal/config"
	"multidb-backup/internal/display"
)

var (
	configInitPath  string
	configInitForce bool
	configInitPrint bool
)

// configCmd groups configuration helpers
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create and check the configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample configuration file",
	Long: `Write a configuration file holding every option with its default value.

Examples:
  # Create ~/.multidb-backup.yaml
  multidb-backup config init

  # Print the sample instead of writing it
  multidb-backup config init --stdout > multidb-backup.yaml`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the configuration, storage and dump tools",
	Long: `Validate the configuration, check that the work directory and local storage
are writable and that the dump and client tools are on the PATH.`,
	Args:              cobra.NoArgs,
	PersistentPreRunE: loadConfig,
	RunE:              runConfigCheck,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configCheckCmd)

	configInitCmd.Flags().StringVar(&configInitPath, "path", "", "where to write the file (default is $HOME/"+config.FileName+".yaml)")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
	configInitCmd.Flags().BoolVar(&configInitPrint, "stdout", false, "print the sample instead of writing it")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if configInitPrint {
		data, err := config.SampleYAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}

	path := configInitPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("cannot locate home directory, use --path: %w", err)
		}
		path = filepath.Join(home, config.FileName+".yaml")
	}

	if err := config.WriteSample(path, configInitForce); err != nil {
		return err
	}
	printer := display.NewPrinter(cmd.OutOrStdout(), display.FormatTable, display.NewColorSystem(!noColor))
	printer.Success("Configuration written to " + path)
	return nil
}

func runConfigCheck(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}

	result := config.NewChecker(appConfig).Run()
	if err := printer.PrintCheck(result); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("configuration check failed with %d error(s)", len(result.Errors))
	}
	return nil
}
