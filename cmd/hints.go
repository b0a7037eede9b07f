package cmd

import (
	"fmt"
	"io"

	apperrors "multidb-backup/internal/errors"
)

// troubleshootingHints returns suggestions for the innermost error kind,
// falling back to the reported kind
func troubleshootingHints(err error) []string {
	if hints := hintsFor(apperrors.RootType(err)); len(hints) > 0 {
		return hints
	}
	return hintsFor(apperrors.ReportedType(err))
}

func hintsFor(errorType apperrors.ErrorType) []string {
	switch errorType {
	case apperrors.ErrorTypeConnection, apperrors.ErrorTypeConnectivity, apperrors.ErrorTypeConnectionFailed:
		return []string{
			"Check that the database server is running",
			"Verify the host and port are correct",
			"Ensure network connectivity to the database server",
		}
	case apperrors.ErrorTypePermission:
		return []string{
			"Verify the username and password are correct",
			"Check that the user may dump and restore every table",
		}
	case apperrors.ErrorTypeTimeout:
		return []string{
			"Increase orchestrator.timeout for large databases",
			"Check database server performance",
		}
	case apperrors.ErrorTypeDump, apperrors.ErrorTypeRestore:
		return []string{
			"Run 'multidb-backup config check' to find the dump and client tools",
			"Run again with --debug to log the tool's diagnostics",
		}
	case apperrors.ErrorTypeStorage:
		return []string{
			"Check that the storage location exists and is writable",
			"Verify the cloud credentials in the environment",
		}
	case apperrors.ErrorTypeNoParentBackup:
		return []string{
			"Take a FULL backup of the database before an INCREMENTAL one",
		}
	case apperrors.ErrorTypeMissingParent, apperrors.ErrorTypeArtifactMissing:
		return []string{
			"Inspect the chain with 'multidb-backup artifacts lineage <artifact-id>'",
			"Restore from a newer FULL backup",
		}
	}
	return nil
}

func printHints(w io.Writer, err error) {
	hints := troubleshootingHints(err)
	if len(hints) == 0 {
		return
	}
	fmt.Fprintf(w, "\nTroubleshooting hints:\n")
	for _, h := range hints {
		fmt.Fprintf(w, "- %s\n", h)
	}
}
