// Package confirmation asks the operator to approve a restore before it
// overwrites a database.
package confirmation

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"multidb-backup/internal/display"
	"multidb-backup/internal/ledger"
)

// RestorePlan describes what a restore is about to replay and where
type RestorePlan struct {
	TargetHost string
	TargetPort int
	TargetDB   string
	// Chain is the artifact lineage, requested artifact first
	Chain []ledger.ArtifactMetadata
}

// Service handles operator confirmation for restores
type Service interface {
	ConfirmRestore(ctx context.Context, plan RestorePlan, autoApprove bool) (bool, error)
	DisplayRestoreSummary(plan RestorePlan) error
}

type confirmationService struct {
	colors *display.ColorSystem
	reader *bufio.Reader
	out    io.Writer
}

// NewService creates a Service reading answers from in and writing prompts to out
func NewService(in io.Reader, out io.Writer, colors *display.ColorSystem) Service {
	if colors == nil {
		colors = display.NewColorSystem(false)
	}
	return &confirmationService{
		colors: colors,
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// ConfirmRestore shows the plan and waits for an answer. Canceling ctx, for
// example on SIGINT, declines the restore.
func (cs *confirmationService) ConfirmRestore(ctx context.Context, plan RestorePlan, autoApprove bool) (bool, error) {
	if len(plan.Chain) == 0 {
		return false, errors.New("nothing to restore")
	}
	if err := cs.DisplayRestoreSummary(plan); err != nil {
		return false, fmt.Errorf("failed to display restore summary: %w", err)
	}

	if autoApprove {
		fmt.Fprintln(cs.out, cs.colors.Colorize("✓ Auto-approving restore", cs.colors.Theme().Success))
		return true, nil
	}

	for {
		inputChan := make(chan string, 1)
		errorChan := make(chan error, 1)
		go func() {
			input, err := cs.promptForConfirmation()
			if err != nil {
				errorChan <- err
				return
			}
			inputChan <- input
		}()

		select {
		case <-ctx.Done():
			fmt.Fprintln(cs.out, "\n"+cs.colors.Colorize("⚠ Restore cancelled", cs.colors.Theme().Warning))
			return false, nil
		case err := <-errorChan:
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(cs.out)
				return false, nil
			}
			return false, fmt.Errorf("failed to read user input: %w", err)
		case input := <-inputChan:
			switch strings.ToLower(input) {
			case "y", "yes":
				return true, nil
			case "n", "no", "":
				return false, nil
			case "d", "details":
				cs.displayArtifactDetails(plan)
			default:
				fmt.Fprintf(cs.out, "Invalid input '%s'. Please enter 'y' for yes, 'n' for no, or 'd' for details.\n", input)
			}
		}
	}
}

// DisplayRestoreSummary prints the target and the artifacts that will be replayed
func (cs *confirmationService) DisplayRestoreSummary(plan RestorePlan) error {
	theme := cs.colors.Theme()
	requested := plan.Chain[0]

	target := plan.TargetDB
	if target == "" {
		target = requested.TargetName
	}

	fmt.Fprintln(cs.out, cs.colors.Colorize("Restore Summary", theme.Primary))
	fmt.Fprintln(cs.out, strings.Repeat("-", 30))
	fmt.Fprintf(cs.out, "Artifact:  %s (%s)\n", requested.ArtifactID, requested.Kind)
	fmt.Fprintf(cs.out, "Engine:    %s\n", requested.EngineType)
	fmt.Fprintf(cs.out, "Target:    %s on %s:%d\n", target, plan.TargetHost, plan.TargetPort)
	fmt.Fprintf(cs.out, "Replays:   %d artifact(s), %s\n", len(plan.Chain), display.FormatBytes(totalSize(plan.Chain)))
	fmt.Fprintln(cs.out)

	fmt.Fprintln(cs.out, cs.colors.Colorize("⚠ EXISTING DATA WILL BE OVERWRITTEN", theme.Error))
	fmt.Fprintf(cs.out, "Objects in %s that the backup contains are dropped and recreated.\n", target)
	fmt.Fprintln(cs.out)
	return nil
}

func (cs *confirmationService) promptForConfirmation() (string, error) {
	fmt.Fprint(cs.out, cs.colors.Colorize("Do you want to restore? [y/N/d]: ", cs.colors.Theme().Primary))

	input, err := cs.reader.ReadString('\n')
	if err != nil && (err != io.EOF || input == "") {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

// displayArtifactDetails lists the artifacts in replay order, oldest first
func (cs *confirmationService) displayArtifactDetails(plan RestorePlan) {
	theme := cs.colors.Theme()
	fmt.Fprintln(cs.out, "\n"+cs.colors.Colorize("Artifacts to be replayed:", theme.Primary))
	fmt.Fprintln(cs.out, strings.Repeat("=", 60))

	for i := len(plan.Chain) - 1; i >= 0; i-- {
		a := plan.Chain[i]
		fmt.Fprintf(cs.out, "\n%d. %s  %s\n", len(plan.Chain)-i, a.ArtifactID, a.Kind)
		fmt.Fprintf(cs.out, "   Taken:    %s\n", a.EndedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Fprintf(cs.out, "   Location: %s (%s)\n", a.StoragePath, a.StorageType)
		if len(a.Tables) > 0 {
			fmt.Fprintf(cs.out, "   Tables:   %s\n", strings.Join(a.Tables, ", "))
		}
		if a.Checksum != "" {
			fmt.Fprintf(cs.out, "   SHA-256:  %s\n", cs.colors.Colorize(a.Checksum, theme.Muted))
		}
	}

	fmt.Fprintln(cs.out, "\n"+strings.Repeat("=", 60))
}

func totalSize(chain []ledger.ArtifactMetadata) int64 {
	var total int64
	for _, a := range chain {
		total += a.SizeBytes
	}
	return total
}
