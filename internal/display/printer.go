package display

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"multidb-backup/internal/backup"
	"multidb-backup/internal/config"
	"multidb-backup/internal/ledger"
)

// OutputFormat selects how results are rendered
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// ParseFormat validates a user supplied output format
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (table, json, yaml)", s)
	}
}

const timeLayout = "2006-01-02 15:04:05"

// Printer writes command results. Table output is meant for people; json and
// yaml output contain only the result document so they can be piped.
type Printer struct {
	out    io.Writer
	format OutputFormat
	colors *ColorSystem
}

// NewPrinter creates a printer. A nil colors disables coloring.
func NewPrinter(out io.Writer, format OutputFormat, colors *ColorSystem) *Printer {
	if colors == nil {
		colors = NewColorSystem(false)
	}
	if format == "" {
		format = FormatTable
	}
	return &Printer{out: out, format: format, colors: colors}
}

// Format returns the output format
func (p *Printer) Format() OutputFormat {
	return p.format
}

// Success prints a success status line in table output
func (p *Printer) Success(message string) {
	p.status("✓", p.colors.Theme().Success, message)
}

// Warning prints a warning status line in table output
func (p *Printer) Warning(message string) {
	p.status("!", p.colors.Theme().Warning, message)
}

// Error prints an error status line in table output
func (p *Printer) Error(message string) {
	p.status("✗", p.colors.Theme().Error, message)
}

// Info prints an informational line in table output
func (p *Printer) Info(message string) {
	p.status("i", p.colors.Theme().Info, message)
}

func (p *Printer) status(symbol string, clr Color, message string) {
	if p.format != FormatTable {
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", p.colors.Colorize(symbol, clr), message)
}

// encode writes v as json or yaml; it reports false for table output
func (p *Printer) encode(v interface{}) (bool, error) {
	switch p.format {
	case FormatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return true, fmt.Errorf("failed to encode JSON: %w", err)
		}
		_, err = fmt.Fprintln(p.out, string(data))
		return true, err
	case FormatYAML:
		enc := yaml.NewEncoder(p.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, fmt.Errorf("failed to encode YAML: %w", err)
		}
		return true, enc.Close()
	default:
		return false, nil
	}
}

// PrintRuns lists run log entries
func (p *Printer) PrintRuns(runs []ledger.RunLog) error {
	if runs == nil {
		runs = []ledger.RunLog{}
	}
	if done, err := p.encode(runs); done {
		return err
	}
	if len(runs) == 0 {
		p.Info("No runs found")
		return nil
	}

	t := NewTable(p.colors, "ID", "ACTION", "ENGINE", "TARGET", "STATUS", "STARTED", "DURATION", "RESULT")
	for _, r := range runs {
		result := r.ResultLocation
		if r.Status == ledger.StatusFailed {
			result = r.ErrorDetail
		}
		t.AddRow(r.ID, string(r.Action), r.EngineType, r.TargetName, p.statusText(r.Status),
			r.StartedAt.Local().Format(timeLayout), duration(r.StartedAt, r.EndedAt), result)
	}
	_, err := io.WriteString(p.out, t.Render())
	return err
}

// PrintRun shows one run log entry in detail
func (p *Printer) PrintRun(run ledger.RunLog) error {
	if done, err := p.encode(run); done {
		return err
	}

	ended := "-"
	if run.EndedAt != nil {
		ended = run.EndedAt.Local().Format(timeLayout)
	}
	return p.details([][2]string{
		{"ID", run.ID},
		{"Action", string(run.Action)},
		{"Engine", run.EngineType},
		{"Target", run.TargetName},
		{"Status", p.statusText(run.Status)},
		{"Started", run.StartedAt.Local().Format(timeLayout)},
		{"Ended", ended},
		{"Duration", duration(run.StartedAt, run.EndedAt)},
		{"Storage", run.StorageType},
		{"Location", run.ResultLocation},
		{"Error", run.ErrorDetail},
	})
}

// PrintArtifacts lists artifact metadata
func (p *Printer) PrintArtifacts(artifacts []ledger.ArtifactMetadata) error {
	if artifacts == nil {
		artifacts = []ledger.ArtifactMetadata{}
	}
	if done, err := p.encode(artifacts); done {
		return err
	}
	if len(artifacts) == 0 {
		p.Info("No artifacts found")
		return nil
	}

	t := NewTable(p.colors, "ID", "ENGINE", "TARGET", "KIND", "SIZE", "STORAGE", "CREATED", "PARENT")
	t.SetAlignment(4, AlignRight)
	for _, a := range artifacts {
		t.AddRow(a.ArtifactID, a.EngineType, a.TargetName, kindText(a), FormatBytes(a.SizeBytes),
			a.StorageType, a.EndedAt.Local().Format(timeLayout), parentText(a))
	}
	_, err := io.WriteString(p.out, t.Render())
	return err
}

// PrintArtifact shows one artifact in detail
func (p *Printer) PrintArtifact(a ledger.ArtifactMetadata) error {
	if done, err := p.encode(a); done {
		return err
	}
	return p.details([][2]string{
		{"ID", a.ArtifactID},
		{"Engine", a.EngineType},
		{"Target", a.TargetName},
		{"Kind", kindText(a)},
		{"Parent", parentText(a)},
		{"Tables", strings.Join(a.Tables, ", ")},
		{"File", a.FileName},
		{"Size", FormatBytes(a.SizeBytes)},
		{"Storage", a.StorageType},
		{"Location", a.StoragePath},
		{"Checksum", a.Checksum},
		{"Status", p.statusText(a.Status)},
		{"Started", a.StartedAt.Local().Format(timeLayout)},
		{"Finished", a.EndedAt.Local().Format(timeLayout)},
	})
}

// PrintLineage prints an artifact and its ancestors, child first
func (p *Printer) PrintLineage(chain []ledger.ArtifactMetadata) error {
	if chain == nil {
		chain = []ledger.ArtifactMetadata{}
	}
	if done, err := p.encode(chain); done {
		return err
	}

	for depth, a := range chain {
		indent := strings.Repeat("  ", depth)
		marker := ""
		if depth > 0 {
			marker = "└─ "
		}
		fmt.Fprintf(p.out, "%s%s%s  %s  %s  %s\n", indent, marker,
			p.colors.Colorize(a.ArtifactID, p.colors.Theme().Primary),
			kindText(a), a.EndedAt.Local().Format(timeLayout), a.StoragePath)
	}
	if n := len(chain); n > 1 {
		p.Info(fmt.Sprintf("Restoring %s replays %d artifacts, oldest first", chain[0].ArtifactID, n))
	}
	return nil
}

// PrintBackupResult reports a completed backup
func (p *Printer) PrintBackupResult(r *backup.BackupResult) error {
	if done, err := p.encode(r); done {
		return err
	}
	p.Success(r.Message)
	return p.details([][2]string{
		{"Ledger ID", r.LedgerID},
		{"Kind", kindText(r.Artifact)},
		{"Parent", parentText(r.Artifact)},
		{"Size", FormatBytes(r.Artifact.SizeBytes)},
		{"Location", r.Location},
	})
}

// PrintRestoreResult reports a completed restore
func (p *Printer) PrintRestoreResult(r *backup.RestoreResult) error {
	if done, err := p.encode(r); done {
		return err
	}
	p.Success(r.Message)
	return p.details([][2]string{
		{"Artifact", r.ArtifactID},
		{"Ledger run", r.LedgerRunID},
		{"Replayed", strings.Join(r.Restored, " -> ")},
	})
}

// PrintConnectionResult reports a connection test
func (p *Printer) PrintConnectionResult(r *backup.ConnectionTestResult) error {
	if done, err := p.encode(r); done {
		return err
	}
	if r.Success {
		p.Success(r.Message)
	} else {
		p.Error(r.Message)
	}
	p.Info("Ledger run " + r.LedgerID)
	return nil
}

// PrintCheck reports an installation check
func (p *Printer) PrintCheck(r *config.CheckResult) error {
	if done, err := p.encode(r); done {
		return err
	}

	for _, e := range r.Errors {
		p.Error(e)
	}
	for _, w := range r.Warnings {
		p.Warning(w)
	}
	if len(r.RecommendedFixes) > 0 {
		fmt.Fprintln(p.out, "\nRecommended fixes:")
		for _, fix := range r.RecommendedFixes {
			fmt.Fprintf(p.out, "  - %s\n", fix)
		}
	}
	if r.Success {
		p.Success("Installation is ready")
	}
	return nil
}

func (p *Printer) details(rows [][2]string) error {
	t := NewTable(p.colors)
	t.SetBorder(NoBorderStyle)
	for _, row := range rows {
		if row[1] == "" {
			continue
		}
		t.AddRow(p.colors.Colorize(row[0]+":", p.colors.Theme().Muted), row[1])
	}
	_, err := io.WriteString(p.out, t.Render())
	return err
}

func (p *Printer) statusText(s ledger.Status) string {
	theme := p.colors.Theme()
	switch s {
	case ledger.StatusSuccess:
		return p.colors.Colorize(string(s), theme.Success)
	case ledger.StatusFailed:
		return p.colors.Colorize(string(s), theme.Error)
	default:
		return p.colors.Colorize(string(s), theme.Warning)
	}
}

func kindText(a ledger.ArtifactMetadata) string {
	kind := string(a.Kind)
	if a.Compressed {
		kind += " (compressed)"
	}
	return kind
}

func parentText(a ledger.ArtifactMetadata) string {
	if a.ParentArtifactID == nil {
		return ""
	}
	return *a.ParentArtifactID
}

func duration(start time.Time, end *time.Time) string {
	if end == nil {
		return "-"
	}
	return end.Sub(start).Round(time.Millisecond).String()
}

// FormatBytes renders a byte count with a binary unit
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return strconv.FormatInt(n, 10) + " B"
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
