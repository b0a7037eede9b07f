package display

import (
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// Alignment represents column alignment options
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// BorderStyle defines table border characters
type BorderStyle struct {
	Corner     string
	Horizontal string
	Vertical   string
}

var (
	// ASCIIBorderStyle draws +---+ borders
	ASCIIBorderStyle = BorderStyle{Corner: "+", Horizontal: "-", Vertical: "|"}
	// NoBorderStyle separates columns with spaces only
	NoBorderStyle = BorderStyle{}
)

// minColumnWidth keeps truncated cells readable
const minColumnWidth = 6

var ansiSequence = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// visibleWidth is the printed width of s, ignoring color sequences
func visibleWidth(s string) int {
	return utf8.RuneCountInString(ansiSequence.ReplaceAllString(s, ""))
}

// Table renders rows of text as an aligned table
type Table struct {
	headers    []string
	rows       [][]string
	alignments map[int]Alignment
	border     BorderStyle
	maxWidth   int
	colors     *ColorSystem
}

// NewTable creates a table with ASCII borders sized to the terminal
func NewTable(colors *ColorSystem, headers ...string) *Table {
	return &Table{
		headers:    headers,
		alignments: make(map[int]Alignment),
		border:     ASCIIBorderStyle,
		maxWidth:   terminalWidth(),
		colors:     colors,
	}
}

// AddRow appends a row; missing cells render empty
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// SetAlignment sets the alignment of column
func (t *Table) SetAlignment(column int, alignment Alignment) {
	t.alignments[column] = alignment
}

// SetBorder replaces the border style
func (t *Table) SetBorder(border BorderStyle) {
	t.border = border
}

// SetMaxWidth limits the rendered width; zero disables the limit
func (t *Table) SetMaxWidth(width int) {
	t.maxWidth = width
}

// Render returns the formatted table
func (t *Table) Render() string {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return ""
	}

	widths := t.fit(t.columnWidths())

	var b strings.Builder
	t.writeRule(&b, widths)
	if len(t.headers) > 0 {
		t.writeRow(&b, t.headers, widths, true)
		t.writeRule(&b, widths)
	}
	for _, row := range t.rows {
		t.writeRow(&b, row, widths, false)
	}
	t.writeRule(&b, widths)
	return b.String()
}

func (t *Table) columnWidths() []int {
	cols := len(t.headers)
	for _, row := range t.rows {
		if len(row) > cols {
			cols = len(row)
		}
	}

	widths := make([]int, cols)
	measure := func(cells []string) {
		for i, cell := range cells {
			if w := visibleWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	measure(t.headers)
	for _, row := range t.rows {
		measure(row)
	}
	return widths
}

// fit shrinks the widest columns until the table fits maxWidth
func (t *Table) fit(widths []int) []int {
	if t.maxWidth <= 0 {
		return widths
	}
	for t.totalWidth(widths) > t.maxWidth {
		widest := 0
		for i := range widths {
			if widths[i] > widths[widest] {
				widest = i
			}
		}
		if widths[widest] <= minColumnWidth {
			break
		}
		widths[widest]--
	}
	return widths
}

func (t *Table) totalWidth(widths []int) int {
	total := 0
	for _, w := range widths {
		total += w + 2
	}
	if t.border.Vertical != "" {
		total += len(widths) + 1
	}
	return total
}

func (t *Table) writeRule(b *strings.Builder, widths []int) {
	if t.border.Horizontal == "" {
		return
	}
	b.WriteString(t.border.Corner)
	for _, w := range widths {
		b.WriteString(strings.Repeat(t.border.Horizontal, w+2))
		b.WriteString(t.border.Corner)
	}
	b.WriteString("\n")
}

func (t *Table) writeRow(b *strings.Builder, cells []string, widths []int, header bool) {
	b.WriteString(t.border.Vertical)
	for i, w := range widths {
		var cell string
		if i < len(cells) {
			cell = cells[i]
		}
		cell = pad(truncate(cell, w), w, t.alignments[i])
		if header && t.colors != nil {
			cell = t.colors.Colorize(cell, t.colors.Theme().Primary)
		}
		b.WriteString(" ")
		b.WriteString(cell)
		b.WriteString(" ")
		b.WriteString(t.border.Vertical)
	}
	b.WriteString("\n")
}

func truncate(s string, width int) string {
	if visibleWidth(s) <= width {
		return s
	}
	runes := []rune(ansiSequence.ReplaceAllString(s, ""))
	if width > 3 {
		return string(runes[:width-3]) + "..."
	}
	return string(runes[:width])
}

func pad(s string, width int, alignment Alignment) string {
	gap := width - visibleWidth(s)
	if gap <= 0 {
		return s
	}
	if alignment == AlignRight {
		return strings.Repeat(" ", gap) + s
	}
	return s + strings.Repeat(" ", gap)
}

// terminalWidth returns the width of stdout, or zero when it is not a terminal
func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0
	}
	return width
}
