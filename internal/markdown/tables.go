// Package markdown renders agent markdown into the HTML subset Telegram
// accepts, with configurable handling for tables Telegram cannot display.
package markdown

import (
	"strings"
	"unicode/utf8"

	east "github.com/yuin/goldmark/extension/ast"
)

// TableMode specifies how to handle markdown tables.
type TableMode string

const (
	// TableModeOff leaves tables as pipe-delimited text.
	TableModeOff TableMode = "off"
	// TableModeBullets converts tables to bullet lists.
	TableModeBullets TableMode = "bullets"
	// TableModeCode renders tables as aligned monospace blocks.
	TableModeCode TableMode = "code"
)

// ParseTableMode parses a table mode string, returning the default if invalid.
func ParseTableMode(mode string, defaultMode TableMode) TableMode {
	m := TableMode(strings.ToLower(strings.TrimSpace(mode)))
	switch m {
	case TableModeOff, TableModeBullets, TableModeCode:
		return m
	default:
		return defaultMode
	}
}

// table is a parsed table reduced to plain cell text.
type table struct {
	headers []string
	rows    [][]string
	align   []east.Alignment
}

func (t table) columns() int {
	n := len(t.headers)
	for _, r := range t.rows {
		if len(r) > n {
			n = len(r)
		}
	}
	return n
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

// toBullets renders one bullet per row, labelling cells with their header.
func (t table) toBullets() string {
	var lines []string
	for _, row := range t.rows {
		var parts []string
		for i, c := range row {
			if c == "" {
				continue
			}
			if h := cell(t.headers, i); h != "" {
				c = h + ": " + c
			}
			parts = append(parts, c)
		}
		if len(parts) > 0 {
			lines = append(lines, "• "+strings.Join(parts, " | "))
		}
	}
	return strings.Join(lines, "\n")
}

// toGrid renders the table with padded columns for a monospace block.
func (t table) toGrid() string {
	cols := t.columns()
	widths := make([]int, cols)
	all := append([][]string{t.headers}, t.rows...)
	for _, row := range all {
		for i := 0; i < cols; i++ {
			if w := utf8.RuneCountInString(cell(row, i)); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	writeRow := func(row []string) {
		b.WriteString("|")
		for i := 0; i < cols; i++ {
			b.WriteString(" ")
			b.WriteString(t.pad(cell(row, i), widths[i], i))
			b.WriteString(" |")
		}
		b.WriteString("\n")
	}
	writeRow(t.headers)
	b.WriteString("|")
	for i := 0; i < cols; i++ {
		b.WriteString(strings.Repeat("-", widths[i]+2))
		b.WriteString("|")
	}
	b.WriteString("\n")
	for _, row := range t.rows {
		writeRow(row)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (t table) pad(s string, width, col int) string {
	gap := width - utf8.RuneCountInString(s)
	if gap <= 0 {
		return s
	}
	var a east.Alignment
	if col < len(t.align) {
		a = t.align[col]
	}
	switch a {
	case east.AlignRight:
		return strings.Repeat(" ", gap) + s
	case east.AlignCenter:
		left := gap / 2
		return strings.Repeat(" ", left) + s + strings.Repeat(" ", gap-left)
	default:
		return s + strings.Repeat(" ", gap)
	}
}

// toPipes renders the table back to markdown pipe syntax.
func (t table) toPipes() string {
	var b strings.Builder
	b.WriteString("| " + strings.Join(t.headers, " | ") + " |\n")
	seps := make([]string, len(t.headers))
	for i := range seps {
		seps[i] = "---"
	}
	b.WriteString("| " + strings.Join(seps, " | ") + " |")
	for _, row := range t.rows {
		b.WriteString("\n| " + strings.Join(row, " | ") + " |")
	}
	return b.String()
}
