// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Table is a column-aligned table. Cells may already carry styling;
// widths are measured with lipgloss so escape codes do not skew alignment.
type Table struct {
	headers []string
	rows    [][]string
}

// NewTable creates a table with the given column headers.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// Row appends a row. Missing cells render empty; extra cells are dropped.
func (t *Table) Row(cells ...string) *Table {
	row := make([]string, len(t.headers))
	copy(row, cells)
	t.rows = append(t.rows, row)
	return t
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Render returns the table as text. Machine personality produces
// tab-separated lines with a header line and no styling.
func (t *Table) Render() string {
	var b strings.Builder

	if GetPersonality().Level == PersonalityMachine {
		b.WriteString(strings.Join(t.headers, "\t"))
		b.WriteByte('\n')
		for _, row := range t.rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteByte('\n')
		}
		return b.String()
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	line := func(cells []string, style *lipgloss.Style) {
		for i, cell := range cells {
			if i > 0 {
				b.WriteString("  ")
			}
			pad := widths[i] - lipgloss.Width(cell)
			if style != nil {
				cell = style.Render(cell)
			}
			b.WriteString(cell)
			if i < len(cells)-1 {
				b.WriteString(strings.Repeat(" ", pad))
			}
		}
		b.WriteByte('\n')
	}

	header := Styles.Bold
	line(t.headers, &header)
	total := 0
	for _, w := range widths {
		total += w
	}
	total += 2 * (len(widths) - 1)
	b.WriteString(Styles.Muted.Render(strings.Repeat("─", total)))
	b.WriteByte('\n')
	for _, row := range t.rows {
		line(row, nil)
	}
	return b.String()
}

// Print writes the rendered table to the configured output.
func (t *Table) Print() {
	out, _ := writers()
	fmt.Fprint(out, t.Render())
}

// KeyValue prints aligned label/value pairs. pairs alternates label, value.
func KeyValue(pairs ...string) {
	out, _ := writers()
	machine := GetPersonality().Level == PersonalityMachine

	width := 0
	for i := 0; i < len(pairs); i += 2 {
		if w := lipgloss.Width(pairs[i]); w > width {
			width = w
		}
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		if machine {
			fmt.Fprintf(out, "%s\t%s\n", pairs[i], pairs[i+1])
			continue
		}
		label := pairs[i] + strings.Repeat(" ", width-lipgloss.Width(pairs[i]))
		fmt.Fprintf(out, "  %s  %s\n", Styles.Muted.Render(label), pairs[i+1])
	}
}
