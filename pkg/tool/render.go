package tool

import "strings"

// MarkdownTable renders rows as a markdown table with the given column
// order. Cell values must already be stringified; empty cell slices are
// rendered as an empty string.
func MarkdownTable(columns []string, rows [][]string) string {
	var b strings.Builder

	b.WriteString("| " + strings.Join(columns, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(columns)) + "\n")
	for _, row := range rows {
		b.WriteString("| " + strings.Join(row, " | ") + " |\n")
	}

	return strings.TrimRight(b.String(), "\n")
}
