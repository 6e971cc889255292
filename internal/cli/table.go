package cli

import (
	"strings"
)

// Table lays out rows in aligned columns. Cells in a column with a maximum
// width are wrapped at word boundaries.
type Table struct {
	headers   []string
	rows      [][]string
	padding   int
	maxWidths map[int]int
	styles    map[int]func(string) string
	header    func(string) string
}

// NewTable creates a table with the given headers.
func NewTable(headers ...string) *Table {
	return &Table{
		headers:   headers,
		padding:   2,
		maxWidths: make(map[int]int),
		styles:    make(map[int]func(string) string),
	}
}

// SetColumnMaxWidth wraps cells of column col longer than width.
func (t *Table) SetColumnMaxWidth(col, width int) {
	t.maxWidths[col] = width
}

// SetColumnStyle decorates cells of column col after alignment, so escape
// sequences do not affect column widths.
func (t *Table) SetColumnStyle(col int, style func(string) string) {
	t.styles[col] = style
}

// SetHeaderStyle decorates the header row after alignment.
func (t *Table) SetHeaderStyle(style func(string) string) {
	t.header = style
}

// AddRow appends a row, padding or truncating it to the header count.
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.headers))
	copy(row, cells)
	t.rows = append(t.rows, row)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Render returns the formatted table.
func (t *Table) Render() string {
	if len(t.headers) == 0 {
		return ""
	}

	wrapped := make([][][]string, len(t.rows))
	for r, row := range t.rows {
		wrapped[r] = make([][]string, len(row))
		for c, cell := range row {
			wrapped[r][c] = wrapText(cell, t.maxWidths[c])
		}
	}

	widths := make([]int, len(t.headers))
	for c, h := range t.headers {
		widths[c] = len(h)
	}
	for _, row := range wrapped {
		for c, lines := range row {
			for _, line := range lines {
				widths[c] = max(widths[c], len(line))
			}
		}
	}

	var b strings.Builder
	sep := strings.Repeat(" ", t.padding)

	t.writeLine(&b, sep, func(c int) string {
		cell := padRight(t.headers[c], widths[c])
		if t.header != nil {
			cell = t.header(cell)
		}
		return cell
	})
	t.writeLine(&b, sep, func(c int) string {
		return strings.Repeat("-", widths[c])
	})

	for _, row := range wrapped {
		height := 1
		for _, lines := range row {
			height = max(height, len(lines))
		}
		for i := range height {
			t.writeLine(&b, sep, func(c int) string {
				text := ""
				if i < len(row[c]) {
					text = row[c][i]
				}
				cell := padRight(text, widths[c])
				if style, ok := t.styles[c]; ok && text != "" {
					cell = style(cell)
				}
				return cell
			})
		}
	}

	return b.String()
}

func (t *Table) writeLine(b *strings.Builder, sep string, cell func(int) string) {
	parts := make([]string, len(t.headers))
	for c := range t.headers {
		parts[c] = cell(c)
	}
	b.WriteString(strings.TrimRight(strings.Join(parts, sep), " "))
	b.WriteString("\n")
}

// padRight pads s with spaces to width. Longer strings are returned unchanged.
func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// wrapText wraps text at word boundaries to width. Words longer than width
// are split. A width of zero or less disables wrapping.
func wrapText(text string, width int) []string {
	if width <= 0 || len(text) <= width {
		return []string{text}
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{text}
	}

	var lines []string
	current := ""
	for _, word := range words {
		if len(word) > width {
			if current != "" {
				lines = append(lines, current)
			}
			for len(word) > width {
				lines = append(lines, word[:width])
				word = word[width:]
			}
			current = word
			continue
		}

		switch {
		case current == "":
			current = word
		case len(current)+1+len(word) <= width:
			current += " " + word
		default:
			lines = append(lines, current)
			current = word
		}
	}
	if current != "" {
		lines = append(lines, current)
	}

	return lines
}
