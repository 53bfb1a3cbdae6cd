package output

import (
	"io"
	"strings"
	"unicode/utf8"

	"github.com/mrz1836/go-sanitize"
)

// columnGap separates table columns.
const columnGap = "  "

// Table lays out result rows for text output. Cells are flattened to a
// single line and widths count runes, so on-chain identities with
// non-ASCII names stay aligned.
type Table struct {
	headers []string
	right   map[int]bool
	rows    [][]string
}

// NewTable creates a table with the given column headers.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers, right: map[int]bool{}}
}

// Right right-aligns the columns at the given indexes.
func (t *Table) Right(cols ...int) *Table {
	for _, c := range cols {
		t.right[c] = true
	}
	return t
}

// AddRow appends one row. Short rows are padded with empty cells.
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(cells))
	for i, c := range cells {
		row[i] = sanitize.SingleLine(c)
	}
	t.rows = append(t.rows, row)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Render writes the header line and every row to w.
func (t *Table) Render(w io.Writer) error {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return nil
	}
	widths := t.widths()

	var sb strings.Builder
	if len(t.headers) > 0 {
		t.line(&sb, t.headers, widths)
	}
	for _, row := range t.rows {
		t.line(&sb, row, widths)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// String renders the table to a string.
func (t *Table) String() string {
	var sb strings.Builder
	_ = t.Render(&sb)
	return sb.String()
}

func (t *Table) widths() []int {
	n := len(t.headers)
	for _, row := range t.rows {
		n = max(n, len(row))
	}
	widths := make([]int, n)
	for i, h := range t.headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			widths[i] = max(widths[i], utf8.RuneCountInString(cell))
		}
	}
	return widths
}

// line writes one padded row. Trailing blanks are trimmed.
func (t *Table) line(sb *strings.Builder, cells []string, widths []int) {
	var b strings.Builder
	for i, width := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		pad := strings.Repeat(" ", width-utf8.RuneCountInString(cell))
		if i > 0 {
			b.WriteString(columnGap)
		}
		if t.right[i] {
			b.WriteString(pad + cell)
		} else {
			b.WriteString(cell + pad)
		}
	}
	sb.WriteString(strings.TrimRight(b.String(), " "))
	sb.WriteByte('\n')
}
