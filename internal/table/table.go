// Package table loads exported spreadsheets (CSV or XLSX) into an in-memory
// table of named string columns and writes result tables back to XLSX.
package table

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrEmpty is returned when a file has no header row.
var ErrEmpty = errors.New("table: file is empty")

// Row maps column name to the raw cell value.
type Row map[string]string

// Table is an ordered set of named columns and their rows.
type Table struct {
	Name    string
	Columns []string
	Rows    []Row
}

// New builds a table from a header and positional records.
// Short records are padded, long records are truncated.
func New(name string, columns []string, records [][]string) *Table {
	t := &Table{Name: name, Columns: uniqueHeaders(columns)}
	for _, rec := range records {
		row := make(Row, len(t.Columns))
		for i, col := range t.Columns {
			if i < len(rec) {
				row[col] = rec[i]
			} else {
				row[col] = ""
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Has reports whether the table has a column with exactly this name.
func (t *Table) Has(column string) bool {
	return t.index(column) >= 0
}

// Values returns the column's values in row order.
func (t *Table) Values(column string) []string {
	out := make([]string, 0, len(t.Rows))
	for _, r := range t.Rows {
		out = append(out, r[column])
	}
	return out
}

// Rename relabels a column. Row values are moved to the new key, never changed.
func (t *Table) Rename(from, to string) error {
	if from == to {
		return nil
	}
	i := t.index(from)
	if i < 0 {
		return fmt.Errorf("table %s: no column %q", t.Name, from)
	}
	if t.Has(to) {
		return fmt.Errorf("table %s: column %q already exists", t.Name, to)
	}
	t.Columns[i] = to
	for _, r := range t.Rows {
		r[to] = r[from]
		delete(r, from)
	}
	return nil
}

// Clone returns a deep copy so callers can rename columns without touching the original.
func (t *Table) Clone() *Table {
	c := &Table{
		Name:    t.Name,
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([]Row, len(t.Rows)),
	}
	for i, r := range t.Rows {
		nr := make(Row, len(r))
		for k, v := range r {
			nr[k] = v
		}
		c.Rows[i] = nr
	}
	return c
}

// Records returns the rows as positional records following Columns.
func (t *Table) Records() [][]string {
	out := make([][]string, 0, len(t.Rows))
	for _, r := range t.Rows {
		rec := make([]string, len(t.Columns))
		for i, col := range t.Columns {
			rec[i] = r[col]
		}
		out = append(out, rec)
	}
	return out
}

func (t *Table) index(column string) int {
	for i, c := range t.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

// LoadOptions tunes file loading.
type LoadOptions struct {
	// HeaderHint lists tokens expected on the header line. When the first
	// line lacks them and the second line has them, the first line is skipped.
	HeaderHint []string
	// Sheet selects an XLSX sheet; empty means the first sheet.
	Sheet string
	// Comma forces a CSV delimiter; zero sniffs between ',', ';' and tab.
	Comma rune
}

// Load reads a CSV or XLSX file, chosen by extension.
func Load(path string, opts LoadOptions) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return LoadXLSX(path, opts)
	case ".csv", ".txt", "":
		return LoadCSV(path, opts)
	default:
		return nil, fmt.Errorf("table: unsupported file type %q", filepath.Ext(path))
	}
}

// uniqueHeaders trims headers, names blank ones and disambiguates duplicates.
// A generated suffix never reuses a name present anywhere in the header row.
func uniqueHeaders(headers []string) []string {
	names := make([]string, len(headers))
	taken := make(map[string]bool, len(headers))
	for i, h := range headers {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			h = fmt.Sprintf("Column %d", i+1)
		}
		names[i] = h
		taken[h] = true
	}

	out := make([]string, len(names))
	used := make(map[string]bool, len(names))
	for i, h := range names {
		name := h
		if used[name] {
			for n := 2; ; n++ {
				name = fmt.Sprintf("%s_%d", h, n)
				if !taken[name] && !used[name] {
					break
				}
			}
		}
		used[name] = true
		out[i] = name
	}
	return out
}

// hasHint reports whether every hint token appears in line as a whole word,
// case-insensitively.
func hasHint(line string, hint []string) bool {
	if len(hint) == 0 {
		return true
	}
	lower := strings.ToLower(line)
	for _, tok := range hint {
		if !containsWord(lower, strings.ToLower(tok)) {
			return false
		}
	}
	return true
}

// containsWord reports whether tok occurs in s not flanked by a letter or digit.
func containsWord(s, tok string) bool {
	if tok == "" {
		return true
	}
	for from := 0; from <= len(s)-len(tok); {
		i := strings.Index(s[from:], tok)
		if i < 0 {
			return false
		}
		start, end := from+i, from+i+len(tok)
		before, _ := utf8.DecodeLastRuneInString(s[:start])
		after, _ := utf8.DecodeRuneInString(s[end:])
		if !isWordRune(before) && !isWordRune(after) {
			return true
		}
		from = start + 1
	}
	return false
}

func isWordRune(r rune) bool {
	return r != utf8.RuneError && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

// headerOffset returns 1 when the first line is a junk line preceding the header.
func headerOffset(first, second string, hint []string) int {
	if len(hint) == 0 || hasHint(first, hint) {
		return 0
	}
	if hasHint(second, hint) {
		return 1
	}
	return 0
}
