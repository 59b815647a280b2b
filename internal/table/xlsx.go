package table

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/xuri/excelize/v2"
)

// DefaultSheet is the sheet name used by WriteXLSX when none is given.
const DefaultSheet = "Sheet1"

// LoadXLSX reads one sheet of a workbook. Leading empty rows are ignored and
// a junk first row is skipped according to opts.HeaderHint.
func LoadXLSX(path string, opts LoadOptions) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sheet := opts.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("%s: %w", path, ErrEmpty)
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%s: read sheet %q: %w", path, sheet, err)
	}
	for len(rows) > 0 && blank(rows[0]) {
		rows = rows[1:]
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmpty)
	}

	if len(rows) > 1 && headerOffset(strings.Join(rows[0], " "), strings.Join(rows[1], " "), opts.HeaderHint) == 1 {
		rows = rows[1:]
	}

	var records [][]string
	for _, r := range rows[1:] {
		if blank(r) {
			continue
		}
		records = append(records, r)
	}
	return New(filepath.Base(path), rows[0], records), nil
}

// WriteXLSX writes a single-sheet workbook with a header row. The file is
// written through a temp file and renamed into place.
func WriteXLSX(path, sheet string, columns []string, records [][]string) error {
	if sheet == "" {
		sheet = DefaultSheet
	}

	f := excelize.NewFile()
	defer f.Close()

	if sheet != DefaultSheet {
		if err := f.SetSheetName(DefaultSheet, sheet); err != nil {
			return fmt.Errorf("name sheet: %w", err)
		}
	}

	if err := writeRow(f, sheet, 1, columns); err != nil {
		return err
	}
	for i, rec := range records {
		if err := writeRow(f, sheet, i+2, rec); err != nil {
			return err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return fmt.Errorf("encode workbook: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	if err := atomic.WriteFile(path, buf); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// WriteTableXLSX writes t to path using its own columns.
func WriteTableXLSX(path string, t *Table) error {
	return WriteXLSX(path, "", t.Columns, t.Records())
}

func writeRow(f *excelize.File, sheet string, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	if err := f.SetSheetRow(sheet, cell, &out); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}
