// Package ingest reads historical Stripe and Denefits payment exports and
// records them through the payment writer.
package ingest

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Table is a parsed export: a header row and the data rows under it.
// Lines holds each row's 1-based line in the source file.
type Table struct {
	Header []string
	Rows   [][]string
	Lines  []int
}

// index maps lowercased header names to column positions.
func (t *Table) index() map[string]int {
	idx := make(map[string]int, len(t.Header))
	for i, h := range t.Header {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	return idx
}

// ReadFile parses a .csv or .xlsx export. The first row is the header.
func ReadFile(ctx context.Context, path string) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ReadXLSX(path, "")
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return ReadCSV(ctx, f)
	}
}

// ReadCSV parses CSV with a header row. Fields are trimmed and rows may
// have fewer fields than the header.
func ReadCSV(ctx context.Context, r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	t := &Table{}
	for {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "ingest: csv cancelled")
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "ingest: read csv row")
		}
		for i, field := range record {
			record[i] = strings.TrimSpace(field)
		}
		if t.Header == nil {
			// Spreadsheet exports often start with a byte order mark.
			record[0] = strings.TrimPrefix(record[0], "\ufeff")
			t.Header = record
			continue
		}
		if blank(record) {
			continue
		}
		line, _ := reader.FieldPos(0)
		t.Rows = append(t.Rows, record)
		t.Lines = append(t.Lines, line)
	}
	if t.Header == nil {
		return nil, eris.New("ingest: csv has no header row")
	}
	return t, nil
}

// ReadXLSX parses the named sheet, or the first sheet when name is empty.
func ReadXLSX(path, sheetName string) (*Table, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open xlsx %s", path)
	}
	return readWorkbook(f, sheetName)
}

func readWorkbook(f *xlsx.File, sheetName string) (*Table, error) {
	var sheet *xlsx.Sheet
	if sheetName != "" {
		s, ok := f.Sheet[sheetName]
		if !ok {
			return nil, eris.Errorf("ingest: sheet %q not found", sheetName)
		}
		sheet = s
	} else {
		if len(f.Sheets) == 0 {
			return nil, eris.New("ingest: workbook has no sheets")
		}
		sheet = f.Sheets[0]
	}

	t := &Table{}
	for i, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = strings.TrimSpace(cell.String())
		}
		if t.Header == nil {
			t.Header = cells
			continue
		}
		if blank(cells) {
			continue
		}
		t.Rows = append(t.Rows, cells)
		t.Lines = append(t.Lines, i+1)
	}
	if t.Header == nil {
		return nil, eris.Errorf("ingest: sheet %q is empty", sheet.Name)
	}
	return t, nil
}

func blank(record []string) bool {
	for _, f := range record {
		if f != "" {
			return false
		}
	}
	return true
}
