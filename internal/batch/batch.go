// Package batch converts spreadsheet exports into scan requests.
//
// A batch file is CSV with a header row. Column names are matched without
// regard to case or surrounding space. Every column in RequiredColumns must
// be present; a file that lacks any of them, or that has a row which fails to
// parse, produces no requests at all.
package batch

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"microprobe/internal/faults"
	"microprobe/internal/queue"
	"microprobe/internal/scan"
)

// RequiredColumns is the fixed column contract of a batch file.
var RequiredColumns = []string{
	"name", "serial", "info", "xstart", "xstop", "ystart", "ystop", "pitch", "dwell", "type", "owner",
}

// Optional columns copied into scan metadata when present.
const (
	columnRegion = "region"
	columnGroup  = "group"
)

// MissingColumnsError lists required columns absent from the header.
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return "batch file is missing columns: " + strings.Join(e.Columns, ", ")
}

func (e *MissingColumnsError) Unwrap() error { return faults.ErrImport }

// RowError reports a cell that could not be converted.
type RowError struct {
	Line   int
	Column string
	Value  string
	Err    error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("batch line %d column %s: invalid value %q: %v", e.Line, e.Column, e.Value, e.Err)
}

func (e *RowError) Unwrap() []error { return []error{faults.ErrImport, e.Err} }

var errEmptyCell = errors.New("value is required")

// Table is a parsed batch file.
type Table struct {
	Header []string
	rows   [][]string
	lines  []int
	index  map[string]int
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.rows) }

// Has reports whether the header contains column.
func (t *Table) Has(column string) bool {
	_, ok := t.index[normalizeColumn(column)]
	return ok
}

// Value returns the trimmed cell for column in data row i.
func (t *Table) Value(i int, column string) string {
	idx, ok := t.index[normalizeColumn(column)]
	if !ok || i < 0 || i >= len(t.rows) || idx >= len(t.rows[i]) {
		return ""
	}
	return strings.TrimSpace(t.rows[i][idx])
}

// Missing returns the required columns absent from the header, sorted.
func (t *Table) Missing() []string {
	var missing []string
	for _, col := range RequiredColumns {
		if !t.Has(col) {
			missing = append(missing, col)
		}
	}
	slices.Sort(missing)
	return missing
}

func normalizeColumn(name string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
}

// ReadCSV parses r into a Table. Rows may be shorter than the header;
// absent cells read as empty.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, faults.Wrap(faults.ErrImport, "batch", "read", "file has no header row", nil)
	}
	if err != nil {
		return nil, faults.Wrap(faults.ErrImport, "batch", "read", "parse header", err)
	}

	table := &Table{Header: header, index: make(map[string]int, len(header))}
	for i, name := range header {
		key := normalizeColumn(name)
		if key == "" {
			continue
		}
		if _, dup := table.index[key]; dup {
			return nil, faults.Wrap(faults.ErrImport, "batch", "read", "duplicate column "+key, nil)
		}
		table.index[key] = i
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, faults.Wrap(faults.ErrImport, "batch", "read", "parse row", err)
		}
		if blank(record) {
			continue
		}
		line, _ := reader.FieldPos(0)
		table.rows = append(table.rows, record)
		table.lines = append(table.lines, line)
	}
	return table, nil
}

func blank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// ReadFile opens path and parses it with ReadCSV.
func ReadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, faults.Wrap(faults.ErrImport, "batch", "open", path, err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// Requests maps every row of t onto a scan request. The name column is
// both the queue label and the sample name; pitch applies to both axes.
func Requests(t *Table) ([]queue.ScanRequest, error) {
	if missing := t.Missing(); len(missing) > 0 {
		return nil, &MissingColumnsError{Columns: missing}
	}
	reqs := make([]queue.ScanRequest, 0, t.Len())
	for i := range t.rows {
		req, err := t.request(i)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func (t *Table) request(i int) (queue.ScanRequest, error) {
	var parseErr error
	number := func(column string) float64 {
		if parseErr != nil {
			return 0
		}
		raw := t.Value(i, column)
		if raw == "" {
			parseErr = &RowError{Line: t.lines[i], Column: column, Err: errEmptyCell}
			return 0
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			parseErr = &RowError{Line: t.lines[i], Column: column, Value: raw, Err: err}
			return 0
		}
		return v
	}

	name := t.Value(i, "name")
	pitch := number("pitch")
	req := queue.ScanRequest{
		Label:  name,
		XStart: number("xstart"),
		XStop:  number("xstop"),
		XPitch: pitch,
		YStart: number("ystart"),
		YStop:  number("ystop"),
		YPitch: pitch,
		Dwell:  number("dwell"),
		Sample: scan.SampleMetadata{
			Name:   name,
			Info:   t.Value(i, "info"),
			Owner:  t.Value(i, "owner"),
			Serial: t.Value(i, "serial"),
			Type:   t.Value(i, "type"),
		},
		Scan:  scan.ScanMetadata{Region: t.Value(i, columnRegion)},
		Group: t.Value(i, columnGroup),
	}
	if parseErr != nil {
		return queue.ScanRequest{}, parseErr
	}
	if name == "" {
		return queue.ScanRequest{}, &RowError{Line: t.lines[i], Column: "name", Err: errEmptyCell}
	}
	return req, nil
}
