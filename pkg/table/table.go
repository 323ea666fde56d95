// Package table holds the small in-memory tables exported by the compute
// service and the operations applied to them before they are written out:
// column dropping and selection, row-wise concatenation, CSV and XLSX
// serialization.
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// System columns added by the compute service to every exported table.
const (
	ColumnSystemIndex = "system:index"
	ColumnGeometry    = ".geo"
)

// SystemColumns are dropped from every retrieved table.
var SystemColumns = []string{ColumnSystemIndex, ColumnGeometry}

// Table is a header plus rows of string cells. Every row has exactly
// len(Columns) cells.
type Table struct {
	Columns []string
	Rows    [][]string
}

// New returns an empty table with the given columns.
func New(columns ...string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Empty reports whether the table has no rows.
func (t *Table) Empty() bool {
	return t.Len() == 0
}

// Index returns the position of column, or -1.
func (t *Table) Index(column string) int {
	for i, c := range t.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

// Column returns the values of column, or nil if absent.
func (t *Table) Column(column string) []string {
	idx := t.Index(column)
	if idx < 0 {
		return nil
	}
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out
}

// ReadCSV parses a CSV document with a header row. Short rows are padded
// and long rows rejected.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = trimBOM(header[0])
	}

	t := New(header...)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", line, err)
		}
		if len(rec) > len(header) {
			return nil, fmt.Errorf("csv row %d has %d fields, header has %d", line, len(rec), len(header))
		}
		for len(rec) < len(header) {
			rec = append(rec, "")
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

// ReadCSVFile reads the CSV table at path.
func ReadCSVFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return ReadCSV(f)
}

// WriteCSV writes the header and rows to w.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if len(t.Columns) > 0 {
		if err := cw.Write(t.Columns); err != nil {
			return err
		}
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}

// WriteCSVFile writes the table to path via a temp file and rename.
func (t *Table) WriteCSVFile(path string) error {
	return writeAtomic(path, t.WriteCSV)
}

// DropColumns returns a copy without the named columns. Absent names are
// ignored.
func (t *Table) DropColumns(names ...string) *Table {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	keep := make([]int, 0, len(t.Columns))
	for i, c := range t.Columns {
		if _, ok := drop[c]; !ok {
			keep = append(keep, i)
		}
	}
	return t.project(keep)
}

// SelectColumns returns a copy holding the columns matching any of the
// patterns, in original column order. Patterns use doublestar syntax, so
// "MEAN_*" keeps every MEAN_ column. Invalid patterns are an error.
func (t *Table) SelectColumns(patterns ...string) (*Table, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid column pattern %q", p)
		}
	}
	keep := make([]int, 0, len(t.Columns))
	for i, c := range t.Columns {
		for _, p := range patterns {
			if ok, _ := doublestar.Match(p, c); ok {
				keep = append(keep, i)
				break
			}
		}
	}
	return t.project(keep), nil
}

func (t *Table) project(idx []int) *Table {
	out := &Table{Columns: make([]string, len(idx)), Rows: make([][]string, len(t.Rows))}
	for j, i := range idx {
		out.Columns[j] = t.Columns[i]
	}
	for r, row := range t.Rows {
		nr := make([]string, len(idx))
		for j, i := range idx {
			nr[j] = row[i]
		}
		out.Rows[r] = nr
	}
	return out
}

// Concat stacks tables row-wise. The result has the union of all columns
// in first-seen order; cells of columns a table lacks are empty. Nil
// tables are skipped.
func Concat(tables ...*Table) *Table {
	out := New()
	pos := map[string]int{}
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, c := range t.Columns {
			if _, ok := pos[c]; !ok {
				pos[c] = len(out.Columns)
				out.Columns = append(out.Columns, c)
			}
		}
	}
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, row := range t.Rows {
			nr := make([]string, len(out.Columns))
			for i, c := range t.Columns {
				nr[pos[c]] = row[i]
			}
			out.Rows = append(out.Rows, nr)
		}
	}
	return out
}

func writeAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func trimBOM(s string) string {
	const bom = "\uFEFF"
	if len(s) >= len(bom) && s[:len(bom)] == bom {
		return s[len(bom):]
	}
	return s
}
