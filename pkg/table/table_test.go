package table

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exported = "system:index,DATE,DGO_FID,MEAN_NDVI,MEAN_NDWI,.geo\n" +
	"0000,2020-01-01,1,0.42,-0.1,\"{\"\"type\"\":\"\"Point\"\"}\"\n" +
	"0001,2020-01-01,2,0.38,-0.2,\n"

func TestReadCSV(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader(exported))
	require.NoError(t, err)
	assert.Equal(t, []string{"system:index", "DATE", "DGO_FID", "MEAN_NDVI", "MEAN_NDWI", ".geo"}, tbl.Columns)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, `{"type":"Point"}`, tbl.Rows[0][5])
	assert.Equal(t, []string{"1", "2"}, tbl.Column("DGO_FID"))
	assert.Nil(t, tbl.Column("missing"))
}

func TestReadCSV_EmptyAndBOM(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.True(t, tbl.Empty())
	assert.Empty(t, tbl.Columns)

	tbl, err = ReadCSV(strings.NewReader("\uFEFFa,b\n1\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tbl.Columns)
	assert.Equal(t, [][]string{{"1", ""}}, tbl.Rows)

	_, err = ReadCSV(strings.NewReader("a\n1,2\n"))
	require.Error(t, err)
}

func TestDropColumns(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader(exported))
	require.NoError(t, err)

	clean := tbl.DropColumns(SystemColumns...)
	assert.Equal(t, []string{"DATE", "DGO_FID", "MEAN_NDVI", "MEAN_NDWI"}, clean.Columns)
	assert.Equal(t, []string{"2020-01-01", "1", "0.42", "-0.1"}, clean.Rows[0])

	// Source is untouched.
	assert.Len(t, tbl.Columns, 6)

	same := clean.DropColumns("nope")
	assert.Equal(t, clean.Columns, same.Columns)
}

func TestSelectColumns(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader(exported))
	require.NoError(t, err)

	sel, err := tbl.SelectColumns("DGO_FID", "MEAN_*")
	require.NoError(t, err)
	assert.Equal(t, []string{"DGO_FID", "MEAN_NDVI", "MEAN_NDWI"}, sel.Columns)
	assert.Equal(t, []string{"2", "0.38", "-0.2"}, sel.Rows[1])

	_, err = tbl.SelectColumns("[")
	require.Error(t, err)
}

func TestConcat_UnionOfColumnsInOrder(t *testing.T) {
	a := &Table{Columns: []string{"DATE", "X"}, Rows: [][]string{{"d1", "1"}}}
	b := &Table{Columns: []string{"DATE", "Y"}, Rows: [][]string{{"d2", "2"}, {"d3", "3"}}}

	out := Concat(a, nil, b)
	assert.Equal(t, []string{"DATE", "X", "Y"}, out.Columns)
	assert.Equal(t, [][]string{
		{"d1", "1", ""},
		{"d2", "", "2"},
		{"d3", "", "3"},
	}, out.Rows)

	empty := Concat()
	assert.True(t, empty.Empty())
	assert.Empty(t, empty.Columns)
}

func TestWriteCSVFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "metrics.csv")
	tbl := &Table{Columns: []string{"a", "b"}, Rows: [][]string{{"1", "x,y"}}}

	require.NoError(t, tbl.WriteCSVFile(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,\"x,y\"\n", string(raw))

	back, err := ReadCSVFile(path)
	require.NoError(t, err)
	assert.Equal(t, tbl.Rows, back.Rows)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteXLSX_RoundTrip(t *testing.T) {
	tbl := &Table{
		Columns: []string{"DATE", "DGO_FID", "MEAN_NDVI"},
		Rows: [][]string{
			{"2020-01-01", "1", "0.5"},
			{"2020-01-02", "2", ""},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, tbl.WriteXLSX(&buf, ""))

	back, err := ReadXLSX(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, tbl.Columns, back.Columns)
	assert.Equal(t, tbl.Rows, back.Rows)
}
