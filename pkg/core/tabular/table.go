// Package tabular reads and writes the semicolon-delimited text files used by
// the ANS portal and by the pipeline's own hand-off files.
//
// Government files arrive in Latin-1; files produced by the pipeline are UTF-8
// with a byte-order mark so spreadsheet tools pick the right encoding.
package tabular

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Comma is the field delimiter of every file this package handles.
const Comma = ';'

// Encoding selects how bytes are decoded into text.
type Encoding int

const (
	Latin1 Encoding = iota
	UTF8
)

// Table is an in-memory tabular dataset with all values kept as text.
type Table struct {
	Columns []string
	Rows    [][]string
	// Skipped counts malformed rows dropped while reading.
	Skipped int

	index map[string]int
}

// NewTable builds a table from a header and rows.
func NewTable(columns []string, rows [][]string) *Table {
	t := &Table{Columns: columns, Rows: rows}
	t.reindex()
	return t
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		if _, dup := t.index[c]; !dup {
			t.index[c] = i
		}
	}
}

// NormalizeHeaders uppercases and trims column names in place.
func (t *Table) NormalizeHeaders() {
	for i, c := range t.Columns {
		c = strings.TrimPrefix(c, "\ufeff")
		c = strings.Trim(strings.TrimSpace(c), `"`)
		t.Columns[i] = strings.ToUpper(strings.TrimSpace(c))
	}
	t.reindex()
}

// Has reports whether the table has column name.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Index returns the position of column name, or -1.
func (t *Table) Index(name string) int {
	if i, ok := t.index[name]; ok {
		return i
	}
	return -1
}

// Get returns the value of column name in row, or "" when the column is absent.
func (t *Table) Get(row []string, name string) string {
	i := t.Index(name)
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// Len is the number of data rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

func decoder(enc Encoding) *encoding.Decoder {
	if enc == Latin1 {
		return charmap.ISO8859_1.NewDecoder()
	}
	return unicode.UTF8.NewDecoder()
}

// Read parses a delimited stream. The first record is the header. Rows with more
// fields than the header or with broken quoting are skipped and counted; short
// rows are padded with empty values.
func Read(r io.Reader, enc Encoding) (*Table, error) {
	var tr transform.Transformer = decoder(enc)
	if enc == UTF8 {
		tr = unicode.BOMOverride(tr)
	}
	cr := csv.NewReader(transform.NewReader(r, tr))
	cr.Comma = Comma
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, eris.New("tabular: empty input")
		}
		return nil, eris.Wrap(err, "tabular: read header")
	}

	t := &Table{Columns: header}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				t.Skipped++
				continue
			}
			return nil, eris.Wrap(err, "tabular: read row")
		}
		if len(rec) > len(header) {
			t.Skipped++
			continue
		}
		for len(rec) < len(header) {
			rec = append(rec, "")
		}
		t.Rows = append(t.Rows, rec)
	}
	t.reindex()
	return t, nil
}

// ReadFile opens path and parses it with Read.
func ReadFile(path string, enc Encoding) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tabular: open %s", path)
	}
	defer f.Close()
	return Read(f, enc)
}

// Write encodes header and rows as UTF-8 with a byte-order mark.
func Write(w io.Writer, header []string, rows [][]string) error {
	enc := transform.NewWriter(w, unicode.UTF8BOM.NewEncoder())
	cw := csv.NewWriter(enc)
	cw.Comma = Comma
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "tabular: write header")
	}
	if err := cw.WriteAll(rows); err != nil {
		return eris.Wrap(err, "tabular: write rows")
	}
	if err := enc.Close(); err != nil {
		return eris.Wrap(err, "tabular: flush encoder")
	}
	return nil
}

// WriteFile creates (or truncates) path and writes the table to it.
func WriteFile(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "tabular: create %s", path)
	}
	if err := Write(f, header, rows); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "tabular: close %s", path)
	}
	return nil
}
