// Package tabular reads delimited files into string-coerced columns.
package tabular

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
)

// Table is a column-oriented view of a delimited file
type Table struct {
	Columns []string            // Header names in file order
	Values  map[string][]string // Column name -> one value per row
	Rows    int
}

// Options controls parsing
type Options struct {
	Comma      rune // Field delimiter, ',' when zero
	TrimSpace  bool // Trim surrounding whitespace from every cell
	LazyQuotes bool
}

// DefaultOptions reads comma separated files and trims cells
func DefaultOptions() Options {
	return Options{Comma: ',', TrimSpace: true}
}

// ReadFile opens path and reads it with Read
func ReadFile(ctx context.Context, path string, opt Options) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return Read(ctx, f, opt)
}

// Read parses a header row followed by data rows. Short rows are padded
// with empty cells, long rows are truncated to the header width. Duplicate
// header names get a numeric suffix.
func Read(ctx context.Context, r io.Reader, opt Options) (*Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = opt.Comma
	if cr.Comma == 0 {
		cr.Comma = ','
	}
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	line := 1
	hdr, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("empty file: no header row")
	}
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}

	t := &Table{
		Columns: make([]string, len(hdr)),
		Values:  make(map[string][]string, len(hdr)),
	}
	names := make([]string, len(hdr))
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("column%d", i)
		}
		names[i] = h
	}
	// every original name is reserved so a suffixed duplicate never takes
	// the name of a later column
	taken := make(map[string]bool, len(names))
	for _, h := range names {
		taken[h] = true
	}
	used := make(map[string]bool, len(names))
	next := make(map[string]int, len(names))
	for i, h := range names {
		name := h
		if used[name] {
			for {
				next[h]++
				name = fmt.Sprintf("%s_%d", h, next[h])
				if !taken[name] {
					break
				}
			}
			taken[name] = true
		}
		used[name] = true
		t.Columns[i] = name
		t.Values[name] = nil
	}

	for {
		if line%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}

		for i, col := range t.Columns {
			var cell string
			if i < len(rec) {
				cell = rec[i]
			}
			if opt.TrimSpace {
				cell = strings.TrimSpace(cell)
			}
			t.Values[col] = append(t.Values[col], cell)
		}
		t.Rows++
	}
	return t, nil
}

// Distinct returns the distinct values of a column
func (t *Table) Distinct(column string) map[string]struct{} {
	values := t.Values[column]
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// Column returns the values of a column and whether it exists
func (t *Table) Column(name string) ([]string, bool) {
	v, ok := t.Values[name]
	return v, ok
}
