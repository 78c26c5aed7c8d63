// Package table reads comma-separated lookup tables: a header row naming the
// columns followed by rows of primitive values, indexed by a key column.
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"geoweaver/internal/geoerr"
)

// Value is one cell. Conversion happens on access so a column can hold ints,
// floats or strings.
type Value string

func (v Value) String() string { return string(v) }

// Empty reports whether the cell was blank.
func (v Value) Empty() bool { return strings.TrimSpace(string(v)) == "" }

func (v Value) Float() (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
}

// Int parses the cell as an integer. Integral floats ("3.0") are accepted.
func (v Value) Int() (int64, error) {
	s := strings.TrimSpace(string(v))
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != float64(int64(f)) {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	return int64(f), nil
}

// Record maps column name to value.
type Record map[string]Value

// Table is a lookup keyed by one column. Column names are lower-cased.
type Table struct {
	Name    string
	Key     string
	Columns []string
	rows    map[string]Record
	order   []string
}

// ReadLookup opens path and indexes it by key. Every column in required must
// be present.
func ReadLookup(path, key string, required ...string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, geoerr.IO("table.ReadLookup", path, err)
	}
	defer f.Close()
	return ParseLookup(f, path, key, required...)
}

// ParseLookup reads a lookup table from r; name is used in diagnostics.
func ParseLookup(r io.Reader, name, key string, required ...string) (*Table, error) {
	const op = "table.ParseLookup"
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, geoerr.Inputf(op, name, "empty table")
	}
	if err != nil {
		return nil, geoerr.Inputf(op, name, "header: %v", err)
	}
	t := &Table{Name: name, Key: normalize(key), rows: map[string]Record{}}
	keyCol := -1
	for i, h := range header {
		h = normalize(h)
		t.Columns = append(t.Columns, h)
		if h == t.Key {
			keyCol = i
		}
	}
	if keyCol < 0 {
		return nil, geoerr.Inputf(op, name, "key column %q not found", key)
	}
	var missing []string
	for _, req := range required {
		if !t.HasColumn(req) {
			missing = append(missing, normalize(req))
		}
	}
	if len(missing) > 0 {
		return nil, geoerr.Inputf(op, name, "required columns missing: %s", strings.Join(missing, ", "))
	}
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, geoerr.Inputf(op, name, "line %d: %v", line, err)
		}
		if blank(row) {
			continue
		}
		if keyCol >= len(row) || strings.TrimSpace(row[keyCol]) == "" {
			return nil, geoerr.Inputf(op, name, "line %d: empty key", line)
		}
		k := strings.TrimSpace(row[keyCol])
		if _, dup := t.rows[k]; dup {
			return nil, geoerr.Inputf(op, name, "line %d: duplicate key %q", line, k)
		}
		rec := make(Record, len(t.Columns))
		for i, c := range t.Columns {
			if i < len(row) {
				rec[c] = Value(strings.TrimSpace(row[i]))
			} else {
				rec[c] = ""
			}
		}
		t.rows[k] = rec
		t.order = append(t.order, k)
	}
	return t, nil
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// HasColumn reports whether the table has column c (case-insensitive).
func (t *Table) HasColumn(c string) bool {
	c = normalize(c)
	for _, have := range t.Columns {
		if have == c {
			return true
		}
	}
	return false
}

// Len is the number of data rows.
func (t *Table) Len() int { return len(t.order) }

// Keys returns the keys in file order.
func (t *Table) Keys() []string { return append([]string(nil), t.order...) }

// Get returns the record for key.
func (t *Table) Get(key string) (Record, bool) {
	r, ok := t.rows[strings.TrimSpace(key)]
	return r, ok
}

// Float returns column col of row key as a number.
func (t *Table) Float(key, col string) (float64, error) {
	rec, ok := t.Get(key)
	if !ok {
		return 0, geoerr.Inputf("table.Float", t.Name, "no row %q", key)
	}
	v, ok := rec[normalize(col)]
	if !ok {
		return 0, geoerr.Inputf("table.Float", t.Name, "no column %q", col)
	}
	f, err := v.Float()
	if err != nil {
		return 0, geoerr.Inputf("table.Float", t.Name, "row %q column %q: %v", key, col, err)
	}
	return f, nil
}

// IntFloatMap returns the mapping integer key -> numeric column col. Used to
// build reclassification dictionaries.
func (t *Table) IntFloatMap(col string) (map[int64]float64, error) {
	const op = "table.IntFloatMap"
	col = normalize(col)
	if !t.HasColumn(col) {
		return nil, geoerr.Inputf(op, t.Name, "no column %q", col)
	}
	out := make(map[int64]float64, len(t.order))
	for _, k := range t.order {
		ik, err := Value(k).Int()
		if err != nil {
			return nil, geoerr.Inputf(op, t.Name, "key %q: %v", k, err)
		}
		v, err := t.rows[k][col].Float()
		if err != nil {
			return nil, geoerr.Inputf(op, t.Name, "row %q column %q: %v", k, col, err)
		}
		if _, dup := out[ik]; dup {
			return nil, geoerr.Inputf(op, t.Name, "key %q repeats integer %d", k, ik)
		}
		out[ik] = v
	}
	return out, nil
}
