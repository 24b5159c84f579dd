package formula

import (
	"sort"
	"strings"
)

// Row maps column names to cell values.
type Row map[string]Value

// Clone returns a shallow copy; Values are immutable so this is a full copy in practice.
func (r Row) Clone() Row {
	out := make(Row, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Columns lists the row's column names in sorted order.
func (r Row) Columns() []string {
	cols := make([]string, 0, len(r))
	for k := range r {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// RowsFromAny converts generic decoded records into rows.
func RowsFromAny(records []map[string]any) []Row {
	rows := make([]Row, len(records))
	for i, rec := range records {
		row := make(Row, len(rec))
		for k, v := range rec {
			row[k] = FromAny(v)
		}
		rows[i] = row
	}
	return rows
}

// Params maps parameter names to values.
type Params map[string]Value

// Has reports whether name was supplied with a non-null value.
func (p Params) Has(name string) bool {
	v, ok := p[name]
	return ok && !v.IsNull()
}

// Get returns the value for name, or null.
func (p Params) Get(name string) Value {
	return p[name]
}

// Text returns the parameter as text, or fallback when it is absent or null.
func (p Params) Text(name, fallback string) string {
	if !p.Has(name) {
		return fallback
	}
	return p[name].Text()
}

// Bool returns the parameter's truthiness, or fallback when absent.
func (p Params) Bool(name string, fallback bool) bool {
	if !p.Has(name) {
		return fallback
	}
	return p[name].Truthy()
}

// Column returns a non-empty column name parameter.
func (p Params) Column(name string) (string, bool) {
	col := strings.TrimSpace(p.Text(name, ""))
	return col, col != ""
}

// Columns returns a list of column names. Both a seq of strings and a
// comma-separated string are accepted; blanks are skipped.
func (p Params) Columns(name string) ([]string, bool) {
	if !p.Has(name) {
		return nil, false
	}
	v := p[name]
	var raw []string
	if items, ok := v.AsSeq(); ok {
		for _, item := range items {
			raw = append(raw, item.Text())
		}
	} else {
		raw = strings.Split(v.Text(), ",")
	}
	cols := make([]string, 0, len(raw))
	for _, c := range raw {
		if c = strings.TrimSpace(c); c != "" {
			cols = append(cols, c)
		}
	}
	return cols, len(cols) > 0
}

// Clone copies the parameter map.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
