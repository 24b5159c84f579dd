package testutil

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/formulary/internal/formula"
)

// Builder accumulates sales and inserts them in order.
type Builder struct {
	t     *testing.T
	db    *sql.DB
	sales []saleData
}

// NewBuilder creates a builder for a database created by NewTestDB.
func NewBuilder(t *testing.T, db *sql.DB) *Builder {
	t.Helper()
	return &Builder{t: t, db: db}
}

// WithSale adds one sale.
func (b *Builder) WithSale(product string, opts ...SaleOption) *Builder {
	s := defaultSale(product)
	for _, opt := range opts {
		opt(&s)
	}
	b.sales = append(b.sales, s)
	return b
}

// Build inserts every accumulated sale.
func (b *Builder) Build() {
	b.t.Helper()
	for _, s := range b.sales {
		_, err := b.db.Exec(
			`INSERT INTO sales (region, product, amount, qty, note) VALUES (?, ?, ?, ?, ?)`,
			s.region, s.product, s.amount, s.qty, s.note,
		)
		require.NoError(b.t, err)
	}
}

// Rows builds formula rows from alternating column/value pairs, one call per
// row. Values go through formula.FromAny.
type Rows struct {
	rows []formula.Row
}

// NewRows starts an empty row set.
func NewRows() *Rows {
	return &Rows{}
}

// Row appends a row. A trailing column without a value is stored as null.
func (r *Rows) Row(kv ...any) *Rows {
	row := make(formula.Row, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		col, _ := kv[i].(string)
		var v any
		if i+1 < len(kv) {
			v = kv[i+1]
		}
		row[col] = formula.FromAny(v)
	}
	r.rows = append(r.rows, row)
	return r
}

// Build returns the accumulated rows.
func (r *Rows) Build() []formula.Row {
	return r.rows
}
