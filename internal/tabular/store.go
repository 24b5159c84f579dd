// Package tabular reads and writes formula rows in SQLite so the CLI can run
// formulas over stored tables.
package tabular

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/zjrosen/formulary/internal/formula"
	"github.com/zjrosen/formulary/internal/log"
)

// Store wraps a SQLite handle.
type Store struct {
	db *sql.DB
}

// Open opens the SQLite database at path; ":memory:" gives a private in-memory
// database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", formula.ErrStorage, path, err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: opening %s: %w", formula.ErrStorage, path, err)
	}
	return &Store{db: db}, nil
}

// New wraps an existing handle. Close closes it.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Query runs a SELECT and returns every row. NULL columns are present as null
// values.
func (s *Store) Query(ctx context.Context, query string, args ...any) ([]formula.Row, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", formula.ErrStorage, err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: reading columns: %w", formula.ErrStorage, err)
	}

	out := []formula.Row{}
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%w: scanning row: %w", formula.ErrStorage, err)
		}
		row := make(formula.Row, len(cols))
		for i, c := range cols {
			row[c] = formula.FromAny(raw[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating rows: %w", formula.ErrStorage, err)
	}
	log.Debug(log.CatTabular, "Query returned rows", "rows", len(out))
	return out, nil
}

// Exec runs a statement and returns the number of affected rows.
func (s *Store) Exec(ctx context.Context, stmt string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: exec: %w", formula.ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// Import writes rows into table inside one transaction, creating the table
// and any missing columns first. Columns are untyped so SQLite keeps each
// value's own type. Absent and null values both store NULL.
func (s *Store) Import(ctx context.Context, table string, rows []formula.Row) (int, error) {
	if strings.TrimSpace(table) == "" {
		return 0, fmt.Errorf("%w: table name is required", formula.ErrConfig)
	}
	cols := unionColumns(rows)
	if len(cols) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %w", formula.ErrStorage, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := ensureTable(ctx, tx, table, cols); err != nil {
		return 0, err
	}

	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
		marks[i] = "?"
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(quoted, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return 0, fmt.Errorf("%w: preparing insert: %w", formula.ErrStorage, err)
	}
	defer func() { _ = stmt.Close() }()

	for _, row := range rows {
		args := make([]any, len(cols))
		for i, c := range cols {
			args[i] = sqlValue(row[c])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("%w: inserting into %s: %w", formula.ErrStorage, table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %w", formula.ErrStorage, err)
	}
	log.Info(log.CatTabular, "Imported rows", "table", table, "rows", len(rows), "columns", len(cols))
	return len(rows), nil
}

// Export returns every row of table in rowid order.
func (s *Store) Export(ctx context.Context, table string) ([]formula.Row, error) {
	return s.Query(ctx, fmt.Sprintf("SELECT * FROM %s ORDER BY rowid", quoteIdent(table)))
}

// Tables lists user tables by name.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.Query(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(rows))
	for i, r := range rows {
		names[i] = r["name"].Text()
	}
	return names, nil
}

func ensureTable(ctx context.Context, tx *sql.Tx, table string, cols []string) error {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = quoteIdent(c)
	}
	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(table), strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("%w: creating %s: %w", formula.ErrStorage, table, err)
	}

	existing := map[string]bool{}
	info, err := tx.QueryContext(ctx, fmt.Sprintf("SELECT name FROM pragma_table_info(%s)", quoteLiteral(table)))
	if err != nil {
		return fmt.Errorf("%w: reading %s columns: %w", formula.ErrStorage, table, err)
	}
	for info.Next() {
		var name string
		if err := info.Scan(&name); err != nil {
			_ = info.Close()
			return fmt.Errorf("%w: reading %s columns: %w", formula.ErrStorage, table, err)
		}
		existing[name] = true
	}
	_ = info.Close()

	for _, c := range cols {
		if existing[c] {
			continue
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quoteIdent(table), quoteIdent(c))); err != nil {
			return fmt.Errorf("%w: adding column %s: %w", formula.ErrStorage, c, err)
		}
	}
	return nil
}

func unionColumns(rows []formula.Row) []string {
	seen := map[string]bool{}
	for _, r := range rows {
		for c := range r {
			seen[c] = true
		}
	}
	cols := make([]string, 0, len(seen))
	for c := range seen {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func sqlValue(v formula.Value) any {
	switch v.Kind() {
	case formula.KindNull:
		return nil
	case formula.KindSeq, formula.KindMap:
		return v.Text()
	default:
		return v.Any()
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `''`) + `'`
}
