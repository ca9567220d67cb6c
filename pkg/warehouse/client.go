// Package warehouse runs read-only SQL against a Postgres-compatible
// warehouse and describes its tables.
package warehouse

import (
	"context"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// ErrNotReadOnly is returned for statements other than a single SELECT/WITH.
var ErrNotReadOnly = eris.New("warehouse: only single read-only statements are allowed")

// Config configures the warehouse client.
type Config struct {
	URL     string `mapstructure:"url"`
	Schema  string `mapstructure:"schema"`
	MaxRows int    `mapstructure:"max_rows"`
}

// Table describes one table or view and its columns in ordinal order.
type Table struct {
	Schema  string
	Name    string
	Columns []string
}

// Result is a column-ordered row set.
type Result struct {
	Columns   []string
	Rows      [][]any
	Truncated bool
}

// pool defines the minimal database pool interface used by Client.
type pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// Client queries the warehouse.
type Client struct {
	pool    pool
	schema  string
	maxRows int
}

// New connects to the warehouse and verifies the connection.
func New(ctx context.Context, cfg Config) (*Client, error) {
	p, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: connect")
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, eris.Wrap(err, "warehouse: ping")
	}
	return newClient(p, cfg), nil
}

func newClient(p pool, cfg Config) *Client {
	schema := cfg.Schema
	if schema == "" {
		schema = "public"
	}
	maxRows := cfg.MaxRows
	if maxRows <= 0 {
		maxRows = 1000
	}
	return &Client{pool: p, schema: schema, maxRows: maxRows}
}

// Schema returns the schema the client describes.
func (c *Client) Schema() string { return c.schema }

const tablesQuery = `SELECT table_schema, table_name, column_name
FROM information_schema.columns
WHERE table_schema = $1
ORDER BY table_name, ordinal_position`

// ListTables returns the tables in the configured schema.
func (c *Client) ListTables(ctx context.Context) ([]Table, error) {
	rows, err := c.pool.Query(ctx, tablesQuery, c.schema)
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: list tables")
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var schema, table, column string
		if err := rows.Scan(&schema, &table, &column); err != nil {
			return nil, eris.Wrap(err, "warehouse: scan column")
		}
		if n := len(tables); n == 0 || tables[n-1].Name != table {
			tables = append(tables, Table{Schema: schema, Name: table})
		}
		last := &tables[len(tables)-1]
		last.Columns = append(last.Columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "warehouse: iterate columns")
	}
	return tables, nil
}

var readOnlyPrefix = regexp.MustCompile(`(?is)^\s*(select|with)\b`)

// Query runs a single read-only statement and returns at most MaxRows rows
// in the order the database returned them.
func (c *Client) Query(ctx context.Context, sql string) (*Result, error) {
	stmt := strings.TrimSuffix(strings.TrimSpace(sql), ";")
	if !readOnlyPrefix.MatchString(stmt) || strings.Contains(stmt, ";") {
		return nil, ErrNotReadOnly
	}

	rows, err := c.pool.Query(ctx, stmt)
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: query")
	}
	defer rows.Close()

	res := &Result{}
	for _, fd := range rows.FieldDescriptions() {
		res.Columns = append(res.Columns, fd.Name)
	}

	for rows.Next() {
		if len(res.Rows) >= c.maxRows {
			res.Truncated = true
			break
		}
		vals, err := rows.Values()
		if err != nil {
			return nil, eris.Wrap(err, "warehouse: read row")
		}
		for i, v := range vals {
			vals[i] = normalize(v)
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "warehouse: iterate rows")
	}
	return res, nil
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.pool.Ping(ctx); err != nil {
		return eris.Wrap(err, "warehouse: ping")
	}
	return nil
}

// Close releases the pool.
func (c *Client) Close() {
	c.pool.Close()
}

// normalize converts driver-specific values into plain Go scalars.
func normalize(v any) any {
	switch t := v.(type) {
	case pgtype.Numeric:
		f, err := t.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	case [16]byte:
		u := pgtype.UUID{Bytes: t, Valid: true}
		s, _ := u.Value()
		return s
	default:
		return v
	}
}
