package warehouse

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockClient(t *testing.T, maxRows int) (*Client, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newClient(mock, Config{Schema: "analytics", MaxRows: maxRows}), mock
}

func TestListTables(t *testing.T) {
	c, mock := newMockClient(t, 0)

	mock.ExpectQuery("FROM information_schema.columns").
		WithArgs("analytics").
		WillReturnRows(pgxmock.NewRows([]string{"table_schema", "table_name", "column_name"}).
			AddRow("analytics", "orders", "order_date").
			AddRow("analytics", "orders", "revenue").
			AddRow("analytics", "customers", "name"))

	tables, err := c.ListTables(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, Table{Schema: "analytics", Name: "orders", Columns: []string{"order_date", "revenue"}}, tables[0])
	assert.Equal(t, "customers", tables[1].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListTables_Error(t *testing.T) {
	c, mock := newMockClient(t, 0)
	mock.ExpectQuery("information_schema").WillReturnError(errors.New("connection refused"))

	_, err := c.ListTables(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warehouse: list tables")
}

func TestQuery_PreservesOrder(t *testing.T) {
	c, mock := newMockClient(t, 0)
	day := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT product, total FROM sales`).
		WillReturnRows(pgxmock.NewRows([]string{"product", "total", "day"}).
			AddRow("Widget", 1200.0, day).
			AddRow("Gadget", 900.0, day))

	res, err := c.Query(context.Background(), "SELECT product, total FROM sales ORDER BY total DESC;")
	require.NoError(t, err)
	assert.Equal(t, []string{"product", "total", "day"}, res.Columns)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "Widget", res.Rows[0][0])
	assert.Equal(t, 900.0, res.Rows[1][1])
	assert.False(t, res.Truncated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_MaxRows(t *testing.T) {
	c, mock := newMockClient(t, 2)
	mock.ExpectQuery("SELECT").
		WillReturnRows(pgxmock.NewRows([]string{"n"}).AddRow(1).AddRow(2).AddRow(3))

	res, err := c.Query(context.Background(), "select n from t")
	require.NoError(t, err)
	assert.Len(t, res.Rows, 2)
	assert.True(t, res.Truncated)
}

func TestQuery_RejectsWrites(t *testing.T) {
	c, _ := newMockClient(t, 0)

	for _, q := range []string{
		"DELETE FROM sales",
		"SELECT 1; DROP TABLE sales",
		"update t set a = 1",
		"",
	} {
		_, err := c.Query(context.Background(), q)
		assert.ErrorIs(t, err, ErrNotReadOnly, q)
	}
}

func TestQuery_Error(t *testing.T) {
	c, mock := newMockClient(t, 0)
	mock.ExpectQuery("WITH").WillReturnError(errors.New(`column "x" does not exist`))

	_, err := c.Query(context.Background(), "WITH a AS (SELECT 1) SELECT x FROM a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warehouse: query")
}

func TestNormalize(t *testing.T) {
	n := pgtype.Numeric{Int: big.NewInt(12345), Exp: -2, Valid: true}
	assert.InDelta(t, 123.45, normalize(n), 0.0001)
	assert.Nil(t, normalize(pgtype.Numeric{}))
	assert.Equal(t, int64(7), normalize(int32(7)))
	assert.Equal(t, int64(3), normalize(int16(3)))
	assert.Equal(t, "x", normalize("x"))
	assert.Equal(t, "00000000-0000-0000-0000-000000000001", normalize([16]byte{15: 1}))
}

func TestPingAndClose(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	c := newClient(mock, Config{})
	assert.Equal(t, "public", c.Schema())

	mock.ExpectPing()
	require.NoError(t, c.Ping(context.Background()))

	mock.ExpectClose()
	c.Close()
	assert.NoError(t, mock.ExpectationsWereMet())
}
