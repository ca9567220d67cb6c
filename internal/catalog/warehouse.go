package catalog

import (
	"context"

	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/pkg/warehouse"
)

// WarehouseClient is the subset of warehouse.Client the connector uses.
type WarehouseClient interface {
	Schema() string
	ListTables(ctx context.Context) ([]warehouse.Table, error)
	Query(ctx context.Context, sql string) (*warehouse.Result, error)
}

// Warehouse exposes warehouse tables as sources queried with SQL.
type Warehouse struct {
	name   string
	client WarehouseClient
}

// NewWarehouse creates a connector registered under name.
func NewWarehouse(name string, client WarehouseClient) *Warehouse {
	if name == "" {
		name = "warehouse"
	}
	return &Warehouse{name: name, client: client}
}

// Provider implements Connector.
func (w *Warehouse) Provider() string { return w.name }

// ListSources implements Connector. Scope matches the schema name.
func (w *Warehouse) ListSources(ctx context.Context, scope string) ([]model.SourceDescriptor, error) {
	if scope != "" && scope != w.client.Schema() {
		return nil, nil
	}
	tables, err := w.client.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.SourceDescriptor, 0, len(tables))
	for _, t := range tables {
		out = append(out, model.SourceDescriptor{
			ID:            SourceID(w.name, t.Schema+"."+t.Name),
			Name:          t.Name,
			WorkspaceID:   t.Schema,
			WorkspaceName: t.Schema,
			Provider:      w.name,
			Dialect:       model.DialectSQL,
			Fields:        t.Columns,
		})
	}
	return out, nil
}

// RunQuery implements Connector. The table id is informational; the query
// names its own tables.
func (w *Warehouse) RunQuery(ctx context.Context, _ string, query string) (*model.RowSet, error) {
	res, err := w.client.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return &model.RowSet{Columns: res.Columns, Rows: res.Rows}, nil
}
