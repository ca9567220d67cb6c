package catalog

import (
	"context"
	"sync/atomic"

	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/pkg/powerbi"
	"github.com/sells-group/insight-cli/pkg/warehouse"
)

// fakeConnector is a scripted Connector.
type fakeConnector struct {
	provider string
	sources  []model.SourceDescriptor
	listErr  error
	rows     *model.RowSet
	queryErr error

	lists   atomic.Int32
	queries atomic.Int32
	lastID  atomic.Value
}

func (f *fakeConnector) Provider() string { return f.provider }

func (f *fakeConnector) ListSources(_ context.Context, scope string) ([]model.SourceDescriptor, error) {
	f.lists.Add(1)
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.SourceDescriptor
	for _, s := range f.sources {
		if scope == "" || s.WorkspaceID == scope {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeConnector) RunQuery(_ context.Context, nativeID, _ string) (*model.RowSet, error) {
	f.queries.Add(1)
	f.lastID.Store(nativeID)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.rows, nil
}

// fakePowerBI implements powerbi.Client.
type fakePowerBI struct {
	groups   []powerbi.Group
	datasets map[string][]powerbi.Dataset
	result   *powerbi.QueryResult
	err      error
}

func (f *fakePowerBI) ListGroups(context.Context) ([]powerbi.Group, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.groups, nil
}

func (f *fakePowerBI) ListDatasets(_ context.Context, groupID string) ([]powerbi.Dataset, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.datasets[groupID], nil
}

func (f *fakePowerBI) ExecuteQuery(context.Context, string, string) (*powerbi.QueryResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// fakeWarehouse implements WarehouseClient.
type fakeWarehouse struct {
	schema string
	tables []warehouse.Table
	result *warehouse.Result
	err    error
}

func (f *fakeWarehouse) Schema() string { return f.schema }

func (f *fakeWarehouse) ListTables(context.Context) ([]warehouse.Table, error) {
	return f.tables, f.err
}

func (f *fakeWarehouse) Query(context.Context, string) (*warehouse.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}
