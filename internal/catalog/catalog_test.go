package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/resilience"
	"github.com/sells-group/insight-cli/pkg/powerbi"
	"github.com/sells-group/insight-cli/pkg/warehouse"
)

func src(id, ws string) model.SourceDescriptor {
	p, _, _ := SplitID(id)
	return model.SourceDescriptor{ID: id, Name: id, WorkspaceID: ws, Provider: p}
}

func TestSplitID(t *testing.T) {
	p, n, ok := SplitID("powerbi:abc:def")
	require.True(t, ok)
	assert.Equal(t, "powerbi", p)
	assert.Equal(t, "abc:def", n)

	for _, bad := range []string{"", "nocolon", ":x", "x:"} {
		_, _, ok := SplitID(bad)
		assert.False(t, ok, bad)
	}
	assert.Equal(t, "warehouse:public.orders", SourceID("warehouse", "public.orders"))
}

func TestRouter_ListSources_MergesAndSorts(t *testing.T) {
	a := &fakeConnector{provider: "b", sources: []model.SourceDescriptor{src("b:2", "w"), src("b:1", "w")}}
	b := &fakeConnector{provider: "a", sources: []model.SourceDescriptor{src("a:9", "w")}}
	r := NewRouter([]Connector{a, b})

	got, err := r.ListSources(context.Background(), "")
	require.NoError(t, err)
	ids := make([]string, len(got))
	for i, s := range got {
		ids[i] = s.ID
	}
	assert.Equal(t, []string{"a:9", "b:1", "b:2"}, ids)
	assert.Equal(t, []string{"b", "a"}, r.Providers())
}

func TestRouter_ListSources_PartialFailure(t *testing.T) {
	ok := &fakeConnector{provider: "ok", sources: []model.SourceDescriptor{src("ok:1", "")}}
	bad := &fakeConnector{provider: "bad", listErr: errors.New("down")}
	r := NewRouter([]Connector{ok, bad}, WithRefresh(time.Minute))

	got, err := r.ListSources(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	// Partial listings are not cached.
	_, err = r.ListSources(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int32(2), ok.lists.Load())
}

func TestRouter_ListSources_AllFailed(t *testing.T) {
	bad := &fakeConnector{provider: "bad", listErr: errors.New("down")}
	r := NewRouter([]Connector{bad})

	_, err := r.ListSources(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoConnectors))
}

func TestRouter_ListSources_StaticSurvivesFailure(t *testing.T) {
	bad := &fakeConnector{provider: "bad", listErr: errors.New("down")}
	static := []model.SourceDescriptor{src("file:sales", "ws1"), src("file:hr", "ws2")}
	r := NewRouter([]Connector{bad}, WithStaticSources(static))

	got, err := r.ListSources(context.Background(), "ws1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "file:sales", got[0].ID)
}

func TestRouter_ListSources_SnapshotCached(t *testing.T) {
	c := &fakeConnector{provider: "p", sources: []model.SourceDescriptor{src("p:1", "")}}
	r := NewRouter([]Connector{c}, WithRefresh(time.Minute))

	first, err := r.ListSources(context.Background(), "")
	require.NoError(t, err)
	first[0].Name = "mutated"

	second, err := r.ListSources(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int32(1), c.lists.Load())
	assert.Equal(t, "p:1", second[0].Name)

	r.Invalidate()
	_, err = r.ListSources(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int32(2), c.lists.Load())
}

func TestRouter_RunQuery_Routes(t *testing.T) {
	rows := &model.RowSet{Columns: []string{"n"}, Rows: [][]any{{int64(1)}}}
	a := &fakeConnector{provider: "a", rows: rows}
	b := &fakeConnector{provider: "b"}
	r := NewRouter([]Connector{a, b})

	got, err := r.RunQuery(context.Background(), "a:dataset-1", "EVALUATE x")
	require.NoError(t, err)
	assert.Equal(t, rows, got)
	assert.Equal(t, "dataset-1", a.lastID.Load())
	assert.Equal(t, int32(0), b.queries.Load())
}

func TestRouter_RunQuery_UnknownSource(t *testing.T) {
	r := NewRouter([]Connector{&fakeConnector{provider: "a"}})

	_, err := r.RunQuery(context.Background(), "zzz:1", "q")
	assert.True(t, errors.Is(err, ErrUnknownSource))

	_, err = r.RunQuery(context.Background(), "malformed", "q")
	assert.True(t, errors.Is(err, ErrUnknownSource))
}

func TestRouter_RunQuery_BreakerOpens(t *testing.T) {
	c := &fakeConnector{provider: "a", queryErr: errors.New("boom")}
	sb := resilience.NewServiceBreakers(resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})
	r := NewRouter([]Connector{c}, WithBreakers(sb))

	for range 2 {
		_, err := r.RunQuery(context.Background(), "a:1", "q")
		require.Error(t, err)
	}
	_, err := r.RunQuery(context.Background(), "a:1", "q")
	assert.True(t, errors.Is(err, resilience.ErrCircuitOpen))
	assert.Equal(t, int32(2), c.queries.Load())

	snaps := r.Breakers()
	require.Len(t, snaps, 1)
	assert.Equal(t, "a", snaps[0].Name)
	assert.Equal(t, resilience.CircuitOpen, snaps[0].State)
}

func TestParseFile(t *testing.T) {
	doc := []byte(`
sources:
  - id: powerbi:ds-1
    name: Sales Model
    workspace_id: g1
    fields: [Product, Sales Amount]
  - id: warehouse:public.orders
`)
	got, err := ParseFile(doc)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "powerbi", got[0].Provider)
	assert.Equal(t, model.DialectDAX, got[0].Dialect)
	assert.Equal(t, []string{"Product", "Sales Amount"}, got[0].Fields)
	assert.Equal(t, "warehouse:public.orders", got[1].Name)
	assert.Equal(t, model.DialectSQL, got[1].Dialect)
}

func TestParseFile_Invalid(t *testing.T) {
	tests := map[string]string{
		"malformed id":  "sources:\n  - id: nocolon\n",
		"duplicate":     "sources:\n  - id: a:1\n  - id: a:1\n",
		"provider skew": "sources:\n  - id: a:1\n    provider: b\n",
		"bad yaml":      "sources: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFile([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sources:\n  - id: a:1\n"), 0o600))

	got, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestPowerBI_ListSources(t *testing.T) {
	client := &fakePowerBI{
		groups: []powerbi.Group{{ID: "g1", Name: "Sales"}, {ID: "g2", Name: "HR"}},
		datasets: map[string][]powerbi.Dataset{
			"g1": {{ID: "d1", Name: "Sales Model"}},
			"g2": {{ID: "d2", Name: "People"}},
		},
	}

	all, err := NewPowerBI(client, nil).ListSources(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "powerbi:d1", all[0].ID)
	assert.Equal(t, "Sales", all[0].WorkspaceName)
	assert.Equal(t, model.DialectDAX, all[0].Dialect)

	scoped, err := NewPowerBI(client, nil).ListSources(context.Background(), "g2")
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "powerbi:d2", scoped[0].ID)

	limited, err := NewPowerBI(client, []string{"g1"}).ListSources(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "g1", limited[0].WorkspaceID)
}

func TestPowerBI_RunQuery(t *testing.T) {
	client := &fakePowerBI{result: &powerbi.QueryResult{Columns: []string{"Product"}, Rows: [][]any{{"A"}}}}
	rows, err := NewPowerBI(client, nil).RunQuery(context.Background(), "d1", "EVALUATE x")
	require.NoError(t, err)
	assert.Equal(t, []string{"Product"}, rows.Columns)
	assert.Equal(t, 1, rows.Len())
}

func TestPowerBI_TransientStatus(t *testing.T) {
	client := &fakePowerBI{err: &powerbi.StatusError{StatusCode: 429, Body: "slow down", RetryAfter: 2 * time.Second}}
	_, err := NewPowerBI(client, nil).RunQuery(context.Background(), "d1", "q")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, 2*time.Second, resilience.RetryAfter(err))

	client.err = &powerbi.StatusError{StatusCode: 400, Body: "bad dax"}
	_, err = NewPowerBI(client, nil).RunQuery(context.Background(), "d1", "q")
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}

func TestWarehouse_Connector(t *testing.T) {
	client := &fakeWarehouse{
		schema: "public",
		tables: []warehouse.Table{{Schema: "public", Name: "orders", Columns: []string{"id", "amount"}}},
		result: &warehouse.Result{Columns: []string{"amount"}, Rows: [][]any{{12.5}}},
	}
	w := NewWarehouse("", client)
	assert.Equal(t, "warehouse", w.Provider())

	got, err := w.ListSources(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "warehouse:public.orders", got[0].ID)
	assert.Equal(t, []string{"id", "amount"}, got[0].Fields)
	assert.Equal(t, model.DialectSQL, got[0].Dialect)

	none, err := w.ListSources(context.Background(), "other")
	require.NoError(t, err)
	assert.Empty(t, none)

	rows, err := w.RunQuery(context.Background(), "public.orders", "SELECT amount FROM orders")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{12.5}}, rows.Rows)
}
