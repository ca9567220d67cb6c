package powerbi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(ts *httptest.Server) Client {
	return NewClient(Credentials{}, WithBaseURL(ts.URL), WithHTTPClient(ts.Client()), WithRateLimit(0, 0))
}

func TestListGroups(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/groups", r.URL.Path)
		w.Write([]byte(`{"value":[{"id":"g1","name":"Sales"},{"id":"g2","name":"Finance"}]}`)) //nolint:errcheck
	}))
	defer ts.Close()

	groups, err := newTestClient(ts).ListGroups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, Group{ID: "g1", Name: "Sales"}, groups[0])
}

func TestListDatasets(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/groups/g1/datasets", r.URL.Path)
		w.Write([]byte(`{"value":[{"id":"d1","name":"Sales Model","configuredBy":"bi@corp","isRefreshable":true}]}`)) //nolint:errcheck
	}))
	defer ts.Close()

	ds, err := newTestClient(ts).ListDatasets(context.Background(), "g1")
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, "Sales Model", ds[0].Name)
	assert.True(t, ds[0].IsRefreshable)
}

func TestExecuteQuery_PreservesColumnOrder(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/datasets/d1/executeQueries", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		queries := body["queries"].([]any)
		assert.Equal(t, "EVALUATE Sales", queries[0].(map[string]any)["query"])

		w.Write([]byte(`{"results":[{"tables":[{"rows":[` + //nolint:errcheck
			`{"Sales[Product]":"Widget","[Total Sales]":1200.5,"Sales[Units]":10},` +
			`{"Sales[Product]":"Gadget","[Total Sales]":900,"Sales[Units]":null}` +
			`]}]}]}`))
	}))
	defer ts.Close()

	res, err := newTestClient(ts).ExecuteQuery(context.Background(), "d1", "EVALUATE Sales")
	require.NoError(t, err)
	assert.Equal(t, []string{"Product", "Total Sales", "Units"}, res.Columns)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, []any{"Widget", 1200.5, int64(10)}, res.Rows[0])
	assert.Equal(t, []any{"Gadget", int64(900), nil}, res.Rows[1])
}

func TestExecuteQuery_QueryError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"results":[{"error":{"code":"DAXQueryFailure","message":"bad syntax"}}]}`)) //nolint:errcheck
	}))
	defer ts.Close()

	_, err := newTestClient(ts).ExecuteQuery(context.Background(), "d1", "EVALUATE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DAXQueryFailure")
}

func TestExecuteQuery_StatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":"TooManyRequests"}}`)) //nolint:errcheck
	}))
	defer ts.Close()

	_, err := newTestClient(ts).ExecuteQuery(context.Background(), "d1", "EVALUATE Sales")
	require.Error(t, err)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.Equal(t, 7*time.Second, se.RetryAfter)
}

func TestExecuteQuery_EmptyResults(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"results":[{"tables":[]}]}`)) //nolint:errcheck
	}))
	defer ts.Close()

	res, err := newTestClient(ts).ExecuteQuery(context.Background(), "d1", "EVALUATE Sales")
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
}

func TestClientCredentialsFlow(t *testing.T) {
	tokens := 0
	var authHeader string
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokens++
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-123","token_type":"Bearer","expires_in":3600}`)) //nolint:errcheck
	})
	mux.HandleFunc("/api/groups", func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		w.Write([]byte(`{"value":[]}`)) //nolint:errcheck
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := NewClient(Credentials{
		ClientID:     "cid",
		ClientSecret: "secret",
		TokenURL:     ts.URL + "/token",
	}, WithBaseURL(ts.URL+"/api"))

	_, err := c.ListGroups(context.Background())
	require.NoError(t, err)
	_, err = c.ListGroups(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok-123", authHeader)
	assert.Equal(t, 1, tokens)
}

func TestColumnName(t *testing.T) {
	assert.Equal(t, "Product", ColumnName("Sales[Product]"))
	assert.Equal(t, "Total Sales", ColumnName("[Total Sales]"))
	assert.Equal(t, "plain", ColumnName("plain"))
}

func TestTableToResult_DuplicateNames(t *testing.T) {
	res := tableToResult([]orderedRow{{
		{Key: "Sales[Amount]", Value: 1.0},
		{Key: "Cost[Amount]", Value: 2.0},
	}})
	assert.Equal(t, []string{"Amount", "Cost[Amount]"}, res.Columns)
}

func TestTokenURL(t *testing.T) {
	assert.Equal(t, "https://login.microsoftonline.com/tenant-1/oauth2/v2.0/token", TokenURL("", "tenant-1"))
	assert.Equal(t, "https://login.example.com/t/oauth2/v2.0/token", TokenURL("https://login.example.com/", "t"))
}
