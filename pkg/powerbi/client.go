// Package powerbi is a minimal Power BI REST client covering workspace and
// dataset discovery and DAX query execution.
package powerbi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL   = "https://api.powerbi.com/v1.0/myorg"
	defaultAuthority = "https://login.microsoftonline.com"
	defaultScope     = "https://analysis.windows.net/powerbi/api/.default"
)

// Client defines the Power BI operations used by the catalog.
type Client interface {
	ListGroups(ctx context.Context) ([]Group, error)
	ListDatasets(ctx context.Context, groupID string) ([]Dataset, error)
	ExecuteQuery(ctx context.Context, datasetID, dax string) (*QueryResult, error)
}

// Group is a Power BI workspace.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Dataset is a semantic model inside a workspace.
type Dataset struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ConfiguredBy  string `json:"configuredBy"`
	IsRefreshable bool   `json:"isRefreshable"`
}

// QueryResult is the first table of an executeQueries response with
// column order preserved.
type QueryResult struct {
	Columns []string
	Rows    [][]any
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
	// RetryAfter is parsed from the Retry-After header when it holds seconds.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("powerbi: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Credentials identify a service principal.
type Credentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// TokenURL overrides the token endpoint derived from the authority and tenant.
	TokenURL string
	Scope    string
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient replaces the OAuth2 HTTP client. Requests are sent as-is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit throttles API calls. A non-positive rps disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
		} else {
			c.limiter = nil
		}
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a Power BI client authenticating with client credentials.
func NewClient(creds Credentials, opts ...Option) Client {
	tokenURL := creds.TokenURL
	if tokenURL == "" {
		tokenURL = TokenURL(defaultAuthority, creds.TenantID)
	}
	scope := creds.Scope
	if scope == "" {
		scope = defaultScope
	}
	cc := &clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{scope},
	}

	hc := cc.Client(context.Background())
	hc.Timeout = 60 * time.Second

	c := &httpClient{
		baseURL: defaultBaseURL,
		http:    hc,
		limiter: rate.NewLimiter(2, 4),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// TokenURL builds the Microsoft identity token endpoint for a tenant.
func TokenURL(authority, tenantID string) string {
	if authority == "" {
		authority = defaultAuthority
	}
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", strings.TrimRight(authority, "/"), tenantID)
}

func (c *httpClient) ListGroups(ctx context.Context) ([]Group, error) {
	var out struct {
		Value []Group `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, "/groups", nil, &out); err != nil {
		return nil, eris.Wrap(err, "powerbi: list groups")
	}
	return out.Value, nil
}

func (c *httpClient) ListDatasets(ctx context.Context, groupID string) ([]Dataset, error) {
	var out struct {
		Value []Dataset `json:"value"`
	}
	path := "/groups/" + url.PathEscape(groupID) + "/datasets"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, eris.Wrapf(err, "powerbi: list datasets in %s", groupID)
	}
	return out.Value, nil
}

type executeQueriesRequest struct {
	Queries            []queryItem        `json:"queries"`
	SerializerSettings serializerSettings `json:"serializerSettings"`
}

type queryItem struct {
	Query string `json:"query"`
}

type serializerSettings struct {
	IncludeNulls bool `json:"includeNulls"`
}

type executeQueriesResponse struct {
	Results []struct {
		Tables []struct {
			Rows []orderedRow `json:"rows"`
		} `json:"tables"`
		Error *apiError `json:"error,omitempty"`
	} `json:"results"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *httpClient) ExecuteQuery(ctx context.Context, datasetID, dax string) (*QueryResult, error) {
	req := executeQueriesRequest{
		Queries:            []queryItem{{Query: dax}},
		SerializerSettings: serializerSettings{IncludeNulls: true},
	}

	var out executeQueriesResponse
	path := "/datasets/" + url.PathEscape(datasetID) + "/executeQueries"
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, eris.Wrapf(err, "powerbi: execute query on %s", datasetID)
	}
	if out.Error != nil {
		return nil, eris.Errorf("powerbi: query error %s: %s", out.Error.Code, out.Error.Message)
	}
	if len(out.Results) == 0 {
		return &QueryResult{}, nil
	}
	if e := out.Results[0].Error; e != nil {
		return nil, eris.Errorf("powerbi: query error %s: %s", e.Code, e.Message)
	}
	if len(out.Results[0].Tables) == 0 {
		return &QueryResult{}, nil
	}
	return tableToResult(out.Results[0].Tables[0].Rows), nil
}

func (c *httpClient) do(ctx context.Context, method, path string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "rate limit")
		}
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "marshal request")
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{
			StatusCode: resp.StatusCode,
			Body:       truncate(string(respBody), 512),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrap(err, "unmarshal response")
	}
	return nil
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
