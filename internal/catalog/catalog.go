// Package catalog routes source discovery and query execution across the
// configured data connectors. Source ids have the form "provider:native".
package catalog

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/insight-cli/internal/cache"
	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/resilience"
)

var (
	// ErrUnknownSource is returned when a source id names no connector.
	ErrUnknownSource = eris.New("catalog: unknown source")
	// ErrNoConnectors is returned when every connector failed to list.
	ErrNoConnectors = eris.New("catalog: no connector answered")
)

// Connector is one data provider (a BI service, a SQL warehouse).
type Connector interface {
	Provider() string
	ListSources(ctx context.Context, scope string) ([]model.SourceDescriptor, error)
	RunQuery(ctx context.Context, nativeID, query string) (*model.RowSet, error)
}

// SourceID joins a provider name and a provider-native id.
func SourceID(provider, native string) string {
	return provider + ":" + native
}

// SplitID separates a source id into provider and native id.
func SplitID(id string) (provider, native string, ok bool) {
	provider, native, ok = strings.Cut(id, ":")
	if !ok || provider == "" || native == "" {
		return "", "", false
	}
	return provider, native, true
}

// Router fans discovery out to all connectors and routes each query to the
// connector that owns the source.
type Router struct {
	connectors map[string]Connector
	order      []string
	static     []model.SourceDescriptor
	snapshots  *cache.TTL[[]model.SourceDescriptor]
	breakers   *resilience.ServiceBreakers
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithStaticSources adds descriptors from a catalog file. They are merged
// into every listing and win over connector descriptors with the same id.
func WithStaticSources(sources []model.SourceDescriptor) RouterOption {
	return func(r *Router) { r.static = sources }
}

// WithRefresh sets how long a listing is reused before connectors are asked
// again. Zero disables snapshot caching.
func WithRefresh(ttl time.Duration) RouterOption {
	return func(r *Router) {
		if ttl > 0 {
			r.snapshots = cache.New[[]model.SourceDescriptor](ttl)
		} else {
			r.snapshots = nil
		}
	}
}

// WithBreakers guards each provider with its own circuit breaker.
func WithBreakers(sb *resilience.ServiceBreakers) RouterOption {
	return func(r *Router) { r.breakers = sb }
}

// NewRouter creates a router over connectors.
func NewRouter(connectors []Connector, opts ...RouterOption) *Router {
	r := &Router{connectors: make(map[string]Connector, len(connectors))}
	for _, c := range connectors {
		if _, dup := r.connectors[c.Provider()]; dup {
			continue
		}
		r.connectors[c.Provider()] = c
		r.order = append(r.order, c.Provider())
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Providers returns the registered provider names in registration order.
func (r *Router) Providers() []string {
	return slices.Clone(r.order)
}

// ListSources returns the union of every connector's descriptors for scope,
// sorted by id. Connectors that fail are skipped; an error is returned only
// when no connector and no static source is available.
func (r *Router) ListSources(ctx context.Context, scope string) ([]model.SourceDescriptor, error) {
	if snap, ok := r.snapshots.Get(scope); ok {
		return slices.Clone(snap), nil
	}

	results := make([][]model.SourceDescriptor, len(r.order))
	errs := make([]error, len(r.order))

	g, gCtx := errgroup.WithContext(ctx)
	for i, name := range r.order {
		conn := r.connectors[name]
		g.Go(func() error {
			list, err := guardVal(gCtx, r.breaker(name), func(ctx context.Context) ([]model.SourceDescriptor, error) {
				return conn.ListSources(ctx, scope)
			})
			if err != nil {
				zap.L().Warn("catalog: connector listing failed",
					zap.String("provider", name),
					zap.String("scope", scope),
					zap.Error(err),
				)
				errs[i] = err
				return nil
			}
			results[i] = list
			return nil
		})
	}
	_ = g.Wait()

	byID := make(map[string]model.SourceDescriptor)
	failed := 0
	for i := range r.order {
		if errs[i] != nil {
			failed++
			continue
		}
		for _, s := range results[i] {
			byID[s.ID] = s
		}
	}
	for _, s := range r.static {
		if scope == "" || s.WorkspaceID == scope {
			byID[s.ID] = s
		}
	}

	if len(r.order) > 0 && failed == len(r.order) && len(r.static) == 0 {
		return nil, eris.Wrapf(ErrNoConnectors, "catalog: list sources (%d failed)", failed)
	}

	out := make([]model.SourceDescriptor, 0, len(byID))
	for _, s := range byID {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b model.SourceDescriptor) int { return strings.Compare(a.ID, b.ID) })

	if failed == 0 {
		r.snapshots.Set(scope, out)
	}
	return slices.Clone(out), nil
}

// RunQuery executes query against the connector that owns sourceID.
func (r *Router) RunQuery(ctx context.Context, sourceID, query string) (*model.RowSet, error) {
	provider, native, ok := SplitID(sourceID)
	if !ok {
		return nil, eris.Wrapf(ErrUnknownSource, "catalog: malformed source id %q", sourceID)
	}
	conn, ok := r.connectors[provider]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownSource, "catalog: no connector for %q", sourceID)
	}
	return guardVal(ctx, r.breaker(provider), func(ctx context.Context) (*model.RowSet, error) {
		return conn.RunQuery(ctx, native, query)
	})
}

// Invalidate drops cached listings.
func (r *Router) Invalidate() {
	r.snapshots.Purge()
}

func guardVal[T any](ctx context.Context, cb *resilience.CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	if cb == nil {
		return fn(ctx)
	}
	return resilience.ExecuteVal(ctx, cb, fn)
}

// Breakers reports the circuit state of every provider that has been called.
func (r *Router) Breakers() []resilience.Snapshot {
	if r.breakers == nil {
		return nil
	}
	return r.breakers.Snapshots()
}

func (r *Router) breaker(provider string) *resilience.CircuitBreaker {
	if r.breakers == nil {
		return nil
	}
	return r.breakers.Get(provider)
}
