package catalog

import (
	"context"
	"errors"
	"slices"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/resilience"
	"github.com/sells-group/insight-cli/pkg/powerbi"
)

// ProviderPowerBI is the provider name for Power BI datasets.
const ProviderPowerBI = "powerbi"

// PowerBI exposes Power BI datasets as sources queried with DAX.
type PowerBI struct {
	client     powerbi.Client
	workspaces []string
}

// NewPowerBI creates a connector. A non-empty workspaces list restricts
// discovery to those workspace ids.
func NewPowerBI(client powerbi.Client, workspaces []string) *PowerBI {
	return &PowerBI{client: client, workspaces: workspaces}
}

// Provider implements Connector.
func (p *PowerBI) Provider() string { return ProviderPowerBI }

// ListSources implements Connector.
func (p *PowerBI) ListSources(ctx context.Context, scope string) ([]model.SourceDescriptor, error) {
	groups, err := p.client.ListGroups(ctx)
	if err != nil {
		return nil, classifyStatus(err)
	}

	var selected []powerbi.Group
	for _, g := range groups {
		if scope != "" && g.ID != scope {
			continue
		}
		if len(p.workspaces) > 0 && !slices.Contains(p.workspaces, g.ID) {
			continue
		}
		selected = append(selected, g)
	}

	perGroup := make([][]model.SourceDescriptor, len(selected))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, grp := range selected {
		g.Go(func() error {
			datasets, err := p.client.ListDatasets(gCtx, grp.ID)
			if err != nil {
				return classifyStatus(err)
			}
			for _, ds := range datasets {
				perGroup[i] = append(perGroup[i], model.SourceDescriptor{
					ID:            SourceID(ProviderPowerBI, ds.ID),
					Name:          ds.Name,
					WorkspaceID:   grp.ID,
					WorkspaceName: grp.Name,
					Provider:      ProviderPowerBI,
					Dialect:       model.DialectDAX,
				})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "catalog: powerbi datasets")
	}

	var out []model.SourceDescriptor
	for _, list := range perGroup {
		out = append(out, list...)
	}
	return out, nil
}

// RunQuery implements Connector.
func (p *PowerBI) RunQuery(ctx context.Context, datasetID, query string) (*model.RowSet, error) {
	res, err := p.client.ExecuteQuery(ctx, datasetID, query)
	if err != nil {
		return nil, classifyStatus(err)
	}
	return &model.RowSet{Columns: res.Columns, Rows: res.Rows}, nil
}

// classifyStatus marks retryable HTTP failures as transient.
func classifyStatus(err error) error {
	var se *powerbi.StatusError
	if errors.As(err, &se) && resilience.IsTransientHTTPStatus(se.StatusCode) {
		te := resilience.NewTransientError(err, se.StatusCode)
		te.RetryAfter = se.RetryAfter
		return te
	}
	return err
}
