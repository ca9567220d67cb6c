// Package store persists analysis runs.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("store: run not found")

const defaultListLimit = 100

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	Intent       model.Intent    `json:"intent,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

// Store defines the persistence interface for analysis runs.
type Store interface {
	CreateRun(ctx context.Context, q model.Query) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, result *model.AnalysisResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the configured backend and migrates it. Driver
// "postgres" uses DatabaseURL as a connection string; anything else opens
// a SQLite file at DatabaseURL.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case "postgres", "postgresql", "pgx":
		s, err = NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "insight.db"
		}
		s, err = NewSQLite(dsn)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// completeStatus returns the terminal columns written for a finished run.
func completeStatus(r *model.AnalysisResult) (model.RunStatus, model.Intent, float64, bool, int64) {
	if r == nil {
		return model.RunStatusFailed, "", 0, false, 0
	}
	return model.StatusFor(r), r.Intent, r.Confidence, r.Degraded, r.LatencyMs
}
