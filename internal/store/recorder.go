package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insight-cli/internal/model"
)

// Recorder writes finished analyses to a Store as one run each.
type Recorder struct {
	store Store
}

// NewRecorder creates a Recorder over s.
func NewRecorder(s Store) *Recorder {
	return &Recorder{store: s}
}

// RecordRun creates a run for the result's query and completes it.
func (r *Recorder) RecordRun(ctx context.Context, result *model.AnalysisResult) error {
	if result == nil {
		return eris.New("store: nil result")
	}
	run, err := r.store.CreateRun(ctx, result.Query)
	if err != nil {
		return eris.Wrap(err, "store: record run")
	}
	return eris.Wrapf(r.store.CompleteRun(ctx, run.ID, result), "store: complete run %s", run.ID)
}
