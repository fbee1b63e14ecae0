package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/dataset_setup/internal/storage"
	"github.com/italolelis/dataset_setup/internal/telemetry"
)

// InstrumentedRunRepository wraps RunRepository with telemetry.
type InstrumentedRunRepository struct {
	repo      *RunRepository
	telemetry *telemetry.Telemetry
}

var _ storage.RunRepository = (*InstrumentedRunRepository)(nil)

// NewInstrumentedRunRepository creates a new instrumented run repository.
func NewInstrumentedRunRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedRunRepository {
	return &InstrumentedRunRepository{
		repo:      NewRunRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedRunRepository) StartRun(ctx context.Context, rec *storage.RunRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "start_run", func(ctx context.Context) error {
		return r.repo.StartRun(ctx, rec)
	})
}

func (r *InstrumentedRunRepository) FinishRun(ctx context.Context, rec *storage.RunRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "finish_run", func(ctx context.Context) error {
		return r.repo.FinishRun(ctx, rec)
	})
}

// GetRuns retrieves all runs with telemetry.
func (r *InstrumentedRunRepository) GetRuns(ctx context.Context) ([]storage.RunRecord, error) {
	var result []storage.RunRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "get_runs", func(ctx context.Context) error {
		result, err = r.repo.GetRuns(ctx)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

func (r *InstrumentedRunRepository) LastCompletedRun(ctx context.Context, sourceURL, targetDir string) (*storage.RunRecord, error) {
	var result *storage.RunRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "last_completed_run", func(ctx context.Context) error {
		result, err = r.repo.LastCompletedRun(ctx, sourceURL, targetDir)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}
