package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/italolelis/dataset_setup/internal/storage"
)

const selectRuns = `SELECT id, source_url, archive_path, target_dir, status, stage, error,
	bytes_written, expected_bytes, entries, instance, started_at, finished_at FROM runs`

type RunRepository struct {
	db *sql.DB
}

var _ storage.RunRepository = (*RunRepository)(nil)

func NewRunRepository(dbConn *sql.DB) *RunRepository {
	return &RunRepository{db: dbConn}
}

// StartRun inserts rec with status 'running'. StartedAt and Instance are filled in when empty.
func (r *RunRepository) StartRun(ctx context.Context, rec *storage.RunRecord) error {
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}

	if rec.Instance == "" {
		rec.Instance = storage.GenerateInstanceID()
	}

	rec.Status = storage.StatusRunning

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (id, source_url, archive_path, target_dir, status, stage, expected_bytes, instance, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SourceURL, rec.ArchivePath, rec.TargetDir, rec.Status, rec.Stage, rec.ExpectedBytes,
		rec.Instance, rec.StartedAt.UTC().Format(time.RFC3339),
	)

	return err
}

// FinishRun stores the outcome of rec. FinishedAt is set to now when empty.
func (r *RunRepository) FinishRun(ctx context.Context, rec *storage.RunRecord) error {
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, stage = ?, error = ?, bytes_written = ?, expected_bytes = ?, entries = ?, finished_at = ?
		WHERE id = ?`,
		rec.Status, rec.Stage, rec.Error, rec.BytesWritten, rec.ExpectedBytes, rec.Entries,
		rec.FinishedAt.UTC().Format(time.RFC3339), rec.ID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

func (r *RunRepository) GetRuns(ctx context.Context) ([]storage.RunRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectRuns+` ORDER BY started_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []storage.RunRecord

	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}

		runs = append(runs, *rec)
	}

	return runs, rows.Err()
}

func (r *RunRepository) LastCompletedRun(ctx context.Context, sourceURL, targetDir string) (*storage.RunRecord, error) {
	row := r.db.QueryRowContext(ctx, selectRuns+`
		WHERE source_url = ? AND target_dir = ? AND status = ?
		ORDER BY finished_at DESC, rowid DESC LIMIT 1`,
		sourceURL, targetDir, storage.StatusCompleted)

	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}

	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*storage.RunRecord, error) {
	var (
		rec                      storage.RunRecord
		stage, errText, instance sql.NullString
		startedAt, finishedAt    sql.NullString
	)

	err := s.Scan(&rec.ID, &rec.SourceURL, &rec.ArchivePath, &rec.TargetDir, &rec.Status, &stage, &errText,
		&rec.BytesWritten, &rec.ExpectedBytes, &rec.Entries, &instance, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	rec.Stage = stage.String
	rec.Error = errText.String
	rec.Instance = instance.String
	rec.StartedAt = parseTime(startedAt)
	rec.FinishedAt = parseTime(finishedAt)

	return &rec, nil
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return time.Time{}
	}

	return t
}
