// Package pipeline runs the dataset setup: fetch the archive, extract it into
// the target directory and delete the archive.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/italolelis/dataset_setup/internal/archive"
	"github.com/italolelis/dataset_setup/internal/cleanup"
	"github.com/italolelis/dataset_setup/internal/fetch"
	"github.com/italolelis/dataset_setup/internal/logctx"
	"github.com/italolelis/dataset_setup/internal/notifier"
	"github.com/italolelis/dataset_setup/internal/storage"
	"github.com/italolelis/dataset_setup/internal/telemetry"
)

const (
	StageFetch   = "fetch"
	StageExtract = "extract"
	StageCleanup = "cleanup"
)

type Fetcher interface {
	Fetch(ctx context.Context, url, outputPath string) (*fetch.Result, error)
}

type Extractor interface {
	Extract(ctx context.Context, archivePath, targetDir string) (*archive.Result, error)
}

// Job describes one dataset to set up.
type Job struct {
	URL         string
	ArchivePath string
	TargetDir   string
}

// Report is the outcome of a run.
type Report struct {
	RunID   string
	Job     Job
	Fetch   *fetch.Result
	Extract *archive.Result
	// CleanupErr holds the archive removal failure. It never fails the run.
	CleanupErr error
	Skipped    bool
	Duration   time.Duration
}

type Pipeline struct {
	fetcher       Fetcher
	extractor     Extractor
	tel           *telemetry.Telemetry
	runs          storage.RunRepository
	notifier      notifier.Notifier
	skipCompleted bool
}

type Option func(*Pipeline)

func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(p *Pipeline) {
		if tel != nil {
			p.tel = tel
		}
	}
}

// WithRunRepository records every run in repo.
func WithRunRepository(repo storage.RunRepository) Option {
	return func(p *Pipeline) {
		p.runs = repo
	}
}

func WithNotifier(n notifier.Notifier) Option {
	return func(p *Pipeline) {
		p.notifier = n
	}
}

// WithSkipCompleted skips the run when the history holds a completed run for
// the same source and target and the target directory still exists.
func WithSkipCompleted(skip bool) Option {
	return func(p *Pipeline) {
		p.skipCompleted = skip
	}
}

func New(f Fetcher, e Extractor, opts ...Option) *Pipeline {
	p := &Pipeline{
		fetcher:   f,
		extractor: e,
		tel:       &telemetry.Telemetry{},
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Run executes fetch, extract and cleanup in order. A failed download stops
// the run before extraction and a corrupt archive stops it before cleanup. A
// failed cleanup is reported in Report.CleanupErr only.
func (p *Pipeline) Run(ctx context.Context, job Job) (*Report, error) {
	start := time.Now()
	runID := uuid.NewString()

	ctx = logctx.WithRunID(ctx, runID)
	logger := logctx.LoggerFromContext(ctx)

	report := &Report{RunID: runID, Job: job}

	if p.alreadyCompleted(ctx, job) {
		logger.InfoContext(ctx, "dataset already set up, skipping", "url", job.URL, "target_dir", job.TargetDir)

		report.Skipped = true
		report.Duration = time.Since(start)

		return report, nil
	}

	rec := &storage.RunRecord{
		ID:            runID,
		SourceURL:     job.URL,
		ArchivePath:   job.ArchivePath,
		TargetDir:     job.TargetDir,
		Stage:         StageFetch,
		ExpectedBytes: -1,
	}
	p.startRun(ctx, rec)

	err := p.run(ctx, job, report, rec)
	report.Duration = time.Since(start)

	p.finishRun(ctx, rec, report, err)
	p.notify(ctx, report, err)

	return report, err
}

func (p *Pipeline) run(ctx context.Context, job Job, report *Report, rec *storage.RunRecord) error {
	logger := logctx.LoggerFromContext(ctx)

	logger.InfoContext(ctx, "starting download", "url", job.URL, "archive", job.ArchivePath)

	err := p.tel.InstrumentStage(ctx, StageFetch, func(ctx context.Context) error {
		res, err := p.fetcher.Fetch(ctx, job.URL, job.ArchivePath)
		report.Fetch = res

		if res != nil {
			p.tel.RecordFetchedBytes(ctx, res.Written)
		}

		return err
	})
	if err != nil {
		var incomplete *fetch.IncompleteDownloadError
		if errors.As(err, &incomplete) {
			logger.ErrorContext(ctx, "download incomplete",
				"expected", incomplete.Expected,
				"received", incomplete.Received,
				"err", err,
			)
		} else {
			logger.ErrorContext(ctx, "download failed", "url", job.URL, "err", err)
		}

		return fmt.Errorf("failed to download archive: %w", err)
	}

	rec.Stage = StageExtract
	logger.InfoContext(ctx, "extracting archive", "archive", job.ArchivePath, "target_dir", job.TargetDir)

	err = p.tel.InstrumentStage(ctx, StageExtract, func(ctx context.Context) error {
		res, err := p.extractor.Extract(ctx, job.ArchivePath, job.TargetDir)
		report.Extract = res

		if res != nil {
			p.tel.RecordExtractedEntries(ctx, res.Entries())
		}

		return err
	})
	if err != nil {
		var corrupt *archive.CorruptArchiveError
		if errors.As(err, &corrupt) {
			logger.ErrorContext(ctx, "archive is corrupted", "archive", job.ArchivePath, "err", err)
		} else {
			logger.ErrorContext(ctx, "extraction failed", "archive", job.ArchivePath, "err", err)
		}

		return fmt.Errorf("failed to extract archive: %w", err)
	}

	rec.Stage = StageCleanup
	logger.InfoContext(ctx, "deleting temporary file", "archive", job.ArchivePath)

	report.CleanupErr = p.tel.InstrumentStage(ctx, StageCleanup, func(ctx context.Context) error {
		return cleanup.RemoveArchive(ctx, job.ArchivePath)
	})

	logger.InfoContext(ctx, "process completed",
		"target_dir", job.TargetDir,
		"files", report.Extract.Files,
		"skipped", report.Extract.Skipped,
		"size", humanize.Bytes(report.Extract.Bytes),
	)

	return nil
}

func (p *Pipeline) alreadyCompleted(ctx context.Context, job Job) bool {
	if !p.skipCompleted || p.runs == nil {
		return false
	}

	logger := logctx.LoggerFromContext(ctx)

	last, err := p.runs.LastCompletedRun(ctx, job.URL, job.TargetDir)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.WarnContext(ctx, "failed to read run history", "err", err)
		}

		return false
	}

	if _, err := os.Stat(job.TargetDir); err != nil {
		logger.DebugContext(ctx, "target directory missing, running again", "target_dir", job.TargetDir, "last_run", last.ID)

		return false
	}

	attrs := []any{"last_run", last.ID, "finished_at", last.FinishedAt}

	if runs, err := p.runs.GetRuns(ctx); err != nil {
		logger.WarnContext(ctx, "failed to read run history", "err", err)
	} else {
		attrs = append(attrs, "recorded_runs", len(runs))
	}

	logger.InfoContext(ctx, "found completed run", attrs...)

	return true
}

func (p *Pipeline) startRun(ctx context.Context, rec *storage.RunRecord) {
	if p.runs == nil {
		return
	}

	if err := p.runs.StartRun(ctx, rec); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to record run start", "err", err)
	}
}

func (p *Pipeline) finishRun(ctx context.Context, rec *storage.RunRecord, report *Report, runErr error) {
	if p.runs == nil {
		return
	}

	rec.Status = storage.StatusCompleted

	switch {
	case runErr != nil:
		rec.Status = storage.StatusFailed
		rec.Error = runErr.Error()
	case report.CleanupErr != nil:
		rec.Error = report.CleanupErr.Error()
	}

	if report.Fetch != nil {
		rec.BytesWritten = report.Fetch.Written
		rec.ExpectedBytes = report.Fetch.Expected
	}

	if report.Extract != nil {
		rec.Entries = report.Extract.Entries()
	}

	if err := p.runs.FinishRun(ctx, rec); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to record run result", "err", err)
	}
}

func (p *Pipeline) notify(ctx context.Context, report *Report, runErr error) {
	if p.notifier == nil {
		return
	}

	var content string
	if runErr != nil {
		content = fmt.Sprintf("❌ Dataset setup failed for %s: %v", report.Job.URL, runErr)
	} else {
		content = fmt.Sprintf("✅ Dataset ready in %s (%d entries, %s)",
			report.Job.TargetDir, report.Extract.Entries(), humanize.Bytes(report.Extract.Bytes))
	}

	if err := p.notifier.Notify(ctx, content); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to send notification", "err", err)
	}
}
