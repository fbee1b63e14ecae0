package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no run matches a lookup.
var ErrNotFound = errors.New("run not found")

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// RunRecord represents one execution of the setup pipeline.
type RunRecord struct {
	ID            string
	SourceURL     string
	ArchivePath   string
	TargetDir     string
	Status        string
	Stage         string // last stage reached
	Error         string
	BytesWritten  int64
	ExpectedBytes int64
	Entries       int
	Instance      string
	StartedAt     time.Time
	FinishedAt    time.Time
}

type RunReadRepository interface {
	GetRuns(ctx context.Context) ([]RunRecord, error)
	// LastCompletedRun returns the newest completed run for sourceURL into targetDir, or ErrNotFound.
	LastCompletedRun(ctx context.Context, sourceURL, targetDir string) (*RunRecord, error)
}

type RunWriteRepository interface {
	StartRun(ctx context.Context, rec *RunRecord) error
	FinishRun(ctx context.Context, rec *RunRecord) error
}

type RunRepository interface {
	RunReadRepository
	RunWriteRepository
}
