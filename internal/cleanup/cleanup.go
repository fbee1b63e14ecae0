package cleanup

import (
	"context"
	"fmt"
	"os"

	"github.com/italolelis/dataset_setup/internal/logctx"
)

// RemoveArchive deletes the temporary archive once its contents are on disk.
// Failures are logged and returned; callers treat them as non-fatal.
func RemoveArchive(ctx context.Context, path string) error {
	logger := logctx.LoggerFromContext(ctx)

	info, err := os.Lstat(path)
	if err != nil {
		logger.ErrorContext(ctx, "failed to delete temporary file", "file", path, "err", err)

		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if info.IsDir() {
		logger.ErrorContext(ctx, "refusing to delete directory as temporary file", "file", path)

		return fmt.Errorf("%s is a directory, not an archive", path)
	}

	if err := os.Remove(path); err != nil {
		logger.ErrorContext(ctx, "failed to delete temporary file", "file", path, "err", err)

		return fmt.Errorf("failed to delete %s: %w", path, err)
	}

	logger.InfoContext(ctx, "cleanup successful", "file", path)

	return nil
}
