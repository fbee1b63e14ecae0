// Package archive unpacks downloaded zip archives into a target directory.
package archive

import (
	"archive/zip"
	"compress/flate"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/dataset_setup/internal/logctx"
)

const (
	dirPerm  = 0755
	filePerm = 0644
)

// Policy decides what happens when an entry already exists on disk.
type Policy string

const (
	// PolicyOverwrite replaces existing files and keeps unrelated ones.
	PolicyOverwrite Policy = "overwrite"
	// PolicySkip keeps existing files untouched.
	PolicySkip Policy = "skip"
	// PolicyError aborts extraction with an *ExistsError.
	PolicyError Policy = "error"
)

// ParsePolicy maps a configuration value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(s)); p {
	case PolicyOverwrite, PolicySkip, PolicyError:
		return p, nil
	case "":
		return PolicyOverwrite, nil
	default:
		return "", fmt.Errorf("unknown existing files policy %q", s)
	}
}

type Extractor struct {
	policy Policy
}

// Result summarizes an extraction.
type Result struct {
	Files   int
	Dirs    int
	Skipped int
	Bytes   uint64
}

// Entries returns the number of files and directories present after extraction.
func (r *Result) Entries() int {
	return r.Files + r.Dirs + r.Skipped
}

func NewExtractor(policy Policy) *Extractor {
	if policy == "" {
		policy = PolicyOverwrite
	}

	return &Extractor{policy: policy}
}

// Extract unpacks every entry of the zip archive at archivePath into
// targetDir, creating it if absent.
func (e *Extractor) Extract(ctx context.Context, archivePath, targetDir string) (*Result, error) {
	logger := logctx.LoggerFromContext(ctx).With("archive", archivePath, "target_dir", targetDir)

	// ErrInsecurePath still yields a usable reader; entryPath rejects those names below.
	zr, err := zip.OpenReader(archivePath)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		if isCorruption(err) {
			return nil, &CorruptArchiveError{Path: archivePath, Err: err}
		}

		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer zr.Close()

	if err := os.MkdirAll(targetDir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create target directory: %w", err)
	}

	root, err := filepath.Abs(targetDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve target directory: %w", err)
	}

	logger.DebugContext(ctx, "extracting entries", "entries", len(zr.File))

	res := &Result{}

	for _, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		dest, err := entryPath(root, zf.Name)
		if err != nil {
			return res, err
		}

		if err := e.extractEntry(zf, dest, res); err != nil {
			if isCorruption(err) {
				return res, &CorruptArchiveError{Path: archivePath, Entry: zf.Name, Err: err}
			}

			return res, err
		}
	}

	logger.InfoContext(ctx, "archive extracted",
		"files", res.Files,
		"dirs", res.Dirs,
		"skipped", res.Skipped,
		"size", humanize.Bytes(res.Bytes))

	return res, nil
}

func (e *Extractor) extractEntry(zf *zip.File, dest string, res *Result) error {
	mode := zf.Mode()

	switch {
	case mode.IsDir():
		if err := os.MkdirAll(dest, dirPerm); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dest, err)
		}

		res.Dirs++

		return nil
	case mode&fs.ModeSymlink != 0:
		// Links are written as regular files holding the link target.
	case !mode.IsRegular():
		return nil
	}

	if _, err := os.Lstat(dest); err == nil {
		switch e.policy {
		case PolicySkip:
			res.Skipped++

			return nil
		case PolicyError:
			return &ExistsError{Path: dest}
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), dirPerm); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(dest), err)
	}

	n, err := writeEntry(zf, dest)
	if err != nil {
		return err
	}

	res.Files++
	res.Bytes += uint64(n)

	return nil
}

func writeEntry(zf *zip.File, dest string) (int64, error) {
	rc, err := zf.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dest, err)
	}

	n, copyErr := io.Copy(out, rc)
	closeErr := out.Close()

	if copyErr != nil {
		return n, copyErr
	}

	if closeErr != nil {
		return n, fmt.Errorf("failed to close %s: %w", dest, closeErr)
	}

	return n, nil
}

// entryPath resolves name under root and rejects paths that escape it.
func entryPath(root, name string) (string, error) {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", &UnsafeEntryError{Entry: name}
	}

	dest := filepath.Join(root, filepath.FromSlash(name))
	if dest != root && !strings.HasPrefix(dest, root+string(os.PathSeparator)) {
		return "", &UnsafeEntryError{Entry: name}
	}

	return dest, nil
}

func isCorruption(err error) bool {
	return errors.Is(err, zip.ErrFormat) ||
		errors.Is(err, zip.ErrChecksum) ||
		errors.Is(err, zip.ErrAlgorithm) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.As(err, new(flate.CorruptInputError))
}
