package archive

import "fmt"

// CorruptArchiveError is returned when the file is not a readable zip archive
// or one of its entries fails its integrity check.
type CorruptArchiveError struct {
	Path  string
	Entry string // empty when the archive itself could not be opened
	Err   error
}

func (e *CorruptArchiveError) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("corrupted archive %s: entry %s: %v", e.Path, e.Entry, e.Err)
	}

	return fmt.Sprintf("corrupted archive %s: %v", e.Path, e.Err)
}

func (e *CorruptArchiveError) Unwrap() error {
	return e.Err
}

// UnsafeEntryError is returned for entries whose path would resolve outside
// the target directory.
type UnsafeEntryError struct {
	Entry string
}

func (e *UnsafeEntryError) Error() string {
	return fmt.Sprintf("archive entry %q escapes the target directory", e.Entry)
}

// ExistsError is returned under the PolicyError policy when an entry would
// replace an existing file.
type ExistsError struct {
	Path string
}

func (e *ExistsError) Error() string {
	return fmt.Sprintf("refusing to overwrite existing file %s", e.Path)
}
