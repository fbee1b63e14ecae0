package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	name string
	body string
}

func writeZip(t *testing.T, path string, entries ...entry) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)

	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: zip.Store})
		require.NoError(t, err)

		_, err = w.Write([]byte(e.body))
		require.NoError(t, err)
	}

	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	b, err := os.ReadFile(path)
	require.NoError(t, err)

	return string(b)
}

var movielens = []entry{
	{name: "ml-latest/"},
	{name: "ml-latest/movies.csv", body: "movieId,title,genres\n1,Toy Story (1995),Animation\n"},
	{name: "ml-latest/ratings.csv", body: "userId,movieId,rating,timestamp\n1,1,4.0,964982703\n"},
	{name: "ml-latest/README.txt", body: "Summary\n"},
}

func TestExtract_AllEntries(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "ml-latest.zip")
	writeZip(t, archivePath, movielens...)

	target := filepath.Join(dir, "data")

	res, err := NewExtractor(PolicyOverwrite).Extract(context.Background(), archivePath, target)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Files)
	assert.Equal(t, 1, res.Dirs)
	assert.Equal(t, 4, res.Entries())

	for _, e := range movielens[1:] {
		assert.Equal(t, e.body, readFile(t, filepath.Join(target, e.name)))
	}
}

func TestExtract_CreatesMissingParents(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "a.zip")
	writeZip(t, archivePath, entry{name: "deep/nested/links.csv", body: "movieId,imdbId\n"})

	target := filepath.Join(dir, "a", "b")

	_, err := NewExtractor("").Extract(context.Background(), archivePath, target)
	require.NoError(t, err)
	assert.Equal(t, "movieId,imdbId\n", readFile(t, filepath.Join(target, "deep", "nested", "links.csv")))
}

func TestExtract_NotAZip(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "ml-latest.zip")
	require.NoError(t, os.WriteFile(archivePath, []byte("<html>not found</html>"), 0644))

	target := filepath.Join(dir, "data")

	_, err := NewExtractor(PolicyOverwrite).Extract(context.Background(), archivePath, target)
	require.Error(t, err)

	var corrupt *CorruptArchiveError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, archivePath, corrupt.Path)
	assert.Empty(t, corrupt.Entry)
	assert.ErrorIs(t, err, zip.ErrFormat)

	_, statErr := os.Stat(target)
	assert.True(t, os.IsNotExist(statErr), "target dir must not be created for an unreadable archive")
}

func TestExtract_ChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "ml-latest.zip")
	writeZip(t, archivePath, entry{name: "tags.csv", body: "userId,movieId,tag,timestamp\n"})

	raw, err := os.ReadFile(archivePath)
	require.NoError(t, err)

	idx := bytes.Index(raw, []byte("userId,movieId,tag"))
	require.GreaterOrEqual(t, idx, 0)
	raw[idx] = 'X'
	require.NoError(t, os.WriteFile(archivePath, raw, 0644))

	_, err = NewExtractor(PolicyOverwrite).Extract(context.Background(), archivePath, filepath.Join(dir, "data"))
	require.Error(t, err)

	var corrupt *CorruptArchiveError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, "tags.csv", corrupt.Entry)
	assert.ErrorIs(t, err, zip.ErrChecksum)
}

func TestExtract_RejectsEscapingEntries(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "evil.zip")
	writeZip(t, archivePath, entry{name: "../escaped.txt", body: "x"})

	target := filepath.Join(dir, "data")

	_, err := NewExtractor(PolicyOverwrite).Extract(context.Background(), archivePath, target)
	require.Error(t, err)

	var unsafe *UnsafeEntryError
	require.ErrorAs(t, err, &unsafe)
	assert.Equal(t, "../escaped.txt", unsafe.Entry)

	_, statErr := os.Stat(filepath.Join(dir, "escaped.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExtract_PopulatedTarget(t *testing.T) {
	tests := []struct {
		name        string
		policy      Policy
		wantMovies  string
		wantSkipped int
		wantErr     bool
	}{
		{name: "overwrite replaces and merges", policy: PolicyOverwrite, wantMovies: movielens[1].body},
		{name: "skip keeps existing files", policy: PolicySkip, wantMovies: "stale\n", wantSkipped: 1},
		{name: "error refuses to overwrite", policy: PolicyError, wantMovies: "stale\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			archivePath := filepath.Join(dir, "ml-latest.zip")
			writeZip(t, archivePath, movielens...)

			target := filepath.Join(dir, "data")
			require.NoError(t, os.MkdirAll(filepath.Join(target, "ml-latest"), 0755))
			require.NoError(t, os.WriteFile(filepath.Join(target, "ml-latest", "movies.csv"), []byte("stale\n"), 0644))
			require.NoError(t, os.WriteFile(filepath.Join(target, "notes.md"), []byte("keep me"), 0644))

			res, err := NewExtractor(tt.policy).Extract(context.Background(), archivePath, target)
			if tt.wantErr {
				var exists *ExistsError
				require.ErrorAs(t, err, &exists)
				assert.Equal(t, filepath.Join(target, "ml-latest", "movies.csv"), exists.Path)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantSkipped, res.Skipped)
				assert.Equal(t, movielens[2].body, readFile(t, filepath.Join(target, "ml-latest", "ratings.csv")))
			}

			assert.Equal(t, tt.wantMovies, readFile(t, filepath.Join(target, "ml-latest", "movies.csv")))
			assert.Equal(t, "keep me", readFile(t, filepath.Join(target, "notes.md")))
		})
	}
}

func TestExtract_Rerun(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "ml-latest.zip")
	writeZip(t, archivePath, movielens...)

	target := filepath.Join(dir, "data")
	ex := NewExtractor(PolicyOverwrite)

	_, err := ex.Extract(context.Background(), archivePath, target)
	require.NoError(t, err)

	res, err := ex.Extract(context.Background(), archivePath, target)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Files)
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"": PolicyOverwrite, "OVERWRITE": PolicyOverwrite, "skip": PolicySkip, "error": PolicyError} {
		got, err := ParsePolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParsePolicy("merge")
	assert.Error(t, err)
}
