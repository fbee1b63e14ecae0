package fetch_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/italolelis/dataset_setup/internal/fetch"
	"github.com/italolelis/dataset_setup/internal/logctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payload(size int) []byte {
	return bytes.Repeat([]byte("movielens"), size/9+1)[:size]
}

func serveBytes(t *testing.T, body []byte) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
	}))
	t.Cleanup(ts.Close)

	return ts
}

func TestFetch_WritesDeclaredSize(t *testing.T) {
	body := payload(300 * 1024)
	ts := serveBytes(t, body)

	out := filepath.Join(t.TempDir(), "ml-latest.zip")

	res, err := fetch.NewFetcher().Fetch(context.Background(), ts.URL, out)
	require.NoError(t, err)

	assert.Equal(t, int64(len(body)), res.Expected)
	assert.Equal(t, int64(len(body)), res.Written)
	assert.True(t, res.Complete())

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, res.Expected, info.Size())

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestFetch_SizeMismatch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "2000")
		_, _ = w.Write(payload(1000))
	}))
	defer ts.Close()

	out := filepath.Join(t.TempDir(), "ml-latest.zip")

	res, err := fetch.NewFetcher().Fetch(context.Background(), ts.URL, out)
	require.Error(t, err)

	var incomplete *fetch.IncompleteDownloadError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, int64(2000), incomplete.Expected)
	assert.Equal(t, int64(1000), incomplete.Received)
	assert.Equal(t, out, incomplete.Path)

	require.NotNil(t, res)
	assert.False(t, res.Complete())

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "partial archive should be removed")
}

func TestFetch_LogsCarryRunID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "2000")
		_, _ = w.Write(payload(1000))
	}))
	defer ts.Close()

	var logs bytes.Buffer

	logger := slog.New(logctx.NewTraceHandler(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	ctx := logctx.WithRunID(logctx.WithLogger(context.Background(), logger), "run-42")

	_, err := fetch.NewFetcher().Fetch(ctx, ts.URL, filepath.Join(t.TempDir(), "ml-latest.zip"))
	require.Error(t, err)

	out := logs.String()
	assert.Contains(t, out, "download progress")
	assert.Contains(t, out, "removed partial archive")

	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		assert.Contains(t, line, "run_id=run-42")
	}
}

func TestFetch_NonSuccessStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer ts.Close()

	out := filepath.Join(t.TempDir(), "ml-latest.zip")

	_, err := fetch.NewFetcher().Fetch(context.Background(), ts.URL, out)
	require.Error(t, err)

	var netErr *fetch.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusNotFound, netErr.StatusCode)
	assert.Equal(t, "get", netErr.Operation)
	assert.Contains(t, err.Error(), "HTTP 404")

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetch_ConnectionFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	addr := ts.URL
	ts.Close()

	_, err := fetch.NewFetcher().Fetch(context.Background(), addr, filepath.Join(t.TempDir(), "a.zip"))
	require.Error(t, err)

	var netErr *fetch.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Zero(t, netErr.StatusCode)
	assert.NotNil(t, errors.Unwrap(netErr))
}

func TestFetch_UnknownLength(t *testing.T) {
	body := payload(64 * 1024)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body[:1024])
		w.(http.Flusher).Flush()
		_, _ = w.Write(body[1024:])
	}))
	defer ts.Close()

	out := filepath.Join(t.TempDir(), "ml-latest.zip")

	res, err := fetch.NewFetcher().Fetch(context.Background(), ts.URL, out)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), res.Expected)
	assert.Equal(t, int64(len(body)), res.Written)
	assert.True(t, res.Complete())
}

func TestFetch_TruncatesExistingFile(t *testing.T) {
	body := payload(100)
	ts := serveBytes(t, body)

	out := filepath.Join(t.TempDir(), "ml-latest.zip")
	require.NoError(t, os.WriteFile(out, payload(5000), 0644))

	_, err := fetch.NewFetcher().Fetch(context.Background(), ts.URL, out)
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestFetch_BearerToken(t *testing.T) {
	var gotAuth string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("ok"))
	}))
	defer ts.Close()

	_, err := fetch.NewFetcher(fetch.WithToken("s3cr3t")).Fetch(context.Background(), ts.URL, filepath.Join(t.TempDir(), "a.zip"))
	require.NoError(t, err)
	assert.Equal(t, "Bearer s3cr3t", gotAuth)
}

func TestFetch_BearerTokenFollowsSameHostRedirect(t *testing.T) {
	var gotAuth string

	mux := http.NewServeMux()
	mux.HandleFunc("/latest", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ml-latest.zip", http.StatusFound)
	})
	mux.HandleFunc("/ml-latest.zip", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("ok"))
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()

	_, err := fetch.NewFetcher(fetch.WithToken("s3cr3t")).Fetch(context.Background(), ts.URL+"/latest", filepath.Join(t.TempDir(), "a.zip"))
	require.NoError(t, err)
	assert.Equal(t, "Bearer s3cr3t", gotAuth)
}

func TestFetch_BearerTokenDroppedOnCrossHostRedirect(t *testing.T) {
	var (
		mirrorHit  bool
		mirrorAuth string
	)

	mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mirrorHit = true
		mirrorAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("ok"))
	}))
	defer mirror.Close()

	mirrorURL, err := url.Parse(mirror.URL)
	require.NoError(t, err)

	var originAuth string

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		originAuth = r.Header.Get("Authorization")
		// Same listener, different host name.
		http.Redirect(w, r, "http://localhost:"+mirrorURL.Port()+"/ml-latest.zip", http.StatusFound)
	}))
	defer origin.Close()

	_, err = fetch.NewFetcher(fetch.WithToken("s3cr3t")).Fetch(context.Background(), origin.URL, filepath.Join(t.TempDir(), "a.zip"))
	require.NoError(t, err)

	assert.Equal(t, "Bearer s3cr3t", originAuth)
	assert.True(t, mirrorHit)
	assert.Empty(t, mirrorAuth)
}

func TestFetch_ProgressAndRateLimit(t *testing.T) {
	body := payload(8 * 1024)
	ts := serveBytes(t, body)

	var bar bytes.Buffer

	f := fetch.NewFetcher(
		fetch.WithHTTPClient(&http.Client{}),
		fetch.WithProgressOutput(&bar),
		fetch.WithRateLimit(1<<20),
		fetch.WithBlockSize(1024),
	)

	out := filepath.Join(t.TempDir(), "ml-latest.zip")

	res, err := f.Fetch(context.Background(), ts.URL, out)
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), res.Written)

	assert.Contains(t, bar.String(), "Downloading: 100% |")
	assert.Contains(t, bar.String(), "8.2 kB/8.2 kB")
}

func TestFetch_CancelledContext(t *testing.T) {
	ts := serveBytes(t, payload(10))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fetch.NewFetcher().Fetch(ctx, ts.URL, filepath.Join(t.TempDir(), "a.zip"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestErrors_Format(t *testing.T) {
	cause := errors.New("connection reset")

	netErr := &fetch.NetworkError{Operation: "read_body", URL: "http://x/a.zip", APIMessage: "connection reset", Err: cause}
	assert.Equal(t, "network error during read_body of http://x/a.zip: connection reset", netErr.Error())
	assert.ErrorIs(t, netErr, cause)

	incomplete := &fetch.IncompleteDownloadError{Path: "a.zip", Expected: 10, Received: 4, Err: cause}
	assert.Equal(t, "incomplete download of a.zip: expected 10 bytes, received 4", incomplete.Error())
	assert.ErrorIs(t, incomplete, cause)
}
