package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/dataset_setup/internal/fetch/progress"
	"github.com/italolelis/dataset_setup/internal/logctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	defaultBlockSize = 32 * 1024
	progressInterval = 1024 * 1024 // 1MB
	filePerm         = 0644
)

// Fetcher streams a single HTTP resource to a local file.
type Fetcher struct {
	client      *http.Client
	token       string
	tokens      oauth2.TokenSource
	rateLimit   int
	limiter     *rate.Limiter
	progressOut io.Writer
	blockSize   int
}

// Result describes a finished download.
type Result struct {
	Path     string
	Written  int64
	Expected int64 // -1 when the server did not declare a size
}

// Complete reports whether the bytes written match the declared total. An
// undeclared or zero total is always considered complete.
func (r *Result) Complete() bool {
	return r.Expected <= 0 || r.Written == r.Expected
}

func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{blockSize: defaultBlockSize}
	for _, opt := range opts {
		opt(f)
	}

	base := &http.Client{}
	if f.client != nil {
		c := *f.client
		base = &c
	}

	if base.Transport == nil {
		base.Transport = http.DefaultTransport
	}

	base.Transport = otelhttp.NewTransport(base.Transport)

	if f.token != "" {
		f.tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: f.token, TokenType: "Bearer"})
	}

	f.client = base

	if f.rateLimit > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(f.rateLimit), max(f.rateLimit, f.blockSize))
	}

	return f
}

// Fetch downloads url into outputPath, truncating any existing file. When the
// server declares a size and the body does not match it, the partial file is
// removed and an *IncompleteDownloadError is returned.
func (f *Fetcher) Fetch(ctx context.Context, url, outputPath string) (*Result, error) {
	logger := logctx.LoggerFromContext(ctx).With("url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Set on the request rather than the transport so net/http drops the header
	// on redirects to another host.
	if f.tokens != nil {
		tok, err := f.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to get source token: %w", err)
		}

		tok.SetAuthHeader(req)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Operation: "get", URL: url, APIMessage: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &NetworkError{Operation: "get", URL: url, StatusCode: resp.StatusCode, APIMessage: resp.Status}
	}

	total := resp.ContentLength
	if total >= 0 {
		logger.InfoContext(ctx, "downloading archive", "archive", outputPath, "size", humanize.Bytes(uint64(total)))
	} else {
		logger.InfoContext(ctx, "downloading archive", "archive", outputPath, "size", "unknown")
	}

	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive file: %w", err)
	}

	received, readErr, writeErr := f.stream(ctx, out, resp.Body, url, total)
	closeErr := out.Close()

	res := &Result{Path: outputPath, Written: received, Expected: total}

	switch {
	case writeErr != nil:
		err = fmt.Errorf("failed to write archive file: %w", writeErr)
	case !res.Complete():
		err = &IncompleteDownloadError{Path: outputPath, Expected: total, Received: received, Err: readErr}
	case readErr != nil:
		err = &NetworkError{Operation: "read_body", URL: url, APIMessage: readErr.Error(), Err: readErr}
	case closeErr != nil:
		err = fmt.Errorf("failed to close archive file: %w", closeErr)
	}

	if err != nil {
		removePartial(ctx, logger, outputPath)

		return res, err
	}

	logger.InfoContext(ctx, "download finished", "archive", outputPath, "written", humanize.Bytes(uint64(received)))

	return res, nil
}

// stream copies body to out in blockSize chunks. It returns the bytes received
// along with the read and write errors separately so callers can tell a broken
// connection from a full disk.
func (f *Fetcher) stream(ctx context.Context, out io.Writer, body io.Reader, url string, total int64) (int64, error, error) {
	logger := logctx.LoggerFromContext(ctx)

	var bar *progress.Bar
	if f.progressOut != nil {
		bar = progress.NewBar(f.progressOut, "Downloading")
		defer bar.Finish()
	}

	var src io.Reader = body
	if f.limiter != nil {
		src = &throttledReader{ctx: ctx, r: body, limiter: f.limiter}
	}

	pr := progress.NewReader(src, total, progressInterval, func(written, total int64) {
		bar.Update(written, total)
		logProgress(ctx, logger, url, written, total)
	})

	buf := make([]byte, f.blockSize)

	for {
		n, readErr := pr.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return pr.Written(), nil, writeErr
			}
		}

		if errors.Is(readErr, io.EOF) {
			return pr.Written(), nil, nil
		}

		if readErr != nil {
			return pr.Written(), readErr, nil
		}
	}
}

func logProgress(ctx context.Context, logger *slog.Logger, url string, written, total int64) {
	if total > 0 {
		logger.DebugContext(ctx, "download progress",
			"url", url,
			"downloaded", humanize.Bytes(uint64(written)),
			"total", humanize.Bytes(uint64(total)),
			"percent", humanize.FtoaWithDigits(float64(written)*100/float64(total), 2))

		return
	}

	logger.DebugContext(ctx, "download progress", "url", url, "downloaded", humanize.Bytes(uint64(written)))
}

func removePartial(ctx context.Context, logger *slog.Logger, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.ErrorContext(ctx, "failed to remove partial archive", "archive", path, "err", err)

		return
	}

	logger.DebugContext(ctx, "removed partial archive", "archive", path)
}

// throttledReader paces reads with a token bucket holding one token per byte.
type throttledReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (t *throttledReader) Read(p []byte) (int, error) {
	if burst := t.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}

	n, err := t.r.Read(p)
	if n > 0 {
		if waitErr := t.limiter.WaitN(t.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}

	return n, err
}
