package fetch

import (
	"io"
	"net/http"
)

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets the client used for the GET request. Its transport is
// wrapped with OpenTelemetry instrumentation.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithToken sends token as a bearer token, for dataset hosts that require
// authentication. The header is not forwarded when the source redirects to a
// different host.
func WithToken(token string) Option {
	return func(f *Fetcher) {
		f.token = token
	}
}

// WithRateLimit caps the download bandwidth in bytes per second. Zero disables the limit.
func WithRateLimit(bytesPerSecond int) Option {
	return func(f *Fetcher) {
		f.rateLimit = bytesPerSecond
	}
}

// WithProgressOutput draws a progress bar on w while the body is streamed.
func WithProgressOutput(w io.Writer) Option {
	return func(f *Fetcher) {
		f.progressOut = w
	}
}

// WithBlockSize sets the size of the chunks read from the body and written to disk.
func WithBlockSize(size int) Option {
	return func(f *Fetcher) {
		if size > 0 {
			f.blockSize = size
		}
	}
}
