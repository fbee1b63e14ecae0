package progress

import (
	"errors"
	"io"
)

// Reader wraps an io.Reader and reports the cumulative byte count via a callback.
// The callback fires every interval bytes, when the 5% mark is crossed and once
// more when the underlying reader returns io.EOF.
type Reader struct {
	Reader     io.Reader
	Total      int64
	OnProgress func(written int64, total int64)

	totalRead      int64
	lastReport     int64 // bytes since last report
	reportInterval int64
	finished       bool
}

func NewReader(r io.Reader, total int64, interval int64, cb func(written int64, total int64)) *Reader {
	return &Reader{
		Reader:         r,
		Total:          total,
		OnProgress:     cb,
		reportInterval: interval,
	}
}

// Written returns the number of bytes read so far.
func (pr *Reader) Written() int64 {
	return pr.totalRead
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.totalRead += int64(n)
		pr.lastReport += int64(n)

		if pr.lastReport >= pr.reportInterval || pr.crossedFivePercent(int64(n)) {
			pr.report()
		}
	}

	if errors.Is(err, io.EOF) && !pr.finished {
		pr.finished = true
		if pr.lastReport > 0 || pr.totalRead == 0 {
			pr.report()
		}
	}

	return n, err
}

func (pr *Reader) crossedFivePercent(n int64) bool {
	return pr.Total > 0 && pr.totalRead*100/pr.Total >= 5 && (pr.totalRead-n)*100/pr.Total < 5
}

func (pr *Reader) report() {
	if pr.OnProgress != nil {
		pr.OnProgress(pr.totalRead, pr.Total)
	}

	pr.lastReport = 0
}
