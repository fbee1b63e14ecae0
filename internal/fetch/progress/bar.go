package progress

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
)

const barWidth = 30

// Bar draws a single-line console progress bar, redrawn in place with '\r'.
type Bar struct {
	out   io.Writer
	label string
	width int
}

func NewBar(out io.Writer, label string) *Bar {
	return &Bar{out: out, label: label, width: barWidth}
}

// Update redraws the bar. A total <= 0 means the server did not declare a size.
func (b *Bar) Update(written, total int64) {
	if b == nil || b.out == nil {
		return
	}

	if total <= 0 {
		fmt.Fprintf(b.out, "\r%s: %s", b.label, humanize.Bytes(uint64(written)))

		return
	}

	ratio := float64(written) / float64(total)
	if ratio > 1 {
		ratio = 1
	}

	filled := int(ratio * float64(b.width))

	fmt.Fprintf(b.out, "\r%s: %3.0f%% |%s%s| %s/%s",
		b.label,
		ratio*100,
		strings.Repeat("#", filled),
		strings.Repeat(" ", b.width-filled),
		humanize.Bytes(uint64(written)),
		humanize.Bytes(uint64(total)),
	)
}

// Finish terminates the bar line.
func (b *Bar) Finish() {
	if b == nil || b.out == nil {
		return
	}

	fmt.Fprintln(b.out)
}
