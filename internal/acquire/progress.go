package acquire

import (
	"fmt"
	"io"

	"github.com/gosuri/uilive"
)

// LiveProgress redraws a single "accepted/target" line in place.
type LiveProgress struct {
	writer *uilive.Writer
}

// NewLiveProgress starts a live progress line on out.
func NewLiveProgress(out io.Writer) *LiveProgress {
	w := uilive.New()
	w.Out = out
	w.Start()
	return &LiveProgress{writer: w}
}

func (p *LiveProgress) Update(accepted, target int) {
	fmt.Fprintf(p.writer, "Downloading wallpapers: %d/%d\n", accepted, target)
}

// Stop flushes the last line and stops redrawing.
func (p *LiveProgress) Stop() {
	p.writer.Stop()
}
