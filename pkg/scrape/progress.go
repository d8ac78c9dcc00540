package scrape

import (
	"context"

	"github.com/Sternrassler/atlas-scraper/pkg/stream"
)

// maxPartialProgress caps progress until the run completes; only the final
// progress event reports 100.
const maxPartialProgress = 99

// progressTracker reports a non-decreasing percentage.
type progressTracker struct {
	out     stream.Emitter
	percent float64
}

func newProgressTracker(out stream.Emitter) *progressTracker {
	return &progressTracker{out: out}
}

// Report emits a progress event with max(current, percent), capped below 100.
func (p *progressTracker) Report(ctx context.Context, percent float64, status string) error {
	if percent > maxPartialProgress {
		percent = maxPartialProgress
	}
	if percent > p.percent {
		p.percent = percent
	}
	return p.out.Emit(ctx, stream.Progress(p.percent, status))
}

// Complete emits the final 100% event.
func (p *progressTracker) Complete(ctx context.Context, status string) error {
	p.percent = 100
	return p.out.Emit(ctx, stream.Progress(100, status))
}

// Percent returns the last reported value.
func (p *progressTracker) Percent() float64 {
	return p.percent
}
