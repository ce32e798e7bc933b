package report

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/gosuri/uilive"
)

// Progress keeps one live terminal line with the state of the current episode
type Progress struct {
	mu     sync.Mutex
	writer *uilive.Writer
	total  int
}

var _ Sink = &Progress{}

// NewProgress writes to out; nil means stdout
func NewProgress(out io.Writer, total int) *Progress {
	w := uilive.New()
	if out != nil {
		w.Out = out
	}
	return &Progress{writer: w, total: total}
}

func (p *Progress) print(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.writer, s)
	p.writer.Flush()
}

// Simulating marks the start of an episode
func (p *Progress) Simulating(episode int, epsilon float64) {
	p.print(fmt.Sprintf("Episode %d of %d, epsilon %.2f: simulating", episode+1, p.total, epsilon))
}

func (p *Progress) Start(_ context.Context, run Run) error {
	p.print(fmt.Sprintf("Run %s, %s, %d episode(s)", run.ID, run.Mode, run.Total))
	return nil
}

func (p *Progress) Episode(_ context.Context, ep Episode) error {
	p.print(fmt.Sprintf("Episode %d of %d, epsilon %.2f: reward %.1f, sim %.1fs, train %.1fs",
		ep.Episode+1, p.total, ep.Epsilon, ep.Reward, ep.SimSeconds, ep.TrainSeconds))
	return nil
}

func (p *Progress) Finish(_ context.Context, runID string, status string) error {
	p.print(fmt.Sprintf("Run %s %s", runID, status))
	return nil
}
