package report

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Mode of a run
const (
	ModeTrain = "train"
	ModeTest  = "test"
)

// Run statuses recorded in the ledger
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run identifies one training or testing session
type Run struct {
	ID      string    `json:"id"`
	Mode    string    `json:"mode"`
	Dir     string    `json:"dir"`
	Total   int       `json:"total_episodes"`
	Started time.Time `json:"started"`
}

func NewRun(mode, dir string, total int) Run {
	return Run{
		ID:      uuid.NewString(),
		Mode:    mode,
		Dir:     dir,
		Total:   total,
		Started: time.Now().UTC(),
	}
}

// Episode is the record emitted after every episode
type Episode struct {
	RunID          string  `json:"run_id"`
	Episode        int     `json:"episode"`
	Epsilon        float64 `json:"epsilon"`
	Reward         float64 `json:"reward"`
	CumulativeWait float64 `json:"cumulative_wait"`
	AvgQueueLength float64 `json:"avg_queue_length"`
	SimSeconds     float64 `json:"sim_seconds"`
	TrainSeconds   float64 `json:"train_seconds"`
}

// Sink receives the lifecycle of a run. Implementations log their own failures;
// a returned error never aborts the run.
type Sink interface {
	Start(ctx context.Context, run Run) error
	Episode(ctx context.Context, ep Episode) error
	Finish(ctx context.Context, runID string, status string) error
}

// Multi fans out to every sink and joins their errors
type Multi []Sink

var _ Sink = Multi{}

func (m Multi) Start(ctx context.Context, run Run) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Start(ctx, run))
	}
	return errors.Join(errs...)
}

func (m Multi) Episode(ctx context.Context, ep Episode) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Episode(ctx, ep))
	}
	return errors.Join(errs...)
}

func (m Multi) Finish(ctx context.Context, runID string, status string) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Finish(ctx, runID, status))
	}
	return errors.Join(errs...)
}
