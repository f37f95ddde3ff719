package batch

import (
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
)

// Result is the outcome of one row.
type Result struct {
	Line            int    `json:"line"`
	ID              int64  `json:"id"`
	Action          Action `json:"action"`
	OK              bool   `json:"ok"`
	Message         string `json:"message"`
	AlreadyCanceled bool   `json:"alreadyCanceled,omitempty"`
}

// Run tracks one batch execution. Results are appended as rows finish so
// pollers see partial progress.
type Run struct {
	id        snowflake.ID
	total     int
	startedAt time.Time

	mu         sync.RWMutex
	status     Status
	finishedAt *time.Time
	results    []Result
	done       chan struct{}
}

func newRun(id snowflake.ID, total int, now time.Time) *Run {
	return &Run{
		id:        id,
		total:     total,
		startedAt: now,
		status:    StatusRunning,
		results:   make([]Result, 0, total),
		done:      make(chan struct{}),
	}
}

func (r *Run) ID() snowflake.ID { return r.id }

// Done is closed when the run completes.
func (r *Run) Done() <-chan struct{} { return r.done }

func (r *Run) append(res Result) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
}

func (r *Run) finish(now time.Time) {
	r.mu.Lock()
	r.status = StatusCompleted
	r.finishedAt = &now
	r.mu.Unlock()
	close(r.done)
}

// Snapshot is the JSON view of a run.
type Snapshot struct {
	ID         string     `json:"id"`
	Status     Status     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Total      int        `json:"total"`
	Processed  int        `json:"processed"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	Results    []Result   `json:"results"`
}

func (r *Run) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		ID:         r.id.String(),
		Status:     r.status,
		StartedAt:  r.startedAt,
		FinishedAt: r.finishedAt,
		Total:      r.total,
		Processed:  len(r.results),
		Results:    append([]Result(nil), r.results...),
	}
	for _, res := range r.results {
		if res.OK {
			snap.Succeeded++
		} else {
			snap.Failed++
		}
	}
	return snap
}
