package scheduler

import (
	"time"

	"github.com/smallbiznis/billingops/internal/invoice/domain"
	"go.uber.org/zap"
)

// jobRun collects what one sync pass did for its finish log line.
type jobRun struct {
	job       string
	runID     string
	startedAt time.Time
	result    domain.SyncResponse
	failed    bool
}

func (r *jobRun) record(resp domain.SyncResponse) {
	if r == nil {
		return
	}
	r.result.FetchedPages += resp.FetchedPages
	r.result.FetchedTotal += resp.FetchedTotal
	r.result.Wrote += resp.Wrote
}

func (s *Scheduler) newJobRun(job string) *jobRun {
	return &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		startedAt: s.clock.Now(),
	}
}

func (s *Scheduler) logJobStart(run *jobRun) {
	s.log.Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int("max_pages", s.cfg.MaxPages),
	)
}

// logJobFinish logs partial progress too: pages written before a failure stay in the cache.
func (s *Scheduler) logJobFinish(run *jobRun) {
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int("fetched_pages", run.result.FetchedPages),
		zap.Int("fetched_total", run.result.FetchedTotal),
		zap.Int("wrote", run.result.Wrote),
	}
	if run.failed {
		s.log.Warn("scheduler.job.finish", fields...)
		return
	}
	s.log.Info("scheduler.job.finish", fields...)
}
