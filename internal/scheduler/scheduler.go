package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/billingops/internal/clock"
	"github.com/smallbiznis/billingops/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/billingops/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobSyncInvoices = "sync_invoices"

	syncLockKey = "billingops:lock:sync_invoices"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// Syncer runs one paged upstream sync.
type Syncer interface {
	Sync(context.Context, domain.SyncRequest) (domain.SyncResponse, error)
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Service domain.Service
	Redis   *redis.Client `optional:"true"`
	GenID   *snowflake.Node
	Clock   clock.Clock
	Metrics *obsmetrics.JobMetrics `optional:"true"`
	Config  Config
}

type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	syncer  Syncer
	locker  Locker
	genID   *snowflake.Node
	clock   clock.Clock
	metrics *obsmetrics.JobMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Service == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return NewScheduler(p.Service, NewLocker(p.Redis), p.GenID, p.Clock, p.Metrics, p.Config, p.Log), nil
}

func NewScheduler(syncer Syncer, locker Locker, genID *snowflake.Node, clk clock.Clock, m *obsmetrics.JobMetrics, cfg Config, log *zap.Logger) *Scheduler {
	if locker == nil {
		locker = localLocker{}
	}
	return &Scheduler{
		log:     log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     cfg.withDefaults(),
		syncer:  syncer,
		locker:  locker,
		genID:   genID,
		clock:   clk,
		metrics: m,
	}
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context, run *jobRun) error,
) error {
	release, err := s.locker.Acquire(parent, syncLockKey, s.cfg.LockTTL)
	if errors.Is(err, ErrLockHeld) {
		s.metrics.IncJobSkipped(name, obsmetrics.JobSkipReasonLockHeld)
		s.log.Info("job skipped, lock held by another replica", zap.String("job", name))
		return nil
	}
	if err != nil {
		s.metrics.IncJobError(name, err)
		return fmt.Errorf("%s: acquire lock: %w", name, err)
	}
	defer func() {
		if releaseErr := release(context.WithoutCancel(parent)); releaseErr != nil {
			s.log.Warn("failed to release job lock", zap.String("job", name), zap.Error(releaseErr))
		}
	}()

	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	run := s.newJobRun(name)
	s.logJobStart(run)
	s.metrics.IncJobRun(name)

	err = fn(ctx, run)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	run.failed = err != nil
	s.logJobFinish(run)
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; pages written before it are kept
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.String("run_id", run.runID),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.runJob(parent, JobSyncInvoices, s.cfg.Timeout, s.SyncInvoicesJob)
}

func (s *Scheduler) SyncInvoicesJob(ctx context.Context, run *jobRun) error {
	resp, err := s.syncer.Sync(ctx, domain.SyncRequest{
		Status:   s.cfg.Status,
		MaxPages: s.cfg.MaxPages,
	})
	run.record(resp)
	s.metrics.AddItemsProcessed(JobSyncInvoices, "invoices", resp.Wrote)
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now()

	for {
		if lag := s.clock.Now().Sub(nextRun); lag > 0 {
			s.metrics.ObserveRunLoopLag(lag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
