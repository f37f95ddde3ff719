package ratelimit

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/billingops/internal/config"
	"github.com/smallbiznis/billingops/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	keyBatchQuota   = "billingops:batch:siimp"
	minSharedWait   = 50 * time.Millisecond
	endpointBatch   = "batch"
	reasonLocal     = "local_interval"
	reasonShared    = "shared_quota"
	reasonSharedErr = "shared_quota_error"
)

// Limiter paces sequential upstream calls.
type Limiter interface {
	Wait(ctx context.Context) error
}

// BatchLimiter spaces batch calls by a fixed interval and, when redis is
// configured, also draws from a per-minute quota shared by all replicas.
type BatchLimiter struct {
	local   *rate.Limiter
	shared  *sharedQuota
	metrics *metrics.Metrics
	log     *zap.Logger
}

type Params struct {
	fx.In

	Config  config.Config
	Redis   *redis.Client    `optional:"true"`
	Metrics *metrics.Metrics `optional:"true"`
	Log     *zap.Logger
}

func Provide(p Params) Limiter {
	return NewBatchLimiter(p.Config.Batch, p.Redis, p.Metrics, p.Log.Named("ratelimit.batch"))
}

func NewBatchLimiter(cfg config.BatchConfig, client *redis.Client, m *metrics.Metrics, log *zap.Logger) *BatchLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}
	l := &BatchLimiter{
		local:   rate.NewLimiter(limit, 1),
		metrics: m,
		log:     log,
	}
	l.shared = newSharedQuota(client, keyBatchQuota, cfg.SharedQuotaPerMinute)
	return l
}

func (l *BatchLimiter) Wait(ctx context.Context) error {
	if !l.local.Allow() {
		l.metrics.RecordRateLimitWait(ctx, endpointBatch, reasonLocal)
		if err := l.local.Wait(ctx); err != nil {
			return err
		}
	}
	if l.shared == nil {
		return nil
	}
	return l.waitShared(ctx)
}

// waitShared polls the shared bucket. A redis failure falls back to the
// local interval only.
func (l *BatchLimiter) waitShared(ctx context.Context) error {
	for {
		wait, err := l.shared.take(ctx)
		if err != nil {
			l.metrics.RecordRateLimitWait(ctx, endpointBatch, reasonSharedErr)
			l.log.Warn("shared batch quota unavailable", zap.Error(err))
			return nil
		}
		if wait == 0 {
			return nil
		}

		l.metrics.RecordRateLimitWait(ctx, endpointBatch, reasonShared)
		if wait < minSharedWait {
			wait = minSharedWait
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
