package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonCanceled             = "canceled"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonUpstream             = "upstream"
	JobReasonUnknown              = "unknown"
)

const (
	JobSkipReasonLockHeld = "lock_held"
)

// upstreamError is implemented by the SIIMP and DAC client errors.
type upstreamError interface {
	UpstreamStatus() int
}

// JobMetrics captures sync job health signals.
type JobMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	jobSkipped     *prometheus.CounterVec
	itemsProcessed *prometheus.CounterVec
	runLoopLag     prometheus.Observer
}

var (
	jobMetricsOnce sync.Once
	jobMetrics     *JobMetrics
)

// Jobs returns the process-wide job metrics registered on the default registerer.
func Jobs() *JobMetrics {
	return JobsWithConfig(Config{})
}

// JobsWithConfig returns the process-wide job metrics using config labels.
func JobsWithConfig(cfg Config) *JobMetrics {
	jobMetricsOnce.Do(func() {
		jobMetrics = NewJobMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return jobMetrics
}

// NewJobMetrics registers job metrics on registerer.
func NewJobMetrics(registerer prometheus.Registerer, cfg Config) *JobMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "billingops"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &JobMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "billingops_job_runs_total",
			Help:        "Job runs by name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "billingops_job_duration_seconds",
			Help:        "Job latency.",
			Buckets:     []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "billingops_job_timeouts_total",
			Help:        "Job runs that hit their deadline.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "billingops_job_errors_total",
			Help:        "Job errors by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		jobSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "billingops_job_skipped_total",
			Help:        "Job runs skipped, for example because another replica holds the lock.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		itemsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "billingops_job_items_processed_total",
			Help:        "Items processed by jobs.",
			ConstLabels: constLabels,
		}, []string{"job", "resource"}),
	}
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "billingops_job_run_loop_lag_seconds",
		Help:        "Delay between the scheduled tick and the actual run start.",
		Buckets:     []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
		ConstLabels: constLabels,
	})
	m.runLoopLag = runLoopLag

	registerer.MustRegister(
		m.jobRuns,
		m.jobDuration,
		m.jobTimeouts,
		m.jobErrors,
		m.jobSkipped,
		m.itemsProcessed,
		runLoopLag,
	)
	return m
}

func (m *JobMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *JobMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *JobMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the job error counter with classification.
func (m *JobMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

func (m *JobMetrics) IncJobSkipped(job, reason string) {
	if m == nil {
		return
	}
	m.jobSkipped.WithLabelValues(job, reason).Inc()
}

// AddItemsProcessed increments the processed counter for a resource by count.
func (m *JobMetrics) AddItemsProcessed(job, resource string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.itemsProcessed.WithLabelValues(job, resource).Add(float64(count))
}

func (m *JobMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil {
		return
	}
	m.runLoopLag.Observe(max(duration, 0).Seconds())
}

// ClassifyJobReason maps an error onto a fixed reason label.
func ClassifyJobReason(err error) string {
	if err == nil {
		return JobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return JobReasonDeadlineExceeded
	}
	if errors.Is(err, context.Canceled) {
		return JobReasonCanceled
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return JobReasonUniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03":
			return JobReasonDBLockTimeout
		case "40001", "40P01":
			return JobReasonSerializationFailure
		case "23505":
			return JobReasonUniqueViolation
		}
	}
	var upstream upstreamError
	if errors.As(err, &upstream) {
		return JobReasonUpstream
	}
	return JobReasonUnknown
}
