package batch

import (
	"context"
	"errors"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingops/internal/clock"
	"github.com/smallbiznis/billingops/internal/invoice/actions"
	"github.com/smallbiznis/billingops/internal/observability/metrics"
	"github.com/smallbiznis/billingops/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const maxRetainedRuns = 100

var ErrRunNotFound = errors.New("batch_run_not_found")

// Registry keeps recent runs in memory so callers can poll them.
type Registry struct {
	runner *Runner
	node   *snowflake.Node
	clock  clock.Clock
	log    *zap.Logger

	mu      sync.Mutex
	runs    map[snowflake.ID]*Run
	order   []snowflake.ID
	cancels map[snowflake.ID]context.CancelFunc
	wg      sync.WaitGroup
}

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Actions   *actions.Service
	Limiter   ratelimit.Limiter
	Node      *snowflake.Node
	Clock     clock.Clock
	Metrics   *metrics.Metrics `optional:"true"`
	Log       *zap.Logger
}

func Provide(p Params) *Registry {
	log := p.Log.Named("batch")
	reg := NewRegistry(NewRunner(p.Actions, p.Limiter, p.Clock, p.Metrics, log), p.Node, p.Clock, log)
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return reg.Shutdown(ctx)
		},
	})
	return reg
}

func NewRegistry(runner *Runner, node *snowflake.Node, clk clock.Clock, log *zap.Logger) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		runner:  runner,
		node:    node,
		clock:   clk,
		log:     log,
		runs:    make(map[snowflake.ID]*Run),
		cancels: make(map[snowflake.ID]context.CancelFunc),
	}
}

// Start registers a run and executes it in the background. The run outlives
// the request that started it; Shutdown cancels it.
func (g *Registry) Start(ctx context.Context, rows []Row) (*Run, error) {
	if len(rows) == 0 {
		return nil, ErrNoRows
	}

	run := newRun(g.node.Generate(), len(rows), g.clock.Now())
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	g.mu.Lock()
	g.runs[run.ID()] = run
	g.order = append(g.order, run.ID())
	g.cancels[run.ID()] = cancel
	g.evictLocked()
	g.mu.Unlock()

	g.log.Info("batch run started", zap.String("run_id", run.ID().String()), zap.Int("rows", len(rows)))

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() {
			g.mu.Lock()
			delete(g.cancels, run.ID())
			g.mu.Unlock()
			cancel()
		}()
		g.runner.Execute(runCtx, run, rows)
	}()
	return run, nil
}

func (g *Registry) Get(id string) (*Run, error) {
	parsed, err := snowflake.ParseString(id)
	if err != nil {
		return nil, ErrRunNotFound
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	run, ok := g.runs[parsed]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run, nil
}

// Shutdown cancels running batches and waits for them to record their rows.
func (g *Registry) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	for _, cancel := range g.cancels {
		cancel()
	}
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// evictLocked drops the oldest finished runs beyond the retention limit.
func (g *Registry) evictLocked() {
	for len(g.order) > maxRetainedRuns {
		evicted := false
		for i, id := range g.order {
			run := g.runs[id]
			select {
			case <-run.Done():
				delete(g.runs, id)
				g.order = append(g.order[:i], g.order[i+1:]...)
				evicted = true
			default:
			}
			if evicted {
				break
			}
		}
		if !evicted {
			return
		}
	}
}
