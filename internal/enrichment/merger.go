package enrichment

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"

	"github.com/smallbiznis/billingops/internal/cache"
	"github.com/smallbiznis/billingops/internal/config"
	"github.com/smallbiznis/billingops/internal/invoice/domain"
	"github.com/smallbiznis/billingops/internal/observability/metrics"
	"github.com/smallbiznis/billingops/internal/providers/dac"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultConcurrency = 4

// Legacy is the subset of the DAC client the merger uses.
type Legacy interface {
	InvoiceDetail(ctx context.Context, id int64) (domain.Record, error)
	People(ctx context.Context, ids []int64) (map[int64]dac.Person, error)
}

type Merger struct {
	legacy      Legacy
	owners      cache.OwnerCache
	concurrency int
	metrics     *metrics.Metrics
	log         *zap.Logger
}

type Params struct {
	fx.In

	Config  config.Config
	Legacy  Legacy
	Owners  cache.OwnerCache
	Metrics *metrics.Metrics `optional:"true"`
	Log     *zap.Logger
}

func Provide(p Params) *Merger {
	return New(p.Legacy, p.Owners, p.Config.EnrichConcurrency, p.Metrics, p.Log.Named("enrichment"))
}

func New(legacy Legacy, owners cache.OwnerCache, concurrency int, m *metrics.Metrics, log *zap.Logger) *Merger {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Merger{legacy: legacy, owners: owners, concurrency: concurrency, metrics: m, log: log}
}

// Merge fills the enrichment keys of every row from the legacy backend.
// Output order matches input and every row carries all EnrichmentKeys.
// Lookup failures degrade to null values; the primary record always wins.
func (m *Merger) Merge(ctx context.Context, rows []domain.Record) []domain.Record {
	out := make([]domain.Record, len(rows))
	if len(rows) == 0 {
		return out
	}

	details := make([]domain.Record, len(rows))
	_ = m.forEach(ctx, len(rows), func(ctx context.Context, i int) error {
		id, ok := rows[i].ID()
		if !ok {
			return nil
		}
		details[i] = m.detail(ctx, id)
		return nil
	})

	for i, row := range rows {
		out[i] = mergeRow(row, details[i])
	}

	m.fillOwners(ctx, out)

	for _, row := range out {
		ensureKeys(row)
	}
	return out
}

// EnrichIDs resolves legacy fields for ids without a primary record.
// Failed ids are reported instead of being degraded to nulls.
func (m *Merger) EnrichIDs(ctx context.Context, ids []int64) ([]domain.Record, []domain.EnrichError) {
	details := make([]domain.Record, len(ids))
	errs := make([]error, len(ids))

	_ = m.forEach(ctx, len(ids), func(ctx context.Context, i int) error {
		rec, err := m.legacy.InvoiceDetail(ctx, ids[i])
		if err != nil {
			errs[i] = err
			m.recordFailure(ctx, ids[i], err)
			return nil
		}
		rec["id"] = ids[i]
		details[i] = rec
		return nil
	})

	var (
		data     []domain.Record
		failures []domain.EnrichError
	)
	for i, id := range ids {
		if errs[i] != nil {
			failures = append(failures, domain.EnrichError{ID: id, Error: errorMessage(errs[i])})
			continue
		}
		data = append(data, details[i])
	}

	m.fillOwners(ctx, data)
	for _, row := range data {
		ensureKeys(row)
	}
	return data, failures
}

// forEach runs fn for every index using a fixed pool of workers that pull
// indices from a shared cursor.
func (m *Merger) forEach(ctx context.Context, n int, fn func(context.Context, int) error) error {
	workers := m.concurrency
	if workers > n {
		workers = n
	}

	var cursor atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				i := int(cursor.Add(1) - 1)
				if i >= n {
					return nil
				}
				if err := fn(gctx, i); err != nil {
					return err
				}
			}
		})
	}
	return g.Wait()
}

func (m *Merger) detail(ctx context.Context, id int64) domain.Record {
	rec, err := m.legacy.InvoiceDetail(ctx, id)
	if err != nil {
		m.recordFailure(ctx, id, err)
		return nil
	}
	return rec
}

func (m *Merger) recordFailure(ctx context.Context, id int64, err error) {
	reason := failureReason(err)
	m.metrics.RecordEnrichmentFailure(ctx, reason)
	m.log.Warn("legacy lookup failed",
		zap.Int64("invoice_id", id),
		zap.String("reason", reason),
		zap.Error(err),
	)
}

// fillOwners resolves owner name and document for rows that have an owner
// id but miss either field: cache first, then one batched people lookup.
func (m *Merger) fillOwners(ctx context.Context, rows []domain.Record) {
	missing := make(map[int64]struct{})
	for _, row := range rows {
		if row.Has("owner_name") && row.Has("owner_document") {
			continue
		}
		if id, ok := domain.AsInt64(row.Value("owner_id")); ok && id > 0 {
			missing[id] = struct{}{}
		}
	}
	if len(missing) == 0 {
		return
	}

	resolved := make(map[int64]cache.Owner, len(missing))
	var lookup []int64
	for id := range missing {
		if m.owners != nil {
			if owner, ok := m.owners.GetOwner(id); ok {
				resolved[id] = owner
				continue
			}
		}
		lookup = append(lookup, id)
	}

	if len(lookup) > 0 {
		sort.Slice(lookup, func(i, j int) bool { return lookup[i] < lookup[j] })
		people, err := m.legacy.People(ctx, lookup)
		if err != nil {
			m.metrics.RecordEnrichmentFailure(ctx, "people")
			m.log.Warn("owner lookup failed", zap.Int("owners", len(lookup)), zap.Error(err))
		}
		for id, person := range people {
			owner := cache.Owner{ID: id, Name: person.Name, Document: person.Document}
			resolved[id] = owner
			if m.owners != nil {
				m.owners.SetOwner(owner)
			}
		}
	}

	for _, row := range rows {
		id, ok := domain.AsInt64(row.Value("owner_id"))
		if !ok {
			continue
		}
		owner, ok := resolved[id]
		if !ok {
			continue
		}
		if !row.Has("owner_name") && domain.Present(owner.Name) {
			row["owner_name"] = owner.Name
		}
		if !row.Has("owner_document") && domain.Present(owner.Document) {
			row["owner_document"] = owner.Document
		}
	}
}

func failureReason(err error) string {
	var (
		httpErr *dac.HTTPError
		bizErr  *dac.BusinessError
	)
	switch {
	case errors.Is(err, dac.ErrSessionUnavailable):
		return "session"
	case errors.Is(err, dac.ErrNoData):
		return "no_data"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &httpErr):
		return "http"
	case errors.As(err, &bizErr):
		return "business"
	default:
		return "transport"
	}
}

func errorMessage(err error) string {
	if errors.Is(err, dac.ErrNoData) {
		return "no data for this id"
	}
	return err.Error()
}
