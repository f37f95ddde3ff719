package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/smallbiznis/billingops/internal/invoice/domain"
	"github.com/smallbiznis/billingops/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	// Cap is the fixed number of rows SIIMP returns for any single search.
	Cap = 40
	// MaxDepth bounds range bisection; at this depth a capped result is accepted.
	MaxDepth = 20

	ParamNumberFrom = "number_from"
	ParamNumberTo   = "number_to"
	ParamPage       = "page"
	ParamStart      = "start"
	ParamLimit      = "limit"

	DefaultMaxPages = 50
)

// Searcher is the upstream search call. Implemented by *siimp.Client.
type Searcher interface {
	Search(ctx context.Context, params url.Values) ([]domain.Record, error)
}

// Stats describes the work done by one fetch.
type Stats struct {
	Calls     int
	Pages     int
	Truncated int
}

type Fetcher struct {
	searcher Searcher
	metrics  *metrics.Metrics
	log      *zap.Logger
}

type Params struct {
	fx.In

	Searcher Searcher
	Metrics  *metrics.Metrics `optional:"true"`
	Log      *zap.Logger
}

func Provide(p Params) *Fetcher {
	return New(p.Searcher, p.Metrics, p.Log.Named("invoice.fetch"))
}

func New(searcher Searcher, m *metrics.Metrics, log *zap.Logger) *Fetcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{searcher: searcher, metrics: m, log: log}
}

// Range returns every invoice numbered within [from, to]. A sub-range that
// comes back full is split at floor((from+to)/2) into [from,mid] and
// [mid+1,to]; results are concatenated left first. Any failed call aborts.
func (f *Fetcher) Range(ctx context.Context, base url.Values, from, to int64) ([]domain.Record, Stats, error) {
	if from > to {
		return nil, Stats{}, domain.ErrInvalidRange
	}
	var stats Stats
	rows, err := f.bisect(ctx, base, from, to, 0, &stats)
	f.metrics.AddFetchCalls(ctx, domain.StrategyRange, stats.Calls)
	if err != nil {
		return nil, stats, err
	}
	if stats.Truncated > 0 {
		f.log.Warn("range fetch hit depth cap",
			zap.Int64("from", from),
			zap.Int64("to", to),
			zap.Int("truncated_ranges", stats.Truncated),
		)
	}
	return rows, stats, nil
}

func (f *Fetcher) bisect(ctx context.Context, base url.Values, from, to int64, depth int, stats *Stats) ([]domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := cloneValues(base)
	params.Set(ParamNumberFrom, strconv.FormatInt(from, 10))
	params.Set(ParamNumberTo, strconv.FormatInt(to, 10))

	stats.Calls++
	rows, err := f.searcher.Search(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("search [%d,%d]: %w", from, to, err)
	}
	if len(rows) < Cap || to <= from {
		return rows, nil
	}
	if depth >= MaxDepth {
		stats.Truncated++
		return rows, nil
	}

	mid := midpoint(from, to)
	left, err := f.bisect(ctx, base, from, mid, depth+1, stats)
	if err != nil {
		return nil, err
	}
	right, err := f.bisect(ctx, base, mid+1, to, depth+1, stats)
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}

// midpoint is floor((from+to)/2) without overflowing on wide ranges.
func midpoint(from, to int64) int64 {
	return from + int64(uint64(to-from)/2)
}

// PageFunc receives the new (not yet seen) rows of each fetched page.
type PageFunc func(ctx context.Context, page int, rows []domain.Record) error

// Paged walks page/start/limit pages until a short page, a page with no new
// ids or maxPages. Rows are deduplicated by id, first occurrence wins; rows
// without an id are always kept.
func (f *Fetcher) Paged(ctx context.Context, base url.Values, maxPages int, onPage PageFunc) ([]domain.Record, Stats, error) {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	var (
		stats Stats
		out   []domain.Record
		seen  = make(map[int64]struct{})
	)
	defer func() { f.metrics.AddFetchCalls(ctx, domain.StrategyPaged, stats.Calls) }()

	for page := 1; page <= maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}

		params := cloneValues(base)
		params.Set(ParamPage, strconv.Itoa(page))
		params.Set(ParamStart, strconv.Itoa((page-1)*Cap))
		params.Set(ParamLimit, strconv.Itoa(Cap))

		stats.Calls++
		rows, err := f.searcher.Search(ctx, params)
		if err != nil {
			return nil, stats, fmt.Errorf("search page %d: %w", page, err)
		}
		stats.Pages++

		fresh := make([]domain.Record, 0, len(rows))
		for _, row := range rows {
			if id, ok := row.ID(); ok {
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
			}
			fresh = append(fresh, row)
		}
		if len(fresh) > 0 && onPage != nil {
			if err := onPage(ctx, page, fresh); err != nil {
				return nil, stats, err
			}
		}
		out = append(out, fresh...)

		if len(rows) < Cap || len(fresh) == 0 {
			break
		}
	}
	return out, stats, nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+3)
	for k, values := range v {
		out[k] = append([]string(nil), values...)
	}
	return out
}
