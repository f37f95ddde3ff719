package service

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/smallbiznis/billingops/internal/clock"
	"github.com/smallbiznis/billingops/internal/enrichment"
	"github.com/smallbiznis/billingops/internal/invoice/domain"
	"github.com/smallbiznis/billingops/internal/invoice/fetch"
	invoicerepo "github.com/smallbiznis/billingops/internal/invoice/repository"
	"github.com/smallbiznis/billingops/internal/observability/metrics"
	"github.com/smallbiznis/billingops/pkg/db"
	"github.com/smallbiznis/billingops/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 1000
	sampleIDLimit   = 10

	SourceSearch = "search"
	SourceSync   = "sync"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    domain.Repository
	Fetcher *fetch.Fetcher
	Merger  *enrichment.Merger
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	repo    domain.Repository
	fetcher *fetch.Fetcher
	merger  *enrichment.Merger
	metrics *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("invoice.service"),
		clock:   p.Clock,
		repo:    p.Repo,
		fetcher: p.Fetcher,
		merger:  p.Merger,
		metrics: p.Metrics,
	}
}

// Search fetches from SIIMP, enriches and caches the result. A request with
// both number bounds uses range bisection; anything else walks pages.
func (s *Service) Search(ctx context.Context, req domain.SearchRequest) (domain.SearchResponse, error) {
	params := url.Values{}
	for key, value := range req.Params {
		if strings.TrimSpace(value) != "" {
			params.Set(key, value)
		}
	}
	if req.Status != nil {
		if !req.Status.Valid() {
			return domain.SearchResponse{}, domain.ErrInvalidStatus
		}
		params.Set("status", strconv.Itoa(int(*req.Status)))
	}

	var (
		rows     []domain.Record
		stats    fetch.Stats
		strategy string
		err      error
	)
	if req.NumberFrom != nil && req.NumberTo != nil {
		strategy = domain.StrategyRange
		rows, stats, err = s.fetcher.Range(ctx, params, *req.NumberFrom, *req.NumberTo)
	} else {
		strategy = domain.StrategyPaged
		if req.NumberFrom != nil {
			params.Set(fetch.ParamNumberFrom, strconv.FormatInt(*req.NumberFrom, 10))
		}
		if req.NumberTo != nil {
			params.Set(fetch.ParamNumberTo, strconv.FormatInt(*req.NumberTo, 10))
		}
		rows, stats, err = s.fetcher.Paged(ctx, params, req.MaxPages, nil)
	}
	if err != nil {
		return domain.SearchResponse{}, err
	}

	enriched := s.merger.Merge(ctx, rows)
	wrote, err := s.persist(ctx, enriched, SourceSearch)
	if err != nil {
		return domain.SearchResponse{}, err
	}

	s.log.Info("invoice search completed",
		zap.String("strategy", strategy),
		zap.Int("calls", stats.Calls),
		zap.Int("fetched", len(rows)),
		zap.Int("wrote", wrote),
	)

	return domain.SearchResponse{
		Data:         enriched,
		Wrote:        wrote,
		FetchedTotal: len(rows),
		Strategy:     strategy,
		Calls:        stats.Calls,
	}, nil
}

// List reads the local cache. A missing table reads as an empty list so the
// portal works before the first sync.
func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	if req.Status != nil && !req.Status.Valid() {
		return domain.ListResponse{}, domain.ErrInvalidStatus
	}
	if req.NumberFrom != nil && req.NumberTo != nil && *req.NumberFrom > *req.NumberTo {
		return domain.ListResponse{}, domain.ErrInvalidRange
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > domain.MaxListLimit {
		pageSize = domain.MaxListLimit
	}

	var after *pagination.Cursor
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		after = cursor
	}

	filter := domain.ListFilter{
		Status:     req.Status,
		NumberFrom: req.NumberFrom,
		NumberTo:   req.NumberTo,
		OwnerCNPJ:  req.OwnerCNPJ,
	}
	items, err := s.repo.List(ctx, s.db, filter, pageSize+1, after)
	if err != nil {
		if db.IsUndefinedTableErr(err) {
			s.log.Warn("invoices table missing, returning empty list")
			return domain.ListResponse{Data: []domain.Invoice{}}, nil
		}
		return domain.ListResponse{}, err
	}

	items, pageInfo, err := pagination.BuildCursorPageInfo(items, pageSize, invoicerepo.SortCursor)
	if err != nil {
		return domain.ListResponse{}, err
	}
	if items == nil {
		items = []domain.Invoice{}
	}
	return domain.ListResponse{PageInfo: pageInfo, Data: items}, nil
}

// Sync pages through SIIMP and upserts every page in its own transaction.
func (s *Service) Sync(ctx context.Context, req domain.SyncRequest) (domain.SyncResponse, error) {
	params := url.Values{}
	if req.Status != nil {
		if !req.Status.Valid() {
			return domain.SyncResponse{}, domain.ErrInvalidStatus
		}
		params.Set("status", strconv.Itoa(int(*req.Status)))
	}

	resp := domain.SyncResponse{SampleIDs: []int64{}}
	onPage := func(ctx context.Context, page int, rows []domain.Record) error {
		enriched := s.merger.Merge(ctx, rows)
		wrote, err := s.persist(ctx, enriched, SourceSync)
		if err != nil {
			return fmt.Errorf("sync page %d: %w", page, err)
		}
		resp.Wrote += wrote
		for _, row := range enriched {
			if len(resp.SampleIDs) >= sampleIDLimit {
				break
			}
			if id, ok := row.ID(); ok {
				resp.SampleIDs = append(resp.SampleIDs, id)
			}
		}
		return nil
	}

	rows, stats, err := s.fetcher.Paged(ctx, params, req.MaxPages, onPage)
	if err != nil {
		return domain.SyncResponse{}, err
	}
	resp.FetchedPages = stats.Pages
	resp.FetchedTotal = len(rows)

	s.log.Info("invoice sync completed",
		zap.Int("pages", resp.FetchedPages),
		zap.Int("fetched", resp.FetchedTotal),
		zap.Int("wrote", resp.Wrote),
	)
	return resp, nil
}

// Enrich resolves legacy fields for ids without touching the cache.
func (s *Service) Enrich(ctx context.Context, ids []int64) (domain.EnrichResponse, error) {
	if len(ids) == 0 {
		return domain.EnrichResponse{}, domain.ErrNoIDs
	}
	for _, id := range ids {
		if id <= 0 {
			return domain.EnrichResponse{}, domain.ErrInvalidID
		}
	}

	data, errs := s.merger.EnrichIDs(ctx, ids)
	if data == nil {
		data = []domain.Record{}
	}
	if errs == nil {
		errs = []domain.EnrichError{}
	}
	return domain.EnrichResponse{Data: data, Errors: errs}, nil
}

func (s *Service) persist(ctx context.Context, rows []domain.Record, source string) (int, error) {
	now := s.clock.Now()
	invoices := make([]domain.Invoice, 0, len(rows))
	for _, row := range rows {
		inv, err := domain.ToInvoice(row, now)
		if err != nil {
			s.log.Debug("skipping record without id", zap.String("source", source))
			continue
		}
		invoices = append(invoices, inv)
	}
	if len(invoices) == 0 {
		return 0, nil
	}

	wrote, err := s.repo.Upsert(ctx, s.db, invoices)
	if err != nil {
		return 0, err
	}
	s.metrics.AddInvoicesWritten(ctx, source, wrote)
	return wrote, nil
}
