package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/billingops/internal/clock"
	"github.com/smallbiznis/billingops/internal/config"
	"github.com/smallbiznis/billingops/internal/enrichment"
	"github.com/smallbiznis/billingops/internal/invoice/domain"
	"github.com/smallbiznis/billingops/internal/invoice/fetch"
	"github.com/smallbiznis/billingops/internal/invoice/repository"
	"github.com/smallbiznis/billingops/internal/providers/dac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeSearcher struct {
	mu     sync.Mutex
	rows   []domain.Record
	calls  []url.Values
	failed bool
}

func (f *fakeSearcher) Search(_ context.Context, params url.Values) ([]domain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, params)
	if f.failed {
		return nil, errors.New("siimp down")
	}

	if params.Has(fetch.ParamPage) {
		page, _ := strconv.Atoi(params.Get(fetch.ParamPage))
		start := (page - 1) * fetch.Cap
		if start >= len(f.rows) {
			return nil, nil
		}
		end := start + fetch.Cap
		if end > len(f.rows) {
			end = len(f.rows)
		}
		return cloneAll(f.rows[start:end]), nil
	}

	from, _ := strconv.ParseInt(params.Get(fetch.ParamNumberFrom), 10, 64)
	to, _ := strconv.ParseInt(params.Get(fetch.ParamNumberTo), 10, 64)
	var out []domain.Record
	for _, row := range f.rows {
		n, _ := domain.AsInt64(row["invoice_number"])
		if n >= from && n <= to {
			out = append(out, row.Clone())
			if len(out) == fetch.Cap {
				break
			}
		}
	}
	return out, nil
}

func cloneAll(rows []domain.Record) []domain.Record {
	out := make([]domain.Record, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

type fakeLegacy struct{}

func (fakeLegacy) InvoiceDetail(_ context.Context, id int64) (domain.Record, error) {
	if id%2 == 0 {
		return nil, dac.ErrNoData
	}
	return domain.Record{"owner_id": int64(500), "cte_id": id * 10}, nil
}

func (fakeLegacy) People(_ context.Context, ids []int64) (map[int64]dac.Person, error) {
	out := make(map[int64]dac.Person)
	for _, id := range ids {
		out[id] = dac.Person{ID: id, Name: "Owner " + strconv.FormatInt(id, 10), Document: "12.345.678/0001-90"}
	}
	return out, nil
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.Invoice{}))
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}

func newTestService(t *testing.T, conn *gorm.DB, searcher fetch.Searcher) domain.Service {
	t.Helper()
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return New(Params{
		DB:      conn,
		Log:     zap.NewNop(),
		Clock:   clk,
		Repo:    repository.New(clk, config.UpsertModeOverwrite),
		Fetcher: fetch.New(searcher, nil, nil),
		Merger:  enrichment.New(fakeLegacy{}, nil, 4, nil, nil),
	})
}

func numbered(from, to int64) []domain.Record {
	var out []domain.Record
	for n := from; n <= to; n++ {
		out = append(out, domain.Record{
			"id":             n,
			"invoice_number": strconv.FormatInt(n, 10),
			"invoice_status": 0,
			"total":          "10.00",
		})
	}
	return out
}

func i64(v int64) *int64 { return &v }

func TestSearchRangeBisectsAndPersists(t *testing.T) {
	conn := setupTestDB(t)
	searcher := &fakeSearcher{rows: append(numbered(1, 30), numbered(51, 80)...)}
	svc := newTestService(t, conn, searcher)

	status := domain.StatusRegistered
	resp, err := svc.Search(context.Background(), domain.SearchRequest{
		Status:     &status,
		NumberFrom: i64(1),
		NumberTo:   i64(100),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyRange, resp.Strategy)
	assert.Equal(t, 3, resp.Calls)
	assert.Equal(t, 60, resp.FetchedTotal)
	assert.Equal(t, 60, resp.Wrote)
	assert.Equal(t, "0", searcher.calls[0].Get("status"))

	var count int64
	require.NoError(t, conn.Model(&domain.Invoice{}).Count(&count).Error)
	assert.EqualValues(t, 60, count)

	var odd domain.Invoice
	require.NoError(t, conn.First(&odd, 51).Error)
	require.NotNil(t, odd.OwnerName)
	assert.Equal(t, "Owner 500", *odd.OwnerName)
	assert.Equal(t, "12345678000190", *odd.OwnerCNPJ)
	assert.Equal(t, int64(510), *odd.CteID)

	for _, row := range resp.Data {
		for _, key := range domain.EnrichmentKeys {
			assert.Contains(t, row, key)
		}
	}
}

func TestSearchPagedWithoutRange(t *testing.T) {
	conn := setupTestDB(t)
	searcher := &fakeSearcher{rows: numbered(1, 45)}
	svc := newTestService(t, conn, searcher)

	resp, err := svc.Search(context.Background(), domain.SearchRequest{NumberFrom: i64(1)})
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyPaged, resp.Strategy)
	assert.Equal(t, 45, resp.FetchedTotal)
	assert.Equal(t, 2, resp.Calls)
	assert.Equal(t, "1", searcher.calls[0].Get(fetch.ParamNumberFrom))
}

func TestSearchUpstreamFailure(t *testing.T) {
	svc := newTestService(t, setupTestDB(t), &fakeSearcher{failed: true})
	_, err := svc.Search(context.Background(), domain.SearchRequest{NumberFrom: i64(1), NumberTo: i64(5)})
	require.Error(t, err)
}

func TestSyncUpsertsPerPage(t *testing.T) {
	conn := setupTestDB(t)
	svc := newTestService(t, conn, &fakeSearcher{rows: numbered(1, 95)})

	resp, err := svc.Sync(context.Background(), domain.SyncRequest{MaxPages: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.FetchedPages)
	assert.Equal(t, 95, resp.FetchedTotal)
	assert.Equal(t, 95, resp.Wrote)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, resp.SampleIDs)
}

func TestListFiltersAndPaginates(t *testing.T) {
	conn := setupTestDB(t)
	svc := newTestService(t, conn, &fakeSearcher{rows: numbered(1, 30)})
	_, err := svc.Sync(context.Background(), domain.SyncRequest{})
	require.NoError(t, err)

	first, err := svc.List(context.Background(), domain.ListRequest{NumberFrom: i64(5), NumberTo: i64(20), PageSize: 10})
	require.NoError(t, err)
	require.Len(t, first.Data, 10)
	assert.True(t, first.HasMore)
	assert.Equal(t, int64(5), first.Data[0].ID)

	second, err := svc.List(context.Background(), domain.ListRequest{NumberFrom: i64(5), NumberTo: i64(20), PageSize: 10, PageToken: first.NextPageToken})
	require.NoError(t, err)
	require.Len(t, second.Data, 6)
	assert.False(t, second.HasMore)
	assert.Equal(t, int64(15), second.Data[0].ID)
}

func TestListMissingTableIsEmpty(t *testing.T) {
	conn := setupTestDB(t)
	require.NoError(t, conn.Migrator().DropTable(&domain.Invoice{}))
	svc := newTestService(t, conn, &fakeSearcher{})

	resp, err := svc.List(context.Background(), domain.ListRequest{})
	require.NoError(t, err)
	assert.Empty(t, resp.Data)
}

func TestListRejectsBadToken(t *testing.T) {
	svc := newTestService(t, setupTestDB(t), &fakeSearcher{})
	_, err := svc.List(context.Background(), domain.ListRequest{PageToken: "%%%"})
	assert.ErrorIs(t, err, domain.ErrInvalidPageToken)
}

func TestEnrichReportsPerIDErrors(t *testing.T) {
	svc := newTestService(t, setupTestDB(t), &fakeSearcher{})

	resp, err := svc.Enrich(context.Background(), []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Len(t, resp.Data, 2)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, int64(2), resp.Errors[0].ID)

	_, err = svc.Enrich(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrNoIDs)
}
