package enrichment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/billingops/internal/cache"
	"github.com/smallbiznis/billingops/internal/invoice/domain"
	"github.com/smallbiznis/billingops/internal/providers/dac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLegacy struct {
	mu          sync.Mutex
	details     map[int64]domain.Record
	detailErr   error
	people      map[int64]dac.Person
	peopleCalls int
	peopleIDs   []int64
	inFlight    int
	maxInFlight int
}

func (f *fakeLegacy) InvoiceDetail(_ context.Context, id int64) (domain.Record, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if f.detailErr != nil {
		return nil, f.detailErr
	}
	rec, ok := f.details[id]
	if !ok {
		return nil, dac.ErrNoData
	}
	return rec.Clone(), nil
}

func (f *fakeLegacy) People(_ context.Context, ids []int64) (map[int64]dac.Person, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peopleCalls++
	f.peopleIDs = append(f.peopleIDs, ids...)
	out := make(map[int64]dac.Person)
	for _, id := range ids {
		if p, ok := f.people[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func newMerger(legacy Legacy) *Merger {
	return New(legacy, cache.NewOwnerCache(16, time.Minute), 4, nil, nil)
}

func TestMergeKeysPresentWhenLegacyFails(t *testing.T) {
	legacy := &fakeLegacy{detailErr: dac.ErrSessionUnavailable}
	rows := []domain.Record{{"id": 1}, {"id": 2, "serie": "A"}, {"invoice_number": "x"}}

	out := newMerger(legacy).Merge(context.Background(), rows)
	require.Len(t, out, 3)
	for _, row := range out {
		for _, key := range domain.EnrichmentKeys {
			assert.Contains(t, row, key)
		}
	}
	assert.Equal(t, "A", out[1]["serie"])
	assert.Nil(t, out[0]["owner_id"])
}

func TestMergePrimaryWins(t *testing.T) {
	legacy := &fakeLegacy{details: map[int64]domain.Record{
		1: {"owner_id": int64(9), "owner_name": "Legacy Name", "cte_id": 100, "serie": "1", "number": 55},
	}}
	rows := []domain.Record{{"id": 1, "owner_name": "Primary Name", "number": 77}}

	out := newMerger(legacy).Merge(context.Background(), rows)
	assert.Equal(t, "Primary Name", out[0]["owner_name"])
	assert.Equal(t, 77, out[0]["number"])
	assert.Equal(t, int64(9), out[0]["owner_id"])
	assert.Equal(t, 100, out[0]["cte_id"])
}

func TestMergeUsesPrimaryOwnerObject(t *testing.T) {
	legacy := &fakeLegacy{details: map[int64]domain.Record{
		1: {"owner_id": int64(9), "owner_name": "Legacy"},
	}}
	rows := []domain.Record{{"id": 1, "owner": map[string]any{"id": int64(3), "nome": "Owner Obj", "cnpj": "111"}}}

	out := newMerger(legacy).Merge(context.Background(), rows)
	assert.Equal(t, int64(3), out[0]["owner_id"])
	assert.Equal(t, "Owner Obj", out[0]["owner_name"])
	assert.Equal(t, "111", out[0]["owner_document"])
	assert.Zero(t, legacy.peopleCalls)
}

func TestMergeBlankValuesFallThrough(t *testing.T) {
	legacy := &fakeLegacy{details: map[int64]domain.Record{
		1: {"owner_id": int64(9), "owner_name": "Legacy Name", "serie": "B"},
	}}
	rows := []domain.Record{{
		"id":         1,
		"owner_name": "",
		"serie":      "  ",
		"owner":      map[string]any{"nome": " ", "razao_social": "Owner Corp"},
	}}

	out := newMerger(legacy).Merge(context.Background(), rows)
	assert.Equal(t, "Owner Corp", out[0]["owner_name"])
	assert.Equal(t, "B", out[0]["serie"])
}

func TestMergeFillsBlankOwnerFromPeople(t *testing.T) {
	legacy := &fakeLegacy{
		details: map[int64]domain.Record{
			1: {"owner_id": int64(5), "owner_name": "", "owner_document": ""},
		},
		people: map[int64]dac.Person{
			5: {ID: 5, Name: "ACME", Document: "123"},
		},
	}
	rows := []domain.Record{{"id": 1, "owner_name": ""}}

	out := newMerger(legacy).Merge(context.Background(), rows)
	assert.Equal(t, 1, legacy.peopleCalls)
	assert.Equal(t, "ACME", out[0]["owner_name"])
	assert.Equal(t, "123", out[0]["owner_document"])
}

func TestMergePreservesOrderAndBoundsConcurrency(t *testing.T) {
	details := make(map[int64]domain.Record)
	var rows []domain.Record
	for i := int64(1); i <= 30; i++ {
		details[i] = domain.Record{"cte_id": i * 10}
		rows = append(rows, domain.Record{"id": i})
	}
	legacy := &fakeLegacy{details: details}

	out := New(legacy, nil, 3, nil, nil).Merge(context.Background(), rows)
	for i, row := range out {
		id, _ := row.ID()
		assert.Equal(t, int64(i+1), id)
		assert.Equal(t, id*10, row["cte_id"])
	}
	assert.LessOrEqual(t, legacy.maxInFlight, 3)
}

func TestMergeBatchesPeopleLookupOnce(t *testing.T) {
	legacy := &fakeLegacy{
		details: map[int64]domain.Record{
			1: {"owner_id": int64(5)},
			2: {"owner_id": int64(5)},
			3: {"owner_id": int64(6)},
			4: {"owner_id": int64(7), "owner_name": "Known", "owner_document": "1"},
		},
		people: map[int64]dac.Person{
			5: {ID: 5, Name: "ACME", Document: "123"},
			6: {ID: 6, Name: "Bob"},
		},
	}
	rows := []domain.Record{{"id": 1}, {"id": 2}, {"id": 3}, {"id": 4}}

	merger := newMerger(legacy)
	out := merger.Merge(context.Background(), rows)
	assert.Equal(t, 1, legacy.peopleCalls)
	assert.ElementsMatch(t, []int64{5, 6}, legacy.peopleIDs)
	assert.Equal(t, "ACME", out[0]["owner_name"])
	assert.Equal(t, "ACME", out[1]["owner_name"])
	assert.Equal(t, "123", out[1]["owner_document"])
	assert.Equal(t, "Bob", out[2]["owner_name"])
	assert.Nil(t, out[2]["owner_document"])

	// Both owners are cached now.
	again := merger.Merge(context.Background(), rows[:3])
	assert.Equal(t, 1, legacy.peopleCalls)
	assert.Equal(t, "Bob", again[2]["owner_name"])
}

func TestEnrichIDsReportsFailures(t *testing.T) {
	legacy := &fakeLegacy{details: map[int64]domain.Record{
		1: {"owner_id": int64(5), "cte_id": 9},
	}}

	data, errs := newMerger(legacy).EnrichIDs(context.Background(), []int64{1, 2})
	require.Len(t, data, 1)
	assert.Equal(t, int64(1), data[0]["id"])
	assert.Equal(t, 9, data[0]["cte_id"])
	require.Len(t, errs, 1)
	assert.Equal(t, int64(2), errs[0].ID)
	assert.NotEmpty(t, errs[0].Error)
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "session", failureReason(dac.ErrSessionUnavailable))
	assert.Equal(t, "http", failureReason(&dac.HTTPError{Status: 502}))
	assert.Equal(t, "business", failureReason(&dac.BusinessError{}))
	assert.Equal(t, "timeout", failureReason(context.DeadlineExceeded))
	assert.Equal(t, "transport", failureReason(errors.New("dial tcp")))
}
