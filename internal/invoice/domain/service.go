package domain

import (
	"context"

	"github.com/smallbiznis/billingops/pkg/db/pagination"
)

const (
	StrategyRange = "range"
	StrategyPaged = "paged"
)

// MaxListLimit bounds a single list response.
const MaxListLimit = 10000

type SearchRequest struct {
	Status     *Status
	NumberFrom *int64
	NumberTo   *int64
	// Params are forwarded to the upstream search untouched.
	Params   map[string]string
	MaxPages int
}

type SearchResponse struct {
	Data         []Record `json:"data"`
	Wrote        int      `json:"wrote"`
	FetchedTotal int      `json:"fetched_total"`
	Strategy     string   `json:"strategy"`
	Calls        int      `json:"calls"`
}

type ListRequest struct {
	Status     *Status
	NumberFrom *int64
	NumberTo   *int64
	OwnerCNPJ  string
	PageToken  string
	PageSize   int
}

type ListFilter struct {
	Status     *Status
	NumberFrom *int64
	NumberTo   *int64
	OwnerCNPJ  string
}

type ListResponse struct {
	pagination.PageInfo
	Data []Invoice `json:"data"`
}

type SyncRequest struct {
	Status   *Status
	MaxPages int
}

type SyncResponse struct {
	FetchedPages int     `json:"fetched_pages"`
	FetchedTotal int     `json:"fetched_total"`
	Wrote        int     `json:"wrote"`
	SampleIDs    []int64 `json:"sample_ids"`
}

type EnrichError struct {
	ID    int64  `json:"id"`
	Error string `json:"error"`
}

type EnrichResponse struct {
	Data   []Record      `json:"data"`
	Errors []EnrichError `json:"errors"`
}

type Service interface {
	Search(context.Context, SearchRequest) (SearchResponse, error)
	List(context.Context, ListRequest) (ListResponse, error)
	Sync(context.Context, SyncRequest) (SyncResponse, error)
	Enrich(context.Context, []int64) (EnrichResponse, error)
}
