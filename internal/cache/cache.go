package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultSize = 1024
	defaultTTL  = 10 * time.Minute
)

// Cache is a bounded in-process key/value store with expiry.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V)
	Len() int
}

type lruCache[K comparable, V any] struct {
	lru *expirable.LRU[K, V]
}

// NewLRU returns a size-bounded cache whose entries expire after ttl.
func NewLRU[K comparable, V any](size int, ttl time.Duration) Cache[K, V] {
	if size <= 0 {
		size = defaultSize
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &lruCache[K, V]{lru: expirable.NewLRU[K, V](size, nil, ttl)}
}

func (c *lruCache[K, V]) Get(key K) (V, bool) {
	return c.lru.Get(key)
}

func (c *lruCache[K, V]) Set(key K, value V) {
	c.lru.Add(key, value)
}

func (c *lruCache[K, V]) Len() int {
	return c.lru.Len()
}
