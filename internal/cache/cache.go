package cache

import (
	"context"
	"log"
	"time"

	"kasirinaja/terminal/internal/domain"
)

type ProductCache interface {
	Get(ctx context.Context, barcode string) (*domain.Product, bool, error)
	Set(ctx context.Context, barcode string, value *domain.Product, ttl time.Duration) error
}

type NoopProductCache struct{}

func (NoopProductCache) Get(_ context.Context, _ string) (*domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopProductCache) Set(_ context.Context, _ string, _ *domain.Product, _ time.Duration) error {
	return nil
}

type ProductLookup interface {
	FindByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
}

// CachedLookup consults the cache before the wrapped lookup. Misses are not
// cached so a product created after a failed scan resolves on the next try.
type CachedLookup struct {
	next  ProductLookup
	cache ProductCache
	ttl   time.Duration
}

func NewCachedLookup(next ProductLookup, cache ProductCache, ttl time.Duration) *CachedLookup {
	if cache == nil {
		cache = NoopProductCache{}
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedLookup{next: next, cache: cache, ttl: ttl}
}

func (c *CachedLookup) FindByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	if cached, ok, err := c.cache.Get(ctx, key(barcode)); err != nil {
		log.Printf("[cache] WARN: product cache get failed: %v", err)
	} else if ok {
		return cached, nil
	}

	product, err := c.next.FindByBarcode(ctx, barcode)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key(barcode), product, c.ttl); err != nil {
		log.Printf("[cache] WARN: product cache set failed: %v", err)
	}
	return product, nil
}

func (c *CachedLookup) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return c.next.ListProducts(ctx)
}

func key(barcode string) string {
	return "kasirinaja:product:" + barcode
}
