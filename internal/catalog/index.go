package catalog

import (
	"context"
	"sync"

	"kasirinaja/terminal/internal/domain"
)

type ProductLister interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
}

// Index is the terminal's local product table keyed by barcode. Stock counts
// here are a provisional projection; Reload overwrites them with the store's.
type Index struct {
	mu        sync.RWMutex
	byID      map[string]domain.Product
	byBarcode map[string]string
}

func NewIndex() *Index {
	return &Index{
		byID:      make(map[string]domain.Product),
		byBarcode: make(map[string]string),
	}
}

// Load replaces the whole index.
func (i *Index) Load(products []domain.Product) {
	byID := make(map[string]domain.Product, len(products))
	byBarcode := make(map[string]string, len(products))
	for _, p := range products {
		if !p.Active {
			continue
		}
		byID[p.ID] = p
		if p.Barcode != "" {
			byBarcode[p.Barcode] = p.ID
		}
	}

	i.mu.Lock()
	i.byID = byID
	i.byBarcode = byBarcode
	i.mu.Unlock()
}

func (i *Index) Reload(ctx context.Context, lister ProductLister) error {
	products, err := lister.ListProducts(ctx)
	if err != nil {
		return err
	}
	i.Load(products)
	return nil
}

// Put adds a product learned from a fallback lookup.
func (i *Index) Put(p domain.Product) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if old, ok := i.byID[p.ID]; ok && old.Barcode != p.Barcode {
		delete(i.byBarcode, old.Barcode)
	}
	i.byID[p.ID] = p
	if p.Barcode != "" {
		i.byBarcode[p.Barcode] = p.ID
	}
}

func (i *Index) Lookup(barcode string) (domain.Product, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	id, ok := i.byBarcode[barcode]
	if !ok {
		return domain.Product{}, false
	}
	p, ok := i.byID[id]
	return p, ok
}

func (i *Index) Product(id string) (domain.Product, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	p, ok := i.byID[id]
	return p, ok
}

// DecrementStock applies sold quantities, clamping at zero. Unknown
// products are skipped.
func (i *Index) DecrementStock(sold map[string]int) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for id, qty := range sold {
		p, ok := i.byID[id]
		if !ok {
			continue
		}
		p.Stock = max(p.Stock-qty, 0)
		i.byID[id] = p
	}
}

func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.byID)
}
