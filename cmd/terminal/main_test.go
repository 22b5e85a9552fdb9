package main

import (
	"context"
	"testing"
	"time"

	"kasirinaja/terminal/internal/cache"
	"kasirinaja/terminal/internal/config"
	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/store/memory"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	cases := []config.Config{
		{AuthSecret: "short", ManagerPIN: "739154"},
		{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: ""},
		{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "123456"},
		{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "777777"},
		{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "876543"},
		{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "73a154"},
	}
	for _, cfg := range cases {
		if err := validateSecurityConfig(cfg); err == nil {
			t.Fatalf("expected config with pin %q to be rejected", cfg.ManagerPIN)
		}
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "739154"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

type mapCache struct {
	stored map[string]*domain.Product
}

func (c *mapCache) Get(_ context.Context, key string) (*domain.Product, bool, error) {
	p, ok := c.stored[key]
	return p, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value *domain.Product, _ time.Duration) error {
	c.stored[key] = value
	return nil
}

func TestOpenRepositoryFallsBackToSeededMemory(t *testing.T) {
	repo, users, closers := openRepository(context.Background(), config.Config{}, nil)
	if len(closers) != 0 {
		t.Fatalf("expected no closers for memory store")
	}
	if _, ok := repo.(*memory.Store); !ok {
		t.Fatalf("expected memory repository, got %T", repo)
	}
	accounts, err := users.ListUsers(context.Background())
	if err != nil || len(accounts) == 0 {
		t.Fatalf("expected seeded accounts, got %v %v", accounts, err)
	}
}

func TestCachedRepositoryServesBarcodeFromCache(t *testing.T) {
	mem := memory.NewSeeded()
	c := &mapCache{stored: map[string]*domain.Product{}}
	repo := cachedRepository{Repository: mem, lookup: cache.NewCachedLookup(mem, c, time.Minute)}

	product, err := repo.FindByBarcode(context.Background(), "8991002101234")
	if err != nil || product.ID != "prd-mie" {
		t.Fatalf("unexpected lookup %+v %v", product, err)
	}
	if len(c.stored) != 1 {
		t.Fatalf("expected lookup to populate the cache, got %d entries", len(c.stored))
	}
}
