package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kasirinaja/terminal/internal/barcode"
	"kasirinaja/terminal/internal/cache"
	"kasirinaja/terminal/internal/config"
	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/httpapi"
	"kasirinaja/terminal/internal/metrics"
	"kasirinaja/terminal/internal/service"
	"kasirinaja/terminal/internal/store"
	"kasirinaja/terminal/internal/store/memory"
	pgstore "kasirinaja/terminal/internal/store/postgres"
	"kasirinaja/terminal/internal/store/remote"
	"kasirinaja/terminal/internal/ws"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m := metrics.New()
	repo, users, closers := openRepository(ctx, cfg, m)

	productCache := cache.ProductCache(cache.NoopProductCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisProductCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop cache", err)
		} else {
			productCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("cache: redis")
		}
	} else {
		log.Println("cache: noop")
	}
	repo = cachedRepository{
		Repository: repo,
		lookup:     cache.NewCachedLookup(repo, productCache, cfg.ProductCacheTTL),
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := ws.NewHub()
	go hub.Run(hubCtx)

	sessions := service.NewRegistry(repo, service.Options{
		Location: cfg.Location,
		Barcode: barcode.Config{
			TargetLength: cfg.BarcodeTargetLength,
			SettleDelay:  cfg.BarcodeSettleDelay,
			MaxFailures:  cfg.BarcodeMaxFailures,
			AutoSubmit:   cfg.BarcodeAutoSubmit,
		},
		CustomerSearchDelay:  cfg.CustomerSearchDelay,
		RolloverRebuildDelay: cfg.RolloverRebuildDelay,
		RefreshInterval:      cfg.AggregateRefresh,
		Notifier:             hub,
		Recorder:             m,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, users)
	api := httpapi.New(sessions, auth, cfg.AllowedOrigin).
		WithEventFeed(hub).
		WithMetrics(m)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("POS terminal listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	sessions.CloseAll()
	stopHub()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("terminal stopped")
}

// openRepository picks postgres, then the backend API, then the seeded
// in-memory store. Accounts live next to the invoices except in remote
// mode, where the terminal keeps its own local accounts.
func openRepository(ctx context.Context, cfg config.Config, m *metrics.Metrics) (store.Repository, store.UserStore, []func() error) {
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			log.Fatalf("postgres schema: %v", err)
		}
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
		return pg, pg, closers
	}

	if cfg.BackendURL != "" {
		client, err := remote.New(remote.Config{
			BaseURL:              cfg.BackendURL,
			Token:                cfg.BackendToken,
			Timeout:              cfg.BackendTimeout,
			OnBreakerStateChange: m.SetCircuitBreakerState,
		})
		if err != nil {
			log.Fatalf("backend api: %v", err)
		}
		log.Printf("repository: backend api %s", cfg.BackendURL)
		return client, memory.NewSeeded(), closers
	}

	mem := memory.NewSeeded()
	log.Println("repository: in-memory")
	return mem, mem, closers
}

// cachedRepository routes barcode lookups through the product cache.
type cachedRepository struct {
	store.Repository
	lookup *cache.CachedLookup
}

func (r cachedRepository) FindByBarcode(ctx context.Context, code string) (*domain.Product, error) {
	return r.lookup.FindByBarcode(ctx, code)
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects common, repeated and sequential PINs.
func validatePINStrength(pin string) error {
	for _, r := range pin {
		if r < '0' || r > '9' {
			return fmt.Errorf("PIN must contain digits only")
		}
	}

	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "121212": true,
		"112233": true, "123123": true, "147258": true, "159753": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("repeated digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
