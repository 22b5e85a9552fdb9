package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"kasirinaja/terminal/internal/debounce"
	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/store/memory"
)

func TestRegistryKeepsOneSessionPerCashier(t *testing.T) {
	sched := debounce.NewManualScheduler(time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC))
	registry := NewRegistry(memory.NewSeeded(), Options{Location: time.UTC, Now: sched.Now, AfterFunc: sched.AfterFunc})
	t.Cleanup(registry.CloseAll)
	ctx := context.Background()

	first, err := registry.Session(ctx, "kasir")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	again, _ := registry.Session(ctx, " kasir ")
	if first != again {
		t.Fatalf("expected the same session for the same cashier")
	}
	other, _ := registry.Session(ctx, "kasir-2")
	if other == first || other.CashierID() != "kasir-2" {
		t.Fatalf("expected a separate session per cashier")
	}

	fromActor, err := registry.ForActor(WithActor(ctx, domain.Actor{Username: "kasir", Role: "cashier"}))
	if err != nil || fromActor != first {
		t.Fatalf("expected actor lookup to reuse the session, got %v", err)
	}
	if _, err := registry.ForActor(ctx); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected missing actor to fail, got %v", err)
	}
	if _, err := registry.Session(ctx, " "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected blank cashier to fail, got %v", err)
	}

	registry.Close("kasir")
	if _, ok := registry.Lookup("kasir"); ok {
		t.Fatalf("expected closed session to be dropped")
	}
	if _, ok := registry.Lookup("kasir-2"); !ok {
		t.Fatalf("expected other session to survive")
	}
}
