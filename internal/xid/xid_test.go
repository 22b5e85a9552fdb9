package xid

import (
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	a := New("inv")
	b := New("inv")
	if !strings.HasPrefix(a, "inv-") {
		t.Fatalf("expected inv- prefix, got %q", a)
	}
	if a == b {
		t.Fatalf("expected distinct ids, got %q twice", a)
	}
}

func TestQuickInvoiceNumberFormat(t *testing.T) {
	now := time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC)
	pattern := regexp.MustCompile(`^INV-20260307-\d{4}$`)
	for i := 0; i < 50; i++ {
		got := QuickInvoiceNumber(now)
		if !pattern.MatchString(got) {
			t.Fatalf("unexpected quick invoice number %q", got)
		}
	}
}

func TestFormalInvoiceNumberUsesLastSixMillisDigits(t *testing.T) {
	now := time.UnixMilli(1_772_870_123_456)
	if got := FormalInvoiceNumber(now); got != "INV-123456" {
		t.Fatalf("expected INV-123456, got %q", got)
	}

	padded := time.UnixMilli(1_772_870_000_042)
	if got := FormalInvoiceNumber(padded); got != "INV-000042" {
		t.Fatalf("expected zero padded number, got %q", got)
	}
}
