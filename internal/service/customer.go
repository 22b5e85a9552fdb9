package service

import (
	"fmt"
	"strings"

	"kasirinaja/terminal/internal/domain"
)

const (
	minPhoneDigits = 8
	maxPhoneDigits = 15
)

// NormalizePhone drops spaces, dashes, dots and parentheses. A single leading
// plus is kept; anything else that is not a digit is rejected.
func NormalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}

	var b strings.Builder
	digits := 0
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", fmt.Errorf("%w: unexpected %q in %q", domain.ErrInvalidPhone, r, raw)
		}
	}
	if digits < minPhoneDigits || digits > maxPhoneDigits {
		return "", fmt.Errorf("%w: %q has %d digits", domain.ErrInvalidPhone, raw, digits)
	}
	return b.String(), nil
}

// normalizeCustomer returns nil for a walk-in sale.
func normalizeCustomer(customer *domain.CustomerRef) (*domain.CustomerRef, error) {
	if customer == nil {
		return nil, nil
	}
	normalized := domain.CustomerRef{
		ID:   strings.TrimSpace(customer.ID),
		Name: strings.TrimSpace(customer.Name),
	}
	phone, err := NormalizePhone(customer.Phone)
	if err != nil {
		return nil, err
	}
	normalized.Phone = phone
	if normalized.ID == "" && normalized.Name == "" && normalized.Phone == "" {
		return nil, nil
	}
	return &normalized, nil
}
