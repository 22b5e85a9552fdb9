package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrNetwork            = errors.New("store unreachable")
	ErrRetryLimitExceeded = errors.New("retry limit exceeded")
	ErrRequestInFlight    = errors.New("request already in flight")
)

var (
	ErrInvalidReturnQuantity = fmt.Errorf("%w: invalid return quantity", ErrValidation)
	ErrEmptyReturn           = fmt.Errorf("%w: nothing selected for return", ErrValidation)
	ErrEmptyCart             = fmt.Errorf("%w: cart is empty", ErrValidation)
	ErrInvalidBarcode        = fmt.Errorf("%w: malformed barcode", ErrValidation)
	ErrInvalidPhone          = fmt.Errorf("%w: malformed phone number", ErrValidation)
	ErrInvalidPayment        = fmt.Errorf("%w: invalid payment", ErrValidation)
	ErrInvalidQuantity       = fmt.Errorf("%w: invalid quantity", ErrValidation)

	ErrProductNotFound = fmt.Errorf("product %w", ErrNotFound)
	ErrInvoiceNotFound = fmt.Errorf("invoice %w", ErrNotFound)
)
