package invoice

import "kasirinaja/terminal/internal/domain"

func Classify(inv domain.Invoice) string {
	anyReturned := false
	allReturned := len(inv.Items) > 0
	for _, item := range inv.Items {
		if item.ReturnedQuantity > 0 {
			anyReturned = true
		}
		if item.ReturnedQuantity < item.Quantity {
			allReturned = false
		}
	}
	switch {
	case !anyReturned:
		return domain.NonReturned
	case allReturned:
		return domain.FullyReturned
	default:
		return domain.PartiallyReturned
	}
}

// MatchesClassification reports whether inv passes a classification filter.
// An empty filter matches everything.
func MatchesClassification(inv domain.Invoice, classification string) bool {
	if classification == "" {
		return true
	}
	return Classify(inv) == classification
}

func IsValidClassification(classification string) bool {
	switch classification {
	case "", domain.NonReturned, domain.PartiallyReturned, domain.FullyReturned:
		return true
	default:
		return false
	}
}
