package xid

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// New returns a prefixed random id such as "inv-3f2a...".
func New(prefix string) string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%s", prefix, id.String())
}

// QuickInvoiceNumber formats INV-YYYYMMDD-NNNN with a random 4-digit suffix.
func QuickInvoiceNumber(now time.Time) string {
	return fmt.Sprintf("INV-%s-%04d", now.Format("20060102"), randomBelow(10000, now))
}

// FormalInvoiceNumber formats INV-<last 6 digits of epoch milliseconds>.
func FormalInvoiceNumber(now time.Time) string {
	return fmt.Sprintf("INV-%06d", now.UnixMilli()%1_000_000)
}

func randomBelow(limit int64, now time.Time) int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(limit))
	if err != nil {
		return now.UnixNano() % limit
	}
	return n.Int64()
}
