package billing

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/covercheck/covercheck-backend/pkg/db/models"
)

const invoiceNumberPrefix = "INV"

// FormatInvoiceNumber renders a number like INV-2026-000042.
func FormatInvoiceNumber(year int, sequence int64) string {
	return fmt.Sprintf("%s-%d-%06d", invoiceNumberPrefix, year, sequence)
}

// ParseInvoiceSequence extracts the numeric suffix from an invoice number.
// Malformed numbers yield 0 so a bad historic row cannot wedge allocation.
func ParseInvoiceSequence(number string) int64 {
	parts := strings.Split(number, "-")
	if len(parts) != 3 {
		return 0
	}
	seq, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || seq < 0 {
		return 0
	}
	return seq
}

// NextInvoiceNumber allocates the next per-year sequence. The row scan runs
// FOR UPDATE inside the caller's transaction so concurrent schedulers
// serialize on the year's latest invoice; the unique index on number backs
// this up if two transactions still race past each other.
func (r *repository) NextInvoiceNumber(ctx context.Context, issuedAt time.Time) (string, error) {
	year := issuedAt.UTC().Year()
	prefix := fmt.Sprintf("%s-%d-", invoiceNumberPrefix, year)

	// Sequences are zero padded to six digits, so plain string order holds
	// until a year crosses 999999. Ordering by length first keeps longer,
	// therefore larger, sequences ahead after that point.
	query := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("number LIKE ?", prefix+"%").
		Order("length(number) DESC").
		Order("number DESC")
	if r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var latest models.Invoice
	err := query.First(&latest).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		return FormatInvoiceNumber(year, 1), nil
	case err != nil:
		return "", fmt.Errorf("scanning invoice numbers: %w", err)
	}

	return FormatInvoiceNumber(year, ParseInvoiceSequence(latest.Number)+1), nil
}
