// Package receipt issues payment receipts for settled transactions. A
// transaction gets at most one receipt however many times settlement is
// reported; the store enforces that with a lookup-or-create keyed on the
// transaction id.
package receipt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tannaco/paygate/internal/payment"
)

var ErrNotFound = errors.New("receipt: not found")

type Status string

const (
	StatusIssued Status = "issued"
	StatusVoid   Status = "void"
)

// Receipt is an immutable snapshot of a settled payment.
type Receipt struct {
	ID            uuid.UUID
	ReceiptNumber string
	TransactionID uuid.UUID

	CustomerName  string
	CustomerEmail string
	CustomerPhone string

	Status   Status
	Amount   decimal.Decimal
	Currency string
	Kind     payment.Kind
	PaidAt   *time.Time

	CreatedAt time.Time
}

type Repository interface {
	// CreateIfAbsent persists the receipt unless one already exists for
	// its transaction, returning the stored receipt and whether this call
	// created it.
	CreateIfAbsent(ctx context.Context, r *Receipt) (*Receipt, bool, error)
	GetByTransaction(ctx context.Context, transactionID uuid.UUID) (*Receipt, error)
}

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Issue creates the receipt for a successful transaction, exactly once.
// Re-issuing for the same transaction returns the existing receipt.
func (s *Service) Issue(ctx context.Context, tx *payment.Transaction) (*Receipt, bool, error) {
	r := &Receipt{
		ReceiptNumber: newReceiptNumber(s.now()),
		TransactionID: tx.ID,
		CustomerName:  tx.CustomerName,
		CustomerEmail: tx.CustomerEmail,
		CustomerPhone: tx.CustomerPhone,
		Status:        StatusIssued,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Kind:          tx.Kind,
		PaidAt:        tx.PaidAt,
	}

	stored, created, err := s.repo.CreateIfAbsent(ctx, r)
	if err != nil {
		return nil, false, fmt.Errorf("issuing receipt: %w", err)
	}

	return stored, created, nil
}

func newReceiptNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])

	return fmt.Sprintf("PAY-RCP-%s-%s", now.Format("20060102"), suffix)
}
