package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tannaco/paygate/internal/payment"
	"github.com/tannaco/paygate/internal/receipt"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const selectReceiptColumns = `
	id, receipt_number, transaction_id, customer_name, customer_email, customer_phone,
	status, amount, currency, kind, paid_at, created_at
`

// CreateIfAbsent inserts the receipt unless the transaction already has
// one. The unique constraint on transaction_id makes duplicate settlement
// reports collapse to a single row.
func (s *Store) CreateIfAbsent(ctx context.Context, r *receipt.Receipt) (*receipt.Receipt, bool, error) {
	query := `
		INSERT INTO payment_receipts (
			receipt_number, transaction_id, customer_name, customer_email, customer_phone,
			status, amount, currency, kind, paid_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (transaction_id) DO NOTHING
		RETURNING id, created_at
	`

	err := s.db.QueryRowContext(ctx, query,
		r.ReceiptNumber, r.TransactionID, r.CustomerName, r.CustomerEmail,
		nullable(r.CustomerPhone), r.Status, r.Amount, r.Currency, r.Kind, r.PaidAt,
	).Scan(&r.ID, &r.CreatedAt)

	if err == nil {
		return r, true, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("creating receipt: %w", err)
	}

	// Conflict path: another delivery won the insert.
	existing, err := s.GetByTransaction(ctx, r.TransactionID)
	if err != nil {
		return nil, false, err
	}

	return existing, false, nil
}

func (s *Store) GetByTransaction(ctx context.Context, transactionID uuid.UUID) (*receipt.Receipt, error) {
	query := `SELECT ` + selectReceiptColumns + ` FROM payment_receipts WHERE transaction_id = $1`

	var r receipt.Receipt

	var phone sql.NullString

	var statusStr, kindStr string

	err := s.db.QueryRowContext(ctx, query, transactionID).Scan(
		&r.ID, &r.ReceiptNumber, &r.TransactionID, &r.CustomerName, &r.CustomerEmail, &phone,
		&statusStr, &r.Amount, &r.Currency, &kindStr, &r.PaidAt, &r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, receipt.ErrNotFound
		}

		return nil, fmt.Errorf("getting receipt: %w", err)
	}

	r.CustomerPhone = phone.String
	r.Status = receipt.Status(statusStr)
	r.Kind = payment.Kind(kindStr)

	return &r, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
