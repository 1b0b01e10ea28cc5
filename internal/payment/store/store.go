package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tannaco/paygate/internal/payment"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const selectTransactionColumns = `
	id, transaction_id, reference, upstream_ref, type, kind, status,
	amount, currency, fee, net_amount,
	order_id, invoice_id, event_id, receipt_id,
	customer_email, customer_name, customer_phone,
	gateway_customer_id, gateway_payment_method_id, gateway_charge_id,
	idempotency_cache_hit, failure_reason,
	created_at, updated_at, paid_at, expires_at
`

func scanTransaction(s scanner) (*payment.Transaction, error) {
	var tx payment.Transaction

	var typeStr, kindStr, statusStr string

	var upstreamRef, phone, custID, pmID, chargeID, failureReason sql.NullString

	if err := s.Scan(
		&tx.ID, &tx.TransactionID, &tx.Reference, &upstreamRef, &typeStr, &kindStr, &statusStr,
		&tx.Amount, &tx.Currency, &tx.Fee, &tx.NetAmount,
		&tx.OrderID, &tx.InvoiceID, &tx.EventID, &tx.ReceiptID,
		&tx.CustomerEmail, &tx.CustomerName, &phone,
		&custID, &pmID, &chargeID,
		&tx.IdempotencyCacheHit, &failureReason,
		&tx.CreatedAt, &tx.UpdatedAt, &tx.PaidAt, &tx.ExpiresAt,
	); err != nil {
		return nil, err
	}

	tx.Type = payment.Type(typeStr)
	tx.Kind = payment.Kind(kindStr)
	tx.Status = payment.Status(statusStr)
	tx.UpstreamRef = upstreamRef.String
	tx.CustomerPhone = phone.String
	tx.CustomerID = custID.String
	tx.PaymentMethodID = pmID.String
	tx.ChargeID = chargeID.String
	tx.FailureReason = failureReason.String

	return &tx, nil
}

func (s *Store) CreateTransaction(ctx context.Context, tx *payment.Transaction) error {
	query := `
		INSERT INTO payment_transactions (
			transaction_id, reference, upstream_ref, type, kind, status,
			amount, currency, fee, net_amount,
			order_id, invoice_id, event_id, receipt_id,
			customer_email, customer_name, customer_phone,
			gateway_customer_id, gateway_payment_method_id, gateway_charge_id,
			idempotency_cache_hit, failure_reason, expires_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`

	err := s.db.QueryRowContext(ctx, query,
		tx.TransactionID, tx.Reference, nullable(tx.UpstreamRef), tx.Type, tx.Kind, tx.Status,
		tx.Amount, tx.Currency, tx.Fee, tx.NetAmount,
		tx.OrderID, tx.InvoiceID, tx.EventID, tx.ReceiptID,
		tx.CustomerEmail, tx.CustomerName, nullable(tx.CustomerPhone),
		nullable(tx.CustomerID), nullable(tx.PaymentMethodID), nullable(tx.ChargeID),
		tx.IdempotencyCacheHit, nullable(tx.FailureReason), tx.ExpiresAt,
	).Scan(&tx.ID, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating transaction: %w", err)
	}

	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*payment.Transaction, error) {
	query := `SELECT ` + selectTransactionColumns + ` FROM payment_transactions WHERE id = $1`

	tx, err := scanTransaction(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, payment.ErrNotFound
		}

		return nil, fmt.Errorf("getting transaction: %w", err)
	}

	return tx, nil
}

func (s *Store) GetByReference(ctx context.Context, reference string) (*payment.Transaction, error) {
	query := `SELECT ` + selectTransactionColumns + ` FROM payment_transactions WHERE reference = $1`

	tx, err := scanTransaction(s.db.QueryRowContext(ctx, query, reference))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, payment.ErrNotFound
		}

		return nil, fmt.Errorf("getting transaction by reference: %w", err)
	}

	return tx, nil
}

func (s *Store) UpdateTransaction(ctx context.Context, tx *payment.Transaction) error {
	query := `
		UPDATE payment_transactions
		SET upstream_ref = $1, status = $2, amount = $3, fee = $4, net_amount = $5,
			gateway_customer_id = $6, gateway_payment_method_id = $7, gateway_charge_id = $8,
			idempotency_cache_hit = $9, failure_reason = $10, updated_at = NOW()
		WHERE id = $11
	`

	_, err := s.db.ExecContext(ctx, query,
		nullable(tx.UpstreamRef), tx.Status, tx.Amount, tx.Fee, tx.NetAmount,
		nullable(tx.CustomerID), nullable(tx.PaymentMethodID), nullable(tx.ChargeID),
		tx.IdempotencyCacheHit, nullable(tx.FailureReason), tx.ID,
	)
	if err != nil {
		return fmt.Errorf("updating transaction: %w", err)
	}

	return nil
}

// TransitionStatus applies a compare-and-set status change: only
// non-terminal transactions move. This is what keeps a racing webhook and
// verify call from double-finalizing, and a late verify from resurrecting
// a cancelled or expired transaction.
func (s *Store) TransitionStatus(ctx context.Context, id uuid.UUID, status payment.Status, failureReason string) error {
	query := `
		UPDATE payment_transactions
		SET status = $1,
			failure_reason = COALESCE(NULLIF($2, ''), failure_reason),
			paid_at = CASE WHEN $1 = 'successful' THEN NOW() ELSE paid_at END,
			updated_at = NOW()
		WHERE id = $3
		  AND status NOT IN ('successful', 'failed', 'cancelled', 'expired', 'reversed')
	`

	res, err := s.db.ExecContext(ctx, query, status, failureReason, id)
	if err != nil {
		return fmt.Errorf("transitioning status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}

	if n == 0 {
		// Either the row is gone or it already reached a terminal state.
		if _, err := s.GetTransaction(ctx, id); err != nil {
			return err
		}

		return payment.ErrTerminal
	}

	return nil
}

func (s *Store) ListTransactions(ctx context.Context, filter payment.ListFilter) ([]*payment.Transaction, error) {
	query := `SELECT ` + selectTransactionColumns + ` FROM payment_transactions WHERE 1=1`

	var args []any

	argIdx := 1

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)

		args = append(args, *filter.Status)
		argIdx++
	}

	if filter.Type != nil {
		query += fmt.Sprintf(" AND type = $%d", argIdx)

		args = append(args, *filter.Type)
		argIdx++
	}

	if filter.Kind != nil {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)

		args = append(args, *filter.Kind)
		argIdx++
	}

	if filter.StartDate != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)

		args = append(args, *filter.StartDate)
		argIdx++
	}

	if filter.EndDate != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)

		args = append(args, *filter.EndDate)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var txs []*payment.Transaction

	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}

		txs = append(txs, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transaction rows: %w", err)
	}

	return txs, nil
}

func (s *Store) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE payment_transactions
		SET status = 'expired', updated_at = NOW()
		WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at < $1
	`

	res, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("expiring pending transactions: %w", err)
	}

	return res.RowsAffected()
}

func (s *Store) GetMethodConfig(ctx context.Context, kind payment.Kind, currency string) (*payment.MethodConfig, error) {
	query := `
		SELECT id, name, kind, gateway_code, country_code, currency,
			min_amount, max_amount, processing_fee, fixed_fee, is_active
		FROM payment_method_configs
		WHERE kind = $1 AND currency = $2 AND is_active = TRUE
		ORDER BY name
		LIMIT 1
	`

	var cfg payment.MethodConfig

	var kindStr string

	var maxAmount decimal.NullDecimal

	err := s.db.QueryRowContext(ctx, query, kind, currency).Scan(
		&cfg.ID, &cfg.Name, &kindStr, &cfg.GatewayCode, &cfg.CountryCode, &cfg.Currency,
		&cfg.MinAmount, &maxAmount, &cfg.ProcessingFee, &cfg.FixedFee, &cfg.Active,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, payment.ErrNotFound
		}

		return nil, fmt.Errorf("getting method config: %w", err)
	}

	cfg.Kind = payment.Kind(kindStr)
	if maxAmount.Valid {
		cfg.MaxAmount = &maxAmount.Decimal
	}

	return &cfg, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
