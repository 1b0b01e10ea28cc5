package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=service.go -destination=repository_mock.go -package=payment
type Repository interface {
	CreateTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error)
	GetByReference(ctx context.Context, reference string) (*Transaction, error)
	UpdateTransaction(ctx context.Context, tx *Transaction) error

	// TransitionStatus moves a transaction to the given status only when
	// its current status is non-terminal, returning ErrTerminal on a lost
	// race. failureReason is recorded for failed transitions.
	TransitionStatus(ctx context.Context, id uuid.UUID, status Status, failureReason string) error

	ListTransactions(ctx context.Context, filter ListFilter) ([]*Transaction, error)

	// ExpirePending marks pending transactions whose ExpiresAt has passed
	// as expired, returning how many rows moved.
	ExpirePending(ctx context.Context, now time.Time) (int64, error)

	GetMethodConfig(ctx context.Context, kind Kind, currency string) (*MethodConfig, error)
}

type Service struct {
	repo          Repository
	pendingWindow time.Duration
	now           func() time.Time
}

// NewService builds a Service. pendingWindow is how long a new pending
// transaction stays chargeable; non-positive values fall back to
// PendingWindow.
func NewService(repo Repository, pendingWindow time.Duration) *Service {
	if pendingWindow <= 0 {
		pendingWindow = PendingWindow
	}

	return &Service{repo: repo, pendingWindow: pendingWindow, now: time.Now}
}

type CreateParams struct {
	Type      Type
	Kind      Kind
	Amount    decimal.Decimal
	Currency  string
	Reference string // optional; generated when empty

	OrderID   *uuid.UUID
	InvoiceID *uuid.UUID
	EventID   *uuid.UUID

	CustomerEmail string
	CustomerName  string
	CustomerPhone string
}

type ListFilter struct {
	Status    *Status
	Type      *Type
	Kind      *Kind
	StartDate *time.Time
	EndDate   *time.Time
}

// Create validates and persists a new pending transaction. The fee is
// taken from the rail's method config when one exists; netAmount is
// always recomputed from amount and fee.
func (s *Service) Create(ctx context.Context, params CreateParams) (*Transaction, error) {
	now := s.now()

	reference := params.Reference
	if reference == "" {
		reference = NewReference(now)
	}

	tx := &Transaction{
		TransactionID: NewTransactionID(now),
		Reference:     SanitizeReference(reference),
		Type:          params.Type,
		Kind:          params.Kind,
		Status:        StatusPending,
		Amount:        params.Amount,
		Currency:      params.Currency,
		OrderID:       params.OrderID,
		InvoiceID:     params.InvoiceID,
		EventID:       params.EventID,
		CustomerEmail: params.CustomerEmail,
		CustomerName:  params.CustomerName,
		CustomerPhone: params.CustomerPhone,
	}

	if n := linkCount(tx); n > 1 {
		return nil, fmt.Errorf("payment: transaction may link at most one entity, got %d", n)
	}

	cfg, err := s.repo.GetMethodConfig(ctx, params.Kind, params.Currency)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if cfg != nil {
		if err := cfg.CheckAmount(params.Amount); err != nil {
			return nil, err
		}

		tx.Fee = cfg.Fee(params.Amount)
	}

	tx.RecomputeNet()

	if err := tx.ValidateRequired(); err != nil {
		return nil, err
	}

	expires := now.Add(s.pendingWindow)
	tx.ExpiresAt = &expires

	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		return nil, err
	}

	return tx, nil
}

func linkCount(tx *Transaction) int {
	n := 0
	for _, id := range []*uuid.UUID{tx.OrderID, tx.InvoiceID, tx.EventID, tx.ReceiptID} {
		if id != nil {
			n++
		}
	}

	return n
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return s.repo.GetTransaction(ctx, id)
}

func (s *Service) GetByReference(ctx context.Context, reference string) (*Transaction, error) {
	return s.repo.GetByReference(ctx, SanitizeReference(reference))
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Transaction, error) {
	return s.repo.ListTransactions(ctx, filter)
}

// Update persists mutable fields of a transaction, re-enforcing the
// netAmount invariant first.
func (s *Service) Update(ctx context.Context, tx *Transaction) error {
	tx.RecomputeNet()

	return s.repo.UpdateTransaction(ctx, tx)
}

// MarkSuccessful finalizes a transaction. An expired pending transaction
// is never resurrected: it is moved to expired instead and ErrTerminal is
// returned.
func (s *Service) MarkSuccessful(ctx context.Context, id uuid.UUID) error {
	tx, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return err
	}

	if tx.Status == StatusPending && tx.Expired(s.now()) {
		if err := s.repo.TransitionStatus(ctx, id, StatusExpired, ""); err != nil {
			return err
		}

		slog.Info("refused to finalize expired transaction", "transaction_id", tx.TransactionID)

		return ErrTerminal
	}

	return s.repo.TransitionStatus(ctx, id, StatusSuccessful, "")
}

func (s *Service) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return s.repo.TransitionStatus(ctx, id, StatusFailed, reason)
}

func (s *Service) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return s.repo.TransitionStatus(ctx, id, StatusProcessing, "")
}

// MarkExpired moves a pending transaction past its window to expired.
func (s *Service) MarkExpired(ctx context.Context, id uuid.UUID) error {
	return s.repo.TransitionStatus(ctx, id, StatusExpired, "")
}

// SweepExpired lazily expires pending transactions past their window. It
// is called from a scheduled job, not a timer per transaction.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpirePending(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("expiring pending transactions: %w", err)
	}

	if n > 0 {
		slog.Info("expired pending transactions", "count", n)
	}

	return n, nil
}

func (s *Service) MethodConfig(ctx context.Context, kind Kind, currency string) (*MethodConfig, error) {
	return s.repo.GetMethodConfig(ctx, kind, currency)
}
