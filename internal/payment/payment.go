package payment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("payment: transaction not found")
	// ErrTerminal is returned when a status transition is refused because
	// the transaction already reached a terminal state.
	ErrTerminal = errors.New("payment: transaction is in a terminal state")
)

// PendingWindow is the default chargeable window for a pending
// transaction before it lazily expires. NewService accepts an override.
const PendingWindow = 30 * time.Minute

// Type classifies what a transaction pays for.
type Type string

const (
	TypeOrder        Type = "order"
	TypeInvoice      Type = "invoice"
	TypeEvent        Type = "event"
	TypeSubscription Type = "subscription"
	TypeRefund       Type = "refund"
	TypeTransfer     Type = "transfer"
)

// Kind is the payment rail a transaction rides on.
type Kind string

const (
	KindCard        Kind = "card"
	KindMobileMoney Kind = "mobile_money"
	KindBank        Kind = "bank"
	KindCash        Kind = "cash"
)

// Status is the lifecycle state of a transaction. Pending and processing
// are transient; everything else is terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusExpired    Status = "expired"
	StatusReversed   Status = "reversed"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusSuccessful, StatusFailed, StatusCancelled, StatusExpired, StatusReversed:
		return true
	}

	return false
}

// Transaction is the local record of a payment attempt. Exactly one of
// OrderID/InvoiceID/EventID/ReceiptID may be set; the transaction does not
// own the linked entity's lifecycle.
type Transaction struct {
	ID            uuid.UUID
	TransactionID string // external identifier, TXN-YYYYMMDD-XXXXXXXX
	Reference     string // alphanumeric; the upstream API rejects separators
	UpstreamRef   string // reference assigned by the gateway

	Type   Type
	Kind   Kind
	Status Status

	Amount    decimal.Decimal
	Currency  string
	Fee       decimal.Decimal
	NetAmount decimal.Decimal

	OrderID   *uuid.UUID
	InvoiceID *uuid.UUID
	EventID   *uuid.UUID
	ReceiptID *uuid.UUID

	CustomerEmail string
	CustomerName  string
	CustomerPhone string

	// Upstream handles assigned progressively as flow steps succeed.
	CustomerID      string
	PaymentMethodID string
	ChargeID        string

	IdempotencyCacheHit bool

	FailureReason string

	CreatedAt time.Time
	UpdatedAt *time.Time
	PaidAt    *time.Time
	ExpiresAt *time.Time
}

// Expired reports whether a pending transaction has aged past its window.
func (t *Transaction) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// RecomputeNet enforces the netAmount = amount - fee invariant; it must
// run on every mutation of Amount or Fee.
func (t *Transaction) RecomputeNet() {
	t.NetAmount = t.Amount.Sub(t.Fee)
}

// NewTransactionID generates the external transaction identifier.
func NewTransactionID(now time.Time) string {
	return fmt.Sprintf("TXN-%s-%s", now.Format("20060102"), shortID())
}

// NewReference generates a reference that survives the gateway's
// alphanumeric-only constraint.
func NewReference(now time.Time) string {
	return fmt.Sprintf("REF%s%s", now.Format("20060102"), shortID())
}

// SanitizeReference strips the separators the upstream API rejects.
func SanitizeReference(ref string) string {
	ref = strings.ReplaceAll(ref, "_", "")
	ref = strings.ReplaceAll(ref, "-", "")

	return strings.ReplaceAll(ref, " ", "")
}

func shortID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// MethodConfig is the static configuration of one payment rail: amount
// bounds and fee schedule. Read-only during a flow.
type MethodConfig struct {
	ID            uuid.UUID
	Name          string
	Kind          Kind
	GatewayCode   string
	CountryCode   string
	Currency      string
	MinAmount     decimal.Decimal
	MaxAmount     *decimal.Decimal
	ProcessingFee decimal.Decimal // percentage
	FixedFee      decimal.Decimal
	Active        bool
}

// Fee computes the total fee for an amount under this config.
func (m *MethodConfig) Fee(amount decimal.Decimal) decimal.Decimal {
	pct := amount.Mul(m.ProcessingFee).Div(decimal.NewFromInt(100))

	return pct.Add(m.FixedFee)
}

// CheckAmount validates an amount against the config's bounds.
func (m *MethodConfig) CheckAmount(amount decimal.Decimal) error {
	if amount.LessThan(m.MinAmount) {
		return fmt.Errorf("amount %s is below minimum %s for %s", amount, m.MinAmount, m.Name)
	}

	if m.MaxAmount != nil && amount.GreaterThan(*m.MaxAmount) {
		return fmt.Errorf("amount %s exceeds maximum %s for %s", amount, *m.MaxAmount, m.Name)
	}

	return nil
}

// ValidateRequired checks the transaction's required-field set, which
// depends on its payment kind. It must pass before any upstream call.
func (t *Transaction) ValidateRequired() error {
	var missing []string

	if !t.Amount.IsPositive() {
		missing = append(missing, "amount must be positive")
	}

	if len(t.Currency) != 3 {
		missing = append(missing, "currency must be a 3-letter code")
	}

	if t.CustomerEmail == "" {
		missing = append(missing, "customer email is required")
	}

	if t.CustomerName == "" {
		missing = append(missing, "customer name is required")
	}

	if t.Kind == KindMobileMoney && t.CustomerPhone == "" {
		missing = append(missing, "customer phone is required for mobile money payments")
	}

	if len(missing) > 0 {
		return fmt.Errorf("payment validation failed: %s", strings.Join(missing, "; "))
	}

	return nil
}
