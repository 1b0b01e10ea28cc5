package webhook_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tannaco/paygate/internal/payment"
	"github.com/tannaco/paygate/internal/receipt"
	"github.com/tannaco/paygate/internal/webhook"
)

// memEventStore is an in-memory webhook.Repository keyed on event id.
type memEventStore struct {
	mu     sync.Mutex
	events map[string]*webhook.Event
}

func newMemEventStore() *memEventStore {
	return &memEventStore{events: make(map[string]*webhook.Event)}
}

func (s *memEventStore) CreateIfAbsent(ctx context.Context, ev *webhook.Event) (*webhook.Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.events[ev.EventID]; ok {
		clone := *existing
		return &clone, false, nil
	}

	clone := *ev
	s.events[ev.EventID] = &clone

	return ev, true, nil
}

func (s *memEventStore) GetByEventID(ctx context.Context, eventID string) (*webhook.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[eventID]
	if !ok {
		return nil, webhook.ErrEventNotFound
	}

	clone := *ev

	return &clone, nil
}

func (s *memEventStore) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	return s.setStatus(id, webhook.EventProcessed, "")
}

func (s *memEventStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return s.setStatus(id, webhook.EventFailed, reason)
}

func (s *memEventStore) setStatus(id uuid.UUID, status webhook.EventStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range s.events {
		if ev.ID == id {
			now := time.Now()
			ev.Status = status
			ev.Error = reason
			ev.ProcessedAt = &now

			return nil
		}
	}

	return webhook.ErrEventNotFound
}

// memPaymentRepo is the minimal payment.Repository the reconciler path
// touches.
type memPaymentRepo struct {
	mu  sync.Mutex
	txs map[uuid.UUID]*payment.Transaction
}

func newMemPaymentRepo() *memPaymentRepo {
	return &memPaymentRepo{txs: make(map[uuid.UUID]*payment.Transaction)}
}

func (r *memPaymentRepo) put(tx *payment.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *tx
	r.txs[tx.ID] = &clone
}

func (r *memPaymentRepo) CreateTransaction(ctx context.Context, tx *payment.Transaction) error {
	r.put(tx)
	return nil
}

func (r *memPaymentRepo) GetTransaction(ctx context.Context, id uuid.UUID) (*payment.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.txs[id]
	if !ok {
		return nil, payment.ErrNotFound
	}

	clone := *tx

	return &clone, nil
}

func (r *memPaymentRepo) GetByReference(ctx context.Context, reference string) (*payment.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, tx := range r.txs {
		if tx.Reference == reference {
			clone := *tx
			return &clone, nil
		}
	}

	return nil, payment.ErrNotFound
}

func (r *memPaymentRepo) UpdateTransaction(ctx context.Context, tx *payment.Transaction) error {
	r.put(tx)
	return nil
}

func (r *memPaymentRepo) TransitionStatus(ctx context.Context, id uuid.UUID, status payment.Status, failureReason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.txs[id]
	if !ok {
		return payment.ErrNotFound
	}

	if tx.Status.Terminal() {
		return payment.ErrTerminal
	}

	tx.Status = status
	tx.FailureReason = failureReason

	if status == payment.StatusSuccessful {
		now := time.Now()
		tx.PaidAt = &now
	}

	return nil
}

func (r *memPaymentRepo) ListTransactions(ctx context.Context, filter payment.ListFilter) ([]*payment.Transaction, error) {
	return nil, nil
}

func (r *memPaymentRepo) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (r *memPaymentRepo) GetMethodConfig(ctx context.Context, kind payment.Kind, currency string) (*payment.MethodConfig, error) {
	return nil, payment.ErrNotFound
}

// memReceiptRepo enforces the one-receipt-per-transaction rule in memory.
type memReceiptRepo struct {
	mu       sync.Mutex
	receipts map[uuid.UUID]*receipt.Receipt
	creates  int
}

func newMemReceiptRepo() *memReceiptRepo {
	return &memReceiptRepo{receipts: make(map[uuid.UUID]*receipt.Receipt)}
}

func (r *memReceiptRepo) CreateIfAbsent(ctx context.Context, rcpt *receipt.Receipt) (*receipt.Receipt, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.receipts[rcpt.TransactionID]; ok {
		clone := *existing
		return &clone, false, nil
	}

	r.creates++
	rcpt.ID = uuid.New()
	rcpt.CreatedAt = time.Now()

	clone := *rcpt
	r.receipts[rcpt.TransactionID] = &clone

	return rcpt, true, nil
}

func (r *memReceiptRepo) GetByTransaction(ctx context.Context, transactionID uuid.UUID) (*receipt.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rcpt, ok := r.receipts[transactionID]
	if !ok {
		return nil, fmt.Errorf("receipt not found")
	}

	clone := *rcpt

	return &clone, nil
}

type markPaidRecorder struct {
	mu    sync.Mutex
	calls []uuid.UUID
}

func (m *markPaidRecorder) MarkPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, id)

	return nil
}

type fixture struct {
	reconciler  *webhook.Reconciler
	events      *memEventStore
	payments    *memPaymentRepo
	receipts    *memReceiptRepo
	orders      *markPaidRecorder
	transaction *payment.Transaction
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()

	events := newMemEventStore()
	paymentRepo := newMemPaymentRepo()
	receiptRepo := newMemReceiptRepo()
	orders := &markPaidRecorder{}

	orderID := uuid.New()
	expires := time.Now().Add(20 * time.Minute)

	tx := &payment.Transaction{
		ID:            uuid.New(),
		TransactionID: "TXN-20260901-AB12CD34",
		Reference:     "REF20260901AB12CD34",
		Type:          payment.TypeOrder,
		Kind:          payment.KindMobileMoney,
		Status:        payment.StatusPending,
		Amount:        decimal.NewFromInt(1000),
		Currency:      "UGX",
		OrderID:       &orderID,
		CustomerEmail: "jane@example.com",
		CustomerName:  "Jane Doe",
		CustomerPhone: "770000001",
		ExpiresAt:     &expires,
	}
	paymentRepo.put(tx)

	reconciler := webhook.NewReconciler(secret, events,
		payment.NewService(paymentRepo, 0), receipt.NewService(receiptRepo), orders, nil)

	return &fixture{
		reconciler:  reconciler,
		events:      events,
		payments:    paymentRepo,
		receipts:    receiptRepo,
		orders:      orders,
		transaction: tx,
	}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return hex.EncodeToString(mac.Sum(nil))
}

func chargeCompletedBody(reference string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_001",
		"type": "charge.completed",
		"data": {
			"id": "chg_1",
			"reference": %q,
			"status": "succeeded",
			"amount": 1000,
			"currency": "UGX"
		}
	}`, reference))
}

func TestReconciler_VerifySignature(t *testing.T) {
	body := []byte(`{"type":"charge.completed"}`)

	t.Run("ValidSignature", func(t *testing.T) {
		f := newFixture(t, "whsec_test")

		assert.True(t, f.reconciler.VerifySignature(body, sign("whsec_test", body)))
	})

	t.Run("WrongSignature", func(t *testing.T) {
		f := newFixture(t, "whsec_test")

		assert.False(t, f.reconciler.VerifySignature(body, sign("other-secret", body)))
		assert.False(t, f.reconciler.VerifySignature(body, ""))
	})

	t.Run("TamperedBody", func(t *testing.T) {
		f := newFixture(t, "whsec_test")

		sig := sign("whsec_test", body)

		assert.False(t, f.reconciler.VerifySignature([]byte(`{"type":"charge.failed"}`), sig))
	})

	t.Run("NoSecretSkipsVerification", func(t *testing.T) {
		f := newFixture(t, "")

		assert.True(t, f.reconciler.VerifySignature(body, ""))
		assert.True(t, f.reconciler.VerifySignature(body, "garbage"))
	})
}

func TestReconciler_ChargeCompleted(t *testing.T) {
	f := newFixture(t, "whsec_test")

	body := chargeCompletedBody(f.transaction.Reference)

	require.NoError(t, f.reconciler.Process(context.Background(), body, sign("whsec_test", body)))

	tx, err := f.payments.GetTransaction(context.Background(), f.transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSuccessful, tx.Status)
	require.NotNil(t, tx.PaidAt)

	require.Len(t, f.orders.calls, 1)
	assert.Equal(t, *f.transaction.OrderID, f.orders.calls[0])

	rcpt, err := f.receipts.GetByTransaction(context.Background(), f.transaction.ID)
	require.NoError(t, err)
	assert.Regexp(t, `^PAY-RCP-\d{8}-[0-9A-F]{8}$`, rcpt.ReceiptNumber)
	assert.Equal(t, receipt.StatusIssued, rcpt.Status)

	ev, err := f.events.GetByEventID(context.Background(), "evt_001")
	require.NoError(t, err)
	assert.Equal(t, webhook.EventProcessed, ev.Status)
}

func TestReconciler_DuplicateDeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t, "whsec_test")

	body := chargeCompletedBody(f.transaction.Reference)
	sig := sign("whsec_test", body)

	require.NoError(t, f.reconciler.Process(context.Background(), body, sig))
	require.NoError(t, f.reconciler.Process(context.Background(), body, sig))
	require.NoError(t, f.reconciler.Process(context.Background(), body, sig))

	assert.Equal(t, 1, f.receipts.creates, "re-delivery must not issue a second receipt")
	assert.Len(t, f.orders.calls, 1, "re-delivery must not re-mark the order")

	tx, err := f.payments.GetTransaction(context.Background(), f.transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSuccessful, tx.Status)
}

func TestReconciler_InvalidSignatureRejected(t *testing.T) {
	f := newFixture(t, "whsec_test")

	body := chargeCompletedBody(f.transaction.Reference)

	err := f.reconciler.Process(context.Background(), body, "bad-signature")

	assert.ErrorIs(t, err, webhook.ErrInvalidSignature)

	tx, gerr := f.payments.GetTransaction(context.Background(), f.transaction.ID)
	require.NoError(t, gerr)
	assert.Equal(t, payment.StatusPending, tx.Status, "unverified deliveries must not touch state")
}

func TestReconciler_ChargeFailed(t *testing.T) {
	f := newFixture(t, "whsec_test")

	body := []byte(fmt.Sprintf(`{
		"id": "evt_002",
		"type": "charge.failed",
		"data": {
			"reference": %q,
			"status": "failed",
			"processor_response": {"response_message": "insufficient funds"}
		}
	}`, f.transaction.Reference))

	require.NoError(t, f.reconciler.Process(context.Background(), body, sign("whsec_test", body)))

	tx, err := f.payments.GetTransaction(context.Background(), f.transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, tx.Status)
	assert.Equal(t, "insufficient funds", tx.FailureReason)
	assert.Equal(t, 0, f.receipts.creates)
}

func TestReconciler_ExpiredTransactionNotResurrected(t *testing.T) {
	f := newFixture(t, "whsec_test")

	// Age the pending transaction past its window before delivery.
	past := time.Now().Add(-time.Minute)
	f.transaction.ExpiresAt = &past
	f.payments.put(f.transaction)

	body := chargeCompletedBody(f.transaction.Reference)

	require.NoError(t, f.reconciler.Process(context.Background(), body, sign("whsec_test", body)))

	tx, err := f.payments.GetTransaction(context.Background(), f.transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusExpired, tx.Status, "a late completion must expire, not settle")
	assert.Equal(t, 0, f.receipts.creates)
	assert.Empty(t, f.orders.calls)
}

func TestReconciler_UnknownEventTypeIsAcknowledged(t *testing.T) {
	f := newFixture(t, "whsec_test")

	body := []byte(`{"id": "evt_003", "type": "subscription.renewed", "data": {}}`)

	require.NoError(t, f.reconciler.Process(context.Background(), body, sign("whsec_test", body)))

	ev, err := f.events.GetByEventID(context.Background(), "evt_003")
	require.NoError(t, err)
	assert.Equal(t, webhook.EventProcessed, ev.Status)
}

func TestReconciler_UnknownReferenceRecordedAsFailed(t *testing.T) {
	f := newFixture(t, "whsec_test")

	body := chargeCompletedBody("REFDOESNOTEXIST")

	// Handler failures are swallowed so the gateway does not retry
	// forever; the event record keeps the error.
	require.NoError(t, f.reconciler.Process(context.Background(), body, sign("whsec_test", body)))

	ev, err := f.events.GetByEventID(context.Background(), "evt_001")
	require.NoError(t, err)
	assert.Equal(t, webhook.EventFailed, ev.Status)
	assert.NotEmpty(t, ev.Error)
}

func TestReconciler_MalformedPayloadRecordedAsFailed(t *testing.T) {
	f := newFixture(t, "whsec_test")

	body := []byte(`{not json`)
	sig := sign("whsec_test", body)

	require.NoError(t, f.reconciler.Process(context.Background(), body, sig))

	sum := sha256.Sum256(body)
	eventID := "WEBHOOK-MALFORMED-" + hex.EncodeToString(sum[:8])

	ev, err := f.events.GetByEventID(context.Background(), eventID)
	require.NoError(t, err)
	assert.Equal(t, webhook.EventFailed, ev.Status)
	assert.NotEmpty(t, ev.Error)

	// Redelivery of the same bytes dedups onto the one audit row.
	require.NoError(t, f.reconciler.Process(context.Background(), body, sig))
	assert.Len(t, f.events.events, 1)
}

func TestReconciler_FallbackEventID(t *testing.T) {
	f := newFixture(t, "whsec_test")

	// No top-level id: dedup falls back to a date+reference derived key.
	body := []byte(fmt.Sprintf(`{
		"type": "charge.completed",
		"data": {"reference": %q, "status": "succeeded"}
	}`, f.transaction.Reference))
	sig := sign("whsec_test", body)

	require.NoError(t, f.reconciler.Process(context.Background(), body, sig))
	require.NoError(t, f.reconciler.Process(context.Background(), body, sig))

	assert.Equal(t, 1, f.receipts.creates)

	wantID := fmt.Sprintf("WEBHOOK-%s-charge.completed-%s",
		time.Now().Format("20060102"), f.transaction.Reference)

	_, err := f.events.GetByEventID(context.Background(), wantID)
	assert.NoError(t, err)
}
