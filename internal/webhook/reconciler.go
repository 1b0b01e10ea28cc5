package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tannaco/paygate/internal/payment"
	"github.com/tannaco/paygate/internal/receipt"
)

// PaidMarker marks a linked record (order, invoice) as paid. Callers that
// have no such records pass nil markers.
type PaidMarker interface {
	MarkPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) error
}

type Reconciler struct {
	secret   []byte
	events   Repository
	payments *payment.Service
	receipts *receipt.Service
	orders   PaidMarker
	invoices PaidMarker
	now      func() time.Time
}

func NewReconciler(secret string, events Repository, payments *payment.Service, receipts *receipt.Service, orders, invoices PaidMarker) *Reconciler {
	if secret == "" {
		slog.Warn("webhook secret not configured, signature verification disabled")
	}

	return &Reconciler{
		secret:   []byte(secret),
		events:   events,
		payments: payments,
		receipts: receipts,
		orders:   orders,
		invoices: invoices,
		now:      time.Now,
	}
}

// VerifySignature checks the verif-hash header against an HMAC-SHA256 of
// the raw body. Comparison is constant time. With no secret configured
// verification is skipped and every delivery passes.
func (r *Reconciler) VerifySignature(body []byte, signature string) bool {
	if len(r.secret) == 0 {
		return true
	}

	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, r.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// Process verifies, records, and dispatches one delivery. A signature
// failure is the only error surfaced to the transport layer; handler
// failures are recorded on the event and swallowed so the gateway does
// not retry a delivery that will keep failing for local reasons.
func (r *Reconciler) Process(ctx context.Context, body []byte, signature string) error {
	if !r.VerifySignature(body, signature) {
		return ErrInvalidSignature
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		r.recordMalformed(ctx, body, err)

		return nil
	}

	var data chargeData
	if len(p.Data) > 0 {
		if err := json.Unmarshal(p.Data, &data); err != nil {
			r.recordMalformed(ctx, body, err)

			return nil
		}
	}

	eventID := p.ID
	if eventID == "" {
		eventID = fallbackEventID(p.Type, data.Reference, r.now())
	}

	ev, created, err := r.events.CreateIfAbsent(ctx, &Event{
		ID:         uuid.New(),
		EventID:    eventID,
		Type:       p.Type,
		Reference:  data.Reference,
		Status:     EventReceived,
		Payload:    body,
		ReceivedAt: r.now(),
	})
	if err != nil {
		return fmt.Errorf("recording webhook event: %w", err)
	}

	if !created && ev.Status == EventProcessed {
		slog.Info("skipping already processed webhook event", "event_id", eventID, "type", p.Type)

		return nil
	}

	if err := r.dispatch(ctx, p.Type, data); err != nil {
		slog.Error("webhook handler failed", "event_id", eventID, "type", p.Type, "error", err)

		if merr := r.events.MarkFailed(ctx, ev.ID, err.Error()); merr != nil {
			slog.Error("marking webhook event failed", "event_id", eventID, "error", merr)
		}

		return nil
	}

	if err := r.events.MarkProcessed(ctx, ev.ID); err != nil {
		return fmt.Errorf("marking webhook event processed: %w", err)
	}

	return nil
}

// recordMalformed leaves a failed audit row for a delivery that cannot
// be decoded. The event id derives from the body hash so redelivery of
// the same bytes dedups onto one row.
func (r *Reconciler) recordMalformed(ctx context.Context, body []byte, cause error) {
	sum := sha256.Sum256(body)
	eventID := "WEBHOOK-MALFORMED-" + hex.EncodeToString(sum[:8])

	slog.Warn("discarding malformed webhook payload", "event_id", eventID, "error", cause)

	ev, created, err := r.events.CreateIfAbsent(ctx, &Event{
		ID:         uuid.New(),
		EventID:    eventID,
		Type:       "malformed",
		Status:     EventReceived,
		Payload:    body,
		ReceivedAt: r.now(),
	})
	if err != nil {
		slog.Error("recording malformed webhook delivery", "event_id", eventID, "error", err)

		return
	}

	if !created {
		return
	}

	if err := r.events.MarkFailed(ctx, ev.ID, cause.Error()); err != nil {
		slog.Error("marking malformed webhook event failed", "event_id", eventID, "error", err)
	}
}

func (r *Reconciler) dispatch(ctx context.Context, eventType string, data chargeData) error {
	switch eventType {
	case "charge.completed":
		return r.chargeCompleted(ctx, data)
	case "charge.failed":
		return r.chargeFailed(ctx, data)
	case "transfer.completed":
		slog.Info("transfer completed", "reference", data.Reference, "amount", data.Amount)

		return nil
	default:
		slog.Info("ignoring unhandled webhook event type", "type", eventType)

		return nil
	}
}

func (r *Reconciler) chargeCompleted(ctx context.Context, data chargeData) error {
	tx, err := r.findTransaction(ctx, data)
	if err != nil {
		return err
	}

	if err := r.payments.MarkSuccessful(ctx, tx.ID); err != nil {
		if errors.Is(err, payment.ErrTerminal) {
			slog.Info("charge.completed for transaction already in terminal state",
				"transaction_id", tx.TransactionID, "status", tx.Status)

			// Receipts and linked records are still settled below so a
			// crash between the transition and the follow-up work heals
			// on redelivery.
		} else {
			return err
		}
	}

	fresh, err := r.payments.Get(ctx, tx.ID)
	if err != nil {
		return err
	}

	if fresh.Status != payment.StatusSuccessful {
		slog.Warn("charge.completed did not settle transaction",
			"transaction_id", fresh.TransactionID, "status", fresh.Status)

		return nil
	}

	if err := r.markLinkedPaid(ctx, fresh); err != nil {
		return err
	}

	rcpt, issued, err := r.receipts.Issue(ctx, fresh)
	if err != nil {
		return fmt.Errorf("issuing receipt: %w", err)
	}

	if issued {
		slog.Info("receipt issued", "receipt_number", rcpt.ReceiptNumber,
			"transaction_id", fresh.TransactionID)
	}

	return nil
}

func (r *Reconciler) chargeFailed(ctx context.Context, data chargeData) error {
	tx, err := r.findTransaction(ctx, data)
	if err != nil {
		return err
	}

	reason := data.Processor.Message
	if reason == "" {
		reason = "gateway reported charge failure"
	}

	if err := r.payments.MarkFailed(ctx, tx.ID, reason); err != nil {
		if errors.Is(err, payment.ErrTerminal) {
			slog.Info("charge.failed for transaction already in terminal state",
				"transaction_id", tx.TransactionID, "status", tx.Status)

			return nil
		}

		return err
	}

	return nil
}

func (r *Reconciler) findTransaction(ctx context.Context, data chargeData) (*payment.Transaction, error) {
	if data.Reference == "" {
		return nil, fmt.Errorf("webhook data carries no reference")
	}

	tx, err := r.payments.GetByReference(ctx, data.Reference)
	if err != nil {
		return nil, fmt.Errorf("looking up transaction %s: %w", data.Reference, err)
	}

	return tx, nil
}

func (r *Reconciler) markLinkedPaid(ctx context.Context, tx *payment.Transaction) error {
	paidAt := r.now()
	if tx.PaidAt != nil {
		paidAt = *tx.PaidAt
	}

	if tx.OrderID != nil && r.orders != nil {
		if err := r.orders.MarkPaid(ctx, *tx.OrderID, paidAt); err != nil {
			return fmt.Errorf("marking order paid: %w", err)
		}
	}

	if tx.InvoiceID != nil && r.invoices != nil {
		if err := r.invoices.MarkPaid(ctx, *tx.InvoiceID, paidAt); err != nil {
			return fmt.Errorf("marking invoice paid: %w", err)
		}
	}

	return nil
}
