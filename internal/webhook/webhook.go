// Package webhook reconciles gateway event notifications with local
// payment state. Delivery is at-least-once, so the whole path is built to
// be idempotent: events deduplicate on the gateway event id and status
// transitions are terminal-safe.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidSignature = errors.New("webhook: signature verification failed")
	ErrEventNotFound    = errors.New("webhook: event not found")
)

// EventStatus tracks where an event is in its processing lifecycle.
type EventStatus string

const (
	EventReceived  EventStatus = "received"
	EventProcessed EventStatus = "processed"
	EventFailed    EventStatus = "failed"
)

// Event is the audit record for one delivered notification.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	EventID     string          `json:"event_id"`
	Type        string          `json:"type"`
	Reference   string          `json:"reference"`
	Status      EventStatus     `json:"status"`
	Payload     json.RawMessage `json:"payload"`
	Error       string          `json:"error,omitempty"`
	ReceivedAt  time.Time       `json:"received_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

// Repository persists webhook events. CreateIfAbsent is the dedup point:
// it returns created=false when an event with the same EventID was already
// recorded, handing back the stored copy.
type Repository interface {
	CreateIfAbsent(ctx context.Context, ev *Event) (*Event, bool, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	GetByEventID(ctx context.Context, eventID string) (*Event, error)
}

// payload is the envelope the gateway posts. v4 carries a top-level event
// id; older deliveries may not, in which case a deterministic id is
// derived from the delivery date and the charge reference.
type payload struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type chargeData struct {
	ID        string `json:"id"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Processor struct {
		Message string `json:"response_message"`
	} `json:"processor_response"`
}

// fallbackEventID derives a stable id for deliveries without one. Two
// deliveries of the same charge on the same day still coalesce; the same
// reference on a later day does not, which is why the gateway id is
// preferred whenever present.
func fallbackEventID(eventType, reference string, receivedAt time.Time) string {
	return fmt.Sprintf("WEBHOOK-%s-%s-%s", receivedAt.Format("20060102"), eventType, reference)
}
