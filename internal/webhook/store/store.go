// Package store persists webhook events in Postgres. The unique index on
// event_id is what makes delivery deduplication work.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tannaco/paygate/internal/webhook"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const selectEventColumns = `id, event_id, event_type, reference, status, payload, error, received_at, processed_at`

func (s *Store) CreateIfAbsent(ctx context.Context, ev *webhook.Event) (*webhook.Event, bool, error) {
	query := `
		INSERT INTO webhook_events (id, event_id, event_type, reference, status, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING id`

	var id uuid.UUID

	err := s.db.QueryRowContext(ctx, query,
		ev.ID, ev.EventID, ev.Type, ev.Reference, ev.Status, ev.Payload, ev.ReceivedAt,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			existing, gerr := s.GetByEventID(ctx, ev.EventID)
			if gerr != nil {
				return nil, false, fmt.Errorf("fetching existing webhook event: %w", gerr)
			}

			return existing, false, nil
		}

		return nil, false, fmt.Errorf("inserting webhook event: %w", err)
	}

	return ev, true, nil
}

func (s *Store) GetByEventID(ctx context.Context, eventID string) (*webhook.Event, error) {
	query := `SELECT ` + selectEventColumns + ` FROM webhook_events WHERE event_id = $1`

	ev, err := scanEvent(s.db.QueryRowContext(ctx, query, eventID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, webhook.ErrEventNotFound
		}

		return nil, fmt.Errorf("querying webhook event: %w", err)
	}

	return ev, nil
}

func (s *Store) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE webhook_events
		SET status = $2, error = '', processed_at = now()
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id, webhook.EventProcessed)
	if err != nil {
		return fmt.Errorf("marking webhook event processed: %w", err)
	}

	return checkAffected(res)
}

func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE webhook_events
		SET status = $2, error = $3, processed_at = now()
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id, webhook.EventFailed, reason)
	if err != nil {
		return fmt.Errorf("marking webhook event failed: %w", err)
	}

	return checkAffected(res)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*webhook.Event, error) {
	var (
		ev        webhook.Event
		status    string
		errText   sql.NullString
		processed sql.NullTime
	)

	err := row.Scan(
		&ev.ID, &ev.EventID, &ev.Type, &ev.Reference, &status,
		&ev.Payload, &errText, &ev.ReceivedAt, &processed,
	)
	if err != nil {
		return nil, err
	}

	ev.Status = webhook.EventStatus(status)

	if errText.Valid {
		ev.Error = errText.String
	}

	if processed.Valid {
		t := processed.Time
		ev.ProcessedAt = &t
	}

	return &ev, nil
}

func checkAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}

	if affected == 0 {
		return webhook.ErrEventNotFound
	}

	return nil
}
