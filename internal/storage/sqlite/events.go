package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/samijaber1/aegis-relay/internal/event"
	"github.com/samijaber1/aegis-relay/internal/storage"
)

const eventColumns = `id, type, version, occurred_at, data_json, source, schema, delivered_count, created_at`

func scanEvent(row interface{ Scan(...interface{}) error }) (*event.Event, error) {
	var ev event.Event
	var dataJSON string
	err := row.Scan(
		&ev.ID,
		&ev.Type,
		&ev.Version,
		&ev.OccurredAt,
		&dataJSON,
		&ev.Meta.Source,
		&ev.Meta.Schema,
		&ev.DeliveredCount,
		&ev.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	ev.Data = json.RawMessage(dataJSON)
	return &ev, nil
}

// InsertEvent appends an event envelope
func (s *Store) InsertEvent(ctx context.Context, ev *event.Event) error {
	query := `
		INSERT INTO events (id, type, version, occurred_at, data_json, source, schema)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		ev.ID,
		ev.Type,
		ev.Version,
		ev.OccurredAt,
		string(ev.Data),
		ev.Meta.Source,
		ev.Meta.Schema,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	return nil
}

// GetEvent retrieves an event by ID
func (s *Store) GetEvent(ctx context.Context, id string) (*event.Event, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM events WHERE id = ?", eventColumns), id)

	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return ev, nil
}

// ListEvents retrieves events with optional filtering, newest first
func (s *Store) ListEvents(ctx context.Context, filter storage.EventFilter) ([]event.Event, error) {
	query := fmt.Sprintf("SELECT %s FROM events WHERE 1=1", eventColumns)
	var args []interface{}

	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, filter.Type)
	}
	if filter.Since != nil {
		query += " AND occurred_at >= ?"
		args = append(args, *filter.Since)
	}

	query += " ORDER BY occurred_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *ev)
	}

	return events, rows.Err()
}

// ListUnfannedEvents returns persisted events whose delivery attempts have
// not yet been materialized, oldest first so a restarted worker resumes
// where it left off.
func (s *Store) ListUnfannedEvents(ctx context.Context, limit int) ([]event.Event, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM events
		WHERE fanned_out_at IS NULL
		ORDER BY created_at
		LIMIT ?
	`, eventColumns)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unfanned events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *ev)
	}

	return events, rows.Err()
}

// MarkEventFanned records that delivery attempts were created for an event
func (s *Store) MarkEventFanned(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE events SET fanned_out_at = CURRENT_TIMESTAMP WHERE id = ?", eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event fanned out: %w", err)
	}
	return nil
}

// IncrementEventDelivered bumps the delivered counter after a successful
// delivery to one endpoint
func (s *Store) IncrementEventDelivered(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE events SET delivered_count = delivered_count + 1 WHERE id = ?", eventID)
	if err != nil {
		return fmt.Errorf("failed to increment delivered count: %w", err)
	}
	return nil
}
