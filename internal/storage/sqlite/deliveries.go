package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/samijaber1/aegis-relay/internal/storage"
	"github.com/samijaber1/aegis-relay/internal/webhook"
)

const attemptColumns = `id, event_id, endpoint_id, attempt_number, status, response_status, response_body, error, latency_ms, next_attempt_at, created_at, updated_at`

func scanAttempt(row interface{ Scan(...interface{}) error }) (*webhook.DeliveryAttempt, error) {
	var a webhook.DeliveryAttempt
	var status string
	err := row.Scan(
		&a.ID,
		&a.EventID,
		&a.EndpointID,
		&a.AttemptNumber,
		&status,
		&a.ResponseStatus,
		&a.ResponseBody,
		&a.Error,
		&a.LatencyMS,
		&a.NextAttemptAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = webhook.AttemptStatus(status)
	return &a, nil
}

// InsertAttempt appends a delivery attempt row and fills in its ID
func (s *Store) InsertAttempt(ctx context.Context, a *webhook.DeliveryAttempt) error {
	query := `
		INSERT INTO delivery_attempts (event_id, endpoint_id, attempt_number, status, response_status, response_body, error, latency_ms, next_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		a.EventID,
		a.EndpointID,
		a.AttemptNumber,
		string(a.Status),
		a.ResponseStatus,
		a.ResponseBody,
		a.Error,
		a.LatencyMS,
		a.NextAttemptAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert delivery attempt: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read attempt id: %w", err)
	}
	a.ID = id

	return nil
}

// UpdateAttempt records the outcome of an executed attempt
func (s *Store) UpdateAttempt(ctx context.Context, a *webhook.DeliveryAttempt) error {
	query := `
		UPDATE delivery_attempts SET
			status = ?,
			response_status = ?,
			response_body = ?,
			error = ?,
			latency_ms = ?,
			next_attempt_at = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		string(a.Status),
		a.ResponseStatus,
		a.ResponseBody,
		a.Error,
		a.LatencyMS,
		a.NextAttemptAt,
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update delivery attempt: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// DueAttempts returns pending attempts whose scheduled time has elapsed,
// oldest first
func (s *Store) DueAttempts(ctx context.Context, now time.Time, limit int) ([]webhook.DeliveryAttempt, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM delivery_attempts
		WHERE status = 'pending' AND next_attempt_at <= ?
		ORDER BY next_attempt_at
		LIMIT ?
	`, attemptColumns)

	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due attempts: %w", err)
	}
	defer rows.Close()

	var attempts []webhook.DeliveryAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, *a)
	}

	return attempts, rows.Err()
}

// ListAttempts returns the audit trail for an event, oldest first
func (s *Store) ListAttempts(ctx context.Context, eventID string) ([]webhook.DeliveryAttempt, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM delivery_attempts
		WHERE event_id = ?
		ORDER BY endpoint_id, attempt_number
	`, attemptColumns)

	rows, err := s.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []webhook.DeliveryAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, *a)
	}

	return attempts, rows.Err()
}
