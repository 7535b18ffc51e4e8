package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/samijaber1/aegis-relay/internal/storage"
	"github.com/samijaber1/aegis-relay/internal/webhook"
)

const endpointColumns = `id, tenant_id, url, secret, secret_hash, active, events_json, failure_count, last_failure_at, last_success_at, created_at, updated_at`

func scanEndpoint(row interface{ Scan(...interface{}) error }) (*webhook.Endpoint, error) {
	var ep webhook.Endpoint
	var eventsJSON string
	var lastFailure, lastSuccess sql.NullTime
	err := row.Scan(
		&ep.ID,
		&ep.TenantID,
		&ep.URL,
		&ep.Secret,
		&ep.SecretHash,
		&ep.Active,
		&eventsJSON,
		&ep.FailureCount,
		&lastFailure,
		&lastSuccess,
		&ep.CreatedAt,
		&ep.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(eventsJSON), &ep.Events); err != nil {
		return nil, fmt.Errorf("failed to decode event subscriptions: %w", err)
	}
	if lastFailure.Valid {
		t := lastFailure.Time
		ep.LastFailureAt = &t
	}
	if lastSuccess.Valid {
		t := lastSuccess.Time
		ep.LastSuccessAt = &t
	}
	return &ep, nil
}

// CreateEndpoint persists a new webhook subscription
func (s *Store) CreateEndpoint(ctx context.Context, ep *webhook.Endpoint) error {
	if ep.ID == "" {
		ep.ID = uuid.New().String()
	}
	if ep.Events == nil {
		ep.Events = []string{}
	}

	eventsJSON, err := json.Marshal(ep.Events)
	if err != nil {
		return fmt.Errorf("failed to encode event subscriptions: %w", err)
	}

	query := `
		INSERT INTO endpoints (id, tenant_id, url, secret, secret_hash, active, events_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		ep.ID,
		ep.TenantID,
		ep.URL,
		ep.Secret,
		ep.SecretHash,
		ep.Active,
		string(eventsJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to create endpoint: %w", err)
	}

	return nil
}

// GetEndpoint retrieves an endpoint by ID
func (s *Store) GetEndpoint(ctx context.Context, id string) (*webhook.Endpoint, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM endpoints WHERE id = ?", endpointColumns), id)

	ep, err := scanEndpoint(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get endpoint: %w", err)
	}
	return ep, nil
}

// ListEndpoints retrieves endpoints, optionally only active ones
func (s *Store) ListEndpoints(ctx context.Context, onlyActive bool) ([]webhook.Endpoint, error) {
	query := fmt.Sprintf("SELECT %s FROM endpoints", endpointColumns)
	if onlyActive {
		query += " WHERE active = 1"
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []webhook.Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan endpoint: %w", err)
		}
		endpoints = append(endpoints, *ep)
	}

	return endpoints, rows.Err()
}

// UpdateEndpoint persists administrative edits to an endpoint
func (s *Store) UpdateEndpoint(ctx context.Context, ep *webhook.Endpoint) error {
	if ep.Events == nil {
		ep.Events = []string{}
	}
	eventsJSON, err := json.Marshal(ep.Events)
	if err != nil {
		return fmt.Errorf("failed to encode event subscriptions: %w", err)
	}

	query := `
		UPDATE endpoints SET
			tenant_id = ?,
			url = ?,
			active = ?,
			events_json = ?,
			failure_count = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		ep.TenantID,
		ep.URL,
		ep.Active,
		string(eventsJSON),
		ep.FailureCount,
		ep.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update endpoint: %w", err)
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

// DeleteEndpoint removes an endpoint and its delivery history
func (s *Store) DeleteEndpoint(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM delivery_attempts WHERE endpoint_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete delivery history: %w", err)
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM endpoints WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete endpoint: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// RecordEndpointSuccess resets the failure streak after a delivered event
func (s *Store) RecordEndpointSuccess(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE endpoints SET
			failure_count = 0,
			last_success_at = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, at, id)
	if err != nil {
		return fmt.Errorf("failed to record endpoint success: %w", err)
	}
	return nil
}

// RecordEndpointFailure increments failure_count once per exhausted event
// and deactivates the endpoint when the count exceeds threshold.
func (s *Store) RecordEndpointFailure(ctx context.Context, id string, at time.Time, threshold int) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE endpoints SET
			failure_count = failure_count + 1,
			last_failure_at = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, at, id)
	if err != nil {
		return false, fmt.Errorf("failed to record endpoint failure: %w", err)
	}

	var failureCount int
	var active bool
	if err := tx.QueryRowContext(ctx,
		"SELECT failure_count, active FROM endpoints WHERE id = ?", id).
		Scan(&failureCount, &active); err != nil {
		return false, fmt.Errorf("failed to read failure count: %w", err)
	}

	deactivated := false
	if active && failureCount > threshold {
		if _, err := tx.ExecContext(ctx,
			"UPDATE endpoints SET active = 0, updated_at = CURRENT_TIMESTAMP WHERE id = ?", id); err != nil {
			return false, fmt.Errorf("failed to deactivate endpoint: %w", err)
		}
		deactivated = true
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit: %w", err)
	}

	return deactivated, nil
}
