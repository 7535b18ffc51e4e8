package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/samijaber1/aegis-relay/internal/sla"
	"github.com/samijaber1/aegis-relay/internal/storage"
)

const breachColumns = `id, sla_instance_id, breach_value, target_value, severity, status, detected_at, acknowledged_at, acknowledged_by, resolved_at, resolution_notes, escalation_level`

func scanBreach(row interface{ Scan(...interface{}) error }) (*sla.Breach, error) {
	var b sla.Breach
	var severity, status string
	var acknowledgedAt, resolvedAt sql.NullTime
	err := row.Scan(
		&b.ID,
		&b.SLAInstanceID,
		&b.BreachValue,
		&b.TargetValue,
		&severity,
		&status,
		&b.DetectedAt,
		&acknowledgedAt,
		&b.AcknowledgedBy,
		&resolvedAt,
		&b.ResolutionNotes,
		&b.EscalationLevel,
	)
	if err != nil {
		return nil, err
	}
	b.Severity = sla.Severity(severity)
	b.Status = sla.BreachStatus(status)
	if acknowledgedAt.Valid {
		t := acknowledgedAt.Time
		b.AcknowledgedAt = &t
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		b.ResolvedAt = &t
	}
	return &b, nil
}

// CreateBreach inserts a new breach episode. The partial unique index on
// open breaches turns a concurrent duplicate insert into
// storage.ErrOpenBreachExists.
func (s *Store) CreateBreach(ctx context.Context, b *sla.Breach) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.EscalationLevel == 0 {
		b.EscalationLevel = 1
	}

	query := `
		INSERT INTO breaches (id, sla_instance_id, breach_value, target_value, severity, status, detected_at, escalation_level)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		b.ID,
		b.SLAInstanceID,
		b.BreachValue,
		b.TargetValue,
		string(b.Severity),
		string(b.Status),
		b.DetectedAt,
		b.EscalationLevel,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrOpenBreachExists
		}
		return fmt.Errorf("failed to create breach: %w", err)
	}

	return nil
}

// GetBreach retrieves a breach by ID
func (s *Store) GetBreach(ctx context.Context, id string) (*sla.Breach, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM breaches WHERE id = ?", breachColumns), id)

	b, err := scanBreach(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get breach: %w", err)
	}
	return b, nil
}

// OpenBreachForInstance returns the open or acknowledged breach for an
// instance, or storage.ErrNotFound when the instance is compliant.
func (s *Store) OpenBreachForInstance(ctx context.Context, instanceID string) (*sla.Breach, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM breaches
		WHERE sla_instance_id = ? AND status IN ('open', 'acknowledged')
	`, breachColumns), instanceID)

	b, err := scanBreach(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open breach: %w", err)
	}
	return b, nil
}

// UpdateBreach persists a lifecycle transition or escalation
func (s *Store) UpdateBreach(ctx context.Context, b *sla.Breach) error {
	query := `
		UPDATE breaches SET
			breach_value = ?,
			severity = ?,
			status = ?,
			acknowledged_at = ?,
			acknowledged_by = ?,
			resolved_at = ?,
			resolution_notes = ?,
			escalation_level = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		b.BreachValue,
		string(b.Severity),
		string(b.Status),
		b.AcknowledgedAt,
		b.AcknowledgedBy,
		b.ResolvedAt,
		b.ResolutionNotes,
		b.EscalationLevel,
		b.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update breach: %w", err)
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

// ListBreaches retrieves breaches with optional filtering
func (s *Store) ListBreaches(ctx context.Context, filter storage.BreachFilter) ([]sla.Breach, error) {
	query := fmt.Sprintf("SELECT %s FROM breaches WHERE 1=1", breachColumns)
	var args []interface{}

	if filter.SLAInstanceID != "" {
		query += " AND sla_instance_id = ?"
		args = append(args, filter.SLAInstanceID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Severity != "" {
		query += " AND severity = ?"
		args = append(args, string(filter.Severity))
	}

	query += " ORDER BY detected_at DESC"

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
		return nil, fmt.Errorf("failed to list breaches: %w", err)
	}
	defer rows.Close()

	var breaches []sla.Breach
	for rows.Next() {
		b, err := scanBreach(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan breach: %w", err)
		}
		breaches = append(breaches, *b)
	}

	return breaches, rows.Err()
}
