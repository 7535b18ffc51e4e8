package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/samijaber1/aegis-relay/internal/sla"
	"github.com/samijaber1/aegis-relay/internal/storage"
)

// CreateDefinition persists a new SLA definition, assigning an ID if the
// caller did not.
func (s *Store) CreateDefinition(ctx context.Context, def *sla.SLADefinition) error {
	if def.ID == "" {
		def.ID = uuid.New().String()
	}

	query := `
		INSERT INTO sla_definitions (id, slug, name, description, objective_type, target_numeric, threshold_operator, window_minutes, enabled, query)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		def.ID,
		def.Slug,
		def.Name,
		def.Description,
		string(def.ObjectiveType),
		def.TargetNumeric,
		string(def.Operator),
		def.WindowMinutes,
		def.Enabled,
		def.Query,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("definition slug %q already exists: %w", def.Slug, err)
		}
		return fmt.Errorf("failed to create definition: %w", err)
	}

	return nil
}

// UpsertDefinitionBySlug inserts or updates a definition keyed by its slug.
// Used when seeding the catalog from YAML files at startup.
func (s *Store) UpsertDefinitionBySlug(ctx context.Context, def *sla.SLADefinition) error {
	if def.ID == "" {
		def.ID = uuid.New().String()
	}

	query := `
		INSERT INTO sla_definitions (id, slug, name, description, objective_type, target_numeric, threshold_operator, window_minutes, enabled, query)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			objective_type = excluded.objective_type,
			target_numeric = excluded.target_numeric,
			threshold_operator = excluded.threshold_operator,
			window_minutes = excluded.window_minutes,
			enabled = excluded.enabled,
			query = excluded.query,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := s.db.ExecContext(ctx, query,
		def.ID,
		def.Slug,
		def.Name,
		def.Description,
		string(def.ObjectiveType),
		def.TargetNumeric,
		string(def.Operator),
		def.WindowMinutes,
		def.Enabled,
		def.Query,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert definition: %w", err)
	}

	// The conflict path keeps the original row's ID; read it back so the
	// caller holds the persisted identity.
	row := s.db.QueryRowContext(ctx, "SELECT id FROM sla_definitions WHERE slug = ?", def.Slug)
	if err := row.Scan(&def.ID); err != nil {
		return fmt.Errorf("failed to read back definition id: %w", err)
	}

	return nil
}

const definitionColumns = `id, slug, name, description, objective_type, target_numeric, threshold_operator, window_minutes, enabled, query, created_at, updated_at`

func scanDefinition(row interface{ Scan(...interface{}) error }) (*sla.SLADefinition, error) {
	var def sla.SLADefinition
	var objective, operator string
	err := row.Scan(
		&def.ID,
		&def.Slug,
		&def.Name,
		&def.Description,
		&objective,
		&def.TargetNumeric,
		&operator,
		&def.WindowMinutes,
		&def.Enabled,
		&def.Query,
		&def.CreatedAt,
		&def.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	def.ObjectiveType = sla.ObjectiveType(objective)
	def.Operator = sla.ThresholdOperator(operator)
	return &def, nil
}

// GetDefinition retrieves a definition by ID
func (s *Store) GetDefinition(ctx context.Context, id string) (*sla.SLADefinition, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM sla_definitions WHERE id = ?", definitionColumns), id)

	def, err := scanDefinition(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get definition: %w", err)
	}
	return def, nil
}

// GetDefinitionBySlug retrieves a definition by its slug
func (s *Store) GetDefinitionBySlug(ctx context.Context, slug string) (*sla.SLADefinition, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM sla_definitions WHERE slug = ?", definitionColumns), slug)

	def, err := scanDefinition(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get definition: %w", err)
	}
	return def, nil
}

// ListDefinitions retrieves all definitions, optionally only enabled ones
func (s *Store) ListDefinitions(ctx context.Context, onlyEnabled bool) ([]sla.SLADefinition, error) {
	query := fmt.Sprintf("SELECT %s FROM sla_definitions", definitionColumns)
	if onlyEnabled {
		query += " WHERE enabled = 1"
	}
	query += " ORDER BY slug"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	defer rows.Close()

	var defs []sla.SLADefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}
		defs = append(defs, *def)
	}

	return defs, rows.Err()
}

// UpdateDefinition persists an administrative edit to a definition
func (s *Store) UpdateDefinition(ctx context.Context, def *sla.SLADefinition) error {
	query := `
		UPDATE sla_definitions SET
			slug = ?,
			name = ?,
			description = ?,
			objective_type = ?,
			target_numeric = ?,
			threshold_operator = ?,
			window_minutes = ?,
			enabled = ?,
			query = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		def.Slug,
		def.Name,
		def.Description,
		string(def.ObjectiveType),
		def.TargetNumeric,
		string(def.Operator),
		def.WindowMinutes,
		def.Enabled,
		def.Query,
		def.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update definition: %w", err)
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

// DeleteDefinition removes a definition. Definitions still referenced by
// instances cannot be deleted; callers soft-disable them instead.
func (s *Store) DeleteDefinition(ctx context.Context, id string) error {
	var refs int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sla_instances WHERE definition_id = ?", id).Scan(&refs)
	if err != nil {
		return fmt.Errorf("failed to count instance references: %w", err)
	}
	if refs > 0 {
		return storage.ErrDefinitionInUse
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM sla_definitions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete definition: %w", err)
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

const instanceColumns = `id, definition_id, workflow_id, entity_id, status, last_evaluated, current_value, breach_count, created_at`

func scanInstance(row interface{ Scan(...interface{}) error }) (*sla.SLAInstance, error) {
	var inst sla.SLAInstance
	var status string
	var lastEvaluated sql.NullTime
	err := row.Scan(
		&inst.ID,
		&inst.DefinitionID,
		&inst.Scope.WorkflowID,
		&inst.Scope.EntityID,
		&status,
		&lastEvaluated,
		&inst.CurrentValue,
		&inst.BreachCount,
		&inst.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	inst.Status = sla.InstanceStatus(status)
	if lastEvaluated.Valid {
		t := lastEvaluated.Time
		inst.LastEvaluated = &t
	}
	return &inst, nil
}

// GetOrCreateInstance returns the instance for a definition/scope pair,
// creating it lazily on first evaluation. Concurrent creators converge on
// the same row through the unique constraint.
func (s *Store) GetOrCreateInstance(ctx context.Context, definitionID string, scope sla.Scope) (*sla.SLAInstance, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sla_instances (id, definition_id, workflow_id, entity_id, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(definition_id, workflow_id, entity_id) DO NOTHING
	`, uuid.New().String(), definitionID, scope.WorkflowID, scope.EntityID, string(sla.InstanceActive))
	if err != nil {
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}

	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM sla_instances
		WHERE definition_id = ? AND workflow_id = ? AND entity_id = ?
	`, instanceColumns), definitionID, scope.WorkflowID, scope.EntityID)

	inst, err := scanInstance(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return inst, nil
}

// GetInstance retrieves an instance by ID
func (s *Store) GetInstance(ctx context.Context, id string) (*sla.SLAInstance, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM sla_instances WHERE id = ?", instanceColumns), id)

	inst, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return inst, nil
}

// UpdateInstance persists evaluation results for an instance
func (s *Store) UpdateInstance(ctx context.Context, inst *sla.SLAInstance) error {
	query := `
		UPDATE sla_instances SET
			status = ?,
			last_evaluated = ?,
			current_value = ?,
			breach_count = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		string(inst.Status),
		inst.LastEvaluated,
		inst.CurrentValue,
		inst.BreachCount,
		inst.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update instance: %w", err)
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

// ListInstances retrieves instances with optional filtering
func (s *Store) ListInstances(ctx context.Context, filter storage.InstanceFilter) ([]sla.SLAInstance, error) {
	query := fmt.Sprintf("SELECT %s FROM sla_instances WHERE 1=1", instanceColumns)
	var args []interface{}

	if filter.DefinitionID != "" {
		query += " AND definition_id = ?"
		args = append(args, filter.DefinitionID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	query += " ORDER BY created_at"

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
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var instances []sla.SLAInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, *inst)
	}

	return instances, rows.Err()
}
