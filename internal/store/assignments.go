package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/complyarc/grc/internal/models"
)

// UpsertEntityFramework assigns a framework to an entity. Assigning the
// same pair twice updates the existing row in place.
func (s *Store) UpsertEntityFramework(ctx context.Context, ef *models.EntityFramework) error {
	query := `
		INSERT INTO entity_frameworks (
			id, entity_id, framework_id, compliance_score, audit_readiness_score,
			certification_status, last_audit_date, next_audit_date, compliance_deadline,
			is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (entity_id, framework_id) DO UPDATE SET
			compliance_score = EXCLUDED.compliance_score,
			audit_readiness_score = EXCLUDED.audit_readiness_score,
			certification_status = EXCLUDED.certification_status,
			last_audit_date = EXCLUDED.last_audit_date,
			next_audit_date = EXCLUDED.next_audit_date,
			compliance_deadline = EXCLUDED.compliance_deadline,
			is_active = true,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`

	if ef.ID == uuid.Nil {
		ef.ID = uuid.New()
	}
	now := time.Now()
	ef.CreatedAt = now
	ef.UpdatedAt = now
	ef.IsActive = true
	ef.ComplianceScore = models.ClampScore(ef.ComplianceScore)
	ef.AuditReadinessScore = models.ClampScore(ef.AuditReadinessScore)
	if ef.CertificationStatus == "" {
		ef.CertificationStatus = models.CertificationPending
	}

	row := s.db.QueryRowxContext(ctx, query,
		ef.ID, ef.EntityID, ef.FrameworkID, ef.ComplianceScore, ef.AuditReadinessScore,
		ef.CertificationStatus, ef.LastAuditDate, ef.NextAuditDate, ef.ComplianceDeadline,
		ef.IsActive, ef.CreatedAt, ef.UpdatedAt,
	)
	return row.Scan(&ef.ID, &ef.CreatedAt)
}

func (s *Store) GetEntityFramework(ctx context.Context, entityID, frameworkID uuid.UUID) (*models.EntityFramework, error) {
	var ef models.EntityFramework
	query := `SELECT * FROM entity_frameworks WHERE entity_id = $1 AND framework_id = $2`
	err := s.db.GetContext(ctx, &ef, query, entityID, frameworkID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &ef, err
}

func (s *Store) ListEntityFrameworks(ctx context.Context, entityID uuid.UUID, activeOnly bool) ([]models.EntityFramework, error) {
	query := `SELECT * FROM entity_frameworks WHERE entity_id = $1`
	if activeOnly {
		query += ` AND is_active = true`
	}
	query += ` ORDER BY created_at DESC`

	var efs []models.EntityFramework
	err := s.db.SelectContext(ctx, &efs, query, entityID)
	return efs, err
}

// DeactivateEntityFramework soft-deletes the assignment; history rows
// referencing the pair are untouched.
func (s *Store) DeactivateEntityFramework(ctx context.Context, entityID, frameworkID uuid.UUID) error {
	query := `
		UPDATE entity_frameworks SET is_active = false, updated_at = $1
		WHERE entity_id = $2 AND framework_id = $3
	`
	_, err := s.db.ExecContext(ctx, query, time.Now(), entityID, frameworkID)
	return err
}

// UpsertControlAssignment assigns a control to an entity. started_at and
// completed_at are written exactly once, on the first transition into
// in-progress and completed respectively.
func (s *Store) UpsertControlAssignment(ctx context.Context, ca *models.ControlAssignment) error {
	query := `
		INSERT INTO control_assignments (
			id, entity_id, control_id, status, completion_rate, assigned_to,
			due_date, started_at, completed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (entity_id, control_id) DO UPDATE SET
			status = EXCLUDED.status,
			completion_rate = EXCLUDED.completion_rate,
			assigned_to = EXCLUDED.assigned_to,
			due_date = EXCLUDED.due_date,
			started_at = COALESCE(control_assignments.started_at, EXCLUDED.started_at),
			completed_at = COALESCE(control_assignments.completed_at, EXCLUDED.completed_at),
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`

	if ca.ID == uuid.Nil {
		ca.ID = uuid.New()
	}
	now := time.Now()
	ca.CreatedAt = now
	ca.UpdatedAt = now
	ca.CompletionRate = models.ClampScore(ca.CompletionRate)
	if ca.Status == "" {
		ca.Status = models.AssignmentNotStarted
	}
	switch ca.Status {
	case models.AssignmentInProgress, models.AssignmentNeedsReview:
		if ca.StartedAt == nil {
			ca.StartedAt = &now
		}
	case models.AssignmentCompleted:
		if ca.StartedAt == nil {
			ca.StartedAt = &now
		}
		if ca.CompletedAt == nil {
			ca.CompletedAt = &now
		}
	}

	row := s.db.QueryRowxContext(ctx, query,
		ca.ID, ca.EntityID, ca.ControlID, ca.Status, ca.CompletionRate, ca.AssignedTo,
		ca.DueDate, ca.StartedAt, ca.CompletedAt, ca.CreatedAt, ca.UpdatedAt,
	)
	return row.Scan(&ca.ID, &ca.CreatedAt)
}

func (s *Store) GetControlAssignment(ctx context.Context, entityID, controlID uuid.UUID) (*models.ControlAssignment, error) {
	var ca models.ControlAssignment
	query := `SELECT * FROM control_assignments WHERE entity_id = $1 AND control_id = $2`
	err := s.db.GetContext(ctx, &ca, query, entityID, controlID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &ca, err
}

func (s *Store) ListControlAssignments(ctx context.Context, entityID uuid.UUID) ([]models.ControlAssignment, error) {
	var cas []models.ControlAssignment
	query := `SELECT * FROM control_assignments WHERE entity_id = $1 ORDER BY created_at DESC`
	err := s.db.SelectContext(ctx, &cas, query, entityID)
	return cas, err
}

// DeleteControlAssignment removes the join row; tasks under the control
// remain but fall out of the entity's scope.
func (s *Store) DeleteControlAssignment(ctx context.Context, entityID, controlID uuid.UUID) error {
	query := `DELETE FROM control_assignments WHERE entity_id = $1 AND control_id = $2`
	_, err := s.db.ExecContext(ctx, query, entityID, controlID)
	return err
}
