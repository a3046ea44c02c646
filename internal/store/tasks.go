package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/complyarc/grc/internal/models"
)

func (s *Store) CreateTask(ctx context.Context, task *models.Task) error {
	query := `
		INSERT INTO tasks (id, control_id, title, assignee_id, status, priority, estimated_hours, due_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	task.ID = uuid.New()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	task.UpdatedAt = task.CreatedAt
	if task.Status == "" {
		task.Status = models.TaskPending
	}
	if task.Priority == "" {
		task.Priority = models.PriorityMedium
	}

	_, err := s.db.ExecContext(ctx, query,
		task.ID, task.ControlID, task.Title, task.AssigneeID, task.Status,
		task.Priority, task.EstimatedHours, task.DueDate, task.CreatedAt, task.UpdatedAt,
	)
	return err
}

func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	var task models.Task
	query := `SELECT * FROM tasks WHERE id = $1`
	err := s.db.GetContext(ctx, &task, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &task, err
}

func (s *Store) UpdateTaskStatus(ctx context.Context, id uuid.UUID, status models.TaskStatus) error {
	query := `UPDATE tasks SET status = $1, updated_at = $2 WHERE id = $3`
	_, err := s.db.ExecContext(ctx, query, status, time.Now(), id)
	return err
}

type ListTaskFilters struct {
	ControlID  *uuid.UUID
	AssigneeID *uuid.UUID
	Status     *models.TaskStatus
	Priority   *models.Priority
	Limit      int
	Offset     int
}

func (s *Store) ListTasks(ctx context.Context, filters ListTaskFilters) ([]models.Task, int, error) {
	baseQuery := `FROM tasks WHERE 1=1`
	args := make([]interface{}, 0)
	argIdx := 1

	if filters.ControlID != nil {
		baseQuery += fmt.Sprintf(" AND control_id = $%d", argIdx)
		args = append(args, *filters.ControlID)
		argIdx++
	}
	if filters.AssigneeID != nil {
		baseQuery += fmt.Sprintf(" AND assignee_id = $%d", argIdx)
		args = append(args, *filters.AssigneeID)
		argIdx++
	}
	if filters.Status != nil {
		baseQuery += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *filters.Status)
		argIdx++
	}
	if filters.Priority != nil {
		baseQuery += fmt.Sprintf(" AND priority = $%d", argIdx)
		args = append(args, *filters.Priority)
		_ = argIdx
	}

	var total int
	countQuery := "SELECT COUNT(*) " + baseQuery
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	selectQuery := "SELECT * " + baseQuery + " ORDER BY due_date ASC NULLS LAST, created_at DESC"
	if filters.Limit > 0 {
		selectQuery += fmt.Sprintf(" LIMIT %d", filters.Limit)
	}
	if filters.Offset > 0 {
		selectQuery += fmt.Sprintf(" OFFSET %d", filters.Offset)
	}

	var tasks []models.Task
	if err := s.db.SelectContext(ctx, &tasks, selectQuery, args...); err != nil {
		return nil, 0, err
	}

	return tasks, total, nil
}

func (s *Store) CreateEvidence(ctx context.Context, ev *models.Evidence) error {
	query := `
		INSERT INTO evidence_documents (id, control_id, file_name, file_size, mime_type, storage_key, uploaded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	ev.ID = uuid.New()
	ev.CreatedAt = time.Now()

	_, err := s.db.ExecContext(ctx, query,
		ev.ID, ev.ControlID, ev.FileName, ev.FileSize, ev.MimeType,
		ev.StorageKey, ev.UploadedBy, ev.CreatedAt,
	)
	return err
}

func (s *Store) GetEvidence(ctx context.Context, id uuid.UUID) (*models.Evidence, error) {
	var ev models.Evidence
	query := `SELECT * FROM evidence_documents WHERE id = $1`
	err := s.db.GetContext(ctx, &ev, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &ev, err
}

func (s *Store) DeleteEvidence(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM evidence_documents WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

func (s *Store) ListEvidenceByControl(ctx context.Context, controlID uuid.UUID) ([]models.Evidence, error) {
	var docs []models.Evidence
	query := `SELECT * FROM evidence_documents WHERE control_id = $1 ORDER BY created_at DESC`
	err := s.db.SelectContext(ctx, &docs, query, controlID)
	return docs, err
}

func (s *Store) CreateAuditGap(ctx context.Context, gap *models.AuditGap) error {
	query := `
		INSERT INTO audit_gaps (id, entity_id, control_id, framework_id, title, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	gap.ID = uuid.New()
	gap.CreatedAt = time.Now()
	if gap.Status == "" {
		gap.Status = models.GapOpen
	}

	_, err := s.db.ExecContext(ctx, query,
		gap.ID, gap.EntityID, gap.ControlID, gap.FrameworkID, gap.Title, gap.Status, gap.CreatedAt,
	)
	return err
}

func (s *Store) GetAuditGap(ctx context.Context, id uuid.UUID) (*models.AuditGap, error) {
	var gap models.AuditGap
	query := `SELECT * FROM audit_gaps WHERE id = $1`
	err := s.db.GetContext(ctx, &gap, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &gap, err
}

func (s *Store) ResolveAuditGap(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE audit_gaps SET status = $1, resolved_at = $2 WHERE id = $3`
	_, err := s.db.ExecContext(ctx, query, models.GapResolved, time.Now(), id)
	return err
}

func (s *Store) ListAuditGaps(ctx context.Context, entityID uuid.UUID, status *models.GapStatus) ([]models.AuditGap, error) {
	query := `SELECT * FROM audit_gaps WHERE entity_id = $1`
	args := []interface{}{entityID}
	if status != nil {
		query += ` AND status = $2`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC`

	var gaps []models.AuditGap
	err := s.db.SelectContext(ctx, &gaps, query, args...)
	return gaps, err
}
