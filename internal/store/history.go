package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/complyarc/grc/internal/models"
)

// AppendComplianceHistory writes a score snapshot. History rows are
// append-only; there is no update or delete path.
func (s *Store) AppendComplianceHistory(ctx context.Context, h *models.ComplianceHistory) error {
	query := `
		INSERT INTO compliance_history (id, entity_id, framework_id, compliance_score, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	h.ID = uuid.New()
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	h.ComplianceScore = models.ClampScore(h.ComplianceScore)

	_, err := s.db.ExecContext(ctx, query, h.ID, h.EntityID, h.FrameworkID, h.ComplianceScore, h.CreatedAt)
	return err
}

type HistoryFilters struct {
	EntityID    *uuid.UUID
	FrameworkID *uuid.UUID
	From        *time.Time
	To          *time.Time
}

// ListComplianceHistory returns history rows for an organization's
// entities, oldest first, optionally narrowed by entity, framework and
// date range.
func (s *Store) ListComplianceHistory(ctx context.Context, orgID uuid.UUID, filters HistoryFilters) ([]models.ComplianceHistory, error) {
	query := `
		SELECT ch.*
		FROM compliance_history ch
		JOIN entities e ON e.id = ch.entity_id
		WHERE e.organization_id = $1
	`
	args := []interface{}{orgID}
	argIdx := 2

	if filters.EntityID != nil {
		query += fmt.Sprintf(" AND ch.entity_id = $%d", argIdx)
		args = append(args, *filters.EntityID)
		argIdx++
	}
	if filters.FrameworkID != nil {
		query += fmt.Sprintf(" AND ch.framework_id = $%d", argIdx)
		args = append(args, *filters.FrameworkID)
		argIdx++
	}
	if filters.From != nil {
		query += fmt.Sprintf(" AND ch.created_at >= $%d", argIdx)
		args = append(args, *filters.From)
		argIdx++
	}
	if filters.To != nil {
		query += fmt.Sprintf(" AND ch.created_at <= $%d", argIdx)
		args = append(args, *filters.To)
	}

	query += ` ORDER BY ch.created_at ASC`

	var rows []models.ComplianceHistory
	err := s.db.SelectContext(ctx, &rows, query, args...)
	return rows, err
}
