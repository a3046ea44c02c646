package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/complyarc/grc/internal/models"
)

type Store struct {
	db *sqlx.DB
}

type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

func New(cfg Config) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) CreateOrganization(ctx context.Context, org *models.Organization) error {
	query := `
		INSERT INTO organizations (id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
	`
	org.ID = uuid.New()
	org.CreatedAt = time.Now()
	org.UpdatedAt = org.CreatedAt

	_, err := s.db.ExecContext(ctx, query, org.ID, org.Name, org.CreatedAt, org.UpdatedAt)
	return err
}

func (s *Store) GetOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	var org models.Organization
	query := `SELECT * FROM organizations WHERE id = $1`
	err := s.db.GetContext(ctx, &org, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &org, err
}

func (s *Store) CreateEntity(ctx context.Context, entity *models.Entity) error {
	query := `
		INSERT INTO entities (id, organization_id, name, entity_type, risk_level, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	entity.ID = uuid.New()
	entity.CreatedAt = time.Now()
	entity.UpdatedAt = entity.CreatedAt
	entity.IsActive = true
	if entity.RiskLevel == "" {
		entity.RiskLevel = models.RiskMedium
	}

	_, err := s.db.ExecContext(ctx, query,
		entity.ID, entity.OrganizationID, entity.Name, entity.EntityType,
		entity.RiskLevel, entity.IsActive, entity.CreatedAt, entity.UpdatedAt,
	)
	return err
}

func (s *Store) GetEntity(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	var entity models.Entity
	query := `SELECT * FROM entities WHERE id = $1`
	err := s.db.GetContext(ctx, &entity, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &entity, err
}

func (s *Store) ListEntities(ctx context.Context, orgID uuid.UUID, activeOnly bool) ([]models.Entity, error) {
	query := `SELECT * FROM entities WHERE organization_id = $1`
	if activeOnly {
		query += ` AND is_active = true`
	}
	query += ` ORDER BY created_at DESC`

	var entities []models.Entity
	err := s.db.SelectContext(ctx, &entities, query, orgID)
	return entities, err
}

// DeactivateEntity soft-deletes; assignment and history rows survive.
func (s *Store) DeactivateEntity(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE entities SET is_active = false, updated_at = $1 WHERE id = $2`
	_, err := s.db.ExecContext(ctx, query, time.Now(), id)
	return err
}

func (s *Store) CreateFramework(ctx context.Context, fw *models.Framework) error {
	query := `
		INSERT INTO frameworks (id, name, category, region, priority, risk_level, compliance_deadline, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	fw.ID = uuid.New()
	fw.CreatedAt = time.Now()
	fw.UpdatedAt = fw.CreatedAt
	if fw.Priority == "" {
		fw.Priority = models.PriorityMedium
	}
	if fw.RiskLevel == "" {
		fw.RiskLevel = models.RiskMedium
	}

	_, err := s.db.ExecContext(ctx, query,
		fw.ID, fw.Name, fw.Category, fw.Region, fw.Priority, fw.RiskLevel,
		fw.ComplianceDeadline, fw.CreatedAt, fw.UpdatedAt,
	)
	return err
}

func (s *Store) GetFramework(ctx context.Context, id uuid.UUID) (*models.Framework, error) {
	var fw models.Framework
	query := `SELECT * FROM frameworks WHERE id = $1`
	err := s.db.GetContext(ctx, &fw, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &fw, err
}

type ListFrameworkFilters struct {
	Category  *string
	Region    *string
	Priority  *models.Priority
	RiskLevel *models.RiskLevel
}

func (s *Store) ListFrameworks(ctx context.Context, filters ListFrameworkFilters) ([]models.Framework, error) {
	query := `SELECT * FROM frameworks WHERE 1=1`
	args := make([]interface{}, 0)
	argIdx := 1

	if filters.Category != nil {
		query += fmt.Sprintf(" AND category = $%d", argIdx)
		args = append(args, *filters.Category)
		argIdx++
	}
	if filters.Region != nil {
		query += fmt.Sprintf(" AND region = $%d", argIdx)
		args = append(args, *filters.Region)
		argIdx++
	}
	if filters.Priority != nil {
		query += fmt.Sprintf(" AND priority = $%d", argIdx)
		args = append(args, *filters.Priority)
		argIdx++
	}
	if filters.RiskLevel != nil {
		query += fmt.Sprintf(" AND risk_level = $%d", argIdx)
		args = append(args, *filters.RiskLevel)
	}

	query += " ORDER BY name ASC"

	var frameworks []models.Framework
	err := s.db.SelectContext(ctx, &frameworks, query, args...)
	return frameworks, err
}

func (s *Store) CreateControl(ctx context.Context, control *models.Control) error {
	query := `
		INSERT INTO controls (id, framework_id, title, category, priority, evidence_requirements, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	control.ID = uuid.New()
	control.CreatedAt = time.Now()
	control.UpdatedAt = control.CreatedAt
	if control.Priority == "" {
		control.Priority = models.PriorityMedium
	}

	_, err := s.db.ExecContext(ctx, query,
		control.ID, control.FrameworkID, control.Title, control.Category,
		control.Priority, control.EvidenceRequirements, control.CreatedAt, control.UpdatedAt,
	)
	return err
}

func (s *Store) GetControl(ctx context.Context, id uuid.UUID) (*models.Control, error) {
	var control models.Control
	query := `SELECT * FROM controls WHERE id = $1`
	err := s.db.GetContext(ctx, &control, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &control, err
}

func (s *Store) ListControls(ctx context.Context, frameworkID uuid.UUID) ([]models.Control, error) {
	var controls []models.Control
	query := `SELECT * FROM controls WHERE framework_id = $1 ORDER BY title ASC`
	err := s.db.SelectContext(ctx, &controls, query, frameworkID)
	return controls, err
}
