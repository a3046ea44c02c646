package models

import (
	"time"

	"github.com/google/uuid"
)

type RiskLevel string

const (
	RiskCritical RiskLevel = "critical"
	RiskHigh     RiskLevel = "high"
	RiskMedium   RiskLevel = "medium"
	RiskLow      RiskLevel = "low"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

type CertificationStatus string

const (
	CertificationNotApplicable CertificationStatus = "not-applicable"
	CertificationPending       CertificationStatus = "pending"
	CertificationCertified     CertificationStatus = "certified"
	CertificationExpired       CertificationStatus = "expired"
)

type AssignmentStatus string

const (
	AssignmentNotStarted  AssignmentStatus = "not-started"
	AssignmentInProgress  AssignmentStatus = "in-progress"
	AssignmentNeedsReview AssignmentStatus = "needs-review"
	AssignmentCompleted   AssignmentStatus = "completed"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in-progress"
	TaskCompleted  TaskStatus = "completed"
	TaskOverdue    TaskStatus = "overdue"
)

type GapStatus string

const (
	GapOpen     GapStatus = "open"
	GapResolved GapStatus = "resolved"
)

// ClampScore keeps compliance and completion scores inside [0,100].
// The database does not enforce the range; every write path must.
func ClampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

type Organization struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Entity struct {
	ID             uuid.UUID `json:"id" db:"id"`
	OrganizationID uuid.UUID `json:"organization_id" db:"organization_id"`
	Name           string    `json:"name" db:"name"`
	EntityType     string    `json:"entity_type" db:"entity_type"`
	RiskLevel      RiskLevel `json:"risk_level" db:"risk_level"`
	IsActive       bool      `json:"is_active" db:"is_active"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Framework is a global catalog entry (GDPR, ISO 27001, ...); it is not
// owned by any organization.
type Framework struct {
	ID                 uuid.UUID  `json:"id" db:"id"`
	Name               string     `json:"name" db:"name"`
	Category           string     `json:"category" db:"category"`
	Region             string     `json:"region" db:"region"`
	Priority           Priority   `json:"priority" db:"priority"`
	RiskLevel          RiskLevel  `json:"risk_level" db:"risk_level"`
	ComplianceDeadline *time.Time `json:"compliance_deadline,omitempty" db:"compliance_deadline"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
}

// EntityFramework is the assignment of a framework to an entity.
// Unique per (entity, framework); re-assignment upserts.
type EntityFramework struct {
	ID                  uuid.UUID           `json:"id" db:"id"`
	EntityID            uuid.UUID           `json:"entity_id" db:"entity_id"`
	FrameworkID         uuid.UUID           `json:"framework_id" db:"framework_id"`
	ComplianceScore     float64             `json:"compliance_score" db:"compliance_score"`
	AuditReadinessScore float64             `json:"audit_readiness_score" db:"audit_readiness_score"`
	CertificationStatus CertificationStatus `json:"certification_status" db:"certification_status"`
	LastAuditDate       *time.Time          `json:"last_audit_date,omitempty" db:"last_audit_date"`
	NextAuditDate       *time.Time          `json:"next_audit_date,omitempty" db:"next_audit_date"`
	ComplianceDeadline  *time.Time          `json:"compliance_deadline,omitempty" db:"compliance_deadline"`
	IsActive            bool                `json:"is_active" db:"is_active"`
	CreatedAt           time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at" db:"updated_at"`
}

type Control struct {
	ID                   uuid.UUID `json:"id" db:"id"`
	FrameworkID          uuid.UUID `json:"framework_id" db:"framework_id"`
	Title                string    `json:"title" db:"title"`
	Category             string    `json:"category" db:"category"`
	Priority             Priority  `json:"priority" db:"priority"`
	EvidenceRequirements string    `json:"evidence_requirements" db:"evidence_requirements"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time `json:"updated_at" db:"updated_at"`
}

// ControlAssignment links a control to an entity. Unique per
// (entity, control); re-assignment upserts. started_at and completed_at
// are set on the first matching status transition only.
type ControlAssignment struct {
	ID             uuid.UUID        `json:"id" db:"id"`
	EntityID       uuid.UUID        `json:"entity_id" db:"entity_id"`
	ControlID      uuid.UUID        `json:"control_id" db:"control_id"`
	Status         AssignmentStatus `json:"status" db:"status"`
	CompletionRate float64          `json:"completion_rate" db:"completion_rate"`
	AssignedTo     *uuid.UUID       `json:"assigned_to,omitempty" db:"assigned_to"`
	DueDate        *time.Time       `json:"due_date,omitempty" db:"due_date"`
	StartedAt      *time.Time       `json:"started_at,omitempty" db:"started_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
}

type Task struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	ControlID      uuid.UUID  `json:"control_id" db:"control_id"`
	Title          string     `json:"title" db:"title"`
	AssigneeID     *uuid.UUID `json:"assignee_id,omitempty" db:"assignee_id"`
	Status         TaskStatus `json:"status" db:"status"`
	Priority       Priority   `json:"priority" db:"priority"`
	EstimatedHours float64    `json:"estimated_hours" db:"estimated_hours"`
	DueDate        *time.Time `json:"due_date,omitempty" db:"due_date"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// IsOverdue is derived, never stored.
func (t Task) IsOverdue(now time.Time) bool {
	return t.DueDate != nil && t.DueDate.Before(now) && t.Status != TaskCompleted
}

// Evidence holds metadata for an uploaded document; the file payload
// lives in the object store.
type Evidence struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	ControlID  uuid.UUID  `json:"control_id" db:"control_id"`
	FileName   string     `json:"file_name" db:"file_name"`
	FileSize   int64      `json:"file_size" db:"file_size"`
	MimeType   string     `json:"mime_type" db:"mime_type"`
	StorageKey string     `json:"storage_key" db:"storage_key"`
	UploadedBy *uuid.UUID `json:"uploaded_by,omitempty" db:"uploaded_by"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

type AuditGap struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	EntityID    uuid.UUID  `json:"entity_id" db:"entity_id"`
	ControlID   *uuid.UUID `json:"control_id,omitempty" db:"control_id"`
	FrameworkID *uuid.UUID `json:"framework_id,omitempty" db:"framework_id"`
	Title       string     `json:"title" db:"title"`
	Status      GapStatus  `json:"status" db:"status"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// ComplianceHistory is an append-only score snapshot per
// (entity, framework). Rows are immutable once written and are the sole
// time-series source for trend computation.
type ComplianceHistory struct {
	ID              uuid.UUID `json:"id" db:"id"`
	EntityID        uuid.UUID `json:"entity_id" db:"entity_id"`
	FrameworkID     uuid.UUID `json:"framework_id" db:"framework_id"`
	ComplianceScore float64   `json:"compliance_score" db:"compliance_score"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}
