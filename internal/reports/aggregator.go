package reports

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Aggregator computes organization, framework, control and task rollups.
//
// Every rollup aggregates each fan-out branch (tasks, evidence, gaps,
// scores) in its own scoped CTE and only combines the already-aggregated
// subtotals at the top level. Joining the branches first and aggregating
// after multiplies counts across independent one-to-many relations.
type Aggregator struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewAggregator(db *sqlx.DB, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{db: db, logger: logger, now: time.Now}
}

type OverviewStats struct {
	TotalEntities      int     `json:"totalEntities" db:"total_entities"`
	TotalFrameworks    int     `json:"totalFrameworks" db:"total_frameworks"`
	TotalControls      int     `json:"totalControls" db:"total_controls"`
	TotalTasks         int     `json:"totalTasks" db:"total_tasks"`
	CompletedTasks     int     `json:"completedTasks" db:"completed_tasks"`
	PendingTasks       int     `json:"pendingTasks" db:"pending_tasks"`
	InProgressTasks    int     `json:"inProgressTasks" db:"in_progress_tasks"`
	OverdueTasks       int     `json:"overdueTasks" db:"overdue_tasks"`
	TotalEvidence      int     `json:"totalEvidence" db:"total_evidence"`
	TotalGaps          int     `json:"totalGaps" db:"total_gaps"`
	OpenGaps           int     `json:"openGaps" db:"open_gaps"`
	AvgComplianceScore float64 `json:"avgComplianceScore" db:"avg_compliance_score"`
	TaskCompletionRate float64 `json:"taskCompletionRate" db:"-"`
}

type FrameworkStats struct {
	FrameworkID        uuid.UUID `json:"frameworkId" db:"framework_id"`
	Name               string    `json:"name" db:"name"`
	Category           string    `json:"category" db:"category"`
	Region             string    `json:"region" db:"region"`
	Priority           string    `json:"priority" db:"priority"`
	EntitiesAssigned   int       `json:"entitiesAssigned" db:"entities_assigned"`
	TotalControls      int       `json:"totalControls" db:"total_controls"`
	TotalTasks         int       `json:"totalTasks" db:"total_tasks"`
	CompletedTasks     int       `json:"completedTasks" db:"completed_tasks"`
	OverdueTasks       int       `json:"overdueTasks" db:"overdue_tasks"`
	EvidenceCount      int       `json:"evidenceCount" db:"evidence_count"`
	OpenGaps           int       `json:"openGaps" db:"open_gaps"`
	AvgComplianceScore float64   `json:"avgComplianceScore" db:"avg_compliance_score"`
	CompletionRate     float64   `json:"completionRate" db:"-"`
}

type ControlStats struct {
	ControlID                uuid.UUID `json:"controlId" db:"control_id"`
	Title                    string    `json:"title" db:"title"`
	Category                 string    `json:"category" db:"category"`
	Priority                 string    `json:"priority" db:"priority"`
	FrameworkID              uuid.UUID `json:"frameworkId" db:"framework_id"`
	FrameworkName            string    `json:"frameworkName" db:"framework_name"`
	TotalAssignments         int       `json:"totalAssignments" db:"total_assignments"`
	CompletedAssignments     int       `json:"completedAssignments" db:"completed_assignments"`
	InProgressAssignments    int       `json:"inProgressAssignments" db:"in_progress_assignments"`
	NeedsReviewAssignments   int       `json:"needsReviewAssignments" db:"needs_review_assignments"`
	NotStartedAssignments    int       `json:"notStartedAssignments" db:"not_started_assignments"`
	TotalTasks               int       `json:"totalTasks" db:"total_tasks"`
	CompletedTasks           int       `json:"completedTasks" db:"completed_tasks"`
	EvidenceCount            int       `json:"evidenceCount" db:"evidence_count"`
	OpenGaps                 int       `json:"openGaps" db:"open_gaps"`
	AssignmentCompletionRate float64   `json:"assignmentCompletionRate" db:"-"`
}

type TaskStats struct {
	TaskID        uuid.UUID  `json:"taskId" db:"task_id"`
	Title         string     `json:"title" db:"title"`
	Status        string     `json:"status" db:"status"`
	Priority      string     `json:"priority" db:"priority"`
	DueDate       *time.Time `json:"dueDate,omitempty" db:"due_date"`
	CreatedAt     time.Time  `json:"createdAt" db:"created_at"`
	ControlID     uuid.UUID  `json:"controlId" db:"control_id"`
	ControlTitle  string     `json:"controlTitle" db:"control_title"`
	FrameworkID   uuid.UUID  `json:"frameworkId" db:"framework_id"`
	FrameworkName string     `json:"frameworkName" db:"framework_name"`
	EntityID      uuid.UUID  `json:"entityId" db:"entity_id"`
	EntityName    string     `json:"entityName" db:"entity_name"`
	AssigneeID    *uuid.UUID `json:"assigneeId,omitempty" db:"assignee_id"`
	AssigneeName  string     `json:"assigneeName" db:"assignee_name"`
	EvidenceCount int        `json:"evidenceCount" db:"evidence_count"`
	IsOverdue     bool       `json:"isOverdue" db:"is_overdue"`
}

// Rate returns completed/total*100, or 0 when total is 0.
func Rate(completed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(completed) / float64(total) * 100
}

// Overview computes the organization-wide rollup.
func (a *Aggregator) Overview(ctx context.Context, orgID uuid.UUID, f Filters) (*OverviewStats, error) {
	start := a.now()

	args := []interface{}{orgID}
	entityCond := ""
	if f.EntityID != nil {
		args = append(args, *f.EntityID)
		entityCond = fmt.Sprintf(" AND e.id = $%d", len(args))
	}
	fwCond := ""
	if f.FrameworkID != nil {
		args = append(args, *f.FrameworkID)
		fwCond = fmt.Sprintf(" AND ef.framework_id = $%d", len(args))
	}
	taskRange := ""
	if f.DateFrom != nil {
		args = append(args, *f.DateFrom)
		taskRange += fmt.Sprintf(" AND t.created_at >= $%d", len(args))
	}
	if f.DateTo != nil {
		args = append(args, *f.DateTo)
		taskRange += fmt.Sprintf(" AND t.created_at <= $%d", len(args))
	}
	args = append(args, a.now())
	nowIdx := len(args)

	query := fmt.Sprintf(`
		WITH scoped_entities AS (
			SELECT e.id, e.created_at
			FROM entities e
			WHERE e.organization_id = $1 AND e.is_active = true%s
		),
		scoped_frameworks AS (
			SELECT DISTINCT ef.framework_id
			FROM entity_frameworks ef
			JOIN scoped_entities se ON se.id = ef.entity_id
			WHERE ef.is_active = true%s
		),
		scoped_controls AS (
			SELECT DISTINCT ca.control_id
			FROM control_assignments ca
			JOIN scoped_entities se ON se.id = ca.entity_id
			JOIN controls c ON c.id = ca.control_id
			WHERE c.framework_id IN (SELECT framework_id FROM scoped_frameworks)
		),
		task_totals AS (
			SELECT
				COUNT(DISTINCT t.id) AS total,
				COUNT(DISTINCT t.id) FILTER (WHERE t.status = 'completed') AS completed,
				COUNT(DISTINCT t.id) FILTER (WHERE t.status = 'pending') AS pending,
				COUNT(DISTINCT t.id) FILTER (WHERE t.status = 'in-progress') AS in_progress,
				COUNT(DISTINCT t.id) FILTER (WHERE t.due_date < $%d AND t.status <> 'completed') AS overdue
			FROM control_assignments ca
			JOIN scoped_entities se ON se.id = ca.entity_id
			JOIN tasks t ON t.control_id = ca.control_id AND t.created_at >= se.created_at
			WHERE ca.control_id IN (SELECT control_id FROM scoped_controls)%s
		),
		evidence_total AS (
			SELECT COUNT(*) AS total
			FROM evidence_documents d
			WHERE d.control_id IN (SELECT control_id FROM scoped_controls)
		),
		gap_totals AS (
			SELECT COUNT(*) AS total, COUNT(*) FILTER (WHERE g.status = 'open') AS open
			FROM audit_gaps g
			JOIN scoped_entities se ON se.id = g.entity_id
		),
		score_avg AS (
			SELECT AVG(ef.compliance_score) AS avg_score
			FROM entity_frameworks ef
			JOIN scoped_entities se ON se.id = ef.entity_id
			WHERE ef.is_active = true%s
		)
		SELECT
			(SELECT COUNT(*) FROM scoped_entities) AS total_entities,
			(SELECT COUNT(*) FROM scoped_frameworks) AS total_frameworks,
			(SELECT COUNT(*) FROM scoped_controls) AS total_controls,
			tt.total AS total_tasks,
			tt.completed AS completed_tasks,
			tt.pending AS pending_tasks,
			tt.in_progress AS in_progress_tasks,
			tt.overdue AS overdue_tasks,
			et.total AS total_evidence,
			gt.total AS total_gaps,
			gt.open AS open_gaps,
			COALESCE(sa.avg_score, 0) AS avg_compliance_score
		FROM task_totals tt
		CROSS JOIN evidence_total et
		CROSS JOIN gap_totals gt
		CROSS JOIN score_avg sa
	`, entityCond, fwCond, nowIdx, taskRange, fwCond)

	var stats OverviewStats
	if err := a.db.GetContext(ctx, &stats, query, args...); err != nil {
		return nil, fmt.Errorf("computing overview: %w", err)
	}
	stats.TaskCompletionRate = Rate(stats.CompletedTasks, stats.TotalTasks)

	a.logger.Debug("overview computed",
		"org_id", orgID,
		"tasks", stats.TotalTasks,
		"duration", time.Since(start),
	)
	return &stats, nil
}

// FrameworksReport computes per-framework rollups for every framework
// assigned to at least one in-scope entity.
func (a *Aggregator) FrameworksReport(ctx context.Context, orgID uuid.UUID, f Filters) ([]FrameworkStats, error) {
	start := a.now()

	args := []interface{}{orgID}
	entityCond := ""
	if f.EntityID != nil {
		args = append(args, *f.EntityID)
		entityCond = fmt.Sprintf(" AND e.id = $%d", len(args))
	}
	fwConds := ""
	if f.FrameworkID != nil {
		args = append(args, *f.FrameworkID)
		fwConds += fmt.Sprintf(" AND f.id = $%d", len(args))
	}
	if f.Region != nil {
		args = append(args, *f.Region)
		fwConds += fmt.Sprintf(" AND f.region = $%d", len(args))
	}
	if f.Priority != nil {
		args = append(args, *f.Priority)
		fwConds += fmt.Sprintf(" AND f.priority = $%d", len(args))
	}
	if f.RiskLevel != nil {
		args = append(args, *f.RiskLevel)
		fwConds += fmt.Sprintf(" AND f.risk_level = $%d", len(args))
	}
	taskRange := ""
	if f.DateFrom != nil {
		args = append(args, *f.DateFrom)
		taskRange += fmt.Sprintf(" AND t.created_at >= $%d", len(args))
	}
	if f.DateTo != nil {
		args = append(args, *f.DateTo)
		taskRange += fmt.Sprintf(" AND t.created_at <= $%d", len(args))
	}
	args = append(args, a.now())
	nowIdx := len(args)

	query := fmt.Sprintf(`
		WITH scoped_entities AS (
			SELECT e.id, e.created_at
			FROM entities e
			WHERE e.organization_id = $1 AND e.is_active = true%s
		),
		scoped_frameworks AS (
			SELECT f.id, f.name, f.category, f.region, f.priority
			FROM frameworks f
			WHERE EXISTS (
				SELECT 1 FROM entity_frameworks ef
				JOIN scoped_entities se ON se.id = ef.entity_id
				WHERE ef.framework_id = f.id AND ef.is_active = true
			)%s
		),
		entity_counts AS (
			SELECT ef.framework_id, COUNT(DISTINCT ef.entity_id) AS entities
			FROM entity_frameworks ef
			JOIN scoped_entities se ON se.id = ef.entity_id
			WHERE ef.is_active = true
			GROUP BY ef.framework_id
		),
		control_counts AS (
			SELECT c.framework_id, COUNT(*) AS total
			FROM controls c
			GROUP BY c.framework_id
		),
		task_counts AS (
			SELECT c.framework_id,
				COUNT(DISTINCT t.id) AS total,
				COUNT(DISTINCT t.id) FILTER (WHERE t.status = 'completed') AS completed,
				COUNT(DISTINCT t.id) FILTER (WHERE t.due_date < $%d AND t.status <> 'completed') AS overdue
			FROM controls c
			JOIN control_assignments ca ON ca.control_id = c.id
			JOIN scoped_entities se ON se.id = ca.entity_id
			JOIN tasks t ON t.control_id = c.id AND t.created_at >= se.created_at
			WHERE 1=1%s
			GROUP BY c.framework_id
		),
		evidence_counts AS (
			SELECT c.framework_id, COUNT(DISTINCT d.id) AS total
			FROM controls c
			JOIN evidence_documents d ON d.control_id = c.id
			WHERE EXISTS (
				SELECT 1 FROM control_assignments ca
				JOIN scoped_entities se ON se.id = ca.entity_id
				WHERE ca.control_id = c.id
			)
			GROUP BY c.framework_id
		),
		gap_counts AS (
			SELECT g.framework_id, COUNT(*) FILTER (WHERE g.status = 'open') AS open
			FROM audit_gaps g
			JOIN scoped_entities se ON se.id = g.entity_id
			WHERE g.framework_id IS NOT NULL
			GROUP BY g.framework_id
		),
		score_avgs AS (
			SELECT ef.framework_id, AVG(ef.compliance_score) AS avg_score
			FROM entity_frameworks ef
			JOIN scoped_entities se ON se.id = ef.entity_id
			WHERE ef.is_active = true
			GROUP BY ef.framework_id
		)
		SELECT
			f.id AS framework_id,
			f.name,
			f.category,
			f.region,
			f.priority,
			COALESCE(ec.entities, 0) AS entities_assigned,
			COALESCE(cc.total, 0) AS total_controls,
			COALESCE(tc.total, 0) AS total_tasks,
			COALESCE(tc.completed, 0) AS completed_tasks,
			COALESCE(tc.overdue, 0) AS overdue_tasks,
			COALESCE(evc.total, 0) AS evidence_count,
			COALESCE(gc.open, 0) AS open_gaps,
			COALESCE(sa.avg_score, 0) AS avg_compliance_score
		FROM scoped_frameworks f
		LEFT JOIN entity_counts ec ON ec.framework_id = f.id
		LEFT JOIN control_counts cc ON cc.framework_id = f.id
		LEFT JOIN task_counts tc ON tc.framework_id = f.id
		LEFT JOIN evidence_counts evc ON evc.framework_id = f.id
		LEFT JOIN gap_counts gc ON gc.framework_id = f.id
		LEFT JOIN score_avgs sa ON sa.framework_id = f.id
		ORDER BY f.name ASC
	`, entityCond, fwConds, nowIdx, taskRange)

	var rows []FrameworkStats
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("computing frameworks report: %w", err)
	}
	for i := range rows {
		rows[i].CompletionRate = Rate(rows[i].CompletedTasks, rows[i].TotalTasks)
	}

	a.logger.Debug("frameworks report computed",
		"org_id", orgID,
		"frameworks", len(rows),
		"duration", time.Since(start),
	)
	return rows, nil
}

// ControlsReport computes per-control rollups for every control
// reachable through an in-scope framework.
func (a *Aggregator) ControlsReport(ctx context.Context, orgID uuid.UUID, f Filters) ([]ControlStats, error) {
	start := a.now()

	args := []interface{}{orgID}
	entityCond := ""
	if f.EntityID != nil {
		args = append(args, *f.EntityID)
		entityCond = fmt.Sprintf(" AND e.id = $%d", len(args))
	}
	fwCond := ""
	if f.FrameworkID != nil {
		args = append(args, *f.FrameworkID)
		fwCond = fmt.Sprintf(" AND ef.framework_id = $%d", len(args))
	}
	controlConds := ""
	if f.ControlID != nil {
		args = append(args, *f.ControlID)
		controlConds += fmt.Sprintf(" AND c.id = $%d", len(args))
	}
	if f.Category != nil {
		args = append(args, *f.Category)
		controlConds += fmt.Sprintf(" AND c.category = $%d", len(args))
	}
	if f.Priority != nil {
		args = append(args, *f.Priority)
		controlConds += fmt.Sprintf(" AND c.priority = $%d", len(args))
	}
	assignConds := ""
	if f.AssigneeID != nil {
		args = append(args, *f.AssigneeID)
		assignConds += fmt.Sprintf(" AND ca.assigned_to = $%d", len(args))
	}
	if f.AssignmentStatus != nil {
		args = append(args, *f.AssignmentStatus)
		assignConds += fmt.Sprintf(" AND ca.status = $%d", len(args))
	}

	query := fmt.Sprintf(`
		WITH scoped_entities AS (
			SELECT e.id, e.created_at
			FROM entities e
			WHERE e.organization_id = $1 AND e.is_active = true%s
		),
		scoped_frameworks AS (
			SELECT DISTINCT ef.framework_id
			FROM entity_frameworks ef
			JOIN scoped_entities se ON se.id = ef.entity_id
			WHERE ef.is_active = true%s
		),
		scoped_controls AS (
			SELECT c.id, c.title, c.category, c.priority, c.framework_id, f.name AS framework_name
			FROM controls c
			JOIN frameworks f ON f.id = c.framework_id
			WHERE c.framework_id IN (SELECT framework_id FROM scoped_frameworks)%s
		),
		assignment_counts AS (
			SELECT ca.control_id,
				COUNT(*) AS total,
				COUNT(*) FILTER (WHERE ca.status = 'completed') AS completed,
				COUNT(*) FILTER (WHERE ca.status = 'in-progress') AS in_progress,
				COUNT(*) FILTER (WHERE ca.status = 'needs-review') AS needs_review,
				COUNT(*) FILTER (WHERE ca.status = 'not-started') AS not_started
			FROM control_assignments ca
			JOIN scoped_entities se ON se.id = ca.entity_id
			WHERE 1=1%s
			GROUP BY ca.control_id
		),
		task_counts AS (
			SELECT t.control_id,
				COUNT(DISTINCT t.id) AS total,
				COUNT(DISTINCT t.id) FILTER (WHERE t.status = 'completed') AS completed
			FROM tasks t
			JOIN control_assignments ca ON ca.control_id = t.control_id
			JOIN scoped_entities se ON se.id = ca.entity_id AND t.created_at >= se.created_at
			GROUP BY t.control_id
		),
		evidence_counts AS (
			SELECT d.control_id, COUNT(*) AS total
			FROM evidence_documents d
			GROUP BY d.control_id
		),
		gap_counts AS (
			SELECT g.control_id, COUNT(*) FILTER (WHERE g.status = 'open') AS open
			FROM audit_gaps g
			JOIN scoped_entities se ON se.id = g.entity_id
			WHERE g.control_id IS NOT NULL
			GROUP BY g.control_id
		)
		SELECT
			c.id AS control_id,
			c.title,
			c.category,
			c.priority,
			c.framework_id,
			c.framework_name,
			COALESCE(ac.total, 0) AS total_assignments,
			COALESCE(ac.completed, 0) AS completed_assignments,
			COALESCE(ac.in_progress, 0) AS in_progress_assignments,
			COALESCE(ac.needs_review, 0) AS needs_review_assignments,
			COALESCE(ac.not_started, 0) AS not_started_assignments,
			COALESCE(tc.total, 0) AS total_tasks,
			COALESCE(tc.completed, 0) AS completed_tasks,
			COALESCE(evc.total, 0) AS evidence_count,
			COALESCE(gc.open, 0) AS open_gaps
		FROM scoped_controls c
		LEFT JOIN assignment_counts ac ON ac.control_id = c.id
		LEFT JOIN task_counts tc ON tc.control_id = c.id
		LEFT JOIN evidence_counts evc ON evc.control_id = c.id
		LEFT JOIN gap_counts gc ON gc.control_id = c.id
		ORDER BY c.title ASC
	`, entityCond, fwCond, controlConds, assignConds)

	var rows []ControlStats
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("computing controls report: %w", err)
	}
	for i := range rows {
		rows[i].AssignmentCompletionRate = Rate(rows[i].CompletedAssignments, rows[i].TotalAssignments)
	}

	a.logger.Debug("controls report computed",
		"org_id", orgID,
		"controls", len(rows),
		"duration", time.Since(start),
	)
	return rows, nil
}

// TasksReport returns the flat task listing, one row per in-scope
// (task, entity) pair with denormalized names.
func (a *Aggregator) TasksReport(ctx context.Context, orgID uuid.UUID, f Filters) ([]TaskStats, error) {
	start := a.now()

	args := []interface{}{orgID}
	entityCond := ""
	if f.EntityID != nil {
		args = append(args, *f.EntityID)
		entityCond = fmt.Sprintf(" AND e.id = $%d", len(args))
	}
	taskConds := ""
	if f.FrameworkID != nil {
		args = append(args, *f.FrameworkID)
		taskConds += fmt.Sprintf(" AND c.framework_id = $%d", len(args))
	}
	if f.ControlID != nil {
		args = append(args, *f.ControlID)
		taskConds += fmt.Sprintf(" AND t.control_id = $%d", len(args))
	}
	if f.TaskStatus != nil {
		args = append(args, *f.TaskStatus)
		taskConds += fmt.Sprintf(" AND t.status = $%d", len(args))
	}
	if f.Priority != nil {
		args = append(args, *f.Priority)
		taskConds += fmt.Sprintf(" AND t.priority = $%d", len(args))
	}
	if f.AssigneeID != nil {
		args = append(args, *f.AssigneeID)
		taskConds += fmt.Sprintf(" AND t.assignee_id = $%d", len(args))
	}
	if f.DateFrom != nil {
		args = append(args, *f.DateFrom)
		taskConds += fmt.Sprintf(" AND t.created_at >= $%d", len(args))
	}
	if f.DateTo != nil {
		args = append(args, *f.DateTo)
		taskConds += fmt.Sprintf(" AND t.created_at <= $%d", len(args))
	}
	args = append(args, a.now())
	nowIdx := len(args)

	query := fmt.Sprintf(`
		WITH scoped_entities AS (
			SELECT e.id, e.name, e.created_at
			FROM entities e
			WHERE e.organization_id = $1 AND e.is_active = true%s
		),
		evidence_counts AS (
			SELECT d.control_id, COUNT(*) AS total
			FROM evidence_documents d
			GROUP BY d.control_id
		)
		SELECT
			t.id AS task_id,
			t.title,
			t.status,
			t.priority,
			t.due_date,
			t.created_at,
			c.id AS control_id,
			c.title AS control_title,
			fw.id AS framework_id,
			fw.name AS framework_name,
			se.id AS entity_id,
			se.name AS entity_name,
			t.assignee_id,
			COALESCE(u.name, '') AS assignee_name,
			COALESCE(ec.total, 0) AS evidence_count,
			(t.due_date IS NOT NULL AND t.due_date < $%d AND t.status <> 'completed') AS is_overdue
		FROM tasks t
		JOIN controls c ON c.id = t.control_id
		JOIN frameworks fw ON fw.id = c.framework_id
		JOIN control_assignments ca ON ca.control_id = t.control_id
		JOIN scoped_entities se ON se.id = ca.entity_id AND t.created_at >= se.created_at
		LEFT JOIN users u ON u.id = t.assignee_id
		LEFT JOIN evidence_counts ec ON ec.control_id = t.control_id
		WHERE 1=1%s
		ORDER BY t.due_date ASC NULLS LAST, t.created_at DESC
	`, entityCond, nowIdx, taskConds)

	var rows []TaskStats
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("computing tasks report: %w", err)
	}

	a.logger.Debug("tasks report computed",
		"org_id", orgID,
		"tasks", len(rows),
		"duration", time.Since(start),
	)
	return rows, nil
}
