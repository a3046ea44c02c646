package insights

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const (
	historyLookback  = 30 * 24 * time.Hour
	deadlineHorizon  = 90 * 24 * time.Hour
	decliningDelta   = 10.0
	improvingDelta   = 15.0
	overdueCritical  = 20
	minAssigneeTasks = 5
)

// Engine runs the insight rule battery for an organization. Every
// check is a pure function of the persisted data and the current
// timestamp; nothing is cached or written back.
type Engine struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewEngine(db *sqlx.DB, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{db: db, logger: logger, now: time.Now}
}

// Generate runs all rule checks and returns the concatenated insights
// sorted by priority, high first. A failing check is logged and
// skipped so one bad query cannot starve the rest of the batch.
func (e *Engine) Generate(ctx context.Context, orgID uuid.UUID) ([]Insight, error) {
	start := e.now()
	var out []Insight

	series, err := e.fetchFrameworkSeries(ctx, orgID)
	if err != nil {
		e.logger.Error("insight check group failed", "group", "framework_history", "org_id", orgID, "error", err)
	} else {
		out = append(out, evalDecliningCompliance(series)...)
		out = append(out, evalCriticalDeadlines(series, e.now())...)
		out = append(out, evalApproachingDeadlines(series, e.now())...)
		out = append(out, evalImprovingCompliance(series)...)
		out = append(out, evalHighAchievement(series)...)
	}

	overdue, err := e.fetchOverdueCount(ctx, orgID)
	if err != nil {
		e.logger.Error("insight check group failed", "group", "overdue_tasks", "org_id", orgID, "error", err)
	} else {
		out = append(out, evalOverdueVolume(overdue)...)
	}

	team, err := e.fetchAssigneeStats(ctx, orgID)
	if err != nil {
		e.logger.Error("insight check group failed", "group", "team_performance", "org_id", orgID, "error", err)
	} else {
		out = append(out, evalLowCompletion(team)...)
		out = append(out, evalOverdueHeavy(team)...)
	}

	coverage, err := e.fetchEvidenceCoverage(ctx, orgID)
	if err != nil {
		e.logger.Error("insight check group failed", "group", "evidence_coverage", "org_id", orgID, "error", err)
	} else {
		out = append(out, evalEvidenceGaps(coverage)...)
	}

	SortByPriority(out)

	e.logger.Debug("insights generated",
		"org_id", orgID,
		"insights", len(out),
		"duration", time.Since(start),
	)
	return out, nil
}

// SortByPriority orders insights high > medium > low. Order within a
// priority band is unspecified but stable.
func SortByPriority(list []Insight) {
	sort.SliceStable(list, func(i, j int) bool {
		return priorityRank(list[i].Priority) < priorityRank(list[j].Priority)
	})
}

func (e *Engine) fetchFrameworkSeries(ctx context.Context, orgID uuid.UUID) ([]frameworkSeries, error) {
	query := `
		SELECT ch.framework_id, f.name, f.compliance_deadline,
			date_trunc('day', ch.created_at AT TIME ZONE 'UTC') AS day,
			AVG(ch.compliance_score) AS avg_score
		FROM compliance_history ch
		JOIN entities e ON e.id = ch.entity_id
		JOIN frameworks f ON f.id = ch.framework_id
		WHERE e.organization_id = $1 AND e.is_active = true AND ch.created_at >= $2
		GROUP BY ch.framework_id, f.name, f.compliance_deadline, day
		ORDER BY ch.framework_id, day ASC
	`
	type row struct {
		FrameworkID uuid.UUID  `db:"framework_id"`
		Name        string     `db:"name"`
		Deadline    *time.Time `db:"compliance_deadline"`
		Day         time.Time  `db:"day"`
		AvgScore    float64    `db:"avg_score"`
	}
	var rows []row
	cutoff := e.now().Add(-historyLookback)
	if err := e.db.SelectContext(ctx, &rows, query, orgID, cutoff); err != nil {
		return nil, fmt.Errorf("fetching framework history: %w", err)
	}

	var series []frameworkSeries
	for _, r := range rows {
		if len(series) == 0 || series[len(series)-1].FrameworkID != r.FrameworkID {
			series = append(series, frameworkSeries{
				FrameworkID: r.FrameworkID,
				Name:        r.Name,
				Deadline:    r.Deadline,
			})
		}
		last := &series[len(series)-1]
		last.Points = append(last.Points, seriesPoint{Day: r.Day, AvgScore: r.AvgScore})
	}
	return series, nil
}

func (e *Engine) fetchOverdueCount(ctx context.Context, orgID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(DISTINCT t.id)
		FROM tasks t
		JOIN control_assignments ca ON ca.control_id = t.control_id
		JOIN entities e ON e.id = ca.entity_id AND t.created_at >= e.created_at
		WHERE e.organization_id = $1 AND e.is_active = true
			AND t.due_date < $2 AND t.status <> 'completed'
	`
	var count int
	if err := e.db.GetContext(ctx, &count, query, orgID, e.now()); err != nil {
		return 0, fmt.Errorf("counting overdue tasks: %w", err)
	}
	return count, nil
}

func (e *Engine) fetchAssigneeStats(ctx context.Context, orgID uuid.UUID) ([]assigneeStats, error) {
	query := `
		SELECT t.assignee_id, COALESCE(u.name, '') AS assignee_name,
			COUNT(DISTINCT t.id) AS total_tasks,
			COUNT(DISTINCT t.id) FILTER (WHERE t.status = 'completed') AS completed_tasks,
			COUNT(DISTINCT t.id) FILTER (WHERE t.due_date < $3 AND t.status <> 'completed') AS overdue_tasks
		FROM tasks t
		JOIN control_assignments ca ON ca.control_id = t.control_id
		JOIN entities e ON e.id = ca.entity_id AND t.created_at >= e.created_at
		LEFT JOIN users u ON u.id = t.assignee_id
		WHERE e.organization_id = $1 AND e.is_active = true
			AND t.assignee_id IS NOT NULL AND t.created_at >= $2
		GROUP BY t.assignee_id, u.name
	`
	var rows []assigneeStats
	cutoff := e.now().Add(-historyLookback)
	if err := e.db.SelectContext(ctx, &rows, query, orgID, cutoff, e.now()); err != nil {
		return nil, fmt.Errorf("fetching assignee stats: %w", err)
	}
	return rows, nil
}

func (e *Engine) fetchEvidenceCoverage(ctx context.Context, orgID uuid.UUID) ([]controlEvidenceStats, error) {
	query := `
		SELECT c.id AS control_id, c.title,
			COUNT(DISTINCT ca.id) AS total_assignments,
			(SELECT COUNT(*) FROM evidence_documents d WHERE d.control_id = c.id) AS evidence_count,
			(SELECT COUNT(*) FROM audit_gaps g WHERE g.control_id = c.id AND g.status = 'open') AS open_gaps
		FROM controls c
		JOIN control_assignments ca ON ca.control_id = c.id
		JOIN entities e ON e.id = ca.entity_id
		WHERE e.organization_id = $1 AND e.is_active = true
			AND c.evidence_requirements <> ''
		GROUP BY c.id, c.title
	`
	var rows []controlEvidenceStats
	if err := e.db.SelectContext(ctx, &rows, query, orgID); err != nil {
		return nil, fmt.Errorf("fetching evidence coverage: %w", err)
	}
	return rows, nil
}

// evalDecliningCompliance flags frameworks whose latest daily average
// dropped more than 10 points below the preceding day's average.
func evalDecliningCompliance(series []frameworkSeries) []Insight {
	var out []Insight
	for _, s := range series {
		if len(s.Points) < 2 {
			continue
		}
		prev := s.Points[len(s.Points)-2].AvgScore
		curr := s.Points[len(s.Points)-1].AvgScore
		if prev-curr <= decliningDelta {
			continue
		}
		out = append(out, Insight{
			Type:           TypeWarning,
			Title:          "Framework Compliance Declining",
			Description:    fmt.Sprintf("%s compliance dropped from %.1f to %.1f between consecutive daily averages.", s.Name, prev, curr),
			Recommendation: "Review recent control and task activity for this framework and address regressions before the next audit cycle.",
			AffectedItems:  []AffectedItem{{Type: "framework", ID: s.FrameworkID, Name: s.Name}},
			Priority:       PriorityHigh,
			Category:       "compliance-trend",
		})
	}
	return out
}

// evalCriticalDeadlines flags frameworks within 90 days of their
// deadline whose current average compliance is below 50.
func evalCriticalDeadlines(series []frameworkSeries, now time.Time) []Insight {
	var out []Insight
	for _, s := range series {
		if len(s.Points) < 2 || s.Deadline == nil {
			continue
		}
		curr, _ := s.latest()
		remaining := s.Deadline.Sub(now)
		if remaining > deadlineHorizon || curr >= 50 {
			continue
		}
		out = append(out, Insight{
			Type:           TypeCritical,
			Title:          "Critical Deadline Approaching",
			Description:    fmt.Sprintf("%s deadline is %d days away with compliance at %.1f.", s.Name, int(remaining.Hours()/24), curr),
			Recommendation: "Escalate remediation work for this framework immediately; current compliance is well below certifiable levels.",
			AffectedItems:  []AffectedItem{{Type: "framework", ID: s.FrameworkID, Name: s.Name}},
			Priority:       PriorityHigh,
			Category:       "deadline",
		})
	}
	return out
}

// evalApproachingDeadlines flags frameworks whose deadline falls in
// the next 90 days while average compliance sits below 70.
func evalApproachingDeadlines(series []frameworkSeries, now time.Time) []Insight {
	var out []Insight
	for _, s := range series {
		if s.Deadline == nil || s.Deadline.Before(now) {
			continue
		}
		curr, ok := s.latest()
		if !ok || s.Deadline.Sub(now) > deadlineHorizon || curr >= 70 {
			continue
		}
		insight := Insight{
			Type:           TypeWarning,
			Title:          "Compliance Deadline At Risk",
			Description:    fmt.Sprintf("%s deadline falls within 90 days and average compliance is %.1f.", s.Name, curr),
			Recommendation: "Prioritize open controls and tasks under this framework to close the gap before the deadline.",
			AffectedItems:  []AffectedItem{{Type: "framework", ID: s.FrameworkID, Name: s.Name}},
			Priority:       PriorityMedium,
			Category:       "deadline",
		}
		if curr < 30 {
			insight.Type = TypeCritical
			insight.Priority = PriorityHigh
		}
		out = append(out, insight)
	}
	return out
}

// evalImprovingCompliance mirrors the declining check for gains over
// 15 points between consecutive daily averages.
func evalImprovingCompliance(series []frameworkSeries) []Insight {
	var out []Insight
	for _, s := range series {
		if len(s.Points) < 2 {
			continue
		}
		prev := s.Points[len(s.Points)-2].AvgScore
		curr := s.Points[len(s.Points)-1].AvgScore
		if curr-prev <= improvingDelta {
			continue
		}
		out = append(out, Insight{
			Type:           TypeSuccess,
			Title:          "Compliance Improving",
			Description:    fmt.Sprintf("%s compliance rose from %.1f to %.1f between consecutive daily averages.", s.Name, prev, curr),
			Recommendation: "Keep the current remediation pace; recent changes are moving this framework in the right direction.",
			AffectedItems:  []AffectedItem{{Type: "framework", ID: s.FrameworkID, Name: s.Name}},
			Priority:       PriorityLow,
			Category:       "compliance-trend",
		})
	}
	return out
}

// evalHighAchievement flags frameworks holding an average compliance
// of 90 or better.
func evalHighAchievement(series []frameworkSeries) []Insight {
	var out []Insight
	for _, s := range series {
		curr, ok := s.latest()
		if !ok || curr < 90 {
			continue
		}
		out = append(out, Insight{
			Type:           TypeSuccess,
			Title:          "High Compliance Achievement",
			Description:    fmt.Sprintf("%s is at %.1f average compliance.", s.Name, curr),
			Recommendation: "Consider scheduling certification for this framework while compliance is high.",
			AffectedItems:  []AffectedItem{{Type: "framework", ID: s.FrameworkID, Name: s.Name}},
			Priority:       PriorityLow,
			Category:       "achievement",
		})
	}
	return out
}

// evalOverdueVolume emits a single insight when any tasks are overdue,
// escalating past 20.
func evalOverdueVolume(count int) []Insight {
	if count == 0 {
		return nil
	}
	insight := Insight{
		Type:           TypeWarning,
		Title:          "Overdue Tasks Require Attention",
		Description:    fmt.Sprintf("%d tasks across the organization are past their due date.", count),
		Recommendation: "Reassign or reprioritize overdue tasks; sustained overdue volume erodes audit readiness.",
		Priority:       PriorityMedium,
		Category:       "tasks",
	}
	if count > overdueCritical {
		insight.Type = TypeCritical
		insight.Priority = PriorityHigh
	}
	return []Insight{insight}
}

// evalLowCompletion flags assignees with at least 5 recent tasks and a
// completion rate under 30%.
func evalLowCompletion(stats []assigneeStats) []Insight {
	var out []Insight
	for _, s := range stats {
		if s.TotalTasks < minAssigneeTasks {
			continue
		}
		rate := float64(s.Completed) / float64(s.TotalTasks)
		if rate >= 0.3 {
			continue
		}
		out = append(out, Insight{
			Type:           TypeWarning,
			Title:          "Low Team Performance Detected",
			Description:    fmt.Sprintf("%s completed %d of %d tasks assigned in the last 30 days.", s.AssigneeName, s.Completed, s.TotalTasks),
			Recommendation: "Check workload balance for this assignee and redistribute tasks if they are over capacity.",
			AffectedItems:  []AffectedItem{{Type: "user", ID: s.AssigneeID, Name: s.AssigneeName}},
			Priority:       PriorityMedium,
			Category:       "team-performance",
		})
	}
	return out
}

// evalOverdueHeavy flags assignees whose overdue tasks exceed half of
// their recent workload.
func evalOverdueHeavy(stats []assigneeStats) []Insight {
	var out []Insight
	for _, s := range stats {
		if s.TotalTasks < minAssigneeTasks {
			continue
		}
		if float64(s.Overdue) <= 0.5*float64(s.TotalTasks) {
			continue
		}
		out = append(out, Insight{
			Type:           TypeCritical,
			Title:          "High Overdue Task Rate",
			Description:    fmt.Sprintf("%d of %s's %d recent tasks are overdue.", s.Overdue, s.AssigneeName, s.TotalTasks),
			Recommendation: "Intervene on this assignee's queue; more than half of their recent tasks have slipped past due.",
			AffectedItems:  []AffectedItem{{Type: "user", ID: s.AssigneeID, Name: s.AssigneeName}},
			Priority:       PriorityHigh,
			Category:       "team-performance",
		})
	}
	return out
}

// evalEvidenceGaps flags controls with declared evidence requirements
// whose coverage is under 50% while an audit gap remains open.
func evalEvidenceGaps(stats []controlEvidenceStats) []Insight {
	var out []Insight
	for _, s := range stats {
		if s.TotalAssignments == 0 || s.OpenGaps == 0 {
			continue
		}
		coverage := float64(s.EvidenceCount) / float64(s.TotalAssignments)
		if coverage >= 0.5 {
			continue
		}
		out = append(out, Insight{
			Type:           TypeWarning,
			Title:          "Evidence Collection Gap",
			Description:    fmt.Sprintf("%s has %d evidence documents across %d assignments with %d open audit gaps.", s.Title, s.EvidenceCount, s.TotalAssignments, s.OpenGaps),
			Recommendation: "Collect and upload the required evidence for this control to close the open audit gaps.",
			AffectedItems:  []AffectedItem{{Type: "control", ID: s.ControlID, Name: s.Title}},
			Priority:       PriorityMedium,
			Category:       "evidence",
		})
	}
	return out
}
