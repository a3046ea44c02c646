package insights

import (
	"time"

	"github.com/google/uuid"
)

// InsightType is the severity class of an insight.
type InsightType string

const (
	TypeCritical InsightType = "critical"
	TypeWarning  InsightType = "warning"
	TypeSuccess  InsightType = "success"
	TypeInfo     InsightType = "info"
)

// InsightPriority orders insights in the response, high first.
type InsightPriority string

const (
	PriorityHigh   InsightPriority = "high"
	PriorityMedium InsightPriority = "medium"
	PriorityLow    InsightPriority = "low"
)

func priorityRank(p InsightPriority) int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// AffectedItem names one record an insight refers to.
type AffectedItem struct {
	Type string    `json:"type"`
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Insight is a derived recommendation. Insights are computed fresh on
// every request and never persisted.
type Insight struct {
	Type           InsightType     `json:"type"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Recommendation string          `json:"recommendation"`
	AffectedItems  []AffectedItem  `json:"affectedItems"`
	Priority       InsightPriority `json:"priority"`
	Category       string          `json:"category"`
}

// frameworkSeries is one framework's day-averaged compliance history
// over the lookback window, oldest day first.
type frameworkSeries struct {
	FrameworkID uuid.UUID
	Name        string
	Deadline    *time.Time
	Points      []seriesPoint
}

type seriesPoint struct {
	Day      time.Time
	AvgScore float64
}

// latest returns the most recent daily average, or false when the
// series is empty.
func (s frameworkSeries) latest() (float64, bool) {
	if len(s.Points) == 0 {
		return 0, false
	}
	return s.Points[len(s.Points)-1].AvgScore, true
}

// assigneeStats summarizes one assignee's tasks created in the
// lookback window.
type assigneeStats struct {
	AssigneeID   uuid.UUID `db:"assignee_id"`
	AssigneeName string    `db:"assignee_name"`
	TotalTasks   int       `db:"total_tasks"`
	Completed    int       `db:"completed_tasks"`
	Overdue      int       `db:"overdue_tasks"`
}

// controlEvidenceStats summarizes evidence coverage for one control
// that declares evidence requirements.
type controlEvidenceStats struct {
	ControlID        uuid.UUID `db:"control_id"`
	Title            string    `db:"title"`
	TotalAssignments int       `db:"total_assignments"`
	EvidenceCount    int       `db:"evidence_count"`
	OpenGaps         int       `db:"open_gaps"`
}
