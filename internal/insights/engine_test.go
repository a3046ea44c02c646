package insights

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func daySeries(name string, deadline *time.Time, scores ...float64) frameworkSeries {
	s := frameworkSeries{
		FrameworkID: uuid.New(),
		Name:        name,
		Deadline:    deadline,
	}
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, score := range scores {
		s.Points = append(s.Points, seriesPoint{Day: day.AddDate(0, 0, i), AvgScore: score})
	}
	return s
}

func TestSortByPriority(t *testing.T) {
	list := []Insight{
		{Title: "low", Priority: PriorityLow},
		{Title: "high", Priority: PriorityHigh},
		{Title: "medium", Priority: PriorityMedium},
		{Title: "high2", Priority: PriorityHigh},
	}
	SortByPriority(list)

	want := []string{"high", "high2", "medium", "low"}
	for i, title := range want {
		if list[i].Title != title {
			t.Errorf("Expected position %d to be %s, got %s", i, title, list[i].Title)
		}
	}
}

func TestEvalDecliningCompliance(t *testing.T) {
	series := []frameworkSeries{
		daySeries("GDPR", nil, 80, 65),    // 15-point drop: triggers
		daySeries("SOC 2", nil, 80, 75),   // 5-point drop: no
		daySeries("ISO 27001", nil, 60),   // single point: no
		daySeries("HIPAA", nil, 70, 59.9), // 10.1-point drop: triggers
	}

	out := evalDecliningCompliance(series)
	if len(out) != 2 {
		t.Fatalf("Expected 2 insights, got %d", len(out))
	}
	if out[0].Type != TypeWarning || out[0].Priority != PriorityHigh {
		t.Errorf("Expected warning/high, got %s/%s", out[0].Type, out[0].Priority)
	}
	if out[0].AffectedItems[0].Name != "GDPR" {
		t.Errorf("Expected GDPR affected, got %s", out[0].AffectedItems[0].Name)
	}
}

func TestEvalImprovingCompliance(t *testing.T) {
	series := []frameworkSeries{
		daySeries("GDPR", nil, 50, 70),  // +20: triggers
		daySeries("SOC 2", nil, 50, 64), // +14: no
	}

	out := evalImprovingCompliance(series)
	if len(out) != 1 {
		t.Fatalf("Expected 1 insight, got %d", len(out))
	}
	if out[0].Type != TypeSuccess || out[0].Priority != PriorityLow {
		t.Errorf("Expected success/low, got %s/%s", out[0].Type, out[0].Priority)
	}
}

func TestEvalCriticalDeadlines(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	near := now.AddDate(0, 0, 30)
	far := now.AddDate(0, 0, 200)

	series := []frameworkSeries{
		daySeries("GDPR", &near, 45, 40),  // near deadline, low score: triggers
		daySeries("SOC 2", &near, 60, 55), // score >= 50: no
		daySeries("HIPAA", &far, 30, 20),  // deadline beyond horizon: no
		daySeries("PCI", &near, 40),       // fewer than 2 points: no
	}

	out := evalCriticalDeadlines(series, now)
	if len(out) != 1 {
		t.Fatalf("Expected 1 insight, got %d", len(out))
	}
	if out[0].Type != TypeCritical || out[0].Priority != PriorityHigh {
		t.Errorf("Expected critical/high, got %s/%s", out[0].Type, out[0].Priority)
	}
}

func TestEvalApproachingDeadlines(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	near := now.AddDate(0, 0, 45)
	past := now.AddDate(0, 0, -5)

	series := []frameworkSeries{
		daySeries("GDPR", &near, 65),  // below 70: warning/medium
		daySeries("SOC 2", &near, 25), // below 30: escalates
		daySeries("HIPAA", &near, 85), // healthy: no
		daySeries("PCI", &past, 20),   // deadline already passed: no
	}

	out := evalApproachingDeadlines(series, now)
	if len(out) != 2 {
		t.Fatalf("Expected 2 insights, got %d", len(out))
	}
	if out[0].Type != TypeWarning || out[0].Priority != PriorityMedium {
		t.Errorf("Expected warning/medium for GDPR, got %s/%s", out[0].Type, out[0].Priority)
	}
	if out[1].Type != TypeCritical || out[1].Priority != PriorityHigh {
		t.Errorf("Expected critical/high escalation for SOC 2, got %s/%s", out[1].Type, out[1].Priority)
	}
}

func TestEvalHighAchievement(t *testing.T) {
	series := []frameworkSeries{
		daySeries("GDPR", nil, 85, 92), // latest 92: triggers
		daySeries("SOC 2", nil, 95, 89),
	}

	out := evalHighAchievement(series)
	if len(out) != 1 {
		t.Fatalf("Expected 1 insight, got %d", len(out))
	}
	if out[0].AffectedItems[0].Name != "GDPR" {
		t.Errorf("Expected GDPR, got %s", out[0].AffectedItems[0].Name)
	}
}

func TestEvalOverdueVolume(t *testing.T) {
	if out := evalOverdueVolume(0); out != nil {
		t.Errorf("Expected no insight for zero overdue, got %v", out)
	}

	out := evalOverdueVolume(5)
	if len(out) != 1 || out[0].Type != TypeWarning || out[0].Priority != PriorityMedium {
		t.Errorf("Expected warning/medium for 5 overdue, got %v", out)
	}

	// 20 is the edge: not yet critical
	out = evalOverdueVolume(20)
	if out[0].Type != TypeWarning {
		t.Errorf("Expected warning at exactly 20, got %s", out[0].Type)
	}

	out = evalOverdueVolume(21)
	if out[0].Type != TypeCritical || out[0].Priority != PriorityHigh {
		t.Errorf("Expected critical/high past 20, got %s/%s", out[0].Type, out[0].Priority)
	}
}

func TestEvalLowCompletion(t *testing.T) {
	stats := []assigneeStats{
		{AssigneeID: uuid.New(), AssigneeName: "Alex", TotalTasks: 10, Completed: 2},  // 20%: triggers
		{AssigneeID: uuid.New(), AssigneeName: "Sam", TotalTasks: 10, Completed: 3},   // exactly 30%: no
		{AssigneeID: uuid.New(), AssigneeName: "Jordan", TotalTasks: 4, Completed: 0}, // too few tasks: no
	}

	out := evalLowCompletion(stats)
	if len(out) != 1 {
		t.Fatalf("Expected 1 insight, got %d", len(out))
	}
	if out[0].AffectedItems[0].Name != "Alex" {
		t.Errorf("Expected Alex, got %s", out[0].AffectedItems[0].Name)
	}
}

func TestEvalOverdueHeavy(t *testing.T) {
	stats := []assigneeStats{
		{AssigneeID: uuid.New(), AssigneeName: "Alex", TotalTasks: 10, Overdue: 6},   // 60%: triggers
		{AssigneeID: uuid.New(), AssigneeName: "Sam", TotalTasks: 10, Overdue: 5},    // exactly half: no
		{AssigneeID: uuid.New(), AssigneeName: "Jordan", TotalTasks: 3, Overdue: 3},  // too few tasks: no
	}

	out := evalOverdueHeavy(stats)
	if len(out) != 1 {
		t.Fatalf("Expected 1 insight, got %d", len(out))
	}
	if out[0].Type != TypeCritical || out[0].Priority != PriorityHigh {
		t.Errorf("Expected critical/high, got %s/%s", out[0].Type, out[0].Priority)
	}
}

func TestEvalEvidenceGaps(t *testing.T) {
	stats := []controlEvidenceStats{
		{ControlID: uuid.New(), Title: "Access Reviews", TotalAssignments: 4, EvidenceCount: 1, OpenGaps: 2}, // 25% coverage, open gaps: triggers
		{ControlID: uuid.New(), Title: "Encryption", TotalAssignments: 4, EvidenceCount: 2, OpenGaps: 1},     // exactly 50%: no
		{ControlID: uuid.New(), Title: "Backups", TotalAssignments: 4, EvidenceCount: 0, OpenGaps: 0},        // no open gaps: no
	}

	out := evalEvidenceGaps(stats)
	if len(out) != 1 {
		t.Fatalf("Expected 1 insight, got %d", len(out))
	}
	if out[0].AffectedItems[0].Name != "Access Reviews" {
		t.Errorf("Expected Access Reviews, got %s", out[0].AffectedItems[0].Name)
	}
}
