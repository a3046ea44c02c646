package reports

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/complyarc/grc/internal/models"
	"github.com/complyarc/grc/internal/store"
)

func getTestDSN() string {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		dsn = "host=localhost port=5432 user=grc password=grc_password dbname=grc_test sslmode=disable"
	}
	return dsn
}

// skipIfNoTestDB skips the test if no test database is available
func skipIfNoTestDB(t *testing.T) (*store.Store, *sqlx.DB) {
	t.Helper()

	st, err := store.New(store.Config{
		DSN:          getTestDSN(),
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	})
	if err != nil {
		t.Skipf("Skipping test, database not available: %v", err)
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := st.Ping(ctx); err != nil {
		t.Skipf("Skipping test, database not reachable: %v", err)
		return nil, nil
	}

	return st, st.DB()
}

// TestAggregator_NoDoubleCounting seeds two entities sharing one control
// with three evidence documents. Evidence hangs off the control, not the
// assignment, so the overview must report 3, not 6.
func TestAggregator_NoDoubleCounting(t *testing.T) {
	st, db := skipIfNoTestDB(t)
	if st == nil {
		return
	}
	defer st.Close()

	ctx := context.Background()

	org := &models.Organization{Name: "Agg Test Org"}
	if err := st.CreateOrganization(ctx, org); err != nil {
		t.Fatalf("CreateOrganization failed: %v", err)
	}

	fw := &models.Framework{Name: "Agg GDPR", Category: "privacy", Region: "EU"}
	if err := st.CreateFramework(ctx, fw); err != nil {
		t.Fatalf("CreateFramework failed: %v", err)
	}

	control := &models.Control{FrameworkID: fw.ID, Title: "Shared Control"}
	if err := st.CreateControl(ctx, control); err != nil {
		t.Fatalf("CreateControl failed: %v", err)
	}

	for _, name := range []string{"Entity A", "Entity B"} {
		entity := &models.Entity{OrganizationID: org.ID, Name: name, EntityType: "subsidiary"}
		if err := st.CreateEntity(ctx, entity); err != nil {
			t.Fatalf("CreateEntity failed: %v", err)
		}
		if err := st.UpsertEntityFramework(ctx, &models.EntityFramework{
			EntityID:        entity.ID,
			FrameworkID:     fw.ID,
			ComplianceScore: 50,
		}); err != nil {
			t.Fatalf("UpsertEntityFramework failed: %v", err)
		}
		if err := st.UpsertControlAssignment(ctx, &models.ControlAssignment{
			EntityID:  entity.ID,
			ControlID: control.ID,
		}); err != nil {
			t.Fatalf("UpsertControlAssignment failed: %v", err)
		}
	}

	for i := 0; i < 3; i++ {
		if err := st.CreateEvidence(ctx, &models.Evidence{
			ControlID:  control.ID,
			FileName:   "doc.pdf",
			FileSize:   100,
			MimeType:   "application/pdf",
			StorageKey: "evidence/test/doc.pdf",
		}); err != nil {
			t.Fatalf("CreateEvidence failed: %v", err)
		}
	}

	agg := NewAggregator(db, nil)
	stats, err := agg.Overview(ctx, org.ID, Filters{})
	if err != nil {
		t.Fatalf("Overview failed: %v", err)
	}

	if stats.TotalEntities != 2 {
		t.Errorf("Expected 2 entities, got %d", stats.TotalEntities)
	}
	if stats.TotalEvidence != 3 {
		t.Errorf("Expected 3 evidence documents, got %d", stats.TotalEvidence)
	}
	if stats.TotalControls != 1 {
		t.Errorf("Expected 1 control, got %d", stats.TotalControls)
	}
	if stats.AvgComplianceScore != 50 {
		t.Errorf("Expected avg score 50, got %f", stats.AvgComplianceScore)
	}
	// No tasks exist, so the rate must be 0, not NaN
	if stats.TaskCompletionRate != 0 {
		t.Errorf("Expected completion rate 0 with no tasks, got %f", stats.TaskCompletionRate)
	}
}

// TestAggregator_TaskScopeAndOverdue exercises the task scope rule: a
// task created before its entity is excluded, and overdue status is
// derived from due date and completion.
func TestAggregator_TaskScopeAndOverdue(t *testing.T) {
	st, db := skipIfNoTestDB(t)
	if st == nil {
		return
	}
	defer st.Close()

	ctx := context.Background()

	org := &models.Organization{Name: "Task Scope Org"}
	if err := st.CreateOrganization(ctx, org); err != nil {
		t.Fatalf("CreateOrganization failed: %v", err)
	}
	fw := &models.Framework{Name: "Task Scope FW"}
	if err := st.CreateFramework(ctx, fw); err != nil {
		t.Fatalf("CreateFramework failed: %v", err)
	}
	control := &models.Control{FrameworkID: fw.ID, Title: "Task Scope Control"}
	if err := st.CreateControl(ctx, control); err != nil {
		t.Fatalf("CreateControl failed: %v", err)
	}

	// Task created before the entity exists
	stale := &models.Task{ControlID: control.ID, Title: "Pre-existing task"}
	stale.CreatedAt = time.Now().Add(-time.Hour)
	if err := st.CreateTask(ctx, stale); err != nil {
		t.Fatalf("CreateTask (stale) failed: %v", err)
	}

	entity := &models.Entity{OrganizationID: org.ID, Name: "Scope Entity"}
	if err := st.CreateEntity(ctx, entity); err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}
	if err := st.UpsertEntityFramework(ctx, &models.EntityFramework{
		EntityID:    entity.ID,
		FrameworkID: fw.ID,
	}); err != nil {
		t.Fatalf("UpsertEntityFramework failed: %v", err)
	}
	if err := st.UpsertControlAssignment(ctx, &models.ControlAssignment{
		EntityID:  entity.ID,
		ControlID: control.ID,
	}); err != nil {
		t.Fatalf("UpsertControlAssignment failed: %v", err)
	}

	pastDue := time.Now().Add(-24 * time.Hour)
	overdue := &models.Task{ControlID: control.ID, Title: "Overdue task", DueDate: &pastDue}
	if err := st.CreateTask(ctx, overdue); err != nil {
		t.Fatalf("CreateTask (overdue) failed: %v", err)
	}
	done := &models.Task{ControlID: control.ID, Title: "Done task", DueDate: &pastDue, Status: models.TaskCompleted}
	if err := st.CreateTask(ctx, done); err != nil {
		t.Fatalf("CreateTask (done) failed: %v", err)
	}

	agg := NewAggregator(db, nil)
	stats, err := agg.Overview(ctx, org.ID, Filters{})
	if err != nil {
		t.Fatalf("Overview failed: %v", err)
	}

	// The pre-entity task is out of scope
	if stats.TotalTasks != 2 {
		t.Errorf("Expected 2 in-scope tasks, got %d", stats.TotalTasks)
	}
	// Past due but completed does not count as overdue
	if stats.OverdueTasks != 1 {
		t.Errorf("Expected 1 overdue task, got %d", stats.OverdueTasks)
	}
	if stats.CompletedTasks != 1 {
		t.Errorf("Expected 1 completed task, got %d", stats.CompletedTasks)
	}
	if stats.TaskCompletionRate != 50 {
		t.Errorf("Expected 50%% completion rate, got %f", stats.TaskCompletionRate)
	}

	tasks, err := agg.TasksReport(ctx, org.ID, Filters{})
	if err != nil {
		t.Fatalf("TasksReport failed: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("Expected 2 task rows, got %d", len(tasks))
	}
	for _, row := range tasks {
		switch row.Title {
		case "Overdue task":
			if !row.IsOverdue {
				t.Error("Expected overdue task to be flagged")
			}
		case "Done task":
			if row.IsOverdue {
				t.Error("Expected completed task not to be flagged overdue")
			}
		}
	}
}

// TestAggregator_FrameworkFilter verifies that the framework filter
// narrows both the frameworks report and the overview score average.
func TestAggregator_FrameworkFilter(t *testing.T) {
	st, db := skipIfNoTestDB(t)
	if st == nil {
		return
	}
	defer st.Close()

	ctx := context.Background()

	org := &models.Organization{Name: "Filter Org"}
	if err := st.CreateOrganization(ctx, org); err != nil {
		t.Fatalf("CreateOrganization failed: %v", err)
	}
	entity := &models.Entity{OrganizationID: org.ID, Name: "Filter Entity"}
	if err := st.CreateEntity(ctx, entity); err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}

	var fwIDs []*models.Framework
	for i, spec := range []struct {
		name  string
		score float64
	}{{"Filter FW A", 40}, {"Filter FW B", 80}} {
		fw := &models.Framework{Name: spec.name}
		if err := st.CreateFramework(ctx, fw); err != nil {
			t.Fatalf("CreateFramework %d failed: %v", i, err)
		}
		if err := st.UpsertEntityFramework(ctx, &models.EntityFramework{
			EntityID:        entity.ID,
			FrameworkID:     fw.ID,
			ComplianceScore: spec.score,
		}); err != nil {
			t.Fatalf("UpsertEntityFramework %d failed: %v", i, err)
		}
		fwIDs = append(fwIDs, fw)
	}

	agg := NewAggregator(db, nil)

	all, err := agg.FrameworksReport(ctx, org.ID, Filters{})
	if err != nil {
		t.Fatalf("FrameworksReport failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected 2 framework rows, got %d", len(all))
	}

	filtered, err := agg.FrameworksReport(ctx, org.ID, Filters{FrameworkID: &fwIDs[0].ID})
	if err != nil {
		t.Fatalf("FrameworksReport (filtered) failed: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Name != "Filter FW A" {
		t.Fatalf("Expected only Filter FW A, got %v", filtered)
	}
	if filtered[0].AvgComplianceScore != 40 {
		t.Errorf("Expected score 40, got %f", filtered[0].AvgComplianceScore)
	}

	overview, err := agg.Overview(ctx, org.ID, Filters{FrameworkID: &fwIDs[1].ID})
	if err != nil {
		t.Fatalf("Overview (filtered) failed: %v", err)
	}
	if overview.AvgComplianceScore != 80 {
		t.Errorf("Expected filtered avg 80, got %f", overview.AvgComplianceScore)
	}
}
