package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/complyarc/grc/internal/models"
)

// getTestDSN returns the test database DSN from environment
func getTestDSN() string {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		dsn = "host=localhost port=5432 user=grc password=grc_password dbname=grc_test sslmode=disable"
	}
	return dsn
}

// skipIfNoTestDB skips the test if no test database is available
func skipIfNoTestDB(t *testing.T) *Store {
	t.Helper()

	store, err := New(Config{
		DSN:          getTestDSN(),
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	})
	if err != nil {
		t.Skipf("Skipping test, database not available: %v", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.Ping(ctx); err != nil {
		t.Skipf("Skipping test, database not reachable: %v", err)
		return nil
	}

	return store
}

// newTestHierarchy seeds an organization with one entity, one framework
// and one control, returning all four.
func newTestHierarchy(t *testing.T, store *Store) (*models.Organization, *models.Entity, *models.Framework, *models.Control) {
	t.Helper()
	ctx := context.Background()

	org := &models.Organization{Name: "Test Org"}
	if err := store.CreateOrganization(ctx, org); err != nil {
		t.Fatalf("CreateOrganization failed: %v", err)
	}

	entity := &models.Entity{
		OrganizationID: org.ID,
		Name:           "EU Subsidiary",
		EntityType:     "subsidiary",
		RiskLevel:      models.RiskHigh,
	}
	if err := store.CreateEntity(ctx, entity); err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}

	fw := &models.Framework{
		Name:     "GDPR",
		Category: "privacy",
		Region:   "EU",
		Priority: models.PriorityHigh,
	}
	if err := store.CreateFramework(ctx, fw); err != nil {
		t.Fatalf("CreateFramework failed: %v", err)
	}

	control := &models.Control{
		FrameworkID:          fw.ID,
		Title:                "Data Processing Records",
		Category:             "documentation",
		EvidenceRequirements: "processing register export",
	}
	if err := store.CreateControl(ctx, control); err != nil {
		t.Fatalf("CreateControl failed: %v", err)
	}

	return org, entity, fw, control
}

func TestStore_Entities(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()
	org, entity, _, _ := newTestHierarchy(t, store)

	if entity.ID == uuid.Nil {
		t.Error("Expected entity ID to be set")
	}
	if !entity.IsActive {
		t.Error("Expected new entity to be active")
	}

	retrieved, err := store.GetEntity(ctx, entity.ID)
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if retrieved.Name != entity.Name {
		t.Errorf("Expected name %s, got %s", entity.Name, retrieved.Name)
	}
	if retrieved.OrganizationID != org.ID {
		t.Errorf("Expected organization %s, got %s", org.ID, retrieved.OrganizationID)
	}

	entities, err := store.ListEntities(ctx, org.ID, true)
	if err != nil {
		t.Fatalf("ListEntities failed: %v", err)
	}
	if len(entities) != 1 {
		t.Errorf("Expected 1 active entity, got %d", len(entities))
	}

	if err := store.DeactivateEntity(ctx, entity.ID); err != nil {
		t.Fatalf("DeactivateEntity failed: %v", err)
	}

	entities, err = store.ListEntities(ctx, org.ID, true)
	if err != nil {
		t.Fatalf("ListEntities failed: %v", err)
	}
	if len(entities) != 0 {
		t.Errorf("Expected no active entities after deactivation, got %d", len(entities))
	}

	// Deactivation is a soft delete
	entities, err = store.ListEntities(ctx, org.ID, false)
	if err != nil {
		t.Fatalf("ListEntities failed: %v", err)
	}
	if len(entities) != 1 {
		t.Errorf("Expected 1 entity including inactive, got %d", len(entities))
	}
}

func TestStore_EntityFrameworkUpsert(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()
	_, entity, fw, _ := newTestHierarchy(t, store)

	first := &models.EntityFramework{
		EntityID:        entity.ID,
		FrameworkID:     fw.ID,
		ComplianceScore: 40,
	}
	if err := store.UpsertEntityFramework(ctx, first); err != nil {
		t.Fatalf("UpsertEntityFramework failed: %v", err)
	}

	// Same pair again: updates in place, keeps the original row
	second := &models.EntityFramework{
		EntityID:        entity.ID,
		FrameworkID:     fw.ID,
		ComplianceScore: 75,
	}
	if err := store.UpsertEntityFramework(ctx, second); err != nil {
		t.Fatalf("UpsertEntityFramework (second) failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("Expected upsert to keep row ID %s, got %s", first.ID, second.ID)
	}

	retrieved, err := store.GetEntityFramework(ctx, entity.ID, fw.ID)
	if err != nil {
		t.Fatalf("GetEntityFramework failed: %v", err)
	}
	if retrieved.ComplianceScore != 75 {
		t.Errorf("Expected score 75, got %f", retrieved.ComplianceScore)
	}

	// Scores clamp to [0,100]
	clamped := &models.EntityFramework{
		EntityID:        entity.ID,
		FrameworkID:     fw.ID,
		ComplianceScore: 150,
	}
	if err := store.UpsertEntityFramework(ctx, clamped); err != nil {
		t.Fatalf("UpsertEntityFramework (clamped) failed: %v", err)
	}
	if clamped.ComplianceScore != 100 {
		t.Errorf("Expected clamped score 100, got %f", clamped.ComplianceScore)
	}

	// Re-assignment after deactivation reactivates
	if err := store.DeactivateEntityFramework(ctx, entity.ID, fw.ID); err != nil {
		t.Fatalf("DeactivateEntityFramework failed: %v", err)
	}
	active, err := store.ListEntityFrameworks(ctx, entity.ID, true)
	if err != nil {
		t.Fatalf("ListEntityFrameworks failed: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("Expected no active assignments, got %d", len(active))
	}

	if err := store.UpsertEntityFramework(ctx, &models.EntityFramework{
		EntityID:        entity.ID,
		FrameworkID:     fw.ID,
		ComplianceScore: 60,
	}); err != nil {
		t.Fatalf("UpsertEntityFramework (reactivate) failed: %v", err)
	}
	active, _ = store.ListEntityFrameworks(ctx, entity.ID, true)
	if len(active) != 1 {
		t.Errorf("Expected reactivated assignment, got %d active", len(active))
	}
}

func TestStore_ControlAssignmentTransitions(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()
	_, entity, _, control := newTestHierarchy(t, store)

	ca := &models.ControlAssignment{
		EntityID:  entity.ID,
		ControlID: control.ID,
	}
	if err := store.UpsertControlAssignment(ctx, ca); err != nil {
		t.Fatalf("UpsertControlAssignment failed: %v", err)
	}
	if ca.Status != models.AssignmentNotStarted {
		t.Errorf("Expected default status not-started, got %s", ca.Status)
	}

	retrieved, err := store.GetControlAssignment(ctx, entity.ID, control.ID)
	if err != nil {
		t.Fatalf("GetControlAssignment failed: %v", err)
	}
	if retrieved.StartedAt != nil {
		t.Error("Expected started_at to be unset for not-started")
	}

	// First transition into in-progress stamps started_at
	if err := store.UpsertControlAssignment(ctx, &models.ControlAssignment{
		EntityID:       entity.ID,
		ControlID:      control.ID,
		Status:         models.AssignmentInProgress,
		CompletionRate: 30,
	}); err != nil {
		t.Fatalf("UpsertControlAssignment (in-progress) failed: %v", err)
	}
	retrieved, _ = store.GetControlAssignment(ctx, entity.ID, control.ID)
	if retrieved.StartedAt == nil {
		t.Fatal("Expected started_at to be set after in-progress transition")
	}
	firstStarted := *retrieved.StartedAt

	// Completing stamps completed_at without touching started_at
	if err := store.UpsertControlAssignment(ctx, &models.ControlAssignment{
		EntityID:       entity.ID,
		ControlID:      control.ID,
		Status:         models.AssignmentCompleted,
		CompletionRate: 100,
	}); err != nil {
		t.Fatalf("UpsertControlAssignment (completed) failed: %v", err)
	}
	retrieved, _ = store.GetControlAssignment(ctx, entity.ID, control.ID)
	if retrieved.CompletedAt == nil {
		t.Fatal("Expected completed_at to be set")
	}
	if !retrieved.StartedAt.Equal(firstStarted) {
		t.Errorf("Expected started_at to stay %v, got %v", firstStarted, retrieved.StartedAt)
	}
	firstCompleted := *retrieved.CompletedAt

	// Moving back to in-progress keeps both timestamps
	if err := store.UpsertControlAssignment(ctx, &models.ControlAssignment{
		EntityID:       entity.ID,
		ControlID:      control.ID,
		Status:         models.AssignmentInProgress,
		CompletionRate: 80,
	}); err != nil {
		t.Fatalf("UpsertControlAssignment (reopen) failed: %v", err)
	}
	retrieved, _ = store.GetControlAssignment(ctx, entity.ID, control.ID)
	if !retrieved.StartedAt.Equal(firstStarted) {
		t.Errorf("Expected started_at to stay %v after reopen, got %v", firstStarted, retrieved.StartedAt)
	}
	if !retrieved.CompletedAt.Equal(firstCompleted) {
		t.Errorf("Expected completed_at to stay %v after reopen, got %v", firstCompleted, retrieved.CompletedAt)
	}

	if err := store.DeleteControlAssignment(ctx, entity.ID, control.ID); err != nil {
		t.Fatalf("DeleteControlAssignment failed: %v", err)
	}
	retrieved, _ = store.GetControlAssignment(ctx, entity.ID, control.ID)
	if retrieved != nil {
		t.Error("Expected assignment to be deleted")
	}
}

func TestStore_TasksAndGaps(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()
	_, entity, fw, control := newTestHierarchy(t, store)

	task := &models.Task{
		ControlID: control.ID,
		Title:     "Export processing register",
	}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if task.Status != models.TaskPending {
		t.Errorf("Expected default status pending, got %s", task.Status)
	}
	if task.Priority != models.PriorityMedium {
		t.Errorf("Expected default priority medium, got %s", task.Priority)
	}

	if err := store.UpdateTaskStatus(ctx, task.ID, models.TaskCompleted); err != nil {
		t.Fatalf("UpdateTaskStatus failed: %v", err)
	}
	retrieved, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if retrieved.Status != models.TaskCompleted {
		t.Errorf("Expected status completed, got %s", retrieved.Status)
	}

	completed := models.TaskCompleted
	tasks, total, err := store.ListTasks(ctx, ListTaskFilters{
		ControlID: &control.ID,
		Status:    &completed,
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if total != 1 || len(tasks) != 1 {
		t.Errorf("Expected 1 completed task, got total=%d len=%d", total, len(tasks))
	}

	gap := &models.AuditGap{
		EntityID:    entity.ID,
		ControlID:   &control.ID,
		FrameworkID: &fw.ID,
		Title:       "Missing register export",
	}
	if err := store.CreateAuditGap(ctx, gap); err != nil {
		t.Fatalf("CreateAuditGap failed: %v", err)
	}
	if gap.Status != models.GapOpen {
		t.Errorf("Expected default gap status open, got %s", gap.Status)
	}

	if err := store.ResolveAuditGap(ctx, gap.ID); err != nil {
		t.Fatalf("ResolveAuditGap failed: %v", err)
	}
	resolved, err := store.GetAuditGap(ctx, gap.ID)
	if err != nil {
		t.Fatalf("GetAuditGap failed: %v", err)
	}
	if resolved.Status != models.GapResolved {
		t.Errorf("Expected status resolved, got %s", resolved.Status)
	}
	if resolved.ResolvedAt == nil {
		t.Error("Expected resolved_at to be set")
	}

	open := models.GapOpen
	gaps, err := store.ListAuditGaps(ctx, entity.ID, &open)
	if err != nil {
		t.Fatalf("ListAuditGaps failed: %v", err)
	}
	if len(gaps) != 0 {
		t.Errorf("Expected no open gaps, got %d", len(gaps))
	}
}

func TestStore_Evidence(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()
	_, _, _, control := newTestHierarchy(t, store)

	ev := &models.Evidence{
		ControlID:  control.ID,
		FileName:   "register.pdf",
		FileSize:   2048,
		MimeType:   "application/pdf",
		StorageKey: "evidence/" + control.ID.String() + "/register.pdf",
	}
	if err := store.CreateEvidence(ctx, ev); err != nil {
		t.Fatalf("CreateEvidence failed: %v", err)
	}

	retrieved, err := store.GetEvidence(ctx, ev.ID)
	if err != nil {
		t.Fatalf("GetEvidence failed: %v", err)
	}
	if retrieved.StorageKey != ev.StorageKey {
		t.Errorf("Expected storage key %s, got %s", ev.StorageKey, retrieved.StorageKey)
	}

	docs, err := store.ListEvidenceByControl(ctx, control.ID)
	if err != nil {
		t.Fatalf("ListEvidenceByControl failed: %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("Expected 1 evidence document, got %d", len(docs))
	}
}
