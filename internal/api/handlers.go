package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/complyarc/grc/internal/auth"
	"github.com/complyarc/grc/internal/models"
	"github.com/complyarc/grc/internal/store"
)

func parseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, name))
}

// entityForOrg loads an entity and verifies it belongs to the caller's
// organization. Writes the error response itself on failure.
func (s *Server) entityForOrg(w http.ResponseWriter, r *http.Request, entityID, orgID uuid.UUID) (*models.Entity, bool) {
	entity, err := s.store.GetEntity(r.Context(), entityID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return nil, false
	}
	if entity == nil || entity.OrganizationID != orgID {
		respondError(w, http.StatusNotFound, "not_found", "Entity not found")
		return nil, false
	}
	return entity, true
}

func (s *Server) listEntities(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.orgFromContext(w, r)
	if !ok {
		return
	}

	activeOnly := r.URL.Query().Get("active") != "false"
	entities, err := s.store.ListEntities(r.Context(), orgID, activeOnly)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, entities)
}

type createEntityRequest struct {
	Name       string           `json:"name"`
	EntityType string           `json:"entity_type"`
	RiskLevel  models.RiskLevel `json:"risk_level"`
}

func (s *Server) createEntity(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.orgFromContext(w, r)
	if !ok {
		return
	}

	var req createEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "name is required")
		return
	}

	entity := &models.Entity{
		OrganizationID: orgID,
		Name:           req.Name,
		EntityType:     req.EntityType,
		RiskLevel:      req.RiskLevel,
	}
	if err := s.store.CreateEntity(r.Context(), entity); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, entity)
}

func (s *Server) getEntity(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.orgFromContext(w, r)
	if !ok {
		return
	}
	entityID, err := parseUUIDParam(r, "entityID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid entity ID")
		return
	}

	entity, ok := s.entityForOrg(w, r, entityID, orgID)
	if !ok {
		return
	}

	respondJSON(w, http.StatusOK, entity)
}

func (s *Server) deactivateEntity(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.orgFromContext(w, r)
	if !ok {
		return
	}
	entityID, err := parseUUIDParam(r, "entityID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid entity ID")
		return
	}

	if _, ok := s.entityForOrg(w, r, entityID, orgID); !ok {
		return
	}

	if err := s.store.DeactivateEntity(r.Context(), entityID); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

func (s *Server) listEntityFrameworks(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.orgFromContext(w, r)
	if !ok {
		return
	}
	entityID, err := parseUUIDParam(r, "entityID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid entity ID")
		return
	}
	if _, ok := s.entityForOrg(w, r, entityID, orgID); !ok {
		return
	}

	activeOnly := r.URL.Query().Get("active") != "false"
	efs, err := s.store.ListEntityFrameworks(r.Context(), entityID, activeOnly)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, efs)
}

type assignFrameworkRequest struct {
	FrameworkID         uuid.UUID                  `json:"framework_id"`
	ComplianceScore     float64                    `json:"compliance_score"`
	AuditReadinessScore float64                    `json:"audit_readiness_score"`
	CertificationStatus models.CertificationStatus `json:"certification_status"`
	LastAuditDate       *time.Time                 `json:"last_audit_date"`
	NextAuditDate       *time.Time                 `json:"next_audit_date"`
	ComplianceDeadline  *time.Time                 `json:"compliance_deadline"`
}

func (s *Server) assignFramework(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.orgFromContext(w, r)
	if !ok {
		return
	}
	entityID, err := parseUUIDParam(r, "entityID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid entity ID")
		return
	}
	if _, ok := s.entityForOrg(w, r, entityID, orgID); !ok {
		return
	}

	var req assignFrameworkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.FrameworkID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "validation_error", "framework_id is required")
		return
	}

	fw, err := s.store.GetFramework(r.Context(), req.FrameworkID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if fw == nil {
		respondError(w, http.StatusNotFound, "not_found", "Framework not found")
		return
	}

	ef := &models.EntityFramework{
		EntityID:            entityID,
		FrameworkID:         req.FrameworkID,
		ComplianceScore:     req.ComplianceScore,
		AuditReadinessScore: req.AuditReadinessScore,
		CertificationStatus: req.CertificationStatus,
		LastAuditDate:       req.LastAuditDate,
		NextAuditDate:       req.NextAuditDate,
		ComplianceDeadline:  req.ComplianceDeadline,
	}
	if err := s.store.UpsertEntityFramework(r.Context(), ef); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, ef)
}

func (s *Server) unassignFramework(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.orgFromContext(w, r)
	if !ok {
		return
	}
	entityID, err := parseUUIDParam(r, "entityID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid entity ID")
		return
	}
	frameworkID, err := parseUUIDParam(r, "frameworkID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid framework ID")
		return
	}
	if _, ok := s.entityForOrg(w, r, entityID, orgID); !ok {
		return
	}

	if err := s.store.DeactivateEntityFramework(r.Context(), entityID, frameworkID); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "unassigned"})
}

func (s *Server) listControlAssignments(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.orgFromContext(w, r)
	if !ok {
		return
	}
	entityID, err := parseUUIDParam(r, "entityID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid entity ID")
		return
	}
	if _, ok := s.entityForOrg(w, r, entityID, orgID); !ok {
		return
	}

	cas, err := s.store.ListControlAssignments(r.Context(), entityID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, cas)
}

type assignControlRequest struct {
	ControlID      uuid.UUID               `json:"control_id"`
	Status         models.AssignmentStatus `json:"status"`
	CompletionRate float64                 `json:"completion_rate"`
	AssignedTo     *uuid.UUID              `json:"assigned_to"`
	DueDate        *time.Time              `json:"due_date"`
}

func (s *Server) assignControl(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.orgFromContext(w, r)
	if !ok {
		return
	}
	entityID, err := parseUUIDParam(r, "entityID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid entity ID")
		return
	}
	if _, ok := s.entityForOrg(w, r, entityID, orgID); !ok {
		return
	}

	var req assignControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.ControlID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "validation_error", "control_id is required")
		return
	}

	control, err := s.store.GetControl(r.Context(), req.ControlID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if control == nil {
		respondError(w, http.StatusNotFound, "not_found", "Control not found")
		return
	}

	ca := &models.ControlAssignment{
		EntityID:       entityID,
		ControlID:      req.ControlID,
		Status:         req.Status,
		CompletionRate: req.CompletionRate,
		AssignedTo:     req.AssignedTo,
		DueDate:        req.DueDate,
	}
	if err := s.store.UpsertControlAssignment(r.Context(), ca); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, ca)
}

func (s *Server) unassignControl(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.orgFromContext(w, r)
	if !ok {
		return
	}
	entityID, err := parseUUIDParam(r, "entityID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid entity ID")
		return
	}
	controlID, err := parseUUIDParam(r, "controlID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid control ID")
		return
	}
	if _, ok := s.entityForOrg(w, r, entityID, orgID); !ok {
		return
	}

	if err := s.store.DeleteControlAssignment(r.Context(), entityID, controlID); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "unassigned"})
}

func (s *Server) listAuditGaps(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.orgFromContext(w, r)
	if !ok {
		return
	}
	entityID, err := parseUUIDParam(r, "entityID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid entity ID")
		return
	}
	if _, ok := s.entityForOrg(w, r, entityID, orgID); !ok {
		return
	}

	var status *models.GapStatus
	if st := r.URL.Query().Get("status"); st != "" {
		gs := models.GapStatus(st)
		status = &gs
	}

	gaps, err := s.store.ListAuditGaps(r.Context(), entityID, status)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, gaps)
}

type createGapRequest struct {
	ControlID   *uuid.UUID `json:"control_id"`
	FrameworkID *uuid.UUID `json:"framework_id"`
	Title       string     `json:"title"`
}

func (s *Server) createAuditGap(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.orgFromContext(w, r)
	if !ok {
		return
	}
	entityID, err := parseUUIDParam(r, "entityID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid entity ID")
		return
	}
	if _, ok := s.entityForOrg(w, r, entityID, orgID); !ok {
		return
	}

	var req createGapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Title == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "title is required")
		return
	}

	gap := &models.AuditGap{
		EntityID:    entityID,
		ControlID:   req.ControlID,
		FrameworkID: req.FrameworkID,
		Title:       req.Title,
	}
	if err := s.store.CreateAuditGap(r.Context(), gap); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, gap)
}

func (s *Server) resolveAuditGap(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.orgFromContext(w, r)
	if !ok {
		return
	}
	gapID, err := parseUUIDParam(r, "gapID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid gap ID")
		return
	}

	gap, err := s.store.GetAuditGap(r.Context(), gapID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if gap == nil {
		respondError(w, http.StatusNotFound, "not_found", "Audit gap not found")
		return
	}
	if _, ok := s.entityForOrg(w, r, gap.EntityID, orgID); !ok {
		return
	}

	if err := s.store.ResolveAuditGap(r.Context(), gapID); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (s *Server) listComplianceHistory(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.orgFromContext(w, r)
	if !ok {
		return
	}
	entityID, err := parseUUIDParam(r, "entityID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid entity ID")
		return
	}
	if _, ok := s.entityForOrg(w, r, entityID, orgID); !ok {
		return
	}

	filters := store.HistoryFilters{EntityID: &entityID}
	q := r.URL.Query()
	if v := q.Get("frameworkId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_id", "Invalid frameworkId filter")
			return
		}
		filters.FrameworkID = &id
	}
	if v := q.Get("from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_filter", "Invalid from date")
			return
		}
		filters.From = &ts
	}
	if v := q.Get("to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_filter", "Invalid to date")
			return
		}
		filters.To = &ts
	}

	history, err := s.store.ListComplianceHistory(r.Context(), orgID, filters)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, history)
}

func (s *Server) listFrameworks(w http.ResponseWriter, r *http.Request) {
	filters := store.ListFrameworkFilters{}
	q := r.URL.Query()
	if v := q.Get("category"); v != "" {
		filters.Category = &v
	}
	if v := q.Get("region"); v != "" {
		filters.Region = &v
	}
	if v := q.Get("priority"); v != "" {
		p := models.Priority(v)
		filters.Priority = &p
	}
	if v := q.Get("risk_level"); v != "" {
		rl := models.RiskLevel(v)
		filters.RiskLevel = &rl
	}

	frameworks, err := s.store.ListFrameworks(r.Context(), filters)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, frameworks)
}

type createFrameworkRequest struct {
	Name               string           `json:"name"`
	Category           string           `json:"category"`
	Region             string           `json:"region"`
	Priority           models.Priority  `json:"priority"`
	RiskLevel          models.RiskLevel `json:"risk_level"`
	ComplianceDeadline *time.Time       `json:"compliance_deadline"`
}

func (s *Server) createFramework(w http.ResponseWriter, r *http.Request) {
	var req createFrameworkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "name is required")
		return
	}

	fw := &models.Framework{
		Name:               req.Name,
		Category:           req.Category,
		Region:             req.Region,
		Priority:           req.Priority,
		RiskLevel:          req.RiskLevel,
		ComplianceDeadline: req.ComplianceDeadline,
	}
	if err := s.store.CreateFramework(r.Context(), fw); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, fw)
}

func (s *Server) getFramework(w http.ResponseWriter, r *http.Request) {
	frameworkID, err := parseUUIDParam(r, "frameworkID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid framework ID")
		return
	}

	fw, err := s.store.GetFramework(r.Context(), frameworkID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if fw == nil {
		respondError(w, http.StatusNotFound, "not_found", "Framework not found")
		return
	}

	respondJSON(w, http.StatusOK, fw)
}

func (s *Server) listControls(w http.ResponseWriter, r *http.Request) {
	frameworkID, err := parseUUIDParam(r, "frameworkID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid framework ID")
		return
	}

	controls, err := s.store.ListControls(r.Context(), frameworkID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, controls)
}

type createControlRequest struct {
	Title                string          `json:"title"`
	Category             string          `json:"category"`
	Priority             models.Priority `json:"priority"`
	EvidenceRequirements string          `json:"evidence_requirements"`
}

func (s *Server) createControl(w http.ResponseWriter, r *http.Request) {
	frameworkID, err := parseUUIDParam(r, "frameworkID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid framework ID")
		return
	}

	var req createControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Title == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "title is required")
		return
	}

	control := &models.Control{
		FrameworkID:          frameworkID,
		Title:                req.Title,
		Category:             req.Category,
		Priority:             req.Priority,
		EvidenceRequirements: req.EvidenceRequirements,
	}
	if err := s.store.CreateControl(r.Context(), control); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, control)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	filters := store.ListTaskFilters{}
	q := r.URL.Query()
	if v := q.Get("control_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_id", "Invalid control_id filter")
			return
		}
		filters.ControlID = &id
	}
	if v := q.Get("assignee_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_id", "Invalid assignee_id filter")
			return
		}
		filters.AssigneeID = &id
	}
	if v := q.Get("status"); v != "" {
		st := models.TaskStatus(v)
		filters.Status = &st
	}
	if v := q.Get("priority"); v != "" {
		p := models.Priority(v)
		filters.Priority = &p
	}
	filters.Limit, _ = strconv.Atoi(q.Get("limit"))
	filters.Offset, _ = strconv.Atoi(q.Get("offset"))
	if filters.Limit <= 0 || filters.Limit > 200 {
		filters.Limit = 50
	}

	tasks, total, err := s.store.ListTasks(r.Context(), filters)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSONWithMeta(w, http.StatusOK, tasks, &apiMeta{
		Total:  total,
		Limit:  filters.Limit,
		Offset: filters.Offset,
	})
}

type createTaskRequest struct {
	ControlID      uuid.UUID       `json:"control_id"`
	Title          string          `json:"title"`
	AssigneeID     *uuid.UUID      `json:"assignee_id"`
	Priority       models.Priority `json:"priority"`
	EstimatedHours float64         `json:"estimated_hours"`
	DueDate        *time.Time      `json:"due_date"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.ControlID == uuid.Nil || req.Title == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "control_id and title are required")
		return
	}

	task := &models.Task{
		ControlID:      req.ControlID,
		Title:          req.Title,
		AssigneeID:     req.AssigneeID,
		Priority:       req.Priority,
		EstimatedHours: req.EstimatedHours,
		DueDate:        req.DueDate,
	}
	if err := s.store.CreateTask(r.Context(), task); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, task)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := parseUUIDParam(r, "taskID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid task ID")
		return
	}

	task, err := s.store.GetTask(r.Context(), taskID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if task == nil {
		respondError(w, http.StatusNotFound, "not_found", "Task not found")
		return
	}

	respondJSON(w, http.StatusOK, task)
}

type updateTaskStatusRequest struct {
	Status models.TaskStatus `json:"status"`
}

func (s *Server) updateTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID, err := parseUUIDParam(r, "taskID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid task ID")
		return
	}

	var req updateTaskStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	switch req.Status {
	case models.TaskPending, models.TaskInProgress, models.TaskCompleted, models.TaskOverdue:
	default:
		respondError(w, http.StatusBadRequest, "validation_error", fmt.Sprintf("invalid status: %s", req.Status))
		return
	}

	if err := s.store.UpdateTaskStatus(r.Context(), taskID, req.Status); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) listEvidence(w http.ResponseWriter, r *http.Request) {
	controlID, err := parseUUIDParam(r, "controlID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid control ID")
		return
	}

	docs, err := s.store.ListEvidenceByControl(r.Context(), controlID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, docs)
}

const maxEvidenceSize = 50 << 20 // 50MB

func (s *Server) uploadEvidence(w http.ResponseWriter, r *http.Request) {
	if s.evidence == nil {
		respondError(w, http.StatusServiceUnavailable, "storage_unavailable", "Evidence storage is not configured")
		return
	}

	controlID, err := parseUUIDParam(r, "controlID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid control ID")
		return
	}

	control, err := s.store.GetControl(r.Context(), controlID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if control == nil {
		respondError(w, http.StatusNotFound, "not_found", "Control not found")
		return
	}

	if err := r.ParseMultipartForm(maxEvidenceSize); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_upload", err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_upload", "file field is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := s.evidence.EvidenceKey(controlID, header.Filename)

	if err := s.evidence.Put(r.Context(), key, file, header.Size, contentType); err != nil {
		respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}

	ev := &models.Evidence{
		ControlID:  controlID,
		FileName:   header.Filename,
		FileSize:   header.Size,
		MimeType:   contentType,
		StorageKey: key,
	}
	if claims, ok := auth.GetUserFromContext(r.Context()); ok {
		if uid, err := uuid.Parse(claims.UserID); err == nil {
			ev.UploadedBy = &uid
		}
	}
	if err := s.store.CreateEvidence(r.Context(), ev); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, ev)
}

func (s *Server) deleteEvidence(w http.ResponseWriter, r *http.Request) {
	evidenceID, err := parseUUIDParam(r, "evidenceID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid evidence ID")
		return
	}

	ev, err := s.store.GetEvidence(r.Context(), evidenceID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if ev == nil {
		respondError(w, http.StatusNotFound, "not_found", "Evidence not found")
		return
	}

	// Blob removal is best effort; the metadata row is authoritative
	if s.evidence != nil {
		if err := s.evidence.Delete(r.Context(), ev.StorageKey); err != nil {
			s.logger.Warn("evidence blob delete failed", "evidence_id", evidenceID, "error", err)
		}
	}

	if err := s.store.DeleteEvidence(r.Context(), evidenceID); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) downloadEvidence(w http.ResponseWriter, r *http.Request) {
	if s.evidence == nil {
		respondError(w, http.StatusServiceUnavailable, "storage_unavailable", "Evidence storage is not configured")
		return
	}

	evidenceID, err := parseUUIDParam(r, "evidenceID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid evidence ID")
		return
	}

	ev, err := s.store.GetEvidence(r.Context(), evidenceID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if ev == nil {
		respondError(w, http.StatusNotFound, "not_found", "Evidence not found")
		return
	}

	// inline=true streams the bytes through the API instead of handing
	// out a presigned URL
	if r.URL.Query().Get("inline") == "true" {
		body, err := s.evidence.Get(r.Context(), ev.StorageKey)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
			return
		}
		defer body.Close()

		w.Header().Set("Content-Type", ev.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, ev.FileName))
		w.WriteHeader(http.StatusOK)
		_, _ = io.Copy(w, body)
		return
	}

	url, err := s.evidence.PresignGet(r.Context(), ev.StorageKey, 15*time.Minute)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}
