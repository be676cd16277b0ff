package app

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"reviewflow/api/internal/assessment"
	"reviewflow/api/internal/config"
	"reviewflow/api/internal/export"
	"reviewflow/api/internal/lifecycle"
	"reviewflow/api/internal/logging"
	"reviewflow/api/internal/rbac"
	"reviewflow/api/internal/reconcile"
	"reviewflow/api/internal/search"
	"reviewflow/api/internal/store"
)

// projectPatch only replaces the fields present in the body.
type projectPatch struct {
	Title       *string             `json:"title"`
	Moto        *string             `json:"moto"`
	Description *string             `json:"description"`
	TeamMembers *[]store.TeamMember `json:"team_members"`
	Links       *[]string           `json:"links"`
	Categories  *[]uint64           `json:"categories"`
}

func (p projectPatch) apply(current store.Project) lifecycle.ProjectInput {
	in := lifecycle.ProjectInput{
		Title:       current.Title,
		Moto:        current.Moto,
		Description: current.Description,
		TeamMembers: current.TeamMembers,
		Links:       current.Links,
		Categories:  current.Categories,
	}
	if p.Title != nil {
		in.Title = *p.Title
	}
	if p.Moto != nil {
		in.Moto = *p.Moto
	}
	if p.Description != nil {
		in.Description = *p.Description
	}
	if p.TeamMembers != nil {
		in.TeamMembers = *p.TeamMembers
	}
	if p.Links != nil {
		in.Links = *p.Links
	}
	if p.Categories != nil {
		in.Categories = *p.Categories
	}
	return in
}

func (s *HTTPServer) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	var body lifecycle.ProjectInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	project, err := s.engine.CreateProject(r.Context(), caller, body)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"project": project})
}

func (s *HTTPServer) handleListProjects(w http.ResponseWriter, r *http.Request) {
	var (
		projects []store.Project
		err      error
	)
	if owner := r.URL.Query().Get("owner"); owner != "" {
		projects, err = s.engine.ListOwnerProjects(r.Context(), owner)
	} else {
		projects, err = s.engine.ListProjects(r.Context(), queryInt(r, "offset", 0), queryInt(r, "limit", 50))
	}
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if projects == nil {
		projects = []store.Project{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (s *HTTPServer) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	view, err := s.engine.GetProjectWithCurrentPhase(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleExportDossier(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	if s.dossiers == nil {
		writeError(w, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Dossier export is not configured", nil)
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FORMAT", "format must be html, pdf or docx", nil)
		return
	}
	result, err := s.dossiers.Export(r.Context(), id, format)
	if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
		writeError(w, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil)
		return
	}
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	var patch projectPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	current, err := s.engine.GetProject(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	project, err := s.engine.UpdateProject(r.Context(), caller, id, patch.apply(current))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": project})
}

func (s *HTTPServer) handleListPhases(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	phases, err := s.engine.ListPhases(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"phases": phases})
}

// phasePath reads the project and phase ordinals every phase route carries.
func phasePath(w http.ResponseWriter, r *http.Request) (uint64, uint64, bool) {
	projectID, ok := pathID(w, r, "projectID")
	if !ok {
		return 0, 0, false
	}
	phase, ok := pathID(w, r, "phase")
	if !ok {
		return 0, 0, false
	}
	return projectID, phase, true
}

func stepPath(w http.ResponseWriter, r *http.Request) (uint64, uint64, uint64, bool) {
	projectID, phase, ok := phasePath(w, r)
	if !ok {
		return 0, 0, 0, false
	}
	step, ok := pathID(w, r, "step")
	if !ok {
		return 0, 0, 0, false
	}
	return projectID, phase, step, true
}

func (s *HTTPServer) handleGetPhase(w http.ResponseWriter, r *http.Request) {
	projectID, ordinal, ok := phasePath(w, r)
	if !ok {
		return
	}
	phase, err := s.engine.GetPhase(r.Context(), projectID, ordinal)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"phase": phase})
}

func (s *HTTPServer) handleClosePhase(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	projectID, ordinal, ok := phasePath(w, r)
	if !ok {
		return
	}
	phase, err := s.engine.ClosePhase(r.Context(), caller, projectID, ordinal)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"phase": phase})
}

func (s *HTTPServer) handleListSteps(w http.ResponseWriter, r *http.Request) {
	projectID, ordinal, ok := phasePath(w, r)
	if !ok {
		return
	}
	steps, err := s.engine.ListSteps(r.Context(), projectID, ordinal)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"steps": steps})
}

func (s *HTTPServer) handleGetStep(w http.ResponseWriter, r *http.Request) {
	projectID, phase, step, ok := stepPath(w, r)
	if !ok {
		return
	}
	submission, err := s.engine.GetStep(r.Context(), projectID, phase, step)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"step": submission})
}

func (s *HTTPServer) handleRecordSubmission(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	projectID, phase, step, ok := stepPath(w, r)
	if !ok {
		return
	}
	var body lifecycle.SubmissionInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	submission, err := s.engine.RecordSubmission(r.Context(), caller, projectID, phase, step, body)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"step": submission})
}

func (s *HTTPServer) handleIssueUpload(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	projectID, phase, step, ok := stepPath(w, r)
	if !ok {
		return
	}
	var body struct {
		DocumentType store.DocumentType `json:"document_type"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	ticket, err := s.engine.IssueUploadURL(r.Context(), caller, projectID, phase, step, body.DocumentType)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

func (s *HTTPServer) handleSubmitGrade(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	projectID, phase, step, ok := stepPath(w, r)
	if !ok {
		return
	}
	var body struct {
		Grade *uint32 `json:"grade"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.Grade == nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "grade is required", nil)
		return
	}
	record, err := s.engine.SubmitGrade(r.Context(), caller, projectID, phase, step, *body.Grade)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"grade": record})
}

func (s *HTTPServer) handleListGrades(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	projectID, phase, ok := phasePath(w, r)
	if !ok {
		return
	}
	grades, err := s.engine.ListGraderGrades(r.Context(), caller, projectID, phase)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if grades == nil {
		grades = []store.GradeRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"grades": grades})
}

func (s *HTTPServer) handleGradeResult(w http.ResponseWriter, r *http.Request) {
	projectID, phase, ok := phasePath(w, r)
	if !ok {
		return
	}
	result, err := s.engine.GetGradeResult(r.Context(), projectID, phase)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (s *HTTPServer) handleVoteResult(w http.ResponseWriter, r *http.Request) {
	projectID, phase, ok := phasePath(w, r)
	if !ok {
		return
	}
	result, err := s.engine.GetVoteResult(r.Context(), projectID, phase)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (s *HTTPServer) handleProposalLink(w http.ResponseWriter, r *http.Request) {
	projectID, phase, ok := phasePath(w, r)
	if !ok {
		return
	}
	link, err := s.engine.GetProposalLink(r.Context(), projectID, phase)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposal": link})
}

// tunablesView carries durations as whole seconds, like the environment.
type tunablesView struct {
	OpenDurationSeconds       int64  `json:"open_duration_seconds"`
	AssessmentDurationSeconds int64  `json:"assessment_duration_seconds"`
	GradeMin                  uint32 `json:"grade_min"`
	GradeMax                  uint32 `json:"grade_max"`
	ReconcileIntervalSeconds  int64  `json:"reconcile_interval_seconds"`
}

func viewTunables(t config.Tunables) tunablesView {
	return tunablesView{
		OpenDurationSeconds:       int64(t.OpenDuration / time.Second),
		AssessmentDurationSeconds: int64(t.AssessmentDuration / time.Second),
		GradeMin:                  t.GradeMin,
		GradeMax:                  t.GradeMax,
		ReconcileIntervalSeconds:  int64(t.ReconcileInterval / time.Second),
	}
}

func (v tunablesView) tunables() config.Tunables {
	return config.Tunables{
		OpenDuration:       time.Duration(v.OpenDurationSeconds) * time.Second,
		AssessmentDuration: time.Duration(v.AssessmentDurationSeconds) * time.Second,
		GradeMin:           v.GradeMin,
		GradeMax:           v.GradeMax,
		ReconcileInterval:  time.Duration(v.ReconcileIntervalSeconds) * time.Second,
	}
}

func (s *HTTPServer) handleGetTunables(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tunables": viewTunables(s.catalog.Tunables())})
}

// handleUpdateTunables applies the fields present in the body on top of the
// current values.
func (s *HTTPServer) handleUpdateTunables(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	if !rbac.Can(s.operators.RoleOf(caller), rbac.ActionConfigure) {
		writeError(w, http.StatusForbidden, "NOT_OPERATOR", "only operators may change tunables", nil)
		return
	}
	body := viewTunables(s.catalog.Tunables())
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.catalog.UpdateTunables(body.tunables()); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	logging.WithRequest(r.Context(), s.log).Info("tunables updated",
		zap.String("caller", caller),
		zap.Int64("open_duration_seconds", body.OpenDurationSeconds),
		zap.Int64("assessment_duration_seconds", body.AssessmentDurationSeconds),
		zap.Int64("reconcile_interval_seconds", body.ReconcileIntervalSeconds))
	writeJSON(w, http.StatusOK, map[string]any{"tunables": viewTunables(s.catalog.Tunables())})
}

func (s *HTTPServer) handleTemplates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"templates": s.catalog.PhaseTemplates()})
}

func (s *HTTPServer) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.catalog.ListCategories(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

func (s *HTTPServer) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerID(w, r); !ok {
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	category, err := s.catalog.CreateCategory(r.Context(), body.Name)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"category": category})
}

func (s *HTTPServer) handleDeactivateCategory(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerID(w, r); !ok {
		return
	}
	id, ok := pathID(w, r, "categoryID")
	if !ok {
		return
	}
	category, err := s.catalog.DeactivateCategory(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"category": category})
}

func (s *HTTPServer) handleValidateProposal(w http.ResponseWriter, r *http.Request) {
	var payload assessment.ProposalPayload
	if err := decodeBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.engine.ValidateProposal(r.Context(), payload); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleExecuteProposal(w http.ResponseWriter, r *http.Request) {
	var payload assessment.ProposalPayload
	if err := decodeBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	outcome, err := s.engine.ExecuteProposal(r.Context(), payload)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcome": outcome})
}

func (s *HTTPServer) handleSearchProjects(w http.ResponseWriter, r *http.Request) {
	text := strings.TrimSpace(r.URL.Query().Get("q"))
	if text == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
		return
	}
	limit := queryInt(r, "limit", 20)
	if limit == 0 || limit > 100 {
		limit = 20
	}
	resp := s.search.Search(r.Context(), search.Query{
		Text:   text,
		Status: r.URL.Query().Get("status"),
		Limit:  limit,
		Offset: queryInt(r, "offset", 0),
	})
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleReconcile(w http.ResponseWriter, r *http.Request) {
	summary, err := s.scheduler.Tick(r.Context())
	if errors.Is(err, reconcile.ErrTickInFlight) {
		writeError(w, http.StatusConflict, "TICK_IN_FLIGHT", err.Error(), nil)
		return
	}
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary})
}
