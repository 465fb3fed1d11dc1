package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ubyagro/biogrow/internal/model"
	"github.com/ubyagro/biogrow/internal/orchestrator"
	"github.com/ubyagro/biogrow/internal/storage"
)

// HandleCreateProject handles POST /v1/projects. The body is a
// multipart form with the project fields and the dossier file; the
// analysis starts in the background before the response is written.
func (h *Handlers) HandleCreateProject(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	ownerID, err := uuid.Parse(claims.Subject)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid token subject")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+64*1024)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid multipart form: "+err.Error())
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	category := model.ProjectCategory(r.FormValue("category"))
	crop := model.CropType(r.FormValue("target_crop"))
	if err := model.ValidateProjectName(name); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if err := model.ValidateCategory(category); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if err := model.ValidateCrop(crop); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	file, header, err := r.FormFile("dossier")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "dossier file is required")
		return
	}
	defer file.Close()
	data, err := readDossier(file)
	if err != nil {
		writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodeInvalidInput, err.Error())
		return
	}

	project := model.Project{
		OwnerID:    ownerID,
		Name:       name,
		Category:   category,
		TargetCrop: crop,
	}
	if desc := strings.TrimSpace(r.FormValue("description")); desc != "" {
		project.Description = &desc
	}
	artifact := model.Artifact{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		SizeBytes:   int64(len(data)),
		Data:        data,
	}

	project, err = h.db.CreateProject(r.Context(), project, artifact)
	if err != nil {
		h.logger.Error("create project failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "cannot create project")
		return
	}

	if err := h.orch.Dispatch(r.Context(), project.ID); err != nil {
		h.logger.Error("dispatch failed", "project_id", project.ID, "error", err)
		if sErr := h.db.SetProjectStatus(r.Context(), project.ID, model.ProjectFailed); sErr != nil {
			h.logger.Error("cannot mark project failed", "project_id", project.ID, "error", sErr)
		}
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "cannot start analysis")
		return
	}

	h.logger.Info("project created",
		"project_id", project.ID, "owner_id", ownerID, "category", project.Category)
	writeJSON(w, r, http.StatusAccepted, model.CreateProjectResponse{
		ProjectID:  project.ID,
		Name:       project.Name,
		Category:   project.Category,
		TargetCrop: project.TargetCrop,
		Status:     project.Status,
		CreatedAt:  project.CreatedAt,
		CreatedBy:  ownerID,
	})
}

func readDossier(file multipart.File) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(file, model.MaxArtifactBytes+1))
	if err != nil {
		return nil, errors.New("cannot read dossier file")
	}
	if len(data) == 0 {
		return nil, errors.New("dossier file is empty")
	}
	if len(data) > model.MaxArtifactBytes {
		return nil, errors.New("dossier file exceeds the size limit")
	}
	return data, nil
}

// HandleListProjects handles GET /v1/projects. Admins see every
// project; everyone else sees their own.
func (h *Handlers) HandleListProjects(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	ownerID := uuid.Nil
	if !model.RoleAtLeast(claims.Role, model.RoleAdmin) {
		var err error
		ownerID, err = uuid.Parse(claims.Subject)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid token subject")
			return
		}
	}

	statusFilter := model.ProjectStatus(r.URL.Query().Get("status"))
	if statusFilter != "" {
		switch statusFilter {
		case model.ProjectProcessing, model.ProjectCompleted, model.ProjectFailed:
		default:
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid status filter")
			return
		}
	}

	limit, offset := parsePagination(r)
	projects, total, err := h.db.ListProjects(r.Context(), ownerID, statusFilter, limit, offset)
	if err != nil {
		h.logger.Error("list projects failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "cannot list projects")
		return
	}
	if projects == nil {
		projects = []model.ProjectSummary{}
	}
	writeList(w, r, projects, total, limit, offset)
}

// HandleGetProject handles GET /v1/projects/{project_id}.
func (h *Handlers) HandleGetProject(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, project)
}

// HandleProjectStatus handles GET /v1/projects/{project_id}/status.
func (h *Handlers) HandleProjectStatus(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	status, err := h.orch.Status(r.Context(), project.ID)
	if err != nil {
		h.logger.Error("status snapshot failed", "project_id", project.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "cannot load status")
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

// HandleProjectAnalysis handles GET /v1/projects/{project_id}/analysis.
// While the analysis is still running the endpoint answers 409 so the
// client keeps polling the status endpoint.
func (h *Handlers) HandleProjectAnalysis(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	if project.Status == model.ProjectProcessing {
		writeError(w, r, http.StatusConflict, model.ErrCodeNotReady, "analysis still in progress")
		return
	}

	analysis, err := h.db.GetLatestAnalysis(r.Context(), project.ID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no analysis for this project")
		return
	}
	if err != nil {
		h.logger.Error("load analysis failed", "project_id", project.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "cannot load analysis")
		return
	}
	writeJSON(w, r, http.StatusOK, analysis)
}

// HandleReanalyze handles POST /v1/projects/{project_id}/reanalyze. The
// new analysis gets the next version; older versions stay readable.
func (h *Handlers) HandleReanalyze(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	if err := h.orch.Dispatch(r.Context(), project.ID); err != nil {
		if errors.Is(err, orchestrator.ErrAnalysisInFlight) {
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "analysis already in progress")
			return
		}
		h.logger.Error("reanalyze dispatch failed", "project_id", project.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "cannot start analysis")
		return
	}
	h.logger.Info("reanalysis started", "project_id", project.ID)
	writeJSON(w, r, http.StatusAccepted, map[string]any{
		"project_id": project.ID,
		"status":     model.ProjectProcessing,
	})
}

// loadProject resolves the {project_id} path parameter and enforces
// ownership. Admins may access any project.
func (h *Handlers) loadProject(w http.ResponseWriter, r *http.Request) (model.Project, bool) {
	projectID, err := uuid.Parse(r.PathValue("project_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid project_id")
		return model.Project{}, false
	}
	project, err := h.db.GetProject(r.Context(), projectID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "project not found")
		return model.Project{}, false
	}
	if err != nil {
		h.logger.Error("load project failed", "project_id", projectID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "cannot load project")
		return model.Project{}, false
	}

	claims := ClaimsFromContext(r.Context())
	if !model.RoleAtLeast(claims.Role, model.RoleAdmin) && claims.Subject != project.OwnerID.String() {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "project belongs to another user")
		return model.Project{}, false
	}
	return project, true
}
