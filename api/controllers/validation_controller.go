/*
 * @module api/controllers/validation_controller
 * @description Validation run API: trigger, inspect, list and export runs
 * @architecture Layered architecture - controller layer
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow HTTP request handling; run execution itself is asynchronous
 * @rules Uniform error handling and response envelope
 * @dependencies nhlrecon-service/service, github.com/go-chi/chi/v5
 * @refs service/reconciliation/orchestrator.go, service/reconciliation/export.go
 */

package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"nhlrecon-service/service/reconciliation"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"gorm.io/gorm"
)

// ValidationController exposes the run orchestrator.
type ValidationController struct {
	orchestrator *reconciliation.Orchestrator
	exporter     *reconciliation.ExportService
}

// NewValidationController creates a validation controller instance.
func NewValidationController(orchestrator *reconciliation.Orchestrator, exporter *reconciliation.ExportService) *ValidationController {
	return &ValidationController{
		orchestrator: orchestrator,
		exporter:     exporter,
	}
}

// TriggerRun trigger a validation run
// @Summary Trigger validation run
// @Description Starts an asynchronous run for a season, a game, or everything; a scope with an active run answers already_running
// @Tags Validation
// @Accept json
// @Produce json
// @Param request body reconciliation.TriggerRunRequest true "Run scope"
// @Success 200 {object} APIResponse{data=reconciliation.TriggerRunResponse} "queued or already_running"
// @Failure 400 {object} APIResponse "ambiguous scope"
// @Router /validation/runs [post]
func (c *ValidationController) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var req reconciliation.TriggerRunRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.JSON(w, r, APIResponse{Status: http.StatusBadRequest, Msg: "invalid request body"})
		return
	}

	resp, err := c.orchestrator.TriggerRun(r.Context(), &req)
	if err != nil {
		if errors.Is(err, reconciliation.ErrAmbiguousScope) {
			render.JSON(w, r, APIResponse{Status: http.StatusBadRequest, Msg: err.Error()})
			return
		}
		render.JSON(w, r, APIResponse{Status: http.StatusInternalServerError, Msg: "triggering run failed"})
		return
	}

	render.JSON(w, r, APIResponse{Status: http.StatusOK, Msg: "ok", Data: resp})
}

// GetRun get run detail
// @Summary Get validation run
// @Description Returns the run with all its persisted check results
// @Tags Validation
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} APIResponse{data=reconciliation.RunDetail}
// @Failure 404 {object} APIResponse "run not found"
// @Router /validation/runs/{id} [get]
func (c *ValidationController) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	detail, err := c.orchestrator.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			render.JSON(w, r, APIResponse{Status: http.StatusNotFound, Msg: "run not found"})
			return
		}
		render.JSON(w, r, APIResponse{Status: http.StatusInternalServerError, Msg: "loading run failed"})
		return
	}

	render.JSON(w, r, APIResponse{Status: http.StatusOK, Msg: "ok", Data: detail})
}

// ListRuns list validation runs
// @Summary List validation runs
// @Description Paged run history, newest first
// @Tags Validation
// @Produce json
// @Param season_id query string false "Season filter"
// @Param game_id query string false "Game filter"
// @Param status query string false "Status filter"
// @Param page query int false "Page" default(1)
// @Param size query int false "Page size" default(20)
// @Success 200 {object} PaginatedResponse{data=[]models.ValidationRun}
// @Router /validation/runs [get]
func (c *ValidationController) ListRuns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))

	runs, total, err := c.orchestrator.ListRuns(r.Context(),
		r.URL.Query().Get("season_id"),
		r.URL.Query().Get("game_id"),
		r.URL.Query().Get("status"),
		page, size)
	if err != nil {
		render.JSON(w, r, APIResponse{Status: http.StatusInternalServerError, Msg: "listing runs failed"})
		return
	}

	if page < 1 {
		page = 1
	}
	if size < 1 || size > 200 {
		size = 20
	}
	render.JSON(w, r, PaginatedResponse{
		Status: http.StatusOK,
		Msg:    "ok",
		Data:   runs,
		Total:  total,
		Page:   page,
		Size:   size,
	})
}

// ExportRun export run results
// @Summary Export validation run
// @Description Downloads the run's results as json, csv or xlsx
// @Tags Validation
// @Produce json
// @Param id path string true "Run ID"
// @Param format query string false "json|csv|xlsx" default(json)
// @Success 200 {file} binary "exported file"
// @Failure 400 {object} APIResponse "unsupported format"
// @Failure 404 {object} APIResponse "run not found"
// @Router /validation/runs/{id}/export [get]
func (c *ValidationController) ExportRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	format := r.URL.Query().Get("format")

	file, err := c.exporter.ExportRun(r.Context(), id, format)
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			render.JSON(w, r, APIResponse{Status: http.StatusNotFound, Msg: "run not found"})
		default:
			render.JSON(w, r, APIResponse{Status: http.StatusBadRequest, Msg: err.Error()})
		}
		return
	}

	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	w.WriteHeader(http.StatusOK)
	w.Write(file.Content)
}
