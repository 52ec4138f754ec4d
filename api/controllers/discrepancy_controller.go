/*
 * @module api/controllers/discrepancy_controller
 * @description Discrepancy API: listing, inspection and resolution workflow
 * @architecture Layered architecture - controller layer
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow HTTP request handling
 * @rules Uniform error handling and response envelope
 * @dependencies nhlrecon-service/service, github.com/go-chi/chi/v5
 * @refs service/reconciliation/discrepancy_service.go
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

// DiscrepancyController exposes the discrepancy workflow.
type DiscrepancyController struct {
	discrepancies *reconciliation.DiscrepancyService
	exporter      *reconciliation.ExportService
}

// NewDiscrepancyController creates a discrepancy controller instance.
func NewDiscrepancyController(discrepancies *reconciliation.DiscrepancyService, exporter *reconciliation.ExportService) *DiscrepancyController {
	return &DiscrepancyController{
		discrepancies: discrepancies,
		exporter:      exporter,
	}
}

// ListDiscrepancies list discrepancies
// @Summary List discrepancies
// @Description Paged discrepancy listing, most recently seen first
// @Tags Discrepancies
// @Produce json
// @Param status query string false "open|resolved|ignored"
// @Param severity query string false "error|warning|info"
// @Param rule_id query string false "Rule filter"
// @Param game_id query string false "Game filter"
// @Param entity_type query string false "Entity type filter"
// @Param page query int false "Page" default(1)
// @Param size query int false "Page size" default(20)
// @Success 200 {object} PaginatedResponse{data=[]models.Discrepancy}
// @Router /discrepancies [get]
func (c *DiscrepancyController) ListDiscrepancies(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))

	filter := &reconciliation.DiscrepancyFilter{
		Status:     r.URL.Query().Get("status"),
		Severity:   r.URL.Query().Get("severity"),
		RuleID:     r.URL.Query().Get("rule_id"),
		GameID:     r.URL.Query().Get("game_id"),
		EntityType: r.URL.Query().Get("entity_type"),
		Page:       page,
		Size:       size,
	}

	items, total, err := c.discrepancies.List(r.Context(), filter)
	if err != nil {
		render.JSON(w, r, APIResponse{Status: http.StatusInternalServerError, Msg: "listing discrepancies failed"})
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
		Data:   items,
		Total:  total,
		Page:   page,
		Size:   size,
	})
}

// GetDiscrepancy get one discrepancy
// @Summary Get discrepancy
// @Tags Discrepancies
// @Produce json
// @Param id path string true "Discrepancy ID"
// @Success 200 {object} APIResponse{data=models.Discrepancy}
// @Failure 404 {object} APIResponse "discrepancy not found"
// @Router /discrepancies/{id} [get]
func (c *DiscrepancyController) GetDiscrepancy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := c.discrepancies.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			render.JSON(w, r, APIResponse{Status: http.StatusNotFound, Msg: "discrepancy not found"})
			return
		}
		render.JSON(w, r, APIResponse{Status: http.StatusInternalServerError, Msg: "loading discrepancy failed"})
		return
	}

	render.JSON(w, r, APIResponse{Status: http.StatusOK, Msg: "ok", Data: d})
}

// ResolveDiscrepancy resolve or ignore a discrepancy
// @Summary Resolve or ignore discrepancy
// @Description Moves the discrepancy to resolved or ignored; re-applying the same status is a no-op
// @Tags Discrepancies
// @Accept json
// @Produce json
// @Param id path string true "Discrepancy ID"
// @Param request body reconciliation.ResolveDiscrepancyRequest true "Resolution"
// @Success 200 {object} APIResponse{data=models.Discrepancy}
// @Failure 400 {object} APIResponse "invalid resolution status"
// @Failure 404 {object} APIResponse "discrepancy not found"
// @Router /discrepancies/{id}/resolution [put]
func (c *DiscrepancyController) ResolveDiscrepancy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req reconciliation.ResolveDiscrepancyRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.JSON(w, r, APIResponse{Status: http.StatusBadRequest, Msg: "invalid request body"})
		return
	}

	d, err := c.discrepancies.SetResolution(r.Context(), id, &req)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			render.JSON(w, r, APIResponse{Status: http.StatusNotFound, Msg: "discrepancy not found"})
			return
		}
		render.JSON(w, r, APIResponse{Status: http.StatusBadRequest, Msg: err.Error()})
		return
	}

	render.JSON(w, r, APIResponse{Status: http.StatusOK, Msg: "resolution updated", Data: d})
}

// ExportSeasonDiscrepancies export a season's discrepancies
// @Summary Export season discrepancies
// @Description Downloads the season's discrepancy backlog as json, csv or xlsx
// @Tags Discrepancies
// @Produce json
// @Param season_id path string true "Season ID"
// @Param format query string false "json|csv|xlsx" default(json)
// @Success 200 {file} binary "exported file"
// @Failure 400 {object} APIResponse "unsupported format"
// @Router /discrepancies/seasons/{season_id}/export [get]
func (c *DiscrepancyController) ExportSeasonDiscrepancies(w http.ResponseWriter, r *http.Request) {
	seasonID := chi.URLParam(r, "season_id")
	format := r.URL.Query().Get("format")

	file, err := c.exporter.ExportSeasonDiscrepancies(r.Context(), seasonID, format)
	if err != nil {
		render.JSON(w, r, APIResponse{Status: http.StatusBadRequest, Msg: err.Error()})
		return
	}

	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	w.WriteHeader(http.StatusOK)
	w.Write(file.Content)
}
