/*
 * @module api/controllers/summary_controller
 * @description Season summary API: reconciliation health reporting
 * @architecture Layered architecture - controller layer
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow HTTP request handling, read-only
 * @rules Uniform error handling and response envelope
 * @dependencies nhlrecon-service/service, github.com/go-chi/chi/v5
 * @refs service/reconciliation/summary.go
 */

package controllers

import (
	"net/http"

	"nhlrecon-service/service/reconciliation"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// SummaryController exposes season-level reporting.
type SummaryController struct {
	summaries *reconciliation.SummaryService
}

// NewSummaryController creates a summary controller instance.
func NewSummaryController(summaries *reconciliation.SummaryService) *SummaryController {
	return &SummaryController{summaries: summaries}
}

// GetSeasonSummary get a season's reconciliation summary
// @Summary Get season summary
// @Description Reconciliation rate, per-source accuracy, top failing rules and open discrepancy count; a season with no runs yields an empty summary
// @Tags Summary
// @Produce json
// @Param season_id path string true "Season ID"
// @Success 200 {object} APIResponse{data=reconciliation.SeasonSummary}
// @Router /summary/seasons/{season_id} [get]
func (c *SummaryController) GetSeasonSummary(w http.ResponseWriter, r *http.Request) {
	seasonID := chi.URLParam(r, "season_id")

	summary, err := c.summaries.SeasonSummary(r.Context(), seasonID)
	if err != nil {
		render.JSON(w, r, APIResponse{Status: http.StatusInternalServerError, Msg: "building season summary failed"})
		return
	}

	render.JSON(w, r, APIResponse{Status: http.StatusOK, Msg: "ok", Data: summary})
}
