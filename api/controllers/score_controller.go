/*
 * @module api/controllers/score_controller
 * @description Quality score API: stored scores per game and season, on-demand recalculation
 * @architecture Layered architecture - controller layer
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow HTTP request handling
 * @rules Uniform error handling and response envelope
 * @dependencies nhlrecon-service/service, github.com/go-chi/chi/v5
 * @refs service/reconciliation/scorer.go
 */

package controllers

import (
	"net/http"
	"strconv"

	"nhlrecon-service/service/models"
	"nhlrecon-service/service/reconciliation"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// ScoreController exposes stored quality scores.
type ScoreController struct {
	scorer *reconciliation.QualityScorer
}

// NewScoreController creates a score controller instance.
func NewScoreController(scorer *reconciliation.QualityScorer) *ScoreController {
	return &ScoreController{scorer: scorer}
}

// ListScores list stored quality scores
// @Summary List quality scores
// @Description Paged listing of stored scores, optionally filtered by season and entity type
// @Tags Scores
// @Produce json
// @Param season_id query string false "Season filter"
// @Param entity_type query string false "season|game"
// @Param page query int false "Page" default(1)
// @Param size query int false "Page size" default(20)
// @Success 200 {object} PaginatedResponse{data=[]models.QualityScore}
// @Router /scores [get]
func (c *ScoreController) ListScores(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))

	scores, total, err := c.scorer.ListScores(r.Context(),
		r.URL.Query().Get("season_id"),
		r.URL.Query().Get("entity_type"),
		page, size)
	if err != nil {
		render.JSON(w, r, APIResponse{Status: http.StatusInternalServerError, Msg: "listing scores failed"})
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
		Data:   scores,
		Total:  total,
		Page:   page,
		Size:   size,
	})
}

// GetGameScore get a game's quality score
// @Summary Get game quality score
// @Tags Scores
// @Produce json
// @Param game_id path string true "Game ID"
// @Success 200 {object} APIResponse{data=models.QualityScore}
// @Failure 404 {object} APIResponse "game never scored"
// @Router /scores/games/{game_id} [get]
func (c *ScoreController) GetGameScore(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "game_id")

	score, err := c.scorer.GetScore(r.Context(), models.ScoreEntityGame, gameID)
	if err != nil {
		render.JSON(w, r, APIResponse{Status: http.StatusInternalServerError, Msg: "loading score failed"})
		return
	}
	if score == nil {
		render.JSON(w, r, APIResponse{Status: http.StatusNotFound, Msg: "game has no quality score yet"})
		return
	}

	render.JSON(w, r, APIResponse{Status: http.StatusOK, Msg: "ok", Data: score})
}

// GetSeasonScore get a season's quality score
// @Summary Get season quality score
// @Tags Scores
// @Produce json
// @Param season_id path string true "Season ID"
// @Success 200 {object} APIResponse{data=models.QualityScore}
// @Failure 404 {object} APIResponse "season never scored"
// @Router /scores/seasons/{season_id} [get]
func (c *ScoreController) GetSeasonScore(w http.ResponseWriter, r *http.Request) {
	seasonID := chi.URLParam(r, "season_id")

	score, err := c.scorer.GetScore(r.Context(), models.ScoreEntitySeason, seasonID)
	if err != nil {
		render.JSON(w, r, APIResponse{Status: http.StatusInternalServerError, Msg: "loading score failed"})
		return
	}
	if score == nil {
		render.JSON(w, r, APIResponse{Status: http.StatusNotFound, Msg: "season has no quality score yet"})
		return
	}

	render.JSON(w, r, APIResponse{Status: http.StatusOK, Msg: "ok", Data: score})
}

// ListSeasonGameScores list a season's per-game scores
// @Summary List season game scores
// @Tags Scores
// @Produce json
// @Param season_id path string true "Season ID"
// @Param page query int false "Page" default(1)
// @Param size query int false "Page size" default(20)
// @Success 200 {object} PaginatedResponse{data=[]models.QualityScore}
// @Router /scores/seasons/{season_id}/games [get]
func (c *ScoreController) ListSeasonGameScores(w http.ResponseWriter, r *http.Request) {
	seasonID := chi.URLParam(r, "season_id")
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))

	scores, total, err := c.scorer.ListScores(r.Context(), seasonID, models.ScoreEntityGame, page, size)
	if err != nil {
		render.JSON(w, r, APIResponse{Status: http.StatusInternalServerError, Msg: "listing scores failed"})
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
		Data:   scores,
		Total:  total,
		Page:   page,
		Size:   size,
	})
}

// RecalculateSeasonScore recompute a season's score now
// @Summary Recalculate season quality score
// @Description Re-rolls the season score up from the stored per-game scores
// @Tags Scores
// @Produce json
// @Param season_id path string true "Season ID"
// @Success 200 {object} APIResponse{data=models.QualityScore}
// @Failure 404 {object} APIResponse "season has no scored games"
// @Router /scores/seasons/{season_id}/recalculate [post]
func (c *ScoreController) RecalculateSeasonScore(w http.ResponseWriter, r *http.Request) {
	seasonID := chi.URLParam(r, "season_id")

	score, err := c.scorer.CalculateSeasonScore(r.Context(), seasonID)
	if err != nil {
		render.JSON(w, r, APIResponse{Status: http.StatusInternalServerError, Msg: "recalculating score failed"})
		return
	}
	if score == nil {
		render.JSON(w, r, APIResponse{Status: http.StatusNotFound, Msg: "season has no scored games"})
		return
	}

	render.JSON(w, r, APIResponse{Status: http.StatusOK, Msg: "score recalculated", Data: score})
}
