/*
 * @module api/controllers/rule_controller
 * @description Validation rule registry API: CRUD and catalog listing
 * @architecture Layered architecture - controller layer
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow HTTP request handling
 * @rules Uniform error handling and response envelope
 * @dependencies nhlrecon-service/service, github.com/go-chi/chi/v5
 * @refs service/reconciliation/registry.go
 */

package controllers

import (
	"errors"
	"net/http"

	"nhlrecon-service/service/reconciliation"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"gorm.io/gorm"
)

// RuleController exposes the rule registry.
type RuleController struct {
	registry *reconciliation.RuleRegistry
}

// NewRuleController creates a rule controller instance.
func NewRuleController(registry *reconciliation.RuleRegistry) *RuleController {
	return &RuleController{registry: registry}
}

// CreateRule create a validation rule
// @Summary Create validation rule
// @Description Registers a new reconciliation rule; the config is validated before storage
// @Tags Rules
// @Accept json
// @Produce json
// @Param rule body reconciliation.RuleUpsertRequest true "Rule definition"
// @Success 200 {object} APIResponse{data=models.ValidationRule} "created"
// @Failure 400 {object} APIResponse "invalid rule definition"
// @Router /rules [post]
func (c *RuleController) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req reconciliation.RuleUpsertRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.JSON(w, r, APIResponse{Status: http.StatusBadRequest, Msg: "invalid request body"})
		return
	}

	rule, err := c.registry.CreateRule(r.Context(), &req)
	if err != nil {
		render.JSON(w, r, APIResponse{Status: http.StatusBadRequest, Msg: err.Error()})
		return
	}

	render.JSON(w, r, APIResponse{Status: http.StatusCreated, Msg: "rule created", Data: rule})
}

// ListRules list validation rules
// @Summary List validation rules
// @Description Lists rules, optionally filtered by category and active flag
// @Tags Rules
// @Produce json
// @Param category query string false "Rule category"
// @Param active query bool false "Only active rules"
// @Success 200 {object} APIResponse{data=[]models.ValidationRule}
// @Router /rules [get]
func (c *RuleController) ListRules(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	activeOnly := r.URL.Query().Get("active") == "true"

	rules, err := c.registry.ListRules(r.Context(), category, activeOnly)
	if err != nil {
		render.JSON(w, r, APIResponse{Status: http.StatusInternalServerError, Msg: "listing rules failed"})
		return
	}

	render.JSON(w, r, APIResponse{Status: http.StatusOK, Msg: "ok", Data: rules})
}

// GetRule get one validation rule
// @Summary Get validation rule
// @Tags Rules
// @Produce json
// @Param id path string true "Rule ID"
// @Success 200 {object} APIResponse{data=models.ValidationRule}
// @Failure 404 {object} APIResponse "rule not found"
// @Router /rules/{id} [get]
func (c *RuleController) GetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rule, err := c.registry.GetRule(r.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			render.JSON(w, r, APIResponse{Status: http.StatusNotFound, Msg: "rule not found"})
			return
		}
		render.JSON(w, r, APIResponse{Status: http.StatusInternalServerError, Msg: "loading rule failed"})
		return
	}

	render.JSON(w, r, APIResponse{Status: http.StatusOK, Msg: "ok", Data: rule})
}

// UpdateRule update a validation rule
// @Summary Update validation rule
// @Description Applies a partial update; config changes are re-validated
// @Tags Rules
// @Accept json
// @Produce json
// @Param id path string true "Rule ID"
// @Param rule body reconciliation.RuleUpsertRequest true "Fields to update"
// @Success 200 {object} APIResponse{data=models.ValidationRule}
// @Failure 400 {object} APIResponse "invalid update"
// @Failure 404 {object} APIResponse "rule not found"
// @Router /rules/{id} [put]
func (c *RuleController) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req reconciliation.RuleUpsertRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.JSON(w, r, APIResponse{Status: http.StatusBadRequest, Msg: "invalid request body"})
		return
	}

	rule, err := c.registry.UpdateRule(r.Context(), id, &req)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			render.JSON(w, r, APIResponse{Status: http.StatusNotFound, Msg: "rule not found"})
			return
		}
		render.JSON(w, r, APIResponse{Status: http.StatusBadRequest, Msg: err.Error()})
		return
	}

	render.JSON(w, r, APIResponse{Status: http.StatusOK, Msg: "rule updated", Data: rule})
}

// DeleteRule delete or deactivate a validation rule
// @Summary Delete validation rule
// @Description Deletes the rule; built-in rules and rules with recorded results are deactivated instead
// @Tags Rules
// @Produce json
// @Param id path string true "Rule ID"
// @Param operator query string false "Acting operator"
// @Success 200 {object} APIResponse "deleted or deactivated"
// @Failure 404 {object} APIResponse "rule not found"
// @Router /rules/{id} [delete]
func (c *RuleController) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	operator := r.URL.Query().Get("operator")

	if err := c.registry.DeleteRule(r.Context(), id, operator); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			render.JSON(w, r, APIResponse{Status: http.StatusNotFound, Msg: "rule not found"})
			return
		}
		render.JSON(w, r, APIResponse{Status: http.StatusInternalServerError, Msg: "deleting rule failed"})
		return
	}

	render.JSON(w, r, APIResponse{Status: http.StatusOK, Msg: "rule removed"})
}
