/*
 * @module api/controllers/health_controller
 * @description Health check controller for container probes and load balancers
 * @architecture MVC architecture - controller layer
 * @documentReference dev_docs/requirements.md
 * @stateFlow HTTP request handling
 * @rules Health endpoints stay dependency-free and always answer
 * @dependencies net/http
 * @refs dev_docs/model.md
 */

package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/render"
)

// HealthController serves liveness and readiness probes.
type HealthController struct{}

// NewHealthController creates a health controller instance.
func NewHealthController() *HealthController {
	return &HealthController{}
}

// HealthResponse is the probe payload.
type HealthResponse struct {
	Status    string    `json:"status" example:"ok"`
	Timestamp time.Time `json:"timestamp" example:"2024-01-01T00:00:00Z"`
	Version   string    `json:"version" example:"1.0.0"`
	Service   string    `json:"service" example:"nhlrecon-service"`
}

// Health liveness probe
// @Summary Health check
// @Description Reports service liveness
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (c *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   "1.0.0",
		Service:   "nhlrecon-service",
	}

	render.JSON(w, r, response)
}

// Ready readiness probe
// @Summary Readiness check
// @Description Reports whether the service is ready for traffic
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /ready [get]
func (c *HealthController) Ready(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ready",
		Timestamp: time.Now(),
		Version:   "1.0.0",
		Service:   "nhlrecon-service",
	}

	render.JSON(w, r, response)
}
