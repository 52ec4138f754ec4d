/*
 * @module api/routes
 * @description API route configuration: initializes and wires all HTTP routes
 * @architecture RESTful API architecture
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow Stateless HTTP request handling
 * @rules RESTful conventions, uniform error handling and response envelope
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/cors, github.com/go-chi/render
 * @refs dev_docs/model.md
 */

package api

import (
	"nhlrecon-service/api/controllers"
	"nhlrecon-service/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
)

// InitRoute initializes all API routes.
func InitRoute(r *chi.Mux) {
	// base middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// health probes
	healthController := controllers.NewHealthController()
	r.Get("/health", healthController.Health)
	r.Get("/ready", healthController.Ready)

	// rule registry
	r.Route("/rules", func(r chi.Router) {
		ruleController := controllers.NewRuleController(service.GlobalRuleRegistry)
		r.Post("/", ruleController.CreateRule)
		r.Get("/", ruleController.ListRules)
		r.Get("/{id}", ruleController.GetRule)
		r.Put("/{id}", ruleController.UpdateRule)
		r.Delete("/{id}", ruleController.DeleteRule)
	})

	// validation runs
	r.Route("/validation", func(r chi.Router) {
		validationController := controllers.NewValidationController(service.GlobalOrchestrator, service.GlobalExportService)
		r.Post("/runs", validationController.TriggerRun)
		r.Get("/runs", validationController.ListRuns)
		r.Get("/runs/{id}", validationController.GetRun)
		r.Get("/runs/{id}/export", validationController.ExportRun)
	})

	// discrepancy workflow
	r.Route("/discrepancies", func(r chi.Router) {
		discrepancyController := controllers.NewDiscrepancyController(service.GlobalDiscrepancyService, service.GlobalExportService)
		r.Get("/", discrepancyController.ListDiscrepancies)
		r.Get("/{id}", discrepancyController.GetDiscrepancy)
		r.Put("/{id}/resolution", discrepancyController.ResolveDiscrepancy)
		r.Get("/seasons/{season_id}/export", discrepancyController.ExportSeasonDiscrepancies)
	})

	// quality scores
	r.Route("/scores", func(r chi.Router) {
		scoreController := controllers.NewScoreController(service.GlobalQualityScorer)
		r.Get("/", scoreController.ListScores)
		r.Get("/games/{game_id}", scoreController.GetGameScore)
		r.Get("/seasons/{season_id}", scoreController.GetSeasonScore)
		r.Get("/seasons/{season_id}/games", scoreController.ListSeasonGameScores)
		r.Post("/seasons/{season_id}/recalculate", scoreController.RecalculateSeasonScore)
	})

	// season reporting
	r.Route("/summary", func(r chi.Router) {
		summaryController := controllers.NewSummaryController(service.GlobalSummaryService)
		r.Get("/seasons/{season_id}", summaryController.GetSeasonSummary)
	})
}
