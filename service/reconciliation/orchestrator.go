/*
 * @module service/reconciliation/orchestrator
 * @description Validation run orchestrator: scope guard, rule fan-out over a worker pool, counter upkeep
 * @architecture Layered architecture - business service layer, async execution
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow Trigger -> scope guard -> queued run -> background execution -> completed|failed -> scores + events
 * @rules At most one active run per scope key; resolver outages fail the run with partial results kept; terminal counters are recomputed from the result set
 * @dependencies gorm.io/gorm, github.com/go-redis/redis (via distributed_lock)
 * @refs service/reconciliation/evaluator.go, service/reconciliation/scorer.go, service/events/publisher.go
 */

package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"nhlrecon-service/service/distributed_lock"
	"nhlrecon-service/service/facts"
	"nhlrecon-service/service/models"

	"gorm.io/gorm"
)

// RunEventPublisher receives completion notifications. Optional; a nil
// publisher disables events without touching the run path.
type RunEventPublisher interface {
	PublishRunFinished(ctx context.Context, run *models.ValidationRun)
}

// Orchestrator owns the validation run lifecycle.
type Orchestrator struct {
	db            *gorm.DB
	registry      *RuleRegistry
	resolver      facts.Resolver
	evaluator     *Evaluator
	discrepancies *DiscrepancyService
	scorer        *QualityScorer
	publisher     RunEventPublisher
	lock          distributed_lock.DistributedLock
	workers       int
}

// NewOrchestrator wires the run pipeline. lock and publisher may be nil in
// single-instance or test deployments.
func NewOrchestrator(db *gorm.DB, registry *RuleRegistry, resolver facts.Resolver,
	discrepancies *DiscrepancyService, scorer *QualityScorer,
	publisher RunEventPublisher, lock distributed_lock.DistributedLock) *Orchestrator {
	workers := 8
	if v := os.Getenv("RECON_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			workers = n
		}
	}
	return &Orchestrator{
		db:            db,
		registry:      registry,
		resolver:      resolver,
		evaluator:     NewEvaluator(),
		discrepancies: discrepancies,
		scorer:        scorer,
		publisher:     publisher,
		lock:          lock,
		workers:       workers,
	}
}

// TriggerRun starts a run for the requested scope. If that scope already has
// an active run the existing run is reported instead of starting a second one.
func (o *Orchestrator) TriggerRun(ctx context.Context, req *TriggerRunRequest) (*TriggerRunResponse, error) {
	scopeKey, err := req.ScopeKey()
	if err != nil {
		return nil, err
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = "manual"
	}

	// Cross-instance serialization of the guard check. The transactional
	// check plus the partial unique index on the active scope key stay
	// authoritative; the lock only narrows the race window between instances.
	if o.lock != nil {
		acquired, lockErr := o.lock.TryLock(ctx, "run_trigger:"+scopeKey, 10*time.Second)
		switch {
		case lockErr != nil:
			slog.Warn("run trigger lock unavailable, relying on database guard", "scope", scopeKey, "error", lockErr)
		case acquired:
			defer func() {
				if err := o.lock.Unlock(context.Background(), "run_trigger:"+scopeKey); err != nil {
					slog.Warn("releasing run trigger lock failed", "scope", scopeKey, "error", err)
				}
			}()
		default:
			// A concurrent trigger holds the scope. Wait for its run to
			// become visible instead of racing it to the insert.
			if active := o.awaitActiveRun(ctx, scopeKey); active != nil {
				return o.busyResponse(scopeKey, active), nil
			}
		}
	}

	var (
		run      *models.ValidationRun
		existing *models.ValidationRun
	)
	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active models.ValidationRun
		lookupErr := tx.Where("scope_key = ? AND status IN ?", scopeKey,
			[]string{models.RunStatusQueued, models.RunStatusRunning}).
			Order("started_at DESC").
			First(&active).Error
		switch {
		case lookupErr == nil:
			existing = &active
			return nil
		case errors.Is(lookupErr, gorm.ErrRecordNotFound):
			// scope is free
		default:
			return fmt.Errorf("checking active runs failed: %w", lookupErr)
		}

		run = &models.ValidationRun{
			SeasonID:    optional(req.SeasonID),
			GameID:      optional(req.GameID),
			ScopeKey:    scopeKey,
			Status:      models.RunStatusQueued,
			StartedAt:   time.Now(),
			TriggeredBy: req.TriggeredBy,
			Metadata:    models.JSONB{"categories": req.Categories},
		}
		return tx.Create(run).Error
	})
	if isUniqueViolation(err) {
		// Lost the insert race against a concurrent trigger on the same
		// scope; the index kept the scope single-occupant, so report the
		// winner's run.
		if active := o.awaitActiveRun(ctx, scopeKey); active != nil {
			return o.busyResponse(scopeKey, active), nil
		}
	}
	if err != nil {
		return nil, err
	}

	if existing != nil {
		return o.busyResponse(scopeKey, existing), nil
	}

	runsStarted.WithLabelValues(req.TriggeredBy).Inc()
	slog.Info("validation run queued",
		"run_id", run.ID, "scope", scopeKey, "triggered_by", req.TriggeredBy)

	go o.executeRun(context.Background(), run.ID, req.Categories)

	return &TriggerRunResponse{RunID: run.ID, Status: models.RunStatusQueued}, nil
}

// activeRun returns the queued or running run occupying the scope, nil when
// the scope is free.
func (o *Orchestrator) activeRun(ctx context.Context, scopeKey string) *models.ValidationRun {
	var active models.ValidationRun
	err := o.db.WithContext(ctx).
		Where("scope_key = ? AND status IN ?", scopeKey,
			[]string{models.RunStatusQueued, models.RunStatusRunning}).
		Order("started_at DESC").
		First(&active).Error
	if err != nil {
		return nil
	}
	return &active
}

// awaitActiveRun polls briefly for the run a concurrent trigger is still
// committing.
func (o *Orchestrator) awaitActiveRun(ctx context.Context, scopeKey string) *models.ValidationRun {
	for i := 0; i < 10; i++ {
		if active := o.activeRun(ctx, scopeKey); active != nil {
			return active
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(50 * time.Millisecond):
		}
	}
	return nil
}

// busyResponse reports the run already occupying the scope.
func (o *Orchestrator) busyResponse(scopeKey string, active *models.ValidationRun) *TriggerRunResponse {
	runsRejected.Inc()
	slog.Info("run trigger rejected, scope busy",
		"scope", scopeKey, "active_run", active.ID)
	return &TriggerRunResponse{
		RunID:   active.ID,
		Status:  "already_running",
		Message: fmt.Sprintf("scope %s already has an active run", scopeKey),
	}
}

// GetRun returns a run with its results.
func (o *Orchestrator) GetRun(ctx context.Context, id string) (*RunDetail, error) {
	var run models.ValidationRun
	if err := o.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, err
	}

	var results []models.ValidationResult
	if err := o.db.WithContext(ctx).
		Where("run_id = ?", id).
		Order("created_at").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("loading run results failed: %w", err)
	}

	return &RunDetail{ValidationRun: run, Results: results}, nil
}

// ListRuns returns run history newest-first.
func (o *Orchestrator) ListRuns(ctx context.Context, seasonID, gameID, status string, page, size int) ([]models.ValidationRun, int64, error) {
	query := o.db.WithContext(ctx).Model(&models.ValidationRun{})
	if seasonID != "" {
		query = query.Where("season_id = ?", seasonID)
	}
	if gameID != "" {
		query = query.Where("game_id = ?", gameID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting runs failed: %w", err)
	}

	if page < 1 {
		page = 1
	}
	if size < 1 || size > 200 {
		size = 20
	}

	var runs []models.ValidationRun
	if err := query.Order("started_at DESC").
		Offset((page - 1) * size).Limit(size).
		Find(&runs).Error; err != nil {
		return nil, 0, fmt.Errorf("listing runs failed: %w", err)
	}
	return runs, total, nil
}

// checkJob is one (rule, entity) evaluation dispatched to the worker pool.
type checkJob struct {
	rule *models.ValidationRule
	spec *RuleSpec
	ref  facts.EntityRef
}

// executeRun drives a queued run to a terminal state. Runs detached from the
// trigger request so client disconnects never abort a run.
func (o *Orchestrator) executeRun(ctx context.Context, runID string, categories []string) {
	started := time.Now()

	var run models.ValidationRun
	if err := o.db.First(&run, "id = ?", runID).Error; err != nil {
		slog.Error("loading queued run failed", "run_id", runID, "error", err)
		return
	}

	if err := o.db.Model(&run).Update("status", models.RunStatusRunning).Error; err != nil {
		slog.Error("marking run running failed", "run_id", runID, "error", err)
		return
	}

	rules, err := o.registry.ActiveRules(ctx, categories)
	if err != nil {
		o.failRun(&run, fmt.Sprintf("loading rules failed: %v", err))
		return
	}

	games, err := o.scopeGames(ctx, &run)
	if err != nil {
		o.failRun(&run, fmt.Sprintf("resolving run scope failed: %v", err))
		return
	}

	jobs, skipped := o.buildJobs(ctx, rules, games)
	if err := o.db.Model(&run).Update("rules_checked", int64(len(rules)-skipped)).Error; err != nil {
		slog.Warn("updating rules_checked failed", "run_id", runID, "error", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		fatalMu  sync.Mutex
		fatalErr error
	)
	jobCh := make(chan checkJob)

	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				if err := o.runCheck(runCtx, &run, job); err != nil {
					fatalMu.Lock()
					if fatalErr == nil {
						fatalErr = err
						cancel()
					}
					fatalMu.Unlock()
					return
				}
			}
		}()
	}

feed:
	for _, job := range jobs {
		select {
		case jobCh <- job:
		case <-runCtx.Done():
			break feed
		}
	}
	close(jobCh)
	wg.Wait()

	if fatalErr != nil {
		// Partial results already persisted stay; the counters reflect them.
		o.recomputeCounters(&run)
		o.failRun(&run, fatalErr.Error())
		return
	}

	o.recomputeCounters(&run)
	now := time.Now()
	if err := o.db.Model(&run).Updates(map[string]interface{}{
		"status":       models.RunStatusCompleted,
		"completed_at": &now,
	}).Error; err != nil {
		slog.Error("marking run completed failed", "run_id", runID, "error", err)
		return
	}
	run.Status = models.RunStatusCompleted
	run.CompletedAt = &now

	runsFinished.WithLabelValues(models.RunStatusCompleted).Inc()
	runDuration.Observe(time.Since(started).Seconds())
	slog.Info("validation run completed",
		"run_id", run.ID, "scope", run.ScopeKey,
		"passed", run.TotalPassed, "failed", run.TotalFailed,
		"warnings", run.TotalWarnings, "duration", time.Since(started))

	if o.scorer != nil {
		if err := o.scorer.RecalculateForRun(ctx, &run, games); err != nil {
			slog.Error("recalculating quality scores failed", "run_id", run.ID, "error", err)
		}
	}
	if o.publisher != nil {
		o.publisher.PublishRunFinished(ctx, &run)
	}
}

// runCheck evaluates one job and persists its outcome. A resolver outage is
// the only fatal error; everything else is recorded as a failed check.
func (o *Orchestrator) runCheck(ctx context.Context, run *models.ValidationRun, job checkJob) error {
	valueA, err := o.resolver.GetValue(ctx, job.ref, job.spec.Field, job.spec.SourceA)
	if err != nil {
		return fmt.Errorf("resolving %s/%s from %s: %w", job.ref.EntityID, job.spec.Field, job.spec.SourceA, err)
	}
	var valueB *facts.Fact
	if job.spec.SourceB != "" {
		valueB, err = o.resolver.GetValue(ctx, job.ref, job.spec.Field, job.spec.SourceB)
		if err != nil {
			return fmt.Errorf("resolving %s/%s from %s: %w", job.ref.EntityID, job.spec.Field, job.spec.SourceB, err)
		}
	}

	check := o.evaluator.Evaluate(job.rule, job.spec, job.ref, valueA, valueB)

	result := &models.ValidationResult{
		RunID:        run.ID,
		RuleID:       job.rule.ID,
		RuleName:     job.rule.Name,
		GameID:       optional(job.ref.GameID),
		EntityType:   check.EntityType,
		EntityID:     check.EntityID,
		FieldName:    check.FieldName,
		Passed:       check.Passed,
		Severity:     job.rule.Severity,
		Message:      check.Message,
		Difference:   check.Difference,
		SourceValues: sourceValues(check),
		Details: models.JSONB{
			"complete":       check.Complete,
			"soft_tolerance": check.SoftTolerance,
		},
	}
	if err := o.db.WithContext(ctx).Create(result).Error; err != nil {
		return fmt.Errorf("%w: persisting result: %v", facts.ErrUnavailable, err)
	}

	o.bumpCounters(run, check, job.rule)

	if check.Passed {
		checksEvaluated.WithLabelValues("passed").Inc()
		return nil
	}
	checksEvaluated.WithLabelValues("failed").Inc()

	_, created, err := o.discrepancies.RecordFailure(ctx, check, job.rule, result.ID, job.ref)
	if err != nil {
		slog.Error("recording discrepancy failed",
			"run_id", run.ID, "rule", job.rule.Name, "entity", job.ref.EntityID, "error", err)
		return nil
	}
	if created {
		discrepanciesOpened.WithLabelValues(job.rule.Severity).Inc()
	}
	return nil
}

// sourceValues snapshots what each source reported, nil for missing facts.
func sourceValues(check *ReconciliationCheck) models.JSONB {
	values := models.JSONB{check.SourceA: check.SourceAValue.StringPtr()}
	if check.SourceB != "" {
		values[check.SourceB] = check.SourceBValue.StringPtr()
	}
	return values
}

// bumpCounters keeps the run row live-updating while checks stream in. The
// increments are approximate during execution and replaced by a recount at
// the end.
func (o *Orchestrator) bumpCounters(run *models.ValidationRun, check *ReconciliationCheck, rule *models.ValidationRule) {
	column := "total_passed"
	if !check.Passed {
		if rule.Severity == models.SeverityWarning {
			column = "total_warnings"
		} else {
			column = "total_failed"
		}
	}
	if err := o.db.Model(&models.ValidationRun{}).
		Where("id = ?", run.ID).
		Update(column, gorm.Expr(column+" + 1")).Error; err != nil {
		slog.Warn("incrementing run counter failed", "run_id", run.ID, "column", column, "error", err)
	}
}

// recomputeCounters replaces the streamed increments with an exact recount so
// the stored totals always equal the persisted result set.
func (o *Orchestrator) recomputeCounters(run *models.ValidationRun) {
	type bucket struct {
		Passed   bool
		Severity string
		N        int64
	}
	var buckets []bucket
	if err := o.db.Model(&models.ValidationResult{}).
		Select("passed, severity, count(*) as n").
		Where("run_id = ?", run.ID).
		Group("passed, severity").
		Scan(&buckets).Error; err != nil {
		slog.Error("recounting run results failed", "run_id", run.ID, "error", err)
		return
	}

	var passed, failed, warnings int64
	for _, b := range buckets {
		switch {
		case b.Passed:
			passed += b.N
		case b.Severity == models.SeverityWarning:
			warnings += b.N
		default:
			failed += b.N
		}
	}

	if err := o.db.Model(&models.ValidationRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]interface{}{
			"total_passed":   passed,
			"total_failed":   failed,
			"total_warnings": warnings,
		}).Error; err != nil {
		slog.Error("storing run counters failed", "run_id", run.ID, "error", err)
		return
	}
	run.TotalPassed = passed
	run.TotalFailed = failed
	run.TotalWarnings = warnings
}

// failRun moves the run to failed, keeping whatever partial results exist.
func (o *Orchestrator) failRun(run *models.ValidationRun, message string) {
	now := time.Now()
	if err := o.db.Model(run).Updates(map[string]interface{}{
		"status":        models.RunStatusFailed,
		"completed_at":  &now,
		"error_message": &message,
	}).Error; err != nil {
		slog.Error("marking run failed errored", "run_id", run.ID, "error", err)
		return
	}
	runsFinished.WithLabelValues(models.RunStatusFailed).Inc()
	slog.Error("validation run failed",
		"run_id", run.ID, "scope", run.ScopeKey, "error", message)
}

// scopeGames expands the run scope into the games it covers.
func (o *Orchestrator) scopeGames(ctx context.Context, run *models.ValidationRun) ([]models.Game, error) {
	query := o.db.WithContext(ctx).Model(&models.Game{})
	switch {
	case run.GameID != nil:
		query = query.Where("id = ?", *run.GameID)
	case run.SeasonID != nil:
		query = query.Where("season_id = ?", *run.SeasonID)
	}

	var games []models.Game
	if err := query.Order("id").Find(&games).Error; err != nil {
		return nil, err
	}
	if run.GameID != nil && len(games) == 0 {
		return nil, fmt.Errorf("game %s not found", *run.GameID)
	}
	return games, nil
}

// buildJobs expands rules over the scoped games. Rules whose config no longer
// parses are skipped with a log line rather than failing the run; the skip
// count lowers rules_checked.
func (o *Orchestrator) buildJobs(ctx context.Context, rules []models.ValidationRule, games []models.Game) ([]checkJob, int) {
	var jobs []checkJob
	skipped := 0
	for i := range rules {
		rule := &rules[i]
		spec, err := ParseRuleSpec(rule)
		if err != nil {
			slog.Warn("skipping unparseable rule", "rule", rule.Name, "error", err)
			skipped++
			continue
		}
		for _, game := range games {
			refs, err := o.entityRefs(ctx, spec, &game)
			if err != nil {
				slog.Warn("enumerating entities failed",
					"rule", rule.Name, "game", game.ID, "error", err)
				continue
			}
			for _, ref := range refs {
				jobs = append(jobs, checkJob{rule: rule, spec: spec, ref: ref})
			}
		}
	}
	return jobs, skipped
}

// entityRefs enumerates the entities a rule touches within one game. Game
// level rules target the game itself; finer-grained rules cover every entity
// either source reported the field for, so one-sided entities still get a
// presence failure instead of silently dropping out.
func (o *Orchestrator) entityRefs(ctx context.Context, spec *RuleSpec, game *models.Game) ([]facts.EntityRef, error) {
	if spec.EntityType == "game" {
		return []facts.EntityRef{{
			EntityType: "game",
			EntityID:   game.ID,
			GameID:     game.ID,
			SeasonID:   game.SeasonID,
		}}, nil
	}

	var ids []string
	if err := o.db.WithContext(ctx).Model(&models.SourceFact{}).
		Distinct("entity_id").
		Where("game_id = ? AND entity_type = ? AND field_name = ?", game.ID, spec.EntityType, spec.Field).
		Order("entity_id").
		Pluck("entity_id", &ids).Error; err != nil {
		return nil, err
	}

	refs := make([]facts.EntityRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, facts.EntityRef{
			EntityType: spec.EntityType,
			EntityID:   id,
			GameID:     game.ID,
			SeasonID:   game.SeasonID,
		})
	}
	return refs, nil
}
