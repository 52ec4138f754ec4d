/*
 * @module service/reconciliation/discrepancy_service
 * @description Discrepancy lifecycle: dedup on open key, paginated listing, resolve/ignore
 * @architecture Layered architecture - business service layer
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow Failed check -> RecordFailure (dedup) -> open discrepancy -> Resolve/Ignore
 * @rules At most one OPEN discrepancy per (rule, entity, field); resolved and ignored ones never absorb new failures
 * @dependencies gorm.io/gorm, github.com/lib/pq
 * @refs service/models/discrepancy.go, service/database/migrate.go
 */

package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"nhlrecon-service/service/facts"
	"nhlrecon-service/service/models"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// optional maps an empty string to a NULL column value.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// DiscrepancyService manages discrepancy records produced by failed checks.
type DiscrepancyService struct {
	db *gorm.DB
}

// NewDiscrepancyService creates a discrepancy service instance.
func NewDiscrepancyService(db *gorm.DB) *DiscrepancyService {
	return &DiscrepancyService{db: db}
}

// RecordFailure records a failed check as a discrepancy. If an open
// discrepancy already exists for the same (rule, entity, field) key it is
// refreshed in place instead of duplicated; closed ones get a new sibling.
// Returns the discrepancy and whether it was newly created.
func (s *DiscrepancyService) RecordFailure(ctx context.Context, check *ReconciliationCheck, rule *models.ValidationRule, resultID string, ref facts.EntityRef) (*models.Discrepancy, bool, error) {
	var (
		rec     *models.Discrepancy
		created bool
	)

	record := func(tx *gorm.DB) error {
		var existing models.Discrepancy
		err := tx.Where(
			"rule_id = ? AND entity_type = ? AND entity_id = ? AND field_name = ? AND resolution_status = ?",
			rule.ID, check.EntityType, check.EntityID, check.FieldName, models.DiscrepancyOpen,
		).First(&existing).Error

		switch {
		case err == nil:
			updates := map[string]interface{}{
				"source_a_value": check.SourceAValue.StringPtr(),
				"source_b_value": check.SourceBValue.StringPtr(),
				"difference":     check.Difference,
				"severity":       rule.Severity,
				"message":        check.Message,
				"result_id":      &resultID,
				"last_seen_at":   time.Now(),
				"seen_count":     gorm.Expr("seen_count + 1"),
			}
			if err := tx.Model(&existing).Updates(updates).Error; err != nil {
				return fmt.Errorf("refreshing open discrepancy failed: %w", err)
			}
			rec = &existing
			return nil

		case errors.Is(err, gorm.ErrRecordNotFound):
			fresh := &models.Discrepancy{
				RuleID:           rule.ID,
				RuleName:         rule.Name,
				GameID:           optional(ref.GameID),
				SeasonID:         optional(ref.SeasonID),
				EntityType:       check.EntityType,
				EntityID:         check.EntityID,
				FieldName:        check.FieldName,
				SourceA:          check.SourceA,
				SourceAValue:     check.SourceAValue.StringPtr(),
				SourceB:          check.SourceB,
				SourceBValue:     check.SourceBValue.StringPtr(),
				Difference:       check.Difference,
				Severity:         rule.Severity,
				Message:          check.Message,
				ResolutionStatus: models.DiscrepancyOpen,
				ResultID:         &resultID,
				FirstSeenAt:      time.Now(),
				LastSeenAt:       time.Now(),
				SeenCount:        1,
			}
			if err := tx.Create(fresh).Error; err != nil {
				return err
			}
			rec = fresh
			created = true
			return nil

		default:
			return fmt.Errorf("looking up open discrepancy failed: %w", err)
		}
	}

	err := s.db.WithContext(ctx).Transaction(record)
	if isUniqueViolation(err) {
		// Lost the race against a concurrent run on the same key; the open
		// record now exists, so retry folds into it.
		created = false
		err = s.db.WithContext(ctx).Transaction(record)
	}
	if err != nil {
		return nil, false, err
	}
	return rec, created, nil
}

// isUniqueViolation detects the partial unique index on the open key firing.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// DiscrepancyFilter narrows a discrepancy listing.
type DiscrepancyFilter struct {
	Status     string
	Severity   string
	RuleID     string
	GameID     string
	EntityType string
	Page       int
	Size       int
}

// List returns discrepancies newest-first with the total for pagination.
func (s *DiscrepancyService) List(ctx context.Context, filter *DiscrepancyFilter) ([]models.Discrepancy, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Discrepancy{})
	if filter.Status != "" {
		query = query.Where("resolution_status = ?", filter.Status)
	}
	if filter.Severity != "" {
		query = query.Where("severity = ?", filter.Severity)
	}
	if filter.RuleID != "" {
		query = query.Where("rule_id = ?", filter.RuleID)
	}
	if filter.GameID != "" {
		query = query.Where("game_id = ?", filter.GameID)
	}
	if filter.EntityType != "" {
		query = query.Where("entity_type = ?", filter.EntityType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting discrepancies failed: %w", err)
	}

	page, size := filter.Page, filter.Size
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 200 {
		size = 20
	}

	var items []models.Discrepancy
	if err := query.Order("last_seen_at DESC").
		Offset((page - 1) * size).Limit(size).
		Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("listing discrepancies failed: %w", err)
	}
	return items, total, nil
}

// Get fetches one discrepancy by ID.
func (s *DiscrepancyService) Get(ctx context.Context, id string) (*models.Discrepancy, error) {
	var d models.Discrepancy
	if err := s.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// SetResolution moves an open discrepancy to resolved or ignored. Closing an
// already-closed discrepancy is an idempotent no-op regardless of the
// requested status, so the original resolution record is never overwritten.
func (s *DiscrepancyService) SetResolution(ctx context.Context, id string, req *ResolveDiscrepancyRequest) (*models.Discrepancy, error) {
	if req.Status != models.DiscrepancyResolved && req.Status != models.DiscrepancyIgnored {
		return nil, fmt.Errorf("invalid resolution status %q", req.Status)
	}

	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if d.IsClosed() {
		return d, nil
	}

	now := time.Now()
	updates := map[string]interface{}{
		"resolution_status": req.Status,
		"resolution_notes":  req.Notes,
		"resolved_by":       req.ResolvedBy,
		"resolved_at":       &now,
	}
	if err := s.db.WithContext(ctx).Model(d).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("updating discrepancy resolution failed: %w", err)
	}

	slog.Info("discrepancy resolution updated",
		"id", d.ID, "rule", d.RuleName, "status", req.Status, "by", req.ResolvedBy)
	return d, nil
}

// OpenCount returns the number of open discrepancies, optionally for one season.
func (s *DiscrepancyService) OpenCount(ctx context.Context, seasonID string) (int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Discrepancy{}).
		Where("resolution_status = ?", models.DiscrepancyOpen)
	if seasonID != "" {
		query = query.Where("season_id = ?", seasonID)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting open discrepancies failed: %w", err)
	}
	return count, nil
}
