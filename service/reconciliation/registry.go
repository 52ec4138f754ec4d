/*
 * @module service/reconciliation/registry
 * @description Validation rule registry: CRUD, category listing, soft deactivation
 * @architecture Layered architecture - business service layer
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow Controller -> registry -> gorm -> postgres
 * @rules Built-in rules cannot be deleted; rules referenced by results are deactivated instead of removed
 * @dependencies gorm.io/gorm
 * @refs service/models/rule.go, service/database/migrate.go
 */

package reconciliation

import (
	"context"
	"fmt"
	"log/slog"

	"nhlrecon-service/service/models"

	"gorm.io/gorm"
)

// RuleRegistry manages the validation rule catalog.
type RuleRegistry struct {
	db *gorm.DB
}

// NewRuleRegistry creates a rule registry instance.
func NewRuleRegistry(db *gorm.DB) *RuleRegistry {
	return &RuleRegistry{db: db}
}

// CreateRule validates the config up front so broken rules never reach a run.
func (r *RuleRegistry) CreateRule(ctx context.Context, req *RuleUpsertRequest) (*models.ValidationRule, error) {
	rule := &models.ValidationRule{
		Name:        req.Name,
		Category:    req.Category,
		Severity:    req.Severity,
		Description: req.Description,
		Config:      req.Config,
		IsActive:    true,
		CreatedBy:   req.Operator,
		UpdatedBy:   req.Operator,
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if err := validateRule(rule); err != nil {
		return nil, err
	}

	if err := r.db.WithContext(ctx).Create(rule).Error; err != nil {
		return nil, fmt.Errorf("creating rule failed: %w", err)
	}

	slog.Info("validation rule created", "rule", rule.Name, "category", rule.Category)
	return rule, nil
}

// GetRule fetches one rule by ID.
func (r *RuleRegistry) GetRule(ctx context.Context, id string) (*models.ValidationRule, error) {
	var rule models.ValidationRule
	if err := r.db.WithContext(ctx).First(&rule, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

// GetRuleByName fetches one rule by its unique name.
func (r *RuleRegistry) GetRuleByName(ctx context.Context, name string) (*models.ValidationRule, error) {
	var rule models.ValidationRule
	if err := r.db.WithContext(ctx).First(&rule, "name = ?", name).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

// ListRules returns rules filtered by category and/or active flag. An unknown
// category is not an error, it just matches nothing.
func (r *RuleRegistry) ListRules(ctx context.Context, category string, activeOnly bool) ([]models.ValidationRule, error) {
	query := r.db.WithContext(ctx).Model(&models.ValidationRule{})
	if category != "" {
		query = query.Where("category = ?", category)
	}
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}

	var rules []models.ValidationRule
	if err := query.Order("category, name").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("listing rules failed: %w", err)
	}
	return rules, nil
}

// ActiveRules returns the rules a run evaluates, optionally narrowed to the
// requested categories.
func (r *RuleRegistry) ActiveRules(ctx context.Context, categories []string) ([]models.ValidationRule, error) {
	query := r.db.WithContext(ctx).Where("is_active = ?", true)
	if len(categories) > 0 {
		query = query.Where("category IN ?", categories)
	}

	var rules []models.ValidationRule
	if err := query.Order("category, name").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("loading active rules failed: %w", err)
	}
	return rules, nil
}

// UpdateRule applies a partial update. Config changes are re-validated.
func (r *RuleRegistry) UpdateRule(ctx context.Context, id string, req *RuleUpsertRequest) (*models.ValidationRule, error) {
	rule, err := r.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != "" {
		rule.Name = req.Name
	}
	if req.Category != "" {
		rule.Category = req.Category
	}
	if req.Severity != "" {
		rule.Severity = req.Severity
	}
	if req.Description != "" {
		rule.Description = req.Description
	}
	if req.Config != nil {
		rule.Config = req.Config
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	rule.UpdatedBy = req.Operator

	if err := validateRule(rule); err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Save(rule).Error; err != nil {
		return nil, fmt.Errorf("updating rule failed: %w", err)
	}

	slog.Info("validation rule updated", "rule", rule.Name, "active", rule.IsActive)
	return rule, nil
}

// DeleteRule removes a rule. Built-in rules and rules with recorded results
// are deactivated instead so history stays interpretable.
func (r *RuleRegistry) DeleteRule(ctx context.Context, id string, operator string) error {
	rule, err := r.GetRule(ctx, id)
	if err != nil {
		return err
	}

	var referenced int64
	if err := r.db.WithContext(ctx).Model(&models.ValidationResult{}).
		Where("rule_id = ?", id).Limit(1).Count(&referenced).Error; err != nil {
		return fmt.Errorf("checking rule references failed: %w", err)
	}

	if rule.IsBuiltIn || referenced > 0 {
		updates := map[string]interface{}{"is_active": false, "updated_by": operator}
		if err := r.db.WithContext(ctx).Model(rule).Updates(updates).Error; err != nil {
			return fmt.Errorf("deactivating rule failed: %w", err)
		}
		slog.Info("validation rule deactivated", "rule", rule.Name, "built_in", rule.IsBuiltIn)
		return nil
	}

	if err := r.db.WithContext(ctx).Delete(rule).Error; err != nil {
		return fmt.Errorf("deleting rule failed: %w", err)
	}
	slog.Info("validation rule deleted", "rule", rule.Name)
	return nil
}

// validateRule checks the fields a run depends on before the rule is stored.
func validateRule(rule *models.ValidationRule) error {
	if rule.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if rule.Category == "" {
		return fmt.Errorf("rule category is required")
	}
	switch rule.Severity {
	case models.SeverityError, models.SeverityWarning, models.SeverityInfo:
	default:
		return fmt.Errorf("invalid severity %q", rule.Severity)
	}
	if _, err := ParseRuleSpec(rule); err != nil {
		return err
	}
	return nil
}
