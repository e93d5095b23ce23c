package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/venue-booking-api/internal/models"
)

const ruleColumns = `id, name, scope, venue_type, venue_id, department, user_role, max_advance_days, min_advance_hours, max_duration_hours, min_duration_hours, blackouts, max_participants, min_participants, overbooking_tolerance, requires_faculty_approval, requires_admin_approval, requires_hod_approval, auto_approve, approval_time_limit_hours, max_per_day, max_per_week, max_per_month, prevent_concurrent, cooldown_hours, active, priority, effective_from, effective_until, created_by, created_at, updated_at`

// RuleRepository persists booking rules.
type RuleRepository struct {
	db *sqlx.DB
}

// NewRuleRepository creates a new rule repository.
func NewRuleRepository(db *sqlx.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

// FindByID loads a rule by id.
func (r *RuleRepository) FindByID(ctx context.Context, id string) (*models.BookingRule, error) {
	query := fmt.Sprintf(`SELECT %s FROM booking_rules WHERE id = $1`, ruleColumns)
	var rule models.BookingRule
	if err := r.db.GetContext(ctx, &rule, query, id); err != nil {
		return nil, err
	}
	return &rule, nil
}

// ListApplicable returns active rules whose scoping keys are either null
// (wildcard) or match the candidate exactly, ordered by priority descending
// with creation order breaking ties deterministically.
func (r *RuleRepository) ListApplicable(ctx context.Context, q models.RuleScopeQuery) ([]models.BookingRule, error) {
	query := fmt.Sprintf(`SELECT %s FROM booking_rules
		WHERE active = TRUE
		AND (venue_type IS NULL OR venue_type = $1)
		AND (venue_id IS NULL OR venue_id = $2)
		AND (department IS NULL OR department = $3)
		AND (user_role IS NULL OR user_role = $4)
		ORDER BY priority DESC, created_at ASC`, ruleColumns)

	var rules []models.BookingRule
	if err := r.db.SelectContext(ctx, &rules, query, q.VenueType, q.VenueID, q.Department, q.Role); err != nil {
		return nil, fmt.Errorf("list applicable rules: %w", err)
	}
	return rules, nil
}

// List returns rules with optional scope filtering for administration.
func (r *RuleRepository) List(ctx context.Context, scope models.RuleScope, activeOnly bool) ([]models.BookingRule, error) {
	base := fmt.Sprintf(`SELECT %s FROM booking_rules WHERE 1=1`, ruleColumns)
	var conditions []string
	var args []interface{}
	if scope != "" {
		conditions = append(conditions, fmt.Sprintf("scope = $%d", len(args)+1))
		args = append(args, scope)
	}
	if activeOnly {
		conditions = append(conditions, "active = TRUE")
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}
	base += " ORDER BY priority DESC, created_at ASC"

	var rules []models.BookingRule
	if err := r.db.SelectContext(ctx, &rules, base, args...); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return rules, nil
}

// Create stores a new rule record.
func (r *RuleRepository) Create(ctx context.Context, rule *models.BookingRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := fmt.Sprintf(`INSERT INTO booking_rules (%s) VALUES (:id, :name, :scope, :venue_type, :venue_id, :department, :user_role, :max_advance_days, :min_advance_hours, :max_duration_hours, :min_duration_hours, :blackouts, :max_participants, :min_participants, :overbooking_tolerance, :requires_faculty_approval, :requires_admin_approval, :requires_hod_approval, :auto_approve, :approval_time_limit_hours, :max_per_day, :max_per_week, :max_per_month, :prevent_concurrent, :cooldown_hours, :active, :priority, :effective_from, :effective_until, :created_by, :created_at, :updated_at)`, ruleColumns)
	if _, err := r.db.NamedExecContext(ctx, query, rule); err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	return nil
}

// Update modifies a rule record.
func (r *RuleRepository) Update(ctx context.Context, rule *models.BookingRule) error {
	rule.UpdatedAt = time.Now().UTC()
	const query = `UPDATE booking_rules SET name = :name, scope = :scope, venue_type = :venue_type, venue_id = :venue_id, department = :department, user_role = :user_role, max_advance_days = :max_advance_days, min_advance_hours = :min_advance_hours, max_duration_hours = :max_duration_hours, min_duration_hours = :min_duration_hours, blackouts = :blackouts, max_participants = :max_participants, min_participants = :min_participants, overbooking_tolerance = :overbooking_tolerance, requires_faculty_approval = :requires_faculty_approval, requires_admin_approval = :requires_admin_approval, requires_hod_approval = :requires_hod_approval, auto_approve = :auto_approve, approval_time_limit_hours = :approval_time_limit_hours, max_per_day = :max_per_day, max_per_week = :max_per_week, max_per_month = :max_per_month, prevent_concurrent = :prevent_concurrent, cooldown_hours = :cooldown_hours, active = :active, priority = :priority, effective_from = :effective_from, effective_until = :effective_until, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, rule); err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	return nil
}
