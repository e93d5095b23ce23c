package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/venue-booking-api/internal/models"
	appErrors "github.com/noah-isme/venue-booking-api/pkg/errors"
)

type ruleRepository interface {
	FindByID(ctx context.Context, id string) (*models.BookingRule, error)
	ListApplicable(ctx context.Context, q models.RuleScopeQuery) ([]models.BookingRule, error)
	List(ctx context.Context, scope models.RuleScope, activeOnly bool) ([]models.BookingRule, error)
	Create(ctx context.Context, rule *models.BookingRule) error
	Update(ctx context.Context, rule *models.BookingRule) error
}

type bookingCounter interface {
	CountByRequesterCreatedBetween(ctx context.Context, userID string, from, to time.Time) (int, error)
	LatestCreatedByRequester(ctx context.Context, userID string) (*time.Time, error)
	CountOverlappingByRequester(ctx context.Context, userID, fromDate, toDate, fromTime, toTime string) (int, error)
}

// SaveRuleRequest is the administrator payload for creating or updating a rule.
type SaveRuleRequest struct {
	Name  string           `json:"name" validate:"required"`
	Scope models.RuleScope `json:"scope" validate:"required,oneof=global venue_type venue department role"`

	VenueType  *models.VenueType `json:"venue_type,omitempty"`
	VenueID    *string           `json:"venue_id,omitempty"`
	Department *string           `json:"department,omitempty"`
	UserRole   *models.UserRole  `json:"user_role,omitempty"`

	MaxAdvanceBookingDays  *int     `json:"max_advance_booking_days,omitempty" validate:"omitempty,min=0"`
	MinAdvanceBookingHours *int     `json:"min_advance_booking_hours,omitempty" validate:"omitempty,min=0"`
	MaxDurationHours       *float64 `json:"max_booking_duration_hours,omitempty" validate:"omitempty,gt=0"`
	MinDurationHours       *float64 `json:"min_booking_duration_hours,omitempty" validate:"omitempty,gt=0"`
	Blackouts              models.RuleBlackouts `json:"blackouts"`

	MaxParticipants      *int `json:"max_participants,omitempty" validate:"omitempty,min=1"`
	MinParticipants      *int `json:"min_participants,omitempty" validate:"omitempty,min=1"`
	OverbookingTolerance *int `json:"overbooking_tolerance,omitempty" validate:"omitempty,min=0"`

	RequiresFacultyApproval bool `json:"requires_faculty_approval"`
	RequiresAdminApproval   bool `json:"requires_admin_approval"`
	RequiresHODApproval     bool `json:"requires_hod_approval"`
	AutoApprove             bool `json:"auto_approve"`
	ApprovalTimeLimitHours  *int `json:"approval_time_limit_hours,omitempty" validate:"omitempty,min=1"`

	MaxBookingsPerDay         *int `json:"max_bookings_per_day,omitempty" validate:"omitempty,min=1"`
	MaxBookingsPerWeek        *int `json:"max_bookings_per_week,omitempty" validate:"omitempty,min=1"`
	MaxBookingsPerMonth       *int `json:"max_bookings_per_month,omitempty" validate:"omitempty,min=1"`
	PreventConcurrentBookings bool `json:"prevent_concurrent_bookings"`
	CooldownHours             *int `json:"cooldown_hours,omitempty" validate:"omitempty,min=0"`

	Active         bool       `json:"active"`
	Priority       int        `json:"priority"`
	EffectiveFrom  *time.Time `json:"effective_from,omitempty"`
	EffectiveUntil *time.Time `json:"effective_until,omitempty"`
}

// RuleService evaluates booking policies and manages their administration.
type RuleService struct {
	repo      ruleRepository
	counter   bookingCounter
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewRuleService constructs RuleService.
func NewRuleService(repo ruleRepository, counter bookingCounter, validate *validator.Validate, logger *zap.Logger) *RuleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleService{repo: repo, counter: counter, validator: validate, logger: logger, now: time.Now}
}

// ApplicableRules resolves the ordered effective rule set for one candidate
// scope: priority descending, creation order (oldest first) breaking ties.
func (s *RuleService) ApplicableRules(ctx context.Context, q models.RuleScopeQuery) ([]models.BookingRule, error) {
	rules, err := s.repo.ListApplicable(ctx, q)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve applicable rules")
	}
	now := s.now().UTC()
	effective := rules[:0]
	for _, rule := range rules {
		if rule.IsEffective(now) {
			effective = append(effective, rule)
		}
	}
	return effective, nil
}

// EvaluateAll runs every applicable effective rule against the candidate and
// aggregates the violations across all of them, not just the first failure.
func (s *RuleService) EvaluateAll(ctx context.Context, q models.RuleScopeQuery, booking *models.Booking) ([]models.BookingRule, []models.RuleViolation, error) {
	rules, err := s.ApplicableRules(ctx, q)
	if err != nil {
		return nil, nil, err
	}
	var violations []models.RuleViolation
	for i := range rules {
		checked, err := s.Evaluate(ctx, &rules[i], booking)
		if err != nil {
			return nil, nil, err
		}
		violations = append(violations, checked...)
	}
	return rules, violations, nil
}

// Evaluate checks a single rule against a candidate booking. Every check is
// independently reportable; the result lists all failures for this rule.
func (s *RuleService) Evaluate(ctx context.Context, rule *models.BookingRule, booking *models.Booking) ([]models.RuleViolation, error) {
	var violations []models.RuleViolation
	add := func(check, message string) {
		violations = append(violations, models.RuleViolation{RuleID: rule.ID, RuleName: rule.Name, Check: check, Message: message})
	}

	now := s.now().UTC()
	start, err := bookingStart(booking)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid booking window")
	}

	// Advance notice is compared in hours for both bounds; day-based maxima
	// are converted rather than truncated to whole days.
	hoursUntil := start.Sub(now).Hours()
	if rule.MaxAdvanceBookingDays != nil && hoursUntil > float64(*rule.MaxAdvanceBookingDays)*24 {
		add(models.CheckAdvanceNotice, fmt.Sprintf("booking may be made at most %d days ahead", *rule.MaxAdvanceBookingDays))
	}
	if rule.MinAdvanceBookingHours != nil && hoursUntil < float64(*rule.MinAdvanceBookingHours) {
		add(models.CheckAdvanceNotice, fmt.Sprintf("booking requires at least %d hours notice", *rule.MinAdvanceBookingHours))
	}

	fromMin, err := clockMinutes(booking.FromTime)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid from time %q", booking.FromTime))
	}
	toMin, err := clockMinutes(booking.ToTime)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid to time %q", booking.ToTime))
	}
	durationHours := float64(toMin-fromMin) / 60
	if rule.MinDurationHours != nil && durationHours < *rule.MinDurationHours {
		add(models.CheckDuration, fmt.Sprintf("booking must last at least %.1f hours", *rule.MinDurationHours))
	}
	if rule.MaxDurationHours != nil && durationHours > *rule.MaxDurationHours {
		add(models.CheckDuration, fmt.Sprintf("booking may last at most %.1f hours", *rule.MaxDurationHours))
	}

	if rule.MinParticipants != nil && booking.Participants < *rule.MinParticipants {
		add(models.CheckParticipants, fmt.Sprintf("at least %d participants required", *rule.MinParticipants))
	}
	if rule.MaxParticipants != nil && booking.Participants > *rule.MaxParticipants {
		add(models.CheckParticipants, fmt.Sprintf("at most %d participants allowed", *rule.MaxParticipants))
	}

	if msg := s.blackoutViolation(rule, booking, fromMin, toMin); msg != "" {
		add(models.CheckBlackout, msg)
	}

	if err := s.frequencyViolations(ctx, rule, booking, now, add); err != nil {
		return nil, err
	}

	return violations, nil
}

func (s *RuleService) blackoutViolation(rule *models.BookingRule, booking *models.Booking, fromMin, toMin int) string {
	dates, err := booking.Dates()
	if err != nil {
		return ""
	}
	for _, date := range dates {
		for _, blackout := range rule.Blackouts.Dates {
			if blackout == date {
				return fmt.Sprintf("date %s falls in a blackout period", date)
			}
		}
		day, err := time.Parse("2006-01-02", date)
		if err != nil {
			continue
		}
		weekday := day.Weekday().String()
		for _, window := range rule.Blackouts.Windows {
			if !strings.EqualFold(window.Weekday, weekday) {
				continue
			}
			winStart, err1 := clockMinutes(window.StartTime)
			winEnd, err2 := clockMinutes(window.EndTime)
			if err1 != nil || err2 != nil {
				continue
			}
			if fromMin < winEnd && toMin > winStart {
				return fmt.Sprintf("time range intersects the %s %s-%s blackout window", window.Weekday, window.StartTime, window.EndTime)
			}
		}
	}
	return ""
}

func (s *RuleService) frequencyViolations(ctx context.Context, rule *models.BookingRule, booking *models.Booking, now time.Time, add func(check, message string)) error {
	wrap := func(err error) error {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to evaluate frequency limits")
	}

	checkWindow := func(limit *int, from, to time.Time, label string) error {
		if limit == nil {
			return nil
		}
		count, err := s.counter.CountByRequesterCreatedBetween(ctx, booking.RequestedBy, from, to)
		if err != nil {
			return wrap(err)
		}
		if count >= *limit {
			add(models.CheckFrequency, fmt.Sprintf("booking limit of %d per %s reached", *limit, label))
		}
		return nil
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if err := checkWindow(rule.MaxBookingsPerDay, dayStart, dayStart.AddDate(0, 0, 1), "day"); err != nil {
		return err
	}
	weekStart := dayStart.AddDate(0, 0, -int(dayStart.Weekday()))
	if err := checkWindow(rule.MaxBookingsPerWeek, weekStart, weekStart.AddDate(0, 0, 7), "week"); err != nil {
		return err
	}
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if err := checkWindow(rule.MaxBookingsPerMonth, monthStart, monthStart.AddDate(0, 1, 0), "month"); err != nil {
		return err
	}

	if rule.CooldownHours != nil && *rule.CooldownHours > 0 {
		latest, err := s.counter.LatestCreatedByRequester(ctx, booking.RequestedBy)
		if err != nil {
			return wrap(err)
		}
		if latest != nil && now.Sub(*latest) < time.Duration(*rule.CooldownHours)*time.Hour {
			add(models.CheckFrequency, fmt.Sprintf("cooldown of %d hours between bookings not yet elapsed", *rule.CooldownHours))
		}
	}

	if rule.PreventConcurrentBookings {
		count, err := s.counter.CountOverlappingByRequester(ctx, booking.RequestedBy, booking.FromDate, booking.ToDate, booking.FromTime, booking.ToTime)
		if err != nil {
			return wrap(err)
		}
		if count > 0 {
			add(models.CheckConcurrency, "requester already holds a booking overlapping this window")
		}
	}
	return nil
}

// ApprovalRolesFor reduces the matched rules to the set of roles whose
// approval the booking requires.
func ApprovalRolesFor(rules []models.BookingRule) []models.UserRole {
	var roles []models.UserRole
	seen := map[models.UserRole]bool{}
	appendRole := func(role models.UserRole) {
		if !seen[role] {
			seen[role] = true
			roles = append(roles, role)
		}
	}
	for _, rule := range rules {
		if rule.RequiresFacultyApproval {
			appendRole(models.RoleFaculty)
		}
		if rule.RequiresAdminApproval {
			appendRole(models.RoleAdmin)
		}
		if rule.RequiresHODApproval {
			appendRole(models.RoleHOD)
		}
	}
	return roles
}

// AutoApprovable reports whether every matched rule auto-approves and none
// demands an explicit approval step.
func AutoApprovable(rules []models.BookingRule) bool {
	if len(rules) == 0 {
		return false
	}
	for _, rule := range rules {
		if !rule.AutoApprove || rule.RequiresFacultyApproval || rule.RequiresAdminApproval || rule.RequiresHODApproval {
			return false
		}
	}
	return true
}

// List returns rules for administration.
func (s *RuleService) List(ctx context.Context, scope models.RuleScope, activeOnly bool) ([]models.BookingRule, error) {
	rules, err := s.repo.List(ctx, scope, activeOnly)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list rules")
	}
	return rules, nil
}

// Create validates and stores a new rule.
func (s *RuleService) Create(ctx context.Context, actor models.Actor, req SaveRuleRequest) (*models.BookingRule, error) {
	if err := s.validateSave(req); err != nil {
		return nil, err
	}
	rule := ruleFromRequest(req)
	rule.CreatedBy = actor.UserID
	if err := s.repo.Create(ctx, rule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create rule")
	}
	return rule, nil
}

// Update validates and modifies an existing rule.
func (s *RuleService) Update(ctx context.Context, id string, req SaveRuleRequest) (*models.BookingRule, error) {
	if err := s.validateSave(req); err != nil {
		return nil, err
	}
	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "rule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rule")
	}
	rule := ruleFromRequest(req)
	rule.ID = existing.ID
	rule.CreatedBy = existing.CreatedBy
	rule.CreatedAt = existing.CreatedAt
	if err := s.repo.Update(ctx, rule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update rule")
	}
	return rule, nil
}

func (s *RuleService) validateSave(req SaveRuleRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rule payload")
	}
	switch req.Scope {
	case models.RuleScopeVenueType:
		if req.VenueType == nil {
			return appErrors.Clone(appErrors.ErrValidation, "venue_type scope requires a venue type")
		}
	case models.RuleScopeVenue:
		if req.VenueID == nil {
			return appErrors.Clone(appErrors.ErrValidation, "venue scope requires a venue id")
		}
	case models.RuleScopeDepartment:
		if req.Department == nil {
			return appErrors.Clone(appErrors.ErrValidation, "department scope requires a department")
		}
	case models.RuleScopeRole:
		if req.UserRole == nil {
			return appErrors.Clone(appErrors.ErrValidation, "role scope requires a user role")
		}
	}
	if req.MinDurationHours != nil && req.MaxDurationHours != nil && *req.MinDurationHours > *req.MaxDurationHours {
		return appErrors.Clone(appErrors.ErrValidation, "minimum duration exceeds maximum duration")
	}
	if req.MinParticipants != nil && req.MaxParticipants != nil && *req.MinParticipants > *req.MaxParticipants {
		return appErrors.Clone(appErrors.ErrValidation, "minimum participants exceeds maximum participants")
	}
	if req.EffectiveFrom != nil && req.EffectiveUntil != nil && !req.EffectiveFrom.Before(*req.EffectiveUntil) {
		return appErrors.Clone(appErrors.ErrValidation, "effective window ends before it starts")
	}
	return nil
}

func ruleFromRequest(req SaveRuleRequest) *models.BookingRule {
	return &models.BookingRule{
		Name:                      req.Name,
		Scope:                     req.Scope,
		VenueType:                 req.VenueType,
		VenueID:                   req.VenueID,
		Department:                req.Department,
		UserRole:                  req.UserRole,
		MaxAdvanceBookingDays:     req.MaxAdvanceBookingDays,
		MinAdvanceBookingHours:    req.MinAdvanceBookingHours,
		MaxDurationHours:          req.MaxDurationHours,
		MinDurationHours:          req.MinDurationHours,
		Blackouts:                 req.Blackouts,
		MaxParticipants:           req.MaxParticipants,
		MinParticipants:           req.MinParticipants,
		OverbookingTolerance:      req.OverbookingTolerance,
		RequiresFacultyApproval:   req.RequiresFacultyApproval,
		RequiresAdminApproval:     req.RequiresAdminApproval,
		RequiresHODApproval:       req.RequiresHODApproval,
		AutoApprove:               req.AutoApprove,
		ApprovalTimeLimitHours:    req.ApprovalTimeLimitHours,
		MaxBookingsPerDay:         req.MaxBookingsPerDay,
		MaxBookingsPerWeek:        req.MaxBookingsPerWeek,
		MaxBookingsPerMonth:       req.MaxBookingsPerMonth,
		PreventConcurrentBookings: req.PreventConcurrentBookings,
		CooldownHours:             req.CooldownHours,
		Active:                    req.Active,
		Priority:                  req.Priority,
		EffectiveFrom:             req.EffectiveFrom,
		EffectiveUntil:            req.EffectiveUntil,
	}
}

// bookingStart resolves the booking's first occupied instant in UTC.
func bookingStart(booking *models.Booking) (time.Time, error) {
	return time.Parse("2006-01-02 15:04", booking.FromDate+" "+booking.FromTime)
}
