package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RuleScope discriminates how widely a booking rule applies.
type RuleScope string

const (
	RuleScopeGlobal     RuleScope = "global"
	RuleScopeVenueType  RuleScope = "venue_type"
	RuleScopeVenue      RuleScope = "venue"
	RuleScopeDepartment RuleScope = "department"
	RuleScopeRole       RuleScope = "role"
)

// BlackoutWindow is a weekly wall-clock window during which bookings are refused.
type BlackoutWindow struct {
	Weekday   string `json:"weekday"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// RuleBlackouts groups the blackout configuration persisted as JSONB.
type RuleBlackouts struct {
	Dates   []string         `json:"dates,omitempty"`
	Windows []BlackoutWindow `json:"windows,omitempty"`
}

// Value marshals blackouts to JSON for persistence.
func (b RuleBlackouts) Value() (driver.Value, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal rule blackouts: %w", err)
	}
	return data, nil
}

// Scan unmarshals a JSON payload into the blackout configuration.
func (b *RuleBlackouts) Scan(value interface{}) error {
	if value == nil {
		*b = RuleBlackouts{}
		return nil
	}
	data, err := jsonBytes(value)
	if err != nil {
		return fmt.Errorf("scan rule blackouts: %w", err)
	}
	return json.Unmarshal(data, b)
}

// BookingRule is an administrator-managed admission policy. Nil matching keys
// mean "any". Read-only at evaluation time.
type BookingRule struct {
	ID    string    `db:"id" json:"id"`
	Name  string    `db:"name" json:"name"`
	Scope RuleScope `db:"scope" json:"scope"`

	VenueType  *VenueType `db:"venue_type" json:"venue_type,omitempty"`
	VenueID    *string    `db:"venue_id" json:"venue_id,omitempty"`
	Department *string    `db:"department" json:"department,omitempty"`
	UserRole   *UserRole  `db:"user_role" json:"user_role,omitempty"`

	MaxAdvanceBookingDays  *int     `db:"max_advance_days" json:"max_advance_booking_days,omitempty"`
	MinAdvanceBookingHours *int     `db:"min_advance_hours" json:"min_advance_booking_hours,omitempty"`
	MaxDurationHours       *float64 `db:"max_duration_hours" json:"max_booking_duration_hours,omitempty"`
	MinDurationHours       *float64 `db:"min_duration_hours" json:"min_booking_duration_hours,omitempty"`
	Blackouts              RuleBlackouts `db:"blackouts" json:"blackouts"`

	MaxParticipants      *int `db:"max_participants" json:"max_participants,omitempty"`
	MinParticipants      *int `db:"min_participants" json:"min_participants,omitempty"`
	OverbookingTolerance *int `db:"overbooking_tolerance" json:"overbooking_tolerance,omitempty"`

	RequiresFacultyApproval bool `db:"requires_faculty_approval" json:"requires_faculty_approval"`
	RequiresAdminApproval   bool `db:"requires_admin_approval" json:"requires_admin_approval"`
	RequiresHODApproval     bool `db:"requires_hod_approval" json:"requires_hod_approval"`
	AutoApprove             bool `db:"auto_approve" json:"auto_approve"`
	ApprovalTimeLimitHours  *int `db:"approval_time_limit_hours" json:"approval_time_limit_hours,omitempty"`

	MaxBookingsPerDay         *int `db:"max_per_day" json:"max_bookings_per_day,omitempty"`
	MaxBookingsPerWeek        *int `db:"max_per_week" json:"max_bookings_per_week,omitempty"`
	MaxBookingsPerMonth       *int `db:"max_per_month" json:"max_bookings_per_month,omitempty"`
	PreventConcurrentBookings bool `db:"prevent_concurrent" json:"prevent_concurrent_bookings"`
	CooldownHours             *int `db:"cooldown_hours" json:"cooldown_hours,omitempty"`

	Active         bool       `db:"active" json:"active"`
	Priority       int        `db:"priority" json:"priority"`
	EffectiveFrom  *time.Time `db:"effective_from" json:"effective_from,omitempty"`
	EffectiveUntil *time.Time `db:"effective_until" json:"effective_until,omitempty"`

	CreatedBy string    `db:"created_by" json:"created_by"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsEffective reports whether the rule participates in evaluation at the given
// instant: active and within the [effectiveFrom, effectiveUntil) window.
func (r BookingRule) IsEffective(now time.Time) bool {
	if !r.Active {
		return false
	}
	if r.EffectiveFrom != nil && now.Before(*r.EffectiveFrom) {
		return false
	}
	if r.EffectiveUntil != nil && !now.Before(*r.EffectiveUntil) {
		return false
	}
	return true
}

// RuleScopeQuery identifies the candidate a rule set is resolved against.
type RuleScopeQuery struct {
	VenueType  VenueType
	VenueID    string
	Department string
	Role       UserRole
}

// RuleViolation is a single reportable policy failure.
type RuleViolation struct {
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name"`
	Check    string `json:"check"`
	Message  string `json:"message"`
}

// Violation check identifiers.
const (
	CheckAdvanceNotice = "advance_notice"
	CheckDuration      = "duration"
	CheckParticipants  = "participants"
	CheckBlackout      = "blackout"
	CheckFrequency     = "frequency"
	CheckConcurrency   = "concurrency"
)

// RuleViolationError aggregates every violation found across all applicable
// effective rules, so callers see the complete rejection reason set.
type RuleViolationError struct {
	Message    string          `json:"message"`
	Violations []RuleViolation `json:"violations"`
}

// Error implements the error interface for policy rejections.
func (e *RuleViolationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}
