package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/venue-booking-api/internal/models"
	"github.com/noah-isme/venue-booking-api/pkg/config"
	appErrors "github.com/noah-isme/venue-booking-api/pkg/errors"
)

type bookingRepository interface {
	FindByID(ctx context.Context, id string) (*models.Booking, error)
	List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, int, error)
	CreateWithSlots(ctx context.Context, booking *models.Booking) error
	Approve(ctx context.Context, id, approverID string, at time.Time) (bool, error)
	RejectWithRelease(ctx context.Context, id, reason string, at time.Time) (bool, error)
	CancelWithRelease(ctx context.Context, id string, from models.BookingStatus, at time.Time) (bool, error)
}

type ruleEvaluator interface {
	EvaluateAll(ctx context.Context, q models.RuleScopeQuery, booking *models.Booking) ([]models.BookingRule, []models.RuleViolation, error)
}

type availabilityChecker interface {
	IsRangeAvailable(ctx context.Context, venueID, fromDate, toDate, startTime, endTime, excludeBookingID string) ([]models.SlotConflict, error)
	InvalidateVenue(ctx context.Context, venueID string)
}

type bookingNotifier interface {
	NotifyBookingEvent(booking *models.Booking, event models.NotificationType, detail string, reviewers []models.UserRole)
}

// systemApproverID is stamped on bookings approved without a human reviewer.
const systemApproverID = "system"

// SubmitBookingRequest is the inbound payload for a new reservation.
type SubmitBookingRequest struct {
	VenueID      string               `json:"venue_id" validate:"required,uuid"`
	EventName    string               `json:"event_name" validate:"required,min=3,max=200"`
	Contact      string               `json:"contact" validate:"required"`
	FromDate     string               `json:"from_date" validate:"required,datetime=2006-01-02"`
	ToDate       string               `json:"to_date" validate:"required,datetime=2006-01-02"`
	FromTime     string               `json:"from_time" validate:"required,datetime=15:04"`
	ToTime       string               `json:"to_time" validate:"required,datetime=15:04"`
	Participants int                  `json:"participants" validate:"required,min=1"`
	Extras       models.BookingExtras `json:"extras"`
}

// RejectBookingRequest carries the mandatory reviewer reason.
type RejectBookingRequest struct {
	Reason string `json:"reason" validate:"required,min=3"`
}

// BookingService is the admission gate and lifecycle owner for reservations.
// A request that passes validation, venue checks, availability, and the rule
// engine is persisted atomically together with its ledger occupation.
type BookingService struct {
	bookings     bookingRepository
	venues       venueReader
	rules        ruleEvaluator
	availability availabilityChecker
	notifier     bookingNotifier
	metrics      *MetricsService
	cfg          config.BookingConfig
	validator    *validator.Validate
	logger       *zap.Logger
	contactRe    *regexp.Regexp
	now          func() time.Time
}

// NewBookingService constructs BookingService.
func NewBookingService(
	bookings bookingRepository,
	venues venueReader,
	rules ruleEvaluator,
	availability availabilityChecker,
	notifier bookingNotifier,
	metrics *MetricsService,
	cfg config.BookingConfig,
	validate *validator.Validate,
	logger *zap.Logger,
) *BookingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	digits := cfg.ContactDigits
	if digits <= 0 {
		digits = 10
	}
	return &BookingService{
		bookings:     bookings,
		venues:       venues,
		rules:        rules,
		availability: availability,
		notifier:     notifier,
		metrics:      metrics,
		cfg:          cfg,
		validator:    validate,
		logger:       logger,
		contactRe:    regexp.MustCompile(fmt.Sprintf(`^[0-9]{%d}$`, digits)),
		now:          time.Now,
	}
}

// Submit runs the full admission pipeline and creates the booking in pending
// state (or approved, when every matched rule auto-approves). The ledger
// slots are occupied in the same transaction as the booking row.
func (s *BookingService) Submit(ctx context.Context, actor models.Actor, req SubmitBookingRequest) (*models.Booking, error) {
	if err := s.validateSubmit(req); err != nil {
		return nil, err
	}

	venue, err := s.venues.FindByID(ctx, req.VenueID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "venue not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load venue")
	}
	if !venue.Active {
		return nil, appErrors.Clone(appErrors.ErrVenueUnavailable, "venue is not accepting bookings")
	}
	if venue.UnderMaintenance {
		return nil, appErrors.Clone(appErrors.ErrVenueUnavailable, "venue is under maintenance")
	}
	if venue.Capacity > 0 && req.Participants > venue.Capacity {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("participants exceed venue capacity of %d", venue.Capacity))
	}

	booking := &models.Booking{
		VenueID:      venue.ID,
		VenueType:    venue.Type,
		RequestedBy:  actor.UserID,
		Department:   actor.Department,
		EventName:    req.EventName,
		Contact:      req.Contact,
		FromDate:     req.FromDate,
		ToDate:       req.ToDate,
		FromTime:     req.FromTime,
		ToTime:       req.ToTime,
		Participants: req.Participants,
		Extras:       req.Extras,
		Status:       models.BookingStatusPending,
	}

	// Advisory check before the rule engine so requesters get the cheap
	// answer first; the authoritative check repeats inside the transaction.
	conflicts, err := s.availability.IsRangeAvailable(ctx, venue.ID, req.FromDate, req.ToDate, req.FromTime, req.ToTime, "")
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		s.metrics.RecordBookingSubmission("slot_conflict")
		return nil, slotConflictError(venue.ID, conflicts)
	}

	scope := models.RuleScopeQuery{
		VenueType:  venue.Type,
		VenueID:    venue.ID,
		Department: actor.Department,
		Role:       actor.Role,
	}
	matched, violations, err := s.rules.EvaluateAll(ctx, scope, booking)
	if err != nil {
		return nil, err
	}
	if len(violations) > 0 {
		s.metrics.RecordBookingSubmission("rule_rejected")
		violationErr := &models.RuleViolationError{
			Message:    fmt.Sprintf("booking violates %d rule check(s)", len(violations)),
			Violations: violations,
		}
		wrapped := appErrors.Wrap(violationErr, appErrors.ErrRuleViolation.Code, appErrors.ErrRuleViolation.Status, violationErr.Message)
		wrapped.Details = violations
		return nil, wrapped
	}

	if AutoApprovable(matched) {
		now := s.now().UTC()
		approver := systemApproverID
		booking.Status = models.BookingStatusApproved
		booking.ApprovedAt = &now
		booking.ApprovedBy = &approver
	}

	if err := s.bookings.CreateWithSlots(ctx, booking); err != nil {
		var conflictErr *models.SlotConflictError
		if errors.As(err, &conflictErr) {
			s.metrics.RecordBookingSubmission("slot_conflict")
			return nil, slotConflictError(venue.ID, conflictErr.Conflicts)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create booking")
	}
	s.availability.InvalidateVenue(ctx, venue.ID)

	event := models.NotifBookingCreated
	outcome := "accepted"
	var reviewers []models.UserRole
	if booking.Status == models.BookingStatusApproved {
		event = models.NotifBookingApproved
		outcome = "auto_approved"
	} else {
		reviewers = ApprovalRolesFor(matched)
	}
	s.metrics.RecordBookingSubmission(outcome)
	s.notify(booking, event, "", reviewers)

	s.logger.Info("booking submitted",
		zap.String("booking_id", booking.ID),
		zap.String("venue_id", venue.ID),
		zap.String("requested_by", actor.UserID),
		zap.String("status", string(booking.Status)))
	return booking, nil
}

// Approve moves a pending booking to approved. Only reviewers may approve;
// the transition is refused if the booking already left the pending state.
func (s *BookingService) Approve(ctx context.Context, actor models.Actor, id string) (*models.Booking, error) {
	if !actor.Role.CanReview() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only reviewers may approve bookings")
	}
	booking, err := s.getForTransition(ctx, id)
	if err != nil {
		return nil, err
	}

	ok, err := s.bookings.Approve(ctx, id, actor.UserID, s.now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to approve booking")
	}
	if !ok {
		return nil, transitionRefused(booking.Status, models.BookingStatusApproved)
	}
	s.availability.InvalidateVenue(ctx, booking.VenueID)

	booking, err = s.bookings.FindByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload booking")
	}
	s.notify(booking, models.NotifBookingApproved, "", nil)
	return booking, nil
}

// Reject moves a pending booking to rejected and releases its ledger slots in
// the same transaction. A reason is mandatory.
func (s *BookingService) Reject(ctx context.Context, actor models.Actor, id string, req RejectBookingRequest) (*models.Booking, error) {
	if !actor.Role.CanReview() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only reviewers may reject bookings")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "a rejection reason is required")
	}
	booking, err := s.getForTransition(ctx, id)
	if err != nil {
		return nil, err
	}

	ok, err := s.bookings.RejectWithRelease(ctx, id, req.Reason, s.now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject booking")
	}
	if !ok {
		return nil, transitionRefused(booking.Status, models.BookingStatusRejected)
	}
	s.availability.InvalidateVenue(ctx, booking.VenueID)

	booking, err = s.bookings.FindByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload booking")
	}
	s.notify(booking, models.NotifBookingRejected, req.Reason, nil)
	return booking, nil
}

// Cancel releases an approved booking. The requester may cancel their own
// booking; admins may cancel any. Pending bookings may be withdrawn when the
// deployment allows it.
func (s *BookingService) Cancel(ctx context.Context, actor models.Actor, id string) (*models.Booking, error) {
	booking, err := s.getForTransition(ctx, id)
	if err != nil {
		return nil, err
	}
	if booking.RequestedBy != actor.UserID && actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "booking belongs to another requester")
	}

	from := models.BookingStatusApproved
	switch booking.Status {
	case models.BookingStatusApproved:
	case models.BookingStatusPending:
		if !s.cfg.AllowPendingWithdraw {
			return nil, transitionRefused(booking.Status, models.BookingStatusCancelled)
		}
		from = models.BookingStatusPending
	default:
		return nil, transitionRefused(booking.Status, models.BookingStatusCancelled)
	}

	ok, err := s.bookings.CancelWithRelease(ctx, id, from, s.now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel booking")
	}
	if !ok {
		return nil, transitionRefused(booking.Status, models.BookingStatusCancelled)
	}
	s.availability.InvalidateVenue(ctx, booking.VenueID)

	booking, err = s.bookings.FindByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload booking")
	}
	s.notify(booking, models.NotifBookingCancelled, "", nil)
	return booking, nil
}

// Get fetches one booking. Non-reviewers only see their own.
func (s *BookingService) Get(ctx context.Context, actor models.Actor, id string) (*models.Booking, error) {
	booking, err := s.bookings.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "booking not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load booking")
	}
	if !actor.Role.CanReview() && booking.RequestedBy != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "booking belongs to another requester")
	}
	return booking, nil
}

// List returns bookings matching the filter. Non-reviewers are pinned to
// their own bookings regardless of the requested filter.
func (s *BookingService) List(ctx context.Context, actor models.Actor, filter models.BookingFilter) ([]models.Booking, int, error) {
	if !actor.Role.CanReview() {
		filter.RequestedBy = actor.UserID
	}
	bookings, total, err := s.bookings.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list bookings")
	}
	return bookings, total, nil
}

func (s *BookingService) getForTransition(ctx context.Context, id string) (*models.Booking, error) {
	booking, err := s.bookings.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "booking not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load booking")
	}
	return booking, nil
}

func (s *BookingService) validateSubmit(req SubmitBookingRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid booking payload")
	}
	if !s.contactRe.MatchString(req.Contact) {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("contact must be exactly %d digits", s.cfg.ContactDigits))
	}
	dates, err := models.DateRange(req.FromDate, req.ToDate)
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "to date must not be before from date")
	}
	if s.cfg.MaxRangeDays > 0 && len(dates) > s.cfg.MaxRangeDays {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("booking may span at most %d days", s.cfg.MaxRangeDays))
	}
	fromMin, err := clockMinutes(req.FromTime)
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid from time %q", req.FromTime))
	}
	toMin, err := clockMinutes(req.ToTime)
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid to time %q", req.ToTime))
	}
	if fromMin >= toMin {
		return appErrors.Clone(appErrors.ErrValidation, "to time must be after from time")
	}
	return nil
}

// notify hands the event to the dispatcher without letting delivery problems
// reach the booking flow. reviewers carries the approval roles resolved from
// the matched rules for new submissions; other events pass nil.
func (s *BookingService) notify(booking *models.Booking, event models.NotificationType, detail string, reviewers []models.UserRole) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyBookingEvent(booking, event, detail, reviewers)
}

func slotConflictError(venueID string, conflicts []models.SlotConflict) error {
	domainErr := &models.SlotConflictError{
		VenueID:   venueID,
		Conflicts: conflicts,
		Message:   fmt.Sprintf("requested window conflicts with %d existing slot(s)", len(conflicts)),
	}
	wrapped := appErrors.Wrap(domainErr, appErrors.ErrSlotConflict.Code, appErrors.ErrSlotConflict.Status, domainErr.Message)
	wrapped.Details = conflicts
	return wrapped
}

func transitionRefused(from, to models.BookingStatus) error {
	return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot transition booking from %s to %s", from, to))
}
