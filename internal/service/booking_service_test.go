package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/venue-booking-api/internal/models"
	"github.com/noah-isme/venue-booking-api/pkg/config"
	appErrors "github.com/noah-isme/venue-booking-api/pkg/errors"
)

type mockBookingRepo struct {
	bookings     map[string]*models.Booking
	createErr    error
	transitionOK bool
	rejectReason string
}

func (m *mockBookingRepo) FindByID(ctx context.Context, id string) (*models.Booking, error) {
	booking, ok := m.bookings[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *booking
	return &copied, nil
}

func (m *mockBookingRepo) List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, int, error) {
	var out []models.Booking
	for _, booking := range m.bookings {
		if filter.RequestedBy != "" && booking.RequestedBy != filter.RequestedBy {
			continue
		}
		out = append(out, *booking)
	}
	return out, len(out), nil
}

func (m *mockBookingRepo) CreateWithSlots(ctx context.Context, booking *models.Booking) error {
	if m.createErr != nil {
		return m.createErr
	}
	booking.ID = "bk-created"
	if m.bookings == nil {
		m.bookings = map[string]*models.Booking{}
	}
	stored := *booking
	m.bookings[booking.ID] = &stored
	return nil
}

func (m *mockBookingRepo) Approve(ctx context.Context, id, approverID string, at time.Time) (bool, error) {
	if m.transitionOK {
		m.bookings[id].Status = models.BookingStatusApproved
		m.bookings[id].ApprovedBy = &approverID
		m.bookings[id].ApprovedAt = &at
	}
	return m.transitionOK, nil
}

func (m *mockBookingRepo) RejectWithRelease(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	if m.transitionOK {
		m.bookings[id].Status = models.BookingStatusRejected
		m.bookings[id].RejectionReason = &reason
		m.rejectReason = reason
	}
	return m.transitionOK, nil
}

func (m *mockBookingRepo) CancelWithRelease(ctx context.Context, id string, from models.BookingStatus, at time.Time) (bool, error) {
	if m.transitionOK && m.bookings[id].Status == from {
		m.bookings[id].Status = models.BookingStatusCancelled
		m.bookings[id].CancelledAt = &at
		return true, nil
	}
	return false, nil
}

type mockVenueReader struct {
	venues map[string]*models.Venue
}

func (m *mockVenueReader) FindByID(ctx context.Context, id string) (*models.Venue, error) {
	venue, ok := m.venues[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return venue, nil
}

type mockEvaluator struct {
	rules      []models.BookingRule
	violations []models.RuleViolation
}

func (m *mockEvaluator) EvaluateAll(ctx context.Context, q models.RuleScopeQuery, booking *models.Booking) ([]models.BookingRule, []models.RuleViolation, error) {
	return m.rules, m.violations, nil
}

type mockAvailability struct {
	conflicts   []models.SlotConflict
	invalidated []string
}

func (m *mockAvailability) IsRangeAvailable(ctx context.Context, venueID, fromDate, toDate, startTime, endTime, excludeBookingID string) ([]models.SlotConflict, error) {
	return m.conflicts, nil
}

func (m *mockAvailability) InvalidateVenue(ctx context.Context, venueID string) {
	m.invalidated = append(m.invalidated, venueID)
}

type mockNotifier struct {
	events    []models.NotificationType
	reviewers [][]models.UserRole
}

func (m *mockNotifier) NotifyBookingEvent(booking *models.Booking, event models.NotificationType, detail string, reviewers []models.UserRole) {
	m.events = append(m.events, event)
	m.reviewers = append(m.reviewers, reviewers)
}

type bookingFixture struct {
	repo         *mockBookingRepo
	venues       *mockVenueReader
	rules        *mockEvaluator
	availability *mockAvailability
	notifier     *mockNotifier
	svc          *BookingService
}

func newBookingFixture(cfg config.BookingConfig) *bookingFixture {
	if cfg.ContactDigits == 0 {
		cfg.ContactDigits = 10
	}
	f := &bookingFixture{
		repo: &mockBookingRepo{bookings: map[string]*models.Booking{}, transitionOK: true},
		venues: &mockVenueReader{venues: map[string]*models.Venue{
			"9f2c1a34-0000-4000-8000-000000000001": {
				ID:       "9f2c1a34-0000-4000-8000-000000000001",
				Name:     "Main Auditorium",
				Type:     models.VenueTypeAuditorium,
				Capacity: 300,
				Active:   true,
			},
		}},
		rules:        &mockEvaluator{},
		availability: &mockAvailability{},
		notifier:     &mockNotifier{},
	}
	f.svc = NewBookingService(f.repo, f.venues, f.rules, f.availability, f.notifier, nil, cfg, nil, nil)
	f.svc.now = func() time.Time { return testNow }
	return f
}

func submitRequest() SubmitBookingRequest {
	return SubmitBookingRequest{
		VenueID:      "9f2c1a34-0000-4000-8000-000000000001",
		EventName:    "Orientation Day",
		Contact:      "9876543210",
		FromDate:     "2026-09-10",
		ToDate:       "2026-09-10",
		FromTime:     "09:00",
		ToTime:       "12:00",
		Participants: 120,
	}
}

var requester = models.Actor{UserID: "user-1", Role: models.RoleStudent, Department: "CSE"}

func TestSubmitCreatesPendingBooking(t *testing.T) {
	f := newBookingFixture(config.BookingConfig{})

	booking, err := f.svc.Submit(context.Background(), requester, submitRequest())
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusPending, booking.Status)
	assert.Equal(t, "user-1", booking.RequestedBy)
	assert.Equal(t, "CSE", booking.Department)
	assert.Equal(t, []string{"9f2c1a34-0000-4000-8000-000000000001"}, f.availability.invalidated)
	assert.Equal(t, []models.NotificationType{models.NotifBookingCreated}, f.notifier.events)
}

func TestSubmitAutoApproves(t *testing.T) {
	f := newBookingFixture(config.BookingConfig{})
	f.rules.rules = []models.BookingRule{{ID: "r1", AutoApprove: true, Active: true}}

	booking, err := f.svc.Submit(context.Background(), requester, submitRequest())
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusApproved, booking.Status)
	require.NotNil(t, booking.ApprovedAt)
	require.NotNil(t, booking.ApprovedBy)
	assert.Equal(t, systemApproverID, *booking.ApprovedBy)
	assert.Equal(t, []models.NotificationType{models.NotifBookingApproved}, f.notifier.events)
}

func TestSubmitRoutesReviewersFromMatchedRules(t *testing.T) {
	f := newBookingFixture(config.BookingConfig{})
	f.rules.rules = []models.BookingRule{
		{ID: "r1", Active: true, RequiresFacultyApproval: true},
		{ID: "r2", Active: true, RequiresHODApproval: true},
	}

	booking, err := f.svc.Submit(context.Background(), requester, submitRequest())
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusPending, booking.Status)
	require.Len(t, f.notifier.reviewers, 1)
	assert.Equal(t, []models.UserRole{models.RoleFaculty, models.RoleHOD}, f.notifier.reviewers[0])
}

func TestSubmitRejectsUnknownVenue(t *testing.T) {
	f := newBookingFixture(config.BookingConfig{})
	req := submitRequest()
	req.VenueID = "9f2c1a34-0000-4000-8000-00000000dead"

	_, err := f.svc.Submit(context.Background(), requester, req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestSubmitRejectsUnavailableVenue(t *testing.T) {
	f := newBookingFixture(config.BookingConfig{})
	venue := f.venues.venues["9f2c1a34-0000-4000-8000-000000000001"]

	venue.Active = false
	_, err := f.svc.Submit(context.Background(), requester, submitRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrVenueUnavailable.Code, appErrors.FromError(err).Code)

	venue.Active = true
	venue.UnderMaintenance = true
	_, err = f.svc.Submit(context.Background(), requester, submitRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrVenueUnavailable.Code, appErrors.FromError(err).Code)
}

func TestSubmitRejectsOverCapacity(t *testing.T) {
	f := newBookingFixture(config.BookingConfig{})
	req := submitRequest()
	req.Participants = 500

	_, err := f.svc.Submit(context.Background(), requester, req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestSubmitValidation(t *testing.T) {
	f := newBookingFixture(config.BookingConfig{MaxRangeDays: 3})

	req := submitRequest()
	req.Contact = "12345"
	_, err := f.svc.Submit(context.Background(), requester, req)
	require.Error(t, err)

	req = submitRequest()
	req.ToDate = "2026-09-09"
	_, err = f.svc.Submit(context.Background(), requester, req)
	require.Error(t, err)

	req = submitRequest()
	req.ToDate = "2026-09-20"
	_, err = f.svc.Submit(context.Background(), requester, req)
	require.Error(t, err)

	req = submitRequest()
	req.FromTime = "12:00"
	req.ToTime = "12:00"
	_, err = f.svc.Submit(context.Background(), requester, req)
	require.Error(t, err)
}

func TestSubmitReportsSlotConflicts(t *testing.T) {
	f := newBookingFixture(config.BookingConfig{})
	f.availability.conflicts = []models.SlotConflict{
		{SlotID: "slot-1", SlotDate: "2026-09-10", StartTime: "08:00", EndTime: "10:00", Status: models.SlotStatusBooked},
	}

	_, err := f.svc.Submit(context.Background(), requester, submitRequest())
	require.Error(t, err)
	typed := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrSlotConflict.Code, typed.Code)
	conflicts, ok := typed.Details.([]models.SlotConflict)
	require.True(t, ok)
	assert.Len(t, conflicts, 1)
}

func TestSubmitSurfacesConflictFromTransaction(t *testing.T) {
	f := newBookingFixture(config.BookingConfig{})
	f.repo.createErr = &models.SlotConflictError{
		Message:   "window occupied",
		Conflicts: []models.SlotConflict{{SlotID: "slot-2", SlotDate: "2026-09-10"}},
	}

	_, err := f.svc.Submit(context.Background(), requester, submitRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSlotConflict.Code, appErrors.FromError(err).Code)
}

func TestSubmitAggregatesRuleViolations(t *testing.T) {
	f := newBookingFixture(config.BookingConfig{})
	f.rules.violations = []models.RuleViolation{
		{RuleID: "r1", Check: models.CheckAdvanceNotice, Message: "too late"},
		{RuleID: "r2", Check: models.CheckParticipants, Message: "too many"},
	}

	_, err := f.svc.Submit(context.Background(), requester, submitRequest())
	require.Error(t, err)
	typed := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrRuleViolation.Code, typed.Code)

	var violationErr *models.RuleViolationError
	require.True(t, errors.As(err, &violationErr))
	assert.Len(t, violationErr.Violations, 2)

	violations, ok := typed.Details.([]models.RuleViolation)
	require.True(t, ok)
	assert.Len(t, violations, 2)
}

func pendingBooking() *models.Booking {
	return &models.Booking{
		ID:          "bk-1",
		VenueID:     "9f2c1a34-0000-4000-8000-000000000001",
		RequestedBy: "user-1",
		Status:      models.BookingStatusPending,
	}
}

var reviewer = models.Actor{UserID: "hod-1", Role: models.RoleHOD, Department: "CSE"}

func TestApprove(t *testing.T) {
	f := newBookingFixture(config.BookingConfig{})
	f.repo.bookings["bk-1"] = pendingBooking()

	booking, err := f.svc.Approve(context.Background(), reviewer, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusApproved, booking.Status)
	require.NotNil(t, booking.ApprovedBy)
	assert.Equal(t, "hod-1", *booking.ApprovedBy)
	assert.Equal(t, []models.NotificationType{models.NotifBookingApproved}, f.notifier.events)
}

func TestApproveRequiresReviewerRole(t *testing.T) {
	f := newBookingFixture(config.BookingConfig{})
	f.repo.bookings["bk-1"] = pendingBooking()

	_, err := f.svc.Approve(context.Background(), requester, "bk-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestApproveRefusedWhenNotPending(t *testing.T) {
	f := newBookingFixture(config.BookingConfig{})
	booking := pendingBooking()
	booking.Status = models.BookingStatusRejected
	f.repo.bookings["bk-1"] = booking
	f.repo.transitionOK = false

	_, err := f.svc.Approve(context.Background(), reviewer, "bk-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestRejectRequiresReason(t *testing.T) {
	f := newBookingFixture(config.BookingConfig{})
	f.repo.bookings["bk-1"] = pendingBooking()

	_, err := f.svc.Reject(context.Background(), reviewer, "bk-1", RejectBookingRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestRejectReleasesAndNotifies(t *testing.T) {
	f := newBookingFixture(config.BookingConfig{})
	f.repo.bookings["bk-1"] = pendingBooking()

	booking, err := f.svc.Reject(context.Background(), reviewer, "bk-1", RejectBookingRequest{Reason: "double booked"})
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusRejected, booking.Status)
	assert.Equal(t, "double booked", f.repo.rejectReason)
	assert.Equal(t, []models.NotificationType{models.NotifBookingRejected}, f.notifier.events)
}

func TestCancelOwnApprovedBooking(t *testing.T) {
	f := newBookingFixture(config.BookingConfig{})
	booking := pendingBooking()
	booking.Status = models.BookingStatusApproved
	f.repo.bookings["bk-1"] = booking

	cancelled, err := f.svc.Cancel(context.Background(), requester, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCancelled, cancelled.Status)
	assert.Equal(t, []models.NotificationType{models.NotifBookingCancelled}, f.notifier.events)
}

func TestCancelForeignBookingForbidden(t *testing.T) {
	f := newBookingFixture(config.BookingConfig{})
	booking := pendingBooking()
	booking.Status = models.BookingStatusApproved
	f.repo.bookings["bk-1"] = booking
	other := models.Actor{UserID: "user-2", Role: models.RoleStudent}

	_, err := f.svc.Cancel(context.Background(), other, "bk-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestCancelPendingFollowsConfig(t *testing.T) {
	f := newBookingFixture(config.BookingConfig{})
	f.repo.bookings["bk-1"] = pendingBooking()

	_, err := f.svc.Cancel(context.Background(), requester, "bk-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)

	f = newBookingFixture(config.BookingConfig{AllowPendingWithdraw: true})
	f.repo.bookings["bk-1"] = pendingBooking()

	cancelled, err := f.svc.Cancel(context.Background(), requester, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCancelled, cancelled.Status)
}

func TestCancelTerminalBookingRefused(t *testing.T) {
	f := newBookingFixture(config.BookingConfig{})
	booking := pendingBooking()
	booking.Status = models.BookingStatusCancelled
	f.repo.bookings["bk-1"] = booking

	_, err := f.svc.Cancel(context.Background(), requester, "bk-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestGetPinsNonReviewersToOwnBookings(t *testing.T) {
	f := newBookingFixture(config.BookingConfig{})
	f.repo.bookings["bk-1"] = pendingBooking()

	_, err := f.svc.Get(context.Background(), requester, "bk-1")
	require.NoError(t, err)

	other := models.Actor{UserID: "user-2", Role: models.RoleStudent}
	_, err = f.svc.Get(context.Background(), other, "bk-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = f.svc.Get(context.Background(), reviewer, "bk-1")
	require.NoError(t, err)
}

func TestListPinsNonReviewersToOwnBookings(t *testing.T) {
	f := newBookingFixture(config.BookingConfig{})
	f.repo.bookings["bk-1"] = pendingBooking()
	foreign := pendingBooking()
	foreign.ID = "bk-2"
	foreign.RequestedBy = "user-2"
	f.repo.bookings["bk-2"] = foreign

	bookings, total, err := f.svc.List(context.Background(), requester, models.BookingFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "bk-1", bookings[0].ID)

	_, total, err = f.svc.List(context.Background(), reviewer, models.BookingFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}
