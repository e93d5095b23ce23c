package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/venue-booking-api/internal/models"
	appErrors "github.com/noah-isme/venue-booking-api/pkg/errors"
)

type availabilityLedger interface {
	ListRange(ctx context.Context, filter models.AvailabilityFilter) ([]models.AvailabilitySlot, error)
	FindByID(ctx context.Context, id string) (*models.AvailabilitySlot, error)
	FindOccupiedOverlapping(ctx context.Context, venueID, date, startTime, endTime, excludeBookingID string) ([]models.AvailabilitySlot, error)
	CreateBlock(ctx context.Context, slot *models.AvailabilitySlot) error
	ReleaseSlot(ctx context.Context, id string) error
}

type venueReader interface {
	FindByID(ctx context.Context, id string) (*models.Venue, error)
}

// BlockVenueRequest marks a venue window blocked, under maintenance, or held
// tentatively. Holds occupy the window until they expire or a booking lands;
// held_for defaults to the acting user and hold_minutes to thirty.
type BlockVenueRequest struct {
	Date        string           `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime   string           `json:"start_time" validate:"required"`
	EndTime     string           `json:"end_time" validate:"required"`
	Reason      string           `json:"reason" validate:"required"`
	BlockType   models.BlockType `json:"block_type" validate:"required,oneof=manual maintenance hold"`
	HeldFor     string           `json:"held_for,omitempty"`
	HoldMinutes int              `json:"hold_minutes,omitempty" validate:"omitempty,min=1,max=1440"`
}

const defaultHoldMinutes = 30

// AvailabilityService is the occupancy ledger: the source of truth for
// whether a venue window is free.
type AvailabilityService struct {
	ledger    availabilityLedger
	venues    venueReader
	cache     *CacheService
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewAvailabilityService constructs AvailabilityService.
func NewAvailabilityService(ledger availabilityLedger, venues venueReader, cache *CacheService, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *AvailabilityService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 2 * time.Minute
	}
	return &AvailabilityService{ledger: ledger, venues: venues, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger, now: time.Now}
}

// GetAvailability returns a venue's slots over an inclusive date range.
func (s *AvailabilityService) GetAvailability(ctx context.Context, venueID, fromDate, toDate string) ([]models.AvailabilitySlot, error) {
	if _, err := models.DateRange(fromDate, toDate); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid date range")
	}
	if _, err := s.venues.FindByID(ctx, venueID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "venue not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load venue")
	}

	cacheKey := availabilityCacheKey(venueID, fromDate, toDate)
	var cached []models.AvailabilitySlot
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return cached, nil
	}

	slots, err := s.ledger.ListRange(ctx, models.AvailabilityFilter{VenueID: venueID, FromDate: fromDate, ToDate: toDate})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list availability")
	}

	if err := s.cache.Set(ctx, cacheKey, slots, s.cacheTTL); err != nil {
		s.logger.Warn("availability cache write failed", zap.String("venue_id", venueID), zap.Error(err))
	}
	return slots, nil
}

// IsAvailable reports whether the [startTime, endTime) window is free for one
// venue and date. Touching endpoints do not conflict. excludeBookingID skips
// slots held by a booking under re-evaluation.
func (s *AvailabilityService) IsAvailable(ctx context.Context, venueID, date, startTime, endTime, excludeBookingID string) (bool, error) {
	if err := validateWindow(date, startTime, endTime); err != nil {
		return false, err
	}
	occupied, err := s.ledger.FindOccupiedOverlapping(ctx, venueID, date, startTime, endTime, excludeBookingID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check availability")
	}
	return len(occupied) == 0, nil
}

// IsRangeAvailable checks every date in the inclusive [fromDate, toDate] range.
// It returns the occupying conflicts when any date is taken.
func (s *AvailabilityService) IsRangeAvailable(ctx context.Context, venueID, fromDate, toDate, startTime, endTime, excludeBookingID string) ([]models.SlotConflict, error) {
	dates, err := models.DateRange(fromDate, toDate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid date range")
	}

	var conflicts []models.SlotConflict
	for _, date := range dates {
		if err := validateWindow(date, startTime, endTime); err != nil {
			return nil, err
		}
		occupied, err := s.ledger.FindOccupiedOverlapping(ctx, venueID, date, startTime, endTime, excludeBookingID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check availability")
		}
		for _, slot := range occupied {
			conflicts = append(conflicts, models.SlotConflict{
				SlotID:    slot.ID,
				VenueID:   slot.VenueID,
				SlotDate:  slot.SlotDate,
				StartTime: slot.StartTime,
				EndTime:   slot.EndTime,
				Status:    slot.Status,
				BookingID: slot.BookingID,
			})
		}
	}
	return conflicts, nil
}

// Block records a manual block, maintenance window, or tentative hold on a
// venue.
func (s *AvailabilityService) Block(ctx context.Context, actor models.Actor, venueID string, req BlockVenueRequest) (*models.AvailabilitySlot, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid block payload")
	}
	if err := validateWindow(req.Date, req.StartTime, req.EndTime); err != nil {
		return nil, err
	}
	if _, err := s.venues.FindByID(ctx, venueID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "venue not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load venue")
	}

	status := models.SlotStatusBlocked
	switch req.BlockType {
	case models.BlockTypeMaintenance:
		status = models.SlotStatusMaintenance
	case models.BlockTypeHold:
		status = models.SlotStatusTentative
	}
	blockType := req.BlockType
	slot := &models.AvailabilitySlot{
		VenueID:     venueID,
		SlotDate:    req.Date,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Status:      status,
		BlockReason: &req.Reason,
		BlockedBy:   &actor.UserID,
		BlockType:   &blockType,
	}
	if req.BlockType == models.BlockTypeHold {
		minutes := req.HoldMinutes
		if minutes <= 0 {
			minutes = defaultHoldMinutes
		}
		expires := s.now().UTC().Add(time.Duration(minutes) * time.Minute)
		heldFor := req.HeldFor
		if heldFor == "" {
			heldFor = actor.UserID
		}
		slot.HoldExpires = &expires
		slot.HeldFor = &heldFor
	}
	if err := s.ledger.CreateBlock(ctx, slot); err != nil {
		var conflictErr *models.SlotConflictError
		if errors.As(err, &conflictErr) {
			wrapped := appErrors.Wrap(conflictErr, appErrors.ErrSlotConflict.Code, appErrors.ErrSlotConflict.Status, conflictErr.Message)
			wrapped.Details = conflictErr.Conflicts
			return nil, wrapped
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create block")
	}

	s.invalidateVenue(ctx, venueID)
	return slot, nil
}

// Unblock lifts a manual block, maintenance window, or tentative hold.
func (s *AvailabilityService) Unblock(ctx context.Context, venueID, slotID string) error {
	slot, err := s.ledger.FindByID(ctx, slotID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "slot not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slot")
	}
	if slot.VenueID != venueID {
		return appErrors.Clone(appErrors.ErrNotFound, "slot not found for venue")
	}
	if slot.Status != models.SlotStatusBlocked && slot.Status != models.SlotStatusMaintenance && slot.Status != models.SlotStatusTentative {
		return appErrors.Clone(appErrors.ErrValidation, "slot is not blocked")
	}
	if err := s.ledger.ReleaseSlot(ctx, slotID); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrConflict, "slot holds a booking reference")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to release slot")
	}
	s.invalidateVenue(ctx, venueID)
	return nil
}

// InvalidateVenue drops cached availability for a venue. Called after any
// ledger mutation, including booking transitions.
func (s *AvailabilityService) InvalidateVenue(ctx context.Context, venueID string) {
	s.invalidateVenue(ctx, venueID)
}

func (s *AvailabilityService) invalidateVenue(ctx context.Context, venueID string) {
	if err := s.cache.Invalidate(ctx, "availability:"+venueID+":*"); err != nil {
		s.logger.Warn("availability cache invalidate failed", zap.String("venue_id", venueID), zap.Error(err))
	}
}

func availabilityCacheKey(venueID, fromDate, toDate string) string {
	return fmt.Sprintf("availability:%s:%s:%s", venueID, fromDate, toDate)
}

// validateWindow checks date/time formats and that the window is non-empty.
func validateWindow(date, startTime, endTime string) error {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid date %q", date))
	}
	start, err := clockMinutes(startTime)
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid start time %q", startTime))
	}
	end, err := clockMinutes(endTime)
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid end time %q", endTime))
	}
	if start >= end {
		return appErrors.Clone(appErrors.ErrValidation, "start time must be before end time")
	}
	return nil
}

// clockMinutes converts an "HH:MM" wall-clock string to minutes past midnight.
func clockMinutes(value string) (int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
