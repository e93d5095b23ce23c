package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/venue-booking-api/internal/models"
	appErrors "github.com/noah-isme/venue-booking-api/pkg/errors"
)

type mockLedger struct {
	slots        map[string]*models.AvailabilitySlot
	occupied     map[string][]models.AvailabilitySlot
	queriedDates []string
	blockErr     error
	released     []string
}

func (m *mockLedger) ListRange(ctx context.Context, filter models.AvailabilityFilter) ([]models.AvailabilitySlot, error) {
	var out []models.AvailabilitySlot
	for _, slot := range m.slots {
		if slot.VenueID == filter.VenueID {
			out = append(out, *slot)
		}
	}
	return out, nil
}

func (m *mockLedger) FindByID(ctx context.Context, id string) (*models.AvailabilitySlot, error) {
	slot, ok := m.slots[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return slot, nil
}

func (m *mockLedger) FindOccupiedOverlapping(ctx context.Context, venueID, date, startTime, endTime, excludeBookingID string) ([]models.AvailabilitySlot, error) {
	m.queriedDates = append(m.queriedDates, date)
	return m.occupied[date], nil
}

func (m *mockLedger) CreateBlock(ctx context.Context, slot *models.AvailabilitySlot) error {
	if m.blockErr != nil {
		return m.blockErr
	}
	slot.ID = "slot-created"
	return nil
}

func (m *mockLedger) ReleaseSlot(ctx context.Context, id string) error {
	m.released = append(m.released, id)
	return nil
}

func newAvailabilityFixture() (*AvailabilityService, *mockLedger) {
	ledger := &mockLedger{
		slots:    map[string]*models.AvailabilitySlot{},
		occupied: map[string][]models.AvailabilitySlot{},
	}
	venues := &mockVenueReader{venues: map[string]*models.Venue{
		"venue-1": {ID: "venue-1", Name: "Lab A", Type: models.VenueTypeLab, Active: true},
	}}
	svc := NewAvailabilityService(ledger, venues, nil, 0, nil, nil)
	svc.now = func() time.Time { return testNow }
	return svc, ledger
}

func TestIsAvailable(t *testing.T) {
	svc, ledger := newAvailabilityFixture()

	free, err := svc.IsAvailable(context.Background(), "venue-1", "2026-09-10", "09:00", "11:00", "")
	require.NoError(t, err)
	assert.True(t, free)

	ledger.occupied["2026-09-10"] = []models.AvailabilitySlot{
		{ID: "slot-1", VenueID: "venue-1", SlotDate: "2026-09-10", StartTime: "10:00", EndTime: "12:00", Status: models.SlotStatusBooked},
	}
	free, err = svc.IsAvailable(context.Background(), "venue-1", "2026-09-10", "09:00", "11:00", "")
	require.NoError(t, err)
	assert.False(t, free)
}

func TestIsAvailableRejectsEmptyWindow(t *testing.T) {
	svc, _ := newAvailabilityFixture()

	_, err := svc.IsAvailable(context.Background(), "venue-1", "2026-09-10", "11:00", "11:00", "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.IsAvailable(context.Background(), "venue-1", "2026-09-10", "25:00", "26:00", "")
	require.Error(t, err)
}

func TestIsRangeAvailableChecksEveryDate(t *testing.T) {
	svc, ledger := newAvailabilityFixture()
	ledger.occupied["2026-09-11"] = []models.AvailabilitySlot{
		{ID: "slot-1", VenueID: "venue-1", SlotDate: "2026-09-11", StartTime: "08:00", EndTime: "10:00", Status: models.SlotStatusBlocked},
	}

	conflicts, err := svc.IsRangeAvailable(context.Background(), "venue-1", "2026-09-10", "2026-09-12", "09:00", "11:00", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-09-10", "2026-09-11", "2026-09-12"}, ledger.queriedDates)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "2026-09-11", conflicts[0].SlotDate)
	assert.Equal(t, models.SlotStatusBlocked, conflicts[0].Status)
}

func TestIsRangeAvailableRejectsInvertedRange(t *testing.T) {
	svc, _ := newAvailabilityFixture()

	_, err := svc.IsRangeAvailable(context.Background(), "venue-1", "2026-09-12", "2026-09-10", "09:00", "11:00", "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestBlockCreatesMaintenanceSlot(t *testing.T) {
	svc, _ := newAvailabilityFixture()
	admin := models.Actor{UserID: "admin-1", Role: models.RoleAdmin}

	slot, err := svc.Block(context.Background(), admin, "venue-1", BlockVenueRequest{
		Date:      "2026-09-10",
		StartTime: "08:00",
		EndTime:   "18:00",
		Reason:    "annual electrical inspection",
		BlockType: models.BlockTypeMaintenance,
	})
	require.NoError(t, err)
	assert.Equal(t, models.SlotStatusMaintenance, slot.Status)
	require.NotNil(t, slot.BlockedBy)
	assert.Equal(t, "admin-1", *slot.BlockedBy)
}

func TestBlockHoldCreatesTentativeSlot(t *testing.T) {
	svc, _ := newAvailabilityFixture()
	admin := models.Actor{UserID: "admin-1", Role: models.RoleAdmin}

	slot, err := svc.Block(context.Background(), admin, "venue-1", BlockVenueRequest{
		Date:        "2026-09-10",
		StartTime:   "10:00",
		EndTime:     "12:00",
		Reason:      "reserved ahead of submission",
		BlockType:   models.BlockTypeHold,
		HeldFor:     "user-1",
		HoldMinutes: 45,
	})
	require.NoError(t, err)
	assert.Equal(t, models.SlotStatusTentative, slot.Status)
	require.NotNil(t, slot.HeldFor)
	assert.Equal(t, "user-1", *slot.HeldFor)
	require.NotNil(t, slot.HoldExpires)
	assert.Equal(t, testNow.UTC().Add(45*time.Minute), *slot.HoldExpires)
	assert.False(t, slot.HoldExpired(testNow))
	assert.True(t, slot.HoldExpired(testNow.Add(46*time.Minute)))
}

func TestBlockHoldDefaults(t *testing.T) {
	svc, _ := newAvailabilityFixture()
	admin := models.Actor{UserID: "admin-1", Role: models.RoleAdmin}

	slot, err := svc.Block(context.Background(), admin, "venue-1", BlockVenueRequest{
		Date:      "2026-09-10",
		StartTime: "10:00",
		EndTime:   "12:00",
		Reason:    "walk-in hold",
		BlockType: models.BlockTypeHold,
	})
	require.NoError(t, err)
	require.NotNil(t, slot.HeldFor)
	assert.Equal(t, "admin-1", *slot.HeldFor)
	require.NotNil(t, slot.HoldExpires)
	assert.Equal(t, testNow.UTC().Add(30*time.Minute), *slot.HoldExpires)
}

func TestUnblockReleasesHold(t *testing.T) {
	svc, ledger := newAvailabilityFixture()
	ledger.slots["slot-1"] = &models.AvailabilitySlot{ID: "slot-1", VenueID: "venue-1", Status: models.SlotStatusTentative}

	require.NoError(t, svc.Unblock(context.Background(), "venue-1", "slot-1"))
	assert.Equal(t, []string{"slot-1"}, ledger.released)
}

func TestBlockSurfacesConflicts(t *testing.T) {
	svc, ledger := newAvailabilityFixture()
	ledger.blockErr = &models.SlotConflictError{
		Message:   "window occupied",
		Conflicts: []models.SlotConflict{{SlotID: "slot-9", SlotDate: "2026-09-10"}},
	}
	admin := models.Actor{UserID: "admin-1", Role: models.RoleAdmin}

	_, err := svc.Block(context.Background(), admin, "venue-1", BlockVenueRequest{
		Date:      "2026-09-10",
		StartTime: "08:00",
		EndTime:   "18:00",
		Reason:    "closed for event",
		BlockType: models.BlockTypeManual,
	})
	require.Error(t, err)
	typed := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrSlotConflict.Code, typed.Code)
	conflicts, ok := typed.Details.([]models.SlotConflict)
	require.True(t, ok)
	assert.Len(t, conflicts, 1)
}

func TestUnblock(t *testing.T) {
	svc, ledger := newAvailabilityFixture()
	ledger.slots["slot-1"] = &models.AvailabilitySlot{ID: "slot-1", VenueID: "venue-1", Status: models.SlotStatusBlocked}

	require.NoError(t, svc.Unblock(context.Background(), "venue-1", "slot-1"))
	assert.Equal(t, []string{"slot-1"}, ledger.released)
}

func TestUnblockRefusesBookedSlot(t *testing.T) {
	svc, ledger := newAvailabilityFixture()
	bookingID := "bk-1"
	ledger.slots["slot-1"] = &models.AvailabilitySlot{ID: "slot-1", VenueID: "venue-1", Status: models.SlotStatusBooked, BookingID: &bookingID}

	err := svc.Unblock(context.Background(), "venue-1", "slot-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, ledger.released)
}

func TestUnblockScopedToVenue(t *testing.T) {
	svc, ledger := newAvailabilityFixture()
	ledger.slots["slot-1"] = &models.AvailabilitySlot{ID: "slot-1", VenueID: "venue-2", Status: models.SlotStatusBlocked}

	err := svc.Unblock(context.Background(), "venue-1", "slot-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
