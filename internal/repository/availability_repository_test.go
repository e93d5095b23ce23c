package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/venue-booking-api/internal/models"
)

func newAvailabilityRepoMock(t *testing.T) (*AvailabilityRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	return NewAvailabilityRepository(sqlxDB), mock, func() { _ = sqlxDB.Close() }
}

func TestAvailabilityRepositoryFindOccupiedOverlapping(t *testing.T) {
	repo, mock, cleanup := newAvailabilityRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`start_time < $4 AND end_time > $3`)).
		WithArgs("venue-1", "2026-09-10", "09:00", "11:00").
		WillReturnRows(occupiedSlotRow("slot-1", "venue-1", "2026-09-10"))

	slots, err := repo.FindOccupiedOverlapping(context.Background(), "venue-1", "2026-09-10", "09:00", "11:00", "")
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, "slot-1", slots[0].ID)
	assert.Equal(t, models.SlotStatusBooked, slots[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailabilityRepositoryFindOccupiedOverlappingExcludesBooking(t *testing.T) {
	repo, mock, cleanup := newAvailabilityRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`AND (booking_id IS NULL OR booking_id <> $5)`)).
		WithArgs("venue-1", "2026-09-10", "09:00", "11:00", "bk-1").
		WillReturnRows(emptySlotRows())

	slots, err := repo.FindOccupiedOverlapping(context.Background(), "venue-1", "2026-09-10", "09:00", "11:00", "bk-1")
	require.NoError(t, err)
	assert.Empty(t, slots)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailabilityRepositoryListRange(t *testing.T) {
	repo, mock, cleanup := newAvailabilityRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM availability_slots WHERE venue_id = $1 AND slot_date >= $2 AND slot_date <= $3 ORDER BY slot_date ASC, start_time ASC`)).
		WithArgs("venue-1", "2026-09-10", "2026-09-12").
		WillReturnRows(occupiedSlotRow("slot-1", "venue-1", "2026-09-10"))

	slots, err := repo.ListRange(context.Background(), models.AvailabilityFilter{VenueID: "venue-1", FromDate: "2026-09-10", ToDate: "2026-09-12"})
	require.NoError(t, err)
	require.Len(t, slots, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailabilityRepositoryCreateBlock(t *testing.T) {
	repo, mock, cleanup := newAvailabilityRepoMock(t)
	defer cleanup()

	reason := "annual inspection"
	blockType := models.BlockTypeMaintenance
	slot := &models.AvailabilitySlot{
		VenueID:     "venue-1",
		SlotDate:    "2026-09-10",
		StartTime:   "08:00",
		EndTime:     "18:00",
		Status:      models.SlotStatusMaintenance,
		BlockReason: &reason,
		BlockType:   &blockType,
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_xact_lock(hashtext($1))`)).
		WithArgs("venue-1:2026-09-10").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`start_time < $4 AND end_time > $3`)).
		WillReturnRows(emptySlotRows())
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO availability_slots`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.CreateBlock(context.Background(), slot)
	require.NoError(t, err)
	assert.NotEmpty(t, slot.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailabilityRepositoryCreateBlockConflict(t *testing.T) {
	repo, mock, cleanup := newAvailabilityRepoMock(t)
	defer cleanup()

	slot := &models.AvailabilitySlot{
		VenueID:   "venue-1",
		SlotDate:  "2026-09-10",
		StartTime: "08:00",
		EndTime:   "18:00",
		Status:    models.SlotStatusBlocked,
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_xact_lock(hashtext($1))`)).
		WithArgs("venue-1:2026-09-10").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`start_time < $4 AND end_time > $3`)).
		WillReturnRows(occupiedSlotRow("slot-9", "venue-1", "2026-09-10"))
	mock.ExpectRollback()

	err := repo.CreateBlock(context.Background(), slot)
	require.Error(t, err)
	var conflictErr *models.SlotConflictError
	require.True(t, errors.As(err, &conflictErr))
	require.Len(t, conflictErr.Conflicts, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailabilityRepositoryReleaseSlot(t *testing.T) {
	repo, mock, cleanup := newAvailabilityRepoMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`WHERE id = $1 AND booking_id IS NULL`)).
		WithArgs("slot-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.ReleaseSlot(context.Background(), "slot-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailabilityRepositoryReleaseSlotRefusesBookedSlot(t *testing.T) {
	repo, mock, cleanup := newAvailabilityRepoMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`WHERE id = $1 AND booking_id IS NULL`)).
		WithArgs("slot-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.ReleaseSlot(context.Background(), "slot-1")
	assert.Equal(t, sql.ErrNoRows, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
