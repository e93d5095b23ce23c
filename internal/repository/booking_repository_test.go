package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/venue-booking-api/internal/models"
)

func newBookingRepoMock(t *testing.T) (*BookingRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	repo := NewBookingRepository(sqlxDB, NewAvailabilityRepository(sqlxDB))
	return repo, mock, func() { _ = sqlxDB.Close() }
}

func emptySlotRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "venue_id", "slot_date", "start_time", "end_time", "status", "booking_id", "block_reason", "blocked_by", "block_type", "held_for", "hold_expires", "created_at", "updated_at"})
}

func occupiedSlotRow(id, venueID, date string) *sqlmock.Rows {
	return emptySlotRows().AddRow(id, venueID, date, "09:00", "11:00", "booked", "bk-other", nil, nil, nil, nil, nil, time.Now(), time.Now())
}

func TestBookingRepositoryCreateWithSlots(t *testing.T) {
	repo, mock, cleanup := newBookingRepoMock(t)
	defer cleanup()

	booking := &models.Booking{
		VenueID:      "venue-1",
		VenueType:    models.VenueTypeLab,
		RequestedBy:  "user-1",
		EventName:    "ML Workshop",
		Contact:      "9876543210",
		FromDate:     "2026-09-10",
		ToDate:       "2026-09-11",
		FromTime:     "09:00",
		ToTime:       "12:00",
		Participants: 30,
		Status:       models.BookingStatusPending,
	}

	mock.ExpectBegin()
	for _, date := range []string{"2026-09-10", "2026-09-11"} {
		mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_xact_lock(hashtext($1))`)).
			WithArgs("venue-1:" + date).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta(`start_time < $4 AND end_time > $3`)).
			WillReturnRows(emptySlotRows())
	}
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO bookings`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO availability_slots`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO availability_slots`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.CreateWithSlots(context.Background(), booking)
	require.NoError(t, err)
	assert.NotEmpty(t, booking.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositoryCreateWithSlotsConflict(t *testing.T) {
	repo, mock, cleanup := newBookingRepoMock(t)
	defer cleanup()

	booking := &models.Booking{
		VenueID:  "venue-1",
		FromDate: "2026-09-10",
		ToDate:   "2026-09-10",
		FromTime: "09:00",
		ToTime:   "12:00",
		Status:   models.BookingStatusPending,
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_xact_lock(hashtext($1))`)).
		WithArgs("venue-1:2026-09-10").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`start_time < $4 AND end_time > $3`)).
		WillReturnRows(occupiedSlotRow("slot-1", "venue-1", "2026-09-10"))
	mock.ExpectRollback()

	err := repo.CreateWithSlots(context.Background(), booking)
	require.Error(t, err)
	var conflictErr *models.SlotConflictError
	require.True(t, errors.As(err, &conflictErr))
	require.Len(t, conflictErr.Conflicts, 1)
	assert.Equal(t, "slot-1", conflictErr.Conflicts[0].SlotID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositoryApprove(t *testing.T) {
	repo, mock, cleanup := newBookingRepoMock(t)
	defer cleanup()

	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE bookings SET status = $3, approved_by = $4, approved_at = $5, updated_at = $5 WHERE id = $1 AND status = $2`)).
		WithArgs("bk-1", models.BookingStatusPending, models.BookingStatusApproved, "hod-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.Approve(context.Background(), "bk-1", "hod-1", at)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositoryApproveRefusedWhenNotPending(t *testing.T) {
	repo, mock, cleanup := newBookingRepoMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE bookings SET status = $3, approved_by = $4`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Approve(context.Background(), "bk-1", "hod-1", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositoryRejectWithRelease(t *testing.T) {
	repo, mock, cleanup := newBookingRepoMock(t)
	defer cleanup()

	at := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE bookings SET status = $3, rejection_reason = $4, updated_at = $5 WHERE id = $1 AND status = $2`)).
		WithArgs("bk-1", models.BookingStatusPending, models.BookingStatusRejected, "double booked", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE availability_slots SET status = 'available', booking_id = NULL`)).
		WithArgs("bk-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	ok, err := repo.RejectWithRelease(context.Background(), "bk-1", "double booked", at)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositoryCancelWithReleaseRefused(t *testing.T) {
	repo, mock, cleanup := newBookingRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE bookings SET status = $3, cancelled_at = $4`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	ok, err := repo.CancelWithRelease(context.Background(), "bk-1", models.BookingStatusApproved, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositoryCountOverlappingByRequester(t *testing.T) {
	repo, mock, cleanup := newBookingRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`from_time < $6 AND to_time > $5`)).
		WithArgs("user-1", models.BookingStatusCancelled, "2026-09-10", "2026-09-10", "09:00", "12:00").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := repo.CountOverlappingByRequester(context.Background(), "user-1", "2026-09-10", "2026-09-10", "09:00", "12:00")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositoryList(t *testing.T) {
	repo, mock, cleanup := newBookingRepoMock(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"id", "venue_id", "venue_type", "requested_by", "department", "event_name", "contact", "from_date", "to_date", "from_time", "to_time", "participants", "extras", "status", "approved_by", "approved_at", "rejection_reason", "cancelled_at", "created_at", "updated_at"}).
		AddRow("bk-1", "venue-1", "lab", "user-1", "CSE", "ML Workshop", "9876543210", "2026-09-10", "2026-09-10", "09:00", "12:00", 30, []byte(`{}`), "pending", nil, nil, nil, nil, time.Now(), time.Now())

	mock.ExpectQuery(regexp.QuoteMeta(`FROM bookings WHERE 1=1 AND requested_by = $1 AND status = $2 ORDER BY created_at DESC LIMIT 20 OFFSET 0`)).
		WithArgs("user-1", models.BookingStatusPending).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM bookings WHERE 1=1 AND requested_by = $1 AND status = $2`)).
		WithArgs("user-1", models.BookingStatusPending).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	bookings, total, err := repo.List(context.Background(), models.BookingFilter{RequestedBy: "user-1", Status: models.BookingStatusPending})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, bookings, 1)
	assert.Equal(t, "ML Workshop", bookings[0].EventName)
	require.NoError(t, mock.ExpectationsWereMet())
}
