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

const bookingColumns = `id, venue_id, venue_type, requested_by, department, event_name, contact, from_date, to_date, from_time, to_time, participants, extras, status, approved_by, approved_at, rejection_reason, cancelled_at, created_at, updated_at`

// BookingRepository persists bookings and drives their ledger-coupled writes.
type BookingRepository struct {
	db    *sqlx.DB
	slots *AvailabilityRepository
}

// NewBookingRepository creates a new booking repository.
func NewBookingRepository(db *sqlx.DB, slots *AvailabilityRepository) *BookingRepository {
	return &BookingRepository{db: db, slots: slots}
}

// FindByID loads a booking by id.
func (r *BookingRepository) FindByID(ctx context.Context, id string) (*models.Booking, error) {
	query := fmt.Sprintf(`SELECT %s FROM bookings WHERE id = $1`, bookingColumns)
	var booking models.Booking
	if err := r.db.GetContext(ctx, &booking, query, id); err != nil {
		return nil, err
	}
	return &booking, nil
}

// List returns bookings with optional filtering and pagination.
func (r *BookingRepository) List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, int, error) {
	base := "FROM bookings WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.VenueID != "" {
		conditions = append(conditions, fmt.Sprintf("venue_id = $%d", len(args)+1))
		args = append(args, filter.VenueID)
	}
	if filter.RequestedBy != "" {
		conditions = append(conditions, fmt.Sprintf("requested_by = $%d", len(args)+1))
		args = append(args, filter.RequestedBy)
	}
	if filter.Department != "" {
		conditions = append(conditions, fmt.Sprintf("department = $%d", len(args)+1))
		args = append(args, filter.Department)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.FromDate != "" {
		conditions = append(conditions, fmt.Sprintf("to_date >= $%d", len(args)+1))
		args = append(args, filter.FromDate)
	}
	if filter.ToDate != "" {
		conditions = append(conditions, fmt.Sprintf("from_date <= $%d", len(args)+1))
		args = append(args, filter.ToDate)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"from_date":  true,
		"created_at": true,
		"status":     true,
		"event_name": true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", bookingColumns, base, sortBy, order, size, offset)
	var bookings []models.Booking
	if err := r.db.SelectContext(ctx, &bookings, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list bookings: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count bookings: %w", err)
	}

	return bookings, total, nil
}

// CreateWithSlots persists a pending booking and flips its ledger slots to
// booked as one atomic unit. Each (venue, date) partition is serialised under
// an advisory lock and the overlap check re-runs inside the transaction, so
// two concurrent submissions for the same window cannot both succeed.
func (r *BookingRepository) CreateWithSlots(ctx context.Context, booking *models.Booking) error {
	dates, err := booking.Dates()
	if err != nil {
		return err
	}

	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = now
	}
	booking.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin booking creation: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var conflicts []models.SlotConflict
	for _, date := range dates {
		if err = r.slots.LockVenueDateTx(ctx, tx, booking.VenueID, date); err != nil {
			return err
		}
		var occupied []models.AvailabilitySlot
		occupied, err = r.slots.FindOccupiedOverlappingTx(ctx, tx, booking.VenueID, date, booking.FromTime, booking.ToTime, booking.ID)
		if err != nil {
			return err
		}
		conflicts = append(conflicts, toConflicts(occupied)...)
	}
	if len(conflicts) > 0 {
		err = &models.SlotConflictError{Message: "requested window overlaps an occupied slot", Conflicts: conflicts}
		return err
	}

	query := fmt.Sprintf(`INSERT INTO bookings (%s) VALUES (:id, :venue_id, :venue_type, :requested_by, :department, :event_name, :contact, :from_date, :to_date, :from_time, :to_time, :participants, :extras, :status, :approved_by, :approved_at, :rejection_reason, :cancelled_at, :created_at, :updated_at)`, bookingColumns)
	if _, err = sqlx.NamedExecContext(ctx, tx, query, booking); err != nil {
		return fmt.Errorf("create booking: %w", err)
	}

	for _, date := range dates {
		slot := &models.AvailabilitySlot{
			VenueID:   booking.VenueID,
			SlotDate:  date,
			StartTime: booking.FromTime,
			EndTime:   booking.ToTime,
			Status:    models.SlotStatusBooked,
			BookingID: &booking.ID,
		}
		if err = r.slots.OccupyTx(ctx, tx, slot); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit booking creation: %w", err)
	}
	return nil
}

// Approve conditionally moves a pending booking to approved. Returns false
// without mutating anything when the booking is not currently pending.
func (r *BookingRepository) Approve(ctx context.Context, id, approverID string, at time.Time) (bool, error) {
	const query = `UPDATE bookings SET status = $3, approved_by = $4, approved_at = $5, updated_at = $5 WHERE id = $1 AND status = $2`
	res, err := r.db.ExecContext(ctx, query, id, models.BookingStatusPending, models.BookingStatusApproved, approverID, at)
	if err != nil {
		return false, fmt.Errorf("approve booking %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("approve booking %s: %w", id, err)
	}
	return affected == 1, nil
}

// RejectWithRelease conditionally moves a pending booking to rejected and
// rolls its ledger slots back to available in the same transaction.
func (r *BookingRepository) RejectWithRelease(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	const query = `UPDATE bookings SET status = $3, rejection_reason = $4, updated_at = $5 WHERE id = $1 AND status = $2`
	return r.transitionWithRelease(ctx, id, query, id, models.BookingStatusPending, models.BookingStatusRejected, reason, at)
}

// CancelWithRelease conditionally cancels a booking from the expected prior
// status and releases its slots in the same transaction.
func (r *BookingRepository) CancelWithRelease(ctx context.Context, id string, from models.BookingStatus, at time.Time) (bool, error) {
	const query = `UPDATE bookings SET status = $3, cancelled_at = $4, updated_at = $4 WHERE id = $1 AND status = $2`
	return r.transitionWithRelease(ctx, id, query, id, from, models.BookingStatusCancelled, at)
}

func (r *BookingRepository) transitionWithRelease(ctx context.Context, id, query string, args ...interface{}) (transitioned bool, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin booking transition: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("transition booking %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition booking %s: %w", id, err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		return false, nil
	}

	if err = r.slots.ReleaseByBookingTx(ctx, tx, id); err != nil {
		return false, err
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit booking transition: %w", err)
	}
	return true, nil
}

// CountByRequesterCreatedBetween counts the requester's non-cancelled bookings
// created within [from, to). Used for frequency limits.
func (r *BookingRepository) CountByRequesterCreatedBetween(ctx context.Context, userID string, from, to time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM bookings WHERE requested_by = $1 AND status <> $2 AND created_at >= $3 AND created_at < $4`
	var count int
	if err := r.db.GetContext(ctx, &count, query, userID, models.BookingStatusCancelled, from, to); err != nil {
		return 0, fmt.Errorf("count bookings by requester: %w", err)
	}
	return count, nil
}

// LatestCreatedByRequester returns the creation time of the requester's most
// recent non-cancelled booking, or nil when none exists. Used for cooldowns.
func (r *BookingRepository) LatestCreatedByRequester(ctx context.Context, userID string) (*time.Time, error) {
	const query = `SELECT MAX(created_at) FROM bookings WHERE requested_by = $1 AND status <> $2`
	var latest *time.Time
	if err := r.db.GetContext(ctx, &latest, query, userID, models.BookingStatusCancelled); err != nil {
		return nil, fmt.Errorf("latest booking by requester: %w", err)
	}
	return latest, nil
}

// CountOverlappingByRequester counts the requester's non-cancelled bookings
// whose date and time ranges overlap the candidate window, across all venues.
func (r *BookingRepository) CountOverlappingByRequester(ctx context.Context, userID, fromDate, toDate, fromTime, toTime string) (int, error) {
	const query = `SELECT COUNT(*) FROM bookings
		WHERE requested_by = $1 AND status <> $2
		AND from_date <= $4 AND to_date >= $3
		AND from_time < $6 AND to_time > $5`
	var count int
	if err := r.db.GetContext(ctx, &count, query, userID, models.BookingStatusCancelled, fromDate, toDate, fromTime, toTime); err != nil {
		return 0, fmt.Errorf("count overlapping bookings: %w", err)
	}
	return count, nil
}

// ListByVenueBetween returns a venue's bookings intersecting a date range,
// ordered for export sheets.
func (r *BookingRepository) ListByVenueBetween(ctx context.Context, venueID, fromDate, toDate string) ([]models.Booking, error) {
	query := fmt.Sprintf(`SELECT %s FROM bookings WHERE venue_id = $1 AND from_date <= $3 AND to_date >= $2 ORDER BY from_date ASC, from_time ASC`, bookingColumns)
	var bookings []models.Booking
	if err := r.db.SelectContext(ctx, &bookings, query, venueID, fromDate, toDate); err != nil {
		return nil, fmt.Errorf("list bookings by venue: %w", err)
	}
	return bookings, nil
}
