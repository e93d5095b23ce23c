package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/venue-booking-api/internal/models"
)

const slotColumns = `id, venue_id, slot_date, start_time, end_time, status, booking_id, block_reason, blocked_by, block_type, held_for, hold_expires, created_at, updated_at`

// Occupied statuses plus unexpired tentative holds exclude other occupants.
// Two windows conflict iff start < otherEnd AND end > otherStart (half-open).
const overlapClause = `slot_date = $2 AND start_time < $4 AND end_time > $3
	AND (status IN ('booked', 'maintenance', 'blocked')
		OR (status = 'tentative' AND hold_expires IS NOT NULL AND hold_expires > NOW()))`

// AvailabilityRepository persists the per-venue occupancy ledger.
type AvailabilityRepository struct {
	db *sqlx.DB
}

// NewAvailabilityRepository creates a new availability repository.
func NewAvailabilityRepository(db *sqlx.DB) *AvailabilityRepository {
	return &AvailabilityRepository{db: db}
}

// ListRange returns slots for a venue over an inclusive date range.
func (r *AvailabilityRepository) ListRange(ctx context.Context, filter models.AvailabilityFilter) ([]models.AvailabilitySlot, error) {
	query := fmt.Sprintf(`SELECT %s FROM availability_slots WHERE venue_id = $1 AND slot_date >= $2 AND slot_date <= $3`, slotColumns)
	args := []interface{}{filter.VenueID, filter.FromDate, filter.ToDate}
	if len(filter.Statuses) > 0 {
		query += fmt.Sprintf(" AND status = ANY($%d)", len(args)+1)
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		args = append(args, pq.Array(statuses))
	}
	query += ` ORDER BY slot_date ASC, start_time ASC`

	var slots []models.AvailabilitySlot
	if err := r.db.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, fmt.Errorf("list availability slots: %w", err)
	}
	return slots, nil
}

// FindByID loads a single slot.
func (r *AvailabilityRepository) FindByID(ctx context.Context, id string) (*models.AvailabilitySlot, error) {
	query := fmt.Sprintf(`SELECT %s FROM availability_slots WHERE id = $1`, slotColumns)
	var slot models.AvailabilitySlot
	if err := r.db.GetContext(ctx, &slot, query, id); err != nil {
		return nil, err
	}
	return &slot, nil
}

// FindOccupiedOverlapping returns occupying slots whose window overlaps
// [startTime, endTime) on the given venue and date, excluding slots held by
// excludeBookingID when a booking is being re-evaluated.
func (r *AvailabilityRepository) FindOccupiedOverlapping(ctx context.Context, venueID, date, startTime, endTime, excludeBookingID string) ([]models.AvailabilitySlot, error) {
	return findOccupiedOverlapping(ctx, r.db, venueID, date, startTime, endTime, excludeBookingID, false)
}

// FindOccupiedOverlappingTx is the transactional, row-locking variant used
// inside the admission write path.
func (r *AvailabilityRepository) FindOccupiedOverlappingTx(ctx context.Context, tx *sqlx.Tx, venueID, date, startTime, endTime, excludeBookingID string) ([]models.AvailabilitySlot, error) {
	return findOccupiedOverlapping(ctx, tx, venueID, date, startTime, endTime, excludeBookingID, true)
}

func findOccupiedOverlapping(ctx context.Context, q sqlx.QueryerContext, venueID, date, startTime, endTime, excludeBookingID string, forUpdate bool) ([]models.AvailabilitySlot, error) {
	query := fmt.Sprintf(`SELECT %s FROM availability_slots WHERE venue_id = $1 AND %s`, slotColumns, overlapClause)
	args := []interface{}{venueID, date, startTime, endTime}
	if excludeBookingID != "" {
		query += fmt.Sprintf(" AND (booking_id IS NULL OR booking_id <> $%d)", len(args)+1)
		args = append(args, excludeBookingID)
	}
	if forUpdate {
		query += " FOR UPDATE"
	}

	var slots []models.AvailabilitySlot
	if err := sqlx.SelectContext(ctx, q, &slots, query, args...); err != nil {
		return nil, fmt.Errorf("find occupied slots: %w", err)
	}
	return slots, nil
}

// LockVenueDateTx serialises writers for one (venue, date) ledger partition.
// The advisory lock is transaction-scoped and released on commit or rollback.
func (r *AvailabilityRepository) LockVenueDateTx(ctx context.Context, tx *sqlx.Tx, venueID, date string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, venueID+":"+date); err != nil {
		return fmt.Errorf("lock ledger partition %s/%s: %w", venueID, date, err)
	}
	return nil
}

// OccupyTx creates or flips a slot to an occupied status inside the admission
// transaction. Slot identity is (venue_id, slot_date, start_time, end_time).
func (r *AvailabilityRepository) OccupyTx(ctx context.Context, tx *sqlx.Tx, slot *models.AvailabilitySlot) error {
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = now
	}
	slot.UpdatedAt = now

	const query = `INSERT INTO availability_slots (id, venue_id, slot_date, start_time, end_time, status, booking_id, block_reason, blocked_by, block_type, held_for, hold_expires, created_at, updated_at)
		VALUES (:id, :venue_id, :slot_date, :start_time, :end_time, :status, :booking_id, :block_reason, :blocked_by, :block_type, :held_for, :hold_expires, :created_at, :updated_at)
		ON CONFLICT (venue_id, slot_date, start_time, end_time) DO UPDATE SET
			status = EXCLUDED.status,
			booking_id = EXCLUDED.booking_id,
			block_reason = EXCLUDED.block_reason,
			blocked_by = EXCLUDED.blocked_by,
			block_type = EXCLUDED.block_type,
			held_for = EXCLUDED.held_for,
			hold_expires = EXCLUDED.hold_expires,
			updated_at = EXCLUDED.updated_at`
	if _, err := sqlx.NamedExecContext(ctx, tx, query, slot); err != nil {
		return fmt.Errorf("occupy slot: %w", err)
	}
	return nil
}

// ReleaseByBookingTx resets every slot held by a booking to available and
// clears the booking reference, inside the transition transaction.
func (r *AvailabilityRepository) ReleaseByBookingTx(ctx context.Context, tx *sqlx.Tx, bookingID string) error {
	const query = `UPDATE availability_slots SET status = 'available', booking_id = NULL, updated_at = $2 WHERE booking_id = $1`
	if _, err := tx.ExecContext(ctx, query, bookingID, time.Now().UTC()); err != nil {
		return fmt.Errorf("release slots for booking %s: %w", bookingID, err)
	}
	return nil
}

// CreateBlock atomically records a manual block or maintenance window after
// re-checking for occupants under the partition lock.
func (r *AvailabilityRepository) CreateBlock(ctx context.Context, slot *models.AvailabilitySlot) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin block creation: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = r.LockVenueDateTx(ctx, tx, slot.VenueID, slot.SlotDate); err != nil {
		return err
	}

	var conflicts []models.AvailabilitySlot
	conflicts, err = r.FindOccupiedOverlappingTx(ctx, tx, slot.VenueID, slot.SlotDate, slot.StartTime, slot.EndTime, "")
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		err = &models.SlotConflictError{Message: "window already occupied", Conflicts: toConflicts(conflicts)}
		return err
	}

	if err = r.OccupyTx(ctx, tx, slot); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit block creation: %w", err)
	}
	return nil
}

// ReleaseSlot lifts a block by resetting the slot to available. It refuses to
// touch slots holding a booking reference.
func (r *AvailabilityRepository) ReleaseSlot(ctx context.Context, id string) error {
	const query = `UPDATE availability_slots SET status = 'available', block_reason = NULL, blocked_by = NULL, block_type = NULL, held_for = NULL, hold_expires = NULL, updated_at = $2 WHERE id = $1 AND booking_id IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("release slot %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release slot %s: %w", id, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func toConflicts(slots []models.AvailabilitySlot) []models.SlotConflict {
	conflicts := make([]models.SlotConflict, 0, len(slots))
	for _, s := range slots {
		conflicts = append(conflicts, models.SlotConflict{
			SlotID:    s.ID,
			VenueID:   s.VenueID,
			SlotDate:  s.SlotDate,
			StartTime: s.StartTime,
			EndTime:   s.EndTime,
			Status:    s.Status,
			BookingID: s.BookingID,
		})
	}
	return conflicts
}
