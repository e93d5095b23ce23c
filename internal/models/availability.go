package models

import "time"

// SlotStatus captures the occupancy state of one venue/date/time window.
type SlotStatus string

const (
	SlotStatusAvailable   SlotStatus = "available"
	SlotStatusBooked      SlotStatus = "booked"
	SlotStatusMaintenance SlotStatus = "maintenance"
	SlotStatusBlocked     SlotStatus = "blocked"
	SlotStatusTentative   SlotStatus = "tentative"
)

// Occupied reports whether the status excludes other occupants for the window.
func (s SlotStatus) Occupied() bool {
	return s == SlotStatusBooked || s == SlotStatusMaintenance || s == SlotStatusBlocked
}

// BlockType distinguishes manual blocks, maintenance windows, and tentative
// holds placed ahead of a submission.
type BlockType string

const (
	BlockTypeManual      BlockType = "manual"
	BlockTypeMaintenance BlockType = "maintenance"
	BlockTypeHold        BlockType = "hold"
)

// AvailabilitySlot is one ledger record: a venue's occupancy for a date and
// a [start, end) wall-clock window at minute precision.
type AvailabilitySlot struct {
	ID        string     `db:"id" json:"id"`
	VenueID   string     `db:"venue_id" json:"venue_id"`
	SlotDate  string     `db:"slot_date" json:"slot_date"`
	StartTime string     `db:"start_time" json:"start_time"`
	EndTime   string     `db:"end_time" json:"end_time"`
	Status    SlotStatus `db:"status" json:"status"`
	BookingID *string    `db:"booking_id" json:"booking_id,omitempty"`

	BlockReason *string    `db:"block_reason" json:"block_reason,omitempty"`
	BlockedBy   *string    `db:"blocked_by" json:"blocked_by,omitempty"`
	BlockType   *BlockType `db:"block_type" json:"block_type,omitempty"`

	HeldFor     *string    `db:"held_for" json:"held_for,omitempty"`
	HoldExpires *time.Time `db:"hold_expires" json:"hold_expires,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// HoldExpired reports whether a tentative hold has lapsed at the given instant.
func (s AvailabilitySlot) HoldExpired(now time.Time) bool {
	return s.Status == SlotStatusTentative && s.HoldExpires != nil && !s.HoldExpires.After(now)
}

// SlotConflict describes the occupying slot a request collided with.
type SlotConflict struct {
	SlotID    string     `json:"slot_id"`
	VenueID   string     `json:"venue_id"`
	SlotDate  string     `json:"slot_date"`
	StartTime string     `json:"start_time"`
	EndTime   string     `json:"end_time"`
	Status    SlotStatus `json:"status"`
	BookingID *string    `json:"booking_id,omitempty"`
}

// SlotConflictError is returned when a requested window overlaps an occupied slot.
type SlotConflictError struct {
	Message   string         `json:"message"`
	VenueID   string         `json:"venue_id,omitempty"`
	Conflicts []SlotConflict `json:"conflicts"`
}

// Error implements the error interface for ledger conflicts.
func (e *SlotConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

// AvailabilityFilter bounds ledger queries to a venue and inclusive date range.
type AvailabilityFilter struct {
	VenueID  string
	FromDate string
	ToDate   string
	Statuses []SlotStatus
}
