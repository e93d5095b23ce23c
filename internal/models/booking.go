package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// BookingStatus enumerates the booking lifecycle states.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusApproved  BookingStatus = "approved"
	BookingStatusRejected  BookingStatus = "rejected"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// Terminal reports whether no further transition is permitted from the status.
func (s BookingStatus) Terminal() bool {
	return s == BookingStatusRejected || s == BookingStatusCancelled
}

// AlternativeProposal is a fallback date/session the requester would accept.
type AlternativeProposal struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Session   string `json:"session,omitempty"`
}

// BookingExtras carries the type-specific optional fields of a request.
type BookingExtras struct {
	SoftwareRequirement string                `json:"software_requirement,omitempty"`
	EventCategory       string                `json:"event_category,omitempty"`
	FunctionDetails     string                `json:"function_details,omitempty"`
	Logistics           *VenueFeatures        `json:"logistics,omitempty"`
	Alternatives        []AlternativeProposal `json:"alternatives,omitempty"`
}

// Value marshals extras to JSON for persistence.
func (e BookingExtras) Value() (driver.Value, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal booking extras: %w", err)
	}
	return data, nil
}

// Scan unmarshals a JSON payload into the extras struct.
func (e *BookingExtras) Scan(value interface{}) error {
	if value == nil {
		*e = BookingExtras{}
		return nil
	}
	data, err := jsonBytes(value)
	if err != nil {
		return fmt.Errorf("scan booking extras: %w", err)
	}
	return json.Unmarshal(data, e)
}

// Booking is a reservation request and its lifecycle record. Created by the
// admission flow; mutated only through state transitions.
type Booking struct {
	ID           string        `db:"id" json:"id"`
	VenueID      string        `db:"venue_id" json:"venue_id"`
	VenueType    VenueType     `db:"venue_type" json:"venue_type"`
	RequestedBy  string        `db:"requested_by" json:"requested_by"`
	Department   string        `db:"department" json:"department"`
	EventName    string        `db:"event_name" json:"event_name"`
	Contact      string        `db:"contact" json:"contact"`
	FromDate     string        `db:"from_date" json:"from_date"`
	ToDate       string        `db:"to_date" json:"to_date"`
	FromTime     string        `db:"from_time" json:"from_time"`
	ToTime       string        `db:"to_time" json:"to_time"`
	Participants int           `db:"participants" json:"participants"`
	Extras       BookingExtras `db:"extras" json:"extras"`
	Status       BookingStatus `db:"status" json:"status"`

	ApprovedBy      *string    `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt      *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	RejectionReason *string    `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CancelledAt     *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Dates returns every calendar date in the inclusive [FromDate, ToDate] range.
// Multi-day bookings occupy a ledger slot on each of those dates.
func (b Booking) Dates() ([]string, error) {
	return DateRange(b.FromDate, b.ToDate)
}

// DateRange expands an inclusive date range into individual "2006-01-02" days.
func DateRange(fromDate, toDate string) ([]string, error) {
	from, err := time.Parse("2006-01-02", fromDate)
	if err != nil {
		return nil, fmt.Errorf("parse from date %q: %w", fromDate, err)
	}
	to, err := time.Parse("2006-01-02", toDate)
	if err != nil {
		return nil, fmt.Errorf("parse to date %q: %w", toDate, err)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("date range ends before it starts")
	}
	var dates []string
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format("2006-01-02"))
	}
	return dates, nil
}

// BookingFilter captures filtering criteria for booking listings.
type BookingFilter struct {
	VenueID     string
	RequestedBy string
	Department  string
	Status      BookingStatus
	FromDate    string
	ToDate      string
	Page        int
	PageSize    int
	SortBy      string
	SortOrder   string
}
