package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// NotificationType ties a notification to the lifecycle event that produced it.
type NotificationType string

const (
	NotifBookingCreated   NotificationType = "booking_created"
	NotifBookingApproved  NotificationType = "booking_approved"
	NotifBookingRejected  NotificationType = "booking_rejected"
	NotifBookingCancelled NotificationType = "booking_cancelled"
	NotifBookingModified  NotificationType = "booking_modified"
	NotifBookingReminder  NotificationType = "booking_reminder"
	NotifVenueMaintenance NotificationType = "venue_maintenance"
	NotifVenueBlocked     NotificationType = "venue_blocked"
)

// NotificationPriority orders delivery urgency.
type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
	PriorityUrgent NotificationPriority = "urgent"
)

// NotificationCategory drives presentation downstream.
type NotificationCategory string

const (
	CategoryInfo    NotificationCategory = "info"
	CategorySuccess NotificationCategory = "success"
	CategoryWarning NotificationCategory = "warning"
	CategoryError   NotificationCategory = "error"
)

// DeliveryStatus is the transport-level progress of a notification,
// independent of per-recipient read state.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryCancelled DeliveryStatus = "cancelled"
)

// DeliveryMethod selects the transport channel for a recipient.
type DeliveryMethod string

const (
	DeliverInApp DeliveryMethod = "in_app"
	DeliverEmail DeliveryMethod = "email"
	DeliverSMS   DeliveryMethod = "sms"
)

// DeliveryAttempt is one append-only error-log entry.
type DeliveryAttempt struct {
	Attempt   int       `json:"attempt"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
}

// DeliveryErrorLog is the append-only list of failed attempts.
type DeliveryErrorLog []DeliveryAttempt

// Value marshals the error log to JSON for persistence.
func (l DeliveryErrorLog) Value() (driver.Value, error) {
	if l == nil {
		l = DeliveryErrorLog{}
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshal delivery error log: %w", err)
	}
	return data, nil
}

// Scan unmarshals a JSON payload into the error log.
func (l *DeliveryErrorLog) Scan(value interface{}) error {
	if value == nil {
		*l = DeliveryErrorLog{}
		return nil
	}
	data, err := jsonBytes(value)
	if err != nil {
		return fmt.Errorf("scan delivery error log: %w", err)
	}
	return json.Unmarshal(data, l)
}

// Notification is a delivery record produced by a booking state transition.
type Notification struct {
	ID        string               `db:"id" json:"id"`
	Type      NotificationType     `db:"type" json:"type"`
	BookingID *string              `db:"booking_id" json:"booking_id,omitempty"`
	VenueID   string               `db:"venue_id" json:"venue_id"`
	Title     string               `db:"title" json:"title"`
	Message   string               `db:"message" json:"message"`
	Priority  NotificationPriority `db:"priority" json:"priority"`
	Category  NotificationCategory `db:"category" json:"category"`

	ScheduledAt      *time.Time       `db:"scheduled_at" json:"scheduled_at,omitempty"`
	DeliveryStatus   DeliveryStatus   `db:"delivery_status" json:"delivery_status"`
	DeliveryAttempts int              `db:"delivery_attempts" json:"delivery_attempts"`
	MaxAttempts      int              `db:"max_attempts" json:"max_attempts"`
	ErrorLog         DeliveryErrorLog `db:"error_log" json:"error_log"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// NotificationRecipient is one addressee's copy with independent read state.
type NotificationRecipient struct {
	ID             string         `db:"id" json:"id"`
	NotificationID string         `db:"notification_id" json:"notification_id"`
	UserID         string         `db:"user_id" json:"user_id"`
	Role           UserRole       `db:"role" json:"role"`
	Method         DeliveryMethod `db:"method" json:"method"`
	ReadAt         *time.Time     `db:"read_at" json:"read_at,omitempty"`
	AcknowledgedAt *time.Time     `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
}

// UserNotification joins a notification with the caller's recipient copy.
type UserNotification struct {
	Notification
	RecipientID    string     `db:"recipient_id" json:"recipient_id"`
	ReadAt         *time.Time `db:"read_at" json:"read_at,omitempty"`
	AcknowledgedAt *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
}
