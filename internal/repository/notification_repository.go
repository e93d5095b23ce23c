package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/venue-booking-api/internal/models"
)

const notificationColumns = `id, type, booking_id, venue_id, title, message, priority, category, scheduled_at, delivery_status, delivery_attempts, max_attempts, error_log, created_at, updated_at`

// NotificationRepository persists notifications and their recipient copies.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository creates a new notification repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create stores a notification and its recipient list in one transaction.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification, recipients []models.NotificationRecipient) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin notification creation: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := fmt.Sprintf(`INSERT INTO notifications (%s) VALUES (:id, :type, :booking_id, :venue_id, :title, :message, :priority, :category, :scheduled_at, :delivery_status, :delivery_attempts, :max_attempts, :error_log, :created_at, :updated_at)`, notificationColumns)
	if _, err = sqlx.NamedExecContext(ctx, tx, query, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}

	for i := range recipients {
		recipients[i].NotificationID = n.ID
		if recipients[i].ID == "" {
			recipients[i].ID = uuid.NewString()
		}
		if _, err = sqlx.NamedExecContext(ctx, tx, `INSERT INTO notification_recipients (id, notification_id, user_id, role, method, read_at, acknowledged_at) VALUES (:id, :notification_id, :user_id, :role, :method, :read_at, :acknowledged_at)`, &recipients[i]); err != nil {
			return fmt.Errorf("create notification recipient: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit notification creation: %w", err)
	}
	return nil
}

// FindByID loads a notification by id.
func (r *NotificationRepository) FindByID(ctx context.Context, id string) (*models.Notification, error) {
	query := fmt.Sprintf(`SELECT %s FROM notifications WHERE id = $1`, notificationColumns)
	var n models.Notification
	if err := r.db.GetContext(ctx, &n, query, id); err != nil {
		return nil, err
	}
	return &n, nil
}

// Recipients returns the recipient copies attached to a notification.
func (r *NotificationRepository) Recipients(ctx context.Context, notificationID string) ([]models.NotificationRecipient, error) {
	const query = `SELECT id, notification_id, user_id, role, method, read_at, acknowledged_at FROM notification_recipients WHERE notification_id = $1`
	var recipients []models.NotificationRecipient
	if err := r.db.SelectContext(ctx, &recipients, query, notificationID); err != nil {
		return nil, fmt.Errorf("list notification recipients: %w", err)
	}
	return recipients, nil
}

// UpdateDeliveryStatus moves the transport-level status forward.
func (r *NotificationRepository) UpdateDeliveryStatus(ctx context.Context, id string, status models.DeliveryStatus) error {
	const query = `UPDATE notifications SET delivery_status = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update delivery status for %s: %w", id, err)
	}
	return nil
}

// RecordDeliveryFailure bumps the attempt counter, appends the attempt to the
// error log, and settles the status as failed once attempts are exhausted.
func (r *NotificationRepository) RecordDeliveryFailure(ctx context.Context, id string, attempt models.DeliveryAttempt, final bool) error {
	entry, err := json.Marshal([]models.DeliveryAttempt{attempt})
	if err != nil {
		return fmt.Errorf("marshal delivery attempt: %w", err)
	}
	status := models.DeliveryPending
	if final {
		status = models.DeliveryFailed
	}
	const query = `UPDATE notifications SET delivery_attempts = delivery_attempts + 1, error_log = error_log || $2::jsonb, delivery_status = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, entry, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("record delivery failure for %s: %w", id, err)
	}
	return nil
}

// ListForUser returns the user's notifications joined with their recipient copy.
func (r *NotificationRepository) ListForUser(ctx context.Context, userID string, unreadOnly bool, page, pageSize int) ([]models.UserNotification, int, error) {
	base := `FROM notifications n JOIN notification_recipients nr ON nr.notification_id = n.id WHERE nr.user_id = $1`
	if unreadOnly {
		base += ` AND nr.read_at IS NULL`
	}

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	query := fmt.Sprintf(`SELECT n.id, n.type, n.booking_id, n.venue_id, n.title, n.message, n.priority, n.category, n.scheduled_at, n.delivery_status, n.delivery_attempts, n.max_attempts, n.error_log, n.created_at, n.updated_at, nr.id AS recipient_id, nr.read_at, nr.acknowledged_at %s ORDER BY n.created_at DESC LIMIT %d OFFSET %d`, base, pageSize, offset)
	var notifications []models.UserNotification
	if err := r.db.SelectContext(ctx, &notifications, query, userID); err != nil {
		return nil, 0, fmt.Errorf("list notifications for user: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, userID); err != nil {
		return nil, 0, fmt.Errorf("count notifications for user: %w", err)
	}

	return notifications, total, nil
}

// UnreadCount returns the number of unread recipient copies for a user.
func (r *NotificationRepository) UnreadCount(ctx context.Context, userID string) (int, error) {
	const query = `SELECT COUNT(*) FROM notification_recipients WHERE user_id = $1 AND read_at IS NULL`
	var count int
	if err := r.db.GetContext(ctx, &count, query, userID); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead stamps the caller's recipient copy. Only the addressee may mark it.
func (r *NotificationRepository) MarkRead(ctx context.Context, notificationID, userID string, at time.Time) error {
	const query = `UPDATE notification_recipients SET read_at = $3 WHERE notification_id = $1 AND user_id = $2 AND read_at IS NULL`
	return r.stampRecipient(ctx, query, notificationID, userID, at)
}

// MarkAcknowledged stamps the caller's acknowledgement timestamp.
func (r *NotificationRepository) MarkAcknowledged(ctx context.Context, notificationID, userID string, at time.Time) error {
	const query = `UPDATE notification_recipients SET acknowledged_at = $3, read_at = COALESCE(read_at, $3) WHERE notification_id = $1 AND user_id = $2 AND acknowledged_at IS NULL`
	return r.stampRecipient(ctx, query, notificationID, userID, at)
}

func (r *NotificationRepository) stampRecipient(ctx context.Context, query, notificationID, userID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, query, notificationID, userID, at)
	if err != nil {
		return fmt.Errorf("stamp notification recipient: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("stamp notification recipient: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
