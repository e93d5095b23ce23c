package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/venue-booking-api/internal/models"
	"github.com/noah-isme/venue-booking-api/pkg/config"
	appErrors "github.com/noah-isme/venue-booking-api/pkg/errors"
	"github.com/noah-isme/venue-booking-api/pkg/jobs"
)

type notificationRepository interface {
	Create(ctx context.Context, n *models.Notification, recipients []models.NotificationRecipient) error
	FindByID(ctx context.Context, id string) (*models.Notification, error)
	Recipients(ctx context.Context, notificationID string) ([]models.NotificationRecipient, error)
	UpdateDeliveryStatus(ctx context.Context, id string, status models.DeliveryStatus) error
	RecordDeliveryFailure(ctx context.Context, id string, attempt models.DeliveryAttempt, final bool) error
	ListForUser(ctx context.Context, userID string, unreadOnly bool, page, pageSize int) ([]models.UserNotification, int, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, notificationID, userID string, at time.Time) error
	MarkAcknowledged(ctx context.Context, notificationID, userID string, at time.Time) error
}

type recipientDirectory interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	ListActiveByRoles(ctx context.Context, roles []models.UserRole) ([]models.User, error)
	FindActiveByRoleInDepartment(ctx context.Context, role models.UserRole, department string) ([]models.User, error)
}

// Transport pushes a notification to its recipients over a delivery channel.
// Implementations must be safe for concurrent use by queue workers.
type Transport interface {
	Deliver(ctx context.Context, n *models.Notification, recipients []models.NotificationRecipient) error
}

// InAppTransport delivers by virtue of the recipient rows existing; the
// in-app inbox reads them straight from the store.
type InAppTransport struct {
	logger *zap.Logger
}

// NewInAppTransport constructs the default transport.
func NewInAppTransport(logger *zap.Logger) *InAppTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InAppTransport{logger: logger}
}

// Deliver marks the in-app copies delivered.
func (t *InAppTransport) Deliver(_ context.Context, n *models.Notification, recipients []models.NotificationRecipient) error {
	t.logger.Debug("in-app notification delivered",
		zap.String("notification_id", n.ID),
		zap.Int("recipients", len(recipients)))
	return nil
}

type notificationTemplate struct {
	title    string
	message  string
	priority models.NotificationPriority
	category models.NotificationCategory
}

var bookingTemplates = map[models.NotificationType]notificationTemplate{
	models.NotifBookingCreated: {
		title:    "Booking submitted",
		message:  "Booking %q was submitted and is awaiting review.",
		priority: models.PriorityNormal,
		category: models.CategoryInfo,
	},
	models.NotifBookingApproved: {
		title:    "Booking approved",
		message:  "Booking %q has been approved.",
		priority: models.PriorityNormal,
		category: models.CategorySuccess,
	},
	models.NotifBookingRejected: {
		title:    "Booking rejected",
		message:  "Booking %q has been rejected.",
		priority: models.PriorityHigh,
		category: models.CategoryError,
	},
	models.NotifBookingCancelled: {
		title:    "Booking cancelled",
		message:  "Booking %q has been cancelled.",
		priority: models.PriorityNormal,
		category: models.CategoryWarning,
	},
}

// NotificationService persists lifecycle notifications and dispatches their
// delivery through a background queue. Dispatch never blocks or fails the
// booking flow that triggered it.
type NotificationService struct {
	repo      notificationRepository
	directory recipientDirectory
	transport Transport
	queue     *jobs.Queue
	metrics   *MetricsService
	cfg       config.NotificationsConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewNotificationService constructs NotificationService and its worker queue.
func NewNotificationService(repo notificationRepository, directory recipientDirectory, transport Transport, metrics *MetricsService, cfg config.NotificationsConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if transport == nil {
		transport = NewInAppTransport(logger)
	}
	if cfg.MaxDeliveryAttempts <= 0 {
		cfg.MaxDeliveryAttempts = 3
	}
	s := &NotificationService{
		repo:      repo,
		directory: directory,
		transport: transport,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
	s.queue = jobs.NewQueue("notification-delivery", s.handleDelivery, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxDeliveryAttempts,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return s
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the delivery workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// NotifyBookingEvent records a notification for a booking transition and
// enqueues its delivery. reviewers names the approval roles resolved from the
// rules the booking matched; their holders are addressed alongside the
// requester on new submissions. Failures are logged, never propagated; the
// booking transition has already committed.
func (s *NotificationService) NotifyBookingEvent(booking *models.Booking, event models.NotificationType, detail string, reviewers []models.UserRole) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	template, ok := bookingTemplates[event]
	if !ok {
		s.logger.Warn("no template for notification event", zap.String("event", string(event)))
		return
	}
	message := fmt.Sprintf(template.message, booking.EventName)
	if detail != "" {
		message = message + " Reason: " + detail
	}

	notification := &models.Notification{
		Type:           event,
		BookingID:      &booking.ID,
		VenueID:        booking.VenueID,
		Title:          template.title,
		Message:        message,
		Priority:       template.priority,
		Category:       template.category,
		DeliveryStatus: models.DeliveryPending,
		MaxAttempts:    s.cfg.MaxDeliveryAttempts,
	}

	recipients, err := s.resolveRecipients(ctx, booking, event, reviewers)
	if err != nil {
		s.logger.Error("failed to resolve notification recipients",
			zap.String("booking_id", booking.ID), zap.Error(err))
		return
	}
	if len(recipients) == 0 {
		s.logger.Warn("notification has no recipients", zap.String("booking_id", booking.ID))
		return
	}

	if err := s.repo.Create(ctx, notification, recipients); err != nil {
		s.logger.Error("failed to persist notification",
			zap.String("booking_id", booking.ID), zap.Error(err))
		return
	}

	if err := s.queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: "deliver", Payload: notification.ID}); err != nil {
		s.logger.Error("failed to enqueue notification delivery",
			zap.String("notification_id", notification.ID), zap.Error(err))
	}
}

// resolveRecipients addresses the requester on every event and, for new
// submissions, the holders of the approval roles the matched rules demand.
// Faculty and HOD reviewers are scoped to the requester's department; admins
// act globally. A pending booking whose rules name no reviewer falls back to
// the admins so it never sits unseen.
func (s *NotificationService) resolveRecipients(ctx context.Context, booking *models.Booking, event models.NotificationType, reviewers []models.UserRole) ([]models.NotificationRecipient, error) {
	seen := map[string]bool{}
	var recipients []models.NotificationRecipient
	addUser := func(userID string, role models.UserRole) {
		if userID == "" || seen[userID] {
			return
		}
		seen[userID] = true
		recipients = append(recipients, models.NotificationRecipient{
			UserID: userID,
			Role:   role,
			Method: models.DeliverInApp,
		})
	}

	requester, err := s.directory.FindByID(ctx, booking.RequestedBy)
	if err != nil {
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("load requester: %w", err)
		}
	} else {
		addUser(requester.ID, requester.Role)
	}

	if event == models.NotifBookingCreated && booking.Status == models.BookingStatusPending {
		if len(reviewers) == 0 {
			reviewers = []models.UserRole{models.RoleAdmin}
		}
		for _, role := range reviewers {
			var users []models.User
			switch role {
			case models.RoleFaculty, models.RoleHOD:
				users, err = s.directory.FindActiveByRoleInDepartment(ctx, role, booking.Department)
			case models.RoleAdmin:
				users, err = s.directory.ListActiveByRoles(ctx, []models.UserRole{models.RoleAdmin})
			default:
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("load %s reviewers: %w", role, err)
			}
			for _, user := range users {
				addUser(user.ID, user.Role)
			}
		}
	}
	return recipients, nil
}

// handleDelivery is the queue worker. A failed attempt is recorded on the
// notification; the queue retries until the attempt budget is spent, at which
// point the status settles as failed.
func (s *NotificationService) handleDelivery(ctx context.Context, job jobs.Job) error {
	notificationID, ok := job.Payload.(string)
	if !ok {
		return fmt.Errorf("unexpected delivery payload %T", job.Payload)
	}

	notification, err := s.repo.FindByID(ctx, notificationID)
	if err != nil {
		return fmt.Errorf("load notification %s: %w", notificationID, err)
	}
	if notification.DeliveryStatus != models.DeliveryPending {
		return nil
	}
	recipients, err := s.repo.Recipients(ctx, notificationID)
	if err != nil {
		return fmt.Errorf("load recipients for %s: %w", notificationID, err)
	}

	if err := s.transport.Deliver(ctx, notification, recipients); err != nil {
		attempt := models.DeliveryAttempt{
			Attempt:   notification.DeliveryAttempts + 1,
			Timestamp: s.now().UTC(),
			Error:     err.Error(),
		}
		final := attempt.Attempt >= notification.MaxAttempts
		if recordErr := s.repo.RecordDeliveryFailure(ctx, notificationID, attempt, final); recordErr != nil {
			s.logger.Error("failed to record delivery failure",
				zap.String("notification_id", notificationID), zap.Error(recordErr))
		}
		if final {
			s.metrics.RecordNotificationDelivery("exhausted")
			s.logger.Error("notification delivery exhausted",
				zap.String("notification_id", notificationID),
				zap.Int("attempts", attempt.Attempt), zap.Error(err))
			return nil
		}
		s.metrics.RecordNotificationDelivery("retried")
		return appErrors.Wrap(err, appErrors.ErrDeliveryFailed.Code, appErrors.ErrDeliveryFailed.Status,
			fmt.Sprintf("delivery attempt %d for notification %s failed", attempt.Attempt, notificationID))
	}

	if err := s.repo.UpdateDeliveryStatus(ctx, notificationID, models.DeliverySent); err != nil {
		return fmt.Errorf("settle delivery status for %s: %w", notificationID, err)
	}
	s.metrics.RecordNotificationDelivery("sent")
	return nil
}

// ListForUser returns the caller's notification inbox.
func (s *NotificationService) ListForUser(ctx context.Context, userID string, unreadOnly bool, page, pageSize int) ([]models.UserNotification, int, error) {
	notifications, total, err := s.repo.ListForUser(ctx, userID, unreadOnly, page, pageSize)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	return notifications, total, nil
}

// UnreadCount returns the caller's unread badge count.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	count, err := s.repo.UnreadCount(ctx, userID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count notifications")
	}
	return count, nil
}

// MarkRead stamps the caller's copy. Marking an already read copy is a no-op.
func (s *NotificationService) MarkRead(ctx context.Context, notificationID, userID string) error {
	err := s.repo.MarkRead(ctx, notificationID, userID, s.now().UTC())
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	return nil
}

// MarkAcknowledged stamps the caller's acknowledgement, implying read. An
// acknowledgement is positive proof of receipt, so the notification's
// transport status settles as delivered.
func (s *NotificationService) MarkAcknowledged(ctx context.Context, notificationID, userID string) error {
	err := s.repo.MarkAcknowledged(ctx, notificationID, userID, s.now().UTC())
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to acknowledge notification")
	}
	if err := s.repo.UpdateDeliveryStatus(ctx, notificationID, models.DeliveryDelivered); err != nil {
		s.logger.Warn("failed to settle delivery status on acknowledgement",
			zap.String("notification_id", notificationID), zap.Error(err))
	}
	return nil
}
