package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/venue-booking-api/internal/models"
	appErrors "github.com/noah-isme/venue-booking-api/pkg/errors"
	"github.com/noah-isme/venue-booking-api/pkg/response"
)

type notificationUseCases interface {
	ListForUser(ctx context.Context, userID string, unreadOnly bool, page, pageSize int) ([]models.UserNotification, int, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, notificationID, userID string) error
	MarkAcknowledged(ctx context.Context, notificationID, userID string) error
}

// NotificationHandler exposes the caller's notification inbox.
type NotificationHandler struct {
	service notificationUseCases
}

// NewNotificationHandler builds a new handler.
func NewNotificationHandler(service notificationUseCases) *NotificationHandler {
	return &NotificationHandler{service: service}
}

// List godoc
// @Summary List the caller's notifications
// @Tags Notifications
// @Produce json
// @Param unread query bool false "Only unread"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 20)
	notifications, total, err := h.service.ListForUser(c.Request.Context(), actor.UserID, c.Query("unread") == "true", page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, notifications, &models.Pagination{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
	})
}

// UnreadCount godoc
// @Summary Get the caller's unread notification count
// @Tags Notifications
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /notifications/unread-count [get]
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	count, err := h.service.UnreadCount(c.Request.Context(), actor.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"unread": count}, nil)
}

// MarkRead godoc
// @Summary Mark a notification read
// @Tags Notifications
// @Produce json
// @Param id path string true "Notification ID"
// @Success 204
// @Security BearerAuth
// @Router /notifications/{id}/read [post]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.MarkRead(c.Request.Context(), c.Param("id"), actor.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Acknowledge godoc
// @Summary Acknowledge a notification
// @Tags Notifications
// @Produce json
// @Param id path string true "Notification ID"
// @Success 204
// @Security BearerAuth
// @Router /notifications/{id}/acknowledge [post]
func (h *NotificationHandler) Acknowledge(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.MarkAcknowledged(c.Request.Context(), c.Param("id"), actor.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
