package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/venue-booking-api/internal/models"
	"github.com/noah-isme/venue-booking-api/internal/service"
	appErrors "github.com/noah-isme/venue-booking-api/pkg/errors"
	"github.com/noah-isme/venue-booking-api/pkg/response"
)

type bookingUseCases interface {
	Submit(ctx context.Context, actor models.Actor, req service.SubmitBookingRequest) (*models.Booking, error)
	Approve(ctx context.Context, actor models.Actor, id string) (*models.Booking, error)
	Reject(ctx context.Context, actor models.Actor, id string, req service.RejectBookingRequest) (*models.Booking, error)
	Cancel(ctx context.Context, actor models.Actor, id string) (*models.Booking, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.Booking, error)
	List(ctx context.Context, actor models.Actor, filter models.BookingFilter) ([]models.Booking, int, error)
}

// BookingHandler exposes the reservation lifecycle endpoints.
type BookingHandler struct {
	service bookingUseCases
}

// NewBookingHandler builds a new handler.
func NewBookingHandler(service bookingUseCases) *BookingHandler {
	return &BookingHandler{service: service}
}

// Submit godoc
// @Summary Submit a booking request
// @Tags Bookings
// @Accept json
// @Produce json
// @Param payload body service.SubmitBookingRequest true "Booking payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /bookings [post]
func (h *BookingHandler) Submit(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.SubmitBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid booking payload"))
		return
	}
	booking, err := h.service.Submit(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, booking)
}

// Get godoc
// @Summary Get a booking
// @Tags Bookings
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /bookings/{id} [get]
func (h *BookingHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	booking, err := h.service.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

// List godoc
// @Summary List bookings
// @Tags Bookings
// @Produce json
// @Param venue_id query string false "Filter by venue"
// @Param status query string false "Filter by status"
// @Param from_date query string false "Range start (YYYY-MM-DD)"
// @Param to_date query string false "Range end (YYYY-MM-DD)"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /bookings [get]
func (h *BookingHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	filter := models.BookingFilter{
		VenueID:     c.Query("venue_id"),
		RequestedBy: c.Query("requested_by"),
		Department:  c.Query("department"),
		Status:      models.BookingStatus(c.Query("status")),
		FromDate:    c.Query("from_date"),
		ToDate:      c.Query("to_date"),
		Page:        queryInt(c, "page", 1),
		PageSize:    queryInt(c, "page_size", 20),
		SortBy:      c.Query("sort_by"),
		SortOrder:   c.Query("sort_order"),
	}
	bookings, total, err := h.service.List(c.Request.Context(), actor, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, bookings, &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	})
}

// Approve godoc
// @Summary Approve a pending booking
// @Tags Bookings
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /bookings/{id}/approve [post]
func (h *BookingHandler) Approve(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	booking, err := h.service.Approve(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

// Reject godoc
// @Summary Reject a pending booking
// @Tags Bookings
// @Accept json
// @Produce json
// @Param id path string true "Booking ID"
// @Param payload body service.RejectBookingRequest true "Rejection reason"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /bookings/{id}/reject [post]
func (h *BookingHandler) Reject(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.RejectBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid rejection payload"))
		return
	}
	booking, err := h.service.Reject(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

// Cancel godoc
// @Summary Cancel a booking
// @Tags Bookings
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /bookings/{id}/cancel [post]
func (h *BookingHandler) Cancel(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	booking, err := h.service.Cancel(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
