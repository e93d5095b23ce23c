package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/venue-booking-api/internal/middleware"
	"github.com/noah-isme/venue-booking-api/internal/models"
	"github.com/noah-isme/venue-booking-api/internal/service"
	appErrors "github.com/noah-isme/venue-booking-api/pkg/errors"
	"github.com/noah-isme/venue-booking-api/pkg/response"
)

type availabilityUseCases interface {
	GetAvailability(ctx context.Context, venueID, fromDate, toDate string) ([]models.AvailabilitySlot, error)
	IsRangeAvailable(ctx context.Context, venueID, fromDate, toDate, startTime, endTime, excludeBookingID string) ([]models.SlotConflict, error)
	Block(ctx context.Context, actor models.Actor, venueID string, req service.BlockVenueRequest) (*models.AvailabilitySlot, error)
	Unblock(ctx context.Context, venueID, slotID string) error
}

type venueListing interface {
	ListActive(ctx context.Context, venueType models.VenueType) ([]models.Venue, error)
}

type bookingExporter interface {
	BookingSheet(ctx context.Context, venueID, fromDate, toDate string, format service.ExportFormat) (*service.ExportFile, error)
}

// AvailabilityHandler exposes the venue ledger endpoints.
type AvailabilityHandler struct {
	availability availabilityUseCases
	venues       venueListing
	exporter     bookingExporter
}

// NewAvailabilityHandler builds a new handler.
func NewAvailabilityHandler(availability availabilityUseCases, venues venueListing, exporter bookingExporter) *AvailabilityHandler {
	return &AvailabilityHandler{availability: availability, venues: venues, exporter: exporter}
}

// ListVenues godoc
// @Summary List bookable venues
// @Tags Venues
// @Produce json
// @Param type query string false "Filter by venue type"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /venues [get]
func (h *AvailabilityHandler) ListVenues(c *gin.Context) {
	venues, err := h.venues.ListActive(c.Request.Context(), models.VenueType(c.Query("type")))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list venues"))
		return
	}
	response.JSON(c, http.StatusOK, venues, nil)
}

// GetAvailability godoc
// @Summary Get venue slot occupancy for a date range
// @Tags Venues
// @Produce json
// @Param id path string true "Venue ID"
// @Param from query string true "Range start (YYYY-MM-DD)"
// @Param to query string true "Range end (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /venues/{id}/availability [get]
func (h *AvailabilityHandler) GetAvailability(c *gin.Context) {
	fromDate := c.Query("from")
	toDate := c.Query("to")
	if fromDate == "" || toDate == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "from and to query parameters are required"))
		return
	}
	slots, err := h.availability.GetAvailability(c.Request.Context(), c.Param("id"), fromDate, toDate)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil, middleware.ExtractMeta(c))
}

// CheckAvailability godoc
// @Summary Check whether a window is free on every date in a range
// @Tags Venues
// @Produce json
// @Param id path string true "Venue ID"
// @Param from_date query string true "Range start (YYYY-MM-DD)"
// @Param to_date query string true "Range end (YYYY-MM-DD)"
// @Param start_time query string true "Window start (HH:MM)"
// @Param end_time query string true "Window end (HH:MM)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /venues/{id}/availability/check [get]
func (h *AvailabilityHandler) CheckAvailability(c *gin.Context) {
	fromDate := c.Query("from_date")
	toDate := c.Query("to_date")
	startTime := c.Query("start_time")
	endTime := c.Query("end_time")
	if fromDate == "" || toDate == "" || startTime == "" || endTime == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "from_date, to_date, start_time and end_time are required"))
		return
	}
	conflicts, err := h.availability.IsRangeAvailable(c.Request.Context(), c.Param("id"), fromDate, toDate, startTime, endTime, "")
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"available": len(conflicts) == 0,
		"conflicts": conflicts,
	}, nil, middleware.ExtractMeta(c))
}

// Block godoc
// @Summary Block a venue window for maintenance, a manual closure, or a tentative hold
// @Tags Venues
// @Accept json
// @Produce json
// @Param id path string true "Venue ID"
// @Param payload body service.BlockVenueRequest true "Block payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /venues/{id}/blocks [post]
func (h *AvailabilityHandler) Block(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.BlockVenueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid block payload"))
		return
	}
	slot, err := h.availability.Block(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, slot)
}

// Unblock godoc
// @Summary Release a manual or maintenance block
// @Tags Venues
// @Produce json
// @Param id path string true "Venue ID"
// @Param slotId path string true "Slot ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /venues/{id}/blocks/{slotId} [delete]
func (h *AvailabilityHandler) Unblock(c *gin.Context) {
	if err := h.availability.Unblock(c.Request.Context(), c.Param("id"), c.Param("slotId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ExportBookings godoc
// @Summary Export a venue booking sheet
// @Tags Venues
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Venue ID"
// @Param from query string true "Range start (YYYY-MM-DD)"
// @Param to query string true "Range end (YYYY-MM-DD)"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /venues/{id}/bookings/export [get]
func (h *AvailabilityHandler) ExportBookings(c *gin.Context) {
	format := service.ExportFormat(c.DefaultQuery("format", string(service.ExportFormatCSV)))
	file, err := h.exporter.BookingSheet(c.Request.Context(), c.Param("id"), c.Query("from"), c.Query("to"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	c.Data(http.StatusOK, file.ContentType, file.Data)
}
