package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/venue-booking-api/internal/models"
	"github.com/noah-isme/venue-booking-api/internal/service"
	appErrors "github.com/noah-isme/venue-booking-api/pkg/errors"
	"github.com/noah-isme/venue-booking-api/pkg/response"
)

type ruleUseCases interface {
	List(ctx context.Context, scope models.RuleScope, activeOnly bool) ([]models.BookingRule, error)
	Create(ctx context.Context, actor models.Actor, req service.SaveRuleRequest) (*models.BookingRule, error)
	Update(ctx context.Context, id string, req service.SaveRuleRequest) (*models.BookingRule, error)
}

// RuleHandler exposes policy administration endpoints.
type RuleHandler struct {
	service ruleUseCases
}

// NewRuleHandler builds a new handler.
func NewRuleHandler(service ruleUseCases) *RuleHandler {
	return &RuleHandler{service: service}
}

// List godoc
// @Summary List booking rules
// @Tags Rules
// @Produce json
// @Param scope query string false "Filter by scope"
// @Param active query bool false "Only active rules"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /rules [get]
func (h *RuleHandler) List(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	rules, err := h.service.List(c.Request.Context(), models.RuleScope(c.Query("scope")), activeOnly)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rules, nil)
}

// Create godoc
// @Summary Create a booking rule
// @Tags Rules
// @Accept json
// @Produce json
// @Param payload body service.SaveRuleRequest true "Rule payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /rules [post]
func (h *RuleHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.SaveRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid rule payload"))
		return
	}
	rule, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rule)
}

// Update godoc
// @Summary Update a booking rule
// @Tags Rules
// @Accept json
// @Produce json
// @Param id path string true "Rule ID"
// @Param payload body service.SaveRuleRequest true "Rule payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /rules/{id} [put]
func (h *RuleHandler) Update(c *gin.Context) {
	var req service.SaveRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid rule payload"))
		return
	}
	rule, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rule, nil)
}
