package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bivex/entitlement-sync/internal/application/command"
	"github.com/bivex/entitlement-sync/internal/application/dto"
	"github.com/bivex/entitlement-sync/internal/application/middleware"
	"github.com/bivex/entitlement-sync/internal/application/query"
	"github.com/bivex/entitlement-sync/internal/infrastructure/logging"
	"github.com/bivex/entitlement-sync/internal/interfaces/http/response"
)

// SubscriptionHandler handles the user-facing subscription endpoints
type SubscriptionHandler struct {
	getSubQuery   *query.GetSubscriptionQuery
	startCheckout *command.StartCheckoutCommand
	confirmCmd    *command.ConfirmCheckoutCommand
	cancelCmd     *command.CancelSubscriptionCommand
}

// NewSubscriptionHandler creates a new subscription handler
func NewSubscriptionHandler(
	getSubQuery *query.GetSubscriptionQuery,
	startCheckout *command.StartCheckoutCommand,
	confirmCmd *command.ConfirmCheckoutCommand,
	cancelCmd *command.CancelSubscriptionCommand,
) *SubscriptionHandler {
	return &SubscriptionHandler{
		getSubQuery:   getSubQuery,
		startCheckout: startCheckout,
		confirmCmd:    confirmCmd,
		cancelCmd:     cancelCmd,
	}
}

// GetStatus returns the user's entitlement
// @Summary Get subscription status
// @Tags subscription
// @Produce json
// @Security Bearer
// @Success 200 {object} dto.SubscriptionStatusResponse
// @Failure 401 {object} response.ErrorResponse
// @Router /api/subscription/status [get]
func (h *SubscriptionHandler) GetStatus(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)
	if userID == "" {
		response.Unauthorized(c, "User not authenticated")
		return
	}

	resp, err := h.getSubQuery.Execute(c.Request.Context(), userID)
	if err != nil {
		logging.GetLogger(c).Error("Failed to get subscription status", zap.Error(err))
		response.FromError(c, err)
		return
	}

	response.OK(c, resp)
}

// CreateCheckoutSession starts a hosted Stripe checkout
// @Summary Create checkout session
// @Tags subscription
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body dto.CreateCheckoutRequest true "Checkout request"
// @Success 200 {object} dto.CreateCheckoutResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /api/create-checkout-session [post]
func (h *SubscriptionHandler) CreateCheckoutSession(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)
	if userID == "" {
		response.Unauthorized(c, "User not authenticated")
		return
	}

	var req dto.CreateCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request format: "+err.Error())
		return
	}

	resp, err := h.startCheckout.Execute(c.Request.Context(), userID, &req)
	if err != nil {
		logging.GetLogger(c).Warn("Failed to create checkout session", zap.Error(err))
		response.FromError(c, err)
		return
	}

	response.OK(c, resp)
}

// ProcessCheckout confirms a completed checkout after the success redirect
// @Summary Confirm checkout
// @Tags subscription
// @Produce json
// @Security Bearer
// @Param session_id query string true "Stripe checkout session id"
// @Success 200 {object} dto.ProcessCheckoutResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 403 {object} response.ErrorResponse
// @Router /api/subscription/process-checkout [get]
func (h *SubscriptionHandler) ProcessCheckout(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)
	if userID == "" {
		response.Unauthorized(c, "User not authenticated")
		return
	}

	resp, err := h.confirmCmd.Execute(c.Request.Context(), userID, c.Query("session_id"))
	if err != nil {
		logging.GetLogger(c).Warn("Failed to confirm checkout",
			zap.String("session_id", c.Query("session_id")),
			zap.Error(err),
		)
		response.FromError(c, err)
		return
	}

	response.OK(c, resp)
}

// CancelSubscription turns off renewal at the end of the current period
// @Summary Cancel subscription
// @Tags subscription
// @Produce json
// @Security Bearer
// @Success 200 {object} dto.CancelSubscriptionResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Router /api/cancel-subscription [post]
func (h *SubscriptionHandler) CancelSubscription(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)
	if userID == "" {
		response.Unauthorized(c, "User not authenticated")
		return
	}

	resp, err := h.cancelCmd.Execute(c.Request.Context(), userID)
	if err != nil {
		logging.GetLogger(c).Warn("Failed to cancel subscription", zap.Error(err))
		response.FromError(c, err)
		return
	}

	response.OK(c, resp)
}
