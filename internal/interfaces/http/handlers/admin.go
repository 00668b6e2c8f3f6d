package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bivex/entitlement-sync/internal/application/command"
	"github.com/bivex/entitlement-sync/internal/application/dto"
	"github.com/bivex/entitlement-sync/internal/application/middleware"
	"github.com/bivex/entitlement-sync/internal/infrastructure/logging"
	"github.com/bivex/entitlement-sync/internal/interfaces/http/response"
)

// AdminHandler handles manual entitlement endpoints
type AdminHandler struct {
	grantCmd  *command.GrantManualCommand
	revokeCmd *command.RevokeManualCommand
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(grantCmd *command.GrantManualCommand, revokeCmd *command.RevokeManualCommand) *AdminHandler {
	return &AdminHandler{
		grantCmd:  grantCmd,
		revokeCmd: revokeCmd,
	}
}

// GrantSubscription manually grants a plan to a user
// @Summary Grant subscription to user
// @Tags admin
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path string true "User ID"
// @Param request body dto.GrantManualRequest true "Grant request"
// @Success 200 {object} dto.ManualSubscriptionResponse
// @Router /api/admin/users/{id}/grant [post]
func (h *AdminHandler) GrantSubscription(c *gin.Context) {
	userID := c.Param("id")

	var req dto.GrantManualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request format: "+err.Error())
		return
	}

	resp, err := h.grantCmd.Execute(c.Request.Context(), userID, &req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	logging.GetLogger(c).Info("Admin granted subscription",
		zap.String("admin_id", c.GetString(middleware.ContextUserID)),
		zap.String("target_user_id", userID),
		zap.String("billing_period", req.BillingPeriod),
	)
	response.OK(c, resp)
}

// RevokeSubscription ends a manual grant immediately
// @Summary Revoke manual subscription
// @Tags admin
// @Produce json
// @Security Bearer
// @Param id path string true "User ID"
// @Success 200 {object} dto.ManualSubscriptionResponse
// @Router /api/admin/users/{id}/revoke [post]
func (h *AdminHandler) RevokeSubscription(c *gin.Context) {
	userID := c.Param("id")

	resp, err := h.revokeCmd.Execute(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	logging.GetLogger(c).Info("Admin revoked subscription",
		zap.String("admin_id", c.GetString(middleware.ContextUserID)),
		zap.String("target_user_id", userID),
	)
	response.OK(c, resp)
}
