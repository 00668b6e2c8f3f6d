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

// IAPHandler handles in-app purchase verification
type IAPHandler struct {
	verifyIAPCmd *command.VerifyIAPCommand
}

// NewIAPHandler creates a new IAP handler
func NewIAPHandler(verifyIAPCmd *command.VerifyIAPCommand) *IAPHandler {
	return &IAPHandler{
		verifyIAPCmd: verifyIAPCmd,
	}
}

// VerifyPurchase verifies an App Store receipt and applies it to the user
// @Summary Verify iOS purchase
// @Tags iap
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body dto.VerifyIAPRequest true "Receipt"
// @Success 200 {object} dto.VerifyIAPResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Router /api/ios/purchase [post]
func (h *IAPHandler) VerifyPurchase(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)
	if userID == "" {
		response.Unauthorized(c, "User not authenticated")
		return
	}

	var req dto.VerifyIAPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request format: "+err.Error())
		return
	}

	resp, err := h.verifyIAPCmd.Execute(c.Request.Context(), userID, &req)
	if err != nil {
		logging.GetLogger(c).Warn("Failed to verify purchase",
			zap.String("product_id", req.ProductID),
			zap.Error(err),
		)
		response.FromError(c, err)
		return
	}

	response.OK(c, resp)
}
