package handlers

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bivex/entitlement-sync/internal/application/command"
	"github.com/bivex/entitlement-sync/internal/application/dto"
	"github.com/bivex/entitlement-sync/internal/domain/valueobject"
	"github.com/bivex/entitlement-sync/internal/infrastructure/logging"
	"github.com/bivex/entitlement-sync/internal/infrastructure/metrics"
	"github.com/bivex/entitlement-sync/internal/interfaces/http/response"
)

// maxWebhookBody bounds the raw body read before signature verification
const maxWebhookBody = 1 << 20

// WebhookHandler receives platform webhooks. The raw body is handed to the
// platform adapter untouched so signatures verify.
type WebhookHandler struct {
	processCmd *command.ProcessWebhookCommand
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(processCmd *command.ProcessWebhookCommand) *WebhookHandler {
	return &WebhookHandler{
		processCmd: processCmd,
	}
}

// StripeWebhook handles Stripe webhook events
// @Summary Stripe webhook
// @Tags webhooks
// @Accept json
// @Produce json
// @Success 200 {object} dto.WebhookResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /api/webhook/stripe [post]
func (h *WebhookHandler) StripeWebhook(c *gin.Context) {
	h.handle(c, valueobject.PlatformStripe)
}

// AppleWebhook handles App Store Server Notifications V2
// @Summary Apple webhook
// @Tags webhooks
// @Accept json
// @Produce json
// @Success 200 {object} dto.WebhookResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /api/apple/webhook [post]
func (h *WebhookHandler) AppleWebhook(c *gin.Context) {
	h.handle(c, valueobject.PlatformApple)
}

func (h *WebhookHandler) handle(c *gin.Context, platform valueobject.Platform) {
	start := time.Now()
	log := logging.GetLogger(c).With(zap.String("platform", platform.String()))
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(platform.String(), strconv.Itoa(c.Writer.Status())).Inc()
		metrics.WebhookDuration.WithLabelValues(platform.String()).Observe(time.Since(start).Seconds())
	}()

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(c, "Failed to read body")
		return
	}

	result, err := h.processCmd.Execute(c.Request.Context(), platform, body, c.Request.Header)
	if err != nil {
		status, _, _ := response.Classify(err)
		if status >= http.StatusInternalServerError {
			log.Error("Webhook processing failed, platform will retry", zap.Error(err))
		} else {
			log.Warn("Webhook rejected", zap.Error(err))
		}
		response.FromError(c, err)
		return
	}

	response.OK(c, dto.WebhookResponse{Received: true, Outcome: string(result.Outcome)})
}
