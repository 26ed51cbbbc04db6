package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/wa-attendance-api/internal/whatsapp"
	appErrors "github.com/noah-isme/wa-attendance-api/pkg/errors"
	"github.com/noah-isme/wa-attendance-api/pkg/logger"
	"github.com/noah-isme/wa-attendance-api/pkg/response"
)

const maxWebhookBody = 1 << 20

// WebhookHandler receives WhatsApp Cloud API deliveries.
type WebhookHandler struct {
	verifyToken string
	inbound     inboundDispatcher
	logger      *zap.Logger
}

// NewWebhookHandler constructs WebhookHandler.
func NewWebhookHandler(verifyToken string, inbound inboundDispatcher, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{verifyToken: verifyToken, inbound: inbound, logger: logger}
}

// Verify godoc
// @Summary Webhook verification handshake
// @Tags Webhook
// @Produce plain
// @Param hub.mode query string true "Must be subscribe"
// @Param hub.verify_token query string true "Configured verify token"
// @Param hub.challenge query string true "Challenge to echo"
// @Success 200 {string} string
// @Failure 403 {object} response.Envelope
// @Router /webhook [get]
func (h *WebhookHandler) Verify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	if mode != "subscribe" || h.verifyToken == "" || token != h.verifyToken {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "webhook verification failed"))
		return
	}
	c.String(http.StatusOK, c.Query("hub.challenge"))
}

// Receive godoc
// @Summary Receive WhatsApp messages
// @Tags Webhook
// @Accept json
// @Produce plain
// @Success 200 {string} string "EVENT_RECEIVED"
// @Failure 400 {object} response.Envelope
// @Router /webhook [post]
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to read body"))
		return
	}
	messages, err := whatsapp.ParseWebhook(body)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid webhook payload"))
		return
	}
	for _, msg := range messages {
		if err := h.inbound.Dispatch(msg); err != nil {
			h.logger.Error("failed to queue inbound message",
				zap.String("message_id", msg.ID),
				zap.String("from", logger.MaskPhone(msg.From)),
				zap.Error(err))
		}
	}
	c.String(http.StatusOK, "EVENT_RECEIVED")
}
