package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/wa-attendance-api/internal/dto"
	appErrors "github.com/noah-isme/wa-attendance-api/pkg/errors"
	"github.com/noah-isme/wa-attendance-api/pkg/response"
)

// ChatHandler lets operators talk to the bot over HTTP.
type ChatHandler struct {
	chat     chatService
	validate *validator.Validate
}

// NewChatHandler constructs ChatHandler.
func NewChatHandler(chat chatService, validate *validator.Validate) *ChatHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &ChatHandler{chat: chat, validate: validate}
}

// Send godoc
// @Summary Simulate an inbound text message
// @Tags Chat
// @Accept json
// @Produce json
// @Param payload body dto.ChatRequest true "Message"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Security BearerAuth
// @Router /chat [post]
func (h *ChatHandler) Send(c *gin.Context) {
	var req dto.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	reply, err := h.chat.Handle(c.Request.Context(), dto.InboundMessage{
		From:       req.PhoneNumber,
		Type:       dto.MessageTypeText,
		Text:       req.Message,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reply, nil)
}
