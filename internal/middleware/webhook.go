package middleware

import (
	"bytes"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/wa-attendance-api/internal/whatsapp"
	appErrors "github.com/noah-isme/wa-attendance-api/pkg/errors"
	"github.com/noah-isme/wa-attendance-api/pkg/response"
)

// SignatureHeader carries the HMAC of a webhook delivery.
const SignatureHeader = "X-Hub-Signature-256"

// WebhookSignature rejects deliveries whose X-Hub-Signature-256 does not match the app secret.
// With no secret configured every delivery passes. The body is restored for the handler.
func WebhookSignature(appSecret string, maxBody int64) gin.HandlerFunc {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return func(c *gin.Context) {
		if appSecret == "" {
			c.Next()
			return
		}
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBody))
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to read body"))
			c.Abort()
			return
		}
		if !whatsapp.VerifySignature(appSecret, body, c.GetHeader(SignatureHeader)) {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid webhook signature"))
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}
