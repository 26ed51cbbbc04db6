// Package whatsapp is a small client for the WhatsApp Cloud API: sending text replies, downloading
// inbound media and decoding webhook deliveries.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/wa-attendance-api/pkg/config"
	"github.com/noah-isme/wa-attendance-api/pkg/logger"
)

const (
	defaultAPIURL = "https://graph.facebook.com/v17.0"
	// MaxTextLength is the Cloud API limit for a text message body.
	MaxTextLength = 4096
)

// ErrNotConfigured is returned when the token or phone number id is missing.
var ErrNotConfigured = errors.New("whatsapp client not configured")

// Media is a downloaded attachment.
type Media struct {
	Data     []byte
	MimeType string
}

// Client sends messages and fetches media through the Graph API.
type Client struct {
	apiURL        string
	token         string
	phoneNumberID string
	http          *http.Client
	logger        *zap.Logger
}

// NewClient builds a client from configuration.
func NewClient(cfg config.WhatsAppConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		apiURL:        apiURL,
		token:         cfg.Token,
		phoneNumberID: cfg.PhoneNumberID,
		http:          &http.Client{Timeout: timeout},
		logger:        logger,
	}
}

// Configured reports whether outbound calls can be made.
func (c *Client) Configured() bool {
	return c != nil && c.token != "" && c.phoneNumberID != ""
}

// SendText delivers body to the phone number. Overlong bodies are truncated.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	if runes := []rune(body); len(runes) > MaxTextLength {
		body = string(runes[:MaxTextLength-1]) + "…"
	}
	payload, err := json.Marshal(map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": body},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/"+c.phoneNumberID+"/messages", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if _, err := c.do(req); err != nil {
		return fmt.Errorf("send whatsapp message: %w", err)
	}
	c.logger.Debug("whatsapp message sent", zap.String("to", logger.MaskPhone(to)))
	return nil
}

// DownloadMedia resolves a media id and fetches its bytes, refusing anything above maxBytes.
func (c *Client) DownloadMedia(ctx context.Context, mediaID string, maxBytes int64) (*Media, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/"+mediaID, nil)
	if err != nil {
		return nil, err
	}
	raw, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("lookup media %s: %w", mediaID, err)
	}
	var meta struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
		FileSize int64  `json:"file_size"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode media metadata: %w", err)
	}
	if meta.URL == "" {
		return nil, fmt.Errorf("media %s has no download url", mediaID)
	}
	if maxBytes > 0 && meta.FileSize > maxBytes {
		return nil, fmt.Errorf("media %s is %d bytes, limit %d", mediaID, meta.FileSize, maxBytes)
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download media %s: %w", mediaID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download media %s: %s", mediaID, resp.Status)
	}
	reader := io.Reader(resp.Body)
	if maxBytes > 0 {
		reader = io.LimitReader(resp.Body, maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read media %s: %w", mediaID, err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("media %s exceeds %d bytes", mediaID, maxBytes)
	}
	mime := meta.MimeType
	if mime == "" {
		mime = resp.Header.Get("Content-Type")
	}
	return &Media{Data: data, MimeType: mime}, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("whatsapp api error %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}
