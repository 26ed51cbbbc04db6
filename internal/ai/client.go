// Package ai calls an OpenAI compatible chat completions endpoint to read attendance messages and
// timetable images.
package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/wa-attendance-api/internal/dto"
	"github.com/noah-isme/wa-attendance-api/pkg/config"
)

const (
	KindAttendance = "attendance"
	KindSchedule   = "schedule"

	defaultBaseURL     = "https://api.openai.com/v1"
	defaultTextModel   = "gpt-3.5-turbo-0125"
	defaultVisionModel = "gpt-4o"
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("ai client not configured")

// ObserveFunc receives the outcome of every completion call.
type ObserveFunc func(kind string, err error, duration time.Duration)

// Image is one timetable page sent to the vision model. PDF documents are sent as file parts.
type Image struct {
	MimeType string
	Filename string
	Data     []byte
}

// AttendanceQuery is a free-form report with the context the model needs to resolve it.
type AttendanceQuery struct {
	Message  string
	Today    string
	Weekday  string
	Subjects []SubjectHint
	Pending  string
}

// SubjectHint is a scheduled subject shown to the model.
type SubjectHint struct {
	Code string   `json:"code"`
	Name string   `json:"name"`
	Days []string `json:"days,omitempty"`
}

// Client talks to the chat completions API.
type Client struct {
	baseURL     string
	apiKey      string
	textModel   string
	visionModel string
	http        *http.Client
	logger      *zap.Logger
	observe     ObserveFunc
}

// New creates a client with the configured fixed timeout.
func New(cfg config.AIConfig, logger *zap.Logger, observe ObserveFunc) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		textModel:   cfg.TextModel,
		visionModel: cfg.VisionModel,
		http:        &http.Client{Timeout: timeout},
		logger:      logger,
		observe:     observe,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.textModel == "" {
		c.textModel = defaultTextModel
	}
	if c.visionModel == "" {
		c.visionModel = defaultVisionModel
	}
	return c
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
	File     *filePart `json:"file,omitempty"`
}

type filePart struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type completionRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// ParseAttendance asks the text model to structure an attendance report.
func (c *Client) ParseAttendance(ctx context.Context, q AttendanceQuery) (*dto.ParsedAttendance, error) {
	message := q.Message
	if q.Pending != "" {
		message = "Earlier message: " + q.Pending + "\nAnswer to your question: " + q.Message
	}
	req := completionRequest{
		Model: c.textModel,
		Messages: []chatMessage{
			{Role: "system", Content: attendancePrompt(q)},
			{Role: "user", Content: message},
		},
		Temperature:    0.1,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	content, err := c.complete(ctx, KindAttendance, req)
	if err != nil {
		return nil, err
	}
	var parsed dto.ParsedAttendance
	if err := json.Unmarshal([]byte(extractJSON(content)), &parsed); err != nil {
		return nil, fmt.Errorf("decode attendance reply: %w", err)
	}
	return &parsed, nil
}

// ParseSchedule asks the vision model to read timetable images. A reply that is not JSON yields
// an empty schedule rather than an error.
func (c *Client) ParseSchedule(ctx context.Context, images []Image) (*dto.ParsedSchedule, error) {
	if len(images) == 0 {
		return nil, errors.New("no images to parse")
	}
	parts := []contentPart{{Type: "text", Text: schedulePrompt}}
	for _, img := range images {
		mime := img.MimeType
		if mime == "" {
			mime = http.DetectContentType(img.Data)
		}
		dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
		if strings.HasPrefix(mime, "application/pdf") {
			name := img.Filename
			if name == "" {
				name = "schedule.pdf"
			}
			parts = append(parts, contentPart{Type: "file", File: &filePart{Filename: name, FileData: dataURL}})
			continue
		}
		parts = append(parts, contentPart{
			Type: "image_url",
			ImageURL: &imageURL{
				URL:    dataURL,
				Detail: "high",
			},
		})
	}
	req := completionRequest{
		Model:       c.visionModel,
		Messages:    []chatMessage{{Role: "user", Content: parts}},
		Temperature: 0.1,
		MaxTokens:   4000,
	}
	content, err := c.complete(ctx, KindSchedule, req)
	if err != nil {
		return nil, err
	}
	var parsed dto.ParsedSchedule
	if err := json.Unmarshal([]byte(extractJSON(content)), &parsed); err != nil {
		c.logger.Warn("schedule reply was not json", zap.Int("length", len(content)), zap.Error(err))
		return &dto.ParsedSchedule{}, nil
	}
	return &parsed, nil
}

func (c *Client) complete(ctx context.Context, kind string, payload completionRequest) (content string, err error) {
	start := time.Now()
	defer func() {
		if c.observe != nil {
			c.observe(kind, err, time.Since(start))
		}
	}()
	if c.apiKey == "" {
		return "", ErrNotConfigured
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("ai request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ai service error %s: %s", resp.Status, strings.TrimSpace(string(bodyBytes)))
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode completion: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("ai service error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("ai service returned no choices")
	}
	c.logger.Debug("ai completion", zap.String("kind", kind), zap.Duration("took", time.Since(start)))
	return out.Choices[0].Message.Content, nil
}

// extractJSON strips markdown fences and surrounding prose from a model reply.
func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	s = strings.TrimSpace(s)
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
