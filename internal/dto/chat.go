package dto

import (
	"time"

	"github.com/noah-isme/wa-attendance-api/internal/models"
)

// MessageType classifies inbound messages.
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeDocument MessageType = "document"
)

// Attachment is a media file already written to a temp scope.
type Attachment struct {
	Path     string `json:"-"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename,omitempty"`
}

// InboundMessage is a message from a student, whatever the transport.
type InboundMessage struct {
	ID          string       `json:"id"`
	From        string       `json:"from"`
	Type        MessageType  `json:"type"`
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ReceivedAt  time.Time    `json:"received_at"`
}

// ChatReply is what the bot answers.
type ChatReply struct {
	Text          string           `json:"text"`
	State         models.ChatState `json:"state,omitempty"`
	NeedsMoreInfo bool             `json:"needs_more_info,omitempty"`
	Download      *ExportLink      `json:"download,omitempty"`
}

// ChatRequest simulates an inbound text message through the REST API.
type ChatRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required"`
	Message     string `json:"message" validate:"required,max=4096"`
}
