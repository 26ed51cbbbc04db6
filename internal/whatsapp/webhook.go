package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Message types the assistant acts on.
const (
	TypeText     = "text"
	TypeImage    = "image"
	TypeDocument = "document"
)

// Message is one inbound user message extracted from a webhook delivery.
type Message struct {
	ID        string
	From      string
	Type      string
	Text      string
	MediaID   string
	MimeType  string
	Filename  string
	Caption   string
	Timestamp time.Time
}

type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Metadata struct {
					DisplayPhoneNumber string `json:"display_phone_number"`
					PhoneNumberID      string `json:"phone_number_id"`
				} `json:"metadata"`
				Messages []rawMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type rawMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

type rawMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *rawMedia `json:"image"`
	Document *rawMedia `json:"document"`
}

// ParseWebhook decodes a Cloud API delivery. Status callbacks, group or broadcast senders,
// unsupported message types and messages sent from the business number itself are skipped.
func ParseWebhook(body []byte) ([]Message, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	if payload.Object != "" && payload.Object != "whatsapp_business_account" {
		return nil, nil
	}
	out := make([]Message, 0)
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			own := digits(change.Value.Metadata.DisplayPhoneNumber)
			for _, raw := range change.Value.Messages {
				if raw.From == "" || isGroupSender(raw.From) || (own != "" && digits(raw.From) == own) {
					continue
				}
				msg := Message{ID: raw.ID, From: raw.From, Type: raw.Type, Timestamp: parseUnix(raw.Timestamp)}
				switch raw.Type {
				case TypeText:
					if raw.Text == nil || strings.TrimSpace(raw.Text.Body) == "" {
						continue
					}
					msg.Text = raw.Text.Body
				case TypeImage, TypeDocument:
					media := raw.Image
					if raw.Type == TypeDocument {
						media = raw.Document
					}
					if media == nil || media.ID == "" {
						continue
					}
					msg.MediaID = media.ID
					msg.MimeType = media.MimeType
					msg.Filename = media.Filename
					msg.Caption = media.Caption
				default:
					continue
				}
				out = append(out, msg)
			}
		}
	}
	return out, nil
}

// VerifySignature checks an X-Hub-Signature-256 header against the app secret.
func VerifySignature(secret string, body []byte, header string) bool {
	sig := strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	expected, err := hex.DecodeString(sig)
	if err != nil || len(expected) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// Sign renders the X-Hub-Signature-256 value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func isGroupSender(from string) bool {
	return strings.HasSuffix(from, "@g.us") || strings.HasSuffix(from, "@broadcast")
}

func parseUnix(raw string) time.Time {
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
