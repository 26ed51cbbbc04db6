package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/wa-attendance-api/internal/dto"
	"github.com/noah-isme/wa-attendance-api/internal/whatsapp"
	"github.com/noah-isme/wa-attendance-api/pkg/jobs"
	"github.com/noah-isme/wa-attendance-api/pkg/logger"
	"github.com/noah-isme/wa-attendance-api/pkg/middleware/requestid"
	"github.com/noah-isme/wa-attendance-api/pkg/storage"
)

const (
	// JobTypeInbound processes one message received on the webhook.
	JobTypeInbound = "whatsapp.inbound"
	// JobTypeReply delivers a reply whose first send attempt failed.
	JobTypeReply = "whatsapp.reply"
)

// OutboundReply is a reply waiting to be delivered.
type OutboundReply struct {
	To   string
	Text string
}

type messenger interface {
	SendText(ctx context.Context, to, body string) error
	DownloadMedia(ctx context.Context, mediaID string, maxBytes int64) (*whatsapp.Media, error)
}

type chatHandler interface {
	Handle(ctx context.Context, msg dto.InboundMessage) (*dto.ChatReply, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
	TryEnqueue(job jobs.Job) error
}

// InboundConfig bounds media handling for webhook messages.
type InboundConfig struct {
	TempDir      string
	MaxMediaSize int64
}

// InboundService turns queued webhook messages into chat replies sent back over WhatsApp.
// Only reply delivery is retried; the conversation itself runs once per message.
type InboundService struct {
	chat      chatHandler
	messenger messenger
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       InboundConfig
	queue     jobEnqueuer
}

// NewInboundService constructs the webhook worker.
func NewInboundService(chat chatHandler, messenger messenger, metrics *MetricsService, logger *zap.Logger, cfg InboundConfig) *InboundService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxMediaSize <= 0 {
		cfg.MaxMediaSize = 10 * 1024 * 1024
	}
	return &InboundService{chat: chat, messenger: messenger, metrics: metrics, logger: logger, cfg: cfg}
}

// UseQueue sets the queue failed replies are pushed back onto.
func (s *InboundService) UseQueue(queue jobEnqueuer) {
	s.queue = queue
}

// Job wraps a webhook message for the queue. Messages are keyed by sender so one student's
// messages are handled in arrival order.
func (s *InboundService) Job(msg whatsapp.Message) jobs.Job {
	return jobs.Job{ID: msg.ID, Key: msg.From, Type: JobTypeInbound, Payload: msg}
}

// Dispatch queues a webhook message for processing.
func (s *InboundService) Dispatch(msg whatsapp.Message) error {
	if s.queue == nil {
		return errors.New("inbound queue not configured")
	}
	return s.queue.Enqueue(s.Job(msg))
}

// Process is the queue handler.
func (s *InboundService) Process(ctx context.Context, job jobs.Job) error {
	switch payload := job.Payload.(type) {
	case whatsapp.Message:
		return s.handleMessage(ctx, payload)
	case OutboundReply:
		return s.messenger.SendText(ctx, payload.To, payload.Text)
	default:
		return jobs.Permanent(fmt.Errorf("unexpected payload %T for job %s", job.Payload, job.Type))
	}
}

func (s *InboundService) handleMessage(ctx context.Context, msg whatsapp.Message) error {
	start := time.Now()
	ctx = requestid.WithValue(ctx, msg.ID)
	log := s.logger.With(zap.String("message_id", msg.ID), zap.String("from", logger.MaskPhone(msg.From)), zap.String("type", msg.Type))

	inbound := dto.InboundMessage{
		ID:         msg.ID,
		From:       msg.From,
		Type:       dto.MessageType(msg.Type),
		Text:       msg.Text,
		ReceivedAt: msg.Timestamp,
	}

	if msg.MediaID != "" {
		scope, err := storage.NewScope(s.cfg.TempDir, s.cfg.MaxMediaSize)
		if err != nil {
			s.metrics.RecordInbound(msg.Type, "media_error")
			return jobs.Permanent(err)
		}
		defer func() {
			if err := scope.Cleanup(); err != nil {
				log.Warn("failed to clean temp files", zap.Error(err))
			}
		}()
		if att, err := s.fetchMedia(ctx, scope, msg); err != nil {
			log.Warn("media download failed", zap.Error(err))
		} else {
			inbound.Attachments = append(inbound.Attachments, *att)
		}
	}

	reply, chatErr := s.chat.Handle(ctx, inbound)
	if chatErr != nil {
		log.Error("chat handling failed", zap.Error(chatErr))
	}
	if reply == nil || reply.Text == "" {
		s.metrics.RecordInbound(msg.Type, outcome(chatErr, nil))
		return jobs.Permanent(chatErr)
	}

	sendErr := s.messenger.SendText(ctx, msg.From, reply.Text)
	s.metrics.RecordInbound(msg.Type, outcome(chatErr, sendErr))
	if sendErr != nil {
		log.Warn("reply delivery failed", zap.Error(sendErr))
		if s.queue != nil {
			retry := jobs.Job{ID: msg.ID, Key: msg.From, Type: JobTypeReply, Payload: OutboundReply{To: msg.From, Text: reply.Text}}
			// runs on a queue worker, so a full buffer drops the retry instead of blocking
			if err := s.queue.TryEnqueue(retry); err != nil {
				log.Error("reply retry dropped", zap.Error(err))
			}
		}
		return jobs.Permanent(sendErr)
	}
	log.Info("message handled", zap.Duration("took", time.Since(start)), zap.String("state", string(reply.State)))
	return jobs.Permanent(chatErr)
}

func (s *InboundService) fetchMedia(ctx context.Context, scope *storage.Scope, msg whatsapp.Message) (*dto.Attachment, error) {
	media, err := s.messenger.DownloadMedia(ctx, msg.MediaID, s.cfg.MaxMediaSize)
	if err != nil {
		return nil, err
	}
	name := msg.Filename
	if name == "" {
		name = msg.MediaID
	}
	path, err := scope.Write(name, bytes.NewReader(media.Data))
	if err != nil {
		return nil, err
	}
	mime := media.MimeType
	if mime == "" {
		mime = msg.MimeType
	}
	return &dto.Attachment{Path: path, MimeType: mime, Filename: msg.Filename}, nil
}

func outcome(chatErr, sendErr error) string {
	switch {
	case sendErr != nil:
		return "send_error"
	case chatErr != nil:
		return "chat_error"
	default:
		return "ok"
	}
}
