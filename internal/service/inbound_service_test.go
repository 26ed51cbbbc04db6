package service

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/wa-attendance-api/internal/dto"
	"github.com/noah-isme/wa-attendance-api/internal/whatsapp"
	appErrors "github.com/noah-isme/wa-attendance-api/pkg/errors"
	"github.com/noah-isme/wa-attendance-api/pkg/jobs"
)

type sentText struct {
	to   string
	body string
}

type stubMessenger struct {
	mu       sync.Mutex
	sent     []sentText
	sendErr  error
	media    *whatsapp.Media
	mediaErr error
}

func (m *stubMessenger) SendText(ctx context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, sentText{to: to, body: body})
	return nil
}

func (m *stubMessenger) DownloadMedia(ctx context.Context, mediaID string, maxBytes int64) (*whatsapp.Media, error) {
	if m.mediaErr != nil {
		return nil, m.mediaErr
	}
	return m.media, nil
}

type recordingChat struct {
	reply    *dto.ChatReply
	err      error
	received []dto.InboundMessage
	files    [][]byte
}

func (c *recordingChat) Handle(ctx context.Context, msg dto.InboundMessage) (*dto.ChatReply, error) {
	c.received = append(c.received, msg)
	for _, att := range msg.Attachments {
		data, err := os.ReadFile(att.Path)
		if err == nil {
			c.files = append(c.files, data)
		}
	}
	return c.reply, c.err
}

type recordingQueue struct {
	jobs  []jobs.Job
	tried []jobs.Job
}

func (q *recordingQueue) Enqueue(job jobs.Job) error {
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) TryEnqueue(job jobs.Job) error {
	q.tried = append(q.tried, job)
	q.jobs = append(q.jobs, job)
	return nil
}

func TestInboundServiceSendsReply(t *testing.T) {
	chat := &recordingChat{reply: &dto.ChatReply{Text: "hello back"}}
	messenger := &stubMessenger{}
	metrics := NewMetricsService()
	svc := NewInboundService(chat, messenger, metrics, nil, InboundConfig{TempDir: t.TempDir()})

	msg := whatsapp.Message{ID: "wamid.1", From: "919876543210", Type: whatsapp.TypeText, Text: "help"}
	job := svc.Job(msg)
	assert.Equal(t, JobTypeInbound, job.Type)

	require.NoError(t, svc.Process(context.Background(), job))
	require.Len(t, chat.received, 1)
	assert.Equal(t, dto.MessageTypeText, chat.received[0].Type)
	assert.Equal(t, "help", chat.received[0].Text)
	require.Len(t, messenger.sent, 1)
	assert.Equal(t, sentText{to: "919876543210", body: "hello back"}, messenger.sent[0])
	assert.Equal(t, uint64(1), metrics.Snapshot().InboundMessages)
}

func TestInboundServiceDownloadsMediaIntoScope(t *testing.T) {
	chat := &recordingChat{reply: &dto.ChatReply{Text: "schedule saved"}}
	messenger := &stubMessenger{media: &whatsapp.Media{Data: []byte("png"), MimeType: "image/png"}}
	tempDir := t.TempDir()
	svc := NewInboundService(chat, messenger, nil, nil, InboundConfig{TempDir: tempDir})

	msg := whatsapp.Message{ID: "wamid.2", From: "919876543210", Type: whatsapp.TypeImage, MediaID: "media-1"}
	require.NoError(t, svc.Process(context.Background(), svc.Job(msg)))

	require.Len(t, chat.received, 1)
	require.Len(t, chat.received[0].Attachments, 1)
	assert.Equal(t, "image/png", chat.received[0].Attachments[0].MimeType)
	assert.Equal(t, [][]byte{[]byte("png")}, chat.files)

	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInboundServiceMediaFailureStillReplies(t *testing.T) {
	chat := &recordingChat{reply: &dto.ChatReply{Text: replyMediaMissing}}
	messenger := &stubMessenger{mediaErr: errors.New("graph api 404")}
	svc := NewInboundService(chat, messenger, nil, nil, InboundConfig{TempDir: t.TempDir()})

	msg := whatsapp.Message{ID: "wamid.3", From: "919876543210", Type: whatsapp.TypeDocument, MediaID: "gone"}
	require.NoError(t, svc.Process(context.Background(), svc.Job(msg)))
	assert.Empty(t, chat.received[0].Attachments)
	require.Len(t, messenger.sent, 1)
}

func TestInboundServiceChatErrorIsPermanent(t *testing.T) {
	chat := &recordingChat{reply: &dto.ChatReply{Text: replyParseFailed}, err: appErrors.Clone(appErrors.ErrUpstream, "ai down")}
	messenger := &stubMessenger{}
	svc := NewInboundService(chat, messenger, nil, nil, InboundConfig{TempDir: t.TempDir()})

	err := svc.Process(context.Background(), svc.Job(whatsapp.Message{ID: "wamid.4", From: "919876543210", Type: whatsapp.TypeText, Text: "present"}))
	require.Error(t, err)
	assert.True(t, jobs.IsPermanent(err))
	assert.ErrorIs(t, err, appErrors.ErrUpstream)
	require.Len(t, messenger.sent, 1)
	assert.Equal(t, replyParseFailed, messenger.sent[0].body)
}

func TestInboundServiceQueuesReplyRetry(t *testing.T) {
	chat := &recordingChat{reply: &dto.ChatReply{Text: "recorded"}}
	messenger := &stubMessenger{sendErr: errors.New("connection reset")}
	queue := &recordingQueue{}
	svc := NewInboundService(chat, messenger, nil, nil, InboundConfig{TempDir: t.TempDir()})
	svc.UseQueue(queue)

	err := svc.Process(context.Background(), svc.Job(whatsapp.Message{ID: "wamid.5", From: "919876543210", Type: whatsapp.TypeText, Text: "present"}))
	require.Error(t, err)
	assert.True(t, jobs.IsPermanent(err))
	require.Len(t, queue.jobs, 1)
	assert.Len(t, queue.tried, 1)
	assert.Equal(t, JobTypeReply, queue.jobs[0].Type)
	assert.Equal(t, "919876543210", queue.jobs[0].Key)
	assert.Equal(t, OutboundReply{To: "919876543210", Text: "recorded"}, queue.jobs[0].Payload)

	// the retry job only resends; a transport failure is returned for the queue to retry
	err = svc.Process(context.Background(), queue.jobs[0])
	require.Error(t, err)
	assert.False(t, jobs.IsPermanent(err))

	messenger.sendErr = nil
	require.NoError(t, svc.Process(context.Background(), queue.jobs[0]))
	assert.Len(t, chat.received, 1)
	assert.Len(t, messenger.sent, 1)
}

func TestInboundServiceRejectsUnknownPayload(t *testing.T) {
	svc := NewInboundService(&recordingChat{}, &stubMessenger{}, nil, nil, InboundConfig{})
	err := svc.Process(context.Background(), jobs.Job{Type: "other", Payload: 42})
	assert.True(t, jobs.IsPermanent(err))
}

func TestInboundServiceDispatch(t *testing.T) {
	svc := NewInboundService(&recordingChat{}, &stubMessenger{}, nil, nil, InboundConfig{})
	msg := whatsapp.Message{ID: "wamid.6", From: "919876543210", Type: whatsapp.TypeText, Text: "hi"}
	require.Error(t, svc.Dispatch(msg))

	queue := &recordingQueue{}
	svc.UseQueue(queue)
	require.NoError(t, svc.Dispatch(msg))
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, JobTypeInbound, queue.jobs[0].Type)
	assert.Equal(t, "wamid.6", queue.jobs[0].ID)
	assert.Equal(t, msg, queue.jobs[0].Payload)
}

func TestInboundServiceReplyRetryNeverBlocksWorkers(t *testing.T) {
	chat := &recordingChat{reply: &dto.ChatReply{Text: "recorded"}}
	messenger := &stubMessenger{sendErr: errors.New("whatsapp unavailable")}
	svc := NewInboundService(chat, messenger, nil, nil, InboundConfig{TempDir: t.TempDir()})
	queue := jobs.NewQueue("inbound-test", svc.Process, jobs.QueueConfig{
		Workers:    1,
		BufferSize: 1,
		MaxRetries: -1,
	})
	svc.UseQueue(queue)
	queue.Start(context.Background())
	defer queue.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 4; i++ {
			msg := whatsapp.Message{ID: "wamid.full", From: "919876543210", Type: whatsapp.TypeText, Text: "present"}
			if err := svc.Dispatch(msg); err != nil {
				t.Errorf("dispatch: %v", err)
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatch blocked with %d pending jobs", queue.Pending())
	}
}
