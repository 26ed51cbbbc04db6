package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/wa-attendance-api/internal/ai"
	"github.com/noah-isme/wa-attendance-api/internal/dto"
	"github.com/noah-isme/wa-attendance-api/internal/models"
	"github.com/noah-isme/wa-attendance-api/pkg/dateutil"
	appErrors "github.com/noah-isme/wa-attendance-api/pkg/errors"
	"github.com/noah-isme/wa-attendance-api/pkg/logger"
)

const (
	replyWelcome = "Welcome to the Attendance Tracker! Please share your schedule as a PDF or image to get started. " +
		"You can also type 'help' for assistance."
	replyAwaitingSchedule = "I'm waiting for your schedule. Please send it as a PDF or image."
	replyHelp             = "🤖 *Attendance Tracker Help* 🤖\n\n" +
		"- Send your schedule as a PDF or image\n" +
		"- Tell me which classes you attended today\n" +
		"- Use 'attendance' to see your overall attendance\n" +
		"- Use 'subjects' to see subject-wise attendance\n" +
		"- Use 'report' to get a PDF report\n" +
		"- Use 'reset' to upload a new schedule"
	replyReset          = "Your data has been reset. Please send your new schedule as a PDF or image."
	replyNoSchedule     = "I don't have your schedule yet. Please send it as a PDF or image."
	replyEmptySchedule  = "Your schedule doesn't list any classes yet. Please send a clearer photo or PDF of your timetable."
	replyEmptyText      = "Please type 'help' to see what I can do for you."
	replyNothingToSave  = "I couldn't find any classes in your message. Tell me which classes you attended, for example 'attended CS101, missed MATH201'."
	replyAskAgain       = "Could you tell me which classes you attended and which you missed?"
	replyParseFailed    = "😔 I'm sorry, I had trouble understanding your message. Please try again in a moment."
	replyRecordFailed   = "😔 I'm sorry, there was a problem recording your attendance. Please try again."
	replyOops           = "😅 Oops! I'm having a small technical issue. Please try again in a moment. If the problem continues, type 'help' for assistance."
	replyMediaMissing   = "I couldn't download the file you sent. Please send it again."
	replyMediaType      = "Please send your schedule as an image (JPG or PNG) or a PDF."
	replyDocumentFailed = "Sorry, I had trouble processing your document. Please make sure it's clear and contains your schedule information."
	replyScheduleEmpty  = "I couldn't find any classes in that document. Please send a clearer photo or PDF of your timetable."
	replyReportFailed   = "Sorry, I couldn't prepare your report right now. Please try again later."
)

// chatParser reads free text and timetable media into structured data.
type chatParser interface {
	ParseAttendance(ctx context.Context, q ai.AttendanceQuery) (*dto.ParsedAttendance, error)
	ParseSchedule(ctx context.Context, images []ai.Image) (*dto.ParsedSchedule, error)
}

// ChatService runs the WhatsApp conversation. Messages from one phone number are handled one at a
// time; different students proceed concurrently.
type ChatService struct {
	students   *StudentService
	schedules  *ScheduleService
	attendance *AttendanceService
	summaries  *SummaryService
	exports    *ExportService
	parser     chatParser
	logger     *zap.Logger
	locks      *keyedMutex
}

// NewChatService wires the conversation engine.
func NewChatService(students *StudentService, schedules *ScheduleService, attendance *AttendanceService, summaries *SummaryService, exports *ExportService, parser chatParser, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		students:   students,
		schedules:  schedules,
		attendance: attendance,
		summaries:  summaries,
		exports:    exports,
		parser:     parser,
		logger:     logger,
		locks:      newKeyedMutex(),
	}
}

// Handle answers one inbound message. The returned reply is always safe to send; a non-nil error
// reports what went wrong behind an apology reply.
func (s *ChatService) Handle(ctx context.Context, msg dto.InboundMessage) (*dto.ChatReply, error) {
	phone := s.students.NormalizePhone(msg.From)
	if phone == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "sender phone number is required")
	}
	unlock := s.locks.Lock(phone)
	defer unlock()

	student, err := s.students.GetByPhone(ctx, phone)
	if err != nil && !errors.Is(err, appErrors.ErrStudentNotFound) {
		return &dto.ChatReply{Text: replyOops}, err
	}
	if errors.Is(err, appErrors.ErrStudentNotFound) {
		student = nil
	}

	switch msg.Type {
	case dto.MessageTypeImage, dto.MessageTypeDocument:
		return s.handleMedia(ctx, phone, msg)
	default:
		return s.handleText(ctx, student, msg.Text)
	}
}

func (s *ChatService) handleText(ctx context.Context, student *models.Student, text string) (*dto.ChatReply, error) {
	if student == nil {
		return &dto.ChatReply{Text: replyWelcome}, nil
	}
	command := strings.ToLower(strings.TrimSpace(text))
	if command == "help" {
		return &dto.ChatReply{Text: replyHelp, State: student.ChatState}, nil
	}
	if student.ChatState == models.ChatStateAwaitingSchedule {
		return &dto.ChatReply{Text: replyAwaitingSchedule, State: student.ChatState}, nil
	}

	switch command {
	case "":
		return &dto.ChatReply{Text: replyEmptyText, State: student.ChatState}, nil
	case "reset":
		if err := s.students.SetChatState(ctx, student.ID, models.ChatStateAwaitingSchedule); err != nil {
			return &dto.ChatReply{Text: replyOops, State: student.ChatState}, err
		}
		return &dto.ChatReply{Text: replyReset, State: models.ChatStateAwaitingSchedule}, nil
	case "attendance", "summary":
		return s.summaryReply(ctx, student, formatSummary)
	case "subjects":
		return s.summaryReply(ctx, student, formatSubjects)
	case "report":
		return s.reportReply(ctx, student)
	}
	return s.recordReply(ctx, student, strings.TrimSpace(text))
}

func (s *ChatService) summaryReply(ctx context.Context, student *models.Student, render func(*models.AttendanceSummary) string) (*dto.ChatReply, error) {
	summary, err := s.summaries.Summary(ctx, student.ID)
	if err != nil {
		if errors.Is(err, appErrors.ErrScheduleNotFound) {
			return &dto.ChatReply{Text: replyNoSchedule, State: student.ChatState}, nil
		}
		return &dto.ChatReply{Text: replyOops, State: student.ChatState}, err
	}
	return &dto.ChatReply{Text: render(summary), State: student.ChatState}, nil
}

func (s *ChatService) reportReply(ctx context.Context, student *models.Student) (*dto.ChatReply, error) {
	if s.exports == nil {
		return &dto.ChatReply{Text: replyReportFailed, State: student.ChatState}, nil
	}
	file, err := s.exports.Summary(ctx, student.ID, dto.ExportFormatPDF)
	if err != nil {
		if errors.Is(err, appErrors.ErrScheduleNotFound) {
			return &dto.ChatReply{Text: replyNoSchedule, State: student.ChatState}, nil
		}
		return &dto.ChatReply{Text: replyReportFailed, State: student.ChatState}, err
	}
	link, err := s.exports.Publish(ctx, student.ID, file)
	if err != nil {
		return &dto.ChatReply{Text: replyReportFailed, State: student.ChatState}, err
	}
	text := fmt.Sprintf("📄 Your attendance report is ready:\n%s\n\nThe link expires at %s UTC.", link.URL, link.ExpiresAt.UTC().Format("2006-01-02 15:04"))
	return &dto.ChatReply{Text: text, State: student.ChatState, Download: link}, nil
}

func (s *ChatService) recordReply(ctx context.Context, student *models.Student, text string) (*dto.ChatReply, error) {
	schedule, err := s.schedules.Get(ctx, student.ID)
	if err != nil {
		if errors.Is(err, appErrors.ErrScheduleNotFound) {
			return &dto.ChatReply{Text: replyNoSchedule, State: student.ChatState}, nil
		}
		return &dto.ChatReply{Text: replyOops, State: student.ChatState}, err
	}
	if len(schedule.Slots) == 0 {
		return &dto.ChatReply{Text: replyEmptySchedule, State: student.ChatState}, nil
	}

	today := s.attendance.Today()
	query := ai.AttendanceQuery{
		Message:  text,
		Today:    dateutil.Format(today),
		Weekday:  today.Weekday().String(),
		Subjects: subjectHints(schedule),
	}
	pending, hasPending := s.students.Pending(student)
	if hasPending {
		query.Pending = pending.Message
	}

	parsed, err := s.parser.ParseAttendance(ctx, query)
	if err != nil {
		s.logger.Warn("attendance parse failed", zap.String("student_id", student.ID), zap.Error(err))
		return &dto.ChatReply{Text: replyParseFailed, State: student.ChatState},
			appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "failed to read attendance message")
	}

	if parsed.NeedsMoreInfo {
		question := strings.TrimSpace(parsed.ClarificationQuestion)
		if question == "" {
			question = replyAskAgain
		}
		message := text
		if hasPending {
			message = pending.Message + "\n" + text
		}
		if err := s.students.SavePending(ctx, student.ID, models.PendingAttendance{Message: message, Question: question}); err != nil {
			return &dto.ChatReply{Text: replyOops, State: student.ChatState}, err
		}
		return &dto.ChatReply{Text: question, State: models.ChatStateAwaitingAttendance, NeedsMoreInfo: true}, nil
	}

	result, err := s.attendance.Record(ctx, student.ID, dto.FromParsed(*parsed))
	if err != nil {
		if errors.Is(err, appErrors.ErrValidation) {
			return &dto.ChatReply{Text: replyNothingToSave, State: student.ChatState}, nil
		}
		return &dto.ChatReply{Text: replyRecordFailed, State: student.ChatState}, err
	}
	if student.ChatState != models.ChatStateIdle || hasPending {
		if err := s.students.SetChatState(ctx, student.ID, models.ChatStateIdle); err != nil {
			s.logger.Warn("failed to clear chat state", zap.String("student_id", student.ID), zap.Error(err))
		}
	}
	return &dto.ChatReply{Text: formatRecordResult(result), State: models.ChatStateIdle}, nil
}

func (s *ChatService) handleMedia(ctx context.Context, phone string, msg dto.InboundMessage) (*dto.ChatReply, error) {
	result, err := s.importSchedule(ctx, phone, msg.Attachments)
	switch {
	case err == nil:
	case errors.Is(err, appErrors.ErrUnsupportedMedia):
		return &dto.ChatReply{Text: replyMediaType}, nil
	case errors.Is(err, appErrors.ErrValidation) && len(msg.Attachments) == 0:
		return &dto.ChatReply{Text: replyMediaMissing}, nil
	default:
		return &dto.ChatReply{Text: replyDocumentFailed}, err
	}
	if result.Empty {
		if err := s.students.SetChatState(ctx, result.Student.ID, models.ChatStateAwaitingSchedule); err != nil {
			s.logger.Warn("failed to set chat state", zap.String("student_id", result.Student.ID), zap.Error(err))
		}
		return &dto.ChatReply{Text: replyScheduleEmpty, State: models.ChatStateAwaitingSchedule}, nil
	}
	return &dto.ChatReply{Text: formatIngestResult(result), State: models.ChatStateIdle}, nil
}

// ImportSchedule reads timetable files with the vision model and stores the result for phone.
func (s *ChatService) ImportSchedule(ctx context.Context, phone string, attachments []dto.Attachment) (*dto.IngestResult, error) {
	normalized := s.students.NormalizePhone(phone)
	if normalized == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "phone number is required")
	}
	unlock := s.locks.Lock(normalized)
	defer unlock()
	return s.importSchedule(ctx, normalized, attachments)
}

func (s *ChatService) importSchedule(ctx context.Context, phone string, attachments []dto.Attachment) (*dto.IngestResult, error) {
	if len(attachments) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one schedule file is required")
	}
	images := make([]ai.Image, 0, len(attachments))
	for _, att := range attachments {
		if !supportedScheduleMime(att.MimeType) {
			return nil, appErrors.Clone(appErrors.ErrUnsupportedMedia, "schedule files must be images or PDF")
		}
		data, err := os.ReadFile(att.Path)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read attachment")
		}
		images = append(images, ai.Image{MimeType: att.MimeType, Filename: att.Filename, Data: data})
	}

	parsed, err := s.parser.ParseSchedule(ctx, images)
	if err != nil {
		s.logger.Warn("schedule parse failed", zap.String("phone", logger.MaskPhone(phone)), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "failed to read schedule")
	}
	return s.schedules.Ingest(ctx, dto.IngestScheduleRequest{PhoneNumber: phone, Parsed: *parsed})
}

func supportedScheduleMime(mime string) bool {
	mime = strings.ToLower(strings.TrimSpace(mime))
	return strings.HasPrefix(mime, "image/") || strings.HasPrefix(mime, "application/pdf")
}

func subjectHints(schedule *models.Schedule) []ai.SubjectHint {
	days := make(map[string][]string)
	for _, slot := range schedule.Slots {
		list := days[slot.SubjectID]
		if len(list) == 0 || list[len(list)-1] != slot.DayOfWeek {
			days[slot.SubjectID] = append(list, slot.DayOfWeek)
		}
	}
	hints := make([]ai.SubjectHint, 0, len(schedule.Subjects))
	for _, subj := range schedule.Subjects {
		hints = append(hints, ai.SubjectHint{Code: subj.Code, Name: subj.Name, Days: days[subj.SubjectID]})
	}
	return hints
}

func percentLabel(p string) string {
	if p == models.PercentageNA {
		return p
	}
	return p + "%"
}

func formatSummary(summary *models.AttendanceSummary) string {
	var b strings.Builder
	b.WriteString("📊 *Attendance Summary* 📊\n\n")
	fmt.Fprintf(&b, "Overall: %d/%d (%s)\n\n", summary.Present, summary.Total, percentLabel(summary.Percentage))
	b.WriteString("*Subject-wise Breakdown:*\n")
	for _, subj := range summary.Subjects {
		fmt.Fprintf(&b, "- %s: %d/%d (%s)\n", subj.Code, subj.Present, subj.Total, percentLabel(subj.Percentage))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatSubjects(summary *models.AttendanceSummary) string {
	var b strings.Builder
	b.WriteString("📚 *Subject-wise Attendance* 📚\n\n")
	for _, subj := range summary.Subjects {
		marker := ""
		if v, ok := models.PercentageValue(subj.Percentage); ok {
			switch {
			case v < 75:
				marker = "⚠️ "
			case v >= 90:
				marker = "🌟 "
			}
		}
		fmt.Fprintf(&b, "%s*%s (%s)*\n   %d/%d classes (%s)\n\n", marker, subj.Name, subj.Code, subj.Present, subj.Total, percentLabel(subj.Percentage))
	}
	return strings.TrimRight(b.String(), "\n")
}

func statusLabel(status models.AttendanceStatus) string {
	switch status {
	case models.AttendanceStatusPresent:
		return "✅ Present"
	case models.AttendanceStatusAbsent:
		return "❌ Absent"
	case models.AttendanceStatusCancelled:
		return "🚫 Cancelled"
	case models.AttendanceStatusHoliday:
		return "🏖️ Holiday"
	default:
		return string(status)
	}
}

func formatRecordResult(result *dto.RecordResult) string {
	var b strings.Builder
	switch {
	case result.Holiday && len(result.Applied) == 0:
		fmt.Fprintf(&b, "Marked %s as a holiday. You had no classes scheduled that day.", result.Date)
	case result.Holiday:
		fmt.Fprintf(&b, "Marked %s as a holiday. No classes counted for this day.", result.Date)
	case len(result.Applied) == 0:
		fmt.Fprintf(&b, "I couldn't record anything for %s (%s).", result.Date, result.Weekday)
	default:
		fmt.Fprintf(&b, "Attendance recorded for %s (%s):\n\n", result.Date, result.Weekday)
		for _, entry := range result.Applied {
			name := entry.Name
			if name == "" {
				name = entry.Code
			}
			fmt.Fprintf(&b, "- %s: %s\n", name, statusLabel(entry.Status))
		}
	}
	if len(result.Unresolved) > 0 {
		b.WriteString("\n\nNot recorded:\n")
		for _, entry := range result.Unresolved {
			fmt.Fprintf(&b, "- %s (%s)\n", entry.SubjectCode, entry.Reason)
		}
	}
	return strings.TrimSpace(b.String())
}

func formatIngestResult(result *dto.IngestResult) string {
	var b strings.Builder
	b.WriteString("✅ Your schedule has been processed successfully!\n\n")
	fmt.Fprintf(&b, "Roll Number: %s\n", result.Student.RollNumber)
	fmt.Fprintf(&b, "Semester: %d\n", result.Student.Semester)
	fmt.Fprintf(&b, "Subjects: %d\n", len(result.Schedule.Subjects))
	fmt.Fprintf(&b, "Classes per week: %d\n", len(result.Schedule.Slots))
	if n := len(result.DroppedSlots); n > 0 {
		fmt.Fprintf(&b, "Skipped entries: %d\n", n)
	}
	b.WriteString("\nYou can now report your daily attendance. Just tell me which classes you attended today.")
	return b.String()
}

// keyedMutex serializes work per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock blocks until key is free and returns the matching unlock.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
