package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/wa-attendance-api/internal/dto"
	"github.com/noah-isme/wa-attendance-api/internal/models"
	"github.com/noah-isme/wa-attendance-api/internal/repository"
	"github.com/noah-isme/wa-attendance-api/pkg/cache"
	appErrors "github.com/noah-isme/wa-attendance-api/pkg/errors"
	"github.com/noah-isme/wa-attendance-api/pkg/logger"
)

const defaultStudentName = "Student"

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByPhone(ctx context.Context, exec sqlx.ExtContext, phone string) (*models.Student, error)
	ExistsByRollNumber(ctx context.Context, exec sqlx.ExtContext, rollNumber, excludeID string) (bool, error)
	Create(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error
	Update(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error
	UpdateChatState(ctx context.Context, exec sqlx.ExtContext, id string, state models.ChatState, tempData types.NullJSONText) error
	Delete(ctx context.Context, id string) error
}

// NormalizePhone keeps digits only and prefixes countryCode to bare ten-digit numbers.
func NormalizePhone(raw, countryCode string) string {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 10 && countryCode != "" {
		return countryCode + digits
	}
	return digits
}

// StudentService handles student registration and conversation state.
type StudentService struct {
	repo        studentRepository
	cache       *CacheService
	validator   *validator.Validate
	logger      *zap.Logger
	countryCode string
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, cache *CacheService, validate *validator.Validate, logger *zap.Logger, countryCode string) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, cache: cache, validator: validate, logger: logger, countryCode: countryCode}
}

// NormalizePhone applies the configured country code.
func (s *StudentService) NormalizePhone(raw string) string {
	return NormalizePhone(raw, s.countryCode)
}

// List returns students and pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return students, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a student by ID.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrStudentNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// GetByPhone returns the student registered with phone, or STUDENT_NOT_FOUND.
func (s *StudentService) GetByPhone(ctx context.Context, phone string) (*models.Student, error) {
	normalized := s.NormalizePhone(phone)
	if normalized == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "phone number is required")
	}
	student, err := s.repo.FindByPhone(ctx, nil, normalized)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrStudentNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// Register creates the student for the phone number or updates the existing one.
// Blank fields keep stored values; new students get a generated roll number and default name.
func (s *StudentService) Register(ctx context.Context, req dto.RegisterStudentRequest) (*models.Student, bool, error) {
	return s.register(ctx, nil, req)
}

func (s *StudentService) register(ctx context.Context, exec sqlx.ExtContext, req dto.RegisterStudentRequest) (*models.Student, bool, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	phone := s.NormalizePhone(req.PhoneNumber)
	if phone == "" {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "phone number must contain digits")
	}
	roll := strings.TrimSpace(req.RollNumber)
	name := strings.TrimSpace(req.Name)

	existing, err := s.repo.FindByPhone(ctx, exec, phone)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	if existing != nil {
		if roll != "" && roll != existing.RollNumber {
			if err := s.ensureRollAvailable(ctx, exec, roll, existing.ID); err != nil {
				return nil, false, err
			}
			existing.RollNumber = roll
		}
		if name != "" {
			existing.Name = name
		}
		if req.Semester > 0 {
			existing.Semester = req.Semester
		}
		if err := s.repo.Update(ctx, exec, existing); err != nil {
			if repository.IsUniqueViolation(err) {
				return nil, false, appErrors.Clone(appErrors.ErrConflict, "roll number already registered")
			}
			return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
		}
		s.logger.Info("student updated", zap.String("student_id", existing.ID), zap.String("phone", logger.MaskPhone(phone)))
		return existing, false, nil
	}

	if roll == "" {
		roll = "AUTO-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	} else if err := s.ensureRollAvailable(ctx, exec, roll, ""); err != nil {
		return nil, false, err
	}
	if name == "" {
		name = defaultStudentName
	}
	semester := req.Semester
	if semester <= 0 {
		semester = 1
	}
	student := &models.Student{
		PhoneNumber: phone,
		RollNumber:  roll,
		Name:        name,
		Semester:    semester,
		ChatState:   models.ChatStateIdle,
	}
	if err := s.repo.Create(ctx, exec, student); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, false, appErrors.Clone(appErrors.ErrConflict, "student already registered")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}
	s.logger.Info("student registered", zap.String("student_id", student.ID), zap.String("phone", logger.MaskPhone(phone)))
	return student, true, nil
}

func (s *StudentService) ensureRollAvailable(ctx context.Context, exec sqlx.ExtContext, roll, excludeID string) error {
	taken, err := s.repo.ExistsByRollNumber(ctx, exec, roll, excludeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate roll number")
	}
	if taken {
		return appErrors.Clone(appErrors.ErrConflict, "roll number already registered")
	}
	return nil
}

// SetChatState moves the student to state and clears any pending scratch data.
func (s *StudentService) SetChatState(ctx context.Context, id string, state models.ChatState) error {
	return s.updateState(ctx, nil, id, state, types.NullJSONText{})
}

// SavePending stores an unanswered attendance report while the bot waits for clarification.
func (s *StudentService) SavePending(ctx context.Context, id string, pending models.PendingAttendance) error {
	if pending.AskedAt.IsZero() {
		pending.AskedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(pending)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode pending report")
	}
	return s.updateState(ctx, nil, id, models.ChatStateAwaitingAttendance, types.NullJSONText{JSONText: raw, Valid: true})
}

// Pending decodes the scratch data of a student awaiting clarification.
func (s *StudentService) Pending(student *models.Student) (*models.PendingAttendance, bool) {
	if student == nil || student.ChatState != models.ChatStateAwaitingAttendance || !student.TempData.Valid {
		return nil, false
	}
	var pending models.PendingAttendance
	if err := student.TempData.Unmarshal(&pending); err != nil || pending.Message == "" {
		return nil, false
	}
	return &pending, true
}

func (s *StudentService) updateState(ctx context.Context, exec sqlx.ExtContext, id string, state models.ChatState, temp types.NullJSONText) error {
	if !state.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "unknown chat state")
	}
	if err := s.repo.UpdateChatState(ctx, exec, id, state, temp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrStudentNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update chat state")
	}
	return nil
}

// Reset removes the student with their schedule and attendance history.
func (s *StudentService) Reset(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrStudentNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
	}
	_ = s.cache.Invalidate(ctx, cache.SummaryKey(id))
	s.logger.Info("student reset", zap.String("student_id", id))
	return nil
}
