package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/wa-attendance-api/internal/models"
)

// memoryStore backs the student, subject, schedule and attendance repository interfaces in tests.
// WithinTx restores a snapshot when the callback fails, and subject totals are recomputed the
// way the SQL repository does.
type memoryStore struct {
	mu        sync.Mutex
	seq       int
	students  map[string]*models.Student
	subjects  map[string]*models.Subject
	schedules map[string]*models.Schedule
	records   []models.AttendanceRecord

	replaceErr error
	recordErr  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		students:  make(map[string]*models.Student),
		subjects:  make(map[string]*models.Subject),
		schedules: make(map[string]*models.Schedule),
	}
}

func (m *memoryStore) WithinTx(ctx context.Context, fn func(exec sqlx.ExtContext) error) error {
	m.mu.Lock()
	students := make(map[string]models.Student, len(m.students))
	for id, s := range m.students {
		students[id] = *s
	}
	subjects := make(map[string]models.Subject, len(m.subjects))
	for code, s := range m.subjects {
		subjects[code] = *s
	}
	schedules := make(map[string]*models.Schedule, len(m.schedules))
	for id, s := range m.schedules {
		schedules[id] = s
	}
	records := append([]models.AttendanceRecord{}, m.records...)
	m.mu.Unlock()

	err := fn(nil)
	if err == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.students = make(map[string]*models.Student, len(students))
	for id, s := range students {
		s := s
		m.students[id] = &s
	}
	m.subjects = make(map[string]*models.Subject, len(subjects))
	for code, s := range subjects {
		s := s
		m.subjects[code] = &s
	}
	m.schedules = schedules
	m.records = records
	return err
}

func (m *memoryStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memoryStore) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Student, 0, len(m.students))
	for _, s := range m.students {
		if filter.Search != "" && !strings.Contains(strings.ToLower(s.Name), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *memoryStore) FindByID(ctx context.Context, id string) (*models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.students[id]; ok {
		clone := *s
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memoryStore) FindByPhone(ctx context.Context, exec sqlx.ExtContext, phone string) (*models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.students {
		if s.PhoneNumber == phone {
			clone := *s
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryStore) ExistsByRollNumber(ctx context.Context, exec sqlx.ExtContext, rollNumber, excludeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.students {
		if s.RollNumber == rollNumber && s.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryStore) Create(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if student.ID == "" {
		student.ID = m.nextID("student")
	}
	clone := *student
	m.students[student.ID] = &clone
	return nil
}

func (m *memoryStore) Update(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.students[student.ID]
	if !ok {
		return sql.ErrNoRows
	}
	existing.RollNumber = student.RollNumber
	existing.Name = student.Name
	existing.Semester = student.Semester
	return nil
}

func (m *memoryStore) UpdateChatState(ctx context.Context, exec sqlx.ExtContext, id string, state models.ChatState, tempData types.NullJSONText) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.ChatState = state
	s.TempData = tempData
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.students[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.students, id)
	delete(m.schedules, id)
	kept := m.records[:0]
	for _, r := range m.records {
		if r.StudentID != id {
			kept = append(kept, r)
		}
	}
	m.records = kept
	return nil
}

func (m *memoryStore) FindOrCreate(ctx context.Context, exec sqlx.ExtContext, code, name string) (*models.Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.subjects[code]; ok {
		clone := *s
		return &clone, nil
	}
	s := &models.Subject{ID: m.nextID("subject"), Code: code, Name: name}
	m.subjects[code] = s
	clone := *s
	return &clone, nil
}

func (m *memoryStore) subjectByCode(code string) *models.Subject {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subjects[code]
}

func (m *memoryStore) Replace(ctx context.Context, exec sqlx.ExtContext, schedule *models.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replaceErr != nil {
		return m.replaceErr
	}
	schedule.ID = m.nextID("schedule")
	for i := range schedule.Subjects {
		schedule.Subjects[i].ScheduleID = schedule.ID
		schedule.Subjects[i].Position = i
	}
	for i := range schedule.Slots {
		schedule.Slots[i].ScheduleID = schedule.ID
		schedule.Slots[i].Position = i
		if schedule.Slots[i].ID == "" {
			schedule.Slots[i].ID = m.nextID("slot")
		}
	}
	clone := *schedule
	m.schedules[schedule.StudentID] = &clone
	return nil
}

func (m *memoryStore) FindByStudent(ctx context.Context, studentID string) (*models.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.schedules[studentID]; ok {
		clone := *s
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memoryStore) ReplaceEntries(ctx context.Context, studentID string, date time.Time, records []models.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return m.recordErr
	}
	day := date.Format("2006-01-02")
	affected := make([]string, 0, len(records))
	for _, rec := range records {
		affected = append(affected, rec.SubjectID)
		kept := m.records[:0]
		for _, existing := range m.records {
			if existing.StudentID == studentID && existing.SubjectID == rec.SubjectID && existing.Date.Format("2006-01-02") == day {
				continue
			}
			kept = append(kept, existing)
		}
		m.records = kept
		m.appendRecord(studentID, date, rec)
	}
	m.recomputeTotals(affected)
	return nil
}

func (m *memoryStore) ReplaceDay(ctx context.Context, studentID string, date time.Time, records []models.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return m.recordErr
	}
	day := date.Format("2006-01-02")
	affected := make([]string, 0, len(records))
	kept := m.records[:0]
	for _, existing := range m.records {
		if existing.StudentID == studentID && existing.Date.Format("2006-01-02") == day {
			affected = append(affected, existing.SubjectID)
			continue
		}
		kept = append(kept, existing)
	}
	m.records = kept
	for _, rec := range records {
		affected = append(affected, rec.SubjectID)
		m.appendRecord(studentID, date, rec)
	}
	m.recomputeTotals(affected)
	return nil
}

// recomputeTotals mirrors the repository: distinct dates with a PRESENT or ABSENT record.
func (m *memoryStore) recomputeTotals(subjectIDs []string) {
	for _, id := range subjectIDs {
		dates := make(map[string]struct{})
		for _, r := range m.records {
			if r.SubjectID == id && r.Status.Counted() {
				dates[r.Date.Format("2006-01-02")] = struct{}{}
			}
		}
		for _, subject := range m.subjects {
			if subject.ID == id {
				subject.TotalClasses = len(dates)
			}
		}
	}
}

func (m *memoryStore) totalClasses(code string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.subjects[code]; ok {
		return s.TotalClasses
	}
	return -1
}

func (m *memoryStore) appendRecord(studentID string, date time.Time, rec models.AttendanceRecord) {
	rec.ID = m.nextID("record")
	rec.StudentID = studentID
	rec.Date = date
	m.records = append(m.records, rec)
}

func (m *memoryStore) recordsFor(studentID string) []models.AttendanceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AttendanceRecord, 0)
	for _, r := range m.records {
		if r.StudentID == studentID {
			out = append(out, r)
		}
	}
	return out
}

func (m *memoryStore) ListRecords(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, int, error) {
	out := make([]models.AttendanceRecord, 0)
	for _, r := range m.recordsFor(filter.StudentID) {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.From != nil && r.Date.Before(*filter.From) {
			continue
		}
		if filter.To != nil && r.Date.After(*filter.To) {
			continue
		}
		out = append(out, r)
	}
	return out, len(out), nil
}

func (m *memoryStore) CountsByStudent(ctx context.Context, studentID string) ([]models.SubjectAttendanceCount, error) {
	counts := make(map[string]*models.SubjectAttendanceCount)
	order := make([]string, 0)
	for _, r := range m.recordsFor(studentID) {
		c, ok := counts[r.SubjectID]
		if !ok {
			c = &models.SubjectAttendanceCount{SubjectID: r.SubjectID}
			counts[r.SubjectID] = c
			order = append(order, r.SubjectID)
		}
		if r.Status == models.AttendanceStatusPresent {
			c.Present++
		}
		if r.Status.Counted() {
			c.Total++
		}
	}
	out := make([]models.SubjectAttendanceCount, 0, len(order))
	for _, id := range order {
		out = append(out, *counts[id])
	}
	return out, nil
}

// attendanceRepoAdapter exposes the memory store's record listing under the repository's List name.
type attendanceRepoAdapter struct{ *memoryStore }

func (a attendanceRepoAdapter) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, int, error) {
	return a.ListRecords(ctx, filter)
}
