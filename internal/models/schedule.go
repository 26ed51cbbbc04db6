package models

import "time"

// Weekdays lists the canonical day names in calendar order starting on Monday.
var Weekdays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// Schedule is a student's weekly timetable. Each student owns at most one.
type Schedule struct {
	ID         string            `db:"id" json:"id"`
	StudentID  string            `db:"student_id" json:"student_id"`
	Semester   int               `db:"semester" json:"semester"`
	Confidence *string           `db:"confidence" json:"confidence,omitempty"`
	CreatedAt  time.Time         `db:"created_at" json:"created_at"`
	Subjects   []ScheduleSubject `db:"-" json:"subjects"`
	Slots      []TimeSlot        `db:"-" json:"slots"`
}

// ScheduleSubject is the schedule's own copy of a declared subject.
type ScheduleSubject struct {
	ScheduleID string   `db:"schedule_id" json:"-"`
	SubjectID  string   `db:"subject_id" json:"subject_id"`
	Code       string   `db:"code" json:"code"`
	Name       string   `db:"name" json:"name"`
	Credits    *float64 `db:"credits" json:"credits,omitempty"`
	Position   int      `db:"position" json:"-"`
}

// TimeSlot is one weekly class occurrence.
type TimeSlot struct {
	ID          string `db:"id" json:"id"`
	ScheduleID  string `db:"schedule_id" json:"-"`
	DayOfWeek   string `db:"day_of_week" json:"day_of_week"`
	StartTime   string `db:"start_time" json:"start_time"`
	EndTime     string `db:"end_time" json:"end_time"`
	SubjectID   string `db:"subject_id" json:"subject_id"`
	SubjectCode string `db:"subject_code" json:"subject_code"`
	SubjectName string `db:"subject_name" json:"subject_name"`
	Position    int    `db:"position" json:"-"`
}

// SubjectByID returns the schedule's entry for subjectID.
func (s *Schedule) SubjectByID(subjectID string) (ScheduleSubject, bool) {
	for _, subj := range s.Subjects {
		if subj.SubjectID == subjectID {
			return subj, true
		}
	}
	return ScheduleSubject{}, false
}

// SubjectsOn returns the distinct subjects with a slot on day, in slot order.
func (s *Schedule) SubjectsOn(day string) []ScheduleSubject {
	seen := make(map[string]struct{})
	out := make([]ScheduleSubject, 0)
	for _, slot := range s.Slots {
		if slot.DayOfWeek != day {
			continue
		}
		if _, ok := seen[slot.SubjectID]; ok {
			continue
		}
		seen[slot.SubjectID] = struct{}{}
		if subj, ok := s.SubjectByID(slot.SubjectID); ok {
			out = append(out, subj)
			continue
		}
		out = append(out, ScheduleSubject{SubjectID: slot.SubjectID, Code: slot.SubjectCode, Name: slot.SubjectName})
	}
	return out
}

// SlotsByDay groups slots under their weekday, keeping stored order.
func (s *Schedule) SlotsByDay() map[string][]TimeSlot {
	out := make(map[string][]TimeSlot)
	for _, slot := range s.Slots {
		out[slot.DayOfWeek] = append(out[slot.DayOfWeek], slot)
	}
	return out
}
