package models

import "time"

// AttendanceStatus represents the status for attendance records.
type AttendanceStatus string

const (
	AttendanceStatusPresent   AttendanceStatus = "PRESENT"
	AttendanceStatusAbsent    AttendanceStatus = "ABSENT"
	AttendanceStatusCancelled AttendanceStatus = "CANCELLED"
	AttendanceStatusHoliday   AttendanceStatus = "HOLIDAY"
)

// HolidayNote is stored on every record created by a holiday report.
const HolidayNote = "Holiday reported by student"

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusAbsent, AttendanceStatusCancelled, AttendanceStatusHoliday:
		return true
	default:
		return false
	}
}

// Counted reports whether the status counts as a held class.
func (s AttendanceStatus) Counted() bool {
	return s == AttendanceStatusPresent || s == AttendanceStatusAbsent
}

// AttendanceRecord is one subject's outcome for a student on a calendar day.
type AttendanceRecord struct {
	ID          string           `db:"id" json:"id"`
	StudentID   string           `db:"student_id" json:"student_id"`
	SubjectID   string           `db:"subject_id" json:"subject_id"`
	SubjectCode string           `db:"subject_code" json:"subject_code,omitempty"`
	Date        time.Time        `db:"date" json:"date"`
	Status      AttendanceStatus `db:"status" json:"status"`
	Notes       string           `db:"notes" json:"notes,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updated_at"`
}

// AttendanceFilter captures list filters for a student's records.
type AttendanceFilter struct {
	StudentID string
	SubjectID string
	Status    AttendanceStatus
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}

// SubjectAttendanceCount is the per-subject aggregate used by summaries.
type SubjectAttendanceCount struct {
	SubjectID string `db:"subject_id"`
	Present   int    `db:"present"`
	Total     int    `db:"total"`
}
