package dto

import "github.com/noah-isme/wa-attendance-api/internal/models"

// AttendanceEntry is one subject outcome in a record request.
type AttendanceEntry struct {
	SubjectCode string `json:"subject_code"`
	Status      string `json:"status"`
}

// RecordAttendanceRequest records a day's attendance. An empty date means today.
// Entries with unknown codes or statuses are reported back rather than rejected.
type RecordAttendanceRequest struct {
	Date      string            `json:"date"`
	IsHoliday bool              `json:"is_holiday"`
	Entries   []AttendanceEntry `json:"entries" validate:"max=50"`
}

// FromParsed converts the language model's reading into a record request.
func FromParsed(p ParsedAttendance) RecordAttendanceRequest {
	req := RecordAttendanceRequest{Date: p.Date, IsHoliday: p.IsHoliday}
	for _, e := range p.Attendance {
		req.Entries = append(req.Entries, AttendanceEntry{SubjectCode: e.SubjectCode, Status: e.Status})
	}
	return req
}

// AppliedEntry is an entry that was written.
type AppliedEntry struct {
	SubjectID string                  `json:"subject_id"`
	Code      string                  `json:"code"`
	Name      string                  `json:"name"`
	Status    models.AttendanceStatus `json:"status"`
}

// UnresolvedEntry is an entry that was not written and why.
type UnresolvedEntry struct {
	SubjectCode string `json:"subject_code"`
	Status      string `json:"status"`
	Reason      string `json:"reason"`
}

// RecordResult reports the outcome of a record call. Partial success is possible.
type RecordResult struct {
	Date       string            `json:"date"`
	Weekday    string            `json:"weekday"`
	Holiday    bool              `json:"holiday"`
	Applied    []AppliedEntry    `json:"applied"`
	Unresolved []UnresolvedEntry `json:"unresolved"`
}

// AttendanceListQuery captures GET /students/:id/attendance filters.
type AttendanceListQuery struct {
	From      string `form:"from"`
	To        string `form:"to"`
	Status    string `form:"status" validate:"omitempty,attendance_status"`
	SubjectID string `form:"subject_id"`
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size"`
}
