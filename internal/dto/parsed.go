package dto

import (
	"encoding/json"
	"strconv"
	"strings"
)

// FlexNumber accepts JSON numbers, numeric strings and null. Unparseable input leaves Set false.
type FlexNumber struct {
	Value float64
	Set   bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *FlexNumber) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(strings.Trim(strings.TrimSpace(string(b)), `"`))
	*n = FlexNumber{}
	if raw == "" || raw == "null" {
		return nil
	}
	start := strings.IndexAny(raw, "0123456789")
	if start < 0 {
		return nil
	}
	end := start
	for end < len(raw) && (raw[end] == '.' || (raw[end] >= '0' && raw[end] <= '9')) {
		end++
	}
	v, err := strconv.ParseFloat(raw[start:end], 64)
	if err != nil {
		return nil
	}
	*n = FlexNumber{Value: v, Set: true}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (n FlexNumber) MarshalJSON() ([]byte, error) {
	if !n.Set {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// Int returns the value truncated to an integer.
func (n FlexNumber) Int() int {
	return int(n.Value)
}

// Ptr returns nil when unset.
func (n FlexNumber) Ptr() *float64 {
	if !n.Set {
		return nil
	}
	v := n.Value
	return &v
}

// ParsedAttendanceEntry is one subject outcome extracted from a student's message.
type ParsedAttendanceEntry struct {
	SubjectCode string `json:"subjectCode"`
	Status      string `json:"status"`
}

// ParsedAttendance is the structured reading of a free-form attendance report.
type ParsedAttendance struct {
	Date                  string                  `json:"date"`
	IsHoliday             bool                    `json:"isHoliday"`
	Attendance            []ParsedAttendanceEntry `json:"attendance"`
	NeedsMoreInfo         bool                    `json:"needsMoreInfo"`
	ClarificationQuestion string                  `json:"clarificationQuestion,omitempty"`
}

// ParsedStudentInfo is the optional nested student block of a parsed schedule.
type ParsedStudentInfo struct {
	Name        string     `json:"name"`
	StudentName string     `json:"studentName"`
	RollNumber  string     `json:"rollNumber"`
	Semester    FlexNumber `json:"semester" swaggertype:"number"`
}

// ParsedSubject is a subject declared on a timetable.
type ParsedSubject struct {
	Code    string     `json:"code"`
	Name    string     `json:"name"`
	Credits FlexNumber `json:"credits" swaggertype:"number"`
}

// ParsedSlot is one class occurrence read from a timetable. Room is accepted and discarded.
type ParsedSlot struct {
	Subject   string `json:"subject"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Room      string `json:"room,omitempty"`
}

// ParsedDay groups slots under a day label as written on the timetable.
type ParsedDay struct {
	Day   string       `json:"day"`
	Slots []ParsedSlot `json:"slots"`
}

// ParsedSchedule is the structured reading of a timetable image or document.
type ParsedSchedule struct {
	StudentName string             `json:"studentName,omitempty"`
	Name        string             `json:"name,omitempty"`
	RollNumber  string             `json:"rollNumber,omitempty"`
	Semester    FlexNumber         `json:"semester" swaggertype:"number"`
	StudentInfo *ParsedStudentInfo `json:"studentInfo,omitempty"`
	Subjects    []ParsedSubject    `json:"subjects"`
	Schedule    []ParsedDay        `json:"schedule"`
	Confidence  string             `json:"confidence,omitempty"`
}

// StudentDetails merges the nested studentInfo block over top-level fields.
func (p ParsedSchedule) StudentDetails() (name, rollNumber string, semester FlexNumber) {
	name = firstNonEmpty(p.StudentName, p.Name)
	rollNumber = p.RollNumber
	semester = p.Semester
	if info := p.StudentInfo; info != nil {
		name = firstNonEmpty(info.StudentName, info.Name, name)
		rollNumber = firstNonEmpty(info.RollNumber, rollNumber)
		if info.Semester.Set {
			semester = info.Semester
		}
	}
	return strings.TrimSpace(name), strings.TrimSpace(rollNumber), semester
}

// Empty reports whether the parse carried no subjects and no slots.
func (p ParsedSchedule) Empty() bool {
	return len(p.Subjects) == 0 && len(p.Schedule) == 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
