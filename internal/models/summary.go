package models

import "strconv"

// PercentageNA is reported when no class has been held.
const PercentageNA = "N/A"

// SubjectSummary is a subject's attendance tally for one student.
type SubjectSummary struct {
	SubjectID  string `json:"subject_id"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	Present    int    `json:"present"`
	Total      int    `json:"total"`
	Percentage string `json:"percentage"`
}

// AttendanceSummary aggregates a student's attendance across scheduled subjects.
type AttendanceSummary struct {
	StudentID  string           `json:"student_id"`
	Present    int              `json:"present"`
	Total      int              `json:"total"`
	Percentage string           `json:"percentage"`
	Subjects   []SubjectSummary `json:"subjects"`
}

// Percentage renders present/total*100 with two decimals, or N/A when total is zero.
func Percentage(present, total int) string {
	if total <= 0 {
		return PercentageNA
	}
	return strconv.FormatFloat(float64(present)*100/float64(total), 'f', 2, 64)
}

// PercentageValue parses a rendered percentage; ok is false for N/A.
func PercentageValue(p string) (float64, bool) {
	v, err := strconv.ParseFloat(p, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
