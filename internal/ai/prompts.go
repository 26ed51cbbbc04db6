package ai

import (
	"encoding/json"
	"strings"
)

const schedulePrompt = `Analyze these schedule/timetable images and extract structured data.

IMPORTANT: Respond with ONLY valid JSON, no markdown code blocks.

Extract:
1. Student info (name, roll number, semester)
2. Subject codes and full names
3. Weekly schedule with days and times

Ignore teacher codes and set room to null.

Return this exact JSON format:
{
  "studentInfo": {"name": "name or null", "rollNumber": "roll or null", "semester": "semester or null"},
  "subjects": [{"code": "CS101", "name": "Computer Science", "credits": 3}],
  "schedule": [
    {"day": "Monday", "slots": [{"subject": "CS101", "startTime": "09:00", "endTime": "10:00", "room": null}]}
  ],
  "confidence": "high"
}`

func attendancePrompt(q AttendanceQuery) string {
	subjects, _ := json.Marshal(q.Subjects)
	var b strings.Builder
	b.WriteString("You are an attendance tracking assistant that parses student messages about their attendance.\n\n")
	b.WriteString("Current date: " + q.Today)
	if q.Weekday != "" {
		b.WriteString(" (" + q.Weekday + ")")
	}
	b.WriteString("\nStudent schedule: " + string(subjects) + "\n\n")
	b.WriteString(`Parse the student's message and extract:
1. Whether they are reporting attendance for today or another date
2. Which classes they attended or missed
3. Any classes that were cancelled
4. Whether the entire day was a holiday

Use only subject codes from the schedule. If the message is ambiguous, set needsMoreInfo and ask one short question.

Respond with JSON:
{
  "date": "YYYY-MM-DD",
  "isHoliday": boolean,
  "attendance": [{"subjectCode": "string", "status": "PRESENT|ABSENT|CANCELLED"}],
  "needsMoreInfo": boolean,
  "clarificationQuestion": "string (only if needsMoreInfo is true)"
}`)
	return b.String()
}
