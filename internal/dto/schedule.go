package dto

import "github.com/noah-isme/wa-attendance-api/internal/models"

// IngestScheduleRequest carries a parsed timetable for the student owning PhoneNumber.
type IngestScheduleRequest struct {
	PhoneNumber string         `json:"phone_number" validate:"required"`
	Parsed      ParsedSchedule `json:"schedule"`
}

// DroppedSlot describes a slot that could not be stored.
type DroppedSlot struct {
	Day       string `json:"day"`
	Subject   string `json:"subject"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
	Reason    string `json:"reason"`
}

// IngestResult reports the outcome of a schedule upload.
type IngestResult struct {
	Student      *models.Student  `json:"student"`
	Schedule     *models.Schedule `json:"schedule"`
	DroppedSlots []DroppedSlot    `json:"dropped_slots"`
	Empty        bool             `json:"empty"`
}
