package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// ChatState tracks where a student is in the WhatsApp conversation.
type ChatState string

const (
	ChatStateIdle                 ChatState = "IDLE"
	ChatStateAwaitingSchedule     ChatState = "AWAITING_SCHEDULE"
	ChatStateAwaitingAttendance   ChatState = "AWAITING_ATTENDANCE"
	// ChatStateAwaitingConfirmation is accepted by the schema but never entered; such rows are
	// handled like IDLE.
	ChatStateAwaitingConfirmation ChatState = "AWAITING_CONFIRMATION"
)

// Valid returns true when the state is a supported value.
func (s ChatState) Valid() bool {
	switch s {
	case ChatStateIdle, ChatStateAwaitingSchedule, ChatStateAwaitingAttendance, ChatStateAwaitingConfirmation:
		return true
	default:
		return false
	}
}

// Student is a WhatsApp user identified by phone number.
type Student struct {
	ID          string             `db:"id" json:"id"`
	PhoneNumber string             `db:"phone_number" json:"phone_number"`
	RollNumber  string             `db:"roll_number" json:"roll_number"`
	Name        string             `db:"name" json:"name"`
	Semester    int                `db:"semester" json:"semester"`
	ChatState   ChatState          `db:"chat_state" json:"chat_state"`
	TempData    types.NullJSONText `db:"temp_data" json:"temp_data" swaggertype:"object"`
	CreatedAt   time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time          `db:"updated_at" json:"updated_at"`
}

// PendingAttendance is kept in temp_data while the bot waits for a clarification.
type PendingAttendance struct {
	Message  string    `json:"message"`
	Question string    `json:"question,omitempty"`
	AskedAt  time.Time `json:"asked_at"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
