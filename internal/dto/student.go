package dto

// RegisterStudentRequest creates or updates a student by phone number.
type RegisterStudentRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required,min=8,max=20"`
	RollNumber  string `json:"roll_number" validate:"omitempty,max=64"`
	Name        string `json:"name" validate:"omitempty,max=255"`
	Semester    int    `json:"semester" validate:"omitempty,min=1,max=12"`
}
