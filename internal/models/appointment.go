package models

import "time"

type Appointment struct {
	AppointmentID string    `json:"appointment_id"`
	ClinicID      string    `json:"clinic_id"`
	PatientID     string    `json:"patient_id,omitempty"`
	PatientName   string    `json:"patient_name"`
	StaffID       string    `json:"staff_id,omitempty"`
	UnitID        string    `json:"unit_id,omitempty"`
	TreatmentType string    `json:"treatment_type,omitempty"`
	Date          string    `json:"date"`
	StartTime     string    `json:"start_time"`
	EndTime       string    `json:"end_time"`
	Status        Status    `json:"status"`
	Channel       string    `json:"channel"`
	Notes         string    `json:"notes,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	Email         string    `json:"email,omitempty"`
	LineUserID    string    `json:"line_user_id,omitempty"`
	RequestID     string    `json:"request_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

const (
	ChannelStaff = "staff"
	ChannelWeb   = "web"
)

// DateLayout is the civil date format used for appointment dates.
const DateLayout = "2006-01-02"
