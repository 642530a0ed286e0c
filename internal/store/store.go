package store

import (
	"context"
	"encoding/json"
	"time"

	"dentaldesk/schedule-service/internal/models"
	"dentaldesk/schedule-service/internal/schedule"
)

const (
	EventAppointmentCreated     = "appointment.created"
	EventAppointmentRescheduled = "appointment.rescheduled"
	EventAppointmentLate        = "appointment.late"
	EventAppointmentCancelled   = "appointment.cancelled"
	EventAppointmentReminder    = "appointment.reminder"
)

type CreateAppointmentInput struct {
	RequestID     string
	ClinicID      string
	PatientID     string
	PatientName   string
	StaffID       string
	UnitID        string
	TreatmentType string
	Date          string
	StartTime     string
	EndTime       string
	Channel       string
	Notes         string
	Phone         string
	Email         string
	LineUserID    string
	CreatedAt     time.Time
}

type RescheduleInput struct {
	RequestID     string
	ClinicID      string
	AppointmentID string
	Date          string
	StartTime     string
	EndTime       string
	StaffID       string
	OccurredAt    time.Time
}

type AppointmentActionInput struct {
	RequestID     string
	ClinicID      string
	AppointmentID string
	Action        string
	ActorID       string
	Reason        string
	OccurredAt    time.Time
}

type ListAppointmentsFilter struct {
	ClinicID string
	Date     string
	Statuses []models.Status
}

type AppointmentStore interface {
	CreateAppointment(ctx context.Context, input CreateAppointmentInput) (models.Appointment, bool, error)
	GetAppointment(ctx context.Context, clinicID, appointmentID string) (models.Appointment, error)
	ListAppointments(ctx context.Context, filter ListAppointmentsFilter) ([]models.Appointment, error)
	RescheduleAppointment(ctx context.Context, input RescheduleInput) (models.Appointment, error)
	ApplyAction(ctx context.Context, input AppointmentActionInput) (models.Appointment, bool, error)
	UpdateAppointmentStatus(ctx context.Context, clinicID, appointmentID string, status models.Status) (bool, error)
	ListAppointmentEvents(ctx context.Context, clinicID, appointmentID string) ([]AppointmentEvent, error)
	ListOutboxEvents(ctx context.Context, clinicID string, after time.Time, limit int) ([]OutboxEvent, error)
}

type SettingsStore interface {
	GetClinic(ctx context.Context, clinicID string) (models.Clinic, error)
	ListClinics(ctx context.Context) ([]models.Clinic, error)
	GetWeeklySchedule(ctx context.Context, clinicID string) (schedule.WeeklySchedule, error)
	PutDaySchedule(ctx context.Context, clinicID string, day schedule.DaySchedule) error
	ListHolidays(ctx context.Context, clinicID, from, to string) ([]models.Holiday, error)
	IsHoliday(ctx context.Context, clinicID, date string) (bool, error)
	CreateHoliday(ctx context.Context, holiday models.Holiday) error
	DeleteHoliday(ctx context.Context, clinicID, date string) error
}

type StaffStore interface {
	GetStaffByEmail(ctx context.Context, clinicID, email string) (models.Staff, error)
}

type NotificationStore interface {
	ListPendingOutboxEvents(ctx context.Context, offset Offset, limit int) ([]OutboxEvent, error)
	GetNotificationOffset(ctx context.Context, consumer string) (Offset, error)
	UpdateNotificationOffset(ctx context.Context, consumer string, offset Offset) error
	GetClinic(ctx context.Context, clinicID string) (models.Clinic, error)
	GetTemplate(ctx context.Context, clinicID, templateID, lang, channel string) (string, error)
	InsertNotification(ctx context.Context, notification Notification) error
	MarkNotificationSent(ctx context.Context, notificationID string) error
	MarkNotificationFailed(ctx context.Context, notificationID, lastError string) (int, error)
	ListRetryableNotifications(ctx context.Context, maxAttempts int, before time.Time, limit int) ([]Notification, error)
	InsertDLQ(ctx context.Context, notificationID, reason string) error
	EnqueueReminders(ctx context.Context, date string, now time.Time) (int, error)
}

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	ClinicID  string          `json:"clinic_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Offset is a consumer position in the outbox, ordered by (created_at, event_id).
type Offset struct {
	LastEventTime time.Time
	LastEventID   string
}

type Notification struct {
	NotificationID string
	ClinicID       string
	EventID        string
	Channel        string
	Recipient      string
	Message        string
	Status         string
	Attempts       int
	LastError      string
	CreatedAt      time.Time
}
