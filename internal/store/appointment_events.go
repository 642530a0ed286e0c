package store

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dentaldesk/schedule-service/internal/models"
)

var ErrEventChainBroken = errors.New("appointment event chain broken")

type AppointmentEvent struct {
	AppointmentID  string          `json:"appointment_id"`
	AppointmentSeq int             `json:"appointment_seq"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      time.Time       `json:"created_at"`
	PrevHash       string          `json:"prev_hash"`
	Hash           string          `json:"hash"`
}

// EventPayload is the appointment snapshot recorded with each event.
type EventPayload struct {
	AppointmentID string        `json:"appointment_id"`
	ClinicID      string        `json:"clinic_id"`
	PatientID     string        `json:"patient_id,omitempty"`
	PatientName   string        `json:"patient_name,omitempty"`
	StaffID       string        `json:"staff_id,omitempty"`
	Date          string        `json:"date,omitempty"`
	StartTime     string        `json:"start_time,omitempty"`
	EndTime       string        `json:"end_time,omitempty"`
	Status        models.Status `json:"status,omitempty"`
	Channel       string        `json:"channel,omitempty"`
	Phone         string        `json:"phone,omitempty"`
	Email         string        `json:"email,omitempty"`
	LineUserID    string        `json:"line_user_id,omitempty"`
	Action        string        `json:"action,omitempty"`
	ActorID       string        `json:"actor_id,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	CreatedAt     *time.Time    `json:"created_at,omitempty"`
}

func PayloadFor(appt models.Appointment) EventPayload {
	created := appt.CreatedAt
	payload := EventPayload{
		AppointmentID: appt.AppointmentID,
		ClinicID:      appt.ClinicID,
		PatientID:     appt.PatientID,
		PatientName:   appt.PatientName,
		StaffID:       appt.StaffID,
		Date:          appt.Date,
		StartTime:     appt.StartTime,
		EndTime:       appt.EndTime,
		Status:        appt.Status,
		Channel:       appt.Channel,
		Phone:         appt.Phone,
		Email:         appt.Email,
		LineUserID:    appt.LineUserID,
	}
	if !created.IsZero() {
		payload.CreatedAt = &created
	}
	return payload
}

func ComputeAppointmentEventHash(prevHash, appointmentID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, appointmentID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// VerifyEventChain recomputes every hash and checks each event links to its predecessor.
func VerifyEventChain(events []AppointmentEvent) error {
	prev := ""
	for i, event := range events {
		if event.AppointmentSeq != i+1 {
			return fmt.Errorf("%w: sequence %d at position %d", ErrEventChainBroken, event.AppointmentSeq, i)
		}
		if event.PrevHash != prev {
			return fmt.Errorf("%w: seq %d prev hash mismatch", ErrEventChainBroken, event.AppointmentSeq)
		}
		want := ComputeAppointmentEventHash(event.PrevHash, event.AppointmentID, event.Type, event.Payload, event.CreatedAt, event.AppointmentSeq)
		if event.Hash != want {
			return fmt.Errorf("%w: seq %d hash mismatch", ErrEventChainBroken, event.AppointmentSeq)
		}
		prev = event.Hash
	}
	return nil
}

// RehydrateAppointment folds events into the latest appointment snapshot.
func RehydrateAppointment(events []AppointmentEvent) (models.Appointment, error) {
	var appt models.Appointment
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var payload EventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return models.Appointment{}, err
		}
		if payload.AppointmentID != "" {
			appt.AppointmentID = payload.AppointmentID
		}
		if payload.ClinicID != "" {
			appt.ClinicID = payload.ClinicID
		}
		if payload.PatientID != "" {
			appt.PatientID = payload.PatientID
		}
		if payload.PatientName != "" {
			appt.PatientName = payload.PatientName
		}
		if payload.StaffID != "" {
			appt.StaffID = payload.StaffID
		}
		if payload.Date != "" {
			appt.Date = payload.Date
		}
		if payload.StartTime != "" {
			appt.StartTime = payload.StartTime
		}
		if payload.EndTime != "" {
			appt.EndTime = payload.EndTime
		}
		if payload.Status != "" {
			appt.Status = payload.Status
		}
		if payload.Channel != "" {
			appt.Channel = payload.Channel
		}
		if payload.CreatedAt != nil {
			appt.CreatedAt = *payload.CreatedAt
		}
		appt.UpdatedAt = event.CreatedAt
	}
	return appt, nil
}
