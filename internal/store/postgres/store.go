package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"dentaldesk/schedule-service/internal/models"
	"dentaldesk/schedule-service/internal/schedule"
	"dentaldesk/schedule-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const appointmentColumns = `appointment_id, clinic_id, patient_id, patient_name, staff_id, unit_id, treatment_type,
	appointment_date, start_minute, end_minute, status, channel, notes, phone, email, line_user_id,
	request_id, created_at, updated_at`

const actionReschedule = "reschedule"

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) CreateAppointment(ctx context.Context, input store.CreateAppointmentInput) (models.Appointment, bool, error) {
	date, startMinute, endMinute, err := parseWindow(input.Date, input.StartTime, input.EndTime)
	if err != nil {
		return models.Appointment{}, false, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Appointment{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	existing, found, err := findAppointmentByRequestID(ctx, tx, input.RequestID)
	if err != nil {
		return models.Appointment{}, false, err
	}
	if found {
		if err := tx.Commit(ctx); err != nil {
			return models.Appointment{}, false, err
		}
		return existing, false, nil
	}

	holiday, err := isHolidayTx(ctx, tx, input.ClinicID, date)
	if err != nil {
		return models.Appointment{}, false, err
	}
	if holiday {
		return models.Appointment{}, false, store.ErrHolidayClosed
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	channel := input.Channel
	if channel == "" {
		channel = models.ChannelStaff
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (
			appointment_id, request_id, clinic_id, patient_id, patient_name, staff_id, unit_id, treatment_type,
			appointment_date, start_minute, end_minute, status, channel, notes, phone, email, line_user_id,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$18)
		ON CONFLICT (request_id) DO NOTHING
		RETURNING `+appointmentColumns,
		uuid.NewString(), nullIfEmpty(input.RequestID), input.ClinicID, nullIfEmpty(input.PatientID), input.PatientName,
		nullIfEmpty(input.StaffID), nullIfEmpty(input.UnitID), nullIfEmpty(input.TreatmentType),
		date, startMinute, endMinute, string(models.StatusNotYetArrived), channel, nullIfEmpty(input.Notes),
		nullIfEmpty(input.Phone), nullIfEmpty(input.Email), nullIfEmpty(input.LineUserID), createdAt)

	appt, err := scanAppointment(row)
	if err != nil {
		return models.Appointment{}, false, err
	}

	if err := recordChange(ctx, tx, store.EventAppointmentCreated, store.PayloadFor(appt)); err != nil {
		return models.Appointment{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Appointment{}, false, err
	}
	return appt, true, nil
}

func (s *Store) GetAppointment(ctx context.Context, clinicID, appointmentID string) (models.Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appointment_id = $1 AND clinic_id = $2
	`, appointmentID, clinicID)
	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Appointment{}, store.ErrAppointmentNotFound
		}
		return models.Appointment{}, err
	}
	return appt, nil
}

func (s *Store) ListAppointments(ctx context.Context, filter store.ListAppointmentsFilter) ([]models.Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE clinic_id = $1
	`
	args := []interface{}{filter.ClinicID}
	if filter.Date != "" {
		date, err := schedule.ParseDate(filter.Date)
		if err != nil {
			return nil, err
		}
		args = append(args, date)
		query += fmt.Sprintf(" AND appointment_date = $%d", len(args))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, string(status))
		}
		args = append(args, statuses)
		query += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	query += " ORDER BY appointment_date ASC, start_minute ASC, created_at ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appointments []models.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appointments = append(appointments, appt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return appointments, nil
}

func (s *Store) RescheduleAppointment(ctx context.Context, input store.RescheduleInput) (models.Appointment, error) {
	date, startMinute, endMinute, err := parseWindow(input.Date, input.StartTime, input.EndTime)
	if err != nil {
		return models.Appointment{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if input.RequestID != "" {
		existing, found, err := findActionRequest(ctx, tx, actionReschedule, input.RequestID)
		if err != nil {
			return models.Appointment{}, err
		}
		if found {
			if err := tx.Commit(ctx); err != nil {
				return models.Appointment{}, err
			}
			return existing, nil
		}
	}

	current, err := lockAppointment(ctx, tx, input.ClinicID, input.AppointmentID)
	if err != nil {
		return models.Appointment{}, err
	}
	switch current.Status {
	case models.StatusNotYetArrived, models.StatusLate:
	case models.StatusArrived, models.StatusInTreatment, models.StatusBilling, models.StatusFinished, models.StatusCancelled:
		return models.Appointment{}, store.ErrInvalidState
	default:
		return models.Appointment{}, store.ErrInvalidState
	}

	holiday, err := isHolidayTx(ctx, tx, input.ClinicID, date)
	if err != nil {
		return models.Appointment{}, err
	}
	if holiday {
		return models.Appointment{}, store.ErrHolidayClosed
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET appointment_date = $1,
			start_minute = $2,
			end_minute = $3,
			staff_id = COALESCE($4, staff_id),
			updated_at = $5
		WHERE appointment_id = $6 AND clinic_id = $7
		RETURNING `+appointmentColumns,
		date, startMinute, endMinute, nullIfEmpty(input.StaffID), occurredAt, input.AppointmentID, input.ClinicID)
	appt, err := scanAppointment(row)
	if err != nil {
		return models.Appointment{}, err
	}

	if input.RequestID != "" {
		if err := insertActionRequest(ctx, tx, actionReschedule, input.RequestID, input.ClinicID, appt.AppointmentID); err != nil {
			return models.Appointment{}, err
		}
	}
	if err := recordChange(ctx, tx, store.EventAppointmentRescheduled, store.PayloadFor(appt)); err != nil {
		return models.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Appointment{}, err
	}
	return appt, nil
}

// ApplyAction performs a staff-triggered status change, deduplicated by request id.
func (s *Store) ApplyAction(ctx context.Context, input store.AppointmentActionInput) (models.Appointment, bool, error) {
	if !store.IsManualAction(input.Action) {
		return models.Appointment{}, false, store.ErrInvalidState
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Appointment{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	existing, found, err := findActionRequest(ctx, tx, input.Action, input.RequestID)
	if err != nil {
		return models.Appointment{}, false, err
	}
	if found {
		if err := tx.Commit(ctx); err != nil {
			return models.Appointment{}, false, err
		}
		return existing, false, nil
	}

	current, err := lockAppointment(ctx, tx, input.ClinicID, input.AppointmentID)
	if err != nil {
		return models.Appointment{}, false, err
	}
	appt, err := transition(ctx, tx, current, input.Action, input.ActorID, input.Reason, input.OccurredAt)
	if err != nil {
		return models.Appointment{}, false, err
	}
	if err := insertActionRequest(ctx, tx, input.Action, input.RequestID, input.ClinicID, appt.AppointmentID); err != nil {
		return models.Appointment{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Appointment{}, false, err
	}
	return appt, true, nil
}

// UpdateAppointmentStatus moves an appointment into status and reports whether
// this call wrote the change. Repeating a change that already took effect
// commits nothing and returns false.
func (s *Store) UpdateAppointmentStatus(ctx context.Context, clinicID, appointmentID string, status models.Status) (bool, error) {
	action, ok := store.ActionFor(status)
	if !ok {
		return false, store.ErrInvalidState
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := lockAppointment(ctx, tx, clinicID, appointmentID)
	if err != nil {
		return false, err
	}
	if current.Status == status {
		return false, nil
	}
	actor := ""
	if action == store.ActionMarkLate {
		actor = "system"
	}
	if _, err := transition(ctx, tx, current, action, actor, "", time.Time{}); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ListAppointmentEvents(ctx context.Context, clinicID, appointmentID string) ([]store.AppointmentEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT e.appointment_id, e.appointment_seq, e.type, e.payload, e.created_at, e.prev_hash, e.hash
		FROM appointment_events e
		JOIN appointments a ON a.appointment_id = e.appointment_id
		WHERE a.clinic_id = $1 AND e.appointment_id = $2
		ORDER BY e.appointment_seq ASC
	`, clinicID, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.AppointmentEvent
	for rows.Next() {
		var event store.AppointmentEvent
		if err := rows.Scan(&event.AppointmentID, &event.AppointmentSeq, &event.Type, &event.Payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, clinicID string, after time.Time, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT event_id, clinic_id, type, payload_json, created_at
		FROM outbox_events
		WHERE clinic_id = $1
	`
	args := []interface{}{clinicID}
	if !after.IsZero() {
		query += " AND created_at > $2"
		args = append(args, after)
		query += " ORDER BY created_at ASC LIMIT $3"
		args = append(args, limit)
	} else {
		query += " ORDER BY created_at ASC LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOutbox(rows)
}

func transition(ctx context.Context, tx pgx.Tx, current models.Appointment, action, actorID, reason string, occurredAt time.Time) (models.Appointment, error) {
	if !store.ValidTransition(action, current.Status) {
		return models.Appointment{}, store.ErrInvalidState
	}
	target, ok := store.TargetStatus(action)
	if !ok {
		return models.Appointment{}, store.ErrInvalidState
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $1, updated_at = $2
		WHERE appointment_id = $3 AND clinic_id = $4 AND status = $5
		RETURNING `+appointmentColumns,
		string(target), occurredAt, current.AppointmentID, current.ClinicID, string(current.Status))
	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Appointment{}, store.ErrInvalidState
		}
		return models.Appointment{}, err
	}

	payload := store.PayloadFor(appt)
	payload.Action = action
	payload.ActorID = actorID
	payload.Reason = reason
	if err := recordChange(ctx, tx, store.EventTypeFor(target), payload); err != nil {
		return models.Appointment{}, err
	}
	return appt, nil
}

func lockAppointment(ctx context.Context, tx pgx.Tx, clinicID, appointmentID string) (models.Appointment, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appointment_id = $1 AND clinic_id = $2
		FOR UPDATE
	`, appointmentID, clinicID)
	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Appointment{}, store.ErrAppointmentNotFound
		}
		return models.Appointment{}, err
	}
	return appt, nil
}

func findAppointmentByRequestID(ctx context.Context, tx pgx.Tx, requestID string) (models.Appointment, bool, error) {
	if requestID == "" {
		return models.Appointment{}, false, nil
	}
	row := tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE request_id = $1
	`, requestID)
	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Appointment{}, false, nil
		}
		return models.Appointment{}, false, err
	}
	return appt, true, nil
}

func findActionRequest(ctx context.Context, tx pgx.Tx, action, requestID string) (models.Appointment, bool, error) {
	var appointmentID string
	var clinicID string
	row := tx.QueryRow(ctx, `
		SELECT appointment_id, clinic_id
		FROM appointment_action_requests
		WHERE request_id = $1 AND action = $2
	`, requestID, action)
	if err := row.Scan(&appointmentID, &clinicID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Appointment{}, false, nil
		}
		return models.Appointment{}, false, err
	}

	row = tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appointment_id = $1 AND clinic_id = $2
	`, appointmentID, clinicID)
	appt, err := scanAppointment(row)
	if err != nil {
		return models.Appointment{}, false, err
	}
	return appt, true, nil
}

func insertActionRequest(ctx context.Context, tx pgx.Tx, action, requestID, clinicID, appointmentID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO appointment_action_requests (request_id, action, clinic_id, appointment_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (request_id) DO NOTHING
	`, requestID, action, clinicID, appointmentID, time.Now().UTC())
	return err
}

func isHolidayTx(ctx context.Context, tx pgx.Tx, clinicID string, date time.Time) (bool, error) {
	var exists bool
	row := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM clinic_holidays WHERE clinic_id = $1 AND holiday_date = $2
		)
	`, clinicID, date)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// recordChange writes the outbox event and the appointment's hash-chained history entry.
func recordChange(ctx context.Context, tx pgx.Tx, eventType string, payload store.EventPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := insertOutboxEvent(ctx, tx, payload.ClinicID, eventType, payloadJSON); err != nil {
		return err
	}
	return insertAppointmentEvent(ctx, tx, payload.AppointmentID, eventType, payloadJSON)
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, clinicID, eventType string, payload []byte) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, clinic_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), clinicID, eventType, payload, time.Now().UTC())
	return err
}

func insertAppointmentEvent(ctx context.Context, tx pgx.Tx, appointmentID, eventType string, payload []byte) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, appointmentID); err != nil {
		return err
	}

	var lastSeq int
	var prevHash sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT appointment_seq, hash
		FROM appointment_events
		WHERE appointment_id = $1
		ORDER BY appointment_seq DESC
		LIMIT 1
	`, appointmentID)
	if err := row.Scan(&lastSeq, &prevHash); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	nextSeq := lastSeq + 1
	prev := ""
	if prevHash.Valid {
		prev = prevHash.String
	}
	createdAt := time.Now().UTC().Truncate(time.Microsecond)
	hash := store.ComputeAppointmentEventHash(prev, appointmentID, eventType, payload, createdAt, nextSeq)

	_, err := tx.Exec(ctx, `
		INSERT INTO appointment_events (appointment_id, appointment_seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, appointmentID, nextSeq, eventType, payload, createdAt, prev, hash)
	return err
}

func collectOutbox(rows pgx.Rows) ([]store.OutboxEvent, error) {
	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.ClinicID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func scanAppointment(row rowScanner) (models.Appointment, error) {
	var appt models.Appointment
	var patientID, staffID, unitID, treatmentType, notes, phone, email, lineUserID, requestID sql.NullString
	var date time.Time
	var startMinute, endMinute int
	var status string
	if err := row.Scan(
		&appt.AppointmentID, &appt.ClinicID, &patientID, &appt.PatientName, &staffID, &unitID, &treatmentType,
		&date, &startMinute, &endMinute, &status, &appt.Channel, &notes, &phone, &email, &lineUserID,
		&requestID, &appt.CreatedAt, &appt.UpdatedAt,
	); err != nil {
		return models.Appointment{}, err
	}
	parsed, err := models.ParseStatus(status)
	if err != nil {
		return models.Appointment{}, err
	}
	appt.Status = parsed
	appt.Date = date.Format(models.DateLayout)
	appt.StartTime = schedule.MinutesToTime(startMinute)
	appt.EndTime = schedule.MinutesToTime(endMinute)
	appt.PatientID = nullString(patientID)
	appt.StaffID = nullString(staffID)
	appt.UnitID = nullString(unitID)
	appt.TreatmentType = nullString(treatmentType)
	appt.Notes = nullString(notes)
	appt.Phone = nullString(phone)
	appt.Email = nullString(email)
	appt.LineUserID = nullString(lineUserID)
	appt.RequestID = nullString(requestID)
	return appt, nil
}

func parseWindow(dateValue, startValue, endValue string) (time.Time, int, int, error) {
	date, err := schedule.ParseDate(dateValue)
	if err != nil {
		return time.Time{}, 0, 0, err
	}
	startMinute, err := schedule.TimeToMinutes(startValue)
	if err != nil {
		return time.Time{}, 0, 0, err
	}
	endMinute, err := schedule.TimeToMinutes(endValue)
	if err != nil {
		return time.Time{}, 0, 0, err
	}
	if endMinute <= startMinute {
		return time.Time{}, 0, 0, &schedule.FormatError{Value: startValue + "-" + endValue, Reason: "end must be after start"}
	}
	return date, startMinute, endMinute, nil
}

func nullIfEmpty(value string) interface{} {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullString(value sql.NullString) string {
	if !value.Valid {
		return ""
	}
	return value.String
}
