package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"dentaldesk/schedule-service/internal/models"
	"dentaldesk/schedule-service/internal/schedule"
	"dentaldesk/schedule-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ListPendingOutboxEvents returns events across every clinic after the consumer offset.
func (s *Store) ListPendingOutboxEvents(ctx context.Context, offset store.Offset, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, clinic_id, type, payload_json, created_at
		FROM outbox_events
		WHERE (created_at, event_id) > ($1, $2::uuid)
		ORDER BY created_at ASC, event_id ASC
		LIMIT $3
	`, offset.LastEventTime, offsetID(offset.LastEventID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOutbox(rows)
}

func (s *Store) GetNotificationOffset(ctx context.Context, consumer string) (store.Offset, error) {
	var offset store.Offset
	var lastID sql.NullString
	row := s.pool.QueryRow(ctx, `
		SELECT last_event_time, last_event_id
		FROM notification_offsets
		WHERE consumer = $1
	`, consumer)
	if err := row.Scan(&offset.LastEventTime, &lastID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Offset{}, nil
		}
		return store.Offset{}, err
	}
	offset.LastEventID = nullString(lastID)
	return offset, nil
}

func (s *Store) UpdateNotificationOffset(ctx context.Context, consumer string, offset store.Offset) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_offsets (consumer, last_event_time, last_event_id, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (consumer) DO UPDATE
		SET last_event_time = EXCLUDED.last_event_time,
			last_event_id = EXCLUDED.last_event_id,
			updated_at = EXCLUDED.updated_at
	`, consumer, offset.LastEventTime, nullIfEmpty(offset.LastEventID))
	return err
}

func (s *Store) GetTemplate(ctx context.Context, clinicID, templateID, lang, channel string) (string, error) {
	var body string
	row := s.pool.QueryRow(ctx, `
		SELECT body
		FROM notification_templates
		WHERE clinic_id = $1 AND template_id = $2 AND lang = $3 AND channel = $4
	`, clinicID, templateID, lang, channel)
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return body, nil
}

func (s *Store) InsertNotification(ctx context.Context, notification store.Notification) error {
	if notification.NotificationID == "" {
		notification.NotificationID = uuid.NewString()
	}
	if notification.Status == "" {
		notification.Status = "pending"
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (
			notification_id,
			clinic_id,
			event_id,
			channel,
			recipient,
			status,
			attempts,
			last_error,
			message
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, notification.NotificationID, notification.ClinicID, nullIfEmpty(notification.EventID), notification.Channel,
		notification.Recipient, notification.Status, notification.Attempts, nullIfEmpty(notification.LastError), notification.Message)
	return err
}

func (s *Store) MarkNotificationSent(ctx context.Context, notificationID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications
		SET status = 'sent', sent_at = NOW(), last_attempt_at = NOW(), last_error = NULL, attempts = attempts + 1
		WHERE notification_id = $1
	`, notificationID)
	return err
}

// MarkNotificationFailed records a failed attempt and returns the attempt count.
func (s *Store) MarkNotificationFailed(ctx context.Context, notificationID, lastError string) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx, `
		UPDATE notifications
		SET status = 'failed', last_error = $2, attempts = attempts + 1, last_attempt_at = NOW()
		WHERE notification_id = $1
		RETURNING attempts
	`, notificationID, lastError).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, store.ErrNotificationMissing
	}
	return attempts, err
}

// ListRetryableNotifications returns failed notifications with attempts left
// whose last attempt happened before the given time. Dead-lettered ones are
// excluded.
func (s *Store) ListRetryableNotifications(ctx context.Context, maxAttempts int, before time.Time, limit int) ([]store.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT n.notification_id, n.clinic_id, COALESCE(n.event_id::text, ''), n.channel, n.recipient,
		       n.message, n.status, n.attempts, COALESCE(n.last_error, ''), n.created_at
		FROM notifications n
		WHERE n.status = 'failed'
		  AND n.attempts < $1
		  AND COALESCE(n.last_attempt_at, n.created_at) < $2
		  AND NOT EXISTS (SELECT 1 FROM notification_dlq d WHERE d.notification_id = n.notification_id)
		ORDER BY n.created_at ASC
		LIMIT $3
	`, maxAttempts, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []store.Notification
	for rows.Next() {
		var n store.Notification
		if err := rows.Scan(&n.NotificationID, &n.ClinicID, &n.EventID, &n.Channel, &n.Recipient,
			&n.Message, &n.Status, &n.Attempts, &n.LastError, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (s *Store) InsertDLQ(ctx context.Context, notificationID, reason string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_dlq (dlq_id, notification_id, reason)
		VALUES ($1, $2, $3)
	`, uuid.NewString(), notificationID, reason)
	return err
}

// EnqueueReminders writes one reminder outbox event per not-yet-arrived
// appointment on date that has a contact and has not been reminded yet.
func (s *Store) EnqueueReminders(ctx context.Context, date string, now time.Time) (int, error) {
	parsed, err := schedule.ParseDate(date)
	if err != nil {
		return 0, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appointment_date = $1
			AND status = $2
			AND reminded_at IS NULL
			AND (phone IS NOT NULL OR email IS NOT NULL OR line_user_id IS NOT NULL)
			AND clinic_id IN (SELECT clinic_id FROM clinics WHERE notifications_enabled)
		ORDER BY clinic_id ASC, start_minute ASC
		FOR UPDATE SKIP LOCKED
	`, parsed, string(models.StatusNotYetArrived))
	if err != nil {
		return 0, err
	}
	var due []models.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			rows.Close()
			return 0, err
		}
		due = append(due, appt)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, appt := range due {
		if _, err := tx.Exec(ctx, `
			UPDATE appointments SET reminded_at = $1 WHERE appointment_id = $2
		`, now, appt.AppointmentID); err != nil {
			return 0, err
		}
		payload, err := json.Marshal(store.PayloadFor(appt))
		if err != nil {
			return 0, err
		}
		if err := insertOutboxEvent(ctx, tx, appt.ClinicID, store.EventAppointmentReminder, payload); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(due), nil
}

func offsetID(value string) string {
	if value == "" {
		return "00000000-0000-0000-0000-000000000000"
	}
	return value
}
