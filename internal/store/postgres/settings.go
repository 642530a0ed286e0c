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

	"github.com/jackc/pgx/v5"
)

func (s *Store) GetClinic(ctx context.Context, clinicID string) (models.Clinic, error) {
	var clinic models.Clinic
	row := s.pool.QueryRow(ctx, `
		SELECT clinic_id, name, timezone, language, notifications_enabled, created_at
		FROM clinics
		WHERE clinic_id = $1
	`, clinicID)
	if err := row.Scan(&clinic.ClinicID, &clinic.Name, &clinic.Timezone, &clinic.Language, &clinic.NotificationsEnabled, &clinic.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Clinic{}, store.ErrClinicNotFound
		}
		return models.Clinic{}, err
	}
	return clinic, nil
}

func (s *Store) ListClinics(ctx context.Context) ([]models.Clinic, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT clinic_id, name, timezone, language, notifications_enabled, created_at
		FROM clinics
		ORDER BY clinic_id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clinics []models.Clinic
	for rows.Next() {
		var clinic models.Clinic
		if err := rows.Scan(&clinic.ClinicID, &clinic.Name, &clinic.Timezone, &clinic.Language, &clinic.NotificationsEnabled, &clinic.CreatedAt); err != nil {
			return nil, err
		}
		clinics = append(clinics, clinic)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return clinics, nil
}

// GetWeeklySchedule loads the configured weekdays. Weekdays without a row are closed.
func (s *Store) GetWeeklySchedule(ctx context.Context, clinicID string) (schedule.WeeklySchedule, error) {
	if _, err := s.GetClinic(ctx, clinicID); err != nil {
		return schedule.WeeklySchedule{}, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT weekday, is_open, time_slots, break_start, break_end
		FROM clinic_business_hours
		WHERE clinic_id = $1
		ORDER BY weekday ASC
	`, clinicID)
	if err != nil {
		return schedule.WeeklySchedule{}, err
	}
	defer rows.Close()

	weekly := schedule.NewWeeklySchedule(clinicID)
	for rows.Next() {
		var weekday int
		var isOpen bool
		var slotsJSON []byte
		var breakStart, breakEnd sql.NullString
		if err := rows.Scan(&weekday, &isOpen, &slotsJSON, &breakStart, &breakEnd); err != nil {
			return schedule.WeeklySchedule{}, err
		}
		day := schedule.DaySchedule{
			Weekday: time.Weekday(weekday),
			Hours:   schedule.BusinessHours{IsOpen: isOpen},
		}
		if len(slotsJSON) > 0 {
			if err := json.Unmarshal(slotsJSON, &day.Hours.TimeSlots); err != nil {
				return schedule.WeeklySchedule{}, err
			}
		}
		if breakStart.Valid && breakEnd.Valid {
			day.Break = &schedule.BreakTime{Start: breakStart.String, End: breakEnd.String}
		}
		weekly.Set(day)
	}
	if err := rows.Err(); err != nil {
		return schedule.WeeklySchedule{}, err
	}
	return weekly, nil
}

func (s *Store) PutDaySchedule(ctx context.Context, clinicID string, day schedule.DaySchedule) error {
	if err := day.Validate(); err != nil {
		return err
	}
	slots := day.Hours.TimeSlots
	if slots == nil {
		slots = []schedule.TimeSlot{}
	}
	slotsJSON, err := json.Marshal(slots)
	if err != nil {
		return err
	}
	var breakStart, breakEnd interface{}
	if day.Break != nil {
		breakStart = day.Break.Start
		breakEnd = day.Break.End
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO clinic_business_hours (clinic_id, weekday, is_open, time_slots, break_start, break_end, updated_at)
		SELECT clinic_id, $2, $3, $4, $5, $6, NOW()
		FROM clinics
		WHERE clinic_id = $1
		ON CONFLICT (clinic_id, weekday) DO UPDATE
		SET is_open = EXCLUDED.is_open,
			time_slots = EXCLUDED.time_slots,
			break_start = EXCLUDED.break_start,
			break_end = EXCLUDED.break_end,
			updated_at = EXCLUDED.updated_at
	`, clinicID, int(day.Weekday), day.Hours.IsOpen, string(slotsJSON), breakStart, breakEnd)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrClinicNotFound
	}
	return nil
}

// ListHolidays returns holidays ordered by date. Empty bounds are open.
func (s *Store) ListHolidays(ctx context.Context, clinicID, from, to string) ([]models.Holiday, error) {
	var fromDate, toDate interface{}
	if from != "" {
		parsed, err := schedule.ParseDate(from)
		if err != nil {
			return nil, err
		}
		fromDate = parsed
	}
	if to != "" {
		parsed, err := schedule.ParseDate(to)
		if err != nil {
			return nil, err
		}
		toDate = parsed
	}

	rows, err := s.pool.Query(ctx, `
		SELECT clinic_id, holiday_date, name
		FROM clinic_holidays
		WHERE clinic_id = $1
			AND ($2::date IS NULL OR holiday_date >= $2::date)
			AND ($3::date IS NULL OR holiday_date <= $3::date)
		ORDER BY holiday_date ASC
	`, clinicID, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holidays []models.Holiday
	for rows.Next() {
		var holiday models.Holiday
		var date time.Time
		if err := rows.Scan(&holiday.ClinicID, &date, &holiday.Name); err != nil {
			return nil, err
		}
		holiday.Date = date.Format(models.DateLayout)
		holidays = append(holidays, holiday)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return holidays, nil
}

func (s *Store) IsHoliday(ctx context.Context, clinicID, date string) (bool, error) {
	parsed, err := schedule.ParseDate(date)
	if err != nil {
		return false, err
	}
	var exists bool
	row := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM clinic_holidays WHERE clinic_id = $1 AND holiday_date = $2
		)
	`, clinicID, parsed)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *Store) CreateHoliday(ctx context.Context, holiday models.Holiday) error {
	parsed, err := schedule.ParseDate(holiday.Date)
	if err != nil {
		return err
	}
	if _, err := s.GetClinic(ctx, holiday.ClinicID); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO clinic_holidays (clinic_id, holiday_date, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (clinic_id, holiday_date) DO NOTHING
	`, holiday.ClinicID, parsed, holiday.Name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrHolidayExists
	}
	return nil
}

func (s *Store) DeleteHoliday(ctx context.Context, clinicID, date string) error {
	parsed, err := schedule.ParseDate(date)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		DELETE FROM clinic_holidays
		WHERE clinic_id = $1 AND holiday_date = $2
	`, clinicID, parsed)
	return err
}

func (s *Store) GetStaffByEmail(ctx context.Context, clinicID, email string) (models.Staff, error) {
	var staff models.Staff
	row := s.pool.QueryRow(ctx, `
		SELECT staff_id, clinic_id, email, name, role, password_hash
		FROM staff
		WHERE clinic_id = $1 AND lower(email) = lower($2)
	`, clinicID, email)
	if err := row.Scan(&staff.StaffID, &staff.ClinicID, &staff.Email, &staff.Name, &staff.Role, &staff.PasswordHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Staff{}, store.ErrStaffNotFound
		}
		return models.Staff{}, err
	}
	return staff, nil
}
