package lifecycle

import (
	"time"

	"dentaldesk/schedule-service/internal/schedule"
)

// AppointmentStart composes the civil date and clock time in the clinic's zone.
func AppointmentStart(date, startTime string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		return time.Time{}, ErrNoLocation
	}
	day, err := schedule.ParseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	minutes, err := schedule.TimeToMinutes(startTime)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), minutes/60, minutes%60, 0, 0, loc), nil
}

// IsLate reports whether now is strictly after the appointment start.
func IsLate(now time.Time, date, startTime string, loc *time.Location) (bool, error) {
	start, err := AppointmentStart(date, startTime, loc)
	if err != nil {
		return false, err
	}
	return now.After(start), nil
}
