package store

import "errors"

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrClinicNotFound      = errors.New("clinic not found")
	ErrInvalidState        = errors.New("invalid appointment state")
	ErrAccessDenied        = errors.New("access denied")
	ErrHolidayClosed       = errors.New("holiday closed")
	ErrHolidayExists       = errors.New("holiday already exists")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStaffNotFound       = errors.New("staff not found")
	ErrNotificationMissing = errors.New("notification not found")
)
