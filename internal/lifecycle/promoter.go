package lifecycle

import (
	"context"
	"time"

	"dentaldesk/schedule-service/internal/models"

	"github.com/rs/zerolog"
)

// StatusUpdater persists a status change and reports whether it wrote it.
// Setting late on an appointment that is already late returns false.
type StatusUpdater interface {
	UpdateAppointmentStatus(ctx context.Context, clinicID, appointmentID string, status models.Status) (bool, error)
}

// AppointmentSource returns the caller's current view of a clinic's appointments.
type AppointmentSource interface {
	Appointments(ctx context.Context, clinicID string) ([]models.Appointment, error)
}

type SourceFunc func(ctx context.Context, clinicID string) ([]models.Appointment, error)

func (f SourceFunc) Appointments(ctx context.Context, clinicID string) ([]models.Appointment, error) {
	return f(ctx, clinicID)
}

type Promoter struct {
	updater     StatusUpdater
	zones       ZoneResolver
	clock       Clock
	logger      zerolog.Logger
	tickTimeout time.Duration
}

type Options struct {
	Clock       Clock
	Logger      zerolog.Logger
	TickTimeout time.Duration
}

func NewPromoter(updater StatusUpdater, zones ZoneResolver, options Options) *Promoter {
	clock := options.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	timeout := options.TickTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Promoter{
		updater:     updater,
		zones:       zones,
		clock:       clock,
		logger:      options.Logger.With().Str("component", "late_promoter").Logger(),
		tickTimeout: timeout,
	}
}

// AutoUpdateLateStatus promotes every overdue not-yet-arrived appointment to
// late, one at a time, and returns the ids this call actually updated. A failed update
// is logged and skipped; the appointment is picked up again on a later scan.
func (p *Promoter) AutoUpdateLateStatus(ctx context.Context, appointments []models.Appointment, clinicID string) []string {
	loc, err := p.zones.ClinicLocation(ctx, clinicID)
	if err != nil {
		p.logger.Error().Err(err).Str("clinic_id", clinicID).Msg("resolve clinic time zone")
		return nil
	}
	now := p.clock.Now()

	var promoted []string
	for _, appt := range appointments {
		if !awaitingArrival(appt.Status) {
			continue
		}
		if appt.ClinicID != "" && appt.ClinicID != clinicID {
			continue
		}
		late, err := IsLate(now, appt.Date, appt.StartTime, loc)
		if err != nil {
			p.logger.Warn().Err(err).
				Str("appointment_id", appt.AppointmentID).
				Str("date", appt.Date).
				Str("start_time", appt.StartTime).
				Msg("skip appointment with malformed start")
			continue
		}
		if !late {
			continue
		}
		applied, err := p.updater.UpdateAppointmentStatus(ctx, clinicID, appt.AppointmentID, models.StatusLate)
		if err != nil {
			p.logger.Error().Err(err).
				Str("clinic_id", clinicID).
				Str("appointment_id", appt.AppointmentID).
				Str("patient_id", appt.PatientID).
				Str("patient_name", appt.PatientName).
				Str("date", appt.Date).
				Str("start_time", appt.StartTime).
				Msg("auto late promotion failed")
			continue
		}
		if !applied {
			continue
		}
		promoted = append(promoted, appt.AppointmentID)
	}
	if len(promoted) > 0 {
		p.logger.Info().Str("clinic_id", clinicID).Strs("appointment_ids", promoted).Msg("promoted appointments to late")
	}
	return promoted
}

func awaitingArrival(status models.Status) bool {
	switch status {
	case models.StatusNotYetArrived:
		return true
	case models.StatusLate, models.StatusArrived, models.StatusInTreatment, models.StatusBilling, models.StatusFinished, models.StatusCancelled:
		return false
	default:
		return false
	}
}
