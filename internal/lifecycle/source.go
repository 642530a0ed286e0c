package lifecycle

import (
	"context"

	"dentaldesk/schedule-service/internal/models"
	"dentaldesk/schedule-service/internal/store"
)

type AppointmentLister interface {
	ListAppointments(ctx context.Context, filter store.ListAppointmentsFilter) ([]models.Appointment, error)
}

// TodaySource lists the appointments still awaiting arrival on the clinic's
// current civil date.
func TodaySource(lister AppointmentLister, zones ZoneResolver, clock Clock) SourceFunc {
	if clock == nil {
		clock = SystemClock{}
	}
	return func(ctx context.Context, clinicID string) ([]models.Appointment, error) {
		loc, err := zones.ClinicLocation(ctx, clinicID)
		if err != nil {
			return nil, err
		}
		return lister.ListAppointments(ctx, store.ListAppointmentsFilter{
			ClinicID: clinicID,
			Date:     clock.Now().In(loc).Format(models.DateLayout),
			Statuses: []models.Status{models.StatusNotYetArrived},
		})
	}
}
