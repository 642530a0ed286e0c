package settings

import (
	"context"
	"fmt"
	"time"

	"dentaldesk/schedule-service/internal/lifecycle"
	"dentaldesk/schedule-service/internal/models"
	"dentaldesk/schedule-service/internal/schedule"
	"dentaldesk/schedule-service/internal/store"

	"github.com/rs/zerolog"
)

// Service resolves clinic business hours, holidays and time zones for the
// validator and the late promoter.
type Service struct {
	store           store.SettingsStore
	cache           *HoursCache
	defaultLocation *time.Location
	logger          zerolog.Logger
}

func NewService(settingsStore store.SettingsStore, cache *HoursCache, defaultLocation *time.Location, logger zerolog.Logger) *Service {
	return &Service{
		store:           settingsStore,
		cache:           cache,
		defaultLocation: defaultLocation,
		logger:          logger.With().Str("component", "settings").Logger(),
	}
}

func (s *Service) load(ctx context.Context, clinicID string) (models.Clinic, schedule.WeeklySchedule, error) {
	if s.cache != nil {
		if clinic, weekly, ok := s.cache.Get(clinicID); ok {
			return clinic, weekly, nil
		}
	}
	clinic, err := s.store.GetClinic(ctx, clinicID)
	if err != nil {
		return models.Clinic{}, schedule.WeeklySchedule{}, err
	}
	weekly, err := s.store.GetWeeklySchedule(ctx, clinicID)
	if err != nil {
		return models.Clinic{}, schedule.WeeklySchedule{}, err
	}
	if s.cache != nil {
		s.cache.Add(clinic, weekly)
	}
	return clinic, weekly, nil
}

func (s *Service) Clinic(ctx context.Context, clinicID string) (models.Clinic, error) {
	clinic, _, err := s.load(ctx, clinicID)
	return clinic, err
}

func (s *Service) WeeklySchedule(ctx context.Context, clinicID string) (schedule.WeeklySchedule, error) {
	_, weekly, err := s.load(ctx, clinicID)
	return weekly, err
}

// ClinicLocation returns the clinic's configured zone, falling back to the
// service default when the clinic has none.
func (s *Service) ClinicLocation(ctx context.Context, clinicID string) (*time.Location, error) {
	clinic, _, err := s.load(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	if clinic.Timezone == "" {
		if s.defaultLocation == nil {
			return nil, lifecycle.ErrNoLocation
		}
		return s.defaultLocation, nil
	}
	loc, err := time.LoadLocation(clinic.Timezone)
	if err != nil {
		return nil, fmt.Errorf("clinic %s timezone %q: %w", clinicID, clinic.Timezone, err)
	}
	return loc, nil
}

// DayFor resolves the business hours and break in effect on date.
func (s *Service) DayFor(ctx context.Context, clinicID, date string) (schedule.DaySchedule, bool, error) {
	weekly, err := s.WeeklySchedule(ctx, clinicID)
	if err != nil {
		return schedule.DaySchedule{}, false, err
	}
	holiday, err := s.store.IsHoliday(ctx, clinicID, date)
	if err != nil {
		return schedule.DaySchedule{}, false, err
	}
	day, err := weekly.ForDate(date, holiday)
	if err != nil {
		return schedule.DaySchedule{}, false, err
	}
	return day, holiday, nil
}

// Check runs the appointment validator against the clinic's settings for date.
func (s *Service) Check(ctx context.Context, clinicID, date, startTime, endTime string) (schedule.ValidationResult, bool, error) {
	clinic, _, err := s.load(ctx, clinicID)
	if err != nil {
		return schedule.ValidationResult{}, false, err
	}
	day, holiday, err := s.DayFor(ctx, clinicID, date)
	if err != nil {
		return schedule.ValidationResult{}, false, err
	}
	result, err := schedule.ValidateWithMessages(startTime, endTime, day.Hours, day.Break, day.Weekday, schedule.MessagesFor(clinic.Language))
	if err != nil {
		return schedule.ValidationResult{}, false, err
	}
	return result, holiday, nil
}

func (s *Service) PutDaySchedule(ctx context.Context, clinicID string, day schedule.DaySchedule) error {
	if err := s.store.PutDaySchedule(ctx, clinicID, day); err != nil {
		return err
	}
	s.invalidate(clinicID)
	return nil
}

func (s *Service) invalidate(clinicID string) {
	if s.cache == nil {
		return
	}
	s.cache.Invalidate(clinicID)
	s.logger.Debug().Str("clinic_id", clinicID).Msg("business hours cache invalidated")
}
