package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	"dentaldesk/schedule-service/internal/models"
	"dentaldesk/schedule-service/internal/schedule"
	"dentaldesk/schedule-service/internal/store"

	"github.com/rs/zerolog"
)

type fakeSettingsStore struct {
	clinic    models.Clinic
	weekly    schedule.WeeklySchedule
	holidays  map[string]bool
	loads     int
	putDayFn  func(ctx context.Context, clinicID string, day schedule.DaySchedule) error
	getClinic func(ctx context.Context, clinicID string) (models.Clinic, error)
}

func (f *fakeSettingsStore) GetClinic(ctx context.Context, clinicID string) (models.Clinic, error) {
	if f.getClinic != nil {
		return f.getClinic(ctx, clinicID)
	}
	if clinicID != f.clinic.ClinicID {
		return models.Clinic{}, store.ErrClinicNotFound
	}
	return f.clinic, nil
}

func (f *fakeSettingsStore) ListClinics(ctx context.Context) ([]models.Clinic, error) {
	return []models.Clinic{f.clinic}, nil
}

func (f *fakeSettingsStore) GetWeeklySchedule(ctx context.Context, clinicID string) (schedule.WeeklySchedule, error) {
	f.loads++
	return f.weekly, nil
}

func (f *fakeSettingsStore) PutDaySchedule(ctx context.Context, clinicID string, day schedule.DaySchedule) error {
	if f.putDayFn != nil {
		return f.putDayFn(ctx, clinicID, day)
	}
	f.weekly.Set(day)
	return nil
}

func (f *fakeSettingsStore) ListHolidays(ctx context.Context, clinicID, from, to string) ([]models.Holiday, error) {
	return nil, nil
}

func (f *fakeSettingsStore) IsHoliday(ctx context.Context, clinicID, date string) (bool, error) {
	return f.holidays[date], nil
}

func (f *fakeSettingsStore) CreateHoliday(ctx context.Context, holiday models.Holiday) error {
	return nil
}

func (f *fakeSettingsStore) DeleteHoliday(ctx context.Context, clinicID, date string) error {
	return nil
}

func newFakeSettings() *fakeSettingsStore {
	weekly := schedule.NewWeeklySchedule("clinic-1")
	weekly.Set(schedule.DaySchedule{
		Weekday: time.Wednesday,
		Hours: schedule.BusinessHours{
			IsOpen:    true,
			TimeSlots: []schedule.TimeSlot{{Start: "09:00", End: "12:00"}, {Start: "14:00", End: "18:00"}},
		},
		Break: &schedule.BreakTime{Start: "12:00", End: "14:00"},
	})
	return &fakeSettingsStore{
		clinic:   models.Clinic{ClinicID: "clinic-1", Timezone: "UTC", Language: "ja"},
		weekly:   weekly,
		holidays: map[string]bool{},
	}
}

func TestHoursCacheExpiresWithClock(t *testing.T) {
	now := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
	cache, err := NewHoursCache(4, time.Minute, func() time.Time { return now })
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	cache.Add(models.Clinic{ClinicID: "clinic-1"}, schedule.NewWeeklySchedule("clinic-1"))

	if _, _, ok := cache.Get("clinic-1"); !ok {
		t.Fatalf("expected cache hit")
	}
	now = now.Add(time.Minute)
	if _, _, ok := cache.Get("clinic-1"); ok {
		t.Fatalf("expected entry to expire")
	}
	if cache.Len() != 0 {
		t.Fatalf("expected expired entry removed, len=%d", cache.Len())
	}
}

func TestServiceCachesAndInvalidates(t *testing.T) {
	fake := newFakeSettings()
	cache, err := NewHoursCache(4, time.Hour, nil)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	svc := NewService(fake, cache, time.UTC, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.WeeklySchedule(ctx, "clinic-1"); err != nil {
			t.Fatalf("weekly schedule: %v", err)
		}
	}
	if fake.loads != 1 {
		t.Fatalf("expected one store load, got %d", fake.loads)
	}

	saturday := schedule.DaySchedule{
		Weekday: time.Saturday,
		Hours:   schedule.BusinessHours{IsOpen: true, TimeSlots: []schedule.TimeSlot{{Start: "09:00", End: "13:00"}}},
	}
	if err := svc.PutDaySchedule(ctx, "clinic-1", saturday); err != nil {
		t.Fatalf("put day: %v", err)
	}
	weekly, err := svc.WeeklySchedule(ctx, "clinic-1")
	if err != nil {
		t.Fatalf("weekly schedule: %v", err)
	}
	if fake.loads != 2 || !weekly.Day(time.Saturday).Hours.IsOpen {
		t.Fatalf("expected reload after write, loads=%d", fake.loads)
	}
}

func TestServiceCheck(t *testing.T) {
	fake := newFakeSettings()
	fake.holidays["2025-01-22"] = true
	svc := NewService(fake, nil, time.UTC, zerolog.Nop())
	ctx := context.Background()

	cases := []struct {
		name    string
		date    string
		start   string
		end     string
		valid   bool
		holiday bool
		message string
	}{
		{"open morning", "2025-01-15", "10:00", "10:30", true, false, ""},
		{"break", "2025-01-15", "12:30", "13:00", false, false, "予約時間が休憩時間と重なっています。"},
		{"closed saturday", "2025-01-18", "10:00", "10:30", false, false, "予約時間が営業時間外です。"},
		{"holiday wednesday", "2025-01-22", "10:00", "10:30", false, true, "予約時間が営業時間外です。"},
	}
	for _, tt := range cases {
		result, holiday, err := svc.Check(ctx, "clinic-1", tt.date, tt.start, tt.end)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		if result.IsValid != tt.valid || holiday != tt.holiday || result.WarningMessage != tt.message {
			t.Fatalf("%s: got valid=%v holiday=%v message=%q", tt.name, result.IsValid, holiday, result.WarningMessage)
		}
	}

	fake.clinic.Language = "en"
	result, _, err := svc.Check(ctx, "clinic-1", "2025-01-15", "12:30", "13:00")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.WarningMessage != "The appointment time overlaps the break time." {
		t.Fatalf("unexpected english message %q", result.WarningMessage)
	}
}

func TestServiceClinicLocation(t *testing.T) {
	fake := newFakeSettings()
	fake.clinic.Timezone = ""
	jst := time.FixedZone("JST", 9*3600)
	svc := NewService(fake, nil, jst, zerolog.Nop())

	loc, err := svc.ClinicLocation(context.Background(), "clinic-1")
	if err != nil || loc != jst {
		t.Fatalf("expected default location, got %v err=%v", loc, err)
	}

	fake.clinic.Timezone = "Not/AZone"
	if _, err := svc.ClinicLocation(context.Background(), "clinic-1"); err == nil {
		t.Fatalf("expected error for unknown zone")
	}

	if _, err := svc.ClinicLocation(context.Background(), "missing"); !errors.Is(err, store.ErrClinicNotFound) {
		t.Fatalf("expected clinic not found, got %v", err)
	}
}
