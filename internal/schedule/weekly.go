package schedule

import "time"

// DaySchedule is the business hours and optional break for one weekday.
type DaySchedule struct {
	Weekday time.Weekday  `json:"weekday"`
	Hours   BusinessHours `json:"hours"`
	Break   *BreakTime    `json:"break,omitempty"`
}

func (d DaySchedule) Validate() error {
	if err := d.Hours.Validate(); err != nil {
		return err
	}
	if d.Break != nil {
		return d.Break.Validate()
	}
	return nil
}

// WeeklySchedule is indexed by time.Weekday, Sunday first.
type WeeklySchedule struct {
	ClinicID string         `json:"clinic_id"`
	Days     [7]DaySchedule `json:"days"`
}

// NewWeeklySchedule returns a schedule with every day closed.
func NewWeeklySchedule(clinicID string) WeeklySchedule {
	schedule := WeeklySchedule{ClinicID: clinicID}
	for i := range schedule.Days {
		schedule.Days[i] = DaySchedule{Weekday: time.Weekday(i)}
	}
	return schedule
}

func (w WeeklySchedule) Day(day time.Weekday) DaySchedule {
	if day < time.Sunday || day > time.Saturday {
		return DaySchedule{Weekday: day}
	}
	return w.Days[day]
}

func (w *WeeklySchedule) Set(day DaySchedule) {
	if day.Weekday < time.Sunday || day.Weekday > time.Saturday {
		return
	}
	w.Days[day.Weekday] = day
}

// ForDate resolves the day schedule for a civil date. Holidays close the day.
func (w WeeklySchedule) ForDate(date string, holiday bool) (DaySchedule, error) {
	parsed, err := ParseDate(date)
	if err != nil {
		return DaySchedule{}, err
	}
	day := w.Day(parsed.Weekday())
	if holiday {
		day.Hours = BusinessHours{IsOpen: false}
		day.Break = nil
	}
	return day, nil
}
