package schedule

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrSlotOrder   = errors.New("time slot start must be before end")
	ErrSlotOverlap = errors.New("time slots overlap")
	ErrBreakOrder  = errors.New("break start must be before end")
)

type TimeSlot struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type BusinessHours struct {
	IsOpen    bool       `json:"is_open"`
	TimeSlots []TimeSlot `json:"time_slots"`
}

type BreakTime struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// IsBreakTime reports whether the instant falls strictly inside the break.
// The break boundaries themselves are bookable. A nil break never matches,
// but the instant must still be well formed.
func IsBreakTime(value string, breakTime *BreakTime) (bool, error) {
	at, err := TimeToMinutes(value)
	if err != nil {
		return false, err
	}
	if breakTime == nil {
		return false, nil
	}
	start, err := TimeToMinutes(breakTime.Start)
	if err != nil {
		return false, err
	}
	end, err := TimeToMinutes(breakTime.End)
	if err != nil {
		return false, err
	}
	return at > start && at < end, nil
}

// IsOutsideBusinessHours reports whether no open slot contains the instant.
// Slots are half-open [start, end). A closed day, or an open day without
// slots, is outside for every instant.
func IsOutsideBusinessHours(value string, hours BusinessHours) (bool, error) {
	at, err := TimeToMinutes(value)
	if err != nil {
		return false, err
	}
	if !hours.IsOpen || len(hours.TimeSlots) == 0 {
		return true, nil
	}
	for _, slot := range hours.TimeSlots {
		start, err := TimeToMinutes(slot.Start)
		if err != nil {
			return false, err
		}
		end, err := TimeToMinutes(slot.End)
		if err != nil {
			return false, err
		}
		if at >= start && at < end {
			return false, nil
		}
	}
	return true, nil
}

// Validate checks slot ordering and that no two slots overlap.
func (h BusinessHours) Validate() error {
	type span struct{ start, end int }
	spans := make([]span, 0, len(h.TimeSlots))
	for _, slot := range h.TimeSlots {
		start, err := TimeToMinutes(slot.Start)
		if err != nil {
			return err
		}
		end, err := TimeToMinutes(slot.End)
		if err != nil {
			return err
		}
		if start >= end {
			return fmt.Errorf("%w: %s-%s", ErrSlotOrder, slot.Start, slot.End)
		}
		spans = append(spans, span{start: start, end: end})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	for i := 1; i < len(spans); i++ {
		if spans[i].start < spans[i-1].end {
			return fmt.Errorf("%w: %s overlaps %s", ErrSlotOverlap, MinutesToTime(spans[i].start), MinutesToTime(spans[i-1].end))
		}
	}
	return nil
}

func (b BreakTime) Validate() error {
	start, err := TimeToMinutes(b.Start)
	if err != nil {
		return err
	}
	end, err := TimeToMinutes(b.End)
	if err != nil {
		return err
	}
	if start >= end {
		return fmt.Errorf("%w: %s-%s", ErrBreakOrder, b.Start, b.End)
	}
	return nil
}
