package schedule

import "time"

type ValidationResult struct {
	IsValid                       bool         `json:"is_valid"`
	IsBreakTimeOverlap            bool         `json:"is_break_time_overlap"`
	IsOutsideBusinessHoursOverlap bool         `json:"is_outside_business_hours_overlap"`
	WarningMessage                string       `json:"warning_message"`
	DayOfWeek                     time.Weekday `json:"day_of_week"`
}

type Messages struct {
	BreakOverlap string
	OutsideHours string
}

const (
	LanguageJapanese = "ja"
	LanguageEnglish  = "en"
)

func MessagesFor(language string) Messages {
	switch language {
	case LanguageEnglish:
		return Messages{
			BreakOverlap: "The appointment time overlaps the break time.",
			OutsideHours: "The appointment time is outside business hours.",
		}
	default:
		return Messages{
			BreakOverlap: "予約時間が休憩時間と重なっています。",
			OutsideHours: "予約時間が営業時間外です。",
		}
	}
}

// ValidateAppointmentTime checks the start and end instants of a candidate
// appointment against hours already resolved for its day. Only the two
// endpoints are classified, so an appointment that spans a whole break
// without starting or ending inside it is reported valid.
//
// Business rule violations are reported in the result, never as an error;
// the error is non-nil only for malformed clock times.
func ValidateAppointmentTime(start, end string, hours BusinessHours, breakTime *BreakTime, day time.Weekday) (ValidationResult, error) {
	return ValidateWithMessages(start, end, hours, breakTime, day, MessagesFor(LanguageJapanese))
}

func ValidateWithMessages(start, end string, hours BusinessHours, breakTime *BreakTime, day time.Weekday, messages Messages) (ValidationResult, error) {
	startBreak, err := IsBreakTime(start, breakTime)
	if err != nil {
		return ValidationResult{}, err
	}
	endBreak, err := IsBreakTime(end, breakTime)
	if err != nil {
		return ValidationResult{}, err
	}
	startOutside, err := IsOutsideBusinessHours(start, hours)
	if err != nil {
		return ValidationResult{}, err
	}
	endOutside, err := IsOutsideBusinessHours(end, hours)
	if err != nil {
		return ValidationResult{}, err
	}

	result := ValidationResult{
		IsBreakTimeOverlap:            startBreak || endBreak,
		IsOutsideBusinessHoursOverlap: startOutside || endOutside,
		DayOfWeek:                     day,
	}
	result.IsValid = !(result.IsBreakTimeOverlap || result.IsOutsideBusinessHoursOverlap)

	switch {
	case result.IsBreakTimeOverlap:
		result.WarningMessage = messages.BreakOverlap
	case result.IsOutsideBusinessHoursOverlap:
		result.WarningMessage = messages.OutsideHours
	}
	return result, nil
}
