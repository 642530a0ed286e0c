package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const MinutesPerDay = 24 * 60

// FormatError reports a malformed clock time or civil date.
type FormatError struct {
	Value  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid time value %q: %s", e.Value, e.Reason)
}

// TimeToMinutes converts "HH:MM" into minutes since midnight, in [0, 1440).
func TimeToMinutes(value string) (int, error) {
	hourPart, minutePart, ok := strings.Cut(value, ":")
	if !ok {
		return 0, &FormatError{Value: value, Reason: "expected HH:MM"}
	}
	if len(hourPart) < 1 || len(hourPart) > 2 || len(minutePart) != 2 {
		return 0, &FormatError{Value: value, Reason: "expected HH:MM"}
	}
	if !isDigits(hourPart) || !isDigits(minutePart) {
		return 0, &FormatError{Value: value, Reason: "non-numeric component"}
	}
	hours, _ := strconv.Atoi(hourPart)
	minutes, _ := strconv.Atoi(minutePart)
	if hours > 23 {
		return 0, &FormatError{Value: value, Reason: "hour out of range"}
	}
	if minutes > 59 {
		return 0, &FormatError{Value: value, Reason: "minute out of range"}
	}
	return hours*60 + minutes, nil
}

// MinutesToTime renders minutes since midnight as zero-padded "HH:MM".
// Values outside a single day wrap around.
func MinutesToTime(minutes int) string {
	minutes = ((minutes % MinutesPerDay) + MinutesPerDay) % MinutesPerDay
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// MustMinutes is TimeToMinutes for literals known to be well formed.
func MustMinutes(value string) int {
	minutes, err := TimeToMinutes(value)
	if err != nil {
		panic(err)
	}
	return minutes
}

// ParseDate parses a civil "YYYY-MM-DD" date. The result carries no zone meaning.
func ParseDate(value string) (time.Time, error) {
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, &FormatError{Value: value, Reason: "expected YYYY-MM-DD"}
	}
	return parsed, nil
}

// NormalizeTime rewrites a valid clock time in canonical zero-padded form.
func NormalizeTime(value string) (string, error) {
	minutes, err := TimeToMinutes(value)
	if err != nil {
		return "", err
	}
	return MinutesToTime(minutes), nil
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return value != ""
}
