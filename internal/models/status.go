package models

import (
	"encoding/json"
	"fmt"
)

// Status is the closed set of appointment states shown on the clinic calendar.
type Status string

const (
	StatusNotYetArrived Status = "not_yet_arrived"
	StatusLate          Status = "late"
	StatusArrived       Status = "arrived"
	StatusInTreatment   Status = "in_treatment"
	StatusBilling       Status = "billing"
	StatusFinished      Status = "finished"
	StatusCancelled     Status = "cancelled"
)

var allStatuses = []Status{
	StatusNotYetArrived,
	StatusLate,
	StatusArrived,
	StatusInTreatment,
	StatusBilling,
	StatusFinished,
	StatusCancelled,
}

func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus accepts the wire code or the Japanese calendar label.
func ParseStatus(raw string) (Status, error) {
	for _, status := range allStatuses {
		if raw == string(status) || raw == status.Label() {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown appointment status %q", raw)
}

func (s Status) Valid() bool {
	switch s {
	case StatusNotYetArrived, StatusLate, StatusArrived, StatusInTreatment, StatusBilling, StatusFinished, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s Status) Label() string {
	switch s {
	case StatusNotYetArrived:
		return "未来院"
	case StatusLate:
		return "遅刻"
	case StatusArrived:
		return "来院済"
	case StatusInTreatment:
		return "治療中"
	case StatusBilling:
		return "会計"
	case StatusFinished:
		return "終了"
	case StatusCancelled:
		return "キャンセル"
	default:
		return ""
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusFinished, StatusCancelled:
		return true
	case StatusNotYetArrived, StatusLate, StatusArrived, StatusInTreatment, StatusBilling:
		return false
	default:
		return false
	}
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
