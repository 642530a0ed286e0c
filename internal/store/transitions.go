package store

import "dentaldesk/schedule-service/internal/models"

const (
	ActionMarkLate       = "mark_late"
	ActionArrive         = "arrive"
	ActionCancel         = "cancel"
	ActionStartTreatment = "start_treatment"
	ActionBill           = "bill"
	ActionFinish         = "finish"
)

// mark_late is only issued by the promotion timer; the rest are staff actions.
var transitionMap = map[string][]models.Status{
	ActionMarkLate:       {models.StatusNotYetArrived},
	ActionArrive:         {models.StatusNotYetArrived, models.StatusLate},
	ActionCancel:         {models.StatusNotYetArrived, models.StatusLate},
	ActionStartTreatment: {models.StatusArrived},
	ActionBill:           {models.StatusInTreatment},
	ActionFinish:         {models.StatusInTreatment, models.StatusBilling},
}

func ValidTransition(action string, fromStatus models.Status) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// IsManualAction reports whether staff may trigger the action through the API.
func IsManualAction(action string) bool {
	_, ok := transitionMap[action]
	return ok && action != ActionMarkLate
}

func TargetStatus(action string) (models.Status, bool) {
	switch action {
	case ActionMarkLate:
		return models.StatusLate, true
	case ActionArrive:
		return models.StatusArrived, true
	case ActionCancel:
		return models.StatusCancelled, true
	case ActionStartTreatment:
		return models.StatusInTreatment, true
	case ActionBill:
		return models.StatusBilling, true
	case ActionFinish:
		return models.StatusFinished, true
	default:
		return "", false
	}
}

// ActionFor returns the action that moves an appointment into status.
// Nothing moves an appointment back to not-yet-arrived.
func ActionFor(status models.Status) (string, bool) {
	switch status {
	case models.StatusLate:
		return ActionMarkLate, true
	case models.StatusArrived:
		return ActionArrive, true
	case models.StatusCancelled:
		return ActionCancel, true
	case models.StatusInTreatment:
		return ActionStartTreatment, true
	case models.StatusBilling:
		return ActionBill, true
	case models.StatusFinished:
		return ActionFinish, true
	case models.StatusNotYetArrived:
		return "", false
	default:
		return "", false
	}
}

func EventTypeFor(status models.Status) string {
	switch status {
	case models.StatusNotYetArrived:
		return EventAppointmentCreated
	case models.StatusLate:
		return EventAppointmentLate
	case models.StatusArrived:
		return "appointment.arrived"
	case models.StatusInTreatment:
		return "appointment.in_treatment"
	case models.StatusBilling:
		return "appointment.billing"
	case models.StatusFinished:
		return "appointment.finished"
	case models.StatusCancelled:
		return EventAppointmentCancelled
	default:
		return "appointment.updated"
	}
}
