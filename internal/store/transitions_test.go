package store

import (
	"testing"

	"dentaldesk/schedule-service/internal/models"
)

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   models.Status
		valid  bool
	}{
		{"mark_late", models.StatusNotYetArrived, true},
		{"mark_late", models.StatusLate, false},
		{"mark_late", models.StatusCancelled, false},
		{"mark_late", models.StatusArrived, false},
		{"arrive", models.StatusNotYetArrived, true},
		{"arrive", models.StatusLate, true},
		{"arrive", models.StatusCancelled, false},
		{"cancel", models.StatusNotYetArrived, true},
		{"cancel", models.StatusLate, true},
		{"cancel", models.StatusArrived, false},
		{"start_treatment", models.StatusArrived, true},
		{"start_treatment", models.StatusLate, false},
		{"bill", models.StatusInTreatment, true},
		{"bill", models.StatusArrived, false},
		{"finish", models.StatusBilling, true},
		{"finish", models.StatusInTreatment, true},
		{"finish", models.StatusFinished, false},
		{"unknown", models.StatusNotYetArrived, false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}

func TestNothingReturnsToNotYetArrived(t *testing.T) {
	for _, status := range models.Statuses() {
		action, ok := ActionFor(status)
		if status == models.StatusNotYetArrived {
			if ok {
				t.Fatalf("unexpected action %q into not_yet_arrived", action)
			}
			continue
		}
		if !ok {
			t.Fatalf("no action for %q", status)
		}
		target, ok := TargetStatus(action)
		if !ok || target != status {
			t.Fatalf("ActionFor/TargetStatus mismatch for %q: %q -> %q", status, action, target)
		}
	}
}

func TestLateIsNeverLeftAutomatically(t *testing.T) {
	for action := range transitionMap {
		if !ValidTransition(action, models.StatusLate) {
			continue
		}
		if !IsManualAction(action) {
			t.Fatalf("automatic action %q leaves late", action)
		}
	}
	if IsManualAction(ActionMarkLate) {
		t.Fatalf("mark_late must not be a manual action")
	}
}
