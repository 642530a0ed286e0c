package models

import (
	"encoding/json"
	"testing"
)

func TestParseStatus(t *testing.T) {
	cases := []struct {
		raw   string
		want  Status
		valid bool
	}{
		{"not_yet_arrived", StatusNotYetArrived, true},
		{"未来院", StatusNotYetArrived, true},
		{"遅刻", StatusLate, true},
		{"late", StatusLate, true},
		{"キャンセル", StatusCancelled, true},
		{"finished", StatusFinished, true},
		{"waiting", "", false},
		{"", "", false},
	}

	for _, tt := range cases {
		got, err := ParseStatus(tt.raw)
		if tt.valid && err != nil {
			t.Fatalf("ParseStatus(%q) unexpected error: %v", tt.raw, err)
		}
		if !tt.valid && err == nil {
			t.Fatalf("ParseStatus(%q) expected error", tt.raw)
		}
		if got != tt.want {
			t.Fatalf("ParseStatus(%q)=%q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestEveryStatusHasLabel(t *testing.T) {
	for _, status := range Statuses() {
		if !status.Valid() {
			t.Fatalf("status %q not valid", status)
		}
		if status.Label() == "" {
			t.Fatalf("status %q has no label", status)
		}
	}
	if Status("waiting").Valid() {
		t.Fatalf("unexpected valid status")
	}
}

func TestStatusUnmarshalRejectsUnknown(t *testing.T) {
	var appt Appointment
	if err := json.Unmarshal([]byte(`{"status":"遅刻"}`), &appt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if appt.Status != StatusLate {
		t.Fatalf("expected late, got %q", appt.Status)
	}
	if err := json.Unmarshal([]byte(`{"status":"done"}`), &appt); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}
