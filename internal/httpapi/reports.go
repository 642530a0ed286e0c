package httpapi

import (
	"encoding/csv"
	"net/http"

	"dentaldesk/schedule-service/internal/models"
	"dentaldesk/schedule-service/internal/schedule"
	"dentaldesk/schedule-service/internal/store"
)

type DaySummary struct {
	ClinicID  string                `json:"clinic_id"`
	Date      string                `json:"date"`
	Total     int                   `json:"total"`
	Awaiting  int                   `json:"awaiting"`
	Completed int                   `json:"completed"`
	ByStatus  map[models.Status]int `json:"by_status"`
}

func summarizeDay(clinicID, date string, appointments []models.Appointment) DaySummary {
	summary := DaySummary{ClinicID: clinicID, Date: date, ByStatus: make(map[models.Status]int)}
	for _, status := range models.Statuses() {
		summary.ByStatus[status] = 0
	}
	for _, appointment := range appointments {
		summary.Total++
		summary.ByStatus[appointment.Status]++
		if appointment.Status == models.StatusNotYetArrived || appointment.Status == models.StatusLate {
			summary.Awaiting++
		}
		if appointment.Status.Terminal() {
			summary.Completed++
		}
	}
	return summary
}

func (h *Handler) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	clinicID, date, ok := reportParams(w, r)
	if !ok {
		return
	}
	appointments, err := h.appointments.ListAppointments(r.Context(), store.ListAppointmentsFilter{ClinicID: clinicID, Date: date})
	if err != nil {
		h.writeStoreError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, summarizeDay(clinicID, date, appointments))
}

func (h *Handler) handleDailyExport(w http.ResponseWriter, r *http.Request) {
	clinicID, date, ok := reportParams(w, r)
	if !ok {
		return
	}
	appointments, err := h.appointments.ListAppointments(r.Context(), store.ListAppointmentsFilter{ClinicID: clinicID, Date: date})
	if err != nil {
		h.writeStoreError(w, "", err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=appointments-"+date+".csv")
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"appointment_id", "date", "start_time", "end_time", "patient_name", "status", "status_label", "channel", "treatment_type", "staff_id"})
	for _, appointment := range appointments {
		_ = writer.Write([]string{
			appointment.AppointmentID,
			appointment.Date,
			appointment.StartTime,
			appointment.EndTime,
			appointment.PatientName,
			string(appointment.Status),
			appointment.Status.Label(),
			appointment.Channel,
			appointment.TreatmentType,
			appointment.StaffID,
		})
	}
	writer.Flush()
}

func reportParams(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	query := r.URL.Query()
	clinicID := query.Get("clinic_id")
	if !requireClinic(w, r, clinicID) {
		return "", "", false
	}
	date := query.Get("date")
	if _, err := schedule.ParseDate(date); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return "", "", false
	}
	return clinicID, date, true
}
