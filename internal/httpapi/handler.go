package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dentaldesk/schedule-service/internal/models"
	"dentaldesk/schedule-service/internal/schedule"
	"dentaldesk/schedule-service/internal/store"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Calendar resolves clinic business hours and validates candidate slots.
type Calendar interface {
	Check(ctx context.Context, clinicID, date, startTime, endTime string) (schedule.ValidationResult, bool, error)
	WeeklySchedule(ctx context.Context, clinicID string) (schedule.WeeklySchedule, error)
	PutDaySchedule(ctx context.Context, clinicID string, day schedule.DaySchedule) error
}

type HolidayStore interface {
	ListHolidays(ctx context.Context, clinicID, from, to string) ([]models.Holiday, error)
	CreateHoliday(ctx context.Context, holiday models.Holiday) error
	DeleteHoliday(ctx context.Context, clinicID, date string) error
}

type Deps struct {
	Appointments store.AppointmentStore
	Calendar     Calendar
	Holidays     HolidayStore
	Staff        store.StaffStore
	Auth         *Authenticator
	Realtime     http.Handler
	Logger       zerolog.Logger
}

type Handler struct {
	appointments store.AppointmentStore
	calendar     Calendar
	holidays     HolidayStore
	staff        store.StaffStore
	auth         *Authenticator
	realtime     http.Handler
	now          func() time.Time
	logger       zerolog.Logger
}

type errorResponse struct {
	RequestID string        `json:"request_id,omitempty"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type validationErrorResponse struct {
	RequestID  string                    `json:"request_id,omitempty"`
	Error      responseError             `json:"error"`
	Validation schedule.ValidationResult `json:"validation"`
}

type loginRequest struct {
	ClinicID string `json:"clinic_id"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt string       `json:"expires_at"`
	Staff     models.Staff `json:"staff"`
}

type validateRequest struct {
	ClinicID  string `json:"clinic_id"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type validateResponse struct {
	schedule.ValidationResult
	IsHoliday bool `json:"is_holiday"`
}

type createAppointmentRequest struct {
	RequestID     string `json:"request_id"`
	ClinicID      string `json:"clinic_id"`
	PatientID     string `json:"patient_id"`
	PatientName   string `json:"patient_name"`
	StaffID       string `json:"staff_id"`
	UnitID        string `json:"unit_id"`
	TreatmentType string `json:"treatment_type"`
	Date          string `json:"date"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Notes         string `json:"notes"`
	Phone         string `json:"phone"`
	Email         string `json:"email"`
	LineUserID    string `json:"line_user_id"`
	Override      bool   `json:"override"`
}

type publicBookingRequest struct {
	RequestID   string `json:"request_id"`
	ClinicID    string `json:"clinic_id"`
	PatientName string `json:"patient_name"`
	Date        string `json:"date"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Notes       string `json:"notes"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	LineUserID  string `json:"line_user_id"`
}

type rescheduleRequest struct {
	RequestID string `json:"request_id"`
	ClinicID  string `json:"clinic_id"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	StaffID   string `json:"staff_id"`
	Override  bool   `json:"override"`
}

type actionRequest struct {
	RequestID string `json:"request_id"`
	ClinicID  string `json:"clinic_id"`
	Reason    string `json:"reason"`
}

type dayScheduleRequest struct {
	IsOpen    bool                `json:"is_open"`
	TimeSlots []schedule.TimeSlot `json:"time_slots"`
	Break     *schedule.BreakTime `json:"break"`
}

type holidayRequest struct {
	Date string `json:"date"`
	Name string `json:"name"`
}

type appointmentResponse struct {
	Appointment models.Appointment `json:"appointment"`
	Created     bool               `json:"created"`
}

// eventHistoryResponse carries an appointment's event log with the result of
// re-hashing it and the status the log replays to.
type eventHistoryResponse struct {
	Events         []store.AppointmentEvent `json:"events"`
	ChainValid     bool                     `json:"chain_valid"`
	ChainError     string                   `json:"chain_error,omitempty"`
	ReplayedStatus models.Status            `json:"replayed_status,omitempty"`
}

type actionResponse struct {
	Appointment models.Appointment `json:"appointment"`
	Applied     bool               `json:"applied"`
}

func NewHandler(deps Deps) *Handler {
	return &Handler{
		appointments: deps.Appointments,
		calendar:     deps.Calendar,
		holidays:     deps.Holidays,
		staff:        deps.Staff,
		auth:         deps.Auth,
		realtime:     deps.Realtime,
		now:          time.Now,
		logger:       deps.Logger.With().Str("component", "httpapi").Logger(),
	}
}

func (h *Handler) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", expvar.Handler()).Methods(http.MethodGet)
	if h.realtime != nil {
		r.PathPrefix("/realtime/").Handler(h.realtime)
	}

	r.HandleFunc("/api/auth/login", h.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/public/bookings", h.handlePublicBooking).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(h.auth.Middleware)
	api.HandleFunc("/appointments/validate", h.handleValidate).Methods(http.MethodPost)
	api.HandleFunc("/appointments", h.handleCreateAppointment).Methods(http.MethodPost)
	api.HandleFunc("/appointments", h.handleListAppointments).Methods(http.MethodGet)
	api.HandleFunc("/appointments/{id}", h.handleGetAppointment).Methods(http.MethodGet)
	api.HandleFunc("/appointments/{id}", h.handleReschedule).Methods(http.MethodPut)
	api.HandleFunc("/appointments/{id}/actions/{action}", h.handleAction).Methods(http.MethodPost)
	api.HandleFunc("/appointments/{id}/events", h.handleAppointmentEvents).Methods(http.MethodGet)
	api.HandleFunc("/clinics/{clinic_id}/hours", h.handleGetHours).Methods(http.MethodGet)
	api.HandleFunc("/clinics/{clinic_id}/hours/{weekday}", h.handlePutHours).Methods(http.MethodPut)
	api.HandleFunc("/clinics/{clinic_id}/holidays", h.handleListHolidays).Methods(http.MethodGet)
	api.HandleFunc("/clinics/{clinic_id}/holidays", h.handleCreateHoliday).Methods(http.MethodPost)
	api.HandleFunc("/clinics/{clinic_id}/holidays/{date}", h.handleDeleteHoliday).Methods(http.MethodDelete)
	api.HandleFunc("/events", h.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/reports/daily", h.handleDailyReport).Methods(http.MethodGet)
	api.HandleFunc("/reports/daily/export", h.handleDailyExport).Methods(http.MethodGet)
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeRequest(w, r, "", &req) {
		return
	}
	req.ClinicID = strings.TrimSpace(req.ClinicID)
	req.Email = strings.TrimSpace(req.Email)
	if req.ClinicID == "" || req.Email == "" || req.Password == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "clinic_id, email, and password are required")
		return
	}
	if !isValidUUID(req.ClinicID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "clinic_id must be a UUID")
		return
	}

	staff, err := h.staff.GetStaffByEmail(r.Context(), req.ClinicID, req.Email)
	if err != nil && !errors.Is(err, store.ErrStaffNotFound) {
		h.writeStoreError(w, "", err)
		return
	}
	if err != nil || !checkPassword(staff.PasswordHash, req.Password) {
		writeError(w, "", http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	token, expiresAt, err := h.auth.Issue(staff)
	if err != nil {
		h.writeStoreError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
		Staff:     staff,
	})
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !decodeRequest(w, r, "", &req) {
		return
	}
	if !requireClinic(w, r, req.ClinicID) {
		return
	}
	start, end, ok := normalizeWindow(w, "", req.Date, req.StartTime, req.EndTime)
	if !ok {
		return
	}
	result, holiday, err := h.calendar.Check(r.Context(), req.ClinicID, req.Date, start, end)
	if err != nil {
		h.writeStoreError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{ValidationResult: result, IsHoliday: holiday})
}

func (h *Handler) handleCreateAppointment(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if !decodeRequest(w, r, "", &req) {
		return
	}
	req.PatientName = strings.TrimSpace(req.PatientName)
	if req.RequestID == "" || req.ClinicID == "" || req.PatientName == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, clinic_id, and patient_name are required")
		return
	}
	if !isValidUUID(req.RequestID) || !isValidUUID(req.ClinicID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id and clinic_id must be UUIDs")
		return
	}
	if req.StaffID != "" && !isValidUUID(req.StaffID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "staff_id must be a UUID when provided")
		return
	}
	if !requireClinic(w, r, req.ClinicID) {
		return
	}
	start, end, ok := normalizeWindow(w, req.RequestID, req.Date, req.StartTime, req.EndTime)
	if !ok {
		return
	}
	if !h.checkSlot(w, r, req.RequestID, req.ClinicID, req.Date, start, end, req.Override, "validation_warning") {
		return
	}

	appointment, created, err := h.appointments.CreateAppointment(r.Context(), store.CreateAppointmentInput{
		RequestID:     req.RequestID,
		ClinicID:      req.ClinicID,
		PatientID:     strings.TrimSpace(req.PatientID),
		PatientName:   req.PatientName,
		StaffID:       req.StaffID,
		UnitID:        strings.TrimSpace(req.UnitID),
		TreatmentType: strings.TrimSpace(req.TreatmentType),
		Date:          req.Date,
		StartTime:     start,
		EndTime:       end,
		Channel:       models.ChannelStaff,
		Notes:         req.Notes,
		Phone:         strings.TrimSpace(req.Phone),
		Email:         strings.TrimSpace(req.Email),
		LineUserID:    strings.TrimSpace(req.LineUserID),
		CreatedAt:     h.now().UTC(),
	})
	if err != nil {
		h.writeStoreError(w, req.RequestID, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentResponse{Appointment: appointment, Created: created})
}

// handlePublicBooking accepts patient self-service bookings. Unlike staff
// bookings, a slot outside business hours or in a break is always refused.
func (h *Handler) handlePublicBooking(w http.ResponseWriter, r *http.Request) {
	var req publicBookingRequest
	if !decodeRequest(w, r, "", &req) {
		return
	}
	req.PatientName = strings.TrimSpace(req.PatientName)
	if req.RequestID == "" || req.ClinicID == "" || req.PatientName == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, clinic_id, and patient_name are required")
		return
	}
	if !isValidUUID(req.RequestID) || !isValidUUID(req.ClinicID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id and clinic_id must be UUIDs")
		return
	}
	if req.Phone == "" && req.Email == "" && req.LineUserID == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "phone, email, or line_user_id is required")
		return
	}
	start, end, ok := normalizeWindow(w, req.RequestID, req.Date, req.StartTime, req.EndTime)
	if !ok {
		return
	}
	if !h.checkSlot(w, r, req.RequestID, req.ClinicID, req.Date, start, end, false, "slot_unavailable") {
		return
	}

	appointment, created, err := h.appointments.CreateAppointment(r.Context(), store.CreateAppointmentInput{
		RequestID:   req.RequestID,
		ClinicID:    req.ClinicID,
		PatientName: req.PatientName,
		Date:        req.Date,
		StartTime:   start,
		EndTime:     end,
		Channel:     models.ChannelWeb,
		Notes:       req.Notes,
		Phone:       strings.TrimSpace(req.Phone),
		Email:       strings.TrimSpace(req.Email),
		LineUserID:  strings.TrimSpace(req.LineUserID),
		CreatedAt:   h.now().UTC(),
	})
	if err != nil {
		h.writeStoreError(w, req.RequestID, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentResponse{Appointment: appointment, Created: created})
}

func (h *Handler) handleListAppointments(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	clinicID := query.Get("clinic_id")
	if !requireClinic(w, r, clinicID) {
		return
	}
	filter := store.ListAppointmentsFilter{ClinicID: clinicID, Date: query.Get("date")}
	if filter.Date != "" {
		if _, err := schedule.ParseDate(filter.Date); err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
			return
		}
	}
	if raw := query.Get("status"); raw != "" {
		for _, value := range strings.Split(raw, ",") {
			status, err := models.ParseStatus(strings.TrimSpace(value))
			if err != nil {
				writeError(w, "", http.StatusBadRequest, "invalid_request", err.Error())
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	appointments, err := h.appointments.ListAppointments(r.Context(), filter)
	if err != nil {
		h.writeStoreError(w, "", err)
		return
	}
	if appointments == nil {
		appointments = []models.Appointment{}
	}
	writeJSON(w, http.StatusOK, appointments)
}

func (h *Handler) handleGetAppointment(w http.ResponseWriter, r *http.Request) {
	appointmentID := mux.Vars(r)["id"]
	clinicID := r.URL.Query().Get("clinic_id")
	if !isValidUUID(appointmentID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "appointment id must be a UUID")
		return
	}
	if !requireClinic(w, r, clinicID) {
		return
	}
	appointment, err := h.appointments.GetAppointment(r.Context(), clinicID, appointmentID)
	if err != nil {
		h.writeStoreError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, appointment)
}

func (h *Handler) handleReschedule(w http.ResponseWriter, r *http.Request) {
	appointmentID := mux.Vars(r)["id"]
	var req rescheduleRequest
	if !decodeRequest(w, r, "", &req) {
		return
	}
	if !isValidUUID(req.RequestID) || !isValidUUID(appointmentID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id and appointment id must be UUIDs")
		return
	}
	if req.StaffID != "" && !isValidUUID(req.StaffID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "staff_id must be a UUID when provided")
		return
	}
	if !requireClinic(w, r, req.ClinicID) {
		return
	}
	start, end, ok := normalizeWindow(w, req.RequestID, req.Date, req.StartTime, req.EndTime)
	if !ok {
		return
	}
	if !h.checkSlot(w, r, req.RequestID, req.ClinicID, req.Date, start, end, req.Override, "validation_warning") {
		return
	}

	appointment, err := h.appointments.RescheduleAppointment(r.Context(), store.RescheduleInput{
		RequestID:     req.RequestID,
		ClinicID:      req.ClinicID,
		AppointmentID: appointmentID,
		Date:          req.Date,
		StartTime:     start,
		EndTime:       end,
		StaffID:       req.StaffID,
		OccurredAt:    h.now().UTC(),
	})
	if err != nil {
		h.writeStoreError(w, req.RequestID, err)
		return
	}
	writeJSON(w, http.StatusOK, appointment)
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	appointmentID := vars["id"]
	action := vars["action"]
	if !store.IsManualAction(action) {
		writeError(w, "", http.StatusBadRequest, "invalid_action", "unsupported action")
		return
	}
	var req actionRequest
	if !decodeRequest(w, r, "", &req) {
		return
	}
	if !isValidUUID(req.RequestID) || !isValidUUID(appointmentID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id and appointment id must be UUIDs")
		return
	}
	if !requireClinic(w, r, req.ClinicID) {
		return
	}

	appointment, applied, err := h.appointments.ApplyAction(r.Context(), store.AppointmentActionInput{
		RequestID:     req.RequestID,
		ClinicID:      req.ClinicID,
		AppointmentID: appointmentID,
		Action:        action,
		ActorID:       actorFromContext(r.Context()),
		Reason:        strings.TrimSpace(req.Reason),
		OccurredAt:    h.now().UTC(),
	})
	if err != nil {
		h.writeStoreError(w, req.RequestID, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Appointment: appointment, Applied: applied})
}

func (h *Handler) handleAppointmentEvents(w http.ResponseWriter, r *http.Request) {
	appointmentID := mux.Vars(r)["id"]
	clinicID := r.URL.Query().Get("clinic_id")
	if !isValidUUID(appointmentID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "appointment id must be a UUID")
		return
	}
	if !requireClinic(w, r, clinicID) {
		return
	}
	events, err := h.appointments.ListAppointmentEvents(r.Context(), clinicID, appointmentID)
	if err != nil {
		h.writeStoreError(w, "", err)
		return
	}
	if events == nil {
		events = []store.AppointmentEvent{}
	}
	history := eventHistoryResponse{Events: events, ChainValid: true}
	if err := store.VerifyEventChain(events); err != nil {
		history.ChainValid = false
		history.ChainError = err.Error()
		h.logger.Warn().Err(err).Str("clinic_id", clinicID).Str("appointment_id", appointmentID).Msg("appointment event chain broken")
	}
	if replayed, err := store.RehydrateAppointment(events); err == nil {
		history.ReplayedStatus = replayed.Status
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) handleGetHours(w http.ResponseWriter, r *http.Request) {
	clinicID := mux.Vars(r)["clinic_id"]
	if !requireClinic(w, r, clinicID) {
		return
	}
	weekly, err := h.calendar.WeeklySchedule(r.Context(), clinicID)
	if err != nil {
		h.writeStoreError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, weekly)
}

func (h *Handler) handlePutHours(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	clinicID := vars["clinic_id"]
	weekday, ok := parseWeekday(vars["weekday"])
	if !ok {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "weekday must be 0-6 or an English day name")
		return
	}
	if !requireAdmin(w, r, clinicID) {
		return
	}
	var req dayScheduleRequest
	if !decodeRequest(w, r, "", &req) {
		return
	}
	day := schedule.DaySchedule{
		Weekday: weekday,
		Hours:   schedule.BusinessHours{IsOpen: req.IsOpen, TimeSlots: req.TimeSlots},
		Break:   req.Break,
	}
	if err := h.calendar.PutDaySchedule(r.Context(), clinicID, day); err != nil {
		h.writeStoreError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, day)
}

func (h *Handler) handleListHolidays(w http.ResponseWriter, r *http.Request) {
	clinicID := mux.Vars(r)["clinic_id"]
	if !requireClinic(w, r, clinicID) {
		return
	}
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	for _, value := range []string{from, to} {
		if value == "" {
			continue
		}
		if _, err := schedule.ParseDate(value); err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "from and to must be YYYY-MM-DD")
			return
		}
	}
	holidays, err := h.holidays.ListHolidays(r.Context(), clinicID, from, to)
	if err != nil {
		h.writeStoreError(w, "", err)
		return
	}
	if holidays == nil {
		holidays = []models.Holiday{}
	}
	writeJSON(w, http.StatusOK, holidays)
}

func (h *Handler) handleCreateHoliday(w http.ResponseWriter, r *http.Request) {
	clinicID := mux.Vars(r)["clinic_id"]
	if !requireAdmin(w, r, clinicID) {
		return
	}
	var req holidayRequest
	if !decodeRequest(w, r, "", &req) {
		return
	}
	if _, err := schedule.ParseDate(req.Date); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return
	}
	holiday := models.Holiday{ClinicID: clinicID, Date: req.Date, Name: strings.TrimSpace(req.Name)}
	if err := h.holidays.CreateHoliday(r.Context(), holiday); err != nil {
		h.writeStoreError(w, "", err)
		return
	}
	writeJSON(w, http.StatusCreated, holiday)
}

func (h *Handler) handleDeleteHoliday(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	clinicID := vars["clinic_id"]
	if !requireAdmin(w, r, clinicID) {
		return
	}
	if _, err := schedule.ParseDate(vars["date"]); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return
	}
	if err := h.holidays.DeleteHoliday(r.Context(), clinicID, vars["date"]); err != nil {
		h.writeStoreError(w, "", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEvents serves the clinic's outbox feed for polling clients.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	clinicID := query.Get("clinic_id")
	if !requireClinic(w, r, clinicID) {
		return
	}
	var after time.Time
	if raw := query.Get("after"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "after must be RFC3339")
			return
		}
		after = parsed
	}
	limit := 100
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}
	events, err := h.appointments.ListOutboxEvents(r.Context(), clinicID, after, limit)
	if err != nil {
		h.writeStoreError(w, "", err)
		return
	}
	if events == nil {
		events = []store.OutboxEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// checkSlot runs the business hours validator. Holidays always refuse the
// booking; other warnings refuse it unless the caller overrides them.
func (h *Handler) checkSlot(w http.ResponseWriter, r *http.Request, requestID, clinicID, date, start, end string, override bool, code string) bool {
	result, holiday, err := h.calendar.Check(r.Context(), clinicID, date, start, end)
	if err != nil {
		h.writeStoreError(w, requestID, err)
		return false
	}
	if holiday {
		writeError(w, requestID, http.StatusConflict, "holiday_closed", "clinic is closed on this date")
		return false
	}
	if !result.IsValid && !override {
		writeJSON(w, http.StatusConflict, validationErrorResponse{
			RequestID:  requestID,
			Error:      responseError{Code: code, Message: result.WarningMessage},
			Validation: result,
		})
		return false
	}
	return true
}

func (h *Handler) writeStoreError(w http.ResponseWriter, requestID string, err error) {
	status, code, message := mapError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("request_id", requestID).Msg("request failed")
	}
	writeError(w, requestID, status, code, message)
}

func normalizeWindow(w http.ResponseWriter, requestID, date, startTime, endTime string) (string, string, bool) {
	if _, err := schedule.ParseDate(date); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return "", "", false
	}
	start, err := schedule.NormalizeTime(startTime)
	if err != nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_time", "start_time must be HH:MM")
		return "", "", false
	}
	end, err := schedule.NormalizeTime(endTime)
	if err != nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_time", "end_time must be HH:MM")
		return "", "", false
	}
	if schedule.MustMinutes(end) <= schedule.MustMinutes(start) {
		writeError(w, requestID, http.StatusBadRequest, "invalid_time", "end_time must be after start_time")
		return "", "", false
	}
	return start, end, true
}

func parseWeekday(value string) (time.Weekday, bool) {
	if n, err := strconv.Atoi(value); err == nil {
		if n < int(time.Sunday) || n > int(time.Saturday) {
			return 0, false
		}
		return time.Weekday(n), true
	}
	for day := time.Sunday; day <= time.Saturday; day++ {
		if strings.EqualFold(value, day.String()) {
			return day, true
		}
	}
	return 0, false
}

func mapError(err error) (int, string, string) {
	var formatErr *schedule.FormatError
	switch {
	case errors.As(err, &formatErr):
		return http.StatusBadRequest, "invalid_time", formatErr.Error()
	case errors.Is(err, schedule.ErrSlotOrder), errors.Is(err, schedule.ErrSlotOverlap), errors.Is(err, schedule.ErrBreakOrder):
		return http.StatusBadRequest, "invalid_hours", err.Error()
	case errors.Is(err, store.ErrAppointmentNotFound):
		return http.StatusNotFound, "not_found", "appointment not found"
	case errors.Is(err, store.ErrClinicNotFound):
		return http.StatusNotFound, "not_found", "clinic not found"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "invalid appointment state"
	case errors.Is(err, store.ErrHolidayClosed):
		return http.StatusConflict, "holiday_closed", "clinic is closed on this date"
	case errors.Is(err, store.ErrHolidayExists):
		return http.StatusConflict, "holiday_exists", "holiday already exists"
	case errors.Is(err, store.ErrAccessDenied):
		return http.StatusForbidden, "access_denied", "access denied"
	case errors.Is(err, store.ErrInvalidCredentials), errors.Is(err, store.ErrStaffNotFound):
		return http.StatusUnauthorized, "invalid_credentials", "invalid credentials"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func decodeRequest(w http.ResponseWriter, r *http.Request, requestID string, dst interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error:     responseError{Code: code, Message: message},
	})
}
