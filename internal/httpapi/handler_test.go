package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"dentaldesk/schedule-service/internal/hub"
	"dentaldesk/schedule-service/internal/models"
	"dentaldesk/schedule-service/internal/schedule"
	"dentaldesk/schedule-service/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const testClinicID = "6f1c2a40-4b7e-4c59-9a51-1f0d8e2c7b10"

type fakeAppointmentStore struct {
	createFn     func(ctx context.Context, input store.CreateAppointmentInput) (models.Appointment, bool, error)
	getFn        func(ctx context.Context, clinicID, appointmentID string) (models.Appointment, error)
	listFn       func(ctx context.Context, filter store.ListAppointmentsFilter) ([]models.Appointment, error)
	rescheduleFn func(ctx context.Context, input store.RescheduleInput) (models.Appointment, error)
	actionFn     func(ctx context.Context, input store.AppointmentActionInput) (models.Appointment, bool, error)
	eventsFn     func(ctx context.Context, clinicID, appointmentID string) ([]store.AppointmentEvent, error)
	outboxFn     func(ctx context.Context, clinicID string, after time.Time, limit int) ([]store.OutboxEvent, error)
}

func (f fakeAppointmentStore) CreateAppointment(ctx context.Context, input store.CreateAppointmentInput) (models.Appointment, bool, error) {
	if f.createFn == nil {
		return models.Appointment{}, false, nil
	}
	return f.createFn(ctx, input)
}

func (f fakeAppointmentStore) GetAppointment(ctx context.Context, clinicID, appointmentID string) (models.Appointment, error) {
	if f.getFn == nil {
		return models.Appointment{}, store.ErrAppointmentNotFound
	}
	return f.getFn(ctx, clinicID, appointmentID)
}

func (f fakeAppointmentStore) ListAppointments(ctx context.Context, filter store.ListAppointmentsFilter) ([]models.Appointment, error) {
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn(ctx, filter)
}

func (f fakeAppointmentStore) RescheduleAppointment(ctx context.Context, input store.RescheduleInput) (models.Appointment, error) {
	if f.rescheduleFn == nil {
		return models.Appointment{}, nil
	}
	return f.rescheduleFn(ctx, input)
}

func (f fakeAppointmentStore) ApplyAction(ctx context.Context, input store.AppointmentActionInput) (models.Appointment, bool, error) {
	if f.actionFn == nil {
		return models.Appointment{}, false, nil
	}
	return f.actionFn(ctx, input)
}

func (f fakeAppointmentStore) UpdateAppointmentStatus(ctx context.Context, clinicID, appointmentID string, status models.Status) (bool, error) {
	return false, nil
}

func (f fakeAppointmentStore) ListAppointmentEvents(ctx context.Context, clinicID, appointmentID string) ([]store.AppointmentEvent, error) {
	if f.eventsFn == nil {
		return nil, nil
	}
	return f.eventsFn(ctx, clinicID, appointmentID)
}

func (f fakeAppointmentStore) ListOutboxEvents(ctx context.Context, clinicID string, after time.Time, limit int) ([]store.OutboxEvent, error) {
	if f.outboxFn == nil {
		return nil, nil
	}
	return f.outboxFn(ctx, clinicID, after, limit)
}

type fakeCalendar struct {
	checkFn  func(ctx context.Context, clinicID, date, startTime, endTime string) (schedule.ValidationResult, bool, error)
	weeklyFn func(ctx context.Context, clinicID string) (schedule.WeeklySchedule, error)
	putFn    func(ctx context.Context, clinicID string, day schedule.DaySchedule) error
}

func (f fakeCalendar) Check(ctx context.Context, clinicID, date, startTime, endTime string) (schedule.ValidationResult, bool, error) {
	if f.checkFn == nil {
		return schedule.ValidationResult{IsValid: true}, false, nil
	}
	return f.checkFn(ctx, clinicID, date, startTime, endTime)
}

func (f fakeCalendar) WeeklySchedule(ctx context.Context, clinicID string) (schedule.WeeklySchedule, error) {
	if f.weeklyFn == nil {
		return schedule.NewWeeklySchedule(clinicID), nil
	}
	return f.weeklyFn(ctx, clinicID)
}

func (f fakeCalendar) PutDaySchedule(ctx context.Context, clinicID string, day schedule.DaySchedule) error {
	if f.putFn == nil {
		return nil
	}
	return f.putFn(ctx, clinicID, day)
}

type fakeHolidays struct {
	createFn func(ctx context.Context, holiday models.Holiday) error
	deleteFn func(ctx context.Context, clinicID, date string) error
}

func (f fakeHolidays) ListHolidays(ctx context.Context, clinicID, from, to string) ([]models.Holiday, error) {
	return nil, nil
}

func (f fakeHolidays) CreateHoliday(ctx context.Context, holiday models.Holiday) error {
	if f.createFn == nil {
		return nil
	}
	return f.createFn(ctx, holiday)
}

func (f fakeHolidays) DeleteHoliday(ctx context.Context, clinicID, date string) error {
	if f.deleteFn == nil {
		return nil
	}
	return f.deleteFn(ctx, clinicID, date)
}

type fakeStaff struct {
	getFn func(ctx context.Context, clinicID, email string) (models.Staff, error)
}

func (f fakeStaff) GetStaffByEmail(ctx context.Context, clinicID, email string) (models.Staff, error) {
	if f.getFn == nil {
		return models.Staff{}, store.ErrStaffNotFound
	}
	return f.getFn(ctx, clinicID, email)
}

func newTestHandler(appointments fakeAppointmentStore, calendar fakeCalendar) (*Handler, *Authenticator) {
	auth := NewAuthenticator("test-secret", time.Hour)
	h := NewHandler(Deps{
		Appointments: appointments,
		Calendar:     calendar,
		Holidays:     fakeHolidays{},
		Staff:        fakeStaff{},
		Auth:         auth,
		Logger:       zerolog.Nop(),
	})
	return h, auth
}

func tokenFor(t *testing.T, auth *Authenticator, clinicID, role string) string {
	t.Helper()
	token, _, err := auth.Issue(models.Staff{StaffID: uuid.NewString(), ClinicID: clinicID, Role: role})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func jsonRequest(t *testing.T, method, target, token string, body interface{}) *http.Request {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var payload errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return payload.Error.Code
}

func appointmentBody() map[string]interface{} {
	return map[string]interface{}{
		"request_id":   uuid.NewString(),
		"clinic_id":    testClinicID,
		"patient_name": "山田 太郎",
		"date":         "2025-01-15",
		"start_time":   "9:00",
		"end_time":     "09:30",
		"phone":        "+819012345678",
	}
}

func TestCreateAppointmentRequiresToken(t *testing.T) {
	h, _ := newTestHandler(fakeAppointmentStore{}, fakeCalendar{})
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, jsonRequest(t, http.MethodPost, "/api/appointments", "", appointmentBody()))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestCreateAppointmentRejectsOtherClinic(t *testing.T) {
	h, auth := newTestHandler(fakeAppointmentStore{}, fakeCalendar{})
	token := tokenFor(t, auth, uuid.NewString(), models.RoleReceptionist)
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, jsonRequest(t, http.MethodPost, "/api/appointments", token, appointmentBody()))
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestCreateAppointmentWarnsOutsideHours(t *testing.T) {
	created := false
	h, auth := newTestHandler(fakeAppointmentStore{
		createFn: func(ctx context.Context, input store.CreateAppointmentInput) (models.Appointment, bool, error) {
			created = true
			return models.Appointment{}, true, nil
		},
	}, fakeCalendar{
		checkFn: func(ctx context.Context, clinicID, date, startTime, endTime string) (schedule.ValidationResult, bool, error) {
			return schedule.ValidationResult{
				IsOutsideBusinessHoursOverlap: true,
				WarningMessage:                "予約時間が営業時間外です。",
				DayOfWeek:                     time.Wednesday,
			}, false, nil
		},
	})
	token := tokenFor(t, auth, testClinicID, models.RoleReceptionist)
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, jsonRequest(t, http.MethodPost, "/api/appointments", token, appointmentBody()))
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
	var payload validationErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Error.Code != "validation_warning" || !payload.Validation.IsOutsideBusinessHoursOverlap {
		t.Fatalf("unexpected warning payload %+v", payload)
	}
	if payload.Error.Message != "予約時間が営業時間外です。" {
		t.Fatalf("unexpected message %q", payload.Error.Message)
	}
	if created {
		t.Fatalf("appointment must not be created without override")
	}
}

func TestCreateAppointmentOverrideBooksAnyway(t *testing.T) {
	var got store.CreateAppointmentInput
	h, auth := newTestHandler(fakeAppointmentStore{
		createFn: func(ctx context.Context, input store.CreateAppointmentInput) (models.Appointment, bool, error) {
			got = input
			return models.Appointment{AppointmentID: uuid.NewString(), Status: models.StatusNotYetArrived}, true, nil
		},
	}, fakeCalendar{
		checkFn: func(ctx context.Context, clinicID, date, startTime, endTime string) (schedule.ValidationResult, bool, error) {
			return schedule.ValidationResult{IsBreakTimeOverlap: true}, false, nil
		},
	})
	body := appointmentBody()
	body["override"] = true
	token := tokenFor(t, auth, testClinicID, models.RoleReceptionist)
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, jsonRequest(t, http.MethodPost, "/api/appointments", token, body))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if got.StartTime != "09:00" || got.EndTime != "09:30" {
		t.Fatalf("expected normalized times, got %s-%s", got.StartTime, got.EndTime)
	}
	if got.Channel != models.ChannelStaff || got.CreatedAt.IsZero() {
		t.Fatalf("unexpected input %+v", got)
	}
}

func TestCreateAppointmentHolidayIgnoresOverride(t *testing.T) {
	h, auth := newTestHandler(fakeAppointmentStore{}, fakeCalendar{
		checkFn: func(ctx context.Context, clinicID, date, startTime, endTime string) (schedule.ValidationResult, bool, error) {
			return schedule.ValidationResult{IsOutsideBusinessHoursOverlap: true}, true, nil
		},
	})
	body := appointmentBody()
	body["override"] = true
	token := tokenFor(t, auth, testClinicID, models.RoleReceptionist)
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, jsonRequest(t, http.MethodPost, "/api/appointments", token, body))
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
	if code := errorCode(t, resp); code != "holiday_closed" {
		t.Fatalf("expected holiday_closed, got %s", code)
	}
}

func TestCreateAppointmentValidatesWindow(t *testing.T) {
	cases := []struct {
		name  string
		date  string
		start string
		end   string
		code  string
	}{
		{"end before start", "2025-01-15", "10:00", "09:30", "invalid_time"},
		{"zero length", "2025-01-15", "10:00", "10:00", "invalid_time"},
		{"bad hour", "2025-01-15", "25:00", "26:00", "invalid_time"},
		{"bad date", "2025/01/15", "09:00", "09:30", "invalid_request"},
	}
	h, auth := newTestHandler(fakeAppointmentStore{}, fakeCalendar{})
	token := tokenFor(t, auth, testClinicID, models.RoleReceptionist)
	for _, tt := range cases {
		body := appointmentBody()
		body["date"] = tt.date
		body["start_time"] = tt.start
		body["end_time"] = tt.end
		resp := httptest.NewRecorder()
		h.Routes().ServeHTTP(resp, jsonRequest(t, http.MethodPost, "/api/appointments", token, body))
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tt.name, resp.Code)
		}
		if code := errorCode(t, resp); code != tt.code {
			t.Fatalf("%s: expected %s, got %s", tt.name, tt.code, code)
		}
	}
}

func TestPublicBookingIsStrict(t *testing.T) {
	var got store.CreateAppointmentInput
	valid := false
	h, _ := newTestHandler(fakeAppointmentStore{
		createFn: func(ctx context.Context, input store.CreateAppointmentInput) (models.Appointment, bool, error) {
			got = input
			return models.Appointment{AppointmentID: uuid.NewString()}, true, nil
		},
	}, fakeCalendar{
		checkFn: func(ctx context.Context, clinicID, date, startTime, endTime string) (schedule.ValidationResult, bool, error) {
			return schedule.ValidationResult{IsValid: valid, IsBreakTimeOverlap: !valid}, false, nil
		},
	})
	body := map[string]interface{}{
		"request_id":   uuid.NewString(),
		"clinic_id":    testClinicID,
		"patient_name": "佐藤 花子",
		"date":         "2025-01-15",
		"start_time":   "12:30",
		"end_time":     "13:00",
		"email":        "hanako@example.com",
	}

	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, jsonRequest(t, http.MethodPost, "/api/public/bookings", "", body))
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
	if code := errorCode(t, resp); code != "slot_unavailable" {
		t.Fatalf("expected slot_unavailable, got %s", code)
	}

	body["override"] = true
	resp = httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, jsonRequest(t, http.MethodPost, "/api/public/bookings", "", body))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected override to be rejected as unknown field, got %d", resp.Code)
	}

	delete(body, "override")
	valid = true
	resp = httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, jsonRequest(t, http.MethodPost, "/api/public/bookings", "", body))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if got.Channel != models.ChannelWeb {
		t.Fatalf("expected web channel, got %q", got.Channel)
	}
}

func TestActionEndpoint(t *testing.T) {
	appointmentID := uuid.NewString()
	var got store.AppointmentActionInput
	actionErr := error(nil)
	h, auth := newTestHandler(fakeAppointmentStore{
		actionFn: func(ctx context.Context, input store.AppointmentActionInput) (models.Appointment, bool, error) {
			got = input
			if actionErr != nil {
				return models.Appointment{}, false, actionErr
			}
			return models.Appointment{AppointmentID: input.AppointmentID, Status: models.StatusArrived}, true, nil
		},
	}, fakeCalendar{})
	token := tokenFor(t, auth, testClinicID, models.RoleReceptionist)
	body := map[string]interface{}{"request_id": uuid.NewString(), "clinic_id": testClinicID}

	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, jsonRequest(t, http.MethodPost, "/api/appointments/"+appointmentID+"/actions/mark_late", token, body))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected mark_late to be refused, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, jsonRequest(t, http.MethodPost, "/api/appointments/"+appointmentID+"/actions/arrive", token, body))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if got.Action != store.ActionArrive || got.AppointmentID != appointmentID || got.ActorID == "" {
		t.Fatalf("unexpected action input %+v", got)
	}

	actionErr = fmt.Errorf("apply: %w", store.ErrInvalidState)
	resp = httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, jsonRequest(t, http.MethodPost, "/api/appointments/"+appointmentID+"/actions/bill", token, body))
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
}

func TestListAppointmentsParsesStatusFilter(t *testing.T) {
	var got store.ListAppointmentsFilter
	h, auth := newTestHandler(fakeAppointmentStore{
		listFn: func(ctx context.Context, filter store.ListAppointmentsFilter) ([]models.Appointment, error) {
			got = filter
			return nil, nil
		},
	}, fakeCalendar{})
	token := tokenFor(t, auth, testClinicID, models.RoleDentist)
	query := url.Values{"clinic_id": {testClinicID}, "date": {"2025-01-15"}, "status": {"遅刻,arrived"}}

	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, jsonRequest(t, http.MethodGet, "/api/appointments?"+query.Encode(), token, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if len(got.Statuses) != 2 || got.Statuses[0] != models.StatusLate || got.Statuses[1] != models.StatusArrived {
		t.Fatalf("unexpected statuses %v", got.Statuses)
	}
	if body := resp.Body.String(); body != "[]\n" {
		t.Fatalf("expected empty array, got %q", body)
	}

	query.Set("status", "waiting")
	resp = httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, jsonRequest(t, http.MethodGet, "/api/appointments?"+query.Encode(), token, nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestPutHoursRequiresAdmin(t *testing.T) {
	var got schedule.DaySchedule
	h, auth := newTestHandler(fakeAppointmentStore{}, fakeCalendar{
		putFn: func(ctx context.Context, clinicID string, day schedule.DaySchedule) error {
			got = day
			return day.Validate()
		},
	})
	body := map[string]interface{}{
		"is_open":    true,
		"time_slots": []map[string]string{{"start": "09:00", "end": "13:00"}, {"start": "14:00", "end": "18:00"}},
		"break":      map[string]string{"start": "13:00", "end": "14:00"},
	}
	target := "/api/clinics/" + testClinicID + "/hours/monday"

	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, jsonRequest(t, http.MethodPut, target, tokenFor(t, auth, testClinicID, models.RoleReceptionist), body))
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for receptionist, got %d", resp.Code)
	}

	admin := tokenFor(t, auth, testClinicID, models.RoleAdmin)
	resp = httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, jsonRequest(t, http.MethodPut, target, admin, body))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if got.Weekday != time.Monday || got.Break == nil || len(got.Hours.TimeSlots) != 2 {
		t.Fatalf("unexpected day schedule %+v", got)
	}

	body["time_slots"] = []map[string]string{{"start": "13:00", "end": "09:00"}}
	resp = httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, jsonRequest(t, http.MethodPut, "/api/clinics/"+testClinicID+"/hours/1", admin, body))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if code := errorCode(t, resp); code != "invalid_hours" {
		t.Fatalf("expected invalid_hours, got %s", code)
	}
}

func TestHolidayEndpoints(t *testing.T) {
	h, auth := newTestHandler(fakeAppointmentStore{}, fakeCalendar{})
	h.holidays = fakeHolidays{
		createFn: func(ctx context.Context, holiday models.Holiday) error {
			if holiday.Date == "2025-01-01" {
				return store.ErrHolidayExists
			}
			return nil
		},
	}
	admin := tokenFor(t, auth, testClinicID, models.RoleAdmin)
	target := "/api/clinics/" + testClinicID + "/holidays"

	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, jsonRequest(t, http.MethodPost, target, admin, map[string]string{"date": "2025-01-22", "name": "院内研修"}))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, jsonRequest(t, http.MethodPost, target, admin, map[string]string{"date": "2025-01-01", "name": "元日"}))
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, jsonRequest(t, http.MethodDelete, target+"/2025-01-22", admin, nil))
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
}

func TestLogin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	staffID := uuid.NewString()
	h, auth := newTestHandler(fakeAppointmentStore{}, fakeCalendar{})
	h.staff = fakeStaff{getFn: func(ctx context.Context, clinicID, email string) (models.Staff, error) {
		if email != "desk@example.com" {
			return models.Staff{}, store.ErrStaffNotFound
		}
		return models.Staff{StaffID: staffID, ClinicID: clinicID, Email: email, Role: models.RoleReceptionist, PasswordHash: string(hash)}, nil
	}}

	cases := []struct {
		email    string
		password string
		status   int
	}{
		{"desk@example.com", "s3cret", http.StatusOK},
		{"desk@example.com", "wrong", http.StatusUnauthorized},
		{"nobody@example.com", "s3cret", http.StatusUnauthorized},
	}
	for _, tt := range cases {
		body := map[string]string{"clinic_id": testClinicID, "email": tt.email, "password": tt.password}
		resp := httptest.NewRecorder()
		h.Routes().ServeHTTP(resp, jsonRequest(t, http.MethodPost, "/api/auth/login", "", body))
		if resp.Code != tt.status {
			t.Fatalf("%s/%s: expected %d, got %d", tt.email, tt.password, tt.status, resp.Code)
		}
		if tt.status != http.StatusOK {
			continue
		}
		var payload loginResponse
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			t.Fatalf("decode login: %v", err)
		}
		claims, err := auth.Parse(payload.Token)
		if err != nil {
			t.Fatalf("parse issued token: %v", err)
		}
		if claims.StaffID != staffID || claims.ClinicID != testClinicID {
			t.Fatalf("unexpected claims %+v", claims)
		}
	}
}

func TestAuthenticatorRejectsExpiredAndForeignTokens(t *testing.T) {
	auth := NewAuthenticator("test-secret", time.Minute)
	issuedAt := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
	auth.now = func() time.Time { return issuedAt }
	token := tokenFor(t, auth, testClinicID, models.RoleAdmin)
	if _, err := auth.Parse(token); err != nil {
		t.Fatalf("fresh token rejected: %v", err)
	}

	auth.now = func() time.Time { return issuedAt.Add(2 * time.Minute) }
	if _, err := auth.Parse(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}

	other := NewAuthenticator("other-secret", time.Hour)
	if _, err := other.Parse(tokenFor(t, NewAuthenticator("test-secret", time.Hour), testClinicID, models.RoleAdmin)); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestRateLimiterChargesTokenClinic(t *testing.T) {
	_, auth := newTestHandler(fakeAppointmentStore{}, fakeCalendar{})
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 1000, IPBurst: 1000, ClinicPerMinute: 1, ClinicBurst: 1}, auth)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	token := tokenFor(t, auth, testClinicID, models.RoleReceptionist)

	send := func(token, clinicID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/appointments?clinic_id="+clinicID, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		return resp
	}
	if resp := send(token, testClinicID); resp.Code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", resp.Code)
	}
	// A different clinic_id in the query does not move the charge off the token's clinic.
	resp := send(token, uuid.NewString())
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected token clinic limited, got %d", resp.Code)
	}
	if resp.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if resp := send("", uuid.NewString()); resp.Code != http.StatusOK {
		t.Fatalf("expected other anonymous clinic unaffected, got %d", resp.Code)
	}
}

func TestTokenLimiterRefillAndEviction(t *testing.T) {
	now := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
	limiter := newTokenLimiter(60, 1)
	limiter.now = func() time.Time { return now }

	if _, ok := limiter.take("a"); !ok {
		t.Fatalf("expected first take allowed")
	}
	wait, ok := limiter.take("a")
	if ok || wait <= 0 || wait > time.Second {
		t.Fatalf("expected refusal with wait under a second, got ok=%v wait=%s", ok, wait)
	}
	now = now.Add(time.Second)
	if _, ok := limiter.take("a"); !ok {
		t.Fatalf("expected token refilled after a second")
	}

	now = now.Add(time.Minute)
	limiter.evictFull(now)
	if len(limiter.buckets) != 0 {
		t.Fatalf("expected refilled bucket evicted, got %d", len(limiter.buckets))
	}
}

func TestAnonymousClinicFromJSONBodyKeepsBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/public/bookings", bytes.NewBufferString(`{"clinic_id":"c-1","patient_name":"山田"}`))
	req.Header.Set("Content-Type", "application/json")
	if clinicID := anonymousClinicID(req); clinicID != "c-1" {
		t.Fatalf("unexpected clinic %q", clinicID)
	}
	var body map[string]string
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body["clinic_id"] != "c-1" {
		t.Fatalf("body not restored: %v %v", body, err)
	}
}

func chainedEvents(t *testing.T, appointmentID string, statuses ...models.Status) []store.AppointmentEvent {
	t.Helper()
	base := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
	var events []store.AppointmentEvent
	prev := ""
	for i, status := range statuses {
		payload, err := json.Marshal(store.EventPayload{AppointmentID: appointmentID, ClinicID: testClinicID, Status: status})
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		eventType := store.EventTypeFor(status)
		createdAt := base.Add(time.Duration(i) * time.Minute)
		hash := store.ComputeAppointmentEventHash(prev, appointmentID, eventType, payload, createdAt, i+1)
		events = append(events, store.AppointmentEvent{
			AppointmentID:  appointmentID,
			AppointmentSeq: i + 1,
			Type:           eventType,
			Payload:        payload,
			CreatedAt:      createdAt,
			PrevHash:       prev,
			Hash:           hash,
		})
		prev = hash
	}
	return events
}

func TestAppointmentEventsReportChain(t *testing.T) {
	appointmentID := uuid.NewString()
	intact := chainedEvents(t, appointmentID, models.StatusNotYetArrived, models.StatusLate)
	tampered := chainedEvents(t, appointmentID, models.StatusNotYetArrived, models.StatusLate)
	tampered[1].Payload = json.RawMessage(`{"status":"arrived"}`)

	cases := []struct {
		name   string
		events []store.AppointmentEvent
		valid  bool
	}{
		{"intact", intact, true},
		{"tampered", tampered, false},
	}
	for _, tt := range cases {
		events := tt.events
		h, auth := newTestHandler(fakeAppointmentStore{
			eventsFn: func(ctx context.Context, clinicID, id string) ([]store.AppointmentEvent, error) {
				return events, nil
			},
		}, fakeCalendar{})
		token := tokenFor(t, auth, testClinicID, models.RoleReceptionist)
		resp := httptest.NewRecorder()
		h.Routes().ServeHTTP(resp, jsonRequest(t, http.MethodGet, "/api/appointments/"+appointmentID+"/events?clinic_id="+testClinicID, token, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tt.name, resp.Code)
		}
		var got eventHistoryResponse
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("%s: decode: %v", tt.name, err)
		}
		if got.ChainValid != tt.valid || len(got.Events) != 2 {
			t.Fatalf("%s: unexpected history %+v", tt.name, got)
		}
		if tt.valid && (got.ReplayedStatus != models.StatusLate || got.ChainError != "") {
			t.Fatalf("%s: expected late replay, got %+v", tt.name, got)
		}
		if !tt.valid && got.ChainError == "" {
			t.Fatalf("%s: expected chain error", tt.name)
		}
	}
}

func TestSubscriptionFor(t *testing.T) {
	claims := Claims{StaffID: "s-1", ClinicID: testClinicID}
	cases := []struct {
		name    string
		msg     hub.SubscribeMessage
		want    hub.Subscription
		allowed bool
	}{
		{"own clinic by default", hub.SubscribeMessage{Action: "subscribe"}, hub.Subscription{ClinicID: testClinicID}, true},
		{"with date", hub.SubscribeMessage{Action: "subscribe", ClinicID: testClinicID, Date: "2025-01-15"}, hub.Subscription{ClinicID: testClinicID, Date: "2025-01-15"}, true},
		{"malformed date dropped", hub.SubscribeMessage{Action: "subscribe", Date: "tomorrow"}, hub.Subscription{ClinicID: testClinicID}, true},
		{"other clinic", hub.SubscribeMessage{Action: "subscribe", ClinicID: "other"}, hub.Subscription{}, false},
	}
	for _, tt := range cases {
		got, allowed := subscriptionFor(claims, tt.msg)
		if allowed != tt.allowed || got != tt.want {
			t.Fatalf("%s: got %+v allowed=%v", tt.name, got, allowed)
		}
	}
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{store.ErrAppointmentNotFound, http.StatusNotFound, "not_found"},
		{fmt.Errorf("tx: %w", store.ErrHolidayClosed), http.StatusConflict, "holiday_closed"},
		{&schedule.FormatError{Value: "9", Reason: "expected HH:MM"}, http.StatusBadRequest, "invalid_time"},
		{fmt.Errorf("%w: 13:00-09:00", schedule.ErrBreakOrder), http.StatusBadRequest, "invalid_hours"},
		{context.DeadlineExceeded, http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range cases {
		status, code, _ := mapError(tt.err)
		if status != tt.status || code != tt.code {
			t.Fatalf("%v: got %d %s", tt.err, status, code)
		}
	}
}
