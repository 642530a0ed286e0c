package notify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"dentaldesk/schedule-service/internal/models"
	"dentaldesk/schedule-service/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const workerConsumer = "notifications"

type Worker struct {
	store       store.NotificationStore
	providers   map[string]Provider
	publisher   Publisher
	batchSize   int
	maxAttempts int
	retryDelay  time.Duration
	now         func() time.Time
	logger      zerolog.Logger
}

// Config tunes the worker. RetryDelay is the minimum wait after a failed
// attempt before the notification is sent again.
type Config struct {
	BatchSize   int
	MaxAttempts int
	RetryDelay  time.Duration
	Providers   map[string]Provider
	Publisher   Publisher
}

func New(notificationStore store.NotificationStore, cfg Config, logger zerolog.Logger) *Worker {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = noopPublisher{}
	}
	providers := cfg.Providers
	if providers == nil {
		providers = map[string]Provider{}
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Minute
	}
	return &Worker{
		store:       notificationStore,
		providers:   providers,
		publisher:   publisher,
		batchSize:   batch,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		now:         time.Now,
		logger:      logger.With().Str("component", "notify_worker").Logger(),
	}
}

// Run relays one batch of outbox events, then retries failed notifications
// that still have attempts left. A failing event is logged and the offset
// still moves past it.
func (w *Worker) Run(ctx context.Context) error {
	offset, err := w.store.GetNotificationOffset(ctx, workerConsumer)
	if err != nil {
		return err
	}

	events, err := w.store.ListPendingOutboxEvents(ctx, offset, w.batchSize)
	if err != nil {
		return err
	}

	for _, event := range events {
		if err := w.processEvent(ctx, event); err != nil {
			w.logger.Error().Err(err).Str("event_id", event.EventID).Str("type", event.Type).Msg("process event")
		}
		if err := w.publisher.Publish(ctx, event); err != nil {
			w.logger.Error().Err(err).Str("event_id", event.EventID).Msg("publish event")
		}
		offset = store.Offset{LastEventTime: event.CreatedAt, LastEventID: event.EventID}
	}

	if len(events) > 0 {
		if err := w.store.UpdateNotificationOffset(ctx, workerConsumer, offset); err != nil {
			return err
		}
	}
	return w.retryFailed(ctx)
}

func (w *Worker) retryFailed(ctx context.Context) error {
	if w.maxAttempts <= 1 {
		return nil
	}
	pending, err := w.store.ListRetryableNotifications(ctx, w.maxAttempts, w.now().Add(-w.retryDelay), w.batchSize)
	if err != nil {
		return err
	}
	for _, notification := range pending {
		if err := w.deliver(ctx, notification); err != nil {
			w.logger.Error().Err(err).Str("notification_id", notification.NotificationID).Msg("retry notification")
		}
	}
	return nil
}

// deliver sends one notification and records the outcome. The failure that
// uses up the last attempt moves it to the dead-letter queue.
func (w *Worker) deliver(ctx context.Context, notification store.Notification) error {
	providerErr := w.send(ctx, notification.Channel, notification.Message, notification.Recipient)
	if providerErr == nil {
		return w.store.MarkNotificationSent(ctx, notification.NotificationID)
	}
	w.logger.Warn().Err(providerErr).
		Str("channel", notification.Channel).
		Str("notification_id", notification.NotificationID).
		Int("attempt", notification.Attempts+1).
		Msg("send notification")
	attempts, err := w.store.MarkNotificationFailed(ctx, notification.NotificationID, providerErr.Error())
	if err != nil {
		return err
	}
	if attempts >= w.maxAttempts {
		return w.store.InsertDLQ(ctx, notification.NotificationID, "max attempts reached")
	}
	return nil
}

func (w *Worker) processEvent(ctx context.Context, event store.OutboxEvent) error {
	templateID := templateForEvent(event.Type)
	if templateID == "" {
		return nil
	}

	clinic, err := w.store.GetClinic(ctx, event.ClinicID)
	if err != nil {
		return err
	}
	if !clinic.NotificationsEnabled {
		return nil
	}

	var payload store.EventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return err
	}

	channels := pickChannels(payload)
	if len(channels) == 0 {
		return nil
	}

	lang := clinic.Language
	if lang == "" {
		lang = "ja"
	}
	for _, channel := range channels {
		body, err := w.store.GetTemplate(ctx, event.ClinicID, templateID, lang, channel.name)
		if err != nil {
			return err
		}
		if body == "" {
			body = defaultTemplate(templateID, lang)
		}
		message := renderTemplate(body, payload, clinic)

		notification := store.Notification{
			NotificationID: uuid.NewString(),
			ClinicID:       event.ClinicID,
			EventID:        event.EventID,
			Channel:        channel.name,
			Recipient:      channel.recipient,
			Message:        message,
			Status:         "pending",
		}
		if err := w.store.InsertNotification(ctx, notification); err != nil {
			return err
		}
		if err := w.deliver(ctx, notification); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) send(ctx context.Context, channel, message, recipient string) error {
	provider, ok := w.providers[channel]
	if !ok {
		provider = logProvider{channel: channel, logger: w.logger}
	}
	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return provider.Send(sendCtx, message, recipient)
}

func templateForEvent(eventType string) string {
	switch eventType {
	case store.EventAppointmentCreated:
		return "appointment_created"
	case store.EventAppointmentRescheduled:
		return "appointment_rescheduled"
	case store.EventAppointmentCancelled:
		return "appointment_cancelled"
	case store.EventAppointmentReminder:
		return "appointment_reminder"
	default:
		return ""
	}
}

func defaultTemplate(templateID, lang string) string {
	if lang == "en" {
		switch templateID {
		case "appointment_created":
			return "{clinic_name}: your appointment on {date} at {start_time} is booked."
		case "appointment_rescheduled":
			return "{clinic_name}: your appointment moved to {date} at {start_time}."
		case "appointment_cancelled":
			return "{clinic_name}: your appointment on {date} at {start_time} was cancelled."
		case "appointment_reminder":
			return "{clinic_name}: reminder of your appointment tomorrow, {date} at {start_time}."
		}
		return ""
	}
	switch templateID {
	case "appointment_created":
		return "{clinic_name}です。{patient_name}様、{date} {start_time}のご予約を承りました。"
	case "appointment_rescheduled":
		return "{clinic_name}です。{patient_name}様のご予約を{date} {start_time}に変更しました。"
	case "appointment_cancelled":
		return "{clinic_name}です。{patient_name}様、{date} {start_time}のご予約はキャンセルされました。"
	case "appointment_reminder":
		return "{clinic_name}です。{patient_name}様、明日{date} {start_time}のご予約をお待ちしております。"
	}
	return ""
}

func renderTemplate(template string, payload store.EventPayload, clinic models.Clinic) string {
	replacer := strings.NewReplacer(
		"{patient_name}", payload.PatientName,
		"{date}", payload.Date,
		"{start_time}", payload.StartTime,
		"{end_time}", payload.EndTime,
		"{clinic_name}", clinic.Name,
	)
	return replacer.Replace(template)
}

type channelTarget struct {
	name      string
	recipient string
}

// pickChannels returns every contact on the appointment, LINE first.
func pickChannels(payload store.EventPayload) []channelTarget {
	var channels []channelTarget
	if payload.LineUserID != "" {
		channels = append(channels, channelTarget{name: ChannelLine, recipient: payload.LineUserID})
	}
	if payload.Phone != "" {
		channels = append(channels, channelTarget{name: ChannelSMS, recipient: payload.Phone})
	}
	if payload.Email != "" {
		channels = append(channels, channelTarget{name: ChannelEmail, recipient: payload.Email})
	}
	return channels
}

func Start(ctx context.Context, interval time.Duration, w *Worker) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Run(ctx); err != nil {
				w.logger.Error().Err(err).Msg("notify worker run")
			}
		}
	}
}
