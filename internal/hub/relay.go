package hub

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"dentaldesk/schedule-service/internal/store"

	"github.com/rs/zerolog"
)

const relayConsumer = "realtime"

// OutboxReader is the slice of the notification store the relay needs.
type OutboxReader interface {
	ListPendingOutboxEvents(ctx context.Context, offset store.Offset, limit int) ([]store.OutboxEvent, error)
	GetNotificationOffset(ctx context.Context, consumer string) (store.Offset, error)
	UpdateNotificationOffset(ctx context.Context, consumer string, offset store.Offset) error
}

type eventEnvelope struct {
	Type      string          `json:"type"`
	ClinicID  string          `json:"clinic_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Relay pushes outbox events to subscribed calendars.
type Relay struct {
	hub       *Hub
	reader    OutboxReader
	batchSize int
	logger    zerolog.Logger
	running   int32
	offset    store.Offset
	loaded    bool
}

func NewRelay(h *Hub, reader OutboxReader, batchSize int, logger zerolog.Logger) *Relay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		hub:       h,
		reader:    reader,
		batchSize: batchSize,
		logger:    logger.With().Str("component", "realtime_relay").Logger(),
	}
}

// Poll forwards one batch. Overlapping calls return immediately.
func (r *Relay) Poll(ctx context.Context) (int, error) {
	if !atomic.CompareAndSwapInt32(&r.running, 0, 1) {
		return 0, nil
	}
	defer atomic.StoreInt32(&r.running, 0)

	if !r.loaded {
		offset, err := r.reader.GetNotificationOffset(ctx, relayConsumer)
		if err != nil {
			return 0, err
		}
		r.offset = offset
		r.loaded = true
	}

	events, err := r.reader.ListPendingOutboxEvents(ctx, r.offset, r.batchSize)
	if err != nil {
		return 0, err
	}
	for _, event := range events {
		r.offset = store.Offset{LastEventTime: event.CreatedAt, LastEventID: event.EventID}
		payload, err := json.Marshal(eventEnvelope{
			Type:      event.Type,
			ClinicID:  event.ClinicID,
			Payload:   event.Payload,
			CreatedAt: event.CreatedAt,
		})
		if err != nil {
			r.logger.Error().Err(err).Str("event_id", event.EventID).Msg("encode event")
			continue
		}
		r.hub.Broadcast(payload, Subscription{ClinicID: event.ClinicID, Date: eventDate(event.Payload)})
	}
	if len(events) > 0 {
		if err := r.reader.UpdateNotificationOffset(ctx, relayConsumer, r.offset); err != nil {
			r.logger.Error().Err(err).Msg("update realtime offset")
		}
	}
	return len(events), nil
}

func (r *Relay) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pollCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if _, err := r.Poll(pollCtx); err != nil {
				r.logger.Error().Err(err).Msg("poll outbox")
			}
			cancel()
		}
	}
}

func eventDate(payload []byte) string {
	var data struct {
		Date string `json:"date"`
	}
	if err := json.Unmarshal(payload, &data); err != nil {
		return ""
	}
	return data.Date
}
