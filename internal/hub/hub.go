package hub

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

type Subscription struct {
	ClinicID string
	Date     string
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
	release      func()
}

// Tracker is told when a clinic gains a calendar viewer. The returned
// function is called once when that viewer leaves.
type Tracker interface {
	Acquire(clinicID string) (release func())
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	tracker Tracker
	logger  zerolog.Logger
}

type SubscribeMessage struct {
	Action   string `json:"action"`
	ClinicID string `json:"clinic_id"`
	Date     string `json:"date"`
}

type RefreshMessage struct {
	Type           string   `json:"type"`
	ClinicID       string   `json:"clinic_id"`
	AppointmentIDs []string `json:"appointment_ids"`
}

func New(tracker Tracker, logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		tracker: tracker,
		logger:  logger.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	h.releaseLocked(client)
	close(client.Send)
}

// UpdateSubscription moves the client to sub. Changing clinics hands the
// calendar session over to the new clinic.
func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client.Subscription.ClinicID != sub.ClinicID {
		h.releaseLocked(client)
		if sub.ClinicID != "" && h.tracker != nil {
			client.release = h.tracker.Acquire(sub.ClinicID)
		}
	}
	client.Subscription = sub
}

func (h *Hub) releaseLocked(client *Client) {
	if client.release != nil {
		client.release()
		client.release = nil
	}
}

func (h *Hub) Broadcast(payload []byte, meta Subscription) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, client := range h.clients {
		if !match(client.Subscription, meta) {
			continue
		}
		select {
		case client.Send <- payload:
			delivered++
		default:
			h.logger.Warn().Str("client_id", client.ID).Msg("drop message for slow client")
		}
	}
	return delivered
}

// BroadcastRefresh tells a clinic's calendars to reload after appointments changed.
func (h *Hub) BroadcastRefresh(clinicID string, appointmentIDs []string) {
	payload, err := json.Marshal(RefreshMessage{
		Type:           "calendar.refresh",
		ClinicID:       clinicID,
		AppointmentIDs: appointmentIDs,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("encode refresh message")
		return
	}
	h.Broadcast(payload, Subscription{ClinicID: clinicID})
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// match requires a clinic subscription; a date filter only applies when the
// event carries a date.
func match(sub Subscription, meta Subscription) bool {
	if sub.ClinicID == "" || meta.ClinicID != sub.ClinicID {
		return false
	}
	if sub.Date != "" && meta.Date != "" && meta.Date != sub.Date {
		return false
	}
	return true
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
