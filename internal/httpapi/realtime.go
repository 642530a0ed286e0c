package httpapi

import (
	"net/http"
	"strings"

	"dentaldesk/schedule-service/internal/hub"
	"dentaldesk/schedule-service/internal/schedule"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/rs/zerolog"
)

// NewRealtimeHandler serves calendar subscriptions over SockJS under /realtime.
// Browsers cannot set headers on SockJS transports, so the token may also
// arrive as a query parameter.
func NewRealtimeHandler(h *hub.Hub, auth *Authenticator, logger zerolog.Logger) http.Handler {
	logger = logger.With().Str("component", "realtime").Logger()
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		req := session.Request()
		token := realtimeToken(req)
		if token == "" {
			_ = session.Close(4001, "missing token")
			return
		}
		claims, err := auth.Parse(token)
		if err != nil {
			_ = session.Close(4002, "invalid token")
			return
		}

		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		h.Register(client)
		defer h.Unregister(client)
		logger.Debug().Str("client_id", client.ID).Str("clinic_id", claims.ClinicID).Msg("calendar connected")

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.UpdateSubscription(client, hub.Subscription{})
				continue
			}
			sub, allowed := subscriptionFor(claims, parsed)
			if !allowed {
				_ = session.Close(4003, "access denied")
				return
			}
			h.UpdateSubscription(client, sub)
		}
	})
}

func realtimeToken(r *http.Request) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// subscriptionFor scopes a subscribe request to the caller's clinic. An empty
// clinic_id means the caller's own clinic; a malformed date is dropped.
func subscriptionFor(claims Claims, msg hub.SubscribeMessage) (hub.Subscription, bool) {
	clinicID := msg.ClinicID
	if clinicID == "" {
		clinicID = claims.ClinicID
	}
	if clinicID != claims.ClinicID {
		return hub.Subscription{}, false
	}
	sub := hub.Subscription{ClinicID: clinicID}
	if _, err := schedule.ParseDate(msg.Date); err == nil {
		sub.Date = msg.Date
	}
	return sub, true
}
