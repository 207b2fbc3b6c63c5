package ws

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/harmoni/backend/internal/domain"
	"github.com/harmoni/backend/internal/handler"
	"github.com/harmoni/backend/internal/service"
)

// EventInitialSession is sent once, right after the connection opens.
const EventInitialSession domain.AuthEvent = "INITIAL_SESSION"

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

// Event is one message on the session channel.
type Event struct {
	Event         domain.AuthEvent     `json:"event"`
	UserID        string               `json:"userId,omitempty"`
	PaymentStatus domain.PaymentStatus `json:"paymentStatus"`
	User          *domain.UserRecord   `json:"user,omitempty"`
}

func newEvent(event domain.AuthEvent, sc service.SessionContext) Event {
	return Event{
		Event:         event,
		UserID:        sc.UserID(),
		PaymentStatus: sc.PaymentStatus(),
		User:          sc.User,
	}
}

// EventsHandler streams a device's auth state changes over a websocket so
// the app re-checks access as soon as a payment is confirmed.
type EventsHandler struct {
	sessions *service.Sessions
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewEventsHandler creates an EventsHandler accepting the given origins. An
// empty list or "*" accepts any origin.
func NewEventsHandler(sessions *service.Sessions, origins []string, log *zap.Logger) *EventsHandler {
	h := &EventsHandler{sessions: sessions, log: log}
	h.upgrader = websocket.Upgrader{CheckOrigin: originChecker(origins)}
	return h
}

func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || len(allowed) == 0 || allowed[origin]
	}
}

// Handle upgrades GET /api/session/events. It must run behind the
// Authenticator so the device's store holds the caller's session.
func (h *EventsHandler) Handle(w http.ResponseWriter, r *http.Request) {
	device := handler.DeviceID(r.Context())
	if device == "" {
		device = handler.UserID(r.Context())
	}
	store := h.sessions.For(device)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	send := make(chan Event, sendBuffer)
	send <- newEvent(EventInitialSession, store.Snapshot())
	unsubscribe := store.OnAuthStateChange(func(event domain.AuthEvent, sc service.SessionContext) {
		select {
		case send <- newEvent(event, sc):
		default:
			h.log.Warn("dropping session event for slow client", zap.String("device", device), zap.String("event", string(event)))
		}
	})
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case ev := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
