package httpserver

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"tradecore/internal/auth"
	"tradecore/internal/eventbus"
	"tradecore/internal/events"
)

// WSHandler streams published trade lifecycle events to authenticated
// websocket clients. It feeds off the in-process bus, so clients see
// exactly what downstream consumers see, after the relay acknowledged.
type WSHandler struct {
	bus      *eventbus.Memory
	authSvc  *auth.Service
	origin   string
	upgrader websocket.Upgrader
}

func NewWSHandler(bus *eventbus.Memory, authSvc *auth.Service, origin string) *WSHandler {
	return &WSHandler{
		bus:     bus,
		authSvc: authSvc,
		origin:  origin,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return allowOrigin(r, origin) },
		},
	}
}

func allowOrigin(r *http.Request, origin string) bool {
	if origin == "*" {
		return true
	}
	reqOrigin := r.Header.Get("Origin")
	if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
		if strings.Contains(reqOrigin, "localhost") || strings.Contains(reqOrigin, "127.0.0.1") {
			return true
		}
	}
	return strings.EqualFold(reqOrigin, origin)
}

type wsEvent struct {
	Topic    string `json:"topic"`
	Envelope any    `json:"envelope"`
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	if _, err := h.authSvc.ParseToken(token); err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	sub := h.bus.Subscribe()
	defer h.bus.Unsubscribe(sub)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	for {
		select {
		case msg, ok := <-sub:
			if !ok {
				return
			}
			env, _, err := events.Decode(msg.Value)
			if err != nil {
				// Unknown versions are not forwarded to clients.
				continue
			}
			if err := conn.WriteJSON(wsEvent{Topic: msg.Topic, Envelope: env}); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
