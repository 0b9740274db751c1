package notify

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/websocket"

	authmw "sentinel-sos/pkg/platform/middleware/auth"
	"sentinel-sos/pkg/requestcontext"
)

const defaultPingInterval = 30 * time.Second

// Handler upgrades operator connections and streams hub messages to them.
type Handler struct {
	hub          *Hub
	validator    authmw.TokenValidator
	logger       *slog.Logger
	pingInterval time.Duration
}

type HandlerOption func(*Handler)

// WithPingInterval sets how often an idle session is sent a ping
// frame. A ping that cannot be written within the hub write timeout ends
// the session.
func WithPingInterval(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

func NewHandler(hub *Hub, validator authmw.TokenValidator, logger *slog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{hub: hub, validator: validator, logger: logger, pingInterval: defaultPingInterval}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireOperatorQuery(h.validator, h.logger))
		r.Get("/ws", h.HandleStream)
	})
}

// HandleStream handles GET /ws?token=.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	caller, _ := requestcontext.Principal(r.Context())
	operatorID := caller.ActorID()

	// websocket.Server with no Handshake skips the Origin check; the token
	// already authenticated the caller.
	server := websocket.Server{Handler: func(conn *websocket.Conn) {
		h.serve(conn, operatorID)
	}}
	server.ServeHTTP(w, r)
}

func (h *Handler) serve(conn *websocket.Conn, operatorID string) {
	session := h.hub.Subscribe(operatorID)
	h.logger.Info("notifier session opened",
		"session_id", session.ID,
		"operator_id", operatorID,
	)

	defer func() {
		h.hub.Unsubscribe(session)
		_ = conn.Close()
		h.logger.Info("notifier session closed", "session_id", session.ID)
	}()

	go h.write(conn, session)
	h.read(conn)
}

// write drains the session until the hub closes it or the peer stops
// accepting writes. Dead peers are found here, through failed pings, so a
// dashboard that never sends anything stays connected.
func (h *Handler) write(conn *websocket.Conn, session *Session) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	// An evicted session ends here; closing the conn unblocks the reader.
	defer conn.Close()

	ping := []byte(`{"type":"` + eventPing + `"}`)
	for {
		select {
		case frame, ok := <-session.Send():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.hub.writeTimeout))
			if _, err := conn.Write(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.hub.writeTimeout))
			if _, err := conn.Write(ping); err != nil {
				return
			}
		}
	}
}

// read discards inbound frames. It returns when the peer closes or the
// writer closes the conn.
func (h *Handler) read(conn *websocket.Conn) {
	for {
		var msg []byte
		if err := websocket.Message.Receive(conn, &msg); err != nil {
			return
		}
	}
}
