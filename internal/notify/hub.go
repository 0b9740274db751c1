// Package notify pushes incident and location events to connected operator
// sessions. Delivery is best-effort and at-most-once; nothing is persisted.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	incidentmodels "sentinel-sos/internal/incident/models"
	"sentinel-sos/pkg/domain"
	audit "sentinel-sos/pkg/platform/audit"
)

const (
	EventIncidentCreated = "incident.created"
	EventLocationUpdated = "location.updated"
	eventPing            = "ping"
)

// Message is the frame written to every session.
type Message struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// LocationUpdate is the payload of a location.updated message.
type LocationUpdate struct {
	SubjectID domain.SubjectID `json:"userId"`
	Address   domain.Address   `json:"walletAddress"`
	Location  domain.Location  `json:"location"`
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Session is one subscribed operator connection. Send is closed by the hub
// when the session is unsubscribed, evicted or the hub stops.
type Session struct {
	ID         string
	OperatorID string
	send       chan []byte
}

// Send returns the session's outbound frames.
func (s *Session) Send() <-chan []byte {
	return s.send
}

// Hub fans messages out to sessions. A single goroutine owns the session set;
// all access goes through channels.
type Hub struct {
	registerCh   chan *Session
	unregisterCh chan *Session
	broadcastCh  chan []byte
	stopCh       chan struct{}
	doneCh       chan struct{}

	bufferSize     int
	writeTimeout   time.Duration
	logger         *slog.Logger
	metrics        *Metrics
	auditPublisher AuditPublisher
	now            func() time.Time
}

type Option func(*Hub)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(h *Hub) {
		h.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(h *Hub) {
		h.auditPublisher = publisher
	}
}

// WithSessionBuffer bounds how many frames may queue for one session before it
// is evicted.
func WithSessionBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		h.now = now
	}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		registerCh:   make(chan *Session),
		unregisterCh: make(chan *Session),
		broadcastCh:  make(chan []byte, 256),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		bufferSize:   64,
		writeTimeout: 10 * time.Second,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start begins the hub's event loop.
func (h *Hub) Start() {
	go h.run()
}

// Stop closes every session and waits for the loop to exit.
func (h *Hub) Stop() {
	close(h.stopCh)
	<-h.doneCh
}

// Subscribe registers a new session for operatorID. The session is live when
// Subscribe returns.
func (h *Hub) Subscribe(operatorID string) *Session {
	s := &Session{
		ID:         uuid.NewString(),
		OperatorID: operatorID,
		send:       make(chan []byte, h.bufferSize),
	}
	select {
	case h.registerCh <- s:
	case <-h.doneCh:
		close(s.send)
	}
	return s
}

// Unsubscribe removes a session. It is safe to call after eviction.
func (h *Hub) Unsubscribe(s *Session) {
	select {
	case h.unregisterCh <- s:
	case <-h.doneCh:
	}
}

// NotifyCreated announces a newly stored incident.
func (h *Hub) NotifyCreated(incident *incidentmodels.Incident) {
	h.publish(EventIncidentCreated, incident)
}

// NotifyLocationUpdate announces a subject's new position.
func (h *Hub) NotifyLocationUpdate(subjectID domain.SubjectID, address domain.Address, loc domain.Location) {
	h.publish(EventLocationUpdated, LocationUpdate{SubjectID: subjectID, Address: address, Location: loc})
}

func (h *Hub) publish(eventType string, data any) {
	frame, err := json.Marshal(Message{Type: eventType, Timestamp: h.now().UTC(), Data: data})
	if err != nil {
		h.logger.Error("failed to encode notification", "type", eventType, "error", err)
		return
	}
	// Blocks only while the loop is busy; the loop itself never waits on a
	// session.
	select {
	case h.broadcastCh <- frame:
		if h.metrics != nil {
			h.metrics.Published.WithLabelValues(eventType).Inc()
		}
	case <-h.doneCh:
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)

	sessions := make(map[*Session]struct{})

	for {
		select {
		case s := <-h.registerCh:
			sessions[s] = struct{}{}
			h.setActive(len(sessions))

		case s := <-h.unregisterCh:
			if _, ok := sessions[s]; ok {
				delete(sessions, s)
				close(s.send)
				h.setActive(len(sessions))
			}

		case frame := <-h.broadcastCh:
			for s := range sessions {
				select {
				case s.send <- frame:
				default:
					delete(sessions, s)
					close(s.send)
					h.evicted(s)
				}
			}
			h.setActive(len(sessions))

		case <-h.stopCh:
			for s := range sessions {
				close(s.send)
			}
			h.setActive(0)
			return
		}
	}
}

func (h *Hub) setActive(n int) {
	if h.metrics != nil {
		h.metrics.Sessions.Set(float64(n))
	}
}

func (h *Hub) evicted(s *Session) {
	h.logger.Warn("notifier session evicted: send buffer full",
		"session_id", s.ID,
		"operator_id", s.OperatorID,
		"buffer", h.bufferSize,
		"event", string(audit.EventSessionEvicted),
		"log_type", "audit",
	)
	if h.metrics != nil {
		h.metrics.Evictions.Inc()
	}
	if h.auditPublisher == nil {
		return
	}
	event := audit.Event{
		Action:    string(audit.EventSessionEvicted),
		ActorID:   s.OperatorID,
		ActorKind: "operator",
		Subject:   s.ID,
		Reason:    "send_buffer_full",
	}
	go func() {
		_ = h.auditPublisher.Emit(context.Background(), event)
	}()
}
