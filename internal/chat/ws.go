package chat

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/efebausal/bilshare/internal/observability"
	"github.com/efebausal/bilshare/internal/storage"
)

// Session is one connected participant in a ride room.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *Session) send(m storage.MessageWithSender) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(m)
}

// Registry holds per-ride chat rooms. Sessions that fail a write are dropped
// immediately; the client reconnects and re-fetches the ride detail.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Session]struct{}
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{rooms: make(map[string]map[*Session]struct{}), logger: logger}
}

func (r *Registry) Add(rideID string, conn *websocket.Conn) *Session {
	s := &Session{conn: conn}
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[rideID]
	if !ok {
		room = make(map[*Session]struct{})
		r.rooms[rideID] = room
	}
	room[s] = struct{}{}
	observability.ChatSessions.Inc()
	return s
}

func (r *Registry) Remove(rideID string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[rideID]
	if !ok {
		return
	}
	if _, present := room[s]; !present {
		return
	}
	delete(room, s)
	if len(room) == 0 {
		delete(r.rooms, rideID)
	}
	observability.ChatSessions.Dec()
	_ = s.conn.Close()
}

// Broadcast fans a message out to the ride's sessions.
func (r *Registry) Broadcast(rideID string, m storage.MessageWithSender) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.rooms[rideID]))
	for s := range r.rooms[rideID] {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		if err := s.send(m); err != nil {
			r.logger.Debug("chat ws send failed, dropping session", "ride_id", rideID, "error", err)
			r.Remove(rideID, s)
		}
	}
}
