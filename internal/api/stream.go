package api

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/kranthikarthan/PE-sub004/internal/events"
	"github.com/kranthikarthan/PE-sub004/internal/tenant"
)

// Streamer upgrades API clients to websocket connections and forwards the
// tenant's flow events. Each connection holds its own bus subscription, so
// the bus's drop-on-full policy applies per client: a stalled consumer
// loses events instead of stalling anyone else.
type Streamer struct {
	bus      *events.Bus
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]string
}

func NewStreamer(bus *events.Bus) *Streamer {
	return &Streamer{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]string),
	}
}

// HandleStream upgrades the request and streams events until the client
// hangs up. Repeated ?type= parameters narrow the subscription; without
// them the client sees every event type. Events are always filtered to the
// authenticated tenant.
func (s *Streamer) HandleStream(w http.ResponseWriter, r *http.Request) {
	tenantID := tenant.IDFromContext(r.Context())
	if tenantID == "" {
		respondError(w, http.StatusUnauthorized, "missing tenant")
		return
	}
	types := r.URL.Query()["type"]

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "error", err)
		return
	}
	slog.Info("Stream client connected", "tenant_id", tenantID)

	s.mu.Lock()
	s.conns[conn] = tenantID
	s.mu.Unlock()

	sub := s.bus.Subscribe(types...)

	// Reader goroutine: its only job is noticing the client hang up.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go s.pump(conn, tenantID, sub, done)
}

func (s *Streamer) pump(conn *websocket.Conn, tenantID string, sub chan *events.Event, done <-chan struct{}) {
	defer func() {
		s.bus.Unsubscribe(sub)
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
		slog.Info("Stream client disconnected", "tenant_id", tenantID)
	}()

	for {
		select {
		case e, ok := <-sub:
			if !ok {
				return
			}
			if e.TenantID != "" && e.TenantID != tenantID {
				continue
			}
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// Connections returns the number of live stream clients.
func (s *Streamer) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
