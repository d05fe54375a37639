// Package web serves a small diagnostics monitor: JSON endpoints for the
// engine status and configuration, plus a websocket stream of status
// snapshots for live views.
package web

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sound2osc/sound2osc/internal/engine"
	"github.com/sound2osc/sound2osc/internal/osc"
)

// Core is the slice of the engine the monitor needs.
type Core interface {
	Status() engine.Status
	ToState() engine.State
	FromState(engine.State)
	MessageLog() []osc.LogEntry
}

const statusPushInterval = 500 * time.Millisecond

// Server streams engine status to any number of websocket clients and
// exposes the configuration over plain JSON endpoints.
type Server struct {
	mu      sync.RWMutex
	core    Core
	logger  *log.Logger
	clients map[*client]bool

	broadcast chan []byte
	done      chan struct{}
	closeOnce sync.Once

	upgrader websocket.Upgrader
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server
}

// NewServer creates a monitor around core. A nil logger discards output.
func NewServer(core Core, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		core:      core,
		logger:    logger,
		clients:   make(map[*client]bool),
		broadcast: make(chan []byte, 64),
		done:      make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the monitor's route set.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/messages", s.handleMessages)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start serves the monitor on the given port until the listener fails.
func (s *Server) Start(port int) error {
	go s.broadcastLoop()
	go s.statusLoop()

	addr := fmt.Sprintf(":%d", port)
	s.logger.Printf("[web] monitor on http://0.0.0.0%s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// Close stops the broadcast loops and disconnects all clients.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		close(c.send)
		delete(s.clients, c)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.core.Status())
}

// handleState returns the configuration on GET and applies a posted one.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.core.ToState())
	case http.MethodPost:
		var state engine.State
		if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.core.FromState(state)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.core.MessageLog())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("[web] websocket upgrade error: %v", err)
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, 64),
		server: s,
	}

	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()

	go c.writePump()
	go c.readPump()
}

func (s *Server) broadcastLoop() {
	for {
		select {
		case <-s.done:
			return
		case message := <-s.broadcast:
			s.mu.RLock()
			for c := range s.clients {
				select {
				case c.send <- message:
				default:
					// slow client, skip this frame
				}
			}
			s.mu.RUnlock()
		}
	}
}

func (s *Server) statusLoop() {
	ticker := time.NewTicker(statusPushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			data, err := json.Marshal(s.core.Status())
			if err != nil {
				continue
			}
			select {
			case s.broadcast <- data:
			default:
			}
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.server.mu.Lock()
		delete(c.server.clients, c)
		c.server.mu.Unlock()
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
