// Package dashboard provides a real-time WebSocket server for sync monitoring.
//
// The dashboard broadcasts queue depth changes, connectivity transitions, and
// drain results to connected WebSocket clients, so an office operator can
// watch a field device reconcile without shelling into it.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeQueueUpdate indicates the pending queue depth changed
	MessageTypeQueueUpdate MessageType = "queue_update"

	// MessageTypePhaseChange indicates the sync state machine moved
	MessageTypePhaseChange MessageType = "phase_change"

	// MessageTypeSyncStarted indicates a drain began
	MessageTypeSyncStarted MessageType = "sync_started"

	// MessageTypeSyncComplete indicates a drain finished successfully
	MessageTypeSyncComplete MessageType = "sync_complete"

	// MessageTypeSyncFailed indicates a drain halted with records remaining
	MessageTypeSyncFailed MessageType = "sync_failed"

	// MessageTypeStatus carries a full status snapshot
	MessageTypeStatus MessageType = "status"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// QueueUpdateData contains queue depth information
type QueueUpdateData struct {
	Depth int `json:"depth"`
}

// PhaseChangeData contains sync state machine information
type PhaseChangeData struct {
	Phase string `json:"phase"`
}

// SyncCompleteData contains drain completion information
type SyncCompleteData struct {
	Synced   int           `json:"synced"`
	Duration time.Duration `json:"duration"`
}

// SyncFailedData contains drain failure information
type SyncFailedData struct {
	Error     string `json:"error"`
	Synced    int    `json:"synced"`
	Remaining int    `json:"remaining"`
}

// StatusData is the full snapshot served at /status and sent on connect
type StatusData struct {
	Phase     string         `json:"phase"`
	Depth     int            `json:"depth"`
	ByKind    map[string]int `json:"by_kind"`
	Online    bool           `json:"online"`
	LastSync  *time.Time     `json:"last_sync,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// StatusFunc produces the current status snapshot for /status and new clients.
type StatusFunc func() (*StatusData, error)

// writeTimeout bounds a single WebSocket write.
const writeTimeout = 5 * time.Second

// Server manages WebSocket connections and broadcasts dashboard messages
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	status   StatusFunc

	// WebSocket client management
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	// Message broadcasting
	broadcast chan Message

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Logging
	logger *log.Logger
}

// Config holds server configuration
type Config struct {
	// Port to listen on (default: 8484)
	Port int

	// Status produces the snapshot for /status; may be nil
	Status StatusFunc

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port:   8484,
		Logger: log.Default(),
	}
}

// NewServer creates a new dashboard WebSocket server
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      fmt.Sprintf(":%d", config.Port),
		status:    config.Status,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Start begins the HTTP server and WebSocket handler
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(2)
	go s.broadcastLoop()
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard server listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()

	s.logger.Println("Dashboard server stopped")
	return nil
}

// Broadcast sends a message to all connected clients
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// broadcastLoop fans queued messages out to every connected client.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal %s message: %v", msg.Type, err)
				continue
			}

			for _, conn := range s.snapshotClients() {
				s.send(conn, data)
			}
		}
	}
}

// snapshotClients copies the client set so writes happen outside the lock.
func (s *Server) snapshotClients() []*websocket.Conn {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	return conns
}

// send writes one frame to a client, dropping the client on failure.
func (s *Server) send(conn *websocket.Conn, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.logger.Printf("Dropping client after failed write: %v", err)
		s.removeClient(conn)
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Upgrade connection
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // Allow all origins for development
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	// Add client
	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	// Send an initial status snapshot so clients render immediately
	welcome := Message{
		Type:      MessageTypeStatus,
		Timestamp: time.Now(),
	}
	if s.status != nil {
		if snap, err := s.status(); err == nil {
			welcome.Data, _ = json.Marshal(snap)
		}
	}
	if welcomeData, err := json.Marshal(welcome); err == nil {
		s.send(conn, welcomeData)
	}

	go s.readLoop(conn)
}

// readLoop discards client frames until the connection drops. The dashboard
// is one-way; reading is only needed to notice disconnects.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

// removeClient drops a connection from the client set and closes it.
// Removing a connection that is already gone is a no-op.
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	_, tracked := s.clients[conn]
	delete(s.clients, conn)
	remaining := len(s.clients)
	s.clientsMu.Unlock()

	if !tracked {
		return
	}

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Client disconnected (total: %d)", remaining)
}

// handleHealth reports liveness and the connected client count.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}{
		Status:  "ok",
		Clients: s.ClientCount(),
	})
}

// handleStatus serves the current sync status snapshot as JSON
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		http.Error(w, "status not available", http.StatusNotImplemented)
		return
	}

	snap, err := s.status()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}

// handleRoot serves a plain index of the dashboard endpoints.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>FieldSync</title></head>
<body>
    <h1>FieldSync sync monitor</h1>
    <ul>
        <li>Live events: <code>ws://%s/ws</code></li>
        <li><a href="/status">/status</a> - current sync snapshot</li>
        <li><a href="/health">/health</a> - liveness and client count</li>
    </ul>
</body>
</html>`, r.Host)
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
