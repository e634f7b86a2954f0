package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/sitesense/fieldsync/internal/netmon"
	"github.com/sitesense/fieldsync/internal/queue"
	"github.com/sitesense/fieldsync/internal/reconcile"
	"github.com/sitesense/fieldsync/internal/record"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "[test] ", log.LstdFlags)
}

func TestServerStartStop(t *testing.T) {
	config := &Config{
		Port:   0, // Use random available port
		Logger: testLogger(),
	}

	server := NewServer(config)

	// Start server
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	// Check that server is listening
	addr := server.GetAddr()
	if addr == "" {
		t.Fatal("Server address is empty")
	}

	// Stop server
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWebSocketConnectionReceivesStatusSnapshot(t *testing.T) {
	config := &Config{
		Port:   0,
		Logger: testLogger(),
		Status: func() (*StatusData, error) {
			return &StatusData{Phase: "online", Depth: 0, UpdatedAt: time.Now()}, nil
		},
	}

	server := NewServer(config)

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	time.Sleep(100 * time.Millisecond)

	// Connect WebSocket client
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws://" + server.GetAddr() + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Verify client count
	if count := server.ClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}

	// Read welcome message
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read welcome message: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}

	if msg.Type != MessageTypeStatus {
		t.Errorf("Expected welcome message type %s, got %s", MessageTypeStatus, msg.Type)
	}

	var snap StatusData
	if err := json.Unmarshal(msg.Data, &snap); err != nil {
		t.Fatalf("Failed to unmarshal snapshot: %v", err)
	}
	if snap.Phase != "online" {
		t.Errorf("Expected snapshot phase %q, got %q", "online", snap.Phase)
	}
}

func TestMessageBroadcast(t *testing.T) {
	config := &Config{
		Port:   0,
		Logger: testLogger(),
	}

	server := NewServer(config)

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws://" + server.GetAddr() + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Read welcome message
	if _, _, err := conn.Read(ctx); err != nil {
		t.Fatalf("Failed to read welcome message: %v", err)
	}

	// Broadcast a queue update through the handler
	handler := NewHandler(server, nil, nil, nil, testLogger())
	handler.QueueChanged(3)

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read broadcast: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Type != MessageTypeQueueUpdate {
		t.Errorf("Expected message type %s, got %s", MessageTypeQueueUpdate, msg.Type)
	}

	var update QueueUpdateData
	if err := json.Unmarshal(msg.Data, &update); err != nil {
		t.Fatalf("Failed to unmarshal queue update: %v", err)
	}
	if update.Depth != 3 {
		t.Errorf("Expected depth 3, got %d", update.Depth)
	}
}

func TestSyncLifecycleBroadcasts(t *testing.T) {
	config := &Config{
		Port:   0,
		Logger: testLogger(),
	}

	server := NewServer(config)
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if _, _, err := conn.Read(ctx); err != nil {
		t.Fatalf("Failed to read welcome message: %v", err)
	}

	handler := NewHandler(server, nil, nil, nil, testLogger())
	handler.SyncStarted()
	handler.SyncFailed(errors.New("server said no"), &reconcile.Result{Synced: 1, Remaining: 2})
	handler.PhaseChanged(reconcile.PhaseOnlinePending)

	wantTypes := []MessageType{MessageTypeSyncStarted, MessageTypeSyncFailed, MessageTypePhaseChange}
	for _, want := range wantTypes {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Failed to read %s broadcast: %v", want, err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Failed to unmarshal message: %v", err)
		}
		if msg.Type != want {
			t.Errorf("Expected message type %s, got %s", want, msg.Type)
		}
	}
}

// probeAlwaysUp reports the server as reachable.
type probeAlwaysUp struct{}

func (probeAlwaysUp) Health(ctx context.Context) error { return nil }

// idlePhase is a minimal reconciler for snapshot tests.
type idlePhase struct{}

func (idlePhase) Submit(ctx context.Context, rec *record.PendingRecord) (string, bool, error) {
	return "", false, errors.New("not implemented")
}
func (idlePhase) Sync(ctx context.Context) (*reconcile.Result, error) {
	return nil, errors.New("not implemented")
}
func (idlePhase) NoteConnectivity(bool)       {}
func (idlePhase) NoteCleared()                {}
func (idlePhase) Phase() reconcile.Phase      { return reconcile.PhaseOnlinePending }
func (idlePhase) LastSync() (time.Time, bool) { return time.Time{}, false }

func TestHandlerStatusSnapshot(t *testing.T) {
	db, err := queue.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open queue: %v", err)
	}
	defer db.Close()
	if err := db.InitSchema(); err != nil {
		t.Fatalf("Failed to init schema: %v", err)
	}

	if _, err := db.Enqueue(&record.PendingRecord{
		LocalID:   "o1",
		Kind:      record.KindObservation,
		Payload:   json.RawMessage(`{"site":"bldg-4"}`),
		CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	monitor := netmon.New(probeAlwaysUp{}, &netmon.Config{
		ProbeInterval: time.Hour,
		ProbeTimeout:  time.Second,
		Logger:        testLogger(),
	})
	monitor.Probe(context.Background())

	handler := NewHandler(nil, db, monitor, idlePhase{}, testLogger())

	snap, err := handler.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if snap.Depth != 1 {
		t.Errorf("Expected depth 1, got %d", snap.Depth)
	}
	if snap.ByKind["observation"] != 1 {
		t.Errorf("Expected 1 pending observation, got %d", snap.ByKind["observation"])
	}
	if !snap.Online {
		t.Error("Expected online snapshot")
	}
	if snap.Phase != "online-pending" {
		t.Errorf("Expected phase online-pending, got %q", snap.Phase)
	}
	if snap.LastSync != nil {
		t.Error("Expected no last sync time")
	}
}

func TestStatusEndpoint(t *testing.T) {
	config := &Config{
		Port:   0,
		Logger: testLogger(),
		Status: func() (*StatusData, error) {
			return &StatusData{Phase: "offline-pending", Depth: 2, UpdatedAt: time.Now()}, nil
		},
	}

	server := NewServer(config)
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get("http://" + server.GetAddr() + "/status")
	if err != nil {
		t.Fatalf("Failed to fetch status: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var snap StatusData
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("Failed to decode snapshot: %v", err)
	}
	if snap.Phase != "offline-pending" || snap.Depth != 2 {
		t.Errorf("Unexpected snapshot: %+v", snap)
	}
}
