// Package dashboard event handling and message formatting.
package dashboard

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/sitesense/fieldsync/internal/netmon"
	"github.com/sitesense/fieldsync/internal/queue"
	"github.com/sitesense/fieldsync/internal/reconcile"
)

// Handler bridges reconciler notifications to the WebSocket server.
// It implements reconcile.Events.
type Handler struct {
	server  *Server
	db      *queue.DB
	monitor *netmon.Monitor
	rec     reconcile.Reconciler
	logger  *log.Logger
}

// NewHandler creates an event handler connected to a dashboard server.
//
// db, monitor, and rec feed the /status snapshot; the handler never
// mutates them.
func NewHandler(server *Server, db *queue.DB, monitor *netmon.Monitor, rec reconcile.Reconciler, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	return &Handler{
		server:  server,
		db:      db,
		monitor: monitor,
		rec:     rec,
		logger:  logger,
	}
}

// QueueChanged broadcasts the new pending depth.
func (h *Handler) QueueChanged(depth int) {
	h.broadcast(MessageTypeQueueUpdate, QueueUpdateData{Depth: depth})
}

// SyncStarted broadcasts the start of a drain.
func (h *Handler) SyncStarted() {
	h.broadcast(MessageTypeSyncStarted, nil)
}

// SyncCompleted broadcasts a successful drain.
func (h *Handler) SyncCompleted(res *reconcile.Result) {
	h.logger.Printf("Sync complete: %d records in %v", res.Synced, res.Duration)
	h.broadcast(MessageTypeSyncComplete, SyncCompleteData{
		Synced:   res.Synced,
		Duration: res.Duration,
	})
}

// SyncFailed broadcasts a halted drain.
func (h *Handler) SyncFailed(err error, res *reconcile.Result) {
	h.logger.Printf("Sync failed after %d records: %v", res.Synced, err)
	h.broadcast(MessageTypeSyncFailed, SyncFailedData{
		Error:     err.Error(),
		Synced:    res.Synced,
		Remaining: res.Remaining,
	})
}

// PhaseChanged broadcasts a sync state machine transition.
func (h *Handler) PhaseChanged(phase reconcile.Phase) {
	h.broadcast(MessageTypePhaseChange, PhaseChangeData{Phase: phase.String()})
}

// SetReconciler attaches the reconciler after construction. The handler
// and the reconciler reference each other (events one way, snapshots the
// other), so one side has to be wired late.
func (h *Handler) SetReconciler(rec reconcile.Reconciler) {
	h.rec = rec
}

// Status builds the current snapshot for /status and new WebSocket clients.
func (h *Handler) Status() (*StatusData, error) {
	if h.rec == nil {
		return nil, fmt.Errorf("reconciler not attached")
	}
	depth, err := h.db.Depth()
	if err != nil {
		return nil, err
	}

	counts, err := h.db.Counts()
	if err != nil {
		return nil, err
	}
	byKind := make(map[string]int, len(counts))
	for kind, n := range counts {
		byKind[string(kind)] = n
	}

	snap := &StatusData{
		Phase:     h.rec.Phase().String(),
		Depth:     depth,
		ByKind:    byKind,
		Online:    h.monitor.Online(),
		UpdatedAt: time.Now(),
	}
	if t, ok := h.rec.LastSync(); ok {
		snap.LastSync = &t
	}
	return snap, nil
}

// broadcast marshals data and sends it to all clients.
func (h *Handler) broadcast(typ MessageType, data interface{}) {
	msg := Message{
		Type:      typ,
		Timestamp: time.Now(),
	}
	if data != nil {
		dataJSON, err := json.Marshal(data)
		if err != nil {
			h.logger.Printf("Failed to marshal %s data: %v", typ, err)
			return
		}
		msg.Data = dataJSON
	}
	h.server.Broadcast(msg)
}
