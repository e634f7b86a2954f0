package reconcile

import (
	"context"
	"time"

	"github.com/sitesense/fieldsync/internal/record"
)

// Reconciler replays buffered field records against the remote API.
//
// The reconciler is the only component that drains the queue. It also
// owns the submit path: a write attempted while online goes straight to
// the server, and falls back to the queue when the network is down.
type Reconciler interface {
	// Submit attempts to write a record to the remote API.
	//
	// If the write succeeds, the created record is gone from the client's
	// hands and queued=false is returned along with the record's local id.
	//
	// If the write fails with a connectivity error, the record is
	// appended to the durable queue and queued=true is returned; the
	// local id can be used to render the item optimistically.
	//
	// If the server rejects the write (non-2xx), the error is returned
	// unwrapped as *api.APIError and the record is NOT queued - rejected
	// payloads are not retried automatically.
	Submit(ctx context.Context, rec *record.PendingRecord) (localID string, queued bool, err error)

	// Sync drains the queue in FIFO order, one record at a time.
	//
	// On the first failure the drain halts: the failed record and all
	// records behind it remain queued in their original order. A fully
	// successful drain invalidates the local read cache and records the
	// last-sync timestamp.
	//
	// Sync with an empty queue is a no-op: no network calls, no state
	// change. Concurrent calls return ErrSyncInProgress.
	//
	// The Result is non-nil for every return except ErrSyncInProgress,
	// so callers can report partial progress alongside the error.
	Sync(ctx context.Context) (*Result, error)

	// NoteConnectivity feeds an observed connectivity transition into the
	// sync state machine. It does not itself trigger a drain; the daemon
	// decides when to call Sync.
	NoteConnectivity(online bool)

	// NoteCleared feeds an explicit queue clear into the state machine.
	NoteCleared()

	// Phase returns the current state of the sync machine.
	Phase() Phase

	// LastSync returns the time of the last fully successful drain.
	// ok is false if no drain has succeeded yet.
	LastSync() (t time.Time, ok bool)
}

// Result summarizes one drain.
type Result struct {
	// Synced is how many records were acknowledged and removed.
	Synced int
	// Remaining is how many records are still queued.
	Remaining int
	// Duration is how long the drain took.
	Duration time.Duration
}

// Events receives reconciler notifications. Implementations must not
// block; the dashboard adapter fans these out to WebSocket clients.
type Events interface {
	// QueueChanged fires whenever the pending depth changes.
	QueueChanged(depth int)
	// SyncStarted fires when a drain begins.
	SyncStarted()
	// SyncCompleted fires after a fully successful drain.
	SyncCompleted(res *Result)
	// SyncFailed fires when a drain halts with records remaining.
	SyncFailed(err error, res *Result)
	// PhaseChanged fires on every state machine transition.
	PhaseChanged(phase Phase)
}

// NopEvents is an Events implementation that does nothing.
type NopEvents struct{}

func (NopEvents) QueueChanged(int)          {}
func (NopEvents) SyncStarted()              {}
func (NopEvents) SyncCompleted(*Result)     {}
func (NopEvents) SyncFailed(error, *Result) {}
func (NopEvents) PhaseChanged(Phase)        {}
