package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sitesense/fieldsync/internal/api"
	"github.com/sitesense/fieldsync/internal/queue"
	"github.com/sitesense/fieldsync/internal/record"
)

// ErrSyncInProgress is returned by Sync when a drain is already running.
var ErrSyncInProgress = errors.New("sync already in progress")

// lastSyncKey is the client_state key holding the last successful drain time.
const lastSyncKey = "last_sync_at"

// reconciler implements the Reconciler interface.
type reconciler struct {
	db     *queue.DB
	client api.Client
	logger *log.Logger
	events Events

	syncMu sync.Mutex // held for the duration of a drain

	mu    sync.Mutex // guards phase
	phase Phase
}

// New creates a new Reconciler instance.
//
// The queue database must be opened and have its schema initialized. If
// logger is nil, a default logger writing to stderr is used. If events is
// nil, notifications are discarded.
func New(db *queue.DB, client api.Client, logger *log.Logger, events Events) Reconciler {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if events == nil {
		events = NopEvents{}
	}

	r := &reconciler{
		db:     db,
		client: client,
		logger: logger,
		events: events,
	}
	r.phase = r.initialPhase()
	return r
}

// initialPhase recovers the state machine position from the durable queue:
// anything left over from a previous run means we start pending.
func (r *reconciler) initialPhase() Phase {
	depth, err := r.db.Depth()
	if err != nil || depth == 0 {
		return PhaseOnlineEmpty
	}
	return PhaseOnlinePending
}

// Submit implements Reconciler.Submit.
func (r *reconciler) Submit(ctx context.Context, rec *record.PendingRecord) (string, bool, error) {
	rec.SetDefaults()
	if rec.LocalID == "" {
		rec.LocalID = uuid.New().String()
	}
	if err := rec.Validate(); err != nil {
		return "", false, fmt.Errorf("invalid record: %w", err)
	}

	_, err := r.push(ctx, rec)
	if err == nil {
		r.logger.Printf("Submitted %s %s directly", rec.Kind, rec.LocalID)
		return rec.LocalID, false, nil
	}

	// Server rejections are surfaced, not buffered: a payload the server
	// refuses now will be refused on replay too.
	if api.IsRejection(err) {
		return "", false, err
	}

	// Connectivity failure: buffer the record for a later drain.
	localID, qErr := r.db.EnqueueContext(ctx, rec)
	if qErr != nil {
		return "", false, fmt.Errorf("failed to buffer record after network error (%v): %w", err, qErr)
	}

	r.apply(EventEnqueued)
	depth, _ := r.db.Depth()
	r.events.QueueChanged(depth)
	r.logger.Printf("Network write failed (%v); queued %s %s (pending=%d)", err, rec.Kind, localID, depth)

	return localID, true, nil
}

// Sync implements Reconciler.Sync.
func (r *reconciler) Sync(ctx context.Context) (*Result, error) {
	if !r.syncMu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer r.syncMu.Unlock()

	records, err := r.db.ListContext(ctx)
	if err != nil {
		return &Result{}, fmt.Errorf("failed to list pending records: %w", err)
	}

	// Empty queue: no network calls, no state change.
	if len(records) == 0 {
		return &Result{}, nil
	}

	start := time.Now()
	r.apply(EventSyncStarted)
	r.events.SyncStarted()
	r.logger.Printf("Draining %d pending records", len(records))

	for i, rec := range records {
		if _, err := r.push(ctx, rec); err != nil {
			res := &Result{
				Synced:    i,
				Remaining: len(records) - i,
				Duration:  time.Since(start),
			}
			r.apply(EventSyncFailed)
			r.events.SyncFailed(err, res)
			r.logger.Printf("Drain halted at %s %s after %d synced: %v", rec.Kind, rec.LocalID, i, err)
			return res, fmt.Errorf("failed to sync %s record %s: %w", rec.Kind, rec.LocalID, err)
		}

		if err := r.db.RemoveContext(ctx, rec.LocalID); err != nil {
			// The write reached the server but the local entry survived;
			// the idempotency key makes the inevitable replay safe.
			res := &Result{
				Synced:    i + 1,
				Remaining: len(records) - i - 1,
				Duration:  time.Since(start),
			}
			r.apply(EventSyncFailed)
			r.events.SyncFailed(err, res)
			return res, fmt.Errorf("failed to remove synced record %s: %w", rec.LocalID, err)
		}

		r.logger.Printf("Synced %s %s (%d/%d)", rec.Kind, rec.LocalID, i+1, len(records))
	}

	// Server truth changed; drop cached reads so the next query refetches.
	if err := r.db.InvalidateCache(record.KindSurvey, record.KindObservation); err != nil {
		r.logger.Printf("Warning: failed to invalidate read cache: %v", err)
	}
	if err := r.db.SetState(lastSyncKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
		r.logger.Printf("Warning: failed to record last sync time: %v", err)
	}

	res := &Result{
		Synced:   len(records),
		Duration: time.Since(start),
	}
	r.apply(EventSyncSucceeded)
	r.events.QueueChanged(0)
	r.events.SyncCompleted(res)
	r.logger.Printf("Drain complete: %d records in %v", res.Synced, res.Duration.Round(time.Millisecond))

	return res, nil
}

// push replays a single record against the remote API.
func (r *reconciler) push(ctx context.Context, rec *record.PendingRecord) (*api.Entity, error) {
	switch rec.Kind {
	case record.KindSurvey:
		return r.client.CreateSurvey(ctx, rec.LocalID, rec.Payload)
	case record.KindObservation:
		return r.client.CreateObservation(ctx, rec.LocalID, rec.Payload)
	case record.KindPhoto:
		return r.client.UploadPhoto(ctx, rec.LocalID, rec.ObservationID, rec.PhotoPath)
	default:
		return nil, fmt.Errorf("unknown record kind %q", rec.Kind)
	}
}

// NoteConnectivity implements Reconciler.NoteConnectivity.
func (r *reconciler) NoteConnectivity(online bool) {
	if online {
		r.apply(EventWentOnline)
	} else {
		r.apply(EventWentOffline)
	}
}

// NoteCleared implements Reconciler.NoteCleared.
func (r *reconciler) NoteCleared() {
	r.apply(EventCleared)
	r.events.QueueChanged(0)
}

// Phase implements Reconciler.Phase.
func (r *reconciler) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// LastSync implements Reconciler.LastSync.
func (r *reconciler) LastSync() (time.Time, bool) {
	value, err := r.db.GetState(lastSyncKey)
	if err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// apply advances the state machine and notifies on change.
func (r *reconciler) apply(e Event) {
	r.mu.Lock()
	next := Transition(r.phase, e)
	changed := next != r.phase
	r.phase = next
	r.mu.Unlock()

	if changed {
		r.events.PhaseChanged(next)
	}
}
