package reconcile

// Phase is the explicit sync state machine from the indicator's point of
// view. It replaces the ad-hoc isOnline/pendingCount flag combination with
// a tagged enum and exhaustive transition handling.
type Phase int

const (
	// PhaseOnlineEmpty: connected, nothing pending. Initial state.
	PhaseOnlineEmpty Phase = iota
	// PhaseOfflinePending: records queued while disconnected.
	PhaseOfflinePending
	// PhaseSyncing: a drain is in progress.
	PhaseSyncing
	// PhaseOnlinePending: connected with records still queued after a
	// failed drain, awaiting manual retry.
	PhaseOnlinePending
)

// String returns a human-readable representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseOnlineEmpty:
		return "online"
	case PhaseOfflinePending:
		return "offline-pending"
	case PhaseSyncing:
		return "syncing"
	case PhaseOnlinePending:
		return "online-pending"
	default:
		return "unknown"
	}
}

// Event drives phase transitions.
type Event int

const (
	// EventEnqueued: a record was appended to the queue.
	EventEnqueued Event = iota
	// EventSyncStarted: a drain began.
	EventSyncStarted
	// EventSyncSucceeded: the drain emptied the queue.
	EventSyncSucceeded
	// EventSyncFailed: the drain halted with records remaining.
	EventSyncFailed
	// EventCleared: the queue was explicitly emptied.
	EventCleared
	// EventWentOffline: connectivity was lost.
	EventWentOffline
	// EventWentOnline: connectivity was restored.
	EventWentOnline
)

// String returns a human-readable representation of the event.
func (e Event) String() string {
	switch e {
	case EventEnqueued:
		return "enqueued"
	case EventSyncStarted:
		return "sync-started"
	case EventSyncSucceeded:
		return "sync-succeeded"
	case EventSyncFailed:
		return "sync-failed"
	case EventCleared:
		return "cleared"
	case EventWentOffline:
		return "went-offline"
	case EventWentOnline:
		return "went-online"
	default:
		return "unknown"
	}
}

// Transition returns the phase that follows p on event e. Events that do
// not apply in the current phase leave it unchanged.
func Transition(p Phase, e Event) Phase {
	switch p {
	case PhaseOnlineEmpty:
		switch e {
		case EventEnqueued:
			// A write only lands in the queue when the remote write
			// failed, so a queued record implies we are offline.
			return PhaseOfflinePending
		case EventSyncStarted:
			return PhaseSyncing
		case EventWentOffline:
			return PhaseOnlineEmpty // still empty; nothing to indicate
		case EventSyncSucceeded, EventSyncFailed, EventCleared, EventWentOnline:
			return PhaseOnlineEmpty
		}

	case PhaseOfflinePending:
		switch e {
		case EventSyncStarted:
			return PhaseSyncing
		case EventWentOnline:
			// Reconnected with records queued; the daemon (or the user)
			// starts the drain, which moves us to Syncing.
			return PhaseOnlinePending
		case EventCleared:
			return PhaseOnlineEmpty
		case EventEnqueued, EventWentOffline, EventSyncSucceeded, EventSyncFailed:
			return PhaseOfflinePending
		}

	case PhaseSyncing:
		switch e {
		case EventSyncSucceeded:
			return PhaseOnlineEmpty
		case EventSyncFailed:
			return PhaseOnlinePending
		case EventWentOffline:
			return PhaseOfflinePending
		case EventCleared:
			return PhaseOnlineEmpty
		case EventEnqueued, EventSyncStarted, EventWentOnline:
			return PhaseSyncing
		}

	case PhaseOnlinePending:
		switch e {
		case EventSyncStarted:
			return PhaseSyncing
		case EventWentOffline:
			return PhaseOfflinePending
		case EventCleared:
			return PhaseOnlineEmpty
		case EventEnqueued, EventSyncSucceeded, EventSyncFailed, EventWentOnline:
			return PhaseOnlinePending
		}
	}

	return p
}
