// Package reconcile provides the sync reconciler that drains the offline
// mutation buffer against the remote API.
//
// # Overview
//
// Field records captured while the device is offline accumulate in the
// durable queue (internal/queue). The reconciler replays them against the
// remote API in strict FIFO order, one record at a time:
//
//   - On per-record success the record is removed from the queue and the
//     drain proceeds to the next record.
//   - On failure the drain halts immediately. The failed record and
//     everything behind it stay queued, in order, for a later retry.
//
// Calling Sync with an empty queue is a no-op: no network calls are made
// and no state changes.
//
// # Delivery semantics
//
// Replay is at-least-once. A record whose write reached the server but
// whose response was lost will be replayed on the next drain. Every write
// carries the record's local id as an Idempotency-Key header so the server
// can deduplicate such replays; the client never assumes at-most-once
// delivery.
//
// # Ordering and concurrency
//
// The drain is strictly sequential - there is never more than one
// in-flight request, which prevents out-of-order writes to the same
// entity. Within a process, concurrent Sync calls are rejected with
// ErrSyncInProgress. Two processes sharing one database file have no
// mutual exclusion beyond SQLite's own locking; that is a known gap, not
// a designed guarantee.
//
// # State machine
//
// The reconciler tracks the four-state sync machine explicitly (see
// Phase) rather than deriving it from ad-hoc booleans:
//
//	OnlineEmpty -> (offline write) -> OfflinePending
//	OfflinePending -> (reconnect) -> OnlinePending
//	OnlinePending -> (drain starts) -> Syncing
//	Syncing -> (success) -> OnlineEmpty
//	Syncing -> (failure) -> OnlinePending (awaiting retry)
//
// # Side effects
//
// A fully successful drain invalidates the local read cache for surveys
// and observations so the next read refetches server truth, and records
// the drain time as the last successful sync.
package reconcile
