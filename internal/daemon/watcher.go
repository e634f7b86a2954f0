package daemon

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new spool file was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing spool file was modified.
	OpModify
	// OpDelete indicates a spool file was deleted.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// SpoolEvent represents a file system event in the spool directory.
type SpoolEvent struct {
	// Path is the path to the spool file that changed.
	Path string
	// Op is the operation that occurred (create, modify, delete).
	Op EventOp
}

// SpoolWatcher watches the spool directory for dropped record files.
// It uses fsnotify for cross-platform file system event monitoring.
type SpoolWatcher struct {
	watcher  *fsnotify.Watcher
	events   chan SpoolEvent
	errors   chan error
	done     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	spoolDir string
}

// NewSpoolWatcher creates a new SpoolWatcher instance.
// The watcher must be started with Start() before it will emit events.
func NewSpoolWatcher() (*SpoolWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &SpoolWatcher{
		watcher: watcher,
		events:  make(chan SpoolEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the spool directory for *.json file events.
// Returns an error if the directory cannot be watched.
func (sw *SpoolWatcher) Start(spoolDir string) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.running {
		return fmt.Errorf("watcher already running")
	}

	sw.spoolDir = spoolDir

	if err := sw.watcher.Add(spoolDir); err != nil {
		return fmt.Errorf("failed to watch spool directory %s: %w", spoolDir, err)
	}

	sw.running = true
	sw.wg.Add(1)
	go sw.processEvents()

	return nil
}

// Stop stops watching for file system events and cleans up resources.
// It blocks until the event processing goroutine has exited.
func (sw *SpoolWatcher) Stop() error {
	sw.mu.Lock()
	if !sw.running {
		sw.mu.Unlock()
		return nil
	}
	sw.running = false
	sw.mu.Unlock()

	// Signal shutdown
	close(sw.done)

	// Close the underlying watcher (this will unblock the event loop)
	if err := sw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	// Wait for event processing to finish
	sw.wg.Wait()

	// Close channels
	close(sw.events)
	close(sw.errors)

	return nil
}

// Events returns the channel that emits SpoolEvent notifications.
// This channel is closed when the watcher is stopped.
func (sw *SpoolWatcher) Events() <-chan SpoolEvent {
	return sw.events
}

// Errors returns the channel that emits error notifications.
// This channel is closed when the watcher is stopped.
func (sw *SpoolWatcher) Errors() <-chan error {
	return sw.errors
}

// processEvents is the main event loop that converts fsnotify events to
// SpoolEvent notifications.
func (sw *SpoolWatcher) processEvents() {
	defer sw.wg.Done()

	for {
		select {
		case <-sw.done:
			return

		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}

			if spoolEvent, ok := sw.convertEvent(event); ok {
				select {
				case sw.events <- spoolEvent:
				case <-sw.done:
					return
				}
			}

		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case sw.errors <- err:
			case <-sw.done:
				return
			}
		}
	}
}

// convertEvent converts an fsnotify event to a SpoolEvent.
// Returns (SpoolEvent, true) if the event should be processed,
// or (SpoolEvent{}, false) if the event should be ignored.
func (sw *SpoolWatcher) convertEvent(event fsnotify.Event) (SpoolEvent, bool) {
	// Only process .json files
	if !strings.HasSuffix(event.Name, ".json") {
		return SpoolEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		// Treat rename as delete (the new name will trigger a create)
		op = OpDelete
	default:
		// Ignore chmod and other events
		return SpoolEvent{}, false
	}

	return SpoolEvent{
		Path: event.Name,
		Op:   op,
	}, true
}

// IsRunning returns true if the watcher is currently running.
func (sw *SpoolWatcher) IsRunning() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.running
}
