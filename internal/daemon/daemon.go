// Package daemon provides the background sync agent that ties the spool
// directory, connectivity monitor, and reconciler together.
//
// The daemon:
//  1. Ingests record files dropped into the spool directory
//  2. Submits them to the remote API, buffering while offline
//  3. Drains the buffer automatically when connectivity returns
//  4. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sitesense/fieldsync/internal/api"
	"github.com/sitesense/fieldsync/internal/netmon"
	"github.com/sitesense/fieldsync/internal/reconcile"
	"github.com/sitesense/fieldsync/internal/record"
)

// rejectedDirName is the spool subdirectory for records the server refused.
const rejectedDirName = "rejected"

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long to wait before ingesting a spool file.
	// This batches rapid writes together and lets the producer finish.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 200 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates spool ingestion, connectivity tracking, and drains.
type Daemon struct {
	rec      reconcile.Reconciler
	monitor  *netmon.Monitor
	spoolDir string
	config   *Config

	watcher       *SpoolWatcher
	changeQueue   map[string]time.Time // filepath -> timestamp
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon instance.
//
// The daemon requires:
//   - rec: the reconciler owning the durable buffer
//   - monitor: the connectivity monitor
//   - spoolDir: directory where the capture app drops record JSON files
//
// Use Start() to begin ingesting and syncing.
func New(rec reconcile.Reconciler, monitor *netmon.Monitor, spoolDir string) (*Daemon, error) {
	return NewWithConfig(rec, monitor, spoolDir, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(rec reconcile.Reconciler, monitor *netmon.Monitor, spoolDir string, config *Config) (*Daemon, error) {
	if rec == nil {
		return nil, fmt.Errorf("reconciler cannot be nil")
	}
	if monitor == nil {
		return nil, fmt.Errorf("monitor cannot be nil")
	}
	if spoolDir == "" {
		return nil, fmt.Errorf("spoolDir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}

	watcher, err := NewSpoolWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		rec:         rec,
		monitor:     monitor,
		spoolDir:    spoolDir,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
//  1. Sweep the spool directory for files left over from a previous run
//  2. Start watching the spool directory for new records
//  3. Probe connectivity and drain the buffer on every reconnect
//
// This blocks until ctx is cancelled or an error occurs.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := os.MkdirAll(d.spoolDir, 0o755); err != nil {
		return fmt.Errorf("failed to create spool directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(d.spoolDir, rejectedDirName), 0o755); err != nil {
		return fmt.Errorf("failed to create rejected directory: %w", err)
	}

	// Ingest whatever was spooled while we were not running.
	if err := d.SweepSpool(); err != nil {
		return fmt.Errorf("initial spool sweep failed: %w", err)
	}

	if err := d.watcher.Start(d.spoolDir); err != nil {
		return fmt.Errorf("failed to watch spool directory: %w", err)
	}

	d.config.Logger.Printf("Watching: %s", d.spoolDir)

	// First probe before the loop starts, so a healthy start drains
	// leftovers immediately.
	if d.monitor.Probe(d.ctx) == netmon.StateOnline {
		d.drain()
	}

	// Start background goroutines
	d.wg.Add(4)
	go d.watchSpoolEvents()
	go d.processChangeQueue()
	go d.watchConnectivity()
	go d.runMonitor()

	// Wait for shutdown
	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	// Signal shutdown
	d.cancel()

	// Close watcher
	if err := d.watcher.Stop(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	// Wait for goroutines to finish
	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// SweepSpool ingests every record file currently in the spool directory.
//
// It is called on startup and can be triggered manually.
func (d *Daemon) SweepSpool() error {
	entries, err := os.ReadDir(d.spoolDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read spool directory: %w", err)
	}

	ingested := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(d.spoolDir, entry.Name())
		if err := d.ingest(path); err != nil {
			d.config.Logger.Printf("Warning: failed to ingest %s: %v", path, err)
			continue
		}
		ingested++
	}

	if ingested > 0 {
		d.config.Logger.Printf("Spool sweep ingested %d records", ingested)
	}
	return nil
}

// watchSpoolEvents monitors filesystem events and queues changes.
func (d *Daemon) watchSpoolEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}

			// Deletions are the daemon's own cleanup, not new work.
			if event.Op == OpDelete {
				continue
			}

			d.queueChange(event.Path)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue ingests queued spool files with debouncing.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges ingests files that have been queued for long enough.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	now := time.Now()
	for path, queuedAt := range d.changeQueue {
		// Only process once the producer has gone quiet (debouncing)
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}

		if err := d.ingest(path); err != nil {
			d.config.Logger.Printf("Error ingesting %s: %v", path, err)
		}

		delete(d.changeQueue, path)
	}
}

// ingest reads one spool file, hands it to the reconciler, and removes it.
//
// Records the server rejects are moved to the rejected/ subdirectory so
// they are preserved for inspection but never retried.
func (d *Daemon) ingest(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	rec, err := record.ReadSpoolFile(path)
	if err != nil {
		return d.rejectFile(path, fmt.Errorf("unreadable record: %w", err))
	}

	localID, queued, err := d.rec.Submit(d.ctx, rec)
	if err != nil {
		if api.IsRejection(err) {
			return d.rejectFile(path, err)
		}
		return err
	}

	if queued {
		d.config.Logger.Printf("Buffered %s %s from spool", rec.Kind, localID)
	} else {
		d.config.Logger.Printf("Submitted %s %s from spool", rec.Kind, localID)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove ingested spool file: %w", err)
	}
	return nil
}

// rejectFile moves a spool file to the rejected/ subdirectory.
func (d *Daemon) rejectFile(path string, cause error) error {
	dest := filepath.Join(d.spoolDir, rejectedDirName, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("failed to quarantine %s (%v): %w", path, cause, err)
	}
	d.config.Logger.Printf("Rejected %s: %v", filepath.Base(path), cause)
	return nil
}

// watchConnectivity feeds monitor transitions into the reconciler and
// drains the buffer whenever connectivity returns.
func (d *Daemon) watchConnectivity() {
	defer d.wg.Done()

	states := d.monitor.Subscribe()
	defer d.monitor.Unsubscribe(states)

	for {
		select {
		case <-d.ctx.Done():
			return

		case state := <-states:
			online := state == netmon.StateOnline
			d.rec.NoteConnectivity(online)
			if online {
				d.config.Logger.Println("Connectivity restored")
				d.drain()
			} else {
				d.config.Logger.Println("Connectivity lost")
			}
		}
	}
}

// runMonitor runs the connectivity probe loop until shutdown.
func (d *Daemon) runMonitor() {
	defer d.wg.Done()

	if err := d.monitor.Run(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
		d.config.Logger.Printf("Monitor stopped: %v", err)
	}
}

// drain runs one sync pass, tolerating an already-running drain.
func (d *Daemon) drain() {
	res, err := d.rec.Sync(d.ctx)
	if err != nil {
		if errors.Is(err, reconcile.ErrSyncInProgress) {
			return
		}
		d.config.Logger.Printf("Drain failed: %v", err)
		return
	}
	if res.Synced > 0 {
		d.config.Logger.Printf("Drained %d records in %v", res.Synced, res.Duration.Round(time.Millisecond))
	}
}
